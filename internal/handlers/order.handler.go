package handlers

import (
	"context"
	"strconv"
	"strings"

	"github.com/fasthttp/router"
	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/internal/services"
	xhttp "github.com/nimasrn/esim-gateway/pkg/http"
	"github.com/nimasrn/esim-gateway/pkg/logger"
)

type FulfillmentService interface {
	Fulfill(ctx context.Context, transactionID, userID int64) (*services.FulfillmentResult, error)
}

type OrderService interface {
	GetByCode(ctx context.Context, code string, userID int64, isAdmin bool) (*model.Order, error)
	List(ctx context.Context, f model.OrderFilter) ([]*model.Order, int64, error)
}

type OrderHandler struct {
	fulfillment FulfillmentService
	orders      OrderService
}

func RegisterOrderRoutes(e *router.Group, h *OrderHandler, auth *xhttp.Authenticator) {
	e.POST("/orders/fulfill", auth.Require(h.Fulfill))
	e.GET("/orders/{code}", auth.Require(h.GetOrder))
	e.GET("/admin/orders", auth.RequireRole(xhttp.RoleAdmin, h.ListOrders))
}

func NewOrderHandler(fulfillment FulfillmentService, orders OrderService) *OrderHandler {
	return &OrderHandler{fulfillment: fulfillment, orders: orders}
}

type fulfillRequest struct {
	TransactionID int64 `json:"transaction_id"`
}

type orderListResponse struct {
	Items []*model.Order `json:"items"`
	Total int64          `json:"total"`
}

// Fulfill is the synchronous success path. A run that was aborted after its order was created
// answers 500 with the failed order summary so the caller sees its status and error message.
func (h *OrderHandler) Fulfill(ctx *xhttp.RequestCtx) {
	var req fulfillRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.TransactionID <= 0 {
		writeError(ctx, xhttp.StatusBadRequest, "transaction_id is required")
		return
	}

	claims := xhttp.ClaimsFrom(ctx)
	userID := claims.UserID()
	if claims.IsAdmin() {
		userID = 0
	}

	res, err := h.fulfillment.Fulfill(ctx, req.TransactionID, userID)
	if err != nil && res == nil {
		writeServiceError(ctx, err)
		return
	}
	if err != nil {
		logger.Error("fulfillment aborted", "transaction_id", req.TransactionID, "error", err)
		writeJSON(ctx, xhttp.StatusInternalServerError, res)
		return
	}

	status := xhttp.StatusCreated
	if res.AlreadyProcessed {
		status = xhttp.StatusOK
	}
	writeJSON(ctx, status, res)
}

func (h *OrderHandler) GetOrder(ctx *xhttp.RequestCtx) {
	code, _ := ctx.UserValue("code").(string)
	claims := xhttp.ClaimsFrom(ctx)

	order, err := h.orders.GetByCode(ctx, code, claims.UserID(), claims.IsAdmin())
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, order)
}

func (h *OrderHandler) ListOrders(ctx *xhttp.RequestCtx) {
	var f model.OrderFilter

	if v := query(ctx, "user_id"); v != "" {
		if id, e := strconv.ParseInt(v, 10, 64); e == nil {
			f.UserID = &id
		}
	}
	if v := query(ctx, "status"); v != "" {
		parts := strings.Split(v, ",")
		for i := range parts {
			parts[i] = strings.TrimSpace(parts[i])
			if parts[i] != "" {
				f.Statuses = append(f.Statuses, model.OrderStatus(strings.ToUpper(parts[i])))
			}
		}
	}
	if v := query(ctx, "type"); v != "" {
		t := model.OrderType(strings.ToLower(v))
		f.Type = &t
	}
	if v := query(ctx, "from"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.From = &t
		}
	}
	if v := query(ctx, "to"); v != "" {
		if t, e := parseTime(v); e == nil {
			f.To = &t
		}
	}
	if v := query(ctx, "limit"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Limit = n
		}
	}
	if v := query(ctx, "offset"); v != "" {
		if n, e := strconv.Atoi(v); e == nil {
			f.Offset = n
		}
	}
	if strings.EqualFold(query(ctx, "order"), "desc") {
		f.Desc = true
	}

	items, total, err := h.orders.List(ctx, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, orderListResponse{Items: items, Total: total})
}
