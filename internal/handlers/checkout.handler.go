package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/esim-gateway/internal/services"
	xhttp "github.com/nimasrn/esim-gateway/pkg/http"
	"github.com/nimasrn/esim-gateway/pkg/logger"
)

type CheckoutService interface {
	Checkout(ctx context.Context, userID int64, method string) (*services.CheckoutResult, error)
	InitiateTopUp(ctx context.Context, userID int64, req services.TopUpRequest) (*services.CheckoutResult, error)
}

type CheckoutHandler struct {
	svc CheckoutService
}

func RegisterCheckoutRoutes(e *router.Group, h *CheckoutHandler, auth *xhttp.Authenticator) {
	e.POST("/checkout", auth.Require(h.Checkout))
	e.POST("/topups", auth.Require(h.TopUp))
}

func NewCheckoutHandler(svc CheckoutService) *CheckoutHandler {
	return &CheckoutHandler{svc: svc}
}

type checkoutRequest struct {
	Method string `json:"payment_method"`
}

func (h *CheckoutHandler) Checkout(ctx *xhttp.RequestCtx) {
	var req checkoutRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	res, err := h.svc.Checkout(ctx, xhttp.ClaimsFrom(ctx).UserID(), req.Method)
	if err != nil && (res == nil || res.Fulfillment == nil) {
		writeServiceError(ctx, err)
		return
	}
	// the cash payment is settled, so an aborted fulfillment still answers with the order summary
	if err != nil {
		logger.Error("cash checkout fulfillment aborted", "transaction_id", res.Transaction.ID, "error", err)
		writeJSON(ctx, xhttp.StatusInternalServerError, res)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, res)
}

func (h *CheckoutHandler) TopUp(ctx *xhttp.RequestCtx) {
	var req services.TopUpRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	res, err := h.svc.InitiateTopUp(ctx, xhttp.ClaimsFrom(ctx).UserID(), req)
	if err != nil && (res == nil || res.Fulfillment == nil) {
		writeServiceError(ctx, err)
		return
	}
	if err != nil {
		logger.Error("cash top-up aborted", "transaction_id", res.Transaction.ID, "error", err)
		writeJSON(ctx, xhttp.StatusInternalServerError, res)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, res)
}
