package handlers

import (
	"context"
	"strconv"

	"github.com/fasthttp/router"
	"github.com/nimasrn/esim-gateway/internal/model"
	xhttp "github.com/nimasrn/esim-gateway/pkg/http"
)

type CatalogService interface {
	ListPlans(ctx context.Context, f model.PlanFilter) ([]*model.Plan, error)
	Sync(ctx context.Context) (*model.SyncReport, error)
}

type CatalogHandler struct {
	svc CatalogService
}

func RegisterCatalogRoutes(e *router.Group, h *CatalogHandler, auth *xhttp.Authenticator) {
	e.GET("/plans", h.ListPlans)
	e.POST("/admin/catalog/sync", auth.RequireRole(xhttp.RoleAdmin, h.Sync))
}

func NewCatalogHandler(svc CatalogService) *CatalogHandler {
	return &CatalogHandler{svc: svc}
}

type planListResponse struct {
	Items []*model.Plan `json:"items"`
}

func (h *CatalogHandler) ListPlans(ctx *xhttp.RequestCtx) {
	f := model.PlanFilter{ActiveOnly: true}
	if v := query(ctx, "country_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			writeError(ctx, xhttp.StatusBadRequest, "country_id must be an integer")
			return
		}
		f.CountryID = &id
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

	plans, err := h.svc.ListPlans(ctx, f)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, planListResponse{Items: plans})
}

func (h *CatalogHandler) Sync(ctx *xhttp.RequestCtx) {
	report, err := h.svc.Sync(ctx)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, report)
}
