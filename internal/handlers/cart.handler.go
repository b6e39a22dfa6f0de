package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/esim-gateway/internal/model"
	xhttp "github.com/nimasrn/esim-gateway/pkg/http"
)

type CartService interface {
	Get(ctx context.Context, userID int64) (*model.Cart, error)
	AddItem(ctx context.Context, userID int64, req model.AddCartItemRequest) (*model.Cart, error)
	UpdateItem(ctx context.Context, userID, itemID int64, req model.UpdateCartItemRequest) (*model.Cart, error)
	RemoveItem(ctx context.Context, userID, itemID int64) (*model.Cart, error)
	Quote(ctx context.Context, userID int64) (*model.CartQuote, error)
}

type CartHandler struct {
	svc CartService
}

func RegisterCartRoutes(e *router.Group, h *CartHandler, auth *xhttp.Authenticator) {
	e.GET("/cart", auth.Require(h.GetCart))
	e.GET("/cart/quote", auth.Require(h.QuoteCart))
	e.POST("/cart/items", auth.Require(h.AddItem))
	e.PATCH("/cart/items/{id}", auth.Require(h.UpdateItem))
	e.DELETE("/cart/items/{id}", auth.Require(h.RemoveItem))
}

func NewCartHandler(svc CartService) *CartHandler {
	return &CartHandler{svc: svc}
}

func (h *CartHandler) GetCart(ctx *xhttp.RequestCtx) {
	cart, err := h.svc.Get(ctx, xhttp.ClaimsFrom(ctx).UserID())
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, cart)
}

func (h *CartHandler) QuoteCart(ctx *xhttp.RequestCtx) {
	quote, err := h.svc.Quote(ctx, xhttp.ClaimsFrom(ctx).UserID())
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, quote)
}

func (h *CartHandler) AddItem(ctx *xhttp.RequestCtx) {
	var req model.AddCartItemRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	cart, err := h.svc.AddItem(ctx, xhttp.ClaimsFrom(ctx).UserID(), req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusCreated, cart)
}

func (h *CartHandler) UpdateItem(ctx *xhttp.RequestCtx) {
	itemID, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	var req model.UpdateCartItemRequest
	if err := readJSON(ctx, &req); err != nil {
		writeError(ctx, xhttp.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	cart, err := h.svc.UpdateItem(ctx, xhttp.ClaimsFrom(ctx).UserID(), itemID, req)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, cart)
}

func (h *CartHandler) RemoveItem(ctx *xhttp.RequestCtx) {
	itemID, err := pathInt64(ctx, "id")
	if err != nil {
		writeError(ctx, xhttp.StatusBadRequest, err.Error())
		return
	}
	cart, err := h.svc.RemoveItem(ctx, xhttp.ClaimsFrom(ctx).UserID(), itemID)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, cart)
}
