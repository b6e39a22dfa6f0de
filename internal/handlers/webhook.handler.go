package handlers

import (
	"context"

	"github.com/fasthttp/router"
	"github.com/nimasrn/esim-gateway/internal/services"
	xhttp "github.com/nimasrn/esim-gateway/pkg/http"
)

type PaymentService interface {
	HandleWebhook(ctx context.Context, payload []byte, signature string) (*services.SettleResult, error)
}

type WebhookHandler struct {
	svc PaymentService
}

// RegisterWebhookRoutes mounts the gateway callback. It is authenticated by the payload signature, not a bearer token.
func RegisterWebhookRoutes(e *router.Group, h *WebhookHandler) {
	e.POST("/webhooks/payment", h.PaymentWebhook)
}

func NewWebhookHandler(svc PaymentService) *WebhookHandler {
	return &WebhookHandler{svc: svc}
}

func (h *WebhookHandler) PaymentWebhook(ctx *xhttp.RequestCtx) {
	signature := string(ctx.Request.Header.Peek("Stripe-Signature"))
	if signature == "" {
		writeError(ctx, xhttp.StatusBadRequest, "missing Stripe-Signature header")
		return
	}

	// the body is only valid for the lifetime of the request
	payload := append([]byte(nil), ctx.PostBody()...)

	res, err := h.svc.HandleWebhook(ctx, payload, signature)
	if err != nil {
		writeServiceError(ctx, err)
		return
	}
	writeJSON(ctx, xhttp.StatusOK, res)
}
