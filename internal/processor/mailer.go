package processor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/pkg/logger"
	"github.com/valyala/fasthttp"
)

var ErrRelayRejected = errors.New("mail relay rejected notification")

// Mailer delivers one notification to its recipient.
type Mailer interface {
	Send(ctx context.Context, n model.Notification) error
}

type relayRequest struct {
	To        string                 `json:"to"`
	Template  model.NotificationKind `json:"template"`
	Subject   string                 `json:"subject"`
	Variables map[string]any         `json:"variables"`
}

// RelayMailer posts notifications to an HTTP mail relay that owns the templates.
type RelayMailer struct {
	url     string
	timeout time.Duration
	client  *fasthttp.Client
}

func NewRelayMailer(url string, timeout time.Duration) *RelayMailer {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RelayMailer{
		url:     url,
		timeout: timeout,
		client: &fasthttp.Client{
			Name:                "esim-gateway-notifier",
			ReadTimeout:         timeout,
			WriteTimeout:        timeout,
			MaxIdleConnDuration: 30 * time.Second,
		},
	}
}

func (m *RelayMailer) Send(ctx context.Context, n model.Notification) error {
	body, err := json.Marshal(relayRequest{
		To:       n.Email,
		Template: n.Kind,
		Subject:  subjectFor(n),
		Variables: map[string]any{
			"order_code": n.OrderCode,
			"order_id":   n.OrderID,
			"user_id":    n.UserID,
			"status":     n.Status,
			"message":    n.Message,
		},
	})
	if err != nil {
		return err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.Header.SetMethod(fasthttp.MethodPost)
	req.SetRequestURI(m.url)
	req.Header.SetContentType("application/json")
	req.Header.Set("Idempotency-Key", n.DedupKey())
	req.SetBody(body)

	deadline := time.Now().Add(m.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := m.client.DoDeadline(req, resp, deadline); err != nil {
		return fmt.Errorf("mail relay: %w", err)
	}

	if status := resp.StatusCode(); status < 200 || status >= 300 {
		return fmt.Errorf("%w: status %d: %s", ErrRelayRejected, status, string(resp.Body()))
	}
	return nil
}

func subjectFor(n model.Notification) string {
	switch n.Kind {
	case model.NotifyOrderConfirmation:
		return "Your eSIM order " + n.OrderCode
	case model.NotifyOrderFailure:
		return "We could not complete order " + n.OrderCode
	case model.NotifyRefundClaim:
		return "Refund needed for order " + n.OrderCode
	}
	return "Order " + n.OrderCode
}

// LogMailer only logs. It stands in when no relay is configured.
type LogMailer struct{}

func (LogMailer) Send(_ context.Context, n model.Notification) error {
	logger.Info("notification (no relay configured)", "kind", n.Kind, "to", n.Email, "order_code", n.OrderCode, "status", n.Status)
	return nil
}
