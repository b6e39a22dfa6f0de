package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/nimasrn/esim-gateway/pkg/logger"
	"github.com/shopspring/decimal"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"
)

const (
	stripeEventSucceeded = "payment_intent.succeeded"
	stripeEventFailed    = "payment_intent.payment_failed"
)

type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	// Backend overrides the API endpoint, used against local fakes.
	Backend stripe.Backend
}

type StripeGateway struct {
	api           *client.API
	webhookSecret string
}

func NewStripeGateway(cfg StripeConfig) (*StripeGateway, error) {
	if cfg.WebhookSecret == "" {
		return nil, fmt.Errorf("stripe webhook secret is required")
	}

	var backends *stripe.Backends
	if cfg.Backend != nil {
		backends = &stripe.Backends{API: cfg.Backend, Connect: cfg.Backend, Uploads: cfg.Backend}
	}
	return &StripeGateway{
		api:           client.New(cfg.SecretKey, backends),
		webhookSecret: cfg.WebhookSecret,
	}, nil
}

func (g *StripeGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*Intent, error) {
	units, err := ToMinorUnits(amount, currency)
	if err != nil {
		return nil, err
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(units),
		Currency: stripe.String(strings.ToLower(currency)),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	for k, v := range metadata {
		params.AddMetadata(k, v)
	}

	pi, err := g.api.PaymentIntents.New(params)
	if err != nil {
		return nil, fmt.Errorf("create payment intent: %w", err)
	}
	logger.Info("payment intent created", "ref", pi.ID, "amount", units, "currency", currency)
	return toIntent(pi), nil
}

func (g *StripeGateway) GetIntent(ctx context.Context, ref string) (*Intent, error) {
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	pi, err := g.api.PaymentIntents.Get(ref, params)
	if err != nil {
		return nil, fmt.Errorf("get payment intent %s: %w", ref, err)
	}
	return toIntent(pi), nil
}

// ParseWebhook verifies the Stripe-Signature header and classifies the event.
// Events other than intent success or failure come back as EventIgnored.
func (g *StripeGateway) ParseWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error) {
	evt, err := webhook.ConstructEventWithOptions(payload, signatureHeader, g.webhookSecret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	out := &WebhookEvent{
		ID:   evt.ID,
		Type: string(evt.Type),
		Kind: EventIgnored,
	}
	if evt.Data == nil {
		return out, nil
	}
	out.Raw = evt.Data.Raw

	switch out.Type {
	case stripeEventSucceeded, stripeEventFailed:
	default:
		return out, nil
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		return nil, fmt.Errorf("decode payment intent from event %s: %w", evt.ID, err)
	}
	out.PaymentRef = pi.ID
	if out.Type == stripeEventSucceeded {
		out.Kind = EventPaymentSucceeded
	} else {
		out.Kind = EventPaymentFailed
		out.FailureMessage = failureMessage(&pi)
	}
	return out, nil
}

func toIntent(pi *stripe.PaymentIntent) *Intent {
	raw, _ := json.Marshal(pi)

	status := IntentPending
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		status = IntentSucceeded
	case stripe.PaymentIntentStatusCanceled:
		status = IntentFailed
	}

	return &Intent{
		Ref:            pi.ID,
		ClientSecret:   pi.ClientSecret,
		Status:         status,
		Amount:         FromMinorUnits(pi.Amount, string(pi.Currency)),
		Currency:       string(pi.Currency),
		FailureMessage: failureMessage(pi),
		Raw:            raw,
	}
}

func failureMessage(pi *stripe.PaymentIntent) string {
	if pi.LastPaymentError != nil && pi.LastPaymentError.Msg != "" {
		return pi.LastPaymentError.Msg
	}
	return ""
}
