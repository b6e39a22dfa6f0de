package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/webhook"
)

const testWebhookSecret = "whsec_test"

func signedEvent(t *testing.T, typ string, object map[string]any) ([]byte, string) {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"id":          "evt_1",
		"object":      "event",
		"type":        typ,
		"api_version": "2020-08-27",
		"data":        map[string]any{"object": object},
	})
	require.NoError(t, err)

	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{Payload: body, Secret: testWebhookSecret})
	return signed.Payload, signed.Header
}

func newTestGateway(t *testing.T) *StripeGateway {
	g, err := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", WebhookSecret: testWebhookSecret})
	require.NoError(t, err)
	return g
}

func TestStripeGateway_ParseWebhook(t *testing.T) {
	g := newTestGateway(t)

	t.Run("success event", func(t *testing.T) {
		payload, header := signedEvent(t, "payment_intent.succeeded", map[string]any{
			"id": "pi_123", "object": "payment_intent", "status": "succeeded",
		})
		evt, err := g.ParseWebhook(payload, header)
		require.NoError(t, err)
		assert.Equal(t, EventPaymentSucceeded, evt.Kind)
		assert.Equal(t, "pi_123", evt.PaymentRef)
		assert.Equal(t, "evt_1", evt.ID)
		assert.NotEmpty(t, evt.Raw)
	})

	t.Run("failure event carries the decline message", func(t *testing.T) {
		payload, header := signedEvent(t, "payment_intent.payment_failed", map[string]any{
			"id": "pi_456", "object": "payment_intent", "status": "requires_payment_method",
			"last_payment_error": map[string]any{"message": "Your card was declined."},
		})
		evt, err := g.ParseWebhook(payload, header)
		require.NoError(t, err)
		assert.Equal(t, EventPaymentFailed, evt.Kind)
		assert.Equal(t, "pi_456", evt.PaymentRef)
		assert.Equal(t, "Your card was declined.", evt.FailureMessage)
	})

	t.Run("other events are ignored", func(t *testing.T) {
		payload, header := signedEvent(t, "charge.refunded", map[string]any{"id": "ch_1", "object": "charge"})
		evt, err := g.ParseWebhook(payload, header)
		require.NoError(t, err)
		assert.Equal(t, EventIgnored, evt.Kind)
		assert.Empty(t, evt.PaymentRef)
	})

	t.Run("bad signature is rejected", func(t *testing.T) {
		payload, _ := signedEvent(t, "payment_intent.succeeded", map[string]any{"id": "pi_1", "object": "payment_intent"})
		_, err := g.ParseWebhook(payload, "t=1,v1=deadbeef")
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})

	t.Run("tampered payload is rejected", func(t *testing.T) {
		payload, header := signedEvent(t, "payment_intent.succeeded", map[string]any{"id": "pi_1", "object": "payment_intent"})
		tampered := append([]byte{}, payload...)
		tampered[len(tampered)-2] = ' '
		_, err := g.ParseWebhook(tampered, header)
		assert.ErrorIs(t, err, ErrInvalidSignature)
	})
}

func TestNewStripeGateway_RequiresWebhookSecret(t *testing.T) {
	_, err := NewStripeGateway(StripeConfig{SecretKey: "sk_test"})
	assert.Error(t, err)
}

func TestStripeGateway_CreateIntent(t *testing.T) {
	var form map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		form = map[string]string{
			"path":     r.URL.Path,
			"amount":   r.PostForm.Get("amount"),
			"currency": r.PostForm.Get("currency"),
			"cart":     r.PostForm.Get("metadata[cart_id]"),
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"pi_789","object":"payment_intent","client_secret":"pi_789_secret","status":"requires_payment_method","amount":1299,"currency":"usd"}`))
	}))
	defer srv.Close()

	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(srv.URL),
		MaxNetworkRetries: stripe.Int64(0),
	})
	g, err := NewStripeGateway(StripeConfig{SecretKey: "sk_test_123", WebhookSecret: testWebhookSecret, Backend: backend})
	require.NoError(t, err)

	intent, err := g.CreateIntent(context.Background(), decimal.RequireFromString("12.99"), "USD", map[string]string{"cart_id": "7"})
	require.NoError(t, err)

	assert.Equal(t, "pi_789", intent.Ref)
	assert.Equal(t, "pi_789_secret", intent.ClientSecret)
	assert.Equal(t, IntentPending, intent.Status)
	assert.True(t, intent.Amount.Equal(decimal.RequireFromString("12.99")))
	assert.Equal(t, map[string]string{"path": "/v1/payment_intents", "amount": "1299", "currency": "usd", "cart": "7"}, form)
}
