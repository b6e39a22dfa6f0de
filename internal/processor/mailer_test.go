package processor

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRelayMailer_Send(t *testing.T) {
	var (
		gotBody map[string]any
		gotKey  string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(raw, &gotBody)
		gotKey = r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	m := NewRelayMailer(srv.URL, time.Second)
	n := model.Notification{Kind: model.NotifyRefundClaim, Email: "ops@example.com", OrderID: 4, OrderCode: "ESM00004", Status: model.OrderPartial, Message: "unit 2/2: sold out"}

	require.NoError(t, m.Send(context.Background(), n))
	assert.Equal(t, "ops@example.com", gotBody["to"])
	assert.Equal(t, "refund_claim", gotBody["template"])
	assert.Equal(t, "Refund needed for order ESM00004", gotBody["subject"])
	vars, ok := gotBody["variables"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "unit 2/2: sold out", vars["message"])
	assert.Equal(t, n.DedupKey(), gotKey)
}

func TestRelayMailer_Rejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "mailbox full", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	err := NewRelayMailer(srv.URL, time.Second).Send(context.Background(), model.Notification{Kind: model.NotifyOrderFailure, Email: "a@example.com", OrderID: 1})
	assert.ErrorIs(t, err, ErrRelayRejected)
	assert.Contains(t, err.Error(), "503")
}

func TestLogMailer(t *testing.T) {
	assert.NoError(t, LogMailer{}.Send(context.Background(), model.Notification{Kind: model.NotifyOrderConfirmation}))
}
