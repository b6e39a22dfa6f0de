package fixtures

import (
	"context"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/nimasrn/esim-gateway/internal/config"
	"github.com/nimasrn/esim-gateway/internal/mockprovider"
	"github.com/nimasrn/esim-gateway/internal/model"
)

const (
	ProviderUsername = "reseller"
	ProviderPassword = "s3cret"
	AdminEmail       = "ops@esim.test"
	WebhookSecret    = "whsec_e2e"

	PlanFrance1GB   = "fr-1gb-7d"
	PlanJapan10GB   = "jp-10gb-30d"
	TopUpFrance1GB  = "fr-topup-1gb"
	TopUpProductFR  = "topup-fr"
	CatalogPlans    = 4
)

// StartProvider serves the mock upstream on a loopback port for the duration of the test.
func StartProvider(t *testing.T) (*mockprovider.MockProvider, *httptest.Server) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	mock := mockprovider.NewMockProvider(mockprovider.Options{
		Username: ProviderUsername,
		Password: ProviderPassword,
		TokenTTL: time.Hour,
	})
	srv := httptest.NewServer(mockprovider.SetupRouter(mock))
	t.Cleanup(srv.Close)
	return mock, srv
}

// Config is a complete configuration pointed at providerURL.
func Config(providerURL string) *config.Config {
	return &config.Config{
		AppEnv:                      "test",
		AppName:                     "esim_gateway",
		ProviderName:                "wholesale",
		ProviderBaseURL:             providerURL,
		ProviderUsername:            ProviderUsername,
		ProviderPassword:            ProviderPassword,
		ProviderTimeout:             2 * time.Second,
		ProviderTokenVerifyInterval: time.Minute,
		ProviderBreakerThreshold:    50,
		ProviderBreakerTimeout:      time.Second,
		FulfillmentConcurrency:      4,
		FulfillmentUnitTimeout:      2 * time.Second,
		StripeSecretKey:             "sk_test_e2e",
		StripeWebhookSecret:         WebhookSecret,
		PaymentCurrency:             "eur",
		NotifyAdminEmail:            AdminEmail,
		QueueName:                   "notifications",
		QueueConsumerGroup:          "notifiers",
		QueueConsumerName:           "e2e",
		QueueMaxRetries:             3,
		QueueVisibilityTimeout:      200 * time.Millisecond,
		QueuePollInterval:           20 * time.Millisecond,
		QueueBatchSize:              10,
		QueueMaxLen:                 1000,
		QueueEnableDLQ:              true,
		CatalogSyncInterval:         time.Hour,
		CatalogSyncLockTTL:          time.Minute,
		ReconcileInterval:           time.Hour,
		ReconcileMinAge:             time.Minute,
		WebhookLockTTL:              time.Minute,
	}
}

// RecordingMailer keeps every notification it was asked to send.
type RecordingMailer struct {
	mu   sync.Mutex
	sent []model.Notification
}

func (m *RecordingMailer) Send(_ context.Context, n model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, n)
	return nil
}

func (m *RecordingMailer) Sent() []model.Notification {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]model.Notification, len(m.sent))
	copy(out, m.sent)
	return out
}

// Find returns the notifications of kind sent for orderCode.
func (m *RecordingMailer) Find(kind model.NotificationKind, orderCode string) []model.Notification {
	var out []model.Notification
	for _, n := range m.Sent() {
		if n.Kind == kind && n.OrderCode == orderCode {
			out = append(out, n)
		}
	}
	return out
}
