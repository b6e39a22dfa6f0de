package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/internal/payment"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockGateway struct {
	mock.Mock
}

func (m *mockGateway) CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*payment.Intent, error) {
	args := m.Called(ctx, amount, currency, metadata)
	intent, _ := args.Get(0).(*payment.Intent)
	return intent, args.Error(1)
}

func (m *mockGateway) GetIntent(ctx context.Context, ref string) (*payment.Intent, error) {
	args := m.Called(ctx, ref)
	intent, _ := args.Get(0).(*payment.Intent)
	return intent, args.Error(1)
}

func (m *mockGateway) ParseWebhook(payload []byte, signatureHeader string) (*payment.WebhookEvent, error) {
	args := m.Called(payload, signatureHeader)
	evt, _ := args.Get(0).(*payment.WebhookEvent)
	return evt, args.Error(1)
}

func amountEq(want string) any {
	return mock.MatchedBy(func(d decimal.Decimal) bool {
		return d.Equal(decimal.RequireFromString(want))
	})
}

func newCheckout(f *fixture, gw payment.Gateway) *CheckoutService {
	return NewCheckoutService(f.transactions, f.carts, f.esims, f.catalog, gw, f.fulfillment, "EUR")
}

func TestCheckoutService_Card(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gw := &mockGateway{}
	svc := newCheckout(f, gw)

	user := f.seedUser(t, "card@example.com")
	plan := f.seedPlan(t, "fr-1gb", "6.50")
	cart := f.seedCart(t, user.ID, line{plan, 2})

	gw.On("CreateIntent", mock.Anything, amountEq("13.00"), "EUR", mock.MatchedBy(func(md map[string]string) bool {
		return md["cart_id"] != "" && md["user_id"] != ""
	})).Return(&payment.Intent{
		Ref:          "pi_123",
		ClientSecret: "pi_123_secret",
		Status:       payment.IntentPending,
		Raw:          json.RawMessage(`{"id":"pi_123"}`),
	}, nil).Once()

	res, err := svc.Checkout(ctx, user.ID, "card")
	require.NoError(t, err)
	assert.Equal(t, "pi_123_secret", res.ClientSecret)
	assert.Nil(t, res.Fulfillment, "card payments wait for the webhook")
	assert.Equal(t, model.TransactionPending, res.Transaction.Status)
	assert.Equal(t, "pi_123", res.Transaction.ExternalRef)
	require.NotNil(t, res.Transaction.CartID)
	assert.Equal(t, cart.ID, *res.Transaction.CartID)

	stillActive, err := f.carts.GetActive(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, cart.ID, stillActive.ID)
	assert.Zero(t, f.upstream.provisionCalls.Load())
	gw.AssertExpectations(t)
}

func TestCheckoutService_CashFulfillsImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gw := &mockGateway{}
	svc := newCheckout(f, gw)

	user := f.seedUser(t, "cash@example.com")
	plan := f.seedPlan(t, "fr-1gb", "5.00")
	f.seedCart(t, user.ID, line{plan, 2})

	res, err := svc.Checkout(ctx, user.ID, "cash")
	require.NoError(t, err)
	assert.Equal(t, model.TransactionSuccess, res.Transaction.Status)
	assert.Contains(t, res.Transaction.ExternalRef, "cod_")
	require.NotNil(t, res.Fulfillment)
	assert.Equal(t, model.OrderCompleted, res.Fulfillment.Summary.Status)
	assert.Equal(t, 2, res.Fulfillment.Summary.Provisioned)

	gw.AssertNotCalled(t, "CreateIntent", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestCheckoutService_Rejects(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gw := &mockGateway{}
	svc := newCheckout(f, gw)
	user := f.seedUser(t, "nope@example.com")

	_, err := svc.Checkout(ctx, user.ID, "bitcoin")
	assert.ErrorIs(t, err, ErrInvalidPaymentMethod)

	_, err = svc.Checkout(ctx, user.ID, "card")
	assert.ErrorIs(t, err, ErrNoValidCart)

	f.seedCart(t, user.ID)
	_, err = svc.Checkout(ctx, user.ID, "card")
	assert.ErrorIs(t, err, ErrEmptyCart)
}

func TestCheckoutService_GatewayFailure(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gw := &mockGateway{}
	svc := newCheckout(f, gw)
	user := f.seedUser(t, "down@example.com")
	plan := f.seedPlan(t, "fr-1gb", "5.00")
	f.seedCart(t, user.ID, line{plan, 1})

	gw.On("CreateIntent", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(nil, errors.New("gateway unavailable")).Once()

	_, err := svc.Checkout(ctx, user.ID, "card")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "gateway unavailable")

	_, err = f.transactions.GetByExternalRef(ctx, "")
	assert.Error(t, err, "no transaction is stored without a payment reference")
}

func TestCheckoutService_InitiateTopUp(t *testing.T) {
	ctx := context.Background()

	t.Run("card opens an intent for the plan price", func(t *testing.T) {
		f := newFixture(t)
		gw := &mockGateway{}
		svc := newCheckout(f, gw)
		user := f.seedUser(t, "tc@example.com")
		esim := f.seedProvisionedEsim(t, user)
		plan := f.seedTopUpPlan(t, "fr-topup-1gb", 1024, 30)

		gw.On("CreateIntent", mock.Anything, amountEq("4.50"), "EUR", mock.Anything).
			Return(&payment.Intent{Ref: "pi_top", ClientSecret: "pi_top_secret"}, nil).Once()

		res, err := svc.InitiateTopUp(ctx, user.ID, TopUpRequest{EsimID: esim.ID, TopUpPlanID: plan.ID, Method: "card"})
		require.NoError(t, err)
		assert.Equal(t, "pi_top_secret", res.ClientSecret)
		assert.True(t, res.Transaction.IsTopUp())
		assert.Equal(t, model.TransactionPending, res.Transaction.Status)
		assert.Zero(t, f.upstream.topUpCalls.Load())
		gw.AssertExpectations(t)
	})

	t.Run("cash settles with the upstream outcome", func(t *testing.T) {
		f := newFixture(t)
		svc := newCheckout(f, &mockGateway{})
		user := f.seedUser(t, "tk@example.com")
		esim := f.seedProvisionedEsim(t, user)
		plan := f.seedTopUpPlan(t, "fr-topup-1gb", 1024, 30)

		res, err := svc.InitiateTopUp(ctx, user.ID, TopUpRequest{EsimID: esim.ID, TopUpPlanID: plan.ID, Method: "cash"})
		require.NoError(t, err)
		assert.Equal(t, model.TransactionSuccess, res.Transaction.Status)
		assert.Equal(t, model.OrderCompleted, res.Fulfillment.Summary.Status)
		assert.Equal(t, int32(1), f.upstream.topUpCalls.Load())
	})

	t.Run("someone else's esim", func(t *testing.T) {
		f := newFixture(t)
		svc := newCheckout(f, &mockGateway{})
		owner := f.seedUser(t, "own@example.com")
		other := f.seedUser(t, "other@example.com")
		esim := f.seedProvisionedEsim(t, owner)
		plan := f.seedTopUpPlan(t, "fr-topup-1gb", 1024, 30)

		_, err := svc.InitiateTopUp(ctx, other.ID, TopUpRequest{EsimID: esim.ID, TopUpPlanID: plan.ID, Method: "cash"})
		assert.ErrorIs(t, err, ErrEsimNotFound)
	})

	t.Run("validation", func(t *testing.T) {
		f := newFixture(t)
		svc := newCheckout(f, &mockGateway{})
		user := f.seedUser(t, "val@example.com")
		esim := f.seedProvisionedEsim(t, user)

		_, err := svc.InitiateTopUp(ctx, user.ID, TopUpRequest{TopUpPlanID: 1, Method: "cash"})
		assert.ErrorIs(t, err, ErrValidation)

		_, err = svc.InitiateTopUp(ctx, user.ID, TopUpRequest{EsimID: esim.ID, TopUpPlanID: 1, Method: "cheque"})
		assert.ErrorIs(t, err, ErrInvalidPaymentMethod)

		_, err = svc.InitiateTopUp(ctx, user.ID, TopUpRequest{EsimID: esim.ID, TopUpPlanID: 77, Method: "cash"})
		assert.ErrorIs(t, err, ErrTopUpPlanNotFound)
	})
}
