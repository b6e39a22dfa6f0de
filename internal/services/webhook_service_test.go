package services

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/internal/payment"
	"github.com/nimasrn/esim-gateway/internal/provider"
	"github.com/nimasrn/esim-gateway/pkg/redis"
	"github.com/nimasrn/esim-gateway/pkg/redis/redistest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newPaymentService(t *testing.T, f *fixture, gw payment.Gateway) (*PaymentService, *redis.Locker) {
	t.Helper()
	_, adapter := redistest.New(t)
	locker := redis.NewLocker(adapter)
	return NewPaymentService(f.transactions, gw, f.fulfillment, locker, time.Minute), locker
}

func TestPaymentService_HandleWebhook(t *testing.T) {
	ctx := context.Background()

	t.Run("success settles and fulfills", func(t *testing.T) {
		f := newFixture(t)
		gw := &mockGateway{}
		svc, _ := newPaymentService(t, f, gw)
		user := f.seedUser(t, "hook@example.com")
		plan := f.seedPlan(t, "fr-1gb", "5.00")
		cart := f.seedCart(t, user.ID, line{plan, 2})
		txn := f.seedCartTransaction(t, cart, model.TransactionPending)

		payload := []byte(`{"id":"evt_1"}`)
		gw.On("ParseWebhook", payload, "sig").Return(&payment.WebhookEvent{
			ID:         "evt_1",
			Type:       "payment_intent.succeeded",
			Kind:       payment.EventPaymentSucceeded,
			PaymentRef: txn.ExternalRef,
			Raw:        json.RawMessage(payload),
		}, nil)

		res, err := svc.HandleWebhook(ctx, payload, "sig")
		require.NoError(t, err)
		assert.False(t, res.Ignored)
		assert.Equal(t, model.TransactionSuccess, res.Transaction.Status)
		require.NotNil(t, res.Fulfillment)
		assert.Equal(t, model.OrderCompleted, res.Fulfillment.Summary.Status)

		again, err := svc.HandleWebhook(ctx, payload, "sig")
		require.NoError(t, err)
		assert.True(t, again.Fulfillment.AlreadyProcessed, "redelivered webhooks replay the order")
		assert.Equal(t, res.Fulfillment.Order.OrderCode, again.Fulfillment.Order.OrderCode)
		assert.Equal(t, int32(2), f.upstream.provisionCalls.Load())
	})

	t.Run("failure marks the transaction failed", func(t *testing.T) {
		f := newFixture(t)
		gw := &mockGateway{}
		svc, _ := newPaymentService(t, f, gw)
		user := f.seedUser(t, "declined@example.com")
		plan := f.seedPlan(t, "fr-1gb", "5.00")
		cart := f.seedCart(t, user.ID, line{plan, 1})
		txn := f.seedCartTransaction(t, cart, model.TransactionPending)

		gw.On("ParseWebhook", mock.Anything, mock.Anything).Return(&payment.WebhookEvent{
			Type:           "payment_intent.payment_failed",
			Kind:           payment.EventPaymentFailed,
			PaymentRef:     txn.ExternalRef,
			FailureMessage: "card declined",
		}, nil)

		res, err := svc.HandleWebhook(ctx, []byte(`{}`), "sig")
		require.NoError(t, err)
		assert.Equal(t, model.TransactionFailed, res.Transaction.Status)
		assert.Nil(t, res.Fulfillment)

		_, err = f.orders.GetByTransactionID(ctx, txn.ID)
		assert.Error(t, err)
		stillActive, err := f.carts.GetActive(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, cart.ID, stillActive.ID, "a declined card leaves the cart usable")
	})

	t.Run("late success after failure does not fulfill", func(t *testing.T) {
		f := newFixture(t)
		gw := &mockGateway{}
		svc, _ := newPaymentService(t, f, gw)
		user := f.seedUser(t, "late@example.com")
		plan := f.seedPlan(t, "fr-1gb", "5.00")
		cart := f.seedCart(t, user.ID, line{plan, 1})
		txn := f.seedCartTransaction(t, cart, model.TransactionPending)
		_, err := f.transactions.MarkStatus(ctx, txn.ID, model.TransactionFailed, nil)
		require.NoError(t, err)

		gw.On("ParseWebhook", mock.Anything, mock.Anything).Return(&payment.WebhookEvent{
			Type:       "payment_intent.succeeded",
			Kind:       payment.EventPaymentSucceeded,
			PaymentRef: txn.ExternalRef,
		}, nil)

		_, err = svc.HandleWebhook(ctx, []byte(`{}`), "sig")
		assert.ErrorIs(t, err, ErrInvalidTransactionState)
		assert.Zero(t, f.upstream.provisionCalls.Load())
	})

	t.Run("top-up settles with the upstream result", func(t *testing.T) {
		f := newFixture(t)
		f.upstream.topUp = func(string, string, string) (*provider.TopUpResponse, error) {
			return &provider.TopUpResponse{Status: "failed", Message: "no such iccid"}, provider.ErrTopUpRejected
		}
		gw := &mockGateway{}
		svc, _ := newPaymentService(t, f, gw)
		user := f.seedUser(t, "toppay@example.com")
		esim := f.seedProvisionedEsim(t, user)
		plan := f.seedTopUpPlan(t, "fr-topup-1gb", 1024, 30)
		txn := f.seedTopUpTransaction(t, user.ID, esim, plan, "pi_top_hook")

		gw.On("ParseWebhook", mock.Anything, mock.Anything).Return(&payment.WebhookEvent{
			Type:       "payment_intent.succeeded",
			Kind:       payment.EventPaymentSucceeded,
			PaymentRef: txn.ExternalRef,
		}, nil)

		res, err := svc.HandleWebhook(ctx, []byte(`{}`), "sig")
		require.NoError(t, err)
		assert.Equal(t, model.TransactionFailed, res.Transaction.Status, "paid but rejected upstream")
		assert.Equal(t, model.OrderFailed, res.Fulfillment.Summary.Status)
	})

	t.Run("ignored and unknown events", func(t *testing.T) {
		f := newFixture(t)
		gw := &mockGateway{}
		svc, _ := newPaymentService(t, f, gw)

		gw.On("ParseWebhook", []byte("a"), "sig").Return(&payment.WebhookEvent{Type: "charge.refunded", Kind: payment.EventIgnored}, nil)
		gw.On("ParseWebhook", []byte("b"), "sig").Return(&payment.WebhookEvent{Type: "payment_intent.succeeded", Kind: payment.EventPaymentSucceeded, PaymentRef: "pi_nobody"}, nil)

		res, err := svc.HandleWebhook(ctx, []byte("a"), "sig")
		require.NoError(t, err)
		assert.True(t, res.Ignored)

		res, err = svc.HandleWebhook(ctx, []byte("b"), "sig")
		require.NoError(t, err)
		assert.True(t, res.Ignored)
	})

	t.Run("bad signature", func(t *testing.T) {
		f := newFixture(t)
		gw := &mockGateway{}
		svc, _ := newPaymentService(t, f, gw)
		gw.On("ParseWebhook", mock.Anything, mock.Anything).Return(nil, payment.ErrInvalidSignature)

		_, err := svc.HandleWebhook(ctx, []byte(`{}`), "forged")
		assert.ErrorIs(t, err, payment.ErrInvalidSignature)
	})
}

func TestPaymentService_SettleIsSerializedPerReference(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	svc, locker := newPaymentService(t, f, &mockGateway{})
	user := f.seedUser(t, "lock@example.com")
	plan := f.seedPlan(t, "fr-1gb", "5.00")
	cart := f.seedCart(t, user.ID, line{plan, 1})
	txn := f.seedCartTransaction(t, cart, model.TransactionPending)

	token, err := locker.TryLock(ctx, "payment:settle:"+txn.ExternalRef, time.Minute)
	require.NoError(t, err)

	_, err = svc.Settle(ctx, Settlement{Ref: txn.ExternalRef, Succeeded: true})
	assert.ErrorIs(t, err, ErrPaymentInFlight)

	stored, err := f.transactions.GetByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionPending, stored.Status)

	require.NoError(t, locker.Unlock(ctx, "payment:settle:"+txn.ExternalRef, token))
	res, err := svc.Settle(ctx, Settlement{Ref: txn.ExternalRef, Succeeded: true})
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, res.Fulfillment.Summary.Status)
}

func TestPaymentService_Reconcile(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	gw := &mockGateway{}
	svc, _ := newPaymentService(t, f, gw)
	user := f.seedUser(t, "recon@example.com")
	plan := f.seedPlan(t, "fr-1gb", "5.00")

	paid := f.seedCartTransaction(t, f.seedCart(t, user.ID, line{plan, 1}), model.TransactionPending)
	other := f.seedUser(t, "recon2@example.com")
	declined := f.seedCartTransaction(t, f.seedCart(t, other.ID, line{plan, 1}), model.TransactionPending)
	third := f.seedUser(t, "recon3@example.com")
	waiting := f.seedCartTransaction(t, f.seedCart(t, third.ID, line{plan, 1}), model.TransactionPending)
	fourth := f.seedUser(t, "recon4@example.com")
	broken := f.seedCartTransaction(t, f.seedCart(t, fourth.ID, line{plan, 1}), model.TransactionPending)

	gw.On("GetIntent", mock.Anything, paid.ExternalRef).Return(&payment.Intent{Ref: paid.ExternalRef, Status: payment.IntentSucceeded}, nil)
	gw.On("GetIntent", mock.Anything, declined.ExternalRef).Return(&payment.Intent{Ref: declined.ExternalRef, Status: payment.IntentFailed, FailureMessage: "expired"}, nil)
	gw.On("GetIntent", mock.Anything, waiting.ExternalRef).Return(&payment.Intent{Ref: waiting.ExternalRef, Status: payment.IntentPending}, nil)
	gw.On("GetIntent", mock.Anything, broken.ExternalRef).Return(nil, errors.New("timeout"))

	report, err := svc.Reconcile(ctx, -time.Minute, 10)
	require.NoError(t, err)
	assert.Equal(t, 4, report.Checked)
	assert.Equal(t, 1, report.Succeeded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 1, report.Pending)
	assert.Equal(t, 1, report.Errors)

	order, err := f.orders.GetByTransactionID(ctx, paid.ID)
	require.NoError(t, err)
	assert.Equal(t, model.OrderCompleted, order.Status)

	got, err := f.transactions.GetByID(ctx, declined.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionFailed, got.Status)
	got, err = f.transactions.GetByID(ctx, waiting.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionPending, got.Status)
	gw.AssertExpectations(t)
}
