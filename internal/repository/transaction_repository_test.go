package repository

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransactionRepository_CreateAndGet(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	created, err := repo.Create(ctx, &model.Transaction{
		ExternalRef: "pi_123",
		Method:      model.PaymentCard,
		Amount:      decimal.RequireFromString("12.50"),
		Currency:    "usd",
		Status:      model.TransactionPending,
		UserID:      4,
		CartID:      ptr(int64(9)),
	})
	require.NoError(t, err)
	assert.NotZero(t, created.ID)
	assert.False(t, created.IsTopUp())

	byRef, err := repo.GetByExternalRef(ctx, "pi_123")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byRef.ID)
	assert.True(t, byRef.Amount.Equal(decimal.RequireFromString("12.50")))
	assert.Equal(t, int64(9), *byRef.CartID)

	_, err = repo.GetByExternalRef(ctx, "pi_missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = repo.Create(ctx, &model.Transaction{ExternalRef: "pi_123", Method: model.PaymentCard, Currency: "usd", Status: model.TransactionPending})
	assert.Error(t, err)
}

func TestTransactionRepository_MarkStatus(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	txn, err := repo.Create(ctx, &model.Transaction{
		ExternalRef: "pi_456", Method: model.PaymentCard, Currency: "usd",
		Amount: decimal.NewFromInt(5), Status: model.TransactionPending, UserID: 1,
	})
	require.NoError(t, err)

	changed, err := repo.MarkStatus(ctx, txn.ID, model.TransactionSuccess, json.RawMessage(`{"id":"evt_1"}`))
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkStatus(ctx, txn.ID, model.TransactionFailed, nil)
	require.NoError(t, err)
	assert.False(t, changed, "terminal status must not move")

	got, err := repo.GetByID(ctx, txn.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TransactionSuccess, got.Status)
	assert.JSONEq(t, `{"id":"evt_1"}`, string(got.RawResponse))
}

func TestTransactionRepository_ListPendingOlderThan(t *testing.T) {
	db := setupTestDB(t)
	repo := NewTransactionRepository(db)
	ctx := context.Background()

	for i, tc := range []struct {
		method model.PaymentMethod
		status model.TransactionStatus
	}{
		{model.PaymentCard, model.TransactionPending},
		{model.PaymentCard, model.TransactionSuccess},
		{model.PaymentCash, model.TransactionPending},
		{model.PaymentCard, model.TransactionPending},
	} {
		_, err := repo.Create(ctx, &model.Transaction{
			ExternalRef: "ref_" + string(rune('a'+i)), Method: tc.method, Status: tc.status,
			Currency: "usd", Amount: decimal.NewFromInt(1), UserID: 1,
		})
		require.NoError(t, err)
	}

	pending, err := repo.ListPendingOlderThan(ctx, time.Now().Add(time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "ref_a", pending[0].ExternalRef)
	assert.Equal(t, "ref_d", pending[1].ExternalRef)

	none, err := repo.ListPendingOlderThan(ctx, time.Now().Add(-time.Hour), 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}
