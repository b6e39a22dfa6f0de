package repository

import (
	"context"
	"testing"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEsimRepository_CreateAndCount(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEsimRepository(db)
	ctx := context.Background()

	_, err := repo.Create(ctx, &model.Esim{OrderID: 1, UserID: 1, ProductName: "A", ICCID: ptr("1"), IsActive: true, PlanIDs: []int64{1, 2}})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &model.Esim{OrderID: 1, UserID: 1, ProductName: "A"})
	require.NoError(t, err)
	_, err = repo.Create(ctx, &model.Esim{OrderID: 2, UserID: 1, ProductName: "B", ICCID: ptr("2")})
	require.NoError(t, err)

	total, provisioned, err := repo.CountByOrder(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, int64(2), total)
	assert.Equal(t, int64(1), provisioned)

	list, err := repo.ListByOrder(ctx, 1)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, []int64{1, 2}, list[0].PlanIDs)
	assert.False(t, list[1].IsProvisioned())
}

func TestEsimRepository_ApplyTopUp(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEsimRepository(db)
	ctx := context.Background()

	start := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 0, 30)
	esim, err := repo.Create(ctx, &model.Esim{
		OrderID: 1, UserID: 1, ProductName: "EU", ICCID: ptr("8944"), IsActive: true,
		DataAmount: 1024, ValidityDays: 30, StartDate: &start, EndDate: &end,
	})
	require.NoError(t, err)

	t.Run("shorter grant keeps validity", func(t *testing.T) {
		got, err := repo.ApplyTopUp(ctx, esim.ID, model.TopUpGrant{DataAmount: 2048, ValidityDays: 7}, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(3072), got.DataAmount)
		assert.Equal(t, 30, got.ValidityDays)
	})

	t.Run("longer grant raises validity", func(t *testing.T) {
		got, err := repo.ApplyTopUp(ctx, esim.ID, model.TopUpGrant{DataAmount: 1024, ValidityDays: 60}, time.Now())
		require.NoError(t, err)
		assert.Equal(t, int64(4096), got.DataAmount)
		assert.Equal(t, 60, got.ValidityDays)
		assert.True(t, got.EndDate.Equal(start.AddDate(0, 0, 60)))
	})

	stored, err := repo.GetByID(ctx, esim.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(4096), stored.DataAmount)

	_, err = repo.ApplyTopUp(ctx, 999, model.TopUpGrant{DataAmount: 1}, time.Now())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEsimRepository_TopUpRecords(t *testing.T) {
	db := setupTestDB(t)
	repo := NewEsimRepository(db)
	ctx := context.Background()

	_, err := repo.CreateTopUp(ctx, &model.EsimTopUp{EsimID: 5, TopUpPlanID: 1, OrderID: 10, Status: model.TopUpSucceeded})
	require.NoError(t, err)
	_, err = repo.CreateTopUp(ctx, &model.EsimTopUp{EsimID: 5, TopUpPlanID: 1, OrderID: 11, Status: model.TopUpFailed, ErrorMessage: "rejected"})
	require.NoError(t, err)

	records, err := repo.ListTopUps(ctx, 5)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, model.TopUpFailed, records[1].Status)
	assert.Equal(t, "rejected", records[1].ErrorMessage)
}
