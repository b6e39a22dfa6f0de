package repository

import (
	"context"
	"testing"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCatalogRepository_Upserts(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCatalogRepository(db)
	ctx := context.Background()

	ids, err := repo.UpsertCountries(ctx, []model.Country{{Code: "FR", Name: "France"}, {Code: "IT", Name: "Italy"}})
	require.NoError(t, err)
	require.Len(t, ids, 2)

	renamed, err := repo.UpsertCountries(ctx, []model.Country{{Code: "FR", Name: "République française"}})
	require.NoError(t, err)
	assert.Equal(t, ids["FR"], renamed["FR"], "upsert keeps the id")

	plans := []*model.Plan{
		{ProviderPlanID: "fr-1", CountryID: ids["FR"], Name: "FR 1GB", DataAmount: 1024, ValidityDays: 7, Price: decimal.NewFromInt(3), IsActive: true},
		{ProviderPlanID: "fr-5", CountryID: ids["FR"], Name: "FR 5GB", DataAmount: 5120, ValidityDays: 30, Price: decimal.NewFromInt(9), IsActive: true},
		{ProviderPlanID: "it-1", CountryID: ids["IT"], Name: "IT 1GB", DataAmount: 1024, ValidityDays: 7, Price: decimal.NewFromInt(4), IsActive: true},
	}
	_, err = repo.UpsertPlans(ctx, plans)
	require.NoError(t, err)

	plans[1].Price = decimal.NewFromInt(8)
	_, err = repo.UpsertPlans(ctx, plans[:2])
	require.NoError(t, err)

	all, err := repo.ListPlans(ctx, model.PlanFilter{})
	require.NoError(t, err)
	require.Len(t, all, 3)

	fr := ids["FR"]
	french, err := repo.ListPlans(ctx, model.PlanFilter{CountryID: &fr})
	require.NoError(t, err)
	require.Len(t, french, 2)
	assert.True(t, french[1].Price.Equal(decimal.NewFromInt(8)))
	assert.Equal(t, "FR", french[0].Country.Code)

	deactivated, err := repo.DeactivatePlansExcept(ctx, []string{"fr-1", "fr-5"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), deactivated)

	active, err := repo.ListPlans(ctx, model.PlanFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, active, 2)

	none, err := repo.DeactivatePlansExcept(ctx, nil)
	require.NoError(t, err)
	assert.Zero(t, none)
}

func TestCatalogRepository_TopUpPlans(t *testing.T) {
	db := setupTestDB(t)
	repo := NewCatalogRepository(db)
	ctx := context.Background()

	_, err := repo.UpsertTopUpPlans(ctx, []*model.TopUpPlan{{
		ProviderPlanID: "tu-1", ProductID: "prod-1", CountryID: 1, Name: "Top up 1GB",
		DataAmount: 1024, ValidityDays: 10, Price: decimal.NewFromInt(2), IsActive: true,
	}})
	require.NoError(t, err)

	_, err = repo.UpsertTopUpPlans(ctx, []*model.TopUpPlan{{
		ProviderPlanID: "tu-1", ProductID: "prod-2", CountryID: 1, Name: "Top up 1GB",
		DataAmount: 2048, ValidityDays: 10, Price: decimal.NewFromInt(2), IsActive: true,
	}})
	require.NoError(t, err)

	got, err := repo.GetTopUpPlan(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "prod-2", got.ProductID)
	assert.Equal(t, int64(2048), got.DataAmount)

	_, err = repo.GetTopUpPlan(ctx, 42)
	assert.ErrorIs(t, err, ErrNotFound)
}
