package repository

import (
	"context"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/pkg/pg"
	"gorm.io/gorm/clause"
)

type CatalogRepository struct {
	*pg.DB
}

func NewCatalogRepository(db *pg.DB) *CatalogRepository {
	return &CatalogRepository{
		db,
	}
}

func (r *CatalogRepository) GetPlan(ctx context.Context, id int64) (*model.Plan, error) {
	var entity PlanEntity
	if err := r.Read(ctx).WithContext(ctx).Preload("Country").First(&entity, id).Error; err != nil {
		return nil, notFound(err)
	}
	return toPlanModel(&entity), nil
}

func (r *CatalogRepository) GetTopUpPlan(ctx context.Context, id int64) (*model.TopUpPlan, error) {
	var entity TopUpPlanEntity
	if err := r.Read(ctx).WithContext(ctx).First(&entity, id).Error; err != nil {
		return nil, notFound(err)
	}
	return toTopUpPlanModel(&entity), nil
}

func (r *CatalogRepository) ListPlans(ctx context.Context, f model.PlanFilter) ([]*model.Plan, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&PlanEntity{}).Preload("Country")
	if f.CountryID != nil {
		q = q.Where("country_id = ?", *f.CountryID)
	}
	if f.ActiveOnly {
		q = q.Where("is_active = ?", true)
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	offset := max(f.Offset, 0)

	var entities []*PlanEntity
	if err := q.Order("price ASC, id ASC").Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, err
	}
	plans := make([]*model.Plan, len(entities))
	for i, e := range entities {
		plans[i] = toPlanModel(e)
	}
	return plans, nil
}

// UpsertCountries inserts or renames countries by code and returns the id of every code.
func (r *CatalogRepository) UpsertCountries(ctx context.Context, countries []model.Country) (map[string]int64, error) {
	ids := make(map[string]int64, len(countries))
	if len(countries) == 0 {
		return ids, nil
	}

	entities := make([]*CountryEntity, 0, len(countries))
	codes := make([]string, 0, len(countries))
	for _, c := range countries {
		entities = append(entities, &CountryEntity{Code: c.Code, Name: c.Name})
		codes = append(codes, c.Code)
	}

	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "code"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "updated_at"}),
		}).
		Create(&entities).Error
	if err != nil {
		return nil, err
	}

	var stored []*CountryEntity
	if err := r.Write(ctx).WithContext(ctx).Where("code IN ?", codes).Find(&stored).Error; err != nil {
		return nil, err
	}
	for _, c := range stored {
		ids[c.Code] = c.ID
	}
	return ids, nil
}

var planUpsertColumns = []string{"country_id", "name", "data_amount", "validity_days", "price", "is_active", "updated_at"}

// UpsertPlans inserts or refreshes plans keyed by provider plan id.
func (r *CatalogRepository) UpsertPlans(ctx context.Context, plans []*model.Plan) (int64, error) {
	if len(plans) == 0 {
		return 0, nil
	}
	entities := make([]*PlanEntity, len(plans))
	for i, p := range plans {
		entities[i] = toPlanEntity(p)
	}

	res := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_plan_id"}},
			DoUpdates: clause.AssignmentColumns(planUpsertColumns),
		}).
		Create(&entities)
	return res.RowsAffected, res.Error
}

func (r *CatalogRepository) UpsertTopUpPlans(ctx context.Context, plans []*model.TopUpPlan) (int64, error) {
	if len(plans) == 0 {
		return 0, nil
	}
	entities := make([]*TopUpPlanEntity, len(plans))
	for i, p := range plans {
		entities[i] = toTopUpPlanEntity(p)
	}

	res := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider_plan_id"}},
			DoUpdates: clause.AssignmentColumns(append([]string{"product_id"}, planUpsertColumns...)),
		}).
		Create(&entities)
	return res.RowsAffected, res.Error
}

// DeactivatePlansExcept hides every active plan the upstream no longer offers.
// An empty keep list is ignored so a blank upstream response never wipes the catalog.
func (r *CatalogRepository) DeactivatePlansExcept(ctx context.Context, keep []string) (int64, error) {
	if len(keep) == 0 {
		return 0, nil
	}
	res := r.Write(ctx).WithContext(ctx).
		Model(&PlanEntity{}).
		Where("is_active = ? AND provider_plan_id NOT IN ?", true, keep).
		Updates(map[string]any{"is_active": false, "updated_at": time.Now()})
	return res.RowsAffected, res.Error
}
