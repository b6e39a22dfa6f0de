package repository

import (
	"context"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type EsimRepository struct {
	*pg.DB
}

func NewEsimRepository(db *pg.DB) *EsimRepository {
	return &EsimRepository{
		db,
	}
}

// Create stores a provisioned or placeholder eSIM together with its plan links.
func (r *EsimRepository) Create(ctx context.Context, esim *model.Esim) (*model.Esim, error) {
	entity := toEsimEntity(esim)
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := r.Write(ctx).Create(entity).Error; err != nil {
			return err
		}
		if len(esim.PlanIDs) == 0 {
			return nil
		}
		links := make([]*EsimPlanEntity, len(esim.PlanIDs))
		for i, planID := range esim.PlanIDs {
			links[i] = &EsimPlanEntity{EsimID: entity.ID, PlanID: planID}
		}
		return r.Write(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&links).Error
	})
	if err != nil {
		return nil, err
	}

	created := toEsimModel(entity)
	created.PlanIDs = append([]int64(nil), esim.PlanIDs...)
	return created, nil
}

func (r *EsimRepository) GetByID(ctx context.Context, id int64) (*model.Esim, error) {
	var entity EsimEntity
	if err := r.Read(ctx).WithContext(ctx).First(&entity, id).Error; err != nil {
		return nil, notFound(err)
	}
	e := toEsimModel(&entity)
	if err := attachPlanIDs(r.Read(ctx).WithContext(ctx), []*model.Esim{e}); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *EsimRepository) ListByOrder(ctx context.Context, orderID int64) ([]*model.Esim, error) {
	var entities []*EsimEntity
	if err := r.Read(ctx).WithContext(ctx).Where("order_id = ?", orderID).Order("id ASC").Find(&entities).Error; err != nil {
		return nil, err
	}
	esims := make([]*model.Esim, len(entities))
	for i, e := range entities {
		esims[i] = toEsimModel(e)
	}
	if err := attachPlanIDs(r.Read(ctx).WithContext(ctx), esims); err != nil {
		return nil, err
	}
	return esims, nil
}

func (r *EsimRepository) CountByOrder(ctx context.Context, orderID int64) (total int64, provisioned int64, err error) {
	q := r.Read(ctx).WithContext(ctx).Model(&EsimEntity{}).Where("order_id = ?", orderID)
	if err = q.Count(&total).Error; err != nil {
		return 0, 0, err
	}
	err = r.Read(ctx).WithContext(ctx).Model(&EsimEntity{}).
		Where("order_id = ? AND iccid IS NOT NULL", orderID).
		Count(&provisioned).Error
	return total, provisioned, err
}

// ApplyTopUp adds the granted data and raises validity to the larger of current and granted.
// Validity never shrinks; the end date follows the resulting validity.
func (r *EsimRepository) ApplyTopUp(ctx context.Context, esimID int64, grant model.TopUpGrant, now time.Time) (*model.Esim, error) {
	var updated *model.Esim
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		var entity EsimEntity
		err := r.Write(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&entity, esimID).Error
		if err != nil {
			return notFound(err)
		}

		entity.DataAmount += grant.DataAmount
		entity.ValidityDays = max(entity.ValidityDays, grant.ValidityDays)
		start := now.UTC()
		if entity.StartDate != nil {
			start = *entity.StartDate
		}
		end := start.AddDate(0, 0, entity.ValidityDays)
		entity.StartDate = &start
		entity.EndDate = &end

		err = r.Write(ctx).Model(&EsimEntity{}).
			Where("id = ?", entity.ID).
			Updates(map[string]any{
				"data_amount":   entity.DataAmount,
				"validity_days": entity.ValidityDays,
				"start_date":    entity.StartDate,
				"end_date":      entity.EndDate,
				"updated_at":    time.Now(),
			}).Error
		if err != nil {
			return err
		}
		updated = toEsimModel(&entity)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return updated, nil
}

func (r *EsimRepository) CreateTopUp(ctx context.Context, topUp *model.EsimTopUp) (*model.EsimTopUp, error) {
	entity := &EsimTopUpEntity{
		EsimID:       topUp.EsimID,
		TopUpPlanID:  topUp.TopUpPlanID,
		OrderID:      topUp.OrderID,
		Status:       string(topUp.Status),
		ErrorMessage: topUp.ErrorMessage,
	}
	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toEsimTopUpModel(entity), nil
}

func (r *EsimRepository) ListTopUps(ctx context.Context, esimID int64) ([]*model.EsimTopUp, error) {
	var entities []*EsimTopUpEntity
	if err := r.Read(ctx).WithContext(ctx).Where("esim_id = ?", esimID).Order("id ASC").Find(&entities).Error; err != nil {
		return nil, err
	}
	topUps := make([]*model.EsimTopUp, len(entities))
	for i, e := range entities {
		topUps[i] = toEsimTopUpModel(e)
	}
	return topUps, nil
}

func attachPlanIDs(q *gorm.DB, esims []*model.Esim) error {
	if len(esims) == 0 {
		return nil
	}
	ids := make([]int64, len(esims))
	byID := make(map[int64]*model.Esim, len(esims))
	for i, e := range esims {
		ids[i] = e.ID
		byID[e.ID] = e
	}

	var links []*EsimPlanEntity
	if err := q.Where("esim_id IN ?", ids).Order("plan_id ASC").Find(&links).Error; err != nil {
		return err
	}
	for _, l := range links {
		if e, ok := byID[l.EsimID]; ok {
			e.PlanIDs = append(e.PlanIDs, l.PlanID)
		}
	}
	return nil
}
