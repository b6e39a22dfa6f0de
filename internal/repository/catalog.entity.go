package repository

import (
	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/pkg/pg"
	"github.com/shopspring/decimal"
)

type CountryEntity struct {
	pg.Model
	Code string `gorm:"column:code;size:8;not null;uniqueIndex"`
	Name string `gorm:"column:name;size:128;not null"`
}

func (CountryEntity) TableName() string {
	return "countries"
}

type PlanEntity struct {
	pg.Model
	ProviderPlanID string          `gorm:"column:provider_plan_id;size:128;not null;uniqueIndex"`
	CountryID      int64           `gorm:"column:country_id;not null;index"`
	Name           string          `gorm:"column:name;size:255;not null"`
	DataAmount     int64           `gorm:"column:data_amount;not null"`
	ValidityDays   int             `gorm:"column:validity_days;not null"`
	Price          decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	IsActive       bool            `gorm:"column:is_active;not null"`
	Country        *CountryEntity  `gorm:"foreignKey:CountryID"`
}

func (PlanEntity) TableName() string {
	return "plans"
}

type TopUpPlanEntity struct {
	pg.Model
	ProviderPlanID string          `gorm:"column:provider_plan_id;size:128;not null;uniqueIndex"`
	ProductID      string          `gorm:"column:product_id;size:128;not null"`
	CountryID      int64           `gorm:"column:country_id;not null;index"`
	Name           string          `gorm:"column:name;size:255;not null"`
	DataAmount     int64           `gorm:"column:data_amount;not null"`
	ValidityDays   int             `gorm:"column:validity_days;not null"`
	Price          decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	IsActive       bool            `gorm:"column:is_active;not null"`
}

func (TopUpPlanEntity) TableName() string {
	return "top_up_plans"
}

func toCountryModel(e *CountryEntity) *model.Country {
	if e == nil {
		return nil
	}
	return &model.Country{ID: e.ID, Code: e.Code, Name: e.Name}
}

func toPlanEntity(m *model.Plan) *PlanEntity {
	return &PlanEntity{
		Model:          pg.Model{ID: m.ID},
		ProviderPlanID: m.ProviderPlanID,
		CountryID:      m.CountryID,
		Name:           m.Name,
		DataAmount:     m.DataAmount,
		ValidityDays:   m.ValidityDays,
		Price:          m.Price,
		IsActive:       m.IsActive,
	}
}

func toPlanModel(e *PlanEntity) *model.Plan {
	if e == nil {
		return nil
	}
	return &model.Plan{
		ID:             e.ID,
		ProviderPlanID: e.ProviderPlanID,
		CountryID:      e.CountryID,
		Name:           e.Name,
		DataAmount:     e.DataAmount,
		ValidityDays:   e.ValidityDays,
		Price:          e.Price,
		IsActive:       e.IsActive,
		Country:        toCountryModel(e.Country),
		UpdatedAt:      e.UpdatedAt,
	}
}

func toTopUpPlanEntity(m *model.TopUpPlan) *TopUpPlanEntity {
	return &TopUpPlanEntity{
		Model:          pg.Model{ID: m.ID},
		ProviderPlanID: m.ProviderPlanID,
		ProductID:      m.ProductID,
		CountryID:      m.CountryID,
		Name:           m.Name,
		DataAmount:     m.DataAmount,
		ValidityDays:   m.ValidityDays,
		Price:          m.Price,
		IsActive:       m.IsActive,
	}
}

func toTopUpPlanModel(e *TopUpPlanEntity) *model.TopUpPlan {
	if e == nil {
		return nil
	}
	return &model.TopUpPlan{
		ID:             e.ID,
		ProviderPlanID: e.ProviderPlanID,
		ProductID:      e.ProductID,
		CountryID:      e.CountryID,
		Name:           e.Name,
		DataAmount:     e.DataAmount,
		ValidityDays:   e.ValidityDays,
		Price:          e.Price,
		IsActive:       e.IsActive,
	}
}
