package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Country struct {
	ID   int64  `json:"id"`
	Code string `json:"code"`
	Name string `json:"name"`
}

// Plan is a purchasable eSIM product. DataAmount is in megabytes.
type Plan struct {
	ID             int64           `json:"id"`
	ProviderPlanID string          `json:"provider_plan_id"`
	CountryID      int64           `json:"country_id"`
	Name           string          `json:"name"`
	DataAmount     int64           `json:"data_amount"`
	ValidityDays   int             `json:"validity_days"`
	Price          decimal.Decimal `json:"price"`
	IsActive       bool            `json:"is_active"`
	Country        *Country        `json:"country,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

type TopUpPlan struct {
	ID             int64           `json:"id"`
	ProviderPlanID string          `json:"provider_plan_id"`
	ProductID      string          `json:"product_id"`
	CountryID      int64           `json:"country_id"`
	Name           string          `json:"name"`
	DataAmount     int64           `json:"data_amount"`
	ValidityDays   int             `json:"validity_days"`
	Price          decimal.Decimal `json:"price"`
	IsActive       bool            `json:"is_active"`
}

type PlanFilter struct {
	CountryID  *int64
	ActiveOnly bool
	Limit      int
	Offset     int
}

// SyncReport summarizes one catalog synchronization run.
type SyncReport struct {
	Countries        int           `json:"countries"`
	Plans            int           `json:"plans"`
	TopUpPlans       int           `json:"top_up_plans"`
	DeactivatedPlans int64         `json:"deactivated_plans"`
	Skipped          int           `json:"skipped"`
	Duration         time.Duration `json:"duration"`
}
