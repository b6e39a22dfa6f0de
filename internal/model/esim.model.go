package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Esim is one provisioned or failed unit. Failed units keep ExternalID, ICCID
// and QRCodeURL nil so order lines always reconcile with cart quantity.
type Esim struct {
	ID           int64           `json:"id"`
	ExternalID   *string         `json:"external_id"`
	ICCID        *string         `json:"iccid"`
	QRCodeURL    *string         `json:"qr_code_url"`
	ProductName  string          `json:"product_name"`
	Price        decimal.Decimal `json:"price"`
	ValidityDays int             `json:"validity_days"`
	DataAmount   int64           `json:"data_amount"`
	StartDate    *time.Time      `json:"start_date"`
	EndDate      *time.Time      `json:"end_date"`
	IsActive     bool            `json:"is_active"`
	OrderID      int64           `json:"order_id"`
	CartItemID   *int64          `json:"cart_item_id,omitempty"`
	UserID       int64           `json:"user_id"`
	CountryID    *int64          `json:"country_id,omitempty"`
	PlanIDs      []int64         `json:"plan_ids,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
}

func (e *Esim) IsProvisioned() bool {
	return e.ICCID != nil && *e.ICCID != ""
}

type TopUpStatus string

const (
	TopUpSucceeded TopUpStatus = "SUCCESS"
	TopUpFailed    TopUpStatus = "FAILED"
)

// EsimTopUp records one applied or attempted top-up.
type EsimTopUp struct {
	ID           int64       `json:"id"`
	EsimID       int64       `json:"esim_id"`
	TopUpPlanID  int64       `json:"top_up_plan_id"`
	OrderID      int64       `json:"order_id"`
	Status       TopUpStatus `json:"status"`
	ErrorMessage string      `json:"error_message,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
}

// TopUpGrant is what a successful top-up adds to an eSIM.
type TopUpGrant struct {
	DataAmount   int64
	ValidityDays int
}
