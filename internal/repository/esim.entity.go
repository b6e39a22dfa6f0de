package repository

import (
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/pkg/pg"
	"github.com/shopspring/decimal"
)

type EsimEntity struct {
	pg.Model
	ExternalID   *string         `gorm:"column:external_id;size:128"`
	ICCID        *string         `gorm:"column:iccid;size:32;index"`
	QRCodeURL    *string         `gorm:"column:qr_code_url;type:text"`
	ProductName  string          `gorm:"column:product_name;size:255;not null"`
	Price        decimal.Decimal `gorm:"column:price;type:numeric(12,2);not null"`
	ValidityDays int             `gorm:"column:validity_days;not null"`
	DataAmount   int64           `gorm:"column:data_amount;not null"`
	StartDate    *time.Time      `gorm:"column:start_date"`
	EndDate      *time.Time      `gorm:"column:end_date"`
	IsActive     bool            `gorm:"column:is_active;not null"`
	OrderID      int64           `gorm:"column:order_id;not null;index"`
	CartItemID   *int64          `gorm:"column:cart_item_id;index"`
	UserID       int64           `gorm:"column:user_id;not null;index"`
	CountryID    *int64          `gorm:"column:country_id"`
}

func (EsimEntity) TableName() string {
	return "esims"
}

// EsimPlanEntity links an eSIM to the plans it was bought with.
type EsimPlanEntity struct {
	EsimID int64 `gorm:"column:esim_id;primaryKey"`
	PlanID int64 `gorm:"column:plan_id;primaryKey"`
}

func (EsimPlanEntity) TableName() string {
	return "esim_plans"
}

type EsimTopUpEntity struct {
	pg.Model
	EsimID       int64  `gorm:"column:esim_id;not null;index"`
	TopUpPlanID  int64  `gorm:"column:top_up_plan_id;not null"`
	OrderID      int64  `gorm:"column:order_id;not null;index"`
	Status       string `gorm:"column:status;size:16;not null"`
	ErrorMessage string `gorm:"column:error_message;type:text"`
}

func (EsimTopUpEntity) TableName() string {
	return "esim_top_ups"
}

func toEsimEntity(m *model.Esim) *EsimEntity {
	return &EsimEntity{
		Model:        pg.Model{ID: m.ID, CreatedAt: m.CreatedAt},
		ExternalID:   m.ExternalID,
		ICCID:        m.ICCID,
		QRCodeURL:    m.QRCodeURL,
		ProductName:  m.ProductName,
		Price:        m.Price,
		ValidityDays: m.ValidityDays,
		DataAmount:   m.DataAmount,
		StartDate:    m.StartDate,
		EndDate:      m.EndDate,
		IsActive:     m.IsActive,
		OrderID:      m.OrderID,
		CartItemID:   m.CartItemID,
		UserID:       m.UserID,
		CountryID:    m.CountryID,
	}
}

func toEsimModel(e *EsimEntity) *model.Esim {
	if e == nil {
		return nil
	}
	return &model.Esim{
		ID:           e.ID,
		ExternalID:   e.ExternalID,
		ICCID:        e.ICCID,
		QRCodeURL:    e.QRCodeURL,
		ProductName:  e.ProductName,
		Price:        e.Price,
		ValidityDays: e.ValidityDays,
		DataAmount:   e.DataAmount,
		StartDate:    e.StartDate,
		EndDate:      e.EndDate,
		IsActive:     e.IsActive,
		OrderID:      e.OrderID,
		CartItemID:   e.CartItemID,
		UserID:       e.UserID,
		CountryID:    e.CountryID,
		CreatedAt:    e.CreatedAt,
	}
}

func toEsimTopUpModel(e *EsimTopUpEntity) *model.EsimTopUp {
	return &model.EsimTopUp{
		ID:           e.ID,
		EsimID:       e.EsimID,
		TopUpPlanID:  e.TopUpPlanID,
		OrderID:      e.OrderID,
		Status:       model.TopUpStatus(e.Status),
		ErrorMessage: e.ErrorMessage,
		CreatedAt:    e.CreatedAt,
	}
}
