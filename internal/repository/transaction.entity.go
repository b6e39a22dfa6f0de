package repository

import (
	"encoding/json"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/pkg/pg"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type TransactionEntity struct {
	pg.Model
	ExternalRef string          `gorm:"column:external_ref;size:255;not null;uniqueIndex"`
	Method      string          `gorm:"column:method;size:16;not null"`
	Amount      decimal.Decimal `gorm:"column:amount;type:numeric(12,2);not null"`
	Currency    string          `gorm:"column:currency;size:8;not null"`
	Status      string          `gorm:"column:status;size:16;not null;index"`
	RawResponse datatypes.JSON  `gorm:"column:raw_response"`
	UserID      int64           `gorm:"column:user_id;not null;index"`
	CartID      *int64          `gorm:"column:cart_id;index"`
	EsimID      *int64          `gorm:"column:esim_id;index"`
	TopUpPlanID *int64          `gorm:"column:top_up_plan_id"`
}

func (TransactionEntity) TableName() string {
	return "transactions"
}

func toTransactionEntity(m *model.Transaction) *TransactionEntity {
	if m == nil {
		return nil
	}
	return &TransactionEntity{
		Model:       pg.Model{ID: m.ID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		ExternalRef: m.ExternalRef,
		Method:      string(m.Method),
		Amount:      m.Amount,
		Currency:    m.Currency,
		Status:      string(m.Status),
		RawResponse: datatypes.JSON(m.RawResponse),
		UserID:      m.UserID,
		CartID:      m.CartID,
		EsimID:      m.EsimID,
		TopUpPlanID: m.TopUpPlanID,
	}
}

func toTransactionModel(e *TransactionEntity) *model.Transaction {
	if e == nil {
		return nil
	}
	return &model.Transaction{
		ID:          e.ID,
		ExternalRef: e.ExternalRef,
		Method:      model.PaymentMethod(e.Method),
		Amount:      e.Amount,
		Currency:    e.Currency,
		Status:      model.TransactionStatus(e.Status),
		RawResponse: json.RawMessage(e.RawResponse),
		UserID:      e.UserID,
		CartID:      e.CartID,
		EsimID:      e.EsimID,
		TopUpPlanID: e.TopUpPlanID,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

func toTransactionModels(entities []*TransactionEntity) []*model.Transaction {
	if entities == nil {
		return nil
	}
	models := make([]*model.Transaction, len(entities))
	for i, e := range entities {
		models[i] = toTransactionModel(e)
	}
	return models
}
