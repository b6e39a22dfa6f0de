package repository

import (
	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/pkg/pg"
	"github.com/shopspring/decimal"
)

type OrderEntity struct {
	pg.Model
	OrderCode     string          `gorm:"column:order_code;size:32;not null;uniqueIndex"`
	Type          string          `gorm:"column:type;size:16;not null"`
	Status        string          `gorm:"column:status;size:16;not null;index"`
	Activated     bool            `gorm:"column:activated;not null"`
	TotalAmount   decimal.Decimal `gorm:"column:total_amount;type:numeric(12,2);not null"`
	ErrorMessage  string          `gorm:"column:error_message;type:text"`
	TransactionID int64           `gorm:"column:transaction_id;not null;uniqueIndex"`
	UserID        int64           `gorm:"column:user_id;not null;index"`
	CountryID     *int64          `gorm:"column:country_id"`
	Esims         []*EsimEntity   `gorm:"foreignKey:OrderID"`
}

func (OrderEntity) TableName() string {
	return "orders"
}

func toOrderEntity(m *model.Order) *OrderEntity {
	if m == nil {
		return nil
	}
	return &OrderEntity{
		Model:         pg.Model{ID: m.ID, CreatedAt: m.CreatedAt, UpdatedAt: m.UpdatedAt},
		OrderCode:     m.OrderCode,
		Type:          string(m.Type),
		Status:        string(m.Status),
		Activated:     m.Activated,
		TotalAmount:   m.TotalAmount,
		ErrorMessage:  m.ErrorMessage,
		TransactionID: m.TransactionID,
		UserID:        m.UserID,
		CountryID:     m.CountryID,
	}
}

func toOrderModel(e *OrderEntity) *model.Order {
	if e == nil {
		return nil
	}
	o := &model.Order{
		ID:            e.ID,
		OrderCode:     e.OrderCode,
		Type:          model.OrderType(e.Type),
		Status:        model.OrderStatus(e.Status),
		Activated:     e.Activated,
		TotalAmount:   e.TotalAmount,
		ErrorMessage:  e.ErrorMessage,
		TransactionID: e.TransactionID,
		UserID:        e.UserID,
		CountryID:     e.CountryID,
		CreatedAt:     e.CreatedAt,
		UpdatedAt:     e.UpdatedAt,
	}
	for _, es := range e.Esims {
		o.Esims = append(o.Esims, toEsimModel(es))
	}
	return o
}

func toOrderModels(entities []*OrderEntity) []*model.Order {
	if entities == nil {
		return nil
	}
	models := make([]*model.Order, len(entities))
	for i, e := range entities {
		models[i] = toOrderModel(e)
	}
	return models
}
