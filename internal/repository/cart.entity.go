package repository

import (
	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/pkg/pg"
)

type CartEntity struct {
	pg.Model
	UserID       int64             `gorm:"column:user_id;not null;index"`
	IsCheckedOut bool              `gorm:"column:is_checked_out;not null;default:false"`
	IsDeleted    bool              `gorm:"column:is_deleted;not null;default:false"`
	IsError      bool              `gorm:"column:is_error;not null;default:false"`
	Items        []*CartItemEntity `gorm:"foreignKey:CartID"`
}

func (CartEntity) TableName() string {
	return "carts"
}

type CartItemEntity struct {
	pg.Model
	CartID    int64       `gorm:"column:cart_id;not null;index"`
	PlanID    int64       `gorm:"column:plan_id;not null"`
	Quantity  int         `gorm:"column:quantity;not null"`
	IsDeleted bool        `gorm:"column:is_deleted;not null;default:false"`
	Plan      *PlanEntity `gorm:"foreignKey:PlanID"`
}

func (CartItemEntity) TableName() string {
	return "cart_items"
}

func toCartModel(e *CartEntity) *model.Cart {
	if e == nil {
		return nil
	}
	c := &model.Cart{
		ID:           e.ID,
		UserID:       e.UserID,
		IsCheckedOut: e.IsCheckedOut,
		IsDeleted:    e.IsDeleted,
		IsError:      e.IsError,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
	for _, it := range e.Items {
		c.Items = append(c.Items, toCartItemModel(it))
	}
	return c
}

func toCartItemModel(e *CartItemEntity) *model.CartItem {
	if e == nil {
		return nil
	}
	return &model.CartItem{
		ID:        e.ID,
		CartID:    e.CartID,
		PlanID:    e.PlanID,
		Quantity:  e.Quantity,
		IsDeleted: e.IsDeleted,
		Plan:      toPlanModel(e.Plan),
	}
}
