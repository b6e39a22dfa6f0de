package model

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

const MaxItemQuantity = 10

// Cart is the pre-checkout bag of a user. At most one cart per user is active.
type Cart struct {
	ID           int64       `json:"id"`
	UserID       int64       `json:"user_id"`
	IsCheckedOut bool        `json:"is_checked_out"`
	IsDeleted    bool        `json:"is_deleted"`
	IsError      bool        `json:"is_error"`
	Items        []*CartItem `json:"items"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Eligible reports whether the cart may still be checked out or fulfilled.
func (c *Cart) Eligible() bool {
	return !c.IsCheckedOut && !c.IsDeleted && !c.IsError
}

func (c *Cart) ActiveItems() []*CartItem {
	items := make([]*CartItem, 0, len(c.Items))
	for _, it := range c.Items {
		if !it.IsDeleted && it.Quantity > 0 {
			items = append(items, it)
		}
	}
	return items
}

func (c *Cart) UnitCount() int {
	n := 0
	for _, it := range c.ActiveItems() {
		n += it.Quantity
	}
	return n
}

// Total is the chargeable amount: plan price times quantity over non-deleted lines.
func (c *Cart) Total() decimal.Decimal {
	total := decimal.Zero
	for _, it := range c.ActiveItems() {
		if it.Plan == nil {
			continue
		}
		total = total.Add(it.Plan.Price.Mul(decimal.NewFromInt(int64(it.Quantity))))
	}
	return total
}

type CartItem struct {
	ID        int64 `json:"id"`
	CartID    int64 `json:"cart_id"`
	PlanID    int64 `json:"plan_id"`
	Quantity  int   `json:"quantity"`
	IsDeleted bool  `json:"-"`
	Plan      *Plan `json:"plan,omitempty"`
}

type AddCartItemRequest struct {
	PlanID   int64 `json:"plan_id"`
	Quantity int   `json:"quantity"`
}

func (r AddCartItemRequest) Validate() error {
	if r.PlanID <= 0 {
		return errors.New("plan_id is required")
	}
	return validateQuantity(r.Quantity)
}

type UpdateCartItemRequest struct {
	Quantity int `json:"quantity"`
}

func (r UpdateCartItemRequest) Validate() error {
	return validateQuantity(r.Quantity)
}

func validateQuantity(q int) error {
	if q < 1 || q > MaxItemQuantity {
		return errors.New("quantity must be between 1 and 10")
	}
	return nil
}

// CartQuote is what the user will be charged at checkout.
type CartQuote struct {
	CartID   int64           `json:"cart_id"`
	Units    int             `json:"units"`
	Amount   decimal.Decimal `json:"amount"`
	Currency string          `json:"currency"`
}
