package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

type OrderType string

const (
	OrderTypeEsim  OrderType = "esim"
	OrderTypeTopUp OrderType = "topup"
)

const (
	OrderCodePrefixEsim  = "ESM"
	OrderCodePrefixTopUp = "ETUP"
)

func (t OrderType) CodePrefix() string {
	if t == OrderTypeTopUp {
		return OrderCodePrefixTopUp
	}
	return OrderCodePrefixEsim
}

type OrderStatus string

const (
	OrderProcessing OrderStatus = "PROCESSING"
	OrderCompleted  OrderStatus = "COMPLETED"
	OrderPartial    OrderStatus = "PARTIAL"
	OrderFailed     OrderStatus = "FAILED"
)

func (s OrderStatus) IsTerminal() bool {
	return s == OrderCompleted || s == OrderPartial || s == OrderFailed
}

type Order struct {
	ID            int64           `json:"id"`
	OrderCode     string          `json:"order_code"`
	Type          OrderType       `json:"type"`
	Status        OrderStatus     `json:"status"`
	Activated     bool            `json:"activated"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	TransactionID int64           `json:"transaction_id"`
	UserID        int64           `json:"user_id"`
	CountryID     *int64          `json:"country_id,omitempty"`
	Esims         []*Esim         `json:"esims,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// AppendError accumulates per-unit failure reasons.
func (o *Order) AppendError(reason string) {
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return
	}
	if o.ErrorMessage == "" {
		o.ErrorMessage = reason
		return
	}
	o.ErrorMessage += "; " + reason
}

// DeriveOrderStatus resolves the final status from s succeeded units out of t.
func DeriveOrderStatus(succeeded, total int) (OrderStatus, bool) {
	switch {
	case succeeded <= 0:
		return OrderFailed, false
	case succeeded >= total:
		return OrderCompleted, true
	default:
		return OrderPartial, true
	}
}

// OrderFilter controls List queries.
type OrderFilter struct {
	UserID   *int64
	Statuses []OrderStatus
	Type     *OrderType
	From     *time.Time
	To       *time.Time
	Limit    int // default 50
	Offset   int
	Desc     bool
}

// OrderSummary is what callers of fulfillment always receive.
type OrderSummary struct {
	OrderID      int64       `json:"order_id"`
	OrderCode    string      `json:"order_code"`
	Type         OrderType   `json:"type"`
	Status       OrderStatus `json:"status"`
	Activated    bool        `json:"activated"`
	TotalUnits   int         `json:"total_units"`
	Provisioned  int         `json:"provisioned"`
	Failed       int         `json:"failed"`
	ErrorMessage string      `json:"error_message,omitempty"`
	Esims        []*Esim     `json:"esims,omitempty"`
}

func SummarizeOrder(o *Order) *OrderSummary {
	if o == nil {
		return nil
	}
	s := &OrderSummary{
		OrderID:      o.ID,
		OrderCode:    o.OrderCode,
		Type:         o.Type,
		Status:       o.Status,
		Activated:    o.Activated,
		ErrorMessage: o.ErrorMessage,
		Esims:        o.Esims,
		TotalUnits:   len(o.Esims),
	}
	for _, e := range o.Esims {
		if e.IsProvisioned() {
			s.Provisioned++
		} else {
			s.Failed++
		}
	}
	return s
}
