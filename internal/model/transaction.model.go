package model

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

type TransactionStatus string

const (
	TransactionPending TransactionStatus = "PENDING"
	TransactionSuccess TransactionStatus = "SUCCESS"
	TransactionFailed  TransactionStatus = "FAILED"
)

func (s TransactionStatus) IsTerminal() bool {
	return s == TransactionSuccess || s == TransactionFailed
}

type PaymentMethod string

const (
	PaymentCard PaymentMethod = "card"
	PaymentCash PaymentMethod = "cash"
)

var ErrUnknownPaymentMethod = errors.New("payment method must be card or cash")

func ParsePaymentMethod(s string) (PaymentMethod, error) {
	switch PaymentMethod(s) {
	case PaymentCard, PaymentCash:
		return PaymentMethod(s), nil
	}
	return "", ErrUnknownPaymentMethod
}

// Transaction is one payment attempt. It links either a Cart or an Esim+TopUpPlan pair.
type Transaction struct {
	ID          int64             `json:"id"`
	ExternalRef string            `json:"external_ref"`
	Method      PaymentMethod     `json:"method"`
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency"`
	Status      TransactionStatus `json:"status"`
	RawResponse json.RawMessage   `json:"-"`
	UserID      int64             `json:"user_id"`
	CartID      *int64            `json:"cart_id,omitempty"`
	EsimID      *int64            `json:"esim_id,omitempty"`
	TopUpPlanID *int64            `json:"top_up_plan_id,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (t *Transaction) IsTopUp() bool {
	return t.EsimID != nil && t.TopUpPlanID != nil
}
