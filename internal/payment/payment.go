package payment

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidAmount    = errors.New("payment amount must be positive")
)

type IntentStatus string

const (
	IntentPending   IntentStatus = "pending"
	IntentSucceeded IntentStatus = "succeeded"
	IntentFailed    IntentStatus = "failed"
)

// Intent is a payment the customer still has to confirm on the client side.
type Intent struct {
	Ref            string
	ClientSecret   string
	Status         IntentStatus
	Amount         decimal.Decimal
	Currency       string
	FailureMessage string
	Raw            json.RawMessage
}

type EventKind string

const (
	EventPaymentSucceeded EventKind = "payment_succeeded"
	EventPaymentFailed    EventKind = "payment_failed"
	EventIgnored          EventKind = "ignored"
)

// WebhookEvent is a verified gateway notification reduced to what settlement needs.
type WebhookEvent struct {
	ID             string
	Type           string
	Kind           EventKind
	PaymentRef     string
	FailureMessage string
	Raw            json.RawMessage
}

type Gateway interface {
	CreateIntent(ctx context.Context, amount decimal.Decimal, currency string, metadata map[string]string) (*Intent, error)
	GetIntent(ctx context.Context, ref string) (*Intent, error)
	ParseWebhook(payload []byte, signatureHeader string) (*WebhookEvent, error)
}

// NewCashRef returns the external reference of a cash-on-delivery payment.
func NewCashRef() string {
	return "cod_" + uuid.NewString()
}

var zeroDecimalCurrencies = map[string]bool{
	"bif": true, "clp": true, "djf": true, "gnf": true, "jpy": true, "kmf": true,
	"krw": true, "mga": true, "pyg": true, "rwf": true, "ugx": true, "vnd": true,
	"vuv": true, "xaf": true, "xof": true, "xpf": true,
}

// ToMinorUnits converts a decimal amount into the integer unit the gateway charges in,
// rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal, currency string) (int64, error) {
	if !amount.IsPositive() {
		return 0, ErrInvalidAmount
	}
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return amount.Round(0).IntPart(), nil
	}
	return amount.Shift(2).Round(0).IntPart(), nil
}

// FromMinorUnits is the inverse of ToMinorUnits.
func FromMinorUnits(units int64, currency string) decimal.Decimal {
	if zeroDecimalCurrencies[strings.ToLower(currency)] {
		return decimal.NewFromInt(units)
	}
	return decimal.New(units, -2)
}
