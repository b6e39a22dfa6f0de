package provider

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrProviderAuth is returned when the upstream login itself fails.
	ErrProviderAuth = errors.New("provider login failed")
	// ErrUnauthorized is returned when a call is rejected again after a token refresh.
	ErrUnauthorized = errors.New("provider rejected refreshed token")
	// ErrProviderRequest wraps every non-success upstream response.
	ErrProviderRequest = errors.New("provider request failed")
	ErrCircuitOpen     = errors.New("provider circuit is open")
	ErrTopUpRejected   = errors.New("provider rejected top-up")
	ErrEmptyPurchase   = errors.New("provider purchase returned no iccid")
)

// RequestError carries the upstream status and body of a failed call.
type RequestError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s returned %d: %s", ErrProviderRequest, e.Endpoint, e.StatusCode, e.Body)
}

func (e *RequestError) Unwrap() error {
	return ErrProviderRequest
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	Token     string     `json:"token"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	ExpiresIn int64      `json:"expires_in,omitempty"`
}

type reserveResponse struct {
	ReserveID string `json:"reserve_id"`
}

// PurchaseResponse is the upstream view of one bought SIM.
type PurchaseResponse struct {
	ID           string          `json:"id"`
	ICCID        string          `json:"iccid"`
	QRCodeURL    string          `json:"qr_code_url"`
	ProductName  string          `json:"product_name"`
	DataAmount   int64           `json:"data_amount"`
	ValidityDays int             `json:"validity_days"`
	Price        decimal.Decimal `json:"price"`
	Status       string          `json:"status"`
}

type TopUpResponse struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

func (r TopUpResponse) Succeeded() bool {
	return r.Status == "success" || r.Status == "SUCCESS" || r.Status == "completed"
}

// CatalogPlan is one plan as listed by the upstream catalog.
type CatalogPlan struct {
	ID           string          `json:"id"`
	CountryCode  string          `json:"country_code"`
	CountryName  string          `json:"country_name"`
	Name         string          `json:"name"`
	DataAmount   int64           `json:"data_amount"`
	ValidityDays int             `json:"validity_days"`
	Price        decimal.Decimal `json:"price"`
}

type CatalogTopUpPlan struct {
	ID           string          `json:"id"`
	ProductID    string          `json:"product_id"`
	CountryCode  string          `json:"country_code"`
	CountryName  string          `json:"country_name"`
	Name         string          `json:"name"`
	DataAmount   int64           `json:"data_amount"`
	ValidityDays int             `json:"validity_days"`
	Price        decimal.Decimal `json:"price"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}
