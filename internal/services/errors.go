package services

import (
	"errors"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrNotFound                = errors.New("not found")
	ErrInvalidTransactionState = errors.New("transaction is not in a fulfillable state")
	ErrNoValidCart             = errors.New("no valid cart for this transaction")
	ErrEmptyCart               = errors.New("cart has no items")
	ErrEsimNotFound            = errors.New("esim not found")
	ErrPlanNotFound            = errors.New("plan not found")
	ErrTopUpPlanNotFound       = errors.New("top-up plan not found")
	ErrCartItemNotFound        = errors.New("cart item not found")
	ErrInvalidPaymentMethod    = errors.New("payment method must be card or cash")
	ErrPaymentInFlight         = errors.New("payment is being settled by another worker")
)

type validationError struct {
	msg string
}

func (e *validationError) Error() string {
	return e.msg
}

func (e *validationError) Unwrap() error {
	return ErrValidation
}

// invalid wraps err so that errors.Is(err, ErrValidation) holds while keeping its message.
func invalid(err error) error {
	if err == nil {
		return nil
	}
	return &validationError{msg: err.Error()}
}
