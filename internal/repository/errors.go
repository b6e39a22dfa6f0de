package repository

import (
	"errors"

	"github.com/nimasrn/esim-gateway/pkg/pg"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")
	// ErrOrderExists is returned when an order already references the transaction.
	ErrOrderExists = errors.New("order already exists for transaction")
	// ErrTokenNotFound is returned when no credential is stored for a provider.
	ErrTokenNotFound = errors.New("provider token not found")
)

func notFound(err error) error {
	if pg.IsNotFound(err) {
		return ErrNotFound
	}
	return err
}
