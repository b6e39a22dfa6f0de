package model

import "time"

// ProviderToken is the single stored bearer credential per upstream provider.
type ProviderToken struct {
	ID        int64     `json:"id"`
	Provider  string    `json:"provider"`
	Token     string    `json:"-"`
	ExpiresAt time.Time `json:"expires_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (t *ProviderToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}
