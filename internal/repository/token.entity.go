package repository

import (
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/pkg/pg"
)

type ProviderTokenEntity struct {
	pg.Model
	Provider  string    `gorm:"column:provider;size:64;not null;uniqueIndex"`
	Token     string    `gorm:"column:token;type:text;not null"`
	ExpiresAt time.Time `gorm:"column:expires_at;not null"`
}

func (ProviderTokenEntity) TableName() string {
	return "provider_tokens"
}

func toProviderTokenModel(e *ProviderTokenEntity) *model.ProviderToken {
	return &model.ProviderToken{
		ID:        e.ID,
		Provider:  e.Provider,
		Token:     e.Token,
		ExpiresAt: e.ExpiresAt,
		UpdatedAt: e.UpdatedAt,
	}
}
