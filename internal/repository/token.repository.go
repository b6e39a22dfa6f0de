package repository

import (
	"context"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/pkg/pg"
	"gorm.io/gorm/clause"
)

type TokenRepository struct {
	*pg.DB
}

func NewTokenRepository(db *pg.DB) *TokenRepository {
	return &TokenRepository{
		db,
	}
}

func (r *TokenRepository) GetByProvider(ctx context.Context, provider string) (*model.ProviderToken, error) {
	var entity ProviderTokenEntity
	err := r.Read(ctx).WithContext(ctx).Where("provider = ?", provider).First(&entity).Error
	if err != nil {
		if pg.IsNotFound(err) {
			return nil, ErrTokenNotFound
		}
		return nil, err
	}
	return toProviderTokenModel(&entity), nil
}

// Save overwrites the provider's token in place. Concurrent saves are last-write-wins.
func (r *TokenRepository) Save(ctx context.Context, provider, token string, expiresAt time.Time) (*model.ProviderToken, error) {
	entity := &ProviderTokenEntity{
		Provider:  provider,
		Token:     token,
		ExpiresAt: expiresAt.UTC(),
	}
	err := r.Write(ctx).WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "provider"}},
			DoUpdates: clause.AssignmentColumns([]string{"token", "expires_at", "updated_at"}),
		}).
		Create(entity).Error
	if err != nil {
		return nil, err
	}
	return r.GetByProvider(ctx, provider)
}
