package repository

import (
	"context"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/pkg/pg"
)

// UserRepository is the read side of accounts managed by the admin surface.
type UserRepository struct {
	*pg.DB
}

func NewUserRepository(db *pg.DB) *UserRepository {
	return &UserRepository{
		db,
	}
}

func (r *UserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	var entity UserEntity
	if err := r.Read(ctx).WithContext(ctx).First(&entity, id).Error; err != nil {
		return nil, notFound(err)
	}
	return toUserModel(&entity), nil
}

func (r *UserRepository) Create(ctx context.Context, u *model.User) (*model.User, error) {
	entity := &UserEntity{Email: u.Email, Name: u.Name, Role: u.Role}
	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toUserModel(entity), nil
}
