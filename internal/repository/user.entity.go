package repository

import (
	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/pkg/pg"
)

type UserEntity struct {
	pg.Model
	Email string `gorm:"column:email;size:255;not null;uniqueIndex"`
	Name  string `gorm:"column:name;size:255"`
	Role  string `gorm:"column:role;size:16;not null"`
}

func (UserEntity) TableName() string {
	return "users"
}

func toUserModel(e *UserEntity) *model.User {
	return &model.User{ID: e.ID, Email: e.Email, Name: e.Name, Role: e.Role}
}
