package services

import (
	"context"
	"errors"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/internal/repository"
)

type OrderService struct {
	orders OrderRepository
}

func NewOrderService(orders OrderRepository) *OrderService {
	return &OrderService{orders: orders}
}

// GetByCode returns an order to its owner or to an admin. Anyone else gets ErrNotFound.
func (s *OrderService) GetByCode(ctx context.Context, code string, userID int64, isAdmin bool) (*model.Order, error) {
	order, err := s.orders.GetByCode(ctx, code)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !isAdmin && order.UserID != userID {
		return nil, ErrNotFound
	}
	return order, nil
}

func (s *OrderService) List(ctx context.Context, f model.OrderFilter) ([]*model.Order, int64, error) {
	return s.orders.List(ctx, f)
}
