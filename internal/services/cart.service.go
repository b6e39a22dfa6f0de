package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/internal/repository"
)

type CartService struct {
	db       Transactor
	carts    CartRepository
	catalog  CatalogRepository
	currency string
}

func NewCartService(db Transactor, carts CartRepository, catalog CatalogRepository, currency string) *CartService {
	return &CartService{db: db, carts: carts, catalog: catalog, currency: currency}
}

// Get returns the user's active cart, opening an empty one if needed.
func (s *CartService) Get(ctx context.Context, userID int64) (*model.Cart, error) {
	return s.carts.GetOrCreateActive(ctx, userID)
}

// AddItem puts a plan in the active cart. A plan already in the cart has its quantity increased.
func (s *CartService) AddItem(ctx context.Context, userID int64, req model.AddCartItemRequest) (*model.Cart, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}

	plan, err := s.catalog.GetPlan(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrPlanNotFound
		}
		return nil, err
	}
	if !plan.IsActive {
		return nil, ErrPlanNotFound
	}

	var cartID int64
	err = s.db.WithinTransaction(ctx, func(ctx context.Context) error {
		cart, err := s.carts.GetOrCreateActive(ctx, userID)
		if err != nil {
			return err
		}
		cartID = cart.ID

		existing, err := s.carts.FindItemByPlan(ctx, cart.ID, plan.ID)
		switch {
		case err == nil:
			quantity := existing.Quantity + req.Quantity
			if quantity > model.MaxItemQuantity {
				return invalid(fmt.Errorf("quantity must be between 1 and %d", model.MaxItemQuantity))
			}
			return s.carts.UpdateItemQuantity(ctx, cart.ID, existing.ID, quantity)
		case errors.Is(err, repository.ErrNotFound):
			_, err := s.carts.CreateItem(ctx, &model.CartItem{CartID: cart.ID, PlanID: plan.ID, Quantity: req.Quantity})
			return err
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return s.carts.GetByID(ctx, cartID)
}

func (s *CartService) UpdateItem(ctx context.Context, userID, itemID int64, req model.UpdateCartItemRequest) (*model.Cart, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	cart, err := s.active(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.carts.UpdateItemQuantity(ctx, cart.ID, itemID, req.Quantity); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCartItemNotFound
		}
		return nil, err
	}
	return s.carts.GetByID(ctx, cart.ID)
}

func (s *CartService) RemoveItem(ctx context.Context, userID, itemID int64) (*model.Cart, error) {
	cart, err := s.active(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := s.carts.RemoveItem(ctx, cart.ID, itemID); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrCartItemNotFound
		}
		return nil, err
	}
	return s.carts.GetByID(ctx, cart.ID)
}

// Quote is the amount checkout would charge for the active cart.
func (s *CartService) Quote(ctx context.Context, userID int64) (*model.CartQuote, error) {
	cart, err := s.active(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &model.CartQuote{
		CartID:   cart.ID,
		Units:    cart.UnitCount(),
		Amount:   cart.Total(),
		Currency: s.currency,
	}, nil
}

func (s *CartService) active(ctx context.Context, userID int64) (*model.Cart, error) {
	cart, err := s.carts.GetActive(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoValidCart
		}
		return nil, err
	}
	return cart, nil
}
