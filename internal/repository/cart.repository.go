package repository

import (
	"context"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type CartRepository struct {
	*pg.DB
}

func NewCartRepository(db *pg.DB) *CartRepository {
	return &CartRepository{
		db,
	}
}

func activeCart(q *gorm.DB, userID int64) *gorm.DB {
	return q.Where("user_id = ? AND is_checked_out = ? AND is_deleted = ? AND is_error = ?", userID, false, false, false)
}

func withItems(q *gorm.DB) *gorm.DB {
	return q.Preload("Items", "is_deleted = ?", false).Preload("Items.Plan")
}

// GetActive returns the user's single active cart with its live items.
func (r *CartRepository) GetActive(ctx context.Context, userID int64) (*model.Cart, error) {
	var entity CartEntity
	err := withItems(activeCart(r.Read(ctx).WithContext(ctx), userID)).
		Order("id DESC").
		First(&entity).Error
	if err != nil {
		return nil, notFound(err)
	}
	return toCartModel(&entity), nil
}

// GetOrCreateActive returns the active cart, creating an empty one when there is none.
func (r *CartRepository) GetOrCreateActive(ctx context.Context, userID int64) (*model.Cart, error) {
	var cart *model.Cart
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		var entity CartEntity
		err := activeCart(r.Write(ctx), userID).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			Order("id DESC").
			First(&entity).Error
		if err == nil {
			cart, err = r.GetByID(ctx, entity.ID)
			return err
		}
		if !pg.IsNotFound(err) {
			return err
		}

		entity = CartEntity{UserID: userID}
		if err := r.Write(ctx).Create(&entity).Error; err != nil {
			return err
		}
		cart = toCartModel(&entity)
		return nil
	})
	// lost the race against a concurrent request; the partial unique index kept one active cart
	if pg.IsDuplicateKey(err) {
		return r.GetActive(ctx, userID)
	}
	if err != nil {
		return nil, err
	}
	return cart, nil
}

// GetByID loads a cart regardless of its flags.
func (r *CartRepository) GetByID(ctx context.Context, id int64) (*model.Cart, error) {
	var entity CartEntity
	if err := withItems(r.Read(ctx).WithContext(ctx)).First(&entity, id).Error; err != nil {
		return nil, notFound(err)
	}
	return toCartModel(&entity), nil
}

func (r *CartRepository) FindItemByPlan(ctx context.Context, cartID, planID int64) (*model.CartItem, error) {
	var entity CartItemEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("cart_id = ? AND plan_id = ? AND is_deleted = ?", cartID, planID, false).
		First(&entity).Error
	if err != nil {
		return nil, notFound(err)
	}
	return toCartItemModel(&entity), nil
}

func (r *CartRepository) CreateItem(ctx context.Context, item *model.CartItem) (*model.CartItem, error) {
	entity := &CartItemEntity{
		CartID:   item.CartID,
		PlanID:   item.PlanID,
		Quantity: item.Quantity,
	}
	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}
	return toCartItemModel(entity), nil
}

func (r *CartRepository) UpdateItemQuantity(ctx context.Context, cartID, itemID int64, quantity int) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&CartItemEntity{}).
		Where("id = ? AND cart_id = ? AND is_deleted = ?", itemID, cartID, false).
		Updates(map[string]any{"quantity": quantity, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// RemoveItem soft deletes a cart line.
func (r *CartRepository) RemoveItem(ctx context.Context, cartID, itemID int64) error {
	res := r.Write(ctx).WithContext(ctx).
		Model(&CartItemEntity{}).
		Where("id = ? AND cart_id = ? AND is_deleted = ?", itemID, cartID, false).
		Updates(map[string]any{"is_deleted": true, "updated_at": time.Now()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// MarkCheckedOut makes the cart terminal. isError additionally flags an aborted fulfillment.
func (r *CartRepository) MarkCheckedOut(ctx context.Context, cartID int64, isError bool) error {
	updates := map[string]any{
		"is_checked_out": true,
		"updated_at":     time.Now(),
	}
	if isError {
		updates["is_error"] = true
	}
	return r.Write(ctx).WithContext(ctx).
		Model(&CartEntity{}).
		Where("id = ?", cartID).
		Updates(updates).Error
}
