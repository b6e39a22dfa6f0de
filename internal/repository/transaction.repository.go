package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/pkg/pg"
	"gorm.io/datatypes"
)

type TransactionRepository struct {
	*pg.DB
}

func NewTransactionRepository(db *pg.DB) *TransactionRepository {
	return &TransactionRepository{
		db,
	}
}

func (r *TransactionRepository) Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error) {
	entity := toTransactionEntity(txn)

	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		return nil, err
	}

	return toTransactionModel(entity), nil
}

func (r *TransactionRepository) GetByID(ctx context.Context, id int64) (*model.Transaction, error) {
	var entity TransactionEntity
	if err := r.Read(ctx).WithContext(ctx).First(&entity, id).Error; err != nil {
		return nil, notFound(err)
	}
	return toTransactionModel(&entity), nil
}

func (r *TransactionRepository) GetByExternalRef(ctx context.Context, ref string) (*model.Transaction, error) {
	var entity TransactionEntity
	if err := r.Read(ctx).WithContext(ctx).Where("external_ref = ?", ref).First(&entity).Error; err != nil {
		return nil, notFound(err)
	}
	return toTransactionModel(&entity), nil
}

// MarkStatus moves a PENDING transaction to a terminal status. It reports false
// when the row was already terminal, which makes redelivered webhooks no-ops.
func (r *TransactionRepository) MarkStatus(ctx context.Context, id int64, status model.TransactionStatus, raw json.RawMessage) (bool, error) {
	updates := map[string]any{
		"status":     string(status),
		"updated_at": time.Now(),
	}
	if len(raw) > 0 {
		updates["raw_response"] = datatypes.JSON(raw)
	}

	res := r.Write(ctx).WithContext(ctx).
		Model(&TransactionEntity{}).
		Where("id = ? AND status = ?", id, string(model.TransactionPending)).
		Updates(updates)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// ListPendingOlderThan returns card transactions still waiting for a payment outcome.
func (r *TransactionRepository) ListPendingOlderThan(ctx context.Context, before time.Time, limit int) ([]*model.Transaction, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	var entities []*TransactionEntity
	err := r.Read(ctx).WithContext(ctx).
		Where("status = ? AND method = ? AND created_at < ?", string(model.TransactionPending), string(model.PaymentCard), before).
		Order("created_at ASC, id ASC").
		Limit(limit).
		Find(&entities).Error
	if err != nil {
		return nil, err
	}
	return toTransactionModels(entities), nil
}
