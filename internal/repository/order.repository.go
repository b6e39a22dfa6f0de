package repository

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/pkg/logger"
	"github.com/nimasrn/esim-gateway/pkg/pg"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	orderCodeDigits = 5
	// sequential codes stay well below this; timestamp fallbacks are longer
	maxSequentialSuffix = 9
)

var errNoSequence = errors.New("order code sequence unavailable")

type OrderRepository struct {
	*pg.DB
	now func() time.Time
}

func NewOrderRepository(db *pg.DB) *OrderRepository {
	return &OrderRepository{
		DB:  db,
		now: time.Now,
	}
}

// CreateWithCode assigns the next sequential order code for the order's type and inserts it.
// The latest order with the same prefix is locked while the code is computed. Any failure
// to lock or parse falls back to a timestamp code, inserted in a fresh transaction since the
// failed one may no longer accept statements. ErrOrderExists, together with the stored
// order, is returned when the transaction already has an order.
func (r *OrderRepository) CreateWithCode(ctx context.Context, order *model.Order) (*model.Order, error) {
	prefix := order.Type.CodePrefix()

	entity := toOrderEntity(order)
	err := r.WithinTransaction(ctx, func(ctx context.Context) error {
		code, err := r.nextSequentialCode(ctx, prefix)
		if err != nil {
			return fmt.Errorf("%w: %w", errNoSequence, err)
		}
		entity.OrderCode = code
		return r.Write(ctx).Create(entity).Error
	})
	switch {
	case err == nil:
		return toOrderModel(entity), nil
	case errors.Is(err, errNoSequence):
		logger.Warn("order code sequence unavailable, using timestamp code", "prefix", prefix, "error", err)
	case pg.IsDuplicateKey(err):
		if existing, lookupErr := r.committedByTransaction(ctx, order.TransactionID); lookupErr == nil {
			return existing, ErrOrderExists
		}
		logger.Warn("order code collision, retrying with timestamp code", "code", entity.OrderCode)
	default:
		return nil, err
	}

	entity.ID = 0
	entity.OrderCode = timestampOrderCode(prefix, r.now())
	if err := r.Write(ctx).WithContext(ctx).Create(entity).Error; err != nil {
		if pg.IsDuplicateKey(err) {
			if existing, lookupErr := r.committedByTransaction(ctx, order.TransactionID); lookupErr == nil {
				return existing, ErrOrderExists
			}
		}
		return nil, err
	}
	return toOrderModel(entity), nil
}

// committedByTransaction reads from the primary so a lagging replica cannot hide the order
// that caused a duplicate key.
func (r *OrderRepository) committedByTransaction(ctx context.Context, transactionID int64) (*model.Order, error) {
	return r.findByTransaction(r.Write(ctx).WithContext(ctx), transactionID)
}

func (r *OrderRepository) nextSequentialCode(ctx context.Context, prefix string) (string, error) {
	var latest OrderEntity
	err := r.Write(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("order_code LIKE ? AND LENGTH(order_code) <= ?", prefix+"%", len(prefix)+maxSequentialSuffix).
		Order("id DESC").
		Limit(1).
		Find(&latest).Error
	if err != nil {
		return "", err
	}
	if latest.ID == 0 {
		return formatOrderCode(prefix, 1), nil
	}

	n, err := parseOrderCode(prefix, latest.OrderCode)
	if err != nil {
		return "", err
	}
	return formatOrderCode(prefix, n+1), nil
}

func formatOrderCode(prefix string, n int64) string {
	return fmt.Sprintf("%s%0*d", prefix, orderCodeDigits, n)
}

func parseOrderCode(prefix, code string) (int64, error) {
	suffix, ok := strings.CutPrefix(code, prefix)
	if !ok || suffix == "" {
		return 0, fmt.Errorf("order code %q does not carry prefix %q", code, prefix)
	}
	n, err := strconv.ParseInt(suffix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("order code %q has a non numeric suffix: %w", code, err)
	}
	return n, nil
}

func timestampOrderCode(prefix string, now time.Time) string {
	now = now.UTC()
	return fmt.Sprintf("%s%s%09d", prefix, now.Format("060102150405"), now.Nanosecond())
}

func (r *OrderRepository) withEsims(q *gorm.DB) *gorm.DB {
	return q.Preload("Esims", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") })
}

func (r *OrderRepository) GetByID(ctx context.Context, id int64) (*model.Order, error) {
	var entity OrderEntity
	if err := r.withEsims(r.Read(ctx).WithContext(ctx)).First(&entity, id).Error; err != nil {
		return nil, notFound(err)
	}
	return r.hydrate(r.Read(ctx).WithContext(ctx), &entity)
}

func (r *OrderRepository) GetByCode(ctx context.Context, code string) (*model.Order, error) {
	var entity OrderEntity
	if err := r.withEsims(r.Read(ctx).WithContext(ctx)).Where("order_code = ?", code).First(&entity).Error; err != nil {
		return nil, notFound(err)
	}
	return r.hydrate(r.Read(ctx).WithContext(ctx), &entity)
}

func (r *OrderRepository) GetByTransactionID(ctx context.Context, transactionID int64) (*model.Order, error) {
	return r.findByTransaction(r.Read(ctx).WithContext(ctx), transactionID)
}

func (r *OrderRepository) findByTransaction(q *gorm.DB, transactionID int64) (*model.Order, error) {
	var entity OrderEntity
	err := r.withEsims(q).
		Where("transaction_id = ?", transactionID).
		First(&entity).Error
	if err != nil {
		return nil, notFound(err)
	}
	return r.hydrate(q, &entity)
}

func (r *OrderRepository) hydrate(q *gorm.DB, entity *OrderEntity) (*model.Order, error) {
	o := toOrderModel(entity)
	if err := attachPlanIDs(q, o.Esims); err != nil {
		return nil, err
	}
	return o, nil
}

// UpdateOutcome persists the resolved status, activation flag and error text.
func (r *OrderRepository) UpdateOutcome(ctx context.Context, order *model.Order) error {
	return r.Write(ctx).WithContext(ctx).
		Model(&OrderEntity{}).
		Where("id = ?", order.ID).
		Updates(map[string]any{
			"status":        string(order.Status),
			"activated":     order.Activated,
			"error_message": order.ErrorMessage,
			"updated_at":    time.Now(),
		}).Error
}

// MarkFailed forces an order to FAILED and appends reason to its error text.
func (r *OrderRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	return r.WithinTransaction(ctx, func(ctx context.Context) error {
		var entity OrderEntity
		err := r.Write(ctx).
			Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&entity, id).Error
		if err != nil {
			return notFound(err)
		}

		o := toOrderModel(&entity)
		o.Status = model.OrderFailed
		o.Activated = false
		o.AppendError(reason)
		return r.UpdateOutcome(ctx, o)
	})
}

func (r *OrderRepository) List(ctx context.Context, f model.OrderFilter) ([]*model.Order, int64, error) {
	q := r.Read(ctx).WithContext(ctx).Model(&OrderEntity{})

	if f.UserID != nil {
		q = q.Where("user_id = ?", *f.UserID)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, s := range f.Statuses {
			statuses[i] = string(s)
		}
		q = q.Where("status IN ?", statuses)
	}
	if f.Type != nil {
		q = q.Where("type = ?", string(*f.Type))
	}
	if f.From != nil {
		q = q.Where("created_at >= ?", *f.From)
	}
	if f.To != nil {
		q = q.Where("created_at < ?", *f.To)
	}

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	order := "id ASC"
	if f.Desc {
		order = "id DESC"
	}

	limit := f.Limit
	if limit <= 0 || limit > 1000 {
		limit = 50
	}
	offset := max(f.Offset, 0)

	var entities []*OrderEntity
	if err := q.Order(order).Limit(limit).Offset(offset).Find(&entities).Error; err != nil {
		return nil, 0, err
	}
	return toOrderModels(entities), total, nil
}
