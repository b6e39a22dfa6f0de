package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/pkg/logger"
	"github.com/nimasrn/esim-gateway/pkg/prom"
)

// QueueNotifier turns resolved orders into notification jobs on the queue.
// Refund claims for partial or failed orders go to the configured admin address.
type QueueNotifier struct {
	publisher  Publisher
	users      UserRepository
	adminEmail string
	now        func() time.Time
}

func NewQueueNotifier(publisher Publisher, users UserRepository, adminEmail string) *QueueNotifier {
	return &QueueNotifier{publisher: publisher, users: users, adminEmail: adminEmail, now: time.Now}
}

func (n *QueueNotifier) NotifyOrder(ctx context.Context, order *model.Order) error {
	user, err := n.users.GetByID(ctx, order.UserID)
	if err != nil {
		return fmt.Errorf("load recipient %d: %w", order.UserID, err)
	}

	base := model.Notification{
		UserID:    order.UserID,
		OrderID:   order.ID,
		OrderCode: order.OrderCode,
		Status:    order.Status,
		Message:   order.ErrorMessage,
		CreatedAt: n.now(),
	}

	var out []model.Notification
	switch order.Status {
	case model.OrderCompleted:
		out = append(out, n.to(base, model.NotifyOrderConfirmation, user.Email))
	case model.OrderPartial:
		out = append(out, n.to(base, model.NotifyOrderConfirmation, user.Email))
		out = append(out, n.refundClaim(base)...)
	case model.OrderFailed:
		out = append(out, n.to(base, model.NotifyOrderFailure, user.Email))
		out = append(out, n.refundClaim(base)...)
	default:
		return nil
	}

	var errs []error
	for _, note := range out {
		if err := n.publish(ctx, note); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (n *QueueNotifier) to(base model.Notification, kind model.NotificationKind, email string) model.Notification {
	base.Kind = kind
	base.Email = email
	return base
}

func (n *QueueNotifier) refundClaim(base model.Notification) []model.Notification {
	if n.adminEmail == "" {
		logger.Warn("no admin email configured, refund claim dropped", "order_code", base.OrderCode)
		return nil
	}
	return []model.Notification{n.to(base, model.NotifyRefundClaim, n.adminEmail)}
}

func (n *QueueNotifier) publish(ctx context.Context, note model.Notification) error {
	if err := note.Validate(); err != nil {
		prom.IncNotification(string(note.Kind), "invalid")
		return fmt.Errorf("%s for order %s: %w", note.Kind, note.OrderCode, err)
	}
	if _, err := n.publisher.Publish(ctx, string(note.Kind), note, map[string]string{"dedup_key": note.DedupKey()}); err != nil {
		prom.IncNotification(string(note.Kind), "publish_error")
		return err
	}
	prom.IncNotification(string(note.Kind), "queued")
	return nil
}
