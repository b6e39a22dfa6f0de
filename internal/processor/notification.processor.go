package processor

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimasrn/esim-gateway/internal/idempotency"
	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/internal/queue"
	"github.com/nimasrn/esim-gateway/pkg/logger"
	"github.com/nimasrn/esim-gateway/pkg/prom"
)

var ErrInFlight = errors.New("notification is being sent by another consumer")

type NotificationProcessor struct {
	mailer      Mailer
	idempotency *idempotency.Service
}

func NewNotificationProcessor(mailer Mailer, idem *idempotency.Service) *NotificationProcessor {
	return &NotificationProcessor{mailer: mailer, idempotency: idem}
}

func (p *NotificationProcessor) GetType() string {
	return "notification"
}

// Process sends one notification at most once per dedup key.
// A returned error leaves the message pending for redelivery.
func (p *NotificationProcessor) Process(ctx context.Context, msg *queue.Message) error {
	var note model.Notification
	if err := msg.Decode(&note); err != nil {
		prom.IncNotification(msg.Kind, "invalid")
		return fmt.Errorf("decode notification %s: %w", msg.ID, err)
	}
	if err := note.Validate(); err != nil {
		// retrying cannot fix the payload
		prom.IncNotification(msg.Kind, "invalid")
		logger.Error("dropping invalid notification", "id", msg.ID, "kind", msg.Kind, "error", err)
		return nil
	}

	key := msg.Metadata["dedup_key"]
	if key == "" {
		key = note.DedupKey()
	}

	claim, err := p.idempotency.Claim(ctx, key)
	switch {
	case errors.Is(err, idempotency.ErrAlreadyDone):
		logger.Info("notification already sent, skipping", "key", key)
		prom.IncNotification(string(note.Kind), "duplicate")
		return nil
	case errors.Is(err, idempotency.ErrMaxRetriesExceeded):
		logger.Error("notification abandoned after retries", "key", key, "order_code", note.OrderCode)
		prom.IncNotification(string(note.Kind), "abandoned")
		return nil
	case errors.Is(err, idempotency.ErrInFlight):
		return ErrInFlight
	case err != nil:
		return err
	}
	defer p.idempotency.Release(ctx, claim)

	log := logger.With("key", key, "order_code", note.OrderCode, "attempts", claim.Attempts)
	if err := p.mailer.Send(ctx, note); err != nil {
		attempts := p.idempotency.Failed(ctx, claim, err)
		prom.IncNotification(string(note.Kind), "failed")
		log.Warn("notification delivery failed", "error", err, "attempts", attempts)
		return err
	}

	if err := p.idempotency.Done(ctx, claim); err != nil {
		// sent already; a redelivery may repeat it
		log.Error("failed to mark notification sent", "error", err)
	}
	prom.IncNotification(string(note.Kind), "sent")
	log.Info("notification sent", "kind", note.Kind, "is_retry", claim.IsRetry())
	return nil
}
