package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/internal/payment"
	"github.com/nimasrn/esim-gateway/internal/repository"
	"github.com/nimasrn/esim-gateway/pkg/logger"
	"github.com/nimasrn/esim-gateway/pkg/prom"
	"github.com/nimasrn/esim-gateway/pkg/redis"
)

// Settlement is the payment outcome applied to a transaction.
type Settlement struct {
	Ref            string
	Succeeded      bool
	FailureMessage string
	Raw            json.RawMessage
}

type SettleResult struct {
	Transaction *model.Transaction `json:"transaction,omitempty"`
	Fulfillment *FulfillmentResult `json:"fulfillment,omitempty"`
	Ignored     bool               `json:"ignored"`
}

type Locker interface {
	TryLock(ctx context.Context, key string, ttl time.Duration) (string, error)
	Unlock(ctx context.Context, key, token string) error
}

// PaymentService settles transactions from gateway webhooks and from reconciliation.
type PaymentService struct {
	transactions TransactionRepository
	gateway      payment.Gateway
	fulfillment  *FulfillmentService
	locker       Locker
	lockTTL      time.Duration
}

func NewPaymentService(transactions TransactionRepository, gateway payment.Gateway, fulfillment *FulfillmentService, locker Locker, lockTTL time.Duration) *PaymentService {
	if lockTTL <= 0 {
		lockTTL = 2 * time.Minute
	}
	return &PaymentService{
		transactions: transactions,
		gateway:      gateway,
		fulfillment:  fulfillment,
		locker:       locker,
		lockTTL:      lockTTL,
	}
}

// HandleWebhook verifies a gateway event and settles the payment it refers to.
// Events that do not settle a payment are acknowledged and ignored.
func (s *PaymentService) HandleWebhook(ctx context.Context, payload []byte, signature string) (*SettleResult, error) {
	evt, err := s.gateway.ParseWebhook(payload, signature)
	if err != nil {
		prom.IncWebhook("unknown", "invalid_signature")
		return nil, err
	}

	if evt.Kind == payment.EventIgnored || evt.PaymentRef == "" {
		prom.IncWebhook(evt.Type, "ignored")
		logger.Debug("payment webhook ignored", "event_id", evt.ID, "type", evt.Type)
		return &SettleResult{Ignored: true}, nil
	}

	res, err := s.Settle(ctx, Settlement{
		Ref:            evt.PaymentRef,
		Succeeded:      evt.Kind == payment.EventPaymentSucceeded,
		FailureMessage: evt.FailureMessage,
		Raw:            evt.Raw,
	})
	if err != nil {
		prom.IncWebhook(evt.Type, "error")
		return res, err
	}
	prom.IncWebhook(evt.Type, "ok")
	return res, nil
}

// Settle applies a payment outcome once per reference at a time across all instances.
// Redelivered outcomes are safe: the transaction only leaves PENDING once and
// fulfillment replays the existing order.
func (s *PaymentService) Settle(ctx context.Context, st Settlement) (*SettleResult, error) {
	lockKey := "payment:settle:" + st.Ref
	token, err := s.locker.TryLock(ctx, lockKey, s.lockTTL)
	if err != nil {
		if errors.Is(err, redis.ErrLockNotAcquired) {
			return nil, ErrPaymentInFlight
		}
		return nil, fmt.Errorf("lock payment %s: %w", st.Ref, err)
	}
	defer func() {
		if err := s.locker.Unlock(context.WithoutCancel(ctx), lockKey, token); err != nil {
			logger.Warn("failed to release payment lock", "ref", st.Ref, "error", err)
		}
	}()

	txn, err := s.transactions.GetByExternalRef(ctx, st.Ref)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			logger.Warn("payment outcome for unknown transaction", "ref", st.Ref)
			return &SettleResult{Ignored: true}, nil
		}
		return nil, err
	}

	log := logger.With("transaction_id", txn.ID, "ref", st.Ref, "succeeded", st.Succeeded)

	if !st.Succeeded {
		moved, err := s.transactions.MarkStatus(ctx, txn.ID, model.TransactionFailed, st.Raw)
		if err != nil {
			return nil, fmt.Errorf("mark transaction failed: %w", err)
		}
		if moved {
			log.Info("payment failed", "reason", st.FailureMessage)
			txn.Status = model.TransactionFailed
		}
		return &SettleResult{Transaction: txn}, nil
	}

	var res *FulfillmentResult
	if txn.IsTopUp() {
		// a top-up transaction settles with the upstream outcome, not the payment
		res, err = s.fulfillment.FulfillTopUp(ctx, txn.ID)
	} else {
		moved, merr := s.transactions.MarkStatus(ctx, txn.ID, model.TransactionSuccess, st.Raw)
		if merr != nil {
			return nil, fmt.Errorf("mark transaction paid: %w", merr)
		}
		if moved {
			log.Info("payment succeeded")
		}
		res, err = s.fulfillment.Fulfill(ctx, txn.ID, txn.UserID)
	}

	if fresh, gerr := s.transactions.GetByID(ctx, txn.ID); gerr == nil {
		txn = fresh
	}
	return &SettleResult{Transaction: txn, Fulfillment: res}, err
}

type ReconcileReport struct {
	Checked   int `json:"checked"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	Pending   int `json:"pending"`
	Errors    int `json:"errors"`
}

// Reconcile asks the gateway about card transactions that stayed PENDING longer
// than minAge and settles those with a known outcome. It covers lost webhooks.
func (s *PaymentService) Reconcile(ctx context.Context, minAge time.Duration, limit int) (ReconcileReport, error) {
	var report ReconcileReport

	stale, err := s.transactions.ListPendingOlderThan(ctx, time.Now().Add(-minAge), limit)
	if err != nil {
		return report, fmt.Errorf("list pending transactions: %w", err)
	}

	for _, txn := range stale {
		if ctx.Err() != nil {
			return report, ctx.Err()
		}
		report.Checked++

		intent, err := s.gateway.GetIntent(ctx, txn.ExternalRef)
		if err != nil {
			report.Errors++
			logger.Warn("reconcile: payment lookup failed", "transaction_id", txn.ID, "ref", txn.ExternalRef, "error", err)
			continue
		}

		var st Settlement
		switch intent.Status {
		case payment.IntentSucceeded:
			st = Settlement{Ref: txn.ExternalRef, Succeeded: true, Raw: intent.Raw}
		case payment.IntentFailed:
			st = Settlement{Ref: txn.ExternalRef, FailureMessage: intent.FailureMessage, Raw: intent.Raw}
		default:
			report.Pending++
			continue
		}

		if _, err := s.Settle(ctx, st); err != nil {
			report.Errors++
			logger.Error("reconcile: settlement failed", "transaction_id", txn.ID, "error", err)
			continue
		}
		if st.Succeeded {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	if report.Checked > 0 {
		logger.Info("payments reconciled", "checked", report.Checked, "succeeded", report.Succeeded, "failed", report.Failed, "pending", report.Pending, "errors", report.Errors)
	}
	return report, nil
}
