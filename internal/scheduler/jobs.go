package scheduler

import (
	"context"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/internal/services"
)

const (
	JobCatalogSync      = "catalog_sync"
	JobPaymentReconcile = "payment_reconcile"
)

type CatalogSyncer interface {
	Sync(ctx context.Context) (*model.SyncReport, error)
}

type Reconciler interface {
	Reconcile(ctx context.Context, minAge time.Duration, limit int) (services.ReconcileReport, error)
}

// CatalogSyncJob refreshes the plan catalog from the upstream, once at startup and then every interval.
func CatalogSyncJob(syncer CatalogSyncer, interval, lockTTL time.Duration) Job {
	return Job{
		Name:       JobCatalogSync,
		Interval:   interval,
		LockTTL:    lockTTL,
		RunOnStart: true,
		Run: func(ctx context.Context) error {
			_, err := syncer.Sync(ctx)
			return err
		},
	}
}

// ReconcileJob settles card payments whose webhook never arrived.
func ReconcileJob(r Reconciler, interval, minAge time.Duration, batch int) Job {
	return Job{
		Name:     JobPaymentReconcile,
		Interval: interval,
		LockTTL:  interval,
		Run: func(ctx context.Context) error {
			_, err := r.Reconcile(ctx, minAge, batch)
			return err
		},
	}
}
