package helpers

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/internal/repository"
	"github.com/nimasrn/esim-gateway/internal/repository/repotest"
	"github.com/nimasrn/esim-gateway/pkg/pg"
	"github.com/nimasrn/esim-gateway/pkg/redis"
	"github.com/nimasrn/esim-gateway/pkg/redis/redistest"
	"github.com/stretchr/testify/require"
)

func SetupTestDB(t *testing.T) *pg.DB {
	return repotest.NewDB(t)
}

func SetupTestRedis(t *testing.T) (*miniredis.Miniredis, redis.RedisAdapter) {
	return redistest.New(t)
}

func CreateTestUser(t *testing.T, db *pg.DB, email string) *model.User {
	u, err := repository.NewUserRepository(db).Create(context.Background(), &model.User{
		Email: email,
		Name:  "Test User",
		Role:  "user",
	})
	require.NoError(t, err)
	return u
}

// FindPlan returns the synced plan with the given upstream id.
func FindPlan(t *testing.T, db *pg.DB, providerPlanID string) *model.Plan {
	plans, err := repository.NewCatalogRepository(db).ListPlans(context.Background(), model.PlanFilter{})
	require.NoError(t, err)
	for _, p := range plans {
		if p.ProviderPlanID == providerPlanID {
			return p
		}
	}
	t.Fatalf("plan %s was not synced", providerPlanID)
	return nil
}

// FindTopUpPlan returns the synced top-up plan with the given upstream id.
func FindTopUpPlan(t *testing.T, db *pg.DB, providerPlanID string) *model.TopUpPlan {
	var entity repository.TopUpPlanEntity
	err := db.Read(context.Background()).Where("provider_plan_id = ?", providerPlanID).First(&entity).Error
	require.NoError(t, err, "top-up plan %s was not synced", providerPlanID)
	plan, err := repository.NewCatalogRepository(db).GetTopUpPlan(context.Background(), entity.ID)
	require.NoError(t, err)
	return plan
}

func WaitForCondition(t *testing.T, timeout time.Duration, condition func() bool) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

func AssertEventually(t *testing.T, timeout time.Duration, condition func() bool, msg string) {
	if !WaitForCondition(t, timeout, condition) {
		t.Fatal(msg)
	}
}

func ContextWithTimeout(timeout time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), timeout)
}

func Ptr[T any](v T) *T {
	return &v
}
