package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/internal/provider"
	"github.com/nimasrn/esim-gateway/internal/repository"
	"github.com/nimasrn/esim-gateway/internal/repository/repotest"
	"github.com/nimasrn/esim-gateway/pkg/pg"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

// fakeUpstream provisions unique SIMs unless a script says otherwise.
type fakeUpstream struct {
	provisionCalls atomic.Int32
	topUpCalls     atomic.Int32
	inFlight       atomic.Int32
	maxInFlight    atomic.Int32

	delay     time.Duration
	provision func(call int32, ctx context.Context, plan *model.Plan) (model.ProvisionedSim, error)
	topUp     func(iccid, planID, productID string) (*provider.TopUpResponse, error)
}

func (u *fakeUpstream) Provision(ctx context.Context, plan *model.Plan) (model.ProvisionedSim, error) {
	call := u.provisionCalls.Add(1)

	n := u.inFlight.Add(1)
	defer u.inFlight.Add(-1)
	for {
		peak := u.maxInFlight.Load()
		if n <= peak || u.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}

	if u.delay > 0 {
		time.Sleep(u.delay)
	}
	if u.provision != nil {
		return u.provision(call, ctx, plan)
	}
	return simFor(call, plan), nil
}

func (u *fakeUpstream) TopUp(_ context.Context, iccid, planID, productID string) (*provider.TopUpResponse, error) {
	u.topUpCalls.Add(1)
	if u.topUp != nil {
		return u.topUp(iccid, planID, productID)
	}
	return &provider.TopUpResponse{Status: "success"}, nil
}

func simFor(call int32, plan *model.Plan) model.ProvisionedSim {
	return model.ProvisionedSim{
		ExternalID:  fmt.Sprintf("ext-%d", call),
		ICCID:       fmt.Sprintf("8988%012d", call),
		QRCodeURL:   fmt.Sprintf("https://qr.example/%d.png", call),
		ProductName: plan.Name,
	}
}

type recordingNotifier struct {
	mu     sync.Mutex
	orders []*model.Order
	err    error
}

func (n *recordingNotifier) NotifyOrder(_ context.Context, order *model.Order) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	cp := *order
	n.orders = append(n.orders, &cp)
	return n.err
}

func (n *recordingNotifier) statuses() []model.OrderStatus {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]model.OrderStatus, 0, len(n.orders))
	for _, o := range n.orders {
		out = append(out, o.Status)
	}
	return out
}

type fixture struct {
	db           *pg.DB
	transactions *repository.TransactionRepository
	carts        *repository.CartRepository
	catalog      *repository.CatalogRepository
	orders       *repository.OrderRepository
	esims        *repository.EsimRepository
	users        *repository.UserRepository
	upstream     *fakeUpstream
	notifier     *recordingNotifier
	fulfillment  *FulfillmentService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := repotest.NewDB(t)

	f := &fixture{
		db:           db,
		transactions: repository.NewTransactionRepository(db),
		carts:        repository.NewCartRepository(db),
		catalog:      repository.NewCatalogRepository(db),
		orders:       repository.NewOrderRepository(db),
		esims:        repository.NewEsimRepository(db),
		users:        repository.NewUserRepository(db),
		upstream:     &fakeUpstream{},
		notifier:     &recordingNotifier{},
	}
	f.fulfillment = f.newFulfillment(f.esims, FulfillmentConfig{Concurrency: 4, UnitTimeout: 200 * time.Millisecond})
	return f
}

func (f *fixture) newFulfillment(esims EsimRepository, cfg FulfillmentConfig) *FulfillmentService {
	return NewFulfillmentService(f.db, f.transactions, f.orders, f.carts, esims, f.catalog, f.upstream, f.notifier, cfg)
}

func (f *fixture) seedUser(t *testing.T, email string) *model.User {
	t.Helper()
	u, err := f.users.Create(context.Background(), &model.User{Email: email, Name: "Test", Role: "user"})
	require.NoError(t, err)
	return u
}

func (f *fixture) seedPlan(t *testing.T, providerID, price string) *model.Plan {
	t.Helper()
	ctx := context.Background()

	ids, err := f.catalog.UpsertCountries(ctx, []model.Country{{Code: "FR", Name: "France"}})
	require.NoError(t, err)
	_, err = f.catalog.UpsertPlans(ctx, []*model.Plan{{
		ProviderPlanID: providerID,
		CountryID:      ids["FR"],
		Name:           "France " + providerID,
		DataAmount:     1024,
		ValidityDays:   7,
		Price:          decimal.RequireFromString(price),
		IsActive:       true,
	}})
	require.NoError(t, err)

	plans, err := f.catalog.ListPlans(ctx, model.PlanFilter{})
	require.NoError(t, err)
	for _, p := range plans {
		if p.ProviderPlanID == providerID {
			return p
		}
	}
	t.Fatalf("plan %s not stored", providerID)
	return nil
}

type line struct {
	plan     *model.Plan
	quantity int
}

func (f *fixture) seedCart(t *testing.T, userID int64, lines ...line) *model.Cart {
	t.Helper()
	ctx := context.Background()

	cart, err := f.carts.GetOrCreateActive(ctx, userID)
	require.NoError(t, err)
	for _, l := range lines {
		_, err := f.carts.CreateItem(ctx, &model.CartItem{CartID: cart.ID, PlanID: l.plan.ID, Quantity: l.quantity})
		require.NoError(t, err)
	}
	cart, err = f.carts.GetByID(ctx, cart.ID)
	require.NoError(t, err)
	return cart
}

func (f *fixture) seedCartTransaction(t *testing.T, cart *model.Cart, status model.TransactionStatus) *model.Transaction {
	t.Helper()
	cartID := cart.ID
	txn, err := f.transactions.Create(context.Background(), &model.Transaction{
		ExternalRef: fmt.Sprintf("pi_cart_%d", cart.ID),
		Method:      model.PaymentCard,
		Amount:      cart.Total(),
		Currency:    "EUR",
		Status:      status,
		UserID:      cart.UserID,
		CartID:      &cartID,
	})
	require.NoError(t, err)
	return txn
}

// seedTopUpPlan stores one active top-up plan and returns it by provider id.
func (f *fixture) seedTopUpPlan(t *testing.T, providerID string, dataMB int64, validityDays int) *model.TopUpPlan {
	t.Helper()
	ctx := context.Background()

	ids, err := f.catalog.UpsertCountries(ctx, []model.Country{{Code: "FR", Name: "France"}})
	require.NoError(t, err)
	_, err = f.catalog.UpsertTopUpPlans(ctx, []*model.TopUpPlan{{
		ProviderPlanID: providerID,
		ProductID:      "prod-" + providerID,
		CountryID:      ids["FR"],
		Name:           "Top-up " + providerID,
		DataAmount:     dataMB,
		ValidityDays:   validityDays,
		Price:          decimal.RequireFromString("4.50"),
		IsActive:       true,
	}})
	require.NoError(t, err)

	for id := int64(1); id < 20; id++ {
		p, err := f.catalog.GetTopUpPlan(ctx, id)
		if err != nil {
			continue
		}
		if p.ProviderPlanID == providerID {
			return p
		}
	}
	t.Fatalf("top-up plan %s not stored", providerID)
	return nil
}

// seedProvisionedEsim fulfills a one-unit order and returns its eSIM.
func (f *fixture) seedProvisionedEsim(t *testing.T, user *model.User) *model.Esim {
	t.Helper()
	plan := f.seedPlan(t, "fr-base", "9.00")
	cart := f.seedCart(t, user.ID, line{plan, 1})
	txn := f.seedCartTransaction(t, cart, model.TransactionSuccess)

	res, err := f.fulfillment.Fulfill(context.Background(), txn.ID, user.ID)
	require.NoError(t, err)
	require.Len(t, res.Order.Esims, 1)
	require.True(t, res.Order.Esims[0].IsProvisioned())
	return res.Order.Esims[0]
}

func (f *fixture) seedTopUpTransaction(t *testing.T, userID int64, esim *model.Esim, plan *model.TopUpPlan, ref string) *model.Transaction {
	t.Helper()
	esimID, planID := esim.ID, plan.ID
	txn, err := f.transactions.Create(context.Background(), &model.Transaction{
		ExternalRef: ref,
		Method:      model.PaymentCard,
		Amount:      plan.Price,
		Currency:    "EUR",
		Status:      model.TransactionPending,
		UserID:      userID,
		EsimID:      &esimID,
		TopUpPlanID: &planID,
	})
	require.NoError(t, err)
	return txn
}
