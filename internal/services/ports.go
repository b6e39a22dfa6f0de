package services

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/internal/provider"
)

type Transactor interface {
	WithinTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

type TransactionRepository interface {
	Create(ctx context.Context, txn *model.Transaction) (*model.Transaction, error)
	GetByID(ctx context.Context, id int64) (*model.Transaction, error)
	GetByExternalRef(ctx context.Context, ref string) (*model.Transaction, error)
	MarkStatus(ctx context.Context, id int64, status model.TransactionStatus, raw json.RawMessage) (bool, error)
	ListPendingOlderThan(ctx context.Context, before time.Time, limit int) ([]*model.Transaction, error)
}

type CartRepository interface {
	GetActive(ctx context.Context, userID int64) (*model.Cart, error)
	GetOrCreateActive(ctx context.Context, userID int64) (*model.Cart, error)
	GetByID(ctx context.Context, id int64) (*model.Cart, error)
	FindItemByPlan(ctx context.Context, cartID, planID int64) (*model.CartItem, error)
	CreateItem(ctx context.Context, item *model.CartItem) (*model.CartItem, error)
	UpdateItemQuantity(ctx context.Context, cartID, itemID int64, quantity int) error
	RemoveItem(ctx context.Context, cartID, itemID int64) error
	MarkCheckedOut(ctx context.Context, cartID int64, isError bool) error
}

type CatalogRepository interface {
	GetPlan(ctx context.Context, id int64) (*model.Plan, error)
	GetTopUpPlan(ctx context.Context, id int64) (*model.TopUpPlan, error)
	ListPlans(ctx context.Context, f model.PlanFilter) ([]*model.Plan, error)
	UpsertCountries(ctx context.Context, countries []model.Country) (map[string]int64, error)
	UpsertPlans(ctx context.Context, plans []*model.Plan) (int64, error)
	UpsertTopUpPlans(ctx context.Context, plans []*model.TopUpPlan) (int64, error)
	DeactivatePlansExcept(ctx context.Context, keep []string) (int64, error)
}

type OrderRepository interface {
	CreateWithCode(ctx context.Context, order *model.Order) (*model.Order, error)
	GetByID(ctx context.Context, id int64) (*model.Order, error)
	GetByCode(ctx context.Context, code string) (*model.Order, error)
	GetByTransactionID(ctx context.Context, transactionID int64) (*model.Order, error)
	UpdateOutcome(ctx context.Context, order *model.Order) error
	MarkFailed(ctx context.Context, id int64, reason string) error
	List(ctx context.Context, f model.OrderFilter) ([]*model.Order, int64, error)
}

type EsimRepository interface {
	Create(ctx context.Context, esim *model.Esim) (*model.Esim, error)
	GetByID(ctx context.Context, id int64) (*model.Esim, error)
	ApplyTopUp(ctx context.Context, esimID int64, grant model.TopUpGrant, now time.Time) (*model.Esim, error)
	CreateTopUp(ctx context.Context, topUp *model.EsimTopUp) (*model.EsimTopUp, error)
}

type UserRepository interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// Upstream is the wholesale eSIM provider as fulfillment sees it.
type Upstream interface {
	Provision(ctx context.Context, plan *model.Plan) (model.ProvisionedSim, error)
	TopUp(ctx context.Context, iccid, providerPlanID, productID string) (*provider.TopUpResponse, error)
}

// CatalogSource lists what the upstream currently sells.
type CatalogSource interface {
	ListPlans(ctx context.Context) ([]provider.CatalogPlan, error)
	ListTopUpPlans(ctx context.Context) ([]provider.CatalogTopUpPlan, error)
}

type Notifier interface {
	NotifyOrder(ctx context.Context, order *model.Order) error
}

type Publisher interface {
	Publish(ctx context.Context, kind string, payload any, metadata map[string]string) (string, error)
}
