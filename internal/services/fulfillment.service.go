package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/internal/repository"
	"github.com/nimasrn/esim-gateway/pkg/logger"
	"github.com/nimasrn/esim-gateway/pkg/prom"
	"golang.org/x/sync/errgroup"
)

type FulfillmentConfig struct {
	Concurrency int
	UnitTimeout time.Duration
}

// FulfillmentResult is what every caller of fulfillment gets back, including on failure.
type FulfillmentResult struct {
	Order            *model.Order        `json:"-"`
	Summary          *model.OrderSummary `json:"order"`
	TopUp            *model.EsimTopUp    `json:"top_up,omitempty"`
	AlreadyProcessed bool                `json:"already_processed"`
}

func newResult(order *model.Order, replay bool) *FulfillmentResult {
	return &FulfillmentResult{Order: order, Summary: model.SummarizeOrder(order), AlreadyProcessed: replay}
}

// FulfillmentService turns paid transactions into orders with provisioned eSIMs.
type FulfillmentService struct {
	db           Transactor
	transactions TransactionRepository
	orders       OrderRepository
	carts        CartRepository
	esims        EsimRepository
	catalog      CatalogRepository
	upstream     Upstream
	notifier     Notifier
	config       FulfillmentConfig
	now          func() time.Time
}

func NewFulfillmentService(db Transactor, transactions TransactionRepository, orders OrderRepository, carts CartRepository, esims EsimRepository, catalog CatalogRepository, upstream Upstream, notifier Notifier, config FulfillmentConfig) *FulfillmentService {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.UnitTimeout <= 0 {
		config.UnitTimeout = 30 * time.Second
	}
	return &FulfillmentService{
		db:           db,
		transactions: transactions,
		orders:       orders,
		carts:        carts,
		esims:        esims,
		catalog:      catalog,
		upstream:     upstream,
		notifier:     notifier,
		config:       config,
		now:          time.Now,
	}
}

// Fulfill converts one successful cart transaction into an order with one eSIM row per paid unit.
// A transaction that already has an order gets that order back unchanged.
func (s *FulfillmentService) Fulfill(ctx context.Context, transactionID, userID int64) (*FulfillmentResult, error) {
	txn, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: transaction %d does not exist", ErrInvalidTransactionState, transactionID)
		}
		return nil, err
	}
	if userID != 0 && txn.UserID != userID {
		return nil, fmt.Errorf("%w: transaction %d does not exist", ErrInvalidTransactionState, transactionID)
	}
	if txn.IsTopUp() || txn.CartID == nil {
		return nil, fmt.Errorf("%w: transaction %d is not a cart payment", ErrInvalidTransactionState, transactionID)
	}

	if existing, err := s.orders.GetByTransactionID(ctx, txn.ID); err == nil {
		return s.replay(existing), nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if txn.Status != model.TransactionSuccess {
		return nil, fmt.Errorf("%w: transaction %d is %s", ErrInvalidTransactionState, txn.ID, txn.Status)
	}

	cart, err := s.carts.GetByID(ctx, *txn.CartID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoValidCart
		}
		return nil, err
	}
	if !cart.Eligible() || cart.UserID != txn.UserID {
		return nil, ErrNoValidCart
	}

	units := model.ExpandUnits(cart)
	if len(units) == 0 {
		return nil, ErrEmptyCart
	}

	order := &model.Order{
		Type:          model.OrderTypeEsim,
		Status:        model.OrderProcessing,
		TotalAmount:   txn.Amount,
		TransactionID: txn.ID,
		UserID:        txn.UserID,
	}
	if first := units[0].Plan; first != nil && first.CountryID != 0 {
		countryID := first.CountryID
		order.CountryID = &countryID
	}

	created, err := s.orders.CreateWithCode(ctx, order)
	if errors.Is(err, repository.ErrOrderExists) {
		return s.replay(created), nil
	}
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	log := logger.With("order_code", created.OrderCode, "transaction_id", txn.ID, "units", len(units))
	log.Info("fulfillment started")
	start := s.now()

	if err := s.provisionOrder(ctx, created, cart, units); err != nil {
		log.Error("fulfillment aborted", "error", err)
		return s.abort(ctx, created, cart.ID, err)
	}

	prom.IncOrder(string(created.Type), string(created.Status))
	prom.ObserveFulfillment(string(created.Type), s.now().Sub(start).Seconds())
	log.Info("fulfillment finished", "status", created.Status, "provisioned", countProvisioned(created.Esims))

	s.notify(ctx, created)
	return newResult(created, false), nil
}

func (s *FulfillmentService) replay(order *model.Order) *FulfillmentResult {
	prom.IncOrder(string(order.Type), "replayed")
	logger.Info("transaction already fulfilled", "order_code", order.OrderCode, "transaction_id", order.TransactionID)
	return newResult(order, true)
}

// provisionOrder runs every unit, persists one row per unit and resolves the order.
// Panics past this point become errors so the order can still be marked failed.
func (s *FulfillmentService) provisionOrder(ctx context.Context, order *model.Order, cart *model.Cart, units []model.ProvisionUnit) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during fulfillment: %v", r)
		}
	}()

	outcomes := s.provisionAll(ctx, units)

	// every outcome is walked even after a write fails, so no purchased unit goes unlogged
	now := s.now()
	succeeded := 0
	var persistErrs []error
	order.Esims = make([]*model.Esim, 0, len(outcomes))
	for _, outcome := range outcomes {
		saved, ok, err := s.persistOutcome(ctx, order, outcome, now, len(units))
		if err != nil {
			persistErrs = append(persistErrs, err)
			continue
		}
		if ok {
			succeeded++
		}
		order.Esims = append(order.Esims, saved)
	}
	if len(persistErrs) > 0 {
		return errors.Join(persistErrs...)
	}

	order.Status, order.Activated = model.DeriveOrderStatus(succeeded, len(units))
	prom.AddUnits("provisioned", succeeded)

	return s.db.WithinTransaction(ctx, func(ctx context.Context) error {
		if err := s.orders.UpdateOutcome(ctx, order); err != nil {
			return fmt.Errorf("update order outcome: %w", err)
		}
		if err := s.carts.MarkCheckedOut(ctx, cart.ID, false); err != nil {
			return fmt.Errorf("check out cart: %w", err)
		}
		return nil
	})
}

// provisionAll fans out over units with a bounded pool. Each unit yields exactly one outcome.
func (s *FulfillmentService) provisionAll(ctx context.Context, units []model.ProvisionUnit) []model.ProvisionOutcome {
	outcomes := make([]model.ProvisionOutcome, len(units))

	var g errgroup.Group
	g.SetLimit(s.config.Concurrency)
	for i, unit := range units {
		g.Go(func() error {
			outcomes[i] = s.provisionUnit(ctx, unit)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

func (s *FulfillmentService) provisionUnit(ctx context.Context, unit model.ProvisionUnit) (outcome model.ProvisionOutcome) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("provisioning unit panicked", "unit", unit.Index, "panic", r)
			outcome = model.ProvisionFailed{Unit: unit, Reason: fmt.Sprintf("internal error: %v", r)}
		}
	}()

	if unit.Plan == nil {
		return model.ProvisionFailed{Unit: unit, Reason: "plan no longer exists"}
	}

	uctx, cancel := context.WithTimeout(ctx, s.config.UnitTimeout)
	defer cancel()

	sim, err := s.upstream.Provision(uctx, unit.Plan)
	if err != nil {
		reason := err.Error()
		if errors.Is(err, context.DeadlineExceeded) {
			reason = fmt.Sprintf("timed out after %s", s.config.UnitTimeout)
		}
		logger.Warn("provisioning unit failed", "unit", unit.Index, "plan", unit.Plan.ProviderPlanID, "error", err)
		return model.ProvisionFailed{Unit: unit, Reason: reason}
	}
	return model.Provisioned{Unit: unit, Sim: sim}
}

// persistOutcome stores the row for one unit. ok is true only for a provisioned unit that was recorded.
func (s *FulfillmentService) persistOutcome(ctx context.Context, order *model.Order, outcome model.ProvisionOutcome, now time.Time, total int) (*model.Esim, bool, error) {
	unit := outcome.ProvisionUnit()
	label := fmt.Sprintf("unit %d/%d", unit.Index+1, total)
	if unit.Plan != nil {
		label += " (" + unit.Plan.Name + ")"
	}

	switch o := outcome.(type) {
	case model.Provisioned:
		saved, err := s.esims.Create(ctx, model.EsimFromOutcome(order, o, now))
		if err == nil {
			return saved, true, nil
		}

		// the upstream purchase happened but cannot be recorded
		prom.AddUnits("unrecorded", 1)
		logger.Error("provisioned esim could not be recorded",
			"order_code", order.OrderCode,
			"unit", unit.Index,
			"iccid", o.Sim.ICCID,
			"external_id", o.Sim.ExternalID,
			"error", err)
		reason := fmt.Sprintf("provisioned iccid %s could not be recorded: %v", o.Sim.ICCID, err)
		order.AppendError(label + ": " + reason)

		placeholder, perr := s.esims.Create(ctx, model.EsimFromOutcome(order, model.ProvisionFailed{Unit: unit, Reason: reason}, now))
		if perr != nil {
			return nil, false, fmt.Errorf("record %s, provisioned iccid %s: %w", label, o.Sim.ICCID, errors.Join(err, perr))
		}
		return placeholder, false, nil

	case model.ProvisionFailed:
		prom.AddUnits("failed", 1)
		order.AppendError(label + ": " + o.Reason)
		saved, err := s.esims.Create(ctx, model.EsimFromOutcome(order, o, now))
		if err != nil {
			return nil, false, fmt.Errorf("record %s: %w", label, err)
		}
		return saved, false, nil
	}
	return nil, false, fmt.Errorf("unknown outcome %T", outcome)
}

// abort forces the order to FAILED and retires the cart. The cause is still returned.
func (s *FulfillmentService) abort(ctx context.Context, order *model.Order, cartID int64, cause error) (*FulfillmentResult, error) {
	ctx = context.WithoutCancel(ctx)

	if err := s.orders.MarkFailed(ctx, order.ID, cause.Error()); err != nil {
		logger.Error("failed to mark order failed", "order_code", order.OrderCode, "error", err)
	}
	if cartID != 0 {
		if err := s.carts.MarkCheckedOut(ctx, cartID, true); err != nil {
			logger.Error("failed to retire cart", "cart_id", cartID, "error", err)
		}
	}
	prom.IncOrder(string(order.Type), string(model.OrderFailed))

	failed, err := s.orders.GetByID(ctx, order.ID)
	if err != nil {
		order.Status = model.OrderFailed
		order.Activated = false
		order.AppendError(cause.Error())
		failed = order
	}
	s.notify(ctx, failed)
	return newResult(failed, false), cause
}

func (s *FulfillmentService) notify(ctx context.Context, order *model.Order) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.NotifyOrder(context.WithoutCancel(ctx), order); err != nil {
		logger.Error("order notification failed", "order_code", order.OrderCode, "status", order.Status, "error", err)
	}
}

// FulfillTopUp applies one paid top-up to its eSIM. The transaction settles with the upstream outcome.
func (s *FulfillmentService) FulfillTopUp(ctx context.Context, transactionID int64) (*FulfillmentResult, error) {
	txn, err := s.transactions.GetByID(ctx, transactionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, fmt.Errorf("%w: transaction %d does not exist", ErrInvalidTransactionState, transactionID)
		}
		return nil, err
	}
	if !txn.IsTopUp() {
		return nil, fmt.Errorf("%w: transaction %d is not a top-up", ErrInvalidTransactionState, transactionID)
	}

	if existing, err := s.orders.GetByTransactionID(ctx, txn.ID); err == nil {
		return s.replay(existing), nil
	} else if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	if txn.Status != model.TransactionPending {
		return nil, fmt.Errorf("%w: transaction %d is %s", ErrInvalidTransactionState, txn.ID, txn.Status)
	}

	esim, err := s.esims.GetByID(ctx, *txn.EsimID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEsimNotFound
		}
		return nil, err
	}
	if !esim.IsProvisioned() {
		return nil, fmt.Errorf("%w: esim %d was never provisioned", ErrEsimNotFound, esim.ID)
	}

	plan, err := s.catalog.GetTopUpPlan(ctx, *txn.TopUpPlanID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTopUpPlanNotFound
		}
		return nil, err
	}

	order, err := s.orders.CreateWithCode(ctx, &model.Order{
		Type:          model.OrderTypeTopUp,
		Status:        model.OrderProcessing,
		TotalAmount:   txn.Amount,
		TransactionID: txn.ID,
		UserID:        txn.UserID,
		CountryID:     esim.CountryID,
	})
	if errors.Is(err, repository.ErrOrderExists) {
		return s.replay(order), nil
	}
	if err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	log := logger.With("order_code", order.OrderCode, "transaction_id", txn.ID, "esim_id", esim.ID, "top_up_plan", plan.ProviderPlanID)
	start := s.now()

	uctx, cancel := context.WithTimeout(ctx, s.config.UnitTimeout)
	resp, upstreamErr := s.upstream.TopUp(uctx, *esim.ICCID, plan.ProviderPlanID, plan.ProductID)
	cancel()

	var raw json.RawMessage
	if resp != nil {
		raw, _ = json.Marshal(resp)
	} else if upstreamErr != nil {
		raw, _ = json.Marshal(map[string]string{"error": upstreamErr.Error()})
	}
	record := &model.EsimTopUp{EsimID: esim.ID, TopUpPlanID: plan.ID, OrderID: order.ID}

	err = s.db.WithinTransaction(ctx, func(ctx context.Context) error {
		if upstreamErr == nil {
			if _, err := s.transactions.MarkStatus(ctx, txn.ID, model.TransactionSuccess, raw); err != nil {
				return err
			}
			order.Status, order.Activated = model.OrderCompleted, true
			record.Status = model.TopUpSucceeded
			if _, err := s.esims.ApplyTopUp(ctx, esim.ID, model.TopUpGrant{DataAmount: plan.DataAmount, ValidityDays: plan.ValidityDays}, s.now()); err != nil {
				return fmt.Errorf("apply top-up: %w", err)
			}
		} else {
			if _, err := s.transactions.MarkStatus(ctx, txn.ID, model.TransactionFailed, raw); err != nil {
				return err
			}
			order.Status, order.Activated = model.OrderFailed, false
			order.AppendError(upstreamErr.Error())
			record.Status = model.TopUpFailed
			record.ErrorMessage = upstreamErr.Error()
		}
		if err := s.orders.UpdateOutcome(ctx, order); err != nil {
			return fmt.Errorf("update order outcome: %w", err)
		}
		saved, err := s.esims.CreateTopUp(ctx, record)
		if err != nil {
			return fmt.Errorf("record top-up: %w", err)
		}
		record = saved
		return nil
	})
	if err != nil {
		log.Error("top-up fulfillment aborted", "error", err, "upstream_error", upstreamErr)
		s.settleAbortedTopUp(ctx, txn.ID, raw, upstreamErr, err)
		return s.abort(ctx, order, 0, err)
	}

	if upstreamErr != nil {
		log.Warn("top-up rejected upstream", "error", upstreamErr)
	} else {
		log.Info("top-up applied", "data_amount", plan.DataAmount, "validity_days", plan.ValidityDays)
	}
	prom.IncOrder(string(order.Type), string(order.Status))
	prom.ObserveFulfillment(string(order.Type), s.now().Sub(start).Seconds())

	s.notify(ctx, order)
	result := newResult(order, false)
	result.TopUp = record
	return result, nil
}

// settleAbortedTopUp moves the transaction out of PENDING once its local records were rolled back.
// The upstream outcome decides the status; the write failure is kept next to the upstream payload.
func (s *FulfillmentService) settleAbortedTopUp(ctx context.Context, transactionID int64, upstream json.RawMessage, upstreamErr, cause error) {
	status := model.TransactionSuccess
	if upstreamErr != nil {
		status = model.TransactionFailed
	}
	raw, _ := json.Marshal(map[string]any{"upstream": upstream, "error": cause.Error()})
	if _, err := s.transactions.MarkStatus(context.WithoutCancel(ctx), transactionID, status, raw); err != nil {
		logger.Error("failed to settle aborted top-up", "transaction_id", transactionID, "status", status, "error", err)
	}
}

func countProvisioned(esims []*model.Esim) int {
	n := 0
	for _, e := range esims {
		if e.IsProvisioned() {
			n++
		}
	}
	return n
}
