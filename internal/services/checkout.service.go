package services

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/internal/payment"
	"github.com/nimasrn/esim-gateway/internal/repository"
	"github.com/nimasrn/esim-gateway/pkg/logger"
)

type CheckoutResult struct {
	Transaction  *model.Transaction `json:"transaction"`
	ClientSecret string             `json:"client_secret,omitempty"`
	Fulfillment  *FulfillmentResult `json:"fulfillment,omitempty"`
}

type TopUpRequest struct {
	EsimID      int64  `json:"esim_id"`
	TopUpPlanID int64  `json:"top_up_plan_id"`
	Method      string `json:"payment_method"`
}

func (r TopUpRequest) Validate() error {
	if r.EsimID <= 0 {
		return errors.New("esim_id is required")
	}
	if r.TopUpPlanID <= 0 {
		return errors.New("top_up_plan_id is required")
	}
	return nil
}

// CheckoutService opens payments. Card payments wait for the gateway webhook,
// cash payments are settled and fulfilled right away.
type CheckoutService struct {
	transactions TransactionRepository
	carts        CartRepository
	esims        EsimRepository
	catalog      CatalogRepository
	gateway      payment.Gateway
	fulfillment  *FulfillmentService
	currency     string
}

func NewCheckoutService(transactions TransactionRepository, carts CartRepository, esims EsimRepository, catalog CatalogRepository, gateway payment.Gateway, fulfillment *FulfillmentService, currency string) *CheckoutService {
	return &CheckoutService{
		transactions: transactions,
		carts:        carts,
		esims:        esims,
		catalog:      catalog,
		gateway:      gateway,
		fulfillment:  fulfillment,
		currency:     currency,
	}
}

func (s *CheckoutService) Checkout(ctx context.Context, userID int64, method string) (*CheckoutResult, error) {
	pm, err := model.ParsePaymentMethod(method)
	if err != nil {
		return nil, ErrInvalidPaymentMethod
	}

	cart, err := s.carts.GetActive(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrNoValidCart
		}
		return nil, err
	}
	if cart.UnitCount() == 0 {
		return nil, ErrEmptyCart
	}

	cartID := cart.ID
	txn := &model.Transaction{
		Method:   pm,
		Amount:   cart.Total(),
		Currency: s.currency,
		Status:   model.TransactionPending,
		UserID:   userID,
		CartID:   &cartID,
	}
	metadata := map[string]string{
		"user_id": strconv.FormatInt(userID, 10),
		"cart_id": strconv.FormatInt(cart.ID, 10),
	}

	if pm == model.PaymentCard {
		return s.openCardPayment(ctx, txn, metadata)
	}

	txn.ExternalRef = payment.NewCashRef()
	txn.Status = model.TransactionSuccess
	created, err := s.transactions.Create(ctx, txn)
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	logger.Info("cash checkout accepted", "transaction_id", created.ID, "cart_id", cart.ID, "amount", created.Amount)

	res, err := s.fulfillment.Fulfill(ctx, created.ID, userID)
	return &CheckoutResult{Transaction: created, Fulfillment: res}, err
}

// InitiateTopUp opens a payment for adding a top-up plan to one of the user's eSIMs.
func (s *CheckoutService) InitiateTopUp(ctx context.Context, userID int64, req TopUpRequest) (*CheckoutResult, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	pm, err := model.ParsePaymentMethod(req.Method)
	if err != nil {
		return nil, ErrInvalidPaymentMethod
	}

	esim, err := s.esims.GetByID(ctx, req.EsimID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrEsimNotFound
		}
		return nil, err
	}
	if esim.UserID != userID {
		return nil, ErrEsimNotFound
	}
	if !esim.IsProvisioned() {
		return nil, invalid(errors.New("esim was never provisioned and cannot be topped up"))
	}

	plan, err := s.catalog.GetTopUpPlan(ctx, req.TopUpPlanID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTopUpPlanNotFound
		}
		return nil, err
	}
	if !plan.IsActive {
		return nil, ErrTopUpPlanNotFound
	}

	esimID, planID := esim.ID, plan.ID
	txn := &model.Transaction{
		Method:      pm,
		Amount:      plan.Price,
		Currency:    s.currency,
		Status:      model.TransactionPending,
		UserID:      userID,
		EsimID:      &esimID,
		TopUpPlanID: &planID,
	}
	metadata := map[string]string{
		"user_id":        strconv.FormatInt(userID, 10),
		"esim_id":        strconv.FormatInt(esim.ID, 10),
		"top_up_plan_id": strconv.FormatInt(plan.ID, 10),
	}

	if pm == model.PaymentCard {
		return s.openCardPayment(ctx, txn, metadata)
	}

	// cash top-ups stay PENDING until the upstream answers
	txn.ExternalRef = payment.NewCashRef()
	created, err := s.transactions.Create(ctx, txn)
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	res, err := s.fulfillment.FulfillTopUp(ctx, created.ID)
	if err == nil {
		if fresh, gerr := s.transactions.GetByID(ctx, created.ID); gerr == nil {
			created = fresh
		}
	}
	return &CheckoutResult{Transaction: created, Fulfillment: res}, err
}

func (s *CheckoutService) openCardPayment(ctx context.Context, txn *model.Transaction, metadata map[string]string) (*CheckoutResult, error) {
	intent, err := s.gateway.CreateIntent(ctx, txn.Amount, txn.Currency, metadata)
	if err != nil {
		if errors.Is(err, payment.ErrInvalidAmount) {
			return nil, invalid(err)
		}
		return nil, fmt.Errorf("open card payment: %w", err)
	}

	txn.ExternalRef = intent.Ref
	txn.RawResponse = intent.Raw
	created, err := s.transactions.Create(ctx, txn)
	if err != nil {
		return nil, fmt.Errorf("create transaction: %w", err)
	}
	logger.Info("card payment opened", "transaction_id", created.ID, "ref", intent.Ref, "amount", created.Amount, "topup", created.IsTopUp())
	return &CheckoutResult{Transaction: created, ClientSecret: intent.ClientSecret}, nil
}
