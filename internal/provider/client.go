package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net/url"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/pkg/logger"
	"github.com/nimasrn/esim-gateway/pkg/prom"
	"github.com/valyala/fasthttp"
)

const (
	endpointLogin     = "login"
	endpointAuthCheck = "auth_check"
	endpointReserve   = "reserve"
	endpointPurchase  = "purchase"
	endpointTopUp     = "topup"
	endpointPlans     = "plans"
	endpointTopUps    = "topup_plans"

	defaultTokenTTL = time.Hour
)

type Config struct {
	Name                string
	BaseURL             string
	Username            string
	Password            string
	Timeout             time.Duration
	TokenVerifyInterval time.Duration
	BreakerThreshold    int
	BreakerTimeout      time.Duration
	MaxConns            int
}

// Client is the upstream wholesale eSIM API. Every authorized call goes through
// the token manager and is retried once with a fresh token on a 401.
type Client struct {
	config  Config
	http    *fasthttp.Client
	breaker *breaker
	tokens  *TokenManager
}

func NewClient(config Config, store TokenStore) (*Client, error) {
	if config.BaseURL == "" {
		return nil, errors.New("provider base url is required")
	}
	if config.Name == "" {
		return nil, errors.New("provider name is required")
	}
	if config.Timeout <= 0 {
		config.Timeout = 15 * time.Second
	}
	if config.MaxConns <= 0 {
		config.MaxConns = 64
	}

	c := &Client{
		config: config,
		http: &fasthttp.Client{
			Name:                "esim-gateway",
			MaxConnsPerHost:     config.MaxConns,
			ReadTimeout:         config.Timeout,
			WriteTimeout:        config.Timeout,
			MaxIdleConnDuration: 60 * time.Second,
		},
		breaker: newBreaker(config.Name, config.BreakerThreshold, config.BreakerTimeout),
	}
	c.tokens = NewTokenManager(config.Name, store, c, config.TokenVerifyInterval)

	logger.Info("provider client initialized", "provider", config.Name, "url", config.BaseURL, "timeout", config.Timeout)
	return c, nil
}

func (c *Client) Name() string {
	return c.config.Name
}

func (c *Client) Tokens() *TokenManager {
	return c.tokens
}

func (c *Client) Stats() Stats {
	return c.breaker.Stats()
}

// Login exchanges the configured credentials for a bearer token.
func (c *Client) Login(ctx context.Context) (string, time.Time, error) {
	body, err := json.Marshal(loginRequest{Username: c.config.Username, Password: c.config.Password})
	if err != nil {
		return "", time.Time{}, err
	}

	raw, status, err := c.do(ctx, endpointLogin, "", func(req *fasthttp.Request) {
		req.Header.SetMethod(fasthttp.MethodPost)
		req.SetRequestURI(c.config.BaseURL + "/token")
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	})
	if err != nil {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrProviderAuth, err)
	}
	if !isSuccess(status) {
		return "", time.Time{}, fmt.Errorf("%w: %v", ErrProviderAuth, &RequestError{Endpoint: endpointLogin, StatusCode: status, Body: truncate(raw)})
	}

	var resp loginResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", time.Time{}, fmt.Errorf("%w: decode login response: %v", ErrProviderAuth, err)
	}
	if resp.Token == "" {
		return "", time.Time{}, fmt.Errorf("%w: empty token", ErrProviderAuth)
	}

	expiresAt := time.Now().Add(defaultTokenTTL)
	switch {
	case resp.ExpiresAt != nil:
		expiresAt = *resp.ExpiresAt
	case resp.ExpiresIn > 0:
		expiresAt = time.Now().Add(time.Duration(resp.ExpiresIn) * time.Second)
	}
	return resp.Token, expiresAt, nil
}

// AuthCheck reports whether the upstream still accepts token.
func (c *Client) AuthCheck(ctx context.Context, token string) (bool, error) {
	raw, status, err := c.do(ctx, endpointAuthCheck, token, func(req *fasthttp.Request) {
		req.Header.SetMethod(fasthttp.MethodGet)
		req.SetRequestURI(c.config.BaseURL + "/auth-check")
	})
	if err != nil {
		return false, err
	}
	switch {
	case isSuccess(status):
		return true, nil
	case status == fasthttp.StatusUnauthorized || status == fasthttp.StatusForbidden:
		return false, nil
	default:
		return false, &RequestError{Endpoint: endpointAuthCheck, StatusCode: status, Body: truncate(raw)}
	}
}

// Reserve holds one SIM of the given upstream plan and returns the reservation id.
func (c *Client) Reserve(ctx context.Context, productPlanID string) (string, error) {
	raw, err := c.doAuthorized(ctx, endpointReserve, func(req *fasthttp.Request) {
		req.Header.SetMethod(fasthttp.MethodGet)
		req.SetRequestURI(c.config.BaseURL + "/sims/reserve?product_plan_id=" + url.QueryEscape(productPlanID))
	})
	if err != nil {
		return "", err
	}

	var resp reserveResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", fmt.Errorf("decode reserve response: %w", err)
	}
	if resp.ReserveID == "" {
		return "", fmt.Errorf("%w: empty reservation id", ErrProviderRequest)
	}
	return resp.ReserveID, nil
}

// Purchase turns a reservation into a SIM.
func (c *Client) Purchase(ctx context.Context, reserveID string) (*PurchaseResponse, error) {
	raw, err := c.doAuthorized(ctx, endpointPurchase, func(req *fasthttp.Request) {
		req.Header.SetMethod(fasthttp.MethodPost)
		req.SetRequestURI(c.config.BaseURL + "/sims/" + url.PathEscape(reserveID) + "/purchase")
	})
	if err != nil {
		return nil, err
	}

	var resp PurchaseResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode purchase response: %w", err)
	}
	if resp.ICCID == "" {
		return nil, ErrEmptyPurchase
	}
	return &resp, nil
}

// Provision reserves and buys one SIM of plan.
func (c *Client) Provision(ctx context.Context, plan *model.Plan) (model.ProvisionedSim, error) {
	reserveID, err := c.Reserve(ctx, plan.ProviderPlanID)
	if err != nil {
		return model.ProvisionedSim{}, fmt.Errorf("reserve %s: %w", plan.ProviderPlanID, err)
	}
	p, err := c.Purchase(ctx, reserveID)
	if err != nil {
		return model.ProvisionedSim{}, fmt.Errorf("purchase %s: %w", reserveID, err)
	}

	externalID := p.ID
	if externalID == "" {
		externalID = reserveID
	}
	return model.ProvisionedSim{
		ExternalID:   externalID,
		ICCID:        p.ICCID,
		QRCodeURL:    p.QRCodeURL,
		ProductName:  p.ProductName,
		DataAmount:   p.DataAmount,
		ValidityDays: p.ValidityDays,
		Price:        p.Price,
	}, nil
}

// TopUp adds a top-up plan to an existing SIM. A response that is not a success is ErrTopUpRejected.
func (c *Client) TopUp(ctx context.Context, iccid, providerPlanID, productID string) (*TopUpResponse, error) {
	var form bytes.Buffer
	w := multipart.NewWriter(&form)
	for _, field := range [][2]string{
		{"product_plan_id", providerPlanID},
		{"product_id", productID},
		{"iccid", iccid},
	} {
		if err := w.WriteField(field[0], field[1]); err != nil {
			return nil, err
		}
	}
	if err := w.Close(); err != nil {
		return nil, err
	}

	raw, err := c.doAuthorized(ctx, endpointTopUp, func(req *fasthttp.Request) {
		req.Header.SetMethod(fasthttp.MethodPost)
		req.SetRequestURI(c.config.BaseURL + "/sims/" + url.PathEscape(iccid) + "/topup")
		req.Header.SetContentType(w.FormDataContentType())
		req.SetBody(form.Bytes())
	})
	if err != nil {
		return nil, err
	}

	var resp TopUpResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode top-up response: %w", err)
	}
	if !resp.Succeeded() {
		msg := resp.Message
		if msg == "" {
			msg = resp.Status
		}
		return &resp, fmt.Errorf("%w: %s", ErrTopUpRejected, msg)
	}
	return &resp, nil
}

func (c *Client) ListPlans(ctx context.Context) ([]CatalogPlan, error) {
	raw, err := c.doAuthorized(ctx, endpointPlans, func(req *fasthttp.Request) {
		req.Header.SetMethod(fasthttp.MethodGet)
		req.SetRequestURI(c.config.BaseURL + "/plans")
	})
	if err != nil {
		return nil, err
	}
	var resp listResponse[CatalogPlan]
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode plans: %w", err)
	}
	return resp.Data, nil
}

func (c *Client) ListTopUpPlans(ctx context.Context) ([]CatalogTopUpPlan, error) {
	raw, err := c.doAuthorized(ctx, endpointTopUps, func(req *fasthttp.Request) {
		req.Header.SetMethod(fasthttp.MethodGet)
		req.SetRequestURI(c.config.BaseURL + "/topup-plans")
	})
	if err != nil {
		return nil, err
	}
	var resp listResponse[CatalogTopUpPlan]
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode top-up plans: %w", err)
	}
	return resp.Data, nil
}

// doAuthorized sends an authorized request. A 401 drops the token, forces one
// refresh and retries once. A second 401 is ErrUnauthorized.
func (c *Client) doAuthorized(ctx context.Context, endpoint string, build func(*fasthttp.Request)) ([]byte, error) {
	token, err := c.tokens.GetValidToken(ctx)
	if err != nil {
		return nil, err
	}

	raw, status, err := c.do(ctx, endpoint, token, build)
	if err != nil {
		return nil, err
	}

	if status == fasthttp.StatusUnauthorized {
		logger.Warn("provider rejected token, refreshing once", "provider", c.config.Name, "endpoint", endpoint)
		token, err = c.tokens.ForceRefresh(ctx, token)
		if err != nil {
			return nil, err
		}
		raw, status, err = c.do(ctx, endpoint, token, build)
		if err != nil {
			return nil, err
		}
		if status == fasthttp.StatusUnauthorized {
			c.tokens.Invalidate()
			return nil, fmt.Errorf("%s: %w", endpoint, ErrUnauthorized)
		}
	}

	if !isSuccess(status) {
		return nil, &RequestError{Endpoint: endpoint, StatusCode: status, Body: truncate(raw)}
	}
	return raw, nil
}

// do performs one HTTP exchange bounded by the ctx deadline or the configured timeout.
func (c *Client) do(ctx context.Context, endpoint, token string, build func(*fasthttp.Request)) ([]byte, int, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	if !c.breaker.Allow() {
		prom.ObserveProviderRequest(endpoint, "circuit_open", 0)
		return nil, 0, ErrCircuitOpen
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	build(req)
	if token != "" {
		req.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
	}
	req.Header.Set(fasthttp.HeaderAccept, "application/json")

	deadline := time.Now().Add(c.config.Timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	start := time.Now()
	err := c.http.DoDeadline(req, resp, deadline)
	elapsed := time.Since(start)

	if err != nil {
		c.breaker.RecordFailure()
		if errors.Is(err, fasthttp.ErrTimeout) {
			prom.ObserveProviderRequest(endpoint, "timeout", elapsed.Seconds())
			return nil, 0, fmt.Errorf("%s: %w", endpoint, context.DeadlineExceeded)
		}
		prom.ObserveProviderRequest(endpoint, "error", elapsed.Seconds())
		return nil, 0, fmt.Errorf("%s: %w", endpoint, err)
	}

	status := resp.StatusCode()
	if status >= fasthttp.StatusInternalServerError {
		c.breaker.RecordFailure()
	} else {
		c.breaker.RecordSuccess(elapsed)
	}
	prom.ObserveProviderRequest(endpoint, fmt.Sprintf("%dxx", status/100), elapsed.Seconds())

	body := make([]byte, len(resp.Body()))
	copy(body, resp.Body())
	return body, status, nil
}

func isSuccess(status int) bool {
	return status >= 200 && status < 300
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
