// Package mockprovider is an in-memory stand-in for the upstream wholesale eSIM API.
package mockprovider

import (
	"fmt"
	"math/rand"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

type Plan struct {
	ID           string          `json:"id"`
	CountryCode  string          `json:"country_code"`
	CountryName  string          `json:"country_name"`
	Name         string          `json:"name"`
	DataAmount   int64           `json:"data_amount"`
	ValidityDays int             `json:"validity_days"`
	Price        decimal.Decimal `json:"price"`
}

type TopUpPlan struct {
	Plan
	ProductID string `json:"product_id"`
}

type Sim struct {
	ID           string          `json:"id"`
	ICCID        string          `json:"iccid"`
	QRCodeURL    string          `json:"qr_code_url"`
	ProductName  string          `json:"product_name"`
	DataAmount   int64           `json:"data_amount"`
	ValidityDays int             `json:"validity_days"`
	Price        decimal.Decimal `json:"price"`
	Status       string          `json:"status"`
}

type Options struct {
	Username    string
	Password    string
	TokenTTL    time.Duration
	FailureRate float64
	MinDelay    time.Duration
	MaxDelay    time.Duration
}

// MockProvider simulates the wholesale eSIM API: token login, reserve then purchase, top-ups and the catalog.
type MockProvider struct {
	mu           sync.Mutex
	opts         Options
	tokens       map[string]time.Time
	reservations map[string]Plan
	sims         map[string]*Sim
	plans        []Plan
	topUpPlans   []TopUpPlan
	iccidSeq     int64
	rng          *rand.Rand
}

func NewMockProvider(opts Options) *MockProvider {
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = time.Hour
	}
	return &MockProvider{
		opts:         opts,
		tokens:       make(map[string]time.Time),
		reservations: make(map[string]Plan),
		sims:         make(map[string]*Sim),
		plans:        defaultPlans(),
		topUpPlans:   defaultTopUpPlans(),
		rng:          rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func defaultPlans() []Plan {
	return []Plan{
		{ID: "fr-1gb-7d", CountryCode: "FR", CountryName: "France", Name: "France 1GB 7 days", DataAmount: 1024, ValidityDays: 7, Price: decimal.RequireFromString("4.50")},
		{ID: "fr-5gb-30d", CountryCode: "FR", CountryName: "France", Name: "France 5GB 30 days", DataAmount: 5120, ValidityDays: 30, Price: decimal.RequireFromString("12.00")},
		{ID: "de-3gb-15d", CountryCode: "DE", CountryName: "Germany", Name: "Germany 3GB 15 days", DataAmount: 3072, ValidityDays: 15, Price: decimal.RequireFromString("8.00")},
		{ID: "jp-10gb-30d", CountryCode: "JP", CountryName: "Japan", Name: "Japan 10GB 30 days", DataAmount: 10240, ValidityDays: 30, Price: decimal.RequireFromString("24.00")},
	}
}

func defaultTopUpPlans() []TopUpPlan {
	return []TopUpPlan{
		{Plan: Plan{ID: "fr-topup-1gb", CountryCode: "FR", CountryName: "France", Name: "France +1GB", DataAmount: 1024, ValidityDays: 7, Price: decimal.RequireFromString("3.00")}, ProductID: "topup-fr"},
		{Plan: Plan{ID: "jp-topup-5gb", CountryCode: "JP", CountryName: "Japan", Name: "Japan +5GB", DataAmount: 5120, ValidityDays: 30, Price: decimal.RequireFromString("11.00")}, ProductID: "topup-jp"},
	}
}

func (m *MockProvider) delay() {
	if m.opts.MaxDelay <= m.opts.MinDelay {
		time.Sleep(m.opts.MinDelay)
		return
	}
	m.mu.Lock()
	d := m.opts.MinDelay + time.Duration(m.rng.Int63n(int64(m.opts.MaxDelay-m.opts.MinDelay)))
	m.mu.Unlock()
	time.Sleep(d)
}

func (m *MockProvider) shouldFail() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.rng.Float64() < m.opts.FailureRate
}

func (m *MockProvider) Login(c *gin.Context) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}
	if m.opts.Username != "" && (req.Username != m.opts.Username || req.Password != m.opts.Password) {
		log.Warn().Str("username", req.Username).Msg("login rejected")
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	token := uuid.NewString()
	m.mu.Lock()
	m.tokens[token] = time.Now().Add(m.opts.TokenTTL)
	m.mu.Unlock()

	log.Info().Str("username", req.Username).Msg("token issued")
	c.JSON(http.StatusOK, gin.H{"token": token, "expires_in": int64(m.opts.TokenTTL.Seconds())})
}

// RequireToken rejects requests whose bearer token was never issued, was revoked or has expired.
func (m *MockProvider) RequireToken(c *gin.Context) {
	token := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	m.mu.Lock()
	exp, ok := m.tokens[token]
	m.mu.Unlock()
	if !ok || time.Now().After(exp) {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or expired token"})
		return
	}
	c.Next()
}

func (m *MockProvider) AuthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (m *MockProvider) Reserve(c *gin.Context) {
	planID := c.Query("product_plan_id")
	m.delay()

	plan, ok := m.findPlan(planID)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown product plan " + planID})
		return
	}
	if m.shouldFail() {
		log.Warn().Str("plan", planID).Msg("reservation failed")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "no inventory for " + planID})
		return
	}

	reserveID := "res_" + uuid.NewString()[:12]
	m.mu.Lock()
	m.reservations[reserveID] = plan
	m.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"reserve_id": reserveID})
}

func (m *MockProvider) Purchase(c *gin.Context) {
	reserveID := c.Param("id")
	m.delay()

	m.mu.Lock()
	plan, ok := m.reservations[reserveID]
	if ok {
		delete(m.reservations, reserveID)
	}
	m.mu.Unlock()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown reservation " + reserveID})
		return
	}

	m.mu.Lock()
	m.iccidSeq++
	iccid := fmt.Sprintf("8988%015d", m.iccidSeq)
	sim := &Sim{
		ID:           "sim_" + uuid.NewString()[:12],
		ICCID:        iccid,
		QRCodeURL:    "https://qr.mock-provider.local/" + iccid + ".png",
		ProductName:  plan.Name,
		DataAmount:   plan.DataAmount,
		ValidityDays: plan.ValidityDays,
		Price:        plan.Price,
		Status:       "ACTIVE",
	}
	m.sims[iccid] = sim
	m.mu.Unlock()

	log.Info().Str("iccid", iccid).Str("plan", plan.ID).Msg("sim purchased")
	c.JSON(http.StatusOK, sim)
}

func (m *MockProvider) TopUp(c *gin.Context) {
	iccid := c.Param("iccid")
	planID := c.PostForm("product_plan_id")
	productID := c.PostForm("product_id")
	m.delay()

	m.mu.Lock()
	sim, ok := m.sims[iccid]
	m.mu.Unlock()
	if !ok {
		c.JSON(http.StatusOK, gin.H{"status": "failed", "message": "unknown iccid " + iccid})
		return
	}

	plan, ok := m.findTopUpPlan(planID)
	if !ok || plan.ProductID != productID {
		c.JSON(http.StatusOK, gin.H{"status": "failed", "message": "unknown top-up plan " + planID})
		return
	}
	if m.shouldFail() {
		c.JSON(http.StatusOK, gin.H{"status": "failed", "message": "top-up temporarily unavailable"})
		return
	}

	m.mu.Lock()
	sim.DataAmount += plan.DataAmount
	m.mu.Unlock()

	log.Info().Str("iccid", iccid).Str("plan", planID).Msg("top-up applied")
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}

func (m *MockProvider) ListPlans(c *gin.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"data": m.plans})
}

func (m *MockProvider) ListTopUpPlans(c *gin.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.JSON(http.StatusOK, gin.H{"data": m.topUpPlans})
}

// UpdateConfig changes the failure rate and can revoke every issued token to exercise re-login.
func (m *MockProvider) UpdateConfig(c *gin.Context) {
	var req struct {
		FailureRate  *float64 `json:"failure_rate"`
		RevokeTokens bool     `json:"revoke_tokens"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "details": err.Error()})
		return
	}

	m.mu.Lock()
	if req.FailureRate != nil && *req.FailureRate >= 0 && *req.FailureRate <= 1 {
		m.opts.FailureRate = *req.FailureRate
	}
	if req.RevokeTokens {
		m.tokens = make(map[string]time.Time)
	}
	rate := m.opts.FailureRate
	m.mu.Unlock()

	log.Info().Float64("failure_rate", rate).Bool("revoked", req.RevokeTokens).Msg("configuration updated")
	c.JSON(http.StatusOK, gin.H{"failure_rate": rate})
}

// SetFailureRate changes the share of reservations and top-ups that fail.
func (m *MockProvider) SetFailureRate(rate float64) {
	m.mu.Lock()
	m.opts.FailureRate = rate
	m.mu.Unlock()
}

// SimCount returns how many SIMs were sold.
func (m *MockProvider) SimCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sims)
}

func (m *MockProvider) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
}

func (m *MockProvider) findPlan(id string) (Plan, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

func (m *MockProvider) findTopUpPlan(id string) (TopUpPlan, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.topUpPlans {
		if p.ID == id {
			return p, true
		}
	}
	return TopUpPlan{}, false
}

func SetupRouter(m *MockProvider) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	router.Use(func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("duration", time.Since(start)).
			Msg("request processed")
	})

	router.POST("/token", m.Login)
	router.GET("/health", m.Health)
	router.PUT("/config", m.UpdateConfig)

	authed := router.Group("/", m.RequireToken)
	{
		authed.GET("/auth-check", m.AuthCheck)
		authed.GET("/sims/reserve", m.Reserve)
		authed.POST("/sims/:id/purchase", m.Purchase)
		authed.POST("/sims/:id/topup", m.topUpByID)
		authed.GET("/plans", m.ListPlans)
		authed.GET("/topup-plans", m.ListTopUpPlans)
	}
	return router
}

// gin requires one wildcard name per path segment, so the top-up route shares ":id" with purchase.
func (m *MockProvider) topUpByID(c *gin.Context) {
	c.Params = append(c.Params, gin.Param{Key: "iccid", Value: c.Param("id")})
	m.TopUp(c)
}
