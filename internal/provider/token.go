package provider

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/internal/repository"
	"github.com/nimasrn/esim-gateway/pkg/logger"
	"github.com/nimasrn/esim-gateway/pkg/prom"
	"golang.org/x/sync/singleflight"
)

// TokenStore is the durable home of the provider credential.
type TokenStore interface {
	GetByProvider(ctx context.Context, provider string) (*model.ProviderToken, error)
	Save(ctx context.Context, provider, token string, expiresAt time.Time) (*model.ProviderToken, error)
}

// Authenticator talks to the upstream login and auth-check endpoints.
type Authenticator interface {
	Login(ctx context.Context) (token string, expiresAt time.Time, err error)
	AuthCheck(ctx context.Context, token string) (bool, error)
}

type cachedToken struct {
	token      string
	expiresAt  time.Time
	verifiedAt time.Time
}

// TokenManager hands out a valid bearer token for the upstream API.
//
// The stored row is the source of truth. A verified token is additionally kept
// in memory for verifyInterval, never past its expiry, and dropped on any 401.
// Concurrent refreshes within the process share one login.
type TokenManager struct {
	provider       string
	store          TokenStore
	auth           Authenticator
	verifyInterval time.Duration
	now            func() time.Time

	group singleflight.Group

	mu     sync.Mutex
	cached *cachedToken
}

func NewTokenManager(provider string, store TokenStore, auth Authenticator, verifyInterval time.Duration) *TokenManager {
	return &TokenManager{
		provider:       provider,
		store:          store,
		auth:           auth,
		verifyInterval: verifyInterval,
		now:            time.Now,
	}
}

// GetValidToken returns a token that is stored, unexpired and accepted by the upstream.
// It fails with ErrProviderAuth only when a needed login fails.
func (m *TokenManager) GetValidToken(ctx context.Context) (string, error) {
	if tok, ok := m.fromCache(); ok {
		return tok, nil
	}
	return m.shared(ctx, "resolve", m.resolve)
}

// ForceRefresh replaces a token the upstream just rejected. When another caller
// already stored a different unexpired token, that one is reused without a login.
func (m *TokenManager) ForceRefresh(ctx context.Context, rejected string) (string, error) {
	m.Invalidate()
	return m.shared(ctx, "refresh:"+rejected, func(ctx context.Context) (string, error) {
		stored, err := m.store.GetByProvider(ctx, m.provider)
		if err == nil && stored.Token != rejected && !stored.Expired(m.now()) {
			return stored.Token, nil
		}
		return m.refresh(ctx, "rejected")
	})
}

// Invalidate drops the in-memory copy.
func (m *TokenManager) Invalidate() {
	m.mu.Lock()
	m.cached = nil
	m.mu.Unlock()
}

func (m *TokenManager) shared(ctx context.Context, key string, fn func(context.Context) (string, error)) (string, error) {
	// the shared call must not die with whichever caller happened to start it
	detached := context.WithoutCancel(ctx)
	ch := m.group.DoChan(key, func() (any, error) {
		return fn(detached)
	})

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

func (m *TokenManager) resolve(ctx context.Context) (string, error) {
	stored, err := m.store.GetByProvider(ctx, m.provider)
	if errors.Is(err, repository.ErrTokenNotFound) {
		return m.refresh(ctx, "missing")
	}
	if err != nil {
		return "", fmt.Errorf("load provider token: %w", err)
	}

	if stored.Expired(m.now()) {
		return m.refresh(ctx, "expired")
	}

	valid, err := m.auth.AuthCheck(ctx, stored.Token)
	if err != nil {
		logger.Warn("provider token verification errored", "provider", m.provider, "error", err)
	}
	if !valid {
		return m.refresh(ctx, "verification_failed")
	}

	m.remember(stored.Token, stored.ExpiresAt)
	return stored.Token, nil
}

func (m *TokenManager) refresh(ctx context.Context, reason string) (string, error) {
	prom.IncTokenRefresh(reason)
	logger.Info("refreshing provider token", "provider", m.provider, "reason", reason)

	token, expiresAt, err := m.auth.Login(ctx)
	if err != nil {
		if errors.Is(err, ErrProviderAuth) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrProviderAuth, err)
	}

	if _, err := m.store.Save(ctx, m.provider, token, expiresAt); err != nil {
		// the token is valid even if other instances cannot see it yet
		logger.Error("failed to persist provider token", "provider", m.provider, "error", err)
	}

	m.remember(token, expiresAt)
	return token, nil
}

func (m *TokenManager) remember(token string, expiresAt time.Time) {
	if m.verifyInterval <= 0 {
		return
	}
	m.mu.Lock()
	m.cached = &cachedToken{token: token, expiresAt: expiresAt, verifiedAt: m.now()}
	m.mu.Unlock()
}

func (m *TokenManager) fromCache() (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := m.cached
	if c == nil {
		return "", false
	}
	now := m.now()
	if !now.Before(c.expiresAt) || now.Sub(c.verifiedAt) >= m.verifyInterval {
		m.cached = nil
		return "", false
	}
	return c.token, true
}
