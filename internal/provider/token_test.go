package provider

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryTokenStore struct {
	mu    sync.Mutex
	row   *model.ProviderToken
	saves atomic.Int32
}

func (s *memoryTokenStore) GetByProvider(_ context.Context, provider string) (*model.ProviderToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.row == nil || s.row.Provider != provider {
		return nil, repository.ErrTokenNotFound
	}
	cp := *s.row
	return &cp, nil
}

func (s *memoryTokenStore) Save(_ context.Context, provider, token string, expiresAt time.Time) (*model.ProviderToken, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saves.Add(1)
	s.row = &model.ProviderToken{ID: 1, Provider: provider, Token: token, ExpiresAt: expiresAt}
	cp := *s.row
	return &cp, nil
}

type fakeAuth struct {
	logins    atomic.Int32
	checks    atomic.Int32
	loginErr  error
	valid     func(token string) bool
	nextToken func(n int32) string
	delay     time.Duration
}

func (a *fakeAuth) Login(context.Context) (string, time.Time, error) {
	n := a.logins.Add(1)
	if a.delay > 0 {
		time.Sleep(a.delay)
	}
	if a.loginErr != nil {
		return "", time.Time{}, a.loginErr
	}
	tok := "fresh"
	if a.nextToken != nil {
		tok = a.nextToken(n)
	}
	return tok, time.Now().Add(time.Hour), nil
}

func (a *fakeAuth) AuthCheck(_ context.Context, token string) (bool, error) {
	a.checks.Add(1)
	if a.valid == nil {
		return true, nil
	}
	return a.valid(token), nil
}

func TestTokenManager_GetValidToken(t *testing.T) {
	ctx := context.Background()

	t.Run("missing row logs in and persists", func(t *testing.T) {
		store := &memoryTokenStore{}
		auth := &fakeAuth{}
		m := NewTokenManager("wholesale", store, auth, 0)

		tok, err := m.GetValidToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "fresh", tok)
		assert.Equal(t, int32(1), auth.logins.Load())
		assert.Equal(t, "fresh", store.row.Token)
	})

	t.Run("expired row triggers exactly one login", func(t *testing.T) {
		store := &memoryTokenStore{row: &model.ProviderToken{Provider: "wholesale", Token: "old", ExpiresAt: time.Now().Add(-time.Minute)}}
		auth := &fakeAuth{}
		m := NewTokenManager("wholesale", store, auth, 0)

		tok, err := m.GetValidToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "fresh", tok)
		assert.Equal(t, int32(1), auth.logins.Load())
		assert.Equal(t, int32(0), auth.checks.Load(), "expired tokens are not verified")
		assert.Equal(t, int32(1), store.saves.Load())
	})

	t.Run("unexpired token failing verification is refreshed", func(t *testing.T) {
		store := &memoryTokenStore{row: &model.ProviderToken{Provider: "wholesale", Token: "revoked", ExpiresAt: time.Now().Add(time.Hour)}}
		auth := &fakeAuth{valid: func(tok string) bool { return tok != "revoked" }}
		m := NewTokenManager("wholesale", store, auth, 0)

		tok, err := m.GetValidToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "fresh", tok)
		assert.Equal(t, int32(1), auth.logins.Load())
		assert.Equal(t, "fresh", store.row.Token)
	})

	t.Run("verified token is returned unchanged", func(t *testing.T) {
		store := &memoryTokenStore{row: &model.ProviderToken{Provider: "wholesale", Token: "good", ExpiresAt: time.Now().Add(time.Hour)}}
		auth := &fakeAuth{}
		m := NewTokenManager("wholesale", store, auth, 0)

		tok, err := m.GetValidToken(ctx)
		require.NoError(t, err)
		assert.Equal(t, "good", tok)
		assert.Zero(t, auth.logins.Load())
		assert.Equal(t, int32(1), auth.checks.Load())
		assert.Zero(t, store.saves.Load())
	})

	t.Run("login failure is a provider auth error", func(t *testing.T) {
		store := &memoryTokenStore{}
		auth := &fakeAuth{loginErr: errors.New("bad credentials")}
		m := NewTokenManager("wholesale", store, auth, 0)

		_, err := m.GetValidToken(ctx)
		assert.ErrorIs(t, err, ErrProviderAuth)
		assert.Nil(t, store.row)
	})
}

func TestTokenManager_ConcurrentRefreshSharesOneLogin(t *testing.T) {
	store := &memoryTokenStore{row: &model.ProviderToken{Provider: "wholesale", Token: "old", ExpiresAt: time.Now().Add(-time.Minute)}}
	auth := &fakeAuth{delay: 50 * time.Millisecond}
	m := NewTokenManager("wholesale", store, auth, time.Minute)

	var wg sync.WaitGroup
	tokens := make([]string, 20)
	for i := range tokens {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			tok, err := m.GetValidToken(context.Background())
			assert.NoError(t, err)
			tokens[i] = tok
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), auth.logins.Load())
	for _, tok := range tokens {
		assert.Equal(t, "fresh", tok)
	}
}

func TestTokenManager_CacheIsBoundedByVerifyInterval(t *testing.T) {
	now := time.Now()
	store := &memoryTokenStore{row: &model.ProviderToken{Provider: "wholesale", Token: "good", ExpiresAt: now.Add(time.Hour)}}
	auth := &fakeAuth{}
	m := NewTokenManager("wholesale", store, auth, time.Minute)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := m.GetValidToken(ctx)
	require.NoError(t, err)
	_, err = m.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(1), auth.checks.Load(), "second call served from memory")

	now = now.Add(2 * time.Minute)
	_, err = m.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), auth.checks.Load(), "stale cache is verified again")

	m.Invalidate()
	_, err = m.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(3), auth.checks.Load())
}

func TestTokenManager_CacheNeverOutlivesExpiry(t *testing.T) {
	now := time.Now()
	store := &memoryTokenStore{row: &model.ProviderToken{Provider: "wholesale", Token: "short", ExpiresAt: now.Add(30 * time.Second)}}
	auth := &fakeAuth{}
	m := NewTokenManager("wholesale", store, auth, time.Hour)
	m.now = func() time.Time { return now }
	ctx := context.Background()

	tok, err := m.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "short", tok)

	now = now.Add(time.Minute)
	tok, err = m.GetValidToken(ctx)
	require.NoError(t, err)
	assert.Equal(t, "fresh", tok)
	assert.Equal(t, int32(1), auth.logins.Load())
}

func TestTokenManager_ForceRefresh(t *testing.T) {
	ctx := context.Background()

	t.Run("reuses a token another caller already stored", func(t *testing.T) {
		store := &memoryTokenStore{row: &model.ProviderToken{Provider: "wholesale", Token: "newer", ExpiresAt: time.Now().Add(time.Hour)}}
		auth := &fakeAuth{}
		m := NewTokenManager("wholesale", store, auth, 0)

		tok, err := m.ForceRefresh(ctx, "rejected")
		require.NoError(t, err)
		assert.Equal(t, "newer", tok)
		assert.Zero(t, auth.logins.Load())
	})

	t.Run("logs in when the stored token is the rejected one", func(t *testing.T) {
		store := &memoryTokenStore{row: &model.ProviderToken{Provider: "wholesale", Token: "rejected", ExpiresAt: time.Now().Add(time.Hour)}}
		auth := &fakeAuth{}
		m := NewTokenManager("wholesale", store, auth, 0)

		tok, err := m.ForceRefresh(ctx, "rejected")
		require.NoError(t, err)
		assert.Equal(t, "fresh", tok)
		assert.Equal(t, int32(1), auth.logins.Load())
	})
}

func TestTokenManager_CallerCancellation(t *testing.T) {
	store := &memoryTokenStore{}
	auth := &fakeAuth{delay: 200 * time.Millisecond}
	m := NewTokenManager("wholesale", store, auth, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := m.GetValidToken(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	// the shared login still completes and persists
	assert.Eventually(t, func() bool { return store.saves.Load() == 1 }, time.Second, 10*time.Millisecond)
}
