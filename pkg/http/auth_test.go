package xhttp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
)

func newCtx(token string) *RequestCtx {
	ctx := &fasthttp.RequestCtx{}
	ctx.Request.Header.SetMethod("GET")
	ctx.Request.SetRequestURI("/api/v1/cart")
	if token != "" {
		ctx.Request.Header.Set("Authorization", "Bearer "+token)
	}
	return ctx
}

func TestAuthenticator_Require(t *testing.T) {
	auth := NewAuthenticator("secret", "esim-gateway")

	t.Run("valid token passes claims through", func(t *testing.T) {
		tok, err := auth.Mint(42, RoleUser, time.Minute)
		require.NoError(t, err)

		var seen *Claims
		ctx := newCtx(tok)
		auth.Require(func(ctx *RequestCtx) { seen = ClaimsFrom(ctx) })(ctx)

		require.NotNil(t, seen)
		assert.Equal(t, int64(42), seen.UserID())
		assert.False(t, seen.IsAdmin())
	})

	t.Run("missing token is rejected", func(t *testing.T) {
		called := false
		ctx := newCtx("")
		auth.Require(func(ctx *RequestCtx) { called = true })(ctx)

		assert.False(t, called)
		assert.Equal(t, StatusUnauthorized, ctx.Response.StatusCode())
	})

	t.Run("token signed with another secret is rejected", func(t *testing.T) {
		other := NewAuthenticator("other", "esim-gateway")
		tok, err := other.Mint(42, RoleUser, time.Minute)
		require.NoError(t, err)

		ctx := newCtx(tok)
		auth.Require(func(ctx *RequestCtx) { t.Fatal("handler must not run") })(ctx)
		assert.Equal(t, StatusUnauthorized, ctx.Response.StatusCode())
	})

	t.Run("expired token is rejected", func(t *testing.T) {
		tok, err := auth.Mint(42, RoleUser, -time.Minute)
		require.NoError(t, err)

		ctx := newCtx(tok)
		auth.Require(func(ctx *RequestCtx) { t.Fatal("handler must not run") })(ctx)
		assert.Equal(t, StatusUnauthorized, ctx.Response.StatusCode())
	})
}

func TestAuthenticator_RequireRole(t *testing.T) {
	auth := NewAuthenticator("secret", "esim-gateway")

	userTok, err := auth.Mint(7, RoleUser, time.Minute)
	require.NoError(t, err)
	adminTok, err := auth.Mint(1, RoleAdmin, time.Minute)
	require.NoError(t, err)

	ctx := newCtx(userTok)
	auth.RequireRole(RoleAdmin, func(ctx *RequestCtx) { t.Fatal("handler must not run") })(ctx)
	assert.Equal(t, StatusForbidden, ctx.Response.StatusCode())

	called := false
	ctx = newCtx(adminTok)
	auth.RequireRole(RoleAdmin, func(ctx *RequestCtx) { called = true })(ctx)
	assert.True(t, called)
}

func TestRateLimitMiddleware(t *testing.T) {
	handler := RateLimitMiddleware(1, 2)(func(ctx *RequestCtx) {
		ctx.SetStatusCode(StatusOK)
	})

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		ctx := newCtx("")
		handler(ctx)
		codes = append(codes, ctx.Response.StatusCode())
	}

	assert.Equal(t, []int{StatusOK, StatusOK, StatusTooManyRequests}, codes)
}
