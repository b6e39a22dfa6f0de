package handlers

import (
	"testing"

	"github.com/fasthttp/router"
	"github.com/nimasrn/esim-gateway/internal/model"
	"github.com/nimasrn/esim-gateway/internal/services"
	xhttp "github.com/nimasrn/esim-gateway/pkg/http"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func cartRoutes(svc CartService) func(g *router.Group) {
	return func(g *router.Group) {
		RegisterCartRoutes(g, NewCartHandler(svc), testAuth)
	}
}

func TestCartHandler_GetCart(t *testing.T) {
	t.Run("returns the caller's cart", func(t *testing.T) {
		svc := new(MockCartService)
		svc.On("Get", mock.Anything, int64(9)).Return(&model.Cart{ID: 3, UserID: 9}, nil)

		ctx := serve(cartRoutes(svc), "GET", "/api/v1/cart", tokenFor(t, 9, xhttp.RoleUser), nil)

		assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
		body := decodeBody(t, ctx)
		assert.Equal(t, float64(3), body["id"])
		svc.AssertExpectations(t)
	})

	t.Run("requires a token", func(t *testing.T) {
		svc := new(MockCartService)
		ctx := serve(cartRoutes(svc), "GET", "/api/v1/cart", "", nil)

		assert.Equal(t, xhttp.StatusUnauthorized, ctx.Response.StatusCode())
		svc.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
	})
}

func TestCartHandler_AddItem(t *testing.T) {
	tok := tokenFor(t, 9, xhttp.RoleUser)

	t.Run("adds the plan", func(t *testing.T) {
		svc := new(MockCartService)
		svc.On("AddItem", mock.Anything, int64(9), model.AddCartItemRequest{PlanID: 4, Quantity: 2}).
			Return(&model.Cart{ID: 3, Items: []*model.CartItem{{ID: 1, PlanID: 4, Quantity: 2}}}, nil)

		ctx := serve(cartRoutes(svc), "POST", "/api/v1/cart/items", tok, []byte(`{"plan_id":4,"quantity":2}`))

		assert.Equal(t, xhttp.StatusCreated, ctx.Response.StatusCode())
		svc.AssertExpectations(t)
	})

	t.Run("invalid JSON", func(t *testing.T) {
		svc := new(MockCartService)
		ctx := serve(cartRoutes(svc), "POST", "/api/v1/cart/items", tok, []byte(`{"plan_id":`))

		assert.Equal(t, xhttp.StatusBadRequest, ctx.Response.StatusCode())
		assert.Contains(t, decodeBody(t, ctx)["error"], "invalid JSON")
	})

	t.Run("validation error is a bad request", func(t *testing.T) {
		svc := new(MockCartService)
		svc.On("AddItem", mock.Anything, int64(9), mock.Anything).
			Return(nil, services.ErrValidation)

		ctx := serve(cartRoutes(svc), "POST", "/api/v1/cart/items", tok, []byte(`{"plan_id":4,"quantity":50}`))
		assert.Equal(t, xhttp.StatusBadRequest, ctx.Response.StatusCode())
	})

	t.Run("unknown plan is not found", func(t *testing.T) {
		svc := new(MockCartService)
		svc.On("AddItem", mock.Anything, int64(9), mock.Anything).
			Return(nil, services.ErrPlanNotFound)

		ctx := serve(cartRoutes(svc), "POST", "/api/v1/cart/items", tok, []byte(`{"plan_id":404,"quantity":1}`))
		assert.Equal(t, xhttp.StatusNotFound, ctx.Response.StatusCode())
		assert.Equal(t, "plan not found", decodeBody(t, ctx)["error"])
	})
}

func TestCartHandler_UpdateAndRemove(t *testing.T) {
	tok := tokenFor(t, 9, xhttp.RoleUser)

	svc := new(MockCartService)
	svc.On("UpdateItem", mock.Anything, int64(9), int64(12), model.UpdateCartItemRequest{Quantity: 5}).
		Return(&model.Cart{ID: 3}, nil)
	svc.On("RemoveItem", mock.Anything, int64(9), int64(12)).
		Return(&model.Cart{ID: 3}, nil)
	svc.On("RemoveItem", mock.Anything, int64(9), int64(13)).
		Return(nil, services.ErrCartItemNotFound)

	ctx := serve(cartRoutes(svc), "PATCH", "/api/v1/cart/items/12", tok, []byte(`{"quantity":5}`))
	assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())

	ctx = serve(cartRoutes(svc), "DELETE", "/api/v1/cart/items/12", tok, nil)
	assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())

	ctx = serve(cartRoutes(svc), "DELETE", "/api/v1/cart/items/13", tok, nil)
	assert.Equal(t, xhttp.StatusNotFound, ctx.Response.StatusCode())

	ctx = serve(cartRoutes(svc), "DELETE", "/api/v1/cart/items/abc", tok, nil)
	assert.Equal(t, xhttp.StatusBadRequest, ctx.Response.StatusCode())

	svc.AssertExpectations(t)
}

func TestCartHandler_Quote(t *testing.T) {
	svc := new(MockCartService)
	svc.On("Quote", mock.Anything, int64(9)).
		Return(&model.CartQuote{CartID: 3, Units: 2, Amount: decimal.RequireFromString("18.00"), Currency: "EUR"}, nil)

	ctx := serve(cartRoutes(svc), "GET", "/api/v1/cart/quote", tokenFor(t, 9, xhttp.RoleUser), nil)

	assert.Equal(t, xhttp.StatusOK, ctx.Response.StatusCode())
	body := decodeBody(t, ctx)
	assert.Equal(t, "18", body["amount"])
	assert.Equal(t, float64(2), body["units"])
}
