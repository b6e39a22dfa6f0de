package app

import (
	"github.com/nimasrn/esim-gateway/internal/handlers"
	xhttp "github.com/nimasrn/esim-gateway/pkg/http"
)

// Mount registers every v1 route on g.
func (a *App) Mount(g *xhttp.Group, auth *xhttp.Authenticator) {
	handlers.RegisterHealthRoutes(g, handlers.NewHealthHandler(a.Health))
	handlers.RegisterCatalogRoutes(g, handlers.NewCatalogHandler(a.Catalog), auth)
	handlers.RegisterCartRoutes(g, handlers.NewCartHandler(a.Carts), auth)
	handlers.RegisterCheckoutRoutes(g, handlers.NewCheckoutHandler(a.Checkout), auth)
	handlers.RegisterOrderRoutes(g, handlers.NewOrderHandler(a.Fulfillment, a.Orders), auth)
	handlers.RegisterWebhookRoutes(g, handlers.NewWebhookHandler(a.Payments))
}
