package http

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/fjod/storefront/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	RequestTimeout time.Duration
	SessionCookie  string
	SessionTTL     time.Duration
}

type Handlers struct {
	Products *ProductHandler
	Cart     *CartHandler
	Checkout *CheckoutHandler
	Orders   *OrdersHandler
}

// NewRouter builds the public HTTP surface. Metrics may be nil.
func NewRouter(cfg RouterConfig, hs Handlers, verifier TokenVerifier, db Pinger, m *metrics.Metrics, log *slog.Logger) http.Handler {
	if cfg.SessionCookie == "" {
		cfg.SessionCookie = DefaultSessionCookie
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(RequestLogger(log))
	r.Use(middleware.Recoverer)
	if m != nil {
		r.Use(m.Middleware)
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if m != nil {
		r.Method(http.MethodGet, "/metrics", m.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
		r.Use(SessionMiddleware(cfg.SessionCookie, cfg.SessionTTL))
		r.Use(Authenticate(verifier))

		r.Get("/products", hs.Products.List)
		r.Get("/products/{product_id}", hs.Products.Get)
		r.Get("/categories", hs.Products.Categories)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", hs.Cart.GetCart)
			r.Delete("/", hs.Cart.ClearCart)
			r.Post("/items", hs.Cart.AddItem)
			r.Put("/items/{product_id}", hs.Cart.UpdateQuantity)
			r.Delete("/items/{product_id}", hs.Cart.RemoveItem)
		})

		r.Group(func(r chi.Router) {
			r.Use(RequireUser)

			r.Get("/checkout", hs.Checkout.Form)
			r.Post("/checkout", hs.Checkout.PlaceOrder)

			r.Get("/orders", hs.Orders.ListOrders)
			r.Get("/orders/{order_id}", hs.Orders.GetOrder)
			r.Post("/orders/{order_id}/cancel", hs.Orders.CancelOrder)
			r.Post("/orders/{order_id}/reorder", hs.Orders.ReOrder)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(RequireAdmin)

			r.Get("/orders", hs.Orders.AdminListOrders)
			r.Get("/orders/{order_id}", hs.Orders.AdminGetOrder)
			r.Put("/orders/{order_id}/status", hs.Orders.AdminUpdateStatus)

			r.Post("/categories", hs.Products.CreateCategory)
			r.Post("/products", hs.Products.Create)
			r.Put("/products/{product_id}", hs.Products.Update)
			r.Delete("/products/{product_id}", hs.Products.Delete)
		})
	})

	return otelhttp.NewHandler(r, "storefront")
}
