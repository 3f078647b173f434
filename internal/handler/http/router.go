package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/cartengine/internal/service"
	"github.com/utafrali/cartengine/pkg/health"
	"github.com/utafrali/cartengine/pkg/middleware"
)

// Services groups the services the HTTP surface is built on.
type Services struct {
	Carts    *service.CartService
	Checkout *service.CheckoutService
	Merge    *service.MergeService
	Orders   *service.OrderService
}

// RouterOption customizes NewRouter.
type RouterOption func(*routerOptions)

type routerOptions struct {
	checkoutLimit func(http.Handler) http.Handler
	pprofCIDRs    []string
}

// WithCheckoutRateLimit throttles checkout attempts per shopper. A zero rps
// leaves checkout unthrottled.
func WithCheckoutRateLimit(rps float64, burst int, logger *slog.Logger) RouterOption {
	return func(o *routerOptions) {
		if rps > 0 {
			o.checkoutLimit = middleware.RateLimit(rps, burst, logger)
		}
	}
}

// WithPprof exposes /debug/pprof to peers in cidrs.
func WithPprof(cidrs []string) RouterOption {
	return func(o *routerOptions) { o.pprofCIDRs = cidrs }
}

// NewRouter creates a chi router with all cart engine routes registered.
func NewRouter(svc Services, healthHandler *health.Handler, logger *slog.Logger, opts ...RouterOption) http.Handler {
	o := routerOptions{
		checkoutLimit: func(next http.Handler) http.Handler { return next },
	}
	for _, opt := range opts {
		opt(&o)
	}

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Compress(5))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("cartengine"))
	r.Use(middleware.Tracing("cartengine"))
	r.Use(middleware.Identify())
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, o.pprofCIDRs, logger)

	cartHandler := NewCartHandler(svc.Carts, logger)
	checkoutHandler := NewCheckoutHandler(svc.Carts, svc.Checkout, svc.Merge, logger)
	orderHandler := NewOrderHandler(svc.Orders, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)

			r.Post("/items", cartHandler.AddItem)
			r.Get("/items/{id}", cartHandler.GetItem)
			r.Patch("/items/{id}", cartHandler.UpdateItem)
			r.Delete("/items/{id}", cartHandler.RemoveItem)

			r.Post("/adjustments", cartHandler.AddAdjustment)
			r.Delete("/adjustments/{id}", cartHandler.RemoveAdjustment)

			r.Post("/payment-methods", cartHandler.AddPaymentMethod)
			r.Put("/payment-method", cartHandler.SelectPaymentMethod)

			r.Post("/delivery-addresses", cartHandler.AddDeliveryAddress)
			r.Put("/delivery-address", cartHandler.SelectDeliveryAddress)

			r.Put("/email", cartHandler.SetEmail)

			r.With(o.checkoutLimit).Post("/checkout", checkoutHandler.Checkout)
			r.Post("/merge", checkoutHandler.Merge)
		})

		r.Delete("/payment-methods/{id}", cartHandler.DeactivatePaymentMethod)
		r.Delete("/delivery-addresses/{id}", cartHandler.DeactivateDeliveryAddress)

		r.Get("/orders/{id}", orderHandler.GetOrder)
	})

	return r
}
