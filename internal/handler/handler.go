// Package handler is the HTTP delivery layer: a chi router whose handlers
// decode jx JSON requests, call the domain services and map their errors to
// {code, kind, message} responses.
package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/storefront/internal/domain/apperr"
	"github.com/xenking/storefront/internal/domain/collection"
	"github.com/xenking/storefront/internal/domain/coupon"
	"github.com/xenking/storefront/internal/domain/inventory"
	"github.com/xenking/storefront/internal/domain/order"
	"github.com/xenking/storefront/internal/domain/product"
	"github.com/xenking/storefront/pkg/httpmiddleware"
)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// ImageBaseURL is prepended to relative photo paths in product
	// responses. When empty, paths are returned as stored.
	ImageBaseURL string
}

// Services are the domain services the handlers delegate to.
type Services struct {
	Products    *product.Service
	Collections *collection.Service
	Coupons     *coupon.Registry
	Ledger      *inventory.Ledger
	Orders      *order.Service
}

// Handler serves the storefront API.
type Handler struct {
	products     *product.Service
	collections  *collection.Service
	coupons      *coupon.Registry
	ledger       *inventory.Ledger
	orders       *order.Service
	imageBaseURL string
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(cfg HandlerConfig, s Services) *Handler {
	return &Handler{
		products:     s.Products,
		collections:  s.Collections,
		coupons:      s.Coupons,
		ledger:       s.Ledger,
		orders:       s.Orders,
		imageBaseURL: cfg.ImageBaseURL,
	}
}

// Router returns the API routes under /api. mws run inside the router, after
// route matching, so they can see the route pattern.
func (h *Handler) Router(sec *SecurityHandler, mws ...httpmiddleware.Middleware) http.Handler {
	r := chi.NewRouter()
	for _, m := range mws {
		r.Use(m)
	}
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, apperr.New(apperr.KindNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeStatusError(w, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Route("/api", func(r chi.Router) {
		// Catalog reads are public.
		r.Get("/products", h.ListProducts)
		r.Get("/products/{productID}", h.GetProduct)
		r.Get("/collections", h.ListCollections)

		r.Group(func(r chi.Router) {
			r.Use(sec.Authenticate)

			r.Post("/orders", h.CreateOrder)
			r.Post("/orders/quote", h.QuoteOrder)
			r.Get("/orders/mine", h.ListMyOrders)
			r.Get("/orders/{orderID}", h.GetOrder)
			r.Post("/orders/{orderID}/cancel", h.CancelOrder)

			r.Group(func(r chi.Router) {
				r.Use(RequireAdmin)

				r.Post("/products", h.CreateProduct)
				r.Put("/products/{productID}", h.UpdateProduct)
				r.Post("/products/{productID}/stock", h.AdjustStock)

				r.Post("/collections", h.CreateCollection)
				r.Put("/collections/{collectionID}", h.RenameCollection)
				r.Delete("/collections/{collectionID}", h.DeleteCollection)

				r.Get("/coupons", h.ListCoupons)
				r.Post("/coupons", h.CreateCoupon)
				r.Put("/coupons/{couponID}/deactivate", h.DeactivateCoupon)
				r.Delete("/coupons/{couponID}", h.DeleteCoupon)

				r.Get("/admin/orders", h.ListAllOrders)
				r.Put("/admin/orders/{orderID}", h.UpdateOrderStatus)
				r.Delete("/admin/orders/{orderID}", h.DeleteOrder)
			})
		})
	})
	return r
}
