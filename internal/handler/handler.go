// Package handler exposes the order, coupon and live event endpoints over
// HTTP.
package handler

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/cafe-orders/internal/domain/auth"
	"github.com/xenking/cafe-orders/internal/domain/coupon"
	"github.com/xenking/cafe-orders/internal/domain/order"
	"github.com/xenking/cafe-orders/internal/realtime"
)

// OrderService is the order use-case surface the handler depends on.
type OrderService interface {
	PlaceOrder(ctx context.Context, cafeID string, sub *order.Submission) (*order.Order, error)
	Quote(ctx context.Context, cafeID string, req order.QuoteRequest) (*order.Approved, error)
	UpdateStatus(ctx context.Context, cafeID, orderID string, status order.Status) (*order.StatusChange, error)
}

var _ OrderService = (*order.Service)(nil)

// HandlerConfig holds non-dependency configuration for the Handler.
type HandlerConfig struct {
	// Heartbeat is the interval of SSE comment frames keeping idle streams
	// open through proxies. Zero disables heartbeats.
	Heartbeat time.Duration
	// Realtime configures the channel opened per event stream.
	Realtime realtime.Options
}

// Handler serves the /api routes.
type Handler struct {
	orders     OrderService
	coupons    coupon.Validator
	subscriber realtime.Subscriber
	security   *SecurityHandler
	cfg        HandlerConfig

	closeOnce sync.Once
	closing   chan struct{}
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(
	cfg HandlerConfig,
	orders OrderService,
	coupons coupon.Validator,
	subscriber realtime.Subscriber,
	security *SecurityHandler,
) *Handler {
	return &Handler{
		orders:     orders,
		coupons:    coupons,
		subscriber: subscriber,
		security:   security,
		cfg:        cfg,
		closing:    make(chan struct{}),
	}
}

// CloseStreams ends all open event streams. Register it with
// http.Server.RegisterOnShutdown.
func (h *Handler) CloseStreams() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// Routes returns the router for everything under /api.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Route("/cafes/{cafeID}", func(r chi.Router) {
		r.Post("/orders", h.PlaceOrder)
		r.Post("/quote", h.Quote)
		r.Post("/coupons/validate", h.ValidateCoupon)
		r.Get("/orders/{orderID}/events", h.TrackOrder)

		r.Group(func(r chi.Router) {
			r.Use(h.security.Require(auth.ScopeOrdersWrite))
			r.Patch("/orders/{orderID}/status", h.UpdateStatus)
		})
		r.Group(func(r chi.Router) {
			r.Use(h.security.Require(auth.ScopeOrdersRead))
			r.Get("/events", h.CafeEvents)
		})
	})
	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Code: http.StatusNotFound, Message: "route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Code: http.StatusMethodNotAllowed, Message: "method not allowed"})
	})
	return r
}
