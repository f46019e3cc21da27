// Package handler exposes the checkout service over HTTP.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/kart-checkout/internal/domain/auth"
	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/shipment"
	"github.com/xenking/kart-checkout/internal/gateway/stripe"
)

// Orders is the order lifecycle used by the handlers.
type Orders interface {
	Quote(ctx context.Context, req order.PlaceOrderRequest) (pricing.Quote, error)
	PlaceOrder(ctx context.Context, req order.PlaceOrderRequest) (*order.PlaceOrderResult, error)
	Get(ctx context.Context, id, userID string) (*order.Order, error)
	VerifyIntent(ctx context.Context, orderID, userID string, v payment.Verification) (*order.Order, error)
	VerifyCheckout(ctx context.Context, sessionID string) (*order.Order, error)
	CancelCheckout(ctx context.Context, sessionID string) (*order.Order, error)
	ExpireCheckout(ctx context.Context, res payment.CheckoutResult) (*order.Order, error)
	RequestRefund(ctx context.Context, req order.RefundRequest) (*order.Order, error)
	RetryDispatch(ctx context.Context, orderID string) (*order.Order, error)
	ApplyCarrierStatus(ctx context.Context, orderID string, status shipment.Status) (*order.Order, error)
	SyncCarrierStatus(ctx context.Context, orderID string) (*order.Order, error)
}

// Coupons creates coupon rules.
type Coupons interface {
	Create(ctx context.Context, rule coupon.Rule) (*coupon.Rule, error)
}

// CheckoutWebhooks verifies redirect-gateway webhooks.
type CheckoutWebhooks interface {
	ParseWebhook(payload []byte, signature string) (stripe.WebhookEvent, error)
}

var (
	_ Orders           = (*order.Service)(nil)
	_ Coupons          = (*coupon.Service)(nil)
	_ CheckoutWebhooks = (*stripe.Gateway)(nil)
)

// Handler serves the checkout API.
type Handler struct {
	orders   Orders
	coupons  Coupons
	webhooks CheckoutWebhooks
	security *Security
}

// New creates a Handler.
func New(orders Orders, coupons Coupons, webhooks CheckoutWebhooks, security *Security) *Handler {
	return &Handler{
		orders:   orders,
		coupons:  coupons,
		webhooks: webhooks,
		security: security,
	}
}

// Routes registers the API under r.
func (h *Handler) Routes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.security.RequireCustomer)
		r.Post("/orders/quote", h.quote)
		r.Post("/orders", h.placeOrder)
		r.Get("/orders/{orderID}", h.getOrder)
		r.Post("/orders/{orderID}/payment/verify", h.verifyIntent)
		r.Post("/orders/{orderID}/refund", h.requestRefund)
	})

	// Redirect targets of the hosted checkout carry no bearer token; the
	// session id is verified with the gateway instead.
	r.Get("/payments/checkout/success", h.checkoutSuccess)
	r.Get("/payments/checkout/cancel", h.checkoutCancel)
	r.Post("/webhooks/stripe", h.stripeWebhook)

	r.With(h.security.RequireScope(auth.ScopeCarrierWebhook)).Post("/webhooks/carrier", h.carrierWebhook)

	r.Route("/admin", func(r chi.Router) {
		r.With(h.security.RequireScope(auth.ScopeOrdersAdmin)).Post("/orders/{orderID}/dispatch", h.retryDispatch)
		r.With(h.security.RequireScope(auth.ScopeOrdersAdmin)).Post("/orders/{orderID}/sync", h.syncCarrier)
		r.With(h.security.RequireScope(auth.ScopeCouponsAdmin)).Post("/coupons", h.createCoupon)
	})
}

func customer(r *http.Request) auth.Customer {
	c, _ := auth.CustomerFrom(r.Context())
	return c
}
