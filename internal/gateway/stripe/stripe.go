// Package stripe implements the hosted checkout gateway and its refunds on
// top of Stripe Checkout Sessions.
package stripe

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	stripego "github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/checkout/session"
	"github.com/stripe/stripe-go/v83/refund"
	"github.com/stripe/stripe-go/v83/webhook"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

const metadataOrderID = "order_id"

// SessionAPI is the subset of the Checkout Session API the gateway uses.
type SessionAPI interface {
	New(params *stripego.CheckoutSessionParams) (*stripego.CheckoutSession, error)
	Get(id string, params *stripego.CheckoutSessionParams) (*stripego.CheckoutSession, error)
	Expire(id string, params *stripego.CheckoutSessionExpireParams) (*stripego.CheckoutSession, error)
}

// RefundAPI is the subset of the Refund API the gateway uses.
type RefundAPI interface {
	New(params *stripego.RefundParams) (*stripego.Refund, error)
}

// Config configures the gateway.
type Config struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	// SessionTTL bounds how long a checkout session stays open. Zero keeps
	// the Stripe default.
	SessionTTL time.Duration
}

// Gateway creates and verifies checkout sessions and refunds their payments.
type Gateway struct {
	sessions SessionAPI
	refunds  RefundAPI
	cfg      Config
	now      func() time.Time
}

var (
	_ payment.CheckoutGateway = (*Gateway)(nil)
	_ payment.Refunder        = (*Gateway)(nil)
)

// New creates a Gateway backed by the global Stripe client.
func New(cfg Config) (*Gateway, error) {
	if strings.TrimSpace(cfg.SecretKey) == "" {
		return nil, errors.New("stripe secret key is required")
	}
	stripego.Key = cfg.SecretKey
	return NewWithClients(cfg, globalSessions{}, globalRefunds{}), nil
}

// NewWithClients creates a Gateway with explicit API clients.
func NewWithClients(cfg Config, sessions SessionAPI, refunds RefundAPI) *Gateway {
	return &Gateway{
		sessions: sessions,
		refunds:  refunds,
		cfg:      cfg,
		now:      time.Now,
	}
}

// CreateSession opens a hosted checkout session for the order.
func (g *Gateway) CreateSession(ctx context.Context, req payment.CheckoutRequest) (payment.CheckoutSession, error) {
	if len(req.Items) == 0 {
		return payment.CheckoutSession{}, errors.New("checkout session without items")
	}
	currency := strings.ToLower(req.Currency)

	params := &stripego.CheckoutSessionParams{
		Mode:              stripego.String(string(stripego.CheckoutSessionModePayment)),
		SuccessURL:        stripego.String(g.cfg.SuccessURL),
		CancelURL:         stripego.String(g.cfg.CancelURL),
		ClientReferenceID: stripego.String(req.OrderID),
		Metadata:          map[string]string{metadataOrderID: req.OrderID},
		PaymentIntentData: &stripego.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{metadataOrderID: req.OrderID},
		},
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if req.CustomerEmail != "" {
		params.CustomerEmail = stripego.String(req.CustomerEmail)
	}
	if g.cfg.SessionTTL > 0 {
		params.ExpiresAt = stripego.Int64(g.now().Add(g.cfg.SessionTTL).Unix())
	}
	for _, item := range req.Items {
		params.LineItems = append(params.LineItems, &stripego.CheckoutSessionLineItemParams{
			Quantity: stripego.Int64(max(item.Quantity, 1)),
			PriceData: &stripego.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripego.String(currency),
				UnitAmount: stripego.Int64(item.Amount),
				ProductData: &stripego.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripego.String(item.Name),
				},
			},
		})
	}

	s, err := g.sessions.New(params)
	if err != nil {
		return payment.CheckoutSession{}, errors.Wrap(err, "create checkout session")
	}
	zctx.From(ctx).Debug("Checkout session created",
		zap.String("order_id", req.OrderID),
		zap.String("session_id", s.ID),
	)

	out := payment.CheckoutSession{ID: s.ID, RedirectURL: s.URL}
	if s.ExpiresAt != 0 {
		out.ExpiresAt = time.Unix(s.ExpiresAt, 0).UTC()
	}
	return out, nil
}

// VerifySession retrieves the session and reports whether it was paid.
func (g *Gateway) VerifySession(ctx context.Context, sessionID string) (payment.CheckoutResult, error) {
	params := &stripego.CheckoutSessionParams{}
	params.Context = ctx
	s, err := g.sessions.Get(sessionID, params)
	if err != nil {
		return payment.CheckoutResult{}, errors.Wrapf(err, "get checkout session %s", sessionID)
	}
	return sessionResult(s), nil
}

// ExpireSession expires an open session. A session that was completed or
// expired in the meantime is reported as it is.
func (g *Gateway) ExpireSession(ctx context.Context, sessionID string) (payment.CheckoutResult, error) {
	params := &stripego.CheckoutSessionExpireParams{}
	params.Context = ctx
	s, err := g.sessions.Expire(sessionID, params)
	if err == nil {
		return sessionResult(s), nil
	}
	res, getErr := g.VerifySession(ctx, sessionID)
	if getErr == nil && !res.Open {
		return res, nil
	}
	return payment.CheckoutResult{}, errors.Wrapf(err, "expire checkout session %s", sessionID)
}

// Refund refunds part of the payment intent behind a checkout session.
func (g *Gateway) Refund(ctx context.Context, req payment.RefundRequest) (payment.Refund, error) {
	if req.PaymentRef == "" {
		return payment.Refund{}, errors.New("refund without payment intent")
	}
	params := &stripego.RefundParams{
		PaymentIntent: stripego.String(req.PaymentRef),
		Amount:        stripego.Int64(req.Amount),
	}
	params.Context = ctx
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}
	if req.Reason != "" {
		params.Reason = stripego.String(req.Reason)
	}

	r, err := g.refunds.New(params)
	if err != nil {
		return payment.Refund{}, errors.Wrapf(err, "refund payment intent %s", req.PaymentRef)
	}
	if r.Status == stripego.RefundStatusFailed || r.Status == stripego.RefundStatusCanceled {
		return payment.Refund{}, errors.Errorf("refund %s %s", r.ID, r.Status)
	}
	return payment.Refund{ID: r.ID, Status: string(r.Status)}, nil
}

// WebhookKind classifies the checkout webhook events the service acts on.
type WebhookKind int

const (
	// WebhookIgnored is any event the service does not handle.
	WebhookIgnored WebhookKind = iota
	// WebhookCompleted is checkout.session.completed.
	WebhookCompleted
	// WebhookExpired is checkout.session.expired.
	WebhookExpired
)

// WebhookEvent is a verified checkout webhook.
type WebhookEvent struct {
	Kind   WebhookKind
	Result payment.CheckoutResult
}

// ParseWebhook verifies the Stripe-Signature header and decodes the
// checkout session carried by the event.
func (g *Gateway) ParseWebhook(payload []byte, signature string) (WebhookEvent, error) {
	if g.cfg.WebhookSecret == "" {
		return WebhookEvent{}, errors.New("webhook secret is not configured")
	}
	ev, err := webhook.ConstructEvent(payload, signature, g.cfg.WebhookSecret)
	if err != nil {
		return WebhookEvent{}, errors.Wrap(payment.ErrSignatureMismatch, err.Error())
	}

	var kind WebhookKind
	switch ev.Type {
	case stripego.EventTypeCheckoutSessionCompleted:
		kind = WebhookCompleted
	case stripego.EventTypeCheckoutSessionExpired:
		kind = WebhookExpired
	default:
		return WebhookEvent{Kind: WebhookIgnored}, nil
	}

	var s stripego.CheckoutSession
	if err := json.Unmarshal(ev.Data.Raw, &s); err != nil {
		return WebhookEvent{}, errors.Wrap(err, "decode checkout session")
	}
	return WebhookEvent{Kind: kind, Result: sessionResult(&s)}, nil
}

func sessionResult(s *stripego.CheckoutSession) payment.CheckoutResult {
	res := payment.CheckoutResult{
		SessionID: s.ID,
		OrderID:   s.Metadata[metadataOrderID],
		Paid:      s.PaymentStatus == stripego.CheckoutSessionPaymentStatusPaid,
		Open:      s.Status == stripego.CheckoutSessionStatusOpen,
	}
	if res.OrderID == "" {
		res.OrderID = s.ClientReferenceID
	}
	if s.PaymentIntent != nil {
		res.PaymentRef = s.PaymentIntent.ID
	}
	return res
}

type globalSessions struct{}

func (globalSessions) New(params *stripego.CheckoutSessionParams) (*stripego.CheckoutSession, error) {
	return session.New(params)
}

func (globalSessions) Get(id string, params *stripego.CheckoutSessionParams) (*stripego.CheckoutSession, error) {
	return session.Get(id, params)
}

func (globalSessions) Expire(id string, params *stripego.CheckoutSessionExpireParams) (*stripego.CheckoutSession, error) {
	return session.Expire(id, params)
}

type globalRefunds struct{}

func (globalRefunds) New(params *stripego.RefundParams) (*stripego.Refund, error) {
	return refund.New(params)
}
