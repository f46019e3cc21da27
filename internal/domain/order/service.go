package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/refund"
	"github.com/xenking/kart-checkout/internal/domain/shipment"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

// MembershipSKU is the SKU of the premium membership line.
const MembershipSKU = "PREMIUM-MEMBERSHIP"

// CouponService evaluates and redeems coupons.
type CouponService interface {
	Evaluate(ctx context.Context, code string, items []coupon.Item, customer coupon.Customer) (decimal.Decimal, error)
	Redeem(ctx context.Context, use coupon.Use) error
}

// StockLedger decrements inventory for confirmed orders.
type StockLedger interface {
	Decrement(ctx context.Context, orderID string, lines []stock.Line) stock.Report
}

// RefundDispatcher moves refunds back to the customer.
type RefundDispatcher interface {
	Dispatch(ctx context.Context, t refund.Target, amount decimal.Decimal, details *refund.PayoutDetails) (refund.Result, error)
}

// MembershipActivator grants premium membership after a paid membership order.
type MembershipActivator interface {
	Activate(ctx context.Context, userID, orderID string) error
}

// Notifier sends customer notifications. Failures never affect order state.
type Notifier interface {
	OrderConfirmed(ctx context.Context, o *Order) error
	RefundProcessed(ctx context.Context, o *Order) error
}

// Publisher emits lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Config holds the order lifecycle settings.
type Config struct {
	Currency        string
	GiftWrapPrice   decimal.Decimal
	MembershipPrice decimal.Decimal
	CarrierTimeout  time.Duration
	GatewayTimeout  time.Duration
}

// Params are the dependencies of a Service. Notifier, Publisher, Meter and
// Tracer are optional.
type Params struct {
	Orders      Repository
	Catalog     product.Repository
	Coupons     CouponService
	Pricing     *pricing.Calculator
	Stock       StockLedger
	Checkout    payment.CheckoutGateway
	Intents     payment.IntentGateway
	Carrier     shipment.Carrier
	Refunds     *refund.Calculator
	Dispatcher  RefundDispatcher
	Memberships MembershipActivator
	Notifier    Notifier
	Publisher   Publisher
	Meter       metric.Meter
	Tracer      trace.Tracer
	Config      Config
}

// Service owns the order state machine across the payment flows.
type Service struct {
	orders      Repository
	catalog     product.Repository
	coupons     CouponService
	pricing     *pricing.Calculator
	stock       StockLedger
	checkout    payment.CheckoutGateway
	intents     payment.IntentGateway
	carrier     shipment.Carrier
	refunds     *refund.Calculator
	dispatcher  RefundDispatcher
	memberships MembershipActivator
	notifier    Notifier
	events      Publisher
	tracer      trace.Tracer
	metrics     *metrics
	cfg         Config

	now   func() time.Time
	newID func() string
	async func(func())
}

// NewService creates an order Service.
func NewService(p Params) (*Service, error) {
	if p.Meter == nil {
		p.Meter = metricnoop.NewMeterProvider().Meter("")
	}
	if p.Tracer == nil {
		p.Tracer = tracenoop.NewTracerProvider().Tracer("")
	}
	if p.Notifier == nil {
		p.Notifier = nopNotifier{}
	}
	if p.Publisher == nil {
		p.Publisher = nopPublisher{}
	}
	m, err := newMetrics(p.Meter)
	if err != nil {
		return nil, errors.Wrap(err, "metrics")
	}
	return &Service{
		orders:      p.Orders,
		catalog:     p.Catalog,
		coupons:     p.Coupons,
		pricing:     p.Pricing,
		stock:       p.Stock,
		checkout:    p.Checkout,
		intents:     p.Intents,
		carrier:     p.Carrier,
		refunds:     p.Refunds,
		dispatcher:  p.Dispatcher,
		memberships: p.Memberships,
		notifier:    p.Notifier,
		events:      p.Publisher,
		tracer:      p.Tracer,
		metrics:     m,
		cfg:         p.Config,
		now:         time.Now,
		newID:       func() string { return uuid.New().String() },
		async:       func(f func()) { go f() },
	}, nil
}

// PlaceOrderRequest holds the input for placing an order.
type PlaceOrderRequest struct {
	UserID     string
	Email      string
	Premium    bool
	Lines      []pricing.Line
	Method     payment.Method
	CouponCode string
	GiftWrap   bool
	Address    shipment.Address
	// Membership buys premium membership instead of goods. Lines are ignored.
	Membership bool
}

// PlaceOrderResult holds the output of a successfully placed order.
type PlaceOrderResult struct {
	Order *Order
	// RedirectURL is set for the redirect-session gateway.
	RedirectURL string
	// Intent is set for the intent gateway.
	Intent *payment.Intent
}

// Quote prices the request without persisting anything.
func (s *Service) Quote(ctx context.Context, req PlaceOrderRequest) (pricing.Quote, error) {
	if err := validateRequest(req); err != nil {
		return pricing.Quote{}, err
	}
	return s.price(ctx, req)
}

// PlaceOrder prices the request, freezes the result into a new order and
// starts the payment flow. Cash-on-delivery and zero-total orders are
// confirmed and fulfilled immediately; gateway orders wait for payment
// verification.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*PlaceOrderResult, error) {
	ctx, span := s.tracer.Start(ctx, "order.PlaceOrder",
		trace.WithAttributes(attribute.String("payment.method", string(req.Method))),
	)
	defer span.End()

	if err := validateRequest(req); err != nil {
		return nil, err
	}
	q, err := s.price(ctx, req)
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := &Order{
		ID:            s.newID(),
		UserID:        req.UserID,
		Email:         req.Email,
		Lines:         q.Lines,
		Breakdown:     q.Breakdown,
		CouponCode:    coupon.NormalizeCode(req.CouponCode),
		GiftWrap:      req.GiftWrap && !req.Membership,
		Address:       req.Address,
		Premium:       req.Premium,
		Membership:    req.Membership,
		PaymentMethod: req.Method,
		Status:        StatusCreated,
		Refund:        refund.Record{Status: refund.StatusNone},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if o.Membership {
		o.CouponCode = ""
	}
	if err := s.orders.Create(ctx, o); err != nil {
		return nil, errors.Wrap(err, "create order")
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	s.metrics.placed.Add(ctx, 1, metric.WithAttributes(attribute.String("method", string(o.PaymentMethod))))

	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))
	lg.Info("Order created",
		zap.String("method", string(o.PaymentMethod)),
		zap.Stringer("grand_total", o.Breakdown.GrandTotal),
	)

	s.publish(ctx, o, EventPlaced)

	res := &PlaceOrderResult{Order: o}
	switch {
	case o.PaymentMethod == payment.MethodCOD, o.Breakdown.GrandTotal.IsZero():
		// Nothing to collect up front. Gateways reject zero amounts, so a
		// fully discounted gateway order is paid on creation.
		if err := s.redeemCoupon(ctx, o); err != nil {
			s.markFailed(ctx, o)
			return nil, errors.Wrap(err, "redeem coupon")
		}
		o.Refundable = !o.Membership
		o.PaymentConfirmed = o.PaymentMethod.IsGateway()
		if err := o.transition(StatusConfirmed); err != nil {
			return nil, err
		}
		if err := s.save(ctx, o); err != nil {
			return nil, errors.Wrap(err, "confirm order")
		}
		s.fulfil(ctx, o)
	case o.PaymentMethod == payment.MethodStripe:
		sess, err := s.openCheckout(ctx, o)
		if err != nil {
			s.markFailed(ctx, o)
			return nil, err
		}
		o.PaymentSession = sess.ID
		res.RedirectURL = sess.RedirectURL
		if err := s.awaitPayment(ctx, o); err != nil {
			return nil, err
		}
	case o.PaymentMethod == payment.MethodRazorpay:
		intent, err := s.openIntent(ctx, o)
		if err != nil {
			s.markFailed(ctx, o)
			return nil, err
		}
		o.PaymentSession = intent.ID
		res.Intent = &intent
		if err := s.awaitPayment(ctx, o); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// Get returns the order if it belongs to userID.
func (s *Service) Get(ctx context.Context, id, userID string) (*Order, error) {
	o, err := s.orders.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if o.UserID != userID {
		return nil, ErrForbidden
	}
	return o, nil
}

func validateRequest(req PlaceOrderRequest) error {
	if !req.Method.Valid() {
		return errors.Wrapf(ErrInvalidMethod, "%q", req.Method)
	}
	if req.Membership {
		if !req.Method.IsGateway() {
			return ErrMembershipMethod
		}
		return nil
	}
	if len(req.Lines) == 0 {
		return ErrEmptyItems
	}
	return nil
}

// price fetches the catalog facts and runs the pure calculation.
func (s *Service) price(ctx context.Context, req PlaceOrderRequest) (pricing.Quote, error) {
	if req.Membership {
		line := pricing.PricedLine{
			Line:      pricing.Line{ProductID: MembershipSKU, Quantity: 1},
			SKU:       MembershipSKU,
			Name:      "Premium membership",
			UnitPrice: s.cfg.MembershipPrice,
			SalePrice: s.cfg.MembershipPrice,
		}
		lines := []pricing.PricedLine{line}
		return pricing.Quote{
			Lines:     lines,
			Breakdown: s.pricing.Breakdown(lines, pricing.Options{Method: req.Method, Premium: true}),
		}, nil
	}

	keys := make([]product.Key, len(req.Lines))
	for i, l := range req.Lines {
		keys[i] = l.Key()
	}
	catalog, err := s.catalog.Facts(ctx, keys)
	if err != nil {
		return pricing.Quote{}, errors.Wrap(err, "fetch catalog facts")
	}
	priced, err := pricing.FreezeLines(req.Lines, catalog)
	if err != nil {
		return pricing.Quote{}, err
	}

	opts := pricing.Options{Method: req.Method, Premium: req.Premium}
	if req.GiftWrap {
		wrap := s.cfg.GiftWrapPrice
		opts.GiftWrap = &wrap
	}
	if req.CouponCode != "" {
		items := make([]coupon.Item, len(priced))
		for i, l := range priced {
			items[i] = coupon.Item{SKU: l.SKU, Amount: l.Net()}
		}
		discount, err := s.coupons.Evaluate(ctx, req.CouponCode, items, coupon.Customer{
			UserID:  req.UserID,
			Premium: req.Premium,
		})
		if err != nil {
			return pricing.Quote{}, errors.Wrap(err, "apply coupon")
		}
		opts.CouponDiscount = discount
	}

	return pricing.Quote{Lines: priced, Breakdown: s.pricing.Breakdown(priced, opts)}, nil
}

func (s *Service) awaitPayment(ctx context.Context, o *Order) error {
	if err := o.transition(StatusAwaitingPayment); err != nil {
		return err
	}
	if err := s.save(ctx, o); err != nil {
		return errors.Wrap(err, "save payment session")
	}
	return nil
}

func (s *Service) openCheckout(ctx context.Context, o *Order) (payment.CheckoutSession, error) {
	ctx, cancel := s.gatewayContext(ctx)
	defer cancel()

	items := make([]payment.LineItem, 0, len(o.Lines))
	for _, l := range o.Lines {
		items = append(items, payment.LineItem{
			Name:     l.Name,
			Quantity: 1,
			Amount:   payment.MinorUnits(l.Net()),
		})
	}
	sess, err := s.checkout.CreateSession(ctx, payment.CheckoutRequest{
		OrderID:        o.ID,
		CustomerEmail:  o.Email,
		Currency:       s.cfg.Currency,
		Items:          checkoutItems(o, items),
		IdempotencyKey: "checkout-" + o.ID,
	})
	if err != nil {
		return payment.CheckoutSession{}, errors.Wrap(joinKind(ErrGatewayFailure, err), "create checkout session")
	}
	return sess, nil
}

// checkoutItems charges exactly the frozen grand total: when the frozen
// adjustments (coupon, shipping, surcharges) are non-zero the order is sent
// as a single line.
func checkoutItems(o *Order, items []payment.LineItem) []payment.LineItem {
	var sum int64
	for _, it := range items {
		sum += it.Amount * it.Quantity
	}
	total := payment.MinorUnits(o.Breakdown.GrandTotal)
	if sum == total {
		return items
	}
	return []payment.LineItem{{
		Name:     "Order " + o.ID,
		Quantity: 1,
		Amount:   total,
	}}
}

func (s *Service) openIntent(ctx context.Context, o *Order) (payment.Intent, error) {
	ctx, cancel := s.gatewayContext(ctx)
	defer cancel()

	intent, err := s.intents.CreateIntent(ctx, payment.IntentRequest{
		OrderID:  o.ID,
		Amount:   payment.MinorUnits(o.Breakdown.GrandTotal),
		Currency: s.cfg.Currency,
	})
	if err != nil {
		return payment.Intent{}, errors.Wrap(joinKind(ErrGatewayFailure, err), "create payment intent")
	}
	return intent, nil
}

func (s *Service) gatewayContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.cfg.GatewayTimeout > 0 {
		return context.WithTimeout(ctx, s.cfg.GatewayTimeout)
	}
	return context.WithCancel(ctx)
}

func (s *Service) redeemCoupon(ctx context.Context, o *Order) error {
	if o.CouponCode == "" {
		return nil
	}
	return s.coupons.Redeem(ctx, coupon.Use{Code: o.CouponCode, UserID: o.UserID, OrderID: o.ID})
}

// save persists o and bumps UpdatedAt.
func (s *Service) save(ctx context.Context, o *Order) error {
	o.UpdatedAt = s.now()
	return s.orders.Update(ctx, o)
}

func (s *Service) markFailed(ctx context.Context, o *Order) {
	if err := o.transition(StatusFailed); err != nil {
		return
	}
	if err := s.save(context.WithoutCancel(ctx), o); err != nil {
		zctx.From(ctx).Error("Mark order failed",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}

// joinKind marks err with a sentinel while keeping it in the chain.
func joinKind(kind, err error) error {
	return &kindError{kind: kind, err: err}
}

type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string        { return e.kind.Error() + ": " + e.err.Error() }
func (e *kindError) Is(target error) bool { return target == e.kind }
func (e *kindError) Unwrap() error        { return e.err }

type nopNotifier struct{}

func (nopNotifier) OrderConfirmed(context.Context, *Order) error  { return nil }
func (nopNotifier) RefundProcessed(context.Context, *Order) error { return nil }

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, Event) error { return nil }
