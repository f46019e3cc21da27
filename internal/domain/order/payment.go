package order

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// VerifyCheckout confirms a redirect-session order after the gateway reports
// the session as paid. Repeated calls for a confirmed order return it as is.
func (s *Service) VerifyCheckout(ctx context.Context, sessionID string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.VerifyCheckout")
	defer span.End()

	o, err := s.orders.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	if o.PaymentMethod != payment.MethodStripe {
		return nil, ErrSessionMismatch
	}
	if o.PaymentConfirmed {
		return o, nil
	}

	gctx, cancel := s.gatewayContext(ctx)
	res, err := s.checkout.VerifySession(gctx, sessionID)
	cancel()
	if err != nil {
		return nil, errors.Wrap(joinKind(ErrGatewayFailure, err), "verify checkout session")
	}
	if res.OrderID != "" && res.OrderID != o.ID {
		s.reject(ctx, o, "order mismatch")
		return nil, ErrSessionMismatch
	}
	if !res.Paid {
		s.reject(ctx, o, "not paid")
		return nil, payment.ErrNotPaid
	}
	return s.confirmPayment(ctx, o, res.PaymentRef)
}

// VerifyIntent checks the client-submitted signature tuple and confirms the
// order. A signature mismatch leaves the order untouched.
func (s *Service) VerifyIntent(ctx context.Context, orderID, userID string, v payment.Verification) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.VerifyIntent", trace.WithAttributes(attribute.String("order.id", orderID)))
	defer span.End()

	o, err := s.Get(ctx, orderID, userID)
	if err != nil {
		return nil, err
	}
	if o.PaymentMethod != payment.MethodRazorpay || o.PaymentSession != v.IntentID {
		s.reject(ctx, o, "intent mismatch")
		return nil, ErrSessionMismatch
	}
	if err := s.intents.Verify(v); err != nil {
		s.reject(ctx, o, "signature mismatch")
		return nil, err
	}
	if o.PaymentConfirmed {
		if o.PaymentRef == v.PaymentID {
			return o, nil
		}
		return nil, ErrSessionMismatch
	}
	return s.confirmPayment(ctx, o, v.PaymentID)
}

// CancelCheckout settles a redirect-session order whose customer came back
// through the cancel URL. The gateway decides the outcome: a paid session
// confirms the order, an open one is expired first and the order fails.
func (s *Service) CancelCheckout(ctx context.Context, sessionID string) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.CancelCheckout")
	defer span.End()

	o, err := s.checkoutOrder(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("order.id", o.ID))
	if o.PaymentConfirmed || o.Status == StatusFailed {
		return o, nil
	}

	gctx, cancel := s.gatewayContext(ctx)
	res, err := s.checkout.VerifySession(gctx, sessionID)
	if err == nil && res.Open && !res.Paid {
		res, err = s.checkout.ExpireSession(gctx, sessionID)
	}
	cancel()
	if err != nil {
		return nil, errors.Wrap(joinKind(ErrGatewayFailure, err), "close checkout session")
	}
	if res.OrderID != "" && res.OrderID != o.ID {
		s.reject(ctx, o, "order mismatch")
		return nil, ErrSessionMismatch
	}
	if res.Paid {
		zctx.From(ctx).Info("Cancelled checkout was paid, confirming", zap.String("order_id", o.ID))
		return s.confirmPayment(ctx, o, res.PaymentRef)
	}
	return s.failPayment(ctx, o)
}

// ExpireCheckout fails the order behind a session the gateway reported as
// expired in a signed webhook.
func (s *Service) ExpireCheckout(ctx context.Context, res payment.CheckoutResult) (*Order, error) {
	o, err := s.checkoutOrder(ctx, res.SessionID)
	if err != nil {
		return nil, err
	}
	if o.PaymentConfirmed || o.Status == StatusFailed {
		return o, nil
	}
	if res.OrderID != "" && res.OrderID != o.ID {
		s.reject(ctx, o, "order mismatch")
		return nil, ErrSessionMismatch
	}
	if res.Paid {
		return s.confirmPayment(ctx, o, res.PaymentRef)
	}
	return s.failPayment(ctx, o)
}

// checkoutOrder returns the redirect-session order holding sessionID.
func (s *Service) checkoutOrder(ctx context.Context, sessionID string) (*Order, error) {
	o, err := s.orders.GetBySession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if o.PaymentMethod != payment.MethodStripe {
		return nil, ErrSessionMismatch
	}
	return o, nil
}

// failPayment marks an order awaiting payment as failed. Nothing was
// decremented or redeemed for it.
func (s *Service) failPayment(ctx context.Context, o *Order) (*Order, error) {
	if err := o.transition(StatusFailed); err != nil {
		return nil, err
	}
	if err := s.save(ctx, o); err != nil {
		return nil, errors.Wrap(err, "mark payment failed")
	}
	zctx.From(ctx).Info("Payment failed", zap.String("order_id", o.ID))
	s.publish(ctx, o, EventPaymentFailed)
	return o, nil
}

func (s *Service) reject(ctx context.Context, o *Order, reason string) {
	s.metrics.paymentsRejected.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", string(o.PaymentMethod)),
		attribute.String("reason", reason),
	))
	zctx.From(ctx).Warn("Payment verification rejected",
		zap.String("order_id", o.ID),
		zap.String("reason", reason),
	)
}

// confirmPayment records the captured payment and runs fulfilment.
func (s *Service) confirmPayment(ctx context.Context, o *Order, ref string) (*Order, error) {
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))

	if err := o.transition(StatusConfirmed); err != nil {
		return nil, err
	}
	o.PaymentConfirmed = true
	o.PaymentRef = ref
	o.Refundable = !o.Membership
	if err := s.save(ctx, o); err != nil {
		if errors.Is(err, ErrConflict) {
			// Success callback and webhook raced; the winner confirmed it.
			fresh, getErr := s.orders.Get(ctx, o.ID)
			if getErr == nil && fresh.PaymentConfirmed {
				return fresh, nil
			}
		}
		return nil, errors.Wrap(err, "confirm payment")
	}
	s.metrics.paymentsVerified.Add(ctx, 1, metric.WithAttributes(attribute.String("method", string(o.PaymentMethod))))
	lg.Info("Payment confirmed", zap.String("payment_ref", ref))

	if err := s.redeemCoupon(ctx, o); err != nil {
		// The customer has paid; the discount is honoured.
		lg.Warn("Coupon redemption failed after payment",
			zap.String("coupon", o.CouponCode),
			zap.Error(err),
		)
	}
	s.fulfil(ctx, o)
	return o, nil
}
