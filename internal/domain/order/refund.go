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
	"github.com/xenking/kart-checkout/internal/domain/refund"
	"github.com/xenking/kart-checkout/internal/domain/shipment"
)

const settleAttempts = 3

// RefundRequest is a customer's cancellation or return request.
type RefundRequest struct {
	OrderID string
	UserID  string
	Fault   refund.Fault
	// Payout is required for cash-on-delivery orders with a positive refund.
	Payout *refund.PayoutDetails
}

// RequestRefund sizes the refund from the current carrier status, dispatches
// it and settles the order. A failed dispatch leaves the refund record failed
// and the order status unchanged so the request can be retried.
func (s *Service) RequestRefund(ctx context.Context, req RefundRequest) (*Order, error) {
	ctx, span := s.tracer.Start(ctx, "order.RequestRefund", trace.WithAttributes(attribute.String("order.id", req.OrderID)))
	defer span.End()

	o, err := s.Get(ctx, req.OrderID, req.UserID)
	if err != nil {
		return nil, err
	}
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))

	switch {
	case o.Refund.Status == refund.StatusCompleted:
		return nil, ErrAlreadyRefunded
	case !o.Refund.Status.Requestable():
		return nil, ErrRefundInProgress
	case !o.Refundable || !CanTransition(o.Status, StatusRefundInitiated):
		return nil, ErrNotRefundable
	case o.PaymentMethod.IsGateway() && !o.PaymentConfirmed:
		return nil, ErrNotRefundable
	}

	carrierStatus := s.carrierStatus(ctx, o)
	quote := s.refunds.Calculate(o.RefundSnapshot(), carrierStatus, req.Fault)
	if quote.Case == refund.CaseUnknownStatus {
		lg.Error("No refund rule for carrier status, refunding zero",
			zap.String("carrier_status", string(carrierStatus)),
		)
	}
	if o.PaymentMethod == payment.MethodCOD && quote.Amount.IsPositive() {
		if err := req.Payout.Validate(); err != nil {
			return nil, err
		}
	}

	// Persist the pending record first: a concurrent request loses on the
	// version check and a crash leaves a non-requestable record behind.
	now := s.now()
	prior := o.Status
	o.StatusBeforeRefund = prior
	o.Status = StatusRefundInitiated
	o.Refund = refund.Record{
		Status:      refund.StatusPending,
		Amount:      quote.Amount,
		Fault:       req.Fault,
		Payout:      req.Payout,
		RequestedAt: &now,
	}
	if err := s.save(ctx, o); err != nil {
		return nil, errors.Wrap(err, "save pending refund")
	}

	res, dispatchErr := s.dispatcher.Dispatch(ctx, refund.Target{
		OrderID:    o.ID,
		Method:     o.PaymentMethod,
		PaymentRef: o.PaymentRef,
		Currency:   s.cfg.Currency,
	}, quote.Amount, req.Payout)

	// The money may have moved; finish bookkeeping even if the caller left.
	ctx = context.WithoutCancel(ctx)
	processed := s.now()

	if dispatchErr != nil {
		s.metrics.refundFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("method", string(o.PaymentMethod))))
		lg.Error("Refund dispatch failed", zap.Stringer("amount", quote.Amount), zap.Error(dispatchErr))

		o, err = s.settleRefund(ctx, o, func(o *Order) {
			o.Refund.Status = refund.StatusFailed
			o.Refund.FailureReason = dispatchErr.Error()
			o.Refund.ProcessedAt = &processed
			o.Status = o.StatusBeforeRefund
			if o.Shipment != nil {
				s.followCarrier(ctx, o, o.Shipment.Status, processed)
			}
		})
		if err != nil {
			lg.Error("Persist failed refund", zap.Error(err))
		} else {
			s.publish(ctx, o, EventRefundFailed)
		}
		return nil, errors.Wrap(joinKind(ErrRefundFailed, dispatchErr), "dispatch refund")
	}

	o, err = s.settleRefund(ctx, o, func(o *Order) {
		o.Refund.Status = refund.StatusCompleted
		o.Refund.RefundID = res.RefundID
		o.Refund.ProcessedAt = &processed
		o.Refundable = false
		o.Status = refundedStatus(o.StatusBeforeRefund, carrierStatus)
	})
	if err != nil {
		// The refund went out; the pending record blocks a second one.
		lg.Error("Persist completed refund",
			zap.String("refund_id", res.RefundID),
			zap.Stringer("amount", quote.Amount),
			zap.Error(err),
		)
		return nil, errors.Wrap(err, "save completed refund")
	}

	s.metrics.refunds.Add(ctx, 1, metric.WithAttributes(
		attribute.String("method", string(o.PaymentMethod)),
		attribute.String("case", string(quote.Case)),
	))
	lg.Info("Refund completed",
		zap.String("refund_id", res.RefundID),
		zap.Stringer("amount", quote.Amount),
		zap.String("case", string(quote.Case)),
		zap.Bool("manual", res.Manual),
	)
	s.announce(ctx, o, EventRefunded, s.notifier.RefundProcessed)
	return o, nil
}

// refundedStatus is the settled status after a completed refund.
func refundedStatus(prior Status, carrier shipment.Status) Status {
	switch {
	case prior == StatusReturned:
		return StatusRefunded
	case prior.Shipped(),
		carrier == shipment.StatusInTransit,
		carrier == shipment.StatusDelivered,
		carrier == shipment.StatusReturnToOrigin:
		return StatusReturned
	default:
		return StatusCancelled
	}
}

// settleRefund applies the refund outcome and persists it. A carrier update
// recorded during dispatch bumps the version; the outcome is then applied
// again on the reloaded order.
func (s *Service) settleRefund(ctx context.Context, o *Order, apply func(*Order)) (*Order, error) {
	apply(o)
	for attempt := 1; ; attempt++ {
		err := s.save(ctx, o)
		if err == nil || !errors.Is(err, ErrConflict) || attempt == settleAttempts {
			return o, err
		}
		fresh, getErr := s.orders.Get(ctx, o.ID)
		if getErr != nil {
			return o, errors.Wrap(getErr, "reload order")
		}
		if fresh.Refund.Status != refund.StatusPending {
			return fresh, err
		}
		o = fresh
		apply(o)
	}
}

// carrierStatus returns the live carrier status, falling back to the last
// recorded one when the carrier is unreachable.
func (s *Service) carrierStatus(ctx context.Context, o *Order) shipment.Status {
	if o.Shipment == nil {
		return shipment.StatusNew
	}
	if o.Shipment.ShipmentID == "" {
		return o.Shipment.Status
	}
	status, err := s.track(ctx, o.Shipment.ShipmentID)
	if err != nil {
		zctx.From(ctx).Warn("Carrier status unavailable, using last recorded",
			zap.String("order_id", o.ID),
			zap.String("status", string(o.Shipment.Status)),
			zap.Error(err),
		)
		return o.Shipment.Status
	}
	return status
}
