package order

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/refund"
	"github.com/xenking/kart-checkout/internal/domain/shipment"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

// fulfil runs the post-confirmation side effects. The request context may be
// cancelled by now; the persisted order is the source of truth.
func (s *Service) fulfil(ctx context.Context, o *Order) {
	ctx = context.WithoutCancel(ctx)
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))

	if o.Membership {
		if err := s.memberships.Activate(ctx, o.UserID, o.ID); err != nil {
			lg.Error("Membership activation failed", zap.String("user_id", o.UserID), zap.Error(err))
		}
		s.announce(ctx, o, EventConfirmed, s.notifier.OrderConfirmed)
		return
	}

	lines := make([]stock.Line, len(o.Lines))
	for i, l := range o.Lines {
		lines[i] = stock.Line{Key: l.Key(), Quantity: l.Quantity}
	}
	if report := s.stock.Decrement(ctx, o.ID, lines); !report.OK() {
		s.metrics.stockFailures.Add(ctx, int64(len(report.Failed)),
			metric.WithAttributes(attribute.String("method", string(o.PaymentMethod))),
		)
	}

	if err := s.dispatch(ctx, o); err != nil {
		lg.Warn("Order confirmed without shipment", zap.Error(err))
	}
	s.announce(ctx, o, EventConfirmed, s.notifier.OrderConfirmed)
}

// dispatch requests a shipment and records it. Failures leave the order
// confirmed for an out-of-band retry.
func (s *Service) dispatch(ctx context.Context, o *Order) error {
	lg := zctx.From(ctx).With(zap.String("order_id", o.ID))

	cctx := ctx
	if s.cfg.CarrierTimeout > 0 {
		var cancel context.CancelFunc
		cctx, cancel = context.WithTimeout(ctx, s.cfg.CarrierTimeout)
		defer cancel()
	}
	sh, err := s.carrier.CreateShipment(cctx, shipmentRequest(o))
	if err != nil {
		s.metrics.dispatchFailures.Add(ctx, 1, metric.WithAttributes(attribute.String("method", string(o.PaymentMethod))))
		return errors.Wrap(joinKind(ErrCarrierFailure, err), "create shipment")
	}

	o.Shipment = &sh
	if next, ok := FromCarrier(sh.Status); ok && CanTransition(o.Status, next) {
		o.Status = next
	}
	if err := s.save(ctx, o); err != nil {
		lg.Error("Persist shipment",
			zap.String("shipment_id", sh.ShipmentID),
			zap.String("carrier_order_id", sh.CarrierOrderID),
			zap.Error(err),
		)
		return errors.Wrap(err, "save shipment")
	}
	lg.Info("Shipment created", zap.String("shipment_id", sh.ShipmentID))
	s.publish(ctx, o, EventDispatched)
	return nil
}

func shipmentRequest(o *Order) shipment.Request {
	items := make([]shipment.Item, len(o.Lines))
	for i, l := range o.Lines {
		items[i] = shipment.Item{
			SKU:      l.SKU,
			Name:     l.Name,
			Units:    l.Quantity,
			Price:    l.UnitPrice.StringFixed(2),
			Discount: l.UnitPrice.Sub(l.SalePrice).StringFixed(2),
		}
	}
	return shipment.Request{
		OrderID:        o.ID,
		OrderDate:      o.CreatedAt,
		Address:        o.Address,
		Items:          items,
		CashOnDelivery: o.PaymentMethod == payment.MethodCOD,
		SubTotal:       o.Breakdown.GrandTotal.StringFixed(2),
	}
}

// RetryDispatch requests a shipment for a confirmed order that has none.
func (s *Service) RetryDispatch(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Shipment != nil && o.Shipment.ShipmentID != "" {
		return nil, ErrAlreadyDispatched
	}
	if o.Membership || (o.Status != StatusConfirmed && o.Status != StatusProcessing) {
		return nil, &TransitionError{From: o.Status, To: StatusProcessing}
	}
	if err := s.dispatch(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// ApplyCarrierStatus records a carrier status update and moves the order
// along when the state machine allows it.
func (s *Service) ApplyCarrierStatus(ctx context.Context, orderID string, status shipment.Status) (*Order, error) {
	lg := zctx.From(ctx).With(zap.String("order_id", orderID))
	if !status.Known() {
		lg.Warn("Unknown carrier status", zap.String("status", string(status)))
		return nil, errors.Wrapf(ErrUnknownCarrier, "%q", status)
	}

	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if o.Shipment == nil {
		o.Shipment = &shipment.Shipment{}
	}
	o.Shipment.Status = status
	o.Shipment.UpdatedAt = now

	prev := o.Status
	if o.Refund.Status == refund.StatusPending {
		lg.Info("Refund in flight, carrier status recorded only",
			zap.String("carrier_status", string(status)),
		)
	} else {
		s.followCarrier(ctx, o, status, now)
	}
	if err := s.save(ctx, o); err != nil {
		return nil, errors.Wrap(err, "save carrier status")
	}
	if prev != o.Status {
		s.publish(ctx, o, EventStatusChanged)
	}
	return o, nil
}

// followCarrier moves the order to the status the carrier reports when the
// state machine allows it.
func (s *Service) followCarrier(ctx context.Context, o *Order, status shipment.Status, now time.Time) {
	next, ok := FromCarrier(status)
	if !ok || next == o.Status {
		return
	}
	if !CanTransition(o.Status, next) {
		zctx.From(ctx).Info("Carrier status does not move order",
			zap.String("order_id", o.ID),
			zap.String("carrier_status", string(status)),
			zap.String("status", string(o.Status)),
		)
		return
	}
	o.Status = next
	if next == StatusDelivered {
		o.DeliveredAt = &now
		if o.PaymentMethod == payment.MethodCOD {
			o.PaymentConfirmed = true
		}
	}
}

// SyncCarrierStatus polls the carrier and applies the result.
func (s *Service) SyncCarrierStatus(ctx context.Context, orderID string) (*Order, error) {
	o, err := s.orders.Get(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Shipment == nil || o.Shipment.ShipmentID == "" {
		return nil, &TransitionError{From: o.Status, To: StatusShipped}
	}
	status, err := s.track(ctx, o.Shipment.ShipmentID)
	if err != nil {
		return nil, err
	}
	return s.ApplyCarrierStatus(ctx, orderID, status)
}

func (s *Service) track(ctx context.Context, shipmentID string) (shipment.Status, error) {
	if s.cfg.CarrierTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.CarrierTimeout)
		defer cancel()
	}
	status, err := s.carrier.Track(ctx, shipmentID)
	if err != nil {
		return "", errors.Wrap(joinKind(ErrCarrierFailure, err), "track shipment")
	}
	return status, nil
}

// announce publishes the event and sends the notification without blocking
// the caller. Failures are logged only.
func (s *Service) announce(ctx context.Context, o *Order, typ EventType, notify func(context.Context, *Order) error) {
	s.publish(ctx, o, typ)
	snapshot := *o
	ctx = context.WithoutCancel(ctx)
	s.async(func() {
		if err := notify(ctx, &snapshot); err != nil {
			zctx.From(ctx).Warn("Notification failed",
				zap.String("order_id", snapshot.ID),
				zap.String("event", string(typ)),
				zap.Error(err),
			)
		}
	})
}

func (s *Service) publish(ctx context.Context, o *Order, typ EventType) {
	e := Event{
		Type:       typ,
		OrderID:    o.ID,
		UserID:     o.UserID,
		Status:     o.Status,
		Method:     string(o.PaymentMethod),
		GrandTotal: o.Breakdown.GrandTotal,
		Refund:     o.Refund.Amount,
		At:         s.now(),
	}
	ctx = context.WithoutCancel(ctx)
	s.async(func() {
		if err := s.events.Publish(ctx, e); err != nil {
			zctx.From(ctx).Warn("Publish event failed",
				zap.String("order_id", e.OrderID),
				zap.String("event", string(e.Type)),
				zap.Error(err),
			)
		}
	})
}
