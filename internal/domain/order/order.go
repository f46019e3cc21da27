package order

import (
	"context"
	"time"

	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/refund"
	"github.com/xenking/kart-checkout/internal/domain/shipment"
)

// Status is the order lifecycle status.
type Status string

const (
	StatusCreated         Status = "created"
	StatusAwaitingPayment Status = "awaiting_payment"
	StatusConfirmed       Status = "confirmed"
	StatusProcessing      Status = "processing"
	StatusShipped         Status = "shipped"
	StatusDelivered       Status = "delivered"
	StatusCancelled       Status = "cancelled"
	StatusReturned        Status = "returned"
	StatusRefundInitiated Status = "refund_initiated"
	StatusRefunded        Status = "refunded"
	StatusFailed          Status = "failed"
)

var transitions = map[Status][]Status{
	StatusCreated:         {StatusAwaitingPayment, StatusConfirmed, StatusFailed},
	StatusAwaitingPayment: {StatusConfirmed, StatusFailed},
	StatusConfirmed:       {StatusProcessing, StatusShipped, StatusDelivered, StatusReturned, StatusRefundInitiated},
	StatusProcessing:      {StatusShipped, StatusDelivered, StatusReturned, StatusRefundInitiated},
	StatusShipped:         {StatusDelivered, StatusReturned, StatusRefundInitiated},
	StatusDelivered:       {StatusReturned, StatusRefundInitiated},
	StatusReturned:        {StatusRefundInitiated},
	// A failed refund restores StatusBeforeRefund directly. Carrier updates
	// never move an order out of a refund in flight.
	StatusRefundInitiated: {StatusCancelled, StatusReturned, StatusRefunded},
}

// CanTransition reports whether the state machine allows from → to.
func CanTransition(from, to Status) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// Shipped reports whether the parcel has left the warehouse.
func (s Status) Shipped() bool {
	switch s {
	case StatusShipped, StatusDelivered, StatusReturned:
		return true
	default:
		return false
	}
}

// FromCarrier maps a coarse carrier status onto an order status. It returns
// false for statuses that do not move the order.
func FromCarrier(s shipment.Status) (Status, bool) {
	switch s {
	case shipment.StatusNew, shipment.StatusPickupScheduled:
		return StatusProcessing, true
	case shipment.StatusInTransit:
		return StatusShipped, true
	case shipment.StatusDelivered:
		return StatusDelivered, true
	case shipment.StatusReturnToOrigin:
		return StatusReturned, true
	default:
		return "", false
	}
}

// Order is a placed order. Lines and Breakdown are frozen at creation and
// never recomputed.
type Order struct {
	ID     string
	UserID string
	Email  string

	Lines      []pricing.PricedLine
	Breakdown  pricing.Breakdown
	CouponCode string
	GiftWrap   bool
	Address    shipment.Address
	// Premium is the membership flag captured when the order was created.
	Premium bool
	// Membership marks a membership purchase instead of goods.
	Membership bool

	PaymentMethod    payment.Method
	PaymentConfirmed bool
	// PaymentSession is the checkout session or intent id.
	PaymentSession string
	// PaymentRef is the captured payment used for refunds.
	PaymentRef string

	Status Status
	// StatusBeforeRefund is restored when a refund attempt fails.
	StatusBeforeRefund Status
	Shipment           *shipment.Shipment
	Refund             refund.Record
	Refundable         bool
	DeliveredAt        *time.Time

	Version   int
	CreatedAt time.Time
	UpdatedAt time.Time
}

// transition moves the order to status or returns ErrInvalidTransition.
func (o *Order) transition(to Status) error {
	if o.Status == to {
		return nil
	}
	if !CanTransition(o.Status, to) {
		return &TransitionError{From: o.Status, To: to}
	}
	o.Status = to
	return nil
}

// RefundSnapshot returns the frozen values the refund calculator needs.
func (o *Order) RefundSnapshot() refund.Snapshot {
	return refund.Snapshot{Method: o.PaymentMethod, Breakdown: o.Breakdown}
}

// Repository defines persistence operations for orders.
type Repository interface {
	Create(ctx context.Context, o *Order) error
	// Get returns ErrNotFound when the order does not exist.
	Get(ctx context.Context, id string) (*Order, error)
	// GetBySession returns the order holding the payment session id.
	GetBySession(ctx context.Context, sessionID string) (*Order, error)
	// Update persists o if its Version still matches the stored one and
	// increments it. It returns ErrConflict otherwise.
	Update(ctx context.Context, o *Order) error
}
