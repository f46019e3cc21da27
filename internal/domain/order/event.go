package order

import (
	"time"

	"github.com/shopspring/decimal"
)

// EventType names a lifecycle event.
type EventType string

const (
	EventPlaced        EventType = "order.placed"
	EventConfirmed     EventType = "order.confirmed"
	EventPaymentFailed EventType = "order.payment_failed"
	EventDispatched    EventType = "order.dispatched"
	EventStatusChanged EventType = "order.status_changed"
	EventRefunded      EventType = "order.refunded"
	EventRefundFailed  EventType = "order.refund_failed"
)

// Event is a lifecycle event published after the state change is persisted.
type Event struct {
	Type       EventType       `json:"type"`
	OrderID    string          `json:"order_id"`
	UserID     string          `json:"user_id"`
	Status     Status          `json:"status"`
	Method     string          `json:"payment_method"`
	GrandTotal decimal.Decimal `json:"grand_total"`
	Refund     decimal.Decimal `json:"refund_amount,omitzero"`
	At         time.Time       `json:"at"`
}
