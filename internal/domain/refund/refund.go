// Package refund sizes refunds from a frozen order snapshot and routes them to
// the gateway or to a manual payout.
package refund

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Status is the refund record status.
type Status string

const (
	// StatusNone means no refund was requested.
	StatusNone Status = "none"
	// StatusPending is written before the refund is dispatched. It blocks a
	// second request until the outcome is recorded.
	StatusPending Status = "pending"
	// StatusInitiated and StatusProcessing mirror asynchronous gateway states.
	StatusInitiated  Status = "initiated"
	StatusProcessing Status = "processing"
	// StatusCompleted is terminal: the order cannot be refunded again.
	StatusCompleted Status = "completed"
	// StatusFailed records a failed dispatch. The request may be retried.
	StatusFailed Status = "failed"
)

// Requestable reports whether a new refund request may start from s.
func (s Status) Requestable() bool {
	return s == StatusNone || s == StatusFailed || s == ""
}

// Fault attributes a post-delivery return.
type Fault string

const (
	// FaultNone is a pre-delivery cancellation.
	FaultNone    Fault = ""
	FaultBuyer   Fault = "buyer"
	FaultSeller  Fault = "seller"
	FaultCourier Fault = "courier"
)

// ErrInvalidFault is returned for a fault outside the vocabulary.
var ErrInvalidFault = errors.New("invalid fault reason")

// ParseFault normalises a fault reason.
func ParseFault(s string) (Fault, error) {
	switch f := Fault(strings.ToLower(strings.TrimSpace(s))); f {
	case FaultNone, FaultBuyer, FaultSeller, FaultCourier:
		return f, nil
	default:
		return FaultNone, errors.Wrapf(ErrInvalidFault, "%q", s)
	}
}

var (
	// ErrPayoutDetailsRequired is returned for cash orders without payout details.
	ErrPayoutDetailsRequired = errors.New("payout details required for cash-on-delivery refunds")
	// ErrNoGateway is returned when no refunder is registered for the payment method.
	ErrNoGateway = errors.New("no refund gateway for payment method")
	// ErrNoPaymentRef is returned when a gateway order has no captured payment to refund.
	ErrNoPaymentRef = errors.New("order has no payment reference")
)

// PayoutDetails tell operations where to send a manual refund. Either UPIID or
// the bank triple must be set.
type PayoutDetails struct {
	AccountHolder string `json:"account_holder,omitempty"`
	AccountNumber string `json:"account_number,omitempty"`
	IFSC          string `json:"ifsc,omitempty"`
	UPIID         string `json:"upi_id,omitempty"`
}

// Validate checks that the details identify a destination.
func (d *PayoutDetails) Validate() error {
	if d == nil {
		return ErrPayoutDetailsRequired
	}
	if d.UPIID != "" {
		return nil
	}
	if d.AccountHolder == "" || d.AccountNumber == "" || d.IFSC == "" {
		return errors.Wrap(ErrPayoutDetailsRequired, "need upi id or account holder, number and ifsc")
	}
	return nil
}

// Record is the refund state embedded in an order.
type Record struct {
	Status        Status          `json:"status"`
	Amount        decimal.Decimal `json:"amount"`
	RefundID      string          `json:"refund_id,omitempty"`
	Fault         Fault           `json:"fault,omitempty"`
	Payout        *PayoutDetails  `json:"payout,omitempty"`
	FailureReason string          `json:"failure_reason,omitempty"`
	RequestedAt   *time.Time      `json:"requested_at,omitempty"`
	ProcessedAt   *time.Time      `json:"processed_at,omitempty"`
}

// Payout is a manual payout intent for operations to settle.
type Payout struct {
	Reference string
	OrderID   string
	Amount    decimal.Decimal
	Details   PayoutDetails
	CreatedAt time.Time
}

// PayoutLedger stores manual payout intents.
type PayoutLedger interface {
	RecordPayout(ctx context.Context, p Payout) error
}
