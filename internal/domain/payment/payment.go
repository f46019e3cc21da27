// Package payment defines payment methods and the gateway contracts the order
// lifecycle depends on.
package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Method enumerates the supported payment methods.
type Method string

const (
	// MethodCOD is cash on delivery. Confirmation is presumptive.
	MethodCOD Method = "cod"
	// MethodStripe is the redirect-session gateway.
	MethodStripe Method = "stripe"
	// MethodRazorpay is the intent plus signature verification gateway.
	MethodRazorpay Method = "razorpay"
)

// Valid reports whether m is a known method.
func (m Method) Valid() bool {
	switch m {
	case MethodCOD, MethodStripe, MethodRazorpay:
		return true
	default:
		return false
	}
}

// IsGateway reports whether payment is collected by an external gateway.
func (m Method) IsGateway() bool {
	return m == MethodStripe || m == MethodRazorpay
}

var (
	// ErrRefundNotImplemented is returned by gateways without a refund contract.
	ErrRefundNotImplemented = errors.New("gateway refund not implemented")
	// ErrSignatureMismatch is returned when a payment verification signature is invalid.
	ErrSignatureMismatch = errors.New("payment signature mismatch")
	// ErrNotPaid is returned when the gateway does not report the session as paid.
	ErrNotPaid = errors.New("payment not completed")
)

// LineItem is a single priced line sent to a checkout session.
type LineItem struct {
	Name     string
	Quantity int64
	// Amount is the unit amount in minor currency units.
	Amount int64
}

// CheckoutRequest asks the redirect gateway for a hosted checkout session.
type CheckoutRequest struct {
	OrderID        string
	CustomerEmail  string
	Currency       string
	Items          []LineItem
	IdempotencyKey string
}

// CheckoutSession is a hosted checkout session.
type CheckoutSession struct {
	ID          string
	RedirectURL string
	ExpiresAt   time.Time
}

// CheckoutResult is the verified state of a checkout session.
type CheckoutResult struct {
	SessionID string
	OrderID   string
	Paid      bool
	// Open reports that the session can still be paid.
	Open bool
	// PaymentRef identifies the captured charge for later refunds.
	PaymentRef string
}

// IntentRequest asks the intent gateway for a payment intent.
type IntentRequest struct {
	OrderID  string
	Amount   int64
	Currency string
}

// Intent is a created payment intent.
type Intent struct {
	ID       string
	Amount   int64
	Currency string
}

// Verification is the client-submitted tuple proving an intent was paid.
type Verification struct {
	IntentID  string
	PaymentID string
	Signature string
}

// RefundRequest refunds part or all of a captured payment.
type RefundRequest struct {
	PaymentRef     string
	Amount         int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

// Refund is the gateway's acknowledgement of a refund.
type Refund struct {
	ID     string
	Status string
}

// CheckoutGateway is the redirect-session gateway.
type CheckoutGateway interface {
	CreateSession(ctx context.Context, req CheckoutRequest) (CheckoutSession, error)
	VerifySession(ctx context.Context, sessionID string) (CheckoutResult, error)
	// ExpireSession closes an open session so it can no longer be paid and
	// returns its final state.
	ExpireSession(ctx context.Context, sessionID string) (CheckoutResult, error)
}

// IntentGateway is the intent plus signature verification gateway.
type IntentGateway interface {
	CreateIntent(ctx context.Context, req IntentRequest) (Intent, error)
	Verify(v Verification) error
}

// Refunder issues refunds against captured payments.
type Refunder interface {
	Refund(ctx context.Context, req RefundRequest) (Refund, error)
}

var hundred = decimal.NewFromInt(100)

// MinorUnits converts a decimal amount to minor currency units, rounding half
// away from zero at the second decimal place.
func MinorUnits(amount decimal.Decimal) int64 {
	return amount.Round(2).Mul(hundred).IntPart()
}
