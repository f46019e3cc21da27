package refund

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/oklog/ulid/v2"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// Target identifies the payment a refund goes back to.
type Target struct {
	OrderID    string
	Method     payment.Method
	PaymentRef string
	Currency   string
}

// Result is the outcome of a successful dispatch. RefundID is empty when
// nothing had to be moved.
type Result struct {
	RefundID string
	Manual   bool
}

// Dispatcher routes refunds to a gateway or to the manual payout ledger.
type Dispatcher struct {
	refunders map[payment.Method]payment.Refunder
	payouts   PayoutLedger
	timeout   time.Duration
	now       func() time.Time
	newRef    func() string
}

// NewDispatcher creates a Dispatcher. timeout bounds each gateway call.
func NewDispatcher(refunders map[payment.Method]payment.Refunder, payouts PayoutLedger, timeout time.Duration) *Dispatcher {
	return &Dispatcher{
		refunders: refunders,
		payouts:   payouts,
		timeout:   timeout,
		now:       time.Now,
		newRef:    func() string { return ulid.Make().String() },
	}
}

// Dispatch moves amount back to the customer. Any returned error means the
// refund did not happen and may be retried.
func (d *Dispatcher) Dispatch(ctx context.Context, t Target, amount decimal.Decimal, details *PayoutDetails) (Result, error) {
	if !amount.IsPositive() {
		return Result{}, nil
	}

	if t.Method == payment.MethodCOD {
		if err := details.Validate(); err != nil {
			return Result{}, err
		}
		p := Payout{
			Reference: d.newRef(),
			OrderID:   t.OrderID,
			Amount:    amount,
			Details:   *details,
			CreatedAt: d.now(),
		}
		if err := d.payouts.RecordPayout(ctx, p); err != nil {
			return Result{}, errors.Wrap(err, "record payout")
		}
		return Result{RefundID: p.Reference, Manual: true}, nil
	}

	refunder, ok := d.refunders[t.Method]
	if !ok {
		return Result{}, errors.Wrapf(ErrNoGateway, "%q", t.Method)
	}
	if t.PaymentRef == "" {
		return Result{}, ErrNoPaymentRef
	}

	if d.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
		defer cancel()
	}
	r, err := refunder.Refund(ctx, payment.RefundRequest{
		PaymentRef:     t.PaymentRef,
		Amount:         payment.MinorUnits(amount),
		Currency:       t.Currency,
		Reason:         "requested_by_customer",
		IdempotencyKey: "refund-" + t.OrderID + "-" + amount.StringFixed(2),
	})
	if err != nil {
		return Result{}, errors.Wrapf(err, "refund via %s", t.Method)
	}
	return Result{RefundID: r.ID}, nil
}
