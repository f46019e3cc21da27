// Package stock decrements per-size inventory after an order is confirmed.
package stock

import (
	"context"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/product"
)

// Store is the stock provider.
type Store interface {
	// DecrementFloor atomically subtracts qty from the entry, flooring at
	// zero, and returns the remaining units. It returns product.ErrNotFound
	// when the entry does not exist.
	DecrementFloor(ctx context.Context, key product.Key, qty int) (int, error)
}

// Alerter receives partial-failure reports for operational follow-up.
type Alerter interface {
	StockAlert(ctx context.Context, orderID string, report Report)
}

// Line is one decrement request.
type Line struct {
	Key      product.Key
	Quantity int
}

// LineFailure is a line that could not be decremented.
type LineFailure struct {
	Line
	Err error
}

// Report is the outcome of a multi-line decrement.
type Report struct {
	Decremented []Line
	Failed      []LineFailure
	// Depleted lists keys that reached zero units.
	Depleted []product.Key
}

// OK reports whether every line was decremented.
func (r Report) OK() bool {
	return len(r.Failed) == 0
}

// Ledger applies per-line atomic decrements. Lines are independent: a
// failure does not roll back earlier lines.
type Ledger struct {
	store   Store
	alerter Alerter
}

// NewLedger creates a Ledger. alerter may be nil.
func NewLedger(store Store, alerter Alerter) *Ledger {
	return &Ledger{store: store, alerter: alerter}
}

// Decrement subtracts every line and returns a report. It never fails as a
// whole; failed lines are logged and reported to the alerter.
func (l *Ledger) Decrement(ctx context.Context, orderID string, lines []Line) Report {
	lg := zctx.From(ctx).With(zap.String("order_id", orderID))

	var report Report
	for _, line := range lines {
		remaining, err := l.store.DecrementFloor(ctx, line.Key, line.Quantity)
		if err != nil {
			lg.Error("Stock decrement failed",
				zap.String("product_id", line.Key.ProductID),
				zap.String("color", line.Key.Color),
				zap.String("size", line.Key.Size),
				zap.Int("quantity", line.Quantity),
				zap.Error(err),
			)
			report.Failed = append(report.Failed, LineFailure{Line: line, Err: err})
			continue
		}
		report.Decremented = append(report.Decremented, line)
		if remaining == 0 {
			report.Depleted = append(report.Depleted, line.Key)
		}
	}

	if (!report.OK() || len(report.Depleted) > 0) && l.alerter != nil {
		l.alerter.StockAlert(ctx, orderID, report)
	}
	return report
}
