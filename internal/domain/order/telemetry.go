package order

import (
	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/metric"
)

type metrics struct {
	placed           metric.Int64Counter
	paymentsVerified metric.Int64Counter
	paymentsRejected metric.Int64Counter
	dispatchFailures metric.Int64Counter
	stockFailures    metric.Int64Counter
	refunds          metric.Int64Counter
	refundFailures   metric.Int64Counter
}

func newMetrics(m metric.Meter) (*metrics, error) {
	var (
		out metrics
		err error
	)
	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&out.placed, "checkout.orders.placed", "Orders created"},
		{&out.paymentsVerified, "checkout.payments.verified", "Gateway payments verified"},
		{&out.paymentsRejected, "checkout.payments.rejected", "Gateway payments rejected"},
		{&out.dispatchFailures, "checkout.carrier.dispatch_failures", "Failed carrier dispatch attempts"},
		{&out.stockFailures, "checkout.stock.decrement_failures", "Stock lines that failed to decrement"},
		{&out.refunds, "checkout.refunds.dispatched", "Refunds dispatched"},
		{&out.refundFailures, "checkout.refunds.failed", "Refund dispatch failures"},
	}
	for _, c := range counters {
		if *c.dst, err = m.Int64Counter(c.name, metric.WithDescription(c.desc)); err != nil {
			return nil, errors.Wrapf(err, "create %s", c.name)
		}
	}
	return &out, nil
}
