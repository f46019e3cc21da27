package refund

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/shipment"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

// snapshot builds an order whose product amount is product.
func snapshot(method payment.Method, product, shipping, cod string) Snapshot {
	total := dec(product).Add(dec(shipping)).Add(dec(cod))
	return Snapshot{
		Method: method,
		Breakdown: pricing.Breakdown{
			Shipping:     dec(shipping),
			CODSurcharge: dec(cod),
			GrandTotal:   total,
		},
	}
}

func TestCalculator_Calculate(t *testing.T) {
	tests := []struct {
		name     string
		snapshot Snapshot
		status   shipment.Status
		fault    Fault
		want     string
		wantCase Case
	}{
		{
			name:     "new cod order loses the cod surcharge",
			snapshot: snapshot(payment.MethodCOD, "1000", "0", "50"),
			status:   shipment.StatusNew,
			want:     "950",
			wantCase: CasePrePickup,
		},
		{
			name:     "pickup scheduled prepaid order loses shipping",
			snapshot: snapshot(payment.MethodStripe, "600", "80", "0"),
			status:   shipment.StatusPickupScheduled,
			want:     "520",
			wantCase: CasePrePickup,
		},
		{
			name:     "pre-pickup prepaid without shipping",
			snapshot: snapshot(payment.MethodRazorpay, "1500", "0", "0"),
			status:   shipment.StatusNew,
			want:     "1500",
			wantCase: CasePrePickup,
		},
		{
			name:     "in transit cod order",
			snapshot: snapshot(payment.MethodCOD, "1000", "0", "50"),
			status:   shipment.StatusInTransit,
			want:     "1050",
			wantCase: CaseInTransit,
		},
		{
			name:     "in transit prepaid order",
			snapshot: snapshot(payment.MethodStripe, "600", "80", "0"),
			status:   shipment.StatusInTransit,
			want:     "600",
			wantCase: CaseInTransit,
		},
		{
			name:     "delivered without reason",
			snapshot: snapshot(payment.MethodStripe, "2000", "50", "0"),
			status:   shipment.StatusDelivered,
			want:     "2000",
			wantCase: CaseDefault,
		},
		{
			name:     "delivered buyer fault",
			snapshot: snapshot(payment.MethodStripe, "2000", "0", "0"),
			status:   shipment.StatusDelivered,
			fault:    FaultBuyer,
			want:     "1850",
			wantCase: CaseBuyerFault,
		},
		{
			name:     "delivered seller fault",
			snapshot: snapshot(payment.MethodStripe, "2000", "50", "0"),
			status:   shipment.StatusDelivered,
			fault:    FaultSeller,
			want:     "2050",
			wantCase: CaseSellerFault,
		},
		{
			name:     "delivered courier fault on cod order",
			snapshot: snapshot(payment.MethodCOD, "2000", "0", "50"),
			status:   shipment.StatusDelivered,
			fault:    FaultCourier,
			want:     "2050",
			wantCase: CaseSellerFault,
		},
		{
			name:     "return to origin ignores fault",
			snapshot: snapshot(payment.MethodCOD, "1200", "0", "50"),
			status:   shipment.StatusReturnToOrigin,
			fault:    FaultSeller,
			want:     "1200",
			wantCase: CaseDefault,
		},
		{
			name:     "buyer fault floors at zero",
			snapshot: snapshot(payment.MethodStripe, "100", "0", "0"),
			status:   shipment.StatusDelivered,
			fault:    FaultBuyer,
			want:     "0",
			wantCase: CaseBuyerFault,
		},
		{
			name:     "carrier cancelled is not handled",
			snapshot: snapshot(payment.MethodStripe, "2000", "0", "0"),
			status:   shipment.StatusCancelled,
			want:     "0",
			wantCase: CaseUnknownStatus,
		},
		{
			name:     "unknown status",
			snapshot: snapshot(payment.MethodStripe, "2000", "0", "0"),
			status:   shipment.Status("lost"),
			want:     "0",
			wantCase: CaseUnknownStatus,
		},
	}

	c := NewCalculator(dec("150"))
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Calculate(tt.snapshot, tt.status, tt.fault)
			assert.True(t, dec(tt.want).Equal(got.Amount), "expected %s, got %s", tt.want, got.Amount)
			assert.Equal(t, tt.wantCase, got.Case)
		})
	}
}

func TestParseFault(t *testing.T) {
	f, err := ParseFault(" Buyer ")
	assert.NoError(t, err)
	assert.Equal(t, FaultBuyer, f)

	f, err = ParseFault("")
	assert.NoError(t, err)
	assert.Equal(t, FaultNone, f)

	_, err = ParseFault("weather")
	assert.ErrorIs(t, err, ErrInvalidFault)
}
