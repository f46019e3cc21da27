package refund

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/shipment"
)

// Case names the rule that sized a refund.
type Case string

const (
	CasePrePickup     Case = "pre-pickup"
	CaseInTransit     Case = "in-transit"
	CaseDefault       Case = "delivered-default"
	CaseBuyerFault    Case = "delivered-buyer-fault"
	CaseSellerFault   Case = "delivered-seller-fault"
	CaseUnknownStatus Case = "unknown-status"
)

// Snapshot is the frozen part of an order the calculator needs.
type Snapshot struct {
	Method    payment.Method
	Breakdown pricing.Breakdown
}

// Quote is a computed refund.
type Quote struct {
	Amount decimal.Decimal
	Case   Case
}

// Calculator sizes refunds. It is pure.
type Calculator struct {
	ConvenienceFee decimal.Decimal
}

// NewCalculator creates a Calculator charging fee on buyer-fault returns.
func NewCalculator(fee decimal.Decimal) *Calculator {
	return &Calculator{ConvenienceFee: fee}
}

// Calculate returns the refund for the order given the carrier status and the
// fault reason. Statuses outside the handled cases yield zero with
// CaseUnknownStatus so the caller can report the gap.
func (c *Calculator) Calculate(s Snapshot, status shipment.Status, fault Fault) Quote {
	b := s.Breakdown
	product := b.ProductAmount()
	cod := s.Method == payment.MethodCOD

	var q Quote
	switch status {
	case shipment.StatusNew, shipment.StatusPickupScheduled:
		q = Quote{Amount: product, Case: CasePrePickup}
		if cod {
			q.Amount = q.Amount.Sub(b.CODSurcharge)
		} else if b.Shipping.IsPositive() {
			q.Amount = q.Amount.Sub(b.Shipping)
		}
	case shipment.StatusInTransit:
		q = Quote{Amount: product, Case: CaseInTransit}
		if cod {
			q.Amount = q.Amount.Add(b.CODSurcharge)
		}
	case shipment.StatusDelivered:
		switch fault {
		case FaultBuyer:
			q = Quote{Amount: product.Sub(c.ConvenienceFee), Case: CaseBuyerFault}
		case FaultSeller, FaultCourier:
			q = Quote{Amount: product.Add(b.Shipping).Add(b.CODSurcharge), Case: CaseSellerFault}
		default:
			q = Quote{Amount: product, Case: CaseDefault}
		}
	case shipment.StatusReturnToOrigin:
		q = Quote{Amount: product, Case: CaseDefault}
	default:
		return Quote{Amount: decimal.Zero, Case: CaseUnknownStatus}
	}

	if q.Amount.IsNegative() {
		q.Amount = decimal.Zero
	}
	q.Amount = q.Amount.Round(2)
	return q
}
