package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

var hundred = decimal.NewFromInt(100)

// Calculator applies the pricing rules.
type Calculator struct {
	rules Rules
}

// NewCalculator creates a Calculator with the given rules.
func NewCalculator(rules Rules) *Calculator {
	return &Calculator{rules: rules}
}

// Rules returns the configured rules.
func (c *Calculator) Rules() Rules {
	return c.rules
}

// FreezeLines resolves every line against the catalog snapshot and copies its
// current prices. Quantities of repeated keys are summed before the stock
// check.
func FreezeLines(lines []Line, catalog product.Catalog) ([]PricedLine, error) {
	requested := make(map[product.Key]int, len(lines))
	for _, l := range lines {
		if l.Quantity <= 0 {
			return nil, &InvalidQuantityError{Key: l.Key(), Quantity: l.Quantity}
		}
		requested[l.Key()] += l.Quantity
	}

	out := make([]PricedLine, len(lines))
	for i, l := range lines {
		k := l.Key()
		facts, ok := catalog.Lookup(k)
		if !ok {
			return nil, &ProductNotFoundError{Key: k}
		}
		if want := requested[k]; want > facts.Stock {
			return nil, &OutOfStockError{Key: k, Requested: want, Available: facts.Stock}
		}
		out[i] = PricedLine{
			Line:      l,
			SKU:       facts.SKU,
			Name:      facts.Name,
			UnitPrice: facts.Price,
			SalePrice: facts.UnitPrice(),
		}
	}
	return out, nil
}

// Price freezes the lines and computes the breakdown.
func (c *Calculator) Price(lines []Line, catalog product.Catalog, opts Options) (Quote, error) {
	priced, err := FreezeLines(lines, catalog)
	if err != nil {
		return Quote{}, err
	}
	return Quote{Lines: priced, Breakdown: c.Breakdown(priced, opts)}, nil
}

// Breakdown computes the itemised total for already priced lines. The steps
// run in a fixed order and only the outputs are rounded.
func (c *Calculator) Breakdown(lines []PricedLine, opts Options) Breakdown {
	// 1. Subtotal and per-line discounts.
	subtotal, lineDiscounts := zero, zero
	for _, l := range lines {
		subtotal = subtotal.Add(l.Gross())
		lineDiscounts = lineDiscounts.Add(l.Discount())
	}
	net := subtotal.Sub(lineDiscounts)

	// 2. Gift wrap is free for premium members.
	giftWrap := zero
	if opts.GiftWrap != nil && !opts.Premium {
		giftWrap = floorAtZero(*opts.GiftWrap)
	}

	// 3. Cash-on-delivery surcharge.
	cod := zero
	if opts.Method == payment.MethodCOD {
		cod = c.rules.CODSurcharge
	}

	// 4. Shipping, never for COD or premium members, only below the threshold.
	shipping := zero
	if opts.Method != payment.MethodCOD && !opts.Premium && net.LessThan(c.rules.FreeShippingThreshold) {
		shipping = c.rules.ShippingCharge
	}

	// 5. Coupon discount, clamped to what is left to discount.
	coupon := decimal.Min(floorAtZero(opts.CouponDiscount), floorAtZero(net))
	discounted := floorAtZero(net.Sub(coupon))

	// 6. GST is extracted from the inclusive amount and reported only.
	taxable := discounted
	if c.rules.GSTRate.IsPositive() {
		taxable = discounted.Div(hundred.Add(c.rules.GSTRate).Div(hundred))
	}
	tax := discounted.Sub(taxable)
	half := tax.Div(decimal.NewFromInt(2))

	// 7. Grand total.
	total := floorAtZero(discounted.Add(shipping).Add(cod).Add(giftWrap))

	return Breakdown{
		Subtotal:       subtotal.Round(2),
		LineDiscounts:  lineDiscounts.Round(2),
		CouponDiscount: coupon.Round(2),
		Shipping:       shipping.Round(2),
		CODSurcharge:   cod.Round(2),
		GiftWrap:       giftWrap.Round(2),
		Discounted:     discounted.Round(2),
		TaxableValue:   taxable.Round(2),
		CGST:           half.Round(2),
		SGST:           half.Round(2),
		GrandTotal:     total.Round(2),
	}
}

func floorAtZero(d decimal.Decimal) decimal.Decimal {
	if d.IsNegative() {
		return zero
	}
	return d
}
