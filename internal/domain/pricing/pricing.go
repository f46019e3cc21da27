// Package pricing computes authoritative order totals. Catalog facts are
// fetched by the caller and passed in as values so every function here is
// pure and deterministic.
package pricing

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

var zero = decimal.Zero

// OutOfStockError indicates a line requests more units than are available.
type OutOfStockError struct {
	Key       product.Key
	Requested int
	Available int
}

func (e *OutOfStockError) Error() string {
	return fmt.Sprintf("product %s (%s/%s) out of stock: requested %d, available %d",
		e.Key.ProductID, e.Key.Color, e.Key.Size, e.Requested, e.Available)
}

// ProductNotFoundError indicates a referenced product, color or size no longer exists.
type ProductNotFoundError struct {
	Key product.Key
}

func (e *ProductNotFoundError) Error() string {
	return fmt.Sprintf("product %s (%s/%s) not found", e.Key.ProductID, e.Key.Color, e.Key.Size)
}

// InvalidQuantityError indicates a line with a non-positive quantity.
type InvalidQuantityError struct {
	Key      product.Key
	Quantity int
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("product %s (%s/%s): invalid quantity %d", e.Key.ProductID, e.Key.Color, e.Key.Size, e.Quantity)
}

// Line is a requested cart line.
type Line struct {
	ProductID string `json:"product_id"`
	Color     string `json:"color"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity"`
}

// Key returns the catalog key of the line.
func (l Line) Key() product.Key {
	return product.Key{ProductID: l.ProductID, Color: l.Color, Size: l.Size}
}

// PricedLine is a cart line with prices frozen from the catalog.
type PricedLine struct {
	Line
	SKU       string          `json:"sku"`
	Name      string          `json:"name"`
	UnitPrice decimal.Decimal `json:"unit_price"`
	// SalePrice is the effective unit price; equal to UnitPrice when there is no markdown.
	SalePrice decimal.Decimal `json:"sale_price"`
}

// Gross returns unit price × quantity.
func (l PricedLine) Gross() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Net returns the effective line total after the per-line discount.
func (l PricedLine) Net() decimal.Decimal {
	return l.SalePrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Discount returns the per-line discount.
func (l PricedLine) Discount() decimal.Decimal {
	return l.Gross().Sub(l.Net())
}

// Breakdown is the itemised order total. It is frozen into the order at
// creation time and never recomputed on read.
type Breakdown struct {
	Subtotal       decimal.Decimal `json:"subtotal"`
	LineDiscounts  decimal.Decimal `json:"line_discounts"`
	CouponDiscount decimal.Decimal `json:"coupon_discount"`
	Shipping       decimal.Decimal `json:"shipping"`
	CODSurcharge   decimal.Decimal `json:"cod_surcharge"`
	GiftWrap       decimal.Decimal `json:"gift_wrap"`
	// Discounted is the taxable amount including GST: subtotal minus all discounts.
	Discounted   decimal.Decimal `json:"discounted"`
	TaxableValue decimal.Decimal `json:"taxable_value"`
	CGST         decimal.Decimal `json:"cgst"`
	SGST         decimal.Decimal `json:"sgst"`
	GrandTotal   decimal.Decimal `json:"grand_total"`
}

// ProductAmount is what the customer paid for goods: the grand total without
// the shipping charge and the cash-on-delivery surcharge.
func (b Breakdown) ProductAmount() decimal.Decimal {
	return b.GrandTotal.Sub(b.Shipping).Sub(b.CODSurcharge)
}

// Rules are the configured pricing constants.
type Rules struct {
	CODSurcharge          decimal.Decimal
	ShippingCharge        decimal.Decimal
	FreeShippingThreshold decimal.Decimal
	// GSTRate is the inclusive GST rate as a percentage, e.g. 18.
	GSTRate decimal.Decimal
}

// Options are the per-order inputs to the calculation.
type Options struct {
	Method payment.Method
	// GiftWrap is the gift-wrap price, nil when not requested.
	GiftWrap       *decimal.Decimal
	CouponDiscount decimal.Decimal
	Premium        bool
}

// Quote is the result of pricing a cart.
type Quote struct {
	Lines     []PricedLine
	Breakdown Breakdown
}
