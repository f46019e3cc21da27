package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/product"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testRules() Rules {
	return Rules{
		CODSurcharge:          dec("50"),
		ShippingCharge:        dec("80"),
		FreeShippingThreshold: dec("999"),
		GSTRate:               dec("18"),
	}
}

func testCatalog() product.Catalog {
	c := make(product.Catalog)
	c.Put(product.Key{ProductID: "tee", Color: "black", Size: "M"}, product.SizeFacts{
		SKU: "TEE-BLK-M", Name: "Tee", Price: dec("500"), Stock: 3,
	})
	c.Put(product.Key{ProductID: "tee", Color: "black", Size: "L"}, product.SizeFacts{
		SKU: "TEE-BLK-L", Name: "Tee", Price: dec("500"), SalePrice: dec("400"), Stock: 1,
	})
	c.Put(product.Key{ProductID: "hoodie", Color: "grey", Size: "XL"}, product.SizeFacts{
		SKU: "HOOD-GRY-XL", Name: "Hoodie", Price: dec("1499.99"), Stock: 10,
	})
	return c
}

func TestFreezeLines(t *testing.T) {
	tests := []struct {
		name    string
		lines   []Line
		wantErr any
	}{
		{
			name:  "all lines in stock",
			lines: []Line{{ProductID: "tee", Color: "black", Size: "M", Quantity: 3}},
		},
		{
			name:    "zero quantity",
			lines:   []Line{{ProductID: "tee", Color: "black", Size: "M", Quantity: 0}},
			wantErr: &InvalidQuantityError{},
		},
		{
			name:    "unknown product",
			lines:   []Line{{ProductID: "cap", Color: "black", Size: "M", Quantity: 1}},
			wantErr: &ProductNotFoundError{},
		},
		{
			name:    "unknown size",
			lines:   []Line{{ProductID: "tee", Color: "black", Size: "S", Quantity: 1}},
			wantErr: &ProductNotFoundError{},
		},
		{
			name:    "quantity above stock",
			lines:   []Line{{ProductID: "tee", Color: "black", Size: "L", Quantity: 2}},
			wantErr: &OutOfStockError{},
		},
		{
			name: "repeated key summed against stock",
			lines: []Line{
				{ProductID: "tee", Color: "black", Size: "M", Quantity: 2},
				{ProductID: "tee", Color: "black", Size: "M", Quantity: 2},
			},
			wantErr: &OutOfStockError{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FreezeLines(tt.lines, testCatalog())
			switch want := tt.wantErr.(type) {
			case *ProductNotFoundError:
				require.ErrorAs(t, err, &want)
				assert.Equal(t, tt.lines[0].Key(), want.Key)
			case *InvalidQuantityError:
				require.ErrorAs(t, err, &want)
			case *OutOfStockError:
				require.ErrorAs(t, err, &want)
				assert.Greater(t, want.Requested, want.Available)
			default:
				require.NoError(t, err)
				require.Len(t, got, len(tt.lines))
			}
		})
	}
}

func TestFreezeLines_CopiesPrices(t *testing.T) {
	got, err := FreezeLines([]Line{{ProductID: "tee", Color: "black", Size: "L", Quantity: 1}}, testCatalog())
	require.NoError(t, err)
	require.Len(t, got, 1)

	assert.Equal(t, "TEE-BLK-L", got[0].SKU)
	assert.True(t, dec("500").Equal(got[0].UnitPrice))
	assert.True(t, dec("400").Equal(got[0].SalePrice))
	assert.True(t, dec("100").Equal(got[0].Discount()))
}

func TestCalculator_Breakdown(t *testing.T) {
	wrap := dec("30")

	tests := []struct {
		name  string
		lines []Line
		opts  Options
		want  Breakdown
	}{
		{
			name:  "prepaid below threshold pays shipping",
			lines: []Line{{ProductID: "tee", Color: "black", Size: "M", Quantity: 1}},
			opts:  Options{Method: payment.MethodStripe},
			want: Breakdown{
				Subtotal:     dec("500"),
				Shipping:     dec("80"),
				Discounted:   dec("500"),
				TaxableValue: dec("423.73"),
				CGST:         dec("38.14"),
				SGST:         dec("38.14"),
				GrandTotal:   dec("580"),
			},
		},
		{
			name:  "cod pays surcharge instead of shipping",
			lines: []Line{{ProductID: "tee", Color: "black", Size: "M", Quantity: 1}},
			opts:  Options{Method: payment.MethodCOD},
			want: Breakdown{
				Subtotal:     dec("500"),
				CODSurcharge: dec("50"),
				Discounted:   dec("500"),
				TaxableValue: dec("423.73"),
				CGST:         dec("38.14"),
				SGST:         dec("38.14"),
				GrandTotal:   dec("550"),
			},
		},
		{
			name:  "premium member skips shipping and gift wrap",
			lines: []Line{{ProductID: "tee", Color: "black", Size: "M", Quantity: 1}},
			opts:  Options{Method: payment.MethodRazorpay, GiftWrap: &wrap, Premium: true},
			want: Breakdown{
				Subtotal:     dec("500"),
				Discounted:   dec("500"),
				TaxableValue: dec("423.73"),
				CGST:         dec("38.14"),
				SGST:         dec("38.14"),
				GrandTotal:   dec("500"),
			},
		},
		{
			name:  "gift wrap charged for normal member",
			lines: []Line{{ProductID: "hoodie", Color: "grey", Size: "XL", Quantity: 1}},
			opts:  Options{Method: payment.MethodStripe, GiftWrap: &wrap},
			want: Breakdown{
				Subtotal:     dec("1499.99"),
				GiftWrap:     dec("30"),
				Discounted:   dec("1499.99"),
				TaxableValue: dec("1271.18"),
				CGST:         dec("114.41"),
				SGST:         dec("114.41"),
				GrandTotal:   dec("1529.99"),
			},
		},
		{
			name:  "line discount and coupon reduce the total",
			lines: []Line{{ProductID: "tee", Color: "black", Size: "L", Quantity: 1}},
			opts:  Options{Method: payment.MethodStripe, CouponDiscount: dec("100")},
			want: Breakdown{
				Subtotal:       dec("500"),
				LineDiscounts:  dec("100"),
				CouponDiscount: dec("100"),
				Shipping:       dec("80"),
				Discounted:     dec("300"),
				TaxableValue:   dec("254.24"),
				CGST:           dec("22.88"),
				SGST:           dec("22.88"),
				GrandTotal:     dec("380"),
			},
		},
		{
			name:  "coupon larger than the cart is clamped",
			lines: []Line{{ProductID: "tee", Color: "black", Size: "M", Quantity: 1}},
			opts:  Options{Method: payment.MethodCOD, CouponDiscount: dec("900")},
			want: Breakdown{
				Subtotal:       dec("500"),
				CouponDiscount: dec("500"),
				CODSurcharge:   dec("50"),
				Discounted:     dec("0"),
				TaxableValue:   dec("0"),
				CGST:           dec("0"),
				SGST:           dec("0"),
				GrandTotal:     dec("50"),
			},
		},
	}

	calc := NewCalculator(testRules())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := calc.Price(tt.lines, testCatalog(), tt.opts)
			require.NoError(t, err)

			assertDecimal(t, tt.want.Subtotal, q.Breakdown.Subtotal, "subtotal")
			assertDecimal(t, tt.want.LineDiscounts, q.Breakdown.LineDiscounts, "line discounts")
			assertDecimal(t, tt.want.CouponDiscount, q.Breakdown.CouponDiscount, "coupon")
			assertDecimal(t, tt.want.Shipping, q.Breakdown.Shipping, "shipping")
			assertDecimal(t, tt.want.CODSurcharge, q.Breakdown.CODSurcharge, "cod")
			assertDecimal(t, tt.want.GiftWrap, q.Breakdown.GiftWrap, "gift wrap")
			assertDecimal(t, tt.want.Discounted, q.Breakdown.Discounted, "discounted")
			assertDecimal(t, tt.want.TaxableValue, q.Breakdown.TaxableValue, "taxable")
			assertDecimal(t, tt.want.CGST, q.Breakdown.CGST, "cgst")
			assertDecimal(t, tt.want.SGST, q.Breakdown.SGST, "sgst")
			assertDecimal(t, tt.want.GrandTotal, q.Breakdown.GrandTotal, "grand total")
		})
	}
}

func TestCalculator_Breakdown_Identity(t *testing.T) {
	wrap := dec("25.50")
	calc := NewCalculator(testRules())
	methods := []payment.Method{payment.MethodCOD, payment.MethodStripe, payment.MethodRazorpay}
	coupons := []string{"0", "0.01", "33.33", "499.99", "5000"}

	for _, m := range methods {
		for _, c := range coupons {
			for _, premium := range []bool{false, true} {
				q, err := calc.Price([]Line{
					{ProductID: "tee", Color: "black", Size: "L", Quantity: 1},
					{ProductID: "hoodie", Color: "grey", Size: "XL", Quantity: 3},
				}, testCatalog(), Options{Method: m, GiftWrap: &wrap, CouponDiscount: dec(c), Premium: premium})
				require.NoError(t, err)

				b := q.Breakdown
				want := b.Subtotal.
					Sub(b.LineDiscounts.Add(b.CouponDiscount)).
					Add(b.Shipping).
					Add(b.CODSurcharge).
					Add(b.GiftWrap)
				assert.True(t, want.Equal(b.GrandTotal), "%s coupon=%s premium=%v: %s != %s", m, c, premium, want, b.GrandTotal)
				assert.False(t, b.GrandTotal.IsNegative())
				assert.True(t, b.CGST.Equal(b.SGST))
			}
		}
	}
}

func TestBreakdown_ProductAmount(t *testing.T) {
	b := Breakdown{GrandTotal: dec("1130"), Shipping: dec("80"), CODSurcharge: dec("0")}
	assertDecimal(t, dec("1050"), b.ProductAmount(), "product amount")
}

func assertDecimal(t *testing.T, want, got decimal.Decimal, field string) {
	t.Helper()
	assert.True(t, want.Equal(got), "%s: expected %s, got %s", field, want, got)
}
