package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/refund"
	"github.com/xenking/kart-checkout/internal/domain/shipment"
)

const maxBodySize = 64 << 10

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodySize))
	if err != nil {
		return nil, badRequest("read body: " + err.Error())
	}
	return body, nil
}

// decodeObject reads a JSON object body and calls field for every key.
func decodeObject(w http.ResponseWriter, r *http.Request, field func(d *jx.Decoder, key string) error) error {
	body, err := readBody(w, r)
	if err != nil {
		return err
	}
	if err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		return field(d, string(key))
	}); err != nil {
		if errors.Is(err, errBadRequest) {
			return err
		}
		return badRequest("decode body: " + err.Error())
	}
	return nil
}

func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(s)
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Decimal{}, err
		}
		return decimal.NewFromString(n.String())
	default:
		return decimal.Decimal{}, badRequest("amount must be a string or number")
	}
}

// decodePlaceOrder reads the body of quote and place order requests.
func decodePlaceOrder(w http.ResponseWriter, r *http.Request) (order.PlaceOrderRequest, error) {
	var req order.PlaceOrderRequest
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "items":
			return d.Arr(func(d *jx.Decoder) error {
				var l pricing.Line
				if err := decodeLine(d, &l); err != nil {
					return err
				}
				req.Lines = append(req.Lines, l)
				return nil
			})
		case "payment_method":
			var m string
			m, err = d.Str()
			req.Method = payment.Method(m)
		case "coupon_code":
			req.CouponCode, err = d.Str()
		case "gift_wrap":
			req.GiftWrap, err = d.Bool()
		case "membership":
			req.Membership, err = d.Bool()
		case "address":
			err = decodeAddress(d, &req.Address)
		default:
			err = d.Skip()
		}
		return err
	})
	return req, err
}

func decodeLine(d *jx.Decoder, l *pricing.Line) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "product_id":
			l.ProductID, err = d.Str()
		case "color":
			l.Color, err = d.Str()
		case "size":
			l.Size, err = d.Str()
		case "quantity":
			l.Quantity, err = d.Int()
		default:
			err = d.Skip()
		}
		return err
	})
}

func decodeAddress(d *jx.Decoder, a *shipment.Address) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		fields := map[string]*string{
			"name":    &a.Name,
			"phone":   &a.Phone,
			"email":   &a.Email,
			"line1":   &a.Line1,
			"line2":   &a.Line2,
			"city":    &a.City,
			"state":   &a.State,
			"pincode": &a.Pincode,
			"country": &a.Country,
		}
		dst, ok := fields[string(key)]
		if !ok {
			return d.Skip()
		}
		v, err := d.Str()
		*dst = v
		return err
	})
}

func decodeVerification(w http.ResponseWriter, r *http.Request) (payment.Verification, error) {
	var v payment.Verification
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "intent_id":
			v.IntentID, err = d.Str()
		case "payment_id":
			v.PaymentID, err = d.Str()
		case "signature":
			v.Signature, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && (v.IntentID == "" || v.PaymentID == "" || v.Signature == "") {
		err = badRequest("intent_id, payment_id and signature are required")
	}
	return v, err
}

type refundBody struct {
	fault  refund.Fault
	payout *refund.PayoutDetails
}

func decodeRefund(w http.ResponseWriter, r *http.Request) (refundBody, error) {
	var b refundBody
	if r.ContentLength == 0 {
		return b, nil
	}
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		switch key {
		case "fault":
			s, err := d.Str()
			if err != nil {
				return err
			}
			b.fault, err = refund.ParseFault(s)
			return err
		case "payout":
			if d.Next() == jx.Null {
				return d.Null()
			}
			p := &refund.PayoutDetails{}
			b.payout = p
			return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
				var err error
				switch string(key) {
				case "account_holder":
					p.AccountHolder, err = d.Str()
				case "account_number":
					p.AccountNumber, err = d.Str()
				case "ifsc":
					p.IFSC, err = d.Str()
				case "upi_id":
					p.UPIID, err = d.Str()
				default:
					err = d.Skip()
				}
				return err
			})
		default:
			return d.Skip()
		}
	})
	return b, err
}

type carrierUpdate struct {
	orderID string
	status  string
}

func decodeCarrierUpdate(w http.ResponseWriter, r *http.Request) (carrierUpdate, error) {
	var u carrierUpdate
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "order_id":
			u.orderID, err = d.Str()
		case "current_status", "status":
			u.status, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err == nil && (u.orderID == "" || u.status == "") {
		err = badRequest("order_id and current_status are required")
	}
	return u, err
}

func decodeCouponRule(w http.ResponseWriter, r *http.Request) (coupon.Rule, error) {
	rule := coupon.Rule{Active: true}
	err := decodeObject(w, r, func(d *jx.Decoder, key string) error {
		var err error
		switch key {
		case "code":
			rule.Code, err = d.Str()
		case "kind":
			var k string
			k, err = d.Str()
			rule.Kind = coupon.Kind(k)
		case "value":
			rule.Value, err = decodeDecimal(d)
		case "min_order_amount":
			rule.MinOrderAmount, err = decodeDecimal(d)
		case "usage_limit":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var n int
			n, err = d.Int()
			rule.UsageLimit = &n
		case "per_user_limit":
			rule.PerUserLimit, err = d.Int()
		case "expires_at":
			if d.Next() == jx.Null {
				return d.Null()
			}
			var s string
			if s, err = d.Str(); err != nil {
				return err
			}
			t, perr := time.Parse(time.RFC3339, s)
			if perr != nil {
				return badRequest("expires_at must be RFC3339")
			}
			rule.ExpiresAt = &t
		case "active":
			rule.Active, err = d.Bool()
		case "user_class":
			var c string
			c, err = d.Str()
			rule.UserClass = coupon.UserClass(c)
		case "skus":
			err = d.Arr(func(d *jx.Decoder) error {
				s, err := d.Str()
				rule.SKUs = append(rule.SKUs, s)
				return err
			})
		default:
			err = d.Skip()
		}
		return err
	})
	return rule, err
}

func money(e *jx.Encoder, name string, v decimal.Decimal) {
	e.Field(name, func(e *jx.Encoder) { e.Str(v.StringFixed(2)) })
}

func encodeBreakdown(e *jx.Encoder, b pricing.Breakdown) {
	e.Obj(func(e *jx.Encoder) {
		money(e, "subtotal", b.Subtotal)
		money(e, "line_discounts", b.LineDiscounts)
		money(e, "coupon_discount", b.CouponDiscount)
		money(e, "shipping", b.Shipping)
		money(e, "cod_surcharge", b.CODSurcharge)
		money(e, "gift_wrap", b.GiftWrap)
		money(e, "discounted", b.Discounted)
		money(e, "taxable_value", b.TaxableValue)
		money(e, "cgst", b.CGST)
		money(e, "sgst", b.SGST)
		money(e, "grand_total", b.GrandTotal)
	})
}

func encodeLines(e *jx.Encoder, lines []pricing.PricedLine) {
	e.Arr(func(e *jx.Encoder) {
		for _, l := range lines {
			e.Obj(func(e *jx.Encoder) {
				e.Field("product_id", func(e *jx.Encoder) { e.Str(l.ProductID) })
				e.Field("color", func(e *jx.Encoder) { e.Str(l.Color) })
				e.Field("size", func(e *jx.Encoder) { e.Str(l.Size) })
				e.Field("sku", func(e *jx.Encoder) { e.Str(l.SKU) })
				e.Field("name", func(e *jx.Encoder) { e.Str(l.Name) })
				e.Field("quantity", func(e *jx.Encoder) { e.Int(l.Quantity) })
				money(e, "unit_price", l.UnitPrice)
				money(e, "sale_price", l.SalePrice)
				money(e, "line_total", l.Net())
			})
		}
	})
}

func encodeQuote(q pricing.Quote) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("items", func(e *jx.Encoder) { encodeLines(e, q.Lines) })
		e.Field("breakdown", func(e *jx.Encoder) { encodeBreakdown(e, q.Breakdown) })
	})
	return e.Bytes()
}

func encodeOrderFields(e *jx.Encoder, o *order.Order) {
	e.Field("id", func(e *jx.Encoder) { e.Str(o.ID) })
	e.Field("status", func(e *jx.Encoder) { e.Str(string(o.Status)) })
	e.Field("payment_method", func(e *jx.Encoder) { e.Str(string(o.PaymentMethod)) })
	e.Field("payment_confirmed", func(e *jx.Encoder) { e.Bool(o.PaymentConfirmed) })
	if o.CouponCode != "" {
		e.Field("coupon_code", func(e *jx.Encoder) { e.Str(o.CouponCode) })
	}
	e.Field("gift_wrap", func(e *jx.Encoder) { e.Bool(o.GiftWrap) })
	e.Field("membership", func(e *jx.Encoder) { e.Bool(o.Membership) })
	e.Field("items", func(e *jx.Encoder) { encodeLines(e, o.Lines) })
	e.Field("breakdown", func(e *jx.Encoder) { encodeBreakdown(e, o.Breakdown) })
	if s := o.Shipment; s != nil {
		e.Field("shipment", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("shipment_id", func(e *jx.Encoder) { e.Str(s.ShipmentID) })
				if s.AWB != "" {
					e.Field("awb", func(e *jx.Encoder) { e.Str(s.AWB) })
				}
				e.Field("status", func(e *jx.Encoder) { e.Str(string(s.Status)) })
			})
		})
	}
	if rf := o.Refund; rf.Status != "" && rf.Status != refund.StatusNone {
		e.Field("refund", func(e *jx.Encoder) {
			e.Obj(func(e *jx.Encoder) {
				e.Field("status", func(e *jx.Encoder) { e.Str(string(rf.Status)) })
				money(e, "amount", rf.Amount)
				if rf.RefundID != "" {
					e.Field("refund_id", func(e *jx.Encoder) { e.Str(rf.RefundID) })
				}
				if rf.FailureReason != "" {
					e.Field("failure_reason", func(e *jx.Encoder) { e.Str(rf.FailureReason) })
				}
			})
		})
	}
	e.Field("created_at", func(e *jx.Encoder) { e.Str(o.CreatedAt.UTC().Format(time.RFC3339)) })
}

func encodeOrder(o *order.Order) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) { encodeOrderFields(e, o) })
	return e.Bytes()
}

func encodePlaceResult(res *order.PlaceOrderResult) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		encodeOrderFields(e, res.Order)
		if res.RedirectURL != "" {
			e.Field("redirect_url", func(e *jx.Encoder) { e.Str(res.RedirectURL) })
		}
		if in := res.Intent; in != nil {
			e.Field("intent", func(e *jx.Encoder) {
				e.Obj(func(e *jx.Encoder) {
					e.Field("id", func(e *jx.Encoder) { e.Str(in.ID) })
					e.Field("amount", func(e *jx.Encoder) { e.Int64(in.Amount) })
					e.Field("currency", func(e *jx.Encoder) { e.Str(in.Currency) })
				})
			})
		}
	})
	return e.Bytes()
}

func encodeCoupon(rule *coupon.Rule) []byte {
	var e jx.Encoder
	e.Obj(func(e *jx.Encoder) {
		e.Field("code", func(e *jx.Encoder) { e.Str(rule.Code) })
		e.Field("kind", func(e *jx.Encoder) { e.Str(string(rule.Kind)) })
		e.Field("value", func(e *jx.Encoder) { e.Str(rule.Value.String()) })
		e.Field("active", func(e *jx.Encoder) { e.Bool(rule.Active) })
	})
	return e.Bytes()
}
