package notify

import (
	"bytes"
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/wneessen/go-mail"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/refund"
)

type mockSender struct {
	msgs []*mail.Msg
	err  error
}

func (s *mockSender) DialAndSendWithContext(_ context.Context, msgs ...*mail.Msg) error {
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msgs...)
	return nil
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testOrder() *order.Order {
	return &order.Order{
		ID:            "ord-1",
		Email:         "asha@shop.test",
		PaymentMethod: payment.MethodCOD,
		Lines: []pricing.PricedLine{{
			Line:      pricing.Line{ProductID: "tee", Color: "black", Size: "M", Quantity: 2},
			Name:      "Tee",
			UnitPrice: dec("500"),
			SalePrice: dec("500"),
		}},
		Breakdown: pricing.Breakdown{
			Subtotal:     dec("1000"),
			CODSurcharge: dec("50"),
			GrandTotal:   dec("1050"),
			CGST:         dec("76.27"),
			SGST:         dec("76.27"),
		},
	}
}

func render(t *testing.T, m *mail.Msg) string {
	t.Helper()
	var buf bytes.Buffer
	_, err := m.WriteTo(&buf)
	require.NoError(t, err)
	return buf.String()
}

func TestMailer_OrderConfirmed(t *testing.T) {
	s := &mockSender{}
	m := NewWithSender(s, "orders@shop.test")

	require.NoError(t, m.OrderConfirmed(context.Background(), testOrder()))
	require.Len(t, s.msgs, 1)

	msg := s.msgs[0]
	to, err := msg.GetRecipients()
	require.NoError(t, err)
	assert.Equal(t, []string{"asha@shop.test"}, to)
	assert.Equal(t, []string{"Order ord-1 confirmed"}, msg.GetGenHeader(mail.HeaderSubject))

	body := render(t, msg)
	assert.Contains(t, body, "2 x Tee (black / M)  INR 1000.00")
	assert.Contains(t, body, "Cash on delivery: INR 50.00")
	assert.Contains(t, body, "Total: INR 1050.00")
}

func TestMailer_RefundProcessed(t *testing.T) {
	s := &mockSender{}
	m := NewWithSender(s, "orders@shop.test")
	o := testOrder()
	o.PaymentMethod = payment.MethodStripe
	o.Refund = refund.Record{Status: refund.StatusCompleted, Amount: dec("1850"), RefundID: "re_1"}

	require.NoError(t, m.RefundProcessed(context.Background(), o))
	require.Len(t, s.msgs, 1)
	body := render(t, s.msgs[0])
	assert.Contains(t, body, "INR 1850.00")
	assert.Contains(t, body, "original payment method")
	assert.Contains(t, body, "re_1")
}

func TestMailer_SkipsWithoutEmail(t *testing.T) {
	s := &mockSender{}
	o := testOrder()
	o.Email = ""
	require.NoError(t, NewWithSender(s, "orders@shop.test").OrderConfirmed(context.Background(), o))
	assert.Empty(t, s.msgs)
}

func TestMailer_SendError(t *testing.T) {
	s := &mockSender{err: errors.New("relay refused")}
	err := NewWithSender(s, "orders@shop.test").OrderConfirmed(context.Background(), testOrder())
	require.ErrorContains(t, err, "relay refused")
}

func TestMailer_InvalidFrom(t *testing.T) {
	err := NewWithSender(&mockSender{}, "not an address").OrderConfirmed(context.Background(), testOrder())
	require.Error(t, err)
}
