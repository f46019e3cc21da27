// Package notify sends customer e-mails about confirmed orders and refunds.
package notify

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/wneessen/go-mail"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// Config configures the SMTP sender.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	// Insecure disables TLS, for local relays only.
	Insecure bool
}

// Sender delivers messages.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, msgs ...*mail.Msg) error
}

// Mailer implements order.Notifier over SMTP.
type Mailer struct {
	sender Sender
	from   string
}

var _ order.Notifier = (*Mailer)(nil)

// New creates a Mailer with an SMTP client.
func New(cfg Config) (*Mailer, error) {
	opts := []mail.Option{mail.WithPort(cfg.Port)}
	if cfg.Username != "" {
		opts = append(opts,
			mail.WithSMTPAuth(mail.SMTPAuthLogin),
			mail.WithUsername(cfg.Username),
			mail.WithPassword(cfg.Password),
		)
	}
	if cfg.Insecure {
		opts = append(opts, mail.WithTLSPolicy(mail.NoTLS))
	} else {
		opts = append(opts, mail.WithTLSPolicy(mail.TLSMandatory))
	}
	client, err := mail.NewClient(cfg.Host, opts...)
	if err != nil {
		return nil, errors.Wrap(err, "smtp client")
	}
	return NewWithSender(client, cfg.From), nil
}

// NewWithSender creates a Mailer with an explicit sender.
func NewWithSender(sender Sender, from string) *Mailer {
	return &Mailer{sender: sender, from: from}
}

// OrderConfirmed sends the order confirmation.
func (m *Mailer) OrderConfirmed(ctx context.Context, o *order.Order) error {
	subject := fmt.Sprintf("Order %s confirmed", o.ID)
	if o.Membership {
		subject = "Your membership is active"
	}
	return m.send(ctx, o, subject, confirmationBody(o))
}

// RefundProcessed sends the refund notice.
func (m *Mailer) RefundProcessed(ctx context.Context, o *order.Order) error {
	return m.send(ctx, o, fmt.Sprintf("Refund for order %s", o.ID), refundBody(o))
}

func (m *Mailer) send(ctx context.Context, o *order.Order, subject, body string) error {
	if o.Email == "" {
		zctx.From(ctx).Debug("No e-mail on order, skipping notification", zap.String("order_id", o.ID))
		return nil
	}
	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return errors.Wrap(err, "from address")
	}
	if err := msg.To(o.Email); err != nil {
		return errors.Wrap(err, "to address")
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := m.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return errors.Wrapf(err, "send %q", subject)
	}
	return nil
}

func confirmationBody(o *order.Order) string {
	var b strings.Builder
	if o.Membership {
		fmt.Fprintf(&b, "Thank you! Your membership payment of INR %s was received.\n", o.Breakdown.GrandTotal.StringFixed(2))
		return b.String()
	}
	fmt.Fprintf(&b, "Thank you for your order %s.\n\n", o.ID)
	for _, l := range o.Lines {
		fmt.Fprintf(&b, "%d x %s (%s / %s)  INR %s\n", l.Quantity, l.Name, l.Color, l.Size, l.Net().StringFixed(2))
	}
	bd := o.Breakdown
	b.WriteString("\n")
	if bd.CouponDiscount.IsPositive() {
		fmt.Fprintf(&b, "Coupon %s: -INR %s\n", o.CouponCode, bd.CouponDiscount.StringFixed(2))
	}
	if bd.Shipping.IsPositive() {
		fmt.Fprintf(&b, "Shipping: INR %s\n", bd.Shipping.StringFixed(2))
	}
	if bd.CODSurcharge.IsPositive() {
		fmt.Fprintf(&b, "Cash on delivery: INR %s\n", bd.CODSurcharge.StringFixed(2))
	}
	if bd.GiftWrap.IsPositive() {
		fmt.Fprintf(&b, "Gift wrap: INR %s\n", bd.GiftWrap.StringFixed(2))
	}
	fmt.Fprintf(&b, "Total: INR %s (incl. CGST %s, SGST %s)\n", bd.GrandTotal.StringFixed(2), bd.CGST.StringFixed(2), bd.SGST.StringFixed(2))
	if o.PaymentMethod == payment.MethodCOD {
		b.WriteString("Please keep the amount ready at delivery.\n")
	}
	return b.String()
}

func refundBody(o *order.Order) string {
	r := o.Refund
	if o.PaymentMethod == payment.MethodCOD {
		return fmt.Sprintf("A refund of INR %s for order %s will be paid to the account you provided. Reference: %s\n",
			r.Amount.StringFixed(2), o.ID, r.RefundID)
	}
	return fmt.Sprintf("A refund of INR %s for order %s was issued to your original payment method. Reference: %s\n",
		r.Amount.StringFixed(2), o.ID, r.RefundID)
}
