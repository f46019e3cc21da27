package stripe

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	stripego "github.com/stripe/stripe-go/v83"
	"github.com/stripe/stripe-go/v83/webhook"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

type fakeSessions struct {
	created   *stripego.CheckoutSessionParams
	session   *stripego.CheckoutSession
	err       error
	expired   []string
	expireErr error
}

func (f *fakeSessions) New(params *stripego.CheckoutSessionParams) (*stripego.CheckoutSession, error) {
	f.created = params
	if f.err != nil {
		return nil, f.err
	}
	return f.session, nil
}

func (f *fakeSessions) Get(id string, _ *stripego.CheckoutSessionParams) (*stripego.CheckoutSession, error) {
	if f.err != nil {
		return nil, f.err
	}
	if f.session == nil || f.session.ID != id {
		return nil, errors.New("no such checkout session")
	}
	return f.session, nil
}

func (f *fakeSessions) Expire(id string, _ *stripego.CheckoutSessionExpireParams) (*stripego.CheckoutSession, error) {
	f.expired = append(f.expired, id)
	if f.expireErr != nil {
		return nil, f.expireErr
	}
	if f.session == nil || f.session.ID != id {
		return nil, errors.New("no such checkout session")
	}
	f.session.Status = stripego.CheckoutSessionStatusExpired
	return f.session, nil
}

type fakeRefunds struct {
	params *stripego.RefundParams
	refund *stripego.Refund
	err    error
}

func (f *fakeRefunds) New(params *stripego.RefundParams) (*stripego.Refund, error) {
	f.params = params
	if f.err != nil {
		return nil, f.err
	}
	return f.refund, nil
}

func testConfig() Config {
	return Config{
		SecretKey:     "sk_test",
		WebhookSecret: "whsec_test",
		SuccessURL:    "https://shop.test/api/payments/checkout/success?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:     "https://shop.test/api/payments/checkout/cancel?session_id={CHECKOUT_SESSION_ID}",
		SessionTTL:    45 * time.Minute,
	}
}

func TestGateway_CreateSession(t *testing.T) {
	sessions := &fakeSessions{session: &stripego.CheckoutSession{
		ID:        "cs_test_1",
		URL:       "https://checkout.stripe.test/cs_test_1",
		ExpiresAt: 1_800_000_000,
	}}
	g := NewWithClients(testConfig(), sessions, &fakeRefunds{})
	now := time.Date(2026, 10, 1, 12, 0, 0, 0, time.UTC)
	g.now = func() time.Time { return now }

	got, err := g.CreateSession(context.Background(), payment.CheckoutRequest{
		OrderID:        "ord-1",
		CustomerEmail:  "buyer@shop.test",
		Currency:       "INR",
		IdempotencyKey: "checkout-ord-1",
		Items: []payment.LineItem{
			{Name: "Tee", Quantity: 2, Amount: 50000},
			{Name: "Gift wrap", Quantity: 0, Amount: 3000},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", got.ID)
	assert.Equal(t, "https://checkout.stripe.test/cs_test_1", got.RedirectURL)
	assert.Equal(t, time.Unix(1_800_000_000, 0).UTC(), got.ExpiresAt)

	p := sessions.created
	require.NotNil(t, p)
	assert.Equal(t, string(stripego.CheckoutSessionModePayment), *p.Mode)
	assert.Equal(t, "ord-1", p.Metadata["order_id"])
	assert.Equal(t, "ord-1", *p.ClientReferenceID)
	assert.Equal(t, "buyer@shop.test", *p.CustomerEmail)
	assert.Equal(t, now.Add(45*time.Minute).Unix(), *p.ExpiresAt)
	require.NotNil(t, p.IdempotencyKey)
	assert.Equal(t, "checkout-ord-1", *p.IdempotencyKey)

	require.Len(t, p.LineItems, 2)
	assert.Equal(t, int64(2), *p.LineItems[0].Quantity)
	assert.Equal(t, int64(50000), *p.LineItems[0].PriceData.UnitAmount)
	assert.Equal(t, "inr", *p.LineItems[0].PriceData.Currency)
	assert.Equal(t, int64(1), *p.LineItems[1].Quantity)
}

func TestGateway_CreateSession_Errors(t *testing.T) {
	g := NewWithClients(testConfig(), &fakeSessions{err: errors.New("api down")}, &fakeRefunds{})

	_, err := g.CreateSession(context.Background(), payment.CheckoutRequest{OrderID: "ord-1"})
	require.Error(t, err)

	_, err = g.CreateSession(context.Background(), payment.CheckoutRequest{
		OrderID: "ord-1",
		Items:   []payment.LineItem{{Name: "Tee", Quantity: 1, Amount: 100}},
	})
	require.ErrorContains(t, err, "api down")
}

func TestGateway_VerifySession(t *testing.T) {
	tests := []struct {
		name    string
		session *stripego.CheckoutSession
		want    payment.CheckoutResult
	}{
		{
			name: "paid",
			session: &stripego.CheckoutSession{
				ID:            "cs_1",
				PaymentStatus: stripego.CheckoutSessionPaymentStatusPaid,
				Metadata:      map[string]string{"order_id": "ord-1"},
				PaymentIntent: &stripego.PaymentIntent{ID: "pi_1"},
			},
			want: payment.CheckoutResult{SessionID: "cs_1", OrderID: "ord-1", Paid: true, PaymentRef: "pi_1"},
		},
		{
			name: "unpaid",
			session: &stripego.CheckoutSession{
				ID:            "cs_1",
				PaymentStatus: stripego.CheckoutSessionPaymentStatusUnpaid,
				Metadata:      map[string]string{"order_id": "ord-1"},
			},
			want: payment.CheckoutResult{SessionID: "cs_1", OrderID: "ord-1"},
		},
		{
			name: "order id from client reference",
			session: &stripego.CheckoutSession{
				ID:                "cs_1",
				PaymentStatus:     stripego.CheckoutSessionPaymentStatusPaid,
				ClientReferenceID: "ord-2",
			},
			want: payment.CheckoutResult{SessionID: "cs_1", OrderID: "ord-2", Paid: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithClients(testConfig(), &fakeSessions{session: tt.session}, &fakeRefunds{})
			got, err := g.VerifySession(context.Background(), "cs_1")
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGateway_ExpireSession(t *testing.T) {
	tests := []struct {
		name      string
		session   *stripego.CheckoutSession
		expireErr error
		want      payment.CheckoutResult
		wantErr   bool
	}{
		{
			name: "open session is expired",
			session: &stripego.CheckoutSession{
				ID:            "cs_1",
				Status:        stripego.CheckoutSessionStatusOpen,
				PaymentStatus: stripego.CheckoutSessionPaymentStatusUnpaid,
				Metadata:      map[string]string{"order_id": "ord-1"},
			},
			want: payment.CheckoutResult{SessionID: "cs_1", OrderID: "ord-1"},
		},
		{
			name: "completed meanwhile",
			session: &stripego.CheckoutSession{
				ID:            "cs_1",
				Status:        stripego.CheckoutSessionStatusComplete,
				PaymentStatus: stripego.CheckoutSessionPaymentStatusPaid,
				Metadata:      map[string]string{"order_id": "ord-1"},
				PaymentIntent: &stripego.PaymentIntent{ID: "pi_1"},
			},
			expireErr: errors.New("only open sessions can be expired"),
			want:      payment.CheckoutResult{SessionID: "cs_1", OrderID: "ord-1", Paid: true, PaymentRef: "pi_1"},
		},
		{
			name: "still open after error",
			session: &stripego.CheckoutSession{
				ID:     "cs_1",
				Status: stripego.CheckoutSessionStatusOpen,
			},
			expireErr: errors.New("api down"),
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &fakeSessions{session: tt.session, expireErr: tt.expireErr}
			g := NewWithClients(testConfig(), sessions, &fakeRefunds{})

			got, err := g.ExpireSession(context.Background(), "cs_1")
			assert.Equal(t, []string{"cs_1"}, sessions.expired)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGateway_Refund(t *testing.T) {
	refunds := &fakeRefunds{refund: &stripego.Refund{ID: "re_1", Status: stripego.RefundStatusSucceeded}}
	g := NewWithClients(testConfig(), &fakeSessions{}, refunds)

	got, err := g.Refund(context.Background(), payment.RefundRequest{
		PaymentRef:     "pi_1",
		Amount:         185050,
		Currency:       "INR",
		Reason:         "requested_by_customer",
		IdempotencyKey: "refund-ord-1-1850.50",
	})
	require.NoError(t, err)
	assert.Equal(t, payment.Refund{ID: "re_1", Status: "succeeded"}, got)

	p := refunds.params
	assert.Equal(t, "pi_1", *p.PaymentIntent)
	assert.Equal(t, int64(185050), *p.Amount)
	assert.Equal(t, "requested_by_customer", *p.Reason)
	assert.Equal(t, "refund-ord-1-1850.50", *p.IdempotencyKey)
}

func TestGateway_Refund_Failures(t *testing.T) {
	tests := []struct {
		name    string
		refunds *fakeRefunds
		ref     string
	}{
		{name: "missing intent", refunds: &fakeRefunds{}, ref: ""},
		{name: "api error", refunds: &fakeRefunds{err: errors.New("card_declined")}, ref: "pi_1"},
		{name: "failed status", refunds: &fakeRefunds{refund: &stripego.Refund{ID: "re_1", Status: stripego.RefundStatusFailed}}, ref: "pi_1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewWithClients(testConfig(), &fakeSessions{}, tt.refunds)
			_, err := g.Refund(context.Background(), payment.RefundRequest{PaymentRef: tt.ref, Amount: 100})
			require.Error(t, err)
		})
	}
}

func signedEvent(t *testing.T, secret, eventType, sessionJSON string) ([]byte, string) {
	t.Helper()
	payload := fmt.Sprintf(
		`{"id":"evt_1","object":"event","api_version":%q,"type":%q,"data":{"object":%s}}`,
		stripego.APIVersion, eventType, sessionJSON,
	)
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   []byte(payload),
		Secret:    secret,
		Timestamp: time.Now(),
	})
	return signed.Payload, signed.Header
}

func TestGateway_ParseWebhook(t *testing.T) {
	g := NewWithClients(testConfig(), &fakeSessions{}, &fakeRefunds{})
	session := `{"id":"cs_1","object":"checkout.session","payment_status":"paid","metadata":{"order_id":"ord-1"},"payment_intent":"pi_1"}`

	t.Run("completed", func(t *testing.T) {
		payload, header := signedEvent(t, "whsec_test", "checkout.session.completed", session)
		ev, err := g.ParseWebhook(payload, header)
		require.NoError(t, err)
		assert.Equal(t, WebhookCompleted, ev.Kind)
		assert.Equal(t, payment.CheckoutResult{SessionID: "cs_1", OrderID: "ord-1", Paid: true, PaymentRef: "pi_1"}, ev.Result)
	})

	t.Run("expired", func(t *testing.T) {
		payload, header := signedEvent(t, "whsec_test", "checkout.session.expired", `{"id":"cs_2","object":"checkout.session","payment_status":"unpaid","client_reference_id":"ord-2"}`)
		ev, err := g.ParseWebhook(payload, header)
		require.NoError(t, err)
		assert.Equal(t, WebhookExpired, ev.Kind)
		assert.Equal(t, "ord-2", ev.Result.OrderID)
		assert.False(t, ev.Result.Paid)
	})

	t.Run("other events ignored", func(t *testing.T) {
		payload, header := signedEvent(t, "whsec_test", "customer.created", `{"id":"cus_1","object":"customer"}`)
		ev, err := g.ParseWebhook(payload, header)
		require.NoError(t, err)
		assert.Equal(t, WebhookIgnored, ev.Kind)
	})

	t.Run("bad signature", func(t *testing.T) {
		payload, header := signedEvent(t, "whsec_other", "checkout.session.completed", session)
		_, err := g.ParseWebhook(payload, header)
		require.ErrorIs(t, err, payment.ErrSignatureMismatch)
	})
}
