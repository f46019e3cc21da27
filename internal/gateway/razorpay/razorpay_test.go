package razorpay

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

func newTestGateway(t *testing.T, h http.HandlerFunc) *Gateway {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	g, err := New(Config{BaseURL: srv.URL, KeyID: "rzp_test", KeySecret: "s3cret"}, srv.Client())
	require.NoError(t, err)
	return g
}

func TestGateway_CreateIntent(t *testing.T) {
	var gotAmount int64
	var gotReceipt string
	g := newTestGateway(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/orders", r.URL.Path)
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "rzp_test", user)
		assert.Equal(t, "s3cret", pass)

		body, err := io.ReadAll(r.Body)
		assert.NoError(t, err)
		assert.NoError(t, jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "amount":
				gotAmount, err = d.Int64()
			case "receipt":
				gotReceipt, err = d.Str()
			default:
				err = d.Skip()
			}
			return err
		}))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"order_Rz1","entity":"order","amount":123450,"currency":"INR","status":"created"}`))
	})

	got, err := g.CreateIntent(context.Background(), payment.IntentRequest{OrderID: "ord-1", Amount: 123450, Currency: "inr"})
	require.NoError(t, err)
	assert.Equal(t, payment.Intent{ID: "order_Rz1", Amount: 123450, Currency: "INR"}, got)
	assert.Equal(t, int64(123450), gotAmount)
	assert.Equal(t, "ord-1", gotReceipt)
}

func TestGateway_CreateIntent_APIError(t *testing.T) {
	g := newTestGateway(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"code":"BAD_REQUEST_ERROR","description":"amount too small"}}`))
	})

	_, err := g.CreateIntent(context.Background(), payment.IntentRequest{OrderID: "ord-1", Amount: 50, Currency: "INR"})
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "BAD_REQUEST_ERROR", apiErr.Code)
	assert.Equal(t, "amount too small", apiErr.Description)
}

func TestGateway_CreateIntent_InvalidAmount(t *testing.T) {
	g := newTestGateway(t, func(http.ResponseWriter, *http.Request) {
		t.Error("unexpected request")
	})
	_, err := g.CreateIntent(context.Background(), payment.IntentRequest{OrderID: "ord-1", Amount: 0})
	require.Error(t, err)
}

func TestGateway_Verify(t *testing.T) {
	g, err := New(Config{KeyID: "rzp_test", KeySecret: "s3cret"}, http.DefaultClient)
	require.NoError(t, err)
	valid := g.Sign("order_Rz1", "pay_1")

	tests := []struct {
		name    string
		v       payment.Verification
		wantErr bool
	}{
		{name: "valid", v: payment.Verification{IntentID: "order_Rz1", PaymentID: "pay_1", Signature: valid}},
		{name: "other payment", v: payment.Verification{IntentID: "order_Rz1", PaymentID: "pay_2", Signature: valid}, wantErr: true},
		{name: "other intent", v: payment.Verification{IntentID: "order_Rz2", PaymentID: "pay_1", Signature: valid}, wantErr: true},
		{name: "not hex", v: payment.Verification{IntentID: "order_Rz1", PaymentID: "pay_1", Signature: "zz"}, wantErr: true},
		{name: "empty signature", v: payment.Verification{IntentID: "order_Rz1", PaymentID: "pay_1"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Verify(tt.v)
			if tt.wantErr {
				require.ErrorIs(t, err, payment.ErrSignatureMismatch)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestGateway_Sign_KnownVector(t *testing.T) {
	g, err := New(Config{KeyID: "rzp_test", KeySecret: "s3cret"}, http.DefaultClient)
	require.NoError(t, err)
	assert.Equal(t, "fd58ee3634306b5ade50f273b2890b7554a84a9cd94b1224a44b96ca640410e3", g.Sign("order_Rz1", "pay_1"))
}

func TestGateway_Refund(t *testing.T) {
	g, err := New(Config{KeyID: "k", KeySecret: "s"}, http.DefaultClient)
	require.NoError(t, err)
	_, err = g.Refund(context.Background(), payment.RefundRequest{PaymentRef: "pay_1", Amount: 100})
	require.ErrorIs(t, err, payment.ErrRefundNotImplemented)
}
