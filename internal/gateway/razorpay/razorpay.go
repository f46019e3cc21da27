// Package razorpay implements the intent gateway: orders are created through
// the Razorpay Orders API and payments are verified by HMAC signature.
package razorpay

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/payment"
)

// DefaultBaseURL is the public Razorpay API endpoint.
const DefaultBaseURL = "https://api.razorpay.com"

// Config configures the gateway.
type Config struct {
	BaseURL   string
	KeyID     string
	KeySecret string
	Timeout   time.Duration
}

// Gateway creates payment intents and verifies their signatures.
type Gateway struct {
	client  *http.Client
	baseURL string
	keyID   string
	secret  []byte
}

var (
	_ payment.IntentGateway = (*Gateway)(nil)
	_ payment.Refunder      = (*Gateway)(nil)
)

// New creates a Gateway. A nil client gets an instrumented default.
func New(cfg Config, client *http.Client) (*Gateway, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, errors.New("razorpay key id and secret are required")
	}
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		}
	}
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Gateway{
		client:  client,
		baseURL: base,
		keyID:   cfg.KeyID,
		secret:  []byte(cfg.KeySecret),
	}, nil
}

// APIError is a non-2xx response from the Orders API.
type APIError struct {
	StatusCode  int
	Code        string
	Description string
}

func (e *APIError) Error() string {
	return "razorpay: " + http.StatusText(e.StatusCode) + ": " + e.Code + ": " + e.Description
}

// CreateIntent creates a Razorpay order for the amount in minor units.
func (g *Gateway) CreateIntent(ctx context.Context, req payment.IntentRequest) (payment.Intent, error) {
	if req.Amount <= 0 {
		return payment.Intent{}, errors.Errorf("invalid intent amount %d", req.Amount)
	}

	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	e.FieldStart("amount")
	e.Int64(req.Amount)
	e.FieldStart("currency")
	e.Str(strings.ToUpper(req.Currency))
	e.FieldStart("receipt")
	e.Str(req.OrderID)
	e.FieldStart("notes")
	e.ObjStart()
	e.FieldStart("order_id")
	e.Str(req.OrderID)
	e.ObjEnd()
	e.ObjEnd()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/v1/orders", bytes.NewReader(e.Bytes()))
	if err != nil {
		return payment.Intent{}, errors.Wrap(err, "build request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(g.keyID, string(g.secret))

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return payment.Intent{}, errors.Wrap(err, "create razorpay order")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return payment.Intent{}, errors.Wrap(err, "read response")
	}
	if resp.StatusCode/100 != 2 {
		return payment.Intent{}, decodeError(resp.StatusCode, body)
	}

	intent, err := decodeOrder(body)
	if err != nil {
		return payment.Intent{}, errors.Wrap(err, "decode razorpay order")
	}
	zctx.From(ctx).Debug("Razorpay order created",
		zap.String("order_id", req.OrderID),
		zap.String("intent_id", intent.ID),
	)
	return intent, nil
}

// Verify checks HMAC_SHA256(secret, intentID + "|" + paymentID) against the
// hex signature in constant time.
func (g *Gateway) Verify(v payment.Verification) error {
	if v.IntentID == "" || v.PaymentID == "" || v.Signature == "" {
		return payment.ErrSignatureMismatch
	}
	got, err := hex.DecodeString(v.Signature)
	if err != nil {
		return payment.ErrSignatureMismatch
	}
	if !hmac.Equal(got, g.sign(v.IntentID, v.PaymentID)) {
		return payment.ErrSignatureMismatch
	}
	return nil
}

// Sign returns the hex signature for the tuple.
func (g *Gateway) Sign(intentID, paymentID string) string {
	return hex.EncodeToString(g.sign(intentID, paymentID))
}

func (g *Gateway) sign(intentID, paymentID string) []byte {
	mac := hmac.New(sha256.New, g.secret)
	mac.Write([]byte(intentID + "|" + paymentID))
	return mac.Sum(nil)
}

// Refund is not supported for this gateway.
func (g *Gateway) Refund(context.Context, payment.RefundRequest) (payment.Refund, error) {
	return payment.Refund{}, payment.ErrRefundNotImplemented
}

func decodeOrder(body []byte) (payment.Intent, error) {
	var out payment.Intent
	d := jx.DecodeBytes(body)
	err := d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "id":
			out.ID, err = d.Str()
		case "amount":
			out.Amount, err = d.Int64()
		case "currency":
			out.Currency, err = d.Str()
		default:
			err = d.Skip()
		}
		return err
	})
	if err != nil {
		return payment.Intent{}, err
	}
	if out.ID == "" {
		return payment.Intent{}, errors.New("missing order id")
	}
	return out, nil
}

func decodeError(status int, body []byte) error {
	apiErr := &APIError{StatusCode: status}
	d := jx.DecodeBytes(body)
	_ = d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "error" {
			return d.Skip()
		}
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			var err error
			switch string(key) {
			case "code":
				apiErr.Code, err = d.Str()
			case "description":
				apiErr.Description, err = d.Str()
			default:
				err = d.Skip()
			}
			return err
		})
	})
	return apiErr
}
