// Package carrier is the client of the shipping carrier API.
package carrier

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/shipment"
)

// Config configures the carrier client.
type Config struct {
	BaseURL        string
	Email          string
	Password       string
	PickupLocation string
	Timeout        time.Duration
	// Parcel defaults sent with every shipment.
	LengthCM  float64
	BreadthCM float64
	HeightCM  float64
	WeightKG  float64
}

// APIError is a non-2xx carrier response.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("carrier: %d %s", e.StatusCode, e.Message)
}

// Client talks to the carrier API.
type Client struct {
	http   *http.Client
	base   string
	cfg    Config
	tokens *TokenSource
}

var _ shipment.Carrier = (*Client)(nil)

// New creates a Client. A nil httpClient gets an instrumented default and a
// nil store keeps the token in process.
func New(cfg Config, store TokenStore, tokenTTL time.Duration, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(&loggingTransport{next: http.DefaultTransport}),
		}
	}
	c := &Client{
		http: httpClient,
		base: strings.TrimRight(cfg.BaseURL, "/"),
		cfg:  cfg,
	}
	c.tokens = NewTokenSource(store, c.login, tokenTTL)
	return c
}

// Tokens exposes the token source.
func (c *Client) Tokens() *TokenSource {
	return c.tokens
}

func (c *Client) login(ctx context.Context) (string, error) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)
	e.ObjStart()
	e.FieldStart("email")
	e.Str(c.cfg.Email)
	e.FieldStart("password")
	e.Str(c.cfg.Password)
	e.ObjEnd()

	body, err := c.send(ctx, http.MethodPost, "/v1/external/auth/login", e.Bytes(), "")
	if err != nil {
		return "", err
	}
	var token string
	if err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "token" {
			return d.Skip()
		}
		v, err := d.Str()
		token = v
		return err
	}); err != nil {
		return "", errors.Wrap(err, "decode login response")
	}
	if token == "" {
		return "", errors.New("login response without token")
	}
	return token, nil
}

// CreateShipment registers the order with the carrier.
func (c *Client) CreateShipment(ctx context.Context, req shipment.Request) (shipment.Shipment, error) {
	body, err := c.authorized(ctx, http.MethodPost, "/v1/external/orders/create/adhoc", c.encodeShipment(req))
	if err != nil {
		return shipment.Shipment{}, errors.Wrapf(err, "create shipment for %s", req.OrderID)
	}

	var (
		out shipment.Shipment
		raw string
	)
	if err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		var err error
		switch string(key) {
		case "order_id":
			out.CarrierOrderID, err = decodeID(d)
		case "shipment_id":
			out.ShipmentID, err = decodeID(d)
		case "awb_code":
			out.AWB, err = decodeID(d)
		case "status":
			raw, err = decodeID(d)
		default:
			err = d.Skip()
		}
		return err
	}); err != nil {
		return shipment.Shipment{}, errors.Wrap(err, "decode shipment")
	}
	if out.ShipmentID == "" {
		return shipment.Shipment{}, errors.New("carrier returned no shipment id")
	}

	out.Status = shipment.StatusNew
	if s, ok := ParseStatus(raw); ok {
		out.Status = s
	}
	out.UpdatedAt = time.Now().UTC()
	return out, nil
}

// Track returns the current coarse status of the shipment. Raw statuses
// outside the vocabulary are returned as is for the caller to reject.
func (c *Client) Track(ctx context.Context, shipmentID string) (shipment.Status, error) {
	body, err := c.authorized(ctx, http.MethodGet, "/v1/external/courier/track/shipment/"+url.PathEscape(shipmentID), nil)
	if err != nil {
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
			return "", shipment.ErrNotFound
		}
		return "", errors.Wrapf(err, "track shipment %s", shipmentID)
	}

	raw, err := decodeTrackStatus(body)
	if err != nil {
		return "", errors.Wrap(err, "decode tracking")
	}
	if s, ok := ParseStatus(raw); ok {
		return s, nil
	}
	zctx.From(ctx).Warn("Unrecognised carrier status",
		zap.String("shipment_id", shipmentID),
		zap.String("raw", raw),
	)
	return shipment.Status(raw), nil
}

// authorized sends the request with the carrier token and retries once with
// a fresh token when the carrier answers 401.
func (c *Client) authorized(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	for attempt := 0; ; attempt++ {
		token, err := c.tokens.Token(ctx)
		if err != nil {
			return nil, err
		}
		body, err := c.send(ctx, method, path, payload, token)
		var apiErr *APIError
		if attempt == 0 && errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized {
			zctx.From(ctx).Info("Carrier rejected token, retrying")
			c.tokens.Invalidate(ctx, token)
			continue
		}
		return body, err
	}
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, token string) ([]byte, error) {
	var rd io.Reader
	if payload != nil {
		rd = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, rd)
	if err != nil {
		return nil, errors.Wrap(err, "build request")
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "send request")
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(err, "read response")
	}
	if resp.StatusCode/100 != 2 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: decodeMessage(body)}
	}
	return body, nil
}

func (c *Client) encodeShipment(req shipment.Request) []byte {
	method := "Prepaid"
	if req.CashOnDelivery {
		method = "COD"
	}
	a := req.Address

	e := &jx.Encoder{}
	e.ObjStart()
	field := func(name, v string) {
		e.FieldStart(name)
		e.Str(v)
	}
	field("order_id", req.OrderID)
	field("order_date", req.OrderDate.Format("2006-01-02 15:04"))
	field("pickup_location", c.cfg.PickupLocation)
	field("billing_customer_name", a.Name)
	field("billing_last_name", "")
	field("billing_address", a.Line1)
	field("billing_address_2", a.Line2)
	field("billing_city", a.City)
	field("billing_pincode", a.Pincode)
	field("billing_state", a.State)
	field("billing_country", a.Country)
	field("billing_email", a.Email)
	field("billing_phone", a.Phone)
	e.FieldStart("shipping_is_billing")
	e.Bool(true)
	e.FieldStart("order_items")
	e.ArrStart()
	for _, it := range req.Items {
		e.ObjStart()
		field("name", it.Name)
		field("sku", it.SKU)
		e.FieldStart("units")
		e.Int(it.Units)
		field("selling_price", it.Price)
		field("discount", it.Discount)
		e.ObjEnd()
	}
	e.ArrEnd()
	field("payment_method", method)
	field("sub_total", req.SubTotal)
	e.FieldStart("length")
	e.Float64(c.cfg.LengthCM)
	e.FieldStart("breadth")
	e.Float64(c.cfg.BreadthCM)
	e.FieldStart("height")
	e.Float64(c.cfg.HeightCM)
	e.FieldStart("weight")
	e.Float64(c.cfg.WeightKG)
	e.ObjEnd()
	return e.Bytes()
}

// decodeID reads a value the carrier sends either as a number or a string.
func decodeID(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		return d.Str()
	}
}

func decodeTrackStatus(body []byte) (string, error) {
	var status string
	err := jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "tracking_data" {
			return d.Skip()
		}
		return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
			if string(key) != "shipment_track" {
				return d.Skip()
			}
			if d.Next() != jx.Array {
				return d.Skip()
			}
			return d.Arr(func(d *jx.Decoder) error {
				if status != "" {
					return d.Skip()
				}
				return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
					if string(key) != "current_status" {
						return d.Skip()
					}
					v, err := decodeID(d)
					status = v
					return err
				})
			})
		})
	})
	if err != nil {
		return "", err
	}
	if status == "" {
		return "", errors.New("no tracking status")
	}
	return status, nil
}

func decodeMessage(body []byte) string {
	var msg string
	_ = jx.DecodeBytes(body).ObjBytes(func(d *jx.Decoder, key []byte) error {
		if string(key) != "message" {
			return d.Skip()
		}
		v, err := decodeID(d)
		msg = v
		return err
	})
	if msg == "" {
		msg = strings.TrimSpace(string(body))
	}
	return msg
}

type loggingTransport struct {
	next http.RoundTripper
}

func (t *loggingTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	lg := zctx.From(req.Context())

	resp, err := t.next.RoundTrip(req)
	if err != nil {
		lg.Warn("Carrier request failed",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return nil, err
	}
	lg.Debug("Carrier request",
		zap.String("method", req.Method),
		zap.String("path", req.URL.Path),
		zap.Int("status", resp.StatusCode),
		zap.Duration("duration", time.Since(start)),
	)
	return resp, nil
}
