// Package events publishes order lifecycle events and operational alerts to
// Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

// AlertStockDecrement is the alert type for partially failed decrements.
const AlertStockDecrement = "stock.decrement_partial"

// Writer is the subset of kafka.Writer used by the publisher.
type Writer interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Config configures the Kafka writers.
type Config struct {
	Brokers      []string
	Topic        string
	AlertTopic   string
	WriteTimeout time.Duration
}

// Publisher writes lifecycle events and alerts. Messages are keyed by order
// id so events of one order stay ordered.
type Publisher struct {
	events  Writer
	alerts  Writer
	timeout time.Duration
	now     func() time.Time
}

var (
	_ order.Publisher = (*Publisher)(nil)
	_ stock.Alerter   = (*Publisher)(nil)
)

// New creates a Publisher backed by kafka-go writers.
func New(cfg Config) (*Publisher, error) {
	if len(cfg.Brokers) == 0 || cfg.Topic == "" {
		return nil, errors.New("kafka brokers and topic are required")
	}
	alertTopic := cfg.AlertTopic
	if alertTopic == "" {
		alertTopic = cfg.Topic + ".alerts"
	}
	newWriter := func(topic string) *kafka.Writer {
		return &kafka.Writer{
			Addr:         kafka.TCP(cfg.Brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		}
	}
	return NewWithWriters(newWriter(cfg.Topic), newWriter(alertTopic), cfg.WriteTimeout), nil
}

// NewWithWriters creates a Publisher with explicit writers.
func NewWithWriters(events, alerts Writer, timeout time.Duration) *Publisher {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Publisher{events: events, alerts: alerts, timeout: timeout, now: time.Now}
}

// Publish writes the lifecycle event.
func (p *Publisher) Publish(ctx context.Context, e order.Event) error {
	value, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "marshal event")
	}
	msg := kafka.Message{
		Key:     []byte(e.OrderID),
		Value:   value,
		Time:    e.At,
		Headers: []kafka.Header{{Key: "type", Value: []byte(e.Type)}},
	}

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	if err := p.events.WriteMessages(ctx, msg); err != nil {
		return errors.Wrapf(err, "publish %s", e.Type)
	}
	zctx.From(ctx).Debug("Event published",
		zap.String("type", string(e.Type)),
		zap.String("order_id", e.OrderID),
	)
	return nil
}

type alertLine struct {
	ProductID string `json:"product_id"`
	Color     string `json:"color"`
	Size      string `json:"size"`
	Quantity  int    `json:"quantity,omitempty"`
	Error     string `json:"error,omitempty"`
}

type stockAlert struct {
	Type     string      `json:"type"`
	OrderID  string      `json:"order_id"`
	Failed   []alertLine `json:"failed,omitempty"`
	Depleted []alertLine `json:"depleted,omitempty"`
	At       time.Time   `json:"at"`
}

// StockAlert publishes a decrement report for operations. Failures are
// logged only.
func (p *Publisher) StockAlert(ctx context.Context, orderID string, r stock.Report) {
	a := stockAlert{Type: AlertStockDecrement, OrderID: orderID, At: p.now().UTC()}
	for _, f := range r.Failed {
		l := alertLine{
			ProductID: f.Key.ProductID,
			Color:     f.Key.Color,
			Size:      f.Key.Size,
			Quantity:  f.Quantity,
		}
		if f.Err != nil {
			l.Error = f.Err.Error()
		}
		a.Failed = append(a.Failed, l)
	}
	for _, k := range r.Depleted {
		a.Depleted = append(a.Depleted, alertLine{ProductID: k.ProductID, Color: k.Color, Size: k.Size})
	}

	lg := zctx.From(ctx).With(zap.String("order_id", orderID))
	value, err := json.Marshal(a)
	if err != nil {
		lg.Error("Failed to marshal stock alert", zap.Error(err))
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	defer cancel()
	if err := p.alerts.WriteMessages(ctx, kafka.Message{
		Key:     []byte(orderID),
		Value:   value,
		Headers: []kafka.Header{{Key: "type", Value: []byte(AlertStockDecrement)}},
	}); err != nil {
		lg.Error("Failed to publish stock alert", zap.Error(err))
	}
}

// Close flushes and closes the writers.
func (p *Publisher) Close() error {
	eventsErr := p.events.Close()
	if err := p.alerts.Close(); err != nil {
		return errors.Wrap(err, "close alert writer")
	}
	if eventsErr != nil {
		return errors.Wrap(eventsErr, "close event writer")
	}
	return nil
}
