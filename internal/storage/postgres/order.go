package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/order"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/shipment"
)

const (
	orderColumns = `id, user_id, email, status, status_before_refund, payment_method, payment_confirmed,
		payment_session, payment_ref, coupon_code, gift_wrap, premium, membership, refundable,
		lines, breakdown, address, shipment, refund, delivered_at, version, created_at, updated_at`

	createOrderSQL = `INSERT INTO orders (id, user_id, email, status, status_before_refund, payment_method,
		payment_confirmed, payment_session, payment_ref, coupon_code, gift_wrap, premium, membership,
		refundable, grand_total, lines, breakdown, address, shipment, refund, delivered_at, version,
		created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19,
		$20, $21, 1, $22, $23)`

	getOrderSQL          = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`
	getOrderBySessionSQL = `SELECT ` + orderColumns + ` FROM orders WHERE payment_session = $1`

	updateOrderSQL = `UPDATE orders SET status = $3, status_before_refund = $4, payment_confirmed = $5,
		payment_session = $6, payment_ref = $7, refundable = $8, shipment = $9, refund = $10,
		delivered_at = $11, updated_at = $12, version = version + 1
		WHERE id = $1 AND version = $2`
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL. Lines,
// breakdown, address, shipment and refund state are stored as JSONB.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order with version 1.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return fmt.Errorf("marshaling order lines: %w", err)
	}
	breakdown, err := json.Marshal(o.Breakdown)
	if err != nil {
		return fmt.Errorf("marshaling breakdown: %w", err)
	}
	address, err := json.Marshal(o.Address)
	if err != nil {
		return fmt.Errorf("marshaling address: %w", err)
	}
	sh, rf, err := marshalMutable(o)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, createOrderSQL,
		o.ID, o.UserID, o.Email, string(o.Status), string(o.StatusBeforeRefund), string(o.PaymentMethod),
		o.PaymentConfirmed, nullString(o.PaymentSession), o.PaymentRef, o.CouponCode, o.GiftWrap, o.Premium,
		o.Membership, o.Refundable, o.Breakdown.GrandTotal, lines, breakdown, address, sh, rf, o.DeliveredAt,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating order %q: %w", o.ID, err)
	}
	o.Version = 1
	return nil
}

// Get returns the order or order.ErrNotFound.
func (r *OrderRepository) Get(ctx context.Context, id string) (*order.Order, error) {
	return r.getOne(ctx, getOrderSQL, id)
}

// GetBySession returns the order holding the payment session id.
func (r *OrderRepository) GetBySession(ctx context.Context, sessionID string) (*order.Order, error) {
	return r.getOne(ctx, getOrderBySessionSQL, sessionID)
}

func (r *OrderRepository) getOne(ctx context.Context, query, arg string) (*order.Order, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, fmt.Errorf("getting order %q: %w", arg, err)
	}
	return o, nil
}

// Update writes the mutable state if the stored version still matches.
func (r *OrderRepository) Update(ctx context.Context, o *order.Order) error {
	sh, rf, err := marshalMutable(o)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx, updateOrderSQL,
		o.ID, int32(o.Version), string(o.Status), string(o.StatusBeforeRefund), o.PaymentConfirmed,
		nullString(o.PaymentSession), o.PaymentRef, o.Refundable, sh, rf, o.DeliveredAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("updating order %q: %w", o.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return order.ErrConflict
	}
	o.Version++
	return nil
}

func marshalMutable(o *order.Order) (sh, rf []byte, err error) {
	if o.Shipment != nil {
		if sh, err = json.Marshal(o.Shipment); err != nil {
			return nil, nil, fmt.Errorf("marshaling shipment: %w", err)
		}
	}
	if rf, err = json.Marshal(o.Refund); err != nil {
		return nil, nil, fmt.Errorf("marshaling refund: %w", err)
	}
	return sh, rf, nil
}

func scanOrder(row pgx.CollectableRow) (*order.Order, error) {
	var (
		o                      order.Order
		status, before, method string
		session                *string
		lines, breakdown, addr []byte
		sh, rf                 []byte
		deliveredAt            *time.Time
		version                int32
	)
	if err := row.Scan(
		&o.ID, &o.UserID, &o.Email, &status, &before, &method, &o.PaymentConfirmed,
		&session, &o.PaymentRef, &o.CouponCode, &o.GiftWrap, &o.Premium, &o.Membership, &o.Refundable,
		&lines, &breakdown, &addr, &sh, &rf, &deliveredAt, &version, &o.CreatedAt, &o.UpdatedAt,
	); err != nil {
		return nil, err
	}
	o.Status = order.Status(status)
	o.StatusBeforeRefund = order.Status(before)
	o.PaymentMethod = payment.Method(method)
	if session != nil {
		o.PaymentSession = *session
	}
	o.DeliveredAt = deliveredAt
	o.Version = int(version)

	if err := json.Unmarshal(lines, &o.Lines); err != nil {
		return nil, fmt.Errorf("unmarshaling lines: %w", err)
	}
	if err := json.Unmarshal(breakdown, &o.Breakdown); err != nil {
		return nil, fmt.Errorf("unmarshaling breakdown: %w", err)
	}
	if err := json.Unmarshal(addr, &o.Address); err != nil {
		return nil, fmt.Errorf("unmarshaling address: %w", err)
	}
	if len(sh) > 0 {
		o.Shipment = &shipment.Shipment{}
		if err := json.Unmarshal(sh, o.Shipment); err != nil {
			return nil, fmt.Errorf("unmarshaling shipment: %w", err)
		}
	}
	if err := json.Unmarshal(rf, &o.Refund); err != nil {
		return nil, fmt.Errorf("unmarshaling refund: %w", err)
	}
	return &o, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
