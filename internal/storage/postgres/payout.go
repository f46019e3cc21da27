package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/refund"
)

const insertPayoutSQL = `INSERT INTO manual_payouts (reference, order_id, amount, details, created_at)
	VALUES ($1, $2, $3, $4, $5)`

var _ refund.PayoutLedger = (*PayoutRepository)(nil)

// PayoutRepository stores manual payout intents for operations.
type PayoutRepository struct {
	pool *pgxpool.Pool
}

// NewPayoutRepository returns a PayoutRepository that uses the given pool.
func NewPayoutRepository(pool *pgxpool.Pool) *PayoutRepository {
	return &PayoutRepository{pool: pool}
}

// RecordPayout inserts the payout intent.
func (r *PayoutRepository) RecordPayout(ctx context.Context, p refund.Payout) error {
	details, err := json.Marshal(p.Details)
	if err != nil {
		return fmt.Errorf("marshaling payout details: %w", err)
	}
	if _, err := r.pool.Exec(ctx, insertPayoutSQL, p.Reference, p.OrderID, p.Amount, details, p.CreatedAt); err != nil {
		return fmt.Errorf("recording payout for %q: %w", p.OrderID, err)
	}
	return nil
}
