package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/kart-checkout/internal/domain/product"
	"github.com/xenking/kart-checkout/internal/domain/stock"
)

const decrementFloorSQL = `UPDATE product_sizes SET units = GREATEST(units - $4, 0)
	WHERE product_id = $1 AND color = $2 AND size = $3
	RETURNING units`

var _ stock.Store = (*StockStore)(nil)

// StockStore applies atomic per-size decrements.
type StockStore struct {
	pool *pgxpool.Pool
}

// NewStockStore returns a StockStore that uses the given pool.
func NewStockStore(pool *pgxpool.Pool) *StockStore {
	return &StockStore{pool: pool}
}

// DecrementFloor subtracts qty in a single statement so concurrent
// decrements never drive the count below zero.
func (s *StockStore) DecrementFloor(ctx context.Context, key product.Key, qty int) (int, error) {
	var units int32
	err := s.pool.QueryRow(ctx, decrementFloorSQL, key.ProductID, key.Color, key.Size, qty).Scan(&units)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, product.ErrNotFound
		}
		return 0, fmt.Errorf("decrementing %s/%s/%s: %w", key.ProductID, key.Color, key.Size, err)
	}
	return int(units), nil
}
