package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/product"
)

const getSizeFactsSQL = `SELECT s.product_id, s.color, s.size, s.sku, p.name, s.price, s.sale_price, s.units
	FROM product_sizes s
	JOIN products p ON p.id = s.product_id
	JOIN unnest($1::text[], $2::text[], $3::text[]) AS k(product_id, color, size)
		ON k.product_id = s.product_id AND k.color = s.color AND k.size = s.size`

const upsertProductSQL = `INSERT INTO products (id, name) VALUES ($1, $2)
	ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name`

const upsertSizeSQL = `INSERT INTO product_sizes (product_id, color, size, sku, price, sale_price, units)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (product_id, color, size) DO UPDATE
	SET sku = EXCLUDED.sku, price = EXCLUDED.price, sale_price = EXCLUDED.sale_price, units = EXCLUDED.units`

var _ product.Repository = (*ProductRepository)(nil)

// ProductRepository reads catalog facts from PostgreSQL.
type ProductRepository struct {
	pool *pgxpool.Pool
}

// NewProductRepository returns a ProductRepository that uses the given pool.
func NewProductRepository(pool *pgxpool.Pool) *ProductRepository {
	return &ProductRepository{pool: pool}
}

type sizeRow struct {
	key   product.Key
	facts product.SizeFacts
}

// Facts returns the current facts for the requested keys in one query.
func (r *ProductRepository) Facts(ctx context.Context, keys []product.Key) (product.Catalog, error) {
	ids := make([]string, len(keys))
	colors := make([]string, len(keys))
	sizes := make([]string, len(keys))
	for i, k := range keys {
		ids[i], colors[i], sizes[i] = k.ProductID, k.Color, k.Size
	}

	rows, err := r.pool.Query(ctx, getSizeFactsSQL, ids, colors, sizes)
	if err != nil {
		return nil, fmt.Errorf("querying size facts: %w", err)
	}
	found, err := pgx.CollectRows(rows, scanSize)
	if err != nil {
		return nil, fmt.Errorf("scanning size facts: %w", err)
	}

	c := make(product.Catalog, len(found))
	for _, f := range found {
		c.Put(f.key, f.facts)
	}
	return c, nil
}

func scanSize(row pgx.CollectableRow) (sizeRow, error) {
	var (
		s         sizeRow
		price     decimal.Decimal
		salePrice decimal.Decimal
		units     int32
	)
	err := row.Scan(
		&s.key.ProductID, &s.key.Color, &s.key.Size,
		&s.facts.SKU, &s.facts.Name, &price, &salePrice, &units,
	)
	s.facts.Price = price
	s.facts.SalePrice = salePrice
	s.facts.Stock = int(units)
	return s, err
}

// UpsertSize creates or replaces the product and one of its sizes.
func (r *ProductRepository) UpsertSize(ctx context.Context, key product.Key, facts product.SizeFacts) error {
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, upsertProductSQL, key.ProductID, facts.Name); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, upsertSizeSQL,
			key.ProductID, key.Color, key.Size, facts.SKU, facts.Price, facts.SalePrice, int32(facts.Stock))
		return err
	})
	if err != nil {
		return fmt.Errorf("upserting size %s: %w", facts.SKU, err)
	}
	return nil
}
