package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
)

const (
	getCouponByCodeSQL = `SELECT code, kind, value, min_order_amount, usage_limit, uses,
		per_user_limit, expires_at, active, user_class, skus
		FROM coupons WHERE code = UPPER($1)`

	createCouponSQL = `INSERT INTO coupons (code, kind, value, min_order_amount, usage_limit,
		per_user_limit, expires_at, active, user_class, skus)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	createCouponIfAbsentSQL = createCouponSQL + ` ON CONFLICT (code) DO NOTHING`

	countUserUsesSQL = `SELECT count(*) FROM coupon_uses WHERE code = UPPER($1) AND user_id = $2`

	insertCouponUseSQL = `INSERT INTO coupon_uses (code, order_id, user_id) VALUES (UPPER($1), $2, $3)
		ON CONFLICT (code, order_id) DO NOTHING`

	incrementCouponUsesSQL = `UPDATE coupons SET uses = uses + 1
		WHERE code = UPPER($1) AND (usage_limit IS NULL OR uses < usage_limit)`
)

// uniqueViolation is the PostgreSQL SQLSTATE for unique_violation.
const uniqueViolation = "23505"

var _ coupon.Repository = (*CouponRepository)(nil)

// CouponRepository implements coupon.Repository backed by PostgreSQL.
type CouponRepository struct {
	pool *pgxpool.Pool
}

// NewCouponRepository returns a CouponRepository that uses the given pool.
func NewCouponRepository(pool *pgxpool.Pool) *CouponRepository {
	return &CouponRepository{pool: pool}
}

// FindByCode looks up a coupon by its code (case-insensitive).
// Returns coupon.ErrInvalidCoupon when no coupon exists.
func (r *CouponRepository) FindByCode(ctx context.Context, code string) (*coupon.Rule, error) {
	rows, err := r.pool.Query(ctx, getCouponByCodeSQL, code)
	if err != nil {
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}

	rule, err := pgx.CollectExactlyOneRow(rows, scanCouponRule)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, coupon.ErrInvalidCoupon
		}
		return nil, fmt.Errorf("finding coupon by code %q: %w", code, err)
	}
	return &rule, nil
}

// CountUserUses returns how many orders of the user redeemed the code.
func (r *CouponRepository) CountUserUses(ctx context.Context, code, userID string) (int, error) {
	var n int64
	if err := r.pool.QueryRow(ctx, countUserUsesSQL, code, userID).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting uses of %q: %w", code, err)
	}
	return int(n), nil
}

func couponArgs(rule coupon.Rule) []any {
	var limit *int32
	if rule.UsageLimit != nil {
		v := int32(*rule.UsageLimit)
		limit = &v
	}
	skus := rule.SKUs
	if skus == nil {
		skus = []string{}
	}
	return []any{
		coupon.NormalizeCode(rule.Code), string(rule.Kind), rule.Value, rule.MinOrderAmount, limit,
		int32(rule.PerUserLimit), rule.ExpiresAt, rule.Active, string(rule.UserClass), skus,
	}
}

// Create inserts a new coupon. Returns coupon.ErrDuplicateCode when the code
// is taken.
func (r *CouponRepository) Create(ctx context.Context, rule coupon.Rule) error {
	_, err := r.pool.Exec(ctx, createCouponSQL, couponArgs(rule)...)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return coupon.ErrDuplicateCode
		}
		return fmt.Errorf("creating coupon %q: %w", rule.Code, err)
	}
	return nil
}

// CreateBatch inserts rules in one round trip, skipping codes that already
// exist. It returns the number of rules inserted.
func (r *CouponRepository) CreateBatch(ctx context.Context, rules []coupon.Rule) (int, error) {
	batch := &pgx.Batch{}
	for _, rule := range rules {
		batch.Queue(createCouponIfAbsentSQL, couponArgs(rule)...)
	}
	var inserted int
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		br := tx.SendBatch(ctx, batch)
		for _, rule := range rules {
			tag, err := br.Exec()
			if err != nil {
				_ = br.Close()
				return fmt.Errorf("inserting %q: %w", rule.Code, err)
			}
			inserted += int(tag.RowsAffected())
		}
		return br.Close()
	})
	if err != nil {
		return 0, fmt.Errorf("creating coupon batch: %w", err)
	}
	return inserted, nil
}

// RecordUse stores the redemption and increments the counter in one
// transaction. A repeated order id is a no-op.
func (r *CouponRepository) RecordUse(ctx context.Context, use coupon.Use) (bool, error) {
	var recorded bool
	err := pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, insertCouponUseSQL, use.Code, use.OrderID, use.UserID)
		if err != nil {
			return fmt.Errorf("inserting use: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		tag, err = tx.Exec(ctx, incrementCouponUsesSQL, use.Code)
		if err != nil {
			return fmt.Errorf("incrementing uses: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return coupon.ErrCouponExhausted
		}
		recorded = true
		return nil
	})
	if err != nil {
		if errors.Is(err, coupon.ErrCouponExhausted) {
			return false, err
		}
		return false, fmt.Errorf("recording use of %q: %w", use.Code, err)
	}
	return recorded, nil
}

func scanCouponRule(row pgx.CollectableRow) (coupon.Rule, error) {
	var (
		rule         coupon.Rule
		kind         string
		value        decimal.Decimal
		minOrder     decimal.Decimal
		usageLimit   *int32
		uses         int32
		perUserLimit int32
		expiresAt    *time.Time
		userClass    string
	)
	err := row.Scan(
		&rule.Code, &kind, &value, &minOrder, &usageLimit, &uses,
		&perUserLimit, &expiresAt, &rule.Active, &userClass, &rule.SKUs,
	)
	rule.Kind = coupon.Kind(kind)
	rule.Value = value
	rule.MinOrderAmount = minOrder
	if usageLimit != nil {
		v := int(*usageLimit)
		rule.UsageLimit = &v
	}
	rule.Uses = int(uses)
	rule.PerUserLimit = int(perUserLimit)
	rule.ExpiresAt = expiresAt
	rule.UserClass = coupon.UserClass(userClass)
	return rule, err
}
