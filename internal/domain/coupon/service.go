package coupon

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Evaluator computes coupon discounts for a cart.
type Evaluator interface {
	Evaluate(ctx context.Context, code string, items []Item, customer Customer) (decimal.Decimal, error)
}

// Service evaluates, creates and redeems coupons backed by a Repository.
type Service struct {
	repo Repository
	now  func() time.Time
}

var _ Evaluator = (*Service)(nil)

// NewService creates a Service backed by the given Repository.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Evaluate runs the eligibility checks in order, each short-circuiting with
// its own error, and returns the discount amount. It does not touch usage
// counters; see Redeem.
func (s *Service) Evaluate(ctx context.Context, code string, items []Item, customer Customer) (decimal.Decimal, error) {
	rule, err := s.repo.FindByCode(ctx, NormalizeCode(code))
	if err != nil {
		if errors.Is(err, ErrInvalidCoupon) {
			return zero, ErrInvalidCoupon
		}
		return zero, errors.Wrap(err, "lookup coupon")
	}
	if !rule.Active {
		return zero, ErrInvalidCoupon
	}
	if rule.ExpiresAt != nil && !s.now().Before(*rule.ExpiresAt) {
		return zero, ErrCouponExpired
	}
	if rule.Exhausted() {
		return zero, ErrCouponExhausted
	}
	if rule.PerUserLimit > 0 {
		used, err := s.repo.CountUserUses(ctx, rule.Code, customer.UserID)
		if err != nil {
			return zero, errors.Wrap(err, "count user uses")
		}
		if used >= rule.PerUserLimit {
			return zero, ErrUserLimitReached
		}
	}
	switch {
	case rule.UserClass == ClassPremium && !customer.Premium,
		rule.UserClass == ClassNormal && customer.Premium:
		return zero, ErrNotEligible
	}

	base, err := Base(rule, items)
	if err != nil {
		return zero, err
	}
	if base.LessThan(rule.MinOrderAmount) {
		return zero, ErrMinimumNotMet
	}
	return Apply(rule, base), nil
}

// Create validates and stores a new rule. The code is normalised first.
func (s *Service) Create(ctx context.Context, rule Rule) (*Rule, error) {
	rule.Code = NormalizeCode(rule.Code)
	rule.Uses = 0
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.Create(ctx, rule); err != nil {
		return nil, errors.Wrap(err, "create coupon")
	}
	return &rule, nil
}

// Redeem records a use of code by the confirmed order. Retries for the same
// order are no-ops.
func (s *Service) Redeem(ctx context.Context, use Use) error {
	use.Code = NormalizeCode(use.Code)
	if _, err := s.repo.RecordUse(ctx, use); err != nil {
		if errors.Is(err, ErrCouponExhausted) {
			return ErrCouponExhausted
		}
		return errors.Wrap(err, "record coupon use")
	}
	return nil
}
