package coupon

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// Kind enumerates the supported coupon discount strategies.
type Kind string

const (
	// KindPercentage applies a percentage of the discount base.
	KindPercentage Kind = "percentage"
	// KindFixed applies a fixed amount capped at the discount base.
	KindFixed Kind = "fixed"
)

// UserClass restricts a coupon to a class of customers.
type UserClass string

const (
	// ClassAny makes the coupon available to every customer.
	ClassAny UserClass = ""
	// ClassNormal restricts the coupon to customers without a membership.
	ClassNormal UserClass = "normal"
	// ClassPremium restricts the coupon to premium members.
	ClassPremium UserClass = "premium"
)

var (
	// ErrInvalidCoupon is returned when a coupon code is not found or inactive.
	ErrInvalidCoupon = errors.New("invalid coupon code")
	// ErrCouponExpired is returned when a coupon is past its expiry.
	ErrCouponExpired = errors.New("coupon expired")
	// ErrCouponExhausted is returned when a coupon has used up its overall limit.
	ErrCouponExhausted = errors.New("coupon usage limit reached")
	// ErrUserLimitReached is returned when the customer used the coupon as often as allowed.
	ErrUserLimitReached = errors.New("coupon already used by this customer")
	// ErrNotEligible is returned when the customer's class does not match the coupon.
	ErrNotEligible = errors.New("coupon not available for this customer")
	// ErrNotApplicable is returned when no cart line matches the coupon's SKU allow-list.
	ErrNotApplicable = errors.New("coupon does not apply to any item in the cart")
	// ErrMinimumNotMet is returned when the discount base is below the coupon minimum.
	ErrMinimumNotMet = errors.New("order amount below coupon minimum")
	// ErrInvalidRule is returned when a coupon definition is malformed.
	ErrInvalidRule = errors.New("invalid coupon rule")
	// ErrDuplicateCode is returned when creating a coupon whose code already exists.
	ErrDuplicateCode = errors.New("coupon code already exists")
)

// Rule defines a coupon's discount behaviour and eligibility constraints.
type Rule struct {
	Code           string
	Kind           Kind
	Value          decimal.Decimal
	MinOrderAmount decimal.Decimal
	// UsageLimit is the overall limit, nil for unlimited.
	UsageLimit *int
	Uses       int
	// PerUserLimit is the limit per customer, 0 for unlimited.
	PerUserLimit int
	ExpiresAt    *time.Time
	Active       bool
	UserClass    UserClass
	// SKUs is the optional allow-list. When set, only matching lines form the discount base.
	SKUs []string
}

// NormalizeCode returns the canonical form of a coupon code.
func NormalizeCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

// Validate checks the rule definition. Out-of-range values are rejected here
// rather than clamped at evaluation time.
func (r Rule) Validate() error {
	if NormalizeCode(r.Code) == "" {
		return errors.Wrap(ErrInvalidRule, "empty code")
	}
	switch r.Kind {
	case KindPercentage:
		if !r.Value.IsPositive() || r.Value.GreaterThan(hundred) {
			return errors.Wrapf(ErrInvalidRule, "percentage %s outside (0,100]", r.Value)
		}
	case KindFixed:
		if !r.Value.IsPositive() {
			return errors.Wrapf(ErrInvalidRule, "fixed value %s must be positive", r.Value)
		}
	default:
		return errors.Wrapf(ErrInvalidRule, "unsupported kind %q", r.Kind)
	}
	if r.MinOrderAmount.IsNegative() {
		return errors.Wrap(ErrInvalidRule, "negative minimum order amount")
	}
	if r.UsageLimit != nil && *r.UsageLimit < 0 {
		return errors.Wrap(ErrInvalidRule, "negative usage limit")
	}
	if r.PerUserLimit < 0 {
		return errors.Wrap(ErrInvalidRule, "negative per-user limit")
	}
	switch r.UserClass {
	case ClassAny, ClassNormal, ClassPremium:
	default:
		return errors.Wrapf(ErrInvalidRule, "unsupported user class %q", r.UserClass)
	}
	return nil
}

// Exhausted reports whether the overall usage limit has been reached.
func (r Rule) Exhausted() bool {
	return r.UsageLimit != nil && r.Uses >= *r.UsageLimit
}

// Item is a cart line as seen by the evaluator.
type Item struct {
	SKU string
	// Amount is the line total after per-line discounts.
	Amount decimal.Decimal
}

// Customer identifies who applies the coupon.
type Customer struct {
	UserID  string
	Premium bool
}

// Use records a single redemption. OrderID is the idempotency key.
type Use struct {
	Code    string
	UserID  string
	OrderID string
}

// Repository provides lookup and mutation of coupon rules.
type Repository interface {
	// FindByCode returns ErrInvalidCoupon when the code does not exist.
	FindByCode(ctx context.Context, code string) (*Rule, error)
	CountUserUses(ctx context.Context, code, userID string) (int, error)
	// Create returns ErrDuplicateCode when the code is taken.
	Create(ctx context.Context, rule Rule) error
	// RecordUse stores the use and increments the counter while it is under
	// the limit. It reports false when the order already redeemed the code and
	// returns ErrCouponExhausted when the limit was reached.
	RecordUse(ctx context.Context, use Use) (bool, error)
}
