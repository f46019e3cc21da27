package order

import (
	"fmt"

	"github.com/go-faster/errors"

	"github.com/xenking/kart-checkout/internal/domain/coupon"
	"github.com/xenking/kart-checkout/internal/domain/payment"
	"github.com/xenking/kart-checkout/internal/domain/pricing"
	"github.com/xenking/kart-checkout/internal/domain/refund"
)

// Sentinel errors for the order lifecycle.
var (
	ErrNotFound          = errors.New("order not found")
	ErrEmptyItems        = errors.New("items required")
	ErrInvalidMethod     = errors.New("unsupported payment method")
	ErrMembershipMethod  = errors.New("membership must be paid through a gateway")
	ErrConflict          = errors.New("order was modified concurrently")
	ErrForbidden         = errors.New("order belongs to another customer")
	ErrAlreadyRefunded   = errors.New("order already refunded")
	ErrRefundInProgress  = errors.New("refund already in progress")
	ErrNotRefundable     = errors.New("order is not refundable")
	ErrAlreadyDispatched = errors.New("order already has a shipment")
	ErrUnknownCarrier    = errors.New("unknown carrier status")
	ErrSessionMismatch   = errors.New("payment session does not belong to order")
	ErrGatewayFailure    = errors.New("payment gateway unavailable")
	ErrCarrierFailure    = errors.New("carrier unavailable")
	ErrRefundFailed      = errors.New("refund failed")
)

// TransitionError reports a transition the state machine does not allow.
type TransitionError struct {
	From, To Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot move order from %s to %s", e.From, e.To)
}

// Kind classifies errors for callers.
type Kind int

const (
	// KindInternal is an unexpected failure.
	KindInternal Kind = iota
	// KindValidation is bad input. No side effects were performed.
	KindValidation
	// KindNotFound is a missing order.
	KindNotFound
	// KindExternal is a gateway or carrier failure.
	KindExternal
	// KindConsistency is a request rejected to protect money or stock. No
	// mutation was performed.
	KindConsistency
	// KindForbidden is a request for another customer's order.
	KindForbidden
)

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindNotFound, []error{ErrNotFound}},
	{KindForbidden, []error{ErrForbidden}},
	{KindValidation, []error{
		ErrEmptyItems, ErrInvalidMethod, ErrMembershipMethod, ErrUnknownCarrier,
		coupon.ErrInvalidCoupon, coupon.ErrCouponExpired, coupon.ErrCouponExhausted,
		coupon.ErrUserLimitReached, coupon.ErrNotEligible, coupon.ErrNotApplicable,
		coupon.ErrMinimumNotMet, coupon.ErrInvalidRule, coupon.ErrDuplicateCode,
		refund.ErrPayoutDetailsRequired, refund.ErrInvalidFault,
	}},
	{KindConsistency, []error{
		ErrConflict, ErrAlreadyRefunded, ErrRefundInProgress, ErrNotRefundable,
		ErrAlreadyDispatched, ErrSessionMismatch,
		payment.ErrSignatureMismatch, payment.ErrNotPaid,
	}},
	{KindExternal, []error{ErrGatewayFailure, ErrCarrierFailure, ErrRefundFailed}},
}

// KindOf classifies err.
func KindOf(err error) Kind {
	if err == nil {
		return KindInternal
	}
	var (
		outOfStock *pricing.OutOfStockError
		notFound   *pricing.ProductNotFoundError
		quantity   *pricing.InvalidQuantityError
		transition *TransitionError
	)
	switch {
	case errors.As(err, &outOfStock), errors.As(err, &notFound), errors.As(err, &quantity):
		return KindValidation
	case errors.As(err, &transition):
		return KindConsistency
	}
	for _, k := range kinds {
		for _, target := range k.errs {
			if errors.Is(err, target) {
				return k.kind
			}
		}
	}
	return KindInternal
}
