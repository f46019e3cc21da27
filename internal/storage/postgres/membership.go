package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Membership activation extends an active membership instead of resetting it.
const activateMembershipSQL = `INSERT INTO memberships (user_id, order_id, activated_at, expires_at)
	VALUES ($1, $2, $3, $3::timestamptz + $4::interval)
	ON CONFLICT (user_id) DO UPDATE SET
		order_id = EXCLUDED.order_id,
		activated_at = EXCLUDED.activated_at,
		expires_at = GREATEST(memberships.expires_at, EXCLUDED.activated_at) + $4::interval
	WHERE memberships.order_id <> EXCLUDED.order_id`

const isMemberSQL = `SELECT EXISTS (SELECT 1 FROM memberships WHERE user_id = $1 AND expires_at > $2)`

// MembershipRepository activates premium memberships.
type MembershipRepository struct {
	pool     *pgxpool.Pool
	duration time.Duration
	now      func() time.Time
}

// NewMembershipRepository returns a MembershipRepository granting duration
// per purchase.
func NewMembershipRepository(pool *pgxpool.Pool, duration time.Duration) *MembershipRepository {
	return &MembershipRepository{pool: pool, duration: duration, now: time.Now}
}

// Activate grants or extends the membership. Repeated calls for the same
// order are no-ops.
func (r *MembershipRepository) Activate(ctx context.Context, userID, orderID string) error {
	if _, err := r.pool.Exec(ctx, activateMembershipSQL, userID, orderID, r.now().UTC(), r.duration); err != nil {
		return fmt.Errorf("activating membership for %q: %w", userID, err)
	}
	return nil
}

// IsMember reports whether the user holds an unexpired membership.
func (r *MembershipRepository) IsMember(ctx context.Context, userID string) (bool, error) {
	var ok bool
	if err := r.pool.QueryRow(ctx, isMemberSQL, userID, r.now().UTC()).Scan(&ok); err != nil {
		return false, fmt.Errorf("checking membership of %q: %w", userID, err)
	}
	return ok, nil
}
