// Package auth identifies API key holders and customers.
package auth

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"slices"

	"github.com/go-faster/errors"
)

// Scopes granted to service API keys.
const (
	ScopeCarrierWebhook = "carrier:webhook"
	ScopeOrdersAdmin    = "orders:admin"
	ScopeCouponsAdmin   = "coupons:admin"
)

var (
	// ErrUnknownKey is returned when no active key matches.
	ErrUnknownKey = errors.New("unknown api key")
	// ErrUnauthorized is returned when a caller cannot be identified.
	ErrUnauthorized = errors.New("unauthorized")
	// ErrScope is returned when a key lacks the required scope.
	ErrScope = errors.New("api key lacks scope")
)

// APIKeyInfo holds the identity and permission data for a validated API key.
type APIKeyInfo struct {
	ID      string
	KeyHash string
	Name    string
	Scopes  []string
}

// HasScope reports whether the key grants scope.
func (i *APIKeyInfo) HasScope(scope string) bool {
	return slices.Contains(i.Scopes, scope)
}

// Repository provides lookup of API keys by their HMAC hash.
type Repository interface {
	// FindByHash returns ErrUnknownKey when no active key matches.
	FindByHash(ctx context.Context, hash string) (*APIKeyInfo, error)
}

// HashKey returns the hex HMAC-SHA256 of the raw key under pepper.
func HashKey(pepper []byte, key string) string {
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(key))
	return hex.EncodeToString(mac.Sum(nil))
}

// Customer is the authenticated shopper.
type Customer struct {
	UserID  string
	Email   string
	Premium bool
}

type customerKey struct{}

// WithCustomer stores the customer in ctx.
func WithCustomer(ctx context.Context, c Customer) context.Context {
	return context.WithValue(ctx, customerKey{}, c)
}

// CustomerFrom returns the customer stored in ctx.
func CustomerFrom(ctx context.Context) (Customer, bool) {
	c, ok := ctx.Value(customerKey{}).(Customer)
	return c, ok
}
