package handler

import (
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/go-faster/sdk/zctx"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/xenking/kart-checkout/internal/domain/auth"
)

// APIKeyHeader carries service API keys.
const APIKeyHeader = "api_key"

// CustomerClaims are the bearer token claims identifying a shopper. The
// subject is the user id.
type CustomerClaims struct {
	Email   string `json:"email,omitempty"`
	Premium bool   `json:"premium,omitempty"`
	jwt.RegisteredClaims
}

// Security authenticates shoppers by bearer token and services by API key.
type Security struct {
	keys      auth.Repository
	pepper    []byte
	jwtSecret []byte
}

// NewSecurity creates a Security with the API key repository, the HMAC
// pepper for key hashing and the HS256 token secret.
func NewSecurity(keys auth.Repository, pepper, jwtSecret []byte) *Security {
	return &Security{keys: keys, pepper: pepper, jwtSecret: jwtSecret}
}

// RequireCustomer rejects requests without a valid bearer token and stores
// the customer in the request context.
func (s *Security) RequireCustomer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			writeProblem(w, http.StatusUnauthorized, "unauthorized", "bearer token required")
			return
		}

		var claims CustomerClaims
		_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
			return s.jwtSecret, nil
		},
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithExpirationRequired(),
		)
		if err != nil || claims.Subject == "" {
			zctx.From(r.Context()).Debug("Bearer token rejected", zap.Error(err))
			writeProblem(w, http.StatusUnauthorized, "unauthorized", "invalid bearer token")
			return
		}

		ctx := auth.WithCustomer(r.Context(), auth.Customer{
			UserID:  claims.Subject,
			Email:   claims.Email,
			Premium: claims.Premium,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireScope authenticates the API key header and checks that the key
// grants scope.
func (s *Security) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			info, ok := s.apiKey(r)
			if !ok {
				writeProblem(w, http.StatusUnauthorized, "unauthorized", "valid api key required")
				return
			}
			if !info.HasScope(scope) {
				zctx.From(r.Context()).Warn("API key lacks scope",
					zap.String("key", info.Name),
					zap.String("scope", scope),
				)
				writeProblem(w, http.StatusForbidden, "forbidden", auth.ErrScope.Error())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Security) apiKey(r *http.Request) (*auth.APIKeyInfo, bool) {
	key := r.Header.Get(APIKeyHeader)
	if key == "" {
		return nil, false
	}
	hexHash := auth.HashKey(s.pepper, key)

	info, err := s.keys.FindByHash(r.Context(), hexHash)
	if err != nil {
		return nil, false
	}

	// The repository matched on the hash; compare again in constant time in
	// case it returned a different row.
	stored, err := hex.DecodeString(info.KeyHash)
	if err != nil {
		return nil, false
	}
	computed, _ := hex.DecodeString(hexHash)
	if subtle.ConstantTimeCompare(computed, stored) != 1 {
		return nil, false
	}
	return info, true
}
