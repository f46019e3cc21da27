package carrier

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// ErrNoToken is returned by a TokenStore that holds no token.
var ErrNoToken = errors.New("no cached carrier token")

// TokenStore shares the carrier credential between replicas.
type TokenStore interface {
	// Get returns ErrNoToken when nothing is cached.
	Get(ctx context.Context) (string, error)
	Set(ctx context.Context, token string, ttl time.Duration) error
	Delete(ctx context.Context) error
}

// RedisTokenStore keeps the token under a single Redis key.
type RedisTokenStore struct {
	client redis.UniversalClient
	key    string
}

// NewRedisTokenStore creates a RedisTokenStore.
func NewRedisTokenStore(client redis.UniversalClient, key string) *RedisTokenStore {
	if key == "" {
		key = "checkout:carrier:token"
	}
	return &RedisTokenStore{client: client, key: key}
}

// Get returns the cached token.
func (s *RedisTokenStore) Get(ctx context.Context) (string, error) {
	v, err := s.client.Get(ctx, s.key).Result()
	if errors.Is(err, redis.Nil) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", errors.Wrap(err, "get carrier token")
	}
	return v, nil
}

// Set caches the token for ttl.
func (s *RedisTokenStore) Set(ctx context.Context, token string, ttl time.Duration) error {
	if err := s.client.Set(ctx, s.key, token, ttl).Err(); err != nil {
		return errors.Wrap(err, "set carrier token")
	}
	return nil
}

// Delete drops the cached token.
func (s *RedisTokenStore) Delete(ctx context.Context) error {
	if err := s.client.Del(ctx, s.key).Err(); err != nil {
		return errors.Wrap(err, "delete carrier token")
	}
	return nil
}

// LoginFunc obtains a fresh token from the carrier.
type LoginFunc func(ctx context.Context) (string, error)

// TokenSource hands out the carrier token. A process-local copy is served
// until it expires, then the shared store is consulted, and only then a login
// is performed. Concurrent refreshes collapse into one login.
type TokenSource struct {
	store TokenStore
	login LoginFunc
	ttl   time.Duration
	now   func() time.Time

	group singleflight.Group

	mu      sync.Mutex
	token   string
	expires time.Time
}

// NewTokenSource creates a TokenSource. A nil store keeps the token in
// process only.
func NewTokenSource(store TokenStore, login LoginFunc, ttl time.Duration) *TokenSource {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &TokenSource{
		store: store,
		login: login,
		ttl:   ttl,
		now:   time.Now,
	}
}

// Token returns a valid token.
func (s *TokenSource) Token(ctx context.Context) (string, error) {
	s.mu.Lock()
	if s.token != "" && s.now().Before(s.expires) {
		t := s.token
		s.mu.Unlock()
		return t, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do("token", func() (any, error) {
		return s.refresh(context.WithoutCancel(ctx))
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (s *TokenSource) refresh(ctx context.Context) (string, error) {
	lg := zctx.From(ctx)
	if s.store != nil {
		t, err := s.store.Get(ctx)
		switch {
		case err == nil:
			s.remember(t)
			return t, nil
		case !errors.Is(err, ErrNoToken):
			lg.Warn("Carrier token store unavailable", zap.Error(err))
		}
	}

	t, err := s.login(ctx)
	if err != nil {
		return "", errors.Wrap(err, "carrier login")
	}
	s.remember(t)
	if s.store != nil {
		if err := s.store.Set(ctx, t, s.ttl); err != nil {
			lg.Warn("Failed to share carrier token", zap.Error(err))
		}
	}
	lg.Info("Carrier token refreshed")
	return t, nil
}

func (s *TokenSource) remember(t string) {
	s.mu.Lock()
	s.token = t
	s.expires = s.now().Add(s.ttl)
	s.mu.Unlock()
}

// Invalidate drops the token, typically after the carrier rejected it.
// Only the rejected token is dropped so a concurrent refresh is kept.
func (s *TokenSource) Invalidate(ctx context.Context, rejected string) {
	s.mu.Lock()
	if s.token != rejected {
		s.mu.Unlock()
		return
	}
	s.token = ""
	s.mu.Unlock()

	if s.store == nil {
		return
	}
	if cur, err := s.store.Get(ctx); err == nil && cur == rejected {
		if err := s.store.Delete(ctx); err != nil {
			zctx.From(ctx).Warn("Failed to drop carrier token", zap.Error(err))
		}
	}
}
