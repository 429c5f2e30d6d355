package auth

import (
	"context"
	"encoding/json"
	"log/slog"

	"blockserver/internal/cache"
)

const cacheKeyPrefix = "auth:"

// CachedBackend memoizes successful resolutions of the wrapped backend,
// keyed by credential. Failed resolutions are not cached.
type CachedBackend struct {
	next  Backend
	cache cache.Cache
}

// NewCachedBackend wraps next with a credential cache.
func NewCachedBackend(next Backend, c cache.Cache) *CachedBackend {
	return &CachedBackend{
		next:  next,
		cache: c,
	}
}

// Authenticate returns the cached user for credential, consulting the
// wrapped backend on a miss. Cache failures degrade to a backend call.
func (e *CachedBackend) Authenticate(ctx context.Context, credential string) (*User, error) {
	key := cacheKeyPrefix + credential

	if raw, ok, err := e.cache.Get(ctx, key); err != nil {
		slog.Warn("Auth cache lookup failed", "err", err)
	} else if ok {
		var user User
		decodeErr := json.Unmarshal(raw, &user)
		if decodeErr == nil {
			return &user, nil
		}
		slog.Warn("Discarding malformed auth cache entry", "err", decodeErr)
	}

	user, err := e.next.Authenticate(ctx, credential)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(user); err == nil {
		if err := e.cache.Set(ctx, key, raw); err != nil {
			slog.Warn("Auth cache store failed", "err", err)
		}
	}

	return user, nil
}
