package grail

import (
	"context"
	"strings"
	"time"

	"github.com/tareqmamari/grail-mcp-server/internal/cache"
)

// Defaults for the verification cache.
const (
	DefaultVerifyCacheTTL  = 5 * time.Minute
	DefaultVerifyCacheSize = 256
)

// StatementVerifier checks a statement without running it.
type StatementVerifier interface {
	Verify(ctx context.Context, statement string) (*VerifyResult, error)
}

// CachedVerifier remembers recent verification results. Failed calls are not cached.
type CachedVerifier struct {
	next  StatementVerifier
	cache *cache.Cache[*VerifyResult]
}

// NewCachedVerifier wraps next with a cache.
func NewCachedVerifier(next StatementVerifier, c *cache.Cache[*VerifyResult]) *CachedVerifier {
	return &CachedVerifier{next: next, cache: c}
}

// Verify returns a cached result for the statement or asks next.
func (v *CachedVerifier) Verify(ctx context.Context, statement string) (*VerifyResult, error) {
	key := strings.TrimSpace(statement)
	if res, ok := v.cache.Get(key); ok {
		return res, nil
	}

	res, err := v.next.Verify(ctx, statement)
	if err != nil {
		return nil, err
	}
	v.cache.Set(key, res)
	return res, nil
}

// Stats returns statistics of the underlying cache.
func (v *CachedVerifier) Stats() cache.Stats {
	return v.cache.Stats()
}
