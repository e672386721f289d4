package directory

import (
	"context"
	"time"

	"github.com/pmylund/go-cache"

	"github.com/vietddude/txrecover/internal/core/domain"
)

// Cached remembers successful lookups of the wrapped directory for ttl.
// Failures are not cached.
type Cached struct {
	next  Directory
	cache *cache.Cache
}

func NewCached(next Directory, ttl time.Duration) *Cached {
	return &Cached{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (c *Cached) Resolve(ctx context.Context, key domain.PublicKey) (string, error) {
	k := key.String()
	if url, ok := c.cache.Get(k); ok {
		return url.(string), nil
	}

	url, err := c.next.Resolve(ctx, key)
	if err != nil {
		return "", err
	}
	c.cache.SetDefault(k, url)
	return url, nil
}
