package registry

import (
	"context"
	"time"

	"github.com/zjrosen/chunkrun/internal/cachemanager"
	"github.com/zjrosen/chunkrun/internal/log"
)

// DefaultListTTL bounds how long a cached listing may be served.
const DefaultListTTL = 5 * time.Minute

type listInput struct {
	docID, chunkID string
}

// Cached wraps a Registry with a read-through cache of List results.
// Purge and Record invalidate the affected chunk's cached listing.
type Cached struct {
	backing Registry
	cache   cachemanager.CacheManager[string, []Entry]
	lists   *cachemanager.ReadThroughCache[string, []Entry, listInput]
	ttl     time.Duration
}

// NewCached returns a caching decorator over backing.
func NewCached(backing Registry, cache cachemanager.CacheManager[string, []Entry]) *Cached {
	c := &Cached{backing: backing, cache: cache, ttl: DefaultListTTL}
	c.lists = cachemanager.NewReadThroughCache(cache, func(ctx context.Context, in listInput) ([]Entry, error) {
		return backing.List(ctx, in.docID, in.chunkID)
	}, false)
	return c
}

var _ Registry = (*Cached)(nil)

func cacheKey(docID, chunkID string) string {
	return "outputs:" + docID + "/" + chunkID
}

func (c *Cached) Purge(ctx context.Context, docID, chunkID string) error {
	err := c.backing.Purge(ctx, docID, chunkID)
	c.invalidate(ctx, docID, chunkID)
	return err
}

func (c *Cached) Record(ctx context.Context, e Entry) error {
	err := c.backing.Record(ctx, e)
	c.invalidate(ctx, e.DocID, e.ChunkID)
	return err
}

func (c *Cached) List(ctx context.Context, docID, chunkID string) ([]Entry, error) {
	entries, err := c.lists.Get(ctx, cacheKey(docID, chunkID), listInput{docID, chunkID}, c.ttl)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, len(entries))
	copy(out, entries)
	return out, nil
}

func (c *Cached) invalidate(ctx context.Context, docID, chunkID string) {
	if err := c.cache.Delete(ctx, cacheKey(docID, chunkID)); err != nil {
		log.ErrorErr(log.CatRegistry, "Failed to invalidate cached listing", err, "doc", docID, "chunk", chunkID)
	}
}
