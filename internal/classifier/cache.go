package classifier

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"slices"
	"time"

	"github.com/patrickmn/go-cache"
)

// Cached wraps a Classifier with an in-memory cache keyed by the image hash.
// Only successful results are cached.
type Cached struct {
	next     Classifier
	cache    *cache.Cache
	recorder Recorder
}

// NewCached creates a caching decorator. Entries expire after ttl.
func NewCached(next Classifier, ttl time.Duration, recorder Recorder) *Cached {
	return &Cached{
		next:     next,
		cache:    cache.New(ttl, ttl*2),
		recorder: recorder,
	}
}

// Classify returns a cached result for an identical image, otherwise calls the
// wrapped classifier.
func (c *Cached) Classify(ctx context.Context, image []byte) (Enrichment, error) {
	key := imageKey(image)
	if v, ok := c.cache.Get(key); ok {
		c.record(true)
		return clone(v.(Enrichment)), nil
	}
	c.record(false)

	result, err := c.next.Classify(ctx, image)
	if err != nil {
		return Enrichment{}, err
	}
	c.cache.SetDefault(key, clone(result))
	return result, nil
}

// Len returns the number of cached results
func (c *Cached) Len() int {
	return c.cache.ItemCount()
}

// Flush drops all cached results
func (c *Cached) Flush() {
	c.cache.Flush()
}

func (c *Cached) record(hit bool) {
	if c.recorder != nil {
		c.recorder.RecordCacheLookup(hit)
	}
}

func imageKey(image []byte) string {
	sum := sha256.Sum256(image)
	return hex.EncodeToString(sum[:])
}

// clone copies the reference fields so cached values are never shared with callers
func clone(e Enrichment) Enrichment {
	e.Tags = slices.Clone(e.Tags)
	if e.Brand != nil {
		brand := *e.Brand
		e.Brand = &brand
	}
	return e
}
