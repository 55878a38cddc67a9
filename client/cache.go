package client

import (
	"time"

	"github.com/maypok86/otter/v2"
)

// cache is a bounded TTL cache used for recently seen message payloads
// and the last /mods and /vips rosters.
type cache[T any] struct {
	outer *otter.Cache[string, T]
}

func newCache[T any](capacity int, ttl time.Duration) *cache[T] {
	return &cache[T]{
		outer: otter.Must(&otter.Options[string, T]{
			InitialCapacity:  capacity,
			ExpiryCalculator: otter.ExpiryAccessing[string, T](ttl),
		}),
	}
}

func (c *cache[T]) Set(key string, val T) {
	c.outer.Set(key, val)
}

func (c *cache[T]) Get(key string) (T, bool) {
	return c.outer.GetIfPresent(key)
}

func (c *cache[T]) ClearKey(key string) {
	c.outer.Invalidate(key)
}

func (c *cache[T]) ClearAll() {
	c.outer.InvalidateAll()
}
