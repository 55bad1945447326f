// Package defcache memoizes experiment-definition lookups behind a
// short-TTL cache so concurrent first-hits for a brand-new
// (experiment, goal) pair do not race storage with duplicate writes.
package defcache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"ab-gateway/internal/common/cache"
	"ab-gateway/internal/common/logging"
	"ab-gateway/internal/storage"
)

// Resolver is the find-or-create storage call the cache fronts. Inside an
// exposure flush this is the transaction's FindOrCreateExperiment.
type Resolver func(ctx context.Context, experiment, goal string) (*storage.ExperimentDefinition, error)

// Cache memoizes experiment-definition ids. When disabled every call falls
// through to the resolver; correctness is unaffected, only write contention
// under concurrent first-hits increases.
type Cache struct {
	store   cache.Cache
	enabled bool
	prefix  string
	ttl     time.Duration
}

// New creates a definition cache over the given backend.
func New(backend cache.Cache, enabled bool, prefix string, ttl time.Duration) *Cache {
	return &Cache{
		store:   backend,
		enabled: enabled,
		prefix:  prefix,
		ttl:     ttl,
	}
}

// Key builds the cache key for an (experiment, goal) pair.
func Key(experiment, goal string) string {
	return fmt.Sprintf("experiment:%s:%s", experiment, goal)
}

// GetOrCreate returns the definition id for (experiment, goal), resolving
// and memoizing it on a miss.
func (c *Cache) GetOrCreate(ctx context.Context, experiment, goal string, resolve Resolver) (int64, error) {
	key := c.prefix + ":" + Key(experiment, goal)

	if c.enabled {
		if cached, found := c.store.Get(ctx, key); found {
			if id, err := strconv.ParseInt(cached, 10, 64); err == nil {
				return id, nil
			}
			// Unparsable entry: drop it and fall through to storage.
			_ = c.store.Delete(ctx, key)
		}
	}

	def, err := resolve(ctx, experiment, goal)
	if err != nil {
		return 0, err
	}

	if c.enabled {
		if err := c.store.Set(ctx, key, strconv.FormatInt(def.ID, 10), c.ttl); err != nil {
			logging.Warn("failed to cache experiment definition",
				logging.String("experiment", experiment),
				logging.String("goal", goal),
				logging.Err(err),
			)
		}
	}

	return def.ID, nil
}
