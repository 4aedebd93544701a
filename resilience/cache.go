package resilience

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// QueryCache holds query results under a TTL eviction policy. Only the
// query path uses it; ingestion data is never cached.
type QueryCache struct {
	cache *gocache.Cache
}

func NewQueryCache(ttl time.Duration) *QueryCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &QueryCache{cache: gocache.New(ttl, 2*ttl)}
}

// Key derives a deterministic cache key from the normalized query
// parameters. Identical parameters always map to the same key.
func (c *QueryCache) Key(params any) string {
	data, err := json.Marshal(params)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (c *QueryCache) Get(key string) (any, bool) {
	if key == "" {
		return nil, false
	}
	return c.cache.Get(key)
}

func (c *QueryCache) Set(key string, value any) {
	if key == "" {
		return
	}
	c.cache.SetDefault(key, value)
}
