package bundle

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// BundleCache keeps complete cascade result sets so that later pages of the
// same query do not walk the graph again.
type BundleCache struct {
	entries  sync.Map // map[string]*ResultSetCache
	config   CacheConfig
	log      zerolog.Logger
	stopChan chan struct{}
	stopOnce sync.Once
	now      func() time.Time
}

// ResultSetCache holds one complete cascade result.
type ResultSetCache struct {
	Entries     []any
	Issues      []SearchIssue
	Total       int
	Query       string
	LastUpdated time.Time
	CreatedAt   time.Time
	ExpiresAt   time.Time
}

type CacheConfig struct {
	// Enabled false bypasses the cache completely.
	Enabled bool

	// DefaultTTL is how long a result set is served after it was stored.
	DefaultTTL time.Duration

	// MaxSize bounds the number of result sets, oldest go first. Zero is unlimited.
	MaxSize int

	// CleanupInterval is how often expired entries are swept.
	CleanupInterval time.Duration
}

func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{
		Enabled:         true,
		DefaultTTL:      15 * time.Minute,
		MaxSize:         1000,
		CleanupInterval: 5 * time.Minute,
	}
}

func NewBundleCache(config CacheConfig, log zerolog.Logger) *BundleCache {
	cache := &BundleCache{
		config:   config,
		log:      log.With().Str("component", "bundle_cache").Logger(),
		stopChan: make(chan struct{}),
		now:      time.Now,
	}

	if config.Enabled && config.CleanupInterval > 0 {
		go cache.startCleanupRoutine()
		cache.log.Info().
			Dur("interval", config.CleanupInterval).
			Int("max_size", config.MaxSize).
			Dur("ttl", config.DefaultTTL).
			Msg("Started cache cleanup routine")
	}

	return cache
}

func (c *BundleCache) startCleanupRoutine() {
	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.cleanup()
		case <-c.stopChan:
			c.log.Info().Msg("Stopping cache cleanup routine")
			return
		}
	}
}

func (c *BundleCache) cleanup() {
	type keyed struct {
		key   any
		entry *ResultSetCache
	}

	var (
		now     = c.now()
		expired int
		live    []keyed
	)

	c.entries.Range(func(key, value any) bool {
		resultSet := value.(*ResultSetCache)
		if now.After(resultSet.ExpiresAt) {
			c.entries.Delete(key)
			expired++
		} else {
			live = append(live, keyed{key: key, entry: resultSet})
		}
		return true
	})

	evicted := 0
	if c.config.MaxSize > 0 && len(live) > c.config.MaxSize {
		sort.Slice(live, func(i, j int) bool {
			return live[i].entry.CreatedAt.Before(live[j].entry.CreatedAt)
		})
		for _, old := range live[:len(live)-c.config.MaxSize] {
			c.entries.Delete(old.key)
			evicted++
		}
	}

	c.log.Debug().
		Int("expired_removed", expired).
		Int("size_limit_removed", evicted).
		Int("remaining_entries", len(live)-evicted).
		Msg("Completed cache cleanup")
}

func (c *BundleCache) generateCacheKey(rootURI, query string) string {
	hasher := sha256.New()
	hasher.Write([]byte(rootURI + "\x00" + query))
	return hex.EncodeToString(hasher.Sum(nil))
}

// StoreResultSet caches every entry of a cascade from rootURI.
func (c *BundleCache) StoreResultSet(rootURI, query string, resultSet ResultSetCache) {
	if !c.config.Enabled {
		return
	}

	now := c.now()
	resultSet.Query = query
	resultSet.CreatedAt = now
	resultSet.ExpiresAt = now.Add(c.config.DefaultTTL)

	cacheKey := c.generateCacheKey(rootURI, query)
	c.entries.Store(cacheKey, &resultSet)
	c.log.Debug().
		Str("key", cacheKey).
		Str("root", rootURI).
		Int("entries", len(resultSet.Entries)).
		Time("expires", resultSet.ExpiresAt).
		Msg("Stored cascade result set in cache")
}

// GetResultSet returns the cached result set of a cascade, if still fresh.
func (c *BundleCache) GetResultSet(rootURI, query string) (*ResultSetCache, bool) {
	if !c.config.Enabled {
		return nil, false
	}

	cacheKey := c.generateCacheKey(rootURI, query)
	entry, ok := c.entries.Load(cacheKey)
	if !ok {
		return nil, false
	}
	resultSet := entry.(*ResultSetCache)
	if c.now().After(resultSet.ExpiresAt) {
		c.entries.Delete(cacheKey)
		return nil, false
	}

	c.log.Debug().Str("key", cacheKey).Str("root", rootURI).Msg("Cascade result set served from cache")
	return resultSet, true
}

func (c *BundleCache) Stop() {
	c.stopOnce.Do(func() {
		if c.config.Enabled && c.config.CleanupInterval > 0 {
			close(c.stopChan)
		}
		c.entries.Range(func(key, _ any) bool {
			c.entries.Delete(key)
			return true
		})
		c.log.Info().Msg("Cache cleared and stopped")
	})
}
