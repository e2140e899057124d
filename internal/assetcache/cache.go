package assetcache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"golang.org/x/sync/singleflight"

	"slidereel/internal/config"
	"slidereel/internal/logging"
)

// Cache stores rendered assets on disk, addressed by content hash. Entries
// are bounded by count and age; evicted entries have their backing files
// removed. Concurrent fills for the same key collapse into one render.
type Cache struct {
	dir     string
	enabled bool
	entries *expirable.LRU[string, string]
	group   singleflight.Group
	logger  *slog.Logger
}

// New builds the cache under the configured cache directory.
func New(cfg *config.Config, logger *slog.Logger) (*Cache, error) {
	cache := &Cache{
		dir:     cfg.CacheDir(),
		enabled: cfg.AssetCache.Enabled,
		logger:  logging.NewComponentLogger(logger, "assetcache"),
	}
	if !cache.enabled {
		return cache, nil
	}

	if err := os.MkdirAll(cache.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	maxEntries := cfg.AssetCache.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 256
	}
	ttl := time.Duration(cfg.AssetCache.TTLMinutes) * time.Minute

	cache.entries = expirable.NewLRU[string, string](maxEntries, cache.onEvict, ttl)
	return cache, nil
}

// Key hashes arbitrary content fragments into a cache key.
func Key(parts ...string) string {
	h := sha256.New()
	for _, part := range parts {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// GetOrFill returns the path of the cached asset for key, producing it with
// fill on a miss. When the cache is disabled the asset is filled straight
// into fallbackPath and never tracked. fill must write the complete asset to
// the path it receives.
func (c *Cache) GetOrFill(key, fallbackPath string, fill func(dst string) error) (string, error) {
	if !c.enabled {
		if err := fill(fallbackPath); err != nil {
			return "", err
		}
		return fallbackPath, nil
	}

	result, err, _ := c.group.Do(key, func() (any, error) {
		if path, ok := c.entries.Get(key); ok {
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
			// Backing file vanished underneath the index.
			c.entries.Remove(key)
		}

		dst := filepath.Join(c.dir, key+filepath.Ext(fallbackPath))
		tmp := dst + ".tmp"
		if err := fill(tmp); err != nil {
			os.Remove(tmp)
			return nil, err
		}
		if err := os.Rename(tmp, dst); err != nil {
			os.Remove(tmp)
			return nil, fmt.Errorf("publish cached asset: %w", err)
		}
		c.entries.Add(key, dst)
		return dst, nil
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// Len reports the number of live entries.
func (c *Cache) Len() int {
	if !c.enabled {
		return 0
	}
	return c.entries.Len()
}

// Purge drops every entry and its backing file.
func (c *Cache) Purge() {
	if c.enabled {
		c.entries.Purge()
	}
}

func (c *Cache) onEvict(key, path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		c.logger.Warn("evicted cache file not removed",
			logging.String("path", path), logging.Error(err))
	}
}
