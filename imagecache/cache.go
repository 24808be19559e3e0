// Package imagecache bounds the client's local copies of group avatars.
// Caching here is an optimization, never a correctness requirement: every
// failure path degrades to a cache miss.
package imagecache

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/prepstock/go-prepstock-client/internal/obs"
	"github.com/prepstock/go-prepstock-client/storage"
)

const (
	keyPrefix = "group_image_"

	// MaxCacheSize is the total byte budget across all cached images.
	MaxCacheSize = 10 * 1024 * 1024

	// Expiry is the age budget for a single entry.
	Expiry = 7 * 24 * time.Hour
)

type entry struct {
	Data      string `json:"data"`
	Timestamp int64  `json:"timestamp"` // unix milliseconds
	Size      int64  `json:"size"`
	GroupID   int64  `json:"groupId"`
}

// Stats is the read-only aggregate shown in the cache management UI.
type Stats struct {
	TotalSize       int64
	Count           int
	OldestTimestamp int64
}

// Cache stores base64 group avatars in the key-value port, one key per
// group, enforcing the size and age budgets on write.
type Cache struct {
	kv      storage.KV
	nowTime func() time.Time
	logger  zerolog.Logger
}

type CacheOption func(*Cache)

func WithNowTime(nowFunc func() time.Time) CacheOption {
	return func(c *Cache) {
		c.nowTime = nowFunc
	}
}

func WithLogger(logger zerolog.Logger) CacheOption {
	return func(c *Cache) {
		c.logger = logger
	}
}

func New(kv storage.KV, options ...CacheOption) (*Cache, error) {
	if kv == nil {
		return nil, errors.New("[imagecache.New] kv is required")
	}
	cache := &Cache{kv: kv, nowTime: time.Now, logger: log.Logger}
	for _, opt := range options {
		opt(cache)
	}
	return cache, nil
}

// Put caches base64Data for groupID. Headroom under the size budget is made
// by purging age-expired entries first, then evicting oldest-first. A failed
// storage write gets one cleanup-and-retry; a second failure is logged and
// swallowed.
func (c *Cache) Put(groupID int64, base64Data string) {
	size := decodedSize(base64Data)
	c.ensureSpace(size)

	if err := c.write(groupID, base64Data, size); err != nil {
		c.logger.Warn().Err(err).Int64("group_id", groupID).Msg("image cache write failed, retrying after cleanup")
		c.PurgeExpired()
		if err := c.write(groupID, base64Data, size); err != nil {
			c.logger.Error().Err(err).Int64("group_id", groupID).Msg("image cache write failed after cleanup")
		}
	}
}

// Get returns the cached image for groupID, or false when none exists or
// the entry has outlived the age budget (expired entries are evicted on
// the way out).
func (c *Cache) Get(groupID int64) (string, bool) {
	raw, ok := c.kv.Get(cacheKey(groupID))
	if !ok {
		return "", false
	}

	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		c.kv.Delete(cacheKey(groupID))
		return "", false
	}
	if c.expired(e.Timestamp) {
		c.kv.Delete(cacheKey(groupID))
		obs.ImageCacheEvictionsTotal.WithLabelValues("expired").Inc()
		return "", false
	}
	return e.Data, true
}

// Remove deletes the entry for groupID unconditionally, used when a group's
// image is cleared or the group itself is deleted.
func (c *Cache) Remove(groupID int64) {
	c.kv.Delete(cacheKey(groupID))
}

// PurgeExpired sweeps all entries and deletes any older than the age
// budget, returning how many were removed. Unparsable entries are removed
// as well.
func (c *Cache) PurgeExpired() int {
	removed := 0
	for _, key := range c.cacheKeys() {
		raw, ok := c.kv.Get(key)
		if !ok {
			continue
		}
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil || c.expired(e.Timestamp) {
			c.kv.Delete(key)
			obs.ImageCacheEvictionsTotal.WithLabelValues("expired").Inc()
			removed++
		}
	}
	if removed > 0 {
		c.logger.Debug().Int("count", removed).Msg("purged expired cached images")
	}
	return removed
}

// Clear deletes every cache entry regardless of age.
func (c *Cache) Clear() int {
	keys := c.cacheKeys()
	for _, key := range keys {
		c.kv.Delete(key)
	}
	return len(keys)
}

// Stats aggregates the surviving entries, skipping unparsable ones.
func (c *Cache) Stats() Stats {
	stats := Stats{OldestTimestamp: c.nowTime().UnixMilli()}
	for _, key := range c.cacheKeys() {
		raw, ok := c.kv.Get(key)
		if !ok {
			continue
		}
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			continue
		}
		stats.TotalSize += e.Size
		stats.Count++
		if e.Timestamp < stats.OldestTimestamp {
			stats.OldestTimestamp = e.Timestamp
		}
	}
	return stats
}

func (c *Cache) write(groupID int64, data string, size int64) error {
	raw, err := json.Marshal(entry{
		Data:      data,
		Timestamp: c.nowTime().UnixMilli(),
		Size:      size,
		GroupID:   groupID,
	})
	if err != nil {
		return errors.Wrap(err, "[Cache.write] marshal")
	}
	return c.kv.Set(cacheKey(groupID), string(raw))
}

// ensureSpace makes room for an incoming entry of newSize bytes: expired
// entries go first, then the oldest survivors until the budget holds.
func (c *Cache) ensureSpace(newSize int64) {
	if c.Stats().TotalSize+newSize <= MaxCacheSize {
		return
	}

	c.PurgeExpired()
	if c.Stats().TotalSize+newSize <= MaxCacheSize {
		return
	}

	c.evictOldest(newSize)
}

func (c *Cache) evictOldest(newSize int64) {
	type candidate struct {
		key       string
		timestamp int64
		size      int64
	}

	var candidates []candidate
	var total int64
	for _, key := range c.cacheKeys() {
		raw, ok := c.kv.Get(key)
		if !ok {
			continue
		}
		var e entry
		if err := json.Unmarshal([]byte(raw), &e); err != nil {
			// Unparsable entries contribute nothing and go first.
			candidates = append(candidates, candidate{key: key})
			continue
		}
		candidates = append(candidates, candidate{key: key, timestamp: e.Timestamp, size: e.Size})
		total += e.Size
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].timestamp < candidates[j].timestamp
	})

	freed := int64(0)
	for _, cand := range candidates {
		if total-freed+newSize <= MaxCacheSize {
			break
		}
		c.kv.Delete(cand.key)
		obs.ImageCacheEvictionsTotal.WithLabelValues("size").Inc()
		freed += cand.size
	}
	if freed > 0 {
		c.logger.Debug().Int64("bytes", freed).Msg("evicted old cached images")
	}
}

func (c *Cache) cacheKeys() []string {
	var keys []string
	for _, key := range c.kv.Keys() {
		if strings.HasPrefix(key, keyPrefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

func (c *Cache) expired(timestamp int64) bool {
	return c.nowTime().UnixMilli()-timestamp > Expiry.Milliseconds()
}

func cacheKey(groupID int64) string {
	return keyPrefix + strconv.FormatInt(groupID, 10)
}

// decodedSize computes the true byte size of a base64 payload, stripping a
// data-URL prefix and subtracting padding; the encoded string length is not
// trusted.
func decodedSize(base64Data string) int64 {
	if idx := strings.IndexByte(base64Data, ','); idx >= 0 {
		base64Data = base64Data[idx+1:]
	}
	padding := int64(strings.Count(base64Data, "="))
	return int64(len(base64Data))*3/4 - padding
}
