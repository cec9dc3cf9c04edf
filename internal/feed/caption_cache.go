package feed

import (
	"sync"
	"time"
)

const captionCacheMaxEntries = 1024

// captionCache keeps resolved captions by post id. An empty caption is a valid
// cached result. Expired entries are dropped on lookup; when full, put drops
// the least recently used entry.
type captionCache struct {
	mu         sync.Mutex
	entries    map[string]cachedCaption
	clock      uint64
	maxEntries int
}

type cachedCaption struct {
	caption   string
	expiresAt time.Time
	usedAt    uint64
}

func newCaptionCache(maxEntries int) *captionCache {
	if maxEntries <= 0 {
		return nil
	}

	return &captionCache{
		entries:    make(map[string]cachedCaption, maxEntries),
		maxEntries: maxEntries,
	}
}

func (c *captionCache) lookup(postID string, now time.Time) (string, bool) {
	if c == nil || postID == "" {
		return "", false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	cached, ok := c.entries[postID]
	if !ok {
		return "", false
	}

	if now.After(cached.expiresAt) {
		delete(c.entries, postID)
		return "", false
	}

	c.clock++
	cached.usedAt = c.clock
	c.entries[postID] = cached

	return cached.caption, true
}

func (c *captionCache) put(postID string, caption string, ttl time.Duration, now time.Time) {
	if c == nil || postID == "" || ttl <= 0 {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.entries[postID]; !ok && len(c.entries) >= c.maxEntries {
		c.makeRoomLocked(now)
	}

	c.clock++
	c.entries[postID] = cachedCaption{
		caption:   caption,
		expiresAt: now.Add(ttl),
		usedAt:    c.clock,
	}
}

// makeRoomLocked drops every expired entry, or the least recently used one
// when nothing has expired.
func (c *captionCache) makeRoomLocked(now time.Time) {
	var (
		oldestID string
		oldest   uint64
		dropped  bool
	)

	for id, cached := range c.entries {
		if now.After(cached.expiresAt) {
			delete(c.entries, id)
			dropped = true

			continue
		}

		if oldestID == "" || cached.usedAt < oldest {
			oldestID, oldest = id, cached.usedAt
		}
	}

	if !dropped && oldestID != "" {
		delete(c.entries, oldestID)
	}
}
