package intent

import (
	"sort"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/agentrelay/agentrelay/pkg/models"
)

// analysisCache holds classified intents keyed by a content hash of
// (normalized query, locale, user preferences). Entries are TTL-bound and
// capped with oldest-first eviction. Hits re-validate the stored timestamp
// so a stale entry is never returned even if the LRU has not evicted it yet.
type analysisCache struct {
	lru *expirable.LRU[uint64, cachedAnalysis]
	ttl time.Duration
	now func() time.Time
}

type cachedAnalysis struct {
	result   models.IntentAnalysisResult
	storedAt time.Time
}

func newAnalysisCache(size int, ttl time.Duration) *analysisCache {
	return &analysisCache{
		lru: expirable.NewLRU[uint64, cachedAnalysis](size, nil, ttl),
		ttl: ttl,
		now: time.Now,
	}
}

// key hashes the canonicalized lookup tuple with xxhash64.
// Preference keys are sorted so map iteration order cannot change the key.
func (c *analysisCache) key(query, locale string, prefs map[string]string) uint64 {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.Join(strings.Fields(query), " ")))
	b.WriteByte(0x1f)
	b.WriteString(locale)

	if len(prefs) > 0 {
		keys := make([]string, 0, len(prefs))
		for k := range prefs {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			b.WriteByte(0x1f)
			b.WriteString(k)
			b.WriteByte('=')
			b.WriteString(prefs[k])
		}
	}
	return xxhash.Sum64String(b.String())
}

func (c *analysisCache) get(key uint64) (*models.IntentAnalysisResult, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, false
	}
	if c.now().Sub(entry.storedAt) > c.ttl {
		c.lru.Remove(key)
		return nil, false
	}
	result := entry.result
	return &result, true
}

func (c *analysisCache) put(key uint64, result *models.IntentAnalysisResult) {
	c.lru.Add(key, cachedAnalysis{result: *result, storedAt: c.now()})
}

func (c *analysisCache) len() int {
	return c.lru.Len()
}
