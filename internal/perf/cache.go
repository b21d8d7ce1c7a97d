// Package perf provides the performance layer: response caching, in-flight
// request deduplication, batched execution, and rolling per-agent metrics
// with tuning recommendations.
package perf

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/agentrelay/agentrelay/pkg/models"
)

// Response cache defaults.
const (
	DefaultCacheSize = 1000
	DefaultCacheTTL  = 5 * time.Minute
)

// cacheEntry pairs a stored response with the agent type that produced it,
// so a hit can report which agent the caller is being answered by.
type cacheEntry struct {
	resp      models.AgentResponse
	agentType models.AgentType
}

// ResponseCache is a TTL-bounded LRU of successful agent responses keyed by
// the request's semantic identity. Degraded responses are never cached.
// Stored and returned responses are isolated copies: callers may annotate
// a returned response without affecting the cached entry or other callers.
type ResponseCache struct {
	lru *expirable.LRU[uint64, cacheEntry]

	mu     sync.Mutex
	hits   map[models.AgentType]int64
	misses map[models.AgentType]int64
}

// NewResponseCache creates a cache with the given capacity and TTL,
// substituting defaults for non-positive values.
func NewResponseCache(size int, ttl time.Duration) *ResponseCache {
	if size <= 0 {
		size = DefaultCacheSize
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &ResponseCache{
		lru:    expirable.NewLRU[uint64, cacheEntry](size, nil, ttl),
		hits:   make(map[models.AgentType]int64),
		misses: make(map[models.AgentType]int64),
	}
}

// RequestKey hashes a conversation request's semantic identity: query, model,
// explicit agent-type override, locale, and sorted caller parameters.
// Identical concurrent requests share this key for both the response cache
// and in-flight deduplication.
func RequestKey(req models.ConversationRequest) uint64 {
	h := xxhash.New()
	h.WriteString(req.Query)
	h.WriteString("\x1f")
	h.WriteString(req.Model)
	h.WriteString("\x1f")
	h.WriteString(string(req.AgentType))
	h.WriteString("\x1f")
	h.WriteString(req.Locale)

	keys := make([]string, 0, len(req.Parameters))
	for k := range req.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.WriteString("\x1f")
		h.WriteString(k)
		h.WriteString("=")
		h.WriteString(fmt.Sprintf("%v", req.Parameters[k]))
	}
	return h.Sum64()
}

// Get returns a copy of the cached response for a key and the agent type
// that produced it. Hits are recorded against that type; misses are recorded
// when the executed response is later stored with Put.
func (c *ResponseCache) Get(key uint64) (*models.AgentResponse, models.AgentType, bool) {
	entry, ok := c.lru.Get(key)
	if !ok {
		return nil, "", false
	}

	c.mu.Lock()
	c.hits[entry.agentType]++
	c.mu.Unlock()

	out := cloneResponse(entry.resp)
	return &out, entry.agentType, true
}

// Put records the lookup miss that preceded this execution and stores the
// response if it is successful and not degraded.
func (c *ResponseCache) Put(key uint64, t models.AgentType, resp *models.AgentResponse) {
	c.mu.Lock()
	c.misses[t]++
	c.mu.Unlock()

	if resp == nil || !resp.Success || resp.Degraded() {
		return
	}
	c.lru.Add(key, cacheEntry{resp: cloneResponse(*resp), agentType: t})
}

// cloneResponse copies a response with fresh Metadata and Data maps so
// cached entries never share mutable state with callers.
func cloneResponse(resp models.AgentResponse) models.AgentResponse {
	out := resp
	if resp.Metadata != nil {
		out.Metadata = make(map[string]interface{}, len(resp.Metadata))
		for k, v := range resp.Metadata {
			out.Metadata[k] = v
		}
	}
	if resp.Data != nil {
		out.Data = make(map[string]interface{}, len(resp.Data))
		for k, v := range resp.Data {
			out.Data[k] = v
		}
	}
	return out
}

// HitRate returns the cache hit rate for one agent type, or 0 with no data.
func (c *ResponseCache) HitRate(t models.AgentType) float64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := c.hits[t] + c.misses[t]
	if total == 0 {
		return 0
	}
	return float64(c.hits[t]) / float64(total)
}

// Len returns the number of live entries.
func (c *ResponseCache) Len() int { return c.lru.Len() }

// Purge drops every cached entry and resets hit counters.
func (c *ResponseCache) Purge() {
	c.lru.Purge()
	c.mu.Lock()
	c.hits = make(map[models.AgentType]int64)
	c.misses = make(map[models.AgentType]int64)
	c.mu.Unlock()
}
