package perf

import (
	"testing"
	"time"

	"github.com/agentrelay/agentrelay/pkg/models"
)

func cacheRequest(query string, params map[string]interface{}) models.ConversationRequest {
	return models.ConversationRequest{
		Query:      query,
		Model:      "gpt-4o-mini",
		Locale:     "en-US",
		Parameters: params,
	}
}

func TestRequestKey_Deterministic(t *testing.T) {
	a := cacheRequest("latest news", map[string]interface{}{"count": 5, "freshness": "day"})
	b := cacheRequest("latest news", map[string]interface{}{"freshness": "day", "count": 5})

	if RequestKey(a) != RequestKey(b) {
		t.Error("parameter order must not change the key")
	}
}

func TestRequestKey_DistinguishesRequests(t *testing.T) {
	base := cacheRequest("latest news", nil)

	override := cacheRequest("latest news", nil)
	override.AgentType = models.AgentURLPull
	model := cacheRequest("latest news", nil)
	model.Model = "gpt-4o"
	locale := cacheRequest("latest news", nil)
	locale.Locale = "ja-JP"

	variants := []models.ConversationRequest{
		cacheRequest("older news", nil),
		cacheRequest("latest news", map[string]interface{}{"count": 5}),
		override,
		model,
		locale,
	}
	for i, v := range variants {
		if RequestKey(v) == RequestKey(base) {
			t.Errorf("variant %d collides with base key", i)
		}
	}
}

func TestResponseCache_RoundTrip(t *testing.T) {
	c := NewResponseCache(10, time.Minute)
	key := RequestKey(cacheRequest("latest news", nil))

	if _, _, ok := c.Get(key); ok {
		t.Fatal("empty cache must miss")
	}
	c.Put(key, models.AgentWebSearch, &models.AgentResponse{Content: "headlines", Success: true})

	got, agentType, ok := c.Get(key)
	if !ok {
		t.Fatal("expected hit after Put")
	}
	if got.Content != "headlines" {
		t.Errorf("content = %q", got.Content)
	}
	if agentType != models.AgentWebSearch {
		t.Errorf("agent type = %s, want web-search", agentType)
	}
}

func TestResponseCache_SkipsUncacheableResponses(t *testing.T) {
	c := NewResponseCache(10, time.Minute)
	key := RequestKey(cacheRequest("latest news", nil))

	c.Put(key, models.AgentWebSearch, nil)
	c.Put(key, models.AgentWebSearch, &models.AgentResponse{Content: "failed", Success: false})
	c.Put(key, models.AgentWebSearch, &models.AgentResponse{
		Content:  "degraded notice",
		Success:  true,
		Metadata: map[string]interface{}{"degraded": true},
	})

	if c.Len() != 0 {
		t.Errorf("cache len = %d, want 0", c.Len())
	}
}

func TestResponseCache_HitRate(t *testing.T) {
	c := NewResponseCache(10, time.Minute)
	key := RequestKey(cacheRequest("latest news", nil))

	c.Put(key, models.AgentWebSearch, &models.AgentResponse{Content: "headlines", Success: true}) // the miss that led here
	c.Get(key)                                                                                   // hit
	c.Get(key)                                                                                   // hit

	if got := c.HitRate(models.AgentWebSearch); got < 0.66 || got > 0.67 {
		t.Errorf("hit rate = %f, want 2/3", got)
	}
	if got := c.HitRate(models.AgentTranslation); got != 0 {
		t.Errorf("untouched type hit rate = %f", got)
	}
}

func TestResponseCache_EntriesAreIsolated(t *testing.T) {
	c := NewResponseCache(10, time.Minute)
	key := RequestKey(cacheRequest("latest news", nil))

	stored := &models.AgentResponse{
		Content:  "headlines",
		Success:  true,
		Metadata: map[string]interface{}{"model": "gpt-4o-mini"},
		Data:     map[string]interface{}{"results": "r1"},
	}
	c.Put(key, models.AgentWebSearch, stored)

	// Mutating the original after Put must not reach the cache.
	stored.Metadata["model"] = "tampered"

	first, _, _ := c.Get(key)
	first.Content = "mutated"
	first.Metadata["served_from_cache"] = true
	first.Data["results"] = "overwritten"

	second, _, _ := c.Get(key)
	if second.Content != "headlines" {
		t.Error("cached entry observed content mutation")
	}
	if second.Metadata["model"] != "gpt-4o-mini" {
		t.Errorf("metadata = %v, want original", second.Metadata["model"])
	}
	if _, ok := second.Metadata["served_from_cache"]; ok {
		t.Error("annotation on one served copy leaked into the cache")
	}
	if second.Data["results"] != "r1" {
		t.Errorf("data = %v, want original", second.Data["results"])
	}
}

func TestResponseCache_Purge(t *testing.T) {
	c := NewResponseCache(10, time.Minute)
	key := RequestKey(cacheRequest("latest news", nil))
	c.Put(key, models.AgentWebSearch, &models.AgentResponse{Content: "headlines", Success: true})
	c.Get(key)

	c.Purge()

	if c.Len() != 0 {
		t.Errorf("len = %d after purge", c.Len())
	}
	if got := c.HitRate(models.AgentWebSearch); got != 0 {
		t.Errorf("hit rate = %f after purge, want counters reset", got)
	}
}
