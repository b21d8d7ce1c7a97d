package perf

import (
	"fmt"
	"sync"
	"time"

	"github.com/agentrelay/agentrelay/pkg/models"
)

// Metrics tuning.
const (
	throughputWindow  = 5 * time.Minute
	minTimeout        = 5 * time.Second
	maxTimeout        = 60 * time.Second
	defaultTimeout    = 30 * time.Second
	timeoutMultiplier = 3
)

// Recommendation thresholds.
const (
	slowLatency        = 8 * time.Second
	lowSuccessRate     = 0.8
	lowCacheHitRate    = 0.2
	busyThroughput     = 30.0 // requests/min
	minRecommendSample = 20
)

// typeMetrics is the rolling state for one agent type.
type typeMetrics struct {
	requests   int64
	successes  int64
	avgLatency time.Duration
	recent     []time.Time // request timestamps within the throughput window
}

// Tracker keeps rolling performance metrics per agent type and derives
// timeout and tuning recommendations from them.
type Tracker struct {
	cache *ResponseCache

	mu    sync.Mutex
	types map[models.AgentType]*typeMetrics

	now func() time.Time
}

// NewTracker creates a tracker that reads cache hit rates from cache.
func NewTracker(cache *ResponseCache) *Tracker {
	return &Tracker{
		cache: cache,
		types: make(map[models.AgentType]*typeMetrics),
		now:   time.Now,
	}
}

// Record folds one execution outcome into the type's rolling metrics.
func (tr *Tracker) Record(t models.AgentType, success bool, latency time.Duration) {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	m, ok := tr.types[t]
	if !ok {
		m = &typeMetrics{}
		tr.types[t] = m
	}

	m.requests++
	if success {
		m.successes++
	}
	if m.avgLatency == 0 {
		m.avgLatency = latency
	} else {
		m.avgLatency = (m.avgLatency*7 + latency*3) / 10
	}

	now := tr.now()
	m.recent = append(m.recent, now)
	m.recent = pruneBefore(m.recent, now.Add(-throughputWindow))
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && ts[i].Before(cutoff) {
		i++
	}
	return ts[i:]
}

// Metrics returns the current rolling numbers for one agent type.
func (tr *Tracker) Metrics(t models.AgentType) models.AgentMetrics {
	tr.mu.Lock()
	defer tr.mu.Unlock()

	out := models.AgentMetrics{AgentType: t}
	m, ok := tr.types[t]
	if !ok {
		return out
	}

	out.Requests = m.requests
	out.AvgLatency = m.avgLatency
	if m.requests > 0 {
		out.SuccessRate = float64(m.successes) / float64(m.requests)
	}

	recent := pruneBefore(m.recent, tr.now().Add(-throughputWindow))
	out.Throughput = float64(len(recent)) / throughputWindow.Minutes()

	if tr.cache != nil {
		out.CacheHitRate = tr.cache.HitRate(t)
	}
	return out
}

// All returns metrics for every agent type with recorded traffic.
func (tr *Tracker) All() []models.AgentMetrics {
	var out []models.AgentMetrics
	for _, t := range models.AllAgentTypes() {
		tr.mu.Lock()
		_, ok := tr.types[t]
		tr.mu.Unlock()
		if ok {
			out = append(out, tr.Metrics(t))
		}
	}
	return out
}

// RecommendTimeout derives an execution timeout from observed latency,
// clamped to a sane range. Types without data get the default.
func (tr *Tracker) RecommendTimeout(t models.AgentType) time.Duration {
	tr.mu.Lock()
	m, ok := tr.types[t]
	var avg time.Duration
	if ok {
		avg = m.avgLatency
	}
	tr.mu.Unlock()

	if !ok || avg == 0 {
		return defaultTimeout
	}
	timeout := avg * timeoutMultiplier
	if timeout < minTimeout {
		return minTimeout
	}
	if timeout > maxTimeout {
		return maxTimeout
	}
	return timeout
}

// Recommendations inspects rolling metrics and suggests tuning actions for
// agent types with enough traffic to judge.
func (tr *Tracker) Recommendations() []models.OptimizationRecommendation {
	var out []models.OptimizationRecommendation
	for _, m := range tr.All() {
		if m.Requests < minRecommendSample {
			continue
		}
		if m.AvgLatency > slowLatency {
			out = append(out, models.OptimizationRecommendation{
				AgentType: m.AgentType,
				Action:    "increase_timeout",
				Reason:    fmt.Sprintf("average latency %s exceeds %s", m.AvgLatency.Round(time.Millisecond), slowLatency),
			})
		}
		if m.SuccessRate < lowSuccessRate {
			out = append(out, models.OptimizationRecommendation{
				AgentType: m.AgentType,
				Action:    "review_fallback_chain",
				Reason:    fmt.Sprintf("success rate %.0f%% below %.0f%%", m.SuccessRate*100, lowSuccessRate*100),
			})
		}
		if m.Throughput > busyThroughput && m.CacheHitRate < lowCacheHitRate {
			out = append(out, models.OptimizationRecommendation{
				AgentType: m.AgentType,
				Action:    "expand_response_cache",
				Reason:    fmt.Sprintf("%.0f req/min with %.0f%% cache hit rate", m.Throughput, m.CacheHitRate*100),
			})
		}
	}
	return out
}
