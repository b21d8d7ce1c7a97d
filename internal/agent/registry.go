package agent

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentrelay/agentrelay/pkg/models"
)

// Recommendation scoring weights. Distinct from intent classification: the
// registry suggests the best operational agent for a query, the classifier
// decides what the query means.
const (
	weightCapabilityMatch = 0.30
	weightSuccessRate     = 0.25
	weightPopularity      = 0.15
	weightPriority        = 0.15
	weightLatency         = 0.15
)

// latencyReference normalizes inverse-latency scoring; at or above this
// average latency the latency component is zero.
const latencyReference = 10 * time.Second

// Registry layers operational metadata (version, tags, priority, enablement)
// on top of factory registrations and supports discovery and weighted
// recommendation scoring.
type Registry struct {
	factory *Factory

	mu      sync.RWMutex
	entries map[models.AgentType]*models.RegistryEntry
}

// NewRegistry creates a registry over a factory.
func NewRegistry(f *Factory) *Registry {
	return &Registry{
		factory: f,
		entries: make(map[models.AgentType]*models.RegistryEntry),
	}
}

// Register installs the agent type in the factory and records its metadata.
func (r *Registry) Register(t models.AgentType, ctor Constructor, caps models.AgentCapabilities, version string, priority int) error {
	if err := r.factory.Register(t, ctor, caps); err != nil {
		return err
	}
	if version == "" {
		version = "0.1.0"
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[t] = &models.RegistryEntry{
		Type:         t,
		Version:      version,
		Tags:         caps.Tags,
		Priority:     priority,
		Enabled:      true,
		Capabilities: caps,
	}
	log.Info().Str("type", string(t)).Str("version", version).Int("priority", priority).Msg("Agent registered")
	return nil
}

// Entry returns a snapshot of one registry entry with live usage stats.
func (r *Registry) Entry(t models.AgentType) (models.RegistryEntry, bool) {
	r.mu.RLock()
	e, ok := r.entries[t]
	r.mu.RUnlock()
	if !ok {
		return models.RegistryEntry{}, false
	}
	out := *e
	out.Usage = r.factory.Stats(t)
	return out, true
}

// List returns all entries in enumeration order.
func (r *Registry) List() []models.RegistryEntry {
	var out []models.RegistryEntry
	for _, t := range models.AllAgentTypes() {
		if e, ok := r.Entry(t); ok {
			out = append(out, e)
		}
	}
	return out
}

// SetEnabled toggles an agent type. Disabled types are skipped by agent
// selection and recommendation.
func (r *Registry) SetEnabled(t models.AgentType, enabled bool) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[t]
	if !ok {
		return false
	}
	e.Enabled = enabled
	log.Info().Str("type", string(t)).Bool("enabled", enabled).Msg("Agent enablement changed")
	return true
}

// Enabled reports whether a type is registered and enabled.
func (r *Registry) Enabled(t models.AgentType) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[t]
	return ok && e.Enabled
}

// SetPriority updates the recommendation priority (0–10).
func (r *Registry) SetPriority(t models.AgentType, priority int) bool {
	if priority < 0 {
		priority = 0
	}
	if priority > 10 {
		priority = 10
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[t]
	if !ok {
		return false
	}
	e.Priority = priority
	return true
}

// ── Discovery ───────────────────────────────────────────────

// DiscoverFilter narrows registry listings.
type DiscoverFilter struct {
	Tags    []string
	Model   string
	Enabled *bool
}

// Discover returns the entries matching all provided filters.
func (r *Registry) Discover(filter DiscoverFilter) []models.RegistryEntry {
	var out []models.RegistryEntry
	for _, e := range r.List() {
		if filter.Enabled != nil && e.Enabled != *filter.Enabled {
			continue
		}
		if filter.Model != "" && !supportsModel(e.Capabilities.SupportedModels, filter.Model) {
			continue
		}
		if len(filter.Tags) > 0 && !hasAllTags(e.Tags, filter.Tags) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func supportsModel(supported []string, model string) bool {
	if len(supported) == 0 {
		return true
	}
	for _, m := range supported {
		if m == model {
			return true
		}
	}
	return false
}

func hasAllTags(have, want []string) bool {
	for _, w := range want {
		found := false
		for _, h := range have {
			if strings.EqualFold(h, w) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// ── Recommendation ──────────────────────────────────────────

// Recommendation is one scored suggestion from Recommend.
type Recommendation struct {
	Type  models.AgentType `json:"type"`
	Score float64          `json:"score"`
}

// Recommend scores enabled agents for a free-text query using capability
// match, success rate, popularity, priority, and inverse latency.
func (r *Registry) Recommend(query string, limit int) []Recommendation {
	entries := r.List()

	var maxRequests int64
	for _, e := range entries {
		if e.Usage.Requests > maxRequests {
			maxRequests = e.Usage.Requests
		}
	}

	var recs []Recommendation
	for _, e := range entries {
		if !e.Enabled {
			continue
		}

		popularity := 0.0
		if maxRequests > 0 {
			popularity = float64(e.Usage.Requests) / float64(maxRequests)
		}

		latencyScore := 1.0
		if e.Usage.AvgLatency > 0 {
			latencyScore = 1.0 - float64(e.Usage.AvgLatency)/float64(latencyReference)
			if latencyScore < 0 {
				latencyScore = 0
			}
		}

		score := weightCapabilityMatch*capabilityMatch(query, e.Capabilities) +
			weightSuccessRate*e.Usage.SuccessRate() +
			weightPopularity*popularity +
			weightPriority*float64(e.Priority)/10.0 +
			weightLatency*latencyScore

		recs = append(recs, Recommendation{Type: e.Type, Score: score})
	}

	sort.Slice(recs, func(i, j int) bool { return recs[i].Score > recs[j].Score })
	if limit > 0 && len(recs) > limit {
		recs = recs[:limit]
	}
	return recs
}

// capabilityMatch measures keyword overlap between the query and the
// entry's description and tags.
func capabilityMatch(query string, caps models.AgentCapabilities) float64 {
	lower := strings.ToLower(query)
	terms := append([]string{}, caps.Tags...)
	terms = append(terms, strings.Fields(strings.ToLower(caps.Description))...)
	if len(terms) == 0 {
		return 0
	}

	matched := 0
	for _, term := range terms {
		if len(term) > 3 && strings.Contains(lower, strings.ToLower(term)) {
			matched++
		}
	}
	score := float64(matched) / 4.0
	if score > 1 {
		score = 1
	}
	return score
}
