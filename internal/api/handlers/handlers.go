// Package handlers implements the HTTP handlers for the AgentRelay server:
// request processing, intent analysis, agent registry management, breaker
// and error observability, and performance tuning endpoints.
package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/agentrelay/agentrelay/internal/agent"
	"github.com/agentrelay/agentrelay/internal/api/middleware"
	"github.com/agentrelay/agentrelay/internal/intent"
	"github.com/agentrelay/agentrelay/internal/perf"
	"github.com/agentrelay/agentrelay/internal/pipeline"
	"github.com/agentrelay/agentrelay/internal/resilience"
	"github.com/agentrelay/agentrelay/pkg/models"
)

// defaultErrorWindow is the reporting window when the errors endpoint gets
// no explicit one.
const defaultErrorWindow = time.Hour

// Handlers holds all handler dependencies.
type Handlers struct {
	Pipeline *pipeline.Pipeline
	Engine   *intent.Engine
	Registry *agent.Registry
	Service  *resilience.Service
	Cache    *perf.ResponseCache
	Tracker  *perf.Tracker
}

// New creates a Handlers instance with all dependencies.
func New(p *pipeline.Pipeline, e *intent.Engine, r *agent.Registry, s *resilience.Service, c *perf.ResponseCache, t *perf.Tracker) *Handlers {
	return &Handlers{
		Pipeline: p,
		Engine:   e,
		Registry: r,
		Service:  s,
		Cache:    c,
		Tracker:  t,
	}
}

// ── Request Processing ──────────────────────────────────────

// ProcessRequest runs one conversation request through the pipeline.
func (h *Handlers) ProcessRequest(w http.ResponseWriter, r *http.Request) {
	var req models.ConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	identity := middleware.GetIdentity(r.Context())
	result := h.Pipeline.Process(r.Context(), identity, req)

	status := http.StatusOK
	if result.Error != nil && result.Response == nil {
		switch result.Error.Category {
		case models.ErrCategoryInvalidRequest, models.ErrCategoryValidation:
			status = http.StatusBadRequest
		case models.ErrCategoryTimeout:
			status = http.StatusGatewayTimeout
		case models.ErrCategoryUnavailable:
			status = http.StatusServiceUnavailable
		default:
			status = http.StatusBadGateway
		}
	}
	respondJSON(w, status, result)
}

// AnalyzeIntent classifies a query without executing anything.
func (h *Handlers) AnalyzeIntent(w http.ResponseWriter, r *http.Request) {
	var req models.ConversationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Query == "" {
		respondError(w, http.StatusBadRequest, "query must not be empty")
		return
	}

	identity := middleware.GetIdentity(r.Context())
	locale := req.Locale
	if locale == "" {
		locale = identity.Locale
	}

	result := h.Engine.Classify(r.Context(), intent.Input{
		Query:       req.Query,
		Locale:      locale,
		History:     req.History,
		Preferences: req.Preferences,
	})
	respondJSON(w, http.StatusOK, result)
}

// ── Agent Registry ──────────────────────────────────────────

// ListAgents returns every registry entry with live usage stats.
func (h *Handlers) ListAgents(w http.ResponseWriter, r *http.Request) {
	entries := h.Registry.List()
	if entries == nil {
		entries = []models.RegistryEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// GetAgent returns one registry entry.
func (h *Handlers) GetAgent(w http.ResponseWriter, r *http.Request) {
	t, ok := agentTypeParam(w, r)
	if !ok {
		return
	}
	entry, found := h.Registry.Entry(t)
	if !found {
		respondError(w, http.StatusNotFound, "agent type not registered")
		return
	}
	respondJSON(w, http.StatusOK, entry)
}

// DiscoverAgents filters registry entries by tags, model, and enablement.
func (h *Handlers) DiscoverAgents(w http.ResponseWriter, r *http.Request) {
	filter := agent.DiscoverFilter{
		Model: r.URL.Query().Get("model"),
	}
	if tags := r.URL.Query()["tag"]; len(tags) > 0 {
		filter.Tags = tags
	}
	if v := r.URL.Query().Get("enabled"); v != "" {
		enabled, err := strconv.ParseBool(v)
		if err != nil {
			respondError(w, http.StatusBadRequest, "enabled must be a boolean")
			return
		}
		filter.Enabled = &enabled
	}

	entries := h.Registry.Discover(filter)
	if entries == nil {
		entries = []models.RegistryEntry{}
	}
	respondJSON(w, http.StatusOK, entries)
}

// SetAgentEnabled toggles one agent type.
func (h *Handlers) SetAgentEnabled(w http.ResponseWriter, r *http.Request) {
	t, ok := agentTypeParam(w, r)
	if !ok {
		return
	}

	var body struct {
		Enabled *bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Enabled == nil {
		respondError(w, http.StatusBadRequest, "body must include enabled")
		return
	}

	if !h.Registry.SetEnabled(t, *body.Enabled) {
		respondError(w, http.StatusNotFound, "agent type not registered")
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{"type": t, "enabled": *body.Enabled})
}

// SetAgentPriority updates one type's recommendation priority.
func (h *Handlers) SetAgentPriority(w http.ResponseWriter, r *http.Request) {
	t, ok := agentTypeParam(w, r)
	if !ok {
		return
	}

	var body struct {
		Priority *int `json:"priority"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Priority == nil {
		respondError(w, http.StatusBadRequest, "body must include priority")
		return
	}

	if !h.Registry.SetPriority(t, *body.Priority) {
		respondError(w, http.StatusNotFound, "agent type not registered")
		return
	}
	entry, _ := h.Registry.Entry(t)
	respondJSON(w, http.StatusOK, map[string]interface{}{"type": t, "priority": entry.Priority})
}

// RecommendAgents scores enabled agents for a free-text query.
func (h *Handlers) RecommendAgents(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query().Get("query")
	if query == "" {
		respondError(w, http.StatusBadRequest, "query parameter is required")
		return
	}
	limit := 3
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	respondJSON(w, http.StatusOK, h.Registry.Recommend(query, limit))
}

// ── Health ──────────────────────────────────────────────────

// AgentHealth runs the health battery for one agent type.
func (h *Handlers) AgentHealth(w http.ResponseWriter, r *http.Request) {
	t, ok := agentTypeParam(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, h.Registry.HealthCheck(t))
}

// AllAgentHealth runs the health battery for every registered type.
func (h *Handlers) AllAgentHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, h.Registry.HealthCheckAll())
}

// ── Resilience ──────────────────────────────────────────────

// ListBreakers returns every circuit breaker snapshot.
func (h *Handlers) ListBreakers(w http.ResponseWriter, r *http.Request) {
	status := h.Service.Breakers().Status()
	if status == nil {
		status = []models.CircuitBreakerStatus{}
	}
	respondJSON(w, http.StatusOK, status)
}

// ResetBreaker forces one breaker back to closed.
func (h *Handlers) ResetBreaker(w http.ResponseWriter, r *http.Request) {
	t, ok := agentTypeParam(w, r)
	if !ok {
		return
	}
	h.Service.Breakers().Reset(t)
	log.Info().Str("type", string(t)).Msg("Breaker reset via API")
	respondJSON(w, http.StatusOK, map[string]interface{}{"type": t, "state": h.Service.Breakers().State(t)})
}

// GetFallbackStrategy returns one type's configured fallback strategy.
func (h *Handlers) GetFallbackStrategy(w http.ResponseWriter, r *http.Request) {
	t, ok := agentTypeParam(w, r)
	if !ok {
		return
	}
	respondJSON(w, http.StatusOK, h.Service.Strategy(t))
}

// SetFallbackStrategy replaces one type's fallback strategy.
func (h *Handlers) SetFallbackStrategy(w http.ResponseWriter, r *http.Request) {
	t, ok := agentTypeParam(w, r)
	if !ok {
		return
	}

	var strategy models.FallbackStrategy
	if err := json.NewDecoder(r.Body).Decode(&strategy); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	for _, ft := range strategy.Chain {
		if !ft.Valid() {
			respondError(w, http.StatusBadRequest, "unknown agent type in chain: "+string(ft))
			return
		}
	}

	h.Service.ConfigureStrategy(t, strategy)
	respondJSON(w, http.StatusOK, strategy)
}

// ErrorStatistics aggregates recent errors, optionally over ?window=30m.
func (h *Handlers) ErrorStatistics(w http.ResponseWriter, r *http.Request) {
	window := defaultErrorWindow
	if v := r.URL.Query().Get("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			respondError(w, http.StatusBadRequest, "window must be a positive duration")
			return
		}
		window = d
	}
	respondJSON(w, http.StatusOK, h.Service.Recorder().Statistics(window))
}

// RecentErrors returns the recent error history for one agent type.
func (h *Handlers) RecentErrors(w http.ResponseWriter, r *http.Request) {
	t, ok := agentTypeParam(w, r)
	if !ok {
		return
	}
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	errors := h.Service.Recorder().Recent(t, limit)
	if errors == nil {
		errors = []models.AgentError{}
	}
	respondJSON(w, http.StatusOK, errors)
}

// ── Performance ─────────────────────────────────────────────

// AgentMetrics returns rolling metrics for every active agent type.
func (h *Handlers) AgentMetrics(w http.ResponseWriter, r *http.Request) {
	metrics := h.Tracker.All()
	if metrics == nil {
		metrics = []models.AgentMetrics{}
	}
	respondJSON(w, http.StatusOK, metrics)
}

// OptimizationRecommendations suggests tuning actions from rolling metrics.
func (h *Handlers) OptimizationRecommendations(w http.ResponseWriter, r *http.Request) {
	recs := h.Tracker.Recommendations()
	if recs == nil {
		recs = []models.OptimizationRecommendation{}
	}
	respondJSON(w, http.StatusOK, recs)
}

// PurgeCache drops every cached response.
func (h *Handlers) PurgeCache(w http.ResponseWriter, r *http.Request) {
	h.Cache.Purge()
	log.Info().Msg("Response cache purged via API")
	respondJSON(w, http.StatusOK, map[string]string{"status": "purged"})
}

// ── Helpers ─────────────────────────────────────────────────

func agentTypeParam(w http.ResponseWriter, r *http.Request) (models.AgentType, bool) {
	t := models.AgentType(chi.URLParam(r, "agentType"))
	if !t.Valid() {
		respondError(w, http.StatusBadRequest, "unknown agent type: "+string(t))
		return "", false
	}
	return t, true
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
