// Package intent decides which agent type should handle a query.
//
// Classification flow:
//
//	validate → cache lookup → language detection →
//	AI classifier (if available and confident) → heuristic scoring →
//	boosts + user-exclusion penalties → blend → cache
//
// Classification never aborts the caller's pipeline: any internal failure
// yields a low-confidence default-agent result instead of an error.
package intent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentrelay/agentrelay/internal/llm"
	"github.com/agentrelay/agentrelay/internal/params"
	"github.com/agentrelay/agentrelay/pkg/models"
)

// BlendWeights recombine AI and heuristic signals into the final confidence.
// This blend is the only place confidence is revised after its initial
// computation.
type BlendWeights struct {
	AI         float64
	Pattern    float64
	Keyword    float64
	History    float64
	Context    float64
	Preference float64
}

// Config holds the tunable classification constants. The boost and penalty
// values are empirically tuned; they are configuration, not invariants.
type Config struct {
	ConfidenceThreshold float64 // accept AI result at or above this
	URLBoost            float64 // floor for url-pull when a URL is present
	CodeBoost           float64 // floor for code-interpreter on fenced code
	TimeSensitiveBoost  float64 // added to web-search on time-sensitive phrasing
	ExclusionPenalty    float64 // subtracted when the user excludes a type
	ExclusionFloor      float64 // minimum score after an exclusion penalty
	MinHeuristicScore   float64 // below this the default agent wins
	FallbackConfidence  float64 // confidence of the internal-failure result
	QueryWarnLength     int     // warn above this many characters
	CacheTTL            time.Duration
	CacheSize           int
	Blend               BlendWeights
}

// DefaultConfig returns the stock classification constants.
func DefaultConfig() Config {
	return Config{
		ConfidenceThreshold: 0.7,
		URLBoost:            0.9,
		CodeBoost:           0.85,
		TimeSensitiveBoost:  0.2,
		ExclusionPenalty:    0.9,
		ExclusionFloor:      0.05,
		MinHeuristicScore:   0.25,
		FallbackConfidence:  0.3,
		QueryWarnLength:     10000,
		CacheTTL:            time.Hour,
		CacheSize:           1000,
		Blend: BlendWeights{
			AI:         0.40,
			Pattern:    0.25,
			Keyword:    0.15,
			History:    0.10,
			Context:    0.05,
			Preference: 0.05,
		},
	}
}

// Input is one classification request.
type Input struct {
	Query       string
	Locale      string
	History     []models.ChatMessage
	Preferences map[string]string
}

// Engine is the intent classification engine. Safe for concurrent use.
type Engine struct {
	cfg        Config
	profiles   map[models.AgentType]*typeProfile
	cache      *analysisCache
	classifier llm.StructuredClient // optional; nil disables the AI path

	history *successTracker
}

// NewEngine creates a classification engine. classifier may be nil, in which
// case only heuristic analysis runs.
func NewEngine(cfg Config, classifier llm.StructuredClient) *Engine {
	return &Engine{
		cfg:        cfg,
		profiles:   defaultProfiles(),
		cache:      newAnalysisCache(cfg.CacheSize, cfg.CacheTTL),
		classifier: classifier,
		history:    newSuccessTracker(),
	}
}

// RecordOutcome feeds an execution outcome back into the historical-success
// component of the confidence blend.
func (e *Engine) RecordOutcome(t models.AgentType, success bool) {
	e.history.record(t, success)
}

// Classify decides which agent type should handle the query. It never
// returns an error; internal failures produce a low-confidence
// default-agent result.
func (e *Engine) Classify(ctx context.Context, in Input) (result *models.IntentAnalysisResult) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("Intent classification panicked, using default agent")
			result = e.fallbackResult(in.Locale, fmt.Sprintf("internal error: %v", r))
			result.ProcessingTime = time.Since(start)
		}
	}()

	query := strings.TrimSpace(in.Query)
	if query == "" {
		return e.fallbackResult(in.Locale, "empty query")
	}
	if len(query) > e.cfg.QueryWarnLength {
		log.Warn().Int("length", len(query)).Msg("Query exceeds recommended classification length")
	}

	locale := detectLanguage(query, in.Locale)

	key := e.cache.key(query, locale, in.Preferences)
	if cached, ok := e.cache.get(key); ok {
		return cached
	}

	heur := e.analyzeHeuristic(query)

	// AI path: accepted only when the classifier is confident and the user
	// has not explicitly excluded its recommendation. Any failure falls
	// through to heuristics.
	if e.classifier != nil {
		if ai, err := e.classifyAI(ctx, query, locale); err != nil {
			log.Debug().Err(err).Msg("AI classification failed, falling back to heuristics")
		} else if ai.Confidence >= e.cfg.ConfidenceThreshold && ai.Type.Valid() && !heur.excluded[ai.Type] {
			result = e.buildResult(ai.Type, e.blend(ai, heur, in), heur, in, models.MethodAI,
				fmt.Sprintf("ai: %s; %s", ai.Reasoning, heur.reasoning()))
			result.Complexity = ai.Complexity
			result.TimeSensitive = result.TimeSensitive || ai.TimeSensitive
			result.Locale = locale
			result.ProcessingTime = time.Since(start)
			e.cache.put(key, result)
			return result
		}
	}

	winner, score := heur.winner(e.cfg.MinHeuristicScore)
	confidence := score
	if winner == models.DefaultAgentType && score < e.cfg.FallbackConfidence {
		confidence = e.cfg.FallbackConfidence
	}
	result = e.buildResult(winner, confidence, heur, in, models.MethodHeuristic, heur.reasoning())
	result.Locale = locale
	result.ProcessingTime = time.Since(start)
	e.cache.put(key, result)
	return result
}

// ── Heuristic Analysis ──────────────────────────────────────

type typeScore struct {
	pattern float64
	keyword float64
	total   float64
}

type heuristicAnalysis struct {
	scores        map[models.AgentType]typeScore
	excluded      map[models.AgentType]bool
	timeSensitive bool
	boosts        []string
}

func (e *Engine) analyzeHeuristic(query string) *heuristicAnalysis {
	h := &heuristicAnalysis{
		scores:        make(map[models.AgentType]typeScore, len(e.profiles)),
		excluded:      excludedTypes(query),
		timeSensitive: isTimeSensitive(query),
	}

	for t, profile := range e.profiles {
		pat, kw := profile.score(query)
		h.scores[t] = typeScore{pattern: pat, keyword: kw, total: clamp01(pat + kw)}
	}

	// Agent-specific boosts.
	if params.HasURL(query) {
		s := h.scores[models.AgentURLPull]
		if s.total < e.cfg.URLBoost {
			s.total = e.cfg.URLBoost
		}
		h.scores[models.AgentURLPull] = s
		h.boosts = append(h.boosts, "url")
	}
	if params.HasFencedCode(query) {
		s := h.scores[models.AgentCodeInterpreter]
		if s.total < e.cfg.CodeBoost {
			s.total = e.cfg.CodeBoost
		}
		h.scores[models.AgentCodeInterpreter] = s
		h.boosts = append(h.boosts, "code-block")
	}
	if h.timeSensitive {
		s := h.scores[models.AgentWebSearch]
		s.total = clamp01(s.total + e.cfg.TimeSensitiveBoost)
		h.scores[models.AgentWebSearch] = s
		h.boosts = append(h.boosts, "time-sensitive")
	}

	// User-exclusion penalties apply last, regardless of other signals.
	for t := range h.excluded {
		s := h.scores[t]
		s.total -= e.cfg.ExclusionPenalty
		if s.total < e.cfg.ExclusionFloor {
			s.total = e.cfg.ExclusionFloor
		}
		h.scores[t] = s
	}

	return h
}

// winner picks the highest-scoring type. Ties, and anything below the
// minimum score, go to the default agent.
func (h *heuristicAnalysis) winner(minScore float64) (models.AgentType, float64) {
	best := models.DefaultAgentType
	bestScore := h.scores[models.DefaultAgentType].total

	for _, t := range models.AllAgentTypes() {
		s := h.scores[t].total
		if s > bestScore+1e-9 {
			best, bestScore = t, s
		}
	}
	if bestScore < minScore {
		return models.DefaultAgentType, h.scores[models.DefaultAgentType].total
	}
	return best, bestScore
}

func (h *heuristicAnalysis) alternatives(winner models.AgentType, n int) []models.RankedIntent {
	ranked := make([]models.RankedIntent, 0, len(h.scores))
	for t, s := range h.scores {
		if t == winner || s.total <= 0 {
			continue
		}
		ranked = append(ranked, models.RankedIntent{Type: t, Score: s.total})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].Score > ranked[j].Score })
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func (h *heuristicAnalysis) reasoning() string {
	var parts []string
	if len(h.boosts) > 0 {
		parts = append(parts, "boosts: "+strings.Join(h.boosts, ","))
	}
	if len(h.excluded) > 0 {
		var ex []string
		for t := range h.excluded {
			ex = append(ex, string(t))
		}
		sort.Strings(ex)
		parts = append(parts, "excluded: "+strings.Join(ex, ","))
	}
	if len(parts) == 0 {
		return "heuristic pattern/keyword scoring"
	}
	return "heuristic scoring; " + strings.Join(parts, "; ")
}

// ── AI Classification ───────────────────────────────────────

type aiClassification struct {
	Type          models.AgentType
	Confidence    float64
	Reasoning     string
	Complexity    string
	TimeSensitive bool
}

const classificationSystemPrompt = `You route user requests to specialized agents.
Pick the single best agent type for the request and respond with JSON only.`

func classificationSchema() map[string]interface{} {
	types := models.AllAgentTypes()
	enum := make([]interface{}, len(types))
	for i, t := range types {
		enum[i] = string(t)
	}
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"agent_type":     map[string]interface{}{"type": "string", "enum": enum},
			"confidence":     map[string]interface{}{"type": "number", "minimum": 0, "maximum": 1},
			"reasoning":      map[string]interface{}{"type": "string"},
			"complexity":     map[string]interface{}{"type": "string", "enum": []interface{}{"simple", "moderate", "complex"}},
			"time_sensitive": map[string]interface{}{"type": "boolean"},
		},
		"required":             []interface{}{"agent_type", "confidence", "reasoning", "complexity", "time_sensitive"},
		"additionalProperties": false,
	}
}

func (e *Engine) classifyAI(ctx context.Context, query, locale string) (*aiClassification, error) {
	userPrompt := fmt.Sprintf("Locale: %s\nRequest: %s", locale, query)
	raw, err := e.classifier.Classify(ctx, classificationSystemPrompt, userPrompt, classificationSchema())
	if err != nil {
		return nil, err
	}

	var parsed struct {
		AgentType     string  `json:"agent_type"`
		Confidence    float64 `json:"confidence"`
		Reasoning     string  `json:"reasoning"`
		Complexity    string  `json:"complexity"`
		TimeSensitive bool    `json:"time_sensitive"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, fmt.Errorf("parse classification: %w", err)
	}

	return &aiClassification{
		Type:          models.AgentType(parsed.AgentType),
		Confidence:    parsed.Confidence,
		Reasoning:     parsed.Reasoning,
		Complexity:    parsed.Complexity,
		TimeSensitive: parsed.TimeSensitive,
	}, nil
}

// blend recombines the AI confidence with heuristic components using the
// configured weights.
func (e *Engine) blend(ai *aiClassification, heur *heuristicAnalysis, in Input) float64 {
	w := e.cfg.Blend
	s := heur.scores[ai.Type]

	patNorm := 0.0
	kwNorm := 0.0
	if p := e.profiles[ai.Type]; p != nil {
		if p.PatternCap > 0 {
			patNorm = s.pattern / p.PatternCap
		}
		if p.KeywordCap > 0 {
			kwNorm = s.keyword / p.KeywordCap
		}
	}

	pref := 0.5
	if in.Preferences != nil && in.Preferences["preferred_agent"] == string(ai.Type) {
		pref = 1.0
	}

	blended := w.AI*ai.Confidence +
		w.Pattern*patNorm +
		w.Keyword*kwNorm +
		w.History*e.history.rate(ai.Type) +
		w.Context*contextSimilarity(in.Query, in.History) +
		w.Preference*pref
	return clamp01(blended)
}

// ── Result Construction ─────────────────────────────────────

func (e *Engine) buildResult(winner models.AgentType, confidence float64, heur *heuristicAnalysis, in Input, method models.AnalysisMethod, reasoning string) *models.IntentAnalysisResult {
	return &models.IntentAnalysisResult{
		Recommended:   winner,
		Confidence:    clamp01(confidence),
		Alternatives:  heur.alternatives(winner, 3),
		Parameters:    params.Extract(winner, in.Query, nil, nil),
		Reasoning:     reasoning,
		Method:        method,
		TimeSensitive: heur.timeSensitive,
	}
}

func (e *Engine) fallbackResult(locale, reason string) *models.IntentAnalysisResult {
	return &models.IntentAnalysisResult{
		Recommended: models.DefaultAgentType,
		Confidence:  e.cfg.FallbackConfidence,
		Reasoning:   reason,
		Method:      models.MethodHeuristic,
		Locale:      normalizeLocale(localeOrDefault(locale)),
	}
}

func localeOrDefault(locale string) string {
	if locale == "" {
		return "en"
	}
	return locale
}

// contextSimilarity is a cheap word-overlap measure between the query and
// recent user messages, feeding the smallest blend component.
func contextSimilarity(query string, history []models.ChatMessage) float64 {
	if len(history) == 0 {
		return 0
	}
	queryWords := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(query)) {
		if len(w) > 3 {
			queryWords[w] = true
		}
	}
	if len(queryWords) == 0 {
		return 0
	}

	overlap := 0
	n := len(history)
	if n > 5 {
		history = history[n-5:]
	}
	seen := make(map[string]bool)
	for _, msg := range history {
		for _, w := range strings.Fields(strings.ToLower(msg.Content)) {
			if queryWords[w] && !seen[w] {
				overlap++
				seen[w] = true
			}
		}
	}
	return clamp01(float64(overlap) / float64(len(queryWords)))
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
