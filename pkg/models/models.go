// Package models defines the shared data model for the AgentRelay core:
// agent types, execution requests/responses, intent analysis results, the
// execution error taxonomy, circuit breaker state, and pipeline results.
//
// Everything here is in-memory only. No type in this package owns a
// persisted on-disk format; process restart rebuilds all state.
package models

import (
	"time"
)

// ── Agent Type ───────────────────────────────────────────────

// AgentType identifies one of the fixed set of specialized request handlers.
// It is a closed enumeration and is used as a map key throughout the core.
type AgentType string

const (
	AgentWebSearch        AgentType = "web-search"
	AgentCodeInterpreter  AgentType = "code-interpreter"
	AgentURLPull          AgentType = "url-pull"
	AgentLocalKnowledge   AgentType = "local-knowledge"
	AgentStandardChat     AgentType = "standard-chat"
	AgentGeneralReasoning AgentType = "general-reasoning"
	AgentThirdParty       AgentType = "third-party"
	AgentTranslation      AgentType = "translation"
)

// DefaultAgentType is the agent selected when classification cannot decide.
const DefaultAgentType = AgentStandardChat

// AllAgentTypes returns the closed set of agent types in a stable order.
func AllAgentTypes() []AgentType {
	return []AgentType{
		AgentWebSearch,
		AgentCodeInterpreter,
		AgentURLPull,
		AgentLocalKnowledge,
		AgentStandardChat,
		AgentGeneralReasoning,
		AgentThirdParty,
		AgentTranslation,
	}
}

// Valid reports whether t is a member of the closed enumeration.
func (t AgentType) Valid() bool {
	switch t {
	case AgentWebSearch, AgentCodeInterpreter, AgentURLPull, AgentLocalKnowledge,
		AgentStandardChat, AgentGeneralReasoning, AgentThirdParty, AgentTranslation:
		return true
	}
	return false
}

// ── Chat Messages ────────────────────────────────────────────

// ChatMessage is a single message in a conversation history.
type ChatMessage struct {
	Role    string `json:"role"` // "system", "user", "assistant", "tool"
	Content string `json:"content"`
}

// ── Agent Configuration & Execution ──────────────────────────

// AgentConfig is the per-execution configuration for an agent instance.
// Created per request; never persisted beyond the call.
type AgentConfig struct {
	ID           string        `json:"id"`
	Name         string        `json:"name"`
	Type         AgentType     `json:"type"`
	Environment  string        `json:"environment,omitempty"`
	Model        string        `json:"model"`
	Instructions string        `json:"instructions,omitempty"`
	Tools        []string      `json:"tools,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
}

// ExecutionContext carries the user-facing inputs of one execution.
type ExecutionContext struct {
	Query      string                 `json:"query"`
	History    []ChatMessage          `json:"history,omitempty"`
	UserID     string                 `json:"user_id,omitempty"`
	Model      string                 `json:"model,omitempty"`
	Locale     string                 `json:"locale,omitempty"`
	Parameters map[string]interface{} `json:"parameters,omitempty"`
}

// AgentExecutionRequest asks the factory to run one agent.
// Immutable once built; its lifetime is a single pipeline run.
type AgentExecutionRequest struct {
	Type    AgentType        `json:"type"`
	Context ExecutionContext `json:"context"`

	// Config optionally overrides the per-type default configuration.
	Config *AgentConfig `json:"config,omitempty"`
}

// AgentResponse is produced exactly once per execution attempt.
type AgentResponse struct {
	Content  string                 `json:"content"`
	Success  bool                   `json:"success"`
	Data     map[string]interface{} `json:"data,omitempty"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Degraded reports whether this response was synthesized by graceful
// degradation rather than produced by a real agent execution.
func (r *AgentResponse) Degraded() bool {
	if r == nil || r.Metadata == nil {
		return false
	}
	d, _ := r.Metadata["degraded"].(bool)
	return d
}

// ExecutionResult pairs a response with per-attempt accounting from the
// resilience layer.
type ExecutionResult struct {
	Response     *AgentResponse `json:"response,omitempty"`
	AgentType    AgentType      `json:"agent_type"`
	Attempts     int            `json:"attempts"`
	FallbackUsed bool           `json:"fallback_used"`
	Duration     time.Duration  `json:"duration"`
	Error        *AgentError    `json:"error,omitempty"`
}

// ── Intent Analysis ──────────────────────────────────────────

// AnalysisMethod records which strategy produced an intent result.
type AnalysisMethod string

const (
	MethodAI        AnalysisMethod = "ai"
	MethodHeuristic AnalysisMethod = "heuristic"
)

// RankedIntent is one (agent type, score) alternative.
type RankedIntent struct {
	Type  AgentType `json:"type"`
	Score float64   `json:"score"`
}

// IntentAnalysisResult is the outcome of classifying one query.
type IntentAnalysisResult struct {
	Recommended    AgentType              `json:"recommended"`
	Confidence     float64                `json:"confidence"` // 0–1
	Alternatives   []RankedIntent         `json:"alternatives,omitempty"`
	Parameters     map[string]interface{} `json:"parameters,omitempty"`
	Reasoning      string                 `json:"reasoning,omitempty"`
	Method         AnalysisMethod         `json:"method"`
	TimeSensitive  bool                   `json:"time_sensitive"`
	Complexity     string                 `json:"complexity,omitempty"` // "simple", "moderate", "complex"
	ProcessingTime time.Duration          `json:"processing_time"`
	Locale         string                 `json:"locale"`
}

// ── Error Taxonomy ───────────────────────────────────────────

// ErrorCategory classifies an execution failure.
type ErrorCategory string

const (
	ErrCategoryUnavailable       ErrorCategory = "unavailable"
	ErrCategoryAuth              ErrorCategory = "auth"
	ErrCategoryAuthz             ErrorCategory = "authz"
	ErrCategoryRateLimited       ErrorCategory = "rate-limited"
	ErrCategoryTimeout           ErrorCategory = "timeout"
	ErrCategoryInvalidRequest    ErrorCategory = "invalid-request"
	ErrCategoryInvalidResponse   ErrorCategory = "invalid-response"
	ErrCategoryNetwork           ErrorCategory = "network"
	ErrCategoryService           ErrorCategory = "service"
	ErrCategoryResourceExhausted ErrorCategory = "resource-exhausted"
	ErrCategoryConfig            ErrorCategory = "config"
	ErrCategoryValidation        ErrorCategory = "validation"
	ErrCategoryUnknown           ErrorCategory = "unknown"
)

// ErrorSeverity grades how serious a failure is for alerting purposes.
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// AgentError is the classified form of an execution failure. The raw message
// is retained for operators; user-facing text comes from the category.
type AgentError struct {
	ID            string        `json:"id"`
	Code          string        `json:"code"`
	Category      ErrorCategory `json:"category"`
	Severity      ErrorSeverity `json:"severity"`
	Retryable     bool          `json:"retryable"`
	RetryAfterSec int           `json:"retry_after_sec,omitempty"`
	AgentType     AgentType     `json:"agent_type"`
	Message       string        `json:"message"`
	Timestamp     time.Time     `json:"timestamp"`
}

// Error implements the error interface.
func (e *AgentError) Error() string {
	return string(e.Category) + ": " + e.Message
}

// ── Circuit Breaker ──────────────────────────────────────────

// BreakerState is the circuit breaker state for one agent type.
type BreakerState string

const (
	BreakerClosed   BreakerState = "closed"
	BreakerOpen     BreakerState = "open"
	BreakerHalfOpen BreakerState = "half-open"
)

// CircuitBreakerStatus is a point-in-time snapshot for observability.
type CircuitBreakerStatus struct {
	AgentType   AgentType    `json:"agent_type"`
	State       BreakerState `json:"state"`
	Failures    int          `json:"failures"`
	Requests    int          `json:"requests"`
	WindowStart time.Time    `json:"window_start"`
	OpenedAt    time.Time    `json:"opened_at,omitempty"`
}

// ── Fallback Strategy ────────────────────────────────────────

// RecoveryStrategy names one failure-recovery mechanism.
type RecoveryStrategy string

const (
	RecoveryAgentSwitch         RecoveryStrategy = "agent-switch"
	RecoveryCachedResponse      RecoveryStrategy = "cached-response"
	RecoveryFeatureDegradation  RecoveryStrategy = "feature-degradation"
	RecoveryAlternativeWorkflow RecoveryStrategy = "alternative-workflow"
	RecoveryGracefulFailure     RecoveryStrategy = "graceful-failure"
)

// FallbackStrategy configures recovery behavior for one agent type.
type FallbackStrategy struct {
	Chain            []AgentType        `json:"chain"`
	Strategies       []RecoveryStrategy `json:"strategies"`
	DegradedFeatures []string           `json:"degraded_features,omitempty"`
	CacheTTL         time.Duration      `json:"cache_ttl,omitempty"`
	CacheSize        int                `json:"cache_size,omitempty"`
}

// Allows reports whether a recovery strategy is permitted by this config.
func (s *FallbackStrategy) Allows(r RecoveryStrategy) bool {
	for _, x := range s.Strategies {
		if x == r {
			return true
		}
	}
	return false
}

// ── Pipeline ─────────────────────────────────────────────────

// PipelineStage names one stage of the fixed orchestration sequence.
type PipelineStage string

const (
	StageValidation           PipelineStage = "validation"
	StageDeduplication        PipelineStage = "deduplication"
	StageIntentClassification PipelineStage = "intent_classification"
	StageAgentSelection       PipelineStage = "agent_selection"
	StagePrimaryExecution     PipelineStage = "primary_execution"
	StageFallbackExecution    PipelineStage = "fallback_execution"
	StagePostProcessing       PipelineStage = "post_processing"
	StageResultCaching        PipelineStage = "result_caching"
	StageMetricsRecording     PipelineStage = "metrics_recording"
)

// StageResult records the outcome of one pipeline stage.
type StageResult struct {
	Stage    PipelineStage `json:"stage"`
	Success  bool          `json:"success"`
	Skipped  bool          `json:"skipped,omitempty"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// PipelineResult is the unified outcome of one pipeline run. The stage trace
// is always populated in order, success or not.
type PipelineResult struct {
	ID        string                `json:"id"`
	Success   bool                  `json:"success"`
	AgentType AgentType             `json:"agent_type,omitempty"`
	Response  *AgentResponse        `json:"response,omitempty"`
	Intent    *IntentAnalysisResult `json:"intent,omitempty"`
	Stages    []StageResult         `json:"stages"`
	Error     *AgentError           `json:"error,omitempty"`
	Cached    bool                  `json:"cached,omitempty"`
	Duration  time.Duration         `json:"duration"`
	StartedAt time.Time             `json:"started_at"`
}

// ── Conversation Entry Point ─────────────────────────────────

// Identity is the caller's identity and locale, provided by the excluded
// auth/session layer.
type Identity struct {
	UserID string `json:"user_id"`
	Locale string `json:"locale,omitempty"`
}

// ConversationRequest is the body accepted by processRequest.
type ConversationRequest struct {
	Query       string                 `json:"query"`
	History     []ChatMessage          `json:"history,omitempty"`
	Model       string                 `json:"model,omitempty"`
	Locale      string                 `json:"locale,omitempty"`
	AgentType   AgentType              `json:"agent_type,omitempty"` // explicit override, skips classification
	Parameters  map[string]interface{} `json:"parameters,omitempty"`
	Preferences map[string]string      `json:"preferences,omitempty"`
}

// ── Health ───────────────────────────────────────────────────

// HealthState is the aggregated health of one agent type.
type HealthState string

const (
	HealthHealthy   HealthState = "healthy"
	HealthDegraded  HealthState = "degraded"
	HealthUnhealthy HealthState = "unhealthy"
)

// HealthTest is the result of one check in the health battery.
type HealthTest struct {
	Name     string `json:"name"`
	Passed   bool   `json:"passed"`
	Critical bool   `json:"critical"`
	Detail   string `json:"detail,omitempty"`
}

// AgentHealth is the full health report for one agent type.
type AgentHealth struct {
	AgentType   AgentType    `json:"agent_type"`
	State       HealthState  `json:"state"`
	Tests       []HealthTest `json:"tests"`
	SuccessRate float64      `json:"success_rate"`
	AvgLatency  time.Duration `json:"avg_latency"`
	CheckedAt   time.Time    `json:"checked_at"`
}

// ── Registry Metadata ────────────────────────────────────────

// AgentCapabilities describes what an agent type can do; held by the factory
// and consulted by discovery and recommendation scoring.
type AgentCapabilities struct {
	Description     string   `json:"description"`
	Tags            []string `json:"tags,omitempty"`
	SupportedModels []string `json:"supported_models"`
	Batchable       bool     `json:"batchable,omitempty"`
	Streaming       bool     `json:"streaming,omitempty"`
}

// RegistryEntry layers operational metadata on top of a factory registration.
type RegistryEntry struct {
	Type         AgentType         `json:"type"`
	Version      string            `json:"version"`
	Tags         []string          `json:"tags,omitempty"`
	Priority     int               `json:"priority"`
	Enabled      bool              `json:"enabled"`
	Capabilities AgentCapabilities `json:"capabilities"`
	Usage        UsageStats        `json:"usage"`
}

// UsageStats are rolling per-type usage counters.
type UsageStats struct {
	Requests    int64         `json:"requests"`
	Successes   int64         `json:"successes"`
	Failures    int64         `json:"failures"`
	AvgLatency  time.Duration `json:"avg_latency"`
	LastUsed    time.Time     `json:"last_used,omitempty"`
}

// SuccessRate returns successes/requests, or 1.0 with no data.
func (u *UsageStats) SuccessRate() float64 {
	if u.Requests == 0 {
		return 1.0
	}
	return float64(u.Successes) / float64(u.Requests)
}

// ── Error Statistics ─────────────────────────────────────────

// ErrorStatistics summarizes recent failures for the observability surface.
type ErrorStatistics struct {
	Window     time.Duration              `json:"window"`
	Total      int                        `json:"total"`
	ByCategory map[ErrorCategory]int      `json:"by_category"`
	ByAgent    map[AgentType]int          `json:"by_agent"`
	Recent     []AgentError               `json:"recent,omitempty"`
}

// ── Performance Optimization ─────────────────────────────────

// AgentMetrics are rolling performance numbers for one agent type.
type AgentMetrics struct {
	AgentType    AgentType     `json:"agent_type"`
	AvgLatency   time.Duration `json:"avg_latency"` // exponential moving average
	SuccessRate  float64       `json:"success_rate"`
	Throughput   float64       `json:"throughput"` // requests/min over the window
	CacheHitRate float64       `json:"cache_hit_rate"`
	Requests     int64         `json:"requests"`
}

// OptimizationRecommendation is one suggested tuning action.
type OptimizationRecommendation struct {
	AgentType AgentType `json:"agent_type"`
	Action    string    `json:"action"`
	Reason    string    `json:"reason"`
}
