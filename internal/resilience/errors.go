// Package resilience provides error classification, per-agent circuit
// breakers, and the resilient execution service: retries with backoff,
// fallback chains, and graceful degradation.
package resilience

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/agentrelay/agentrelay/pkg/models"
)

// maxRecordedErrors bounds the per-type error history.
const maxRecordedErrors = 100

// categoryRule maps message substrings to an error category. Rules are
// checked in order; the first hit wins.
type categoryRule struct {
	category models.ErrorCategory
	terms    []string
}

var categoryRules = []categoryRule{
	{models.ErrCategoryRateLimited, []string{"rate limit", "too many requests", "429"}},
	{models.ErrCategoryTimeout, []string{"timed out", "timeout", "deadline exceeded"}},
	{models.ErrCategoryAuth, []string{"unauthorized", "invalid api key", "authentication", "401"}},
	{models.ErrCategoryAuthz, []string{"forbidden", "permission denied", "403"}},
	{models.ErrCategoryUnavailable, []string{"unavailable", "connection refused", "no such host", "503"}},
	{models.ErrCategoryResourceExhausted, []string{"quota", "out of memory", "resource exhausted", "pool at maximum"}},
	{models.ErrCategoryConfig, []string{"not registered", "not configured", "no model client", "missing configuration"}},
	{models.ErrCategoryInvalidRequest, []string{"invalid request", "bad request", "400"}},
	{models.ErrCategoryInvalidResponse, []string{"invalid response", "unmarshal", "unexpected end of json", "malformed"}},
	{models.ErrCategoryNetwork, []string{"network", "connection reset", "broken pipe", "eof"}},
	{models.ErrCategoryService, []string{"internal server error", "bad gateway", "500", "502"}},
	{models.ErrCategoryValidation, []string{"validation"}},
}

var categorySeverity = map[models.ErrorCategory]models.ErrorSeverity{
	models.ErrCategoryUnavailable:       models.SeverityHigh,
	models.ErrCategoryAuth:              models.SeverityCritical,
	models.ErrCategoryAuthz:             models.SeverityHigh,
	models.ErrCategoryRateLimited:       models.SeverityMedium,
	models.ErrCategoryTimeout:           models.SeverityMedium,
	models.ErrCategoryInvalidRequest:    models.SeverityLow,
	models.ErrCategoryInvalidResponse:   models.SeverityMedium,
	models.ErrCategoryNetwork:           models.SeverityMedium,
	models.ErrCategoryService:           models.SeverityHigh,
	models.ErrCategoryResourceExhausted: models.SeverityHigh,
	models.ErrCategoryConfig:            models.SeverityCritical,
	models.ErrCategoryValidation:        models.SeverityLow,
	models.ErrCategoryUnknown:           models.SeverityMedium,
}

var retryableCategories = map[models.ErrorCategory]bool{
	models.ErrCategoryUnavailable:       true,
	models.ErrCategoryRateLimited:       true,
	models.ErrCategoryTimeout:           true,
	models.ErrCategoryNetwork:           true,
	models.ErrCategoryService:           true,
	models.ErrCategoryResourceExhausted: true,
}

// categoryStrategies maps each error category to the recovery strategies
// worth attempting for it, in preference order.
var categoryStrategies = map[models.ErrorCategory][]models.RecoveryStrategy{
	models.ErrCategoryUnavailable:       {models.RecoveryAgentSwitch, models.RecoveryCachedResponse, models.RecoveryFeatureDegradation, models.RecoveryGracefulFailure},
	models.ErrCategoryTimeout:           {models.RecoveryAgentSwitch, models.RecoveryCachedResponse, models.RecoveryGracefulFailure},
	models.ErrCategoryRateLimited:       {models.RecoveryCachedResponse, models.RecoveryAgentSwitch, models.RecoveryGracefulFailure},
	models.ErrCategoryNetwork:           {models.RecoveryAgentSwitch, models.RecoveryCachedResponse, models.RecoveryGracefulFailure},
	models.ErrCategoryService:           {models.RecoveryAgentSwitch, models.RecoveryCachedResponse, models.RecoveryFeatureDegradation, models.RecoveryGracefulFailure},
	models.ErrCategoryInvalidResponse:   {models.RecoveryAgentSwitch, models.RecoveryGracefulFailure},
	models.ErrCategoryResourceExhausted: {models.RecoveryCachedResponse, models.RecoveryFeatureDegradation, models.RecoveryGracefulFailure},
	models.ErrCategoryAuth:              {models.RecoveryGracefulFailure},
	models.ErrCategoryAuthz:             {models.RecoveryGracefulFailure},
	models.ErrCategoryConfig:            {models.RecoveryGracefulFailure},
	models.ErrCategoryInvalidRequest:    {models.RecoveryGracefulFailure},
	models.ErrCategoryValidation:        {models.RecoveryGracefulFailure},
	models.ErrCategoryUnknown:           {models.RecoveryAgentSwitch, models.RecoveryGracefulFailure},
}

// Classify turns any error from an agent execution into a structured
// AgentError. Existing AgentErrors pass through with missing fields filled.
func Classify(err error, t models.AgentType) *models.AgentError {
	var agentErr *models.AgentError
	if errors.As(err, &agentErr) {
		if agentErr.AgentType == "" {
			agentErr.AgentType = t
		}
		if agentErr.ID == "" {
			agentErr.ID = uuid.New().String()
		}
		return agentErr
	}

	category := models.ErrCategoryUnknown
	if errors.Is(err, context.DeadlineExceeded) {
		category = models.ErrCategoryTimeout
	} else {
		msg := strings.ToLower(err.Error())
		for _, rule := range categoryRules {
			for _, term := range rule.terms {
				if strings.Contains(msg, term) {
					category = rule.category
					break
				}
			}
			if category != models.ErrCategoryUnknown {
				break
			}
		}
	}

	out := &models.AgentError{
		ID:        uuid.New().String(),
		Code:      errorCode(category),
		Category:  category,
		Severity:  categorySeverity[category],
		Retryable: retryableCategories[category],
		AgentType: t,
		Message:   err.Error(),
		Timestamp: time.Now().UTC(),
	}
	if category == models.ErrCategoryRateLimited {
		out.RetryAfterSec = 30
	}
	return out
}

func errorCode(c models.ErrorCategory) string {
	return "AGENT_" + strings.ToUpper(strings.ReplaceAll(string(c), "-", "_"))
}

// StrategiesFor returns the recovery strategies applicable to a category,
// in preference order.
func StrategiesFor(c models.ErrorCategory) []models.RecoveryStrategy {
	if s, ok := categoryStrategies[c]; ok {
		return s
	}
	return categoryStrategies[models.ErrCategoryUnknown]
}

// ── Error Recording ─────────────────────────────────────────

// Recorder keeps the recent error history per agent type for statistics
// and the error reporting endpoint.
type Recorder struct {
	mu      sync.RWMutex
	records map[models.AgentType][]models.AgentError
}

// NewRecorder creates an empty error recorder.
func NewRecorder() *Recorder {
	return &Recorder{records: make(map[models.AgentType][]models.AgentError)}
}

// Record appends an error to its type's history, evicting the oldest entry
// past the cap.
func (r *Recorder) Record(e *models.AgentError) {
	if e == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	history := append(r.records[e.AgentType], *e)
	if len(history) > maxRecordedErrors {
		history = history[len(history)-maxRecordedErrors:]
	}
	r.records[e.AgentType] = history
}

// Statistics aggregates errors recorded within the window.
func (r *Recorder) Statistics(window time.Duration) models.ErrorStatistics {
	cutoff := time.Now().UTC().Add(-window)

	stats := models.ErrorStatistics{
		Window:     window,
		ByCategory: make(map[models.ErrorCategory]int),
		ByAgent:    make(map[models.AgentType]int),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	for t, history := range r.records {
		for _, e := range history {
			if e.Timestamp.Before(cutoff) {
				continue
			}
			stats.Total++
			stats.ByCategory[e.Category]++
			stats.ByAgent[t]++
		}
	}
	return stats
}

// Recent returns up to n most recent errors for one agent type, newest last.
func (r *Recorder) Recent(t models.AgentType, n int) []models.AgentError {
	r.mu.RLock()
	defer r.mu.RUnlock()
	history := r.records[t]
	if n <= 0 || n > len(history) {
		n = len(history)
	}
	out := make([]models.AgentError, n)
	copy(out, history[len(history)-n:])
	return out
}
