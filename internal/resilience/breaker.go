package resilience

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/agentrelay/agentrelay/pkg/models"
)

// Breaker tuning defaults.
const (
	DefaultFailureThreshold = 5
	DefaultMinRequests      = 10
	DefaultCountingWindow   = 5 * time.Minute
	DefaultRecoveryTimeout  = 60 * time.Second
)

// BreakerConfig tunes the per-type circuit breakers.
type BreakerConfig struct {
	FailureThreshold int
	MinRequests      int
	CountingWindow   time.Duration
	RecoveryTimeout  time.Duration
}

// DefaultBreakerConfig returns the standard breaker tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: DefaultFailureThreshold,
		MinRequests:      DefaultMinRequests,
		CountingWindow:   DefaultCountingWindow,
		RecoveryTimeout:  DefaultRecoveryTimeout,
	}
}

// breaker is the per-agent-type state machine.
type breaker struct {
	state       models.BreakerState
	failures    int
	requests    int
	windowStart time.Time
	openedAt    time.Time
	probing     bool // a half-open probe is in flight
}

// BreakerSet holds one circuit breaker per agent type.
//
// Closed counts failures over a sliding window and opens when the threshold
// is reached with enough requests observed. Open rejects immediately until
// the recovery timeout, then moves to half-open. Half-open admits exactly
// one probe: success closes the breaker, failure re-opens it.
type BreakerSet struct {
	cfg BreakerConfig

	mu       sync.Mutex
	breakers map[models.AgentType]*breaker

	now func() time.Time
}

// NewBreakerSet creates a breaker set with the given tuning.
func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultFailureThreshold
	}
	if cfg.MinRequests <= 0 {
		cfg.MinRequests = DefaultMinRequests
	}
	if cfg.CountingWindow <= 0 {
		cfg.CountingWindow = DefaultCountingWindow
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = DefaultRecoveryTimeout
	}
	return &BreakerSet{
		cfg:      cfg,
		breakers: make(map[models.AgentType]*breaker),
		now:      time.Now,
	}
}

func (s *BreakerSet) get(t models.AgentType) *breaker {
	b, ok := s.breakers[t]
	if !ok {
		b = &breaker{state: models.BreakerClosed, windowStart: s.now()}
		s.breakers[t] = b
	}
	return b
}

// resetWindowIfStale starts a fresh counting window once the current one
// has aged out.
func (s *BreakerSet) resetWindowIfStale(b *breaker) {
	if s.now().Sub(b.windowStart) >= s.cfg.CountingWindow {
		b.windowStart = s.now()
		b.failures = 0
		b.requests = 0
	}
}

// Allow reports whether a request for the type may proceed. In half-open
// state only the first caller is admitted as the probe.
func (s *BreakerSet) Allow(t models.AgentType) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.get(t)
	switch b.state {
	case models.BreakerClosed:
		s.resetWindowIfStale(b)
		return true
	case models.BreakerOpen:
		if s.now().Sub(b.openedAt) >= s.cfg.RecoveryTimeout {
			b.state = models.BreakerHalfOpen
			b.probing = true
			log.Info().Str("agent_type", string(t)).Msg("Circuit breaker half-open, admitting probe")
			return true
		}
		return false
	case models.BreakerHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return false
}

// RecordSuccess reports a successful execution for the type.
func (s *BreakerSet) RecordSuccess(t models.AgentType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.get(t)
	switch b.state {
	case models.BreakerHalfOpen:
		b.state = models.BreakerClosed
		b.failures = 0
		b.requests = 0
		b.windowStart = s.now()
		b.probing = false
		log.Info().Str("agent_type", string(t)).Msg("Circuit breaker closed after successful probe")
	case models.BreakerClosed:
		s.resetWindowIfStale(b)
		b.requests++
	}
}

// RecordFailure reports a failed execution for the type.
func (s *BreakerSet) RecordFailure(t models.AgentType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.get(t)
	switch b.state {
	case models.BreakerHalfOpen:
		b.state = models.BreakerOpen
		b.openedAt = s.now()
		b.probing = false
		log.Warn().Str("agent_type", string(t)).Msg("Circuit breaker re-opened, probe failed")
	case models.BreakerClosed:
		s.resetWindowIfStale(b)
		b.requests++
		b.failures++
		if b.failures >= s.cfg.FailureThreshold && b.requests >= s.cfg.MinRequests {
			b.state = models.BreakerOpen
			b.openedAt = s.now()
			log.Warn().
				Str("agent_type", string(t)).
				Int("failures", b.failures).
				Int("requests", b.requests).
				Msg("Circuit breaker opened")
		}
	}
}

// State returns the current state for a type, resolving open→half-open
// transitions that are due.
func (s *BreakerSet) State(t models.AgentType) models.BreakerState {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.get(t)
	if b.state == models.BreakerOpen && s.now().Sub(b.openedAt) >= s.cfg.RecoveryTimeout {
		return models.BreakerHalfOpen
	}
	return b.state
}

// Status returns observability snapshots for every tracked type.
func (s *BreakerSet) Status() []models.CircuitBreakerStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []models.CircuitBreakerStatus
	for _, t := range models.AllAgentTypes() {
		b, ok := s.breakers[t]
		if !ok {
			continue
		}
		state := b.state
		if state == models.BreakerOpen && s.now().Sub(b.openedAt) >= s.cfg.RecoveryTimeout {
			state = models.BreakerHalfOpen
		}
		out = append(out, models.CircuitBreakerStatus{
			AgentType:   t,
			State:       state,
			Failures:    b.failures,
			Requests:    b.requests,
			WindowStart: b.windowStart,
			OpenedAt:    b.openedAt,
		})
	}
	return out
}

// Reset forces a breaker back to closed. Used by the admin endpoint.
func (s *BreakerSet) Reset(t models.AgentType) {
	s.mu.Lock()
	defer s.mu.Unlock()

	b := s.get(t)
	b.state = models.BreakerClosed
	b.failures = 0
	b.requests = 0
	b.windowStart = s.now()
	b.probing = false
	log.Info().Str("agent_type", string(t)).Msg("Circuit breaker reset")
}
