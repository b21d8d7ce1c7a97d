package intent

import (
	"sync"

	"github.com/agentrelay/agentrelay/pkg/models"
)

// successTracker keeps an exponential moving average of execution success
// per agent type, used as the historical component of the confidence blend.
type successTracker struct {
	mu    sync.RWMutex
	rates map[models.AgentType]float64
}

// emaAlpha weights new outcomes against accumulated history.
const emaAlpha = 0.2

func newSuccessTracker() *successTracker {
	return &successTracker{rates: make(map[models.AgentType]float64)}
}

func (s *successTracker) record(t models.AgentType, success bool) {
	outcome := 0.0
	if success {
		outcome = 1.0
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	prev, ok := s.rates[t]
	if !ok {
		s.rates[t] = outcome
		return
	}
	s.rates[t] = prev*(1-emaAlpha) + outcome*emaAlpha
}

// rate returns the tracked success rate, or an optimistic prior with no data.
func (s *successTracker) rate(t models.AgentType) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if r, ok := s.rates[t]; ok {
		return r
	}
	return 0.8
}
