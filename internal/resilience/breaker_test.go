package resilience

import (
	"testing"
	"time"

	"github.com/agentrelay/agentrelay/pkg/models"
)

// fakeClock drives breaker time in tests.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestBreakers() (*BreakerSet, *fakeClock) {
	clock := &fakeClock{t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	s := NewBreakerSet(DefaultBreakerConfig())
	s.now = clock.now
	return s, clock
}

func tripBreaker(s *BreakerSet, t models.AgentType) {
	// Enough successes to satisfy the minimum request count, then failures
	// up to the threshold.
	for i := 0; i < DefaultMinRequests-DefaultFailureThreshold; i++ {
		s.RecordSuccess(t)
	}
	for i := 0; i < DefaultFailureThreshold; i++ {
		s.RecordFailure(t)
	}
}

func TestBreaker_OpensAtThreshold(t *testing.T) {
	s, _ := newTestBreakers()

	tripBreaker(s, models.AgentWebSearch)

	if got := s.State(models.AgentWebSearch); got != models.BreakerOpen {
		t.Fatalf("state = %s, want open", got)
	}
	if s.Allow(models.AgentWebSearch) {
		t.Error("open breaker must reject")
	}
}

func TestBreaker_FailuresAloneDoNotOpen(t *testing.T) {
	s, _ := newTestBreakers()

	// Threshold failures but below the minimum request count.
	for i := 0; i < DefaultFailureThreshold; i++ {
		s.RecordFailure(models.AgentWebSearch)
	}

	if got := s.State(models.AgentWebSearch); got != models.BreakerClosed {
		t.Errorf("state = %s, want closed with too few requests", got)
	}
}

func TestBreaker_WindowReset(t *testing.T) {
	s, clock := newTestBreakers()

	for i := 0; i < DefaultFailureThreshold-1; i++ {
		s.RecordFailure(models.AgentWebSearch)
	}
	clock.advance(DefaultCountingWindow + time.Second)

	// Old failures aged out; fresh window starts counting from zero.
	for i := 0; i < DefaultMinRequests-1; i++ {
		s.RecordSuccess(models.AgentWebSearch)
	}
	s.RecordFailure(models.AgentWebSearch)

	if got := s.State(models.AgentWebSearch); got != models.BreakerClosed {
		t.Errorf("state = %s, want closed after window reset", got)
	}
}

func TestBreaker_HalfOpenAdmitsSingleProbe(t *testing.T) {
	s, clock := newTestBreakers()
	tripBreaker(s, models.AgentWebSearch)

	clock.advance(DefaultRecoveryTimeout + time.Second)

	if got := s.State(models.AgentWebSearch); got != models.BreakerHalfOpen {
		t.Fatalf("state = %s, want half-open after recovery timeout", got)
	}
	if !s.Allow(models.AgentWebSearch) {
		t.Fatal("first caller must be admitted as probe")
	}
	if s.Allow(models.AgentWebSearch) {
		t.Error("second caller must be rejected while probe in flight")
	}
}

func TestBreaker_ProbeSuccessCloses(t *testing.T) {
	s, clock := newTestBreakers()
	tripBreaker(s, models.AgentWebSearch)
	clock.advance(DefaultRecoveryTimeout + time.Second)

	s.Allow(models.AgentWebSearch)
	s.RecordSuccess(models.AgentWebSearch)

	if got := s.State(models.AgentWebSearch); got != models.BreakerClosed {
		t.Errorf("state = %s, want closed after successful probe", got)
	}
	if !s.Allow(models.AgentWebSearch) {
		t.Error("closed breaker must admit")
	}
}

func TestBreaker_ProbeFailureReopens(t *testing.T) {
	s, clock := newTestBreakers()
	tripBreaker(s, models.AgentWebSearch)
	clock.advance(DefaultRecoveryTimeout + time.Second)

	s.Allow(models.AgentWebSearch)
	s.RecordFailure(models.AgentWebSearch)

	if got := s.State(models.AgentWebSearch); got != models.BreakerOpen {
		t.Fatalf("state = %s, want re-opened after failed probe", got)
	}
	if s.Allow(models.AgentWebSearch) {
		t.Error("re-opened breaker must reject before a fresh recovery timeout")
	}
}

func TestBreaker_PerTypeIsolation(t *testing.T) {
	s, _ := newTestBreakers()
	tripBreaker(s, models.AgentWebSearch)

	if !s.Allow(models.AgentStandardChat) {
		t.Error("unrelated type must not be affected")
	}
}

func TestBreaker_Reset(t *testing.T) {
	s, _ := newTestBreakers()
	tripBreaker(s, models.AgentWebSearch)

	s.Reset(models.AgentWebSearch)

	if got := s.State(models.AgentWebSearch); got != models.BreakerClosed {
		t.Errorf("state = %s, want closed after reset", got)
	}
}

func TestBreaker_Status(t *testing.T) {
	s, _ := newTestBreakers()
	tripBreaker(s, models.AgentWebSearch)
	s.RecordSuccess(models.AgentStandardChat)

	status := s.Status()
	if len(status) != 2 {
		t.Fatalf("status entries = %d, want 2", len(status))
	}
	byType := make(map[models.AgentType]models.CircuitBreakerStatus)
	for _, st := range status {
		byType[st.AgentType] = st
	}
	if byType[models.AgentWebSearch].State != models.BreakerOpen {
		t.Errorf("web-search state = %s", byType[models.AgentWebSearch].State)
	}
	if byType[models.AgentStandardChat].State != models.BreakerClosed {
		t.Errorf("standard-chat state = %s", byType[models.AgentStandardChat].State)
	}
}
