package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/agentrelay/agentrelay/pkg/models"
)

// scriptedExecutor fails or succeeds per agent type and counts calls.
type scriptedExecutor struct {
	mu    sync.Mutex
	fail  map[models.AgentType]error
	calls map[models.AgentType]int
}

func newScriptedExecutor() *scriptedExecutor {
	return &scriptedExecutor{
		fail:  make(map[models.AgentType]error),
		calls: make(map[models.AgentType]int),
	}
}

func (s *scriptedExecutor) Execute(_ context.Context, req *models.AgentExecutionRequest) (*models.AgentResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[req.Type]++
	if err := s.fail[req.Type]; err != nil {
		return nil, err
	}
	return &models.AgentResponse{Content: "from " + string(req.Type), Success: true}, nil
}

func (s *scriptedExecutor) callCount(t models.AgentType) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[t]
}

// allowAll is a Gate admitting every type.
type allowAll struct{}

func (allowAll) Enabled(models.AgentType) bool { return true }

// denyList disables specific types.
type denyList map[models.AgentType]bool

func (d denyList) Enabled(t models.AgentType) bool { return !d[t] }

func newTestService(exec *scriptedExecutor, gate Gate) (*Service, *fakeClock) {
	breakers, clock := newTestBreakers()
	svc := NewService(exec, gate, breakers, NewRecorder())
	svc.maxRetries = 0 // no backoff delays in tests
	return svc, clock
}

func searchRequest() *models.AgentExecutionRequest {
	return &models.AgentExecutionRequest{
		Type:    models.AgentWebSearch,
		Context: models.ExecutionContext{Query: "latest news"},
	}
}

func TestService_Success(t *testing.T) {
	exec := newScriptedExecutor()
	svc, _ := newTestService(exec, allowAll{})

	result := svc.Execute(context.Background(), searchRequest())

	if result.Error != nil {
		t.Fatalf("unexpected error: %v", result.Error)
	}
	if result.Response == nil || !result.Response.Success {
		t.Fatal("expected successful response")
	}
	if result.FallbackUsed {
		t.Error("no fallback expected")
	}
	if result.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", result.Attempts)
	}
}

func TestService_GracefulFailureForAuthErrors(t *testing.T) {
	exec := newScriptedExecutor()
	exec.fail[models.AgentWebSearch] = errors.New("unauthorized: invalid api key")
	svc, _ := newTestService(exec, allowAll{})

	result := svc.Execute(context.Background(), searchRequest())

	if result.Error == nil {
		t.Fatal("expected error result")
	}
	if result.Error.Category != models.ErrCategoryAuth {
		t.Errorf("category = %s, want auth", result.Error.Category)
	}
	if result.Response != nil {
		t.Error("auth failures must not produce a fallback response")
	}
	// Auth errors never switch agents.
	if got := exec.callCount(models.AgentLocalKnowledge); got != 0 {
		t.Errorf("fallback called %d times", got)
	}
}

func TestService_FallbackChain(t *testing.T) {
	exec := newScriptedExecutor()
	exec.fail[models.AgentWebSearch] = errors.New("connection refused")
	exec.fail[models.AgentLocalKnowledge] = errors.New("connection refused")
	svc, _ := newTestService(exec, allowAll{})

	result := svc.Execute(context.Background(), searchRequest())

	if !result.FallbackUsed {
		t.Fatal("fallback expected")
	}
	if result.AgentType != models.AgentStandardChat {
		t.Errorf("agent type = %s, want standard-chat", result.AgentType)
	}
	if result.Response.Metadata["fallback_from"] != string(models.AgentWebSearch) {
		t.Errorf("metadata = %+v", result.Response.Metadata)
	}
}

func TestService_FallbackSkipsDisabledTypes(t *testing.T) {
	exec := newScriptedExecutor()
	exec.fail[models.AgentWebSearch] = errors.New("connection refused")
	svc, _ := newTestService(exec, denyList{models.AgentLocalKnowledge: true})

	result := svc.Execute(context.Background(), searchRequest())

	if !result.FallbackUsed {
		t.Fatal("fallback expected")
	}
	if got := exec.callCount(models.AgentLocalKnowledge); got != 0 {
		t.Errorf("disabled type called %d times", got)
	}
	if result.AgentType != models.AgentStandardChat {
		t.Errorf("agent type = %s", result.AgentType)
	}
}

func TestService_CachedResponseServedStale(t *testing.T) {
	exec := newScriptedExecutor()
	svc, _ := newTestService(exec, allowAll{})
	svc.ConfigureStrategy(models.AgentWebSearch, models.FallbackStrategy{
		Strategies: []models.RecoveryStrategy{models.RecoveryCachedResponse},
	})

	// Prime the recovery cache with a successful run.
	if result := svc.Execute(context.Background(), searchRequest()); result.Error != nil {
		t.Fatalf("prime failed: %v", result.Error)
	}

	exec.fail[models.AgentWebSearch] = errors.New("connection refused")
	result := svc.Execute(context.Background(), searchRequest())

	if result.Response == nil {
		t.Fatal("expected stale cached response")
	}
	if stale, _ := result.Response.Metadata["stale"].(bool); !stale {
		t.Errorf("metadata = %+v, want stale", result.Response.Metadata)
	}
	if !result.FallbackUsed {
		t.Error("stale serving counts as fallback")
	}
}

func TestService_DegradedResponse(t *testing.T) {
	exec := newScriptedExecutor()
	exec.fail[models.AgentWebSearch] = errors.New("connection refused")
	svc, _ := newTestService(exec, allowAll{})
	svc.ConfigureStrategy(models.AgentWebSearch, models.FallbackStrategy{
		Strategies:       []models.RecoveryStrategy{models.RecoveryFeatureDegradation},
		DegradedFeatures: []string{"live-results"},
	})

	req := searchRequest()
	req.Context.Locale = "ja"
	result := svc.Execute(context.Background(), req)

	if result.Error != nil {
		t.Fatalf("degraded outcome must not be an error: %v", result.Error)
	}
	if !result.Response.Success {
		t.Error("degraded responses report success")
	}
	if !result.Response.Degraded() {
		t.Error("degraded metadata missing")
	}
	want := DegradedMessage("ja", models.ErrCategoryUnavailable)
	if result.Response.Content != want {
		t.Errorf("content = %q, want localized notice", result.Response.Content)
	}
}

func TestService_OpenBreakerSkipsPrimary(t *testing.T) {
	exec := newScriptedExecutor()
	svc, _ := newTestService(exec, allowAll{})
	tripBreaker(svc.Breakers(), models.AgentWebSearch)

	result := svc.Execute(context.Background(), searchRequest())

	if got := exec.callCount(models.AgentWebSearch); got != 0 {
		t.Errorf("primary called %d times with open circuit", got)
	}
	// Chain still runs: the request is answered by a fallback agent.
	if !result.FallbackUsed {
		t.Error("fallback expected when circuit is open")
	}
}

func TestService_ChainSkipsOpenCircuits(t *testing.T) {
	exec := newScriptedExecutor()
	exec.fail[models.AgentWebSearch] = errors.New("connection refused")
	svc, _ := newTestService(exec, allowAll{})
	tripBreaker(svc.Breakers(), models.AgentLocalKnowledge)

	result := svc.Execute(context.Background(), searchRequest())

	if got := exec.callCount(models.AgentLocalKnowledge); got != 0 {
		t.Errorf("open-circuit fallback called %d times", got)
	}
	if result.AgentType != models.AgentStandardChat {
		t.Errorf("agent type = %s", result.AgentType)
	}
}

func TestService_NothingAllowedFailsWithError(t *testing.T) {
	exec := newScriptedExecutor()
	exec.fail[models.AgentWebSearch] = errors.New("connection refused")
	svc, _ := newTestService(exec, allowAll{})
	svc.ConfigureStrategy(models.AgentWebSearch, models.FallbackStrategy{
		Strategies: []models.RecoveryStrategy{},
	})

	result := svc.Execute(context.Background(), searchRequest())

	if result.Error == nil {
		t.Fatal("expected error when no recovery is permitted")
	}
	if result.Response != nil {
		t.Error("no response expected")
	}
}

func TestService_BreakerFeedsFromOutcomes(t *testing.T) {
	exec := newScriptedExecutor()
	exec.fail[models.AgentWebSearch] = errors.New("connection refused")
	svc, _ := newTestService(exec, allowAll{})

	// Satisfy the minimum request count, then fail to the threshold.
	exec.fail[models.AgentWebSearch] = nil
	for i := 0; i < DefaultMinRequests-DefaultFailureThreshold; i++ {
		svc.Execute(context.Background(), searchRequest())
	}
	exec.fail[models.AgentWebSearch] = errors.New("connection refused")
	for i := 0; i < DefaultFailureThreshold; i++ {
		svc.Execute(context.Background(), searchRequest())
	}

	if got := svc.Breakers().State(models.AgentWebSearch); got != models.BreakerOpen {
		t.Errorf("state = %s, want open after repeated failures", got)
	}
}
