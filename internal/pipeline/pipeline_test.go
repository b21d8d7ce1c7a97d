package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentrelay/agentrelay/internal/agent"
	"github.com/agentrelay/agentrelay/internal/intent"
	"github.com/agentrelay/agentrelay/internal/perf"
	"github.com/agentrelay/agentrelay/internal/resilience"
	"github.com/agentrelay/agentrelay/pkg/models"
)

// stubAgent answers with canned content or a scripted error.
type stubAgent struct {
	agentType models.AgentType
	fail      error
	delay     time.Duration
	calls     *atomic.Int64
}

func (a *stubAgent) Type() models.AgentType { return a.agentType }

func (a *stubAgent) Execute(ctx context.Context, req *models.AgentExecutionRequest) (*models.AgentResponse, error) {
	if a.calls != nil {
		a.calls.Add(1)
	}
	if a.delay > 0 {
		select {
		case <-time.After(a.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if a.fail != nil {
		return nil, a.fail
	}
	return &models.AgentResponse{
		Content: fmt.Sprintf("%s: %s", a.agentType, req.Context.Query),
		Success: true,
	}, nil
}

// testEnv wires real components around stub agents.
type testEnv struct {
	pipeline *Pipeline
	registry *agent.Registry
	service  *resilience.Service
	cache    *perf.ResponseCache
	tracker  *perf.Tracker
	agents   map[models.AgentType]*stubAgent
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	factory := agent.NewFactory()
	registry := agent.NewRegistry(factory)

	agents := make(map[models.AgentType]*stubAgent)
	register := func(at models.AgentType, caps models.AgentCapabilities) {
		stub := &stubAgent{agentType: at, calls: &atomic.Int64{}}
		agents[at] = stub
		ctor := func(models.AgentConfig) (agent.Agent, error) { return stub, nil }
		if err := registry.Register(at, ctor, caps, "", 5); err != nil {
			t.Fatalf("register %s: %v", at, err)
		}
	}
	register(models.AgentWebSearch, models.AgentCapabilities{Tags: []string{"search"}, Batchable: true})
	register(models.AgentURLPull, models.AgentCapabilities{Tags: []string{"web"}})
	register(models.AgentLocalKnowledge, models.AgentCapabilities{Tags: []string{"knowledge"}})
	register(models.AgentStandardChat, models.AgentCapabilities{Tags: []string{"chat"}})
	register(models.AgentGeneralReasoning, models.AgentCapabilities{Tags: []string{"reasoning"}})

	engine := intent.NewEngine(intent.DefaultConfig(), nil)
	breakers := resilience.NewBreakerSet(resilience.DefaultBreakerConfig())
	service := resilience.NewService(factory, registry, breakers, resilience.NewRecorder())
	cache := perf.NewResponseCache(100, time.Minute)
	tracker := perf.NewTracker(cache)

	p := New(engine, registry, service, cache, tracker)
	t.Cleanup(p.Close)

	return &testEnv{pipeline: p, registry: registry, service: service, cache: cache, tracker: tracker, agents: agents}
}

func process(env *testEnv, request models.ConversationRequest) *models.PipelineResult {
	return env.pipeline.Process(context.Background(), models.Identity{UserID: "u1", Locale: "en"}, request)
}

func stageByName(t *testing.T, result *models.PipelineResult, name models.PipelineStage) models.StageResult {
	t.Helper()
	for _, s := range result.Stages {
		if s.Stage == name {
			return s
		}
	}
	t.Fatalf("stage %s missing from trace", name)
	return models.StageResult{}
}

func TestProcess_SuccessTrace(t *testing.T) {
	env := newTestEnv(t)

	result := process(env, models.ConversationRequest{Query: "tell me about goroutines"})

	if !result.Success {
		t.Fatalf("success = false, error = %+v", result.Error)
	}
	if result.ID == "" {
		t.Error("missing request id")
	}
	if result.Response == nil || result.Response.Content == "" {
		t.Fatal("missing response")
	}

	if len(result.Stages) != len(stageOrder) {
		t.Fatalf("stage count = %d, want %d", len(result.Stages), len(stageOrder))
	}
	for i, s := range result.Stages {
		if s.Stage != stageOrder[i] {
			t.Errorf("stage %d = %s, want %s", i, s.Stage, stageOrder[i])
		}
	}

	// No recovery ran, so the fallback stage reports skipped.
	if fb := stageByName(t, result, models.StageFallbackExecution); !fb.Skipped {
		t.Error("fallback stage must be skipped on a clean run")
	}
	if v := stageByName(t, result, models.StageValidation); !v.Success {
		t.Error("validation stage must succeed")
	}
}

func TestProcess_EmptyQueryAborts(t *testing.T) {
	env := newTestEnv(t)

	result := process(env, models.ConversationRequest{Query: "   "})

	if result.Success {
		t.Fatal("empty query must not succeed")
	}
	if result.Error == nil || result.Error.Code != "EMPTY_QUERY" {
		t.Fatalf("error = %+v", result.Error)
	}
	if result.Error.Category != models.ErrCategoryInvalidRequest {
		t.Errorf("category = %s", result.Error.Category)
	}

	// Everything after the failed validation stage is skipped.
	if len(result.Stages) != len(stageOrder) {
		t.Fatalf("stage count = %d", len(result.Stages))
	}
	for _, s := range result.Stages[1:] {
		if !s.Skipped {
			t.Errorf("stage %s ran after abort", s.Stage)
		}
	}
}

func TestProcess_UnknownOverrideRejected(t *testing.T) {
	env := newTestEnv(t)

	result := process(env, models.ConversationRequest{Query: "hi", AgentType: "mystery"})

	if result.Error == nil || result.Error.Code != "UNKNOWN_AGENT_TYPE" {
		t.Fatalf("error = %+v", result.Error)
	}
}

func TestProcess_ExplicitOverrideSkipsClassification(t *testing.T) {
	env := newTestEnv(t)

	result := process(env, models.ConversationRequest{
		Query:     "what is the capital of France",
		AgentType: models.AgentGeneralReasoning,
	})

	if !result.Success {
		t.Fatalf("error = %+v", result.Error)
	}
	if result.AgentType != models.AgentGeneralReasoning {
		t.Errorf("agent type = %s", result.AgentType)
	}
	if result.Intent == nil || result.Intent.Confidence != 1.0 {
		t.Errorf("intent = %+v, want full confidence for override", result.Intent)
	}
}

func TestProcess_TimeSensitiveQueryRoutesToSearch(t *testing.T) {
	env := newTestEnv(t)

	result := process(env, models.ConversationRequest{Query: "what is the weather in Tokyo today"})

	if !result.Success {
		t.Fatalf("error = %+v", result.Error)
	}
	if result.AgentType != models.AgentWebSearch {
		t.Errorf("agent type = %s, want web-search", result.AgentType)
	}
}

func TestProcess_DisabledRecommendationReselects(t *testing.T) {
	env := newTestEnv(t)
	env.registry.SetEnabled(models.AgentWebSearch, false)

	result := process(env, models.ConversationRequest{Query: "what is the weather in Tokyo today"})

	if !result.Success {
		t.Fatalf("error = %+v", result.Error)
	}
	if result.AgentType == models.AgentWebSearch {
		t.Error("disabled type must not be selected")
	}
	if got := env.agents[models.AgentWebSearch].calls.Load(); got != 0 {
		t.Errorf("disabled agent executed %d times", got)
	}
}

func TestProcess_SecondIdenticalRequestIsCached(t *testing.T) {
	env := newTestEnv(t)
	req := models.ConversationRequest{Query: "tell me about goroutines"}

	first := process(env, req)
	if first.Cached {
		t.Fatal("first request must not be cached")
	}
	second := process(env, req)

	if !second.Cached {
		t.Fatal("second identical request must hit the cache")
	}
	if !second.Success {
		t.Errorf("error = %+v", second.Error)
	}
	if got := env.agents[second.AgentType].calls.Load(); got != 1 {
		t.Errorf("agent executed %d times, want 1", got)
	}

	// A cache hit resolves the request during deduplication, so the stages
	// that would re-derive the answer do not run.
	for _, name := range []models.PipelineStage{
		models.StageIntentClassification,
		models.StageAgentSelection,
		models.StagePrimaryExecution,
	} {
		if s := stageByName(t, second, name); !s.Skipped {
			t.Errorf("stage %s ran on a cached request", name)
		}
	}
	if d := stageByName(t, second, models.StageDeduplication); !d.Success {
		t.Error("deduplication stage must report the hit as success")
	}
}

func TestProcess_ExhaustedRecoveryReportsFallbackStage(t *testing.T) {
	env := newTestEnv(t)
	// Non-retryable failure with every recovery path disabled.
	env.agents[models.AgentLocalKnowledge].fail = errors.New("validation failed")
	env.service.ConfigureStrategy(models.AgentLocalKnowledge, models.FallbackStrategy{
		Strategies: []models.RecoveryStrategy{},
	})

	result := process(env, models.ConversationRequest{
		Query:     "search my documents for the quarterly report",
		AgentType: models.AgentLocalKnowledge,
	})

	if result.Success {
		t.Fatal("exhausted recovery must not succeed")
	}
	if result.Error == nil {
		t.Fatal("terminal error missing from result")
	}

	// Recovery was attempted and exhausted, so the fallback stage executed
	// and carries the terminal error rather than reporting skipped.
	fb := stageByName(t, result, models.StageFallbackExecution)
	if fb.Skipped {
		t.Fatal("fallback stage reported skipped despite attempted recovery")
	}
	if fb.Success {
		t.Error("fallback stage must not report success")
	}
	if fb.Error == "" {
		t.Error("fallback stage missing the terminal error")
	}
}

func TestProcess_FallbackOnPrimaryFailure(t *testing.T) {
	env := newTestEnv(t)
	env.agents[models.AgentWebSearch].fail = errors.New("connection refused")

	result := process(env, models.ConversationRequest{
		Query:     "what is the weather in Tokyo today",
		AgentType: models.AgentWebSearch,
	})

	if !result.Success {
		t.Fatalf("error = %+v", result.Error)
	}
	if result.AgentType == models.AgentWebSearch {
		t.Error("failed primary must not produce the result")
	}
	if fb := stageByName(t, result, models.StageFallbackExecution); fb.Skipped || !fb.Success {
		t.Errorf("fallback stage = %+v, want executed", fb)
	}
	if result.Response.Metadata["fallback_from"] != string(models.AgentWebSearch) {
		t.Errorf("metadata = %+v", result.Response.Metadata)
	}
}

func TestProcess_ConcurrentDuplicatesCollapse(t *testing.T) {
	env := newTestEnv(t)
	// Slow the agent down so concurrent callers overlap in flight. The local
	// knowledge agent is not batchable, so the dedup layer sees the calls
	// directly.
	env.agents[models.AgentLocalKnowledge].delay = 200 * time.Millisecond

	req := models.ConversationRequest{
		Query:     "search my documents for the quarterly report",
		AgentType: models.AgentLocalKnowledge,
	}

	const callers = 4
	var wg sync.WaitGroup
	results := make([]*models.PipelineResult, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = process(env, req)
		}(i)
	}
	wg.Wait()

	if got := env.agents[models.AgentLocalKnowledge].calls.Load(); got != 1 {
		t.Errorf("agent executed %d times, want 1 for identical concurrent requests", got)
	}
	followers := 0
	for i, r := range results {
		if !r.Success {
			t.Fatalf("caller %d error = %+v", i, r.Error)
		}
		marked, _ := r.Response.Metadata["deduplicated"].(bool)
		if marked || r.Cached {
			followers++
		}
	}
	if followers != callers-1 {
		t.Errorf("shared followers = %d, want %d", followers, callers-1)
	}
}

func TestProcess_MetricsRecorded(t *testing.T) {
	env := newTestEnv(t)

	result := process(env, models.ConversationRequest{Query: "tell me about goroutines"})
	if !result.Success {
		t.Fatalf("error = %+v", result.Error)
	}

	m := env.tracker.Metrics(result.AgentType)
	if m.Requests != 1 {
		t.Errorf("tracked requests = %d, want 1", m.Requests)
	}
	if m.SuccessRate != 1.0 {
		t.Errorf("success rate = %f", m.SuccessRate)
	}
}

func TestProcess_ResponseMetadataAnnotated(t *testing.T) {
	env := newTestEnv(t)

	result := process(env, models.ConversationRequest{Query: "tell me about goroutines"})
	if !result.Success {
		t.Fatalf("error = %+v", result.Error)
	}

	md := result.Response.Metadata
	if md["request_id"] != result.ID {
		t.Errorf("request_id = %v", md["request_id"])
	}
	if _, ok := md["intent_confidence"]; !ok {
		t.Error("intent_confidence missing")
	}
	if md["intent_method"] == "" {
		t.Error("intent_method missing")
	}
}
