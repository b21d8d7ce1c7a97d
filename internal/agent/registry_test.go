package agent

import (
	"context"
	"errors"
	"testing"

	"github.com/agentrelay/agentrelay/pkg/models"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry(NewFactory())

	register := func(typ models.AgentType, caps models.AgentCapabilities, priority int) {
		if err := r.Register(typ, fakeCtor(typ), caps, "", priority); err != nil {
			t.Fatalf("register %s: %v", typ, err)
		}
	}
	register(models.AgentWebSearch, models.AgentCapabilities{
		Description: "Searches the web for current information",
		Tags:        []string{"search", "news"},
	}, 6)
	register(models.AgentStandardChat, models.AgentCapabilities{
		Description: "General conversation",
		Tags:        []string{"chat"},
	}, 7)
	register(models.AgentTranslation, models.AgentCapabilities{
		Description:     "Translates text",
		Tags:            []string{"translate"},
		SupportedModels: []string{"m-1"},
	}, 5)
	return r
}

func TestRegistry_EntryDefaults(t *testing.T) {
	r := newTestRegistry(t)

	entry, ok := r.Entry(models.AgentWebSearch)
	if !ok {
		t.Fatal("entry missing")
	}
	if entry.Version != "0.1.0" {
		t.Errorf("default version = %s", entry.Version)
	}
	if !entry.Enabled {
		t.Error("new entries must start enabled")
	}
}

func TestRegistry_EnableDisable(t *testing.T) {
	r := newTestRegistry(t)

	if !r.SetEnabled(models.AgentWebSearch, false) {
		t.Fatal("SetEnabled returned false")
	}
	if r.Enabled(models.AgentWebSearch) {
		t.Error("still enabled after disable")
	}
	if r.SetEnabled(models.AgentURLPull, false) {
		t.Error("unregistered type must not toggle")
	}
}

func TestRegistry_PriorityClamped(t *testing.T) {
	r := newTestRegistry(t)

	r.SetPriority(models.AgentWebSearch, 99)
	entry, _ := r.Entry(models.AgentWebSearch)
	if entry.Priority != 10 {
		t.Errorf("priority = %d, want clamped to 10", entry.Priority)
	}

	r.SetPriority(models.AgentWebSearch, -5)
	entry, _ = r.Entry(models.AgentWebSearch)
	if entry.Priority != 0 {
		t.Errorf("priority = %d, want clamped to 0", entry.Priority)
	}
}

func TestRegistry_Discover(t *testing.T) {
	r := newTestRegistry(t)
	r.SetEnabled(models.AgentTranslation, false)

	enabled := true
	got := r.Discover(DiscoverFilter{Enabled: &enabled})
	for _, e := range got {
		if e.Type == models.AgentTranslation {
			t.Error("disabled type in enabled-only discovery")
		}
	}

	byTag := r.Discover(DiscoverFilter{Tags: []string{"search"}})
	if len(byTag) != 1 || byTag[0].Type != models.AgentWebSearch {
		t.Errorf("tag filter = %+v", byTag)
	}

	byModel := r.Discover(DiscoverFilter{Model: "m-1"})
	found := false
	for _, e := range byModel {
		if e.Type == models.AgentTranslation {
			found = true
		}
	}
	if !found {
		t.Error("model filter should include translation")
	}
	for _, e := range byModel {
		// Types with an empty supported list accept any model.
		if len(e.Capabilities.SupportedModels) > 0 && e.Type != models.AgentTranslation {
			t.Errorf("unexpected entry %s", e.Type)
		}
	}
}

func TestRegistry_RecommendPrefersCapabilityMatch(t *testing.T) {
	r := newTestRegistry(t)

	recs := r.Recommend("search the news for election results", 2)
	if len(recs) == 0 {
		t.Fatal("no recommendations")
	}
	if recs[0].Type != models.AgentWebSearch {
		t.Errorf("top recommendation = %s, want web-search", recs[0].Type)
	}
	if len(recs) > 2 {
		t.Errorf("limit not applied: %d", len(recs))
	}
}

func TestRegistry_RecommendSkipsDisabled(t *testing.T) {
	r := newTestRegistry(t)
	r.SetEnabled(models.AgentWebSearch, false)

	for _, rec := range r.Recommend("search the news", 5) {
		if rec.Type == models.AgentWebSearch {
			t.Error("disabled type recommended")
		}
	}
}

func TestHealthCheck_HealthyType(t *testing.T) {
	r := newTestRegistry(t)

	health := r.HealthCheck(models.AgentStandardChat)
	if health.State != models.HealthHealthy {
		t.Errorf("state = %s, want healthy (tests: %+v)", health.State, health.Tests)
	}
	if len(health.Tests) != 5 {
		t.Errorf("battery size = %d, want 5", len(health.Tests))
	}
}

func TestHealthCheck_UnregisteredTypeUnhealthy(t *testing.T) {
	r := newTestRegistry(t)

	health := r.HealthCheck(models.AgentCodeInterpreter)
	if health.State != models.HealthUnhealthy {
		t.Errorf("state = %s, want unhealthy", health.State)
	}
}

func TestHealthCheck_LowSuccessRateDegraded(t *testing.T) {
	r := NewRegistry(NewFactory())
	failing := func(cfg models.AgentConfig) (Agent, error) {
		return &fakeAgent{t: models.AgentWebSearch, fail: errors.New("backend down")}, nil
	}
	if err := r.Register(models.AgentWebSearch, failing, models.AgentCapabilities{}, "", 5); err != nil {
		t.Fatal(err)
	}

	req := &models.AgentExecutionRequest{
		Type:    models.AgentWebSearch,
		Context: models.ExecutionContext{Query: "x"},
	}
	for i := 0; i < 6; i++ {
		r.factory.Execute(context.Background(), req)
	}

	health := r.HealthCheck(models.AgentWebSearch)
	if health.State != models.HealthDegraded {
		t.Errorf("state = %s, want degraded", health.State)
	}
}
