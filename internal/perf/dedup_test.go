package perf

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentrelay/agentrelay/pkg/models"
)

func TestDeduplicator_CollapsesConcurrentCalls(t *testing.T) {
	d := NewDeduplicator()

	var executions atomic.Int64
	release := make(chan struct{})
	fn := func() *models.ExecutionResult {
		executions.Add(1)
		<-release
		return &models.ExecutionResult{
			AgentType: models.AgentWebSearch,
			Response: &models.AgentResponse{
				Content:  "headlines",
				Success:  true,
				Metadata: map[string]interface{}{"source": "live"},
			},
		}
	}

	const callers = 8
	results := make([]*models.ExecutionResult, callers)
	shared := make([]bool, callers)

	var started, done sync.WaitGroup
	for i := 0; i < callers; i++ {
		started.Add(1)
		done.Add(1)
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i], shared[i] = d.Do(42, fn)
		}(i)
	}
	started.Wait()
	// Give the followers time to join the in-flight call before it completes.
	time.Sleep(50 * time.Millisecond)
	close(release)
	done.Wait()

	if got := executions.Load(); got != 1 {
		t.Fatalf("executions = %d, want 1", got)
	}

	leaders := 0
	for i := 0; i < callers; i++ {
		if results[i] == nil || results[i].Response == nil {
			t.Fatalf("caller %d got nil result", i)
		}
		if results[i].Response.Content != "headlines" {
			t.Errorf("caller %d content = %q", i, results[i].Response.Content)
		}
		if !shared[i] {
			leaders++
			continue
		}
		if dedup, _ := results[i].Response.Metadata["deduplicated"].(bool); !dedup {
			t.Errorf("follower %d not marked deduplicated", i)
		}
		if results[i].Response.Metadata["source"] != "live" {
			t.Errorf("follower %d lost original metadata", i)
		}
	}
	if leaders != 1 {
		t.Errorf("leaders = %d, want exactly 1", leaders)
	}
}

func TestDeduplicator_FollowerCopyDoesNotAliasLeader(t *testing.T) {
	d := NewDeduplicator()

	release := make(chan struct{})
	leader := &models.ExecutionResult{
		Response: &models.AgentResponse{Success: true, Metadata: map[string]interface{}{}},
	}
	fn := func() *models.ExecutionResult {
		<-release
		return leader
	}

	var wg sync.WaitGroup
	var followerResult *models.ExecutionResult
	wg.Add(2)
	go func() { defer wg.Done(); d.Do(7, fn) }()
	go func() {
		defer wg.Done()
		time.Sleep(20 * time.Millisecond)
		r, shared := d.Do(7, fn)
		if shared {
			followerResult = r
		}
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if followerResult == nil {
		t.Skip("goroutines did not overlap, nothing to verify")
	}
	followerResult.Response.Metadata["injected"] = true
	if _, ok := leader.Response.Metadata["injected"]; ok {
		t.Error("follower mutation leaked into leader result")
	}
}

func TestDeduplicator_SequentialCallsExecuteSeparately(t *testing.T) {
	d := NewDeduplicator()

	var executions atomic.Int64
	fn := func() *models.ExecutionResult {
		executions.Add(1)
		return &models.ExecutionResult{}
	}

	d.Do(99, fn)
	d.Do(99, fn)

	if got := executions.Load(); got != 2 {
		t.Errorf("executions = %d, want 2 for sequential calls", got)
	}
}

func TestDeduplicator_DistinctKeysDoNotShare(t *testing.T) {
	d := NewDeduplicator()

	var executions atomic.Int64
	release := make(chan struct{})
	fn := func() *models.ExecutionResult {
		executions.Add(1)
		<-release
		return &models.ExecutionResult{}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); d.Do(1, fn) }()
	go func() { defer wg.Done(); d.Do(2, fn) }()
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := executions.Load(); got != 2 {
		t.Errorf("executions = %d, want 2 for distinct keys", got)
	}
}
