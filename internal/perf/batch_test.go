package perf

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/agentrelay/agentrelay/pkg/models"
)

// countingExecutor records every execution and answers immediately.
type countingExecutor struct {
	calls atomic.Int64
}

func (e *countingExecutor) Execute(_ context.Context, req *models.AgentExecutionRequest) *models.ExecutionResult {
	e.calls.Add(1)
	return &models.ExecutionResult{
		AgentType: req.Type,
		Response:  &models.AgentResponse{Content: "echo: " + req.Context.Query, Success: true},
	}
}

func batchRequest(t models.AgentType, query string) *models.AgentExecutionRequest {
	return &models.AgentExecutionRequest{Type: t, Context: models.ExecutionContext{Query: query}}
}

func TestBatcher_WindowFlush(t *testing.T) {
	exec := &countingExecutor{}
	b := NewBatcher(exec)
	b.window = 30 * time.Millisecond

	var wg sync.WaitGroup
	results := make([]*models.ExecutionResult, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = b.Submit(context.Background(), batchRequest(models.AgentWebSearch, "q"))
		}(i)
	}
	wg.Wait()

	if got := exec.calls.Load(); got != 3 {
		t.Errorf("executions = %d, want 3", got)
	}
	for i, r := range results {
		if r == nil || r.Response == nil || !r.Response.Success {
			t.Errorf("result %d not delivered: %+v", i, r)
		}
	}
}

func TestBatcher_FullBatchFlushesImmediately(t *testing.T) {
	exec := &countingExecutor{}
	b := NewBatcher(exec)
	b.window = time.Hour // only a full batch can flush
	b.maxSize = 2

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.Submit(context.Background(), batchRequest(models.AgentTranslation, "hola"))
		}()
	}
	wg.Wait()

	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("full batch took %s, want immediate flush", elapsed)
	}
	if got := exec.calls.Load(); got != 2 {
		t.Errorf("executions = %d, want 2", got)
	}
}

func TestBatcher_PerTypeWindows(t *testing.T) {
	exec := &countingExecutor{}
	b := NewBatcher(exec)
	b.window = 30 * time.Millisecond

	var wg sync.WaitGroup
	for _, at := range []models.AgentType{models.AgentWebSearch, models.AgentURLPull} {
		wg.Add(1)
		go func(at models.AgentType) {
			defer wg.Done()
			r := b.Submit(context.Background(), batchRequest(at, "q"))
			if r.AgentType != at {
				t.Errorf("result type = %s, want %s", r.AgentType, at)
			}
		}(at)
	}
	wg.Wait()

	if got := exec.calls.Load(); got != 2 {
		t.Errorf("executions = %d, want 2", got)
	}
}

func TestBatcher_CanceledContext(t *testing.T) {
	exec := &countingExecutor{}
	b := NewBatcher(exec)
	b.window = time.Hour

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	result := b.Submit(ctx, batchRequest(models.AgentWebSearch, "q"))

	if result.Error == nil {
		t.Fatal("expected error result for canceled submission")
	}
	if result.Error.Code != "BATCH_CANCELED" {
		t.Errorf("code = %s", result.Error.Code)
	}
	if result.Error.Category != models.ErrCategoryTimeout {
		t.Errorf("category = %s", result.Error.Category)
	}
}

func TestBatcher_CloseFlushesAndPassesThrough(t *testing.T) {
	exec := &countingExecutor{}
	b := NewBatcher(exec)
	b.window = time.Hour

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		r := b.Submit(context.Background(), batchRequest(models.AgentWebSearch, "queued"))
		if r == nil || r.Response == nil {
			t.Error("queued request not delivered on close")
		}
	}()
	// Let the submission enqueue before closing.
	time.Sleep(20 * time.Millisecond)
	b.Close()
	wg.Wait()

	// After close, submissions execute directly without a window.
	start := time.Now()
	r := b.Submit(context.Background(), batchRequest(models.AgentWebSearch, "direct"))
	if r == nil || r.Response == nil {
		t.Fatal("post-close submission not executed")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("post-close submission took %s", elapsed)
	}
	if got := exec.calls.Load(); got != 2 {
		t.Errorf("executions = %d, want 2", got)
	}
}
