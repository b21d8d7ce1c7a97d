package perf

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/agentrelay/agentrelay/pkg/models"
)

// Batching defaults.
const (
	DefaultBatchWindow      = 100 * time.Millisecond
	DefaultMaxBatchSize     = 10
	DefaultBatchConcurrency = 4
)

// BatchExecutor runs one agent request. The resilience service satisfies it.
type BatchExecutor interface {
	Execute(ctx context.Context, req *models.AgentExecutionRequest) *models.ExecutionResult
}

// pending is one queued request with its delivery channel.
type pending struct {
	ctx context.Context
	req *models.AgentExecutionRequest
	out chan *models.ExecutionResult
}

// Batcher collects requests for batchable agent types over a short window
// and executes each full batch concurrently with bounded parallelism.
// Requests for types that batch poorly should bypass it entirely.
type Batcher struct {
	executor    BatchExecutor
	window      time.Duration
	maxSize     int
	concurrency int

	mu     sync.Mutex
	queues map[models.AgentType][]*pending
	timers map[models.AgentType]*time.Timer
	closed bool
}

// NewBatcher creates a batcher with default tuning.
func NewBatcher(executor BatchExecutor) *Batcher {
	return &Batcher{
		executor:    executor,
		window:      DefaultBatchWindow,
		maxSize:     DefaultMaxBatchSize,
		concurrency: DefaultBatchConcurrency,
		queues:      make(map[models.AgentType][]*pending),
		timers:      make(map[models.AgentType]*time.Timer),
	}
}

// Submit queues a request and blocks until its batch executes or the caller's
// context is done. The first request for a type starts that type's window;
// a full batch flushes immediately.
func (b *Batcher) Submit(ctx context.Context, req *models.AgentExecutionRequest) *models.ExecutionResult {
	p := &pending{ctx: ctx, req: req, out: make(chan *models.ExecutionResult, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return b.executor.Execute(ctx, req)
	}
	b.queues[req.Type] = append(b.queues[req.Type], p)
	if len(b.queues[req.Type]) >= b.maxSize {
		batch := b.takeLocked(req.Type)
		b.mu.Unlock()
		go b.run(batch)
	} else {
		if _, ok := b.timers[req.Type]; !ok {
			t := req.Type
			b.timers[t] = time.AfterFunc(b.window, func() { b.flush(t) })
		}
		b.mu.Unlock()
	}

	select {
	case result := <-p.out:
		return result
	case <-ctx.Done():
		return &models.ExecutionResult{
			AgentType: req.Type,
			Error: &models.AgentError{
				Code:      "BATCH_CANCELED",
				Category:  models.ErrCategoryTimeout,
				Severity:  models.SeverityMedium,
				AgentType: req.Type,
				Message:   ctx.Err().Error(),
				Timestamp: time.Now().UTC(),
			},
		}
	}
}

// flush executes whatever has accumulated for a type when its window closes.
func (b *Batcher) flush(t models.AgentType) {
	b.mu.Lock()
	batch := b.takeLocked(t)
	b.mu.Unlock()
	if len(batch) > 0 {
		b.run(batch)
	}
}

// takeLocked drains a type's queue and clears its timer. Caller holds b.mu.
func (b *Batcher) takeLocked(t models.AgentType) []*pending {
	batch := b.queues[t]
	delete(b.queues, t)
	if timer, ok := b.timers[t]; ok {
		timer.Stop()
		delete(b.timers, t)
	}
	return batch
}

// run executes one batch with bounded concurrency and delivers results.
func (b *Batcher) run(batch []*pending) {
	if len(batch) > 1 {
		log.Debug().Str("agent_type", string(batch[0].req.Type)).Int("size", len(batch)).Msg("Executing request batch")
	}

	g := new(errgroup.Group)
	g.SetLimit(b.concurrency)
	for _, p := range batch {
		p := p
		g.Go(func() error {
			p.out <- b.executor.Execute(p.ctx, p.req)
			return nil
		})
	}
	g.Wait()
}

// Close flushes every queued batch and routes future submissions straight to
// the executor.
func (b *Batcher) Close() {
	b.mu.Lock()
	b.closed = true
	var remaining [][]*pending
	for t := range b.queues {
		remaining = append(remaining, b.takeLocked(t))
	}
	b.mu.Unlock()

	for _, batch := range remaining {
		if len(batch) > 0 {
			b.run(batch)
		}
	}
}
