// Package pipeline orchestrates one request end to end through a fixed
// stage sequence: validation, deduplication, intent classification, agent
// selection, execution with fallback, post-processing, caching, and metrics.
package pipeline

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/agentrelay/agentrelay/internal/agent"
	"github.com/agentrelay/agentrelay/internal/intent"
	"github.com/agentrelay/agentrelay/internal/params"
	"github.com/agentrelay/agentrelay/internal/perf"
	"github.com/agentrelay/agentrelay/internal/resilience"
	"github.com/agentrelay/agentrelay/pkg/models"
)

// DefaultDeadline bounds one full pipeline run.
const DefaultDeadline = 60 * time.Second

var tracer = otel.Tracer("agentrelay/pipeline")

// stageOrder is the fixed sequence every run reports, success or not.
var stageOrder = []models.PipelineStage{
	models.StageValidation,
	models.StageDeduplication,
	models.StageIntentClassification,
	models.StageAgentSelection,
	models.StagePrimaryExecution,
	models.StageFallbackExecution,
	models.StagePostProcessing,
	models.StageResultCaching,
	models.StageMetricsRecording,
}

// Pipeline wires the classification, registry, resilience, and performance
// layers into one request processor.
type Pipeline struct {
	engine   *intent.Engine
	registry *agent.Registry
	service  *resilience.Service
	cache    *perf.ResponseCache
	dedup    *perf.Deduplicator
	batcher  *perf.Batcher
	tracker  *perf.Tracker

	deadline time.Duration
}

// New creates a pipeline over its collaborating layers.
func New(engine *intent.Engine, registry *agent.Registry, service *resilience.Service, cache *perf.ResponseCache, tracker *perf.Tracker) *Pipeline {
	return &Pipeline{
		engine:   engine,
		registry: registry,
		service:  service,
		cache:    cache,
		dedup:    perf.NewDeduplicator(),
		batcher:  perf.NewBatcher(service),
		tracker:  tracker,
		deadline: DefaultDeadline,
	}
}

// run carries the mutable state of one pipeline execution.
type run struct {
	result    *models.PipelineResult
	identity  models.Identity
	request   models.ConversationRequest
	dedupKey  uint64
	intent    *models.IntentAnalysisResult
	execReq   *models.AgentExecutionRequest
	execution *models.ExecutionResult
	skipped   map[models.PipelineStage]bool
	start     time.Time
}

func (r *run) skip(stage models.PipelineStage) {
	if r.skipped == nil {
		r.skipped = make(map[models.PipelineStage]bool)
	}
	r.skipped[stage] = true
}

// Process runs one conversation request through the full stage sequence and
// always returns a result with a complete stage trace.
func (p *Pipeline) Process(ctx context.Context, identity models.Identity, request models.ConversationRequest) *models.PipelineResult {
	ctx, cancel := context.WithTimeout(ctx, p.deadline)
	defer cancel()

	ctx, span := tracer.Start(ctx, "pipeline.process",
		trace.WithAttributes(attribute.String("user_id", identity.UserID)))
	defer span.End()

	r := &run{
		result: &models.PipelineResult{
			ID:        uuid.New().String(),
			StartedAt: time.Now().UTC(),
		},
		identity: identity,
		request:  request,
		start:    time.Now(),
	}
	r.request.Locale = localeOf(identity, request)
	span.SetAttributes(attribute.String("request_id", r.result.ID))

	stages := []struct {
		name  models.PipelineStage
		fn    func(context.Context, *run) error
		fatal bool
	}{
		{models.StageValidation, p.stageValidation, true},
		{models.StageDeduplication, p.stageDeduplication, false},
		{models.StageIntentClassification, p.stageClassification, false},
		{models.StageAgentSelection, p.stageSelection, true},
		{models.StagePrimaryExecution, p.stageExecution, false},
		{models.StageFallbackExecution, p.stageFallback, false},
		{models.StagePostProcessing, p.stagePostProcess, false},
		{models.StageResultCaching, p.stageCache, false},
		{models.StageMetricsRecording, p.stageMetrics, false},
	}

	aborted := false
	for _, s := range stages {
		if aborted {
			r.result.Stages = append(r.result.Stages, models.StageResult{Stage: s.name, Skipped: true})
			continue
		}

		stageCtx, stageSpan := tracer.Start(ctx, "pipeline.stage."+string(s.name))
		stageStart := time.Now()
		err := s.fn(stageCtx, r)
		elapsed := time.Since(stageStart)
		stageSpan.End()

		entry := models.StageResult{Stage: s.name, Success: err == nil, Duration: elapsed}
		if err != nil {
			entry.Error = err.Error()
		}
		if r.skipped[s.name] {
			entry.Skipped = true
			entry.Success = false
		}
		r.result.Stages = append(r.result.Stages, entry)

		if err != nil && s.fatal {
			agentErr := resilience.Classify(err, r.selectedType())
			r.result.Error = agentErr
			aborted = true
			log.Warn().
				Str("request_id", r.result.ID).
				Str("stage", string(s.name)).
				Err(err).
				Msg("Pipeline aborted")
		}
	}

	r.result.Duration = time.Since(r.start)
	span.SetAttributes(
		attribute.Bool("success", r.result.Success),
		attribute.String("agent_type", string(r.result.AgentType)),
	)
	return r.result
}

func (r *run) selectedType() models.AgentType {
	if r.execReq != nil {
		return r.execReq.Type
	}
	if r.intent != nil {
		return r.intent.Recommended
	}
	return models.DefaultAgentType
}

// ── Stages ──────────────────────────────────────────────────

func (p *Pipeline) stageValidation(_ context.Context, r *run) error {
	if strings.TrimSpace(r.request.Query) == "" {
		return &models.AgentError{
			ID:        uuid.New().String(),
			Code:      "EMPTY_QUERY",
			Category:  models.ErrCategoryInvalidRequest,
			Severity:  models.SeverityLow,
			Message:   "query must not be empty",
			Timestamp: time.Now().UTC(),
		}
	}
	if r.request.AgentType != "" && !r.request.AgentType.Valid() {
		return &models.AgentError{
			ID:        uuid.New().String(),
			Code:      "UNKNOWN_AGENT_TYPE",
			Category:  models.ErrCategoryInvalidRequest,
			Severity:  models.SeverityLow,
			Message:   "unknown agent type " + string(r.request.AgentType),
			Timestamp: time.Now().UTC(),
		}
	}
	return nil
}

// stageDeduplication computes the request's semantic identity and probes the
// response cache under it. A hit short-circuits the run; the same key also
// collapses concurrent duplicates at execution time.
func (p *Pipeline) stageDeduplication(_ context.Context, r *run) error {
	r.dedupKey = perf.RequestKey(r.request)

	if resp, agentType, ok := p.cache.Get(r.dedupKey); ok {
		r.execution = &models.ExecutionResult{Response: resp, AgentType: agentType}
		r.result.Cached = true
		log.Debug().Str("request_id", r.result.ID).Msg("Served cached response")
	}
	return nil
}

func (p *Pipeline) stageClassification(ctx context.Context, r *run) error {
	if r.result.Cached {
		r.skip(models.StageIntentClassification)
		return nil
	}
	if r.request.AgentType != "" {
		// Explicit override: no classification, full confidence.
		r.intent = &models.IntentAnalysisResult{
			Recommended: r.request.AgentType,
			Confidence:  1.0,
			Reasoning:   "explicit agent type override",
			Method:      models.MethodHeuristic,
			Parameters:  params.Extract(r.request.AgentType, r.request.Query, r.request.Parameters, nil),
			Locale:      r.request.Locale,
		}
		r.result.Intent = r.intent
		return nil
	}

	r.intent = p.engine.Classify(ctx, intent.Input{
		Query:       r.request.Query,
		Locale:      r.request.Locale,
		History:     r.request.History,
		Preferences: r.request.Preferences,
	})
	r.intent.Parameters = params.Extract(r.intent.Recommended, r.request.Query, r.request.Parameters, r.intent.Parameters)
	r.result.Intent = r.intent
	return nil
}

// stageSelection picks the executable agent type: the recommendation if it
// is registered and enabled, else the best eligible alternative, else the
// default agent.
func (p *Pipeline) stageSelection(_ context.Context, r *run) error {
	if r.result.Cached {
		r.skip(models.StageAgentSelection)
		return nil
	}
	selected := r.intent.Recommended
	if !p.eligible(selected) {
		selected = models.DefaultAgentType
		for _, alt := range r.intent.Alternatives {
			if p.eligible(alt.Type) {
				selected = alt.Type
				break
			}
		}
		log.Info().
			Str("request_id", r.result.ID).
			Str("recommended", string(r.intent.Recommended)).
			Str("selected", string(selected)).
			Msg("Recommended agent not eligible, reselected")
	}

	parameters := r.intent.Parameters
	if selected != r.intent.Recommended {
		parameters = params.Extract(selected, r.request.Query, r.request.Parameters, nil)
	}
	validation := params.Validate(selected, parameters)
	if !validation.Valid {
		// Required parameters missing for the winner: the default agent can
		// always take the query as-is.
		log.Warn().
			Str("request_id", r.result.ID).
			Str("agent_type", string(selected)).
			Strs("errors", validation.Errors).
			Msg("Parameter validation failed, using default agent")
		selected = models.DefaultAgentType
		validation = params.Validate(selected, params.Extract(selected, r.request.Query, r.request.Parameters, nil))
	}

	r.execReq = &models.AgentExecutionRequest{
		Type: selected,
		Context: models.ExecutionContext{
			Query:      r.request.Query,
			History:    r.request.History,
			UserID:     r.identity.UserID,
			Model:      r.request.Model,
			Locale:     r.request.Locale,
			Parameters: validation.Sanitized,
		},
	}
	return nil
}

func (p *Pipeline) eligible(t models.AgentType) bool {
	return t.Valid() && p.registry.Enabled(t)
}

func (p *Pipeline) stageExecution(ctx context.Context, r *run) error {
	if r.result.Cached {
		r.skip(models.StagePrimaryExecution)
		return nil
	}

	r.execution, _ = p.dedup.Do(r.dedupKey, func() *models.ExecutionResult {
		if entry, ok := p.registry.Entry(r.execReq.Type); ok && entry.Capabilities.Batchable {
			return p.batcher.Submit(ctx, r.execReq)
		}
		return p.service.Execute(ctx, r.execReq)
	})

	if r.execution.Error != nil && !r.execution.FallbackUsed {
		return r.execution.Error
	}
	return nil
}

// stageFallback reports the recovery outcome. The actual fallback work
// happens inside the resilience service during execution: a clean primary
// run skips this stage, a recovered run reports success, and a run whose
// recovery was exhausted reports the terminal error.
func (p *Pipeline) stageFallback(_ context.Context, r *run) error {
	if r.execution == nil || (r.execution.Error == nil && !r.execution.FallbackUsed) {
		r.skip(models.StageFallbackExecution)
		return nil
	}
	if r.execution.Error != nil {
		return r.execution.Error
	}
	return nil
}

func (p *Pipeline) stagePostProcess(_ context.Context, r *run) error {
	exec := r.execution
	if exec == nil {
		return nil
	}

	r.result.AgentType = exec.AgentType
	r.result.Response = exec.Response
	r.result.Success = exec.Response != nil && exec.Error == nil
	if exec.Error != nil {
		r.result.Error = exec.Error
	}

	if r.result.Response != nil {
		if r.result.Response.Metadata == nil {
			r.result.Response.Metadata = map[string]interface{}{}
		}
		r.result.Response.Metadata["request_id"] = r.result.ID
		// A cache hit skips classification, so there is no intent to report.
		if r.intent != nil {
			r.result.Response.Metadata["intent_confidence"] = r.intent.Confidence
			r.result.Response.Metadata["intent_method"] = string(r.intent.Method)
		}
	}

	// Degraded and cached outcomes do not teach the classifier anything
	// about the recommended type's real success rate.
	if !r.result.Cached && !r.result.Response.Degraded() {
		p.engine.RecordOutcome(exec.AgentType, r.result.Success)
	}
	return nil
}

func (p *Pipeline) stageCache(_ context.Context, r *run) error {
	if r.result.Cached || r.execution == nil {
		return nil
	}
	if r.result.Response != nil {
		// Followers of a collapsed execution carry the leader's response;
		// only the leader's run stores it.
		if shared, _ := r.result.Response.Metadata["deduplicated"].(bool); shared {
			return nil
		}
	}
	p.cache.Put(r.dedupKey, r.execution.AgentType, r.result.Response)
	return nil
}

func (p *Pipeline) stageMetrics(_ context.Context, r *run) error {
	if r.execution == nil {
		return nil
	}
	if !r.result.Cached {
		p.tracker.Record(r.execution.AgentType, r.result.Success, r.execution.Duration)
	}
	log.Info().
		Str("request_id", r.result.ID).
		Str("agent_type", string(r.result.AgentType)).
		Bool("success", r.result.Success).
		Bool("cached", r.result.Cached).
		Bool("fallback", r.execution.FallbackUsed).
		Dur("duration", time.Since(r.start)).
		Msg("Request processed")
	return nil
}

func localeOf(identity models.Identity, request models.ConversationRequest) string {
	if request.Locale != "" {
		return request.Locale
	}
	return identity.Locale
}

// Close flushes the batching layer.
func (p *Pipeline) Close() {
	p.batcher.Close()
}
