package resilience

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/cespare/xxhash/v2"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog/log"

	"github.com/agentrelay/agentrelay/pkg/models"
)

// Retry tuning.
const (
	defaultMaxRetries      = 2
	defaultInitialInterval = 200 * time.Millisecond
	defaultMaxInterval     = 2 * time.Second
)

// Recovery cache defaults, used by the cached-response strategy.
const (
	defaultRecoveryCacheTTL  = 10 * time.Minute
	defaultRecoveryCacheSize = 500
)

// Executor runs one agent execution attempt. The agent factory satisfies it.
type Executor interface {
	Execute(ctx context.Context, req *models.AgentExecutionRequest) (*models.AgentResponse, error)
}

// Gate reports whether an agent type is registered and enabled. The agent
// registry satisfies it.
type Gate interface {
	Enabled(t models.AgentType) bool
}

// Service executes agent requests with the full resilience ladder: circuit
// breaker gate, retries with exponential backoff, fallback chain, cached
// responses, and graceful degradation.
type Service struct {
	executor Executor
	gate     Gate
	breakers *BreakerSet
	recorder *Recorder

	mu         sync.RWMutex
	strategies map[models.AgentType]models.FallbackStrategy

	recovery *expirable.LRU[uint64, models.AgentResponse]

	maxRetries int
}

// NewService creates a resilience service over an executor.
func NewService(executor Executor, gate Gate, breakers *BreakerSet, recorder *Recorder) *Service {
	return &Service{
		executor:   executor,
		gate:       gate,
		breakers:   breakers,
		recorder:   recorder,
		strategies: defaultStrategies(),
		recovery:   expirable.NewLRU[uint64, models.AgentResponse](defaultRecoveryCacheSize, nil, defaultRecoveryCacheTTL),
		maxRetries: defaultMaxRetries,
	}
}

// defaultStrategies maps each agent type to its out-of-the-box fallback
// chain and permitted recovery strategies.
func defaultStrategies() map[models.AgentType]models.FallbackStrategy {
	all := []models.RecoveryStrategy{
		models.RecoveryAgentSwitch,
		models.RecoveryCachedResponse,
		models.RecoveryFeatureDegradation,
		models.RecoveryGracefulFailure,
	}
	return map[models.AgentType]models.FallbackStrategy{
		models.AgentWebSearch:        {Chain: []models.AgentType{models.AgentLocalKnowledge, models.AgentStandardChat}, Strategies: all},
		models.AgentCodeInterpreter:  {Chain: []models.AgentType{models.AgentGeneralReasoning, models.AgentStandardChat}, Strategies: all},
		models.AgentURLPull:          {Chain: []models.AgentType{models.AgentWebSearch, models.AgentStandardChat}, Strategies: all},
		models.AgentLocalKnowledge:   {Chain: []models.AgentType{models.AgentStandardChat}, Strategies: all},
		models.AgentStandardChat:     {Chain: []models.AgentType{models.AgentGeneralReasoning}, Strategies: all},
		models.AgentGeneralReasoning: {Chain: []models.AgentType{models.AgentStandardChat}, Strategies: all},
		models.AgentThirdParty:       {Chain: []models.AgentType{models.AgentStandardChat}, Strategies: all},
		models.AgentTranslation:      {Chain: []models.AgentType{models.AgentStandardChat}, Strategies: all},
	}
}

// ConfigureStrategy replaces the fallback strategy for one agent type.
func (s *Service) ConfigureStrategy(t models.AgentType, strategy models.FallbackStrategy) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.strategies[t] = strategy
	log.Info().Str("agent_type", string(t)).Int("chain_len", len(strategy.Chain)).Msg("Fallback strategy configured")
}

// Strategy returns the configured fallback strategy for a type.
func (s *Service) Strategy(t models.AgentType) models.FallbackStrategy {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.strategies[t]
}

// Breakers exposes the breaker set for observability endpoints.
func (s *Service) Breakers() *BreakerSet { return s.breakers }

// Recorder exposes the error recorder for observability endpoints.
func (s *Service) Recorder() *Recorder { return s.recorder }

// Execute runs the full resilience ladder for one request and always returns
// a result. Degraded and failed outcomes are results, not Go errors.
func (s *Service) Execute(ctx context.Context, req *models.AgentExecutionRequest) *models.ExecutionResult {
	start := time.Now()
	result := &models.ExecutionResult{AgentType: req.Type}

	var primaryErr *models.AgentError

	if !s.breakers.Allow(req.Type) {
		primaryErr = &models.AgentError{
			Code:      "CIRCUIT_OPEN",
			Category:  models.ErrCategoryUnavailable,
			Severity:  models.SeverityHigh,
			Retryable: true,
			AgentType: req.Type,
			Message:   "circuit breaker open for " + string(req.Type),
			Timestamp: time.Now().UTC(),
		}
		s.recorder.Record(primaryErr)
		log.Warn().Str("agent_type", string(req.Type)).Msg("Primary execution skipped, circuit open")
	} else {
		resp, attempts, err := s.executeWithRetry(ctx, req)
		result.Attempts = attempts
		if err == nil {
			s.breakers.RecordSuccess(req.Type)
			s.StoreRecovery(req, resp)
			result.Response = resp
			result.Duration = time.Since(start)
			return result
		}
		s.breakers.RecordFailure(req.Type)
		primaryErr = Classify(err, req.Type)
		s.recorder.Record(primaryErr)
		log.Warn().
			Str("agent_type", string(req.Type)).
			Str("category", string(primaryErr.Category)).
			Int("attempts", attempts).
			Msg("Primary execution failed")
	}

	s.recover(ctx, req, primaryErr, result)
	result.Duration = time.Since(start)
	return result
}

// executeWithRetry runs the executor with exponential backoff. Errors the
// classifier marks non-retryable stop the retry loop immediately.
func (s *Service) executeWithRetry(ctx context.Context, req *models.AgentExecutionRequest) (*models.AgentResponse, int, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = defaultInitialInterval
	policy.MaxInterval = defaultMaxInterval

	attempts := 0
	var resp *models.AgentResponse

	operation := func() error {
		attempts++
		r, err := s.executor.Execute(ctx, req)
		if err != nil {
			if !Classify(err, req.Type).Retryable {
				return backoff.Permanent(err)
			}
			return err
		}
		resp = r
		return nil
	}

	err := backoff.Retry(operation, backoff.WithContext(
		backoff.WithMaxRetries(policy, uint64(s.maxRetries)), ctx))
	return resp, attempts, err
}

// recover walks the recovery strategies applicable to the failure, honoring
// the type's configured strategy allow-list, and fills in the result.
func (s *Service) recover(ctx context.Context, req *models.AgentExecutionRequest, primaryErr *models.AgentError, result *models.ExecutionResult) {
	strategy := s.Strategy(req.Type)

	for _, recovery := range StrategiesFor(primaryErr.Category) {
		if !strategy.Allows(recovery) {
			continue
		}

		switch recovery {
		case models.RecoveryAgentSwitch, models.RecoveryAlternativeWorkflow:
			if resp, usedType, ok := s.runChain(ctx, req, strategy.Chain); ok {
				result.Response = resp
				result.AgentType = usedType
				result.FallbackUsed = true
				return
			}

		case models.RecoveryCachedResponse:
			if resp, ok := s.recovery.Get(recoveryKey(req)); ok {
				if resp.Metadata == nil {
					resp.Metadata = map[string]interface{}{}
				}
				resp.Metadata["stale"] = true
				result.Response = &resp
				result.FallbackUsed = true
				log.Info().Str("agent_type", string(req.Type)).Msg("Served stale cached response")
				return
			}

		case models.RecoveryFeatureDegradation:
			result.Response = &models.AgentResponse{
				Content: DegradedMessage(req.Context.Locale, primaryErr.Category),
				Success: true,
				Metadata: map[string]interface{}{
					"degraded":          true,
					"degraded_features": strategy.DegradedFeatures,
					"cause":             string(primaryErr.Category),
				},
			}
			result.FallbackUsed = true
			log.Info().Str("agent_type", string(req.Type)).Str("category", string(primaryErr.Category)).Msg("Degraded response synthesized")
			return

		case models.RecoveryGracefulFailure:
			result.Error = primaryErr
			return
		}
	}

	result.Error = primaryErr
}

// runChain tries each fallback type in order, skipping disabled types and
// open circuits. A fallback attempt gets no retries of its own.
func (s *Service) runChain(ctx context.Context, req *models.AgentExecutionRequest, chain []models.AgentType) (*models.AgentResponse, models.AgentType, bool) {
	for _, t := range chain {
		if t == req.Type {
			continue
		}
		if s.gate != nil && !s.gate.Enabled(t) {
			continue
		}
		if !s.breakers.Allow(t) {
			log.Debug().Str("agent_type", string(t)).Msg("Fallback skipped, circuit open")
			continue
		}

		fallbackReq := &models.AgentExecutionRequest{Type: t, Context: req.Context}
		resp, err := s.executor.Execute(ctx, fallbackReq)
		if err != nil {
			s.breakers.RecordFailure(t)
			s.recorder.Record(Classify(err, t))
			continue
		}
		s.breakers.RecordSuccess(t)
		if resp.Metadata == nil {
			resp.Metadata = map[string]interface{}{}
		}
		resp.Metadata["fallback_from"] = string(req.Type)
		log.Info().Str("from", string(req.Type)).Str("to", string(t)).Msg("Fallback agent succeeded")
		return resp, t, true
	}
	return nil, "", false
}

// StoreRecovery caches a successful response for the cached-response
// recovery strategy.
func (s *Service) StoreRecovery(req *models.AgentExecutionRequest, resp *models.AgentResponse) {
	if resp == nil || !resp.Success {
		return
	}
	s.recovery.Add(recoveryKey(req), *resp)
}

// recoveryKey hashes the type, query, and sorted parameters.
func recoveryKey(req *models.AgentExecutionRequest) uint64 {
	h := xxhash.New()
	h.WriteString(string(req.Type))
	h.WriteString("\x1f")
	h.WriteString(req.Context.Query)

	keys := make([]string, 0, len(req.Context.Parameters))
	for k := range req.Context.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		h.WriteString("\x1f")
		h.WriteString(k)
	}
	return h.Sum64()
}
