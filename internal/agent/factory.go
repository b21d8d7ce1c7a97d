// Package agent provides the agent factory and registry: creation, pooling,
// discovery, health checks, and per-type capability metadata for the closed
// set of agent types.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/agentrelay/agentrelay/pkg/models"
)

// DefaultExecutionTimeout applies when neither the request nor the type
// configuration names one.
const DefaultExecutionTimeout = 30 * time.Second

// DefaultMaxPoolSize bounds the per-type instance pool.
const DefaultMaxPoolSize = 8

// Agent is one runnable handler instance.
type Agent interface {
	Type() models.AgentType
	Execute(ctx context.Context, req *models.AgentExecutionRequest) (*models.AgentResponse, error)
}

// Constructor builds an agent instance from a validated config.
type Constructor func(cfg models.AgentConfig) (Agent, error)

// registration is one factory entry for an agent type.
type registration struct {
	ctor Constructor
	caps models.AgentCapabilities
}

// TimeoutAdvisor suggests an execution timeout for a type from observed
// latency. The performance tracker satisfies it.
type TimeoutAdvisor func(t models.AgentType) time.Duration

// Factory creates, pools, and executes agent instances by type.
// All methods are safe for concurrent use.
type Factory struct {
	mu             sync.RWMutex
	registrations  map[models.AgentType]*registration
	pools          map[models.AgentType][]Agent
	stats          map[models.AgentType]*models.UsageStats
	maxPool        int
	defaultModel   string
	timeoutAdvisor TimeoutAdvisor
}

// NewFactory creates an empty factory. Agent types must be registered
// before they can be created or executed.
func NewFactory() *Factory {
	return &Factory{
		registrations: make(map[models.AgentType]*registration),
		pools:         make(map[models.AgentType][]Agent),
		stats:         make(map[models.AgentType]*models.UsageStats),
		maxPool:       DefaultMaxPoolSize,
		defaultModel:  "default",
	}
}

// SetDefaultModel sets the model used for pooled instances when neither the
// request nor the type's capabilities name one.
func (f *Factory) SetDefaultModel(model string) {
	if model == "" {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.defaultModel = model
}

// SetTimeoutAdvisor installs a latency-based timeout advisor. The advisor
// can only raise the default timeout; a request-specific timeout always wins.
func (f *Factory) SetTimeoutAdvisor(advisor TimeoutAdvisor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.timeoutAdvisor = advisor
}

// Register installs a constructor and capability metadata for an agent type.
// Registering an already-registered type overrides it.
func (f *Factory) Register(t models.AgentType, ctor Constructor, caps models.AgentCapabilities) error {
	if !t.Valid() {
		return fmt.Errorf("register: unknown agent type %q", t)
	}
	if ctor == nil {
		return fmt.Errorf("register %s: nil constructor", t)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.registrations[t] = &registration{ctor: ctor, caps: caps}
	if _, ok := f.stats[t]; !ok {
		f.stats[t] = &models.UsageStats{}
	}
	log.Debug().Str("type", string(t)).Msg("Agent type registered")
	return nil
}

// Registered reports whether a constructor exists for the type.
func (f *Factory) Registered(t models.AgentType) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.registrations[t]
	return ok
}

// Types returns the registered agent types in enumeration order.
func (f *Factory) Types() []models.AgentType {
	f.mu.RLock()
	defer f.mu.RUnlock()
	var out []models.AgentType
	for _, t := range models.AllAgentTypes() {
		if _, ok := f.registrations[t]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Capabilities returns the capability metadata for a registered type.
func (f *Factory) Capabilities(t models.AgentType) (models.AgentCapabilities, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	reg, ok := f.registrations[t]
	if !ok {
		return models.AgentCapabilities{}, false
	}
	return reg.caps, true
}

// Create validates the config and invokes the registered constructor.
// An unregistered type is a hard configuration error, never a silent default.
func (f *Factory) Create(cfg models.AgentConfig) (Agent, error) {
	f.mu.RLock()
	reg, ok := f.registrations[cfg.Type]
	f.mu.RUnlock()
	if !ok {
		return nil, &models.AgentError{
			ID:        uuid.New().String(),
			Code:      "AGENT_TYPE_UNREGISTERED",
			Category:  models.ErrCategoryConfig,
			Severity:  models.SeverityCritical,
			AgentType: cfg.Type,
			Message:   fmt.Sprintf("agent type %q is not registered", cfg.Type),
			Timestamp: time.Now().UTC(),
		}
	}

	if err := validateConfig(cfg, reg.caps); err != nil {
		return nil, err
	}
	return reg.ctor(cfg)
}

func validateConfig(cfg models.AgentConfig, caps models.AgentCapabilities) error {
	if cfg.ID == "" || cfg.Name == "" {
		return fmt.Errorf("agent config for %s: id and name are required", cfg.Type)
	}
	if cfg.Model == "" {
		return fmt.Errorf("agent config for %s: model is required", cfg.Type)
	}
	if len(caps.SupportedModels) > 0 {
		supported := false
		for _, m := range caps.SupportedModels {
			if m == cfg.Model {
				supported = true
				break
			}
		}
		if !supported {
			return fmt.Errorf("agent config for %s: model %q not in supported list", cfg.Type, cfg.Model)
		}
	}
	return nil
}

// Execute runs one agent execution: acquire an instance (pooled or fresh),
// apply the timeout, run, record usage, and return the instance to the pool.
func (f *Factory) Execute(ctx context.Context, req *models.AgentExecutionRequest) (*models.AgentResponse, error) {
	inst, err := f.acquire(req)
	if err != nil {
		return nil, err
	}

	timeout := f.effectiveTimeout(req)
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	resp, err := inst.Execute(execCtx, req)
	elapsed := time.Since(start)

	// A deadline hit is reported as a timeout failure regardless of what the
	// agent returned.
	if err == nil && execCtx.Err() == context.DeadlineExceeded {
		err = context.DeadlineExceeded
	}
	if err != nil && execCtx.Err() == context.DeadlineExceeded {
		err = fmt.Errorf("agent %s timed out after %s: %w", req.Type, timeout, err)
	}

	f.recordUsage(req.Type, err == nil, elapsed)
	f.release(req.Type, inst)

	if err != nil {
		return nil, err
	}
	return resp, nil
}

// effectiveTimeout resolves the execution timeout: request-specific, else
// the default, raised by the advisor's latency-based recommendation when
// one is installed.
func (f *Factory) effectiveTimeout(req *models.AgentExecutionRequest) time.Duration {
	if req.Config != nil && req.Config.Timeout > 0 {
		return req.Config.Timeout
	}

	timeout := DefaultExecutionTimeout
	f.mu.RLock()
	advisor := f.timeoutAdvisor
	f.mu.RUnlock()
	if advisor != nil {
		if recommended := advisor(req.Type); recommended > timeout {
			timeout = recommended
		}
	}
	return timeout
}

// acquire pops a pooled instance or creates a fresh one with defaults.
func (f *Factory) acquire(req *models.AgentExecutionRequest) (Agent, error) {
	// A per-request config override always builds a fresh, non-pooled instance.
	if req.Config != nil {
		return f.Create(*req.Config)
	}

	f.mu.Lock()
	pool := f.pools[req.Type]
	if n := len(pool); n > 0 {
		inst := pool[n-1]
		f.pools[req.Type] = pool[:n-1]
		f.mu.Unlock()
		return inst, nil
	}
	f.mu.Unlock()

	return f.Create(f.defaultConfig(req))
}

func (f *Factory) release(t models.AgentType, inst Agent) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pools[t]) < f.maxPool {
		f.pools[t] = append(f.pools[t], inst)
	}
}

// defaultConfig builds the pooled-instance config for a type.
func (f *Factory) defaultConfig(req *models.AgentExecutionRequest) models.AgentConfig {
	model := req.Context.Model
	if model == "" {
		if caps, ok := f.Capabilities(req.Type); ok && len(caps.SupportedModels) > 0 {
			model = caps.SupportedModels[0]
		}
	}
	if model == "" {
		f.mu.RLock()
		model = f.defaultModel
		f.mu.RUnlock()
	}
	return models.AgentConfig{
		ID:    uuid.New().String(),
		Name:  string(req.Type),
		Type:  req.Type,
		Model: model,
	}
}

// PoolSize returns the number of idle pooled instances for a type.
func (f *Factory) PoolSize(t models.AgentType) int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.pools[t])
}

// Warm pre-populates the pool for a type with n idle instances.
func (f *Factory) Warm(t models.AgentType, n int) error {
	for i := 0; i < n && f.PoolSize(t) < f.maxPool; i++ {
		inst, err := f.Create(f.defaultConfig(&models.AgentExecutionRequest{Type: t}))
		if err != nil {
			return err
		}
		f.release(t, inst)
	}
	return nil
}

// Stats returns a copy of the usage counters for a type.
func (f *Factory) Stats(t models.AgentType) models.UsageStats {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if s, ok := f.stats[t]; ok {
		return *s
	}
	return models.UsageStats{}
}

func (f *Factory) recordUsage(t models.AgentType, success bool, elapsed time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()

	s, ok := f.stats[t]
	if !ok {
		s = &models.UsageStats{}
		f.stats[t] = s
	}
	s.Requests++
	if success {
		s.Successes++
	} else {
		s.Failures++
	}
	if s.AvgLatency == 0 {
		s.AvgLatency = elapsed
	} else {
		// Exponential moving average, weighted toward history.
		s.AvgLatency = (s.AvgLatency*7 + elapsed*3) / 10
	}
	s.LastUsed = time.Now().UTC()
}
