// Package server provides the public entry point for initializing the
// AgentRelay server.
//
// This package exists in pkg/ (not internal/) so embedding deployments can
// import it and compose the full server with their own middleware.
//
// Usage:
//
//	srv, err := server.New(ctx)
//	http.ListenAndServe(":8080", srv.Handler)
package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/agentrelay/agentrelay/internal/agent"
	"github.com/agentrelay/agentrelay/internal/api"
	"github.com/agentrelay/agentrelay/internal/api/handlers"
	"github.com/agentrelay/agentrelay/internal/config"
	"github.com/agentrelay/agentrelay/internal/intent"
	"github.com/agentrelay/agentrelay/internal/llm"
	"github.com/agentrelay/agentrelay/internal/perf"
	"github.com/agentrelay/agentrelay/internal/pipeline"
	"github.com/agentrelay/agentrelay/internal/resilience"
	"github.com/agentrelay/agentrelay/internal/telemetry"
)

// Server holds the initialized AgentRelay components.
type Server struct {
	// Handler is the HTTP handler with all routes and middleware.
	Handler http.Handler

	// Pipeline processes conversation requests. Exposed so embedding
	// deployments can drive it without going over HTTP.
	Pipeline *pipeline.Pipeline

	// Registry manages the agent catalog.
	Registry *agent.Registry

	// Config is the loaded server configuration.
	Config *config.Config

	// Port is the port the server should listen on.
	Port int

	// ShutdownFunc should be called on graceful shutdown to flush telemetry
	// and drain the batching layer.
	ShutdownFunc func(context.Context) error
}

// New initializes all components from the environment and returns a ready
// Server.
func New(ctx context.Context) (*Server, error) {
	return NewWithConfig(ctx, config.Load())
}

// NewWithConfig initializes the server with an explicit configuration.
func NewWithConfig(ctx context.Context, cfg *config.Config) (*Server, error) {
	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry, cfg.Version)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	// Model client backs both AI classification and the chat-style agents.
	// Without an endpoint the classifier falls back to heuristics only.
	var chat llm.ChatClient
	var classifier llm.StructuredClient
	if cfg.Model.Endpoint != "" || cfg.Model.APIKey != "" {
		client := llm.NewClient(cfg.Model.Endpoint, cfg.Model.APIKey, cfg.Model.ClassifierModel)
		chat = client
		classifier = client
		log.Info().Str("model", cfg.Model.ClassifierModel).Msg("Model client initialized")
	} else {
		log.Warn().Msg("No model API configured, intent classification is heuristic-only")
	}

	intentCfg := intent.DefaultConfig()
	intentCfg.ConfidenceThreshold = cfg.Intent.ConfidenceThreshold
	intentCfg.CacheTTL = cfg.Intent.CacheTTL
	intentCfg.CacheSize = cfg.Intent.CacheSize
	engine := intent.NewEngine(intentCfg, classifier)
	log.Info().Msg("Intent engine initialized")

	factory := agent.NewFactory()
	factory.SetDefaultModel(cfg.Model.DefaultModel)
	registry := agent.NewRegistry(factory)
	if err := agent.RegisterBuiltins(registry, agent.BuiltinConfig{
		Chat:               chat,
		SearchEndpoint:     cfg.Agents.SearchEndpoint,
		SearchAPIKey:       cfg.Agents.SearchAPIKey,
		SandboxEndpoint:    cfg.Agents.SandboxEndpoint,
		ThirdPartyEndpoint: cfg.Agents.ThirdPartyEndpoint,
		SupportedModels:    cfg.Model.SupportedModels,
	}); err != nil {
		return nil, fmt.Errorf("register builtin agents: %w", err)
	}
	log.Info().Int("types", len(factory.Types())).Msg("Agent registry initialized")

	breakers := resilience.NewBreakerSet(resilience.BreakerConfig{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		MinRequests:      cfg.Breaker.MinRequests,
		CountingWindow:   cfg.Breaker.CountingWindow,
		RecoveryTimeout:  cfg.Breaker.RecoveryTimeout,
	})
	recorder := resilience.NewRecorder()
	service := resilience.NewService(factory, registry, breakers, recorder)
	log.Info().Msg("Resilience service initialized")

	cache := perf.NewResponseCache(cfg.Cache.Size, cfg.Cache.TTL)
	tracker := perf.NewTracker(cache)
	factory.SetTimeoutAdvisor(tracker.RecommendTimeout)

	p := pipeline.New(engine, registry, service, cache, tracker)
	log.Info().Msg("Pipeline initialized")

	h := handlers.New(p, engine, registry, service, cache, tracker)
	router := api.NewRouter(cfg, h)

	return &Server{
		Handler:  router,
		Pipeline: p,
		Registry: registry,
		Config:   cfg,
		Port:     cfg.Port,
		ShutdownFunc: func(ctx context.Context) error {
			p.Close()
			return shutdownTelemetry(ctx)
		},
	}, nil
}
