package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the AgentRelay server.
type Config struct {
	Port      int
	Version   string
	Model     ModelConfig
	Agents    AgentBackends
	Intent    IntentConfig
	Cache     CacheConfig
	Breaker   BreakerConfig
	Telemetry TelemetryConfig
}

// ModelConfig points at the OpenAI-compatible model API used for chat-style
// agents and AI intent classification.
type ModelConfig struct {
	Endpoint        string
	APIKey          string
	DefaultModel    string
	ClassifierModel string
	SupportedModels []string
}

// AgentBackends holds the external services the built-in agents call.
type AgentBackends struct {
	SearchEndpoint     string
	SearchAPIKey       string
	SandboxEndpoint    string
	ThirdPartyEndpoint string
}

type IntentConfig struct {
	ConfidenceThreshold float64
	CacheTTL            time.Duration
	CacheSize           int
}

type CacheConfig struct {
	Size int
	TTL  time.Duration
}

type BreakerConfig struct {
	FailureThreshold int
	MinRequests      int
	CountingWindow   time.Duration
	RecoveryTimeout  time.Duration
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from the environment with sensible defaults.
// A .env file in the working directory is applied first when present.
func Load() *Config {
	godotenv.Load()

	return &Config{
		Port:    envInt("AGENTRELAY_PORT", 8080),
		Version: envStr("AGENTRELAY_VERSION", "0.1.0"),
		Model: ModelConfig{
			Endpoint:        envStr("MODEL_API_ENDPOINT", ""),
			APIKey:          envStr("MODEL_API_KEY", ""),
			DefaultModel:    envStr("MODEL_DEFAULT", "gpt-4o-mini"),
			ClassifierModel: envStr("MODEL_CLASSIFIER", "gpt-4o-mini"),
			SupportedModels: envList("MODEL_SUPPORTED", nil),
		},
		Agents: AgentBackends{
			SearchEndpoint:     envStr("SEARCH_API_ENDPOINT", ""),
			SearchAPIKey:       envStr("SEARCH_API_KEY", ""),
			SandboxEndpoint:    envStr("SANDBOX_ENDPOINT", ""),
			ThirdPartyEndpoint: envStr("INTEGRATION_ENDPOINT", ""),
		},
		Intent: IntentConfig{
			ConfidenceThreshold: envFloat("INTENT_CONFIDENCE_THRESHOLD", 0.7),
			CacheTTL:            envDuration("INTENT_CACHE_TTL", time.Hour),
			CacheSize:           envInt("INTENT_CACHE_SIZE", 1000),
		},
		Cache: CacheConfig{
			Size: envInt("RESPONSE_CACHE_SIZE", 1000),
			TTL:  envDuration("RESPONSE_CACHE_TTL", 5*time.Minute),
		},
		Breaker: BreakerConfig{
			FailureThreshold: envInt("BREAKER_FAILURE_THRESHOLD", 5),
			MinRequests:      envInt("BREAKER_MIN_REQUESTS", 10),
			CountingWindow:   envDuration("BREAKER_WINDOW", 5*time.Minute),
			RecoveryTimeout:  envDuration("BREAKER_RECOVERY", 60*time.Second),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", true),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "agentrelay"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func envList(key string, fallback []string) []string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
