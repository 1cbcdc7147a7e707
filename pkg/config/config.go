// Package config assembles process-wide settings from the environment plus
// an optional YAML overlay layered over built-in defaults. The YAML surface
// is intentionally small — there is no server/agent-chain registry to
// build — so the whole layering collapses into one Load call.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/sibylline/forecastmarket/pkg/forecast"
	"github.com/sibylline/forecastmarket/pkg/models"
)

// ErrMissingEnv is returned by Load when a required environment variable is
// unset (spec §6: "fatal if unset" for LLM_API_KEY/STORE_URL/STORE_SERVICE_KEY).
var ErrMissingEnv = fmt.Errorf("config: required environment variable not set")

// Config holds every process-lifetime tunable the composition root needs to
// build a resources.Resources and start the HTTP server.
type Config struct {
	// LLMAPIKey credentials for the structured LLM wrapper (spec §6, fatal if unset).
	LLMAPIKey string
	// LLMBaseURL overrides the provider's default endpoint; empty means use
	// the provider's own default.
	LLMBaseURL string

	// StoreURL and StoreServiceKey address the persistence substrate (spec
	// §6, both fatal if unset).
	StoreURL        string
	StoreServiceKey string

	// HTTPPort is the port the gin server binds.
	HTTPPort string

	// RedisURL optionally points the idempotency guard at a Redis instance
	// (spec §9 dedup window). Empty means run without one: CreateForecast
	// still de-dupes via the Store, just without the pre-commit race guard.
	RedisURL string

	// AgentTimeout bounds a single worker's LLM call (AGENT_TIMEOUT_SECONDS,
	// default 300s per spec §6).
	AgentTimeout time.Duration
	// TradingInterval is the round scheduler's period
	// (TRADING_INTERVAL_SECONDS, default 30s per spec §6).
	TradingInterval time.Duration

	// DefaultAgentCounts seeds a session's phase worker counts when the
	// request body omits agent_counts (spec §6).
	DefaultAgentCounts forecast.AgentCounts
	// DefaultForecasterClass seeds forecaster_class when the request body
	// omits it.
	DefaultForecasterClass models.ForecasterClass
	// MaxConcurrentLLM overrides the orchestrator's back-pressure ceiling;
	// 0 keeps forecast.Config's per-phase default (spec §5).
	MaxConcurrentLLM int
}

// yamlOverlay is the optional config.yaml shape (agent counts and
// forecaster class only — spec §6 names no other user-configurable keys).
type yamlOverlay struct {
	AgentCounts *struct {
		Discovery  int `yaml:"phase_1_discovery"`
		Validation int `yaml:"phase_2_validation"`
		Research   int `yaml:"phase_3_research"`
		Historical int `yaml:"phase_3_historical"`
		Current    int `yaml:"phase_3_current"`
		Synthesis  int `yaml:"phase_4_synthesis"`
	} `yaml:"agent_counts"`
	ForecasterClass  string `yaml:"forecaster_class"`
	MaxConcurrentLLM int    `yaml:"max_concurrent_llm"`
}

// Load builds a Config from the environment, then applies configPath's YAML
// overlay if the file exists. A missing overlay is not an error; only a
// read or parse failure on a file that does exist is.
func Load(configPath string) (*Config, error) {
	cfg := &Config{
		HTTPPort:               getEnv("HTTP_PORT", "8080"),
		AgentTimeout:           300 * time.Second,
		TradingInterval:        30 * time.Second,
		DefaultAgentCounts:     forecast.DefaultAgentCounts(),
		DefaultForecasterClass: models.ForecasterBalanced,
	}

	var err error
	if cfg.LLMAPIKey, err = requireEnv("LLM_API_KEY"); err != nil {
		return nil, err
	}
	if cfg.StoreURL, err = requireEnv("STORE_URL"); err != nil {
		return nil, err
	}
	if cfg.StoreServiceKey, err = requireEnv("STORE_SERVICE_KEY"); err != nil {
		return nil, err
	}
	cfg.LLMBaseURL = os.Getenv("LLM_BASE_URL")
	cfg.RedisURL = os.Getenv("REDIS_URL")

	if s := os.Getenv("AGENT_TIMEOUT_SECONDS"); s != "" {
		secs, perr := strconv.Atoi(s)
		if perr != nil {
			return nil, fmt.Errorf("config: AGENT_TIMEOUT_SECONDS: %w", perr)
		}
		cfg.AgentTimeout = time.Duration(secs) * time.Second
	}
	if s := os.Getenv("TRADING_INTERVAL_SECONDS"); s != "" {
		secs, perr := strconv.Atoi(s)
		if perr != nil {
			return nil, fmt.Errorf("config: TRADING_INTERVAL_SECONDS: %w", perr)
		}
		cfg.TradingInterval = time.Duration(secs) * time.Second
	}

	if configPath != "" {
		if err := applyYAMLOverlay(configPath, cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

func applyYAMLOverlay(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("config: read %s: %w", path, err)
	}

	var overlay yamlOverlay
	if err := yaml.Unmarshal(data, &overlay); err != nil {
		return fmt.Errorf("config: parse %s: %w", path, err)
	}

	if overlay.AgentCounts != nil {
		counts := forecast.AgentCounts{
			Discovery:  overlay.AgentCounts.Discovery,
			Validation: overlay.AgentCounts.Validation,
			Historical: overlay.AgentCounts.Historical,
			Current:    overlay.AgentCounts.Current,
			Synthesis:  overlay.AgentCounts.Synthesis,
		}
		if counts.Discovery == 0 {
			counts.Discovery = cfg.DefaultAgentCounts.Discovery
		}
		if counts.Validation == 0 {
			counts.Validation = cfg.DefaultAgentCounts.Validation
		}
		if counts.Synthesis == 0 {
			counts.Synthesis = cfg.DefaultAgentCounts.Synthesis
		}
		counts = counts.ResolveResearchSplit(overlay.AgentCounts.Research)
		if counts.Historical == 0 && counts.Current == 0 {
			counts.Historical = cfg.DefaultAgentCounts.Historical
			counts.Current = cfg.DefaultAgentCounts.Current
		}
		cfg.DefaultAgentCounts = counts
	}

	if overlay.ForecasterClass != "" {
		class := models.ForecasterClass(overlay.ForecasterClass)
		if !models.ValidForecasterClass(class) {
			return fmt.Errorf("config: %s: invalid forecaster_class %q", path, overlay.ForecasterClass)
		}
		cfg.DefaultForecasterClass = class
	}

	if overlay.MaxConcurrentLLM > 0 {
		cfg.MaxConcurrentLLM = overlay.MaxConcurrentLLM
	}

	return nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func requireEnv(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("%w: %s", ErrMissingEnv, key)
	}
	return v, nil
}
