// Package config loads pipeline configuration from defaults, an
// optional YAML file, and environment variable overrides, in that
// order.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the full configuration tree.
type Config struct {
	Pipeline    PipelineConfig    `yaml:"pipeline" env:"PIPELINE"`
	Retrieval   RetrievalConfig   `yaml:"retrieval" env:"RETRIEVAL"`
	Graph       GraphConfig       `yaml:"graph" env:"GRAPH"`
	Credentials CredentialsConfig `yaml:"credentials" env:"CREDENTIALS"`
	LLM         LLMConfig         `yaml:"llm" env:"LLM"`
	Redis       RedisConfig       `yaml:"redis" env:"REDIS"`
	Store       StoreConfig       `yaml:"store" env:"STORE"`
	Log         LogConfig         `yaml:"log" env:"LOG"`
}

// PipelineConfig shapes the workflow engine.
type PipelineConfig struct {
	// Mode: structured or automated.
	Mode string `yaml:"mode" env:"MODE"`
	// MaxDomainAgents bounds the research fan-out, capped at 3.
	MaxDomainAgents int `yaml:"max_domain_agents" env:"MAX_DOMAIN_AGENTS"`
	// MaxCheckpointRejections before a run fails.
	MaxCheckpointRejections int `yaml:"max_checkpoint_rejections" env:"MAX_CHECKPOINT_REJECTIONS"`
	// CallTimeout caps one outbound model call.
	CallTimeout time.Duration `yaml:"call_timeout" env:"CALL_TIMEOUT"`
	// MaxAttempts bounds transient retries per stage call.
	MaxAttempts int `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	// RatePerSecond throttles outbound calls, 0 disables.
	RatePerSecond float64 `yaml:"rate_per_second" env:"RATE_PER_SECOND"`
}

// RetrievalConfig shapes the retrieve-reflect loop.
type RetrievalConfig struct {
	MaxAttempts   int           `yaml:"max_attempts" env:"MAX_ATTEMPTS"`
	TopK          int           `yaml:"top_k" env:"TOP_K"`
	MinDocuments  int           `yaml:"min_documents" env:"MIN_DOCUMENTS"`
	MinConfidence float64       `yaml:"min_confidence" env:"MIN_CONFIDENCE"`
	CacheTTL      time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
}

// GraphConfig shapes concept-graph path sampling.
type GraphConfig struct {
	// PathStrategy: shortest or random.
	PathStrategy string `yaml:"path_strategy" env:"PATH_STRATEGY"`
	MaxSteps     int    `yaml:"max_steps" env:"MAX_STEPS"`
	// Seed fixes the random walk when nonzero.
	Seed int64 `yaml:"seed" env:"SEED"`
}

// CredentialsConfig configures the API key pool.
type CredentialsConfig struct {
	// Keys holds the raw API keys. From the environment it is a
	// comma-separated list.
	Keys []string `yaml:"keys" env:"KEYS"`
	// Per-kind disable windows after a classified failure.
	RateLimitedWindow    time.Duration `yaml:"rate_limited_window" env:"RATE_LIMITED_WINDOW"`
	QuotaExhaustedWindow time.Duration `yaml:"quota_exhausted_window" env:"QUOTA_EXHAUSTED_WINDOW"`
	TimeoutWindow        time.Duration `yaml:"timeout_window" env:"TIMEOUT_WINDOW"`
	OtherWindow          time.Duration `yaml:"other_window" env:"OTHER_WINDOW"`
}

// LLMConfig configures the completion transport.
type LLMConfig struct {
	Model   string        `yaml:"model" env:"MODEL"`
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// RedisConfig configures the judgment cache. Disabled when Addr is
// empty.
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
}

// StoreConfig configures run persistence.
type StoreConfig struct {
	// Path to the SQLite database, ":memory:" for ephemeral.
	Path string `yaml:"path" env:"PATH"`
}

// LogConfig configures zap.
type LogConfig struct {
	Level            string   `yaml:"level" env:"LEVEL"`
	Format           string   `yaml:"format" env:"FORMAT"`
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	var errs []string

	switch c.Pipeline.Mode {
	case "structured", "automated":
	default:
		errs = append(errs, fmt.Sprintf("unknown pipeline mode %q", c.Pipeline.Mode))
	}
	if c.Pipeline.MaxDomainAgents < 1 || c.Pipeline.MaxDomainAgents > 3 {
		errs = append(errs, "max_domain_agents must be between 1 and 3")
	}
	if c.Retrieval.MinConfidence < 0 || c.Retrieval.MinConfidence > 1 {
		errs = append(errs, "retrieval min_confidence must be in [0,1]")
	}
	switch c.Graph.PathStrategy {
	case "shortest", "random":
	default:
		errs = append(errs, fmt.Sprintf("unknown graph path_strategy %q", c.Graph.PathStrategy))
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
