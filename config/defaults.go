package config

import "time"

// DefaultConfig returns the default configuration tree.
func DefaultConfig() *Config {
	return &Config{
		Pipeline:    DefaultPipelineConfig(),
		Retrieval:   DefaultRetrievalConfig(),
		Graph:       DefaultGraphConfig(),
		Credentials: DefaultCredentialsConfig(),
		LLM:         DefaultLLMConfig(),
		Redis:       RedisConfig{},
		Store:       StoreConfig{Path: "sciflow.db"},
		Log:         DefaultLogConfig(),
	}
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Mode:                    "structured",
		MaxDomainAgents:         3,
		MaxCheckpointRejections: 3,
		CallTimeout:             60 * time.Second,
		MaxAttempts:             3,
		RatePerSecond:           0,
	}
}

func DefaultRetrievalConfig() RetrievalConfig {
	return RetrievalConfig{
		MaxAttempts:   3,
		TopK:          10,
		MinDocuments:  2,
		MinConfidence: 0.6,
		CacheTTL:      time.Hour,
	}
}

func DefaultGraphConfig() GraphConfig {
	return GraphConfig{
		PathStrategy: "random",
		MaxSteps:     10,
	}
}

func DefaultCredentialsConfig() CredentialsConfig {
	return CredentialsConfig{
		RateLimitedWindow:    time.Minute,
		QuotaExhaustedWindow: time.Hour,
		TimeoutWindow:        5 * time.Minute,
		OtherWindow:          5 * time.Minute,
	}
}

func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Model:   "gpt-4",
		Timeout: 60 * time.Second,
	}
}

func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "info",
		Format:      "console",
		OutputPaths: []string{"stdout"},
	}
}
