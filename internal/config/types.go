// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

// Config represents the complete application configuration
type Config struct {
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Embeddings    EmbeddingConfig     `mapstructure:"embeddings"`
	Tagging       TaggingConfig       `mapstructure:"tagging"`
	WorkingMemory WorkingMemoryConfig `mapstructure:"working_memory"`
	Breaker       BreakerConfig       `mapstructure:"breaker"`
	Enrichment    EnrichmentConfig    `mapstructure:"enrichment"`
	Retrieval     RetrievalConfig     `mapstructure:"retrieval"`
}

// ServerConfig holds MCP transport configuration
type ServerConfig struct {
	Transport string `mapstructure:"transport"` // "stdio" or "http"
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Type        string `mapstructure:"type"` // "sqlite" or "postgres"
	SQLitePath  string `mapstructure:"sqlite_path"`
	PostgresDSN string `mapstructure:"postgres_dsn"`
}

// EmbeddingConfig holds configuration for semantic search embeddings
type EmbeddingConfig struct {
	BaseURL    string `mapstructure:"base_url"`    // OpenAI-compatible API base URL
	Model      string `mapstructure:"model"`       // Model name (e.g., "text-embedding-3-small")
	APIKeyEnv  string `mapstructure:"api_key_env"` // Environment variable name for API key
	Dimensions int    `mapstructure:"dimensions"`  // Vector dimensions (e.g., 1536)
}

// TaggingConfig holds configuration for tag extraction
type TaggingConfig struct {
	Model    string `mapstructure:"model"` // Chat model used for tag extraction
	MaxTags  int    `mapstructure:"max_tags"`
	MaxDepth int    `mapstructure:"max_depth"`
}

// WorkingMemoryConfig holds the per-owner context cache settings
type WorkingMemoryConfig struct {
	MaxTokens       int `mapstructure:"max_tokens"`
	MaxEntryTokens  int `mapstructure:"max_entry_tokens"`
	MaxContentBytes int `mapstructure:"max_content_bytes"`
}

// BreakerConfig holds circuit breaker settings shared by both
// enrichment breakers
type BreakerConfig struct {
	FailureThreshold    int `mapstructure:"failure_threshold"`
	ResetTimeoutSeconds int `mapstructure:"reset_timeout_seconds"`
	HalfOpenMaxCalls    int `mapstructure:"half_open_max_calls"`
}

// EnrichmentConfig holds the async pipeline settings
type EnrichmentConfig struct {
	Backend              string `mapstructure:"backend"` // "inline", "goroutine" or "pool"
	PoolSize             int    `mapstructure:"pool_size"`
	CallTimeoutSeconds   int    `mapstructure:"call_timeout_seconds"`
	SweepIntervalMinutes int    `mapstructure:"sweep_interval_minutes"`
	SweepBatchSize       int    `mapstructure:"sweep_batch_size"`
}

// RetrievalConfig holds ranking settings
type RetrievalConfig struct {
	NeutralSimilarity float64 `mapstructure:"neutral_similarity"`
	VectorWeight      float64 `mapstructure:"vector_weight"`
	TagWeight         float64 `mapstructure:"tag_weight"`
	PrefilterLimit    int     `mapstructure:"prefilter_limit"`
	DefaultLimit      int     `mapstructure:"default_limit"`
	WindowDays        int     `mapstructure:"window_days"`
}

// Transport values accepted by server.transport
const (
	TransportStdio = "stdio"
	TransportHTTP  = "http"
)

// EnrichmentBackend values accepted by enrichment.backend
const (
	BackendInline    = "inline"
	BackendGoroutine = "goroutine"
	BackendPool      = "pool"
)
