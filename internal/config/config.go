// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"

	"github.com/muninn-mcp/muninn/internal/database"
)

const (
	// DefaultConfigDir is the default configuration directory
	DefaultConfigDir = ".muninn/configs"
	// DefaultConfigFile is the default configuration filename
	DefaultConfigFile = "config.json"
)

// Load reads configuration from ~/.muninn/configs/config.json
func Load() (*Config, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get user home directory: %w", err)
	}

	configPath := filepath.Join(homeDir, DefaultConfigDir)

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(configPath)

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found, use defaults
			return loadFromDefaults(v)
		}
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// LoadFromPath loads configuration from a specific path
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// DefaultConfig returns the built-in defaults without reading any file
func DefaultConfig() *Config {
	v := viper.New()
	setDefaults(v)
	cfg, err := loadFromDefaults(v)
	if err != nil {
		// Defaults always unmarshal into Config.
		panic(err)
	}
	return cfg
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.transport", TransportStdio)
	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", 8080)

	// Database defaults
	v.SetDefault("database.type", "sqlite")
	homeDir, _ := os.UserHomeDir()
	v.SetDefault("database.sqlite_path", filepath.Join(homeDir, ".muninn/db/muninn.db"))

	// Embedding defaults
	v.SetDefault("embeddings.base_url", "https://api.openai.com/v1")
	v.SetDefault("embeddings.model", "text-embedding-3-small")
	v.SetDefault("embeddings.api_key_env", "OPENAI_API_KEY")
	v.SetDefault("embeddings.dimensions", 1536)

	// Tagging defaults
	v.SetDefault("tagging.model", "gpt-4o-mini")
	v.SetDefault("tagging.max_tags", 5)
	v.SetDefault("tagging.max_depth", 4)

	// Working memory defaults
	v.SetDefault("working_memory.max_tokens", 8192)
	v.SetDefault("working_memory.max_entry_tokens", 8192)
	v.SetDefault("working_memory.max_content_bytes", 65536)

	// Breaker defaults
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.reset_timeout_seconds", 60)
	v.SetDefault("breaker.half_open_max_calls", 1)

	// Enrichment defaults
	v.SetDefault("enrichment.backend", BackendPool)
	v.SetDefault("enrichment.pool_size", 4)
	v.SetDefault("enrichment.call_timeout_seconds", 30)
	v.SetDefault("enrichment.sweep_interval_minutes", 5)
	v.SetDefault("enrichment.sweep_batch_size", 50)

	// Retrieval defaults
	v.SetDefault("retrieval.neutral_similarity", 0.5)
	v.SetDefault("retrieval.vector_weight", 0.7)
	v.SetDefault("retrieval.tag_weight", 0.3)
	v.SetDefault("retrieval.prefilter_limit", 100)
	v.SetDefault("retrieval.default_limit", 10)
	v.SetDefault("retrieval.window_days", 30)
}

// loadFromDefaults creates a config from default values
func loadFromDefaults(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal default config: %w", err)
	}
	return &cfg, nil
}

// validate checks if the configuration is valid
func validate(cfg *Config) error {
	if cfg.Server.Transport != TransportStdio && cfg.Server.Transport != TransportHTTP {
		return fmt.Errorf("server.transport must be 'stdio' or 'http', got '%s'", cfg.Server.Transport)
	}

	if cfg.Database.Type != "sqlite" && cfg.Database.Type != "postgres" {
		return fmt.Errorf("database.type must be 'sqlite' or 'postgres', got '%s'", cfg.Database.Type)
	}
	if cfg.Database.Type == "postgres" && cfg.Database.PostgresDSN == "" {
		return fmt.Errorf("database.postgres_dsn is required when database.type is 'postgres'")
	}
	if cfg.Database.Type == "sqlite" && cfg.Database.SQLitePath == "" {
		return fmt.Errorf("database.sqlite_path is required when database.type is 'sqlite'")
	}

	if cfg.Embeddings.Dimensions <= 0 {
		return fmt.Errorf("embeddings.dimensions must be positive, got %d", cfg.Embeddings.Dimensions)
	}
	if cfg.Database.Type == "postgres" && cfg.Embeddings.Dimensions != database.VectorDimensions {
		return fmt.Errorf("embeddings.dimensions must be %d on postgres to match the vector column, got %d",
			database.VectorDimensions, cfg.Embeddings.Dimensions)
	}

	switch cfg.Enrichment.Backend {
	case BackendInline, BackendGoroutine, BackendPool:
	default:
		return fmt.Errorf("enrichment.backend must be 'inline', 'goroutine' or 'pool', got '%s'", cfg.Enrichment.Backend)
	}

	if w := cfg.Retrieval.VectorWeight + cfg.Retrieval.TagWeight; w < 0.99 || w > 1.01 {
		return fmt.Errorf("retrieval.vector_weight and retrieval.tag_weight must sum to 1, got %v", w)
	}

	return nil
}

// EnsureConfigDir creates the default configuration directory if it
// does not exist
func EnsureConfigDir() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get user home directory: %w", err)
	}
	return os.MkdirAll(filepath.Join(homeDir, DefaultConfigDir), 0o755)
}

// APIKey resolves the configured API key environment variable.
func (c *EmbeddingConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}
