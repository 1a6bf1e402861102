// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"gorm.io/gorm/logger"

	"github.com/muninn-mcp/muninn/internal/breaker"
	"github.com/muninn-mcp/muninn/internal/config"
	"github.com/muninn-mcp/muninn/internal/database"
	"github.com/muninn-mcp/muninn/internal/enrichment"
	"github.com/muninn-mcp/muninn/internal/memory"
	"github.com/muninn-mcp/muninn/internal/provider"
	"github.com/muninn-mcp/muninn/internal/retrieval"
	"github.com/muninn-mcp/muninn/internal/server"
	"github.com/muninn-mcp/muninn/internal/store"
)

// Version is set at build time via ldflags (e.g. -X main.Version={{.Version}}).
var Version string

func main() {
	httpMode := flag.Bool("http", false, "Serve MCP over HTTP instead of stdio")
	port := flag.Int("port", 0, "Server port (HTTP mode only)")
	dbType := flag.String("db-type", "", "Database type (sqlite or postgres)")
	dbPath := flag.String("db-path", "", "Database path (for sqlite)")
	dbDSN := flag.String("db-dsn", "", "Database DSN (for postgres)")
	configPath := flag.String("config", "", "Path to config file")
	debug := flag.Bool("debug", false, "Enable debug logging")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Muninn MCP Server\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s              Start MCP server on stdio\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --http       Start MCP server over HTTP\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  OPENAI_API_KEY     API key for the enrichment provider (configurable via embeddings.api_key_env)\n")
	}

	flag.Parse()

	// MCP servers must only write JSON-RPC to stdout; all logging
	// goes to stderr.
	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(log)

	cfg := loadConfig(*configPath, log)
	applyCLIOverrides(cfg, *httpMode, *port, *dbType, *dbPath, *dbDSN)

	db, err := database.Connect(&database.Config{
		Type:        cfg.Database.Type,
		SQLitePath:  cfg.Database.SQLitePath,
		PostgresDSN: cfg.Database.PostgresDSN,
		LogLevel:    logger.Silent,
	})
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer database.Close(db)

	if err := database.Migrate(db); err != nil {
		log.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	if err := database.CreateIndexes(db); err != nil {
		log.Warn("failed to create search indexes", "error", err)
	}

	prov := provider.NewOpenAIProvider(provider.Config{
		BaseURL:        cfg.Embeddings.BaseURL,
		APIKey:         cfg.Embeddings.APIKey(),
		EmbeddingModel: cfg.Embeddings.Model,
		TagModel:       cfg.Tagging.Model,
		Dimensions:     cfg.Embeddings.Dimensions,
		MaxTags:        cfg.Tagging.MaxTags,
	})

	breakerCfg := breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     time.Duration(cfg.Breaker.ResetTimeoutSeconds) * time.Second,
		HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
	}

	contentStore := store.New(db)
	pipeline := enrichment.New(contentStore,
		prov, prov,
		breaker.New("embedding", breakerCfg),
		breaker.New("tagging", breakerCfg),
		newExecutor(cfg),
		enrichment.Config{
			CallTimeout: time.Duration(cfg.Enrichment.CallTimeoutSeconds) * time.Second,
			MaxTagDepth: cfg.Tagging.MaxDepth,
		},
		log)

	engine := retrieval.NewEngine(db, retrieval.Config{
		NeutralSimilarity: cfg.Retrieval.NeutralSimilarity,
		VectorWeight:      cfg.Retrieval.VectorWeight,
		TagWeight:         cfg.Retrieval.TagWeight,
		PrefilterLimit:    cfg.Retrieval.PrefilterLimit,
	}, log)

	svc := memory.NewService(contentStore, engine, pipeline, prov, provider.HeuristicCounter{}, memory.Config{
		MaxContentBytes:     cfg.WorkingMemory.MaxContentBytes,
		WorkingMemoryTokens: cfg.WorkingMemory.MaxTokens,
		MaxEntryTokens:      cfg.WorkingMemory.MaxEntryTokens,
		DefaultRecallLimit:  cfg.Retrieval.DefaultLimit,
		DefaultRecallWindow: time.Duration(cfg.Retrieval.WindowDays) * 24 * time.Hour,
	}, log)

	sweeper := enrichment.NewScheduler(pipeline,
		time.Duration(cfg.Enrichment.SweepIntervalMinutes)*time.Minute,
		cfg.Enrichment.SweepBatchSize,
		log)
	sweeper.Start()
	defer sweeper.Stop()

	log.Info("starting Muninn MCP server",
		"version", Version,
		"transport", cfg.Server.Transport,
		"database", cfg.Database.Type)

	if err := server.NewMCPServer(cfg, svc, log).Serve(); err != nil {
		log.Error("server exited", "error", err)
		os.Exit(1)
	}
}

// loadConfig loads configuration from the given path, the default
// location, or built-in defaults, in that order.
func loadConfig(path string, log *slog.Logger) *config.Config {
	if path != "" {
		cfg, err := config.LoadFromPath(path)
		if err != nil {
			log.Warn("failed to load config, using defaults", "path", path, "error", err)
			return config.DefaultConfig()
		}
		log.Info("loaded configuration", "path", path)
		return cfg
	}

	cfg, err := config.Load()
	if err != nil {
		log.Warn("failed to load default config, using built-in defaults", "error", err)
		return config.DefaultConfig()
	}
	return cfg
}

// applyCLIOverrides applies command-line flags on top of the loaded
// configuration. Flags win over the config file.
func applyCLIOverrides(cfg *config.Config, httpMode bool, port int, dbType, dbPath, dbDSN string) {
	if httpMode {
		cfg.Server.Transport = config.TransportHTTP
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	if dbType != "" {
		cfg.Database.Type = dbType
	}
	if dbPath != "" {
		cfg.Database.SQLitePath = dbPath
	}
	if dbDSN != "" {
		cfg.Database.PostgresDSN = dbDSN
	}
}

func newExecutor(cfg *config.Config) enrichment.Executor {
	switch cfg.Enrichment.Backend {
	case config.BackendInline:
		return enrichment.Inline{}
	case config.BackendGoroutine:
		return enrichment.Goroutine{}
	default:
		return enrichment.NewPool(cfg.Enrichment.PoolSize)
	}
}
