// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"fmt"
	"log/slog"

	"gorm.io/gorm"
)

// AllModels returns all database models for migration
func AllModels() []interface{} {
	return []interface{}{
		&MemoryItem{},
		&Tag{},
		&MemoryItemTag{},
		&OwnerLink{},
	}
}

// Migrate runs database migrations for all models. On Postgres the
// pgvector extension must exist before the items table is created,
// since the embedding column uses the vector type.
func Migrate(db *gorm.DB) error {
	if Dialect(db) == DialectPostgres {
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
			return fmt.Errorf("failed to create vector extension: %w", err)
		}
		if err := db.Exec("CREATE EXTENSION IF NOT EXISTS pg_trgm").Error; err != nil {
			return fmt.Errorf("failed to create pg_trgm extension: %w", err)
		}
	}

	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// CreateIndexes creates the search indexes the retrieval engine leans
// on. Postgres only; SQLite mode ranks in-process and needs none of
// these. Failures are logged and skipped so a database without the
// required privileges still starts.
func CreateIndexes(db *gorm.DB) error {
	if Dialect(db) != DialectPostgres {
		return nil
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_items_content_fts
			ON muninn_memory_items
			USING GIN (to_tsvector('simple', content))`,
		`CREATE INDEX IF NOT EXISTS idx_items_content_trgm
			ON muninn_memory_items
			USING GIN (content gin_trgm_ops)`,
		`CREATE INDEX IF NOT EXISTS idx_items_embedding
			ON muninn_memory_items
			USING ivfflat (embedding vector_cosine_ops)
			WITH (lists = 100)`,
	}

	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			slog.Warn("failed to create search index", "error", err)
		}
	}

	return nil
}

// DropAllTables drops all tables (use with caution!)
func DropAllTables(db *gorm.DB) error {
	// Drop in reverse order to avoid foreign key constraints
	models := []interface{}{
		&OwnerLink{},
		&MemoryItemTag{},
		&Tag{},
		&MemoryItem{},
	}

	for _, model := range models {
		if err := db.Migrator().DropTable(model); err != nil {
			return fmt.Errorf("failed to drop table: %w", err)
		}
	}

	return nil
}
