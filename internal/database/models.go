// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
)

// VectorDimensions is the width of the postgres embedding column.
// Embedding providers configured with a different dimension count are
// rejected at startup; on sqlite the column is untyped and any width
// works.
const VectorDimensions = 1536

// MemoryItem is a unit of durable long-term memory. Items are
// deduplicated on ContentHash: exactly one row exists per distinct
// hash among non-hard-deleted rows. The embedding stays NULL until
// the enrichment pipeline fills it in.
type MemoryItem struct {
	ID             string           `gorm:"primaryKey;size:36" json:"id"`
	Content        string           `gorm:"type:text;not null" json:"content"`
	ContentHash    string           `gorm:"uniqueIndex;size:64;not null" json:"content_hash"`
	Embedding      *pgvector.Vector `gorm:"type:vector(1536)" json:"-"` // width must match VectorDimensions
	EmbeddingModel string           `gorm:"size:128" json:"embedding_model,omitempty"`

	AccessCount    int       `gorm:"default:0" json:"access_count"`
	LastAccessedAt time.Time `json:"last_accessed_at"`

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"deleted_at,omitempty"`
}

// TableName specifies the table name for MemoryItem
func (MemoryItem) TableName() string {
	return "muninn_memory_items"
}

// Tag is a hierarchical category label. Path segments are joined by
// the configured delimiter, e.g. "infra:postgres:indexing".
type Tag struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	Path      string    `gorm:"uniqueIndex;not null" json:"path"`
	Depth     int       `gorm:"not null" json:"depth"`
	CreatedAt time.Time `json:"created_at"`
}

// TableName specifies the table name for Tag
func (Tag) TableName() string {
	return "muninn_tags"
}

// MemoryItemTag is the many-to-many relationship between items and tags
type MemoryItemTag struct {
	ItemID string `gorm:"primaryKey;size:36" json:"item_id"`
	TagID  uint   `gorm:"primaryKey" json:"tag_id"`

	Item MemoryItem `gorm:"foreignKey:ItemID;constraint:OnDelete:CASCADE" json:"-"`
	Tag  Tag        `gorm:"foreignKey:TagID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for MemoryItemTag
func (MemoryItemTag) TableName() string {
	return "muninn_memory_item_tags"
}

// OwnerLink associates an external owner (an agent) with a stored
// item. Many owners may share one item; removing a link never removes
// the item while other owners still reference it.
type OwnerLink struct {
	ID              uint      `gorm:"primaryKey" json:"id"`
	OwnerID         string    `gorm:"size:128;not null;uniqueIndex:idx_owner_item" json:"owner_id"`
	ItemID          string    `gorm:"size:36;not null;uniqueIndex:idx_owner_item" json:"item_id"`
	FirstSeenAt     time.Time `json:"first_seen_at"`
	LastSeenAt      time.Time `json:"last_seen_at"`
	SeenCount       int       `gorm:"default:1" json:"seen_count"`
	InWorkingMemory bool      `gorm:"default:false" json:"in_working_memory"`

	Item MemoryItem `gorm:"foreignKey:ItemID;constraint:OnDelete:CASCADE" json:"-"`
}

// TableName specifies the table name for OwnerLink
func (OwnerLink) TableName() string {
	return "muninn_owner_links"
}
