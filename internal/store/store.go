// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/muninn-mcp/muninn/internal/database"
	"github.com/muninn-mcp/muninn/internal/tags"
)

var (
	// ErrNotFound is returned when an item id does not resolve to a row
	// visible to the operation.
	ErrNotFound = errors.New("memory item not found")

	// ErrNotConfirmed is returned by destructive operations that were
	// invoked without explicit confirmation.
	ErrNotConfirmed = errors.New("destructive operation requires confirmation")
)

// AddResult reports the outcome of storing content.
type AddResult struct {
	ID    string
	IsNew bool
}

// Store is the durable content layer. All content is deduplicated by
// SHA-256 hash: storing the same text twice, from any owner, converges
// on a single row.
type Store struct {
	db *gorm.DB
}

// New creates a Store over an already-connected database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// HashContent returns the lowercase hex SHA-256 of content.
func HashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Add stores content for ownerID. If an item with the same hash
// already exists (soft-deleted rows included, they still own their
// hash), the existing row is reused and IsNew is false. The owner link
// is upserted either way: a repeat sighting bumps SeenCount and
// refreshes LastSeenAt.
func (s *Store) Add(ctx context.Context, content, ownerID string) (AddResult, error) {
	if content == "" {
		return AddResult{}, fmt.Errorf("content must not be empty")
	}
	if ownerID == "" {
		return AddResult{}, fmt.Errorf("owner id must not be empty")
	}

	hash := HashContent(content)
	var result AddResult

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing database.MemoryItem
		err := tx.Unscoped().Where("content_hash = ?", hash).First(&existing).Error
		switch {
		case err == nil:
			result = AddResult{ID: existing.ID, IsNew: false}
		case errors.Is(err, gorm.ErrRecordNotFound):
			item := database.MemoryItem{
				ID:             uuid.NewString(),
				Content:        content,
				ContentHash:    hash,
				LastAccessedAt: time.Now().UTC(),
			}
			if createErr := tx.Create(&item).Error; createErr != nil {
				if !errors.Is(createErr, gorm.ErrDuplicatedKey) {
					return createErr
				}
				// Lost a race with a concurrent Add of the same
				// content. The winner's row is the canonical one.
				if readErr := tx.Unscoped().Where("content_hash = ?", hash).First(&existing).Error; readErr != nil {
					return readErr
				}
				result = AddResult{ID: existing.ID, IsNew: false}
			} else {
				result = AddResult{ID: item.ID, IsNew: true}
			}
		default:
			return err
		}

		return upsertOwnerLink(tx, ownerID, result.ID)
	})
	if err != nil {
		return AddResult{}, fmt.Errorf("failed to store content: %w", err)
	}
	return result, nil
}

func upsertOwnerLink(tx *gorm.DB, ownerID, itemID string) error {
	now := time.Now().UTC()
	link := database.OwnerLink{
		OwnerID:         ownerID,
		ItemID:          itemID,
		FirstSeenAt:     now,
		LastSeenAt:      now,
		SeenCount:       1,
		InWorkingMemory: true,
	}
	return tx.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "owner_id"}, {Name: "item_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"seen_count":        gorm.Expr("seen_count + 1"),
			"last_seen_at":      now,
			"in_working_memory": true,
		}),
	}).Create(&link).Error
}

// Retrieve loads a live item by id and records the access. Soft-deleted
// items are not visible here; use RetrieveAny for those.
func (s *Store) Retrieve(ctx context.Context, id string) (*database.MemoryItem, error) {
	var item database.MemoryItem
	if err := s.db.WithContext(ctx).Where("id = ?", id).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	updates := map[string]interface{}{
		"access_count":     gorm.Expr("access_count + 1"),
		"last_accessed_at": time.Now().UTC(),
	}
	if err := s.db.WithContext(ctx).Model(&database.MemoryItem{}).Where("id = ?", id).Updates(updates).Error; err != nil {
		return nil, fmt.Errorf("failed to record access: %w", err)
	}
	item.AccessCount++
	return &item, nil
}

// RetrieveAny loads an item by id regardless of soft-delete state and
// without touching access stats.
func (s *Store) RetrieveAny(ctx context.Context, id string) (*database.MemoryItem, error) {
	var item database.MemoryItem
	if err := s.db.WithContext(ctx).Unscoped().Where("id = ?", id).First(&item).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &item, nil
}

// SoftDelete marks an item deleted. The row and its hash stay in
// place, so the same content cannot be re-added as a new item; Restore
// brings it back.
func (s *Store) SoftDelete(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Where("id = ?", id).Delete(&database.MemoryItem{})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Restore clears the soft-delete mark. Restoring a live item is a
// no-op; restoring a hard-deleted or unknown id fails with ErrNotFound.
func (s *Store) Restore(ctx context.Context, id string) error {
	res := s.db.WithContext(ctx).Unscoped().
		Model(&database.MemoryItem{}).
		Where("id = ?", id).
		Update("deleted_at", nil)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// HardDelete permanently removes an item along with its tag links and
// owner links. It requires confirmed=true and cannot be undone.
func (s *Store) HardDelete(ctx context.Context, id string, confirmed bool) error {
	if !confirmed {
		return ErrNotConfirmed
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("item_id = ?", id).Delete(&database.MemoryItemTag{}).Error; err != nil {
			return err
		}
		if err := tx.Where("item_id = ?", id).Delete(&database.OwnerLink{}).Error; err != nil {
			return err
		}
		res := tx.Unscoped().Where("id = ?", id).Delete(&database.MemoryItem{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// PurgeDeletedOlderThan hard-deletes items that were soft-deleted
// before cutoff. It returns the number of items removed.
func (s *Store) PurgeDeletedOlderThan(ctx context.Context, cutoff time.Time, confirmed bool) (int64, error) {
	if !confirmed {
		return 0, ErrNotConfirmed
	}
	var purged int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []string
		if err := tx.Unscoped().
			Model(&database.MemoryItem{}).
			Where("deleted_at IS NOT NULL AND deleted_at < ?", cutoff).
			Pluck("id", &ids).Error; err != nil {
			return err
		}
		if len(ids) == 0 {
			return nil
		}
		if err := tx.Where("item_id IN ?", ids).Delete(&database.MemoryItemTag{}).Error; err != nil {
			return err
		}
		if err := tx.Where("item_id IN ?", ids).Delete(&database.OwnerLink{}).Error; err != nil {
			return err
		}
		res := tx.Unscoped().Where("id IN ?", ids).Delete(&database.MemoryItem{})
		if res.Error != nil {
			return res.Error
		}
		purged = res.RowsAffected
		return nil
	})
	return purged, err
}

// SetEmbedding writes the embedding vector for an item. Re-running
// enrichment for the same item just overwrites the previous vector.
func (s *Store) SetEmbedding(ctx context.Context, id string, vec []float32, model string) error {
	v := pgvector.NewVector(vec)
	res := s.db.WithContext(ctx).Model(&database.MemoryItem{}).Where("id = ?", id).Updates(map[string]interface{}{
		"embedding":       &v,
		"embedding_model": model,
	})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AttachTags links the item to each tag path, creating tag rows as
// needed. Paths are normalized and validated; attaching an already
// attached tag is a no-op.
func (s *Store) AttachTags(ctx context.Context, id string, paths []string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, raw := range paths {
			path := tags.Normalize(raw)
			if err := tags.Validate(path, 0); err != nil {
				return fmt.Errorf("invalid tag %q: %w", raw, err)
			}
			tag := database.Tag{Path: path, Depth: len(tags.Segments(path))}
			if err := tx.Where("path = ?", path).FirstOrCreate(&tag).Error; err != nil {
				return err
			}
			link := database.MemoryItemTag{ItemID: id, TagID: tag.ID}
			if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&link).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

// TagsForItem returns the tag paths attached to an item.
func (s *Store) TagsForItem(ctx context.Context, id string) ([]string, error) {
	var paths []string
	err := s.db.WithContext(ctx).
		Model(&database.Tag{}).
		Joins("JOIN muninn_memory_item_tags ON muninn_memory_item_tags.tag_id = muninn_tags.id").
		Where("muninn_memory_item_tags.item_id = ?", id).
		Order("muninn_tags.path").
		Pluck("muninn_tags.path", &paths).Error
	return paths, err
}

// AllTagPaths returns every known tag path, ordered. The list doubles
// as the taxonomy hint handed to the tag extraction provider.
func (s *Store) AllTagPaths(ctx context.Context) ([]string, error) {
	var paths []string
	err := s.db.WithContext(ctx).
		Model(&database.Tag{}).
		Order("path").
		Pluck("path", &paths).Error
	return paths, err
}

// SetInWorkingMemory flips the working-memory flag on an owner link.
// Eviction from working memory clears it; the durable item is
// untouched.
func (s *Store) SetInWorkingMemory(ctx context.Context, ownerID, itemID string, present bool) error {
	return s.db.WithContext(ctx).
		Model(&database.OwnerLink{}).
		Where("owner_id = ? AND item_id = ?", ownerID, itemID).
		Update("in_working_memory", present).Error
}

// ClearOwnerLink removes the link between an owner and an item,
// leaving the item for other owners.
func (s *Store) ClearOwnerLink(ctx context.Context, ownerID, itemID string) error {
	return s.db.WithContext(ctx).
		Where("owner_id = ? AND item_id = ?", ownerID, itemID).
		Delete(&database.OwnerLink{}).Error
}

// ItemsWithoutEmbedding lists live items still waiting for an
// embedding, oldest first. The sweep in the enrichment pipeline uses
// it to pick up items whose enrichment was dropped.
func (s *Store) ItemsWithoutEmbedding(ctx context.Context, limit int) ([]database.MemoryItem, error) {
	if limit <= 0 {
		limit = 50
	}
	var items []database.MemoryItem
	err := s.db.WithContext(ctx).
		Where("embedding IS NULL").
		Order("created_at ASC").
		Limit(limit).
		Find(&items).Error
	return items, err
}
