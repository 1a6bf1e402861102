// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package retrieval

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm"

	"github.com/muninn-mcp/muninn/internal/database"
	"github.com/muninn-mcp/muninn/internal/provider"
	"github.com/muninn-mcp/muninn/internal/tags"
)

// Window bounds a search to items created inside [From, To]. A zero
// bound leaves that side open.
type Window struct {
	From time.Time
	To   time.Time
}

// RankedItem is one search result with its scoring breakdown.
type RankedItem struct {
	Item        database.MemoryItem
	Score       float64
	Similarity  float64
	TagBoost    float64
	MatchedTags []string
}

// Config tunes ranking. Zero values fall back to the defaults.
type Config struct {
	// NeutralSimilarity stands in for items whose embedding has not
	// been computed yet, so enrichment latency never hides new content
	// from search.
	NeutralSimilarity float64
	// VectorWeight and TagWeight combine the hybrid signals; they
	// should sum to 1.
	VectorWeight float64
	TagWeight    float64
	// PrefilterLimit caps the fulltext candidate set in hybrid search.
	PrefilterLimit int
}

// DefaultConfig returns the standard ranking configuration.
func DefaultConfig() Config {
	return Config{
		NeutralSimilarity: 0.5,
		VectorWeight:      0.7,
		TagWeight:         0.3,
		PrefilterLimit:    100,
	}
}

// Engine ranks stored items against queries. On postgres the ranking
// runs server-side (pgvector cosine distance, ts_rank, trigram); on
// sqlite it falls back to in-process scoring over the windowed rows.
type Engine struct {
	db      *gorm.DB
	dialect string
	cfg     Config
	logger  *slog.Logger
}

// NewEngine creates an Engine over a connected database.
func NewEngine(db *gorm.DB, cfg Config, logger *slog.Logger) *Engine {
	def := DefaultConfig()
	if cfg.NeutralSimilarity <= 0 {
		cfg.NeutralSimilarity = def.NeutralSimilarity
	}
	if cfg.VectorWeight <= 0 {
		cfg.VectorWeight = def.VectorWeight
	}
	if cfg.TagWeight <= 0 {
		cfg.TagWeight = def.TagWeight
	}
	if cfg.PrefilterLimit <= 0 {
		cfg.PrefilterLimit = def.PrefilterLimit
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		db:      db,
		dialect: database.Dialect(db),
		cfg:     cfg,
		logger:  logger,
	}
}

func validateQuery(query string, limit int) error {
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("query must not be empty")
	}
	if limit <= 0 {
		return fmt.Errorf("limit must be positive, got %d", limit)
	}
	return nil
}

// windowed applies the time window server-side and excludes
// soft-deleted rows.
func (e *Engine) windowed(ctx context.Context, w Window) *gorm.DB {
	q := e.db.WithContext(ctx).Model(&database.MemoryItem{})
	if !w.From.IsZero() {
		q = q.Where("created_at >= ?", w.From)
	}
	if !w.To.IsZero() {
		q = q.Where("created_at <= ?", w.To)
	}
	return q
}

// SearchVector ranks windowed items by cosine similarity to the query
// embedding. Items without an embedding participate at the neutral
// similarity instead of being excluded.
func (e *Engine) SearchVector(ctx context.Context, w Window, query string, limit int, embedder provider.EmbeddingProvider) ([]RankedItem, error) {
	if err := validateQuery(query, limit); err != nil {
		return nil, err
	}
	qvec, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	if e.dialect == database.DialectPostgres {
		return e.vectorSearchPostgres(ctx, w, qvec, limit)
	}
	return e.vectorSearchInProcess(ctx, w, qvec, limit)
}

func (e *Engine) vectorSearchPostgres(ctx context.Context, w Window, qvec []float32, limit int) ([]RankedItem, error) {
	var rows []struct {
		database.MemoryItem
		Sim float64
	}
	err := e.windowed(ctx, w).
		Select("muninn_memory_items.*, COALESCE(1 - (embedding <=> ?), ?) AS sim",
			pgvector.NewVector(qvec), e.cfg.NeutralSimilarity).
		Order("sim DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	results := make([]RankedItem, 0, len(rows))
	for _, r := range rows {
		results = append(results, RankedItem{Item: r.MemoryItem, Score: r.Sim, Similarity: r.Sim})
	}
	return results, nil
}

func (e *Engine) vectorSearchInProcess(ctx context.Context, w Window, qvec []float32, limit int) ([]RankedItem, error) {
	var items []database.MemoryItem
	if err := e.windowed(ctx, w).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("vector search failed: %w", err)
	}
	results := make([]RankedItem, 0, len(items))
	for _, item := range items {
		sim := e.similarityFor(item, qvec)
		results = append(results, RankedItem{Item: item, Score: sim, Similarity: sim})
	}
	sortRanked(results)
	return truncate(results, limit), nil
}

// SearchFulltext ranks windowed items lexically. The postgres path
// combines ts_rank with trigram word similarity for typo tolerance;
// the sqlite path scores by matched query words in process.
func (e *Engine) SearchFulltext(ctx context.Context, w Window, query string, limit int) ([]RankedItem, error) {
	if err := validateQuery(query, limit); err != nil {
		return nil, err
	}
	if e.dialect == database.DialectPostgres {
		return e.fulltextSearchPostgres(ctx, w, query, limit)
	}
	return e.fulltextSearchInProcess(ctx, w, query, limit)
}

func (e *Engine) fulltextSearchPostgres(ctx context.Context, w Window, query string, limit int) ([]RankedItem, error) {
	var rows []struct {
		database.MemoryItem
		Rank float64
	}
	err := e.windowed(ctx, w).
		Select(`muninn_memory_items.*,
			GREATEST(
				ts_rank(to_tsvector('simple', content), plainto_tsquery('simple', ?)),
				word_similarity(?, content)
			) AS rank`, query, query).
		Where(`to_tsvector('simple', content) @@ plainto_tsquery('simple', ?) OR ? <% content`, query, query).
		Order("rank DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("fulltext search failed: %w", err)
	}
	results := make([]RankedItem, 0, len(rows))
	for _, r := range rows {
		results = append(results, RankedItem{Item: r.MemoryItem, Score: r.Rank})
	}
	return results, nil
}

func (e *Engine) fulltextSearchInProcess(ctx context.Context, w Window, query string, limit int) ([]RankedItem, error) {
	var items []database.MemoryItem
	if err := e.windowed(ctx, w).Find(&items).Error; err != nil {
		return nil, fmt.Errorf("fulltext search failed: %w", err)
	}
	words := tags.QueryWords(query)
	results := make([]RankedItem, 0, len(items))
	for _, item := range items {
		score := lexicalScore(item.Content, words)
		if score <= 0 {
			continue
		}
		results = append(results, RankedItem{Item: item, Score: score})
	}
	sortRanked(results)
	return truncate(results, limit), nil
}

// lexicalScore is the fraction of query words appearing in content,
// with a small bonus when the whole query appears verbatim.
func lexicalScore(content string, words []string) float64 {
	if len(words) == 0 {
		return 0
	}
	lower := strings.ToLower(content)
	matched := 0
	for _, word := range words {
		if strings.Contains(lower, word) {
			matched++
		}
	}
	score := float64(matched) / float64(len(words))
	if matched == len(words) && strings.Contains(lower, strings.Join(words, " ")) {
		score += 0.2
	}
	return math.Min(score, 1.0)
}

// SearchHybrid combines vector similarity, a fulltext prefilter, and
// tag matching. The candidate set is the union of the fulltext top
// candidates and every item carrying a tag matched by the query; each
// candidate scores similarity*VectorWeight + tagBoost*TagWeight.
func (e *Engine) SearchHybrid(ctx context.Context, w Window, query string, limit int, embedder provider.EmbeddingProvider) ([]RankedItem, error) {
	if err := validateQuery(query, limit); err != nil {
		return nil, err
	}

	qvec, err := embedder.Embed(ctx, query)
	if err != nil {
		// Degrade to tag + lexical signals, every candidate at the
		// neutral similarity.
		e.logger.Warn("hybrid search falling back to neutral similarity", "error", err)
		qvec = nil
	}

	matches, err := e.FindTagsMatching(ctx, query)
	if err != nil {
		return nil, err
	}

	candidates := make(map[string]*RankedItem)

	prefilter, err := e.SearchFulltext(ctx, w, query, e.cfg.PrefilterLimit)
	if err != nil {
		return nil, err
	}
	for _, r := range prefilter {
		item := r.Item
		candidates[item.ID] = &RankedItem{Item: item}
	}

	if len(matches) > 0 {
		tagged, boosts, err := e.itemsWithTags(ctx, w, matches)
		if err != nil {
			return nil, err
		}
		for _, item := range tagged {
			c, ok := candidates[item.ID]
			if !ok {
				c = &RankedItem{Item: item}
				candidates[item.ID] = c
			}
			c.TagBoost = boosts[item.ID].strength
			c.MatchedTags = boosts[item.ID].paths
		}
	}

	results := make([]RankedItem, 0, len(candidates))
	for _, c := range candidates {
		c.Similarity = e.similarityFor(c.Item, qvec)
		c.Score = c.Similarity*e.cfg.VectorWeight + c.TagBoost*e.cfg.TagWeight
		results = append(results, *c)
	}
	sortRanked(results)
	return truncate(results, limit), nil
}

// FindTagsMatching matches the query's words against the known tag
// taxonomy: exact path match first, then prefix, then rightmost
// segment.
func (e *Engine) FindTagsMatching(ctx context.Context, query string) ([]tags.Match, error) {
	var paths []string
	err := e.db.WithContext(ctx).
		Model(&database.Tag{}).
		Order("path").
		Pluck("path", &paths).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load tags: %w", err)
	}
	return tags.FindMatches(query, paths), nil
}

type tagBoost struct {
	strength float64
	paths    []string
}

// itemsWithTags loads windowed items carrying any matched tag and the
// strongest match strength per item.
func (e *Engine) itemsWithTags(ctx context.Context, w Window, matches []tags.Match) ([]database.MemoryItem, map[string]tagBoost, error) {
	strengthByPath := make(map[string]float64, len(matches))
	paths := make([]string, 0, len(matches))
	for _, m := range matches {
		paths = append(paths, m.Path)
		strengthByPath[m.Path] = m.Strength
	}

	var rows []struct {
		ItemID string
		Path   string
	}
	err := e.db.WithContext(ctx).
		Model(&database.MemoryItemTag{}).
		Select("muninn_memory_item_tags.item_id AS item_id, muninn_tags.path AS path").
		Joins("JOIN muninn_tags ON muninn_tags.id = muninn_memory_item_tags.tag_id").
		Where("muninn_tags.path IN ?", paths).
		Find(&rows).Error
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load tagged items: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil, nil
	}

	boosts := make(map[string]tagBoost)
	ids := make([]string, 0, len(rows))
	for _, row := range rows {
		b := boosts[row.ItemID]
		if b.strength == 0 {
			ids = append(ids, row.ItemID)
		}
		if s := strengthByPath[row.Path]; s > b.strength {
			b.strength = s
		}
		b.paths = append(b.paths, row.Path)
		boosts[row.ItemID] = b
	}

	var items []database.MemoryItem
	if err := e.windowed(ctx, w).Where("id IN ?", ids).Find(&items).Error; err != nil {
		return nil, nil, fmt.Errorf("failed to load tagged items: %w", err)
	}
	return items, boosts, nil
}

func (e *Engine) similarityFor(item database.MemoryItem, qvec []float32) float64 {
	if qvec == nil || item.Embedding == nil {
		return e.cfg.NeutralSimilarity
	}
	sim, ok := cosineSimilarity(qvec, item.Embedding.Slice())
	if !ok {
		return e.cfg.NeutralSimilarity
	}
	// Clamp into [0,1] so it composes with tag boost.
	return math.Max(0, math.Min(1, sim))
}

// cosineSimilarity returns the cosine of the angle between a and b in
// [-1,1]; ok is false when either vector is zero or the lengths
// differ.
func cosineSimilarity(a, b []float32) (float64, bool) {
	if len(a) != len(b) || len(a) == 0 {
		return 0, false
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, false
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), true
}

func sortRanked(results []RankedItem) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if !results[i].Item.CreatedAt.Equal(results[j].Item.CreatedAt) {
			return results[i].Item.CreatedAt.After(results[j].Item.CreatedAt)
		}
		return results[i].Item.ID < results[j].Item.ID
	})
}

func truncate(results []RankedItem, limit int) []RankedItem {
	if len(results) > limit {
		return results[:limit]
	}
	return results
}
