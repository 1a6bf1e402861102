// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package memory is the facade over the two memory tiers: the durable
// content store with its retrieval engine, and the per-owner
// token-bounded working memory. The MCP tool layer talks only to this
// package.
package memory

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/muninn-mcp/muninn/internal/enrichment"
	"github.com/muninn-mcp/muninn/internal/provider"
	"github.com/muninn-mcp/muninn/internal/retrieval"
	"github.com/muninn-mcp/muninn/internal/store"
	"github.com/muninn-mcp/muninn/internal/workingmemory"
)

// SearchStrategy selects how recall ranks candidates.
const (
	SearchVector   = "vector"
	SearchFulltext = "fulltext"
	SearchHybrid   = "hybrid"
)

// DefaultMaxContentBytes caps a single remembered item.
const DefaultMaxContentBytes = 64 * 1024

// Config tunes the service. Zero values fall back to the defaults.
type Config struct {
	MaxContentBytes     int
	WorkingMemoryTokens int
	// MaxEntryTokens caps a single working-memory entry. Defaults to
	// the full working-memory budget; an entry above the cap is stored
	// durably but never admitted to working memory, so eviction can
	// always free enough room for an admitted entry.
	MaxEntryTokens      int
	DefaultRecallLimit  int
	DefaultRecallWindow time.Duration
}

// DefaultServiceConfig returns the standard service configuration.
func DefaultServiceConfig() Config {
	return Config{
		MaxContentBytes:     DefaultMaxContentBytes,
		WorkingMemoryTokens: workingmemory.DefaultMaxTokens,
		MaxEntryTokens:      workingmemory.DefaultMaxTokens,
		DefaultRecallLimit:  10,
		DefaultRecallWindow: 30 * 24 * time.Hour,
	}
}

// Service wires the store, the retrieval engine, the enrichment
// pipeline and per-owner working memories behind one API.
type Service struct {
	store    *store.Store
	engine   *retrieval.Engine
	pipeline *enrichment.Pipeline
	embedder provider.EmbeddingProvider
	counter  provider.TokenCounter
	cfg      Config
	logger   *slog.Logger

	mu      sync.Mutex
	byOwner map[string]*workingmemory.Memory
}

// NewService creates a Service. A nil counter defaults to the
// heuristic counter, a nil logger to slog.Default.
func NewService(s *store.Store, engine *retrieval.Engine, pipeline *enrichment.Pipeline, embedder provider.EmbeddingProvider, counter provider.TokenCounter, cfg Config, logger *slog.Logger) *Service {
	def := DefaultServiceConfig()
	if cfg.MaxContentBytes <= 0 {
		cfg.MaxContentBytes = def.MaxContentBytes
	}
	if cfg.WorkingMemoryTokens <= 0 {
		cfg.WorkingMemoryTokens = def.WorkingMemoryTokens
	}
	if cfg.MaxEntryTokens <= 0 || cfg.MaxEntryTokens > cfg.WorkingMemoryTokens {
		cfg.MaxEntryTokens = cfg.WorkingMemoryTokens
	}
	if cfg.DefaultRecallLimit <= 0 {
		cfg.DefaultRecallLimit = def.DefaultRecallLimit
	}
	if cfg.DefaultRecallWindow <= 0 {
		cfg.DefaultRecallWindow = def.DefaultRecallWindow
	}
	if counter == nil {
		counter = provider.HeuristicCounter{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:    s,
		engine:   engine,
		pipeline: pipeline,
		embedder: embedder,
		counter:  counter,
		cfg:      cfg,
		logger:   logger,
		byOwner:  make(map[string]*workingmemory.Memory),
	}
}

// WorkingMemoryFor returns the owner's working memory, creating it on
// first use.
func (s *Service) WorkingMemoryFor(ownerID string) *workingmemory.Memory {
	s.mu.Lock()
	defer s.mu.Unlock()
	wm, ok := s.byOwner[ownerID]
	if !ok {
		wm = workingmemory.New(s.cfg.WorkingMemoryTokens)
		s.byOwner[ownerID] = wm
	}
	return wm
}

// RememberResult reports the outcome of a remember call.
type RememberResult struct {
	ID    string
	IsNew bool
}

// Remember durably stores content for an owner, places it in the
// owner's working memory, and schedules enrichment. It returns as
// soon as the item is stored; embedding and tags arrive later.
func (s *Service) Remember(ctx context.Context, content, ownerID string, importance float64) (RememberResult, error) {
	if content == "" {
		return RememberResult{}, validationErrorf("content", "must not be empty")
	}
	if len(content) > s.cfg.MaxContentBytes {
		return RememberResult{}, validationErrorf("content", "exceeds %d bytes", s.cfg.MaxContentBytes)
	}
	if ownerID == "" {
		return RememberResult{}, validationErrorf("owner_id", "must not be empty")
	}
	if importance < 0 || importance > workingmemory.MaxImportance {
		return RememberResult{}, validationErrorf("importance", "must be in [0, %v]", workingmemory.MaxImportance)
	}

	added, err := s.store.Add(ctx, content, ownerID)
	if err != nil {
		return RememberResult{}, err
	}

	s.placeInWorkingMemory(ctx, ownerID, added.ID, content, importance, false)

	if added.IsNew {
		s.pipeline.Enqueue(added.ID)
	}

	s.logger.Debug("remembered item", "item_id", added.ID, "owner_id", ownerID, "is_new", added.IsNew)
	return RememberResult{ID: added.ID, IsNew: added.IsNew}, nil
}

// placeInWorkingMemory adds an entry to the owner's working memory,
// evicting lower-scored entries first when the budget is tight.
// Entries above MaxEntryTokens are not admitted at all; evicting the
// entire memory still could not make room for them. Evicted entries
// only lose their working-memory flag; the durable rows are untouched.
func (s *Service) placeInWorkingMemory(ctx context.Context, ownerID, itemID, content string, importance float64, fromRecall bool) {
	wm := s.WorkingMemoryFor(ownerID)
	tokens := s.counter.Count(content)
	if tokens > s.cfg.MaxEntryTokens {
		s.logger.Debug("item too large for working memory",
			"item_id", itemID, "owner_id", ownerID,
			"tokens", tokens, "max_entry_tokens", s.cfg.MaxEntryTokens)
		return
	}
	if !wm.HasSpace(tokens) {
		for _, evicted := range wm.EvictToMakeSpace(tokens) {
			if err := s.store.SetInWorkingMemory(ctx, ownerID, evicted.Key, false); err != nil {
				s.logger.Warn("failed to clear working-memory flag", "item_id", evicted.Key, "error", err)
			}
		}
	}
	wm.Add(itemID, content, tokens, workingmemory.AddOptions{Importance: importance, FromRecall: fromRecall})
	if err := s.store.SetInWorkingMemory(ctx, ownerID, itemID, true); err != nil {
		s.logger.Warn("failed to set working-memory flag", "item_id", itemID, "error", err)
	}
}

// RecallParams selects what to recall and how.
type RecallParams struct {
	Query    string
	OwnerID  string
	Strategy string
	Limit    int
	// Window bounds the search; when both sides are zero the default
	// recall window ending now is used.
	Window retrieval.Window
	// Importance to assign recalled entries in working memory.
	Importance float64
}

// Recall searches stored items and loads the results into the owner's
// working memory.
func (s *Service) Recall(ctx context.Context, p RecallParams) ([]retrieval.RankedItem, error) {
	if p.Query == "" {
		return nil, validationErrorf("query", "must not be empty")
	}
	if p.OwnerID == "" {
		return nil, validationErrorf("owner_id", "must not be empty")
	}
	if p.Limit == 0 {
		p.Limit = s.cfg.DefaultRecallLimit
	}
	if p.Limit < 0 {
		return nil, validationErrorf("limit", "must be positive, got %d", p.Limit)
	}
	if p.Strategy == "" {
		p.Strategy = SearchHybrid
	}
	if !p.Window.From.IsZero() && !p.Window.To.IsZero() && p.Window.To.Before(p.Window.From) {
		return nil, validationErrorf("window", "end precedes start")
	}
	if p.Window.From.IsZero() && p.Window.To.IsZero() {
		p.Window = retrieval.Window{From: time.Now().Add(-s.cfg.DefaultRecallWindow)}
	}

	var (
		results []retrieval.RankedItem
		err     error
	)
	switch p.Strategy {
	case SearchVector:
		results, err = s.engine.SearchVector(ctx, p.Window, p.Query, p.Limit, s.embedder)
	case SearchFulltext:
		results, err = s.engine.SearchFulltext(ctx, p.Window, p.Query, p.Limit)
	case SearchHybrid:
		results, err = s.engine.SearchHybrid(ctx, p.Window, p.Query, p.Limit, s.embedder)
	default:
		return nil, validationErrorf("strategy", "unknown strategy %q", p.Strategy)
	}
	if err != nil {
		return nil, err
	}

	for _, r := range results {
		s.placeInWorkingMemory(ctx, p.OwnerID, r.Item.ID, r.Item.Content, p.Importance, true)
	}
	return results, nil
}

// Forget removes an item. Soft deletion hides it from recall but
// keeps it restorable; permanent deletion requires confirmed=true and
// raises a ValidationError otherwise, so deletion intent is always
// explicit.
func (s *Service) Forget(ctx context.Context, itemID, ownerID string, soft, confirmed bool) error {
	if itemID == "" {
		return validationErrorf("item_id", "must not be empty")
	}

	var err error
	if soft {
		err = s.store.SoftDelete(ctx, itemID)
	} else {
		if !confirmed {
			return validationErrorf("confirmed", "permanent deletion requires confirmation")
		}
		err = s.store.HardDelete(ctx, itemID, true)
	}
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{ID: itemID}
	}
	if err != nil {
		return err
	}

	if ownerID != "" {
		s.WorkingMemoryFor(ownerID).Remove(itemID)
	}
	return nil
}

// Restore brings a soft-deleted item back into recall results.
func (s *Service) Restore(ctx context.Context, itemID string) error {
	if itemID == "" {
		return validationErrorf("item_id", "must not be empty")
	}
	err := s.store.Restore(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return &NotFoundError{ID: itemID}
	}
	return err
}

// Get loads a single live item by id.
func (s *Service) Get(ctx context.Context, itemID string) (retrieval.RankedItem, error) {
	item, err := s.store.Retrieve(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) {
		return retrieval.RankedItem{}, &NotFoundError{ID: itemID}
	}
	if err != nil {
		return retrieval.RankedItem{}, err
	}
	tagPaths, err := s.store.TagsForItem(ctx, itemID)
	if err != nil {
		return retrieval.RankedItem{}, err
	}
	return retrieval.RankedItem{Item: *item, MatchedTags: tagPaths}, nil
}

// AssembleContext concatenates the owner's working-memory entries
// under the given strategy and token budget.
func (s *Service) AssembleContext(ownerID, strategy string, maxTokens int) (string, error) {
	if ownerID == "" {
		return "", validationErrorf("owner_id", "must not be empty")
	}
	text, err := s.WorkingMemoryFor(ownerID).AssembleContext(strategy, maxTokens)
	if err != nil {
		return "", validationErrorf("strategy", "%s", err.Error())
	}
	return text, nil
}
