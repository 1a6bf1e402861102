// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package enrichment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/muninn-mcp/muninn/internal/breaker"
	"github.com/muninn-mcp/muninn/internal/provider"
	"github.com/muninn-mcp/muninn/internal/store"
	"github.com/muninn-mcp/muninn/internal/tags"
)

// Config tunes the pipeline. Zero values fall back to the defaults.
type Config struct {
	// CallTimeout bounds each provider round trip. The breaker only
	// sees calls that already carry their own deadline.
	CallTimeout time.Duration
	// MaxTagDepth is passed through to tag validation.
	MaxTagDepth int
}

// DefaultConfig returns the standard pipeline configuration.
func DefaultConfig() Config {
	return Config{
		CallTimeout: 30 * time.Second,
		MaxTagDepth: tags.DefaultMaxDepth,
	}
}

// Pipeline computes embeddings and tags for stored items off the
// write path. Each provider sits behind its own circuit breaker; when
// a breaker is open the job is logged and dropped, and a later sweep
// picks the item up again.
type Pipeline struct {
	store        *store.Store
	embedder     provider.EmbeddingProvider
	tagger       provider.TagProvider
	embedBreaker *breaker.Breaker
	tagBreaker   *breaker.Breaker
	executor     Executor
	cfg          Config
	logger       *slog.Logger
}

// New creates a Pipeline. A nil executor defaults to Goroutine; a nil
// logger defaults to slog.Default.
func New(s *store.Store, embedder provider.EmbeddingProvider, tagger provider.TagProvider, embedBreaker, tagBreaker *breaker.Breaker, executor Executor, cfg Config, logger *slog.Logger) *Pipeline {
	def := DefaultConfig()
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = def.CallTimeout
	}
	if cfg.MaxTagDepth <= 0 {
		cfg.MaxTagDepth = def.MaxTagDepth
	}
	if executor == nil {
		executor = Goroutine{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:        s,
		embedder:     embedder,
		tagger:       tagger,
		embedBreaker: embedBreaker,
		tagBreaker:   tagBreaker,
		executor:     executor,
		cfg:          cfg,
		logger:       logger,
	}
}

// Enqueue schedules the embedding job and the tag job for an item.
// The two jobs are independent and may run concurrently; neither
// failure reaches the caller.
func (p *Pipeline) Enqueue(itemID string) {
	p.executor.Execute(func() {
		if err := p.EmbedItem(context.Background(), itemID); err != nil {
			p.logJobError("embedding", itemID, err)
		}
	})
	p.executor.Execute(func() {
		if err := p.TagItem(context.Background(), itemID); err != nil {
			p.logJobError("tagging", itemID, err)
		}
	})
}

// EnrichNow runs both jobs for an item and waits for them. The two
// branches run in parallel; the first error wins but both always run
// to completion.
func (p *Pipeline) EnrichNow(ctx context.Context, itemID string) error {
	var g errgroup.Group
	g.Go(func() error { return p.EmbedItem(ctx, itemID) })
	g.Go(func() error { return p.TagItem(ctx, itemID) })
	return g.Wait()
}

// logJobError distinguishes "dependency down" from real failures. An
// open breaker is expected during an outage and logged at info; the
// sweep retries the item later.
func (p *Pipeline) logJobError(job, itemID string, err error) {
	if errors.Is(err, breaker.ErrOpen) {
		p.logger.Info("enrichment job dropped, breaker open", "job", job, "item_id", itemID)
		return
	}
	p.logger.Error("enrichment job failed", "job", job, "item_id", itemID, "error", err)
}

// EmbedItem computes and stores the embedding for an item. Re-running
// it overwrites the previous vector. Soft-deleted items are skipped.
func (p *Pipeline) EmbedItem(ctx context.Context, itemID string) error {
	item, err := p.store.RetrieveAny(ctx, itemID)
	if err != nil {
		return err
	}
	if item.DeletedAt.Valid {
		return nil
	}

	var vec []float32
	err = p.embedBreaker.Call(func() error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()
		var embedErr error
		vec, embedErr = p.embedder.Embed(callCtx, item.Content)
		return embedErr
	})
	if err != nil {
		return err
	}

	vec = provider.PadOrTruncate(vec, p.embedder.Dimensions())
	return p.store.SetEmbedding(ctx, itemID, vec, p.embedder.Model())
}

// TagItem extracts tags for an item and attaches the ones that pass
// validation. Structurally invalid tags and meta replies from the
// provider are discarded, not surfaced.
func (p *Pipeline) TagItem(ctx context.Context, itemID string) error {
	item, err := p.store.RetrieveAny(ctx, itemID)
	if err != nil {
		return err
	}
	if item.DeletedAt.Valid {
		return nil
	}

	taxonomy, err := p.store.AllTagPaths(ctx)
	if err != nil {
		return err
	}

	var raw []string
	err = p.tagBreaker.Call(func() error {
		callCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
		defer cancel()
		var tagErr error
		raw, tagErr = p.tagger.ExtractTags(callCtx, item.Content, taxonomy)
		return tagErr
	})
	if err != nil {
		return err
	}

	valid := p.filterTags(itemID, raw)
	if len(valid) == 0 {
		return nil
	}
	return p.store.AttachTags(ctx, itemID, valid)
}

func (p *Pipeline) filterTags(itemID string, raw []string) []string {
	valid := make([]string, 0, len(raw))
	for _, candidate := range raw {
		if tags.IsMetaResponse(candidate) {
			p.logger.Debug("discarding meta tag reply", "item_id", itemID, "reply", candidate)
			continue
		}
		path := tags.Normalize(candidate)
		if err := tags.Validate(path, p.cfg.MaxTagDepth); err != nil {
			p.logger.Debug("discarding invalid tag", "item_id", itemID, "tag", candidate, "error", err)
			continue
		}
		valid = append(valid, path)
	}
	return valid
}

// Sweep enqueues enrichment for items still missing an embedding,
// oldest first. It is the recovery path for jobs dropped while a
// breaker was open.
func (p *Pipeline) Sweep(ctx context.Context, batchSize int) (int, error) {
	items, err := p.store.ItemsWithoutEmbedding(ctx, batchSize)
	if err != nil {
		return 0, fmt.Errorf("sweep failed to list pending items: %w", err)
	}
	for _, item := range items {
		p.Enqueue(item.ID)
	}
	if len(items) > 0 {
		p.logger.Info("enrichment sweep enqueued pending items", "count", len(items))
	}
	return len(items), nil
}
