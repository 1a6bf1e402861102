// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package enrichment

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muninn-mcp/muninn/internal/breaker"
	"github.com/muninn-mcp/muninn/internal/database"
	"github.com/muninn-mcp/muninn/internal/store"
)

type fakeEmbedder struct {
	mu    sync.Mutex
	calls int
	fail  bool
}

func (f *fakeEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.fail {
		return nil, fmt.Errorf("embedding service down")
	}
	return []float32{1, 0, 0, 0}, nil
}

func (f *fakeEmbedder) Dimensions() int { return 4 }

func (f *fakeEmbedder) Model() string { return "fake-embedder" }

func (f *fakeEmbedder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeTagger struct {
	mu       sync.Mutex
	replies  []string
	taxonomy []string
	fail     bool
}

func (f *fakeTagger) ExtractTags(_ context.Context, _ string, taxonomyHint []string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return nil, fmt.Errorf("tagging service down")
	}
	f.taxonomy = taxonomyHint
	return f.replies, nil
}

func newTestPipeline(t *testing.T, embedder *fakeEmbedder, tagger *fakeTagger) (*store.Store, *Pipeline) {
	t.Helper()
	db, err := database.Connect(&database.Config{
		Type:       database.DialectSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	s := store.New(db)
	p := New(s,
		embedder, tagger,
		breaker.New("embedding", breaker.Config{}),
		breaker.New("tagging", breaker.Config{}),
		Inline{}, Config{}, nil)
	return s, p
}

func TestEnrichNow_WritesVectorAndTags(t *testing.T) {
	embedder := &fakeEmbedder{}
	tagger := &fakeTagger{replies: []string{"infra:postgres"}}
	s, p := newTestPipeline(t, embedder, tagger)
	ctx := context.Background()

	res, err := s.Add(ctx, "postgres keeps statistics per table", "agent-1")
	require.NoError(t, err)

	require.NoError(t, p.EnrichNow(ctx, res.ID))

	item, err := s.RetrieveAny(ctx, res.ID)
	require.NoError(t, err)
	require.NotNil(t, item.Embedding)
	assert.Equal(t, "fake-embedder", item.EmbeddingModel)

	paths, err := s.TagsForItem(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"infra:postgres"}, paths)
}

func TestEnrichNow_Idempotent(t *testing.T) {
	embedder := &fakeEmbedder{}
	tagger := &fakeTagger{replies: []string{"infra:postgres"}}
	s, p := newTestPipeline(t, embedder, tagger)
	ctx := context.Background()

	res, err := s.Add(ctx, "idempotent enrichment", "agent-1")
	require.NoError(t, err)

	require.NoError(t, p.EnrichNow(ctx, res.ID))
	require.NoError(t, p.EnrichNow(ctx, res.ID))

	paths, err := s.TagsForItem(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"infra:postgres"}, paths)

	item, err := s.RetrieveAny(ctx, res.ID)
	require.NoError(t, err)
	require.NotNil(t, item.Embedding)
}

func TestTagItem_DiscardsInvalidAndMetaReplies(t *testing.T) {
	embedder := &fakeEmbedder{}
	tagger := &fakeTagger{replies: []string{
		"infra:postgres",
		"Please provide more context about the text.",
		"a::b",
		"one:two:three:four:five",
		"loop:loop",
	}}
	s, p := newTestPipeline(t, embedder, tagger)
	ctx := context.Background()

	res, err := s.Add(ctx, "only one of those tags is usable", "agent-1")
	require.NoError(t, err)

	require.NoError(t, p.TagItem(ctx, res.ID))

	paths, err := s.TagsForItem(ctx, res.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"infra:postgres"}, paths)
}

func TestTagItem_PassesTaxonomyHint(t *testing.T) {
	embedder := &fakeEmbedder{}
	tagger := &fakeTagger{replies: []string{"infra:postgres"}}
	s, p := newTestPipeline(t, embedder, tagger)
	ctx := context.Background()

	seed, err := s.Add(ctx, "seed item", "agent-1")
	require.NoError(t, err)
	require.NoError(t, s.AttachTags(ctx, seed.ID, []string{"baking:bread"}))

	res, err := s.Add(ctx, "second item", "agent-1")
	require.NoError(t, err)
	require.NoError(t, p.TagItem(ctx, res.ID))

	assert.Equal(t, []string{"baking:bread"}, tagger.taxonomy)
}

func TestEnqueue_OpenBreakerDropsJob(t *testing.T) {
	embedder := &fakeEmbedder{fail: true}
	tagger := &fakeTagger{replies: []string{"infra:postgres"}}
	s, p := newTestPipeline(t, embedder, tagger)
	ctx := context.Background()

	// Trip the embedding breaker.
	p.embedBreaker = breaker.New("embedding", breaker.Config{FailureThreshold: 1})
	res, err := s.Add(ctx, "enqueued during outage", "agent-1")
	require.NoError(t, err)

	p.Enqueue(res.ID)
	callsAfterTrip := embedder.callCount()
	require.Equal(t, 1, callsAfterTrip)

	// Breaker is open now: the next job is dropped without calling
	// the provider, and nothing reaches the caller.
	p.Enqueue(res.ID)
	assert.Equal(t, callsAfterTrip, embedder.callCount())

	item, err := s.RetrieveAny(ctx, res.ID)
	require.NoError(t, err)
	assert.Nil(t, item.Embedding)

	// The item stays visible to the sweep for later recovery.
	embedder.fail = false
	p.embedBreaker = breaker.New("embedding", breaker.Config{})
	n, err := p.Sweep(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	item, err = s.RetrieveAny(ctx, res.ID)
	require.NoError(t, err)
	assert.NotNil(t, item.Embedding)
}

func TestEmbedItem_SkipsSoftDeleted(t *testing.T) {
	embedder := &fakeEmbedder{}
	tagger := &fakeTagger{}
	s, p := newTestPipeline(t, embedder, tagger)
	ctx := context.Background()

	res, err := s.Add(ctx, "deleted before enrichment ran", "agent-1")
	require.NoError(t, err)
	require.NoError(t, s.SoftDelete(ctx, res.ID))

	require.NoError(t, p.EmbedItem(ctx, res.ID))
	assert.Zero(t, embedder.callCount())
}

func TestPool_RunsAllJobs(t *testing.T) {
	var mu sync.Mutex
	ran := 0
	pool := NewPool(2)
	for i := 0; i < 10; i++ {
		pool.Execute(func() {
			mu.Lock()
			ran++
			mu.Unlock()
		})
	}
	pool.Wait()
	assert.Equal(t, 10, ran)
}
