// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package memory

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muninn-mcp/muninn/internal/breaker"
	"github.com/muninn-mcp/muninn/internal/database"
	"github.com/muninn-mcp/muninn/internal/enrichment"
	"github.com/muninn-mcp/muninn/internal/retrieval"
	"github.com/muninn-mcp/muninn/internal/store"
)

type stubEmbedder struct{}

func (stubEmbedder) Embed(_ context.Context, _ string) ([]float32, error) {
	return []float32{1, 0, 0, 0}, nil
}

func (stubEmbedder) Dimensions() int { return 4 }

func (stubEmbedder) Model() string { return "stub-embedder" }

type stubTagger struct{ replies []string }

func (t stubTagger) ExtractTags(_ context.Context, _ string, _ []string) ([]string, error) {
	return t.replies, nil
}

func newTestService(t *testing.T, cfg Config) *Service {
	t.Helper()
	db, err := database.Connect(&database.Config{
		Type:       database.DialectSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })

	s := store.New(db)
	engine := retrieval.NewEngine(db, retrieval.Config{}, nil)
	embedder := stubEmbedder{}
	pipeline := enrichment.New(s,
		embedder, stubTagger{replies: []string{"testing:notes"}},
		breaker.New("embedding", breaker.Config{}),
		breaker.New("tagging", breaker.Config{}),
		enrichment.Inline{}, enrichment.Config{}, nil)
	return NewService(s, engine, pipeline, embedder, nil, cfg, nil)
}

func TestRemember_DedupIdempotence(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx := context.Background()

	first, err := svc.Remember(ctx, "the capital of France is Paris", "agent-1", 0)
	require.NoError(t, err)
	assert.True(t, first.IsNew)

	second, err := svc.Remember(ctx, "the capital of France is Paris", "agent-1", 0)
	require.NoError(t, err)
	assert.False(t, second.IsNew)
	assert.Equal(t, first.ID, second.ID)

	other, err := svc.Remember(ctx, "the capital of France is Paris", "agent-2", 0)
	require.NoError(t, err)
	assert.False(t, other.IsNew)
	assert.Equal(t, first.ID, other.ID)
}

func TestRemember_Validation(t *testing.T) {
	svc := newTestService(t, Config{MaxContentBytes: 32})
	ctx := context.Background()

	_, err := svc.Remember(ctx, "", "agent-1", 0)
	assert.True(t, IsValidationError(err))

	_, err = svc.Remember(ctx, strings.Repeat("x", 33), "agent-1", 0)
	assert.True(t, IsValidationError(err))

	_, err = svc.Remember(ctx, "content", "", 0)
	assert.True(t, IsValidationError(err))

	_, err = svc.Remember(ctx, "content", "agent-1", 99)
	assert.True(t, IsValidationError(err))
}

func TestRecall_FindsRememberedItem(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx := context.Background()

	res, err := svc.Remember(ctx, "pgvector supports cosine distance operators", "agent-1", 0)
	require.NoError(t, err)

	results, err := svc.Recall(ctx, RecallParams{Query: "pgvector cosine", OwnerID: "agent-1"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, res.ID, results[0].Item.ID)

	// Recalled items land in working memory.
	wm := svc.WorkingMemoryFor("agent-1")
	assert.Equal(t, 1, wm.EntryCount())
}

func TestRecall_Validation(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx := context.Background()

	_, err := svc.Recall(ctx, RecallParams{Query: "", OwnerID: "agent-1"})
	assert.True(t, IsValidationError(err))

	_, err = svc.Recall(ctx, RecallParams{Query: "q", OwnerID: "agent-1", Limit: -1})
	assert.True(t, IsValidationError(err))

	_, err = svc.Recall(ctx, RecallParams{Query: "q", OwnerID: "agent-1", Strategy: "psychic"})
	assert.True(t, IsValidationError(err))
}

func TestRecall_Strategies(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx := context.Background()

	_, err := svc.Remember(ctx, "three strategies share one candidate", "agent-1", 0)
	require.NoError(t, err)

	for _, strategy := range []string{SearchVector, SearchFulltext, SearchHybrid} {
		results, err := svc.Recall(ctx, RecallParams{
			Query:    "three strategies",
			OwnerID:  "agent-1",
			Strategy: strategy,
		})
		require.NoError(t, err, strategy)
		assert.NotEmpty(t, results, strategy)
	}
}

func TestForget_SoftDeleteRoundTrip(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx := context.Background()

	res, err := svc.Remember(ctx, "temporarily forgettable fact", "agent-1", 0)
	require.NoError(t, err)

	require.NoError(t, svc.Forget(ctx, res.ID, "agent-1", true, false))

	results, err := svc.Recall(ctx, RecallParams{Query: "forgettable fact", OwnerID: "agent-1"})
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, svc.Restore(ctx, res.ID))

	results, err = svc.Recall(ctx, RecallParams{Query: "forgettable fact", OwnerID: "agent-1"})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	assert.Equal(t, res.ID, results[0].Item.ID)
}

func TestForget_HardDeleteRequiresConfirmation(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx := context.Background()

	res, err := svc.Remember(ctx, "permanently forgettable fact", "agent-1", 0)
	require.NoError(t, err)

	err = svc.Forget(ctx, res.ID, "agent-1", false, false)
	assert.True(t, IsValidationError(err))

	// Still live.
	_, err = svc.Get(ctx, res.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Forget(ctx, res.ID, "agent-1", false, true))
	assert.True(t, IsNotFoundError(svc.Restore(ctx, res.ID)))
}

func TestForget_UnknownID(t *testing.T) {
	svc := newTestService(t, Config{})
	err := svc.Forget(context.Background(), "missing", "agent-1", true, false)
	assert.True(t, IsNotFoundError(err))
}

func TestRemember_EvictionClearsFlag(t *testing.T) {
	// Budget fits two entries of ~27 tokens; the third remember must
	// evict the least important one.
	svc := newTestService(t, Config{WorkingMemoryTokens: 60})
	ctx := context.Background()

	low, err := svc.Remember(ctx, strings.Repeat("low importance filler ", 5), "agent-1", 1)
	require.NoError(t, err)
	_, err = svc.Remember(ctx, strings.Repeat("high importance filler ", 5), "agent-1", 9)
	require.NoError(t, err)
	_, err = svc.Remember(ctx, strings.Repeat("newest entry arrives here ", 5), "agent-1", 5)
	require.NoError(t, err)

	wm := svc.WorkingMemoryFor("agent-1")
	for _, e := range wm.Entries() {
		assert.NotEqual(t, low.ID, e.Key, "least important entry should have been evicted")
	}

	link, err := svc.Get(ctx, low.ID)
	require.NoError(t, err)
	_ = link // durable row survives eviction
}

func TestRemember_OversizedEntryNotAdmitted(t *testing.T) {
	// ~100 tokens against a 60-token budget: the item is stored but
	// never enters working memory, and the existing entry survives.
	svc := newTestService(t, Config{WorkingMemoryTokens: 60})
	ctx := context.Background()

	small, err := svc.Remember(ctx, "a short note that fits", "agent-1", 5)
	require.NoError(t, err)

	big, err := svc.Remember(ctx, strings.Repeat("oversized payload ", 25), "agent-1", 9)
	require.NoError(t, err)

	wm := svc.WorkingMemoryFor("agent-1")
	assert.LessOrEqual(t, wm.TokenCount(), 60)
	assert.Equal(t, 1, wm.EntryCount())
	assert.Equal(t, small.ID, wm.Entries()[0].Key)

	got, err := svc.Get(ctx, big.ID)
	require.NoError(t, err)
	assert.Equal(t, big.ID, got.Item.ID)
}

func TestAssembleContext(t *testing.T) {
	svc := newTestService(t, Config{})
	ctx := context.Background()

	_, err := svc.Remember(ctx, "first remembered sentence", "agent-1", 2)
	require.NoError(t, err)
	_, err = svc.Remember(ctx, "second remembered sentence", "agent-1", 8)
	require.NoError(t, err)

	text, err := svc.AssembleContext("agent-1", "important", 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(text, "second remembered sentence"))
	assert.Contains(t, text, "first remembered sentence")

	_, err = svc.AssembleContext("agent-1", "psychic", 0)
	assert.True(t, IsValidationError(err))
}
