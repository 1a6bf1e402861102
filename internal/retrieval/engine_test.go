// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package retrieval

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/muninn-mcp/muninn/internal/database"
	"github.com/muninn-mcp/muninn/internal/store"
)

type fakeEmbedder struct {
	vectors map[string][]float32
	fail    bool
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.fail {
		return nil, fmt.Errorf("embedding service unavailable")
	}
	if v, ok := f.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (f *fakeEmbedder) Dimensions() int { return 3 }

func (f *fakeEmbedder) Model() string { return "fake-embedder" }

func newTestEngine(t *testing.T) (*store.Store, *Engine) {
	t.Helper()
	db, err := database.Connect(&database.Config{
		Type:       database.DialectSQLite,
		SQLitePath: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	t.Cleanup(func() { _ = database.Close(db) })
	return store.New(db), NewEngine(db, Config{}, nil)
}

func TestSearchVector_RanksBySimilarity(t *testing.T) {
	s, e := newTestEngine(t)
	ctx := context.Background()

	near, err := s.Add(ctx, "postgres index tuning", "agent-1")
	require.NoError(t, err)
	far, err := s.Add(ctx, "sourdough starter care", "agent-1")
	require.NoError(t, err)
	require.NoError(t, s.SetEmbedding(ctx, near.ID, []float32{1, 0, 0}, "m"))
	require.NoError(t, s.SetEmbedding(ctx, far.ID, []float32{0, 1, 0}, "m"))

	emb := &fakeEmbedder{vectors: map[string][]float32{"indexes": {1, 0, 0}}}
	results, err := e.SearchVector(ctx, Window{}, "indexes", 10, emb)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, near.ID, results[0].Item.ID)
	assert.InDelta(t, 1.0, results[0].Similarity, 0.001)
	assert.Equal(t, far.ID, results[1].Item.ID)
}

func TestSearchVector_NeutralForUnembedded(t *testing.T) {
	s, e := newTestEngine(t)
	ctx := context.Background()

	pending, err := s.Add(ctx, "freshly remembered, no vector yet", "agent-1")
	require.NoError(t, err)

	emb := &fakeEmbedder{}
	results, err := e.SearchVector(ctx, Window{}, "anything", 10, emb)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, pending.ID, results[0].Item.ID)
	assert.InDelta(t, 0.5, results[0].Similarity, 0.001)
}

func TestSearchVector_Validation(t *testing.T) {
	_, e := newTestEngine(t)
	emb := &fakeEmbedder{}

	_, err := e.SearchVector(context.Background(), Window{}, "  ", 10, emb)
	assert.Error(t, err)

	_, err = e.SearchVector(context.Background(), Window{}, "query", 0, emb)
	assert.Error(t, err)
}

func TestSearchFulltext_MatchesAndRanks(t *testing.T) {
	s, e := newTestEngine(t)
	ctx := context.Background()

	both, err := s.Add(ctx, "circuit breaker reset timeout behavior", "agent-1")
	require.NoError(t, err)
	one, err := s.Add(ctx, "the breaker panel is in the basement", "agent-1")
	require.NoError(t, err)
	_, err = s.Add(ctx, "completely unrelated content", "agent-1")
	require.NoError(t, err)

	results, err := e.SearchFulltext(ctx, Window{}, "circuit breaker", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, both.ID, results[0].Item.ID)
	assert.Equal(t, one.ID, results[1].Item.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestSearchFulltext_WindowEnforced(t *testing.T) {
	s, e := newTestEngine(t)
	ctx := context.Background()

	res, err := s.Add(ctx, "windowed breaker note", "agent-1")
	require.NoError(t, err)

	future := Window{From: time.Now().Add(time.Hour)}
	results, err := e.SearchFulltext(ctx, future, "breaker", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	open, err := e.SearchFulltext(ctx, Window{}, "breaker", 10)
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, res.ID, open[0].Item.ID)
}

func TestSearchFulltext_ExcludesSoftDeleted(t *testing.T) {
	s, e := newTestEngine(t)
	ctx := context.Background()

	res, err := s.Add(ctx, "forgotten breaker fact", "agent-1")
	require.NoError(t, err)
	require.NoError(t, s.SoftDelete(ctx, res.ID))

	results, err := e.SearchFulltext(ctx, Window{}, "breaker", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	require.NoError(t, s.Restore(ctx, res.ID))
	results, err = e.SearchFulltext(ctx, Window{}, "breaker", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestSearchHybrid_TagBoostBreaksTie(t *testing.T) {
	s, e := newTestEngine(t)
	ctx := context.Background()

	tagged, err := s.Add(ctx, "postgres vacuum scheduling notes", "agent-1")
	require.NoError(t, err)
	plain, err := s.Add(ctx, "postgres vacuum scheduling ideas", "agent-1")
	require.NoError(t, err)
	require.NoError(t, s.AttachTags(ctx, tagged.ID, []string{"postgres"}))

	// Identical similarity for both, so the tag boost decides.
	require.NoError(t, s.SetEmbedding(ctx, tagged.ID, []float32{1, 0, 0}, "m"))
	require.NoError(t, s.SetEmbedding(ctx, plain.ID, []float32{1, 0, 0}, "m"))

	emb := &fakeEmbedder{vectors: map[string][]float32{"postgres vacuum": {1, 0, 0}}}
	results, err := e.SearchHybrid(ctx, Window{}, "postgres vacuum", 10, emb)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, tagged.ID, results[0].Item.ID)
	assert.Greater(t, results[0].TagBoost, results[1].TagBoost)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.Contains(t, results[0].MatchedTags, "postgres")
}

func TestSearchHybrid_TagOnlyCandidate(t *testing.T) {
	s, e := newTestEngine(t)
	ctx := context.Background()

	// No lexical overlap with the query, reachable only via its tag.
	res, err := s.Add(ctx, "run ANALYZE after bulk loads", "agent-1")
	require.NoError(t, err)
	require.NoError(t, s.AttachTags(ctx, res.ID, []string{"postgres:maintenance"}))

	emb := &fakeEmbedder{}
	results, err := e.SearchHybrid(ctx, Window{}, "postgres tips", 10, emb)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, res.ID, results[0].Item.ID)
	assert.Greater(t, results[0].TagBoost, 0.0)
}

func TestSearchHybrid_EmbedFailureDegrades(t *testing.T) {
	s, e := newTestEngine(t)
	ctx := context.Background()

	res, err := s.Add(ctx, "degraded search still finds this", "agent-1")
	require.NoError(t, err)

	emb := &fakeEmbedder{fail: true}
	results, err := e.SearchHybrid(ctx, Window{}, "degraded search", 10, emb)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, res.ID, results[0].Item.ID)
	assert.InDelta(t, 0.5, results[0].Similarity, 0.001)
}

func TestFindTagsMatching(t *testing.T) {
	s, e := newTestEngine(t)
	ctx := context.Background()

	res, err := s.Add(ctx, "tagged item", "agent-1")
	require.NoError(t, err)
	require.NoError(t, s.AttachTags(ctx, res.ID, []string{"postgres", "postgres:indexing", "baking:bread"}))

	matches, err := e.FindTagsMatching(ctx, "postgres indexing tricks")
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, "postgres", matches[0].Path)
	assert.InDelta(t, 1.0, matches[0].Strength, 0.001)
	assert.Equal(t, "postgres:indexing", matches[1].Path)
	assert.InDelta(t, 0.75, matches[1].Strength, 0.001)

	none, err := e.FindTagsMatching(ctx, "zz")
	require.NoError(t, err)
	assert.Empty(t, none)
}
