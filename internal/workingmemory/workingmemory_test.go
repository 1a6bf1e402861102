// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package workingmemory

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMemory(maxTokens int) (*Memory, *time.Time) {
	m := New(maxTokens)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }
	return m, &now
}

func TestAddAndAccessors(t *testing.T) {
	m, _ := newTestMemory(1000)

	m.Add("a", "alpha", 100, AddOptions{})
	m.Add("b", "beta", 200, AddOptions{Importance: 5})

	assert.Equal(t, 300, m.TokenCount())
	assert.Equal(t, 2, m.EntryCount())
	assert.InDelta(t, 30.0, m.UtilizationPercentage(), 0.001)
	assert.True(t, m.HasSpace(700))
	assert.False(t, m.HasSpace(701))
}

func TestAdd_RefreshReplacesTokenCount(t *testing.T) {
	m, _ := newTestMemory(1000)

	m.Add("a", "alpha", 100, AddOptions{})
	m.Add("a", "alpha v2", 250, AddOptions{Importance: 2})

	assert.Equal(t, 250, m.TokenCount())
	assert.Equal(t, 1, m.EntryCount())
}

func TestRemove_NoopWhenAbsent(t *testing.T) {
	m, _ := newTestMemory(1000)
	m.Add("a", "alpha", 100, AddOptions{})

	m.Remove("missing")
	assert.Equal(t, 100, m.TokenCount())

	m.Remove("a")
	assert.Equal(t, 0, m.TokenCount())
	assert.Equal(t, 0, m.EntryCount())
}

func TestEvict_LowestImportanceFirst(t *testing.T) {
	m, _ := newTestMemory(300)

	m.Add("low", "low", 100, AddOptions{Importance: 1})
	m.Add("mid", "mid", 100, AddOptions{Importance: 5})
	m.Add("high", "high", 100, AddOptions{Importance: 9})

	evicted := m.EvictToMakeSpace(100)
	require.Len(t, evicted, 1)
	assert.Equal(t, "low", evicted[0].Key)
	assert.True(t, m.HasSpace(100))
}

func TestEvict_OldestWinsTieAtEqualImportance(t *testing.T) {
	m, now := newTestMemory(300)

	m.Add("older", "older", 100, AddOptions{Importance: 3})
	*now = now.Add(time.Hour)
	m.Add("newer", "newer", 100, AddOptions{Importance: 3})
	m.Add("filler", "filler", 100, AddOptions{Importance: 9})

	evicted := m.EvictToMakeSpace(100)
	require.Len(t, evicted, 1)
	assert.Equal(t, "older", evicted[0].Key)
}

func TestEvict_MinimalPrefix(t *testing.T) {
	m, _ := newTestMemory(250)

	// Importances 2.0, 8.0, 5.0 at equal token cost: asking for 100
	// tokens must evict exactly the 2.0 entry.
	m.Add("a", "a", 100, AddOptions{Importance: 2.0})
	m.Add("b", "b", 100, AddOptions{Importance: 8.0})
	// Third add would exceed the 250 budget, evict first.
	evicted := m.EvictToMakeSpace(100)
	require.Len(t, evicted, 1)
	assert.Equal(t, "a", evicted[0].Key)

	m.Add("c", "c", 100, AddOptions{Importance: 5.0})
	assert.Equal(t, 2, m.EntryCount())
}

func TestEvict_MultipleUntilEnoughFreed(t *testing.T) {
	m, _ := newTestMemory(300)

	m.Add("a", "a", 100, AddOptions{Importance: 1})
	m.Add("b", "b", 100, AddOptions{Importance: 2})
	m.Add("c", "c", 100, AddOptions{Importance: 3})

	evicted := m.EvictToMakeSpace(250)
	require.Len(t, evicted, 2)
	assert.Equal(t, "a", evicted[0].Key)
	assert.Equal(t, "b", evicted[1].Key)
	assert.True(t, m.HasSpace(250))
}

func TestAssembleContext_Recent(t *testing.T) {
	m, now := newTestMemory(1000)

	m.Add("first", "first entry", 10, AddOptions{})
	*now = now.Add(time.Minute)
	m.Add("second", "second entry", 10, AddOptions{})
	*now = now.Add(time.Minute)
	m.Touch("first")

	out, err := m.AssembleContext(StrategyRecent, 0)
	require.NoError(t, err)
	assert.Equal(t, "first entry\n\nsecond entry", out)
}

func TestAssembleContext_Important(t *testing.T) {
	m, _ := newTestMemory(1000)

	m.Add("minor", "minor", 10, AddOptions{Importance: 1})
	m.Add("major", "major", 10, AddOptions{Importance: 9})

	out, err := m.AssembleContext(StrategyImportant, 0)
	require.NoError(t, err)
	assert.Equal(t, "major\n\nminor", out)
}

func TestAssembleContext_BalancedDecaysOldImportance(t *testing.T) {
	m, now := newTestMemory(1000)

	// Importance 8 from a day ago scores 8/25 = 0.32; importance 2
	// added now scores 2.0 and must come first.
	m.Add("old-important", "old", 10, AddOptions{Importance: 8})
	*now = now.Add(24 * time.Hour)
	m.Add("fresh-minor", "fresh", 10, AddOptions{Importance: 2})

	out, err := m.AssembleContext(StrategyBalanced, 0)
	require.NoError(t, err)
	assert.Equal(t, "fresh\n\nold", out)
}

func TestAssembleContext_StopsAtBudget(t *testing.T) {
	m, _ := newTestMemory(1000)

	m.Add("a", "aaa", 60, AddOptions{Importance: 9})
	m.Add("b", "bbb", 60, AddOptions{Importance: 5})

	out, err := m.AssembleContext(StrategyImportant, 100)
	require.NoError(t, err)
	assert.Equal(t, "aaa", out)
}

func TestAssembleContext_UnknownStrategy(t *testing.T) {
	m, _ := newTestMemory(1000)
	_, err := m.AssembleContext("chronological", 0)
	assert.Error(t, err)
}

func TestConcurrentAddEvict(t *testing.T) {
	m := New(1000)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				key := fmt.Sprintf("w%d-%d", n, j)
				m.EvictToMakeSpace(50)
				m.Add(key, "value", 50, AddOptions{Importance: float64(j % 10)})
			}
		}(i)
	}
	wg.Wait()

	// The budget is never exceeded regardless of interleaving.
	assert.LessOrEqual(t, m.TokenCount(), 1000)
}
