// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package workingmemory implements the token-bounded active context.
// Entries carry an importance score and recency timestamps; when the
// token budget runs out, the least important entries are evicted
// first, oldest first among equals.
package workingmemory

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Context assembly strategies.
const (
	StrategyRecent    = "recent"
	StrategyImportant = "important"
	// StrategyBalanced weights importance against age so that neither
	// stale-but-important nor fresh-but-trivial entries dominate the
	// assembled context.
	StrategyBalanced = "balanced"
)

const (
	// DefaultMaxTokens is the default context budget.
	DefaultMaxTokens = 8192
	// DefaultImportance is assigned when the caller does not score an
	// entry.
	DefaultImportance = 1.0
	// MaxImportance bounds the importance scale.
	MaxImportance = 10.0
)

// Entry is one unit of active context.
type Entry struct {
	Key            string
	Value          string
	TokenCount     int
	Importance     float64
	AddedAt        time.Time
	LastAccessedAt time.Time
	FromRecall     bool
}

// Memory is the bounded active context. All methods are safe for
// concurrent use; add/evict are check-then-act sequences that run
// under one instance-wide lock.
type Memory struct {
	mu        sync.Mutex
	maxTokens int
	total     int
	entries   map[string]*Entry

	// now is swappable in tests.
	now func() time.Time
}

// New creates a working memory bounded at maxTokens.
func New(maxTokens int) *Memory {
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Memory{
		maxTokens: maxTokens,
		entries:   make(map[string]*Entry),
		now:       time.Now,
	}
}

// AddOptions carries the optional fields of Add.
type AddOptions struct {
	Importance float64
	FromRecall bool
}

// Add inserts or refreshes an entry. It does not check capacity:
// callers decide between HasSpace and EvictToMakeSpace first, under
// their own coordination. Re-adding an existing key refreshes its
// value, token count and recency.
func (m *Memory) Add(key, value string, tokenCount int, opts AddOptions) {
	importance := opts.Importance
	if importance <= 0 {
		importance = DefaultImportance
	}
	if importance > MaxImportance {
		importance = MaxImportance
	}
	if tokenCount < 0 {
		tokenCount = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	if existing, ok := m.entries[key]; ok {
		m.total += tokenCount - existing.TokenCount
		existing.Value = value
		existing.TokenCount = tokenCount
		existing.Importance = importance
		existing.LastAccessedAt = now
		existing.FromRecall = opts.FromRecall
		return
	}

	m.entries[key] = &Entry{
		Key:            key,
		Value:          value,
		TokenCount:     tokenCount,
		Importance:     importance,
		AddedAt:        now,
		LastAccessedAt: now,
		FromRecall:     opts.FromRecall,
	}
	m.total += tokenCount
}

// Remove deletes an entry if present; no-op otherwise.
func (m *Memory) Remove(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		m.total -= e.TokenCount
		delete(m.entries, key)
	}
}

// Touch refreshes an entry's recency without changing its content.
func (m *Memory) Touch(key string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if e, ok := m.entries[key]; ok {
		e.LastAccessedAt = m.now()
	}
}

// HasSpace reports whether tokenCount more tokens fit in the budget.
func (m *Memory) HasSpace(tokenCount int) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total+tokenCount <= m.maxTokens
}

// EvictToMakeSpace removes entries until at least neededTokens are
// free, lowest eviction score first. The score orders by importance
// ascending, then by age descending, so the least important entry
// goes first and the oldest entry loses ties. The evicted entries are
// returned so the caller can persist their departure elsewhere.
func (m *Memory) EvictToMakeSpace(neededTokens int) []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted []Entry
	for m.total+neededTokens > m.maxTokens && len(m.entries) > 0 {
		victim := m.lowestScored()
		evicted = append(evicted, *victim)
		m.total -= victim.TokenCount
		delete(m.entries, victim.Key)
	}
	return evicted
}

// lowestScored finds the next eviction victim. Caller holds the lock.
func (m *Memory) lowestScored() *Entry {
	var victim *Entry
	for _, e := range m.entries {
		if victim == nil {
			victim = e
			continue
		}
		if e.Importance < victim.Importance {
			victim = e
			continue
		}
		if e.Importance == victim.Importance && e.AddedAt.Before(victim.AddedAt) {
			victim = e
		}
	}
	return victim
}

// AssembleContext concatenates entry values ordered per strategy,
// stopping before maxTokens would be exceeded. Pass maxTokens <= 0 to
// use the memory's own budget. The result is built from copies; the
// cache cannot be mutated through it.
func (m *Memory) AssembleContext(strategy string, maxTokens int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if maxTokens <= 0 {
		maxTokens = m.maxTokens
	}

	ordered := make([]*Entry, 0, len(m.entries))
	for _, e := range m.entries {
		ordered = append(ordered, e)
	}

	now := m.now()
	switch strategy {
	case StrategyRecent:
		sort.Slice(ordered, func(i, j int) bool {
			return ordered[i].LastAccessedAt.After(ordered[j].LastAccessedAt)
		})
	case StrategyImportant:
		sort.Slice(ordered, func(i, j int) bool {
			if ordered[i].Importance != ordered[j].Importance {
				return ordered[i].Importance > ordered[j].Importance
			}
			return ordered[i].Key < ordered[j].Key
		})
	case StrategyBalanced, "":
		sort.Slice(ordered, func(i, j int) bool {
			si := balancedScore(ordered[i], now)
			sj := balancedScore(ordered[j], now)
			if si != sj {
				return si > sj
			}
			return ordered[i].Key < ordered[j].Key
		})
	default:
		return "", fmt.Errorf("unknown context strategy: %q", strategy)
	}

	var sb strings.Builder
	used := 0
	for _, e := range ordered {
		if used+e.TokenCount > maxTokens {
			break
		}
		if sb.Len() > 0 {
			sb.WriteString("\n\n")
		}
		sb.WriteString(e.Value)
		used += e.TokenCount
	}

	return sb.String(), nil
}

// balancedScore decays importance by age: importance / (1 + ageHours).
func balancedScore(e *Entry, now time.Time) float64 {
	ageHours := now.Sub(e.AddedAt).Hours()
	if ageHours < 0 {
		ageHours = 0
	}
	return e.Importance / (1 + ageHours)
}

// TokenCount returns the current token total.
func (m *Memory) TokenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// MaxTokens returns the configured budget.
func (m *Memory) MaxTokens() int {
	return m.maxTokens
}

// UtilizationPercentage returns the used fraction of the budget in
// percent.
func (m *Memory) UtilizationPercentage() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return float64(m.total) / float64(m.maxTokens) * 100
}

// EntryCount returns the number of entries held.
func (m *Memory) EntryCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}

// Entries returns a snapshot copy of all entries, unordered.
func (m *Memory) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Entry, 0, len(m.entries))
	for _, e := range m.entries {
		out = append(out, *e)
	}
	return out
}
