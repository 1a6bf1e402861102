// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package tags implements hierarchical tag paths: validation of the
// segment structure, and matching of free-text queries against a tag
// taxonomy for retrieval boosting.
package tags

import (
	"fmt"
	"sort"
	"strings"
)

// Delimiter joins path segments, e.g. "infra:postgres:indexing".
const Delimiter = ":"

// DefaultMaxDepth caps how many segments a tag path may carry.
const DefaultMaxDepth = 4

// Match strengths per matching step. Exact path equality boosts
// strongest, prefix matches weaker, single-component matches weakest.
const (
	StrengthExact     = 1.0
	StrengthPrefix    = 0.75
	StrengthComponent = 0.5
)

// minQueryWordLength is the shortest query token considered for tag
// matching; shorter words are noise ("a", "of", "to").
const minQueryWordLength = 3

// Match is a tag path that matched a query, with the strength of the
// match in [0,1].
type Match struct {
	Path     string
	Strength float64
}

// Normalize lowercases a tag path and trims whitespace around each
// segment. It does not validate.
func Normalize(path string) string {
	segments := strings.Split(path, Delimiter)
	for i, seg := range segments {
		segments[i] = strings.ToLower(strings.TrimSpace(seg))
	}
	return strings.Join(segments, Delimiter)
}

// Segments splits a normalized path into its component segments.
func Segments(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, Delimiter)
}

// Validate checks the structural rules for a tag path: non-empty
// segments, bounded depth, no segment repeated within the path, and a
// leaf that differs from the root (a self-contained tag like
// "testing:unit:testing" carries no information).
func Validate(path string, maxDepth int) error {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	segments := Segments(path)
	if len(segments) == 0 {
		return fmt.Errorf("tag path is empty")
	}
	if len(segments) > maxDepth {
		return fmt.Errorf("tag path %q exceeds max depth %d", path, maxDepth)
	}

	seen := make(map[string]bool, len(segments))
	for _, seg := range segments {
		if seg == "" {
			return fmt.Errorf("tag path %q contains an empty segment", path)
		}
		if seen[seg] {
			return fmt.Errorf("tag path %q repeats segment %q", path, seg)
		}
		seen[seg] = true
	}

	if len(segments) > 1 && segments[len(segments)-1] == segments[0] {
		return fmt.Errorf("tag path %q is self-contained", path)
	}

	return nil
}

// QueryWords tokenizes query text into lowercase words of length >=
// minQueryWordLength, stripped of surrounding punctuation.
func QueryWords(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !isWordRune(r)
	})

	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= minQueryWordLength {
			words = append(words, f)
		}
	}
	return words
}

func isWordRune(r rune) bool {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		return true
	case r == '-' || r == '_':
		return true
	}
	return false
}

// FindMatches matches a free-text query against known tag paths in
// three steps, most specific first:
//
//  1. exact: a query word (or a delimiter-joined run of words) equals
//     the full path
//  2. prefix: the path starts with a query word as its root segment
//  3. component: a query word equals the rightmost path segment
//
// Each path receives the strength of the strongest step it matched.
// Ties at equal strength are ordered lexicographically by path so
// results are deterministic.
func FindMatches(query string, paths []string) []Match {
	words := QueryWords(query)
	if len(words) == 0 || len(paths) == 0 {
		return nil
	}

	wordSet := make(map[string]bool, len(words))
	for _, w := range words {
		wordSet[w] = true
	}
	// A query like "infra postgres" should exact-match the path
	// "infra:postgres" too.
	joined := strings.Join(words, Delimiter)

	best := make(map[string]float64)
	for _, raw := range paths {
		path := Normalize(raw)
		segments := Segments(path)
		if len(segments) == 0 {
			continue
		}

		switch {
		case wordSet[path] || path == joined:
			best[raw] = StrengthExact
		case wordSet[segments[0]] || strings.HasPrefix(path, joined+Delimiter):
			best[raw] = StrengthPrefix
		case wordSet[segments[len(segments)-1]]:
			best[raw] = StrengthComponent
		}
	}

	matches := make([]Match, 0, len(best))
	for path, strength := range best {
		matches = append(matches, Match{Path: path, Strength: strength})
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Strength != matches[j].Strength {
			return matches[i].Strength > matches[j].Strength
		}
		return matches[i].Path < matches[j].Path
	})

	return matches
}

// metaResponseMarkers are phrases that indicate a tag-extraction
// reply is asking for more input instead of producing tags. Lines
// carrying them must not enter the taxonomy.
var metaResponseMarkers = []string{
	"please provide",
	"please share",
	"could you provide",
	"could you clarify",
	"can you provide",
	"i need more",
	"more information",
	"more context",
	"i'm sorry",
	"i am sorry",
	"i cannot",
	"i can't",
	"as an ai",
	"no content",
	"unable to",
	"here are",
	"the tags",
}

// IsMetaResponse reports whether a candidate tag line looks like a
// conversational reply rather than a tag path.
func IsMetaResponse(line string) bool {
	lower := strings.ToLower(line)
	if strings.ContainsAny(lower, " \t") && !strings.Contains(lower, Delimiter) {
		// Multi-word text with no delimiter is prose, not a path.
		return true
	}
	for _, marker := range metaResponseMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}
