// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package provider defines the strategy interfaces for external
// enrichment services. Implementations are selected once at
// construction from configuration, never re-dispatched per call.
package provider

import "context"

// EmbeddingProvider turns text into a fixed-length vector.
type EmbeddingProvider interface {
	// Embed returns a vector of exactly the provider's configured
	// dimension; implementations pad or truncate before returning.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Dimensions returns the vector length Embed produces.
	Dimensions() int

	// Model names the embedding model, recorded alongside stored
	// vectors so mixed-model stores stay auditable.
	Model() string
}

// TagProvider extracts hierarchical tag paths from text. The taxonomy
// hint carries existing tag paths so the provider can reuse them
// instead of inventing near-duplicates.
type TagProvider interface {
	ExtractTags(ctx context.Context, text string, taxonomyHint []string) ([]string, error)
}

// TokenCounter sizes text in tokens for working-memory accounting.
type TokenCounter interface {
	Count(text string) int
}

// HeuristicCounter approximates token counts at roughly four
// characters per token, which tracks common BPE tokenizers closely
// enough for budget accounting.
type HeuristicCounter struct{}

// Count returns the approximate token count for text.
func (HeuristicCounter) Count(text string) int {
	if len(text) == 0 {
		return 0
	}
	n := len(text) / 4
	if n == 0 {
		n = 1
	}
	return n
}

// PadOrTruncate fits a vector to the given dimension: longer vectors
// are cut, shorter ones are zero-padded. Storage requires a fixed
// length regardless of what the upstream model returned.
func PadOrTruncate(vec []float32, dim int) []float32 {
	if dim <= 0 || len(vec) == dim {
		return vec
	}
	if len(vec) > dim {
		return vec[:dim]
	}
	out := make([]float32, dim)
	copy(out, vec)
	return out
}
