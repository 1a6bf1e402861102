// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package provider

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Config holds the OpenAI-compatible provider configuration. BaseURL
// may point at any endpoint speaking the OpenAI API shape.
type Config struct {
	BaseURL        string
	APIKey         string
	EmbeddingModel string
	TagModel       string
	Dimensions     int
	MaxTags        int
}

// DefaultConfig returns the default provider configuration.
func DefaultConfig() Config {
	return Config{
		BaseURL:        "https://api.openai.com/v1",
		EmbeddingModel: "text-embedding-3-small",
		TagModel:       "gpt-4o-mini",
		Dimensions:     1536,
		MaxTags:        5,
	}
}

// OpenAIProvider implements EmbeddingProvider and TagProvider against
// an OpenAI-compatible API.
type OpenAIProvider struct {
	client *openai.Client
	cfg    Config
}

// NewOpenAIProvider creates a provider from config. Zero fields fall
// back to defaults.
func NewOpenAIProvider(cfg Config) *OpenAIProvider {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = def.EmbeddingModel
	}
	if cfg.TagModel == "" {
		cfg.TagModel = def.TagModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = def.Dimensions
	}
	if cfg.MaxTags <= 0 {
		cfg.MaxTags = def.MaxTags
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	clientConfig.BaseURL = cfg.BaseURL

	return &OpenAIProvider{
		client: openai.NewClientWithConfig(clientConfig),
		cfg:    cfg,
	}
}

// Dimensions returns the configured vector length.
func (p *OpenAIProvider) Dimensions() int {
	return p.cfg.Dimensions
}

// Model returns the embedding model name.
func (p *OpenAIProvider) Model() string {
	return p.cfg.EmbeddingModel
}

// Embed generates an embedding for the given text, padded or
// truncated to the configured dimension.
func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(p.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to generate embedding: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("empty embedding response")
	}

	return PadOrTruncate(resp.Data[0].Embedding, p.cfg.Dimensions), nil
}

const tagSystemPrompt = `You label text with hierarchical tags.
Return one tag path per line, segments joined by ":" from general to
specific, at most %d paths and at most 4 segments each.
Example: infra:postgres:indexing
Reuse paths from the existing taxonomy when they fit.
Output only tag paths, nothing else.`

// ExtractTags asks the chat model for hierarchical tag paths. The
// raw reply lines are returned as-is; structural validation and
// meta-response filtering belong to the caller.
func (p *OpenAIProvider) ExtractTags(ctx context.Context, text string, taxonomyHint []string) ([]string, error) {
	system := fmt.Sprintf(tagSystemPrompt, p.cfg.MaxTags)
	if len(taxonomyHint) > 0 {
		system += "\n\nExisting taxonomy:\n" + strings.Join(taxonomyHint, "\n")
	}

	resp, err := p.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: p.cfg.TagModel,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: system},
			{Role: openai.ChatMessageRoleUser, Content: text},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to extract tags: %w", err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("empty tag response")
	}

	var paths []string
	for _, line := range strings.Split(resp.Choices[0].Message.Content, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "-"))
		if line != "" {
			paths = append(paths, line)
		}
	}
	if len(paths) > p.cfg.MaxTags {
		paths = paths[:p.cfg.MaxTags]
	}

	return paths, nil
}
