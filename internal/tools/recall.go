// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/muninn-mcp/muninn/internal/memory"
	"github.com/muninn-mcp/muninn/internal/retrieval"
)

// NewRecallTool creates the muninn_recall tool definition
func NewRecallTool() mcp.Tool {
	return mcp.NewTool("muninn_recall",
		mcp.WithDescription("Search long-term memory. Strategy 'hybrid' (default) combines meaning, keywords and tags; 'vector' searches by meaning only; 'fulltext' by keywords only. Results are loaded into working memory."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What to look for"),
		),
		mcp.WithString("owner_id",
			mcp.Description("Identifier of the agent recalling. Defaults to 'default'."),
		),
		mcp.WithString("strategy",
			mcp.Description("One of 'hybrid', 'vector', 'fulltext'. Defaults to 'hybrid'."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results. Defaults to 10."),
		),
		mcp.WithString("since",
			mcp.Description("Only items created after this RFC3339 timestamp. Defaults to 30 days ago."),
		),
		mcp.WithString("until",
			mcp.Description("Only items created before this RFC3339 timestamp."),
		),
	)
}

// recallResult is the JSON shape returned per hit.
type recallResult struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Score     float64  `json:"score"`
	Tags      []string `json:"tags,omitempty"`
	CreatedAt string   `json:"created_at"`
}

// RecallHandler handles the muninn_recall tool
func RecallHandler(ctx *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		query, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		params := memory.RecallParams{
			Query:    query,
			OwnerID:  request.GetString("owner_id", DefaultOwnerID),
			Strategy: request.GetString("strategy", ""),
			Limit:    int(request.GetFloat("limit", 0)),
		}

		window, err := parseWindow(request)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		params.Window = window

		results, err := ctx.Service.Recall(c, params)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if len(results) == 0 {
			return mcp.NewToolResultText("No matching memories found."), nil
		}

		out := make([]recallResult, 0, len(results))
		for _, r := range results {
			out = append(out, recallResult{
				ID:        r.Item.ID,
				Content:   r.Item.Content,
				Score:     r.Score,
				Tags:      r.MatchedTags,
				CreatedAt: r.Item.CreatedAt.Format(time.RFC3339),
			})
		}
		payload, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("failed to encode results: %v", err)), nil
		}
		return mcp.NewToolResultText(string(payload)), nil
	}
}

func parseWindow(request mcp.CallToolRequest) (retrieval.Window, error) {
	var w retrieval.Window
	if since := request.GetString("since", ""); since != "" {
		from, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return w, fmt.Errorf("invalid since timestamp: %v", err)
		}
		w.From = from
	}
	if until := request.GetString("until", ""); until != "" {
		to, err := time.Parse(time.RFC3339, until)
		if err != nil {
			return w, fmt.Errorf("invalid until timestamp: %v", err)
		}
		w.To = to
	}
	return w, nil
}
