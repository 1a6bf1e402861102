// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"

	"github.com/mark3labs/mcp-go/mcp"
)

// NewContextTool creates the muninn_context tool definition
func NewContextTool() mcp.Tool {
	return mcp.NewTool("muninn_context",
		mcp.WithDescription("Assemble the current working-memory contents into a context block. Strategy 'balanced' (default) weighs importance against age; 'recent' orders by last access; 'important' by importance."),
		mcp.WithString("owner_id",
			mcp.Description("Identifier of the agent. Defaults to 'default'."),
		),
		mcp.WithString("strategy",
			mcp.Description("One of 'balanced', 'recent', 'important'. Defaults to 'balanced'."),
		),
		mcp.WithNumber("max_tokens",
			mcp.Description("Token budget for the assembled context. Defaults to the working-memory budget."),
		),
	)
}

// ContextHandler handles the muninn_context tool
func ContextHandler(ctx *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ownerID := request.GetString("owner_id", DefaultOwnerID)
		strategy := request.GetString("strategy", "")
		maxTokens := int(request.GetFloat("max_tokens", 0))

		text, err := ctx.Service.AssembleContext(ownerID, strategy, maxTokens)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if text == "" {
			return mcp.NewToolResultText("Working memory is empty."), nil
		}
		return mcp.NewToolResultText(text), nil
	}
}
