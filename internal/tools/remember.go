// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// NewRememberTool creates the muninn_remember tool definition
func NewRememberTool() mcp.Tool {
	return mcp.NewTool("muninn_remember",
		mcp.WithDescription("Store information in long-term memory. Identical content is deduplicated automatically; storing it again just refreshes its presence. Embedding and tags are computed in the background, so the item is searchable by keywords immediately and by meaning shortly after."),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The information to remember"),
		),
		mcp.WithString("owner_id",
			mcp.Description("Identifier of the agent storing this memory. Defaults to 'default'."),
		),
		mcp.WithNumber("importance",
			mcp.Description("Importance from 0 to 10; higher survives working-memory eviction longer. Defaults to 1."),
		),
	)
}

// RememberHandler handles the muninn_remember tool
func RememberHandler(ctx *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		content, err := request.RequireString("content")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		ownerID := request.GetString("owner_id", DefaultOwnerID)
		importance := request.GetFloat("importance", 0)

		result, err := ctx.Service.Remember(c, content, ownerID, importance)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if result.IsNew {
			return mcp.NewToolResultText(fmt.Sprintf("Remembered as %s.", result.ID)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Already known as %s; refreshed.", result.ID)), nil
	}
}
