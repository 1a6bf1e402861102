// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// NewRestoreTool creates the muninn_restore tool definition
func NewRestoreTool() mcp.Tool {
	return mcp.NewTool("muninn_restore",
		mcp.WithDescription("Bring back a soft-deleted memory so it appears in recall results again."),
		mcp.WithString("item_id",
			mcp.Required(),
			mcp.Description("ID of the memory to restore"),
		),
	)
}

// RestoreHandler handles the muninn_restore tool
func RestoreHandler(ctx *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		itemID, err := request.RequireString("item_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if err := ctx.Service.Restore(c, itemID); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Restored %s.", itemID)), nil
	}
}
