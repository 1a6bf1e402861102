// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"context"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
)

// NewForgetTool creates the muninn_forget tool definition
func NewForgetTool() mcp.Tool {
	return mcp.NewTool("muninn_forget",
		mcp.WithDescription("Remove a memory. By default the item is soft-deleted and can be brought back with muninn_restore. Permanent deletion requires confirm=true and cannot be undone."),
		mcp.WithString("item_id",
			mcp.Required(),
			mcp.Description("ID of the memory to forget"),
		),
		mcp.WithString("owner_id",
			mcp.Description("Identifier of the agent forgetting. Defaults to 'default'."),
		),
		mcp.WithBoolean("permanent",
			mcp.Description("Permanently delete instead of soft-deleting. Requires confirm=true."),
		),
		mcp.WithBoolean("confirm",
			mcp.Description("Explicit confirmation for permanent deletion."),
		),
	)
}

// ForgetHandler handles the muninn_forget tool
func ForgetHandler(ctx *ToolContext) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(c context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		itemID, err := request.RequireString("item_id")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		ownerID := request.GetString("owner_id", DefaultOwnerID)
		permanent := request.GetBool("permanent", false)
		confirm := request.GetBool("confirm", false)

		if err := ctx.Service.Forget(c, itemID, ownerID, !permanent, confirm); err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		if permanent {
			return mcp.NewToolResultText(fmt.Sprintf("Permanently deleted %s.", itemID)), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("Forgot %s. Use muninn_restore to bring it back.", itemID)), nil
	}
}
