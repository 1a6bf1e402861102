// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package tools

import (
	"log/slog"

	"github.com/muninn-mcp/muninn/internal/memory"
)

// DefaultOwnerID is used when a tool call does not name an owner.
// Single-agent deployments never need to pass one explicitly.
const DefaultOwnerID = "default"

// ToolContext holds shared dependencies for all tools
type ToolContext struct {
	Service *memory.Service
	Logger  *slog.Logger
}

// NewToolContext creates a new tool context
func NewToolContext(svc *memory.Service, logger *slog.Logger) *ToolContext {
	if logger == nil {
		logger = slog.Default()
	}
	return &ToolContext{Service: svc, Logger: logger}
}
