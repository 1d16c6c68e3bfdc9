// Package mcp provides an MCP (Model Context Protocol) server adapter for Tally.
// It lets AI assistants read the document × control grid and request
// regeneration of its cells.
package mcp

import "errors"

// ErrMissingGridService is returned when the grid service is not provided.
var ErrMissingGridService = errors.New("mcp: grid service is required")

// ErrMissingControlService is returned when the control service is not provided.
var ErrMissingControlService = errors.New("mcp: control service is required")
