package mcp

import (
	"github.com/custodia-labs/tally/internal/core/ports/driving"
)

// Ports aggregates the driving ports the MCP server needs.
type Ports struct {
	// Grid exposes the cell matrix and regeneration.
	Grid driving.GridService

	// Control lists the questions asked of each document.
	Control driving.ControlService
}

// Validate ensures all required ports are set.
func (p *Ports) Validate() error {
	if p.Grid == nil {
		return ErrMissingGridService
	}
	if p.Control == nil {
		return ErrMissingControlService
	}
	return nil
}
