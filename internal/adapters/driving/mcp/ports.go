package mcp

import (
	"github.com/custodia-labs/lorekeep/internal/core/ports/driving"
)

// Ports aggregates all driving port interfaces required by the MCP server.
// This provides a single injection point for dependency injection.
type Ports struct {
	// Query answers semantic searches and exact lookups.
	Query driving.QueryService

	// Content creates, updates and deletes individual units.
	Content driving.ContentService
}

// Validate ensures all required ports are set.
// Returns an error if any required port is nil.
func (p *Ports) Validate() error {
	if p.Query == nil {
		return ErrMissingQueryService
	}
	if p.Content == nil {
		return ErrMissingContentService
	}
	return nil
}
