// Package mcp serves the content tools over the Model Context Protocol.
// It speaks JSON-RPC 2.0 over stdio or HTTP and routes tool calls to the
// query and content services.
package mcp

import "errors"

var (
	// ErrMissingQueryService is returned when the query service is not provided.
	ErrMissingQueryService = errors.New("mcp: query service is required")

	// ErrMissingContentService is returned when the content service is not provided.
	ErrMissingContentService = errors.New("mcp: content service is required")
)
