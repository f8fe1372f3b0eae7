// Package domain defines the core entities of lorekeep.
//
// This package is the innermost layer of the hexagon. It defines:
//
//   - ContentUnit: a persisted block of document text with metadata and an embedding
//   - ChunkVector: a transient sub-split of an oversized unit's text
//   - Filters, SearchResult, ContentLocator: the query vocabulary
//   - Settings: the process configuration value, loaded once and passed explicitly
//
// # Import Rules
//
//   - Can Import: Standard library only
//   - Cannot Import: Any internal/ package, any external dependency
package domain
