// Package services implements the driving port interfaces.
// Services contain the core business logic and orchestrate
// calls to driven ports (adapters):
//
//	IngestionEngine: Chunker -> EmbeddingClient -> VectorAverager -> ContentStore
//	QueryEngine:     EmbeddingClient -> ContentStore
//	ContentService:  single-unit create, update, delete and stats
package services
