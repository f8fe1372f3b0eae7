// Package driven defines the interfaces that core calls OUT to infrastructure.
//
// These are the "driven" or "secondary" ports in hexagonal architecture.
// Core services depend on these interfaces, and infrastructure adapters
// implement them.
//
// # Interfaces
//
//   - EmbeddingProvider: Remote model turning texts into fixed-length vectors (OpenAI, Ollama)
//   - ContentStore: Content unit persistence and nearest-neighbour search (SQLite, PostgreSQL, memory)
//   - ConfigStore: Dotted-key access to config.toml, used by "config set"
//   - SpanClassifier: Labels extracted text spans (font size, color, keyword rules)
//
// # Import Rules
//
//   - Can Import: domain package only
//   - Cannot Import: Any adapter package
package driven
