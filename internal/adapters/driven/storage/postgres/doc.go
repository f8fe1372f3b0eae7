// Package postgres provides a PostgreSQL implementation of driven.ContentStore
// backed by the pgvector extension.
//
// Similarity ranking runs in the database with the cosine distance operator
// (<=>) over an HNSW index. Content types and tags are TEXT[] columns with GIN
// indexes, titles carry a trigram index for partial matching, and a GIN
// expression index over title and content backs TextSearch.
//
// The schema is created on open and is idempotent.
package postgres
