// Package storage defines the persistence contracts for docweave:
// relational session/document/chunk stores, the vector store, and the
// source-content cache. Backends live in subpackages (sqlite, qdrant,
// badger).
package storage
