// Package sqlite implements the relational stores on SQLite. Sessions,
// documents, and chunks share one WAL-mode database so the cleanup sweep
// can reclaim sessions and chunks in a single transaction.
package sqlite
