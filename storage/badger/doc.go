// Package badger implements the source-content cache on BadgerDB.
// Normalized document text is kept keyed by content digest so a failed
// session can be retried without re-reading the original source.
package badger
