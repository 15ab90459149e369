package core

import (
	"context"
	"errors"
	"strings"
)

// ErrorKind classifies a failure by its likely origin. Classification is
// heuristic, based on error content, and feeds user-facing recovery
// suggestions and the session failure record.
type ErrorKind string

const (
	ErrorKindNetwork    ErrorKind = "network"
	ErrorKindDatabase   ErrorKind = "database"
	ErrorKindVectorDB   ErrorKind = "vector_db"
	ErrorKindFileFormat ErrorKind = "file_format"
	ErrorKindResource   ErrorKind = "resource"
	ErrorKindAPI        ErrorKind = "api"
	ErrorKindTimeout    ErrorKind = "timeout"
	ErrorKindUnknown    ErrorKind = "unknown"
)

// kindMarkers maps substring markers to kinds. Order matters: earlier
// entries win, so the more specific backends come before generic network.
var kindMarkers = []struct {
	kind    ErrorKind
	markers []string
}{
	{ErrorKindTimeout, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrorKindVectorDB, []string{"qdrant", "vector", "collection", "point"}},
	{ErrorKindDatabase, []string{"sqlite", "sql", "database is locked", "constraint", "transaction"}},
	{ErrorKindAPI, []string{"rate limit", "429", "401", "403", "api key", "unauthorized", "quota", "openai"}},
	{ErrorKindFileFormat, []string{"parse", "decode", "unmarshal", "invalid utf-8", "malformed"}},
	{ErrorKindResource, []string{"out of memory", "cannot allocate", "stack overflow", "too many open files"}},
	{ErrorKindNetwork, []string{"connection refused", "connection reset", "no such host", "dial tcp", "eof", "broken pipe", "network"}},
}

// ClassifyError maps an error to its ErrorKind.
func ClassifyError(err error) ErrorKind {
	if err == nil {
		return ErrorKindUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorKindTimeout
	}
	msg := strings.ToLower(err.Error())
	for _, entry := range kindMarkers {
		for _, marker := range entry.markers {
			if strings.Contains(msg, marker) {
				return entry.kind
			}
		}
	}
	return ErrorKindUnknown
}

var recoverySuggestions = map[ErrorKind][]string{
	ErrorKindNetwork: {
		"Check connectivity to the external service",
		"Retry the ingestion once the network recovers",
	},
	ErrorKindDatabase: {
		"Verify the database file is writable and not held by another process",
		"Retry; transient lock contention usually clears quickly",
	},
	ErrorKindVectorDB: {
		"Try again shortly, content was preserved",
		"Check the vector store endpoint and collection configuration",
	},
	ErrorKindFileFormat: {
		"Verify the source document is valid text",
		"Re-export the document and ingest it again",
	},
	ErrorKindResource: {
		"Reduce chunk size or concurrency and retry",
		"Free memory on the host before re-running",
	},
	ErrorKindAPI: {
		"Check the AI provider credentials and rate limits",
		"Wait for the rate-limit window to reset and retry",
	},
	ErrorKindTimeout: {
		"Retry; the external service was slow to respond",
		"Raise the stage timeout if this recurs",
	},
	ErrorKindUnknown: {
		"Inspect the session error message and logs",
		"Retry the ingestion; stored chunks are preserved",
	},
}

// RecoverySuggestions returns the fixed user-facing suggestion list for a kind.
func RecoverySuggestions(kind ErrorKind) []string {
	suggestions, ok := recoverySuggestions[kind]
	if !ok {
		suggestions = recoverySuggestions[ErrorKindUnknown]
	}
	cp := make([]string, len(suggestions))
	copy(cp, suggestions)
	return cp
}

// maxStackExcerpt bounds the stack excerpt recorded in session failures.
const maxStackExcerpt = 512

// FormatFailure builds the error_message recorded on a failed session:
// the classified kind, the error text, and a truncated stack excerpt.
func FormatFailure(err error, stack []byte) string {
	if err == nil {
		return ""
	}
	msg := "[" + string(ClassifyError(err)) + "] " + err.Error()
	if len(stack) > 0 {
		excerpt := string(stack)
		if len(excerpt) > maxStackExcerpt {
			excerpt = excerpt[:maxStackExcerpt]
		}
		msg += "\n" + excerpt
	}
	return msg
}
