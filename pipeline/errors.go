package pipeline

import "errors"

var (
	// ErrNoContent indicates the source produced no chunkable text.
	ErrNoContent = errors.New("no content to ingest")

	// ErrNoCachedContent indicates a retry was requested for a session
	// whose source content is no longer in the cache.
	ErrNoCachedContent = errors.New("no cached content for session source")

	// ErrSessionNotRetryable indicates a retry was requested for a
	// session that is not in a terminal failed or partial state.
	ErrSessionNotRetryable = errors.New("session is not retryable")
)
