// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"context"
	"time"

	"github.com/poiesic/docweave/core"
)

// SessionStore persists ingestion sessions and their lifecycle.
type SessionStore interface {
	// CreateSession inserts a new session row.
	CreateSession(ctx context.Context, session *core.Session) error

	// GetSession retrieves a session by ID. Returns ErrNotFound when absent.
	GetSession(ctx context.Context, id string) (*core.Session, error)

	// ListSessionsByStatus returns sessions in the given status, newest first.
	ListSessionsByStatus(ctx context.Context, status core.SessionStatus) ([]*core.Session, error)

	// TouchSession refreshes the session heartbeat. When completedChunks is
	// non-negative the counter is raised, never lowered. When status is
	// non-empty the session moves to that status if the transition is legal.
	// Terminal sessions are left untouched and ErrTerminalSession is returned.
	TouchSession(ctx context.Context, id string, completedChunks int, status core.SessionStatus) error

	// FinalizeSession moves the session to a terminal status, recording the
	// error message (may be empty) and the completion time.
	FinalizeSession(ctx context.Context, id string, status core.SessionStatus, errorMessage string, completedAt time.Time) error

	// Sweep applies every enabled reclamation in a single transaction.
	Sweep(ctx context.Context, params SweepParams) (SweepResult, error)

	// Stats returns aggregate session counts for diagnostics.
	Stats(ctx context.Context) (core.SessionStats, error)

	// RecentFailures returns the most recent failed or partial sessions.
	RecentFailures(ctx context.Context, limit int) ([]core.FailureRecord, error)
}

// SweepParams selects which reclamations a sweep cycle performs. A zero
// cutoff disables that reclamation.
type SweepParams struct {
	// HeartbeatCutoff reaps processing sessions whose last_activity is
	// older than the cutoff.
	HeartbeatCutoff time.Time
	// HeartbeatMessage is recorded on sessions reaped by heartbeat.
	HeartbeatMessage string

	// RuntimeCutoff reaps processing sessions created before the cutoff
	// regardless of heartbeat.
	RuntimeCutoff time.Time
	// RuntimeMessage is recorded on sessions reaped by runtime.
	RuntimeMessage string

	// StuckChunkCutoff fails chunks that have sat in an in-flight stage
	// since before the cutoff.
	StuckChunkCutoff time.Time
}

// SweepResult reports what a sweep cycle reclaimed.
type SweepResult struct {
	HeartbeatReaped int64
	RuntimeReaped   int64
	ChunksRecovered int64
}

// DocumentStore persists source documents.
type DocumentStore interface {
	// UpsertDocument inserts the document or refreshes an existing row
	// with the same ID.
	UpsertDocument(ctx context.Context, doc *core.Document) error

	// GetDocument retrieves a document by ID. Returns ErrNotFound when absent.
	GetDocument(ctx context.Context, id string) (*core.Document, error)

	// SetDocumentSummary backfills the document-level summary once the
	// first chunk has been analyzed.
	SetDocumentSummary(ctx context.Context, id, summary string) error
}

// ChunkStore persists analyzed chunks.
type ChunkStore interface {
	// UpsertChunk inserts the chunk or replaces an existing row with the
	// same ID. Reprocessing a document overwrites rather than duplicates.
	UpsertChunk(ctx context.Context, chunk *core.Chunk) error

	// GetChunk retrieves a chunk by ID. Returns ErrNotFound when absent.
	GetChunk(ctx context.Context, id string) (*core.Chunk, error)

	// ListChunksByDocument returns a document's chunks ordered by index.
	ListChunksByDocument(ctx context.Context, documentID string) ([]*core.Chunk, error)

	// CountChunksByDocument returns how many chunk rows exist for the document.
	CountChunksByDocument(ctx context.Context, documentID string) (int, error)
}

// VectorPayload is the metadata stored alongside an embedding.
type VectorPayload struct {
	DocumentID  string   `json:"document_id"`
	SessionID   string   `json:"session_id"`
	ChunkIndex  int      `json:"chunk_index"`
	Text        string   `json:"text"`
	Context     string   `json:"context,omitempty"`
	Title       string   `json:"title,omitempty"`
	Summary     string   `json:"summary,omitempty"`
	Sentiment   string   `json:"sentiment,omitempty"`
	Category    string   `json:"category,omitempty"`
	Topics      []string `json:"topics,omitempty"`
	Entities    []string `json:"entities,omitempty"`
	SourceFile  string   `json:"source_file,omitempty"`
	ProcessedAt string   `json:"processed_at,omitempty"`
}

// SearchHit is one similarity match returned by the vector store.
type SearchHit struct {
	ID      string
	Score   float32
	Payload VectorPayload
}

// VectorStore persists chunk embeddings for similarity search.
type VectorStore interface {
	// EnsureCollection creates the collection if it does not exist.
	EnsureCollection(ctx context.Context, dimensions int) error

	// UpsertPoint writes one embedding under a stable point ID so that
	// reprocessing overwrites instead of duplicating.
	UpsertPoint(ctx context.Context, id string, vector []float32, payload VectorPayload) error

	// SearchPoints returns the stored points closest to the query vector,
	// best first. Hits scoring below threshold are excluded; a zero
	// threshold disables the floor.
	SearchPoints(ctx context.Context, vector []float32, limit int, threshold float32) ([]SearchHit, error)
}

// CacheEntry is a cached source document body.
type CacheEntry struct {
	Locator  string    `json:"locator"`
	Text     string    `json:"text"`
	Length   int       `json:"length"`
	StoredAt time.Time `json:"stored_at"`
}

// ContentCache retains normalized source content keyed by digest so
// failed sessions can be retried without re-reading the source.
type ContentCache interface {
	// Put stores the content and returns its digest.
	Put(ctx context.Context, locator, text string) (string, error)

	// GetByDigest retrieves cached content. Returns ErrNotFound when absent.
	GetByDigest(ctx context.Context, digest string) (*CacheEntry, error)

	// GetByLocator retrieves the most recent content cached for the
	// locator. Returns ErrNotFound when absent.
	GetByLocator(ctx context.Context, locator string) (*CacheEntry, error)
}
