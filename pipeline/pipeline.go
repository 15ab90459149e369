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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/docweave/ai"
	"github.com/poiesic/docweave/chunker"
	"github.com/poiesic/docweave/core"
	"github.com/poiesic/docweave/events"
	"github.com/poiesic/docweave/storage"
)

// SessionTracker is the session lifecycle surface the pipeline drives.
type SessionTracker interface {
	Create(ctx context.Context, locator, filename string, totalChunks int) (*core.Session, error)
	Get(ctx context.Context, id string) (*core.Session, error)
	Touch(ctx context.Context, id string, completedChunks int) error
	Complete(ctx context.Context, id string) error
	Fail(ctx context.Context, id string, cause error, storedChunks int) error
}

// Config holds pipeline construction parameters.
type Config struct {
	Chunker   *chunker.Chunker
	Provider  ai.Provider
	Tracker   SessionTracker
	Documents storage.DocumentStore
	Chunks    storage.ChunkStore
	Vectors   storage.VectorStore
	Cache     storage.ContentCache
	Bus       *events.Bus
	Logger    *slog.Logger

	// AnalyzeTimeout bounds the analyze stage per chunk. Zero means the
	// default of 30 seconds.
	AnalyzeTimeout time.Duration

	// ContextualEmbeddings enables the contextualize stage.
	ContextualEmbeddings bool

	// BatchPause separates chunk batches. Zero means the default of 500ms.
	BatchPause time.Duration
}

// Pipeline ingests documents end to end.
type Pipeline struct {
	chunker    *chunker.Chunker
	tracker    SessionTracker
	documents  storage.DocumentStore
	cache      storage.ContentCache
	executor   *Executor
	logger     *slog.Logger
	batchPause time.Duration
}

// New creates a pipeline from the config. Chunker, Provider, Tracker,
// and the three stores are required; Cache and Bus are optional.
func New(cfg Config) (*Pipeline, error) {
	if cfg.Chunker == nil || cfg.Provider == nil || cfg.Tracker == nil {
		return nil, errors.New("pipeline requires a chunker, provider, and tracker")
	}
	if cfg.Documents == nil || cfg.Chunks == nil || cfg.Vectors == nil {
		return nil, errors.New("pipeline requires document, chunk, and vector stores")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	batchPause := cfg.BatchPause
	if batchPause <= 0 {
		batchPause = defaultBatchPause
	}

	return &Pipeline{
		chunker:   cfg.Chunker,
		tracker:   cfg.Tracker,
		documents: cfg.Documents,
		cache:     cfg.Cache,
		logger:    logger,
		executor: &Executor{
			provider:             cfg.Provider,
			chunks:               cfg.Chunks,
			documents:            cfg.Documents,
			vectors:              cfg.Vectors,
			bus:                  cfg.Bus,
			logger:               logger,
			analyzeTimeout:       cfg.AnalyzeTimeout,
			contextualEmbeddings: cfg.ContextualEmbeddings,
		},
		batchPause: batchPause,
	}, nil
}

// Ingest processes one document and returns its finalized session. The
// returned error covers setup failures only; per-chunk failures are
// reflected in the session status and error message.
func (p *Pipeline) Ingest(ctx context.Context, locator, filename, content string) (*core.Session, error) {
	normalized := chunker.Normalize(content)
	if normalized == "" {
		return nil, fmt.Errorf("ingest %s: %w", locator, ErrNoContent)
	}

	// Cache before anything can fail downstream so a broken run is
	// retryable without re-reading the source. Best effort.
	if p.cache != nil {
		if _, err := p.cache.Put(ctx, locator, normalized); err != nil {
			p.logger.Warn("content cache write failed", "source", locator, "error", err)
		}
	}

	doc, chunks, err := p.chunker.Chunk(normalized, locator)
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", locator, err)
	}
	if err := p.documents.UpsertDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("ingest %s: %w", locator, err)
	}

	session, err := p.tracker.Create(ctx, locator, filename, len(chunks))
	if err != nil {
		return nil, fmt.Errorf("ingest %s: %w", locator, err)
	}

	p.logger.Info("ingestion started",
		"sessionId", session.ID, "source", locator,
		"chunks", len(chunks), "workers", concurrencyFor(len(chunks)))

	summary, runErr := p.schedule(ctx, session, doc, chunks)
	p.finalize(ctx, session, len(chunks), summary, runErr)

	return p.tracker.Get(ctx, session.ID)
}

// Retry reruns ingestion for a failed or partial session from its cached
// source content. It creates a fresh session; deterministic document and
// chunk IDs make the rerun overwrite the previous rows.
func (p *Pipeline) Retry(ctx context.Context, sessionID string) (*core.Session, error) {
	if p.cache == nil {
		return nil, fmt.Errorf("retry session %s: %w", sessionID, ErrNoCachedContent)
	}

	previous, err := p.tracker.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("retry session %s: %w", sessionID, err)
	}
	if previous.Status != core.SessionFailed && previous.Status != core.SessionPartial {
		return nil, fmt.Errorf("retry session %s in status %s: %w",
			sessionID, previous.Status, ErrSessionNotRetryable)
	}

	entry, err := p.cache.GetByLocator(ctx, previous.SourceLocator)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("retry session %s: %w", sessionID, ErrNoCachedContent)
		}
		return nil, fmt.Errorf("retry session %s: %w", sessionID, err)
	}

	p.logger.Info("retrying session from cached content",
		"sessionId", sessionID, "source", previous.SourceLocator)
	return p.Ingest(ctx, previous.SourceLocator, previous.Filename, entry.Text)
}

// finalize maps the run summary onto the session's terminal status:
// completed when every chunk landed in the relational store, partial when
// some did, failed when none did.
func (p *Pipeline) finalize(ctx context.Context, session *core.Session, total int, summary runSummary, runErr error) {
	cause := errors.Join(runErr, summary.FirstStoreErr, summary.FirstEmbedErr)

	switch {
	case summary.RelationalStored == total:
		if err := p.tracker.Complete(ctx, session.ID); err != nil {
			p.logger.Error("session completion failed", "sessionId", session.ID, "error", err)
		}
		p.logger.Info("ingestion completed",
			"sessionId", session.ID, "chunks", total, "vectorStored", summary.VectorStored)
	case summary.RelationalStored > 0:
		if cause == nil {
			cause = fmt.Errorf("stored %d of %d chunks", summary.RelationalStored, total)
		}
		if err := p.tracker.Fail(ctx, session.ID, cause, summary.RelationalStored); err != nil {
			p.logger.Error("session finalization failed", "sessionId", session.ID, "error", err)
		}
		p.logger.Warn("ingestion partially completed",
			"sessionId", session.ID, "stored", summary.RelationalStored, "total", total)
	default:
		if cause == nil {
			cause = errors.New("no chunks could be stored")
		}
		if err := p.tracker.Fail(ctx, session.ID, cause, 0); err != nil {
			p.logger.Error("session finalization failed", "sessionId", session.ID, "error", err)
		}
		p.logger.Error("ingestion failed",
			"sessionId", session.ID, "total", total, "error", cause)
	}
}
