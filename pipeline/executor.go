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
	"fmt"
	"log/slog"
	"time"

	"github.com/poiesic/docweave/ai"
	"github.com/poiesic/docweave/core"
	"github.com/poiesic/docweave/events"
	"github.com/poiesic/docweave/storage"
)

// defaultAnalyzeTimeout bounds the analyze stage per chunk. On expiry the
// chunk proceeds with core.DefaultAnalysis instead of stalling the run.
const defaultAnalyzeTimeout = 30 * time.Second

// Executor runs one chunk through the four pipeline stages. Each stage
// failure is isolated: a failed analyze falls back to defaults, a failed
// context leaves the chunk uncontextualized, a failed embed skips the
// vector write, and the relational write is attempted regardless.
type Executor struct {
	provider  ai.Provider
	chunks    storage.ChunkStore
	documents storage.DocumentStore
	vectors   storage.VectorStore
	bus       *events.Bus
	logger    *slog.Logger

	analyzeTimeout       time.Duration
	contextualEmbeddings bool
}

// ChunkResult reports what survived for a single chunk.
type ChunkResult struct {
	ChunkID          string
	Index            int
	VectorStored     bool
	RelationalStored bool

	// EmbedErr and StoreErr capture the stage failures that affect
	// durability. Analyze and context failures are absorbed by design
	// fallbacks and only logged.
	EmbedErr error
	StoreErr error
}

// Stored reports whether the chunk landed in at least one store.
func (r ChunkResult) Stored() bool {
	return r.VectorStored || r.RelationalStored
}

// ProcessChunk runs the chunk through analyze, contextualize, embed, and
// store. It never returns early: every stage gets its chance and the
// result records what succeeded.
func (e *Executor) ProcessChunk(ctx context.Context, session *core.Session, doc *core.Document, chunk core.Chunk) ChunkResult {
	result := ChunkResult{ChunkID: chunk.ID, Index: chunk.Index}

	e.publish(events.StepChunkStart, session, &chunk, "processing chunk")

	chunk.Analysis = e.analyze(ctx, session, &chunk)
	e.backfillDocumentSummary(ctx, doc, &chunk)

	if e.contextualEmbeddings {
		chunk.ContextualSummary = e.contextualize(ctx, session, doc, &chunk)
	}

	vector := e.embed(ctx, session, &chunk, &result)
	if result.EmbedErr == nil && len(vector) > 0 {
		e.storeVector(ctx, session, doc, &chunk, vector, &result)
	}
	if result.VectorStored {
		chunk.EmbeddingStatus = core.EmbeddingSuccess
	} else {
		chunk.EmbeddingStatus = core.EmbeddingFailed
	}

	e.storeRelational(ctx, session, &chunk, &result)

	e.publish(events.StepChunkComplete, session, &chunk, "chunk processed")
	return result
}

// analyze runs the analyze stage under its timeout, substituting the
// deterministic default payload on any failure.
func (e *Executor) analyze(ctx context.Context, session *core.Session, chunk *core.Chunk) core.Analysis {
	chunk.Stage = core.StageAnalyzing
	e.publish(events.StepAnalyze, session, chunk, "analyzing chunk")

	timeout := e.analyzeTimeout
	if timeout <= 0 {
		timeout = defaultAnalyzeTimeout
	}
	analyzeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	analysis, err := e.provider.Analyzer().AnalyzeChunk(analyzeCtx, chunk.Text)
	if err != nil {
		e.logger.Warn("chunk analysis failed, using default analysis",
			"sessionId", session.ID, "chunkId", chunk.ID,
			"kind", core.ClassifyError(err), "error", err)
		analysis = core.DefaultAnalysis(chunk.Text)
	}
	e.publish(events.StepAnalyzeComplete, session, chunk, "analysis complete")
	return analysis
}

// backfillDocumentSummary promotes the first chunk's summary to the
// document record so later chunks can be contextualized against it.
func (e *Executor) backfillDocumentSummary(ctx context.Context, doc *core.Document, chunk *core.Chunk) {
	if chunk.Index != 0 || chunk.Analysis.Summary == "" {
		return
	}
	if doc.Summary == "" {
		doc.Summary = chunk.Analysis.Summary
	}
	if err := e.documents.SetDocumentSummary(ctx, doc.ID, chunk.Analysis.Summary); err != nil {
		e.logger.Warn("document summary backfill failed",
			"documentId", doc.ID, "error", err)
	}
}

// contextualize produces the chunk's situating summary, or empty text
// when generation fails.
func (e *Executor) contextualize(ctx context.Context, session *core.Session, doc *core.Document, chunk *core.Chunk) string {
	chunk.Stage = core.StageContextualizing
	e.publish(events.StepContextGenerate, session, chunk, "generating context")

	summary := doc.Summary
	if summary == "" {
		summary = chunk.Analysis.Summary
	}
	contextText, err := e.provider.ContextGenerator().GenerateContext(ctx, summary, chunk.Text)
	if err != nil {
		e.logger.Warn("context generation failed, embedding without context",
			"sessionId", session.ID, "chunkId", chunk.ID, "error", err)
		contextText = ""
	}
	e.publish(events.StepContextComplete, session, chunk, "context complete")
	return contextText
}

// embed produces the chunk's vector, or nil when embedding fails.
func (e *Executor) embed(ctx context.Context, session *core.Session, chunk *core.Chunk, result *ChunkResult) []float32 {
	chunk.Stage = core.StageEmbedding
	e.publish(events.StepEmbedding, session, chunk, "generating embedding")

	text := chunk.Text
	if chunk.ContextualSummary != "" {
		text = chunk.ContextualSummary + "\n\n" + chunk.Text
	}
	vector, err := e.provider.Embedder().EmbedText(ctx, text)
	if err != nil {
		result.EmbedErr = fmt.Errorf("embed chunk %s: %w", chunk.ID, err)
		e.logger.Warn("embedding failed, vector write skipped",
			"sessionId", session.ID, "chunkId", chunk.ID,
			"kind", core.ClassifyError(err), "error", err)
		e.publish(events.StepEmbedError, session, chunk, "embedding failed")
		return nil
	}
	return vector
}

// storeVector writes the embedding under the chunk's stable ID.
func (e *Executor) storeVector(ctx context.Context, session *core.Session, doc *core.Document, chunk *core.Chunk, vector []float32, result *ChunkResult) {
	e.publish(events.StepEmbedStoring, session, chunk, "storing embedding")

	payload := storage.VectorPayload{
		DocumentID:  chunk.DocumentID,
		SessionID:   session.ID,
		ChunkIndex:  chunk.Index,
		Text:        chunk.Text,
		Context:     chunk.ContextualSummary,
		Title:       chunk.Analysis.Title,
		Summary:     chunk.Analysis.Summary,
		Sentiment:   chunk.Analysis.Sentiment,
		Category:    chunk.Analysis.Category,
		Topics:      chunk.Analysis.Topics,
		Entities:    chunk.Analysis.Entities,
		SourceFile:  doc.SourceLocator,
		ProcessedAt: time.Now().UTC().Format(time.RFC3339),
	}
	if err := e.vectors.UpsertPoint(ctx, chunk.ID, vector, payload); err != nil {
		result.EmbedErr = fmt.Errorf("store vector for chunk %s: %w", chunk.ID, err)
		e.logger.Warn("vector write failed, content preserved in relational store",
			"sessionId", session.ID, "chunkId", chunk.ID,
			"kind", core.ClassifyError(err), "error", err)
		e.publish(events.StepEmbedError, session, chunk, "vector write failed")
		return
	}
	result.VectorStored = true
	e.publish(events.StepEmbedComplete, session, chunk, "embedding stored")
}

// storeRelational writes the analyzed chunk row. This runs even when the
// vector write failed so the content survives for later re-embedding.
func (e *Executor) storeRelational(ctx context.Context, session *core.Session, chunk *core.Chunk, result *ChunkResult) {
	chunk.Stage = core.StageStoring
	e.publish(events.StepStoring, session, chunk, "storing chunk")

	chunk.Stage = core.StageDone
	chunk.ProcessedDate = time.Now().UTC()
	if err := e.chunks.UpsertChunk(ctx, chunk); err != nil {
		result.StoreErr = fmt.Errorf("store chunk %s: %w", chunk.ID, err)
		e.logger.Error("relational chunk write failed",
			"sessionId", session.ID, "chunkId", chunk.ID,
			"kind", core.ClassifyError(err), "error", err)
		e.publish(events.StepStoreError, session, chunk, "chunk write failed")
		return
	}
	result.RelationalStored = true
	e.publish(events.StepStoreComplete, session, chunk, "chunk stored")
}

func (e *Executor) publish(step events.Step, session *core.Session, chunk *core.Chunk, message string) {
	if e.bus == nil {
		return
	}
	event := events.ProgressEvent{
		Step:         step,
		Message:      message,
		SessionID:    session.ID,
		ChunkID:      chunk.ID,
		CurrentChunk: chunk.Index + 1,
		TotalChunks:  session.TotalChunks,
	}
	if session.TotalChunks > 0 {
		progress := float64(chunk.Index) / float64(session.TotalChunks)
		if step == events.StepChunkComplete {
			progress = float64(chunk.Index+1) / float64(session.TotalChunks)
		}
		event.Progress = &progress
	}
	e.bus.Publish(event)
}
