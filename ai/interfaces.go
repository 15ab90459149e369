package ai

import (
	"context"

	"github.com/poiesic/docweave/core"
)

// Analyzer derives structured metadata from chunk text.
// Implementations must be thread-safe for concurrent use.
type Analyzer interface {
	// AnalyzeChunk returns AI-derived metadata for a chunk: title fragment,
	// summary, sentiment, category, topics, and entities. Callers bound the
	// call with a context deadline; on error they substitute
	// core.DefaultAnalysis so the pipeline never stalls on this stage.
	AnalyzeChunk(ctx context.Context, text string) (core.Analysis, error)
}

// ContextGenerator produces a short summary situating a chunk within its
// whole document, used for contextual embeddings.
// Implementations must be thread-safe for concurrent use.
type ContextGenerator interface {
	// GenerateContext returns a 1-2 sentence contextual summary for the
	// chunk. An error means the chunk is embedded without context; the
	// call is never retried synchronously.
	GenerateContext(ctx context.Context, documentSummary, chunkText string) (string, error)
}

// Embedder generates vector embeddings from text for semantic similarity
// search. Implementations must be thread-safe for concurrent use.
type Embedder interface {
	// EmbedText generates a vector embedding for a single text string.
	EmbedText(ctx context.Context, text string) ([]float32, error)

	// EmbedTexts generates embeddings for multiple texts in a batch.
	// The returned slice preserves input order.
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// Provider aggregates the AI services for convenient initialization and
// lifecycle management. A provider's services share configuration and
// underlying clients.
type Provider interface {
	// Analyzer returns the chunk analysis service.
	Analyzer() Analyzer

	// ContextGenerator returns the contextual summarization service.
	ContextGenerator() ContextGenerator

	// Embedder returns the text embedding service.
	Embedder() Embedder

	// Close releases resources held by the provider and its services.
	Close() error
}
