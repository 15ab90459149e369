package search

import (
	"context"
	"log/slog"
	"sort"
	"strings"

	"github.com/poiesic/docweave/ai"
	"github.com/poiesic/docweave/core"
	"github.com/poiesic/docweave/storage"
)

const (
	// defaultScoreThreshold filters out weak similarity matches.
	defaultScoreThreshold = 0.60

	// verbatimBoost is added when a hit contains every significant query word.
	verbatimBoost = 0.3

	defaultMaxHits = 5
)

// Searcher runs semantic similarity search over ingested chunks.
type Searcher struct {
	vectors   storage.VectorStore
	embedder  ai.Embedder
	logger    *slog.Logger
	threshold float32
}

// Option configures a Searcher.
type Option func(*Searcher) error

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Searcher) error {
		if logger == nil {
			logger = slog.Default()
		}
		s.logger = logger
		return nil
	}
}

// WithScoreThreshold sets the minimum similarity score for a hit.
// A zero threshold disables the floor.
func WithScoreThreshold(threshold float32) Option {
	return func(s *Searcher) error {
		s.threshold = threshold
		return nil
	}
}

// NewSearcher creates a searcher over the vector store, using the
// provider's embedder for query vectors.
func NewSearcher(vectors storage.VectorStore, provider ai.Provider, opts ...Option) (*Searcher, error) {
	if vectors == nil {
		return nil, ErrVectorStoreRequired
	}
	if provider == nil {
		return nil, ErrProviderRequired
	}

	s := &Searcher{
		vectors:   vectors,
		embedder:  provider.Embedder(),
		logger:    slog.Default(),
		threshold: defaultScoreThreshold,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// FindSimilar searches for chunks similar to the query.
// Returns up to maxHits results, ranked by relevance score.
func (s *Searcher) FindSimilar(ctx context.Context, query string, maxHits int) ([]*core.SearchResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	if maxHits <= 0 {
		maxHits = defaultMaxHits
	}

	embedding, err := s.embedder.EmbedText(ctx, query)
	if err != nil {
		s.logger.Error("error generating embedding for query", "query", query, "err", err)
		return nil, err
	}

	hits, err := s.vectors.SearchPoints(ctx, embedding, maxHits, s.threshold)
	if err != nil {
		s.logger.Error("error querying for similar chunks", "err", err)
		return nil, err
	}

	results := make([]*core.SearchResult, 0, len(hits))
	for _, hit := range hits {
		score := hit.Score
		if containsAllQueryWords(hit.Payload.Text, query) {
			score += verbatimBoost
		}
		results = append(results, &core.SearchResult{
			DocumentID: hit.Payload.DocumentID,
			ChunkIndex: hit.Payload.ChunkIndex,
			Text:       hit.Payload.Text,
			Context:    hit.Payload.Context,
			Title:      hit.Payload.Title,
			Summary:    hit.Payload.Summary,
			Category:   hit.Payload.Category,
			Topics:     hit.Payload.Topics,
			SourceFile: hit.Payload.SourceFile,
			Score:      score,
		})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}
