package mock

import (
	"context"
	"sync/atomic"

	"github.com/poiesic/docweave/core"
)

// Analyzer is a test double for ai.Analyzer.
// It allows custom behavior injection via function fields.
type Analyzer struct {
	// AnalyzeChunkFunc is called by AnalyzeChunk if set.
	// If nil, uses default deterministic behavior.
	AnalyzeChunkFunc func(ctx context.Context, text string) (core.Analysis, error)

	callCount atomic.Int64
}

// NewAnalyzer creates a mock analyzer with default deterministic behavior.
func NewAnalyzer() *Analyzer {
	return &Analyzer{}
}

// AnalyzeChunk returns a deterministic analysis derived from the text.
func (m *Analyzer) AnalyzeChunk(ctx context.Context, text string) (core.Analysis, error) {
	m.callCount.Add(1)

	if m.AnalyzeChunkFunc != nil {
		return m.AnalyzeChunkFunc(ctx, text)
	}

	analysis := core.DefaultAnalysis(text)
	analysis.Title = "mock analysis"
	analysis.Category = "general"
	analysis.Topics = []string{"testing"}
	return analysis, nil
}

// CallCount returns the number of times AnalyzeChunk was called.
func (m *Analyzer) CallCount() int {
	return int(m.callCount.Load())
}
