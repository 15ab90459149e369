package mock

import (
	"context"
	"sync/atomic"
)

// ContextGenerator is a test double for ai.ContextGenerator.
// It allows custom behavior injection via function fields.
type ContextGenerator struct {
	// GenerateContextFunc is called by GenerateContext if set.
	// If nil, uses default deterministic behavior.
	GenerateContextFunc func(ctx context.Context, documentSummary, chunkText string) (string, error)

	callCount atomic.Int64
}

// NewContextGenerator creates a mock context generator.
func NewContextGenerator() *ContextGenerator {
	return &ContextGenerator{}
}

// GenerateContext returns a fixed contextual summary.
func (m *ContextGenerator) GenerateContext(ctx context.Context, documentSummary, chunkText string) (string, error) {
	m.callCount.Add(1)

	if m.GenerateContextFunc != nil {
		return m.GenerateContextFunc(ctx, documentSummary, chunkText)
	}

	return "This fragment is part of a larger test document.", nil
}

// CallCount returns the number of times GenerateContext was called.
func (m *ContextGenerator) CallCount() int {
	return int(m.callCount.Load())
}
