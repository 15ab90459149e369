package mock

import "github.com/poiesic/docweave/ai"

// Provider is a test double for ai.Provider aggregating the mock services.
type Provider struct {
	MockAnalyzer         *Analyzer
	MockContextGenerator *ContextGenerator
	MockEmbedder         *Embedder
}

var _ ai.Provider = (*Provider)(nil)

// NewProvider creates a provider wired with fresh mock services.
func NewProvider() *Provider {
	return &Provider{
		MockAnalyzer:         NewAnalyzer(),
		MockContextGenerator: NewContextGenerator(),
		MockEmbedder:         NewEmbedder(),
	}
}

// Analyzer returns the mock analysis service.
func (p *Provider) Analyzer() ai.Analyzer {
	return p.MockAnalyzer
}

// ContextGenerator returns the mock contextual summarization service.
func (p *Provider) ContextGenerator() ai.ContextGenerator {
	return p.MockContextGenerator
}

// Embedder returns the mock embedding service.
func (p *Provider) Embedder() ai.Embedder {
	return p.MockEmbedder
}

// Close is a no-op.
func (p *Provider) Close() error {
	return nil
}
