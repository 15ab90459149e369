package openai

import (
	"context"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/poiesic/docweave/ai"
)

// ContextGenerator implements ai.ContextGenerator using OpenAI-compatible
// chat APIs.
type ContextGenerator struct {
	client llms.Model
	logger *slog.Logger
}

// newContextGenerator is an internal constructor that returns the concrete
// type. Used by Provider to manage the instance.
func newContextGenerator(config *ai.Config) (*ContextGenerator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	client, err := openai.New(
		openai.WithBaseURL(config.AnalysisHost),
		openai.WithToken(config.Token),
		openai.WithModel(config.AnalysisModel),
	)
	if err != nil {
		return nil, err
	}

	return &ContextGenerator{
		client: client,
		logger: slog.Default().With("component", "openai-contextgen"),
	}, nil
}

// NewContextGenerator creates a contextual summary generator using the
// provided configuration.
//
// Returns ai.ContextGenerator interface to enforce abstraction.
func NewContextGenerator(config *ai.Config) (ai.ContextGenerator, error) {
	return newContextGenerator(config)
}

// GenerateContext asks the LLM for a short summary situating the chunk
// within the whole document.
func (g *ContextGenerator) GenerateContext(ctx context.Context, documentSummary, chunkText string) (string, error) {
	prompt := buildContextPrompt(truncateInput(documentSummary), truncateInput(chunkText))

	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(prompt),
			},
		},
	}

	response, err := g.client.GenerateContent(ctx, content, llms.WithTemperature(0.2))
	if err != nil {
		g.logger.Warn("context generation failed", "err", err)
		return "", err
	}
	if len(response.Choices) < 1 {
		return "", nil
	}

	return strings.TrimSpace(response.Choices[0].Content), nil
}
