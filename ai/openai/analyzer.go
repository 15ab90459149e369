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

package openai

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"github.com/poiesic/docweave/ai"
	"github.com/poiesic/docweave/core"
)

// Analyzer implements ai.Analyzer using OpenAI-compatible chat APIs.
type Analyzer struct {
	client llms.Model
	logger *slog.Logger
}

// chunkAnalysis is an internal type used for JSON unmarshaling.
// It matches the structure expected from the LLM.
type chunkAnalysis struct {
	Title     string   `json:"title"`
	Summary   string   `json:"summary"`
	Sentiment string   `json:"sentiment"`
	Category  string   `json:"category"`
	Topics    []string `json:"topics"`
	Entities  []string `json:"entities"`
}

// newAnalyzer is an internal constructor that returns the concrete type.
// Used by Provider to manage the instance.
func newAnalyzer(config *ai.Config) (*Analyzer, error) {
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

	return &Analyzer{
		client: client,
		logger: slog.Default().With("component", "openai-analyzer"),
	}, nil
}

// NewAnalyzer creates a new chunk analyzer using the provided configuration.
//
// Returns ai.Analyzer interface to enforce abstraction.
func NewAnalyzer(config *ai.Config) (ai.Analyzer, error) {
	return newAnalyzer(config)
}

// AnalyzeChunk derives structured metadata from chunk text using an LLM.
func (a *Analyzer) AnalyzeChunk(ctx context.Context, text string) (core.Analysis, error) {
	text = truncateInput(text)

	content := []llms.MessageContent{
		{
			Role: llms.ChatMessageTypeSystem,
			Parts: []llms.ContentPart{
				llms.TextPart(buildAnalysisPrompt()),
			},
		},
		{
			Role: llms.ChatMessageTypeHuman,
			Parts: []llms.ContentPart{
				llms.TextPart(text),
			},
		},
	}

	// Try up to 3 times in case of malformed JSON
	var result chunkAnalysis
	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		response, err := a.client.GenerateContent(ctx, content, llms.WithTemperature(0.0), llms.WithJSONMode())
		if err != nil {
			a.logger.Error("failed to generate content", "attempt", attempt+1, "err", err)
			return core.Analysis{}, err
		}

		if len(response.Choices) < 1 {
			a.logger.Debug("no choices returned from model")
			return core.DefaultAnalysis(text), nil
		}

		responseText := stripFences(response.Choices[0].Content)
		responseText = repairJSON(responseText)

		if err := json.Unmarshal([]byte(responseText), &result); err != nil {
			lastErr = err
			a.logger.Warn("error parsing analysis response",
				"attempt", attempt+1,
				"response", responseText,
				"err", err)
			continue
		}

		lastErr = nil
		break
	}

	if lastErr != nil {
		a.logger.Error("failed to parse analysis response after retries", "err", lastErr)
		return core.Analysis{}, lastErr
	}

	return normalizeAnalysis(result), nil
}

// normalizeAnalysis converts the wire shape into the domain type and
// cleans up model quirks.
func normalizeAnalysis(raw chunkAnalysis) core.Analysis {
	sentiment := strings.ToLower(strings.TrimSpace(raw.Sentiment))
	switch sentiment {
	case "positive", "negative":
	default:
		sentiment = "neutral"
	}

	analysis := core.Analysis{
		Title:     strings.TrimSpace(raw.Title),
		Summary:   strings.TrimSpace(raw.Summary),
		Sentiment: sentiment,
		Category:  strings.ToLower(strings.TrimSpace(raw.Category)),
		Topics:    cleanList(raw.Topics, true),
		Entities:  cleanList(raw.Entities, false),
	}
	if analysis.Category == "" {
		analysis.Category = "uncategorized"
	}
	return analysis
}

func cleanList(values []string, lower bool) []string {
	cleaned := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if lower {
			v = strings.ToLower(v)
		}
		cleaned = append(cleaned, v)
	}
	return cleaned
}
