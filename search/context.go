package search

import (
	"fmt"
	"strings"

	"github.com/poiesic/docweave/core"
)

// FormatContext renders ranked results as a context block suitable for
// prompting a model with retrieved sources.
func FormatContext(results []*core.SearchResult, query string) string {
	if len(results) == 0 {
		return fmt.Sprintf("No relevant information found for: %s", query)
	}

	var b strings.Builder
	b.WriteString("Knowledge base results:\n")
	for i, result := range results {
		fmt.Fprintf(&b, "\nSource %d (relevance %d%%)\n", i+1, relevancePercent(result.Score))
		if result.Title != "" {
			fmt.Fprintf(&b, "Title: %s\n", result.Title)
		}
		if result.SourceFile != "" {
			fmt.Fprintf(&b, "File: %s\n", result.SourceFile)
		}
		if result.Category != "" {
			fmt.Fprintf(&b, "Category: %s\n", result.Category)
		}
		if len(result.Topics) > 0 {
			fmt.Fprintf(&b, "Topics: %s\n", strings.Join(result.Topics, ", "))
		}
		fmt.Fprintf(&b, "Content: %s\n", result.Text)
		if result.Summary != "" {
			fmt.Fprintf(&b, "Summary: %s\n", result.Summary)
		}
	}
	return b.String()
}

// relevancePercent clamps boosted scores so a verbatim match never reads
// as more than 100%.
func relevancePercent(score float32) int {
	if score > 1 {
		score = 1
	}
	if score < 0 {
		score = 0
	}
	return int(score * 100)
}
