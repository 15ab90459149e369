package openai

import "strings"

// maxInputChars bounds the text sent to the analysis and embedding APIs.
const maxInputChars = 8000

// truncateInput trims whitespace and caps the input length for API calls.
func truncateInput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > maxInputChars {
		s = s[:maxInputChars]
	}
	return s
}

// stripFences removes markdown code fences around an LLM JSON response.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

// isLetter returns true if the rune is an ASCII letter.
func isLetter(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z')
}
