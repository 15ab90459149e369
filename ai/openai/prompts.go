package openai

import "fmt"

const analysisResponseSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "properties": {
    "title": {
      "type": "string"
    },
    "summary": {
      "type": "string"
    },
    "sentiment": {
      "type": "string",
      "enum": ["positive", "neutral", "negative"]
    },
    "category": {
      "type": "string"
    },
    "topics": {
      "type": "array",
      "items": {"type": "string"}
    },
    "entities": {
      "type": "array",
      "items": {"type": "string"}
    }
  },
  "required": ["title", "summary", "sentiment", "category", "topics", "entities"],
  "additionalProperties": false
}`

const analysisPromptTemplate = `Analyze the given text fragment and return structured metadata as JSON.

Output ONLY valid JSON which complies with the schema given below. Do not include any preamble, explanation,
greeting, or acknowledgment. Start your response directly with the opening brace { and end with the closing
brace }. Your output must exactly follow this schema:

%s

Rules:
- "title" is a short title fragment (at most 10 words) describing this fragment.
- "summary" is 1-3 sentences summarizing the fragment in plain language.
- "sentiment" is the overall tone: exactly one of "positive", "neutral", "negative".
- "category" is a single lowercase word or short phrase for the subject area (e.g. "technology", "finance", "health").
- "topics" lists up to 5 lowercase topic keywords actually discussed in the fragment. Do not hallucinate.
- "entities" lists named people, organizations, products, and places mentioned in the fragment.
- If nothing qualifies for a list field, return an empty array.
- The JSON must parse without errors; no trailing commas, no extra keys, and no extraneous text outside the object.

Example:
Input: "Apple announced the M4 chip today. Analysts at Morgan Stanley called it a leap for laptop performance."
Output:
{
  "title": "Apple announces M4 chip",
  "summary": "Apple introduced its M4 chip, which analysts view as a significant improvement for laptop performance.",
  "sentiment": "positive",
  "category": "technology",
  "topics": ["chips", "laptops", "performance"],
  "entities": ["Apple", "M4", "Morgan Stanley"]
}`

const contextPromptTemplate = `You situate a fragment of a larger document for retrieval purposes.

Given the document overview and one fragment, write 1-2 plain sentences explaining what this fragment covers
and how it relates to the rest of the document. Output only those sentences, nothing else.

Document overview:
%s

Fragment:
%s`

// buildAnalysisPrompt creates the system prompt for chunk analysis.
func buildAnalysisPrompt() string {
	return fmt.Sprintf(analysisPromptTemplate, analysisResponseSchema)
}

// buildContextPrompt creates the user prompt for contextual summaries.
func buildContextPrompt(documentSummary, chunkText string) string {
	if documentSummary == "" {
		documentSummary = "(no overview available)"
	}
	return fmt.Sprintf(contextPromptTemplate, documentSummary, chunkText)
}
