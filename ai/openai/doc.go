// Package openai implements the ai collaborator contracts against
// OpenAI-compatible chat and embedding APIs via langchaingo.
package openai
