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

package core

import "fmt"

// ValidateChunk validates a Chunk according to domain rules.
//
// Validation rules:
//   - ID and DocumentID must be set
//   - Index must be non-negative
//   - Text must not be empty
//   - Size must exceed Overlap
//
// NOT validated (populated by the pipeline):
//   - Analysis, ContextualSummary, EmbeddingStatus, ProcessedDate
func ValidateChunk(chunk *Chunk) error {
	if chunk == nil {
		return fmt.Errorf("%w: chunk is nil", ErrInvalidChunk)
	}
	if chunk.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidChunk)
	}
	if chunk.DocumentID == "" {
		return fmt.Errorf("%w: missing document id", ErrInvalidChunk)
	}
	if chunk.Index < 0 {
		return fmt.Errorf("%w: negative index %d", ErrInvalidChunk, chunk.Index)
	}
	if chunk.Text == "" {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrEmptyContent)
	}
	if chunk.Size <= chunk.Overlap {
		return fmt.Errorf("%w: %w", ErrInvalidChunk, ErrInvalidChunkParams)
	}
	return nil
}

// ValidateSession validates a Session according to domain rules.
//
// Validation rules:
//   - ID must be set
//   - SourceLocator must not be empty
//   - TotalChunks must be non-negative
//   - CompletedChunks must be within [0, TotalChunks]
//   - Status must be a known value
func ValidateSession(session *Session) error {
	if session == nil {
		return fmt.Errorf("%w: session is nil", ErrInvalidSession)
	}
	if session.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidSession)
	}
	if session.SourceLocator == "" {
		return fmt.Errorf("%w: %w", ErrInvalidSession, ErrEmptyLocator)
	}
	if session.TotalChunks < 0 {
		return fmt.Errorf("%w: negative total chunks", ErrInvalidSession)
	}
	if session.CompletedChunks < 0 || session.CompletedChunks > session.TotalChunks {
		return fmt.Errorf("%w: completed chunks %d outside [0, %d]",
			ErrInvalidSession, session.CompletedChunks, session.TotalChunks)
	}
	if _, ok := ParseSessionStatus(string(session.Status)); !ok {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidSession, session.Status)
	}
	return nil
}
