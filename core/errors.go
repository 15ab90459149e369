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

import "errors"

// Domain validation errors
var (
	// ErrEmptyContent indicates that a document's normalized text is empty.
	ErrEmptyContent = errors.New("content cannot be empty")

	// ErrInvalidChunk indicates a Chunk failed validation.
	ErrInvalidChunk = errors.New("invalid chunk")

	// ErrInvalidSession indicates a Session failed validation.
	ErrInvalidSession = errors.New("invalid session")

	// ErrInvalidStatusTransition indicates a backward or repeated status move.
	ErrInvalidStatusTransition = errors.New("invalid status transition")

	// ErrInvalidChunkParams indicates unusable chunking parameters.
	ErrInvalidChunkParams = errors.New("chunk size must exceed overlap")

	// ErrEmptyLocator indicates the source locator is missing.
	ErrEmptyLocator = errors.New("source locator cannot be empty")
)
