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

// Package events carries typed pipeline progress events from the stage
// executor to observers. The pipeline publishes; transports (SSE,
// WebSocket) subscribe. The bus is best-effort: a slow subscriber loses
// events rather than stalling the pipeline, and the durable session row
// remains the source of truth for progress.
package events

import (
	"sync"
	"time"
)

// Step identifies a point in the per-chunk pipeline.
type Step string

const (
	StepChunkStart      Step = "chunk_processing_start"
	StepAnalyze         Step = "analyze"
	StepAnalyzeComplete Step = "analyze_complete"
	StepContextGenerate Step = "context_generate"
	StepContextComplete Step = "context_complete"
	StepEmbedding       Step = "embedding"
	StepEmbedStoring    Step = "embed_storing"
	StepEmbedComplete   Step = "embed_complete"
	StepEmbedError      Step = "embed_error"
	StepStoring         Step = "storing"
	StepStoreComplete   Step = "store_complete"
	StepStoreError      Step = "store_error"
	StepChunkComplete   Step = "chunk_processing_complete"
)

// ProgressEvent describes one observable pipeline transition.
type ProgressEvent struct {
	Step    Step   `json:"step"`
	Message string `json:"message"`

	// Progress is the overall fraction complete in [0,1], or nil when a
	// step carries no meaningful aggregate.
	Progress *float64 `json:"progress"`

	SessionID    string    `json:"sessionId"`
	ChunkID      string    `json:"chunkId,omitempty"`
	CurrentChunk int       `json:"currentChunk"`
	TotalChunks  int       `json:"totalChunks"`
	Timestamp    time.Time `json:"timestamp"`
}

// Bus fans progress events out to subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan ProgressEvent
	nextID int
	closed bool
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan ProgressEvent)}
}

// Subscribe registers an observer with the given channel buffer and
// returns the event channel plus a cancel function. Cancel is idempotent
// and closes the channel.
func (b *Bus) Subscribe(buffer int) (<-chan ProgressEvent, func()) {
	if buffer <= 0 {
		buffer = 64
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan ProgressEvent, buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber. Delivery is
// non-blocking: subscribers with full buffers miss the event.
func (b *Bus) Publish(event ProgressEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- event:
		default:
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Close shuts the bus down and closes all subscriber channels.
// Publish becomes a no-op afterwards.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
