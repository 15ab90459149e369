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

package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/poiesic/docweave/core"
)

// defaultBatchPause separates chunk batches so local AI hosts are not
// saturated by back-to-back requests.
const defaultBatchPause = 500 * time.Millisecond

// concurrencyFor picks the worker count from the chunk total. Larger
// documents run narrower to keep memory and AI-host pressure bounded.
func concurrencyFor(totalChunks int) int {
	switch {
	case totalChunks > 500:
		return 1
	case totalChunks > 100:
		return 2
	default:
		return 3
	}
}

// runSummary aggregates per-chunk outcomes for session finalization.
type runSummary struct {
	Processed        int
	VectorStored     int
	RelationalStored int

	// FirstEmbedErr and FirstStoreErr keep one representative failure
	// each for the session error message.
	FirstEmbedErr error
	FirstStoreErr error
}

// schedule fans chunks out over a worker pool in batches, touching the
// session heartbeat after every batch. A canceled context stops
// scheduling new batches; in-flight chunks finish.
func (p *Pipeline) schedule(ctx context.Context, session *core.Session, doc *core.Document, chunks []core.Chunk) (runSummary, error) {
	workers := concurrencyFor(len(chunks))
	pool, err := ants.NewPool(workers)
	if err != nil {
		return runSummary{}, err
	}
	defer pool.Release()

	var (
		mu      sync.Mutex
		summary runSummary
	)

	for start := 0; start < len(chunks); start += workers {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		end := start + workers
		if end > len(chunks) {
			end = len(chunks)
		}

		var wg sync.WaitGroup
		for _, chunk := range chunks[start:end] {
			chunk := chunk
			wg.Add(1)
			submitErr := pool.Submit(func() {
				defer wg.Done()
				result := p.executor.ProcessChunk(ctx, session, doc, chunk)

				mu.Lock()
				summary.Processed++
				if result.VectorStored {
					summary.VectorStored++
				}
				if result.RelationalStored {
					summary.RelationalStored++
				}
				if result.EmbedErr != nil && summary.FirstEmbedErr == nil {
					summary.FirstEmbedErr = result.EmbedErr
				}
				if result.StoreErr != nil && summary.FirstStoreErr == nil {
					summary.FirstStoreErr = result.StoreErr
				}
				mu.Unlock()
			})
			if submitErr != nil {
				wg.Done()
				return summary, submitErr
			}
		}
		wg.Wait()

		mu.Lock()
		processed := summary.Processed
		mu.Unlock()
		if err := p.tracker.Touch(ctx, session.ID, processed); err != nil {
			p.logger.Warn("session heartbeat failed",
				"sessionId", session.ID, "error", err)
		}

		if end < len(chunks) {
			select {
			case <-time.After(p.batchPause):
			case <-ctx.Done():
				return summary, ctx.Err()
			}
		}
	}

	return summary, nil
}
