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

package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/poiesic/docweave/core"
	"github.com/poiesic/docweave/storage"
)

const chunkColumns = `id, document_id, chunk_index, body, length, chunk_size, chunk_overlap,
	stage, title, summary, sentiment, category, topics, entities,
	contextual_summary, embedding_status, created_time, processed_date`

// UpsertChunk inserts the chunk or replaces the existing row with the same
// ID. Chunk IDs are deterministic, so reprocessing overwrites in place.
func (s *Store) UpsertChunk(ctx context.Context, chunk *core.Chunk) error {
	if chunk == nil {
		return fmt.Errorf("upsert chunk: %w", storage.ErrInvalidQuery)
	}
	if err := core.ValidateChunk(chunk); err != nil {
		return fmt.Errorf("upsert chunk: %w", err)
	}

	topics, err := marshalList(chunk.Analysis.Topics)
	if err != nil {
		return fmt.Errorf("upsert chunk %s: %w", chunk.ID, err)
	}
	entities, err := marshalList(chunk.Analysis.Entities)
	if err != nil {
		return fmt.Errorf("upsert chunk %s: %w", chunk.ID, err)
	}

	var processedDate any
	if !chunk.ProcessedDate.IsZero() {
		processedDate = formatTime(chunk.ProcessedDate)
	}

	_, err = s.execWithRetry(ctx, `
		INSERT INTO chunks (`+chunkColumns+`, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			body = excluded.body,
			length = excluded.length,
			chunk_size = excluded.chunk_size,
			chunk_overlap = excluded.chunk_overlap,
			stage = excluded.stage,
			title = excluded.title,
			summary = excluded.summary,
			sentiment = excluded.sentiment,
			category = excluded.category,
			topics = excluded.topics,
			entities = excluded.entities,
			contextual_summary = excluded.contextual_summary,
			embedding_status = excluded.embedding_status,
			processed_date = excluded.processed_date,
			updated_at = excluded.updated_at`,
		chunk.ID, chunk.DocumentID, chunk.Index, chunk.Text, chunk.Length,
		chunk.Size, chunk.Overlap, string(chunk.Stage),
		chunk.Analysis.Title, chunk.Analysis.Summary, chunk.Analysis.Sentiment,
		chunk.Analysis.Category, topics, entities,
		chunk.ContextualSummary, string(chunk.EmbeddingStatus),
		formatTime(chunk.CreatedTime), processedDate, formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upsert chunk %s: %w", chunk.ID, err)
	}
	return nil
}

// GetChunk retrieves a chunk by ID.
func (s *Store) GetChunk(ctx context.Context, id string) (*core.Chunk, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+chunkColumns+` FROM chunks WHERE id = ?`, id)
	chunk, err := scanChunk(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get chunk %s: %w", id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("get chunk %s: %w", id, err)
	}
	return chunk, nil
}

// ListChunksByDocument returns a document's chunks ordered by index.
func (s *Store) ListChunksByDocument(ctx context.Context, documentID string) ([]*core.Chunk, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+chunkColumns+` FROM chunks WHERE document_id = ? ORDER BY chunk_index`,
		documentID,
	)
	if err != nil {
		return nil, fmt.Errorf("list chunks for document %s: %w", documentID, err)
	}
	defer rows.Close()

	var chunks []*core.Chunk
	for rows.Next() {
		chunk, err := scanChunk(rows)
		if err != nil {
			return nil, fmt.Errorf("list chunks for document %s: %w", documentID, err)
		}
		chunks = append(chunks, chunk)
	}
	return chunks, rows.Err()
}

// CountChunksByDocument returns how many chunk rows exist for the document.
func (s *Store) CountChunksByDocument(ctx context.Context, documentID string) (int, error) {
	ctx = ensureContext(ctx)
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM chunks WHERE document_id = ?`, documentID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count chunks for document %s: %w", documentID, err)
	}
	return count, nil
}

func scanChunk(row interface{ Scan(...any) error }) (*core.Chunk, error) {
	var (
		chunk           core.Chunk
		stage           string
		topics          string
		entities        string
		embeddingStatus string
		createdTime     string
		processedDate   sql.NullString
	)
	err := row.Scan(
		&chunk.ID, &chunk.DocumentID, &chunk.Index, &chunk.Text, &chunk.Length,
		&chunk.Size, &chunk.Overlap, &stage,
		&chunk.Analysis.Title, &chunk.Analysis.Summary, &chunk.Analysis.Sentiment,
		&chunk.Analysis.Category, &topics, &entities,
		&chunk.ContextualSummary, &embeddingStatus, &createdTime, &processedDate,
	)
	if err != nil {
		return nil, err
	}

	chunk.Stage = core.ChunkStage(stage)
	chunk.EmbeddingStatus = core.EmbeddingStatus(embeddingStatus)
	if err := json.Unmarshal([]byte(topics), &chunk.Analysis.Topics); err != nil {
		return nil, fmt.Errorf("decode topics: %w", err)
	}
	if err := json.Unmarshal([]byte(entities), &chunk.Analysis.Entities); err != nil {
		return nil, fmt.Errorf("decode entities: %w", err)
	}
	if chunk.CreatedTime, err = parseTime(createdTime); err != nil {
		return nil, err
	}
	if processedDate.Valid {
		if chunk.ProcessedDate, err = parseTime(processedDate.String); err != nil {
			return nil, err
		}
	}
	return &chunk, nil
}

func marshalList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	encoded, err := json.Marshal(values)
	if err != nil {
		return "", err
	}
	return string(encoded), nil
}
