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
	"errors"
	"fmt"

	"github.com/poiesic/docweave/core"
	"github.com/poiesic/docweave/storage"
)

// UpsertDocument inserts the document or refreshes an existing row with
// the same ID. Document IDs are content-derived, so reprocessing the same
// source hits the same row.
func (s *Store) UpsertDocument(ctx context.Context, doc *core.Document) error {
	if doc == nil || doc.ID == "" {
		return fmt.Errorf("upsert document: %w", storage.ErrInvalidQuery)
	}
	_, err := s.execWithRetry(ctx, `
		INSERT INTO documents (id, source_locator, title, summary, total_chunks, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			source_locator = excluded.source_locator,
			title = excluded.title,
			total_chunks = excluded.total_chunks`,
		doc.ID, doc.SourceLocator, doc.Title, doc.Summary, doc.TotalChunks,
		formatTime(doc.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upsert document %s: %w", doc.ID, err)
	}
	return nil
}

// GetDocument retrieves a document by ID.
func (s *Store) GetDocument(ctx context.Context, id string) (*core.Document, error) {
	ctx = ensureContext(ctx)
	var (
		doc       core.Document
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, source_locator, title, summary, total_chunks, created_at
		FROM documents WHERE id = ?`, id,
	).Scan(&doc.ID, &doc.SourceLocator, &doc.Title, &doc.Summary, &doc.TotalChunks, &createdAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get document %s: %w", id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	if doc.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("get document %s: %w", id, err)
	}
	return &doc, nil
}

// SetDocumentSummary backfills the document summary once the first chunk
// has been analyzed. An already-populated summary is left alone.
func (s *Store) SetDocumentSummary(ctx context.Context, id, summary string) error {
	_, err := s.execWithRetry(ctx,
		`UPDATE documents SET summary = ? WHERE id = ? AND summary = ''`,
		summary, id,
	)
	if err != nil {
		return fmt.Errorf("set document summary %s: %w", id, err)
	}
	return nil
}
