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
	"fmt"
	"time"

	"github.com/poiesic/docweave/core"
	"github.com/poiesic/docweave/storage"
)

// Sweep applies every enabled reclamation in a single transaction so a
// crashed sweep never leaves the database half-reclaimed.
func (s *Store) Sweep(ctx context.Context, params storage.SweepParams) (storage.SweepResult, error) {
	ctx = ensureContext(ctx)
	var result storage.SweepResult

	err := retryOnBusy(ctx, func() error {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin sweep tx: %w", err)
		}
		defer func() { _ = tx.Rollback() }()

		result = storage.SweepResult{}
		now := formatTime(time.Now())

		// Wall-clock reaping runs first so a session past both bounds
		// records the runtime message, not the heartbeat one.
		if !params.RuntimeCutoff.IsZero() {
			res, err := tx.ExecContext(ctx, `
				UPDATE sessions
				SET status = 'failed', error_message = ?, completed_at = ?, updated_at = ?
				WHERE status = 'processing' AND created_at < ?`,
				params.RuntimeMessage, now, now, formatTime(params.RuntimeCutoff),
			)
			if err != nil {
				return fmt.Errorf("reap overrunning sessions: %w", err)
			}
			if result.RuntimeReaped, err = res.RowsAffected(); err != nil {
				return fmt.Errorf("reap overrunning sessions: %w", err)
			}
		}

		if !params.HeartbeatCutoff.IsZero() {
			res, err := tx.ExecContext(ctx, `
				UPDATE sessions
				SET status = 'failed', error_message = ?, completed_at = ?, updated_at = ?
				WHERE status = 'processing' AND last_activity < ?`,
				params.HeartbeatMessage, now, now, formatTime(params.HeartbeatCutoff),
			)
			if err != nil {
				return fmt.Errorf("reap stale heartbeats: %w", err)
			}
			if result.HeartbeatReaped, err = res.RowsAffected(); err != nil {
				return fmt.Errorf("reap stale heartbeats: %w", err)
			}
		}

		if !params.StuckChunkCutoff.IsZero() {
			res, err := tx.ExecContext(ctx, `
				UPDATE chunks
				SET stage = 'failed', updated_at = ?
				WHERE stage IN ('analyzing', 'contextualizing', 'embedding', 'storing')
				  AND updated_at < ?`,
				now, formatTime(params.StuckChunkCutoff),
			)
			if err != nil {
				return fmt.Errorf("recover stuck chunks: %w", err)
			}
			if result.ChunksRecovered, err = res.RowsAffected(); err != nil {
				return fmt.Errorf("recover stuck chunks: %w", err)
			}
		}

		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit sweep: %w", err)
		}
		return nil
	})
	if err != nil {
		return storage.SweepResult{}, err
	}
	return result, nil
}

// Stats returns a count of sessions grouped by status.
func (s *Store) Stats(ctx context.Context) (core.SessionStats, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(1) FROM sessions GROUP BY status`)
	if err != nil {
		return core.SessionStats{}, fmt.Errorf("session stats: %w", err)
	}
	defer rows.Close()

	var stats core.SessionStats
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return core.SessionStats{}, err
		}
		stats.Total += count
		switch core.SessionStatus(status) {
		case core.SessionProcessing:
			stats.Processing += count
		case core.SessionCompleted:
			stats.Completed += count
		case core.SessionFailed:
			stats.Failed += count
		case core.SessionPartial:
			stats.Partial += count
		}
	}
	return stats, rows.Err()
}

// RecentFailures returns the most recent failed or partial sessions.
func (s *Store) RecentFailures(ctx context.Context, limit int) ([]core.FailureRecord, error) {
	ctx = ensureContext(ctx)
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_locator, error_message, updated_at
		FROM sessions
		WHERE status IN ('failed', 'partial')
		ORDER BY updated_at DESC
		LIMIT ?`, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("recent failures: %w", err)
	}
	defer rows.Close()

	var failures []core.FailureRecord
	for rows.Next() {
		var record core.FailureRecord
		var updatedAt string
		if err := rows.Scan(&record.SessionID, &record.SourceLocator, &record.ErrorMessage, &updatedAt); err != nil {
			return nil, err
		}
		if record.UpdatedAt, err = parseTime(updatedAt); err != nil {
			return nil, err
		}
		failures = append(failures, record)
	}
	return failures, rows.Err()
}
