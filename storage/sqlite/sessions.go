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
	"time"

	"github.com/poiesic/docweave/core"
	"github.com/poiesic/docweave/storage"
)

const sessionColumns = `id, source_locator, filename, total_chunks, completed_chunks,
	status, error_message, is_emergency, created_at, updated_at, last_activity, completed_at`

// CreateSession inserts a new session row.
func (s *Store) CreateSession(ctx context.Context, session *core.Session) error {
	if session == nil {
		return fmt.Errorf("create session: %w", storage.ErrInvalidQuery)
	}
	if err := core.ValidateSession(session); err != nil {
		return fmt.Errorf("create session: %w", err)
	}

	var completedAt any
	if session.CompletedAt != nil {
		completedAt = formatTime(*session.CompletedAt)
	}
	_, err := s.execWithRetry(ctx, `
		INSERT INTO sessions (`+sessionColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session.ID, session.SourceLocator, session.Filename,
		session.TotalChunks, session.CompletedChunks,
		string(session.Status), session.ErrorMessage, boolToInt(session.IsEmergency),
		formatTime(session.CreatedAt), formatTime(session.UpdatedAt),
		formatTime(session.LastActivity), completedAt,
	)
	if err != nil {
		if isConstraintViolation(err) {
			return fmt.Errorf("create session %s: %w", session.ID, storage.ErrDuplicateKey)
		}
		return fmt.Errorf("create session %s: %w", session.ID, err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *Store) GetSession(ctx context.Context, id string) (*core.Session, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, `SELECT `+sessionColumns+` FROM sessions WHERE id = ?`, id)
	session, err := scanSession(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("get session %s: %w", id, storage.ErrNotFound)
		}
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return session, nil
}

// ListSessionsByStatus returns sessions in the given status, newest first.
func (s *Store) ListSessionsByStatus(ctx context.Context, status core.SessionStatus) ([]*core.Session, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE status = ? ORDER BY created_at DESC`,
		string(status),
	)
	if err != nil {
		return nil, fmt.Errorf("list sessions by status %s: %w", status, err)
	}
	defer rows.Close()

	var sessions []*core.Session
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("list sessions by status %s: %w", status, err)
		}
		sessions = append(sessions, session)
	}
	return sessions, rows.Err()
}

// TouchSession refreshes the session heartbeat, raising the completed
// counter and optionally advancing the status. Counters never regress and
// terminal sessions are never modified.
func (s *Store) TouchSession(ctx context.Context, id string, completedChunks int, status core.SessionStatus) error {
	if status != "" {
		if _, ok := core.ParseSessionStatus(string(status)); !ok {
			return fmt.Errorf("touch session %s with status %q: %w", id, status, storage.ErrInvalidQuery)
		}
	}

	now := formatTime(time.Now())
	res, err := s.execWithRetry(ctx, `
		UPDATE sessions
		SET completed_chunks = CASE
				WHEN ? < 0 THEN completed_chunks
				ELSE MAX(completed_chunks, MIN(?, total_chunks))
			END,
			status = CASE WHEN ? != '' THEN ? ELSE status END,
			completed_at = CASE WHEN ? IN ('completed', 'failed', 'partial') THEN ? ELSE completed_at END,
			updated_at = ?,
			last_activity = ?
		WHERE id = ? AND status = 'processing'`,
		completedChunks, completedChunks,
		string(status), string(status),
		string(status), now,
		now, now, id,
	)
	if err != nil {
		return fmt.Errorf("touch session %s: %w", id, err)
	}
	return s.requireSessionUpdated(ctx, res, id)
}

// FinalizeSession moves the session into a terminal status. Finalizing a
// session that already reached a terminal status returns ErrTerminalSession.
func (s *Store) FinalizeSession(ctx context.Context, id string, status core.SessionStatus, errorMessage string, completedAt time.Time) error {
	if !status.Terminal() {
		return fmt.Errorf("finalize session %s with status %s: %w", id, status, core.ErrInvalidStatusTransition)
	}
	if completedAt.IsZero() {
		completedAt = time.Now()
	}

	done := formatTime(completedAt)
	res, err := s.execWithRetry(ctx, `
		UPDATE sessions
		SET status = ?, error_message = ?, completed_at = ?, updated_at = ?, last_activity = ?
		WHERE id = ? AND status = 'processing'`,
		string(status), errorMessage, done, done, done, id,
	)
	if err != nil {
		return fmt.Errorf("finalize session %s: %w", id, err)
	}
	return s.requireSessionUpdated(ctx, res, id)
}

// requireSessionUpdated distinguishes a missing session from one that has
// already reached a terminal state after a guarded UPDATE matched no rows.
func (s *Store) requireSessionUpdated(ctx context.Context, res sql.Result, id string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("session %s rows affected: %w", id, err)
	}
	if affected > 0 {
		return nil
	}

	var status string
	err = s.db.QueryRowContext(ensureContext(ctx), `SELECT status FROM sessions WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("session %s: %w", id, storage.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("session %s status check: %w", id, err)
	}
	return fmt.Errorf("session %s in status %s: %w", id, status, storage.ErrTerminalSession)
}

func scanSession(row interface{ Scan(...any) error }) (*core.Session, error) {
	var (
		session     core.Session
		status      string
		isEmergency int
		createdAt   string
		updatedAt   string
		lastActive  string
		completedAt sql.NullString
	)
	err := row.Scan(
		&session.ID, &session.SourceLocator, &session.Filename,
		&session.TotalChunks, &session.CompletedChunks,
		&status, &session.ErrorMessage, &isEmergency,
		&createdAt, &updatedAt, &lastActive, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	session.Status = core.SessionStatus(status)
	session.IsEmergency = isEmergency != 0
	if session.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if session.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if session.LastActivity, err = parseTime(lastActive); err != nil {
		return nil, err
	}
	if completedAt.Valid {
		done, err := parseTime(completedAt.String)
		if err != nil {
			return nil, err
		}
		session.CompletedAt = &done
	}
	return &session, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		// SQLITE_CONSTRAINT and its extended codes.
		if coder.Code()&0xff == 19 {
			return true
		}
	}
	return false
}
