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

package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/poiesic/docweave/core"
	"github.com/poiesic/docweave/retry"
	"github.com/poiesic/docweave/storage"
)

const (
	defaultReconcileInterval = 30 * time.Second
	defaultReconcileDeadline = 10 * time.Minute
)

// emergencyAbandonMessage is recorded on emergency sessions that never
// reached the durable store before the reconciliation deadline.
const emergencyAbandonMessage = "emergency session could not be persisted before the reconciliation deadline"

// Tracker manages session lifecycle across the durable store and an
// in-memory mirror of active runs.
type Tracker struct {
	store  storage.SessionStore
	policy retry.Policy
	logger *slog.Logger

	reconcileInterval time.Duration
	reconcileDeadline time.Duration

	mu     sync.RWMutex
	mirror map[string]*core.Session

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithRetryPolicy sets the policy used for durable-store writes.
func WithRetryPolicy(policy retry.Policy) Option {
	return func(t *Tracker) { t.policy = policy }
}

// WithReconcileInterval sets how often emergency sessions retry persistence.
func WithReconcileInterval(interval time.Duration) Option {
	return func(t *Tracker) { t.reconcileInterval = interval }
}

// WithReconcileDeadline sets how long an emergency session may stay
// unpersisted before it is abandoned as failed.
func WithReconcileDeadline(deadline time.Duration) Option {
	return func(t *Tracker) { t.reconcileDeadline = deadline }
}

// WithLogger sets the tracker logger.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Tracker) { t.logger = logger }
}

// NewTracker creates a tracker over the given session store.
func NewTracker(store storage.SessionStore, opts ...Option) *Tracker {
	t := &Tracker{
		store:             store,
		policy:            retry.DefaultPolicy(),
		logger:            slog.Default(),
		reconcileInterval: defaultReconcileInterval,
		reconcileDeadline: defaultReconcileDeadline,
		mirror:            make(map[string]*core.Session),
		stop:              make(chan struct{}),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// RestoreActive loads processing sessions from the store into the mirror.
// Called once at startup so status queries see runs from before a restart.
func (t *Tracker) RestoreActive(ctx context.Context) (int, error) {
	sessions, err := t.store.ListSessionsByStatus(ctx, core.SessionProcessing)
	if err != nil {
		return 0, fmt.Errorf("restore active sessions: %w", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	for _, session := range sessions {
		if _, ok := t.mirror[session.ID]; !ok {
			t.mirror[session.ID] = cloneSession(session)
		}
	}
	return len(sessions), nil
}

// Create starts a new processing session for the given source. When the
// durable store is unavailable even after retries, the session is created
// as an emergency record in the mirror only and a background loop keeps
// trying to persist it.
func (t *Tracker) Create(ctx context.Context, locator, filename string, totalChunks int) (*core.Session, error) {
	if locator == "" {
		return nil, fmt.Errorf("create session: %w", core.ErrEmptyLocator)
	}

	now := time.Now()
	session := &core.Session{
		ID:            core.NewSessionID(),
		SourceLocator: locator,
		Filename:      filename,
		TotalChunks:   totalChunks,
		Status:        core.SessionProcessing,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastActivity:  now,
	}

	err := t.policy.Do(ctx, func() error {
		return t.store.CreateSession(ctx, session)
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		session.IsEmergency = true
		t.logger.Error("session store unavailable, created emergency session",
			"sessionId", session.ID, "source", locator, "error", err)
		t.putMirror(session)
		t.wg.Add(1)
		go t.reconcile(session.ID)
		return cloneSession(session), nil
	}

	t.putMirror(session)
	return cloneSession(session), nil
}

// reconcile retries persisting an emergency session until it lands in the
// store or the deadline expires, at which point the session is abandoned
// as failed.
func (t *Tracker) reconcile(id string) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.reconcileInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(t.reconcileDeadline)
	defer deadline.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-deadline.C:
			t.mu.Lock()
			if session, ok := t.mirror[id]; ok && session.IsEmergency && !session.Status.Terminal() {
				done := time.Now()
				session.Status = core.SessionFailed
				session.ErrorMessage = emergencyAbandonMessage
				session.UpdatedAt = done
				session.CompletedAt = &done
			}
			t.mu.Unlock()
			t.logger.Error("abandoned emergency session", "sessionId", id)
			return
		case <-ticker.C:
			t.mu.RLock()
			session, ok := t.mirror[id]
			var snapshot *core.Session
			if ok {
				snapshot = cloneSession(session)
			}
			t.mu.RUnlock()
			if !ok || !snapshot.IsEmergency || snapshot.Status.Terminal() {
				return
			}

			if err := t.store.CreateSession(context.Background(), snapshot); err != nil {
				t.logger.Warn("emergency session reconciliation failed",
					"sessionId", id, "error", err)
				continue
			}

			t.mu.Lock()
			if session, ok := t.mirror[id]; ok {
				session.IsEmergency = false
			}
			t.mu.Unlock()
			t.logger.Info("emergency session reconciled", "sessionId", id)
			return
		}
	}
}

// Touch records a heartbeat for the session, raising the completed-chunk
// counter when completedChunks is non-negative.
func (t *Tracker) Touch(ctx context.Context, id string, completedChunks int) error {
	emergency := false

	t.mu.Lock()
	session, ok := t.mirror[id]
	if ok {
		now := time.Now()
		if completedChunks >= 0 {
			session.ApplyProgress(completedChunks)
		}
		session.UpdatedAt = now
		session.LastActivity = now
		emergency = session.IsEmergency
	}
	t.mu.Unlock()

	if emergency {
		return nil
	}
	err := t.store.TouchSession(ctx, id, completedChunks, "")
	if err != nil && ok && errors.Is(err, storage.ErrNotFound) {
		// Mirror-only session whose row is not durable yet.
		return nil
	}
	return err
}

// Complete finalizes the session as fully processed.
func (t *Tracker) Complete(ctx context.Context, id string) error {
	return t.finalize(ctx, id, core.SessionCompleted, "")
}

// Fail finalizes the session after an unrecoverable error. Sessions with
// at least one durably stored chunk end partial rather than failed, since
// their stored work remains queryable.
func (t *Tracker) Fail(ctx context.Context, id string, cause error, storedChunks int) error {
	status := core.SessionFailed
	if storedChunks > 0 {
		status = core.SessionPartial
	}
	return t.finalize(ctx, id, status, core.FormatFailure(cause, debug.Stack()))
}

// finalize records the terminal state. Durable sessions leave the mirror,
// which holds only non-terminal runs; status queries fall through to the
// store. Emergency sessions have no durable row, so their terminal state
// stays mirrored until eviction.
func (t *Tracker) finalize(ctx context.Context, id string, status core.SessionStatus, message string) error {
	done := time.Now()
	emergency := false

	t.mu.Lock()
	session, ok := t.mirror[id]
	if ok {
		emergency = session.IsEmergency
		if emergency {
			session.Status = status
			session.ErrorMessage = message
			session.UpdatedAt = done
			session.CompletedAt = &done
		} else {
			delete(t.mirror, id)
		}
	}
	t.mu.Unlock()

	if emergency {
		return nil
	}
	err := t.store.FinalizeSession(ctx, id, status, message, done)
	if err != nil && ok && errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// Get returns the session, preferring the mirror for active runs.
func (t *Tracker) Get(ctx context.Context, id string) (*core.Session, error) {
	t.mu.RLock()
	session, ok := t.mirror[id]
	var snapshot *core.Session
	if ok {
		snapshot = cloneSession(session)
	}
	t.mu.RUnlock()
	if ok {
		return snapshot, nil
	}
	return t.store.GetSession(ctx, id)
}

// Active returns mirror sessions still in processing.
func (t *Tracker) Active() []*core.Session {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var active []*core.Session
	for _, session := range t.mirror {
		if session.Status == core.SessionProcessing {
			active = append(active, cloneSession(session))
		}
	}
	return active
}

// SweepEmergency fails emergency mirror sessions whose heartbeat is older
// than the cutoff. Returns how many sessions were reaped.
func (t *Tracker) SweepEmergency(cutoff time.Time, message string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	reaped := 0
	for _, session := range t.mirror {
		if !session.IsEmergency || session.Status.Terminal() {
			continue
		}
		if session.LastActivity.Before(cutoff) {
			done := time.Now()
			session.Status = core.SessionFailed
			session.ErrorMessage = message
			session.UpdatedAt = done
			session.CompletedAt = &done
			reaped++
		}
	}
	return reaped
}

// EvictTerminal drops terminal mirror entries that completed before the
// cutoff. Only emergency sessions reach a terminal state in the mirror;
// they linger briefly so their final status stays queryable, since no
// durable row exists for them.
func (t *Tracker) EvictTerminal(cutoff time.Time) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	evicted := 0
	for id, session := range t.mirror {
		if !session.Status.Terminal() {
			continue
		}
		if session.CompletedAt != nil && session.CompletedAt.Before(cutoff) {
			delete(t.mirror, id)
			evicted++
		}
	}
	return evicted
}

// MirrorSize returns the number of sessions held in the mirror.
func (t *Tracker) MirrorSize() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.mirror)
}

// Close stops background reconciliation and waits for it to finish.
func (t *Tracker) Close() {
	t.stopOnce.Do(func() { close(t.stop) })
	t.wg.Wait()
}

func (t *Tracker) putMirror(session *core.Session) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.mirror[session.ID] = cloneSession(session)
}

func cloneSession(session *core.Session) *core.Session {
	clone := *session
	if session.CompletedAt != nil {
		done := *session.CompletedAt
		clone.CompletedAt = &done
	}
	return &clone
}
