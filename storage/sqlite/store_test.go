package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docweave/core"
	"github.com/poiesic/docweave/storage"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "docweave.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func newTestSession(id string, total int) *core.Session {
	now := time.Now()
	return &core.Session{
		ID:            id,
		SourceLocator: "/docs/report.txt",
		Filename:      "report.txt",
		TotalChunks:   total,
		Status:        core.SessionProcessing,
		CreatedAt:     now,
		UpdatedAt:     now,
		LastActivity:  now,
	}
}

func newTestChunk(id, documentID string, index int) *core.Chunk {
	return &core.Chunk{
		ID:              id,
		DocumentID:      documentID,
		Index:           index,
		Text:            "chunk body text",
		Length:          15,
		Size:            2000,
		Overlap:         200,
		Stage:           core.StagePending,
		EmbeddingStatus: core.EmbeddingPending,
		CreatedTime:     time.Now(),
	}
}

func TestSessionRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	session := newTestSession("sess-1", 5)
	require.NoError(t, store.CreateSession(ctx, session))

	loaded, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, session.SourceLocator, loaded.SourceLocator)
	assert.Equal(t, 5, loaded.TotalChunks)
	assert.Equal(t, core.SessionProcessing, loaded.Status)
	assert.Nil(t, loaded.CompletedAt)

	err = store.CreateSession(ctx, session)
	assert.ErrorIs(t, err, storage.ErrDuplicateKey)

	_, err = store.GetSession(ctx, "missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestTouchSessionMonotonicCounters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, newTestSession("sess-1", 10)))

	require.NoError(t, store.TouchSession(ctx, "sess-1", 4, ""))
	loaded, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.CompletedChunks)

	// A stale writer reporting lower progress never regresses the counter.
	require.NoError(t, store.TouchSession(ctx, "sess-1", 2, ""))
	loaded, err = store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.CompletedChunks)

	// Values above the total are clamped.
	require.NoError(t, store.TouchSession(ctx, "sess-1", 25, ""))
	loaded, err = store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.CompletedChunks)

	// A negative value refreshes the heartbeat without touching the counter.
	before := loaded.LastActivity
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, store.TouchSession(ctx, "sess-1", -1, ""))
	loaded, err = store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 10, loaded.CompletedChunks)
	assert.True(t, loaded.LastActivity.After(before))
}

func TestTouchSessionTerminalGuard(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, newTestSession("sess-1", 3)))

	require.NoError(t, store.TouchSession(ctx, "sess-1", 3, core.SessionCompleted))
	loaded, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, core.SessionCompleted, loaded.Status)
	require.NotNil(t, loaded.CompletedAt)

	// Terminal states are absorbing.
	err = store.TouchSession(ctx, "sess-1", 3, core.SessionFailed)
	assert.ErrorIs(t, err, storage.ErrTerminalSession)
	loaded, err = store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, core.SessionCompleted, loaded.Status)

	err = store.TouchSession(ctx, "missing", 1, "")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestFinalizeSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.CreateSession(ctx, newTestSession("sess-1", 3)))

	err := store.FinalizeSession(ctx, "sess-1", core.SessionProcessing, "", time.Now())
	assert.ErrorIs(t, err, core.ErrInvalidStatusTransition)

	require.NoError(t, store.FinalizeSession(ctx, "sess-1", core.SessionPartial, "2 of 3 chunks stored", time.Now()))
	loaded, err := store.GetSession(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, core.SessionPartial, loaded.Status)
	assert.Equal(t, "2 of 3 chunks stored", loaded.ErrorMessage)
	require.NotNil(t, loaded.CompletedAt)

	err = store.FinalizeSession(ctx, "sess-1", core.SessionFailed, "again", time.Now())
	assert.ErrorIs(t, err, storage.ErrTerminalSession)
}

func TestListSessionsByStatus(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, newTestSession("sess-1", 3)))
	require.NoError(t, store.CreateSession(ctx, newTestSession("sess-2", 3)))
	require.NoError(t, store.FinalizeSession(ctx, "sess-2", core.SessionCompleted, "", time.Now()))

	processing, err := store.ListSessionsByStatus(ctx, core.SessionProcessing)
	require.NoError(t, err)
	require.Len(t, processing, 1)
	assert.Equal(t, "sess-1", processing[0].ID)

	completed, err := store.ListSessionsByStatus(ctx, core.SessionCompleted)
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, "sess-2", completed[0].ID)
}

func TestSweepReapsByHeartbeatAndRuntime(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// stale: heartbeat stopped long ago
	stale := newTestSession("sess-stale", 3)
	stale.CreatedAt = time.Now().Add(-2 * time.Minute)
	stale.LastActivity = time.Now().Add(-2 * time.Minute)
	require.NoError(t, store.CreateSession(ctx, stale))

	// overrun: heartbeat is fresh but the session started far too long ago
	overrun := newTestSession("sess-overrun", 3)
	overrun.CreatedAt = time.Now().Add(-20 * time.Minute)
	require.NoError(t, store.CreateSession(ctx, overrun))

	// healthy: recent on both axes
	require.NoError(t, store.CreateSession(ctx, newTestSession("sess-healthy", 3)))

	result, err := store.Sweep(ctx, storage.SweepParams{
		HeartbeatCutoff:  time.Now().Add(-time.Minute),
		HeartbeatMessage: "session timed out - no activity detected",
		RuntimeCutoff:    time.Now().Add(-8 * time.Minute),
		RuntimeMessage:   "session exceeded maximum processing time",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.HeartbeatReaped)
	assert.EqualValues(t, 1, result.RuntimeReaped)

	reaped, err := store.GetSession(ctx, "sess-stale")
	require.NoError(t, err)
	assert.Equal(t, core.SessionFailed, reaped.Status)
	assert.Equal(t, "session timed out - no activity detected", reaped.ErrorMessage)

	reaped, err = store.GetSession(ctx, "sess-overrun")
	require.NoError(t, err)
	assert.Equal(t, core.SessionFailed, reaped.Status)
	assert.Equal(t, "session exceeded maximum processing time", reaped.ErrorMessage)

	healthy, err := store.GetSession(ctx, "sess-healthy")
	require.NoError(t, err)
	assert.Equal(t, core.SessionProcessing, healthy.Status)
}

func TestHeartbeatOnlySweepReapsAnyStalledSession(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// A plain processing session whose heartbeat went quiet is reaped by
	// the heartbeat-only sweep, not just emergency ones.
	stalled := newTestSession("sess-stalled", 3)
	stalled.LastActivity = time.Now().Add(-5 * time.Minute)
	require.NoError(t, store.CreateSession(ctx, stalled))

	emergency := newTestSession("sess-emergency", 3)
	emergency.IsEmergency = true
	emergency.LastActivity = time.Now().Add(-5 * time.Minute)
	require.NoError(t, store.CreateSession(ctx, emergency))

	require.NoError(t, store.CreateSession(ctx, newTestSession("sess-healthy", 3)))

	result, err := store.Sweep(ctx, storage.SweepParams{
		HeartbeatCutoff:  time.Now().Add(-90 * time.Second),
		HeartbeatMessage: "health check timeout",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 2, result.HeartbeatReaped)

	reaped, err := store.GetSession(ctx, "sess-stalled")
	require.NoError(t, err)
	assert.Equal(t, core.SessionFailed, reaped.Status)
	assert.Equal(t, "health check timeout", reaped.ErrorMessage)

	healthy, err := store.GetSession(ctx, "sess-healthy")
	require.NoError(t, err)
	assert.Equal(t, core.SessionProcessing, healthy.Status)
}

func TestSweepPrefersRuntimeMessageWhenBothExpired(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Created 10 minutes ago and silent for 5: past the wall-clock bound
	// and the heartbeat bound at once. The runtime message must win.
	session := newTestSession("sess-both", 3)
	session.CreatedAt = time.Now().Add(-10 * time.Minute)
	session.LastActivity = time.Now().Add(-5 * time.Minute)
	require.NoError(t, store.CreateSession(ctx, session))

	result, err := store.Sweep(ctx, storage.SweepParams{
		HeartbeatCutoff:  time.Now().Add(-90 * time.Second),
		HeartbeatMessage: "session timed out - no activity detected",
		RuntimeCutoff:    time.Now().Add(-8 * time.Minute),
		RuntimeMessage:   "session exceeded maximum processing time",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.RuntimeReaped)
	assert.EqualValues(t, 0, result.HeartbeatReaped)

	reaped, err := store.GetSession(ctx, "sess-both")
	require.NoError(t, err)
	assert.Equal(t, core.SessionFailed, reaped.Status)
	assert.Equal(t, "session exceeded maximum processing time", reaped.ErrorMessage)
}

func TestSweepRecoversStuckChunks(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc := &core.Document{ID: "doc-1", SourceLocator: "/docs/a.txt", CreatedAt: time.Now()}
	require.NoError(t, store.UpsertDocument(ctx, doc))

	stuck := newTestChunk("chunk-stuck", "doc-1", 0)
	stuck.Stage = core.StageEmbedding
	require.NoError(t, store.UpsertChunk(ctx, stuck))

	done := newTestChunk("chunk-done", "doc-1", 1)
	done.Stage = core.StageDone
	require.NoError(t, store.UpsertChunk(ctx, done))

	// Only chunks whose stage entry predates the cutoff are recovered.
	result, err := store.Sweep(ctx, storage.SweepParams{StuckChunkCutoff: time.Now().Add(-time.Minute)})
	require.NoError(t, err)
	assert.EqualValues(t, 0, result.ChunksRecovered)

	result, err = store.Sweep(ctx, storage.SweepParams{StuckChunkCutoff: time.Now().Add(time.Minute)})
	require.NoError(t, err)
	assert.EqualValues(t, 1, result.ChunksRecovered)

	recovered, err := store.GetChunk(ctx, "chunk-stuck")
	require.NoError(t, err)
	assert.Equal(t, core.StageFailed, recovered.Stage)

	finished, err := store.GetChunk(ctx, "chunk-done")
	require.NoError(t, err)
	assert.Equal(t, core.StageDone, finished.Stage)
}

func TestStatsAndRecentFailures(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.CreateSession(ctx, newTestSession("sess-1", 3)))
	require.NoError(t, store.CreateSession(ctx, newTestSession("sess-2", 3)))
	require.NoError(t, store.CreateSession(ctx, newTestSession("sess-3", 3)))
	require.NoError(t, store.FinalizeSession(ctx, "sess-2", core.SessionFailed, "embedding host unreachable", time.Now()))
	require.NoError(t, store.FinalizeSession(ctx, "sess-3", core.SessionCompleted, "", time.Now()))

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Total)
	assert.Equal(t, 1, stats.Processing)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 1, stats.Failed)

	failures, err := store.RecentFailures(ctx, 5)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, "sess-2", failures[0].SessionID)
	assert.Equal(t, "embedding host unreachable", failures[0].ErrorMessage)
}

func TestDocumentUpsertAndSummaryBackfill(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc := &core.Document{
		ID:            "doc-1",
		SourceLocator: "/docs/a.txt",
		Title:         "a.txt",
		TotalChunks:   3,
		CreatedAt:     time.Now(),
	}
	require.NoError(t, store.UpsertDocument(ctx, doc))

	doc.TotalChunks = 4
	require.NoError(t, store.UpsertDocument(ctx, doc))

	loaded, err := store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.TotalChunks)
	assert.Empty(t, loaded.Summary)

	require.NoError(t, store.SetDocumentSummary(ctx, "doc-1", "first summary"))
	require.NoError(t, store.SetDocumentSummary(ctx, "doc-1", "second summary"))

	loaded, err = store.GetDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, "first summary", loaded.Summary, "backfill never overwrites")
}

func TestChunkUpsertIsIdempotent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	doc := &core.Document{ID: "doc-1", SourceLocator: "/docs/a.txt", CreatedAt: time.Now()}
	require.NoError(t, store.UpsertDocument(ctx, doc))

	chunk := newTestChunk("chunk-1", "doc-1", 0)
	require.NoError(t, store.UpsertChunk(ctx, chunk))

	chunk.Stage = core.StageDone
	chunk.Analysis = core.Analysis{
		Title:     "Quarterly Report",
		Summary:   "Revenue grew.",
		Sentiment: "positive",
		Category:  "finance",
		Topics:    []string{"revenue"},
		Entities:  []string{"Acme"},
	}
	chunk.ContextualSummary = "From the quarterly report."
	chunk.EmbeddingStatus = core.EmbeddingSuccess
	chunk.ProcessedDate = time.Now()
	require.NoError(t, store.UpsertChunk(ctx, chunk))

	count, err := store.CountChunksByDocument(ctx, "doc-1")
	require.NoError(t, err)
	assert.Equal(t, 1, count, "reprocessing overwrites rather than duplicates")

	loaded, err := store.GetChunk(ctx, "chunk-1")
	require.NoError(t, err)
	assert.Equal(t, core.StageDone, loaded.Stage)
	assert.Equal(t, "Quarterly Report", loaded.Analysis.Title)
	assert.Equal(t, []string{"revenue"}, loaded.Analysis.Topics)
	assert.Equal(t, core.EmbeddingSuccess, loaded.EmbeddingStatus)
	assert.False(t, loaded.ProcessedDate.IsZero())

	chunks, err := store.ListChunksByDocument(ctx, "doc-1")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
}
