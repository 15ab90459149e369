package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docweave/ai/mock"
	"github.com/poiesic/docweave/chunker"
	"github.com/poiesic/docweave/core"
	"github.com/poiesic/docweave/events"
	"github.com/poiesic/docweave/storage"
)

// fakeTracker is an in-memory SessionTracker.
type fakeTracker struct {
	mu       sync.Mutex
	sessions map[string]*core.Session
}

func newFakeTracker() *fakeTracker {
	return &fakeTracker{sessions: make(map[string]*core.Session)}
}

func (f *fakeTracker) Create(_ context.Context, locator, filename string, totalChunks int) (*core.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session := &core.Session{
		ID:            core.NewSessionID(),
		SourceLocator: locator,
		Filename:      filename,
		TotalChunks:   totalChunks,
		Status:        core.SessionProcessing,
		CreatedAt:     time.Now(),
	}
	f.sessions[session.ID] = session
	return cloneSession(session), nil
}

func (f *fakeTracker) Get(_ context.Context, id string) (*core.Session, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	session, ok := f.sessions[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return cloneSession(session), nil
}

func (f *fakeTracker) Touch(_ context.Context, id string, completedChunks int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session, ok := f.sessions[id]; ok && completedChunks >= 0 {
		session.ApplyProgress(completedChunks)
	}
	return nil
}

func (f *fakeTracker) Complete(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session, ok := f.sessions[id]; ok {
		session.Status = core.SessionCompleted
	}
	return nil
}

func (f *fakeTracker) Fail(_ context.Context, id string, cause error, storedChunks int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if session, ok := f.sessions[id]; ok {
		session.Status = core.SessionFailed
		if storedChunks > 0 {
			session.Status = core.SessionPartial
		}
		session.ErrorMessage = core.FormatFailure(cause, nil)
	}
	return nil
}

func (f *fakeTracker) seed(session *core.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sessions[session.ID] = session
}

func cloneSession(session *core.Session) *core.Session {
	clone := *session
	return &clone
}

type fakeDocStore struct {
	mu        sync.Mutex
	docs      map[string]*core.Document
	summaries map[string]string
}

func newFakeDocStore() *fakeDocStore {
	return &fakeDocStore{docs: make(map[string]*core.Document), summaries: make(map[string]string)}
}

func (f *fakeDocStore) UpsertDocument(_ context.Context, doc *core.Document) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *doc
	f.docs[doc.ID] = &clone
	return nil
}

func (f *fakeDocStore) GetDocument(_ context.Context, id string) (*core.Document, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	doc, ok := f.docs[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *doc
	return &clone, nil
}

func (f *fakeDocStore) SetDocumentSummary(_ context.Context, id, summary string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.summaries[id]; !ok {
		f.summaries[id] = summary
	}
	return nil
}

type fakeChunkStore struct {
	mu     sync.Mutex
	chunks map[string]*core.Chunk
	err    error
}

func newFakeChunkStore() *fakeChunkStore {
	return &fakeChunkStore{chunks: make(map[string]*core.Chunk)}
}

func (f *fakeChunkStore) UpsertChunk(_ context.Context, chunk *core.Chunk) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	clone := *chunk
	f.chunks[chunk.ID] = &clone
	return nil
}

func (f *fakeChunkStore) GetChunk(_ context.Context, id string) (*core.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	chunk, ok := f.chunks[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	clone := *chunk
	return &clone, nil
}

func (f *fakeChunkStore) ListChunksByDocument(_ context.Context, documentID string) ([]*core.Chunk, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*core.Chunk
	for _, chunk := range f.chunks {
		if chunk.DocumentID == documentID {
			clone := *chunk
			out = append(out, &clone)
		}
	}
	return out, nil
}

func (f *fakeChunkStore) CountChunksByDocument(_ context.Context, documentID string) (int, error) {
	chunks, _ := f.ListChunksByDocument(nil, documentID)
	return len(chunks), nil
}

func (f *fakeChunkStore) all() []*core.Chunk {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*core.Chunk
	for _, chunk := range f.chunks {
		clone := *chunk
		out = append(out, &clone)
	}
	return out
}

type fakeVectorStore struct {
	mu      sync.Mutex
	points  map[string]storage.VectorPayload
	vectors map[string][]float32
	err     error
}

func newFakeVectorStore() *fakeVectorStore {
	return &fakeVectorStore{points: make(map[string]storage.VectorPayload), vectors: make(map[string][]float32)}
}

func (f *fakeVectorStore) EnsureCollection(context.Context, int) error { return nil }

func (f *fakeVectorStore) UpsertPoint(_ context.Context, id string, vector []float32, payload storage.VectorPayload) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.points[id] = payload
	f.vectors[id] = vector
	return nil
}

func (f *fakeVectorStore) SearchPoints(context.Context, []float32, int, float32) ([]storage.SearchHit, error) {
	return nil, nil
}

func (f *fakeVectorStore) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.points)
}

type fakeCache struct {
	mu      sync.Mutex
	entries map[string]*storage.CacheEntry
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]*storage.CacheEntry)}
}

func (f *fakeCache) Put(_ context.Context, locator, text string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[locator] = &storage.CacheEntry{Locator: locator, Text: text, Length: len(text), StoredAt: time.Now()}
	return core.ContentDigest(text), nil
}

func (f *fakeCache) GetByDigest(_ context.Context, digest string) (*storage.CacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, entry := range f.entries {
		if core.ContentDigest(entry.Text) == digest {
			return entry, nil
		}
	}
	return nil, storage.ErrNotFound
}

func (f *fakeCache) GetByLocator(_ context.Context, locator string) (*storage.CacheEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	entry, ok := f.entries[locator]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return entry, nil
}

type testRig struct {
	pipeline *Pipeline
	tracker  *fakeTracker
	docs     *fakeDocStore
	chunks   *fakeChunkStore
	vectors  *fakeVectorStore
	cache    *fakeCache
	provider *mock.Provider
	bus      *events.Bus
}

func newTestRig(t *testing.T, mutate func(*Config)) *testRig {
	t.Helper()
	ch, err := chunker.New(chunker.Options{Size: 100, Overlap: 10})
	require.NoError(t, err)

	rig := &testRig{
		tracker:  newFakeTracker(),
		docs:     newFakeDocStore(),
		chunks:   newFakeChunkStore(),
		vectors:  newFakeVectorStore(),
		cache:    newFakeCache(),
		provider: mock.NewProvider(),
		bus:      events.NewBus(),
	}
	t.Cleanup(rig.bus.Close)

	cfg := Config{
		Chunker:    ch,
		Provider:   rig.provider,
		Tracker:    rig.tracker,
		Documents:  rig.docs,
		Chunks:     rig.chunks,
		Vectors:    rig.vectors,
		Cache:      rig.cache,
		Bus:        rig.bus,
		BatchPause: time.Millisecond,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	rig.pipeline, err = New(cfg)
	require.NoError(t, err)
	return rig
}

const testContent = "alpha bravo charlie delta echo foxtrot golf hotel india juliett kilo lima " +
	"mike november oscar papa quebec romeo sierra tango uniform victor whiskey xray yankee zulu " +
	"one two three four five six seven eight nine ten eleven twelve thirteen fourteen fifteen"

func TestIngestCompletesAndDualWrites(t *testing.T) {
	rig := newTestRig(t, nil)

	session, err := rig.pipeline.Ingest(context.Background(), "/docs/report.txt", "report.txt", testContent)
	require.NoError(t, err)
	assert.Equal(t, core.SessionCompleted, session.Status)
	assert.Equal(t, session.TotalChunks, session.CompletedChunks)
	assert.Positive(t, session.TotalChunks)

	chunks := rig.chunks.all()
	require.Len(t, chunks, session.TotalChunks)
	for _, chunk := range chunks {
		assert.Equal(t, core.StageDone, chunk.Stage)
		assert.Equal(t, core.EmbeddingSuccess, chunk.EmbeddingStatus)
	}
	assert.Equal(t, session.TotalChunks, rig.vectors.count())

	// Source content was cached for retry.
	entry, err := rig.cache.GetByLocator(context.Background(), "/docs/report.txt")
	require.NoError(t, err)
	assert.Equal(t, chunker.Normalize(testContent), entry.Text)
}

func TestIngestEmptyContent(t *testing.T) {
	rig := newTestRig(t, nil)

	_, err := rig.pipeline.Ingest(context.Background(), "/docs/empty.txt", "empty.txt", "   \n\t  ")
	assert.ErrorIs(t, err, ErrNoContent)
}

func TestAnalyzeFailureFallsBackToDefaults(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.provider.MockAnalyzer.AnalyzeChunkFunc = func(context.Context, string) (core.Analysis, error) {
		return core.Analysis{}, errors.New("model unavailable")
	}

	session, err := rig.pipeline.Ingest(context.Background(), "/docs/report.txt", "report.txt", testContent)
	require.NoError(t, err)
	assert.Equal(t, core.SessionCompleted, session.Status, "analysis failures never fail the run")

	for _, chunk := range rig.chunks.all() {
		assert.Equal(t, "neutral", chunk.Analysis.Sentiment)
		assert.Equal(t, "uncategorized", chunk.Analysis.Category)
		assert.NotEmpty(t, chunk.Analysis.Summary)
	}
}

func TestAnalyzeTimeoutFallsBackToDefaults(t *testing.T) {
	rig := newTestRig(t, func(cfg *Config) {
		cfg.AnalyzeTimeout = 10 * time.Millisecond
	})
	rig.provider.MockAnalyzer.AnalyzeChunkFunc = func(ctx context.Context, _ string) (core.Analysis, error) {
		<-ctx.Done()
		return core.Analysis{}, ctx.Err()
	}

	session, err := rig.pipeline.Ingest(context.Background(), "/docs/report.txt", "report.txt", testContent)
	require.NoError(t, err)
	assert.Equal(t, core.SessionCompleted, session.Status)

	for _, chunk := range rig.chunks.all() {
		assert.Equal(t, "uncategorized", chunk.Analysis.Category)
	}
}

func TestEmbedFailureSkipsVectorWrite(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.provider.MockEmbedder.EmbedTextFunc = func(context.Context, string) ([]float32, error) {
		return nil, errors.New("connection refused")
	}

	session, err := rig.pipeline.Ingest(context.Background(), "/docs/report.txt", "report.txt", testContent)
	require.NoError(t, err)
	assert.Equal(t, core.SessionCompleted, session.Status, "content is preserved relationally")

	assert.Zero(t, rig.vectors.count())
	for _, chunk := range rig.chunks.all() {
		assert.Equal(t, core.EmbeddingFailed, chunk.EmbeddingStatus)
		assert.Equal(t, core.StageDone, chunk.Stage)
	}
}

func TestVectorStoreFailureKeepsRelationalWrite(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.vectors.err = errors.New("qdrant unavailable")

	session, err := rig.pipeline.Ingest(context.Background(), "/docs/report.txt", "report.txt", testContent)
	require.NoError(t, err)
	assert.Equal(t, core.SessionCompleted, session.Status)

	for _, chunk := range rig.chunks.all() {
		assert.Equal(t, core.EmbeddingFailed, chunk.EmbeddingStatus)
	}
}

func TestRelationalFailureFailsSession(t *testing.T) {
	rig := newTestRig(t, nil)
	rig.chunks.err = errors.New("database is locked")

	session, err := rig.pipeline.Ingest(context.Background(), "/docs/report.txt", "report.txt", testContent)
	require.NoError(t, err)
	assert.Equal(t, core.SessionFailed, session.Status)
	assert.Contains(t, session.ErrorMessage, "[database]")
}

func TestContextualEmbeddings(t *testing.T) {
	var embedded []string
	var embedMu sync.Mutex
	rig := newTestRig(t, func(cfg *Config) {
		cfg.ContextualEmbeddings = true
	})
	rig.provider.MockContextGenerator.GenerateContextFunc = func(_ context.Context, _, _ string) (string, error) {
		return "This chunk is part of a status report.", nil
	}
	rig.provider.MockEmbedder.EmbedTextFunc = func(_ context.Context, text string) ([]float32, error) {
		embedMu.Lock()
		embedded = append(embedded, text)
		embedMu.Unlock()
		return []float32{0.1, 0.2}, nil
	}

	session, err := rig.pipeline.Ingest(context.Background(), "/docs/report.txt", "report.txt", testContent)
	require.NoError(t, err)
	assert.Equal(t, core.SessionCompleted, session.Status)

	require.NotEmpty(t, embedded)
	for _, text := range embedded {
		assert.True(t, strings.HasPrefix(text, "This chunk is part of a status report.\n\n"))
	}
	for _, chunk := range rig.chunks.all() {
		assert.Equal(t, "This chunk is part of a status report.", chunk.ContextualSummary)
	}
}

func TestContextFailureEmbedsWithoutContext(t *testing.T) {
	rig := newTestRig(t, func(cfg *Config) {
		cfg.ContextualEmbeddings = true
	})
	rig.provider.MockContextGenerator.GenerateContextFunc = func(context.Context, string, string) (string, error) {
		return "", errors.New("context model unavailable")
	}

	session, err := rig.pipeline.Ingest(context.Background(), "/docs/report.txt", "report.txt", testContent)
	require.NoError(t, err)
	assert.Equal(t, core.SessionCompleted, session.Status)

	for _, chunk := range rig.chunks.all() {
		assert.Empty(t, chunk.ContextualSummary)
		assert.Equal(t, core.EmbeddingSuccess, chunk.EmbeddingStatus)
	}
}

func TestRetryFromCachedContent(t *testing.T) {
	rig := newTestRig(t, nil)

	// First run fails outright: the relational store is down.
	rig.chunks.err = errors.New("database is locked")
	failed, err := rig.pipeline.Ingest(context.Background(), "/docs/report.txt", "report.txt", testContent)
	require.NoError(t, err)
	require.Equal(t, core.SessionFailed, failed.Status)

	// The store recovers; retry reprocesses from the cache.
	rig.chunks.err = nil
	retried, err := rig.pipeline.Retry(context.Background(), failed.ID)
	require.NoError(t, err)
	assert.Equal(t, core.SessionCompleted, retried.Status)
	assert.NotEqual(t, failed.ID, retried.ID, "retry runs under a fresh session")
	assert.Len(t, rig.chunks.all(), retried.TotalChunks)
}

func TestRetryRequiresTerminalFailure(t *testing.T) {
	rig := newTestRig(t, nil)

	active := &core.Session{
		ID:            core.NewSessionID(),
		SourceLocator: "/docs/report.txt",
		Status:        core.SessionProcessing,
	}
	rig.tracker.seed(active)

	_, err := rig.pipeline.Retry(context.Background(), active.ID)
	assert.ErrorIs(t, err, ErrSessionNotRetryable)
}

func TestRetryWithoutCachedContent(t *testing.T) {
	rig := newTestRig(t, nil)

	failed := &core.Session{
		ID:            core.NewSessionID(),
		SourceLocator: "/docs/gone.txt",
		Status:        core.SessionFailed,
	}
	rig.tracker.seed(failed)

	_, err := rig.pipeline.Retry(context.Background(), failed.ID)
	assert.ErrorIs(t, err, ErrNoCachedContent)
}

func TestConcurrencyForChunkCount(t *testing.T) {
	assert.Equal(t, 3, concurrencyFor(1))
	assert.Equal(t, 3, concurrencyFor(100))
	assert.Equal(t, 2, concurrencyFor(101))
	assert.Equal(t, 2, concurrencyFor(500))
	assert.Equal(t, 1, concurrencyFor(501))
}

func TestProgressEventsPublished(t *testing.T) {
	rig := newTestRig(t, nil)
	ch, cancel := rig.bus.Subscribe(1024)
	defer cancel()

	session, err := rig.pipeline.Ingest(context.Background(), "/docs/report.txt", "report.txt", testContent)
	require.NoError(t, err)

	seen := make(map[events.Step]bool)
	for {
		select {
		case event := <-ch:
			seen[event.Step] = true
			assert.Equal(t, session.ID, event.SessionID)
		default:
			goto done
		}
	}
done:
	assert.True(t, seen[events.StepChunkStart])
	assert.True(t, seen[events.StepAnalyze])
	assert.True(t, seen[events.StepAnalyzeComplete])
	assert.True(t, seen[events.StepEmbedding])
	assert.True(t, seen[events.StepStoreComplete])
	assert.True(t, seen[events.StepChunkComplete])
}
