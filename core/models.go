package core

import (
	"encoding/hex"
	"strconv"
	"strings"
	"time"

	"github.com/go-crypt/x/blake2b"
	"github.com/google/uuid"
)

// ContentDigest returns a hex BLAKE2b digest of text. Identical content
// always produces the same digest; it keys the content cache and feeds
// deterministic document IDs.
func ContentDigest(text string) string {
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(text))
	return hex.EncodeToString(h.Sum(nil))
}

// chunkNamespace is the UUIDv5 namespace for deterministic chunk IDs.
// Retries of the same (document, index) pair must produce the same ID so
// that storage writes upsert instead of duplicating.
var chunkNamespace = uuid.MustParse("9f2c1b36-7c44-4df0-a1ce-52b04f8e21d7")

// ChunkIDFor returns the stable chunk ID for an ordinal position within a
// document. The ID is deterministic for the life of the document.
func ChunkIDFor(documentID string, index int) string {
	return uuid.NewSHA1(chunkNamespace, []byte(documentID+"#"+strconv.Itoa(index))).String()
}

// DocumentIDFor derives a document ID from the source locator and the
// digest of its normalized content, so re-ingesting identical content
// addresses the same document.
func DocumentIDFor(locator, contentDigest string) string {
	return uuid.NewSHA1(chunkNamespace, []byte("doc:"+locator+":"+contentDigest)).String()
}

// NewSessionID returns a fresh random session identifier.
func NewSessionID() string {
	return uuid.NewString()
}

// SessionStatus is the lifecycle state of a processing session.
type SessionStatus string

const (
	SessionProcessing SessionStatus = "processing"
	SessionCompleted  SessionStatus = "completed"
	SessionFailed     SessionStatus = "failed"
	SessionPartial    SessionStatus = "partial"
)

var sessionStatuses = []SessionStatus{
	SessionProcessing,
	SessionCompleted,
	SessionFailed,
	SessionPartial,
}

// SessionStatuses returns the ordered list of known session statuses.
func SessionStatuses() []SessionStatus {
	cp := make([]SessionStatus, len(sessionStatuses))
	copy(cp, sessionStatuses)
	return cp
}

// ParseSessionStatus converts a string into a known SessionStatus.
func ParseSessionStatus(value string) (SessionStatus, bool) {
	normalized := SessionStatus(strings.ToLower(strings.TrimSpace(value)))
	for _, s := range sessionStatuses {
		if s == normalized {
			return s, true
		}
	}
	return "", false
}

// Terminal reports whether the status is absorbing. Sessions never leave
// completed, failed, or partial.
func (s SessionStatus) Terminal() bool {
	switch s {
	case SessionCompleted, SessionFailed, SessionPartial:
		return true
	default:
		return false
	}
}

// CanTransition reports whether a session may move from one status to
// another. The machine is forward-only: processing may enter any terminal
// state, terminal states admit nothing.
func CanTransition(from, to SessionStatus) bool {
	if from == to {
		return false
	}
	return from == SessionProcessing && to.Terminal()
}

// ChunkStage mirrors a chunk's progress through the pipeline.
type ChunkStage string

const (
	StagePending         ChunkStage = "pending"
	StageAnalyzing       ChunkStage = "analyzing"
	StageContextualizing ChunkStage = "contextualizing"
	StageEmbedding       ChunkStage = "embedding"
	StageStoring         ChunkStage = "storing"
	StageDone            ChunkStage = "done"
	StageFailed          ChunkStage = "failed"
)

var inFlightStages = map[ChunkStage]struct{}{
	StageAnalyzing:       {},
	StageContextualizing: {},
	StageEmbedding:       {},
	StageStoring:         {},
}

// InFlight reports whether the stage reflects an in-progress operation.
// Chunks stuck in an in-flight stage are candidates for orphan recovery.
func (s ChunkStage) InFlight() bool {
	_, ok := inFlightStages[s]
	return ok
}

// EmbeddingStatus records the outcome of a chunk's vector-store write.
type EmbeddingStatus string

const (
	EmbeddingPending EmbeddingStatus = "pending"
	EmbeddingSuccess EmbeddingStatus = "success"
	EmbeddingFailed  EmbeddingStatus = "failed"
)

// Document is one ingested source. It is created before chunk processing
// begins and, apart from the summary backfill, never mutated once chunk
// counts are finalized.
type Document struct {
	ID            string
	SourceLocator string
	Title         string
	Summary       string
	TotalChunks   int
	CreatedAt     time.Time
}

// Analysis holds the AI-derived metadata for a chunk. All fields are
// optional; a failed or timed-out analyze stage substitutes DefaultAnalysis.
type Analysis struct {
	Title     string
	Summary   string
	Sentiment string
	Category  string
	Topics    []string
	Entities  []string
}

// DefaultAnalysis returns the deterministic fallback payload used when the
// analyze stage fails or times out, so the pipeline never stalls on it.
func DefaultAnalysis(text string) Analysis {
	const maxSummary = 200
	summary := text
	if len(summary) > maxSummary {
		summary = summary[:maxSummary]
	}
	return Analysis{
		Summary:   summary,
		Sentiment: "neutral",
		Category:  "uncategorized",
		Topics:    []string{},
		Entities:  []string{},
	}
}

// Chunk is one overlapping text window of a document.
type Chunk struct {
	ID         string
	DocumentID string
	Index      int
	Text       string
	Length     int

	// Size and Overlap record the exact parameters used to cut this chunk.
	// Adaptive scaling can differ per document, so consumers never recompute
	// offsets from global defaults.
	Size    int
	Overlap int

	Stage             ChunkStage
	Analysis          Analysis
	ContextualSummary string
	EmbeddingStatus   EmbeddingStatus

	CreatedTime   time.Time
	ProcessedDate time.Time
}

// Session is the durable record of one processing run. It outlives the
// process driving it; the sweeper finalizes sessions whose driver died.
type Session struct {
	ID              string
	SourceLocator   string
	Filename        string
	TotalChunks     int
	CompletedChunks int
	Status          SessionStatus
	ErrorMessage    string

	// IsEmergency marks a session that could not be persisted at creation
	// time and exists only in the in-memory mirror until reconciled.
	IsEmergency bool

	CreatedAt    time.Time
	UpdatedAt    time.Time
	LastActivity time.Time
	CompletedAt  *time.Time
}

// ApplyProgress raises CompletedChunks to the given value. Counters are
// monotonic: regressions are ignored and values are clamped to TotalChunks.
func (s *Session) ApplyProgress(completed int) {
	if completed > s.TotalChunks {
		completed = s.TotalChunks
	}
	if completed > s.CompletedChunks {
		s.CompletedChunks = completed
	}
}

// SessionStats aggregates session counts by status for diagnostics.
type SessionStats struct {
	Total      int
	Processing int
	Completed  int
	Failed     int
	Partial    int
}

// FailureRecord is a recent session failure surfaced by the diagnostics
// pass of the cleanup sweep.
type FailureRecord struct {
	SessionID     string
	SourceLocator string
	ErrorMessage  string
	UpdatedAt     time.Time
}

// SearchResult is one knowledge-base hit with its relevance score.
type SearchResult struct {
	DocumentID string
	ChunkIndex int
	Text       string
	Context    string
	Title      string
	Summary    string
	Category   string
	Topics     []string
	SourceFile string
	Score      float32
}
