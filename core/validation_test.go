package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validChunk() *Chunk {
	return &Chunk{
		ID:         ChunkIDFor("doc-1", 0),
		DocumentID: "doc-1",
		Index:      0,
		Text:       "hello world",
		Size:       2000,
		Overlap:    200,
		Stage:      StagePending,
	}
}

func TestValidateChunk(t *testing.T) {
	require.NoError(t, ValidateChunk(validChunk()))

	assert.ErrorIs(t, ValidateChunk(nil), ErrInvalidChunk)

	chunk := validChunk()
	chunk.ID = ""
	assert.ErrorIs(t, ValidateChunk(chunk), ErrInvalidChunk)

	chunk = validChunk()
	chunk.DocumentID = ""
	assert.ErrorIs(t, ValidateChunk(chunk), ErrInvalidChunk)

	chunk = validChunk()
	chunk.Index = -1
	assert.ErrorIs(t, ValidateChunk(chunk), ErrInvalidChunk)

	chunk = validChunk()
	chunk.Text = ""
	assert.ErrorIs(t, ValidateChunk(chunk), ErrEmptyContent)

	chunk = validChunk()
	chunk.Size = 100
	chunk.Overlap = 100
	assert.ErrorIs(t, ValidateChunk(chunk), ErrInvalidChunkParams)
}

func validSession() *Session {
	return &Session{
		ID:              NewSessionID(),
		SourceLocator:   "https://example.com/doc",
		TotalChunks:     3,
		CompletedChunks: 0,
		Status:          SessionProcessing,
	}
}

func TestValidateSession(t *testing.T) {
	require.NoError(t, ValidateSession(validSession()))

	assert.ErrorIs(t, ValidateSession(nil), ErrInvalidSession)

	session := validSession()
	session.ID = ""
	assert.ErrorIs(t, ValidateSession(session), ErrInvalidSession)

	session = validSession()
	session.SourceLocator = ""
	assert.ErrorIs(t, ValidateSession(session), ErrEmptyLocator)

	session = validSession()
	session.CompletedChunks = 4
	assert.ErrorIs(t, ValidateSession(session), ErrInvalidSession)

	session = validSession()
	session.Status = "paused"
	assert.ErrorIs(t, ValidateSession(session), ErrInvalidSession)
}
