package chunker

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/poiesic/docweave/core"
)

func mustChunker(t *testing.T, opts Options) *Chunker {
	t.Helper()
	c, err := New(opts)
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadParams(t *testing.T) {
	_, err := New(Options{Size: 100, Overlap: 100})
	assert.ErrorIs(t, err, core.ErrInvalidChunkParams)

	_, err = New(Options{Size: 0, Overlap: 0})
	assert.ErrorIs(t, err, core.ErrInvalidChunkParams)

	_, err = New(Options{Size: 100, Overlap: -1})
	assert.ErrorIs(t, err, core.ErrInvalidChunkParams)
}

func TestChunkEmptyContent(t *testing.T) {
	c := mustChunker(t, DefaultOptions())

	_, _, err := c.Chunk("", "file.txt")
	assert.ErrorIs(t, err, core.ErrEmptyContent)

	// Whitespace-only normalizes to empty.
	_, _, err = c.Chunk("  \n\t  ", "file.txt")
	assert.ErrorIs(t, err, core.ErrEmptyContent)

	_, _, err = c.Chunk("content", "")
	assert.ErrorIs(t, err, core.ErrEmptyLocator)
}

func TestChunkScenarioA(t *testing.T) {
	// 5,000 characters with size=2000, overlap=200 -> 3 chunks, indices 0,1,2.
	c := mustChunker(t, Options{Size: 2000, Overlap: 200})
	text := strings.Repeat("a", 5000)

	doc, chunks, err := c.Chunk(text, "https://example.com/a")
	require.NoError(t, err)

	assert.Equal(t, 3, doc.TotalChunks)
	require.Len(t, chunks, 3)
	for i, chunk := range chunks {
		assert.Equal(t, i, chunk.Index)
		assert.Equal(t, 2000, chunk.Size)
		assert.Equal(t, 200, chunk.Overlap)
	}
	assert.Len(t, chunks[0].Text, 2000)
	assert.Len(t, chunks[1].Text, 2000)
	assert.Len(t, chunks[2].Text, 5000-2*1800)
}

func TestChunkCountMatchesFormula(t *testing.T) {
	c := mustChunker(t, Options{Size: 500, Overlap: 100})
	stride := 400

	for _, length := range []int{1, 399, 400, 401, 500, 1200, 4999} {
		text := strings.Repeat("x", length)
		doc, chunks, err := c.Chunk(text, "doc.txt")
		require.NoError(t, err)

		want := (length + stride - 1) / stride
		assert.Equal(t, want, doc.TotalChunks, "length %d", length)
		require.Len(t, chunks, want)

		// Indices are exactly 0..total-1 with no gaps or duplicates.
		for i, chunk := range chunks {
			assert.Equal(t, i, chunk.Index)
		}
	}
}

func TestChunkWindowsOverlap(t *testing.T) {
	c := mustChunker(t, Options{Size: 10, Overlap: 4})
	text := "abcdefghijklmnopqrstuvwxyz"

	_, chunks, err := c.Chunk(text, "alphabet.txt")
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	stride := 10 - 4
	for i := 1; i < len(chunks); i++ {
		prev := chunks[i-1].Text
		curr := chunks[i].Text
		shared := prev[stride:]
		if len(shared) > len(curr) {
			shared = shared[:len(curr)]
		}
		assert.True(t, strings.HasPrefix(curr, shared),
			"chunk %d should repeat the overlap tail of chunk %d", i, i-1)
	}
}

func TestChunkIDsStableAcrossRuns(t *testing.T) {
	c := mustChunker(t, DefaultOptions())
	text := strings.Repeat("stable content ", 300)

	_, first, err := c.Chunk(text, "stable.txt")
	require.NoError(t, err)
	_, second, err := c.Chunk(text, "stable.txt")
	require.NoError(t, err)

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ID, second[i].ID, "chunk %d id must be stable", i)
	}
}

func TestChunkNormalizesWhitespace(t *testing.T) {
	c := mustChunker(t, DefaultOptions())
	_, chunks, err := c.Chunk("hello\n\n   world\t!", "w.txt")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "hello world !", chunks[0].Text)
}

func TestAdaptiveScalingForLargeInputs(t *testing.T) {
	opts := Options{Size: 2000, Overlap: 200, LargeInputThreshold: 10_000, MaxSize: 5000, MaxOverlap: 500}
	c := mustChunker(t, opts)

	// Below the threshold: untouched parameters.
	_, chunks, err := c.Chunk(strings.Repeat("a", 9000), "small.txt")
	require.NoError(t, err)
	assert.Equal(t, 2000, chunks[0].Size)
	assert.Equal(t, 200, chunks[0].Overlap)

	// Above the threshold: scaled and capped, recorded per chunk.
	_, chunks, err = c.Chunk(strings.Repeat("a", 50_000), "big.txt")
	require.NoError(t, err)
	assert.Equal(t, 5000, chunks[0].Size)
	assert.Equal(t, 500, chunks[0].Overlap)

	// Far fewer chunks than the unscaled parameters would give.
	assert.Less(t, len(chunks), 50_000/(2000-200)+1)

	// The window math still holds for the scaled parameters.
	stride := 5000 - 500
	assert.Len(t, chunks, (50_000+stride-1)/stride)
}

func TestTitleFromLocator(t *testing.T) {
	assert.Equal(t, "report.txt", titleFromLocator("https://example.com/docs/report.txt"))
	assert.Equal(t, "report.txt", titleFromLocator("https://example.com/docs/report.txt?x=1"))
	assert.Equal(t, "upload.md", titleFromLocator("upload.md"))
}
