package chunker

import (
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/poiesic/docweave/core"
)

// Options controls how documents are windowed.
type Options struct {
	// Size is the window length in characters.
	Size int

	// Overlap is how many characters consecutive windows share.
	Overlap int

	// LargeInputThreshold is the content length above which Size and
	// Overlap are scaled up to bound the total chunk count.
	LargeInputThreshold int

	// MaxSize and MaxOverlap cap adaptive scaling.
	MaxSize    int
	MaxOverlap int
}

// DefaultOptions returns the standard windowing parameters.
func DefaultOptions() Options {
	return Options{
		Size:                2000,
		Overlap:             200,
		LargeInputThreshold: 1_000_000,
		MaxSize:             5000,
		MaxOverlap:          500,
	}
}

// Chunker splits documents into overlapping text windows with stable,
// deterministic identifiers.
type Chunker struct {
	opts Options
}

// New creates a Chunker. Size must exceed Overlap and Overlap must be
// non-negative.
func New(opts Options) (*Chunker, error) {
	if opts.Size <= 0 || opts.Overlap < 0 || opts.Size <= opts.Overlap {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", core.ErrInvalidChunkParams, opts.Size, opts.Overlap)
	}
	if opts.LargeInputThreshold <= 0 {
		opts.LargeInputThreshold = DefaultOptions().LargeInputThreshold
	}
	if opts.MaxSize < opts.Size {
		opts.MaxSize = DefaultOptions().MaxSize
	}
	if opts.MaxOverlap < opts.Overlap {
		opts.MaxOverlap = DefaultOptions().MaxOverlap
	}
	return &Chunker{opts: opts}, nil
}

// Normalize collapses all whitespace runs to single spaces and trims the
// ends. Windowing always operates on normalized text.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Chunk splits text into overlapping windows. It returns the owning
// Document (with TotalChunks finalized) and the ordered chunk list.
// Returns core.ErrEmptyContent when the normalized text is empty.
//
// Window i covers [i*(size-overlap), i*(size-overlap)+size) and the total
// is ceil(len / (size-overlap)). Chunk IDs are deterministic per
// (document, index) so retries upsert rather than duplicate.
func (c *Chunker) Chunk(text, locator string) (*core.Document, []core.Chunk, error) {
	if locator == "" {
		return nil, nil, core.ErrEmptyLocator
	}
	normalized := Normalize(text)
	if normalized == "" {
		return nil, nil, core.ErrEmptyContent
	}

	runes := []rune(normalized)
	size, overlap := c.scale(len(runes))
	stride := size - overlap
	total := (len(runes) + stride - 1) / stride

	digest := core.ContentDigest(normalized)
	now := time.Now().UTC()
	doc := &core.Document{
		ID:            core.DocumentIDFor(locator, digest),
		SourceLocator: locator,
		Title:         titleFromLocator(locator),
		TotalChunks:   total,
		CreatedAt:     now,
	}

	chunks := make([]core.Chunk, 0, total)
	for i := 0; i < total; i++ {
		start := i * stride
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		window := string(runes[start:end])
		chunks = append(chunks, core.Chunk{
			ID:              core.ChunkIDFor(doc.ID, i),
			DocumentID:      doc.ID,
			Index:           i,
			Text:            window,
			Length:          end - start,
			Size:            size,
			Overlap:         overlap,
			Stage:           core.StagePending,
			EmbeddingStatus: core.EmbeddingPending,
			CreatedTime:     now,
		})
	}

	return doc, chunks, nil
}

// scale grows size and overlap for very large inputs so the chunk count
// stays bounded. Both scale by the same factor, keeping the window
// arithmetic exact; caps guarantee size stays above overlap.
func (c *Chunker) scale(length int) (size, overlap int) {
	size, overlap = c.opts.Size, c.opts.Overlap
	if length <= c.opts.LargeInputThreshold {
		return size, overlap
	}
	factor := (length + c.opts.LargeInputThreshold - 1) / c.opts.LargeInputThreshold
	size *= factor
	overlap *= factor
	if size > c.opts.MaxSize {
		size = c.opts.MaxSize
	}
	if overlap > c.opts.MaxOverlap {
		overlap = c.opts.MaxOverlap
	}
	return size, overlap
}

func titleFromLocator(locator string) string {
	trimmed := strings.TrimRight(locator, "/")
	base := path.Base(trimmed)
	if idx := strings.IndexAny(base, "?#"); idx >= 0 {
		base = base[:idx]
	}
	if base == "" || base == "." || base == "/" {
		return trimmed
	}
	return base
}
