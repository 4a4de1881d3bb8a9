// Package chunk implements deterministic document segmentation and the
// translation between logical documents and their chunk representation in
// the vector store.
//
// Chunking slides a fixed window over the content; reassembly detects the
// window overlap between adjacent chunks. Both operate on runes so
// multi-byte UTF-8 content round-trips exactly. The pair must agree across
// clones: identical (size, overlap, content) always yields identical chunks.
package chunk

import (
	"fmt"
)

// OverlapTolerance widens the reassembly overlap search beyond the
// configured overlap, to absorb chunk lists produced by slightly different
// configurations.
const OverlapTolerance = 10

// Chunker segments content into overlapping windows.
type Chunker struct {
	size    int
	overlap int
}

// NewChunker creates a chunker with window size and overlap in runes.
// Requires size > 0 and 0 <= overlap < size.
func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap must satisfy 0 <= overlap < size, got overlap=%d size=%d", overlap, size)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

// Size returns the configured window size.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured window overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Chunk splits content into windows of the configured size with stride
// size-overlap. Empty content produces a single empty chunk; content that
// fits one window produces a single chunk equal to the content.
func (c *Chunker) Chunk(content string) []string {
	runes := []rune(content)
	if len(runes) <= c.size {
		return []string{content}
	}

	stride := c.size - c.overlap
	chunks := make([]string, 0, (len(runes)+stride-1)/stride)
	for start := 0; start < len(runes); start += stride {
		end := start + c.size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks
}

// Reassemble joins ordered chunks back into the original content.
//
// The exact configured overlap is checked first: forward chunking always
// produces it, and trying it before the widest match keeps periodic content
// (e.g. "abc" repeated) from matching a spurious longer overlap. When the
// exact check fails, the largest overlap up to overlap+OverlapTolerance is
// used; if none matches the chunk is appended unchanged.
func (c *Chunker) Reassemble(chunks []string) string {
	if len(chunks) == 0 {
		return ""
	}

	result := []rune(chunks[0])
	for _, next := range chunks[1:] {
		nr := []rune(next)
		k := c.matchOverlap(result, nr)
		result = append(result, nr[k:]...)
	}
	return string(result)
}

// matchOverlap returns the number of runes shared between the tail of prev
// and the head of next.
func (c *Chunker) matchOverlap(prev, next []rune) int {
	// Zero configured overlap means forward chunks share nothing; searching
	// for one anyway would invent overlaps in repetitive content.
	if c.overlap == 0 {
		return 0
	}

	limit := c.overlap + OverlapTolerance
	if limit > len(prev) {
		limit = len(prev)
	}
	if limit > len(next) {
		limit = len(next)
	}

	if c.overlap <= limit && runesEqual(prev[len(prev)-c.overlap:], next[:c.overlap]) {
		return c.overlap
	}

	for k := limit; k > 0; k-- {
		if runesEqual(prev[len(prev)-k:], next[:k]) {
			return k
		}
	}
	return 0
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
