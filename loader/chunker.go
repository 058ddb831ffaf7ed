package loader

import (
	"maps"
	"strconv"
	"strings"
	"unicode"

	"docqa/types"
)

const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// boundary ranks a cut position. Higher is preferred.
type boundary int

const (
	boundaryNone boundary = iota
	boundaryWord
	boundaryLine
	boundarySentence
	boundaryParagraph
)

// Chunker splits page text into overlapping passages of at most size runes.
//
// Each cut is placed at the furthest position of the best boundary kind
// available in the window, in the order paragraph, sentence, line, word. A
// hard character cut is used when the window has no boundary at all.
type Chunker struct {
	size    int
	overlap int
}

func NewChunker(size, overlap int) (*Chunker, error) {
	if size <= 0 {
		return nil, types.Configf("chunk_size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, types.Configf("chunk_overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Chunker{size: size, overlap: overlap}, nil
}

func (c *Chunker) Size() int    { return c.size }
func (c *Chunker) Overlap() int { return c.overlap }

// Split cuts one document into chunks. Chunk.Index is the position within
// the document and every chunk carries a copy of the document metadata.
func (c *Chunker) Split(doc types.Document) []types.Chunk {
	if strings.TrimSpace(doc.Content) == "" {
		return nil
	}
	r := []rune(doc.Content)
	n := len(r)

	var chunks []types.Chunk
	start := 0
	for start < n {
		end := n
		if n-start > c.size {
			end = c.cut(r, start)
		}

		content := string(r[start:end])
		if strings.TrimSpace(content) != "" {
			md := make(map[string]string, len(doc.Metadata)+2)
			maps.Copy(md, doc.Metadata)
			md[types.MetaChunkIndex] = strconv.Itoa(len(chunks))
			chunks = append(chunks, types.Chunk{
				Content:  content,
				Index:    len(chunks),
				Offset:   start,
				Metadata: md,
			})
		}

		if end == n {
			break
		}
		start = c.nextStart(r, start, end)
	}
	return chunks
}

// SplitAll splits every document in order and numbers the resulting chunks
// across the whole upload.
func (c *Chunker) SplitAll(docs []types.Document) []types.Chunk {
	var all []types.Chunk
	for _, doc := range docs {
		for _, ch := range c.Split(doc) {
			ch.SourceDocID = len(all)
			ch.Metadata[types.MetaSourceDocID] = strconv.Itoa(ch.SourceDocID)
			all = append(all, ch)
		}
	}
	return all
}

// cut returns the end of the chunk starting at start. Any boundary after the
// first non-space rune of the window qualifies.
func (c *Chunker) cut(r []rune, start int) int {
	hi := start + c.size

	// a chunk must hold more than leading whitespace
	first := start
	for first < hi && unicode.IsSpace(r[first]) {
		first++
	}

	best, bestKind := hi, boundaryNone
	for i := hi; i > first; i-- {
		if k := boundaryAt(r, i); k > bestKind {
			best, bestKind = i, k
			if k == boundaryParagraph {
				break
			}
		}
	}
	return best
}

// nextStart picks the earliest word-or-better boundary inside the overlap
// window that precedes end and follows start, or end itself when there is
// none.
func (c *Chunker) nextStart(r []rune, start, end int) int {
	if c.overlap == 0 {
		return end
	}
	for i := max(end-c.overlap, start+1); i < end; i++ {
		if boundaryAt(r, i) >= boundaryWord {
			return i
		}
	}
	return end
}

// boundaryAt classifies a cut between r[i-1] and r[i].
func boundaryAt(r []rune, i int) boundary {
	if i <= 0 || i > len(r) {
		return boundaryNone
	}
	prev := r[i-1]
	if !unicode.IsSpace(prev) {
		return boundaryNone
	}
	if i >= 2 {
		switch {
		case prev == '\n' && r[i-2] == '\n':
			return boundaryParagraph
		case r[i-2] == '.' || r[i-2] == '!' || r[i-2] == '?':
			return boundarySentence
		}
	}
	if prev == '\n' {
		return boundaryLine
	}
	return boundaryWord
}
