package rag

import (
	"fmt"
	"strings"

	"github.com/google/uuid"

	"clinrag/types"
)

// DefaultMaxChars is the character window used when assembling chunks.
const DefaultMaxChars = 1500

// ChunkText splits trimmed text into consecutive, non-overlapping windows
// of at most maxChars characters; the final window may be shorter and a
// window may split mid-word but never mid-rune. Each window is trimmed
// before being returned. Empty input yields zero windows.
func ChunkText(text string, maxChars int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if maxChars < 1 {
		maxChars = DefaultMaxChars
	}

	// windows are counted in runes so multi-byte characters stay intact
	runes := []rune(text)
	var chunks []string
	for start := 0; start < len(runes); {
		end := start + maxChars
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, strings.TrimSpace(string(runes[start:end])))
		start = end
	}
	return chunks
}

// PrepareChunks runs section-aware chunking over the whole note. ChunkNum
// is a dense zero-based sequence across all sections in document order,
// never reset per section. Chunk ids embed the doc id, a truncated section
// label, the sequence number and a random suffix; they are unique within
// one analysis but not reproducible across runs.
//
// Invariant: every document yields at least one chunk. When nothing else
// is produced the original, untrimmed input becomes a single UNLABELED
// fallback chunk.
func PrepareChunks(fullText string, docID int) []types.Chunk {
	sections := SplitIntoSections(fullText)

	var chunks []types.Chunk
	seq := 0
	for _, sec := range sections {
		label := sec.Label
		if label == "" {
			label = types.UnlabeledSection
		}
		for _, window := range ChunkText(sec.Body, DefaultMaxChars) {
			chunks = append(chunks, types.Chunk{
				ChunkID:  newChunkID(docID, label, seq),
				Text:     window,
				Section:  label,
				DocID:    docID,
				ChunkNum: seq,
			})
			seq++
		}
	}

	if len(chunks) == 0 {
		chunks = append(chunks, types.Chunk{
			ChunkID:  fmt.Sprintf("%d_%s_0", docID, types.UnlabeledSection),
			Text:     fullText,
			Section:  types.UnlabeledSection,
			DocID:    docID,
			ChunkNum: 0,
		})
	}
	return chunks
}

func newChunkID(docID int, label string, seq int) string {
	if len(label) > 20 {
		label = label[:20]
	}
	suffix := uuid.NewString()[:8]
	return fmt.Sprintf("%d_%s_%d_%s", docID, label, seq, suffix)
}
