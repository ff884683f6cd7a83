package rag

import (
	"context"
	"fmt"
	"log"

	"clinrag/model"
	"clinrag/types"
)

// Index is an ephemeral flat inner-product index over unit-normalized
// chunk embeddings. It is built fresh for every analysis and discarded
// with it; there is no incremental update. Position i of the vector table
// always refers to idMap[i].
type Index struct {
	variant model.Variant
	dim     int
	vectors [][]float32
	idMap   []types.Chunk
}

// BuildIndex embeds every chunk text with the given embedder and builds
// the search structure. An embedding failure aborts the whole build and
// is returned to the caller; a silently empty index would be
// indistinguishable from "no relevant chunks".
func BuildIndex(ctx context.Context, chunks []types.Chunk, embedder model.Embedder) (*Index, error) {
	if len(chunks) == 0 {
		return nil, fmt.Errorf("cannot build index from zero chunks")
	}

	idx := &Index{
		variant: embedder.Variant(),
		dim:     embedder.Dimension(),
		vectors: make([][]float32, 0, len(chunks)),
		idMap:   make([]types.Chunk, 0, len(chunks)),
	}

	for i, c := range chunks {
		vec, err := embedder.Embed(ctx, c.Text)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunk %d (%s): %w", i, c.ChunkID, err)
		}
		if len(vec) != idx.dim {
			return nil, fmt.Errorf("chunk %d embedding dimension mismatch: got %d, want %d", i, len(vec), idx.dim)
		}
		idx.vectors = append(idx.vectors, vec)
		idx.idMap = append(idx.idMap, c)
	}

	log.Printf("[INDEX] built index: %d chunks, dim=%d, variant=%s", len(idx.idMap), idx.dim, idx.variant)
	return idx, nil
}

// Len reports the number of indexed chunks.
func (idx *Index) Len() int { return len(idx.idMap) }

// Variant reports the embedding variant the index was built with.
func (idx *Index) Variant() model.Variant { return idx.variant }

// Dimension reports the vector dimension of the index.
func (idx *Index) Dimension() int { return idx.dim }

// ChunkAt returns a copy of the chunk at index position i. The stored
// chunk is never handed out directly, so callers cannot mutate it.
func (idx *Index) ChunkAt(i int) (types.Chunk, error) {
	if i < 0 || i >= len(idx.idMap) {
		return types.Chunk{}, fmt.Errorf("index position %d out of range [0,%d)", i, len(idx.idMap))
	}
	return idx.idMap[i], nil
}

// search scores the query vector against every indexed vector and returns
// the topK positions with their inner products, ordered by non-increasing
// score. Ties keep index-position order, which makes results reproducible
// for fixed contents and query.
func (idx *Index) search(query []float32, topK int) ([]int, []float64) {
	type hit struct {
		pos   int
		score float64
	}
	hits := make([]hit, len(idx.vectors))
	for i, v := range idx.vectors {
		hits[i] = hit{pos: i, score: dot(v, query)}
	}

	// insertion sort by score desc, stable on position; index sizes are
	// one document's chunks, so n is small
	for i := 1; i < len(hits); i++ {
		for j := i; j > 0 && hits[j].score > hits[j-1].score; j-- {
			hits[j], hits[j-1] = hits[j-1], hits[j]
		}
	}

	if topK > len(hits) {
		topK = len(hits)
	}
	positions := make([]int, topK)
	scores := make([]float64, topK)
	for i := 0; i < topK; i++ {
		positions[i] = hits[i].pos
		scores[i] = hits[i].score
	}
	return positions, scores
}

func dot(a, b []float32) float64 {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	var sum float64
	for i := 0; i < n; i++ {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
