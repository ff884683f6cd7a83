package rag

import (
	"context"
	"fmt"

	"clinrag/model"
	"clinrag/types"
)

// Retrieve embeds the query with the same embedding capability the index
// was built with and returns the topK most similar chunks, ordered by
// non-increasing cosine similarity. Each result carries a copy of the
// stored chunk; the index contents stay untouched.
//
// topK must be between 1 and index.Len(); mixing embedding variants
// between build and query is rejected before any search happens.
func Retrieve(ctx context.Context, query string, embedder model.Embedder, index *Index, topK int) ([]types.RetrievalResult, error) {
	if index == nil || index.Len() == 0 {
		return nil, fmt.Errorf("retrieve: index is empty")
	}
	if topK < 1 {
		return nil, fmt.Errorf("retrieve: top_k must be positive, got %d", topK)
	}
	if topK > index.Len() {
		return nil, fmt.Errorf("retrieve: top_k %d exceeds indexed chunk count %d", topK, index.Len())
	}
	if embedder.Variant() != index.Variant() {
		return nil, fmt.Errorf("retrieve: embedder variant %s does not match index variant %s",
			embedder.Variant(), index.Variant())
	}

	qVec, err := embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	if len(qVec) != index.Dimension() {
		return nil, fmt.Errorf("retrieve: query dimension %d does not match index dimension %d",
			len(qVec), index.Dimension())
	}

	positions, scores := index.search(qVec, topK)

	results := make([]types.RetrievalResult, 0, len(positions))
	for i, pos := range positions {
		chunk, err := index.ChunkAt(pos)
		if err != nil {
			continue
		}
		results = append(results, types.RetrievalResult{
			Chunk: chunk,
			Score: scores[i],
		})
	}
	return results, nil
}
