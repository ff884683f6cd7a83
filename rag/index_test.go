package rag

import (
	"context"
	"fmt"
	"hash/fnv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinrag/model"
	"clinrag/types"
)

// fakeEmbedder is a deterministic bag-of-words embedding: each token
// bumps one hashed dimension, then the vector is unit-normalized. Equal
// texts embed identically, overlapping texts score positively.
type fakeEmbedder struct {
	variant model.Variant
	dim     int
	failOn  string
}

func newFakeEmbedder() *fakeEmbedder {
	return &fakeEmbedder{variant: model.VariantLarge, dim: 256}
}

func (f *fakeEmbedder) Variant() model.Variant { return f.variant }
func (f *fakeEmbedder) Dimension() int         { return f.dim }

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.failOn != "" && strings.Contains(text, f.failOn) {
		return nil, fmt.Errorf("embedding backend unavailable")
	}
	vec := make([]float64, f.dim)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[int(h.Sum32())%f.dim]++
	}
	return model.Normalize(vec), nil
}

func testChunks(texts ...string) []types.Chunk {
	chunks := make([]types.Chunk, len(texts))
	for i, txt := range texts {
		chunks[i] = types.Chunk{
			ChunkID:  fmt.Sprintf("0_TEST_%d_abcd1234", i),
			Text:     txt,
			Section:  "TEST",
			ChunkNum: i,
		}
	}
	return chunks
}

func TestBuildIndex(t *testing.T) {
	emb := newFakeEmbedder()
	chunks := testChunks("fever and chills", "wbc elevated.", "admit for observation")

	index, err := BuildIndex(context.Background(), chunks, emb)
	require.NoError(t, err)
	assert.Equal(t, 3, index.Len())
	assert.Equal(t, model.VariantLarge, index.Variant())
	assert.Equal(t, 256, index.Dimension())
}

func TestBuildIndex_ZeroChunks(t *testing.T) {
	_, err := BuildIndex(context.Background(), nil, newFakeEmbedder())
	require.Error(t, err)
}

func TestBuildIndex_EmbeddingFailureIsSurfaced(t *testing.T) {
	emb := newFakeEmbedder()
	emb.failOn = "wbc"
	chunks := testChunks("fever and chills", "wbc elevated.")

	_, err := BuildIndex(context.Background(), chunks, emb)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to embed chunk 1")
}

func TestBuildIndex_IDMapPositions(t *testing.T) {
	chunks := testChunks("alpha", "beta", "gamma")
	index, err := BuildIndex(context.Background(), chunks, newFakeEmbedder())
	require.NoError(t, err)

	for i, want := range chunks {
		got, err := index.ChunkAt(i)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err = index.ChunkAt(3)
	assert.Error(t, err)
}

func TestRetrieve_SelfRetrieval(t *testing.T) {
	emb := newFakeEmbedder()
	chunks := testChunks("fever and chills", "wbc elevated.", "admit for observation")
	index, err := BuildIndex(context.Background(), chunks, emb)
	require.NoError(t, err)

	for _, c := range chunks {
		results, err := Retrieve(context.Background(), c.Text, emb, index, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, c.ChunkID, results[0].ChunkID, "a chunk's own text must retrieve it first")
		assert.InDelta(t, 1.0, results[0].Score, 1e-6)
	}
}

func TestRetrieve_OrderedByScore(t *testing.T) {
	emb := newFakeEmbedder()
	chunks := testChunks("fever and chills", "fever", "completely unrelated content")
	index, err := BuildIndex(context.Background(), chunks, emb)
	require.NoError(t, err)

	results, err := Retrieve(context.Background(), "fever", emb, index, 3)
	require.NoError(t, err)
	require.Len(t, results, 3)
	for i := 1; i < len(results); i++ {
		assert.GreaterOrEqual(t, results[i-1].Score, results[i].Score)
	}
	assert.Equal(t, chunks[1].ChunkID, results[0].ChunkID)
}

func TestRetrieve_TopKValidation(t *testing.T) {
	emb := newFakeEmbedder()
	index, err := BuildIndex(context.Background(), testChunks("one", "two"), emb)
	require.NoError(t, err)

	_, err = Retrieve(context.Background(), "one", emb, index, 0)
	assert.Error(t, err)

	_, err = Retrieve(context.Background(), "one", emb, index, 3)
	assert.Error(t, err, "top_k exceeding indexed chunk count must be rejected")

	results, err := Retrieve(context.Background(), "one", emb, index, 2)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestRetrieve_VariantMismatchRejected(t *testing.T) {
	large := newFakeEmbedder()
	index, err := BuildIndex(context.Background(), testChunks("one", "two"), large)
	require.NoError(t, err)

	small := &fakeEmbedder{variant: model.VariantSmall, dim: 256}
	_, err = Retrieve(context.Background(), "one", small, index, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "variant")
}

func TestRetrieve_ResultsAreCopies(t *testing.T) {
	emb := newFakeEmbedder()
	chunks := testChunks("fever and chills")
	index, err := BuildIndex(context.Background(), chunks, emb)
	require.NoError(t, err)

	results, err := Retrieve(context.Background(), "fever", emb, index, 1)
	require.NoError(t, err)
	results[0].Text = "mutated"

	stored, err := index.ChunkAt(0)
	require.NoError(t, err)
	assert.Equal(t, "fever and chills", stored.Text, "mutating a result must not touch the index")
}

func TestRetrieve_Deterministic(t *testing.T) {
	emb := newFakeEmbedder()
	chunks := testChunks("fever and chills", "wbc elevated.", "fever", "admit for observation")
	index, err := BuildIndex(context.Background(), chunks, emb)
	require.NoError(t, err)

	first, err := Retrieve(context.Background(), "fever wbc", emb, index, 4)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		again, err := Retrieve(context.Background(), "fever wbc", emb, index, 4)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

// End-to-end scenario over the retrieval core: section-aware chunking,
// indexing, then querying ranks the symptomatic section first.
func TestPipeline_SectionedNote(t *testing.T) {
	emb := newFakeEmbedder()
	note := "HISTORY OF PRESENT ILLNESS: fever and headache.\nLABORATORY: wbc elevated."

	chunks := PrepareChunks(note, 0)
	require.Len(t, chunks, 2)
	assert.Equal(t, "HISTORY OF PRESENT ILLNESS", chunks[0].Section)
	assert.Equal(t, "LABORATORY", chunks[1].Section)

	index, err := BuildIndex(context.Background(), chunks, emb)
	require.NoError(t, err)

	results, err := Retrieve(context.Background(), "fever", emb, index, 2)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "HISTORY OF PRESENT ILLNESS", results[0].Section)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestPipeline_EmptyNote(t *testing.T) {
	emb := newFakeEmbedder()

	chunks := PrepareChunks("", 0)
	require.Len(t, chunks, 1)
	assert.Equal(t, types.UnlabeledSection, chunks[0].Section)
	assert.Empty(t, chunks[0].Text)

	index, err := BuildIndex(context.Background(), chunks, emb)
	require.NoError(t, err)

	results, err := Retrieve(context.Background(), "anything at all", emb, index, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, chunks[0].ChunkID, results[0].ChunkID)
}
