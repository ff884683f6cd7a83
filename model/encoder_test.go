package model

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func embeddingServer(t *testing.T, handler func(prompt string) any) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		json.NewEncoder(w).Encode(handler(req.Prompt))
	}))
}

func TestOllamaEmbedder_Embed(t *testing.T) {
	srv := embeddingServer(t, func(string) any {
		return embeddingResponse{Embedding: []float64{3, 4, 0}}
	})
	defer srv.Close()

	emb := NewOllamaEmbedder(srv.URL, "test-model", VariantLarge, 3)
	vec, err := emb.Embed(context.Background(), "some note text")
	require.NoError(t, err)
	require.Len(t, vec, 3)
	assert.InDelta(t, 0.6, vec[0], 1e-6)
	assert.InDelta(t, 0.8, vec[1], 1e-6)
	assert.InDelta(t, 0.0, vec[2], 1e-6)
}

func TestOllamaEmbedder_DimensionMismatch(t *testing.T) {
	srv := embeddingServer(t, func(string) any {
		return embeddingResponse{Embedding: []float64{1, 2}}
	})
	defer srv.Close()

	emb := NewOllamaEmbedder(srv.URL, "test-model", VariantSmall, 384)
	_, err := emb.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedding dimension mismatch: got 2, want 384")
}

func TestOllamaEmbedder_APIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not loaded", http.StatusInternalServerError)
	}))
	defer srv.Close()

	emb := NewOllamaEmbedder(srv.URL, "test-model", VariantLarge, 768)
	_, err := emb.Embed(context.Background(), "text")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 500")
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
	}{
		{name: "basic", in: []float64{1, 2, 3}},
		{name: "negative components", in: []float64{-5, 0, 12}},
		{name: "already unit", in: []float64{1, 0, 0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Normalize(tt.in)
			var sum float64
			for _, v := range out {
				sum += float64(v) * float64(v)
			}
			assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-6)
		})
	}
}

func TestNormalize_ZeroVectorStaysZero(t *testing.T) {
	out := Normalize([]float64{0, 0, 0, 0})
	for _, v := range out {
		assert.Zero(t, v)
	}
}

func TestVariantFor(t *testing.T) {
	assert.Equal(t, VariantSmall, VariantFor(true))
	assert.Equal(t, VariantLarge, VariantFor(false))
}

func TestRegistry_CachesPerVariant(t *testing.T) {
	reg := NewRegistry("http://localhost:11434/api/embeddings")

	large1, err := reg.Get(VariantLarge)
	require.NoError(t, err)
	large2, err := reg.Get(VariantLarge)
	require.NoError(t, err)
	assert.Same(t, large1.(*OllamaEmbedder), large2.(*OllamaEmbedder))

	small, err := reg.Get(VariantSmall)
	require.NoError(t, err)
	assert.NotSame(t, large1.(*OllamaEmbedder), small.(*OllamaEmbedder))
	assert.Equal(t, 768, large1.Dimension())
	assert.Equal(t, 384, small.Dimension())
}

func TestRegistry_UnknownVariant(t *testing.T) {
	reg := NewRegistry("http://localhost:11434/api/embeddings")
	_, err := reg.Get(Variant("medium"))
	require.Error(t, err)
}

type staticEmbedder struct{ variant Variant }

func (s staticEmbedder) Embed(context.Context, string) ([]float32, error) {
	return []float32{1}, nil
}
func (s staticEmbedder) Dimension() int   { return 1 }
func (s staticEmbedder) Variant() Variant { return s.variant }

func TestRegistry_RegisterOverridesDefault(t *testing.T) {
	reg := NewRegistry("http://localhost:11434/api/embeddings")
	reg.Register(VariantLarge, staticEmbedder{variant: VariantLarge})

	got, err := reg.Get(VariantLarge)
	require.NoError(t, err)
	assert.Equal(t, 1, got.Dimension(), "registered embedder must win over the HTTP default")
}
