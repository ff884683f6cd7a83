package model

import (
	"context"
	"fmt"
	"sync"
)

// Variant selects which embedding model backs an Embedder. The variant
// chosen when an index is built must be the variant used to embed queries
// against it.
type Variant string

const (
	VariantLarge Variant = "large"
	VariantSmall Variant = "small"
)

type variantSpec struct {
	Model     string
	Dimension int
}

var variantSpecs = map[Variant]variantSpec{
	VariantLarge: {Model: "sentence-transformers/all-mpnet-base-v2", Dimension: 768},
	VariantSmall: {Model: "sentence-transformers/all-MiniLM-L6-v2", Dimension: 384},
}

// VariantFor maps the request-level flag onto a variant.
func VariantFor(useSmall bool) Variant {
	if useSmall {
		return VariantSmall
	}
	return VariantLarge
}

// Embedder converts text into a fixed-dimension, unit-normalized vector.
// Implementations must be safe for concurrent use: one embedder is shared
// by every request that picked its variant.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
	Variant() Variant
}

// Registry caches one embedder per variant for the process lifetime.
// Constructing the backing model connection is expensive, so the registry
// is built once at startup and handed to everything that embeds.
type Registry struct {
	apiURL string

	mu    sync.Mutex
	cache map[Variant]Embedder
}

func NewRegistry(apiURL string) *Registry {
	return &Registry{
		apiURL: apiURL,
		cache:  make(map[Variant]Embedder),
	}
}

// Register substitutes the embedder served for a variant. Used when the
// capability is provided from outside (a different backend, a test
// double) instead of the default HTTP client.
func (r *Registry) Register(v Variant, e Embedder) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache[v] = e
}

// Get returns the shared embedder for the variant, building it on first use.
func (r *Registry) Get(v Variant) (Embedder, error) {
	spec, ok := variantSpecs[v]
	if !ok {
		return nil, fmt.Errorf("unknown embedding variant %q", v)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.cache[v]; ok {
		return e, nil
	}
	e := NewOllamaEmbedder(r.apiURL, spec.Model, v, spec.Dimension)
	r.cache[v] = e
	return e, nil
}
