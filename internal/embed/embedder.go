// Package embed defines the seam to the external text-embedding service and
// the similarity math shared by the indexed and brute-force search paths.
package embed

import (
	"context"
	"math"
)

// DefaultDimension is the embedding dimension assumed for a database unless
// configured otherwise. The dimension is fixed for the lifetime of a
// database file; mixing models or dimensions is undefined behavior.
const DefaultDimension = 384

// Embedder generates vector embeddings for text.
type Embedder interface {
	// Embed encodes text into a fixed-dimension vector.
	Embed(ctx context.Context, text string) ([]float32, error)

	// Model returns the model identifier recorded as embedding provenance.
	Model() string

	// Dimension returns the fixed vector dimension this embedder produces.
	Dimension() int
}

// CosineSimilarity computes the cosine similarity between two equal-length
// vectors, clamped to [0, 1]. It returns 0 if either vector has zero
// magnitude or the lengths differ. Both the vector index path and the
// brute-force path score through this function so results are comparable
// regardless of which path served a call.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}

	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
