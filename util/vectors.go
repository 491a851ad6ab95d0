package util

import (
	"fmt"
	"math"
)

// Mean of a float32 vector.
func Mean(vector []float32) float32 {
	sum := float32(0.0)
	for _, v := range vector {
		sum = sum + v
	}
	return sum / float32(len(vector))
}

// Norm of a vector.
func Norm(v []float32, p int) float64 {
	sum := 0.0
	pNorm := float64(p)
	for _, e := range v {
		sum += math.Pow(float64(e), pNorm)
	}
	return math.Sqrt(sum)
}

// Normalize single vector according to: https://pytorch.org/docs/stable/generated/torch.nn.functional.normalize.html
func Normalize(embedding []float32, p int) []float32 {
	const eps = 1e-12
	normalizeDenominator := float32(max(Norm(embedding, p), eps))
	for i, v := range embedding {
		embedding[i] = v / normalizeDenominator
	}
	return embedding
}

// CosineSimilarity between two vectors of the same length.
func CosineSimilarity(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, fmt.Errorf("vectors have different lengths: %d and %d", len(a), len(b))
	}
	if len(a) == 0 {
		return 0, fmt.Errorf("attempted to calculate cosine similarity of empty vectors")
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB))), nil
}
