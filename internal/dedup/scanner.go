package dedup

import (
	"math"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
)

// pair links two hit indices, a < b.
type pair struct {
	a, b       int
	similarity float64
}

// findPairs compares every embedded hit with every other one by cosine similarity.
// Result sets are bounded by top-k, so the quadratic scan stays small.
func findPairs(hits []domain.ScoredChunk, threshold float64) []pair {
	var pairs []pair
	for i := 0; i < len(hits); i++ {
		if !hits[i].HasEmbedding() {
			continue
		}
		for j := i + 1; j < len(hits); j++ {
			if !hits[j].HasEmbedding() {
				continue
			}
			sim := cosine(hits[i].Embedding, hits[j].Embedding)
			if sim >= threshold {
				pairs = append(pairs, pair{a: i, b: j, similarity: sim})
			}
		}
	}
	return pairs
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
