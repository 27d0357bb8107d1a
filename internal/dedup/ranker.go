package dedup

import "github.com/MikeSquared-Agency/surveyor/internal/domain"

// rank picks the survivor of a cluster: highest score, then the chunk that carries the
// most text, then the earliest position in its document.
func rank(hits []domain.ScoredChunk, members []int) int {
	best := members[0]
	for _, i := range members[1:] {
		if better(hits[i], hits[best]) {
			best = i
		}
	}
	return best
}

func better(a, b domain.ScoredChunk) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.TokenCount != b.TokenCount {
		return a.TokenCount > b.TokenCount
	}
	return a.Index < b.Index
}
