// Package dedup collapses near-duplicate retrieval hits. Overlapping chunks and
// re-uploaded documents tend to surface the same passage several times; only the best
// copy of each cluster is worth a slot in the prompt.
package dedup

import (
	"slices"

	"github.com/google/uuid"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
)

// Cluster is a group of hits whose embeddings are all linked by similarity above the
// threshold.
type Cluster struct {
	SurvivorID uuid.UUID   `json:"survivor_id"`
	DroppedIDs []uuid.UUID `json:"dropped_ids"`
	Size       int         `json:"size"`
}

// Result is the outcome of one collapse.
type Result struct {
	Kept     []domain.ScoredChunk `json:"kept"`
	Clusters []Cluster            `json:"clusters,omitempty"`
}

// Collapse keeps one survivor per cluster of near-duplicate hits and drops the rest.
// The order of hits is preserved. Hits without an embedding are never clustered.
// threshold <= 0 or > 1 disables collapsing.
func Collapse(hits []domain.ScoredChunk, threshold float64) Result {
	if threshold <= 0 || threshold > 1 || len(hits) < 2 {
		return Result{Kept: hits}
	}

	pairs := findPairs(hits, threshold)
	if len(pairs) == 0 {
		return Result{Kept: hits}
	}

	dropped := make(map[int]bool)
	var res Result
	for _, members := range clusterPairs(pairs) {
		survivor := rank(hits, members)
		c := Cluster{SurvivorID: hits[survivor].ID, Size: len(members)}
		for _, i := range members {
			if i != survivor {
				dropped[i] = true
				c.DroppedIDs = append(c.DroppedIDs, hits[i].ID)
			}
		}
		res.Clusters = append(res.Clusters, c)
	}

	for i, h := range hits {
		if !dropped[i] {
			res.Kept = append(res.Kept, h)
		}
	}
	return res
}

// clusterPairs groups linked hit indices into connected components using union-find.
// Components come back ordered by their smallest index, members ascending.
func clusterPairs(pairs []pair) [][]int {
	parent := make(map[int]int)
	for _, p := range pairs {
		if _, ok := parent[p.a]; !ok {
			parent[p.a] = p.a
		}
		if _, ok := parent[p.b]; !ok {
			parent[p.b] = p.b
		}
	}

	var find func(int) int
	find = func(i int) int {
		if parent[i] != i {
			parent[i] = find(parent[i])
		}
		return parent[i]
	}

	for _, p := range pairs {
		ra, rb := find(p.a), find(p.b)
		if ra == rb {
			continue
		}
		// Smaller index becomes the root so component order is stable.
		if rb < ra {
			ra, rb = rb, ra
		}
		parent[rb] = ra
	}

	groups := make(map[int][]int)
	maxIdx := 0
	for i := range parent {
		groups[find(i)] = append(groups[find(i)], i)
		maxIdx = max(maxIdx, i)
	}

	var clusters [][]int
	for root := 0; root <= maxIdx; root++ {
		members, ok := groups[root]
		if !ok || len(members) < 2 {
			continue
		}
		slices.Sort(members)
		clusters = append(clusters, members)
	}
	return clusters
}
