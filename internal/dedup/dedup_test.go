package dedup

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeSquared-Agency/surveyor/internal/domain"
)

func hit(score float64, index int, vec ...float32) domain.ScoredChunk {
	return domain.ScoredChunk{
		Chunk: domain.Chunk{ID: uuid.New(), DocumentID: uuid.New(), Index: index, TokenCount: 10, Embedding: vec},
		Score: score,
	}
}

func TestCollapse_KeepsBestOfCluster(t *testing.T) {
	hits := []domain.ScoredChunk{
		hit(0.9, 0, 1, 0),
		hit(0.8, 1, 0, 1),
		hit(0.7, 2, 1, 0.01), // near-duplicate of the first
		hit(0.6, 3, 0.01, 1), // near-duplicate of the second
	}

	res := Collapse(hits, 0.99)
	require.Len(t, res.Kept, 2)
	assert.Equal(t, hits[0].ID, res.Kept[0].ID)
	assert.Equal(t, hits[1].ID, res.Kept[1].ID)

	require.Len(t, res.Clusters, 2)
	assert.Equal(t, hits[0].ID, res.Clusters[0].SurvivorID)
	assert.Equal(t, []uuid.UUID{hits[2].ID}, res.Clusters[0].DroppedIDs)
	assert.Equal(t, 2, res.Clusters[0].Size)
	assert.Equal(t, hits[1].ID, res.Clusters[1].SurvivorID)
}

func TestCollapse_TransitiveCluster(t *testing.T) {
	// a~b and b~c but a and c are further apart; all three form one cluster.
	hits := []domain.ScoredChunk{
		hit(0.5, 0, 1, 0),
		hit(0.9, 1, 1, 0.1),
		hit(0.7, 2, 1, 0.2),
	}

	res := Collapse(hits, 0.99)
	require.Len(t, res.Kept, 1)
	assert.Equal(t, hits[1].ID, res.Kept[0].ID, "highest score survives")
	require.Len(t, res.Clusters, 1)
	assert.Equal(t, 3, res.Clusters[0].Size)
}

func TestCollapse_Disabled(t *testing.T) {
	hits := []domain.ScoredChunk{hit(0.9, 0, 1, 0), hit(0.8, 1, 1, 0)}

	assert.Len(t, Collapse(hits, 0).Kept, 2)
	assert.Len(t, Collapse(hits, 1.5).Kept, 2)
	assert.Len(t, Collapse(hits[:1], 0.9).Kept, 1)
}

func TestCollapse_IgnoresUnembedded(t *testing.T) {
	hits := []domain.ScoredChunk{hit(0.9, 0, 1, 0), hit(0.8, 1), hit(0.7, 2)}

	res := Collapse(hits, 0.5)
	assert.Len(t, res.Kept, 3)
	assert.Empty(t, res.Clusters)
}

func TestRank_TieBreaks(t *testing.T) {
	a := hit(0.5, 4, 1)
	b := hit(0.5, 2, 1)
	c := hit(0.5, 9, 1)
	c.TokenCount = 20

	assert.Equal(t, 1, rank([]domain.ScoredChunk{a, b}, []int{0, 1}), "earlier index wins on equal score")
	assert.Equal(t, 2, rank([]domain.ScoredChunk{a, b, c}, []int{0, 1, 2}), "longer chunk wins on equal score")
}

func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, cosine([]float32{2, 0}, []float32{5, 0}), 1e-9)
	assert.InDelta(t, 0.0, cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosine([]float32{1}, []float32{1, 2}))
	assert.Equal(t, 0.0, cosine([]float32{0, 0}, []float32{1, 2}))
}
