package domain

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMetric(t *testing.T) {
	m, err := ParseMetric("COSINE")
	require.NoError(t, err)
	assert.Equal(t, MetricCosine, m)

	m, err = ParseMetric("l2")
	require.NoError(t, err)
	assert.Equal(t, MetricL2, m)

	m, err = ParseMetric("")
	require.NoError(t, err)
	assert.Equal(t, MetricCosine, m)

	_, err = ParseMetric("dot")
	assert.True(t, errors.Is(err, ErrInvalidInput))
}

func TestMetric_Operator(t *testing.T) {
	assert.Equal(t, "<=>", MetricCosine.Operator())
	assert.Equal(t, "<->", MetricL2.Operator())
}

func TestMetric_DistanceAndScore(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}

	assert.InDelta(t, 0.0, MetricCosine.Distance(a, a), 1e-9)
	assert.InDelta(t, 1.0, MetricCosine.Distance(a, b), 1e-9)
	assert.Greater(t, MetricCosine.Score(MetricCosine.Distance(a, a)), MetricCosine.Score(MetricCosine.Distance(a, b)))

	assert.InDelta(t, 1.4142, MetricL2.Distance(a, b), 1e-3)
	assert.InDelta(t, 1.0, MetricL2.Score(0), 1e-9)
	assert.Greater(t, MetricL2.Score(0.5), MetricL2.Score(2))

	assert.Equal(t, 1.0, MetricCosine.Distance([]float32{0, 0}, a), "zero vectors are maximally distant")
}
