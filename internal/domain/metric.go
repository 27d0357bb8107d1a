package domain

import (
	"fmt"
	"math"
	"strings"
)

// Metric is the vector distance used by a chunk store. It is fixed when the store is
// built so ingestion and queries always compare with the same function.
type Metric string

const (
	MetricCosine Metric = "cosine"
	MetricL2     Metric = "l2"
)

// ParseMetric accepts "cosine" or "l2" (case-insensitive).
func ParseMetric(s string) (Metric, error) {
	switch Metric(strings.ToLower(strings.TrimSpace(s))) {
	case MetricCosine, "":
		return MetricCosine, nil
	case MetricL2:
		return MetricL2, nil
	default:
		return "", fmt.Errorf("%w: unknown vector metric %q", ErrInvalidInput, s)
	}
}

// Operator returns the pgvector distance operator.
func (m Metric) Operator() string {
	if m == MetricL2 {
		return "<->"
	}
	return "<=>"
}

// Distance computes the metric between two vectors of equal length.
func (m Metric) Distance(a, b []float32) float64 {
	if m == MetricL2 {
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return math.Sqrt(sum)
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 1
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}

// Score converts a distance into a relevance score where higher is better.
func (m Metric) Score(distance float64) float64 {
	if m == MetricL2 {
		return 1 / (1 + distance)
	}
	return 1 - distance
}
