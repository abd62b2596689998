package rag

import (
	"infosec-rag/internal/index"
)

// DistanceScale converts retrieval scores into a Stage 1 confidence:
// 1 - avg(distance)/ceiling over the top three results, clamped to [0,1].
// With the ip metric the distance of a similarity s is 1 - s.
type DistanceScale struct {
	Metric  index.Metric
	Ceiling float64
}

const confidenceWindow = 3

func (d DistanceScale) Confidence(results []SearchResult) float64 {
	n := len(results)
	if n == 0 || d.Ceiling <= 0 {
		return 0
	}
	if n > confidenceWindow {
		n = confidenceWindow
	}
	var sum float64
	for _, r := range results[:n] {
		sum += d.distance(r.Score)
	}
	return clamp01(1 - (sum/float64(n))/d.Ceiling)
}

func (d DistanceScale) distance(score float64) float64 {
	if d.Metric == index.MetricIP {
		return 1 - score
	}
	return score
}

func clamp01(v float64) float64 {
	if v != v || v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
