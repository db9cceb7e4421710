// Package pattern mines behavioral regularities from stored episodes and
// feeds them back into retrieval as relevance boosts.
package pattern

import (
	"fmt"
	"math"

	"github.com/BaSui01/memflow/types"
)

// Candidate is one analyzer finding before threshold gating.
type Candidate struct {
	Type        types.PatternType
	Category    string
	Description string
	Confidence  float64
	Support     int
	Parameters  map[string]float64
}

// Analyzer mines one dimension of a recent-episode window. Analyzers are
// pure functions of their input, so identical windows yield identical
// candidates.
type Analyzer interface {
	Name() string
	Analyze(episodes []types.Episode) []Candidate
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func stddev(xs []float64, mu float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	ss := 0.0
	for _, x := range xs {
		d := x - mu
		ss += d * d
	}
	return math.Sqrt(ss / float64(len(xs)))
}

// consistency maps a coefficient of variation to a confidence: tightly
// clustered values approach 1, widely scattered values approach 0.
func consistency(xs []float64) float64 {
	mu := mean(xs)
	if mu == 0 {
		return 0
	}
	cv := stddev(xs, mu) / math.Abs(mu)
	return clamp01(1 - cv)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// dominant returns the most frequent key and its count. Ties break on the
// rendered key so results are deterministic for identical input.
func dominant[K comparable](counts map[K]int) (K, int) {
	var best K
	bestN := 0
	for k, n := range counts {
		if n > bestN || (n == bestN && n > 0 && fmt.Sprint(k) < fmt.Sprint(best)) {
			best, bestN = k, n
		}
	}
	return best, bestN
}
