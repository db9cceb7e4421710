package pattern

import (
	"fmt"

	"github.com/BaSui01/memflow/types"
)

// BehavioralAnalyzer mines how the agent performs for this user: success
// rate, the episode type that succeeds most, and whether interactions
// carry adaptation history.
type BehavioralAnalyzer struct{}

func (BehavioralAnalyzer) Name() string { return "behavioral" }

func (BehavioralAnalyzer) Analyze(episodes []types.Episode) []Candidate {
	if len(episodes) == 0 {
		return nil
	}
	var out []Candidate
	if c, ok := successRate(episodes); ok {
		out = append(out, c)
	}
	if c, ok := preferredBehavior(episodes); ok {
		out = append(out, c)
	}
	if c, ok := adaptationPresence(episodes); ok {
		out = append(out, c)
	}
	return out
}

func successRate(episodes []types.Episode) (Candidate, bool) {
	successes := 0
	for _, ep := range episodes {
		if ep.Type == types.EpisodeSuccess {
			successes++
		}
	}
	if successes == 0 {
		return Candidate{}, false
	}
	rate := float64(successes) / float64(len(episodes))
	return Candidate{
		Type:        types.PatternBehavioral,
		Category:    types.CategorySuccessRate,
		Description: "interaction success rate",
		Confidence:  rate,
		Support:     successes,
		Parameters: map[string]float64{
			"rate": rate,
		},
	}, true
}

// preferredBehavior finds the episode type whose frequency-weighted
// satisfaction is highest.
func preferredBehavior(episodes []types.Episode) (Candidate, bool) {
	counts := make(map[types.EpisodeType]int)
	satSum := make(map[types.EpisodeType]float64)
	for _, ep := range episodes {
		counts[ep.Type]++
		if ep.UserSatisfaction != nil {
			satSum[ep.Type] += *ep.UserSatisfaction
		} else {
			satSum[ep.Type] += 0.5
		}
	}

	var best types.EpisodeType
	bestScore := -1.0
	for t, n := range counts {
		freq := float64(n) / float64(len(episodes))
		avgSat := satSum[t] / float64(n)
		score := freq * avgSat
		if score > bestScore || (score == bestScore && string(t) < string(best)) {
			best, bestScore = t, score
		}
	}
	if bestScore <= 0 {
		return Candidate{}, false
	}
	return Candidate{
		Type:        types.PatternBehavioral,
		Category:    types.CategoryPreferredBehavior,
		Description: fmt.Sprintf("preferred behavior %s", best),
		Confidence:  clamp01(bestScore * 2),
		Support:     counts[best],
		Parameters: map[string]float64{
			"weighted_score": bestScore,
		},
	}, true
}

func adaptationPresence(episodes []types.Episode) (Candidate, bool) {
	present := 0
	for _, ep := range episodes {
		if _, ok := ep.Context["adaptation"]; ok {
			present++
		}
	}
	if present == 0 {
		return Candidate{}, false
	}
	rate := float64(present) / float64(len(episodes))
	return Candidate{
		Type:        types.PatternBehavioral,
		Category:    types.CategoryAdaptationPresence,
		Description: "interactions carry adaptation history",
		Confidence:  rate,
		Support:     present,
		Parameters: map[string]float64{
			"rate": rate,
		},
	}, true
}
