package pattern

import (
	"fmt"

	"github.com/BaSui01/memflow/types"
)

// TemporalAnalyzer mines when the user interacts: peak hour of day,
// session-duration consistency, and storage-interval regularity.
type TemporalAnalyzer struct{}

func (TemporalAnalyzer) Name() string { return "temporal" }

func (TemporalAnalyzer) Analyze(episodes []types.Episode) []Candidate {
	if len(episodes) == 0 {
		return nil
	}
	var out []Candidate
	if c, ok := timeOfDay(episodes); ok {
		out = append(out, c)
	}
	if c, ok := sessionDuration(episodes); ok {
		out = append(out, c)
	}
	if c, ok := storageInterval(episodes); ok {
		out = append(out, c)
	}
	return out
}

// timeOfDay finds the dominant activity hour. Confidence is the share of
// episodes landing in that hour; support is their count.
func timeOfDay(episodes []types.Episode) (Candidate, bool) {
	hours := make(map[int]int)
	for _, ep := range episodes {
		hours[ep.CreatedAt.Hour()]++
	}
	hour, n := dominant(hours)
	if n == 0 {
		return Candidate{}, false
	}
	return Candidate{
		Type:        types.PatternTemporal,
		Category:    types.CategoryTimeOfDay,
		Description: fmt.Sprintf("peak activity at hour %d", hour),
		Confidence:  float64(n) / float64(len(episodes)),
		Support:     n,
		Parameters: map[string]float64{
			"hour":  float64(hour),
			"share": float64(n) / float64(len(episodes)),
		},
	}, true
}

// sessionDuration checks whether recorded session lengths cluster around
// a stable mean.
func sessionDuration(episodes []types.Episode) (Candidate, bool) {
	var durations []float64
	for _, ep := range episodes {
		if d, ok := contextNumber(ep, "session_duration_seconds"); ok && d > 0 {
			durations = append(durations, d)
		}
	}
	if len(durations) < 2 {
		return Candidate{}, false
	}
	mu := mean(durations)
	return Candidate{
		Type:        types.PatternTemporal,
		Category:    types.CategorySessionDuration,
		Description: "consistent session duration",
		Confidence:  consistency(durations),
		Support:     len(durations),
		Parameters: map[string]float64{
			"mean_seconds": mu,
			"stddev":       stddev(durations, mu),
		},
	}, true
}

// storageInterval checks the regularity of gaps between stored episodes.
// Episodes arrive newest first from the window.
func storageInterval(episodes []types.Episode) (Candidate, bool) {
	if len(episodes) < 3 {
		return Candidate{}, false
	}
	var gaps []float64
	for i := 1; i < len(episodes); i++ {
		gap := episodes[i-1].CreatedAt.Sub(episodes[i].CreatedAt).Seconds()
		if gap < 0 {
			gap = -gap
		}
		gaps = append(gaps, gap)
	}
	mu := mean(gaps)
	if mu == 0 {
		return Candidate{}, false
	}
	return Candidate{
		Type:        types.PatternTemporal,
		Category:    types.CategoryStorageInterval,
		Description: "regular storage interval",
		Confidence:  consistency(gaps),
		Support:     len(gaps),
		Parameters: map[string]float64{
			"mean_interval_seconds": mu,
		},
	}, true
}

func contextNumber(ep types.Episode, key string) (float64, bool) {
	if ep.Context == nil {
		return 0, false
	}
	switch v := ep.Context[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	}
	return 0, false
}
