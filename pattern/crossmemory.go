package pattern

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/memflow/types"
)

// CrossMemoryAnalyzer mines how the tiers are used together: which tier
// combinations co-occur in storage events, and how often episodic
// memories graduate to semantic visibility.
type CrossMemoryAnalyzer struct{}

func (CrossMemoryAnalyzer) Name() string { return "cross_memory" }

func (CrossMemoryAnalyzer) Analyze(episodes []types.Episode) []Candidate {
	if len(episodes) == 0 {
		return nil
	}
	var out []Candidate
	if c, ok := memoryCombination(episodes); ok {
		out = append(out, c)
	}
	if c, ok := promotionRate(episodes); ok {
		out = append(out, c)
	}
	return out
}

// memoryCombination counts storage events that touched more than one
// tier, keyed by the sorted tier set.
func memoryCombination(episodes []types.Episode) (Candidate, bool) {
	combos := make(map[string]int)
	multiTier := 0
	for _, ep := range episodes {
		tiers := tiersUsed(ep)
		if len(tiers) < 2 {
			continue
		}
		multiTier++
		sort.Strings(tiers)
		combos[strings.Join(tiers, "+")]++
	}
	combo, n := dominant(combos)
	if n == 0 {
		return Candidate{}, false
	}
	return Candidate{
		Type:        types.PatternCrossMemory,
		Category:    types.CategoryMemoryCombination,
		Description: fmt.Sprintf("tiers used together: %s", combo),
		Confidence:  float64(n) / float64(multiTier),
		Support:     n,
		Parameters: map[string]float64{
			"multi_tier_events": float64(multiTier),
		},
	}, true
}

func promotionRate(episodes []types.Episode) (Candidate, bool) {
	promoted := 0
	for _, ep := range episodes {
		if ep.PromotedToSemantic {
			promoted++
		}
	}
	if promoted == 0 {
		return Candidate{}, false
	}
	rate := float64(promoted) / float64(len(episodes))
	return Candidate{
		Type:        types.PatternCrossMemory,
		Category:    types.CategoryPromotionRate,
		Description: "episodic to semantic promotion rate",
		Confidence:  rate,
		Support:     promoted,
		Parameters: map[string]float64{
			"rate": rate,
		},
	}, true
}

func tiersUsed(ep types.Episode) []string {
	raw, ok := ep.Context["tiers_used"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
