package pattern

import (
	"math"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/memflow/types"
)

// Boost sizes per pattern category. The total boost per episode is
// capped so patterns refine ranking without dominating importance.
const (
	domainBoost     = 0.3
	peakHourBoost   = 0.2
	complexityBoost = 0.15
	maxTotalBoost   = 0.5
)

// EnhanceRetrieval applies stored patterns to a retrieved result set,
// boosting episodes the patterns predict are relevant, then re-sorts.
// High-confidence patterns with no matching episode surface as
// synthesized suggestions appended after the real results.
func EnhanceRetrieval(results []types.ScoredEpisode, patterns []types.DiscoveredPattern, now time.Time) []types.ScoredEpisode {
	if len(patterns) == 0 {
		return results
	}

	matched := make(map[string]bool, len(patterns))
	for i := range results {
		boost := 0.0
		for _, p := range patterns {
			b := episodeBoost(&results[i].Episode, p, now)
			if b > 0 {
				matched[p.ID] = true
				boost += b * p.Confidence
			}
		}
		if boost > maxTotalBoost {
			boost = maxTotalBoost
		}
		results[i].PatternBoost = boost
		results[i].Score += boost
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	for _, p := range patterns {
		if matched[p.ID] || p.Confidence < 0.9 {
			continue
		}
		results = append(results, suggestion(p, now))
	}
	return results
}

func episodeBoost(ep *types.Episode, p types.DiscoveredPattern, now time.Time) float64 {
	switch p.Category {
	case types.CategoryDomainPreference:
		if d, ok := ep.Context["domain"].(string); ok && d != "" {
			// The description embeds the preferred domain; matching on
			// the stored share keeps this independent of wording.
			if preferred, ok2 := p.Parameters["share"]; ok2 && preferred > 0 {
				if containsFold(p.Description, d) {
					return domainBoost
				}
			}
		}
	case types.CategoryTimeOfDay:
		if hour, ok := p.Parameters["hour"]; ok {
			if float64(ep.CreatedAt.Hour()) == hour || float64(now.Hour()) == hour {
				return peakHourBoost
			}
		}
	case types.CategoryComplexity:
		if mu, ok := p.Parameters["mean_length"]; ok && mu > 0 {
			length := float64(contentLength(ep.Content))
			similarity := 1 - math.Abs(length-mu)/math.Max(length, mu)
			if similarity > 0 {
				return complexityBoost * similarity
			}
		}
	}
	return 0
}

// suggestion synthesizes a placeholder result derived from a pattern
// rather than a stored episode.
func suggestion(p types.DiscoveredPattern, now time.Time) types.ScoredEpisode {
	return types.ScoredEpisode{
		Episode: types.Episode{
			AgentID: p.AgentID,
			UserID:  p.UserID,
			Type:    types.EpisodeDiscovery,
			Content: map[string]any{
				"suggestion": p.Description,
				"category":   p.Category,
			},
			Importance: p.Confidence,
			CreatedAt:  now,
		},
		Score:     p.Confidence,
		Suggested: true,
	}
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}
