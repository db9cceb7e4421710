package pattern

import (
	"fmt"

	"github.com/BaSui01/memflow/types"
)

// ContextualAnalyzer mines what the interactions are about: dominant
// domain, who initiates, and content-complexity preference.
type ContextualAnalyzer struct{}

func (ContextualAnalyzer) Name() string { return "contextual" }

func (ContextualAnalyzer) Analyze(episodes []types.Episode) []Candidate {
	if len(episodes) == 0 {
		return nil
	}
	var out []Candidate
	if c, ok := domainPreference(episodes); ok {
		out = append(out, c)
	}
	if c, ok := initiationStyle(episodes); ok {
		out = append(out, c)
	}
	if c, ok := complexityPreference(episodes); ok {
		out = append(out, c)
	}
	return out
}

func domainPreference(episodes []types.Episode) (Candidate, bool) {
	domains := make(map[string]int)
	for _, ep := range episodes {
		if d, ok := ep.Context["domain"].(string); ok && d != "" {
			domains[d]++
		}
	}
	domain, n := dominant(domains)
	if n == 0 {
		return Candidate{}, false
	}
	total := 0
	for _, c := range domains {
		total += c
	}
	return Candidate{
		Type:        types.PatternContextual,
		Category:    types.CategoryDomainPreference,
		Description: fmt.Sprintf("prefers domain %s", domain),
		Confidence:  float64(n) / float64(total),
		Support:     n,
		Parameters: map[string]float64{
			"share": float64(n) / float64(total),
		},
	}, true
}

// initiationStyle measures how skewed interactions are toward user- or
// system-initiated. A balanced mix carries no signal.
func initiationStyle(episodes []types.Episode) (Candidate, bool) {
	userInitiated := 0
	for _, ep := range episodes {
		if b, ok := ep.Context["user_initiated"].(bool); ok && b {
			userInitiated++
		}
	}
	total := len(episodes)
	ratio := float64(userInitiated) / float64(total)
	confidence := ratio
	desc := "user-initiated interactions"
	support := userInitiated
	if ratio < 0.5 {
		confidence = 1 - ratio
		desc = "system-initiated interactions"
		support = total - userInitiated
	}
	return Candidate{
		Type:        types.PatternContextual,
		Category:    types.CategoryInitiationStyle,
		Description: desc,
		Confidence:  confidence,
		Support:     support,
		Parameters: map[string]float64{
			"user_initiated_ratio": ratio,
		},
	}, true
}

// complexityPreference uses rendered content length as a complexity
// proxy and looks for a stable preferred level.
func complexityPreference(episodes []types.Episode) (Candidate, bool) {
	var lengths []float64
	for _, ep := range episodes {
		lengths = append(lengths, float64(contentLength(ep.Content)))
	}
	if len(lengths) < 2 {
		return Candidate{}, false
	}
	mu := mean(lengths)
	if mu == 0 {
		return Candidate{}, false
	}
	return Candidate{
		Type:        types.PatternContextual,
		Category:    types.CategoryComplexity,
		Description: "stable content complexity",
		Confidence:  consistency(lengths),
		Support:     len(lengths),
		Parameters: map[string]float64{
			"mean_length": mu,
		},
	}, true
}

func contentLength(content map[string]any) int {
	n := 0
	for _, v := range content {
		if s, ok := v.(string); ok {
			n += len(s)
		}
	}
	return n
}
