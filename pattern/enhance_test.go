package pattern_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/pattern"
	"github.com/BaSui01/memflow/testutil"
	"github.com/BaSui01/memflow/types"
)

func domainPattern(domain string, confidence float64) types.DiscoveredPattern {
	return types.DiscoveredPattern{
		AgentID:     1,
		UserID:      "u1",
		Type:        types.PatternContextual,
		Category:    types.CategoryDomainPreference,
		Description: "prefers domain " + domain,
		Confidence:  confidence,
		Support:     5,
		Parameters:  map[string]float64{"share": 0.9},
	}
}

func TestEnhanceBoostsMatchingDomain(t *testing.T) {
	t.Parallel()
	now := time.Now()

	coding := testutil.NewEpisode(1, "u1").ContextValue("domain", "coding").Build()
	writing := testutil.NewEpisode(1, "u1").ContextValue("domain", "writing").Build()
	results := []types.ScoredEpisode{
		{Episode: writing, Score: 1.5},
		{Episode: coding, Score: 1.4},
	}

	out := pattern.EnhanceRetrieval(results, []types.DiscoveredPattern{domainPattern("coding", 0.8)}, now)
	require.Len(t, out, 2)
	// 1.4 + 0.3*0.8 = 1.64 overtakes 1.5.
	require.Equal(t, coding.ID, out[0].Episode.ID)
	require.InDelta(t, 1.64, out[0].Score, 1e-9)
	require.InDelta(t, 0.24, out[0].PatternBoost, 1e-9)
	require.Zero(t, out[1].PatternBoost)
}

func TestEnhanceBoostIsCapped(t *testing.T) {
	t.Parallel()
	now := time.Now()

	ep := testutil.NewEpisode(1, "u1").ContextValue("domain", "coding").At(now).Build()
	patterns := []types.DiscoveredPattern{
		domainPattern("coding", 1.0),
		{
			Type:       types.PatternTemporal,
			Category:   types.CategoryTimeOfDay,
			Confidence: 1.0,
			Support:    5,
			Parameters: map[string]float64{"hour": float64(now.Hour())},
		},
		{
			Type:       types.PatternContextual,
			Category:   types.CategoryComplexity,
			Confidence: 1.0,
			Support:    5,
			Parameters: map[string]float64{"mean_length": float64(len("hello") + len("hi"))},
		},
	}

	out := pattern.EnhanceRetrieval([]types.ScoredEpisode{{Episode: ep, Score: 1.0}}, patterns, now)
	require.Len(t, out, 1)
	require.InDelta(t, 0.5, out[0].PatternBoost, 1e-9, "total boost never exceeds the cap")
	require.InDelta(t, 1.5, out[0].Score, 1e-9)
}

func TestEnhanceSynthesizesSuggestions(t *testing.T) {
	t.Parallel()
	now := time.Now()

	writing := testutil.NewEpisode(1, "u1").ContextValue("domain", "writing").Build()
	strong := domainPattern("coding", 0.95)

	out := pattern.EnhanceRetrieval([]types.ScoredEpisode{{Episode: writing, Score: 1.2}}, []types.DiscoveredPattern{strong}, now)
	require.Len(t, out, 2)
	require.False(t, out[0].Suggested)
	require.True(t, out[1].Suggested)
	require.Equal(t, types.EpisodeDiscovery, out[1].Episode.Type)
	require.Equal(t, strong.Description, out[1].Episode.Content["suggestion"])
	require.Equal(t, strong.Category, out[1].Episode.Content["category"])
}

func TestEnhanceNoSuggestionBelowThreshold(t *testing.T) {
	t.Parallel()
	writing := testutil.NewEpisode(1, "u1").ContextValue("domain", "writing").Build()

	out := pattern.EnhanceRetrieval(
		[]types.ScoredEpisode{{Episode: writing, Score: 1.2}},
		[]types.DiscoveredPattern{domainPattern("coding", 0.85)},
		time.Now(),
	)
	require.Len(t, out, 1, "sub-0.9 patterns never synthesize suggestions")
}

func TestEnhanceEmptyInputs(t *testing.T) {
	t.Parallel()

	// Even an empty result set can surface a strong pattern.
	out0 := pattern.EnhanceRetrieval(nil, []types.DiscoveredPattern{domainPattern("coding", 0.95)}, time.Unix(0, 0))
	require.Len(t, out0, 1)
	require.True(t, out0[0].Suggested)

	ep := testutil.NewEpisode(1, "u1").Build()
	in := []types.ScoredEpisode{{Episode: ep, Score: 1.0}}
	out := pattern.EnhanceRetrieval(in, nil, time.Now())
	require.Equal(t, in, out)
}
