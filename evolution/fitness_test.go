package evolution

import (
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/memflow/types"
)

func TestAllocationFitnessPrefersAlignedShares(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(0.1)
	snap := PerformanceSnapshot{
		TierUsageShare: map[types.MemoryCategory]float64{
			types.MemoryWorking:  0.2,
			types.MemoryEpisodic: 0.4,
			types.MemorySemantic: 0.3,
		},
		AvgRetrievalSeconds: 0.01,
	}

	aligned := map[string]float64{
		"working_share": 0.2, "episodic_share": 0.4,
		"semantic_share": 0.3, "procedural_share": 0.1,
	}
	skewed := map[string]float64{
		"working_share": 0.9, "episodic_share": 0.05,
		"semantic_share": 0.03, "procedural_share": 0.02,
	}
	require.Greater(t,
		e.Evaluate(types.StrategyMemoryAllocation, aligned, snap),
		e.Evaluate(types.StrategyMemoryAllocation, skewed, snap))
}

func TestWeightingFitnessPenalizesExtremes(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(0.1)
	snap := PerformanceSnapshot{HitRate: 0.9, AvgRetrievalSeconds: 0.05}

	balanced := map[string]float64{"importance_weight": 0.5, "recency_weight": 0.5, "session_weight": 0.5}
	extreme := map[string]float64{"importance_weight": 1.0, "recency_weight": 0.0, "session_weight": 1.0}
	require.Greater(t,
		e.Evaluate(types.StrategyRetrievalWeighting, balanced, snap),
		e.Evaluate(types.StrategyRetrievalWeighting, extreme, snap))
}

func TestConsolidationFitnessPeaksAtTarget(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(0.1)
	params := map[string]float64{"promotion_target": 0.2}

	at := e.Evaluate(types.StrategyMemoryConsolidation, params, PerformanceSnapshot{PromotionRate: 0.2, AvgImportance: 0.5})
	above := e.Evaluate(types.StrategyMemoryConsolidation, params, PerformanceSnapshot{PromotionRate: 0.45, AvgImportance: 0.5})
	below := e.Evaluate(types.StrategyMemoryConsolidation, params, PerformanceSnapshot{PromotionRate: 0.05, AvgImportance: 0.5})
	require.Greater(t, at, above)
	require.Greater(t, at, below)
}

func TestConsolidationFitnessFallsBackToIdealRate(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(0.1)
	none := map[string]float64{}

	at := e.Evaluate(types.StrategyMemoryConsolidation, none, PerformanceSnapshot{PromotionRate: 0.1, AvgImportance: 0.5})
	off := e.Evaluate(types.StrategyMemoryConsolidation, none, PerformanceSnapshot{PromotionRate: 0.3, AvgImportance: 0.5})
	require.Greater(t, at, off)
}

func TestUnknownStrategyScoresZero(t *testing.T) {
	t.Parallel()
	require.Zero(t, NewEvaluator(0.1).Evaluate("nonsense", nil, PerformanceSnapshot{}))
}

func TestFitnessAlwaysUnit(t *testing.T) {
	t.Parallel()
	e := NewEvaluator(0.1)
	names := []string{
		types.StrategyMemoryAllocation,
		types.StrategyRetrievalWeighting,
		types.StrategyPatternRecognition,
		types.StrategyMemoryConsolidation,
	}

	rapid.Check(t, func(t *rapid.T) {
		snap := PerformanceSnapshot{
			TierUsageShare: map[types.MemoryCategory]float64{
				types.MemoryWorking:  rapid.Float64Range(0, 1).Draw(t, "w"),
				types.MemoryEpisodic: rapid.Float64Range(0, 1).Draw(t, "e"),
			},
			AvgRetrievalSeconds: rapid.Float64Range(0, 10).Draw(t, "lat"),
			HitRate:             rapid.Float64Range(0, 1).Draw(t, "hit"),
			PromotionRate:       rapid.Float64Range(0, 1).Draw(t, "promo"),
			AvgImportance:       rapid.Float64Range(0, 1).Draw(t, "imp"),
			PatternYield:        rapid.Float64Range(0, 2).Draw(t, "yield"),
		}
		params := map[string]float64{}
		for _, k := range []string{
			"working_share", "episodic_share", "semantic_share", "procedural_share",
			"importance_weight", "recency_weight", "session_weight",
			"sensitivity", "promotion_target",
		} {
			params[k] = rapid.Float64Range(0, 1).Draw(t, k)
		}
		for _, name := range names {
			f := e.Evaluate(name, params, snap)
			if f < 0 || f > 1 {
				t.Fatalf("%s fitness %v out of [0,1]", name, f)
			}
		}
	})
}
