package evolution

import (
	"math"

	"github.com/BaSui01/memflow/types"
)

// PerformanceSnapshot aggregates the observed behavior one evolution
// cycle evaluates against. All rates are in [0,1]; latency in seconds.
type PerformanceSnapshot struct {
	// TierUsageShare is each tier's share of stored records.
	TierUsageShare map[types.MemoryCategory]float64

	AvgRetrievalSeconds float64
	HitRate             float64
	PromotionRate       float64
	AvgImportance       float64

	// PatternYield is discovered patterns per analysis pass.
	PatternYield float64
}

// Evaluator scores a parameter set against a snapshot using a
// strategy-specific proxy function. The same proxy serves both live
// evaluation and candidate simulation, so comparisons are apples to
// apples and deterministic for identical input.
type Evaluator struct {
	idealPromotionRate float64
}

// NewEvaluator anchors the consolidation proxy at the ideal promotion
// rate.
func NewEvaluator(idealPromotionRate float64) *Evaluator {
	return &Evaluator{idealPromotionRate: idealPromotionRate}
}

// Evaluate returns a fitness in [0,1] for the named strategy's parameters
// under the snapshot.
func (e *Evaluator) Evaluate(name string, params map[string]float64, snap PerformanceSnapshot) float64 {
	switch name {
	case types.StrategyMemoryAllocation:
		return e.allocationFitness(params, snap)
	case types.StrategyRetrievalWeighting:
		return e.weightingFitness(params, snap)
	case types.StrategyPatternRecognition:
		return e.recognitionFitness(params, snap)
	case types.StrategyMemoryConsolidation:
		return e.consolidationFitness(params, snap)
	}
	return 0
}

// allocationFitness rewards low retrieval latency, weighted by how far
// each tier's intended allocation share sits from its observed usage.
func (e *Evaluator) allocationFitness(params map[string]float64, snap PerformanceSnapshot) float64 {
	speed := 1 / (1 + snap.AvgRetrievalSeconds)

	misfit := 0.0
	n := 0
	for tier, intended := range map[types.MemoryCategory]float64{
		types.MemoryWorking:    params["working_share"],
		types.MemoryEpisodic:   params["episodic_share"],
		types.MemorySemantic:   params["semantic_share"],
		types.MemoryProcedural: params["procedural_share"],
	} {
		actual := snap.TierUsageShare[tier]
		misfit += math.Abs(intended - actual)
		n++
	}
	alignment := 1 - misfit/float64(n)
	return clamp01(0.6*speed + 0.4*alignment)
}

// weightingFitness rewards hit rate and speed, penalizing weight sets
// pushed to the extremes of their domains.
func (e *Evaluator) weightingFitness(params map[string]float64, snap PerformanceSnapshot) float64 {
	speed := 1 / (1 + snap.AvgRetrievalSeconds)
	base := 0.6*snap.HitRate + 0.4*speed

	extreme := 0.0
	for _, v := range params {
		// Distance from the balanced midpoint, 0 at 0.5 and 1 at either
		// extreme.
		extreme += math.Abs(v-0.5) * 2
	}
	if len(params) > 0 {
		extreme /= float64(len(params))
	}
	return clamp01(base * (1 - 0.3*extreme))
}

// recognitionFitness rewards productive pattern discovery at a
// sensitivity matched to how much signal the data actually carries.
func (e *Evaluator) recognitionFitness(params map[string]float64, snap PerformanceSnapshot) float64 {
	yield := clamp01(snap.PatternYield)
	sensitivity := params["sensitivity"]
	// Over-sensitive recognition on weak signal mines noise.
	mismatch := math.Abs(sensitivity - yield)
	return clamp01(0.7*yield + 0.3*(1-mismatch))
}

// consolidationFitness rewards a promotion rate near the ideal anchor,
// scaled by average importance so promoting junk never scores well.
func (e *Evaluator) consolidationFitness(params map[string]float64, snap PerformanceSnapshot) float64 {
	target := params["promotion_target"]
	if target == 0 {
		target = e.idealPromotionRate
	}
	distance := math.Abs(snap.PromotionRate - target)
	proximity := 1 - clamp01(distance/math.Max(target, 1e-9))
	return clamp01(0.7*proximity + 0.3*snap.AvgImportance)
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
