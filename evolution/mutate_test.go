package evolution

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/BaSui01/memflow/types"
)

func TestProposeCandidateCount(t *testing.T) {
	t.Parallel()
	m := NewMutator(rand.New(rand.NewSource(1)), 0.1, 3, 2, nil)

	got := m.Propose(&types.Strategy{
		Name:       types.StrategyRetrievalWeighting,
		Parameters: map[string]float64{"importance_weight": 0.5, "recency_weight": 0.3},
	})
	require.Len(t, got, 5)
	for _, c := range got {
		require.Len(t, c, 2)
		require.Contains(t, c, "importance_weight")
		require.Contains(t, c, "recency_weight")
	}
}

func TestProposePerturbationStaysNearCurrent(t *testing.T) {
	t.Parallel()
	m := NewMutator(rand.New(rand.NewSource(7)), 0.1, 10, 0, nil)

	got := m.Propose(&types.Strategy{
		Name:       types.StrategyPatternRecognition,
		Parameters: map[string]float64{"sensitivity": 0.5},
	})
	for _, c := range got {
		// Relative perturbation of 10% around 0.5.
		require.InDelta(t, 0.5, c["sensitivity"], 0.05+1e-12)
	}
}

func TestProposeDeterministicForSeed(t *testing.T) {
	t.Parallel()
	s := &types.Strategy{
		Name:       types.StrategyMemoryAllocation,
		Parameters: map[string]float64{"working_share": 0.2, "episodic_share": 0.4},
	}

	a := NewMutator(rand.New(rand.NewSource(42)), 0.1, 3, 2, nil).Propose(s)
	b := NewMutator(rand.New(rand.NewSource(42)), 0.1, 3, 2, nil).Propose(s)
	require.Equal(t, a, b)
}

func TestProposeRespectsBounds(t *testing.T) {
	t.Parallel()
	bounds := map[string]Bound{"promotion_target": {Min: 0.01, Max: 0.5}}

	rapid.Check(t, func(t *rapid.T) {
		seed := rapid.Int64().Draw(t, "seed")
		cur := rapid.Float64Range(0.01, 0.5).Draw(t, "cur")
		m := NewMutator(rand.New(rand.NewSource(seed)), 0.5, 3, 2, bounds)

		got := m.Propose(&types.Strategy{
			Name:       types.StrategyMemoryConsolidation,
			Parameters: map[string]float64{"promotion_target": cur, "other": 0.5},
		})
		for _, c := range got {
			if v := c["promotion_target"]; v < 0.01 || v > 0.5 {
				t.Fatalf("promotion_target %v escaped its bound", v)
			}
			// Unbounded parameters clamp to the unit interval.
			if v := c["other"]; v < 0 || v > 1 {
				t.Fatalf("unbounded parameter %v escaped [0,1]", v)
			}
		}
	})
}
