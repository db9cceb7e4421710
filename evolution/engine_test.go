package evolution_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/evolution"
	"github.com/BaSui01/memflow/internal/events"
	"github.com/BaSui01/memflow/testutil"
	"github.com/BaSui01/memflow/types"
)

func testEvolutionConfig() config.EvolutionConfig {
	cfg := config.DefaultEvolutionConfig()
	cfg.Interval = 0
	cfg.Seed = 1
	return cfg
}

func goodSnapshot() evolution.PerformanceSnapshot {
	return evolution.PerformanceSnapshot{
		TierUsageShare: map[types.MemoryCategory]float64{
			types.MemoryWorking:    0.2,
			types.MemoryEpisodic:   0.4,
			types.MemorySemantic:   0.3,
			types.MemoryProcedural: 0.1,
		},
		AvgRetrievalSeconds: 0.01,
		HitRate:             0.95,
		PromotionRate:       0.1,
		AvgImportance:       0.7,
		PatternYield:        0.5,
	}
}

func TestEngineSeedsDefaultStrategies(t *testing.T) {
	t.Parallel()
	e := evolution.NewEngine(1, "u1", testEvolutionConfig(), nil, nil, nil, zap.NewNop())

	all := e.Strategies()
	require.Len(t, all, 4)
	for _, name := range []string{
		types.StrategyMemoryAllocation,
		types.StrategyRetrievalWeighting,
		types.StrategyPatternRecognition,
		types.StrategyMemoryConsolidation,
	} {
		s := all[name]
		require.NotNil(t, s)
		require.Equal(t, 0.5, s.Fitness)
		require.Equal(t, 0, s.Generation)
		require.NotEmpty(t, s.Parameters)
	}
	require.Nil(t, e.Strategy("nonsense"))
}

func TestCycleHealthyUnscheduledDoesNothing(t *testing.T) {
	t.Parallel()
	e := evolution.NewEngine(1, "u1", testEvolutionConfig(), nil, nil, nil, zap.NewNop())

	reason := e.Cycle(context.Background(), goodSnapshot(), false)
	require.Empty(t, reason)
	require.Equal(t, 0, e.GetStats().Generation)
}

func TestCycleScheduledAlwaysEvolves(t *testing.T) {
	t.Parallel()
	s := testutil.OpenTierStore(t)
	e := evolution.NewEngine(1, "u1", testEvolutionConfig(), s, nil, nil, zap.NewNop())
	ctx := context.Background()

	reason := e.Cycle(ctx, goodSnapshot(), true)
	require.Equal(t, evolution.ReasonScheduled, reason)

	st := e.GetStats()
	require.Equal(t, 1, st.Generation)
	require.Equal(t, int64(1), st.Cycles)
	require.Equal(t, int64(1), st.Applied)

	hist, err := e.History(ctx, 10)
	require.NoError(t, err)
	require.Len(t, hist, 1)
	require.Equal(t, evolution.ReasonScheduled, hist[0].Reason)
	require.Equal(t, 1, hist[0].Generation)
}

func TestCycleLowFitnessTriggers(t *testing.T) {
	t.Parallel()
	cfg := testEvolutionConfig()
	cfg.LowFitnessThreshold = 0.99
	e := evolution.NewEngine(1, "u1", cfg, nil, nil, nil, zap.NewNop())

	reason := e.Cycle(context.Background(), goodSnapshot(), false)
	require.Equal(t, evolution.ReasonLowFitness, reason)
}

func TestCycleDegradationTriggers(t *testing.T) {
	t.Parallel()
	cfg := testEvolutionConfig()
	cfg.LowFitnessThreshold = 0
	cfg.DegradationDelta = 0.05
	cfg.FitnessSmoothing = 1
	e := evolution.NewEngine(1, "u1", cfg, nil, nil, nil, zap.NewNop())
	ctx := context.Background()

	require.Empty(t, e.Cycle(ctx, goodSnapshot(), false))

	// The collapsed snapshot drops average fitness well past the delta.
	bad := evolution.PerformanceSnapshot{AvgRetrievalSeconds: 5}
	require.Equal(t, evolution.ReasonDegradation, e.Cycle(ctx, bad, false))
}

func TestEvolveNeverAppliesWorseCandidates(t *testing.T) {
	t.Parallel()
	cfg := testEvolutionConfig()
	cfg.FitnessSmoothing = 1
	e := evolution.NewEngine(1, "u1", cfg, nil, nil, nil, zap.NewNop())
	ctx := context.Background()
	snap := goodSnapshot()

	before := e.Strategies()
	require.Equal(t, evolution.ReasonScheduled, e.Cycle(ctx, snap, true))

	ev := evolution.NewEvaluator(cfg.IdealPromotionRate)
	for name, cur := range e.Strategies() {
		baseline := ev.Evaluate(name, before[name].Parameters, snap)
		require.GreaterOrEqual(t, cur.Fitness, baseline,
			"applied strategy %s must never score below its pre-cycle parameters", name)
		if cur.Generation == 1 {
			// A replaced strategy must strictly beat the baseline.
			require.Greater(t, cur.Fitness, baseline)
		}
	}
}

func TestEvolutionEventPublished(t *testing.T) {
	t.Parallel()
	bus := events.NewBus(events.Config{BufferSize: 16})
	e := evolution.NewEngine(1, "u1", testEvolutionConfig(), nil, bus, nil, zap.NewNop())
	ctx := context.Background()

	require.Equal(t, evolution.ReasonScheduled, e.Cycle(ctx, goodSnapshot(), true))

	recvCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	ev, err := bus.Receive(recvCtx)
	require.NoError(t, err)
	require.Equal(t, events.EventEvolutionCompleted, ev.Type)
	require.Equal(t, evolution.ReasonScheduled, ev.Payload["reason"])
	require.Equal(t, 1, ev.Payload["generation"])
}

func TestCycleInvariantsHoldUnderArbitrarySnapshots(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		cfg := testEvolutionConfig()
		cfg.Seed = rapid.Int64Range(1, 1<<40).Draw(t, "seed")
		e := evolution.NewEngine(1, "u1", cfg, nil, nil, nil, zap.NewNop())
		ctx := context.Background()

		cycles := rapid.IntRange(1, 6).Draw(t, "cycles")
		prevGen := 0
		for i := 0; i < cycles; i++ {
			snap := evolution.PerformanceSnapshot{
				TierUsageShare: map[types.MemoryCategory]float64{
					types.MemoryWorking:  rapid.Float64Range(0, 1).Draw(t, "w"),
					types.MemoryEpisodic: rapid.Float64Range(0, 1).Draw(t, "e"),
				},
				AvgRetrievalSeconds: rapid.Float64Range(0, 3).Draw(t, "lat"),
				HitRate:             rapid.Float64Range(0, 1).Draw(t, "hit"),
				PromotionRate:       rapid.Float64Range(0, 1).Draw(t, "promo"),
				AvgImportance:       rapid.Float64Range(0, 1).Draw(t, "imp"),
				PatternYield:        rapid.Float64Range(0, 1).Draw(t, "yield"),
			}
			e.Cycle(ctx, snap, rapid.Bool().Draw(t, "scheduled"))

			st := e.GetStats()
			if st.Generation < prevGen {
				t.Fatalf("generation regressed: %d -> %d", prevGen, st.Generation)
			}
			prevGen = st.Generation

			for name, s := range e.Strategies() {
				if s.Fitness < 0 || s.Fitness > 1 {
					t.Fatalf("%s fitness %v out of [0,1]", name, s.Fitness)
				}
				if v, ok := s.Parameters["promotion_target"]; ok && (v < 0.01 || v > 0.5) {
					t.Fatalf("promotion_target %v escaped its bound", v)
				}
			}
		}
	})
}

type staticSnapshots struct{ snap evolution.PerformanceSnapshot }

func (s staticSnapshots) Snapshot(context.Context, int64, string) (evolution.PerformanceSnapshot, error) {
	return s.snap, nil
}

func TestServiceTriggerCycle(t *testing.T) {
	t.Parallel()
	store := testutil.OpenTierStore(t)
	svc := evolution.NewService(testEvolutionConfig(), store, staticSnapshots{snap: goodSnapshot()}, nil, nil, zap.NewNop())

	reason, err := svc.TriggerCycle(context.Background(), 1, "u1", true)
	require.NoError(t, err)
	require.Equal(t, evolution.ReasonScheduled, reason)

	st := svc.GetStats()
	require.Equal(t, 1, st.ActiveEngines)
	require.Len(t, st.Engines, 1)
	require.Equal(t, 1, st.Engines[0].Generation)
}
