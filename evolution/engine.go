package evolution

import (
	"context"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/internal/events"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/types"
)

// Trigger reasons. Evolution is never silent: every applied cycle records
// one of these.
const (
	ReasonLowFitness  = "Low average fitness"
	ReasonDegradation = "Performance degradation"
	ReasonScheduled   = "Scheduled evolution"
)

// HistoryStore persists applied evolution cycles.
type HistoryStore interface {
	AppendEvolution(ctx context.Context, rec types.EvolutionRecord) error
	EvolutionHistory(ctx context.Context, agentID int64, userID string, limit int) ([]types.EvolutionRecord, error)
}

// Engine evolves the strategy registry for one (agent, user) instance.
// Strategies are read lock-free by retrieval paths and replaced wholesale
// by the evolution cycle; readers may briefly observe the previous
// generation but never a half-updated one.
type Engine struct {
	agentID int64
	userID  string
	cfg     config.EvolutionConfig

	strategies map[string]*atomic.Pointer[types.Strategy]
	evaluator  *Evaluator
	mutator    *Mutator
	history    HistoryStore
	bus        *events.Bus
	metrics    *metrics.Collector
	logger     *zap.Logger
	now        func() time.Time

	// mu serializes evolution cycles; reads bypass it entirely.
	mu         sync.Mutex
	generation int
	prevAvg    float64
	cycles     int64
	applied    int64
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock injects a clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// NewEngine seeds the fixed strategy registry with defaults at
// generation zero.
func NewEngine(agentID int64, userID string, cfg config.EvolutionConfig, history HistoryStore, bus *events.Bus, collector *metrics.Collector, logger *zap.Logger, opts ...Option) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	e := &Engine{
		agentID:    agentID,
		userID:     userID,
		cfg:        cfg,
		strategies: make(map[string]*atomic.Pointer[types.Strategy]),
		evaluator:  NewEvaluator(cfg.IdealPromotionRate),
		mutator: NewMutator(rng, cfg.MutationRate, cfg.PerturbedCandidates, cfg.RandomCandidates, map[string]Bound{
			"promotion_target": {Min: 0.01, Max: 0.5},
		}),
		history: history,
		bus:     bus,
		metrics: collector,
		logger: logger.With(
			zap.String("component", "evolution_engine"),
			zap.Int64("agent_id", agentID),
			zap.String("user_id", userID)),
		now: time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	for name, params := range defaultStrategies() {
		p := &atomic.Pointer[types.Strategy]{}
		p.Store(&types.Strategy{
			Name:       name,
			Parameters: params,
			Fitness:    0.5,
			Generation: 0,
			UpdatedAt:  e.now(),
		})
		e.strategies[name] = p
	}
	return e
}

func defaultStrategies() map[string]map[string]float64 {
	return map[string]map[string]float64{
		types.StrategyMemoryAllocation: {
			"working_share":    0.2,
			"episodic_share":   0.4,
			"semantic_share":   0.3,
			"procedural_share": 0.1,
		},
		types.StrategyRetrievalWeighting: {
			"importance_weight": 0.5,
			"recency_weight":    0.3,
			"session_weight":    0.2,
		},
		types.StrategyPatternRecognition: {
			"sensitivity": 0.5,
		},
		types.StrategyMemoryConsolidation: {
			"promotion_target": 0.1,
		},
	}
}

// Strategy returns the live strategy for a name, or nil for unknown
// names. The returned object is immutable.
func (e *Engine) Strategy(name string) *types.Strategy {
	p, ok := e.strategies[name]
	if !ok {
		return nil
	}
	return p.Load()
}

// Strategies snapshots the whole registry.
func (e *Engine) Strategies() map[string]*types.Strategy {
	out := make(map[string]*types.Strategy, len(e.strategies))
	for name, p := range e.strategies {
		out[name] = p.Load()
	}
	return out
}

// Evaluate re-scores every strategy against the snapshot, exponentially
// smoothing toward the new observation, and returns the new average.
func (e *Engine) Evaluate(snap PerformanceSnapshot) float64 {
	alpha := e.cfg.FitnessSmoothing
	total := 0.0
	for name, p := range e.strategies {
		cur := p.Load()
		observed := e.evaluator.Evaluate(name, cur.Parameters, snap)
		smoothed := (1-alpha)*cur.Fitness + alpha*observed

		next := cur.Clone()
		next.Fitness = smoothed
		next.UpdatedAt = e.now()
		p.Store(next)

		if e.metrics != nil {
			e.metrics.SetStrategyFitness(name, smoothed)
		}
		total += smoothed
	}
	return total / float64(len(e.strategies))
}

// Cycle evaluates current fitness, decides whether evolution should
// trigger, and runs it when it should. scheduled marks timer-driven
// invocations, which always trigger. Returns the explicit reason, or ""
// when no evolution ran.
func (e *Engine) Cycle(ctx context.Context, snap PerformanceSnapshot, scheduled bool) string {
	e.mu.Lock()
	defer e.mu.Unlock()

	avg := e.Evaluate(snap)
	e.cycles++

	reason := ""
	switch {
	case avg < e.cfg.LowFitnessThreshold:
		reason = ReasonLowFitness
	case e.prevAvg > 0 && avg < e.prevAvg-e.cfg.DegradationDelta:
		reason = ReasonDegradation
	case scheduled:
		reason = ReasonScheduled
	}
	e.prevAvg = avg
	if reason == "" {
		return ""
	}

	e.evolve(ctx, snap, reason)
	return reason
}

// evolve proposes, simulates, and selects per strategy, applying a
// candidate only when it strictly beats the current fitness. Caller holds
// e.mu.
func (e *Engine) evolve(ctx context.Context, snap PerformanceSnapshot, reason string) {
	e.generation++
	var changed []string
	total := 0.0

	for name, p := range e.strategies {
		cur := p.Load()

		bestParams := map[string]float64(nil)
		bestFitness := cur.Fitness
		for _, candidate := range e.mutator.Propose(cur) {
			f := e.evaluator.Evaluate(name, candidate, snap)
			if f > bestFitness {
				bestParams, bestFitness = candidate, f
			}
		}

		if bestParams != nil {
			p.Store(&types.Strategy{
				Name:       name,
				Parameters: bestParams,
				Fitness:    bestFitness,
				Generation: e.generation,
				UpdatedAt:  e.now(),
			})
			changed = append(changed, name)
			if e.metrics != nil {
				e.metrics.SetStrategyFitness(name, bestFitness)
			}
			e.logger.Info("strategy evolved",
				zap.String("strategy", name),
				zap.Float64("fitness", bestFitness),
				zap.Int("generation", e.generation))
		}
		total += e.strategies[name].Load().Fitness
	}

	avg := total / float64(len(e.strategies))
	e.applied++

	if e.metrics != nil {
		e.metrics.ObserveEvolutionCycle(reason)
	}
	if e.history != nil {
		rec := types.EvolutionRecord{
			AgentID:        e.agentID,
			UserID:         e.userID,
			Generation:     e.generation,
			Reason:         reason,
			Changed:        changed,
			AverageFitness: avg,
			Timestamp:      e.now(),
		}
		if err := e.history.AppendEvolution(ctx, rec); err != nil {
			e.logger.Warn("failed to persist evolution record", zap.Error(err))
		}
	}
	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type:    events.EventEvolutionCompleted,
			AgentID: e.agentID,
			UserID:  e.userID,
			Payload: map[string]any{
				"reason":          reason,
				"generation":      e.generation,
				"changed":         changed,
				"average_fitness": avg,
			},
			Timestamp: e.now(),
		})
	}
}

// History lists recent applied cycles.
func (e *Engine) History(ctx context.Context, limit int) ([]types.EvolutionRecord, error) {
	if e.history == nil {
		return nil, nil
	}
	return e.history.EvolutionHistory(ctx, e.agentID, e.userID, limit)
}

// EngineStats summarizes one instance's evolution state.
type EngineStats struct {
	AgentID        int64              `json:"agent_id"`
	UserID         string             `json:"user_id"`
	Generation     int                `json:"generation"`
	Cycles         int64              `json:"cycles"`
	Applied        int64              `json:"applied"`
	AverageFitness float64            `json:"average_fitness"`
	Fitness        map[string]float64 `json:"fitness"`
}

// GetStats returns read-only engine statistics.
func (e *Engine) GetStats() EngineStats {
	e.mu.Lock()
	st := EngineStats{
		AgentID:    e.agentID,
		UserID:     e.userID,
		Generation: e.generation,
		Cycles:     e.cycles,
		Applied:    e.applied,
		Fitness:    make(map[string]float64, len(e.strategies)),
	}
	e.mu.Unlock()

	total := 0.0
	for name, p := range e.strategies {
		f := p.Load().Fitness
		st.Fitness[name] = f
		total += f
	}
	st.AverageFitness = total / float64(len(e.strategies))
	return st
}
