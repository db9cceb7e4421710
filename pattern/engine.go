package pattern

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/internal/events"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/types"
)

// PatternStore persists discovered patterns.
type PatternStore interface {
	UpsertPattern(ctx context.Context, p *types.DiscoveredPattern) error
	ListPatterns(ctx context.Context, agentID int64, userID string) ([]types.DiscoveredPattern, error)
	CountPatterns(ctx context.Context, agentID int64, userID string) (int64, error)
	PrunePatterns(ctx context.Context, agentID int64, userID string, max int) (int64, error)
}

// Engine mines patterns for one (agent, user) pair over a sliding window
// of recent episodes. The four analyzers run concurrently; their merged
// candidates pass the confidence and support gate before persisting.
type Engine struct {
	agentID int64
	userID  string
	cfg     config.PatternConfig

	store     PatternStore
	analyzers []Analyzer
	bus       *events.Bus
	metrics   *metrics.Collector
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	window []types.Episode

	statsMu    sync.Mutex
	analyzed   int64
	discovered int64
}

// NewEngine builds the engine with the four standard analyzers.
func NewEngine(agentID int64, userID string, cfg config.PatternConfig, store PatternStore, bus *events.Bus, collector *metrics.Collector, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		agentID: agentID,
		userID:  userID,
		cfg:     cfg,
		store:   store,
		analyzers: []Analyzer{
			TemporalAnalyzer{},
			ContextualAnalyzer{},
			CrossMemoryAnalyzer{},
			BehavioralAnalyzer{},
		},
		bus:     bus,
		metrics: collector,
		logger: logger.With(
			zap.String("component", "pattern_engine"),
			zap.Int64("agent_id", agentID),
			zap.String("user_id", userID)),
		now: time.Now,
	}
}

// Observe appends an episode to the analysis window, evicting the oldest
// entry past the window bound, and runs one analysis pass.
func (e *Engine) Observe(ctx context.Context, ep types.Episode) {
	e.mu.Lock()
	e.window = append(e.window, ep)
	if len(e.window) > e.cfg.AnalysisWindow {
		e.window = e.window[len(e.window)-e.cfg.AnalysisWindow:]
	}
	snapshot := make([]types.Episode, len(e.window))
	copy(snapshot, e.window)
	e.mu.Unlock()

	e.analyze(ctx, snapshot)
}

// analyze runs all analyzers concurrently over the snapshot, then gates
// and persists the merged candidates. Candidate ordering across analyzers
// is not significant.
func (e *Engine) analyze(ctx context.Context, episodes []types.Episode) {
	if len(episodes) == 0 {
		return
	}

	var mu sync.Mutex
	var candidates []Candidate

	g, _ := errgroup.WithContext(ctx)
	for _, a := range e.analyzers {
		a := a
		g.Go(func() error {
			found := a.Analyze(episodes)
			mu.Lock()
			candidates = append(candidates, found...)
			mu.Unlock()
			return nil
		})
	}
	// Analyzers are pure and never fail.
	_ = g.Wait()

	e.statsMu.Lock()
	e.analyzed++
	e.statsMu.Unlock()

	kept := 0
	for _, c := range candidates {
		if c.Confidence < e.cfg.ConfidenceThreshold || c.Support < e.cfg.MinSupport {
			continue
		}
		if e.persist(ctx, c) {
			kept++
		}
	}
	if kept > 0 {
		e.prune(ctx)
	}
}

func (e *Engine) persist(ctx context.Context, c Candidate) bool {
	p := &types.DiscoveredPattern{
		AgentID:     e.agentID,
		UserID:      e.userID,
		Type:        c.Type,
		Category:    c.Category,
		Description: c.Description,
		Confidence:  c.Confidence,
		Support:     c.Support,
		Parameters:  c.Parameters,
	}
	if err := e.store.UpsertPattern(ctx, p); err != nil {
		e.logger.Warn("failed to persist pattern",
			zap.String("category", c.Category),
			zap.Error(err))
		return false
	}

	e.statsMu.Lock()
	e.discovered++
	e.statsMu.Unlock()

	if e.metrics != nil {
		e.metrics.ObservePatternDiscovered(c.Category)
	}
	if e.bus != nil {
		e.bus.Publish(events.Event{
			Type:    events.EventPatternDiscovered,
			AgentID: e.agentID,
			UserID:  e.userID,
			Payload: map[string]any{
				"category":    c.Category,
				"description": c.Description,
				"confidence":  c.Confidence,
				"support":     c.Support,
			},
			Timestamp: e.now(),
		})
	}
	e.logger.Debug("pattern persisted",
		zap.String("category", c.Category),
		zap.Float64("confidence", c.Confidence),
		zap.Int("support", c.Support))
	return true
}

func (e *Engine) prune(ctx context.Context) {
	removed, err := e.store.PrunePatterns(ctx, e.agentID, e.userID, e.cfg.MaxPatterns)
	if err != nil {
		e.logger.Warn("pattern prune failed", zap.Error(err))
		return
	}
	if removed > 0 {
		e.logger.Debug("pruned low-confidence patterns", zap.Int64("removed", removed))
	}
}

// Refresh re-runs analysis over the current window, refreshing stored
// confidences. Used by the periodic discovery cycle.
func (e *Engine) Refresh(ctx context.Context) {
	e.mu.Lock()
	snapshot := make([]types.Episode, len(e.window))
	copy(snapshot, e.window)
	e.mu.Unlock()
	e.analyze(ctx, snapshot)
}

// Patterns lists the stored patterns for this pair.
func (e *Engine) Patterns(ctx context.Context) ([]types.DiscoveredPattern, error) {
	return e.store.ListPatterns(ctx, e.agentID, e.userID)
}

// EngineStats summarizes one engine.
type EngineStats struct {
	AgentID    int64  `json:"agent_id"`
	UserID     string `json:"user_id"`
	WindowSize int    `json:"window_size"`
	Analyzed   int64  `json:"analyzed"`
	Discovered int64  `json:"discovered"`
}

// GetStats returns read-only engine statistics.
func (e *Engine) GetStats() EngineStats {
	e.mu.Lock()
	window := len(e.window)
	e.mu.Unlock()
	e.statsMu.Lock()
	analyzed, discovered := e.analyzed, e.discovered
	e.statsMu.Unlock()
	return EngineStats{
		AgentID:    e.agentID,
		UserID:     e.userID,
		WindowSize: window,
		Analyzed:   analyzed,
		Discovered: discovered,
	}
}
