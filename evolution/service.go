package evolution

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/internal/events"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/internal/registry"
)

// SnapshotSource aggregates observed performance for one instance.
type SnapshotSource interface {
	Snapshot(ctx context.Context, agentID int64, userID string) (PerformanceSnapshot, error)
}

// Service manages one evolution Engine per (agent, user) instance and
// drives the scheduled cycle.
type Service struct {
	cfg       config.EvolutionConfig
	engines   *registry.Registry[*Engine]
	history   HistoryStore
	snapshots SnapshotSource
	bus       *events.Bus
	metrics   *metrics.Collector
	logger    *zap.Logger

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewService builds the evolution service.
func NewService(cfg config.EvolutionConfig, history HistoryStore, snapshots SnapshotSource, bus *events.Bus, collector *metrics.Collector, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		cfg:       cfg,
		engines:   registry.New[*Engine](0),
		history:   history,
		snapshots: snapshots,
		bus:       bus,
		metrics:   collector,
		logger:    logger.With(zap.String("component", "evolution_service")),
		stopCh:    make(chan struct{}),
	}
}

// EngineFor returns the engine for an instance, creating it on first use.
func (s *Service) EngineFor(agentID int64, userID string) *Engine {
	key := fmt.Sprintf("%d:%s", agentID, userID)
	return s.engines.GetOrCreate(key, func() *Engine {
		return NewEngine(agentID, userID, s.cfg, s.history, s.bus, s.metrics, s.logger)
	})
}

// TriggerCycle runs one evolution cycle for an instance immediately.
// Returns the recorded reason, or "" when no evolution applied.
func (s *Service) TriggerCycle(ctx context.Context, agentID int64, userID string, scheduled bool) (string, error) {
	snap, err := s.snapshots.Snapshot(ctx, agentID, userID)
	if err != nil {
		return "", fmt.Errorf("collect performance snapshot: %w", err)
	}
	return s.EngineFor(agentID, userID).Cycle(ctx, snap, scheduled), nil
}

// Start launches the scheduled evolution loop.
func (s *Service) Start() {
	if s.cfg.Interval <= 0 {
		return
	}
	s.wg.Add(1)
	go s.loop()
}

// Stop terminates the scheduled loop.
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Service) loop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}

		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		s.engines.Range(func(_ string, e *Engine) bool {
			snap, err := s.snapshots.Snapshot(ctx, e.agentID, e.userID)
			if err != nil {
				s.logger.Warn("snapshot collection failed",
					zap.Int64("agent_id", e.agentID),
					zap.String("user_id", e.userID),
					zap.Error(err))
				return true
			}
			if reason := e.Cycle(ctx, snap, true); reason != "" {
				s.logger.Info("evolution cycle applied",
					zap.Int64("agent_id", e.agentID),
					zap.String("user_id", e.userID),
					zap.String("reason", reason))
			}
			return true
		})
		cancel()
	}
}

// ServiceStats summarizes the evolution service.
type ServiceStats struct {
	ActiveEngines int           `json:"active_engines"`
	Interval      time.Duration `json:"interval"`
	Engines       []EngineStats `json:"engines"`
}

// GetStats returns read-only service statistics.
func (s *Service) GetStats() ServiceStats {
	st := ServiceStats{
		ActiveEngines: s.engines.Len(),
		Interval:      s.cfg.Interval,
	}
	s.engines.Range(func(_ string, e *Engine) bool {
		st.Engines = append(st.Engines, e.GetStats())
		return true
	})
	return st
}
