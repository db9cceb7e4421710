package pattern

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/internal/events"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/internal/registry"
	"github.com/BaSui01/memflow/types"
)

// Service manages one Engine per (agent, user) pair, created on demand
// and evicted when idle. It throttles background analysis so storage
// bursts cannot saturate the process.
type Service struct {
	cfg     config.PatternConfig
	store   PatternStore
	engines *registry.Registry[*Engine]
	limiter *rate.Limiter
	bus     *events.Bus
	metrics *metrics.Collector
	logger  *zap.Logger
	now     func() time.Time

	wg     sync.WaitGroup
	stopCh chan struct{}
}

// NewService builds the pattern discovery service.
func NewService(cfg config.PatternConfig, store PatternStore, bus *events.Bus, collector *metrics.Collector, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	burst := cfg.AnalysisBurst
	if burst < 1 {
		burst = 1
	}
	return &Service{
		cfg:     cfg,
		store:   store,
		engines: registry.New[*Engine](cfg.EngineIdleTTL),
		limiter: rate.NewLimiter(rate.Limit(cfg.AnalysisRatePerSecond), burst),
		bus:     bus,
		metrics: collector,
		logger:  logger.With(zap.String("component", "pattern_service")),
		now:     time.Now,
		stopCh:  make(chan struct{}),
	}
}

func pairKey(agentID int64, userID string) string {
	return fmt.Sprintf("%d:%s", agentID, userID)
}

// EngineFor returns the engine for a pair, creating it on first use.
func (s *Service) EngineFor(agentID int64, userID string) *Engine {
	return s.engines.GetOrCreate(pairKey(agentID, userID), func() *Engine {
		return NewEngine(agentID, userID, s.cfg, s.store, s.bus, s.metrics, s.logger)
	})
}

// OfferEpisode feeds one stored episode into its pair's engine. Called
// from the episodic manager's background path; analysis is skipped, not
// queued, when the rate limit is exhausted.
func (s *Service) OfferEpisode(ep types.Episode) {
	if !s.limiter.Allow() {
		s.logger.Debug("analysis throttled",
			zap.Int64("agent_id", ep.AgentID),
			zap.String("user_id", ep.UserID))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.EngineFor(ep.AgentID, ep.UserID).Observe(ctx, ep)
}

// Enhance applies the pair's stored patterns to a retrieved result set.
// Pattern load failures degrade to the unenhanced results.
func (s *Service) Enhance(ctx context.Context, agentID int64, userID string, results []types.ScoredEpisode) []types.ScoredEpisode {
	patterns, err := s.store.ListPatterns(ctx, agentID, userID)
	if err != nil {
		s.logger.Warn("failed to load patterns for enhancement",
			zap.Int64("agent_id", agentID),
			zap.String("user_id", userID),
			zap.Error(err))
		return results
	}
	return EnhanceRetrieval(results, patterns, s.now())
}

// Patterns lists stored patterns for a pair.
func (s *Service) Patterns(ctx context.Context, agentID int64, userID string) ([]types.DiscoveredPattern, error) {
	return s.store.ListPatterns(ctx, agentID, userID)
}

// Start launches the periodic confidence-refresh cycle and engine
// eviction.
func (s *Service) Start() {
	if s.cfg.DiscoveryInterval > 0 {
		s.wg.Add(1)
		go s.refreshLoop()
	}
	if s.cfg.EngineIdleTTL > 0 {
		s.wg.Add(1)
		go s.evictLoop()
	}
}

// Stop terminates the background loops.
func (s *Service) Stop() {
	close(s.stopCh)
	s.wg.Wait()
}

func (s *Service) refreshLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.DiscoveryInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		s.engines.Range(func(_ string, e *Engine) bool {
			e.Refresh(ctx)
			return true
		})
		cancel()
	}
}

func (s *Service) evictLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.cfg.EngineIdleTTL / 2)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
		}
		if evicted := s.engines.EvictIdle(); len(evicted) > 0 {
			s.logger.Debug("evicted idle pattern engines", zap.Int("count", len(evicted)))
		}
	}
}

// ServiceStats summarizes the pattern service.
type ServiceStats struct {
	ActiveEngines       int           `json:"active_engines"`
	ConfidenceThreshold float64       `json:"confidence_threshold"`
	MinSupport          int           `json:"min_support"`
	MaxPatterns         int           `json:"max_patterns"`
	Engines             []EngineStats `json:"engines"`
}

// GetStats returns read-only service statistics.
func (s *Service) GetStats() ServiceStats {
	st := ServiceStats{
		ActiveEngines:       s.engines.Len(),
		ConfidenceThreshold: s.cfg.ConfidenceThreshold,
		MinSupport:          s.cfg.MinSupport,
		MaxPatterns:         s.cfg.MaxPatterns,
	}
	s.engines.Range(func(_ string, e *Engine) bool {
		st.Engines = append(st.Engines, e.GetStats())
		return true
	})
	return st
}
