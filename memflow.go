// Package memflow is a self-tuning, isolated, multi-tier memory substrate
// for AI agents. Every store and retrieve passes an isolation layer keyed
// by (agentID, userID), episodes are classified and scored on write,
// behavioral patterns are mined in the background and fed back into
// retrieval ranking, and an evolution engine periodically re-tunes the
// substrate's own strategy parameters.
package memflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/episodic"
	"github.com/BaSui01/memflow/evolution"
	"github.com/BaSui01/memflow/internal/cache"
	"github.com/BaSui01/memflow/internal/database"
	"github.com/BaSui01/memflow/internal/events"
	"github.com/BaSui01/memflow/internal/logging"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/isolation"
	"github.com/BaSui01/memflow/pattern"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/types"
)

// MemorySystem is the substrate façade handed to the orchestration layer.
type MemorySystem struct {
	cfg    *config.Config
	logger *zap.Logger

	pool      *database.PoolManager
	tierStore *store.TierStore
	cacheMgr  *cache.Manager
	working   *store.WorkingStore

	bus       *events.Bus
	collector *metrics.Collector
	isolation *isolation.Layer
	episodes  *episodic.Manager
	patterns  *pattern.Service
	evolver   *evolution.Service

	// Retrieval accounting feeding the evolution fitness snapshot.
	retrievalMu      sync.Mutex
	retrievals       int64
	retrievalHits    int64
	retrievalSeconds float64

	pairMu sync.Mutex
	pairs  map[string]struct{}

	now func() time.Time
}

// SystemOption configures a MemorySystem.
type SystemOption func(*systemOptions)

type systemOptions struct {
	logger     *zap.Logger
	db         *gorm.DB
	registerer prometheus.Registerer
	clock      func() time.Time
}

// WithLogger replaces the configuration-built logger.
func WithLogger(logger *zap.Logger) SystemOption {
	return func(o *systemOptions) { o.logger = logger }
}

// WithGormDB injects an open database handle, skipping DSN-based setup.
// Tests use this with in-memory sqlite.
func WithGormDB(db *gorm.DB) SystemOption {
	return func(o *systemOptions) { o.db = db }
}

// WithRegisterer sets the Prometheus registerer. Tests pass a fresh
// registry so repeated construction does not collide.
func WithRegisterer(reg prometheus.Registerer) SystemOption {
	return func(o *systemOptions) { o.registerer = reg }
}

// WithSystemClock injects a clock, used by tests.
func WithSystemClock(now func() time.Time) SystemOption {
	return func(o *systemOptions) { o.clock = now }
}

// New assembles the substrate. The Redis-backed working tier is optional:
// when no address is configured, or the initial ping fails, the system
// runs with the durable tiers only and logs the degradation.
func New(cfg *config.Config, opts ...SystemOption) (*MemorySystem, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	var o systemOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = logging.New(cfg.Log)
	}
	clock := o.clock
	if clock == nil {
		clock = time.Now
	}

	dbCfg := database.Config{
		Driver:              cfg.Database.Driver,
		DSN:                 cfg.Database.DSN,
		MaxIdleConns:        cfg.Database.MaxIdleConns,
		MaxOpenConns:        cfg.Database.MaxOpenConns,
		ConnMaxLifetime:     cfg.Database.ConnMaxLifetime,
		HealthCheckInterval: cfg.Database.HealthCheckInterval,
	}
	db := o.db
	if db == nil {
		var err error
		db, err = database.Open(dbCfg)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
	}
	pool, err := database.NewPoolManager(db, dbCfg, logger)
	if err != nil {
		return nil, fmt.Errorf("setup connection pool: %w", err)
	}

	tierStore, err := store.NewTierStore(db, logger, store.WithClock(clock))
	if err != nil {
		return nil, fmt.Errorf("setup tier store: %w", err)
	}

	var cacheMgr *cache.Manager
	var working *store.WorkingStore
	if cfg.Redis.Addr != "" {
		cacheMgr, err = cache.NewManager(cache.Config{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DefaultTTL:   cfg.Redis.DefaultTTL,
			PoolSize:     cfg.Redis.PoolSize,
			MinIdleConns: cfg.Redis.MinIdleConns,
		}, logger)
		if err != nil {
			logger.Warn("redis unavailable, working tier disabled", zap.Error(err))
			cacheMgr = nil
		} else {
			working = store.NewWorkingStore(cacheMgr, cfg.Redis.DefaultTTL, logger)
		}
	}

	reg := o.registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	collector := metrics.NewCollector(cfg.Metrics.Namespace, reg, logger)
	bus := events.NewBus(events.DefaultConfig())

	var workingCounter isolation.WorkingCounter
	if working != nil {
		workingCounter = working
	}
	scanner := isolation.NewContaminationScanner(tierStore, workingCounter, collector, logger)
	layer := isolation.NewLayer(cfg.Isolation, tierStore, tierStore, scanner, collector, logger,
		isolation.WithClock(clock))

	patterns := pattern.NewService(cfg.Pattern, tierStore, bus, collector, logger)
	episodes := episodic.NewManager(cfg.Episodic, tierStore, bus, collector, logger,
		episodic.WithClock(clock),
		episodic.WithPatternSink(patterns))

	m := &MemorySystem{
		cfg:       cfg,
		logger:    logger.With(zap.String("component", "memory_system")),
		pool:      pool,
		tierStore: tierStore,
		cacheMgr:  cacheMgr,
		working:   working,
		bus:       bus,
		collector: collector,
		isolation: layer,
		episodes:  episodes,
		patterns:  patterns,
		pairs:     make(map[string]struct{}),
		now:       clock,
	}
	m.evolver = evolution.NewService(cfg.Evolution, tierStore, m, bus, collector, logger)
	return m, nil
}

// Start launches the background loops: contamination scans, pattern
// refresh, and scheduled evolution.
func (m *MemorySystem) Start() {
	m.isolation.Start()
	m.patterns.Start()
	m.evolver.Start()
	m.logger.Info("memory substrate started")
}

// Stop terminates background work and closes connections.
func (m *MemorySystem) Stop() {
	m.evolver.Stop()
	m.patterns.Stop()
	m.episodes.Stop()
	m.isolation.Stop()
	m.bus.Close()
	if m.cacheMgr != nil {
		if err := m.cacheMgr.Close(); err != nil {
			m.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if err := m.pool.Close(); err != nil {
		m.logger.Warn("failed to close database pool", zap.Error(err))
	}
	m.logger.Info("memory substrate stopped")
}

// Store writes one episode through the isolation boundary. Denials and
// storage failures come back in the result, never as a hard error.
func (m *MemorySystem) Store(ctx context.Context, content map[string]any, mctx *types.MemoryContext, metadata map[string]any) types.StoreResult {
	if mctx == nil || mctx.UserID == "" {
		return types.StoreResult{Stored: false, Reason: "missing memory context"}
	}

	ic := m.isolation.CreateContext(mctx.AgentID, mctx.UserID, mctx.ThreadID)
	if d := m.isolation.ValidateAccess(ctx, ic.ID, "store", "", metadata); !d.Allowed {
		return types.StoreResult{Stored: false, Reason: d.Reason}
	}

	m.ensurePair(mctx.AgentID, mctx.UserID)
	return m.episodes.Store(ctx, content, mctx, metadata)
}

// Retrieve lists episodes for the context, ranked and then enhanced with
// the pair's discovered patterns. Denials and failures degrade to an
// empty result.
func (m *MemorySystem) Retrieve(ctx context.Context, mctx *types.MemoryContext, opts types.RetrieveOptions) []types.ScoredEpisode {
	if mctx == nil || mctx.UserID == "" {
		return nil
	}

	ic := m.isolation.CreateContext(mctx.AgentID, mctx.UserID, mctx.ThreadID)
	if d := m.isolation.ValidateAccess(ctx, ic.ID, "retrieve", "", nil); !d.Allowed {
		m.logger.Debug("retrieve denied", zap.String("reason", d.Reason))
		return nil
	}

	start := m.now()
	results := m.episodes.Retrieve(ctx, mctx, opts)
	m.recordRetrieval(len(results) > 0, m.now().Sub(start))

	return m.patterns.Enhance(ctx, mctx.AgentID, mctx.UserID, results)
}

// Search lists episodes whose content contains the substring,
// case-insensitive, newest first. Denials and failures degrade to an
// empty result.
func (m *MemorySystem) Search(ctx context.Context, mctx *types.MemoryContext, query string, limit int) []types.Episode {
	if mctx == nil || mctx.UserID == "" || query == "" {
		return nil
	}

	ic := m.isolation.CreateContext(mctx.AgentID, mctx.UserID, mctx.ThreadID)
	if d := m.isolation.ValidateAccess(ctx, ic.ID, "retrieve", "", nil); !d.Allowed {
		m.logger.Debug("search denied", zap.String("reason", d.Reason))
		return nil
	}

	eps, err := m.tierStore.SearchContent(ctx, mctx.AgentID, mctx.UserID, query, limit)
	if err != nil {
		m.logger.Warn("content search failed", zap.String("query", query), zap.Error(err))
		return nil
	}
	return eps
}

// PutWorking stores a short-lived working-memory item. Returns false with
// a reason when denied or when the working tier is unavailable.
func (m *MemorySystem) PutWorking(ctx context.Context, mctx *types.MemoryContext, key string, value map[string]any) (bool, string) {
	if m.working == nil {
		return false, "working tier unavailable"
	}
	ic := m.isolation.CreateContext(mctx.AgentID, mctx.UserID, mctx.ThreadID)
	if d := m.isolation.ValidateAccess(ctx, ic.ID, "write", "", nil); !d.Allowed {
		return false, d.Reason
	}
	item := &store.WorkingItem{
		AgentID:   mctx.AgentID,
		UserID:    mctx.UserID,
		SessionID: mctx.SessionID,
		Key:       key,
		Value:     value,
		CreatedAt: m.now(),
	}
	if err := m.working.Put(ctx, item); err != nil {
		m.logger.Warn("working put failed", zap.String("key", key), zap.Error(err))
		return false, err.Error()
	}
	return true, ""
}

// GetWorking loads a working-memory item, nil when absent or denied.
func (m *MemorySystem) GetWorking(ctx context.Context, mctx *types.MemoryContext, key string) *store.WorkingItem {
	if m.working == nil {
		return nil
	}
	ic := m.isolation.CreateContext(mctx.AgentID, mctx.UserID, mctx.ThreadID)
	if d := m.isolation.ValidateAccess(ctx, ic.ID, "read", "", nil); !d.Allowed {
		return nil
	}
	item, err := m.working.Get(ctx, mctx.AgentID, mctx.UserID, key)
	if err != nil {
		m.logger.Warn("working get failed", zap.String("key", key), zap.Error(err))
		return nil
	}
	return item
}

// ValidateAccess exposes the isolation check for cross-context probes.
func (m *MemorySystem) ValidateAccess(ctx context.Context, contextID, operation, targetContextID string, metadata map[string]any) types.AccessDecision {
	return m.isolation.ValidateAccess(ctx, contextID, operation, targetContextID, metadata)
}

// CreateContext registers (or returns) the isolation context for the
// identity triple.
func (m *MemorySystem) CreateContext(agentID int64, userID, threadID string) *types.IsolationContext {
	return m.isolation.CreateContext(agentID, userID, threadID)
}

// ShareContext grants or denies operations from the caller's context to a
// target context for an optional duration.
func (m *MemorySystem) ShareContext(ctx context.Context, mctx *types.MemoryContext, toContextID string, operations []string, allow bool, ttl time.Duration) (*types.SharingRule, error) {
	ic := m.isolation.CreateContext(mctx.AgentID, mctx.UserID, mctx.ThreadID)
	if d := m.isolation.ValidateAccess(ctx, ic.ID, "share", toContextID, nil); !d.Allowed {
		return nil, types.NewError(types.ErrInvalidInput, d.Reason)
	}
	return m.isolation.CreateSharingRule(ctx, ic.ID, toContextID, operations, allow, ttl)
}

// CheckContamination scans every tier of a context for foreign records.
func (m *MemorySystem) CheckContamination(ctx context.Context, contextID string) (*isolation.ContaminationReport, error) {
	return m.isolation.CheckCrossContamination(ctx, contextID)
}

// TriggerEvolution runs one evolution cycle for a pair immediately.
func (m *MemorySystem) TriggerEvolution(ctx context.Context, agentID int64, userID string) (string, error) {
	return m.evolver.TriggerCycle(ctx, agentID, userID, false)
}

// Strategy returns the live strategy object for a pair.
func (m *MemorySystem) Strategy(agentID int64, userID, name string) *types.Strategy {
	return m.evolver.EngineFor(agentID, userID).Strategy(name)
}

// Patterns lists the stored discovered patterns for a pair.
func (m *MemorySystem) Patterns(ctx context.Context, agentID int64, userID string) ([]types.DiscoveredPattern, error) {
	return m.patterns.Patterns(ctx, agentID, userID)
}

// AuditTrail returns recent access-control decisions, newest first.
func (m *MemorySystem) AuditTrail(limit int) []types.AuditEntry {
	return m.isolation.AuditTrail(limit)
}

// Events exposes the substrate notification stream: promotions, pattern
// discoveries, completed evolution cycles.
func (m *MemorySystem) Events() <-chan events.Event {
	return m.bus.Subscribe()
}

// Snapshot aggregates observed performance for the evolution engine.
func (m *MemorySystem) Snapshot(ctx context.Context, agentID int64, userID string) (evolution.PerformanceSnapshot, error) {
	usage, err := m.tierStore.UsageByTier(ctx, agentID, userID)
	if err != nil {
		return evolution.PerformanceSnapshot{}, err
	}

	var total int64
	for _, u := range usage {
		total += u.Records
	}
	shares := make(map[types.MemoryCategory]float64, len(usage))
	if total > 0 {
		for tier, u := range usage {
			shares[tier] = float64(u.Records) / float64(total)
		}
	}

	m.retrievalMu.Lock()
	retrievals, hits, seconds := m.retrievals, m.retrievalHits, m.retrievalSeconds
	m.retrievalMu.Unlock()

	snap := evolution.PerformanceSnapshot{
		TierUsageShare: shares,
		PromotionRate:  usage[types.MemoryEpisodic].PromotionRate,
		AvgImportance:  usage[types.MemoryEpisodic].AvgImportance,
	}
	if retrievals > 0 {
		snap.AvgRetrievalSeconds = seconds / float64(retrievals)
		snap.HitRate = float64(hits) / float64(retrievals)
	}

	es := m.patterns.EngineFor(agentID, userID).GetStats()
	if es.Analyzed > 0 {
		snap.PatternYield = float64(es.Discovered) / float64(es.Analyzed)
	}
	return snap, nil
}

// SystemStats aggregates per-component statistics, read-only.
type SystemStats struct {
	Isolation isolation.LayerStats   `json:"isolation"`
	Episodic  episodic.ManagerStats  `json:"episodic"`
	Patterns  pattern.ServiceStats   `json:"patterns"`
	Evolution evolution.ServiceStats `json:"evolution"`
	Store     store.Stats            `json:"store"`
	Events    events.Stats           `json:"events"`
}

// GetStats snapshots every component. Store counting errors degrade to
// zeroed store stats.
func (m *MemorySystem) GetStats(ctx context.Context) SystemStats {
	st := SystemStats{
		Isolation: m.isolation.GetStats(),
		Episodic:  m.episodes.GetStats(),
		Patterns:  m.patterns.GetStats(),
		Evolution: m.evolver.GetStats(),
		Events:    m.bus.GetStats(),
	}
	storeStats, err := m.tierStore.GetStats(ctx)
	if err != nil {
		m.logger.Warn("store stats failed", zap.Error(err))
	} else {
		st.Store = storeStats
	}
	return st
}

func (m *MemorySystem) recordRetrieval(hit bool, d time.Duration) {
	m.retrievalMu.Lock()
	m.retrievals++
	if hit {
		m.retrievalHits++
	}
	m.retrievalSeconds += d.Seconds()
	m.retrievalMu.Unlock()
}

// ensurePair launches the per-pair consolidation loop exactly once.
func (m *MemorySystem) ensurePair(agentID int64, userID string) {
	key := fmt.Sprintf("%d:%s", agentID, userID)
	m.pairMu.Lock()
	defer m.pairMu.Unlock()
	if _, ok := m.pairs[key]; ok {
		return
	}
	m.pairs[key] = struct{}{}
	m.episodes.StartConsolidation(agentID, userID)
}
