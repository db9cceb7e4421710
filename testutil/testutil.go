// Package testutil provides shared fixtures for substrate tests: an
// in-memory SQL store, an embedded Redis, and episode builders.
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/internal/cache"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/types"
)

var dbSeq atomic.Int64

// OpenDB opens a fresh in-memory sqlite database, one per call so
// parallel tests never share state.
func OpenDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:memflow_test_%d?mode=memory&cache=shared", dbSeq.Add(1))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	return db
}

// OpenTierStore opens an in-memory store with migrated tables.
func OpenTierStore(t *testing.T, opts ...store.Option) *store.TierStore {
	t.Helper()
	s, err := store.NewTierStore(OpenDB(t), zap.NewNop(), opts...)
	require.NoError(t, err)
	return s
}

// OpenRedis starts an embedded Redis and returns a cache manager bound
// to it. Both are torn down with the test.
func OpenRedis(t *testing.T) (*miniredis.Miniredis, *cache.Manager) {
	t.Helper()
	mr := miniredis.RunT(t)
	mgr, err := cache.NewManager(cache.Config{
		Addr:       mr.Addr(),
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = mgr.Close() })
	return mr, mgr
}

// TestConfig returns a config suitable for tests: sqlite driver, no
// Redis, short intervals, background loops disabled.
func TestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Database.Driver = "sqlite"
	cfg.Database.DSN = "file::memory:"
	cfg.Database.HealthCheckInterval = 0
	cfg.Redis.Addr = ""
	cfg.Isolation.ScanInterval = 0
	cfg.Isolation.ContextIdleTTL = 0
	cfg.Episodic.ConsolidationInterval = 0
	cfg.Pattern.DiscoveryInterval = 0
	cfg.Pattern.EngineIdleTTL = 0
	cfg.Pattern.AnalysisRatePerSecond = 1000
	cfg.Pattern.AnalysisBurst = 1000
	cfg.Evolution.Interval = 0
	cfg.Evolution.Seed = 1
	cfg.Metrics.Enabled = false
	return cfg
}

// EpisodeBuilder assembles episodes for fixtures.
type EpisodeBuilder struct {
	ep types.Episode
}

// NewEpisode starts a builder with sane defaults.
func NewEpisode(agentID int64, userID string) *EpisodeBuilder {
	return &EpisodeBuilder{ep: types.Episode{
		AgentID:   agentID,
		UserID:    userID,
		SessionID: "session-1",
		Type:      types.EpisodeConversation,
		Content:   map[string]any{"query": "hello", "response": "hi"},
		Context:   map[string]any{},
		CreatedAt: time.Now(),
	}}
}

func (b *EpisodeBuilder) Type(t types.EpisodeType) *EpisodeBuilder {
	b.ep.Type = t
	return b
}

func (b *EpisodeBuilder) Session(id string) *EpisodeBuilder {
	b.ep.SessionID = id
	return b
}

func (b *EpisodeBuilder) Importance(v float64) *EpisodeBuilder {
	b.ep.Importance = v
	return b
}

func (b *EpisodeBuilder) Satisfaction(v float64) *EpisodeBuilder {
	b.ep.UserSatisfaction = &v
	return b
}

func (b *EpisodeBuilder) At(ts time.Time) *EpisodeBuilder {
	b.ep.CreatedAt = ts
	return b
}

func (b *EpisodeBuilder) Content(c map[string]any) *EpisodeBuilder {
	b.ep.Content = c
	return b
}

func (b *EpisodeBuilder) ContextValue(key string, v any) *EpisodeBuilder {
	b.ep.Context[key] = v
	return b
}

func (b *EpisodeBuilder) Build() types.Episode {
	return b.ep
}
