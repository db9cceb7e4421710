package episodic

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/internal/events"
	"github.com/BaSui01/memflow/internal/metrics"
	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/types"
)

// Session-affinity bonuses for retrieval ranking.
const (
	sameSessionBonus  = 1.0
	otherSessionBonus = 0.8
)

// Longest string slice sanitizeContext keeps verbatim. Flag-style lists
// such as tiers_used stay well under this.
const sanitizeMaxSliceLen = 16

// Promotion criteria, first match wins.
const (
	criterionSuccess   = "success_satisfaction"
	criterionLearning  = "learning_satisfaction"
	criterionDiscovery = "discovery"
	criterionSimilar   = "similar_episodes"
)

// PatternSink receives stored episodes for background pattern analysis.
type PatternSink interface {
	OfferEpisode(ep types.Episode)
}

// Manager classifies, scores, persists, retrieves, and promotes episodes.
// Access control happens before the manager is reached; it trusts the
// (AgentID, UserID) in the context it is handed.
type Manager struct {
	cfg        config.EpisodicConfig
	store      *store.TierStore
	classifier *Classifier
	scorer     *Scorer
	patterns   PatternSink
	bus        *events.Bus
	metrics    *metrics.Collector
	logger     *zap.Logger
	now        func() time.Time

	wg     sync.WaitGroup
	stopCh chan struct{}

	statsMu  sync.Mutex
	stored   int64
	failed   int64
	promoted int64
}

// Option configures a Manager.
type Option func(*Manager)

// WithClock injects a clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) { m.now = now }
}

// WithPatternSink attaches the pattern engine fed on every store.
func WithPatternSink(sink PatternSink) Option {
	return func(m *Manager) { m.patterns = sink }
}

// NewManager wires the episodic tier over the durable store.
func NewManager(cfg config.EpisodicConfig, tierStore *store.TierStore, bus *events.Bus, collector *metrics.Collector, logger *zap.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &Manager{
		cfg:        cfg,
		store:      tierStore,
		classifier: NewClassifier(DefaultDetectors()),
		scorer:     NewScorer(cfg),
		bus:        bus,
		metrics:    collector,
		logger:     logger.With(zap.String("component", "episodic_manager")),
		now:        time.Now,
		stopCh:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Store classifies, scores, and persists one episode. Storage failures
// come back as Stored=false with the error message, never as a hard error.
// Promotion evaluation and pattern analysis run in the background and
// cannot fail the call.
func (m *Manager) Store(ctx context.Context, content map[string]any, mctx *types.MemoryContext, metadata map[string]any) types.StoreResult {
	start := m.now()
	if mctx == nil || mctx.UserID == "" {
		return types.StoreResult{Stored: false, Reason: "missing memory context"}
	}
	if len(content) == 0 {
		return types.StoreResult{Stored: false, Reason: "empty content"}
	}

	episodeType := m.classifier.Classify(content, mctx, metadata)
	satisfaction := InferSatisfaction(mctx, metadata)
	importance := m.scorer.Score(episodeType, content, mctx, metadata, satisfaction, start)

	ep := &types.Episode{
		AgentID:          mctx.AgentID,
		UserID:           mctx.UserID,
		SessionID:        mctx.SessionID,
		Type:             episodeType,
		Content:          content,
		Context:          m.sanitizeContext(mctx, metadata),
		Importance:       importance,
		UserSatisfaction: satisfaction,
		CreatedAt:        start,
	}

	if err := m.store.SaveEpisode(ctx, ep); err != nil {
		m.logger.Error("failed to persist episode",
			zap.Int64("agent_id", mctx.AgentID),
			zap.String("user_id", mctx.UserID),
			zap.Error(err))
		m.countFailed()
		if m.metrics != nil {
			m.metrics.ObserveStore(string(types.MemoryEpisodic), "error", m.now().Sub(start).Seconds())
		}
		return types.StoreResult{Stored: false, Error: err.Error()}
	}

	m.countStored()
	if m.metrics != nil {
		m.metrics.ObserveStore(string(types.MemoryEpisodic), "ok", m.now().Sub(start).Seconds())
		m.metrics.ObserveEpisodeStored(string(episodeType))
	}

	if importance >= m.cfg.PromotionThreshold {
		m.spawn(func() { m.evaluatePromotion(*ep) })
	}
	if m.patterns != nil {
		stored := *ep
		m.spawn(func() { m.patterns.OfferEpisode(stored) })
	}

	return types.StoreResult{
		Stored:           true,
		ID:               ep.ID,
		Type:             episodeType,
		Importance:       importance,
		UserSatisfaction: satisfaction,
	}
}

// Retrieve lists episodes for the context ranked by importance plus a
// session-affinity bonus, most relevant first. Storage failures degrade
// to an empty result.
func (m *Manager) Retrieve(ctx context.Context, mctx *types.MemoryContext, opts types.RetrieveOptions) []types.ScoredEpisode {
	start := m.now()
	if mctx == nil || mctx.UserID == "" {
		return nil
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = m.cfg.DefaultRetrieveLimit
	}
	// Ranking happens in the query so the limit cuts the weakest
	// matches, never merely the oldest.
	eps, err := m.store.QueryEpisodes(ctx, store.EpisodeQuery{
		AgentID:         mctx.AgentID,
		UserID:          mctx.UserID,
		SessionID:       opts.SessionID,
		Type:            opts.Type,
		MinImportance:   opts.MinImportance,
		Since:           opts.Since,
		Until:           opts.Until,
		IncludePromoted: opts.IncludePromoted,
		Limit:           limit,
		Rank: &store.RelevanceRank{
			SessionID:  mctx.SessionID,
			SameBonus:  sameSessionBonus,
			OtherBonus: otherSessionBonus,
		},
	})
	if err != nil {
		m.logger.Error("failed to retrieve episodes",
			zap.Int64("agent_id", mctx.AgentID),
			zap.String("user_id", mctx.UserID),
			zap.Error(err))
		if m.metrics != nil {
			m.metrics.ObserveRetrieve(string(types.MemoryEpisodic), "error", m.now().Sub(start).Seconds())
		}
		return nil
	}

	scored := make([]types.ScoredEpisode, 0, len(eps))
	for _, ep := range eps {
		bonus := otherSessionBonus
		if mctx.SessionID != "" && ep.SessionID == mctx.SessionID {
			bonus = sameSessionBonus
		}
		scored = append(scored, types.ScoredEpisode{
			Episode: ep,
			Score:   ep.Importance + bonus,
		})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Episode.CreatedAt.After(scored[j].Episode.CreatedAt)
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}

	if m.metrics != nil {
		m.metrics.ObserveRetrieve(string(types.MemoryEpisodic), "ok", m.now().Sub(start).Seconds())
	}
	return scored
}

// evaluatePromotion applies the promotion criteria in order and flips the
// semantic flag on the first match. Runs in the background; failures are
// logged only.
func (m *Manager) evaluatePromotion(ep types.Episode) {
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("promotion evaluation panicked", zap.Any("panic", r))
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	criterion := ""
	switch {
	case ep.Type == types.EpisodeSuccess && ep.UserSatisfaction != nil && *ep.UserSatisfaction > 0.7:
		criterion = criterionSuccess
	case ep.Type == types.EpisodeLearning && ep.UserSatisfaction != nil && *ep.UserSatisfaction > 0.6:
		criterion = criterionLearning
	case ep.Type == types.EpisodeDiscovery:
		criterion = criterionDiscovery
	default:
		since := m.now().Add(-m.cfg.SimilarWindow)
		n, err := m.store.CountSimilar(ctx, &ep, m.cfg.SimilarEpsilon, since)
		if err != nil {
			m.logger.Warn("similarity check failed", zap.String("episode_id", ep.ID), zap.Error(err))
			return
		}
		if n < int64(m.cfg.SimilarMinCount) {
			return
		}
		criterion = criterionSimilar
	}

	m.promote(ctx, ep, criterion)
}

func (m *Manager) promote(ctx context.Context, ep types.Episode, criterion string) {
	flipped, err := m.store.MarkPromoted(ctx, ep.ID)
	if err != nil {
		m.logger.Warn("promotion failed", zap.String("episode_id", ep.ID), zap.Error(err))
		return
	}
	if !flipped {
		return
	}

	m.statsMu.Lock()
	m.promoted++
	m.statsMu.Unlock()

	if m.metrics != nil {
		m.metrics.ObservePromotion(criterion)
	}
	if m.bus != nil {
		m.bus.Publish(events.Event{
			Type:    events.EventEpisodePromoted,
			AgentID: ep.AgentID,
			UserID:  ep.UserID,
			Payload: map[string]any{
				"episode_id":   ep.ID,
				"episode_type": string(ep.Type),
				"criterion":    criterion,
				"importance":   ep.Importance,
			},
			Timestamp: m.now(),
		})
	}
	m.logger.Info("episode promoted to semantic memory",
		zap.String("episode_id", ep.ID),
		zap.String("criterion", criterion),
		zap.Float64("importance", ep.Importance))
}

// sanitizeContext builds the persisted context: owner identity plus
// metadata with binary blobs stripped and long strings truncated.
func (m *Manager) sanitizeContext(mctx *types.MemoryContext, metadata map[string]any) map[string]any {
	out := map[string]any{
		"session_id": mctx.SessionID,
	}
	if mctx.Domain != "" {
		out["domain"] = mctx.Domain
	}
	if mctx.UserInitiated {
		out["user_initiated"] = true
	}
	if mctx.TaskCompleted {
		out["task_completed"] = true
	}
	if mctx.SessionStart {
		out["session_start"] = true
	}
	if mctx.HasScreenshot {
		// Record that a screenshot existed; the blob itself never
		// reaches the store.
		out["had_screenshot"] = true
	}

	maxLen := m.cfg.SanitizeMaxStringLen
	for k, v := range metadata {
		switch t := v.(type) {
		case []byte:
			continue
		case string:
			if len(t) > maxLen {
				t = t[:maxLen]
			}
			out[k] = t
		case bool, int, int64, float64, time.Time:
			out[k] = v
		case []string:
			out[k] = truncateStrings(t, maxLen)
		default:
			// Small all-string slices survive so tier co-occurrence
			// analysis sees them; anything else is summarized.
			if ss, ok := asStringSlice(v); ok {
				out[k] = truncateStrings(ss, maxLen)
			} else {
				out[k] = fmt.Sprintf("%T", v)
			}
		}
	}
	for k, v := range mctx.Extra {
		if s, ok := v.(string); ok {
			if len(s) > maxLen {
				s = s[:maxLen]
			}
			out[k] = s
		}
	}
	return out
}

func asStringSlice(v any) ([]string, bool) {
	items, ok := v.([]any)
	if !ok {
		return nil, false
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, false
		}
		out = append(out, s)
	}
	return out, true
}

func truncateStrings(vals []string, maxLen int) []string {
	if len(vals) > sanitizeMaxSliceLen {
		vals = vals[:sanitizeMaxSliceLen]
	}
	out := make([]string, 0, len(vals))
	for _, s := range vals {
		if len(s) > maxLen {
			s = s[:maxLen]
		}
		out = append(out, s)
	}
	return out
}

func (m *Manager) spawn(fn func()) {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("background task panicked", zap.Any("panic", r))
			}
		}()
		fn()
	}()
}

func (m *Manager) countStored() {
	m.statsMu.Lock()
	m.stored++
	m.statsMu.Unlock()
}

func (m *Manager) countFailed() {
	m.statsMu.Lock()
	m.failed++
	m.statsMu.Unlock()
}

// ManagerStats summarizes episodic-tier activity since process start.
type ManagerStats struct {
	Stored             int64                         `json:"stored"`
	Failed             int64                         `json:"failed"`
	Promoted           int64                         `json:"promoted"`
	TypeWeights        map[types.EpisodeType]float64 `json:"type_weights"`
	PromotionThreshold float64                       `json:"promotion_threshold"`
}

// GetStats returns read-only manager statistics.
func (m *Manager) GetStats() ManagerStats {
	m.statsMu.Lock()
	stored, failed, promoted := m.stored, m.failed, m.promoted
	m.statsMu.Unlock()
	return ManagerStats{
		Stored:             stored,
		Failed:             failed,
		Promoted:           promoted,
		TypeWeights:        m.scorer.Weights(),
		PromotionThreshold: m.cfg.PromotionThreshold,
	}
}

// Stop waits for in-flight background tasks and stops the consolidation
// loop if running.
func (m *Manager) Stop() {
	close(m.stopCh)
	m.wg.Wait()
}
