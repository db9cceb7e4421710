package episodic

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/store"
)

// reEvalWindow bounds the promotion re-check to recent episodes.
const reEvalWindow = 24 * time.Hour

// StartConsolidation launches the periodic consolidation loop for one
// (agent, user) pair. Stop() terminates it.
func (m *Manager) StartConsolidation(agentID int64, userID string) {
	if m.cfg.ConsolidationInterval <= 0 {
		return
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.cfg.ConsolidationInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopCh:
				return
			case <-ticker.C:
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if err := m.Consolidate(ctx, agentID, userID); err != nil {
				m.logger.Warn("consolidation cycle failed",
					zap.Int64("agent_id", agentID),
					zap.String("user_id", userID),
					zap.Error(err))
			}
			cancel()
		}
	}()
}

// Consolidate re-learns type weights from historical aggregates and
// re-evaluates recent unpromoted high-importance episodes for promotion.
func (m *Manager) Consolidate(ctx context.Context, agentID int64, userID string) error {
	aggs, err := m.store.TypeAggregates(ctx, agentID, userID)
	if err != nil {
		return err
	}
	for t, agg := range aggs {
		if agg.Count == 0 {
			continue
		}
		// Types whose episodes historically score and satisfy well drift
		// above the neutral multiplier; poor performers drift below it.
		target := 2 * (0.7*agg.AvgImportance + 0.3*agg.AvgSatisfaction)
		w := m.scorer.AdjustWeight(t, target)
		m.logger.Debug("type weight adjusted",
			zap.String("episode_type", string(t)),
			zap.Float64("target", target),
			zap.Float64("weight", w))
	}

	eps, err := m.store.QueryEpisodes(ctx, store.EpisodeQuery{
		AgentID:       agentID,
		UserID:        userID,
		MinImportance: m.cfg.PromotionThreshold,
		Since:         m.now().Add(-reEvalWindow),
	})
	if err != nil {
		return err
	}
	for _, ep := range eps {
		if ep.PromotedToSemantic {
			continue
		}
		m.evaluatePromotion(ep)
	}

	m.logger.Debug("consolidation cycle complete",
		zap.Int64("agent_id", agentID),
		zap.String("user_id", userID),
		zap.Int("types_adjusted", len(aggs)),
		zap.Int("reevaluated", len(eps)))
	return nil
}
