// Package store provides durable per-tier record storage keyed by
// (agentID, userID) over a relational backend.
package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/memflow/types"
)

// TierStore persists the durable memory tiers and the substrate's audit,
// pattern, sharing-rule, and evolution tables.
type TierStore struct {
	db     *gorm.DB
	logger *zap.Logger
	now    func() time.Time
}

// Option configures a TierStore.
type Option func(*TierStore)

// WithClock injects a clock, used by tests.
func WithClock(now func() time.Time) Option {
	return func(s *TierStore) { s.now = now }
}

// NewTierStore wraps a GORM handle and migrates the substrate tables.
func NewTierStore(db *gorm.DB, logger *zap.Logger, opts ...Option) (*TierStore, error) {
	if db == nil {
		return nil, fmt.Errorf("db is nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := db.AutoMigrate(
		&EpisodeRecord{},
		&PatternRecord{},
		&EvolutionLogRecord{},
		&AuditRecord{},
		&SharingRuleRecord{},
	); err != nil {
		return nil, fmt.Errorf("failed to auto migrate: %w", err)
	}

	s := &TierStore{
		db:     db,
		logger: logger.With(zap.String("component", "tier_store")),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// SaveEpisode persists one episode row. A missing ID is generated.
func (s *TierStore) SaveEpisode(ctx context.Context, ep *types.Episode) error {
	if ep == nil {
		return fmt.Errorf("episode is nil")
	}
	if ep.ID == "" {
		ep.ID = uuid.NewString()
	}
	if ep.CreatedAt.IsZero() {
		ep.CreatedAt = s.now()
	}

	rec := EpisodeRecord{
		ID:                 ep.ID,
		AgentID:            ep.AgentID,
		UserID:             ep.UserID,
		SessionID:          ep.SessionID,
		Tier:               string(types.MemoryEpisodic),
		EpisodeType:        string(ep.Type),
		Content:            encodeJSON(ep.Content),
		Context:            encodeJSON(ep.Context),
		ImportanceScore:    ep.Importance,
		UserSatisfaction:   ep.UserSatisfaction,
		PromotedToSemantic: ep.PromotedToSemantic,
		CreatedAt:          ep.CreatedAt,
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("save episode: %w", err)
	}
	return nil
}

// GetEpisode loads one episode by id.
func (s *TierStore) GetEpisode(ctx context.Context, id string) (*types.Episode, error) {
	var rec EpisodeRecord
	if err := s.db.WithContext(ctx).First(&rec, "id = ?", id).Error; err != nil {
		return nil, fmt.Errorf("get episode %s: %w", id, err)
	}
	ep := rec.toEpisode(s.logger)
	return &ep, nil
}

// EpisodeQuery filters an episode listing.
type EpisodeQuery struct {
	AgentID         int64
	UserID          string
	SessionID       string
	Type            types.EpisodeType
	MinImportance   float64
	Since           time.Time
	Until           time.Time
	IncludePromoted bool
	OnlyPromoted    bool
	Limit           int

	// Rank switches ordering from pure recency to relevance. The
	// limit then cuts the lowest-ranked rows, not the oldest.
	Rank *RelevanceRank
}

// RelevanceRank orders query results by importance plus a session
// affinity bonus, recency as tiebreak. SameBonus applies to rows whose
// session matches SessionID, OtherBonus to every other row.
type RelevanceRank struct {
	SessionID  string
	SameBonus  float64
	OtherBonus float64
}

// QueryEpisodes lists episodes matching the query. Ordering is newest
// first, or relevance first when the query carries a Rank.
func (s *TierStore) QueryEpisodes(ctx context.Context, q EpisodeQuery) ([]types.Episode, error) {
	tx := s.db.WithContext(ctx).Model(&EpisodeRecord{}).
		Where("agent_id = ? AND user_id = ?", q.AgentID, q.UserID)

	if q.SessionID != "" {
		tx = tx.Where("session_id = ?", q.SessionID)
	}
	if q.Type != "" {
		tx = tx.Where("episode_type = ?", string(q.Type))
	}
	if q.MinImportance > 0 {
		tx = tx.Where("importance_score >= ?", q.MinImportance)
	}
	if !q.Since.IsZero() {
		tx = tx.Where("created_at >= ?", q.Since)
	}
	if !q.Until.IsZero() {
		tx = tx.Where("created_at <= ?", q.Until)
	}
	if q.OnlyPromoted {
		tx = tx.Where("promoted_to_semantic = ?", true)
	} else if !q.IncludePromoted {
		tx = tx.Where("promoted_to_semantic = ?", false)
	}
	if q.Limit > 0 {
		tx = tx.Limit(q.Limit)
	}

	switch {
	case q.Rank != nil && q.Rank.SessionID == "":
		// No session to favor; a uniform bonus cannot reorder.
		tx = tx.Order("importance_score DESC, created_at DESC")
	case q.Rank != nil:
		tx = tx.Clauses(clause.OrderBy{Expression: clause.Expr{
			SQL:                "importance_score + (CASE WHEN session_id = ? THEN ? ELSE ? END) DESC, created_at DESC",
			Vars:               []any{q.Rank.SessionID, q.Rank.SameBonus, q.Rank.OtherBonus},
			WithoutParentheses: true,
		}})
	default:
		tx = tx.Order("created_at DESC")
	}

	var recs []EpisodeRecord
	if err := tx.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("query episodes: %w", err)
	}

	out := make([]types.Episode, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toEpisode(s.logger))
	}
	return out, nil
}

// SearchContent lists episodes whose JSON content contains the substring,
// case-insensitively.
func (s *TierStore) SearchContent(ctx context.Context, agentID int64, userID, substr string, limit int) ([]types.Episode, error) {
	pattern := "%" + strings.ToLower(substr) + "%"
	tx := s.db.WithContext(ctx).Model(&EpisodeRecord{}).
		Where("agent_id = ? AND user_id = ?", agentID, userID).
		Where("LOWER(content) LIKE ?", pattern).
		Order("created_at DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}

	var recs []EpisodeRecord
	if err := tx.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("search content: %w", err)
	}
	out := make([]types.Episode, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toEpisode(s.logger))
	}
	return out, nil
}

// MarkPromoted flips the promotion flag exactly once. It reports whether
// this call performed the flip; an already-promoted episode returns false.
func (s *TierStore) MarkPromoted(ctx context.Context, id string) (bool, error) {
	res := s.db.WithContext(ctx).Model(&EpisodeRecord{}).
		Where("id = ? AND promoted_to_semantic = ?", id, false).
		Update("promoted_to_semantic", true)
	if res.Error != nil {
		return false, fmt.Errorf("mark promoted %s: %w", id, res.Error)
	}
	return res.RowsAffected > 0, nil
}

// CountSimilar counts same-type episodes with importance within epsilon of
// the given episode since the cutoff, excluding the episode itself.
func (s *TierStore) CountSimilar(ctx context.Context, ep *types.Episode, epsilon float64, since time.Time) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&EpisodeRecord{}).
		Where("agent_id = ? AND user_id = ?", ep.AgentID, ep.UserID).
		Where("episode_type = ?", string(ep.Type)).
		Where("id <> ?", ep.ID).
		Where("importance_score BETWEEN ? AND ?", ep.Importance-epsilon, ep.Importance+epsilon).
		Where("created_at >= ?", since).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count similar episodes: %w", err)
	}
	return n, nil
}

// TypeAggregate summarizes historical behavior of one episode type.
type TypeAggregate struct {
	Type            types.EpisodeType
	Count           int64
	AvgImportance   float64
	AvgSatisfaction float64
}

// TypeAggregates computes per-type averages for type-weight learning.
// Rows without satisfaction contribute only to importance.
func (s *TierStore) TypeAggregates(ctx context.Context, agentID int64, userID string) (map[types.EpisodeType]TypeAggregate, error) {
	type row struct {
		EpisodeType     string
		Count           int64
		AvgImportance   float64
		AvgSatisfaction *float64
	}
	var rows []row
	err := s.db.WithContext(ctx).Model(&EpisodeRecord{}).
		Select("episode_type, COUNT(*) AS count, AVG(importance_score) AS avg_importance, AVG(user_satisfaction) AS avg_satisfaction").
		Where("agent_id = ? AND user_id = ?", agentID, userID).
		Group("episode_type").
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("type aggregates: %w", err)
	}

	out := make(map[types.EpisodeType]TypeAggregate, len(rows))
	for _, r := range rows {
		agg := TypeAggregate{
			Type:          types.EpisodeType(r.EpisodeType),
			Count:         r.Count,
			AvgImportance: r.AvgImportance,
		}
		if r.AvgSatisfaction != nil {
			agg.AvgSatisfaction = *r.AvgSatisfaction
		}
		out[agg.Type] = agg
	}
	return out, nil
}

// CountForeign counts rows in a durable tier owned by a different user
// than the given context owner. Non-zero means contamination.
func (s *TierStore) CountForeign(ctx context.Context, tier types.MemoryCategory, agentID int64, userID string) (int64, error) {
	tx := s.db.WithContext(ctx).Model(&EpisodeRecord{}).
		Where("agent_id = ? AND user_id <> ?", agentID, userID)

	switch tier {
	case types.MemoryEpisodic:
		tx = tx.Where("tier = ? AND promoted_to_semantic = ?", string(types.MemoryEpisodic), false)
	case types.MemorySemantic:
		tx = tx.Where("promoted_to_semantic = ?", true)
	case types.MemoryProcedural:
		tx = tx.Where("tier = ?", string(types.MemoryProcedural))
	default:
		return 0, fmt.Errorf("tier %s is not stored in SQL", tier)
	}

	var n int64
	if err := tx.Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count foreign rows in %s: %w", tier, err)
	}
	return n, nil
}

// TierUsage summarizes one tier's activity for evolution fitness input.
type TierUsage struct {
	Tier          types.MemoryCategory
	Records       int64
	AvgImportance float64
	PromotionRate float64
}

// UsageByTier returns usage for the SQL-backed tiers of one pair.
func (s *TierStore) UsageByTier(ctx context.Context, agentID int64, userID string) (map[types.MemoryCategory]TierUsage, error) {
	var total, promoted, procedural int64
	var avgImportance float64

	base := s.db.WithContext(ctx).Model(&EpisodeRecord{}).
		Where("agent_id = ? AND user_id = ?", agentID, userID)

	if err := base.Session(&gorm.Session{}).Count(&total).Error; err != nil {
		return nil, fmt.Errorf("usage count: %w", err)
	}
	if err := base.Session(&gorm.Session{}).Where("promoted_to_semantic = ?", true).Count(&promoted).Error; err != nil {
		return nil, fmt.Errorf("usage promoted count: %w", err)
	}
	if err := base.Session(&gorm.Session{}).Where("tier = ?", string(types.MemoryProcedural)).Count(&procedural).Error; err != nil {
		return nil, fmt.Errorf("usage procedural count: %w", err)
	}
	if total > 0 {
		row := struct{ Avg float64 }{}
		if err := base.Session(&gorm.Session{}).Select("AVG(importance_score) AS avg").Scan(&row).Error; err != nil {
			return nil, fmt.Errorf("usage importance: %w", err)
		}
		avgImportance = row.Avg
	}

	promotionRate := 0.0
	if total > 0 {
		promotionRate = float64(promoted) / float64(total)
	}

	return map[types.MemoryCategory]TierUsage{
		types.MemoryEpisodic: {
			Tier:          types.MemoryEpisodic,
			Records:       total - promoted - procedural,
			AvgImportance: avgImportance,
			PromotionRate: promotionRate,
		},
		types.MemorySemantic: {
			Tier:    types.MemorySemantic,
			Records: promoted,
		},
		types.MemoryProcedural: {
			Tier:    types.MemoryProcedural,
			Records: procedural,
		},
	}, nil
}

// UpsertPattern writes a discovered pattern keyed by (agent, user,
// category, description). An existing row is replaced only when the new
// confidence is equal or higher.
func (s *TierStore) UpsertPattern(ctx context.Context, p *types.DiscoveredPattern) error {
	if p == nil {
		return fmt.Errorf("pattern is nil")
	}
	now := s.now()

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing PatternRecord
		err := tx.Where(
			"agent_id = ? AND user_id = ? AND category = ? AND description = ?",
			p.AgentID, p.UserID, p.Category, p.Description,
		).First(&existing).Error

		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			rec := PatternRecord{
				ID:          uuid.NewString(),
				AgentID:     p.AgentID,
				UserID:      p.UserID,
				PatternType: string(p.Type),
				Category:    p.Category,
				Description: p.Description,
				Confidence:  p.Confidence,
				Support:     p.Support,
				Parameters:  encodeJSON(p.Parameters),
				FirstSeen:   now,
				LastUpdated: now,
			}
			p.ID = rec.ID
			p.FirstSeen = now
			p.LastUpdated = now
			return tx.Create(&rec).Error
		case err != nil:
			return fmt.Errorf("lookup pattern: %w", err)
		}

		if p.Confidence < existing.Confidence {
			p.ID = existing.ID
			return nil
		}
		p.ID = existing.ID
		p.FirstSeen = existing.FirstSeen
		p.LastUpdated = now
		return tx.Model(&PatternRecord{}).Where("id = ?", existing.ID).Updates(map[string]any{
			"pattern_type": string(p.Type),
			"confidence":   p.Confidence,
			"support":      p.Support,
			"parameters":   encodeJSON(p.Parameters),
			"last_updated": now,
		}).Error
	})
}

// ListPatterns returns all stored patterns for one pair.
func (s *TierStore) ListPatterns(ctx context.Context, agentID int64, userID string) ([]types.DiscoveredPattern, error) {
	var recs []PatternRecord
	err := s.db.WithContext(ctx).
		Where("agent_id = ? AND user_id = ?", agentID, userID).
		Order("confidence DESC").
		Find(&recs).Error
	if err != nil {
		return nil, fmt.Errorf("list patterns: %w", err)
	}
	out := make([]types.DiscoveredPattern, 0, len(recs))
	for i := range recs {
		out = append(out, recs[i].toPattern(s.logger))
	}
	return out, nil
}

// CountPatterns counts stored patterns for one pair.
func (s *TierStore) CountPatterns(ctx context.Context, agentID int64, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&PatternRecord{}).
		Where("agent_id = ? AND user_id = ?", agentID, userID).
		Count(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count patterns: %w", err)
	}
	return n, nil
}

// PrunePatterns removes lowest-confidence patterns beyond the cap.
func (s *TierStore) PrunePatterns(ctx context.Context, agentID int64, userID string, max int) (int64, error) {
	if max <= 0 {
		return 0, nil
	}
	var keep []string
	err := s.db.WithContext(ctx).Model(&PatternRecord{}).
		Where("agent_id = ? AND user_id = ?", agentID, userID).
		Order("confidence DESC").
		Limit(max).
		Pluck("id", &keep).Error
	if err != nil {
		return 0, fmt.Errorf("prune patterns: %w", err)
	}
	if len(keep) < max {
		return 0, nil
	}
	res := s.db.WithContext(ctx).
		Where("agent_id = ? AND user_id = ? AND id NOT IN ?", agentID, userID, keep).
		Delete(&PatternRecord{})
	if res.Error != nil {
		return 0, fmt.Errorf("prune patterns: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// AppendEvolution writes one evolution-history row.
func (s *TierStore) AppendEvolution(ctx context.Context, rec types.EvolutionRecord) error {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}
	row := EvolutionLogRecord{
		ID:             rec.ID,
		AgentID:        rec.AgentID,
		UserID:         rec.UserID,
		Generation:     rec.Generation,
		Reason:         rec.Reason,
		Changed:        encodeJSON(rec.Changed),
		AverageFitness: rec.AverageFitness,
		Timestamp:      rec.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append evolution log: %w", err)
	}
	return nil
}

// EvolutionHistory lists recent evolution records for one pair.
func (s *TierStore) EvolutionHistory(ctx context.Context, agentID int64, userID string, limit int) ([]types.EvolutionRecord, error) {
	tx := s.db.WithContext(ctx).Model(&EvolutionLogRecord{}).
		Where("agent_id = ? AND user_id = ?", agentID, userID).
		Order("timestamp DESC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	var rows []EvolutionLogRecord
	if err := tx.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("evolution history: %w", err)
	}
	out := make([]types.EvolutionRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, types.EvolutionRecord{
			ID:             r.ID,
			AgentID:        r.AgentID,
			UserID:         r.UserID,
			Generation:     r.Generation,
			Reason:         r.Reason,
			Changed:        decodeStrings(r.Changed, s.logger),
			AverageFitness: r.AverageFitness,
			Timestamp:      r.Timestamp,
		})
	}
	return out, nil
}

// AppendAudit persists one audit entry.
func (s *TierStore) AppendAudit(ctx context.Context, e types.AuditEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	row := AuditRecord{
		ID:              e.ID,
		ContextID:       e.ContextID,
		TargetContextID: e.TargetContextID,
		Operation:       e.Operation,
		CheckName:       e.Check,
		Allowed:         e.Allowed,
		Reason:          e.Reason,
		CrossContext:    e.CrossContext,
		Timestamp:       e.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("append audit: %w", err)
	}
	return nil
}

// SaveSharingRule persists one sharing rule.
func (s *TierStore) SaveSharingRule(ctx context.Context, r *types.SharingRule) error {
	if r == nil {
		return fmt.Errorf("rule is nil")
	}
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = s.now()
	}
	row := SharingRuleRecord{
		ID:            r.ID,
		AgentID:       r.AgentID,
		UserID:        r.UserID,
		FromContextID: r.FromContextID,
		ToContextID:   r.ToContextID,
		Operations:    encodeJSON(r.Operations),
		Allow:         r.Allow,
		CreatedAt:     r.CreatedAt,
		ExpiresAt:     r.ExpiresAt,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("save sharing rule: %w", err)
	}
	return nil
}

// SharingRules lists the rules between two contexts, newest first,
// including expired rules; callers filter by time.
func (s *TierStore) SharingRules(ctx context.Context, fromContextID, toContextID string) ([]types.SharingRule, error) {
	var rows []SharingRuleRecord
	err := s.db.WithContext(ctx).
		Where("from_context_id = ? AND to_context_id = ?", fromContextID, toContextID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list sharing rules: %w", err)
	}
	out := make([]types.SharingRule, 0, len(rows))
	for _, row := range rows {
		out = append(out, types.SharingRule{
			ID:            row.ID,
			AgentID:       row.AgentID,
			UserID:        row.UserID,
			FromContextID: row.FromContextID,
			ToContextID:   row.ToContextID,
			Operations:    decodeStrings(row.Operations, s.logger),
			Allow:         row.Allow,
			CreatedAt:     row.CreatedAt,
			ExpiresAt:     row.ExpiresAt,
		})
	}
	return out, nil
}

// Stats summarizes the store contents.
type Stats struct {
	Episodes     int64 `json:"episodes"`
	Promoted     int64 `json:"promoted"`
	Patterns     int64 `json:"patterns"`
	AuditRows    int64 `json:"audit_rows"`
	SharingRules int64 `json:"sharing_rules"`
}

// GetStats returns table counts.
func (s *TierStore) GetStats(ctx context.Context) (Stats, error) {
	var st Stats
	db := s.db.WithContext(ctx)
	if err := db.Model(&EpisodeRecord{}).Count(&st.Episodes).Error; err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	if err := db.Model(&EpisodeRecord{}).Where("promoted_to_semantic = ?", true).Count(&st.Promoted).Error; err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	if err := db.Model(&PatternRecord{}).Count(&st.Patterns).Error; err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	if err := db.Model(&AuditRecord{}).Count(&st.AuditRows).Error; err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	if err := db.Model(&SharingRuleRecord{}).Count(&st.SharingRules).Error; err != nil {
		return st, fmt.Errorf("stats: %w", err)
	}
	return st, nil
}
