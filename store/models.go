package store

import (
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/memflow/types"
)

// EpisodeRecord is one row of episodic_memory. Semantic visibility is the
// promoted flag; the row never moves.
type EpisodeRecord struct {
	ID                 string    `gorm:"primaryKey;size:36" json:"id"`
	AgentID            int64     `gorm:"not null;index:idx_episode_owner" json:"agent_id"`
	UserID             string    `gorm:"size:128;not null;index:idx_episode_owner" json:"user_id"`
	SessionID          string    `gorm:"size:128;index" json:"session_id"`
	Tier               string    `gorm:"size:16;not null;default:episodic;index" json:"tier"`
	EpisodeType        string    `gorm:"size:32;index" json:"episode_type"`
	Content            string    `gorm:"type:text" json:"content"`
	Context            string    `gorm:"type:text" json:"context"`
	ImportanceScore    float64   `gorm:"index" json:"importance_score"`
	UserSatisfaction   *float64  `json:"user_satisfaction"`
	PromotedToSemantic bool      `gorm:"index" json:"promoted_to_semantic"`
	CreatedAt          time.Time `gorm:"index" json:"created_at"`
}

// TableName maps to the logical table name.
func (EpisodeRecord) TableName() string { return "episodic_memory" }

// PatternRecord is one row of discovered_patterns, upsert-keyed by
// (agent_id, user_id, category, description).
type PatternRecord struct {
	ID          string    `gorm:"primaryKey;size:36" json:"id"`
	AgentID     int64     `gorm:"not null;index:idx_pattern_owner;uniqueIndex:idx_pattern_key" json:"agent_id"`
	UserID      string    `gorm:"size:128;not null;index:idx_pattern_owner;uniqueIndex:idx_pattern_key" json:"user_id"`
	PatternType string    `gorm:"size:32" json:"pattern_type"`
	Category    string    `gorm:"size:64;uniqueIndex:idx_pattern_key" json:"category"`
	Description string    `gorm:"size:255;uniqueIndex:idx_pattern_key" json:"description"`
	Confidence  float64   `json:"confidence"`
	Support     int       `json:"support"`
	Parameters  string    `gorm:"type:text" json:"parameters"`
	FirstSeen   time.Time `json:"first_seen"`
	LastUpdated time.Time `json:"last_updated"`
}

// TableName maps to the logical table name.
func (PatternRecord) TableName() string { return "discovered_patterns" }

// EvolutionLogRecord is one row of memory_evolution_log.
type EvolutionLogRecord struct {
	ID             string    `gorm:"primaryKey;size:36" json:"id"`
	AgentID        int64     `gorm:"not null;index:idx_evolution_owner" json:"agent_id"`
	UserID         string    `gorm:"size:128;not null;index:idx_evolution_owner" json:"user_id"`
	Generation     int       `json:"generation"`
	Reason         string    `gorm:"size:255" json:"reason"`
	Changed        string    `gorm:"type:text" json:"changed_strategies"`
	AverageFitness float64   `json:"average_fitness"`
	Timestamp      time.Time `gorm:"index" json:"timestamp"`
}

// TableName maps to the logical table name.
func (EvolutionLogRecord) TableName() string { return "memory_evolution_log" }

// AuditRecord is one persisted row of memory_access_audit. Only denials
// and cross-context passes reach this table; the full stream lives in the
// in-memory ring.
type AuditRecord struct {
	ID              string    `gorm:"primaryKey;size:36" json:"id"`
	ContextID       string    `gorm:"size:255;index" json:"context_id"`
	TargetContextID string    `gorm:"size:255" json:"target_context_id"`
	Operation       string    `gorm:"size:64" json:"operation"`
	CheckName       string    `gorm:"size:64" json:"check_name"`
	Allowed         bool      `json:"allowed"`
	Reason          string    `gorm:"size:255" json:"reason"`
	CrossContext    bool      `json:"cross_context"`
	Timestamp       time.Time `gorm:"index" json:"timestamp"`
}

// TableName maps to the logical table name.
func (AuditRecord) TableName() string { return "memory_access_audit" }

// SharingRuleRecord is one row of memory_sharing_rules.
type SharingRuleRecord struct {
	ID            string     `gorm:"primaryKey;size:36" json:"id"`
	AgentID       int64      `gorm:"index" json:"agent_id"`
	UserID        string     `gorm:"size:128;index" json:"user_id"`
	FromContextID string     `gorm:"size:255;index:idx_rule_pair" json:"from_context_id"`
	ToContextID   string     `gorm:"size:255;index:idx_rule_pair" json:"to_context_id"`
	Operations    string     `gorm:"type:text" json:"operations"`
	Allow         bool       `json:"allow"`
	CreatedAt     time.Time  `json:"created_at"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

// TableName maps to the logical table name.
func (SharingRuleRecord) TableName() string { return "memory_sharing_rules" }

// toEpisode converts a row to the domain type. Persisted JSON is decoded
// defensively: malformed payloads degrade to empty maps with a warning.
func (r *EpisodeRecord) toEpisode(logger *zap.Logger) types.Episode {
	return types.Episode{
		ID:                 r.ID,
		AgentID:            r.AgentID,
		UserID:             r.UserID,
		SessionID:          r.SessionID,
		Type:               types.EpisodeType(r.EpisodeType),
		Content:            decodeMap(r.Content, logger, "content"),
		Context:            decodeMap(r.Context, logger, "context"),
		Importance:         r.ImportanceScore,
		UserSatisfaction:   r.UserSatisfaction,
		PromotedToSemantic: r.PromotedToSemantic,
		CreatedAt:          r.CreatedAt,
	}
}

func (r *PatternRecord) toPattern(logger *zap.Logger) types.DiscoveredPattern {
	return types.DiscoveredPattern{
		ID:          r.ID,
		AgentID:     r.AgentID,
		UserID:      r.UserID,
		Type:        types.PatternType(r.PatternType),
		Category:    r.Category,
		Description: r.Description,
		Confidence:  r.Confidence,
		Support:     r.Support,
		Parameters:  decodeFloatMap(r.Parameters, logger),
		FirstSeen:   r.FirstSeen,
		LastUpdated: r.LastUpdated,
	}
}

func decodeMap(s string, logger *zap.Logger, field string) map[string]any {
	if s == "" {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		logger.Warn("malformed persisted JSON, using empty object",
			zap.String("field", field),
			zap.Error(err))
		return map[string]any{}
	}
	return m
}

func decodeFloatMap(s string, logger *zap.Logger) map[string]float64 {
	if s == "" {
		return map[string]float64{}
	}
	var m map[string]float64
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		logger.Warn("malformed persisted JSON, using empty object",
			zap.String("field", "parameters"),
			zap.Error(err))
		return map[string]float64{}
	}
	return m
}

func decodeStrings(s string, logger *zap.Logger) []string {
	if s == "" {
		return nil
	}
	var out []string
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		logger.Warn("malformed persisted JSON, using empty array", zap.Error(err))
		return nil
	}
	return out
}

func encodeJSON(v any) string {
	if v == nil {
		return ""
	}
	data, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(data)
}
