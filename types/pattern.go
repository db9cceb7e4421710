package types

import "time"

// PatternType groups discovered patterns by the analyzer that produced them.
type PatternType string

const (
	PatternTemporal    PatternType = "temporal"
	PatternContextual  PatternType = "contextual"
	PatternCrossMemory PatternType = "cross_memory"
	PatternBehavioral  PatternType = "behavioral"
)

// Pattern categories, one per analysis dimension.
const (
	CategoryTimeOfDay          = "time_of_day"
	CategorySessionDuration    = "session_duration"
	CategoryStorageInterval    = "storage_interval"
	CategoryDomainPreference   = "domain_preference"
	CategoryInitiationStyle    = "initiation_style"
	CategoryComplexity         = "complexity_preference"
	CategoryMemoryCombination  = "memory_combination"
	CategoryPromotionRate      = "promotion_rate"
	CategorySuccessRate        = "success_rate"
	CategoryPreferredBehavior  = "preferred_behavior"
	CategoryAdaptationPresence = "adaptation_presence"
)

// DiscoveredPattern is one mined behavioral regularity for an (agent, user)
// pair. Upserts are keyed by (agent, user, category, description) and only
// versions with equal-or-higher confidence replace a stored pattern.
type DiscoveredPattern struct {
	ID          string             `json:"id"`
	AgentID     int64              `json:"agent_id"`
	UserID      string             `json:"user_id"`
	Type        PatternType        `json:"pattern_type"`
	Category    string             `json:"category"`
	Description string             `json:"description"`
	Confidence  float64            `json:"confidence"`
	Support     int                `json:"support"`
	Parameters  map[string]float64 `json:"parameters,omitempty"`
	FirstSeen   time.Time          `json:"first_seen"`
	LastUpdated time.Time          `json:"last_updated"`
}
