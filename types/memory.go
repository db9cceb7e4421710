// Package types provides unified type definitions for the memflow memory substrate.
package types

import "time"

// MemoryCategory defines the unified memory tier across the substrate.
type MemoryCategory string

const (
	// MemoryWorking represents short-term working memory for current task context.
	// Storage: Redis with session TTL.
	MemoryWorking MemoryCategory = "working"

	// MemoryEpisodic represents event-based experiential memories.
	// Storage: SQL rows keyed by (agent_id, user_id).
	MemoryEpisodic MemoryCategory = "episodic"

	// MemorySemantic represents promoted knowledge derived from episodes.
	// Promotion is a visibility flag on the episodic row, not a copy.
	MemorySemantic MemoryCategory = "semantic"

	// MemoryProcedural represents how-to knowledge and learned procedures.
	MemoryProcedural MemoryCategory = "procedural"
)

// AllCategories lists every memory tier in a stable order.
func AllCategories() []MemoryCategory {
	return []MemoryCategory{MemoryWorking, MemoryEpisodic, MemorySemantic, MemoryProcedural}
}

// EpisodeType classifies a stored interaction event.
type EpisodeType string

const (
	EpisodeError        EpisodeType = "error"
	EpisodeSuccess      EpisodeType = "success"
	EpisodeTask         EpisodeType = "task"
	EpisodeLearning     EpisodeType = "learning"
	EpisodeDiscovery    EpisodeType = "discovery"
	EpisodeConversation EpisodeType = "conversation"
)

// MemoryContext identifies the owner of a memory operation and carries
// the interaction signals the episodic manager scores from.
type MemoryContext struct {
	AgentID   int64  `json:"agent_id"`
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	ThreadID  string `json:"thread_id,omitempty"`

	// Interaction signals. All optional; absent signals contribute nothing.
	TaskCompleted  bool           `json:"task_completed,omitempty"`
	UserInitiated  bool           `json:"user_initiated,omitempty"`
	SessionStart   bool           `json:"session_start,omitempty"`
	HasScreenshot  bool           `json:"has_screenshot,omitempty"`
	LearningMoment bool           `json:"learning_moment,omitempty"`
	ProblemSolved  bool           `json:"problem_solved,omitempty"`
	Domain         string         `json:"domain,omitempty"`
	Extra          map[string]any `json:"extra,omitempty"`
}

// Episode is one stored interaction event in episodic memory.
type Episode struct {
	ID                 string         `json:"id"`
	AgentID            int64          `json:"agent_id"`
	UserID             string         `json:"user_id"`
	SessionID          string         `json:"session_id,omitempty"`
	Type               EpisodeType    `json:"episode_type"`
	Content            map[string]any `json:"content"`
	Context            map[string]any `json:"context,omitempty"`
	Importance         float64        `json:"importance_score"`
	UserSatisfaction   *float64       `json:"user_satisfaction,omitempty"`
	PromotedToSemantic bool           `json:"promoted_to_semantic"`
	CreatedAt          time.Time      `json:"created_at"`
}

// StoreResult reports the outcome of a store call.
// Transient storage failures surface here as Stored=false, never as a panic
// or a hard error to the caller.
type StoreResult struct {
	Stored           bool        `json:"stored"`
	ID               string      `json:"id,omitempty"`
	Type             EpisodeType `json:"episode_type,omitempty"`
	Importance       float64     `json:"importance_score,omitempty"`
	UserSatisfaction *float64    `json:"user_satisfaction,omitempty"`
	Reason           string      `json:"reason,omitempty"`
	Error            string      `json:"error,omitempty"`
}

// RetrieveOptions filters and bounds an episodic retrieval.
type RetrieveOptions struct {
	MinImportance   float64      `json:"min_importance,omitempty"`
	SessionID       string       `json:"session_id,omitempty"`
	Type            EpisodeType  `json:"episode_type,omitempty"`
	Since           time.Time    `json:"since,omitempty"`
	Until           time.Time    `json:"until,omitempty"`
	IncludePromoted bool         `json:"include_promoted,omitempty"`
	Limit           int          `json:"limit,omitempty"`
}

// ScoredEpisode is a retrieved episode with its ranking score.
// PatternBoost is filled in by retrieval enhancement when discovered
// patterns apply to the episode.
type ScoredEpisode struct {
	Episode      Episode `json:"episode"`
	Score        float64 `json:"score"`
	PatternBoost float64 `json:"pattern_boost,omitempty"`
	Suggested    bool    `json:"suggested,omitempty"`
}
