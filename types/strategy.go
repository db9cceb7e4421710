package types

import "time"

// Well-known strategy names maintained by the evolution engine.
const (
	StrategyMemoryAllocation    = "memory_allocation"
	StrategyRetrievalWeighting  = "retrieval_weighting"
	StrategyPatternRecognition  = "pattern_recognition"
	StrategyMemoryConsolidation = "memory_consolidation"
)

// Strategy is one tunable parameter set. Instances are immutable once
// published: the evolution engine replaces the whole object atomically so
// concurrent readers never observe a half-updated parameter set.
type Strategy struct {
	Name       string             `json:"name"`
	Parameters map[string]float64 `json:"parameters"`
	Fitness    float64            `json:"fitness"`
	Generation int                `json:"generation"`
	UpdatedAt  time.Time          `json:"updated_at"`
}

// Param returns a named parameter, falling back to def when absent.
func (s *Strategy) Param(name string, def float64) float64 {
	if s == nil {
		return def
	}
	if v, ok := s.Parameters[name]; ok {
		return v
	}
	return def
}

// Clone returns a deep copy suitable for mutation.
func (s *Strategy) Clone() *Strategy {
	params := make(map[string]float64, len(s.Parameters))
	for k, v := range s.Parameters {
		params[k] = v
	}
	return &Strategy{
		Name:       s.Name,
		Parameters: params,
		Fitness:    s.Fitness,
		Generation: s.Generation,
		UpdatedAt:  s.UpdatedAt,
	}
}

// EvolutionRecord is one applied evolution cycle for an (agent, user)
// instance. The reason is always explicit; evolution is never silent.
type EvolutionRecord struct {
	ID             string    `json:"id"`
	AgentID        int64     `json:"agent_id"`
	UserID         string    `json:"user_id"`
	Generation     int       `json:"generation"`
	Reason         string    `json:"reason"`
	Changed        []string  `json:"changed_strategies"`
	AverageFitness float64   `json:"average_fitness"`
	Timestamp      time.Time `json:"timestamp"`
}
