package episodic

import (
	"sync"
	"time"

	"github.com/BaSui01/memflow/config"
	"github.com/BaSui01/memflow/types"
)

// Type-weight domain. Weights start neutral and drift toward historical
// averages during consolidation.
const (
	minTypeWeight     = 0.5
	maxTypeWeight     = 2.0
	initialTypeWeight = 1.0
	baseImportance    = 0.5
)

// Scorer computes importance scores from content and context signals,
// scaled by learned per-type weights.
type Scorer struct {
	cfg config.EpisodicConfig

	mu      sync.RWMutex
	weights map[types.EpisodeType]float64
}

// NewScorer starts every type weight at the neutral multiplier.
func NewScorer(cfg config.EpisodicConfig) *Scorer {
	return &Scorer{
		cfg:     cfg,
		weights: make(map[types.EpisodeType]float64),
	}
}

// TypeWeight returns the learned multiplier for a type.
func (s *Scorer) TypeWeight(t types.EpisodeType) float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if w, ok := s.weights[t]; ok {
		return w
	}
	return initialTypeWeight
}

// AdjustWeight nudges a type weight toward the target by the adaptation
// rate, staying inside the [0.5, 2.0] domain.
func (s *Scorer) AdjustWeight(t types.EpisodeType, target float64) float64 {
	target = clamp(target, minTypeWeight, maxTypeWeight)

	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.weights[t]
	if !ok {
		w = initialTypeWeight
	}
	w += s.cfg.AdaptationRate * (target - w)
	w = clamp(w, minTypeWeight, maxTypeWeight)
	s.weights[t] = w
	return w
}

// Weights returns a snapshot of all learned weights.
func (s *Scorer) Weights() map[types.EpisodeType]float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[types.EpisodeType]float64, len(s.weights))
	for k, v := range s.weights {
		out[k] = v
	}
	return out
}

// Score computes the importance of one episode. The base score is scaled
// by the learned type weight, then content and context bonuses are added,
// and the result is clamped to [0,1].
func (s *Scorer) Score(episodeType types.EpisodeType, content map[string]any, mctx *types.MemoryContext, metadata map[string]any, satisfaction *float64, now time.Time) float64 {
	score := baseImportance * s.TypeWeight(episodeType)

	text := flattenText(content)

	// Content depth.
	switch {
	case len(text) > 500:
		score += 0.10
	case len(text) > 100:
		score += 0.05
	}

	// Question/answer shape.
	if _, hasQuery := content["query"]; hasQuery {
		if _, hasResponse := content["response"]; hasResponse {
			score += 0.05
		}
	}

	if mctx != nil {
		if mctx.Domain != "" {
			score += 0.05
		}
		if mctx.UserInitiated {
			score += 0.05
		}
		if mctx.HasScreenshot {
			score += 0.05
		}
		if mctx.SessionStart {
			score += 0.05
		}
		if mctx.TaskCompleted {
			score += 0.10
		}
		if mctx.LearningMoment {
			score += 0.10
		}
		if mctx.ProblemSolved {
			score += 0.10
		}
	}

	// Conversation length.
	if n, ok := numeric(metadata, "message_count"); ok && n >= 10 {
		score += 0.05
	}

	// High explicit rating.
	if satisfaction != nil && *satisfaction >= 0.8 {
		score += 0.10
	}

	// Recent errors matter more than stale ones.
	if episodeType == types.EpisodeError {
		if ts, ok := eventTime(metadata); ok && now.Sub(ts) <= s.cfg.ErrorRecencyWindow {
			score += 0.10
		} else if !ok {
			// A freshly stored error with no explicit event time counts
			// as recent.
			score += 0.10
		}
	}

	return clamp(score, 0, 1)
}

func eventTime(metadata map[string]any) (time.Time, bool) {
	if metadata == nil {
		return time.Time{}, false
	}
	switch v := metadata["occurred_at"].(type) {
	case time.Time:
		return v, true
	case string:
		if ts, err := time.Parse(time.RFC3339, v); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

func numeric(m map[string]any, key string) (float64, bool) {
	if m == nil {
		return 0, false
	}
	switch v := m[key].(type) {
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case float64:
		return v, true
	}
	return 0, false
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
