package episodic

import (
	"time"

	"github.com/BaSui01/memflow/types"
)

// Satisfaction inference thresholds.
const (
	quickFollowUp    = 30 * time.Second
	longSession      = 5 * time.Minute
	satisfactionLow  = 0.3
	satisfactionHigh = 0.8
	satisfactionTask = 0.9
)

// InferSatisfaction derives a user-satisfaction estimate in [0,1], or nil
// when no signal is available. Explicit signals win over inferred ones.
func InferSatisfaction(mctx *types.MemoryContext, metadata map[string]any) *float64 {
	// Explicit rating, normalized from a 1-5 scale when needed.
	if rating, ok := numeric(metadata, "user_rating"); ok {
		if rating > 1 {
			rating = rating / 5
		}
		return ptr(clamp(rating, 0, 1))
	}
	if fb, ok := metadata["feedback"].(string); ok && fb != "" {
		switch fb {
		case "positive", "helpful":
			return ptr(satisfactionHigh)
		case "negative", "unhelpful":
			return ptr(satisfactionLow)
		}
	}

	if mctx != nil && mctx.TaskCompleted {
		return ptr(satisfactionTask)
	}

	// A quick follow-up suggests the previous answer missed.
	if gap, ok := numeric(metadata, "follow_up_seconds"); ok {
		if time.Duration(gap*float64(time.Second)) < quickFollowUp {
			return ptr(satisfactionLow)
		}
		return ptr(0.6)
	}

	if continued, ok := metadata["conversation_continued"].(bool); ok && continued {
		return ptr(0.7)
	}

	if dur, ok := numeric(metadata, "session_duration_seconds"); ok {
		d := time.Duration(dur * float64(time.Second))
		switch {
		case d > longSession:
			return ptr(satisfactionHigh)
		case d < quickFollowUp:
			return ptr(satisfactionLow)
		default:
			return ptr(0.6)
		}
	}

	return nil
}

func ptr(v float64) *float64 { return &v }
