// Package episodic implements the episodic memory tier: classification,
// importance scoring, satisfaction inference, storage, retrieval ranking,
// and promotion to semantic visibility.
package episodic

import (
	"strings"

	"github.com/BaSui01/memflow/types"
)

// Detector is one classification predicate. Detectors run in a fixed
// order; the first match wins, so earlier detectors shadow later ones.
type Detector struct {
	Type  types.EpisodeType
	Match func(text string, mctx *types.MemoryContext, metadata map[string]any) bool
}

// Classifier resolves an episode type from an ordered detector chain.
// The zero chain classifies everything as conversation.
type Classifier struct {
	chain []Detector
}

// NewClassifier builds a classifier with the given chain. Use
// DefaultDetectors for the standard ordering.
func NewClassifier(chain []Detector) *Classifier {
	return &Classifier{chain: chain}
}

// Classify flattens the content payload to lowercase text and runs the
// detector chain. Falls back to conversation when nothing matches.
func (c *Classifier) Classify(content map[string]any, mctx *types.MemoryContext, metadata map[string]any) types.EpisodeType {
	text := flattenText(content)
	for _, d := range c.chain {
		if d.Match(text, mctx, metadata) {
			return d.Type
		}
	}
	return types.EpisodeConversation
}

// DefaultDetectors returns the standard chain. Order is significant:
// error shadows success shadows task shadows learning shadows discovery.
// Explicit metadata flags are consulted before keyword heuristics.
func DefaultDetectors() []Detector {
	return []Detector{
		{
			Type: types.EpisodeError,
			Match: func(text string, _ *types.MemoryContext, metadata map[string]any) bool {
				if flagSet(metadata, "is_error") {
					return true
				}
				return containsAny(text, "error", "exception", "failed", "failure", "crash", "panic", "timeout")
			},
		},
		{
			Type: types.EpisodeSuccess,
			Match: func(text string, mctx *types.MemoryContext, metadata map[string]any) bool {
				if flagSet(metadata, "is_success") {
					return true
				}
				if mctx != nil && (mctx.TaskCompleted || mctx.ProblemSolved) {
					return true
				}
				return containsAny(text, "success", "completed", "solved", "fixed", "resolved", "accomplished")
			},
		},
		{
			Type: types.EpisodeTask,
			Match: func(text string, _ *types.MemoryContext, metadata map[string]any) bool {
				if flagSet(metadata, "is_task") {
					return true
				}
				return containsAny(text, "task", "todo", "schedule", "deadline", "assign", "execute")
			},
		},
		{
			Type: types.EpisodeLearning,
			Match: func(text string, mctx *types.MemoryContext, metadata map[string]any) bool {
				if flagSet(metadata, "is_learning") {
					return true
				}
				if mctx != nil && mctx.LearningMoment {
					return true
				}
				return containsAny(text, "learn", "understand", "realize", "insight", "remember", "how to")
			},
		},
		{
			Type: types.EpisodeDiscovery,
			Match: func(text string, _ *types.MemoryContext, metadata map[string]any) bool {
				if flagSet(metadata, "is_discovery") {
					return true
				}
				return containsAny(text, "discover", "found", "interesting", "surprising", "unexpected")
			},
		},
	}
}

func flagSet(metadata map[string]any, key string) bool {
	if metadata == nil {
		return false
	}
	v, ok := metadata[key]
	if !ok {
		return false
	}
	b, ok := v.(bool)
	return ok && b
}

func containsAny(text string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}

// flattenText collects every string value in the payload, recursing into
// nested maps and slices, lowercased for keyword matching.
func flattenText(v any) string {
	var sb strings.Builder
	appendText(&sb, v, 0)
	return strings.ToLower(sb.String())
}

func appendText(sb *strings.Builder, v any, depth int) {
	if depth > 4 {
		return
	}
	switch t := v.(type) {
	case string:
		if sb.Len() > 0 {
			sb.WriteByte(' ')
		}
		sb.WriteString(t)
	case map[string]any:
		for _, inner := range t {
			appendText(sb, inner, depth+1)
		}
	case []any:
		for _, inner := range t {
			appendText(sb, inner, depth+1)
		}
	}
}
