package episodic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/types"
)

func TestClassifyKeywordBeatsFalseFlag(t *testing.T) {
	t.Parallel()
	c := NewClassifier(DefaultDetectors())

	// The flag is explicitly false, but the keyword heuristic still
	// resolves the type to error.
	got := c.Classify(
		map[string]any{"query": "why did the build error out?"},
		&types.MemoryContext{AgentID: 1, UserID: "u1"},
		map[string]any{"is_error": false},
	)
	require.Equal(t, types.EpisodeError, got)
}

func TestClassifyTaskCompletedIsSuccess(t *testing.T) {
	t.Parallel()
	c := NewClassifier(DefaultDetectors())

	got := c.Classify(
		map[string]any{"query": "the report is ready"},
		&types.MemoryContext{AgentID: 1, UserID: "u1", TaskCompleted: true},
		nil,
	)
	require.Equal(t, types.EpisodeSuccess, got)
}

func TestClassifyOrderIsSignificant(t *testing.T) {
	t.Parallel()
	c := NewClassifier(DefaultDetectors())

	tests := []struct {
		name    string
		content map[string]any
		mctx    *types.MemoryContext
		meta    map[string]any
		want    types.EpisodeType
	}{
		{
			name:    "error shadows success",
			content: map[string]any{"text": "the task failed but we eventually succeeded"},
			want:    types.EpisodeError,
		},
		{
			name:    "success shadows task",
			content: map[string]any{"text": "task completed without issues"},
			want:    types.EpisodeSuccess,
		},
		{
			name:    "task keyword",
			content: map[string]any{"text": "schedule the weekly report"},
			want:    types.EpisodeTask,
		},
		{
			name:    "learning flag",
			content: map[string]any{"text": "plain chat"},
			mctx:    &types.MemoryContext{LearningMoment: true},
			want:    types.EpisodeLearning,
		},
		{
			name:    "discovery keyword",
			content: map[string]any{"text": "we found an interesting edge case"},
			want:    types.EpisodeDiscovery,
		},
		{
			name:    "default conversation",
			content: map[string]any{"text": "hello there"},
			want:    types.EpisodeConversation,
		},
		{
			name:    "explicit flag wins without keywords",
			content: map[string]any{"text": "hello there"},
			meta:    map[string]any{"is_discovery": true},
			want:    types.EpisodeDiscovery,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			require.Equal(t, tt.want, c.Classify(tt.content, tt.mctx, tt.meta))
		})
	}
}

func TestClassifyNestedContent(t *testing.T) {
	t.Parallel()
	c := NewClassifier(DefaultDetectors())

	got := c.Classify(
		map[string]any{
			"turns": []any{
				map[string]any{"role": "user", "text": "it crashed again"},
			},
		},
		nil, nil,
	)
	require.Equal(t, types.EpisodeError, got, "keywords in nested payloads must be seen")
}
