package episodic

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/BaSui01/memflow/types"
)

func TestInferSatisfaction(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		mctx *types.MemoryContext
		meta map[string]any
		want *float64
	}{
		{
			name: "no signal",
			want: nil,
		},
		{
			name: "explicit unit rating",
			meta: map[string]any{"user_rating": 0.85},
			want: ptr(0.85),
		},
		{
			name: "five star scale normalized",
			meta: map[string]any{"user_rating": 4.0},
			want: ptr(0.8),
		},
		{
			name: "positive feedback",
			meta: map[string]any{"feedback": "helpful"},
			want: ptr(0.8),
		},
		{
			name: "negative feedback",
			meta: map[string]any{"feedback": "negative"},
			want: ptr(0.3),
		},
		{
			name: "task completion",
			mctx: &types.MemoryContext{TaskCompleted: true},
			want: ptr(0.9),
		},
		{
			name: "rating beats task completion",
			mctx: &types.MemoryContext{TaskCompleted: true},
			meta: map[string]any{"user_rating": 0.2},
			want: ptr(0.2),
		},
		{
			name: "quick follow up reads as a miss",
			meta: map[string]any{"follow_up_seconds": 5},
			want: ptr(0.3),
		},
		{
			name: "unhurried follow up",
			meta: map[string]any{"follow_up_seconds": 120},
			want: ptr(0.6),
		},
		{
			name: "long session",
			meta: map[string]any{"session_duration_seconds": 400},
			want: ptr(0.8),
		},
		{
			name: "abandoned session",
			meta: map[string]any{"session_duration_seconds": 10},
			want: ptr(0.3),
		},
		{
			name: "continued conversation",
			meta: map[string]any{"conversation_continued": true},
			want: ptr(0.7),
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got := InferSatisfaction(tt.mctx, tt.meta)
			if tt.want == nil {
				require.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			require.InDelta(t, *tt.want, *got, 1e-9)
		})
	}
}
