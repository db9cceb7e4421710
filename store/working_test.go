package store_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/memflow/store"
	"github.com/BaSui01/memflow/testutil"
)

func TestWorkingPutGetDelete(t *testing.T) {
	t.Parallel()
	_, mgr := testutil.OpenRedis(t)
	w := store.NewWorkingStore(mgr, time.Minute, zap.NewNop())
	ctx := context.Background()

	item := &store.WorkingItem{
		AgentID:   1,
		UserID:    "u1",
		SessionID: "s1",
		Key:       "current_task",
		Value:     map[string]any{"step": "draft"},
		CreatedAt: time.Now(),
	}
	require.NoError(t, w.Put(ctx, item))

	got, err := w.Get(ctx, 1, "u1", "current_task")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "draft", got.Value["step"])

	// Same key under another user's boundary is invisible.
	got, err = w.Get(ctx, 1, "u2", "current_task")
	require.NoError(t, err)
	require.Nil(t, got)

	require.NoError(t, w.Delete(ctx, 1, "u1", "current_task"))
	got, err = w.Get(ctx, 1, "u1", "current_task")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestWorkingItemExpires(t *testing.T) {
	t.Parallel()
	mr, mgr := testutil.OpenRedis(t)
	w := store.NewWorkingStore(mgr, time.Minute, zap.NewNop())
	ctx := context.Background()

	item := &store.WorkingItem{AgentID: 1, UserID: "u1", Key: "k", Value: map[string]any{"v": 1}}
	require.NoError(t, w.Put(ctx, item))

	mr.FastForward(2 * time.Minute)

	got, err := w.Get(ctx, 1, "u1", "k")
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestWorkingCountForeign(t *testing.T) {
	t.Parallel()
	_, mgr := testutil.OpenRedis(t)
	w := store.NewWorkingStore(mgr, time.Minute, zap.NewNop())
	ctx := context.Background()

	for _, item := range []*store.WorkingItem{
		{AgentID: 1, UserID: "u1", Key: "a", Value: map[string]any{}},
		{AgentID: 1, UserID: "u1", Key: "b", Value: map[string]any{}},
		{AgentID: 1, UserID: "u2", Key: "c", Value: map[string]any{}},
		{AgentID: 2, UserID: "u3", Key: "d", Value: map[string]any{}},
	} {
		require.NoError(t, w.Put(ctx, item))
	}

	n, err := w.CountForeign(ctx, 1, "u1")
	require.NoError(t, err)
	require.Equal(t, int64(1), n, "only u2's record inside agent 1 counts")

	n, err = w.CountForeign(ctx, 2, "u3")
	require.NoError(t, err)
	require.Zero(t, n)
}
