package events

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestPublishReceive(t *testing.T) {
	t.Parallel()
	b := NewBus(Config{BufferSize: 4})

	require.True(t, b.Publish(Event{Type: EventEpisodePromoted, AgentID: 1, UserID: "u1"}))

	ev, err := b.Receive(context.Background())
	require.NoError(t, err)
	require.Equal(t, EventEpisodePromoted, ev.Type)
	require.False(t, ev.Timestamp.IsZero(), "publish stamps untimed events")
}

func TestPublishDropsWhenFull(t *testing.T) {
	t.Parallel()
	b := NewBus(Config{BufferSize: 2})

	require.True(t, b.Publish(Event{Type: EventPatternDiscovered}))
	require.True(t, b.Publish(Event{Type: EventPatternDiscovered}))
	require.False(t, b.Publish(Event{Type: EventPatternDiscovered}), "a full buffer drops instead of blocking")

	st := b.GetStats()
	require.Equal(t, int64(2), st.Published)
	require.Equal(t, int64(1), st.Dropped)
	require.Equal(t, 2, st.Buffered)
}

func TestReceiveHonorsContext(t *testing.T) {
	t.Parallel()
	b := NewBus(Config{})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := b.Receive(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestCloseKeepsPendingReadable(t *testing.T) {
	t.Parallel()
	b := NewBus(Config{BufferSize: 2})

	require.True(t, b.Publish(Event{Type: EventEvolutionCompleted}))
	b.Close()
	require.False(t, b.Publish(Event{Type: EventEvolutionCompleted}), "closed bus refuses new events")

	ev, err := b.Receive(context.Background())
	require.NoError(t, err)
	require.Equal(t, EventEvolutionCompleted, ev.Type)

	// Double close is safe.
	b.Close()
}

func TestPublishConcurrentWithClose(t *testing.T) {
	t.Parallel()
	b := NewBus(Config{BufferSize: 1})

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				// Must never panic on a closing bus, only report false.
				b.Publish(Event{Type: EventPatternDiscovered})
			}
		}()
	}
	b.Close()
	wg.Wait()

	require.False(t, b.Publish(Event{Type: EventPatternDiscovered}))
	stats := b.GetStats()
	require.LessOrEqual(t, stats.Published+stats.Dropped, int64(3200))
	require.LessOrEqual(t, stats.Buffered, 1)
}
