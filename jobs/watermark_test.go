package jobs

import (
	"context"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestWatermark(t *testing.T) (*Watermark, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWatermark(client), mr
}

func TestWatermarkAdvancesMonotonically(t *testing.T) {
	wm, _ := newTestWatermark(t)
	ctx := context.Background()
	tick := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	due, err := wm.Due(ctx, "visits", tick)
	require.NoError(t, err)
	require.True(t, due)

	moved, err := wm.Advance(ctx, "visits", tick)
	require.NoError(t, err)
	require.True(t, moved)

	due, err = wm.Due(ctx, "visits", tick)
	require.NoError(t, err)
	require.False(t, due)

	moved, err = wm.Advance(ctx, "visits", tick.Add(-time.Hour))
	require.NoError(t, err)
	require.False(t, moved)

	last, err := wm.Last(ctx, "visits")
	require.NoError(t, err)
	require.Equal(t, tick, last)

	due, err = wm.Due(ctx, "visits", tick.Add(time.Hour))
	require.NoError(t, err)
	require.True(t, due)
}

func TestWatermarkKeysArePerPass(t *testing.T) {
	wm, mr := newTestWatermark(t)
	ctx := context.Background()
	tick := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	_, err := wm.Advance(ctx, "aging", tick)
	require.NoError(t, err)
	require.True(t, mr.Exists("fsm:scheduler:aging:watermark"))

	due, err := wm.Due(ctx, "renewal", tick)
	require.NoError(t, err)
	require.True(t, due)
}

func TestNilWatermarkAlwaysDue(t *testing.T) {
	wm := NewWatermark(nil)
	ctx := context.Background()
	tick := time.Date(2024, 6, 15, 10, 0, 0, 0, time.UTC)

	moved, err := wm.Advance(ctx, "visits", tick)
	require.NoError(t, err)
	require.True(t, moved)
	due, err := wm.Due(ctx, "visits", tick)
	require.NoError(t, err)
	require.True(t, due)
}
