package geo

import (
	"context"
	"testing"
	"time"

	"traefiklens/internal/clock"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

func TestLimiter_NeverExceedsBudgetPerWindow(t *testing.T) {
	clk := clock.NewFake(epoch)
	l := NewLimiter(45, time.Minute, clk)
	ctx := context.Background()

	var grants []time.Time
	for clk.Now().Before(epoch.Add(3 * time.Minute)) {
		require.NoError(t, l.Wait(ctx))
		grants = append(grants, clk.Now())
	}

	for i, start := range grants {
		inWindow := 0
		for _, g := range grants[i:] {
			if g.Sub(start) < time.Minute {
				inWindow++
			}
		}
		require.LessOrEqual(t, inWindow, 45, "window starting at %s", start.Sub(epoch))
	}

	firstMinute := 0
	for _, g := range grants {
		if g.Before(epoch.Add(time.Minute)) {
			firstMinute++
		}
	}
	assert.Equal(t, 45, firstMinute, "the whole budget is still usable")
}

func TestLimiter_SpacesCalls(t *testing.T) {
	clk := clock.NewFake(epoch)
	l := NewLimiter(2, time.Minute, clk)
	ctx := context.Background()

	require.NoError(t, l.Wait(ctx))
	assert.Empty(t, clk.Slept(), "first call is immediate")

	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))
	slept := clk.Slept()
	require.Len(t, slept, 2)
	for _, d := range slept {
		assert.InDelta(t, float64(30*time.Second), float64(d), float64(5*time.Millisecond))
		assert.GreaterOrEqual(t, d, 30*time.Second)
	}
}

func TestLimiter_IdleDoesNotBank(t *testing.T) {
	clk := clock.NewFake(epoch)
	l := NewLimiter(2, time.Minute, clk)
	ctx := context.Background()

	clk.Advance(10 * time.Minute)
	require.NoError(t, l.Wait(ctx))
	require.NoError(t, l.Wait(ctx))
	require.Len(t, clk.Slept(), 1, "a long idle period grants a single call, not a burst")
}

func TestLimiter_CancelledContext(t *testing.T) {
	clk := clock.NewFake(epoch)
	l := NewLimiter(1, time.Minute, clk)

	require.NoError(t, l.Wait(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, l.Wait(ctx), context.Canceled)
	assert.Equal(t, epoch, clk.Now())
}

func TestLimiter_DisabledAndNil(t *testing.T) {
	clk := clock.NewFake(epoch)
	l := NewLimiter(0, time.Minute, clk)
	for i := 0; i < 1000; i++ {
		require.NoError(t, l.Wait(context.Background()))
	}
	assert.Empty(t, clk.Slept())

	var none *Limiter
	assert.NoError(t, none.Wait(context.Background()))
}
