package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/zhaopengme/toolclaw/pkg/clock"
)

func newFakeCache() (*ResponseCache, *clock.FakeClock) {
	clk := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	return New(5*time.Minute, 10*time.Minute, clk), clk
}

func TestSetThenGet(t *testing.T) {
	c, _ := newFakeCache()
	c.Set("What does X do?", "X does Y")

	got, ok := c.Get("What does X do?")
	assert.True(t, ok)
	assert.Equal(t, "X does Y", got)
}

func TestKeysAreNotNormalized(t *testing.T) {
	c, _ := newFakeCache()
	c.Set("what is x", "a")

	_, ok := c.Get("what is x ")
	assert.False(t, ok)
	_, ok = c.Get("What is x")
	assert.False(t, ok)
}

func TestExpiredEntryIsHiddenBeforeSweep(t *testing.T) {
	c, clk := newFakeCache()
	c.Set("q", "r")

	clk.Advance(5 * time.Minute)
	_, ok := c.Get("q")
	assert.True(t, ok, "entry is valid up to the ttl")

	clk.Advance(time.Second)
	_, ok = c.Get("q")
	assert.False(t, ok)
	assert.Equal(t, 1, c.Len())

	assert.Equal(t, 1, c.Sweep())
	assert.Zero(t, c.Len())
}

func TestSetRefreshesTimestamp(t *testing.T) {
	c, clk := newFakeCache()
	c.Set("q", "old")
	clk.Advance(4 * time.Minute)
	c.Set("q", "new")
	clk.Advance(4 * time.Minute)

	got, ok := c.Get("q")
	assert.True(t, ok)
	assert.Equal(t, "new", got)
}

func TestBackgroundSweep(t *testing.T) {
	c, clk := newFakeCache()
	c.Start(context.Background())
	defer c.Stop()

	c.Set("stale", "1")
	clk.Advance(6 * time.Minute)
	c.Set("fresh", "2")

	clk.Advance(4 * time.Minute)
	assert.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, 5*time.Millisecond)
	_, ok := c.Get("fresh")
	assert.True(t, ok)
}

func TestStopWithoutStart(t *testing.T) {
	c, _ := newFakeCache()
	c.Stop()
	c.Stop()
}

func TestStartStopsOnContextCancel(t *testing.T) {
	c, clk := newFakeCache()
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	cancel()
	c.Stop()
	assert.Eventually(t, func() bool { return clk.Pending() == 0 }, time.Second, 5*time.Millisecond)
}
