package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

var epoch = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestFakeClockNow(t *testing.T) {
	c := Fake(epoch)
	assert.Equal(t, epoch, c.Now())
	c.Advance(time.Minute)
	assert.Equal(t, epoch.Add(time.Minute), c.Now())
	assert.Equal(t, time.Minute, Since(c, epoch))
}

func TestFakeClockAfter(t *testing.T) {
	c := Fake(epoch)
	ch := c.After(10 * time.Second)

	c.Advance(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired early")
	default:
	}

	c.Advance(5 * time.Second)
	select {
	case got := <-ch:
		assert.Equal(t, epoch.Add(10*time.Second), got)
	default:
		t.Fatal("did not fire")
	}
	assert.Zero(t, c.Pending())
}

func TestFakeClockAfterNonPositive(t *testing.T) {
	c := Fake(epoch)
	select {
	case <-c.After(0):
	default:
		t.Fatal("zero duration should fire immediately")
	}
}

func TestFakeClockTicker(t *testing.T) {
	c := Fake(epoch)
	tk := c.NewTicker(time.Minute)

	c.Advance(time.Minute)
	<-tk.C
	c.Advance(3 * time.Minute)
	<-tk.C
	select {
	case <-tk.C:
		t.Fatal("buffer should hold a single tick")
	default:
	}

	tk.Stop()
	c.Advance(time.Minute)
	select {
	case <-tk.C:
		t.Fatal("stopped ticker fired")
	default:
	}
	assert.Zero(t, c.Pending())
}

func TestFakeClockTickerPanicsOnNonPositive(t *testing.T) {
	assert.Panics(t, func() { Fake(epoch).NewTicker(0) })
}
