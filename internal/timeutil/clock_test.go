package timeutil

import (
	"testing"
	"time"
)

func TestRealClockNow(t *testing.T) {
	before := time.Now()
	got := RealClock{}.Now()
	if got.Before(before) {
		t.Errorf("RealClock.Now() = %v, earlier than %v", got, before)
	}
}

func TestMockClockAdvance(t *testing.T) {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewMockClock(start)

	c.Advance(3 * time.Second)
	if want := start.Add(3 * time.Second); !c.Now().Equal(want) {
		t.Errorf("Now() = %v, want %v", c.Now(), want)
	}

	c.Set(start)
	if !c.Now().Equal(start) {
		t.Errorf("Set did not rewind clock")
	}
}

func TestMockTickerFiresOnAdvance(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(100 * time.Millisecond)
	defer tk.Stop()

	c.Advance(50 * time.Millisecond)
	select {
	case <-tk.C():
		t.Fatal("ticker fired before interval elapsed")
	default:
	}

	c.Advance(50 * time.Millisecond)
	select {
	case <-tk.C():
	default:
		t.Fatal("ticker did not fire after interval elapsed")
	}
}

func TestMockTickerStopped(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	tk := c.NewTicker(time.Second)
	tk.Stop()

	c.Advance(2 * time.Second)
	select {
	case <-tk.C():
		t.Fatal("stopped ticker fired")
	default:
	}
}

func TestMockTickerTrigger(t *testing.T) {
	c := NewMockClock(time.Unix(0, 0))
	mt := c.NewTicker(time.Hour).(*MockTicker)

	mt.Trigger(time.Unix(5, 0))
	mt.Trigger(time.Unix(6, 0)) // dropped, channel already holds a tick

	got := <-mt.C()
	if !got.Equal(time.Unix(5, 0)) {
		t.Errorf("tick = %v, want %v", got, time.Unix(5, 0))
	}
	if len(c.Tickers()) != 1 {
		t.Errorf("Tickers() = %d, want 1", len(c.Tickers()))
	}
}
