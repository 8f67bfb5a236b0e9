package clock

import (
	"testing"
	"time"
)

func TestFakeAdvanceFiresInDeadlineOrder(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFake(start)

	var order []string
	c.AfterFunc(300*time.Millisecond, func() { order = append(order, "late") })
	c.AfterFunc(100*time.Millisecond, func() { order = append(order, "early") })
	stopped := c.AfterFunc(200*time.Millisecond, func() { order = append(order, "stopped") })
	if !stopped.Stop() {
		t.Fatalf("expected Stop to cancel a pending timer")
	}

	c.Advance(250 * time.Millisecond)
	if len(order) != 1 || order[0] != "early" {
		t.Fatalf("after 250ms: got %v", order)
	}
	c.Advance(50 * time.Millisecond)
	if len(order) != 2 || order[1] != "late" {
		t.Fatalf("after 300ms: got %v", order)
	}
	if got := c.Now().Sub(start); got != 300*time.Millisecond {
		t.Fatalf("clock position: got %s", got)
	}
	if c.Pending() != 0 {
		t.Fatalf("expected no pending timers, got %d", c.Pending())
	}
}

func TestFakeCallbackCanRearm(t *testing.T) {
	c := NewFake(time.Unix(0, 0))
	fired := 0
	var rearm func()
	rearm = func() {
		fired++
		if fired < 3 {
			c.AfterFunc(10*time.Millisecond, rearm)
		}
	}
	c.AfterFunc(10*time.Millisecond, rearm)
	c.Advance(time.Second)
	if fired != 3 {
		t.Fatalf("expected 3 firings, got %d", fired)
	}
}
