package presence

import (
	"testing"
	"time"

	"jobchat/internal/domain/chat"
	"jobchat/internal/domain/shared/clock"
)

var start = time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)

func TestTypingDecaysAfterIdleWindow(t *testing.T) {
	c := clock.NewFake(start)
	agg := NewAggregator(c, 0)
	deb := NewDebouncer(c, chat.DefaultTypingIdle, 0, func(typing bool) {
		agg.Heartbeat(chat.PresenceSignal{ConversationID: "job-1", ParticipantID: "provider", Typing: typing, At: c.Now()})
	})

	deb.Keystroke()
	if !agg.IsAnyoneElseTyping("job-1", "seeker") {
		t.Fatalf("expected provider to be typing")
	}
	if agg.IsAnyoneElseTyping("job-1", "provider") {
		t.Fatalf("own signal must not count")
	}

	c.Advance(899 * time.Millisecond)
	if !agg.IsAnyoneElseTyping("job-1", "seeker") {
		t.Fatalf("still inside the idle window")
	}
	c.Advance(time.Millisecond)
	if agg.IsAnyoneElseTyping("job-1", "seeker") {
		t.Fatalf("expected typing to stop after 900ms idle")
	}
}

func TestDebouncerResetsOnEachKeystrokeAndStopsOnce(t *testing.T) {
	c := clock.NewFake(start)
	var emitted []bool
	deb := NewDebouncer(c, 900*time.Millisecond, 450*time.Millisecond, func(typing bool) { emitted = append(emitted, typing) })

	for i := 0; i < 10; i++ {
		deb.Keystroke()
		c.Advance(100 * time.Millisecond)
	}
	// 1s of typing: the initial true plus two throttled refreshes.
	trues := 0
	for _, v := range emitted {
		if !v {
			t.Fatalf("stop fired while typing: %v", emitted)
		}
		trues++
	}
	if trues < 2 || trues > 3 {
		t.Fatalf("expected throttled refreshes, got %v", emitted)
	}

	c.Advance(time.Second)
	c.Advance(time.Second)
	falses := 0
	for _, v := range emitted {
		if !v {
			falses++
		}
	}
	if falses != 1 || emitted[len(emitted)-1] {
		t.Fatalf("expected exactly one trailing stop, got %v", emitted)
	}
	if deb.Typing() {
		t.Fatalf("debouncer should be idle")
	}
}

func TestDebouncerStopEndsTypingAndCancelsDelayedStop(t *testing.T) {
	c := clock.NewFake(start)
	var emitted []bool
	deb := NewDebouncer(c, 0, 0, func(typing bool) { emitted = append(emitted, typing) })

	deb.Keystroke()
	if !deb.Stop() {
		t.Fatalf("expected a pending stop to be cancelled")
	}
	if len(emitted) != 2 || !emitted[0] || emitted[1] {
		t.Fatalf("expected true then an immediate false, got %v", emitted)
	}
	if c.Pending() != 0 {
		t.Fatalf("timer leaked")
	}
	c.Advance(5 * time.Second)
	deb.Keystroke()
	deb.Stop()
	if len(emitted) != 2 {
		t.Fatalf("stopped debouncer must stay silent, got %v", emitted)
	}
}

func TestDebouncerStopWhenIdleIsSilent(t *testing.T) {
	c := clock.NewFake(start)
	var emitted []bool
	deb := NewDebouncer(c, 0, 0, func(typing bool) { emitted = append(emitted, typing) })

	deb.Keystroke()
	c.Advance(5 * time.Second)
	if deb.Stop() {
		t.Fatalf("no stop should be pending after idle")
	}
	if len(emitted) != 2 {
		t.Fatalf("expected true then the idle false only, got %v", emitted)
	}
}

func TestDebouncerIdleEmitsImmediately(t *testing.T) {
	c := clock.NewFake(start)
	var emitted []bool
	deb := NewDebouncer(c, 0, 0, func(typing bool) { emitted = append(emitted, typing) })
	deb.Idle()
	if len(emitted) != 0 {
		t.Fatalf("idle without typing must not emit")
	}
	deb.Keystroke()
	deb.Idle()
	c.Advance(2 * time.Second)
	if len(emitted) != 2 || !emitted[0] || emitted[1] {
		t.Fatalf("expected [true false], got %v", emitted)
	}
}

func TestAggregatorKeepsLatestSignal(t *testing.T) {
	c := clock.NewFake(start)
	agg := NewAggregator(c, 0)

	newer := chat.PresenceSignal{ConversationID: "job-1", ParticipantID: "provider", Typing: false, At: start.Add(time.Second)}
	older := chat.PresenceSignal{ConversationID: "job-1", ParticipantID: "provider", Typing: true, At: start}
	agg.Heartbeat(newer)
	if agg.Heartbeat(older) {
		t.Fatalf("out-of-order signal must be ignored")
	}
	if agg.IsAnyoneElseTyping("job-1", "seeker") {
		t.Fatalf("latest signal says not typing")
	}
}

func TestParticipantLeftClearsTyping(t *testing.T) {
	agg := NewAggregator(clock.NewFake(start), 0)
	agg.Heartbeat(chat.PresenceSignal{ConversationID: "job-1", ParticipantID: "provider", Typing: true, At: start})
	if !agg.Left("job-1", "provider") {
		t.Fatalf("expected a change")
	}
	if agg.IsAnyoneElseTyping("job-1", "seeker") {
		t.Fatalf("departed participant still typing")
	}
}

func TestStaleAfterExpiresSignals(t *testing.T) {
	c := clock.NewFake(start)
	agg := NewAggregator(c, 3*time.Second)
	agg.Heartbeat(chat.PresenceSignal{ConversationID: "job-1", ParticipantID: "provider", Typing: true, At: start})
	c.Advance(2 * time.Second)
	if !agg.IsAnyoneElseTyping("job-1", "seeker") {
		t.Fatalf("signal should still be live")
	}
	c.Advance(2 * time.Second)
	if agg.IsAnyoneElseTyping("job-1", "seeker") {
		t.Fatalf("signal should have gone stale")
	}
}
