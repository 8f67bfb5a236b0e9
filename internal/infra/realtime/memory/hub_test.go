package memory

import (
	"context"
	"errors"
	"testing"

	"jobchat/internal/app/realtime"
)

func TestPresenceCloseAnnouncesDeparture(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	topic := realtime.PresenceTopic("job-1")

	var got []realtime.Event
	watcher, err := hub.Subscribe(ctx, topic, "seeker", func(ev realtime.Event) { got = append(got, ev) })
	if err != nil {
		t.Fatalf("subscribe watcher: %v", err)
	}
	defer watcher.Close()

	first, _ := hub.Subscribe(ctx, topic, "provider", func(realtime.Event) {})
	second, _ := hub.Subscribe(ctx, topic, "provider", func(realtime.Event) {})

	if err := first.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("provider still has a session, no departure expected: %v", got)
	}
	_ = second.Close()
	_ = second.Close()
	if len(got) != 1 {
		t.Fatalf("expected exactly one departure, got %v", got)
	}
	left, ok := got[0].(realtime.ParticipantLeft)
	if !ok || left.ParticipantID != "provider" || left.ConversationID != "job-1" {
		t.Fatalf("unexpected event %#v", got[0])
	}
}

func TestDropDeliversDisconnectedOnce(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	topic := realtime.MessagesTopic("job-1")

	var got []realtime.Event
	sub, _ := hub.Subscribe(ctx, topic, "seeker", func(ev realtime.Event) { got = append(got, ev) })
	cause := errors.New("reset")
	hub.Drop(topic, "", cause)
	hub.Drop(topic, "", cause)
	_ = sub.Close()

	if len(got) != 1 {
		t.Fatalf("expected one event, got %d", len(got))
	}
	if d, ok := got[0].(realtime.Disconnected); !ok || !errors.Is(d.Err, cause) {
		t.Fatalf("unexpected event %#v", got[0])
	}
	if hub.Subscribers(topic) != 0 {
		t.Fatalf("dropped subscription still registered")
	}
}

func TestPublishRejectsLocalEventsAndAfterClose(t *testing.T) {
	hub := NewHub()
	ctx := context.Background()
	topic := realtime.JobTopic("job-1")
	if err := hub.Publish(ctx, topic, realtime.Disconnected{}); err == nil {
		t.Fatalf("expected Disconnected publish to fail")
	}
	_ = hub.Close()
	if _, err := hub.Subscribe(ctx, topic, "", func(realtime.Event) {}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
