package rabbitmq

import (
	"testing"
	"time"

	"jobchat/internal/app/realtime"
)

func TestMembersCountsPerTopic(t *testing.T) {
	m := newMembers()
	a := realtime.PresenceTopic("job-1")
	b := realtime.PresenceTopic("job-2")

	m.acquire(a, "alice")
	m.acquire(a, "alice")
	m.acquire(b, "alice")

	m.release(a, "alice")
	if !m.holds(a, "alice") {
		t.Fatalf("alice still holds a second subscription on %s", a)
	}
	m.release(a, "alice")
	if m.holds(a, "alice") {
		t.Fatalf("alice released every subscription on %s", a)
	}
	if !m.holds(b, "alice") {
		t.Fatalf("other topics are unaffected")
	}
	m.release(a, "alice")
	if m.holds(a, "alice") {
		t.Fatalf("extra release must not go negative")
	}
}

func TestDepartureOnlyWhenLastLocalSubscriptionEnds(t *testing.T) {
	at := time.Unix(1_000, 0)
	tr := &Transport{presence: newMembers(), now: func() time.Time { return at }}
	topic := realtime.PresenceTopic("job-1")

	tr.presence.acquire(topic, "alice")
	tr.presence.acquire(topic, "alice")
	tr.presence.release(topic, "alice")
	if _, ok := tr.departure(topic, "alice"); ok {
		t.Fatalf("alice still has a live subscription")
	}
	tr.presence.release(topic, "alice")
	left, ok := tr.departure(topic, "alice")
	if !ok {
		t.Fatalf("expected a departure once the last subscription dropped")
	}
	if left.ConversationID != "job-1" || left.ParticipantID != "alice" || !left.At.Equal(at) {
		t.Fatalf("unexpected departure %+v", left)
	}
	if _, ok := tr.departure(realtime.MessagesTopic("job-1"), "alice"); ok {
		t.Fatalf("only presence topics announce departures")
	}
	if _, ok := tr.departure(topic, ""); ok {
		t.Fatalf("anonymous subscriptions never announce")
	}
}
