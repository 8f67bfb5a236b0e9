package jobs_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"jobchat/internal/app/handlers/jobs"
	"jobchat/internal/app/realtime"
	"jobchat/internal/domain/chat"
	"jobchat/internal/infra/storage/memory"
)

func newSync() (*jobs.SyncHandler, *memory.JobStore, *recordingPublisher) {
	store := memory.NewJobStore(chat.Job{ID: "job-1", SeekerID: "seeker", ProviderID: "provider", Status: chat.StatusAccepted})
	pub := &recordingPublisher{}
	return &jobs.SyncHandler{Jobs: store, Inbox: memory.NewInbox(), Publisher: pub}, store, pub
}

func TestSyncAppliesOnce(t *testing.T) {
	h, store, pub := newSync()
	ctx := context.Background()
	update := jobs.ExternalUpdate{EventID: "evt-1", ConversationID: "job-1", Status: " PAID ", At: time.Unix(50, 0)}

	applied, err := h.Apply(ctx, update)
	if err != nil || !applied {
		t.Fatalf("first apply: %v %v", applied, err)
	}
	applied, err = h.Apply(ctx, update)
	if err != nil || applied {
		t.Fatalf("redelivery should be skipped: %v %v", applied, err)
	}
	job, _ := store.Job(ctx, "job-1")
	if job.Status != chat.StatusPaid {
		t.Fatalf("status %q", job.Status)
	}
	if len(pub.events) != 1 {
		t.Fatalf("expected one realtime event, got %d", len(pub.events))
	}
	ev, ok := pub.events[0].(realtime.JobUpdated)
	if !ok || ev.Status != chat.StatusPaid || !ev.At.Equal(time.Unix(50, 0)) {
		t.Fatalf("unexpected event %#v", pub.events[0])
	}
}

func TestSyncSkipsNoopAndUnknown(t *testing.T) {
	h, _, pub := newSync()
	ctx := context.Background()
	if applied, err := h.Apply(ctx, jobs.ExternalUpdate{EventID: "a", ConversationID: "job-1", Status: chat.StatusAccepted}); err != nil || applied {
		t.Fatalf("same status: %v %v", applied, err)
	}
	if applied, err := h.Apply(ctx, jobs.ExternalUpdate{EventID: "b", ConversationID: "job-9", Status: chat.StatusPaid}); err != nil || applied {
		t.Fatalf("unknown job: %v %v", applied, err)
	}
	if _, err := h.Apply(ctx, jobs.ExternalUpdate{EventID: "c", ConversationID: "job-1"}); !errors.Is(err, jobs.ErrInvalidUpdate) {
		t.Fatalf("expected invalid update, got %v", err)
	}
	if len(pub.events) != 0 {
		t.Fatalf("nothing should be published, got %d", len(pub.events))
	}
}

func TestSyncForwardsNewExpiry(t *testing.T) {
	h, _, pub := newSync()
	expires := time.Unix(500, 0).UTC()
	applied, err := h.Apply(context.Background(), jobs.ExternalUpdate{EventID: "x", ConversationID: "job-1", Status: chat.StatusAccepted, ExpiresAt: &expires})
	if err != nil || !applied {
		t.Fatalf("expiry change: %v %v", applied, err)
	}
	ev := pub.events[0].(realtime.JobUpdated)
	if ev.ExpiresAt == nil || !ev.ExpiresAt.Equal(expires) {
		t.Fatalf("expiry not forwarded: %#v", ev)
	}
}
