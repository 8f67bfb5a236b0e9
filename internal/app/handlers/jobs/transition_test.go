package jobs_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"jobchat/internal/app/commands"
	"jobchat/internal/app/handlers/jobs"
	"jobchat/internal/app/middleware"
	"jobchat/internal/app/realtime"
	"jobchat/internal/domain/chat"
	"jobchat/internal/infra/storage/memory"
)

type recordingPublisher struct {
	events []realtime.Event
}

func (p *recordingPublisher) Publish(_ context.Context, _ realtime.Topic, ev realtime.Event) error {
	p.events = append(p.events, ev)
	return nil
}

func newBus(t *testing.T) (commands.Bus, *memory.JobStore, *memory.Outbox, *recordingPublisher) {
	t.Helper()
	store := memory.NewJobStore(chat.Job{ID: "job-1", Title: "Fix tap", SeekerID: "seeker", ProviderID: "provider", Status: chat.StatusAccepted})
	box := memory.NewOutbox()
	pub := &recordingPublisher{}
	handler := &jobs.TransitionHandler{Jobs: store, Outbox: box, Publisher: pub, Now: func() time.Time { return time.Unix(100, 0) }}
	base := commands.NewInMemoryBus()
	handler.Register(base)
	bus := middleware.ChainCommands(base,
		middleware.Validation(),
		middleware.Authorization(jobs.ParticipantAuthorizer{Jobs: store}),
		middleware.OutboxFlush(box),
	)
	return bus, store, box, pub
}

func TestCompleteDependsOnRole(t *testing.T) {
	cases := []struct {
		actor chat.UserID
		want  string
	}{
		{"provider", chat.StatusProviderCompleted},
		{"seeker", chat.StatusCompleted},
	}
	for _, tc := range cases {
		bus, store, box, pub := newBus(t)
		res, err := commands.Dispatch[jobs.CompleteJob, jobs.Result](context.Background(), bus, jobs.CompleteJob{ConversationID: "job-1", ActorID: tc.actor})
		if err != nil {
			t.Fatalf("%s: complete: %v", tc.actor, err)
		}
		if res.Job.Status != tc.want || res.From != chat.StatusAccepted {
			t.Fatalf("%s: got %#v", tc.actor, res)
		}
		job, _ := store.Job(context.Background(), "job-1")
		if job.Status != tc.want {
			t.Fatalf("%s: store not updated: %s", tc.actor, job.Status)
		}
		if chat.EvaluateGate(job.Status) != chat.GateLocked {
			t.Fatalf("%s: completed job must lock the gate", tc.actor)
		}

		records := box.Records()
		if len(records) != 1 || records[0].Name != "job.status_changed" {
			t.Fatalf("%s: outbox %#v", tc.actor, records)
		}
		var payload chat.JobStatusChanged
		if err := json.Unmarshal(records[0].Payload, &payload); err != nil || payload.To != tc.want {
			t.Fatalf("%s: payload %s (%v)", tc.actor, records[0].Payload, err)
		}
		if claimed, _ := box.Claim(context.Background(), "w"); claimed == nil {
			t.Fatalf("%s: flushed record should be claimable", tc.actor)
		}

		if len(pub.events) != 1 {
			t.Fatalf("%s: expected one job update, got %d", tc.actor, len(pub.events))
		}
		if ev, ok := pub.events[0].(realtime.JobUpdated); !ok || ev.Status != tc.want {
			t.Fatalf("%s: unexpected event %#v", tc.actor, pub.events[0])
		}
	}
}

func TestCancelAndRefusals(t *testing.T) {
	bus, _, box, _ := newBus(t)
	ctx := context.Background()

	_, err := commands.Dispatch[jobs.CancelJob, jobs.Result](ctx, bus, jobs.CancelJob{ConversationID: "job-1", ActorID: "stranger"})
	if !errors.Is(err, chat.ErrForbidden) {
		t.Fatalf("stranger: expected forbidden, got %v", err)
	}
	_, err = commands.Dispatch[jobs.CancelJob, jobs.Result](ctx, bus, jobs.CancelJob{ConversationID: "job-1"})
	if !errors.Is(err, chat.ErrValidation) {
		t.Fatalf("missing actor: expected validation, got %v", err)
	}
	_, err = commands.Dispatch[jobs.CancelJob, jobs.Result](ctx, bus, jobs.CancelJob{ConversationID: "nope", ActorID: "seeker"})
	if !errors.Is(err, chat.ErrNotFound) {
		t.Fatalf("unknown job: expected not found, got %v", err)
	}
	if len(box.Records()) != 0 {
		t.Fatalf("refused commands must not record events")
	}

	res, err := commands.Dispatch[jobs.CancelJob, jobs.Result](ctx, bus, jobs.CancelJob{ConversationID: "job-1", ActorID: "seeker"})
	if err != nil || res.Job.Status != chat.StatusCancelled {
		t.Fatalf("cancel: %#v, %v", res, err)
	}
}
