// Package jobs handles the job status transitions a conversation can trigger.
package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"jobchat/internal/app/commands"
	"jobchat/internal/app/outbox"
	"jobchat/internal/app/realtime"
	"jobchat/internal/domain/chat"
	"jobchat/internal/domain/shared/events"
)

const (
	KeyComplete = "jobs.complete"
	KeyCancel   = "jobs.cancel"
)

// CompleteJob marks the job done from the actor's side: a provider moves
// it to provider_completed, a seeker to completed.
type CompleteJob struct {
	ConversationID chat.ConversationID
	ActorID        chat.UserID
}

func (CompleteJob) Key() string { return KeyComplete }

func (c CompleteJob) Validate() error { return validate("complete", c.ConversationID, c.ActorID) }

// CancelJob moves the job to cancelled.
type CancelJob struct {
	ConversationID chat.ConversationID
	ActorID        chat.UserID
}

func (CancelJob) Key() string { return KeyCancel }

func (c CancelJob) Validate() error { return validate("cancel", c.ConversationID, c.ActorID) }

func validate(op string, conversation chat.ConversationID, actor chat.UserID) error {
	if strings.TrimSpace(string(conversation)) == "" {
		return chat.Validationf(op, "conversation id is required")
	}
	if strings.TrimSpace(string(actor)) == "" {
		return chat.Validationf(op, "actor is required")
	}
	return nil
}

// Result is what a transition returns.
type Result struct {
	Job  chat.Job
	From string
}

// Publisher announces job updates on the realtime transport.
type Publisher interface {
	Publish(ctx context.Context, topic realtime.Topic, event realtime.Event) error
}

// TransitionHandler applies CompleteJob and CancelJob. Whether a
// transition is legal is the job store's call.
type TransitionHandler struct {
	Jobs      chat.JobStore
	Outbox    outbox.Outbox
	Encoder   outbox.EventEncoder
	Publisher Publisher
	Logger    *slog.Logger
	Now       func() time.Time
}

// Register binds both commands on bus.
func (h *TransitionHandler) Register(bus *commands.InMemoryBus) {
	commands.RegisterHandler[CompleteJob, Result](bus, KeyComplete, commands.HandlerFunc[CompleteJob, Result](h.Complete))
	commands.RegisterHandler[CancelJob, Result](bus, KeyCancel, commands.HandlerFunc[CancelJob, Result](h.Cancel))
}

func (h *TransitionHandler) Complete(ctx context.Context, cmd CompleteJob) (Result, error) {
	job, err := h.load(ctx, "complete", cmd.ConversationID)
	if err != nil {
		return Result{}, err
	}
	var target string
	switch cmd.ActorID {
	case job.ProviderID:
		target = chat.StatusProviderCompleted
	case job.SeekerID:
		target = chat.StatusCompleted
	default:
		return Result{}, chat.NewError(chat.KindForbidden, "complete", nil)
	}
	return h.transition(ctx, job, cmd.ActorID, target)
}

func (h *TransitionHandler) Cancel(ctx context.Context, cmd CancelJob) (Result, error) {
	job, err := h.load(ctx, "cancel", cmd.ConversationID)
	if err != nil {
		return Result{}, err
	}
	if role := chat.ConversationFromJob(job).RoleOf(cmd.ActorID, chat.Profile{ID: cmd.ActorID}); role != chat.RoleSeeker && role != chat.RoleProvider {
		return Result{}, chat.NewError(chat.KindForbidden, "cancel", nil)
	}
	return h.transition(ctx, job, cmd.ActorID, chat.StatusCancelled)
}

func (h *TransitionHandler) load(ctx context.Context, op string, id chat.ConversationID) (chat.Job, error) {
	job, err := h.Jobs.Job(ctx, id)
	switch {
	case err == nil:
		return job, nil
	case chat.KindOf(err) != chat.KindUnknown:
		return chat.Job{}, err
	case errors.Is(err, chat.ErrConversationNotFound):
		return chat.Job{}, chat.NewError(chat.KindNotFound, op, err)
	default:
		return chat.Job{}, chat.NewError(chat.KindPersistence, op, err)
	}
}

func (h *TransitionHandler) transition(ctx context.Context, job chat.Job, actor chat.UserID, target string) (Result, error) {
	from := job.Status
	updated, err := h.Jobs.UpdateStatus(ctx, job.ID, target)
	if err != nil {
		return Result{}, chat.NewError(chat.KindPersistence, "update job status", err)
	}
	at := h.now()
	var rec events.Recorder
	rec.Record(chat.JobStatusChanged{ConversationID: job.ID, ActorID: actor, From: from, To: updated.Status, At: at})
	if err := outbox.RecordDomainEvents(ctx, h.Outbox, h.Encoder, rec.PendingEvents()); err != nil && h.Logger != nil {
		h.Logger.Error("record job status event", "conversation_id", string(job.ID), "error", err)
	}
	if h.Publisher != nil {
		ev := realtime.JobUpdated{ConversationID: job.ID, Status: updated.Status, ExpiresAt: updated.ExpiresAt, At: at}
		if err := h.Publisher.Publish(ctx, realtime.JobTopic(job.ID), ev); err != nil && h.Logger != nil {
			h.Logger.Warn("publish job update", "conversation_id", string(job.ID), "error", err)
		}
	}
	return Result{Job: updated, From: from}, nil
}

func (h *TransitionHandler) now() time.Time {
	if h.Now != nil {
		return h.Now().UTC()
	}
	return time.Now().UTC()
}

// ParticipantAuthorizer lets only the job's seeker and provider run
// transitions. Support observers and strangers are refused.
type ParticipantAuthorizer struct {
	Jobs chat.JobStore
}

func (a ParticipantAuthorizer) Authorize(ctx context.Context, cmd commands.Command) error {
	var (
		conversation chat.ConversationID
		actor        chat.UserID
	)
	switch c := cmd.(type) {
	case CompleteJob:
		conversation, actor = c.ConversationID, c.ActorID
	case CancelJob:
		conversation, actor = c.ConversationID, c.ActorID
	default:
		return nil
	}
	job, err := a.Jobs.Job(ctx, conversation)
	if err != nil {
		if errors.Is(err, chat.ErrConversationNotFound) {
			return chat.NewError(chat.KindNotFound, "authorize", err)
		}
		return chat.NewError(chat.KindPersistence, "authorize", err)
	}
	role := chat.ConversationFromJob(job).RoleOf(actor, chat.Profile{ID: actor})
	if role != chat.RoleSeeker && role != chat.RoleProvider {
		return chat.NewError(chat.KindForbidden, "authorize", nil)
	}
	return nil
}
