package jobs

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"jobchat/internal/app/realtime"
	"jobchat/internal/domain/chat"
)

// ExternalUpdate is a job status change made outside this service.
type ExternalUpdate struct {
	EventID        string
	ConversationID chat.ConversationID
	Status         string
	ExpiresAt      *time.Time
	At             time.Time
}

// Inbox remembers processed event ids.
type Inbox interface {
	// Seen records id and reports whether it was already recorded.
	Seen(ctx context.Context, id string) (bool, error)
}

// SyncHandler applies job status changes announced by the job system and
// forwards them to live conversations.
type SyncHandler struct {
	Jobs      chat.JobStore
	Inbox     Inbox
	Publisher Publisher
	Logger    *slog.Logger
}

// ErrInvalidUpdate marks updates that cannot ever be applied.
var ErrInvalidUpdate = errors.New("jobs: invalid external update")

// Apply stores the new status and publishes it. It reports false for
// redelivered events and for updates that do not change the job.
func (h *SyncHandler) Apply(ctx context.Context, u ExternalUpdate) (bool, error) {
	status := strings.ToLower(strings.TrimSpace(u.Status))
	if u.ConversationID == "" || status == "" {
		return false, ErrInvalidUpdate
	}
	if h.Inbox != nil && u.EventID != "" {
		seen, err := h.Inbox.Seen(ctx, u.EventID)
		if err != nil {
			return false, err
		}
		if seen {
			return false, nil
		}
	}

	current, err := h.Jobs.Job(ctx, u.ConversationID)
	if err != nil {
		if errors.Is(err, chat.ErrConversationNotFound) {
			if h.Logger != nil {
				h.Logger.Debug("job update for unknown conversation", "conversation_id", string(u.ConversationID))
			}
			return false, nil
		}
		return false, err
	}
	if current.Status == status && u.ExpiresAt == nil {
		return false, nil
	}
	updated := current
	if current.Status != status {
		if updated, err = h.Jobs.UpdateStatus(ctx, u.ConversationID, status); err != nil {
			return false, err
		}
	}
	expires := updated.ExpiresAt
	if u.ExpiresAt != nil {
		expires = u.ExpiresAt
	}
	at := u.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	if h.Publisher != nil {
		ev := realtime.JobUpdated{ConversationID: u.ConversationID, Status: updated.Status, ExpiresAt: expires, At: at}
		if err := h.Publisher.Publish(ctx, realtime.JobTopic(u.ConversationID), ev); err != nil {
			return true, err
		}
	}
	if h.Logger != nil {
		h.Logger.Info("job status synced", "conversation_id", string(u.ConversationID), "from", current.Status, "to", updated.Status)
	}
	return true, nil
}
