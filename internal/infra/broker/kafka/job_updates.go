package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/IBM/sarama"

	"jobchat/internal/app/handlers/jobs"
	"jobchat/internal/domain/chat"
)

// Applier stores and forwards an external job update.
type Applier interface {
	Apply(ctx context.Context, u jobs.ExternalUpdate) (bool, error)
}

// JobUpdatesHandler decodes job status events, either CloudEvents
// envelopes or bare JSON, and hands them to an Applier.
type JobUpdatesHandler struct {
	Applier Applier
	// IgnoreSource drops events this service published itself.
	IgnoreSource string
	Logger       *slog.Logger
	Observe      func(duplicate bool, err error)
}

type jobEnvelope struct {
	ID     string          `json:"id"`
	Type   string          `json:"type"`
	Source string          `json:"source"`
	Time   *time.Time      `json:"time"`
	Data   json.RawMessage `json:"data"`
}

type jobPayload struct {
	ConversationID string     `json:"conversation_id"`
	JobID          string     `json:"job_id"`
	Status         string     `json:"status"`
	To             string     `json:"to"`
	ExpiresAt      *time.Time `json:"expires_at"`
	At             *time.Time `json:"at"`
}

func (h *JobUpdatesHandler) Handle(ctx context.Context, msg *sarama.ConsumerMessage) error {
	update, skip, err := decodeJobUpdate(msg, h.IgnoreSource)
	if err != nil {
		// Malformed records are logged and committed; retrying cannot fix them.
		if h.Logger != nil {
			h.Logger.Warn("discarding malformed job event", "topic", msg.Topic, "offset", msg.Offset, "error", err)
		}
		h.observe(false, err)
		return nil
	}
	if skip {
		return nil
	}
	applied, err := h.Applier.Apply(ctx, update)
	if errors.Is(err, jobs.ErrInvalidUpdate) {
		h.observe(false, err)
		return nil
	}
	h.observe(err == nil && !applied, err)
	return err
}

func (h *JobUpdatesHandler) observe(duplicate bool, err error) {
	if h.Observe != nil {
		h.Observe(duplicate, err)
	}
}

func decodeJobUpdate(msg *sarama.ConsumerMessage, ignoreSource string) (jobs.ExternalUpdate, bool, error) {
	var env jobEnvelope
	if err := json.Unmarshal(msg.Value, &env); err != nil {
		return jobs.ExternalUpdate{}, false, fmt.Errorf("decode job event: %w", err)
	}
	if ignoreSource != "" && env.Source == ignoreSource {
		return jobs.ExternalUpdate{}, true, nil
	}
	if env.Type != "" && !strings.HasPrefix(env.Type, "job.status_changed") {
		return jobs.ExternalUpdate{}, true, nil
	}
	raw := []byte(env.Data)
	if len(raw) == 0 {
		raw = msg.Value
	}
	var payload jobPayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return jobs.ExternalUpdate{}, false, fmt.Errorf("decode job event data: %w", err)
	}

	update := jobs.ExternalUpdate{
		EventID:        env.ID,
		ConversationID: chat.ConversationID(firstNonEmpty(payload.ConversationID, payload.JobID, string(msg.Key))),
		Status:         firstNonEmpty(payload.To, payload.Status),
		ExpiresAt:      payload.ExpiresAt,
	}
	if update.EventID == "" {
		update.EventID = headerValue(msg, "ce_id")
	}
	switch {
	case payload.At != nil:
		update.At = payload.At.UTC()
	case env.Time != nil:
		update.At = env.Time.UTC()
	default:
		update.At = msg.Timestamp.UTC()
	}
	return update, false, nil
}

func headerValue(msg *sarama.ConsumerMessage, key string) string {
	for _, h := range msg.Headers {
		if h != nil && string(h.Key) == key {
			return string(h.Value)
		}
	}
	return ""
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
