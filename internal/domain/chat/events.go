package chat

import "time"

// MessageSent is recorded once a message is stored.
type MessageSent struct {
	MessageID      MessageID      `json:"message_id"`
	ConversationID ConversationID `json:"conversation_id"`
	SenderID       UserID         `json:"sender_id"`
	ReceiverID     UserID         `json:"receiver_id"`
	Kind           string         `json:"kind"`
	At             time.Time      `json:"at"`
}

func (e MessageSent) EventName() string     { return "message.sent" }
func (e MessageSent) AggregateID() string   { return string(e.ConversationID) }
func (e MessageSent) OccurredAt() time.Time { return e.At }

// JobStatusChanged is recorded when this core transitions a job.
type JobStatusChanged struct {
	ConversationID ConversationID `json:"conversation_id"`
	ActorID        UserID         `json:"actor_id"`
	From           string         `json:"from"`
	To             string         `json:"to"`
	At             time.Time      `json:"at"`
}

func (e JobStatusChanged) EventName() string     { return "job.status_changed" }
func (e JobStatusChanged) AggregateID() string   { return string(e.ConversationID) }
func (e JobStatusChanged) OccurredAt() time.Time { return e.At }

// ContentKind names the content variant for events and metrics.
func ContentKind(c Content) string {
	switch c.(type) {
	case FileContent:
		return "file"
	default:
		return "text"
	}
}
