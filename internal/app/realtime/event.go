package realtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"jobchat/internal/domain/chat"
)

// Channel is one of the three logical streams every conversation has.
type Channel string

const (
	ChannelMessages Channel = "messages"
	ChannelJob      Channel = "job"
	ChannelPresence Channel = "presence"
)

// Topic addresses one channel of one conversation.
type Topic struct {
	Conversation chat.ConversationID
	Channel      Channel
}

func MessagesTopic(id chat.ConversationID) Topic { return Topic{Conversation: id, Channel: ChannelMessages} }
func JobTopic(id chat.ConversationID) Topic      { return Topic{Conversation: id, Channel: ChannelJob} }
func PresenceTopic(id chat.ConversationID) Topic { return Topic{Conversation: id, Channel: ChannelPresence} }

// String renders the topic as a dotted routing key: conv.<id>.<channel>.
func (t Topic) String() string {
	return "conv." + string(t.Conversation) + "." + string(t.Channel)
}

// ParseTopic is the inverse of Topic.String.
func ParseTopic(raw string) (Topic, error) {
	if !strings.HasPrefix(raw, "conv.") {
		return Topic{}, fmt.Errorf("realtime: malformed topic %q", raw)
	}
	rest := strings.TrimPrefix(raw, "conv.")
	idx := strings.LastIndexByte(rest, '.')
	if idx <= 0 || idx == len(rest)-1 {
		return Topic{}, fmt.Errorf("realtime: malformed topic %q", raw)
	}
	topic := Topic{Conversation: chat.ConversationID(rest[:idx]), Channel: Channel(rest[idx+1:])}
	switch topic.Channel {
	case ChannelMessages, ChannelJob, ChannelPresence:
		return topic, nil
	default:
		return Topic{}, fmt.Errorf("realtime: unknown channel in topic %q", raw)
	}
}

// Event is delivered to subscribers. The concrete types below are the
// complete set.
type Event interface {
	isEvent()
}

// MessageInserted carries a stored message.
type MessageInserted struct {
	Message chat.Message
}

// ReadReceipt tells the sender that Reader has read everything addressed
// to them up to At.
type ReadReceipt struct {
	ConversationID chat.ConversationID
	ReaderID       chat.UserID
	At             time.Time
}

// JobUpdated carries a new job status.
type JobUpdated struct {
	ConversationID chat.ConversationID
	Status         string
	ExpiresAt      *time.Time
	At             time.Time
}

// PresenceChanged carries a typing heartbeat.
type PresenceChanged struct {
	Signal chat.PresenceSignal
}

// ParticipantLeft is the transport's notice that a member's presence
// subscription ended. Subscribers treat it as an implicit "not typing".
type ParticipantLeft struct {
	ConversationID chat.ConversationID
	ParticipantID  chat.UserID
	At             time.Time
}

// Disconnected is emitted locally when a subscription is dropped. No
// further events follow on that subscription.
type Disconnected struct {
	Topic Topic
	Err   error
}

func (MessageInserted) isEvent() {}
func (ReadReceipt) isEvent()     {}
func (JobUpdated) isEvent()      {}
func (PresenceChanged) isEvent() {}
func (ParticipantLeft) isEvent() {}
func (Disconnected) isEvent()    {}

// Handler consumes events of one subscription, one at a time.
type Handler func(Event)

// Transport is the pub/sub backend. Implementations must invoke the sink
// of a subscription sequentially, in publish order, and must deliver a
// Disconnected event (then nothing else) when the subscription drops.
// Presence subscriptions are made on behalf of member so the transport
// can announce ParticipantLeft when it goes away.
type Transport interface {
	Subscribe(ctx context.Context, topic Topic, member chat.UserID, sink Handler) (Subscription, error)
	Publish(ctx context.Context, topic Topic, event Event) error
}

// Subscription is a live transport subscription.
type Subscription interface {
	Close() error
}
