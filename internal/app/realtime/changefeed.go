package realtime

import (
	"context"
	"log/slog"
	"time"

	"jobchat/internal/domain/chat"
)

// Publisher is the publishing half of a transport.
type Publisher interface {
	Publish(ctx context.Context, topic Topic, event Event) error
}

// ChangeFeed wraps a MessageStore and announces its writes: every stored
// message as MessageInserted and every read update as ReadReceipt on the
// conversation's messages topic. Publishing is best effort; subscribers
// that miss an event catch up on their next seed.
type ChangeFeed struct {
	chat.MessageStore
	publisher   Publisher
	logger      *slog.Logger
	now         func() time.Time
	afterInsert func(ctx context.Context, msg chat.Message) error
}

// NewChangeFeed decorates store. afterInsert, when set, runs after every
// stored message (for example to record an outbox event).
func NewChangeFeed(store chat.MessageStore, publisher Publisher, logger *slog.Logger, afterInsert func(ctx context.Context, msg chat.Message) error) *ChangeFeed {
	return &ChangeFeed{MessageStore: store, publisher: publisher, logger: logger, now: time.Now, afterInsert: afterInsert}
}

func (f *ChangeFeed) Insert(ctx context.Context, token chat.CorrelationToken, draft chat.Draft) (chat.Message, error) {
	msg, err := f.MessageStore.Insert(ctx, token, draft)
	if err != nil {
		return chat.Message{}, err
	}
	f.publish(ctx, MessagesTopic(msg.ConversationID), MessageInserted{Message: msg})
	if f.afterInsert != nil {
		if err := f.afterInsert(ctx, msg); err != nil && f.logger != nil {
			f.logger.Error("after insert hook failed", "conversation_id", string(msg.ConversationID), "message_id", string(msg.ID), "error", err)
		}
	}
	return msg, nil
}

func (f *ChangeFeed) MarkRead(ctx context.Context, conversationID chat.ConversationID, viewer chat.UserID) (int, error) {
	n, err := f.MessageStore.MarkRead(ctx, conversationID, viewer)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		f.publish(ctx, MessagesTopic(conversationID), ReadReceipt{ConversationID: conversationID, ReaderID: viewer, At: f.now().UTC()})
	}
	return n, nil
}

func (f *ChangeFeed) publish(ctx context.Context, topic Topic, ev Event) {
	if f.publisher == nil {
		return
	}
	if err := f.publisher.Publish(context.WithoutCancel(ctx), topic, ev); err != nil && f.logger != nil {
		f.logger.Warn("realtime publish failed", "topic", topic.String(), "error", err)
	}
}
