package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobchat/internal/domain/chat"
)

// MessageStore keeps conversation logs in memory. Inserts are serialised
// per store so every conversation gets strictly increasing timestamps.
type MessageStore struct {
	mu     sync.RWMutex
	logs   map[chat.ConversationID][]chat.Message
	tokens map[chat.CorrelationToken]chat.Message
	lastAt map[chat.ConversationID]time.Time
	now    func() time.Time
	newID  func() chat.MessageID
}

// NewMessageStore builds an empty store.
func NewMessageStore() *MessageStore {
	return &MessageStore{
		logs:   make(map[chat.ConversationID][]chat.Message),
		tokens: make(map[chat.CorrelationToken]chat.Message),
		lastAt: make(map[chat.ConversationID]time.Time),
		now:    time.Now,
		newID:  func() chat.MessageID { return chat.MessageID(uuid.NewString()) },
	}
}

// WithClock overrides the timestamp source.
func (s *MessageStore) WithClock(now func() time.Time) *MessageStore {
	s.now = now
	return s
}

func (s *MessageStore) Insert(ctx context.Context, token chat.CorrelationToken, draft chat.Draft) (chat.Message, error) {
	if err := ctx.Err(); err != nil {
		return chat.Message{}, err
	}
	if draft.ConversationID == "" || draft.SenderID == "" {
		return chat.Message{}, errors.New("memory: conversation and sender are required")
	}
	if draft.Content == nil {
		return chat.Message{}, errors.New("memory: content is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if token != "" {
		if existing, ok := s.tokens[token]; ok {
			return existing, nil
		}
	}
	at := s.now().UTC()
	if last, ok := s.lastAt[draft.ConversationID]; ok && !at.After(last) {
		at = last.Add(time.Microsecond)
	}
	msg := chat.Message{
		ID:             s.newID(),
		Token:          token,
		ConversationID: draft.ConversationID,
		SenderID:       draft.SenderID,
		ReceiverID:     draft.ReceiverID,
		Content:        draft.Content,
		CreatedAt:      at,
	}
	s.logs[draft.ConversationID] = append(s.logs[draft.ConversationID], msg)
	s.lastAt[draft.ConversationID] = at
	if token != "" {
		s.tokens[token] = msg
	}
	return msg, nil
}

func (s *MessageStore) Range(ctx context.Context, conversationID chat.ConversationID) ([]chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[conversationID]
	out := make([]chat.Message, len(log))
	copy(out, log)
	return out, nil
}

func (s *MessageStore) Latest(ctx context.Context, conversationID chat.ConversationID) (chat.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	log := s.logs[conversationID]
	if len(log) == 0 {
		return chat.Message{}, chat.ErrMessageNotFound
	}
	return log[len(log)-1], nil
}

func (s *MessageStore) MarkRead(ctx context.Context, conversationID chat.ConversationID, viewer chat.UserID) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	log := s.logs[conversationID]
	changed := 0
	for i := range log {
		if log[i].ReceiverID == viewer && !log[i].Read {
			log[i].Read = true
			if log[i].Token != "" {
				s.tokens[log[i].Token] = log[i]
			}
			changed++
		}
	}
	return changed, nil
}

// CountUnread counts unread messages addressed to viewer.
func (s *MessageStore) CountUnread(ctx context.Context, conversationID chat.ConversationID, viewer chat.UserID) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, msg := range s.logs[conversationID] {
		if msg.ReceiverID == viewer && !msg.Read {
			n++
		}
	}
	return n, nil
}
