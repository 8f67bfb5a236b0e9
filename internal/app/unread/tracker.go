// Package unread keeps per-viewer unread counts and read boundaries.
package unread

import (
	"context"
	"sync"
	"time"

	"jobchat/internal/domain/chat"
)

type key struct {
	viewer       chat.UserID
	conversation chat.ConversationID
}

type state struct {
	// unread holds the ids counted as unread, with their creation time.
	unread map[chat.MessageID]time.Time
	// readThrough is the newest message known to be read. Messages at
	// or before it are never counted again.
	readThrough time.Time
}

// Tracker counts unread messages for tracked (viewer, conversation)
// pairs. Counting is by message id, so a replayed event is not counted
// twice.
type Tracker struct {
	store    chat.MessageStore
	onChange func(viewer chat.UserID, conversation chat.ConversationID, count int)

	mu     sync.Mutex
	states map[key]*state
}

// New builds a tracker. onChange, when set, runs after each count change
// outside the tracker lock.
func New(store chat.MessageStore, onChange func(viewer chat.UserID, conversation chat.ConversationID, count int)) *Tracker {
	return &Tracker{store: store, onChange: onChange, states: make(map[key]*state)}
}

// Track starts counting for viewer in conversation. Tracking twice is a no-op.
func (t *Tracker) Track(viewer chat.UserID, conversation chat.ConversationID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	k := key{viewer, conversation}
	if _, ok := t.states[k]; !ok {
		t.states[k] = &state{unread: make(map[chat.MessageID]time.Time)}
	}
}

// Forget drops the state for viewer in conversation.
func (t *Tracker) Forget(viewer chat.UserID, conversation chat.ConversationID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.states, key{viewer, conversation})
}

// OnIncoming counts msg for its receiver when that pair is tracked. It
// returns true only when the message is newly counted.
func (t *Tracker) OnIncoming(msg chat.Message) bool {
	if msg.ID == "" || msg.Read || msg.ReceiverID == "" {
		return false
	}
	t.mu.Lock()
	st, ok := t.states[key{msg.ReceiverID, msg.ConversationID}]
	if !ok {
		t.mu.Unlock()
		return false
	}
	if _, seen := st.unread[msg.ID]; seen || !msg.CreatedAt.After(st.readThrough) {
		t.mu.Unlock()
		return false
	}
	st.unread[msg.ID] = msg.CreatedAt
	count := len(st.unread)
	t.mu.Unlock()

	t.notify(msg.ReceiverID, msg.ConversationID, count)
	return true
}

// UnreadCount returns the cached count, zero for untracked pairs.
func (t *Tracker) UnreadCount(viewer chat.UserID, conversation chat.ConversationID) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[key{viewer, conversation}]; ok {
		return len(st.unread)
	}
	return 0
}

// ReadThrough returns the read boundary for viewer in conversation.
func (t *Tracker) ReadThrough(viewer chat.UserID, conversation chat.ConversationID) time.Time {
	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.states[key{viewer, conversation}]; ok {
		return st.readThrough
	}
	return time.Time{}
}

// MarkRead flags the viewer's unread messages as read in the store and
// clears every id that was counted when the call started. Ids counted
// while the store call was in flight stay counted; a later MarkRead or
// Resync settles them, so the cached count never undercounts the store.
func (t *Tracker) MarkRead(ctx context.Context, viewer chat.UserID, conversation chat.ConversationID) error {
	t.Track(viewer, conversation)

	t.mu.Lock()
	st := t.states[key{viewer, conversation}]
	snapshot := make(map[chat.MessageID]time.Time, len(st.unread))
	for id, at := range st.unread {
		snapshot[id] = at
	}
	t.mu.Unlock()

	if _, err := t.store.MarkRead(ctx, conversation, viewer); err != nil {
		return chat.NewError(chat.KindPersistence, "mark read "+string(conversation), err)
	}

	t.mu.Lock()
	st, ok := t.states[key{viewer, conversation}]
	if !ok {
		t.mu.Unlock()
		return nil
	}
	for id, at := range snapshot {
		delete(st.unread, id)
		if at.After(st.readThrough) {
			st.readThrough = at
		}
	}
	count := len(st.unread)
	t.mu.Unlock()

	t.notify(viewer, conversation, count)
	return nil
}

// Resync rebuilds the pair's state from the store.
func (t *Tracker) Resync(ctx context.Context, viewer chat.UserID, conversation chat.ConversationID) error {
	messages, err := t.store.Range(ctx, conversation)
	if err != nil {
		return chat.NewError(chat.KindPersistence, "resync unread "+string(conversation), err)
	}
	fresh := &state{unread: make(map[chat.MessageID]time.Time)}
	for _, msg := range messages {
		if msg.ReceiverID != viewer {
			continue
		}
		if msg.Read {
			if msg.CreatedAt.After(fresh.readThrough) {
				fresh.readThrough = msg.CreatedAt
			}
			continue
		}
		fresh.unread[msg.ID] = msg.CreatedAt
	}
	count := len(fresh.unread)

	t.mu.Lock()
	t.states[key{viewer, conversation}] = fresh
	t.mu.Unlock()

	t.notify(viewer, conversation, count)
	return nil
}

func (t *Tracker) notify(viewer chat.UserID, conversation chat.ConversationID, count int) {
	if t.onChange != nil {
		t.onChange(viewer, conversation, count)
	}
}
