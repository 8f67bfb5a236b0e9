// Package reconcile merges optimistic local sends with the authoritative
// message stream of one conversation into a single ordered view.
package reconcile

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"jobchat/internal/domain/chat"
)

// Outcome describes what OnServerEvent did with a confirmed message.
type Outcome uint8

const (
	// Ignored means the message was already in the view.
	Ignored Outcome = iota
	// Replaced means a pending entry was swapped for the confirmed message.
	Replaced
	// Appended means the message was new to the view.
	Appended
)

// Options configures an Engine. Zero values are usable.
type Options struct {
	Now      func() time.Time
	NewToken func() chat.CorrelationToken
	Logger   *slog.Logger
	// OnChange runs after every mutation of the view, outside the lock.
	OnChange func()
}

// Engine owns the view of one open conversation. All methods are safe
// for concurrent use; mutations are serialised per engine.
type Engine struct {
	conversation chat.ConversationID
	store        chat.MessageStore
	now          func() time.Time
	newToken     func() chat.CorrelationToken
	logger       *slog.Logger
	onChange     func()

	mu      sync.Mutex
	entries []chat.Entry
	ids     map[chat.MessageID]struct{}
	seeded  bool
}

// New builds an unseeded engine for conversation.
func New(conversation chat.ConversationID, store chat.MessageStore, opts Options) *Engine {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewToken == nil {
		opts.NewToken = func() chat.CorrelationToken { return chat.CorrelationToken(uuid.NewString()) }
	}
	return &Engine{
		conversation: conversation,
		store:        store,
		now:          opts.Now,
		newToken:     opts.NewToken,
		logger:       opts.Logger,
		onChange:     opts.OnChange,
		ids:          make(map[chat.MessageID]struct{}),
	}
}

// Conversation returns the conversation this engine reconciles.
func (e *Engine) Conversation() chat.ConversationID { return e.conversation }

// Seed replaces the confirmed part of the view with a full range read
// from the store. Pending entries the store has not confirmed yet stay at
// the tail in their submission order; the ones it has are folded in.
// Confirmed entries missing from the read are kept.
func (e *Engine) Seed(ctx context.Context) error {
	stored, err := e.store.Range(ctx, e.conversation)
	if err != nil {
		return chat.NewError(chat.KindPersistence, "seed "+string(e.conversation), err)
	}

	e.mu.Lock()
	confirmedTokens := make(map[chat.CorrelationToken]struct{}, len(stored))
	entries := make([]chat.Entry, 0, len(stored)+len(e.entries))
	ids := make(map[chat.MessageID]struct{}, len(stored))
	for _, msg := range stored {
		if _, dup := ids[msg.ID]; dup {
			continue
		}
		ids[msg.ID] = struct{}{}
		if msg.Token != "" {
			confirmedTokens[msg.Token] = struct{}{}
		}
		entries = append(entries, chat.Entry{Delivery: chat.Confirmed{ID: msg.ID}, Message: msg})
	}
	// Confirmations applied after the range read are not in stored.
	for _, entry := range e.entries {
		confirmed, ok := entry.Delivery.(chat.Confirmed)
		if !ok {
			continue
		}
		if _, known := ids[confirmed.ID]; known {
			continue
		}
		ids[confirmed.ID] = struct{}{}
		if entry.Message.Token != "" {
			confirmedTokens[entry.Message.Token] = struct{}{}
		}
		entries = insertConfirmed(entries, entry)
	}
	for _, entry := range e.entries {
		pending, ok := entry.Delivery.(chat.Pending)
		if !ok {
			continue
		}
		if _, done := confirmedTokens[pending.Token]; done {
			continue
		}
		entries = append(entries, entry)
	}
	e.entries = entries
	e.ids = ids
	e.seeded = true
	e.mu.Unlock()

	e.changed()
	return nil
}

// Seeded reports whether Seed has completed at least once.
func (e *Engine) Seeded() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.seeded
}

// Submit places an optimistic entry at the tail and persists the draft in
// the background. The returned handle resolves with the stored message or
// a Persistence error, in which case the entry has been removed.
func (e *Engine) Submit(ctx context.Context, draft chat.Draft) (*Handle, error) {
	if draft.ConversationID != e.conversation {
		return nil, chat.Validationf("submit", "draft targets %s, view is %s", draft.ConversationID, e.conversation)
	}
	if draft.Content == nil {
		return nil, chat.Validationf("submit", "content is required")
	}
	token := e.newToken()
	optimistic := chat.Message{
		Token:          token,
		ConversationID: draft.ConversationID,
		SenderID:       draft.SenderID,
		ReceiverID:     draft.ReceiverID,
		Content:        draft.Content,
		CreatedAt:      e.now(),
	}

	e.mu.Lock()
	e.entries = append(e.entries, chat.Entry{Delivery: chat.Pending{Token: token}, Message: optimistic})
	e.mu.Unlock()
	e.changed()

	h := &Handle{Token: token, Optimistic: optimistic, done: make(chan struct{})}
	go e.persist(ctx, token, draft, h)
	return h, nil
}

func (e *Engine) persist(ctx context.Context, token chat.CorrelationToken, draft chat.Draft, h *Handle) {
	stored, err := e.store.Insert(ctx, token, draft)
	if err != nil {
		e.dropPending(token)
		if e.logger != nil {
			e.logger.Warn("message insert failed", "conversation_id", string(e.conversation), "client_token", string(token), "error", err)
		}
		h.resolve(chat.Message{}, chat.NewError(chat.KindPersistence, "send", err))
		return
	}
	if stored.Token == "" {
		stored.Token = token
	}
	e.OnServerEvent(stored)
	h.resolve(stored, nil)
}

func (e *Engine) dropPending(token chat.CorrelationToken) {
	e.mu.Lock()
	removed := false
	for i, entry := range e.entries {
		if p, ok := entry.Delivery.(chat.Pending); ok && p.Token == token {
			e.entries = append(e.entries[:i], e.entries[i+1:]...)
			removed = true
			break
		}
	}
	e.mu.Unlock()
	if removed {
		e.changed()
	}
}

// OnServerEvent applies a confirmed message. A pending entry with the same
// correlation token is replaced in place; a message already in the view is
// ignored; anything else is inserted after every entry that is not newer.
func (e *Engine) OnServerEvent(msg chat.Message) Outcome {
	if msg.ConversationID != e.conversation || msg.ID == "" {
		return Ignored
	}
	e.mu.Lock()
	outcome := e.applyLocked(msg)
	e.mu.Unlock()
	if outcome != Ignored {
		e.changed()
	}
	return outcome
}

func (e *Engine) applyLocked(msg chat.Message) Outcome {
	if _, known := e.ids[msg.ID]; known {
		return Ignored
	}
	confirmed := chat.Entry{Delivery: chat.Confirmed{ID: msg.ID}, Message: msg}
	if msg.Token != "" {
		for i, entry := range e.entries {
			if p, ok := entry.Delivery.(chat.Pending); ok && p.Token == msg.Token {
				e.entries[i] = confirmed
				e.ids[msg.ID] = struct{}{}
				return Replaced
			}
		}
	}
	e.entries = insertConfirmed(e.entries, confirmed)
	e.ids[msg.ID] = struct{}{}
	return Appended
}

// insertConfirmed places entry after every confirmed entry that is not
// newer, and after every pending entry. Existing confirmed entries keep
// their relative order.
func insertConfirmed(entries []chat.Entry, entry chat.Entry) []chat.Entry {
	pos := len(entries)
	for pos > 0 {
		prev := entries[pos-1]
		if prev.IsPending() || !prev.Message.CreatedAt.After(entry.Message.CreatedAt) {
			break
		}
		pos--
	}
	entries = append(entries, chat.Entry{})
	copy(entries[pos+1:], entries[pos:])
	entries[pos] = entry
	return entries
}

// MarkReadThrough flags incoming confirmed messages of viewer up to at as read.
func (e *Engine) MarkReadThrough(viewer chat.UserID, at time.Time) {
	e.mu.Lock()
	changed := false
	for i := range e.entries {
		msg := &e.entries[i].Message
		if e.entries[i].IsPending() || msg.ReceiverID != viewer || msg.Read || msg.CreatedAt.After(at) {
			continue
		}
		msg.Read = true
		changed = true
	}
	e.mu.Unlock()
	if changed {
		e.changed()
	}
}

// View returns a copy of the ordered view.
func (e *Engine) View() []chat.Entry {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]chat.Entry, len(e.entries))
	copy(out, e.entries)
	return out
}

// Len returns the number of entries in the view.
func (e *Engine) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.entries)
}

func (e *Engine) changed() {
	if e.onChange != nil {
		e.onChange()
	}
}

// Handle tracks one in-flight submission.
type Handle struct {
	Token      chat.CorrelationToken
	Optimistic chat.Message

	done   chan struct{}
	result chat.Message
	err    error
}

func (h *Handle) resolve(msg chat.Message, err error) {
	h.result, h.err = msg, err
	close(h.done)
}

// Done is closed once the submission has an outcome.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Wait blocks until the submission resolves or ctx ends. A ctx error does
// not cancel the submission.
func (h *Handle) Wait(ctx context.Context) (chat.Message, error) {
	select {
	case <-h.done:
		return h.result, h.err
	case <-ctx.Done():
		return chat.Message{}, ctx.Err()
	}
}
