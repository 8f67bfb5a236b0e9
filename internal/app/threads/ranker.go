// Package threads keeps a viewer's conversations ordered by latest activity.
package threads

import (
	"sort"
	"strings"
	"sync"
	"time"

	"jobchat/internal/domain/chat"
)

// PreviewLength caps preview text in summaries.
const PreviewLength = 140

// Summary is one row of the thread list.
type Summary struct {
	ConversationID  chat.ConversationID
	Subject         string
	CounterpartID   chat.UserID
	CounterpartName string
	Preview         string
	LastActivity    time.Time
	Unread          int
	Status          string
	ExpiresAt       *time.Time
}

// Ranker holds summaries sorted by LastActivity, newest first. The whole
// set is re-sorted on every change, which is fine for the few hundred
// threads a user has; a larger scale calls for ordered insertion.
type Ranker struct {
	onChange func()

	mu    sync.RWMutex
	byID  map[chat.ConversationID]*Summary
	order []chat.ConversationID
}

// NewRanker builds an empty ranker. onChange, when set, runs after each
// mutation outside the lock.
func NewRanker(onChange func()) *Ranker {
	return &Ranker{onChange: onChange, byID: make(map[chat.ConversationID]*Summary)}
}

// Put inserts or refreshes a summary. Activity already known for the
// conversation wins when it is newer than the supplied one.
func (r *Ranker) Put(s Summary) {
	s.Preview = clip(s.Preview)
	r.mu.Lock()
	if cur, ok := r.byID[s.ConversationID]; ok && cur.LastActivity.After(s.LastActivity) {
		s.LastActivity = cur.LastActivity
		s.Preview = cur.Preview
	}
	stored := s
	r.byID[s.ConversationID] = &stored
	r.resortLocked()
	r.mu.Unlock()
	r.changed()
}

// UpsertFromActivity records activity in a conversation. Timestamp and
// preview only move forward, so concurrent callers converge on the latest
// activity whatever order they arrive in. Unread grows when incoming.
func (r *Ranker) UpsertFromActivity(conversation chat.ConversationID, preview string, at time.Time, incoming bool) {
	r.mu.Lock()
	s, ok := r.byID[conversation]
	if !ok {
		s = &Summary{ConversationID: conversation}
		r.byID[conversation] = s
	}
	if !at.Before(s.LastActivity) {
		s.LastActivity = at
		s.Preview = clip(preview)
	}
	if incoming {
		s.Unread++
	}
	r.resortLocked()
	r.mu.Unlock()
	r.changed()
}

// SetUnread overwrites the unread badge of a conversation.
func (r *Ranker) SetUnread(conversation chat.ConversationID, count int) {
	if count < 0 {
		count = 0
	}
	r.mu.Lock()
	s, ok := r.byID[conversation]
	if !ok || s.Unread == count {
		r.mu.Unlock()
		return
	}
	s.Unread = count
	r.mu.Unlock()
	r.changed()
}

// SetStatus records a job status change for a listed conversation.
func (r *Ranker) SetStatus(conversation chat.ConversationID, status string, expiresAt *time.Time) {
	r.mu.Lock()
	s, ok := r.byID[conversation]
	if !ok {
		r.mu.Unlock()
		return
	}
	s.Status = status
	if expiresAt != nil {
		s.ExpiresAt = expiresAt
	}
	r.mu.Unlock()
	r.changed()
}

// Remove drops a conversation from the list.
func (r *Ranker) Remove(conversation chat.ConversationID) {
	r.mu.Lock()
	if _, ok := r.byID[conversation]; !ok {
		r.mu.Unlock()
		return
	}
	delete(r.byID, conversation)
	r.resortLocked()
	r.mu.Unlock()
	r.changed()
}

// Get returns one summary.
func (r *Ranker) Get(conversation chat.ConversationID) (Summary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byID[conversation]
	if !ok {
		return Summary{}, false
	}
	return *s, true
}

// Len returns the number of listed conversations.
func (r *Ranker) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// List returns summaries in rank order, keeping those whose counterpart
// name, subject or preview contains query (case-insensitive). An empty
// query lists everything.
func (r *Ranker) List(query string) []Summary {
	needle := strings.ToLower(strings.TrimSpace(query))
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Summary, 0, len(r.order))
	for _, id := range r.order {
		s := r.byID[id]
		if needle != "" && !matches(s, needle) {
			continue
		}
		out = append(out, *s)
	}
	return out
}

func matches(s *Summary, needle string) bool {
	for _, field := range []string{s.CounterpartName, s.Subject, s.Preview} {
		if strings.Contains(strings.ToLower(field), needle) {
			return true
		}
	}
	return false
}

func (r *Ranker) resortLocked() {
	order := r.order[:0]
	for id := range r.byID {
		order = append(order, id)
	}
	sort.Slice(order, func(i, j int) bool {
		a, b := r.byID[order[i]], r.byID[order[j]]
		if !a.LastActivity.Equal(b.LastActivity) {
			return a.LastActivity.After(b.LastActivity)
		}
		return a.ConversationID < b.ConversationID
	})
	r.order = order
}

func (r *Ranker) changed() {
	if r.onChange != nil {
		r.onChange()
	}
}

func clip(text string) string {
	runes := []rune(strings.TrimSpace(text))
	if len(runes) <= PreviewLength {
		return string(runes)
	}
	return string(runes[:PreviewLength])
}
