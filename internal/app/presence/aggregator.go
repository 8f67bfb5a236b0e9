// Package presence turns typing heartbeats into a per-conversation
// "someone else is typing" flag and debounces local keystrokes.
package presence

import (
	"sync"
	"time"

	"jobchat/internal/domain/chat"
	"jobchat/internal/domain/shared/clock"
)

// Aggregator keeps the latest signal per (conversation, participant).
// Signals do not expire on their own unless StaleAfter is set; the normal
// stop path is the sender's idle "false" or a transport departure notice.
type Aggregator struct {
	clock      clock.Clock
	staleAfter time.Duration

	mu      sync.Mutex
	signals map[chat.ConversationID]map[chat.UserID]chat.PresenceSignal
}

// NewAggregator builds an aggregator. staleAfter <= 0 disables expiry.
func NewAggregator(c clock.Clock, staleAfter time.Duration) *Aggregator {
	if c == nil {
		c = clock.Real()
	}
	return &Aggregator{
		clock:      c,
		staleAfter: staleAfter,
		signals:    make(map[chat.ConversationID]map[chat.UserID]chat.PresenceSignal),
	}
}

// Heartbeat records sig unless a newer signal from the same participant
// is already held. It reports whether the stored state changed.
func (a *Aggregator) Heartbeat(sig chat.PresenceSignal) bool {
	if sig.ConversationID == "" || sig.ParticipantID == "" {
		return false
	}
	if sig.At.IsZero() {
		sig.At = a.clock.Now()
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	byParticipant, ok := a.signals[sig.ConversationID]
	if !ok {
		byParticipant = make(map[chat.UserID]chat.PresenceSignal)
		a.signals[sig.ConversationID] = byParticipant
	}
	if prev, ok := byParticipant[sig.ParticipantID]; ok && prev.At.After(sig.At) {
		return false
	}
	prev, had := byParticipant[sig.ParticipantID]
	byParticipant[sig.ParticipantID] = sig
	return !had || prev.Typing != sig.Typing
}

// Left treats a departed participant as not typing.
func (a *Aggregator) Left(conversation chat.ConversationID, participant chat.UserID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	byParticipant := a.signals[conversation]
	prev, ok := byParticipant[participant]
	if !ok {
		return false
	}
	delete(byParticipant, participant)
	return prev.Typing
}

// IsAnyoneElseTyping reports whether a participant other than self holds
// a live "typing" signal.
func (a *Aggregator) IsAnyoneElseTyping(conversation chat.ConversationID, self chat.UserID) bool {
	return len(a.TypingParticipants(conversation, self)) > 0
}

// TypingParticipants lists the participants other than self who are typing.
func (a *Aggregator) TypingParticipants(conversation chat.ConversationID, self chat.UserID) []chat.UserID {
	now := a.clock.Now()
	a.mu.Lock()
	defer a.mu.Unlock()
	var out []chat.UserID
	for id, sig := range a.signals[conversation] {
		if id == self || !sig.Typing {
			continue
		}
		if a.staleAfter > 0 && now.Sub(sig.At) > a.staleAfter {
			continue
		}
		out = append(out, id)
	}
	return out
}

// Forget drops every signal of conversation.
func (a *Aggregator) Forget(conversation chat.ConversationID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.signals, conversation)
}
