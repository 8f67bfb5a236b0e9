// Package memory is a single-process realtime transport. It backs local
// development and the test suites.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"jobchat/internal/app/realtime"
	"jobchat/internal/domain/chat"
)

// ErrClosed is returned after the hub has been shut down.
var ErrClosed = errors.New("memory: hub closed")

// Hub fans events out to subscribers of the same topic. Sinks are called
// synchronously under the topic lock, so they must not call back into the
// hub; the realtime dispatcher only enqueues.
type Hub struct {
	mu     sync.Mutex
	topics map[realtime.Topic]*topicState
	closed bool
	now    func() time.Time

	failSubscribes int
	failErr        error
}

type topicState struct {
	mu   sync.Mutex
	subs map[*subscription]struct{}
}

type subscription struct {
	hub    *Hub
	topic  realtime.Topic
	member chat.UserID
	sink   realtime.Handler
	once   sync.Once
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{topics: make(map[realtime.Topic]*topicState), now: time.Now}
}

func (h *Hub) state(topic realtime.Topic) (*topicState, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, ErrClosed
	}
	st, ok := h.topics[topic]
	if !ok {
		st = &topicState{subs: make(map[*subscription]struct{})}
		h.topics[topic] = st
	}
	return st, nil
}

// Subscribe registers sink for topic.
func (h *Hub) Subscribe(ctx context.Context, topic realtime.Topic, member chat.UserID, sink realtime.Handler) (realtime.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h.mu.Lock()
	if h.failSubscribes > 0 {
		h.failSubscribes--
		err := h.failErr
		h.mu.Unlock()
		return nil, err
	}
	h.mu.Unlock()

	st, err := h.state(topic)
	if err != nil {
		return nil, err
	}
	sub := &subscription{hub: h, topic: topic, member: member, sink: sink}
	st.mu.Lock()
	st.subs[sub] = struct{}{}
	st.mu.Unlock()
	return sub, nil
}

// Publish delivers event to every current subscriber of topic.
func (h *Hub) Publish(ctx context.Context, topic realtime.Topic, event realtime.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, ok := event.(realtime.Disconnected); ok {
		return errors.New("memory: disconnected events are local only")
	}
	st, err := h.state(topic)
	if err != nil {
		return err
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for sub := range st.subs {
		sub.sink(event)
	}
	return nil
}

// Subscribers returns how many live subscriptions topic has.
func (h *Hub) Subscribers(topic realtime.Topic) int {
	st, err := h.state(topic)
	if err != nil {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.subs)
}

// Drop severs the subscriptions of member on topic (all members when
// member is empty). Each severed sink receives Disconnected, and the
// remaining presence subscribers learn that the member left.
func (h *Hub) Drop(topic realtime.Topic, member chat.UserID, cause error) {
	st, err := h.state(topic)
	if err != nil {
		return
	}
	st.mu.Lock()
	var dropped []*subscription
	for sub := range st.subs {
		if member == "" || sub.member == member {
			dropped = append(dropped, sub)
			delete(st.subs, sub)
		}
	}
	for _, sub := range dropped {
		sub.once.Do(func() {
			sub.sink(realtime.Disconnected{Topic: topic, Err: cause})
		})
	}
	st.mu.Unlock()
	for _, sub := range dropped {
		h.announceLeft(sub)
	}
}

// FailNextSubscribes makes the next n Subscribe calls fail with err.
func (h *Hub) FailNextSubscribes(n int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.failSubscribes = n
	h.failErr = err
}

// Close drops every subscription and rejects further use.
func (h *Hub) Close() error {
	h.mu.Lock()
	topics := make([]realtime.Topic, 0, len(h.topics))
	for topic := range h.topics {
		topics = append(topics, topic)
	}
	h.mu.Unlock()
	for _, topic := range topics {
		h.Drop(topic, "", ErrClosed)
	}
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

func (s *subscription) Close() error {
	closed := false
	s.once.Do(func() { closed = true })
	if !closed {
		return nil
	}
	st, err := s.hub.state(s.topic)
	if err != nil {
		return nil
	}
	st.mu.Lock()
	delete(st.subs, s)
	st.mu.Unlock()
	s.hub.announceLeft(s)
	return nil
}

// announceLeft tells presence subscribers that sub's member is gone once
// the member holds no other presence subscription on the topic.
func (h *Hub) announceLeft(sub *subscription) {
	if sub.topic.Channel != realtime.ChannelPresence || sub.member == "" {
		return
	}
	st, err := h.state(sub.topic)
	if err != nil {
		return
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	for other := range st.subs {
		if other.member == sub.member {
			return
		}
	}
	left := realtime.ParticipantLeft{ConversationID: sub.topic.Conversation, ParticipantID: sub.member, At: h.now()}
	for other := range st.subs {
		other.sink(left)
	}
}
