package rabbitmq

import (
	"sync"

	"jobchat/internal/app/realtime"
	"jobchat/internal/domain/chat"
)

type memberKey struct {
	topic  realtime.Topic
	member chat.UserID
}

// members counts live presence subscriptions per topic and member.
type members struct {
	mu     sync.Mutex
	counts map[memberKey]int
}

func newMembers() *members {
	return &members{counts: make(map[memberKey]int)}
}

func (m *members) acquire(topic realtime.Topic, member chat.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counts[memberKey{topic, member}]++
}

func (m *members) release(topic realtime.Topic, member chat.UserID) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := memberKey{topic, member}
	if m.counts[key] <= 1 {
		delete(m.counts, key)
		return
	}
	m.counts[key]--
}

func (m *members) holds(topic realtime.Topic, member chat.UserID) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counts[memberKey{topic, member}] > 0
}
