package session

import (
	"sync"

	"jobchat/internal/domain/chat"
)

// ChangeKind names what part of the observable state changed.
type ChangeKind string

const (
	ChangeView       ChangeKind = "view"
	ChangeThreads    ChangeKind = "threads"
	ChangeUnread     ChangeKind = "unread"
	ChangeTyping     ChangeKind = "typing"
	ChangeGate       ChangeKind = "gate"
	ChangeConnection ChangeKind = "connection"
	ChangeClosed     ChangeKind = "closed"
)

// Change tells observers to re-read part of the state.
type Change struct {
	Kind           ChangeKind
	ConversationID chat.ConversationID
}

// Notifier fans changes out to observers. Slow observers lose changes
// rather than stall the session; each change is only a hint to re-read.
type Notifier struct {
	mu     sync.Mutex
	subs   map[int]chan Change
	next   int
	closed bool
}

func NewNotifier() *Notifier {
	return &Notifier{subs: make(map[int]chan Change)}
}

// Subscribe returns a change channel and a function that releases it.
func (n *Notifier) Subscribe(buffer int) (<-chan Change, func()) {
	if buffer <= 0 {
		buffer = 64
	}
	ch := make(chan Change, buffer)
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		close(ch)
		return ch, func() {}
	}
	id := n.next
	n.next++
	n.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			n.mu.Lock()
			defer n.mu.Unlock()
			if c, ok := n.subs[id]; ok {
				delete(n.subs, id)
				close(c)
			}
		})
	}
}

// Publish delivers c to every observer with room for it.
func (n *Notifier) Publish(c Change) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, ch := range n.subs {
		select {
		case ch <- c:
		default:
		}
	}
}

// Close ends every subscription.
func (n *Notifier) Close() {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.closed {
		return
	}
	n.closed = true
	for id, ch := range n.subs {
		select {
		case ch <- Change{Kind: ChangeClosed}:
		default:
		}
		close(ch)
		delete(n.subs, id)
	}
}
