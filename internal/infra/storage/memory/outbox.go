package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	appoutbox "jobchat/internal/app/outbox"
)

const (
	stateStaged  = "STAGED"
	stateNew     = "NEW"
	stateClaimed = "CLAIMED"
	stateSent    = "SENT"
	stateFailed  = "FAILED"
)

type outboxEntry struct {
	record   appoutbox.EventRecord
	state    string
	attempts int
	next     time.Time
	lastErr  string
	seq      int
}

// Outbox stages records until Flush and then leases them to workers.
type Outbox struct {
	mu      sync.Mutex
	entries map[string]*outboxEntry
	seq     int
	now     func() time.Time
}

func NewOutbox() *Outbox {
	return &Outbox{entries: make(map[string]*outboxEntry), now: time.Now}
}

func (o *Outbox) Add(ctx context.Context, record appoutbox.EventRecord) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.seq++
	o.entries[record.ID] = &outboxEntry{record: record, state: stateStaged, seq: o.seq}
	return nil
}

// Flush makes staged records visible to Claim.
func (o *Outbox) Flush(ctx context.Context) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	for _, e := range o.entries {
		if e.state == stateStaged {
			e.state = stateNew
			e.next = now
		}
	}
	return nil
}

func (o *Outbox) Claim(ctx context.Context, workerID string) (*appoutbox.Claimed, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	now := o.now()
	var ready []*outboxEntry
	for _, e := range o.entries {
		if (e.state == stateNew || e.state == stateFailed) && !e.next.After(now) {
			ready = append(ready, e)
		}
	}
	if len(ready) == 0 {
		return nil, nil
	}
	sort.Slice(ready, func(i, j int) bool { return ready[i].seq < ready[j].seq })
	e := ready[0]
	e.state = stateClaimed
	return &appoutbox.Claimed{EventRecord: e.record, Attempts: e.attempts}, nil
}

func (o *Outbox) MarkSent(ctx context.Context, id string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.entries[id]; ok {
		e.state = stateSent
	}
	return nil
}

func (o *Outbox) MarkFailed(ctx context.Context, id string, next time.Time, errMsg string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if e, ok := o.entries[id]; ok {
		e.state = stateFailed
		e.next = next
		e.lastErr = errMsg
		e.attempts++
	}
	return nil
}

// Records returns every record in insertion order, whatever its state.
func (o *Outbox) Records() []appoutbox.EventRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	all := make([]*outboxEntry, 0, len(o.entries))
	for _, e := range o.entries {
		all = append(all, e)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].seq < all[j].seq })
	out := make([]appoutbox.EventRecord, 0, len(all))
	for _, e := range all {
		out = append(out, e.record)
	}
	return out
}

// Sent counts records marked sent.
func (o *Outbox) Sent() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, e := range o.entries {
		if e.state == stateSent {
			n++
		}
	}
	return n
}
