package threads

import (
	"sync"
	"testing"
	"time"

	"jobchat/internal/domain/chat"
)

var t0 = time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC)

func ids(list []Summary) []chat.ConversationID {
	out := make([]chat.ConversationID, 0, len(list))
	for _, s := range list {
		out = append(out, s.ConversationID)
	}
	return out
}

func TestLatestActivityWinsRegardlessOfArrivalOrder(t *testing.T) {
	for _, reversed := range []bool{false, true} {
		r := NewRanker(nil)
		r.UpsertFromActivity("Z", "z", t0.Add(90*time.Second), false)

		t1, t2 := t0.Add(time.Minute), t0.Add(2*time.Minute)
		calls := []struct {
			at      time.Time
			preview string
		}{{t1, "first"}, {t2, "second"}}
		if reversed {
			calls[0], calls[1] = calls[1], calls[0]
		}
		var wg sync.WaitGroup
		for _, c := range calls {
			wg.Add(1)
			go func() {
				defer wg.Done()
				r.UpsertFromActivity("Y", c.preview, c.at, false)
			}()
			wg.Wait()
		}

		list := r.List("")
		if got := ids(list); len(got) != 2 || got[0] != "Y" || got[1] != "Z" {
			t.Fatalf("reversed=%v: order %v", reversed, got)
		}
		if !list[0].LastActivity.Equal(t2) || list[0].Preview != "second" {
			t.Fatalf("reversed=%v: expected t2 activity, got %v %q", reversed, list[0].LastActivity, list[0].Preview)
		}
	}
}

func TestConcurrentUpsertsConverge(t *testing.T) {
	r := NewRanker(nil)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r.UpsertFromActivity("Y", "msg", t0.Add(time.Duration(i)*time.Second), i%2 == 0)
		}(i)
	}
	wg.Wait()
	s, ok := r.Get("Y")
	if !ok {
		t.Fatalf("missing thread")
	}
	if !s.LastActivity.Equal(t0.Add(49 * time.Second)) {
		t.Fatalf("expected newest activity, got %v", s.LastActivity)
	}
	if s.Unread != 25 {
		t.Fatalf("expected 25 incoming, got %d", s.Unread)
	}
}

func TestUnreadResetAndReRank(t *testing.T) {
	r := NewRanker(nil)
	r.Put(Summary{ConversationID: "A", Subject: "Fix sink", LastActivity: t0})
	r.Put(Summary{ConversationID: "B", Subject: "Paint fence", LastActivity: t0.Add(time.Minute)})

	r.UpsertFromActivity("A", chat.AttachmentPreview, t0.Add(2*time.Minute), true)
	list := r.List("")
	if got := ids(list); got[0] != "A" || list[0].Unread != 1 || list[0].Preview != chat.AttachmentPreview {
		t.Fatalf("unexpected head %#v", list[0])
	}
	if list[0].Subject != "Fix sink" {
		t.Fatalf("activity must not erase metadata")
	}
	r.SetUnread("A", 0)
	if s, _ := r.Get("A"); s.Unread != 0 {
		t.Fatalf("unread not reset")
	}
}

func TestPutDoesNotRegressActivity(t *testing.T) {
	r := NewRanker(nil)
	r.UpsertFromActivity("A", "live", t0.Add(time.Hour), false)
	r.Put(Summary{ConversationID: "A", Subject: "Job", Preview: "stale", LastActivity: t0})
	s, _ := r.Get("A")
	if s.Preview != "live" || !s.LastActivity.Equal(t0.Add(time.Hour)) || s.Subject != "Job" {
		t.Fatalf("unexpected summary %#v", s)
	}
}

func TestFilterIsCaseInsensitiveAndKeepsOrder(t *testing.T) {
	r := NewRanker(nil)
	r.Put(Summary{ConversationID: "1", Subject: "Garden work", CounterpartName: "Ana", Preview: "see you", LastActivity: t0})
	r.Put(Summary{ConversationID: "2", Subject: "Move sofa", CounterpartName: "Gareth", Preview: "ok", LastActivity: t0.Add(time.Minute)})
	r.Put(Summary{ConversationID: "3", Subject: "Tiles", CounterpartName: "Bo", Preview: "the GARage door", LastActivity: t0.Add(2 * time.Minute)})

	got := ids(r.List("gar"))
	if len(got) != 3 || got[0] != "3" || got[1] != "2" || got[2] != "1" {
		t.Fatalf("filtered order: %v", got)
	}
	if got := ids(r.List("SOFA")); len(got) != 1 || got[0] != "2" {
		t.Fatalf("subject match: %v", got)
	}
	if got := ids(r.List("nobody")); len(got) != 0 {
		t.Fatalf("expected no match, got %v", got)
	}
	if got := ids(r.List("")); len(got) != 3 || got[0] != "3" {
		t.Fatalf("filter mutated order: %v", got)
	}
}
