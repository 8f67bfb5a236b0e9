package realtime_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"jobchat/internal/app/realtime"
	"jobchat/internal/domain/chat"
	"jobchat/internal/infra/realtime/memory"
)

func newDispatcher(hub *memory.Hub) *realtime.Dispatcher {
	return realtime.NewDispatcher(hub, realtime.Config{BackoffBase: time.Millisecond, BackoffCap: 5 * time.Millisecond}, nil, nil)
}

func receipt(conv chat.ConversationID, reader string) realtime.Event {
	return realtime.ReadReceipt{ConversationID: conv, ReaderID: chat.UserID(reader), At: time.Now()}
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Fatalf("expected %q, got %q", want, got)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

func TestSeedPrecedesEventsPublishedDuringSeeding(t *testing.T) {
	hub := memory.NewHub()
	d := newDispatcher(hub)
	topic := realtime.MessagesTopic("job-1")

	var (
		mu     sync.Mutex
		seeded bool
	)
	seen := make(chan string, 4)
	handler := func(ev realtime.Event) {
		mu.Lock()
		ok := seeded
		mu.Unlock()
		if !ok {
			seen <- "event-before-seed"
			return
		}
		seen <- string(ev.(realtime.ReadReceipt).ReaderID)
	}
	feed, err := d.Subscribe(context.Background(), topic, handler, realtime.SubscribeOptions{
		Seed: func(ctx context.Context) error {
			if err := hub.Publish(ctx, topic, receipt("job-1", "during-seed")); err != nil {
				return err
			}
			mu.Lock()
			seeded = true
			mu.Unlock()
			return nil
		},
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer feed.Close()

	if err := hub.Publish(context.Background(), topic, receipt("job-1", "after-seed")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, seen, "during-seed")
	waitFor(t, seen, "after-seed")
}

func TestSeedFailureClosesSubscription(t *testing.T) {
	hub := memory.NewHub()
	d := newDispatcher(hub)
	topic := realtime.JobTopic("job-1")
	boom := errors.New("store down")

	_, err := d.Subscribe(context.Background(), topic, func(realtime.Event) {}, realtime.SubscribeOptions{
		Seed: func(context.Context) error { return boom },
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected seed error, got %v", err)
	}
	if n := hub.Subscribers(topic); n != 0 {
		t.Fatalf("expected no leaked subscription, got %d", n)
	}
}

func TestDroppedFeedResubscribesAndReseeds(t *testing.T) {
	hub := memory.NewHub()
	d := newDispatcher(hub)
	topic := realtime.MessagesTopic("job-2")

	var seeds atomic.Int32
	states := make(chan bool, 4)
	seen := make(chan string, 4)
	feed, err := d.Subscribe(context.Background(), topic, func(ev realtime.Event) {
		seen <- string(ev.(realtime.ReadReceipt).ReaderID)
	}, realtime.SubscribeOptions{
		Seed: func(context.Context) error {
			seeds.Add(1)
			return nil
		},
		OnStateChange: func(connected bool, err error) {
			if !connected && !errors.Is(err, chat.ErrDisconnected) {
				t.Errorf("expected disconnected error, got %v", err)
			}
			states <- connected
		},
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer feed.Close()

	hub.FailNextSubscribes(2, errors.New("broker unavailable"))
	hub.Drop(topic, "", errors.New("connection reset"))

	for _, want := range []bool{false, true} {
		select {
		case got := <-states:
			if got != want {
				t.Fatalf("state: expected %v, got %v", want, got)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for state %v", want)
		}
	}
	if got := seeds.Load(); got != 2 {
		t.Fatalf("expected a reseed after reconnect, got %d seeds", got)
	}
	if !feed.Connected() {
		t.Fatalf("feed should report connected")
	}
	if err := hub.Publish(context.Background(), topic, receipt("job-2", "after-reconnect")); err != nil {
		t.Fatalf("publish: %v", err)
	}
	waitFor(t, seen, "after-reconnect")
}

func TestCloseStopsDeliveryAndUnsubscribes(t *testing.T) {
	hub := memory.NewHub()
	d := newDispatcher(hub)
	topic := realtime.PresenceTopic("job-3")

	var calls atomic.Int32
	feed, err := d.Subscribe(context.Background(), topic, func(realtime.Event) { calls.Add(1) }, realtime.SubscribeOptions{Member: "seeker"})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if n := hub.Subscribers(topic); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}
	if err := feed.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if n := hub.Subscribers(topic); n != 0 {
		t.Fatalf("expected 0 subscribers after close, got %d", n)
	}
	_ = hub.Publish(context.Background(), topic, receipt("job-3", "late"))
	time.Sleep(10 * time.Millisecond)
	if calls.Load() != 0 {
		t.Fatalf("handler called after close")
	}
}

func TestPerTopicOrdering(t *testing.T) {
	hub := memory.NewHub()
	d := newDispatcher(hub)
	topic := realtime.MessagesTopic("job-4")

	const total = 200
	got := make(chan int, total)
	feed, err := d.Subscribe(context.Background(), topic, func(ev realtime.Event) {
		got <- ev.(realtime.JobUpdated).At.Nanosecond()
	}, realtime.SubscribeOptions{})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer feed.Close()

	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < total; i++ {
		ev := realtime.JobUpdated{ConversationID: "job-4", Status: "accepted", At: base.Add(time.Duration(i))}
		if err := hub.Publish(context.Background(), topic, ev); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	for i := 0; i < total; i++ {
		select {
		case n := <-got:
			if n != i {
				t.Fatalf("out of order: position %d got %d", i, n)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out at %d", i)
		}
	}
}
