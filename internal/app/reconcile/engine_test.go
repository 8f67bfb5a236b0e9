package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"jobchat/internal/app/reconcile"
	"jobchat/internal/domain/chat"
	"jobchat/internal/infra/storage/memory"
)

const conv chat.ConversationID = "job-1"

// gatedStore holds inserts until release is closed, or fails them.
type gatedStore struct {
	*memory.MessageStore
	release chan struct{}
	fail    error
}

func (g *gatedStore) Insert(ctx context.Context, token chat.CorrelationToken, draft chat.Draft) (chat.Message, error) {
	if g.release != nil {
		<-g.release
	}
	if g.fail != nil {
		return chat.Message{}, g.fail
	}
	return g.MessageStore.Insert(ctx, token, draft)
}

func textDraft(body string) chat.Draft {
	return chat.Draft{ConversationID: conv, SenderID: "seeker", ReceiverID: "provider", Content: chat.TextContent{Body: body}}
}

func tokenSeq() func() chat.CorrelationToken {
	n := 0
	return func() chat.CorrelationToken {
		n++
		return chat.CorrelationToken(fmt.Sprintf("tok-%d", n))
	}
}

func bodies(entries []chat.Entry) []string {
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.Message.Body())
	}
	return out
}

func TestOptimisticSendIsVisibleImmediatelyAndConfirmedInPlace(t *testing.T) {
	store := &gatedStore{MessageStore: memory.NewMessageStore(), release: make(chan struct{})}
	engine := reconcile.New(conv, store, reconcile.Options{NewToken: tokenSeq()})
	if err := engine.Seed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	handle, err := engine.Submit(context.Background(), textDraft("hello"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	view := engine.View()
	if len(view) != 1 || !view[0].IsPending() || view[0].Message.Body() != "hello" {
		t.Fatalf("expected pending hello, got %#v", view)
	}

	time.AfterFunc(200*time.Millisecond, func() { close(store.release) })
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	stored, err := handle.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}

	view = engine.View()
	if len(view) != 1 {
		t.Fatalf("expected exactly one entry, got %d", len(view))
	}
	confirmed, ok := view[0].Delivery.(chat.Confirmed)
	if !ok || confirmed.ID != stored.ID || view[0].Message.Body() != "hello" {
		t.Fatalf("expected confirmed hello, got %#v", view[0])
	}
}

func TestReplayedConfirmationsNeverDuplicate(t *testing.T) {
	store := &gatedStore{MessageStore: memory.NewMessageStore(), release: make(chan struct{})}
	engine := reconcile.New(conv, store, reconcile.Options{NewToken: tokenSeq()})
	_ = engine.Seed(context.Background())

	handle, _ := engine.Submit(context.Background(), textDraft("one"))
	_, _ = engine.Submit(context.Background(), textDraft("two"))

	// The echo can overtake the insert call returning.
	echo := chat.Message{ID: "m-1", Token: handle.Token, ConversationID: conv, SenderID: "seeker", ReceiverID: "provider", Content: chat.TextContent{Body: "one"}, CreatedAt: time.Now()}
	if got := engine.OnServerEvent(echo); got != reconcile.Replaced {
		t.Fatalf("first echo: got %v", got)
	}
	for i := 0; i < 3; i++ {
		if got := engine.OnServerEvent(echo); got != reconcile.Ignored {
			t.Fatalf("replay %d: got %v", i, got)
		}
	}
	if got := bodies(engine.View()); len(got) != 2 || got[0] != "one" || got[1] != "two" {
		t.Fatalf("unexpected view %v", got)
	}
	close(store.release)
}

func TestFailedPersistenceRemovesOptimisticEntry(t *testing.T) {
	store := &gatedStore{MessageStore: memory.NewMessageStore(), fail: errors.New("write timeout")}
	engine := reconcile.New(conv, store, reconcile.Options{})
	_ = engine.Seed(context.Background())

	handle, err := engine.Submit(context.Background(), textDraft("lost"))
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	_, err = handle.Wait(context.Background())
	if !errors.Is(err, chat.ErrPersistence) {
		t.Fatalf("expected persistence error, got %v", err)
	}
	if chat.OutcomeOf(err) != chat.OutcomeRetry {
		t.Fatalf("expected retry outcome")
	}
	if n := engine.Len(); n != 0 {
		t.Fatalf("expected empty view after rollback, got %d entries", n)
	}
}

func TestConfirmedEntriesAreNeverReordered(t *testing.T) {
	engine := reconcile.New(conv, memory.NewMessageStore(), reconcile.Options{})
	_ = engine.Seed(context.Background())

	base := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	msg := func(id string, offset time.Duration) chat.Message {
		return chat.Message{ID: chat.MessageID(id), ConversationID: conv, SenderID: "provider", ReceiverID: "seeker", Content: chat.TextContent{Body: id}, CreatedAt: base.Add(offset)}
	}
	engine.OnServerEvent(msg("a", 0))
	engine.OnServerEvent(msg("c", 2*time.Second))
	// b is older than c but newer than a: it slots between them.
	engine.OnServerEvent(msg("b", time.Second))
	// A late replay of a must not move it.
	engine.OnServerEvent(msg("a", 0))
	engine.OnServerEvent(msg("d", 3*time.Second))

	want := []string{"a", "b", "c", "d"}
	got := bodies(engine.View())
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Fatalf("view order: got %v want %v", got, want)
	}
}

func TestOtherMessagesDoNotJumpPendingEntries(t *testing.T) {
	store := &gatedStore{MessageStore: memory.NewMessageStore(), release: make(chan struct{})}
	defer close(store.release)
	engine := reconcile.New(conv, store, reconcile.Options{})
	_ = engine.Seed(context.Background())

	_, _ = engine.Submit(context.Background(), textDraft("mine"))
	engine.OnServerEvent(chat.Message{ID: "x", ConversationID: conv, SenderID: "provider", ReceiverID: "seeker", Content: chat.TextContent{Body: "theirs"}, CreatedAt: time.Unix(0, 0)})

	view := engine.View()
	if len(view) != 2 || !view[0].IsPending() || view[1].Message.Body() != "theirs" {
		t.Fatalf("unexpected view %v", bodies(view))
	}
}

func TestSeedKeepsUnconfirmedPendingAndFoldsConfirmed(t *testing.T) {
	backing := memory.NewMessageStore()
	store := &gatedStore{MessageStore: backing, release: make(chan struct{})}
	defer close(store.release)
	engine := reconcile.New(conv, store, reconcile.Options{NewToken: tokenSeq()})
	_ = engine.Seed(context.Background())

	first, _ := engine.Submit(context.Background(), textDraft("first"))
	_, _ = engine.Submit(context.Background(), textDraft("second"))

	// Simulate the first insert landing while the feed was down.
	if _, err := backing.Insert(context.Background(), first.Token, textDraft("first")); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := engine.Seed(context.Background()); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	view := engine.View()
	if len(view) != 2 {
		t.Fatalf("expected 2 entries, got %v", bodies(view))
	}
	if view[0].IsPending() || view[0].Message.Body() != "first" {
		t.Fatalf("expected confirmed first, got %#v", view[0])
	}
	if !view[1].IsPending() || view[1].Message.Body() != "second" {
		t.Fatalf("expected pending second, got %#v", view[1])
	}
}

// lateStore runs afterRange once the range snapshot is taken and before it
// is returned, like a confirmation racing a reseed.
type lateStore struct {
	*gatedStore
	afterRange func()
}

func (l *lateStore) Range(ctx context.Context, id chat.ConversationID) ([]chat.Message, error) {
	out, err := l.gatedStore.Range(ctx, id)
	if l.afterRange != nil {
		hook := l.afterRange
		l.afterRange = nil
		hook()
	}
	return out, err
}

func TestSeedKeepsConfirmationsAppliedDuringRangeRead(t *testing.T) {
	store := &lateStore{gatedStore: &gatedStore{MessageStore: memory.NewMessageStore()}}
	engine := reconcile.New(conv, store, reconcile.Options{NewToken: tokenSeq()})
	if err := engine.Seed(context.Background()); err != nil {
		t.Fatalf("seed: %v", err)
	}

	store.afterRange = func() {
		handle, err := engine.Submit(context.Background(), textDraft("hello"))
		if err != nil {
			t.Errorf("submit: %v", err)
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if _, err := handle.Wait(ctx); err != nil {
			t.Errorf("wait: %v", err)
		}
	}
	if err := engine.Seed(context.Background()); err != nil {
		t.Fatalf("reseed: %v", err)
	}

	view := engine.View()
	if len(view) != 1 || view[0].IsPending() || view[0].Message.Body() != "hello" {
		t.Fatalf("expected confirmed hello after reseed, got %v", bodies(view))
	}
	stored, _ := store.MessageStore.Range(context.Background(), conv)
	if len(stored) != 1 {
		t.Fatalf("store has %d messages", len(stored))
	}
	if outcome := engine.OnServerEvent(stored[0]); outcome != reconcile.Ignored {
		t.Fatalf("echo after reseed should be ignored, got %v", outcome)
	}
}

func TestSeedCarriesConfirmationAheadOfPending(t *testing.T) {
	backing := memory.NewMessageStore()
	gated := &gatedStore{MessageStore: backing, release: make(chan struct{})}
	defer close(gated.release)
	store := &lateStore{gatedStore: gated}
	engine := reconcile.New(conv, store, reconcile.Options{NewToken: tokenSeq()})
	_ = engine.Seed(context.Background())
	if _, err := engine.Submit(context.Background(), textDraft("mine")); err != nil {
		t.Fatalf("submit: %v", err)
	}

	store.afterRange = func() {
		theirs := chat.Draft{ConversationID: conv, SenderID: "provider", ReceiverID: "seeker", Content: chat.TextContent{Body: "theirs"}}
		msg, err := backing.Insert(context.Background(), "", theirs)
		if err != nil {
			t.Errorf("insert: %v", err)
			return
		}
		engine.OnServerEvent(msg)
	}
	if err := engine.Seed(context.Background()); err != nil {
		t.Fatalf("reseed: %v", err)
	}
	view := engine.View()
	if len(view) != 2 || view[0].IsPending() || view[0].Message.Body() != "theirs" {
		t.Fatalf("expected confirmed theirs first, got %v", bodies(view))
	}
	if !view[1].IsPending() || view[1].Message.Body() != "mine" {
		t.Fatalf("expected pending mine at the tail, got %v", bodies(view))
	}
}

func TestSubmitRejectsForeignDraft(t *testing.T) {
	engine := reconcile.New(conv, memory.NewMessageStore(), reconcile.Options{})
	draft := textDraft("x")
	draft.ConversationID = "other"
	if _, err := engine.Submit(context.Background(), draft); !errors.Is(err, chat.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
