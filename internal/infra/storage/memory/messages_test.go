package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"jobchat/internal/domain/chat"
)

func TestMessageStoreInsertIsIdempotentPerToken(t *testing.T) {
	fixed := time.Unix(100, 0)
	s := NewMessageStore().WithClock(func() time.Time { return fixed })
	ctx := context.Background()
	draft := chat.Draft{ConversationID: "job-1", SenderID: "alice", ReceiverID: "bob", Content: chat.TextContent{Body: "hi"}}

	first, err := s.Insert(ctx, "tok-1", draft)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	again, err := s.Insert(ctx, "tok-1", draft)
	if err != nil || again.ID != first.ID {
		t.Fatalf("same token must return the first message: %v %v", again.ID, err)
	}
	second, err := s.Insert(ctx, "tok-2", draft)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if !second.CreatedAt.After(first.CreatedAt) {
		t.Fatalf("timestamps must increase: %s then %s", first.CreatedAt, second.CreatedAt)
	}
	all, _ := s.Range(ctx, "job-1")
	if len(all) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(all))
	}
}

func TestMessageStoreMarkRead(t *testing.T) {
	s := NewMessageStore()
	ctx := context.Background()
	for _, sender := range []chat.UserID{"alice", "alice", "bob"} {
		receiver := chat.UserID("bob")
		if sender == "bob" {
			receiver = "alice"
		}
		if _, err := s.Insert(ctx, "", chat.Draft{ConversationID: "job-1", SenderID: sender, ReceiverID: receiver, Content: chat.TextContent{Body: "x"}}); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	if n, _ := s.CountUnread(ctx, "job-1", "bob"); n != 2 {
		t.Fatalf("bob unread = %d", n)
	}
	changed, err := s.MarkRead(ctx, "job-1", "bob")
	if err != nil || changed != 2 {
		t.Fatalf("mark read: %d %v", changed, err)
	}
	if changed, _ := s.MarkRead(ctx, "job-1", "bob"); changed != 0 {
		t.Fatalf("second mark read changed %d", changed)
	}
	if n, _ := s.CountUnread(ctx, "job-1", "alice"); n != 1 {
		t.Fatalf("alice unread = %d", n)
	}
}

func TestMessageStoreLatest(t *testing.T) {
	s := NewMessageStore()
	if _, err := s.Latest(context.Background(), "job-1"); !errors.Is(err, chat.ErrMessageNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestInboxSeen(t *testing.T) {
	in := NewInbox()
	if seen, _ := in.Seen(context.Background(), "e1"); seen {
		t.Fatalf("first sighting reported as seen")
	}
	if seen, _ := in.Seen(context.Background(), "e1"); !seen {
		t.Fatalf("second sighting not reported")
	}
}
