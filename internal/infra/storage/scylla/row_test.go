package scylla

import (
	"testing"
	"time"

	"github.com/gocql/gocql"

	"jobchat/internal/domain/chat"
)

func TestMessageRowKeepsContent(t *testing.T) {
	at := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	id := gocql.UUIDFromTime(at)
	file := chat.FileContent{URL: "https://cdn/x.png", StoragePath: "job-1/x.png", Name: "x.png", MIMEType: "image/png", SizeBytes: 42}
	drafts := []chat.Draft{
		{ConversationID: "job-1", SenderID: "a", ReceiverID: "b", Content: chat.TextContent{Body: "hi"}},
		{ConversationID: "job-1", SenderID: "a", ReceiverID: "b", Content: file},
	}
	for _, draft := range drafts {
		msg := newMessageRow(draft, "tok", id, at).message()
		if msg.ID != chat.MessageID(id.String()) || msg.Token != "tok" || !msg.CreatedAt.Equal(at) {
			t.Fatalf("identity lost: %#v", msg)
		}
		if msg.Content != draft.Content {
			t.Fatalf("content mismatch: %#v vs %#v", msg.Content, draft.Content)
		}
		if msg.Read {
			t.Fatalf("new rows must be unread")
		}
	}
}

func TestMessageRowColumnsLineUp(t *testing.T) {
	var row messageRow
	if len(row.dest()) != len(row.values()) || len(row.values()) != 14 {
		t.Fatalf("dest=%d values=%d", len(row.dest()), len(row.values()))
	}
}

func TestNextTimestampStrictlyIncreases(t *testing.T) {
	s := NewMessageStore(nil, nil)
	fixed := time.Unix(100, 0)
	s.now = func() time.Time { return fixed }
	first := s.nextTimestamp("job-1")
	second := s.nextTimestamp("job-1")
	other := s.nextTimestamp("job-2")
	if !second.After(first) {
		t.Fatalf("expected %s after %s", second, first)
	}
	if !other.Equal(first) {
		t.Fatalf("conversations must not share a clock: %s", other)
	}
}
