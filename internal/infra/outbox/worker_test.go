package outbox

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	appoutbox "jobchat/internal/app/outbox"
	"jobchat/internal/domain/chat"
	"jobchat/internal/infra/storage/memory"
)

type published struct {
	topic, key string
	payload    []byte
	headers    map[string]string
}

type fakeProducer struct {
	failures int
	out      []published
}

func (p *fakeProducer) Publish(_ context.Context, topic, key string, payload []byte, headers map[string]string) error {
	if p.failures > 0 {
		p.failures--
		return errors.New("broker down")
	}
	p.out = append(p.out, published{topic, key, payload, headers})
	return nil
}

func TestWorkerPublishesCloudEvents(t *testing.T) {
	ctx := context.Background()
	box := memory.NewOutbox()
	record := appoutbox.MessageRecorder(box, appoutbox.JSONEventEncoder{IDGenerator: func() string { return "evt-1" }})
	msg := chat.Message{ID: "m1", ConversationID: "job-1", SenderID: "alice", ReceiverID: "bob", Content: chat.TextContent{Body: "hi"}, CreatedAt: time.Unix(50, 0)}
	if err := record(ctx, msg); err != nil {
		t.Fatalf("record: %v", err)
	}

	producer := &fakeProducer{failures: 1}
	var outcomes []error
	w := &Worker{Queue: box, Producer: producer, TopicPrefix: "dev.", Backoff: []time.Duration{0}, Observe: func(err error) { outcomes = append(outcomes, err) }}
	n, err := w.Drain(ctx)
	if err != nil {
		t.Fatalf("drain: %v", err)
	}
	if n != 2 || len(outcomes) != 2 || outcomes[0] == nil || outcomes[1] != nil {
		t.Fatalf("expected a failed then a successful attempt, got %d attempts %v", n, outcomes)
	}
	if box.Sent() != 1 || len(producer.out) != 1 {
		t.Fatalf("record should be sent once, sent=%d published=%d", box.Sent(), len(producer.out))
	}

	got := producer.out[0]
	if got.topic != "dev.message.events.v1" || got.key != "job-1" {
		t.Fatalf("routing %s/%s", got.topic, got.key)
	}
	if got.headers["content-type"] != "application/cloudevents+json" {
		t.Fatalf("headers %v", got.headers)
	}
	var evt struct {
		SpecVersion string           `json:"specversion"`
		ID          string           `json:"id"`
		Type        string           `json:"type"`
		Data        chat.MessageSent `json:"data"`
	}
	if err := json.Unmarshal(got.payload, &evt); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if evt.SpecVersion != "1.0" || evt.ID != "evt-1" || evt.Type != "message.sent.v1" || evt.Data.MessageID != "m1" {
		t.Fatalf("unexpected event %+v", evt)
	}
}

func TestWorkerRequiresDependencies(t *testing.T) {
	if err := (&Worker{}).Run(context.Background()); !errors.Is(err, ErrWorkerNotConfigured) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}
