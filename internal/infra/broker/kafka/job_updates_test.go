package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"jobchat/internal/app/handlers/jobs"
)

type recordingApplier struct {
	updates []jobs.ExternalUpdate
	err     error
}

func (a *recordingApplier) Apply(_ context.Context, u jobs.ExternalUpdate) (bool, error) {
	a.updates = append(a.updates, u)
	return a.err == nil, a.err
}

func TestJobUpdatesDecodesCloudEvent(t *testing.T) {
	applier := &recordingApplier{}
	h := &JobUpdatesHandler{Applier: applier, IgnoreSource: "app://jobchat"}
	msg := &sarama.ConsumerMessage{
		Topic: "job.events.v1",
		Key:   []byte("job-1"),
		Value: []byte(`{"specversion":"1.0","id":"evt-1","type":"job.status_changed.v1","source":"app://jobs","time":"2024-05-01T10:00:00Z","data":{"conversation_id":"job-1","to":"paid"}}`),
	}
	if err := h.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	if len(applier.updates) != 1 {
		t.Fatalf("expected one update, got %d", len(applier.updates))
	}
	got := applier.updates[0]
	want := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if got.EventID != "evt-1" || got.ConversationID != "job-1" || got.Status != "paid" || !got.At.Equal(want) {
		t.Fatalf("unexpected update %#v", got)
	}
}

func TestJobUpdatesAcceptsBareJSON(t *testing.T) {
	applier := &recordingApplier{}
	h := &JobUpdatesHandler{Applier: applier}
	msg := &sarama.ConsumerMessage{
		Key:       []byte("job-2"),
		Value:     []byte(`{"status":"cancelled"}`),
		Headers:   []*sarama.RecordHeader{{Key: []byte("ce_id"), Value: []byte("hdr-1")}},
		Timestamp: time.Unix(10, 0),
	}
	if err := h.Handle(context.Background(), msg); err != nil {
		t.Fatalf("handle: %v", err)
	}
	got := applier.updates[0]
	if got.ConversationID != "job-2" || got.Status != "cancelled" || got.EventID != "hdr-1" {
		t.Fatalf("unexpected update %#v", got)
	}
}

func TestJobUpdatesSkipsOwnAndForeignEvents(t *testing.T) {
	applier := &recordingApplier{}
	h := &JobUpdatesHandler{Applier: applier, IgnoreSource: "app://jobchat"}
	for _, raw := range []string{
		`{"id":"1","type":"job.status_changed.v1","source":"app://jobchat","data":{"conversation_id":"job-1","to":"paid"}}`,
		`{"id":"2","type":"message.sent.v1","source":"app://jobs","data":{"conversation_id":"job-1"}}`,
	} {
		if err := h.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte(raw)}); err != nil {
			t.Fatalf("handle: %v", err)
		}
	}
	if len(applier.updates) != 0 {
		t.Fatalf("expected no updates, got %#v", applier.updates)
	}
}

func TestJobUpdatesErrorHandling(t *testing.T) {
	var observed []error
	applier := &recordingApplier{}
	h := &JobUpdatesHandler{Applier: applier, Observe: func(_ bool, err error) { observed = append(observed, err) }}

	if err := h.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte("{")}); err != nil {
		t.Fatalf("malformed records must be committed, got %v", err)
	}
	applier.err = errors.New("mongo down")
	if err := h.Handle(context.Background(), &sarama.ConsumerMessage{Value: []byte(`{"job_id":"job-1","status":"paid"}`)}); err == nil {
		t.Fatalf("store failures must be retried")
	}
	if len(observed) != 2 || observed[0] == nil || observed[1] == nil {
		t.Fatalf("observed %v", observed)
	}
}
