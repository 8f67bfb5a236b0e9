package chat

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorKindsMatchThroughWrapping(t *testing.T) {
	base := NewError(KindGateLocked, "send", errors.New("status completed"))
	wrapped := fmt.Errorf("session: %w", base)

	if !errors.Is(wrapped, ErrGateLocked) {
		t.Fatalf("expected wrapped error to match ErrGateLocked")
	}
	if errors.Is(wrapped, ErrPersistence) {
		t.Fatalf("gate error must not match ErrPersistence")
	}
	if KindOf(wrapped) != KindGateLocked {
		t.Fatalf("KindOf: got %s", KindOf(wrapped))
	}
}

func TestOutcomeOf(t *testing.T) {
	cases := []struct {
		err  error
		want Outcome
	}{
		{nil, OutcomeNone},
		{NewError(KindPersistence, "send", nil), OutcomeRetry},
		{NewError(KindUpload, "attach", nil), OutcomeRetry},
		{NewError(KindGateLocked, "send", nil), OutcomeNotAllowed},
		{Validationf("send", "text is required"), OutcomeNotAllowed},
		{NewError(KindDisconnected, "subscribe", nil), OutcomeReconnecting},
		{errors.New("boom"), OutcomeFailed},
	}
	for _, tc := range cases {
		if got := OutcomeOf(tc.err); got != tc.want {
			t.Fatalf("OutcomeOf(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}

func TestPreview(t *testing.T) {
	if got := Preview(TextContent{Body: "  hello there  "}, 5); got != "hello" {
		t.Fatalf("text preview: got %q", got)
	}
	if got := Preview(FileContent{Name: "plan.pdf", URL: "https://cdn/x"}, 50); got != AttachmentPreview {
		t.Fatalf("file preview: got %q", got)
	}
}
