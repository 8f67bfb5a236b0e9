package chat

import (
	"strings"
	"time"
)

type (
	MessageID        string
	ConversationID   string
	UserID           string
	CorrelationToken string
)

// AttachmentPreview is shown in thread previews instead of the raw file payload.
const AttachmentPreview = "📎 Attachment"

// Content is the message body. It is either TextContent or FileContent.
type Content interface {
	isContent()
}

// TextContent is a plain text body. Body may be empty.
type TextContent struct {
	Body string
}

// FileContent describes an uploaded attachment.
type FileContent struct {
	URL         string
	StoragePath string
	Name        string
	MIMEType    string
	SizeBytes   int64
}

func (TextContent) isContent() {}
func (FileContent) isContent() {}

// Delivery tells whether a view entry is a local placeholder or a stored message.
// It is either Pending or Confirmed.
type Delivery interface {
	isDelivery()
}

// Pending marks an optimistic entry awaiting confirmation.
type Pending struct {
	Token CorrelationToken
}

// Confirmed marks an entry backed by a stored message.
type Confirmed struct {
	ID MessageID
}

func (Pending) isDelivery()   {}
func (Confirmed) isDelivery() {}

// Message is a single chat message. ID and CreatedAt are assigned by the store.
type Message struct {
	ID             MessageID
	Token          CorrelationToken
	ConversationID ConversationID
	SenderID       UserID
	ReceiverID     UserID
	Content        Content
	Read           bool
	CreatedAt      time.Time
}

// Entry is one row of a conversation view.
type Entry struct {
	Delivery Delivery
	Message  Message
}

// IsPending reports whether the entry is still optimistic.
func (e Entry) IsPending() bool {
	_, ok := e.Delivery.(Pending)
	return ok
}

// Draft is what a participant submits before the store has seen it.
type Draft struct {
	ConversationID ConversationID
	SenderID       UserID
	ReceiverID     UserID
	Content        Content
}

// Body returns the text body, or an empty string for attachments.
func (m Message) Body() string {
	if text, ok := m.Content.(TextContent); ok {
		return text.Body
	}
	return ""
}

// Preview renders content for thread lists.
func Preview(content Content, max int) string {
	switch c := content.(type) {
	case TextContent:
		return trimSnippet(c.Body, max)
	case FileContent:
		return AttachmentPreview
	default:
		return ""
	}
}

func trimSnippet(text string, max int) string {
	runes := []rune(strings.TrimSpace(text))
	if max <= 0 || len(runes) <= max {
		return string(runes)
	}
	return string(runes[:max])
}
