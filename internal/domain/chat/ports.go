package chat

import (
	"context"
	"errors"
	"io"
)

var (
	ErrConversationNotFound = errors.New("chat: conversation not found")
	ErrMessageNotFound      = errors.New("chat: message not found")
	ErrUnauthenticated      = errors.New("chat: no current user")
)

// MessageStore is the append-only message log. It is the single writer
// of truth for confirmed messages.
type MessageStore interface {
	// Insert persists a draft tagged with token and returns the stored
	// message. Inserting the same token twice returns the first message.
	Insert(ctx context.Context, token CorrelationToken, draft Draft) (Message, error)
	// Range returns every message of the conversation, oldest first.
	Range(ctx context.Context, conversationID ConversationID) ([]Message, error)
	// Latest returns the newest message, or ErrMessageNotFound.
	Latest(ctx context.Context, conversationID ConversationID) (Message, error)
	// MarkRead flags every unread message addressed to viewer as read and
	// returns how many changed.
	MarkRead(ctx context.Context, conversationID ConversationID, viewer UserID) (int, error)
}

// JobStore reads and transitions the external job record.
type JobStore interface {
	Job(ctx context.Context, id ConversationID) (Job, error)
	ListForUser(ctx context.Context, user UserID) ([]Job, error)
	UpdateStatus(ctx context.Context, id ConversationID, status string) (Job, error)
}

// ProfileDirectory resolves display names and the support flag in bulk.
// Unknown ids are absent from the result.
type ProfileDirectory interface {
	Profiles(ctx context.Context, ids []UserID) (map[UserID]Profile, error)
}

// AttachmentStorage stores binary uploads.
type AttachmentStorage interface {
	Upload(ctx context.Context, path string, body io.Reader, size int64, contentType string) error
	PublicURL(path string) string
}

// IdentityProvider resolves the bearer of a session token.
type IdentityProvider interface {
	CurrentUser(ctx context.Context, token string) (UserID, error)
}
