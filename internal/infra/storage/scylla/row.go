package scylla

import (
	"time"

	"github.com/gocql/gocql"

	"jobchat/internal/domain/chat"
)

const (
	kindText = "text"
	kindFile = "file"
)

// messageRow mirrors one row of the messages table. Field order matches
// messageColumns.
type messageRow struct {
	ConversationID string
	MessageID      gocql.UUID
	Token          string
	SenderID       string
	ReceiverID     string
	Kind           string
	Body           string
	FileURL        string
	FilePath       string
	FileName       string
	FileMIME       string
	FileSize       int64
	Read           bool
	CreatedAt      time.Time
}

func newMessageRow(draft chat.Draft, token chat.CorrelationToken, id gocql.UUID, at time.Time) messageRow {
	row := messageRow{
		ConversationID: string(draft.ConversationID),
		MessageID:      id,
		Token:          string(token),
		SenderID:       string(draft.SenderID),
		ReceiverID:     string(draft.ReceiverID),
		Kind:           kindText,
		CreatedAt:      at.UTC(),
	}
	switch c := draft.Content.(type) {
	case chat.TextContent:
		row.Body = c.Body
	case chat.FileContent:
		row.Kind = kindFile
		row.FileURL = c.URL
		row.FilePath = c.StoragePath
		row.FileName = c.Name
		row.FileMIME = c.MIMEType
		row.FileSize = c.SizeBytes
	}
	return row
}

func (r *messageRow) dest() []any {
	return []any{
		&r.ConversationID, &r.MessageID, &r.Token, &r.SenderID, &r.ReceiverID, &r.Kind, &r.Body,
		&r.FileURL, &r.FilePath, &r.FileName, &r.FileMIME, &r.FileSize, &r.Read, &r.CreatedAt,
	}
}

func (r messageRow) values() []any {
	return []any{
		r.ConversationID, r.MessageID, r.Token, r.SenderID, r.ReceiverID, r.Kind, r.Body,
		r.FileURL, r.FilePath, r.FileName, r.FileMIME, r.FileSize, r.Read, r.CreatedAt,
	}
}

func (r messageRow) message() chat.Message {
	msg := chat.Message{
		ID:             chat.MessageID(r.MessageID.String()),
		Token:          chat.CorrelationToken(r.Token),
		ConversationID: chat.ConversationID(r.ConversationID),
		SenderID:       chat.UserID(r.SenderID),
		ReceiverID:     chat.UserID(r.ReceiverID),
		Read:           r.Read,
		CreatedAt:      r.CreatedAt.UTC(),
	}
	if r.Kind == kindFile {
		msg.Content = chat.FileContent{URL: r.FileURL, StoragePath: r.FilePath, Name: r.FileName, MIMEType: r.FileMIME, SizeBytes: r.FileSize}
	} else {
		msg.Content = chat.TextContent{Body: r.Body}
	}
	return msg
}
