package realtime

import (
	"encoding/json"
	"fmt"
	"time"

	"jobchat/internal/domain/chat"
)

// Wire type names used by Encode/Decode.
const (
	TypeMessageInserted = "message.inserted"
	TypeReadReceipt     = "message.read"
	TypeJobUpdated      = "job.updated"
	TypePresenceChanged = "presence.changed"
	TypeParticipantLeft = "presence.left"
)

type wireEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

// WireFile is the JSON shape of an attachment descriptor.
type WireFile struct {
	URL         string `json:"url"`
	StoragePath string `json:"storage_path"`
	Name        string `json:"name"`
	MIMEType    string `json:"mime_type"`
	SizeBytes   int64  `json:"size_bytes"`
}

// WireMessage is the JSON shape of a message.
type WireMessage struct {
	ID             string    `json:"id"`
	Token          string    `json:"client_token,omitempty"`
	ConversationID string    `json:"conversation_id"`
	SenderID       string    `json:"sender_id"`
	ReceiverID     string    `json:"receiver_id"`
	Body           string    `json:"body"`
	File           *WireFile `json:"file,omitempty"`
	Read           bool      `json:"read"`
	CreatedAt      time.Time `json:"created_at"`
}

type wireReceipt struct {
	ConversationID string    `json:"conversation_id"`
	ReaderID       string    `json:"reader_id"`
	At             time.Time `json:"at"`
}

type wireJob struct {
	ConversationID string     `json:"conversation_id"`
	Status         string     `json:"status"`
	ExpiresAt      *time.Time `json:"expires_at,omitempty"`
	At             time.Time  `json:"at"`
}

type wirePresence struct {
	ConversationID string    `json:"conversation_id"`
	ParticipantID  string    `json:"participant_id"`
	Typing         bool      `json:"typing"`
	At             time.Time `json:"at"`
}

// EncodeMessage converts a message to its wire form. It is shared with
// the HTTP layer so clients see the same shape on every channel.
func EncodeMessage(m chat.Message) WireMessage {
	out := WireMessage{
		ID:             string(m.ID),
		Token:          string(m.Token),
		ConversationID: string(m.ConversationID),
		SenderID:       string(m.SenderID),
		ReceiverID:     string(m.ReceiverID),
		Read:           m.Read,
		CreatedAt:      m.CreatedAt,
	}
	switch c := m.Content.(type) {
	case chat.TextContent:
		out.Body = c.Body
	case chat.FileContent:
		out.File = &WireFile{URL: c.URL, StoragePath: c.StoragePath, Name: c.Name, MIMEType: c.MIMEType, SizeBytes: c.SizeBytes}
	}
	return out
}

func decodeMessage(w WireMessage) chat.Message {
	m := chat.Message{
		ID:             chat.MessageID(w.ID),
		Token:          chat.CorrelationToken(w.Token),
		ConversationID: chat.ConversationID(w.ConversationID),
		SenderID:       chat.UserID(w.SenderID),
		ReceiverID:     chat.UserID(w.ReceiverID),
		Read:           w.Read,
		CreatedAt:      w.CreatedAt,
	}
	if w.File != nil {
		m.Content = chat.FileContent{URL: w.File.URL, StoragePath: w.File.StoragePath, Name: w.File.Name, MIMEType: w.File.MIMEType, SizeBytes: w.File.SizeBytes}
	} else {
		m.Content = chat.TextContent{Body: w.Body}
	}
	return m
}

// Encode serialises an event into a {type, data} JSON envelope.
// Disconnected is local-only and cannot be encoded.
func Encode(event Event) ([]byte, error) {
	var (
		kind string
		data any
	)
	switch ev := event.(type) {
	case MessageInserted:
		kind, data = TypeMessageInserted, EncodeMessage(ev.Message)
	case ReadReceipt:
		kind, data = TypeReadReceipt, wireReceipt{ConversationID: string(ev.ConversationID), ReaderID: string(ev.ReaderID), At: ev.At}
	case JobUpdated:
		kind, data = TypeJobUpdated, wireJob{ConversationID: string(ev.ConversationID), Status: ev.Status, ExpiresAt: ev.ExpiresAt, At: ev.At}
	case PresenceChanged:
		kind, data = TypePresenceChanged, wirePresence{
			ConversationID: string(ev.Signal.ConversationID),
			ParticipantID:  string(ev.Signal.ParticipantID),
			Typing:         ev.Signal.Typing,
			At:             ev.Signal.At,
		}
	case ParticipantLeft:
		kind, data = TypeParticipantLeft, wirePresence{ConversationID: string(ev.ConversationID), ParticipantID: string(ev.ParticipantID), At: ev.At}
	default:
		return nil, fmt.Errorf("realtime: cannot encode %T", event)
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("realtime: encode %s: %w", kind, err)
	}
	return json.Marshal(wireEnvelope{Type: kind, Data: raw})
}

// Decode parses an envelope produced by Encode.
func Decode(payload []byte) (Event, error) {
	var env wireEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return nil, fmt.Errorf("realtime: decode envelope: %w", err)
	}
	switch env.Type {
	case TypeMessageInserted:
		var w WireMessage
		if err := json.Unmarshal(env.Data, &w); err != nil {
			return nil, fmt.Errorf("realtime: decode %s: %w", env.Type, err)
		}
		return MessageInserted{Message: decodeMessage(w)}, nil
	case TypeReadReceipt:
		var w wireReceipt
		if err := json.Unmarshal(env.Data, &w); err != nil {
			return nil, fmt.Errorf("realtime: decode %s: %w", env.Type, err)
		}
		return ReadReceipt{ConversationID: chat.ConversationID(w.ConversationID), ReaderID: chat.UserID(w.ReaderID), At: w.At}, nil
	case TypeJobUpdated:
		var w wireJob
		if err := json.Unmarshal(env.Data, &w); err != nil {
			return nil, fmt.Errorf("realtime: decode %s: %w", env.Type, err)
		}
		return JobUpdated{ConversationID: chat.ConversationID(w.ConversationID), Status: w.Status, ExpiresAt: w.ExpiresAt, At: w.At}, nil
	case TypePresenceChanged, TypeParticipantLeft:
		var w wirePresence
		if err := json.Unmarshal(env.Data, &w); err != nil {
			return nil, fmt.Errorf("realtime: decode %s: %w", env.Type, err)
		}
		if env.Type == TypeParticipantLeft {
			return ParticipantLeft{ConversationID: chat.ConversationID(w.ConversationID), ParticipantID: chat.UserID(w.ParticipantID), At: w.At}, nil
		}
		return PresenceChanged{Signal: chat.PresenceSignal{
			ConversationID: chat.ConversationID(w.ConversationID),
			ParticipantID:  chat.UserID(w.ParticipantID),
			Typing:         w.Typing,
			At:             w.At,
		}}, nil
	default:
		return nil, fmt.Errorf("realtime: unknown event type %q", env.Type)
	}
}
