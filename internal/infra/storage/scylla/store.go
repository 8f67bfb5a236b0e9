package scylla

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gocql/gocql"

	"jobchat/internal/domain/chat"
)

const messageColumns = `conversation_id, message_id, token, sender_id, receiver_id, kind, body, file_url, file_path, file_name, file_mime, file_size, read, created_at`

// ErrTokenInFlight is returned when a token is claimed but its message
// is not readable yet. Callers may retry the insert.
var ErrTokenInFlight = errors.New("scylla: insert for token still in flight")

// MessageStore keeps one partition per conversation, clustered by
// timeuuid so Range reads in insertion order. Correlation tokens are
// claimed with a lightweight transaction before the message row is
// written.
type MessageStore struct {
	session *gocql.Session
	logger  *slog.Logger

	mu     sync.Mutex
	lastAt map[chat.ConversationID]time.Time
	now    func() time.Time
}

func NewMessageStore(session *gocql.Session, logger *slog.Logger) *MessageStore {
	return &MessageStore{session: session, logger: logger, lastAt: make(map[chat.ConversationID]time.Time), now: time.Now}
}

func (s *MessageStore) Insert(ctx context.Context, token chat.CorrelationToken, draft chat.Draft) (chat.Message, error) {
	if s.session == nil {
		return chat.Message{}, errors.New("scylla session not initialized")
	}
	if draft.ConversationID == "" || draft.SenderID == "" || draft.Content == nil {
		return chat.Message{}, errors.New("scylla: conversation, sender and content are required")
	}
	at := s.nextTimestamp(draft.ConversationID)
	messageID := gocql.UUIDFromTime(at)

	if token != "" {
		claimed, err := s.claimToken(ctx, token, draft.ConversationID, messageID)
		if err != nil {
			return chat.Message{}, err
		}
		if claimed != nil {
			return s.byID(ctx, claimed.conversation, claimed.message)
		}
	}

	row := newMessageRow(draft, token, messageID, at)
	if err := s.session.
		Query(`INSERT INTO messages (`+messageColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, row.values()...).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Exec(); err != nil {
		if token != "" {
			s.releaseToken(token)
		}
		return chat.Message{}, err
	}
	return row.message(), nil
}

type tokenOwner struct {
	conversation chat.ConversationID
	message      gocql.UUID
}

// claimToken returns nil when the token is newly claimed, or the owner
// of an existing claim.
func (s *MessageStore) claimToken(ctx context.Context, token chat.CorrelationToken, conversation chat.ConversationID, messageID gocql.UUID) (*tokenOwner, error) {
	existing := map[string]any{}
	applied, err := s.session.
		Query(`INSERT INTO message_tokens (token, conversation_id, message_id) VALUES (?, ?, ?) IF NOT EXISTS`,
			string(token), string(conversation), messageID).
		WithContext(ctx).
		MapScanCAS(existing)
	if err != nil {
		return nil, fmt.Errorf("claim token: %w", err)
	}
	if applied {
		return nil, nil
	}
	owner := &tokenOwner{}
	if v, ok := existing["conversation_id"].(string); ok {
		owner.conversation = chat.ConversationID(v)
	}
	if v, ok := existing["message_id"].(gocql.UUID); ok {
		owner.message = v
	}
	return owner, nil
}

func (s *MessageStore) releaseToken(token chat.CorrelationToken) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.session.Query(`DELETE FROM message_tokens WHERE token = ? IF EXISTS`, string(token)).WithContext(ctx).Exec(); err != nil && s.logger != nil {
		s.logger.Warn("release message token failed", "token", string(token), "error", err)
	}
}

func (s *MessageStore) byID(ctx context.Context, conversation chat.ConversationID, id gocql.UUID) (chat.Message, error) {
	var row messageRow
	err := s.session.
		Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? AND message_id = ?`, string(conversation), id).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Scan(row.dest()...)
	if errors.Is(err, gocql.ErrNotFound) {
		return chat.Message{}, ErrTokenInFlight
	}
	if err != nil {
		return chat.Message{}, err
	}
	return row.message(), nil
}

func (s *MessageStore) Range(ctx context.Context, conversationID chat.ConversationID) ([]chat.Message, error) {
	if s.session == nil {
		return nil, errors.New("scylla session not initialized")
	}
	iter := s.session.
		Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ?`, string(conversationID)).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Iter()
	messages := make([]chat.Message, 0)
	var row messageRow
	for iter.Scan(row.dest()...) {
		messages = append(messages, row.message())
		row = messageRow{}
	}
	if err := iter.Close(); err != nil {
		return nil, err
	}
	return messages, nil
}

func (s *MessageStore) Latest(ctx context.Context, conversationID chat.ConversationID) (chat.Message, error) {
	if s.session == nil {
		return chat.Message{}, errors.New("scylla session not initialized")
	}
	var row messageRow
	err := s.session.
		Query(`SELECT `+messageColumns+` FROM messages WHERE conversation_id = ? ORDER BY message_id DESC LIMIT 1`, string(conversationID)).
		WithContext(ctx).
		Consistency(gocql.One).
		Scan(row.dest()...)
	if errors.Is(err, gocql.ErrNotFound) {
		return chat.Message{}, chat.ErrMessageNotFound
	}
	if err != nil {
		return chat.Message{}, err
	}
	return row.message(), nil
}

// MarkRead flips the read flag on unread messages addressed to viewer.
// All updates target one partition and go out as a single batch.
func (s *MessageStore) MarkRead(ctx context.Context, conversationID chat.ConversationID, viewer chat.UserID) (int, error) {
	if s.session == nil {
		return 0, errors.New("scylla session not initialized")
	}
	iter := s.session.
		Query(`SELECT message_id, receiver_id, read FROM messages WHERE conversation_id = ?`, string(conversationID)).
		WithContext(ctx).
		Consistency(gocql.Quorum).
		Iter()
	var (
		ids      []gocql.UUID
		id       gocql.UUID
		receiver string
		read     bool
	)
	for iter.Scan(&id, &receiver, &read) {
		if receiver == string(viewer) && !read {
			ids = append(ids, id)
		}
	}
	if err := iter.Close(); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}
	batch := s.session.NewBatch(gocql.UnloggedBatch).WithContext(ctx)
	for _, id := range ids {
		batch.Query(`UPDATE messages SET read = true WHERE conversation_id = ? AND message_id = ?`, string(conversationID), id)
	}
	if err := s.session.ExecuteBatch(batch); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// nextTimestamp keeps per-conversation timestamps strictly increasing
// within this process.
func (s *MessageStore) nextTimestamp(id chat.ConversationID) time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	at := s.now().UTC().Truncate(time.Millisecond)
	if last, ok := s.lastAt[id]; ok && !at.After(last) {
		at = last.Add(time.Millisecond)
	}
	s.lastAt[id] = at
	return at
}

var _ chat.MessageStore = (*MessageStore)(nil)
