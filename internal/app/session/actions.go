package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"jobchat/internal/app/commands"
	"jobchat/internal/app/handlers/jobs"
	"jobchat/internal/app/threads"
	"jobchat/internal/domain/chat"
)

// Upload is a file a participant attaches to a conversation.
type Upload struct {
	Name     string
	MIMEType string
	Size     int64
	Body     io.Reader
}

// State is the observable state of one open conversation.
type State struct {
	ConversationID chat.ConversationID
	Subject        string
	Role           chat.Role
	Counterpart    chat.Profile
	Status         string
	Gate           chat.GateState
	ExpiresAt      *time.Time
	Countdown      time.Duration
	View           []chat.Entry
	Unread         int
	Typing         bool
	TypingUsers    []chat.UserID
	Reconnecting   bool
}

// State returns the current observable state of an open conversation.
func (s *Session) State(id chat.ConversationID) (State, error) {
	c, err := s.requireOpen(id, "state")
	if err != nil {
		return State{}, err
	}
	info := c.snapshot()
	typing := s.presence.TypingParticipants(id, s.user)
	return State{
		ConversationID: id,
		Subject:        info.Subject,
		Role:           c.role,
		Counterpart:    c.counterpart,
		Status:         info.Status,
		Gate:           chat.EvaluateGate(info.Status),
		ExpiresAt:      info.ExpiresAt,
		Countdown:      chat.Countdown(info.ExpiresAt, s.deps.Clock.Now()),
		View:           c.engine.View(),
		Unread:         s.tracker.UnreadCount(s.user, id),
		Typing:         len(typing) > 0,
		TypingUsers:    typing,
		Reconnecting:   c.down.Load() > 0,
	}, nil
}

// Gate evaluates the access gate against the latest known job status.
func (s *Session) Gate(id chat.ConversationID) (chat.GateState, error) {
	c, err := s.requireOpen(id, "gate")
	if err != nil {
		return "", err
	}
	return chat.EvaluateGate(c.snapshot().Status), nil
}

// Countdown returns the time left until the job expires, zero when it has
// passed or no expiry is set.
func (s *Session) Countdown(id chat.ConversationID) (time.Duration, error) {
	c, err := s.requireOpen(id, "countdown")
	if err != nil {
		return 0, err
	}
	return chat.Countdown(c.snapshot().ExpiresAt, s.deps.Clock.Now()), nil
}

// Unread returns the badge count for a conversation.
func (s *Session) Unread(id chat.ConversationID) int {
	return s.tracker.UnreadCount(s.user, id)
}

// Send posts a text message. It returns once the store has confirmed the
// message; the optimistic entry is visible in the view before that.
func (s *Session) Send(ctx context.Context, id chat.ConversationID, text string) (chat.Message, error) {
	c, err := s.requireParticipant(id, "send")
	if err != nil {
		return chat.Message{}, err
	}
	if strings.TrimSpace(text) == "" {
		s.deps.Metrics.SendFailed("text", chat.ErrValidation)
		return chat.Message{}, chat.Validationf("send", "text is empty")
	}
	return s.submit(ctx, c, "send", chat.TextContent{Body: text})
}

// Attach uploads a file and posts it as a message. When the upload
// succeeds but the insert does not, the error carries the uploaded file
// so SendFile can retry without uploading again.
func (s *Session) Attach(ctx context.Context, id chat.ConversationID, up Upload) (chat.Message, error) {
	c, err := s.requireParticipant(id, "attach")
	if err != nil {
		return chat.Message{}, err
	}
	name := path.Base(strings.TrimSpace(up.Name))
	switch {
	case name == "" || name == "." || name == "/":
		return chat.Message{}, chat.Validationf("attach", "file name is required")
	case up.Body == nil || up.Size <= 0:
		return chat.Message{}, chat.Validationf("attach", "file is empty")
	case up.Size > s.cfg.MaxAttachmentBytes:
		return chat.Message{}, chat.Validationf("attach", "file exceeds %d bytes", s.cfg.MaxAttachmentBytes)
	}
	if err := s.checkSend(c, "attach"); err != nil {
		return chat.Message{}, err
	}
	if s.deps.Attachments == nil {
		return chat.Message{}, chat.NewError(chat.KindUpload, "attach", errors.New("attachment storage is not configured"))
	}
	mime := up.MIMEType
	if mime == "" {
		mime = "application/octet-stream"
	}
	storagePath := fmt.Sprintf("%s/%s-%s", id, uuid.NewString(), name)
	if err := s.deps.Attachments.Upload(ctx, storagePath, up.Body, up.Size, mime); err != nil {
		s.deps.Metrics.SendFailed("file", err)
		s.logger.Warn("attachment upload failed", "conversation_id", string(id), "path", storagePath, "error", err)
		return chat.Message{}, chat.NewError(chat.KindUpload, "attach", err)
	}
	file := chat.FileContent{
		URL:         s.deps.Attachments.PublicURL(storagePath),
		StoragePath: storagePath,
		Name:        name,
		MIMEType:    mime,
		SizeBytes:   up.Size,
	}
	return s.SendFile(ctx, id, file)
}

// SendFile posts an already uploaded file.
func (s *Session) SendFile(ctx context.Context, id chat.ConversationID, file chat.FileContent) (chat.Message, error) {
	c, err := s.requireParticipant(id, "attach")
	if err != nil {
		return chat.Message{}, err
	}
	if file.StoragePath == "" || file.URL == "" {
		return chat.Message{}, chat.Validationf("attach", "file has not been uploaded")
	}
	msg, err := s.submit(ctx, c, "attach", file)
	if err != nil {
		var chatErr *chat.Error
		if errors.As(err, &chatErr) && chatErr.Kind != chat.KindValidation {
			return chat.Message{}, &chat.Error{Kind: chatErr.Kind, Op: "attach", Err: chatErr.Err, File: &file}
		}
		return chat.Message{}, err
	}
	return msg, nil
}

func (s *Session) checkSend(c *conversation, op string) error {
	info := c.snapshot()
	if chat.EvaluateGate(info.Status) == chat.GateLocked {
		s.deps.Metrics.GateRejected()
		return chat.NewError(chat.KindGateLocked, op, fmt.Errorf("job is %s", info.Status))
	}
	if info.Counterpart(s.user) == "" {
		return chat.Validationf(op, "conversation has no counterpart yet")
	}
	return nil
}

func (s *Session) submit(ctx context.Context, c *conversation, op string, content chat.Content) (chat.Message, error) {
	kind := chat.ContentKind(content)
	if err := s.checkSend(c, op); err != nil {
		if chat.KindOf(err) != chat.KindGateLocked {
			s.deps.Metrics.SendFailed(kind, err)
		}
		return chat.Message{}, err
	}
	info := c.snapshot()
	c.debouncer.Idle()
	h, err := c.engine.Submit(context.WithoutCancel(ctx), chat.Draft{
		ConversationID: c.id,
		SenderID:       s.user,
		ReceiverID:     info.Counterpart(s.user),
		Content:        content,
	})
	if err != nil {
		s.deps.Metrics.SendFailed(kind, err)
		return chat.Message{}, err
	}
	// The thread list only moves on the stored timestamp, never the local clock.
	msg, err := h.Wait(ctx)
	if err != nil {
		s.deps.Metrics.SendFailed(kind, err)
		return chat.Message{}, err
	}
	s.deps.Metrics.MessageSent(kind)
	s.ranker.UpsertFromActivity(c.id, chat.Preview(msg.Content, threads.PreviewLength), msg.CreatedAt, false)
	return msg, nil
}

// SetTyping reports the local typing state. Keystrokes are throttled and
// a stop follows automatically after the idle window.
func (s *Session) SetTyping(id chat.ConversationID, typing bool) error {
	c, err := s.requireParticipant(id, "typing")
	if err != nil {
		return err
	}
	if typing {
		c.debouncer.Keystroke()
	} else {
		c.debouncer.Idle()
	}
	return nil
}

// IsAnyoneElseTyping reports whether another participant is typing.
func (s *Session) IsAnyoneElseTyping(id chat.ConversationID) bool {
	return s.presence.IsAnyoneElseTyping(id, s.user)
}

// MarkRead clears the badge of a conversation.
func (s *Session) MarkRead(ctx context.Context, id chat.ConversationID) error {
	c, err := s.requireOpen(id, "read")
	if err != nil {
		return err
	}
	if !c.participant() {
		return nil
	}
	return s.markRead(ctx, c)
}

func (s *Session) markRead(ctx context.Context, c *conversation) error {
	if err := s.tracker.MarkRead(ctx, s.user, c.id); err != nil {
		s.logger.Warn("mark read failed", "conversation_id", string(c.id), "error", err)
		return err
	}
	s.afterRead(c)
	return nil
}

func (s *Session) afterRead(c *conversation) {
	s.ranker.SetUnread(c.id, s.tracker.UnreadCount(s.user, c.id))
	c.engine.MarkReadThrough(s.user, s.tracker.ReadThrough(s.user, c.id))
	s.notifier.Publish(Change{Kind: ChangeUnread, ConversationID: c.id})
}

// onOwnReceipt handles a read performed by another session of this user.
func (s *Session) onOwnReceipt(id chat.ConversationID) {
	if err := s.tracker.Resync(s.ctx, s.user, id); err != nil {
		s.logger.Warn("unread resync failed", "conversation_id", string(id), "error", err)
		return
	}
	s.ranker.SetUnread(id, s.tracker.UnreadCount(s.user, id))
	if c, ok := s.openConversation(id); ok {
		c.engine.MarkReadThrough(s.user, s.tracker.ReadThrough(s.user, id))
	}
	s.notifier.Publish(Change{Kind: ChangeUnread, ConversationID: id})
}

// MarkCompleted completes the job from this participant's side.
func (s *Session) MarkCompleted(ctx context.Context, id chat.ConversationID) (chat.Job, error) {
	if _, err := s.requireParticipant(id, "complete"); err != nil {
		return chat.Job{}, err
	}
	res, err := commands.Dispatch[jobs.CompleteJob, jobs.Result](ctx, s.deps.Commands, jobs.CompleteJob{ConversationID: id, ActorID: s.user})
	if err != nil {
		return chat.Job{}, err
	}
	s.applyJob(id, res.Job)
	return res.Job, nil
}

// Cancel cancels the job.
func (s *Session) Cancel(ctx context.Context, id chat.ConversationID) (chat.Job, error) {
	if _, err := s.requireParticipant(id, "cancel"); err != nil {
		return chat.Job{}, err
	}
	res, err := commands.Dispatch[jobs.CancelJob, jobs.Result](ctx, s.deps.Commands, jobs.CancelJob{ConversationID: id, ActorID: s.user})
	if err != nil {
		return chat.Job{}, err
	}
	s.applyJob(id, res.Job)
	return res.Job, nil
}

// applyJob updates the gate right away instead of waiting for the echo.
func (s *Session) applyJob(id chat.ConversationID, job chat.Job) {
	if c, ok := s.openConversation(id); ok {
		c.lock.Lock()
		c.info.Status = job.Status
		c.info.ExpiresAt = job.ExpiresAt
		c.lock.Unlock()
	}
	s.ranker.SetStatus(id, job.Status, job.ExpiresAt)
	s.notifier.Publish(Change{Kind: ChangeGate, ConversationID: id})
}

// Resync reloads the view and the unread count from the store.
func (s *Session) Resync(ctx context.Context, id chat.ConversationID) error {
	c, ok := s.openConversation(id)
	if !ok {
		if err := s.tracker.Resync(ctx, s.user, id); err != nil {
			return err
		}
		s.ranker.SetUnread(id, s.tracker.UnreadCount(s.user, id))
		return nil
	}
	if err := s.seedView(ctx, c); err != nil {
		return err
	}
	return s.seedJob(ctx, c)
}

func (s *Session) requireOpen(id chat.ConversationID, op string) (*conversation, error) {
	if s.isClosed() {
		return nil, errClosed
	}
	c, ok := s.openConversation(id)
	if !ok {
		return nil, chat.NewError(chat.KindNotFound, op, fmt.Errorf("conversation %s is not open", id))
	}
	return c, nil
}

func (s *Session) requireParticipant(id chat.ConversationID, op string) (*conversation, error) {
	c, err := s.requireOpen(id, op)
	if err != nil {
		return nil, err
	}
	if !c.participant() {
		return nil, chat.NewError(chat.KindForbidden, op, errors.New("observers cannot change the conversation"))
	}
	return c, nil
}
