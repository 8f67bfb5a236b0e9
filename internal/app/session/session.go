// Package session is the per-user entry point of the chat core. A Session
// is bound to one authenticated user for its whole life and owns that
// user's open conversations, thread list, unread badges and typing state.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"jobchat/internal/app/commands"
	"jobchat/internal/app/presence"
	"jobchat/internal/app/realtime"
	"jobchat/internal/app/threads"
	"jobchat/internal/app/unread"
	"jobchat/internal/domain/chat"
	"jobchat/internal/domain/shared/clock"
)

// Metrics observes user-visible outcomes.
type Metrics interface {
	MessageSent(kind string)
	SendFailed(kind string, err error)
	GateRejected()
}

// Deps are the collaborators a session needs. Messages should be the
// realtime change feed so that stored messages reach other sessions.
type Deps struct {
	Identity    chat.IdentityProvider
	Messages    chat.MessageStore
	Jobs        chat.JobStore
	Profiles    chat.ProfileDirectory
	Attachments chat.AttachmentStorage
	Dispatcher  *realtime.Dispatcher
	Commands    commands.Bus
	Clock       clock.Clock
	Logger      *slog.Logger
	Metrics     Metrics
}

// Config tunes session behaviour.
type Config struct {
	TypingIdle         time.Duration
	TypingRefresh      time.Duration
	PresenceStaleAfter time.Duration
	MaxAttachmentBytes int64
}

func (c Config) withDefaults() Config {
	if c.TypingIdle <= 0 {
		c.TypingIdle = chat.DefaultTypingIdle
	}
	if c.MaxAttachmentBytes <= 0 {
		c.MaxAttachmentBytes = 20 << 20
	}
	return c
}

// Session is one user's live view of their conversations.
type Session struct {
	deps    Deps
	cfg     Config
	user    chat.UserID
	profile chat.Profile
	logger  *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	tracker  *unread.Tracker
	ranker   *threads.Ranker
	presence *presence.Aggregator
	notifier *Notifier

	mu      sync.Mutex
	locks   map[chat.ConversationID]*sync.Mutex
	open    map[chat.ConversationID]*conversation
	watches map[chat.ConversationID][]*realtime.Feed
	closed  bool
}

var errClosed = errors.New("session: closed")

// Start resolves the current user from token and returns their session.
// No subscription is made before the identity is known.
func Start(ctx context.Context, deps Deps, cfg Config, token string) (*Session, error) {
	if deps.Identity == nil || deps.Messages == nil || deps.Jobs == nil || deps.Dispatcher == nil {
		return nil, errors.New("session: missing dependencies")
	}
	user, err := deps.Identity.CurrentUser(ctx, token)
	if err != nil {
		if errors.Is(err, chat.ErrUnauthenticated) {
			return nil, chat.NewError(chat.KindForbidden, "start", err)
		}
		return nil, chat.NewError(chat.KindPersistence, "start", err)
	}
	if user == "" {
		return nil, chat.NewError(chat.KindForbidden, "start", chat.ErrUnauthenticated)
	}
	return newSession(ctx, deps, cfg, user)
}

func newSession(ctx context.Context, deps Deps, cfg Config, user chat.UserID) (*Session, error) {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if deps.Metrics == nil {
		deps.Metrics = noopMetrics{}
	}
	profile := chat.Profile{ID: user}
	if deps.Profiles != nil {
		profiles, err := deps.Profiles.Profiles(ctx, []chat.UserID{user})
		if err != nil {
			return nil, chat.NewError(chat.KindPersistence, "load profile", err)
		}
		if p, ok := profiles[user]; ok {
			profile = p
		}
	}
	cfg = cfg.withDefaults()
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	sessCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	s := &Session{
		deps:     deps,
		cfg:      cfg,
		user:     user,
		profile:  profile,
		logger:   logger.With("user_id", string(user)),
		ctx:      sessCtx,
		cancel:   cancel,
		tracker:  unread.New(deps.Messages, nil),
		presence: presence.NewAggregator(deps.Clock, cfg.PresenceStaleAfter),
		notifier: NewNotifier(),
		locks:    make(map[chat.ConversationID]*sync.Mutex),
		open:     make(map[chat.ConversationID]*conversation),
		watches:  make(map[chat.ConversationID][]*realtime.Feed),
	}
	s.ranker = threads.NewRanker(func() { s.notifier.Publish(Change{Kind: ChangeThreads}) })
	return s, nil
}

// User returns the session's user.
func (s *Session) User() chat.UserID { return s.user }

// Profile returns the session user's directory entry.
func (s *Session) Profile() chat.Profile { return s.profile }

// Changes exposes state change notifications.
func (s *Session) Changes() *Notifier { return s.notifier }

// Close tears down every subscription and pending timer.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	open := s.open
	watches := s.watches
	s.open = make(map[chat.ConversationID]*conversation)
	s.watches = make(map[chat.ConversationID][]*realtime.Feed)
	s.mu.Unlock()

	var errs []error
	for _, conv := range open {
		errs = append(errs, conv.shutdown())
	}
	for _, feeds := range watches {
		errs = append(errs, closeFeeds(feeds))
	}
	s.cancel()
	s.notifier.Close()
	return errors.Join(errs...)
}

// lockFor returns the mutex that serialises state changes of one
// conversation across this session's feeds and calls.
func (s *Session) lockFor(id chat.ConversationID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

func (s *Session) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func (s *Session) openConversation(id chat.ConversationID) (*conversation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.open[id]
	return c, ok
}

func closeFeeds(feeds []*realtime.Feed) error {
	var errs []error
	for _, f := range feeds {
		if f != nil {
			errs = append(errs, f.Close())
		}
	}
	return errors.Join(errs...)
}

// recordActivity feeds a confirmed message into the unread tracker and the
// thread ranker. It is idempotent per message id. Callers hold the
// conversation lock. It reports whether the message was newly counted
// as unread for this user.
func (s *Session) recordActivity(msg chat.Message) bool {
	incoming := msg.ReceiverID == s.user && s.tracker.OnIncoming(msg)
	s.ranker.UpsertFromActivity(msg.ConversationID, chat.Preview(msg.Content, threads.PreviewLength), msg.CreatedAt, incoming)
	if incoming {
		s.notifier.Publish(Change{Kind: ChangeUnread, ConversationID: msg.ConversationID})
	}
	return incoming
}

type noopMetrics struct{}

func (noopMetrics) MessageSent(string)       {}
func (noopMetrics) SendFailed(string, error) {}
func (noopMetrics) GateRejected()            {}
