package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"jobchat/internal/app/presence"
	"jobchat/internal/app/realtime"
	"jobchat/internal/app/reconcile"
	"jobchat/internal/app/threads"
	"jobchat/internal/domain/chat"
)

// conversation is the state of one open conversation. info is guarded by
// lock, which is shared with every other path touching the conversation.
type conversation struct {
	id          chat.ConversationID
	role        chat.Role
	counterpart chat.Profile
	lock        *sync.Mutex
	info        chat.Conversation

	engine    *reconcile.Engine
	debouncer *presence.Debouncer
	feeds     []*realtime.Feed
	down      atomic.Int32
}

func (c *conversation) participant() bool {
	return c.role == chat.RoleSeeker || c.role == chat.RoleProvider
}

func (c *conversation) shutdown() error {
	c.debouncer.Stop()
	return closeFeeds(c.feeds)
}

func (c *conversation) snapshot() chat.Conversation {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.info
}

// OpenConversation resolves access, subscribes the messages, job and
// presence channels, seeds the view and marks it read. Opening an already
// open conversation returns its current state.
func (s *Session) OpenConversation(ctx context.Context, id chat.ConversationID) (State, error) {
	if s.isClosed() {
		return State{}, errClosed
	}
	if _, ok := s.openConversation(id); ok {
		return s.State(id)
	}
	job, err := s.deps.Jobs.Job(ctx, id)
	if err != nil {
		return State{}, notFoundOr(err, "open")
	}
	info := chat.ConversationFromJob(job)
	role := info.RoleOf(s.user, s.profile)
	if role == chat.RoleNone {
		return State{}, chat.NewError(chat.KindForbidden, "open "+string(id), nil)
	}
	c := &conversation{id: id, role: role, lock: s.lockFor(id), info: info}
	c.counterpart = s.counterpartProfile(ctx, info)
	c.engine = reconcile.New(id, s.deps.Messages, reconcile.Options{
		Now:      s.deps.Clock.Now,
		Logger:   s.logger,
		OnChange: func() { s.notifier.Publish(Change{Kind: ChangeView, ConversationID: id}) },
	})
	c.debouncer = presence.NewDebouncer(s.deps.Clock, s.cfg.TypingIdle, s.cfg.TypingRefresh, func(typing bool) {
		s.publishPresence(id, typing)
	})
	if c.participant() {
		s.tracker.Track(s.user, id)
	}

	_, listed := s.ranker.Get(id)
	if !listed && c.participant() {
		s.ranker.Put(threads.Summary{
			ConversationID:  id,
			Subject:         info.Subject,
			CounterpartID:   c.counterpart.ID,
			CounterpartName: c.counterpart.Label(),
			Status:          info.Status,
			ExpiresAt:       info.ExpiresAt,
			LastActivity:    job.UpdatedAt,
		})
	}
	fail := func(err error) (State, error) {
		_ = c.shutdown()
		s.forgetIfUnlisted(id)
		if !listed {
			s.ranker.Remove(id)
		}
		return State{}, err
	}

	subs := []struct {
		topic   realtime.Topic
		handler realtime.Handler
		seed    func(context.Context) error
	}{
		{realtime.MessagesTopic(id), func(ev realtime.Event) { s.onMessageEvent(c, ev) }, func(ctx context.Context) error { return s.seedView(ctx, c) }},
		{realtime.JobTopic(id), func(ev realtime.Event) { s.onJobEvent(c, ev) }, func(ctx context.Context) error { return s.seedJob(ctx, c) }},
		{realtime.PresenceTopic(id), func(ev realtime.Event) { s.onPresenceEvent(c, ev) }, func(context.Context) error {
			s.presence.Forget(id)
			return nil
		}},
	}
	for _, sub := range subs {
		feed, err := s.deps.Dispatcher.Subscribe(ctx, sub.topic, sub.handler, realtime.SubscribeOptions{
			Member:        s.user,
			Seed:          sub.seed,
			OnStateChange: s.connectionObserver(c, sub.topic),
		})
		if err != nil {
			return fail(err)
		}
		c.feeds = append(c.feeds, feed)
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fail(errClosed)
	}
	if _, raced := s.open[id]; raced {
		s.mu.Unlock()
		_ = c.shutdown()
		return s.State(id)
	}
	s.open[id] = c
	s.mu.Unlock()

	s.logger.Info("conversation opened", "conversation_id", string(id), "role", string(role))
	return s.State(id)
}

// CloseConversation unsubscribes all three channels and cancels the
// pending typing stop. Closing a conversation that is not open is a no-op.
func (s *Session) CloseConversation(id chat.ConversationID) error {
	s.mu.Lock()
	c, ok := s.open[id]
	delete(s.open, id)
	s.mu.Unlock()
	if !ok {
		return nil
	}
	err := c.shutdown()
	s.presence.Forget(id)
	s.forgetIfUnlisted(id)
	s.notifier.Publish(Change{Kind: ChangeView, ConversationID: id})
	s.logger.Info("conversation closed", "conversation_id", string(id))
	return err
}

func (s *Session) forgetIfUnlisted(id chat.ConversationID) {
	s.mu.Lock()
	_, watched := s.watches[id]
	s.mu.Unlock()
	if !watched {
		s.tracker.Forget(s.user, id)
	}
}

func (s *Session) counterpartProfile(ctx context.Context, info chat.Conversation) chat.Profile {
	id := info.Counterpart(s.user)
	if id == "" {
		return chat.Profile{}
	}
	profile := chat.Profile{ID: id}
	if s.deps.Profiles == nil {
		return profile
	}
	profiles, err := s.deps.Profiles.Profiles(ctx, []chat.UserID{id})
	if err != nil {
		s.logger.Warn("profile lookup failed", "counterpart_id", string(id), "error", err)
		return profile
	}
	if p, ok := profiles[id]; ok {
		return p
	}
	return profile
}

// seedView loads the full view. It runs before any message event is
// applied, both at open and after every resubscription.
func (s *Session) seedView(ctx context.Context, c *conversation) error {
	if err := c.engine.Seed(ctx); err != nil {
		return err
	}
	if c.participant() {
		if err := s.tracker.Resync(ctx, s.user, c.id); err != nil {
			return err
		}
		if err := s.tracker.MarkRead(ctx, s.user, c.id); err != nil {
			return err
		}
		s.afterRead(c)
	}
	s.refreshFromView(c)
	return nil
}

// refreshFromView moves the thread preview to the newest confirmed entry.
func (s *Session) refreshFromView(c *conversation) {
	if !c.participant() {
		return
	}
	view := c.engine.View()
	for i := len(view) - 1; i >= 0; i-- {
		if view[i].IsPending() {
			continue
		}
		msg := view[i].Message
		s.ranker.UpsertFromActivity(c.id, chat.Preview(msg.Content, threads.PreviewLength), msg.CreatedAt, false)
		return
	}
}

func (s *Session) seedJob(ctx context.Context, c *conversation) error {
	job, err := s.deps.Jobs.Job(ctx, c.id)
	if err != nil {
		return notFoundOr(err, "load job")
	}
	c.lock.Lock()
	c.info = chat.ConversationFromJob(job)
	c.lock.Unlock()
	s.ranker.SetStatus(c.id, job.Status, job.ExpiresAt)
	s.notifier.Publish(Change{Kind: ChangeGate, ConversationID: c.id})
	return nil
}

func (s *Session) onMessageEvent(c *conversation, ev realtime.Event) {
	switch ev := ev.(type) {
	case realtime.MessageInserted:
		c.lock.Lock()
		c.engine.OnServerEvent(ev.Message)
		incoming := false
		if c.participant() {
			incoming = s.recordActivity(ev.Message)
		}
		c.lock.Unlock()
		if incoming {
			// The conversation is on screen, so the badge must not light up.
			s.markRead(s.ctx, c)
		}
	case realtime.ReadReceipt:
		if ev.ReaderID == s.user {
			s.onOwnReceipt(c.id)
			return
		}
		c.lock.Lock()
		c.engine.MarkReadThrough(ev.ReaderID, ev.At)
		c.lock.Unlock()
	}
}

func (s *Session) onJobEvent(c *conversation, ev realtime.Event) {
	update, ok := ev.(realtime.JobUpdated)
	if !ok {
		return
	}
	c.lock.Lock()
	c.info.Status = update.Status
	if update.ExpiresAt != nil {
		c.info.ExpiresAt = update.ExpiresAt
	}
	c.lock.Unlock()
	s.ranker.SetStatus(c.id, update.Status, update.ExpiresAt)
	s.notifier.Publish(Change{Kind: ChangeGate, ConversationID: c.id})
}

func (s *Session) onPresenceEvent(c *conversation, ev realtime.Event) {
	changed := false
	switch ev := ev.(type) {
	case realtime.PresenceChanged:
		if ev.Signal.ParticipantID == s.user {
			return
		}
		changed = s.presence.Heartbeat(ev.Signal)
	case realtime.ParticipantLeft:
		changed = s.presence.Left(ev.ConversationID, ev.ParticipantID)
	}
	if changed {
		s.notifier.Publish(Change{Kind: ChangeTyping, ConversationID: c.id})
	}
}

func (s *Session) publishPresence(id chat.ConversationID, typing bool) {
	ev := realtime.PresenceChanged{Signal: chat.PresenceSignal{
		ConversationID: id,
		ParticipantID:  s.user,
		Typing:         typing,
		At:             s.deps.Clock.Now(),
	}}
	if err := s.deps.Dispatcher.Publish(s.ctx, realtime.PresenceTopic(id), ev); err != nil {
		s.logger.Warn("typing signal not sent", "conversation_id", string(id), "error", err)
	}
}

func (s *Session) connectionObserver(c *conversation, topic realtime.Topic) func(bool, error) {
	return func(connected bool, err error) {
		if connected {
			c.down.Add(-1)
		} else {
			c.down.Add(1)
			s.logger.Warn("realtime channel reconnecting", "topic", topic.String(), "error", err)
		}
		s.notifier.Publish(Change{Kind: ChangeConnection, ConversationID: c.id})
	}
}

func notFoundOr(err error, op string) error {
	if chat.KindOf(err) != chat.KindUnknown {
		return err
	}
	if errors.Is(err, chat.ErrConversationNotFound) {
		return chat.NewError(chat.KindNotFound, op, err)
	}
	return chat.NewError(chat.KindPersistence, op, err)
}
