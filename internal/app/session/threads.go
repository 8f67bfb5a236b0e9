package session

import (
	"context"
	"errors"

	"jobchat/internal/app/realtime"
	"jobchat/internal/app/threads"
	"jobchat/internal/domain/chat"
)

// LoadThreads builds the thread list from the job store and keeps it
// current by watching the messages and job topics of every listed
// conversation. Calling it again picks up newly assigned jobs.
func (s *Session) LoadThreads(ctx context.Context) error {
	if s.isClosed() {
		return errClosed
	}
	jobs, err := s.deps.Jobs.ListForUser(ctx, s.user)
	if err != nil {
		return chat.NewError(chat.KindPersistence, "load threads", err)
	}
	counterparts := make([]chat.UserID, 0, len(jobs))
	for _, job := range jobs {
		if id := chat.ConversationFromJob(job).Counterpart(s.user); id != "" {
			counterparts = append(counterparts, id)
		}
	}
	profiles := map[chat.UserID]chat.Profile{}
	if s.deps.Profiles != nil && len(counterparts) > 0 {
		if profiles, err = s.deps.Profiles.Profiles(ctx, counterparts); err != nil {
			s.logger.Warn("counterpart profiles unavailable", "error", err)
			profiles = map[chat.UserID]chat.Profile{}
		}
	}

	for _, job := range jobs {
		info := chat.ConversationFromJob(job)
		if info.RoleOf(s.user, s.profile) == chat.RoleObserver {
			continue
		}
		counterpart := info.Counterpart(s.user)
		profile, ok := profiles[counterpart]
		if !ok {
			profile = chat.Profile{ID: counterpart}
		}
		summary := threads.Summary{
			ConversationID:  job.ID,
			Subject:         job.Title,
			CounterpartID:   counterpart,
			CounterpartName: profile.Label(),
			Status:          job.Status,
			ExpiresAt:       job.ExpiresAt,
			LastActivity:    job.UpdatedAt,
		}
		latest, err := s.deps.Messages.Latest(ctx, job.ID)
		switch {
		case err == nil:
			summary.Preview = chat.Preview(latest.Content, threads.PreviewLength)
			summary.LastActivity = latest.CreatedAt
		case !errors.Is(err, chat.ErrMessageNotFound):
			return chat.NewError(chat.KindPersistence, "load threads", err)
		}
		s.tracker.Track(s.user, job.ID)
		s.ranker.Put(summary)
		if err := s.watch(ctx, job.ID); err != nil {
			return err
		}
	}
	s.notifier.Publish(Change{Kind: ChangeThreads})
	return nil
}

// ListThreads returns the thread list, newest activity first, filtered by
// a case-insensitive substring of the subject, counterpart or preview.
func (s *Session) ListThreads(query string) []threads.Summary {
	return s.ranker.List(query)
}

func (s *Session) watch(ctx context.Context, id chat.ConversationID) error {
	s.mu.Lock()
	_, watching := s.watches[id]
	s.mu.Unlock()
	if watching {
		return s.resyncUnread(ctx, id)
	}

	lock := s.lockFor(id)
	messages, err := s.deps.Dispatcher.Subscribe(ctx, realtime.MessagesTopic(id), func(ev realtime.Event) {
		if _, open := s.openConversation(id); open {
			return
		}
		switch ev := ev.(type) {
		case realtime.MessageInserted:
			lock.Lock()
			s.recordActivity(ev.Message)
			lock.Unlock()
		case realtime.ReadReceipt:
			if ev.ReaderID == s.user {
				s.onOwnReceipt(id)
			}
		}
	}, realtime.SubscribeOptions{
		Member: s.user,
		Seed:   func(ctx context.Context) error { return s.resyncUnread(ctx, id) },
	})
	if err != nil {
		return err
	}
	job, err := s.deps.Dispatcher.Subscribe(ctx, realtime.JobTopic(id), func(ev realtime.Event) {
		if update, ok := ev.(realtime.JobUpdated); ok {
			s.ranker.SetStatus(id, update.Status, update.ExpiresAt)
		}
	}, realtime.SubscribeOptions{Member: s.user})
	if err != nil {
		_ = messages.Close()
		return err
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.Join(errClosed, closeFeeds([]*realtime.Feed{messages, job}))
	}
	if _, raced := s.watches[id]; raced {
		s.mu.Unlock()
		return closeFeeds([]*realtime.Feed{messages, job})
	}
	s.watches[id] = []*realtime.Feed{messages, job}
	s.mu.Unlock()
	return nil
}

func (s *Session) resyncUnread(ctx context.Context, id chat.ConversationID) error {
	if err := s.tracker.Resync(ctx, s.user, id); err != nil {
		return err
	}
	s.ranker.SetUnread(id, s.tracker.UnreadCount(s.user, id))
	s.notifier.Publish(Change{Kind: ChangeUnread, ConversationID: id})
	return nil
}
