// Package rabbitmq carries realtime events over a RabbitMQ topic
// exchange. Every subscription owns an exclusive auto-delete queue bound
// to the topic's routing key, so each event reaches every subscriber.
package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rabbitmq/amqp091-go"

	"jobchat/internal/app/realtime"
	"jobchat/internal/domain/chat"
)

var ErrClosed = errors.New("rabbitmq: transport closed")

// Transport implements realtime.Transport.
type Transport struct {
	url      string
	exchange string
	logger   *slog.Logger
	now      func() time.Time

	mu     sync.Mutex
	conn   *amqp091.Connection
	pub    *amqp091.Channel
	closed bool

	presence *members
}

// Dial connects, retrying with exponential backoff up to attempts times.
func Dial(ctx context.Context, url, exchange string, attempts int, logger *slog.Logger) (*Transport, error) {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	t := &Transport{url: url, exchange: exchange, logger: logger, now: time.Now, presence: newMembers()}
	delay := 500 * time.Millisecond
	var lastErr error
	for i := 1; i <= max(attempts, 1); i++ {
		if lastErr = t.connect(); lastErr == nil {
			return t, nil
		}
		logger.Warn("rabbit dial failed", "attempt", i, "sleep", delay, "error", lastErr)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
		delay = min(delay*2, 30*time.Second)
	}
	return nil, fmt.Errorf("connect to rabbitmq after %d attempts: %w", attempts, lastErr)
}

func (t *Transport) connect() error {
	conn, err := amqp091.Dial(t.url)
	if err != nil {
		return err
	}
	ch, err := conn.Channel()
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := ch.ExchangeDeclare(t.exchange, "topic", true, false, false, false, nil); err != nil {
		_ = conn.Close()
		return err
	}
	t.mu.Lock()
	t.conn, t.pub = conn, ch
	t.mu.Unlock()
	return nil
}

// connection returns a live connection, redialing once if it dropped.
func (t *Transport) connection() (*amqp091.Connection, error) {
	t.mu.Lock()
	closed, conn := t.closed, t.conn
	t.mu.Unlock()
	if closed {
		return nil, ErrClosed
	}
	if conn != nil && !conn.IsClosed() {
		return conn, nil
	}
	if err := t.connect(); err != nil {
		return nil, err
	}
	t.logger.Info("rabbit reconnected", "exchange", t.exchange)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn, nil
}

func (t *Transport) Subscribe(ctx context.Context, topic realtime.Topic, member chat.UserID, sink realtime.Handler) (realtime.Subscription, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	conn, err := t.connection()
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		return nil, err
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}
	if err := ch.QueueBind(q.Name, topic.String(), t.exchange, false, nil); err != nil {
		_ = ch.Close()
		return nil, err
	}
	deliveries, err := ch.Consume(q.Name, "", true, true, false, false, nil)
	if err != nil {
		_ = ch.Close()
		return nil, err
	}

	sub := &subscription{transport: t, ch: ch, topic: topic, member: member, done: make(chan struct{})}
	if topic.Channel == realtime.ChannelPresence && member != "" {
		t.presence.acquire(topic, member)
	}
	closes := ch.NotifyClose(make(chan *amqp091.Error, 1))
	go sub.consume(deliveries, closes, sink)
	return sub, nil
}

func (t *Transport) Publish(ctx context.Context, topic realtime.Topic, event realtime.Event) error {
	if _, ok := event.(realtime.Disconnected); ok {
		return errors.New("rabbitmq: disconnected events are local only")
	}
	body, err := realtime.Encode(event)
	if err != nil {
		return err
	}
	if _, err := t.connection(); err != nil {
		return err
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.pub == nil || t.pub.IsClosed() {
		if t.pub, err = t.conn.Channel(); err != nil {
			return err
		}
	}
	return t.pub.PublishWithContext(ctx, t.exchange, topic.String(), false, false, amqp091.Publishing{
		ContentType: "application/json",
		Timestamp:   t.now(),
		Body:        body,
	})
}

// Ping reports whether the broker connection is up.
func (t *Transport) Ping(context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrClosed
	}
	if t.conn == nil || t.conn.IsClosed() {
		return errors.New("rabbitmq: connection down")
	}
	return nil
}

// Close shuts the connection. Open subscriptions receive Disconnected.
func (t *Transport) Close() error {
	t.mu.Lock()
	t.closed = true
	conn := t.conn
	t.mu.Unlock()
	if conn == nil || conn.IsClosed() {
		return nil
	}
	return conn.Close()
}

type subscription struct {
	transport *Transport
	ch        *amqp091.Channel
	topic     realtime.Topic
	member    chat.UserID

	closing  atomic.Bool
	released sync.Once
	done     chan struct{}
}

// consume feeds deliveries to sink one at a time. When the channel ends
// without Close having been called, the sink gets Disconnected.
func (s *subscription) consume(deliveries <-chan amqp091.Delivery, closes <-chan *amqp091.Error, sink realtime.Handler) {
	defer close(s.done)
	for d := range deliveries {
		ev, err := realtime.Decode(d.Body)
		if err != nil {
			s.transport.logger.Warn("dropping undecodable realtime event", "topic", s.topic.String(), "error", err)
			continue
		}
		if s.closing.Load() {
			continue
		}
		sink(ev)
	}
	if s.closing.Load() {
		return
	}
	var cause error = errors.New("rabbitmq: channel closed")
	select {
	case amqpErr, ok := <-closes:
		if ok && amqpErr != nil {
			cause = amqpErr
		}
	default:
	}
	s.release()
	sink(realtime.Disconnected{Topic: s.topic, Err: cause})
	// Peers on other processes would otherwise keep this member's last
	// typing signal until the resubscribe.
	go s.announceLeft()
}

func (s *subscription) Close() error {
	if !s.closing.CompareAndSwap(false, true) {
		return nil
	}
	err := s.ch.Close()
	<-s.done
	s.release()
	s.announceLeft()
	if errors.Is(err, amqp091.ErrClosed) {
		return nil
	}
	return err
}

func (s *subscription) release() {
	if s.topic.Channel != realtime.ChannelPresence || s.member == "" {
		return
	}
	s.released.Do(func() { s.transport.presence.release(s.topic, s.member) })
}

// announceLeft publishes ParticipantLeft once this process holds no other
// presence subscription for the member.
func (s *subscription) announceLeft() {
	left, ok := s.transport.departure(s.topic, s.member)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.transport.Publish(ctx, s.topic, left); err != nil && !errors.Is(err, ErrClosed) {
		s.transport.logger.Warn("announce participant left failed", "topic", s.topic.String(), "error", err)
	}
}

// departure builds the ParticipantLeft event for member on a presence
// topic, unless this process still holds a subscription for them there.
func (t *Transport) departure(topic realtime.Topic, member chat.UserID) (realtime.ParticipantLeft, bool) {
	if topic.Channel != realtime.ChannelPresence || member == "" || t.presence.holds(topic, member) {
		return realtime.ParticipantLeft{}, false
	}
	return realtime.ParticipantLeft{ConversationID: topic.Conversation, ParticipantID: member, At: t.now()}, true
}

var _ realtime.Transport = (*Transport)(nil)
