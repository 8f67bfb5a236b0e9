package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"jobchat/internal/domain/chat"
)

// Metrics observes subscription lifecycle. All methods must be cheap.
type Metrics interface {
	SubscriptionOpened(channel Channel)
	SubscriptionClosed(channel Channel)
	Resubscribed(channel Channel)
}

// Config tunes resubscription backoff.
type Config struct {
	BackoffBase time.Duration
	BackoffCap  time.Duration
	// JitterPercent spreads retries of many sessions; 0 disables jitter.
	JitterPercent int
}

// Dispatcher turns transport subscriptions into ordered, self-healing
// feeds. Each subscription owns one delivery goroutine, so events of a
// topic are applied strictly in delivery order while different topics
// run in parallel.
type Dispatcher struct {
	transport Transport
	cfg       Config
	logger    *slog.Logger
	metrics   Metrics
}

// NewDispatcher wires a dispatcher around transport.
func NewDispatcher(transport Transport, cfg Config, logger *slog.Logger, metrics Metrics) *Dispatcher {
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 250 * time.Millisecond
	}
	if cfg.BackoffCap <= 0 {
		cfg.BackoffCap = 30 * time.Second
	}
	if cfg.BackoffCap < cfg.BackoffBase {
		cfg.BackoffCap = cfg.BackoffBase
	}
	return &Dispatcher{transport: transport, cfg: cfg, logger: logger, metrics: metrics}
}

// Publish forwards an event to the transport.
func (d *Dispatcher) Publish(ctx context.Context, topic Topic, event Event) error {
	if err := d.transport.Publish(ctx, topic, event); err != nil {
		return chat.NewError(chat.KindDisconnected, "publish "+topic.String(), err)
	}
	return nil
}

// SubscribeOptions customise a feed.
type SubscribeOptions struct {
	// Member is the local participant (used for presence departures).
	Member chat.UserID
	// Seed runs after the transport subscription is established and
	// before any event is delivered, both initially and after every
	// resubscription. Events arriving meanwhile are held back.
	Seed func(ctx context.Context) error
	// OnStateChange reports connectivity transitions.
	OnStateChange func(connected bool, err error)
}

// Feed is a dispatcher-managed subscription.
type Feed struct {
	d       *Dispatcher
	topic   Topic
	handler Handler
	opts    SubscribeOptions

	ctx    context.Context
	cancel context.CancelFunc
	box    *mailbox
	done   chan struct{}

	mu    sync.Mutex
	inner Subscription
	gen   uint64

	connected atomic.Bool
	closeOnce sync.Once
}

type envelope struct {
	gen   uint64
	event Event
}

// Subscribe opens a feed. The initial Seed runs synchronously so seed
// failures are returned to the caller; the feed is closed in that case.
func (d *Dispatcher) Subscribe(ctx context.Context, topic Topic, handler Handler, opts SubscribeOptions) (*Feed, error) {
	if handler == nil {
		return nil, errors.New("realtime: nil handler")
	}
	feedCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	f := &Feed{
		d:       d,
		topic:   topic,
		handler: handler,
		opts:    opts,
		ctx:     feedCtx,
		cancel:  cancel,
		box:     newMailbox(),
		done:    make(chan struct{}),
	}
	if err := f.connect(ctx); err != nil {
		cancel()
		return nil, chat.NewError(chat.KindDisconnected, "subscribe "+topic.String(), err)
	}
	if opts.Seed != nil {
		if err := opts.Seed(ctx); err != nil {
			f.closeInner()
			cancel()
			return nil, err
		}
	}
	f.connected.Store(true)
	if d.metrics != nil {
		d.metrics.SubscriptionOpened(topic.Channel)
	}
	go f.run()
	return f, nil
}

// Topic returns the subscribed topic.
func (f *Feed) Topic() Topic { return f.topic }

// Connected reports whether the feed currently has a live subscription.
func (f *Feed) Connected() bool { return f.connected.Load() }

// Close unsubscribes and waits for the delivery goroutine to exit. No
// handler call happens after Close returns.
func (f *Feed) Close() error {
	var err error
	f.closeOnce.Do(func() {
		f.cancel()
		err = f.closeInner()
		f.box.close()
		<-f.done
		if f.d.metrics != nil {
			f.d.metrics.SubscriptionClosed(f.topic.Channel)
		}
	})
	return err
}

func (f *Feed) connect(ctx context.Context) error {
	f.mu.Lock()
	f.gen++
	gen := f.gen
	f.mu.Unlock()

	sink := func(ev Event) { f.box.push(envelope{gen: gen, event: ev}) }
	inner, err := f.d.transport.Subscribe(ctx, f.topic, f.opts.Member, sink)
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.inner = inner
	f.mu.Unlock()
	return nil
}

func (f *Feed) closeInner() error {
	f.mu.Lock()
	inner := f.inner
	f.inner = nil
	f.mu.Unlock()
	if inner == nil {
		return nil
	}
	return inner.Close()
}

func (f *Feed) currentGen() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gen
}

func (f *Feed) run() {
	defer close(f.done)
	for {
		env, ok := f.box.pop(f.ctx)
		if !ok {
			return
		}
		if env.gen != f.currentGen() {
			continue
		}
		if dropped, isDrop := env.event.(Disconnected); isDrop {
			if !f.recover(dropped) {
				return
			}
			continue
		}
		f.handler(env.event)
	}
}

// recover resubscribes with backoff and re-seeds. It returns false when
// the feed was closed meanwhile.
func (f *Feed) recover(dropped Disconnected) bool {
	f.connected.Store(false)
	cause := dropped.Err
	if cause == nil {
		cause = errors.New("subscription dropped")
	}
	f.notify(false, chat.NewError(chat.KindDisconnected, f.topic.String(), cause))
	if f.d.logger != nil {
		f.d.logger.Warn("realtime subscription dropped", "topic", f.topic.String(), "error", cause)
	}
	_ = f.closeInner()

	backoff := f.d.cfg.BackoffBase
	for attempt := 1; ; attempt++ {
		err := f.connect(f.ctx)
		if err == nil && f.opts.Seed != nil {
			if err = f.opts.Seed(f.ctx); err != nil {
				_ = f.closeInner()
				err = fmt.Errorf("reseed: %w", err)
			}
		}
		if err == nil {
			break
		}
		if f.ctx.Err() != nil {
			return false
		}
		wait := jittered(backoff, f.d.cfg.BackoffCap, f.d.cfg.JitterPercent)
		if f.d.logger != nil {
			f.d.logger.Error("realtime resubscribe failed", "topic", f.topic.String(), "attempt", attempt, "retry_in", wait, "error", err)
		}
		select {
		case <-f.ctx.Done():
			return false
		case <-time.After(wait):
		}
		if backoff*2 < f.d.cfg.BackoffCap {
			backoff *= 2
		} else {
			backoff = f.d.cfg.BackoffCap
		}
	}
	f.connected.Store(true)
	if f.d.metrics != nil {
		f.d.metrics.Resubscribed(f.topic.Channel)
	}
	if f.d.logger != nil {
		f.d.logger.Info("realtime subscription restored", "topic", f.topic.String())
	}
	f.notify(true, nil)
	return true
}

func (f *Feed) notify(connected bool, err error) {
	if f.opts.OnStateChange != nil {
		f.opts.OnStateChange(connected, err)
	}
}

func jittered(base, capd time.Duration, percent int) time.Duration {
	if base > capd {
		base = capd
	}
	if percent <= 0 {
		return base
	}
	spread := int64(base) * int64(percent) / 100
	if spread <= 0 {
		return base
	}
	return base - time.Duration(spread) + time.Duration(rand.Int63n(2*spread+1))
}

// mailbox is an unbounded FIFO so a slow subscriber never blocks the
// transport's publisher.
type mailbox struct {
	mu     sync.Mutex
	items  []envelope
	signal chan struct{}
	closed bool
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) push(env envelope) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.items = append(m.items, env)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

func (m *mailbox) pop(ctx context.Context) (envelope, bool) {
	for {
		m.mu.Lock()
		if m.closed {
			m.mu.Unlock()
			return envelope{}, false
		}
		if len(m.items) > 0 {
			env := m.items[0]
			m.items[0] = envelope{}
			m.items = m.items[1:]
			m.mu.Unlock()
			return env, true
		}
		m.mu.Unlock()
		select {
		case <-ctx.Done():
			return envelope{}, false
		case <-m.signal:
		}
	}
}

func (m *mailbox) close() {
	m.mu.Lock()
	m.closed = true
	m.items = nil
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}
