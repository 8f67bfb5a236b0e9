package presence

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"jobchat/internal/domain/chat"
	"jobchat/internal/domain/shared/clock"
)

// Debouncer converts keystrokes into typing heartbeats. The first
// keystroke emits true at once, later ones refresh it at most once per
// refresh interval, and a single false fires after idle without input.
type Debouncer struct {
	clock   clock.Clock
	idle    time.Duration
	limiter *rate.Limiter
	emit    func(typing bool)

	mu      sync.Mutex
	typing  bool
	timer   clock.Timer
	gen     uint64
	stopped bool
}

// NewDebouncer builds a debouncer. idle defaults to chat.DefaultTypingIdle
// and refresh to half of idle.
func NewDebouncer(c clock.Clock, idle, refresh time.Duration, emit func(typing bool)) *Debouncer {
	if c == nil {
		c = clock.Real()
	}
	if idle <= 0 {
		idle = chat.DefaultTypingIdle
	}
	if refresh <= 0 {
		refresh = idle / 2
	}
	return &Debouncer{
		clock:   c,
		idle:    idle,
		limiter: rate.NewLimiter(rate.Every(refresh), 1),
		emit:    emit,
	}
}

// Keystroke records local input.
func (d *Debouncer) Keystroke() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return
	}
	now := d.clock.Now()
	if !d.typing {
		d.typing = true
		d.limiter.AllowN(now, 1)
		d.emit(true)
	} else if d.limiter.AllowN(now, 1) {
		d.emit(true)
	}
	d.rearmLocked()
}

// Idle ends typing right away, as when the user sends or clears input.
func (d *Debouncer) Idle() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.cancelLocked()
	if d.typing && !d.stopped {
		d.typing = false
		d.emit(false)
	}
}

// Typing reports the locally emitted state.
func (d *Debouncer) Typing() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.typing
}

// Stop disables the debouncer and cancels the scheduled stop signal. If
// typing is still on, false is emitted at once so the counterpart does not
// depend on a departure notice. It reports whether a scheduled signal was
// cancelled.
func (d *Debouncer) Stop() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return false
	}
	d.stopped = true
	pending := d.timer != nil
	d.cancelLocked()
	if d.typing {
		d.typing = false
		d.emit(false)
	}
	return pending
}

func (d *Debouncer) rearmLocked() {
	d.cancelLocked()
	gen := d.gen
	d.timer = d.clock.AfterFunc(d.idle, func() { d.fire(gen) })
}

func (d *Debouncer) cancelLocked() {
	d.gen++
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
}

func (d *Debouncer) fire(gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if gen != d.gen || d.stopped {
		return
	}
	d.timer = nil
	if d.typing {
		d.typing = false
		d.emit(false)
	}
}
