// Package sequence detects rapid runs of keystrokes, such as the output of
// a barcode scanner acting as a keyboard, and dispatches one notification
// per completed run.
//
// A Detector buffers allowed characters while consecutive key releases stay
// within MaxKeyboardDelay of each other. Every accepted key restarts a
// completion timer of the same length; when it expires the buffer is
// checked against MinLength/ExactLength and either dispatched as a
// keyboardSequence event on the element that received the first key, or
// discarded.
package sequence

import (
	"io"
	"log/slog"
	"regexp"
	"sync"
	"time"
)

// Option customizes a Detector.
type Option func(*Detector)

// WithClock sets the time source. The default is SystemClock.
func WithClock(c Clock) Option {
	return func(d *Detector) { d.clock = c }
}

// WithLogger sets the logger used for debug traces and dropped events.
func WithLogger(l *slog.Logger) Option {
	return func(d *Detector) { d.log = l }
}

// WithObserver reports outcomes to o.
func WithObserver(o Observer) Option {
	return func(d *Detector) { d.obs = o }
}

// Detector is the sequence-accumulation state machine. It is safe for use
// by several goroutines; key and timer callbacks are serialized.
type Detector struct {
	mu sync.Mutex

	cfg     Config
	allowed *regexp.Regexp
	delay   time.Duration
	clock   Clock
	log     *slog.Logger
	obs     Observer

	buf            []rune
	lastAcceptedAt time.Time
	origin         Element

	// pending is the single outstanding completion timer. gen is bumped on
	// every cancel and arm; a timer callback carrying an older generation
	// lost a race with a newer keystroke and does nothing.
	pending Timer
	gen     uint64

	unsubscribe func()
	onClose     func()
	closed      bool
}

// New validates cfg and returns a detector that is not yet attached to a
// source.
func New(cfg Config, opts ...Option) (*Detector, error) {
	cfg = cfg.clone()
	allowed, err := cfg.compile()
	if err != nil {
		return nil, err
	}

	d := &Detector{
		cfg:     cfg,
		allowed: allowed,
		delay:   cfg.Delay(),
		clock:   SystemClock{},
		obs:     nopObserver{},
		buf:     make([]rune, 0, 32),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.log == nil {
		d.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return d, nil
}

// Config returns a copy of the detector settings.
func (d *Detector) Config() Config {
	return d.cfg.clone()
}

// Attach subscribes the detector to src, replacing any earlier source.
func (d *Detector) Attach(src Source) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrClosed
	}
	prev := d.unsubscribe
	d.unsubscribe = nil
	d.mu.Unlock()

	if prev != nil {
		prev()
	}
	unsub := src.Subscribe(d.OnKeyPress)

	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		unsub()
		return ErrClosed
	}
	d.unsubscribe = unsub
	return nil
}

// Pending returns the characters buffered so far.
func (d *Detector) Pending() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return string(d.buf)
}

// Closed reports whether Close has been called.
func (d *Detector) Closed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.closed
}

// OnKeyPress runs one key event through the admission pipeline. Events that
// cannot be read as a single allowed character are dropped.
func (d *Detector) OnKeyPress(ev KeyEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()
	defer func() {
		if r := recover(); r != nil {
			d.log.Warn("dropped malformed key event", "panic", r)
		}
	}()

	if d.closed {
		return
	}
	if ev.Target == nil {
		d.obs.KeyIgnored()
		return
	}

	if d.cfg.IgnoreInputs && isTextInput(ev.Target) {
		d.cancelLocked()
		d.clearLocked(ClearInputFocus)
		d.obs.KeyIgnored()
		return
	}

	r, ok := ev.Char()
	if !ok || !d.allowed.MatchString(string(r)) {
		d.obs.KeyIgnored()
		return
	}

	now := d.clock.Now()
	if len(d.buf) > 0 && now.Sub(d.lastAcceptedAt) > d.delay {
		d.clearLocked(ClearTimeout)
	}
	d.cancelLocked()

	d.buf = append(d.buf, r)
	d.lastAcceptedAt = now
	if len(d.buf) == 1 {
		d.origin = ev.Target
	}
	d.trace("sequence updated", "sequence", string(d.buf))
	d.obs.KeyAccepted()

	d.armLocked()
}

// Close cancels the pending timer, drops the buffer and detaches from the
// source. It is idempotent.
func (d *Detector) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	d.cancelLocked()
	d.clearLocked(ClearClosed)
	unsub, onClose := d.unsubscribe, d.onClose
	d.unsubscribe, d.onClose = nil, nil
	d.mu.Unlock()

	if unsub != nil {
		unsub()
	}
	if onClose != nil {
		onClose()
	}
}

func (d *Detector) armLocked() {
	d.gen++
	gen := d.gen
	d.pending = d.clock.AfterFunc(d.delay, func() { d.expire(gen) })
}

func (d *Detector) cancelLocked() {
	d.gen++
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
}

func (d *Detector) clearLocked(reason ClearReason) {
	n := len(d.buf)
	d.buf = d.buf[:0]
	d.origin = nil
	if n > 0 {
		d.trace("-- CLEARED --", "reason", string(reason), "length", n)
		d.obs.BufferCleared(reason, n)
	}
}

// expire is the completion timer callback.
func (d *Detector) expire(gen uint64) {
	d.mu.Lock()
	if d.closed || gen != d.gen {
		d.mu.Unlock()
		return
	}
	d.pending = nil
	seq, target, ok := d.completeLocked()
	d.mu.Unlock()

	if ok {
		d.dispatch(target, seq)
	}
}

// completeLocked evaluates the buffer. On success it returns the sequence
// and origin and clears the buffer.
func (d *Detector) completeLocked() (string, Element, bool) {
	n := len(d.buf)
	if d.valid(n) {
		seq, target := string(d.buf), d.origin
		d.trace("detected", "sequence", seq)
		d.obs.SequenceDetected(n)
		d.clearLocked(ClearCompleted)
		return seq, target, true
	}

	// The timer only fires once the full delay has elapsed, so this holds
	// on every real call path.
	if d.clock.Now().Sub(d.lastAcceptedAt) >= d.delay {
		d.obs.SequenceRejected(n)
		d.clearLocked(ClearRejected)
	}
	return "", nil, false
}

func (d *Detector) valid(n int) bool {
	if d.cfg.ExactLength != nil && n == *d.cfg.ExactLength {
		return true
	}
	return d.cfg.MinLength != nil && n >= *d.cfg.MinLength
}

func (d *Detector) dispatch(target Element, seq string) {
	if target == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			d.log.Error("sequence listener panicked", "panic", r)
		}
	}()
	target.DispatchEvent(CustomEvent{
		Type:   EventName,
		Detail: Detail{Sequence: seq},
	})
}

func (d *Detector) trace(msg string, args ...any) {
	if d.cfg.Debug {
		d.log.Info(msg, args...)
	}
}
