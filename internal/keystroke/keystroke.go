// Package keystroke provides key-release event sources for the sequence
// detector.
//
// Sources:
//   - DeviceSource: Linux /dev/input/event* keyboards, including barcode
//     scanners that enumerate as HID keyboards (requires the input group
//     or root)
//   - TerminalSource: the controlling terminal in raw mode
//   - ScriptSource: timed key scripts in YAML or JSON, for demos and replay
//
// Every source satisfies sequence.Source and creates its elements in the
// sequence.Scope it was built with.
package keystroke

import (
	"context"
	"errors"
	"sort"
	"sync"

	"keyseq/internal/sequence"
)

// Source is a sequence.Source with a lifecycle.
type Source interface {
	sequence.Source

	// Start begins delivering events.
	Start(ctx context.Context) error

	// Stop stops delivering events and waits for readers to exit.
	Stop() error

	// Available returns true if the source can run on this platform
	// with current permissions.
	Available() (bool, string)
}

var (
	// ErrNotAvailable is returned when a source cannot run here.
	ErrNotAvailable = errors.New("keyboard source not available on this platform")

	// ErrAlreadyRunning is returned by Start on a running source.
	ErrAlreadyRunning = errors.New("keyboard source already running")
)

// BaseSource provides subscriber bookkeeping for implementations.
type BaseSource struct {
	mu          sync.RWMutex
	running     bool
	nextID      int
	subscribers map[int]func(sequence.KeyEvent)
	emitted     uint64
}

// Subscribe registers fn for every event.
func (b *BaseSource) Subscribe(fn func(sequence.KeyEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subscribers == nil {
		b.subscribers = make(map[int]func(sequence.KeyEvent))
	}
	b.nextID++
	id := b.nextID
	b.subscribers[id] = fn

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subscribers, id)
	}
}

// Emit delivers ev to every subscriber in subscription order.
func (b *BaseSource) Emit(ev sequence.KeyEvent) {
	b.mu.Lock()
	b.emitted++
	ids := make([]int, 0, len(b.subscribers))
	for id := range b.subscribers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(sequence.KeyEvent), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, b.subscribers[id])
	}
	b.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

// Emitted returns the number of events delivered so far.
func (b *BaseSource) Emitted() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.emitted
}

// SetRunning sets the running state.
func (b *BaseSource) SetRunning(running bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.running = running
}

// IsRunning returns the running state.
func (b *BaseSource) IsRunning() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.running
}
