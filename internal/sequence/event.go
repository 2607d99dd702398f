package sequence

import (
	"unicode/utf8"
)

// KeyEvent is one key-release notification.
type KeyEvent struct {
	// Target is the element that received the key.
	Target Element

	// Key is the resolved key name: a single character for printable keys,
	// a name such as "Enter" or "Shift" otherwise.
	Key string

	// CharCode and KeyCode are consulted, in that order, when Key is empty.
	CharCode int
	KeyCode  int
}

// Char resolves the single character carried by the event.
func (e KeyEvent) Char() (rune, bool) {
	s := e.Key
	if s == "" {
		code := e.CharCode
		if code == 0 {
			code = e.KeyCode
		}
		if code <= 0 || code > utf8.MaxRune {
			return 0, false
		}
		s = string(rune(code))
	}
	if utf8.RuneCountInString(s) != 1 {
		return 0, false
	}
	r, _ := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return 0, false
	}
	return r, true
}

// Source delivers key-release events for one scope.
type Source interface {
	// Subscribe registers fn for every event. The returned func removes it.
	Subscribe(fn func(KeyEvent)) (unsubscribe func())
}

// SourceFunc adapts a subscribe function to Source.
type SourceFunc func(fn func(KeyEvent)) func()

// Subscribe calls f.
func (f SourceFunc) Subscribe(fn func(KeyEvent)) func() { return f(fn) }

// ClearReason says why the buffer was emptied.
type ClearReason string

const (
	ClearInputFocus ClearReason = "input_focus"
	ClearTimeout    ClearReason = "timeout"
	ClearRejected   ClearReason = "rejected"
	ClearCompleted  ClearReason = "completed"
	ClearClosed     ClearReason = "closed"
)

// Observer receives detector outcomes, e.g. for metrics.
type Observer interface {
	KeyAccepted()
	KeyIgnored()
	BufferCleared(reason ClearReason, length int)
	SequenceDetected(length int)
	SequenceRejected(length int)
}

type nopObserver struct{}

func (nopObserver) KeyAccepted() {}
func (nopObserver) KeyIgnored() {}
func (nopObserver) BufferCleared(ClearReason, int) {}
func (nopObserver) SequenceDetected(int) {}
func (nopObserver) SequenceRejected(int) {}
