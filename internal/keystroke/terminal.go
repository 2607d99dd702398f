package keystroke

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"

	"golang.org/x/term"

	"keyseq/internal/sequence"
)

// TerminalOptions configures a TerminalSource.
type TerminalOptions struct {
	// In is the terminal to read. Defaults to os.Stdin.
	In *os.File

	// OnInterrupt is called when Ctrl-C is read, since raw mode stops the
	// terminal from raising SIGINT.
	OnInterrupt func()

	Logger *slog.Logger
}

// TerminalSource reads keys typed into a terminal. Terminals report key
// presses rather than releases; each one is delivered as a single event.
type TerminalSource struct {
	BaseSource

	opts   TerminalOptions
	log    *slog.Logger
	target *sequence.Node

	state  *term.State
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTerminalSource creates a terminal source whose events target a
// "terminal" element in scope.
func NewTerminalSource(scope *sequence.Scope, opts TerminalOptions) *TerminalSource {
	if opts.In == nil {
		opts.In = os.Stdin
	}
	s := &TerminalSource{opts: opts, log: opts.Logger}
	if s.log == nil {
		s.log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	s.target = scope.Element("terminal", opts.In.Name())
	return s
}

// Available reports whether In is a terminal.
func (s *TerminalSource) Available() (bool, string) {
	if term.IsTerminal(int(s.opts.In.Fd())) {
		return true, fmt.Sprintf("reading terminal %s", s.opts.In.Name())
	}
	return false, fmt.Sprintf("%s is not a terminal", s.opts.In.Name())
}

// Start switches the terminal to raw mode and begins reading. If In is not
// a terminal it is read as a plain byte stream.
func (s *TerminalSource) Start(ctx context.Context) error {
	if s.IsRunning() {
		return ErrAlreadyRunning
	}

	fd := int(s.opts.In.Fd())
	if term.IsTerminal(fd) {
		state, err := term.MakeRaw(fd)
		if err != nil {
			return fmt.Errorf("enter raw mode: %w", err)
		}
		s.state = state
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.SetRunning(true)

	go s.readLoop(ctx)
	return nil
}

func (s *TerminalSource) readLoop(ctx context.Context) {
	defer close(s.done)

	var dec termDecoder
	r := bufio.NewReader(s.opts.In)
	for {
		ch, _, err := r.ReadRune()
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.log.Error("read terminal", "error", err)
			}
			return
		}
		if ch == ctrlC {
			s.log.Info("interrupt from terminal")
			if s.opts.OnInterrupt != nil {
				s.opts.OnInterrupt()
			}
			return
		}
		for _, key := range dec.feed(ch) {
			s.Emit(sequence.KeyEvent{Target: s.target, Key: key})
		}
	}
}

// Stop restores the terminal. A read already blocked on the terminal
// returns with the next byte; Stop does not wait for it.
func (s *TerminalSource) Stop() error {
	if !s.IsRunning() {
		return nil
	}
	s.cancel()
	s.SetRunning(false)

	if s.state != nil {
		if err := term.Restore(int(s.opts.In.Fd()), s.state); err != nil {
			return fmt.Errorf("restore terminal: %w", err)
		}
		s.state = nil
	}
	return nil
}

// Done is closed once the reader has exited.
func (s *TerminalSource) Done() <-chan struct{} {
	return s.done
}

const (
	ctrlC     = 0x03
	backspace = 0x7f
	escape    = 0x1b
)

// termDecoder turns raw terminal input into key names. Escape sequences
// (arrows, function keys) are folded into one named key so their final
// letter is not mistaken for a typed character.
type termDecoder struct {
	state int
}

const (
	termGround = iota
	termEscape
	termCSI
)

var csiKeys = map[rune]string{
	'A': "ArrowUp",
	'B': "ArrowDown",
	'C': "ArrowRight",
	'D': "ArrowLeft",
	'H': "Home",
	'F': "End",
}

func (d *termDecoder) feed(r rune) []string {
	switch d.state {
	case termEscape:
		if r == '[' || r == 'O' {
			d.state = termCSI
			return nil
		}
		d.state = termGround
		return append([]string{"Escape"}, d.feed(r)...)
	case termCSI:
		if r < 0x40 || r > 0x7e {
			return nil
		}
		d.state = termGround
		if name, ok := csiKeys[r]; ok {
			return []string{name}
		}
		return []string{"Unidentified"}
	}

	switch {
	case r == escape:
		d.state = termEscape
		return nil
	case r == '\r' || r == '\n':
		return []string{"Enter"}
	case r == '\t':
		return []string{"Tab"}
	case r == backspace || r == '\b':
		return []string{"Backspace"}
	case r < 0x20:
		return []string{"Unidentified"}
	default:
		return []string{string(r)}
	}
}
