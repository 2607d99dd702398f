package keystroke

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"keyseq/internal/sequence"
)

//go:embed script.schema.json
var scriptSchemaJSON string

var scriptSchema = jsonschema.MustCompileString("script.schema.json", scriptSchemaJSON)

// DefaultScriptTarget is the element scripted keys go to when an event
// names no target.
const DefaultScriptTarget = "script#replay"

// ScriptEvent is one entry of a key script. Exactly one of Key, Code or
// Text is set; Text expands to one key per character, IntervalMs apart.
type ScriptEvent struct {
	OffsetMs   int64  `json:"offset_ms" yaml:"offset_ms"`
	Key        string `json:"key,omitempty" yaml:"key,omitempty"`
	Code       int    `json:"code,omitempty" yaml:"code,omitempty"`
	Text       string `json:"text,omitempty" yaml:"text,omitempty"`
	IntervalMs int64  `json:"interval_ms,omitempty" yaml:"interval_ms,omitempty"`
	Target     string `json:"target,omitempty" yaml:"target,omitempty"`
}

// Script is a timed list of key releases.
type Script struct {
	Name        string        `json:"name,omitempty" yaml:"name,omitempty"`
	Description string        `json:"description,omitempty" yaml:"description,omitempty"`
	Events      []ScriptEvent `json:"events" yaml:"events"`
}

// ScriptKey is a single expanded key of a script.
type ScriptKey struct {
	Offset time.Duration
	Key    string
	Code   int
	Target string
}

// ParseScript decodes a YAML or JSON script and validates it against the
// script schema.
func ParseScript(data []byte) (*Script, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}

	// Round-trip through JSON so the schema sees JSON types.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	var instance any
	if err := json.Unmarshal(raw, &instance); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	if err := scriptSchema.Validate(instance); err != nil {
		return nil, fmt.Errorf("invalid script: %w", err)
	}

	var s Script
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("parse script: %w", err)
	}
	return &s, nil
}

// LoadScript reads and parses a script file.
func LoadScript(path string) (*Script, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read script: %w", err)
	}
	s, err := ParseScript(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if s.Name == "" {
		s.Name = path
	}
	return s, nil
}

// Keys expands the script into individual keys ordered by offset. Keys
// sharing an offset keep their script order.
func (s *Script) Keys() []ScriptKey {
	var keys []ScriptKey
	for _, ev := range s.Events {
		target := ev.Target
		if target == "" {
			target = DefaultScriptTarget
		}
		base := time.Duration(ev.OffsetMs) * time.Millisecond

		switch {
		case ev.Text != "":
			step := time.Duration(ev.IntervalMs) * time.Millisecond
			i := 0
			for _, r := range ev.Text {
				keys = append(keys, ScriptKey{
					Offset: base + time.Duration(i)*step,
					Key:    string(r),
					Target: target,
				})
				i++
			}
		default:
			keys = append(keys, ScriptKey{Offset: base, Key: ev.Key, Code: ev.Code, Target: target})
		}
	}

	sort.SliceStable(keys, func(i, j int) bool { return keys[i].Offset < keys[j].Offset })
	return keys
}

// Duration is the offset of the last key.
func (s *Script) Duration() time.Duration {
	keys := s.Keys()
	if len(keys) == 0 {
		return 0
	}
	return keys[len(keys)-1].Offset
}

// splitTarget turns "tag#id" or "tag" into its parts.
func splitTarget(target string) (tag, id string) {
	tag, id, _ = strings.Cut(target, "#")
	return tag, id
}

// ScriptSource plays a Script, either against the wall clock with Start or
// instantly against a sequence.ManualClock with Play.
type ScriptSource struct {
	BaseSource

	scope  *sequence.Scope
	script *Script
	keys   []ScriptKey
	log    *slog.Logger

	cancel context.CancelFunc
	done   chan struct{}
}

// NewScriptSource creates a source for script whose targets are created
// in scope.
func NewScriptSource(scope *sequence.Scope, script *Script, logger *slog.Logger) *ScriptSource {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &ScriptSource{
		scope:  scope,
		script: script,
		keys:   script.Keys(),
		log:    logger,
	}
}

// Available always succeeds.
func (s *ScriptSource) Available() (bool, string) {
	return true, fmt.Sprintf("script %q with %d keys", s.script.Name, len(s.keys))
}

func (s *ScriptSource) event(k ScriptKey) sequence.KeyEvent {
	tag, id := splitTarget(k.Target)
	return sequence.KeyEvent{
		Target:  s.scope.Element(tag, id),
		Key:     k.Key,
		KeyCode: k.Code,
	}
}

// Start plays the script in real time from now. Done is closed after the
// last key or when ctx ends.
func (s *ScriptSource) Start(ctx context.Context) error {
	if s.IsRunning() {
		return ErrAlreadyRunning
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	s.SetRunning(true)

	go s.run(ctx)
	return nil
}

func (s *ScriptSource) run(ctx context.Context) {
	defer close(s.done)

	s.log.Info("playing script", "name", s.script.Name, "keys", len(s.keys))
	start := time.Now()
	for _, k := range s.keys {
		if wait := time.Until(start.Add(k.Offset)); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		if ctx.Err() != nil {
			return
		}
		s.Emit(s.event(k))
	}
	s.log.Info("script finished", "name", s.script.Name)
}

// Stop cancels playback and waits for it to end.
func (s *ScriptSource) Stop() error {
	if !s.IsRunning() {
		return nil
	}
	s.cancel()
	<-s.done
	s.SetRunning(false)
	return nil
}

// Done is closed when real-time playback ends.
func (s *ScriptSource) Done() <-chan struct{} {
	return s.done
}

// Play delivers every key at its offset on clock, then advances clock by
// settle so pending detector timers fire. It returns the number of keys
// played.
func (s *ScriptSource) Play(clock *sequence.ManualClock, settle time.Duration) (int, error) {
	if s.IsRunning() {
		return 0, ErrAlreadyRunning
	}

	start := clock.Now()
	for _, k := range s.keys {
		clock.AdvanceTo(start.Add(k.Offset))
		s.Emit(s.event(k))
	}
	clock.Advance(settle)

	return len(s.keys), nil
}
