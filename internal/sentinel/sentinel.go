// Package sentinel runs the keyseq daemon: it connects a key source to a
// sequence detector and fans every detection out to the configured sinks.
//
// Sinks:
//   - StoreSink: the SQLite history database
//   - NotifySink: a D-Bus Sequence signal
//   - WriterSink: one line per sequence on stdout
//
// The detector can be replaced at runtime with Reload; the source, store
// and bus connection stay in place.
package sentinel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"reflect"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"keyseq/internal/config"
	"keyseq/internal/health"
	"keyseq/internal/keystroke"
	"keyseq/internal/metrics"
	"keyseq/internal/notify"
	"keyseq/internal/sequence"
	"keyseq/internal/store"
)

var (
	// ErrAlreadyRunning is returned by Start on a running sentinel.
	ErrAlreadyRunning = errors.New("sentinel already running")

	// ErrNoDetector is returned by Reload when the sentinel is not running.
	ErrNoDetector = errors.New("no active detector")
)

// Options configures a Sentinel.
type Options struct {
	Config *config.Config
	Logger *slog.Logger

	// Metrics receives detector outcomes. A private instance is created
	// when nil.
	Metrics *metrics.Metrics

	// Source overrides the source described by Config.Source.
	Source keystroke.Source

	// Clock drives the detector timers. Defaults to the wall clock, or to
	// a virtual clock when a script is played without realtime.
	Clock sequence.Clock

	// Stdout receives printed sequences when Config.Daemon.Print is set.
	Stdout io.Writer

	// Sinks are delivered to after the configured ones.
	Sinks []Sink
}

// Status is a snapshot of the sentinel.
type Status struct {
	Running    bool
	Source     string
	RunID      string
	Pending    string
	Detections uint64
	StartedAt  time.Time
}

// Sentinel owns a source, its detector and the detection sinks.
type Sentinel struct {
	mu sync.RWMutex

	cfg     *config.Config
	log     *slog.Logger
	metrics *metrics.Metrics
	health  *health.Checker
	clock   sequence.Clock
	stdout  io.Writer
	extra   []Sink

	scope      *sequence.Scope
	registry   sequence.Registry
	source     keystroke.Source
	sourceName string
	sinks      []Sink
	store      *store.Store
	notifier   *notify.Notifier
	run        *store.Run
	unlisten   func()

	ctx       context.Context
	cancel    context.CancelFunc
	running   bool
	startedAt time.Time
	done      chan struct{}
	doneOnce  sync.Once
	wg        sync.WaitGroup

	detections atomic.Uint64
}

// New creates a sentinel. Nothing is opened until Start.
func New(opts Options) (*Sentinel, error) {
	if opts.Config == nil {
		opts.Config = config.DefaultConfig()
	}
	if err := opts.Config.Validate(); err != nil {
		return nil, err
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if opts.Metrics == nil {
		opts.Metrics = metrics.New()
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}

	return &Sentinel{
		cfg:     opts.Config.Clone(),
		log:     opts.Logger,
		metrics: opts.Metrics,
		health:  health.NewChecker(),
		clock:   opts.Clock,
		stdout:  opts.Stdout,
		extra:   opts.Sinks,
		source:  opts.Source,
		scope:   sequence.NewScope(),
		done:    make(chan struct{}),
	}, nil
}

// Scope returns the scope the source creates its elements in.
func (s *Sentinel) Scope() *sequence.Scope {
	return s.scope
}

// Metrics returns the metrics the detector reports to.
func (s *Sentinel) Metrics() *metrics.Metrics {
	return s.metrics
}

// Health returns the checker served next to the metrics endpoint.
func (s *Sentinel) Health() *health.Checker {
	return s.health
}

// Start opens the sinks, installs the detector and starts the source.
func (s *Sentinel) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return ErrAlreadyRunning
	}

	if err := s.startLocked(ctx); err != nil {
		s.abortLocked()
		return err
	}
	s.running = true
	s.startedAt = time.Now()
	s.health.SetReady(true)
	return nil
}

func (s *Sentinel) startLocked(ctx context.Context) error {
	cfg := s.cfg

	if s.source == nil {
		src, err := BuildSource(cfg.Source, s.scope, s.log.With("component", "source"))
		if err != nil {
			return fmt.Errorf("build source: %w", err)
		}
		s.source = src
		s.sourceName = cfg.Source.Kind
	} else if s.sourceName == "" {
		s.sourceName = sourceKind(s.source)
	}

	if ok, reason := s.source.Available(); !ok {
		return fmt.Errorf("%w: %s", keystroke.ErrNotAvailable, reason)
	}

	script, virtual := s.source.(*keystroke.ScriptSource)
	virtual = virtual && !cfg.Source.Realtime
	if s.clock == nil {
		if virtual {
			s.clock = sequence.NewManualClock(time.Now())
		} else {
			s.clock = sequence.SystemClock{}
		}
	}

	if err := s.openSinksLocked(); err != nil {
		return err
	}

	if _, _, err := s.installLocked(cfg.Detector); err != nil {
		return err
	}
	s.unlisten = s.scope.AddEventListener(sequence.EventName, s.handle)

	s.ctx, s.cancel = context.WithCancel(ctx)
	s.registerChecks(!virtual)

	if cfg.Metrics.Enabled {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			if err := s.metrics.Serve(s.ctx, cfg.Metrics.Listen, s.log, s.health.Routes()); err != nil {
				s.log.Error("metrics server failed", "error", err)
			}
		}()
	}

	if virtual {
		clock, ok := s.clock.(*sequence.ManualClock)
		if !ok {
			return errors.New("script playback without realtime needs a manual clock")
		}
		settle := 2 * cfg.Detector.ToSequence().Delay()
		s.metrics.SetSourceRunning(true)
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.metrics.SetSourceRunning(false)
			n, err := script.Play(clock, settle)
			if err != nil {
				s.log.Error("script playback failed", "error", err)
			} else {
				s.log.Info("script played", "keys", n)
			}
			s.finish()
		}()
		return nil
	}

	if err := s.source.Start(s.ctx); err != nil {
		s.cancel()
		return fmt.Errorf("start source: %w", err)
	}
	s.metrics.SetSourceRunning(true)

	if ender, ok := s.source.(interface{ Done() <-chan struct{} }); ok {
		srcDone := ender.Done()
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			select {
			case <-srcDone:
				s.log.Info("source finished")
				s.metrics.SetSourceRunning(false)
				s.finish()
			case <-s.ctx.Done():
			}
		}()
	}

	s.log.Info("sentinel started", "source", s.sourceName, "run", s.runID())
	return nil
}

func (s *Sentinel) registerChecks(source bool) {
	s.health.RegisterFunc("detector", true, func(context.Context) error {
		if s.registry.Active() == nil {
			return ErrNoDetector
		}
		return nil
	})

	if source {
		s.health.RegisterFunc("source", true, func(context.Context) error {
			s.mu.RLock()
			src := s.source
			s.mu.RUnlock()
			if r, ok := src.(interface{ IsRunning() bool }); ok && !r.IsRunning() {
				return errors.New("source stopped")
			}
			return nil
		})
	}

	if s.store != nil {
		s.health.RegisterFunc("store", false, func(ctx context.Context) error {
			s.mu.RLock()
			st := s.store
			s.mu.RUnlock()
			if st == nil {
				return errors.New("history closed")
			}
			return st.Ping(ctx)
		})
	}

	if s.cfg.DBus.Enabled {
		s.health.RegisterFunc("dbus", false, func(context.Context) error {
			s.mu.RLock()
			defer s.mu.RUnlock()
			if s.notifier == nil {
				return errors.New("not connected to the session bus")
			}
			return nil
		})
	}
}

// abortLocked undoes a partial Start.
func (s *Sentinel) abortLocked() {
	if d := s.registry.Active(); d != nil {
		d.Close()
	}
	if s.unlisten != nil {
		s.unlisten()
		s.unlisten = nil
	}
	if s.cancel != nil {
		s.cancel()
		s.wg.Wait()
	}
	if s.store != nil && s.run != nil {
		s.store.StopRun(s.run.ID, time.Now())
	}
	s.closeSinksLocked()
	s.run = nil
}

func sourceKind(src keystroke.Source) string {
	switch src.(type) {
	case *keystroke.DeviceSource:
		return config.SourceEvdev
	case *keystroke.TerminalSource:
		return config.SourceTerminal
	case *keystroke.ScriptSource:
		return config.SourceScript
	default:
		return fmt.Sprintf("%T", src)
	}
}

func (s *Sentinel) openSinksLocked() error {
	cfg := s.cfg

	if cfg.Storage.Enabled {
		st, err := store.Open(cfg.Storage.Path)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		s.store = st

		if cfg.Storage.RetentionDays > 0 {
			cutoff := time.Now().AddDate(0, 0, -cfg.Storage.RetentionDays)
			n, err := st.Prune(cutoff)
			if err != nil {
				s.log.Warn("history prune failed", "error", err)
			} else if n > 0 {
				s.log.Info("history pruned", "removed", n, "before", cutoff.Format(time.RFC3339))
			}
		}

		detector, _ := json.Marshal(cfg.Detector)
		run, err := st.StartRun(s.sourceName, string(detector))
		if err != nil {
			return fmt.Errorf("start run: %w", err)
		}
		s.run = run
		s.sinks = append(s.sinks, &StoreSink{Store: st})
	}

	if cfg.DBus.Enabled {
		n, err := notify.Connect(cfg.DBus.Name, s.log.With("component", "dbus"))
		if err != nil {
			// A missing session bus is common on headless hosts.
			s.log.Warn("dbus notifications disabled", "error", err)
		} else {
			s.notifier = n
			s.sinks = append(s.sinks, &NotifySink{Notifier: n})
		}
	}

	if cfg.Daemon.Print {
		s.sinks = append(s.sinks, NewWriterSink(s.stdout))
	}

	s.sinks = append(s.sinks, s.extra...)
	return nil
}

func (s *Sentinel) installLocked(dc config.DetectorConfig) (*sequence.Detector, bool, error) {
	d, installed, err := s.registry.Install(s.source, dc.ToSequence(),
		sequence.WithClock(s.clock),
		sequence.WithLogger(s.log.With("component", "detector")),
		sequence.WithObserver(s.metrics),
	)
	if err != nil {
		return nil, false, fmt.Errorf("install detector: %w", err)
	}
	return d, installed, nil
}

// handle runs for every completion dispatched in the scope.
func (s *Sentinel) handle(ev sequence.CustomEvent) {
	s.mu.RLock()
	sinks := s.sinks
	det := &store.Detection{
		RunID:      s.runID(),
		Sequence:   ev.Detail.Sequence,
		Length:     utf8.RuneCountInString(ev.Detail.Sequence),
		Target:     targetName(ev.Target),
		Source:     s.sourceName,
		DetectedAt: s.clock.Now(),
	}
	s.mu.RUnlock()

	s.detections.Add(1)
	s.log.Info("sequence detected",
		"sequence", det.Sequence,
		"length", det.Length,
		"target", det.Target,
	)

	for _, sink := range sinks {
		if err := sink.Deliver(det); err != nil {
			s.log.Warn("sink delivery failed", "sink", sink.Name(), "error", err)
			s.metrics.RecordSinkError(sink.Name())
		}
	}
}

func targetName(el sequence.Element) string {
	if el == nil {
		return ""
	}
	if str, ok := el.(fmt.Stringer); ok {
		return str.String()
	}
	return el.TagName()
}

func (s *Sentinel) runID() string {
	if s.run == nil {
		return ""
	}
	return s.run.ID
}

// RunID returns the history run of this daemon lifetime, or "" when
// storage is disabled.
func (s *Sentinel) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID()
}

// SourceName returns the configured source kind.
func (s *Sentinel) SourceName() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sourceName
}

// Detector returns the active detector, or nil.
func (s *Sentinel) Detector() *sequence.Detector {
	return s.registry.Active()
}

// Reload replaces the active detector with one built from cfg.Detector.
// An invalid detector configuration leaves the current detector in place.
// Source, storage and bus settings only take effect on restart.
func (s *Sentinel) Reload(cfg *config.Config) (err error) {
	defer func() { s.metrics.RecordReload(err) }()

	if err := cfg.Validate(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return ErrNoDetector
	}

	if !reflect.DeepEqual(cfg.Source, s.cfg.Source) ||
		cfg.Storage != s.cfg.Storage ||
		cfg.DBus != s.cfg.DBus ||
		cfg.Metrics != s.cfg.Metrics {
		s.log.Warn("source, storage, dbus and metrics changes apply on restart")
	}

	if old := s.registry.Active(); old != nil {
		old.Close()
	}
	if _, _, err := s.installLocked(cfg.Detector); err != nil {
		return err
	}

	s.cfg.Detector = cfg.Detector
	s.log.Info("detector reloaded",
		"max_keyboard_delay", cfg.Detector.MaxKeyboardDelay,
		"min_length", cfg.Detector.MinLength,
		"exact_length", cfg.Detector.ExactLength,
		"allowed_chars", cfg.Detector.AllowedChars,
	)
	return nil
}

// Status returns a snapshot of the sentinel.
func (s *Sentinel) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()

	st := Status{
		Running:    s.running,
		Source:     s.sourceName,
		RunID:      s.runID(),
		Detections: s.detections.Load(),
		StartedAt:  s.startedAt,
	}
	if d := s.registry.Active(); d != nil {
		st.Pending = d.Pending()
	}
	return st
}

// Done is closed when the source ends by itself, e.g. a script finished
// or the terminal was interrupted.
func (s *Sentinel) Done() <-chan struct{} {
	return s.done
}

func (s *Sentinel) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}

// Stop stops the source, closes the detector and the sinks, and ends the
// history run.
func (s *Sentinel) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()
	s.health.SetReady(false)

	var errs []error
	if err := s.source.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop source: %w", err))
	}
	s.metrics.SetSourceRunning(false)

	if d := s.registry.Active(); d != nil {
		d.Close()
	}
	s.cancel()
	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.unlisten != nil {
		s.unlisten()
		s.unlisten = nil
	}
	if s.store != nil && s.run != nil {
		if err := s.store.StopRun(s.run.ID, time.Now()); err != nil {
			errs = append(errs, fmt.Errorf("stop run: %w", err))
		}
	}
	if err := s.closeSinksLocked(); err != nil {
		errs = append(errs, err)
	}

	s.log.Info("sentinel stopped", "detections", s.detections.Load())
	return errors.Join(errs...)
}

func (s *Sentinel) closeSinksLocked() error {
	var errs []error
	if s.notifier != nil {
		if err := s.notifier.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close dbus: %w", err))
		}
		s.notifier = nil
	}
	if s.store != nil {
		if err := s.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close history: %w", err))
		}
		s.store = nil
	}
	s.sinks = nil
	return errors.Join(errs...)
}
