package sentinel

import (
	"log/slog"
	"time"

	"keyseq/internal/keystroke"
	"keyseq/internal/sequence"
)

// ReplayResult is one detection produced by a replayed script.
type ReplayResult struct {
	Sequence string
	Target   string
	// Offset is the virtual time since the script started.
	Offset time.Duration
}

// Replay plays script in virtual time through a detector built from cfg
// and returns what it would have detected.
func Replay(script *keystroke.Script, cfg sequence.Config, logger *slog.Logger) ([]ReplayResult, error) {
	start := time.Unix(0, 0).UTC()
	clock := sequence.NewManualClock(start)
	scope := sequence.NewScope()
	src := keystroke.NewScriptSource(scope, script, logger)

	opts := []sequence.Option{sequence.WithClock(clock)}
	if logger != nil {
		opts = append(opts, sequence.WithLogger(logger))
	}
	d, err := sequence.New(cfg, opts...)
	if err != nil {
		return nil, err
	}
	defer d.Close()
	if err := d.Attach(src); err != nil {
		return nil, err
	}

	var results []ReplayResult
	scope.AddEventListener(sequence.EventName, func(ev sequence.CustomEvent) {
		results = append(results, ReplayResult{
			Sequence: ev.Detail.Sequence,
			Target:   targetName(ev.Target),
			Offset:   clock.Now().Sub(start),
		})
	})

	if _, err := src.Play(clock, 2*cfg.Delay()); err != nil {
		return nil, err
	}
	return results, nil
}
