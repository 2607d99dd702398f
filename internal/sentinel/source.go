package sentinel

import (
	"fmt"
	"log/slog"

	"keyseq/internal/config"
	"keyseq/internal/keystroke"
	"keyseq/internal/sequence"
)

// BuildSource creates the key source described by cfg with its elements
// in scope.
func BuildSource(cfg config.SourceConfig, scope *sequence.Scope, logger *slog.Logger) (keystroke.Source, error) {
	switch cfg.Kind {
	case config.SourceEvdev, "":
		src, err := keystroke.NewDeviceSource(scope, keystroke.DeviceOptions{
			Paths:      cfg.Devices,
			NameFilter: cfg.NameFilter,
			Grab:       cfg.Grab,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}
		return src, nil
	case config.SourceTerminal:
		return keystroke.NewTerminalSource(scope, keystroke.TerminalOptions{Logger: logger}), nil
	case config.SourceScript:
		script, err := keystroke.LoadScript(cfg.Script)
		if err != nil {
			return nil, err
		}
		return keystroke.NewScriptSource(scope, script, logger), nil
	default:
		return nil, fmt.Errorf("unknown source kind %q", cfg.Kind)
	}
}
