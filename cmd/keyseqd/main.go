// keyseqd - keyboard sequence detection daemon
//
// keyseqd watches a key source for bursts of fast typing, such as a
// barcode scanner acting as a keyboard, and reports every burst that
// satisfies the configured length and character rules.
//
//	keyseqd                         Read keyboards from /dev/input
//	keyseqd -source terminal -print Type into this terminal
//	keyseqd -source script -script demo.yaml -print
//
// SIGHUP or an edit of the configuration file reloads the detector
// settings. SIGINT and SIGTERM stop the daemon.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"keyseq/internal/config"
	"keyseq/internal/logging"
	"keyseq/internal/sentinel"
)

var version = "dev"

type flags struct {
	configPath  string
	print       bool
	debug       bool
	source      string
	devices     string
	script      string
	realtime    bool
	logLevel    string
	noStore     bool
	metrics     string
	showVersion bool
}

func parseFlags(args []string) (*flags, error) {
	f := &flags{}
	fs := flag.NewFlagSet("keyseqd", flag.ContinueOnError)
	fs.StringVar(&f.configPath, "config", "", "path to config file (default: "+config.ConfigPath()+")")
	fs.BoolVar(&f.print, "print", false, "print each detected sequence to stdout")
	fs.BoolVar(&f.debug, "debug", false, "log the detector trace")
	fs.StringVar(&f.source, "source", "", "key source: evdev, terminal or script")
	fs.StringVar(&f.devices, "devices", "", "comma-separated input device paths (evdev)")
	fs.StringVar(&f.script, "script", "", "key script to play (script source)")
	fs.BoolVar(&f.realtime, "realtime", false, "play the script against the wall clock")
	fs.StringVar(&f.logLevel, "log-level", "", "log level: debug, info, warn, error")
	fs.BoolVar(&f.noStore, "no-store", false, "do not record detections in the history database")
	fs.StringVar(&f.metrics, "metrics", "", "serve Prometheus metrics on this address")
	fs.BoolVar(&f.showVersion, "version", false, "print version and exit")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	return f, nil
}

// apply layers command-line settings over a loaded configuration. It runs
// again on every reload so flags keep precedence over the file.
func (f *flags) apply(cfg *config.Config) {
	if f.print {
		cfg.Daemon.Print = true
	}
	if f.debug {
		cfg.Detector.Debug = true
	}
	if f.source != "" {
		cfg.Source.Kind = f.source
	}
	if f.devices != "" {
		cfg.Source.Devices = nil
		for _, d := range strings.Split(f.devices, ",") {
			if d = strings.TrimSpace(d); d != "" {
				cfg.Source.Devices = append(cfg.Source.Devices, d)
			}
		}
	}
	if f.script != "" {
		cfg.Source.Script = f.script
		if f.source == "" {
			cfg.Source.Kind = config.SourceScript
		}
	}
	if f.realtime {
		cfg.Source.Realtime = true
	}
	if f.logLevel != "" {
		cfg.Logging.Level = f.logLevel
	}
	if f.noStore {
		cfg.Storage.Enabled = false
	}
	if f.metrics != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = f.metrics
	}
}

func main() {
	f, err := parseFlags(os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if f.showVersion {
		fmt.Println("keyseqd", version)
		return
	}

	if err := run(f); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(f *flags) error {
	path := f.configPath
	if path == "" {
		path = config.ConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return err
	}
	f.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.ToLogging("keyseqd"))
	if err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	defer logger.Close()
	logging.SetDefault(logger)
	log := logger.Logger

	daemon := sentinel.NewDaemonManager(cfg.Daemon.StateDir)
	if daemon.IsRunning() {
		pid, _ := daemon.ReadPID()
		return fmt.Errorf("keyseqd is already running (pid %d)", pid)
	}

	s, err := sentinel.New(sentinel.Options{Config: cfg, Logger: log})
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.Start(ctx); err != nil {
		return err
	}

	if err := daemon.WritePID(); err != nil {
		log.Warn("write pid file", "error", err)
	}
	if err := daemon.WriteState(&sentinel.DaemonState{
		PID:        os.Getpid(),
		StartedAt:  time.Now(),
		Version:    version,
		Source:     s.SourceName(),
		RunID:      s.RunID(),
		ConfigPath: path,
	}); err != nil {
		log.Warn("write state file", "error", err)
	}
	defer daemon.Cleanup()

	reload := func(next *config.Config) {
		next = next.Clone()
		f.apply(next)
		if err := s.Reload(next); err != nil {
			log.Error("reload failed", "error", err)
		}
	}

	loader := config.NewLoader(path, log.With("component", "config"))
	defer loader.Close()
	loader.OnChange(reload)
	if _, err := os.Stat(path); err == nil {
		if err := loader.Watch(); err != nil {
			log.Warn("config watch disabled", "path", path, "error", err)
		}
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigCh)

	log.Info("keyseqd running", "version", version, "source", s.SourceName(), "pid", os.Getpid())

	for {
		select {
		case sig := <-sigCh:
			if sig == syscall.SIGHUP {
				log.Info("reloading configuration", "path", path)
				loader.Reload()
				continue
			}
			log.Info("shutting down", "signal", sig.String())
			return s.Stop()

		case err := <-loader.Errors():
			log.Warn("config error", "error", err)

		case <-s.Done():
			log.Info("source ended")
			return s.Stop()
		}
	}
}
