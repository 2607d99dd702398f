package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"keyseq/internal/config"
	"keyseq/internal/keystroke"
	"keyseq/internal/sentinel"
	"keyseq/internal/store"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status and history statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, path, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()

			status, err := sentinel.NewDaemonManager(cfg.Daemon.StateDir).Status()
			if err != nil {
				return err
			}

			fmt.Fprintln(out, "=== keyseqd Status ===")
			fmt.Fprintf(out, "Config:     %s\n", path)
			if status.Running {
				fmt.Fprintf(out, "Daemon:     running (pid %d)\n", status.PID)
				fmt.Fprintf(out, "Started:    %s (%s)\n", status.StartedAt.Format(time.RFC3339), humanize.Time(status.StartedAt))
				fmt.Fprintf(out, "Source:     %s\n", status.Source)
				if status.Version != "" {
					fmt.Fprintf(out, "Version:    %s\n", status.Version)
				}
			} else {
				fmt.Fprintln(out, "Daemon:     stopped")
			}

			if !cfg.Storage.Enabled {
				fmt.Fprintln(out, "History:    disabled")
				return nil
			}
			info, err := os.Stat(cfg.Storage.Path)
			if err != nil {
				fmt.Fprintf(out, "History:    %s (not created)\n", cfg.Storage.Path)
				return nil
			}

			st, err := store.Open(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			count, err := st.CountDetections()
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "History:    %s (%s)\n", cfg.Storage.Path, humanize.IBytes(uint64(info.Size())))
			fmt.Fprintf(out, "Detections: %s\n", humanize.Comma(count))

			latest, err := st.ListDetections(store.ListOptions{Limit: 1})
			if err != nil {
				return err
			}
			if len(latest) > 0 {
				fmt.Fprintf(out, "Last:       %s %s\n", latest[0].Sequence, humanize.Time(latest[0].DetectedAt))
			}
			return nil
		},
	}
}

func newHistoryCmd() *cobra.Command {
	var (
		limit    int
		since    time.Duration
		sequence string
		run      string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded detections, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cfg.Storage.Enabled {
				return errors.New("history storage is disabled in the configuration")
			}

			st, err := store.Open(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			opts := store.ListOptions{Limit: limit, Sequence: sequence, RunID: run}
			if since > 0 {
				opts.Since = time.Now().Add(-since)
			}
			detections, err := st.ListDetections(opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(detections) == 0 {
				fmt.Fprintln(out, "No detections recorded.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "WHEN\tSEQUENCE\tLEN\tTARGET\tSOURCE")
			for _, d := range detections {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
					humanize.Time(d.DetectedAt), d.Sequence, d.Length, d.Target, d.Source)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of detections")
	cmd.Flags().DurationVar(&since, "since", 0, "only show detections newer than this, e.g. 24h")
	cmd.Flags().StringVar(&sequence, "sequence", "", "only show this exact sequence")
	cmd.Flags().StringVar(&run, "run", "", "only show detections from this daemon run")
	return cmd
}

func newRunsCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List daemon runs recorded in the history",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if !cfg.Storage.Enabled {
				return errors.New("history storage is disabled in the configuration")
			}

			st, err := store.Open(cfg.Storage.Path)
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.ListRuns(limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSOURCE\tSTARTED\tDURATION")
			for _, r := range runs {
				duration := "running"
				if r.StoppedAt != nil {
					duration = r.StoppedAt.Sub(r.StartedAt).Round(time.Second).String()
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.ID, r.Source, humanize.Time(r.StartedAt), duration)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "maximum number of runs")
	return cmd
}

func newReplayCmd() *cobra.Command {
	var (
		delay       int
		minLength   int
		exactLength int
		allowed     string
		debug       bool
	)

	cmd := &cobra.Command{
		Use:   "replay <script>",
		Short: "Play a key script in virtual time and print what it detects",
		Long: `Play a YAML or JSON key script through a detector built from the
configuration file, without waiting in real time. Flags override the
configured detector settings.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			dc := cfg.Detector
			flags := cmd.Flags()
			if flags.Changed("max-keyboard-delay") {
				dc.MaxKeyboardDelay = delay
			}
			if flags.Changed("min-length") {
				dc.MinLength = minLength
			}
			if flags.Changed("exact-length") {
				dc.ExactLength = exactLength
			}
			if flags.Changed("allowed-chars") {
				dc.AllowedChars = allowed
			}
			if debug {
				dc.Debug = true
			}

			script, err := keystroke.LoadScript(args[0])
			if err != nil {
				return err
			}

			results, err := sentinel.Replay(script, dc.ToSequence(), replayLogger(cmd, dc.Debug))
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if len(results) == 0 {
				fmt.Fprintf(out, "%s: no sequences detected\n", script.Name)
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "OFFSET\tSEQUENCE\tTARGET")
			for _, r := range results {
				fmt.Fprintf(w, "%s\t%s\t%s\n", r.Offset, r.Sequence, r.Target)
			}
			if err := w.Flush(); err != nil {
				return err
			}
			fmt.Fprintf(out, "%d %s detected\n", len(results), pluralize(len(results), "sequence", "sequences"))
			return nil
		},
	}

	cmd.Flags().IntVar(&delay, "max-keyboard-delay", 0, "maximum gap between keys in milliseconds")
	cmd.Flags().IntVar(&minLength, "min-length", 0, "minimum sequence length (0 unsets)")
	cmd.Flags().IntVar(&exactLength, "exact-length", 0, "exact sequence length (0 unsets)")
	cmd.Flags().StringVar(&allowed, "allowed-chars", "", "regular expression a key must match")
	cmd.Flags().BoolVar(&debug, "debug", false, "print the detector trace to stderr")
	return cmd
}

// replayLogger sends the detector trace to stderr when debug is set.
func replayLogger(cmd *cobra.Command, debug bool) *slog.Logger {
	if !debug {
		return nil
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), nil))
}

func pluralize(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}

func newCheckConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check-config [file]",
		Short: "Validate a configuration file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			if len(args) == 1 {
				path = args[0]
			}
			if path == "" {
				path = config.ConfigPath()
			}

			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("config file: %w", err)
			}

			cfg, err := config.Load(path)
			if err != nil {
				var verrs config.ValidationErrors
				if errors.As(err, &verrs) {
					out := cmd.ErrOrStderr()
					for _, v := range verrs {
						fmt.Fprintf(out, "  %s: %s\n", v.Field, v.Message)
					}
				}
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (source %s, delay %dms)\n",
				path, cfg.Source.Kind, cfg.Detector.MaxKeyboardDelay)
			return nil
		},
	}
}

func newInitConfigCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init-config",
		Short: "Write the default configuration file if none exists",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			if path == "" {
				path = config.ConfigPath()
			}

			_, created, err := config.LoadOrCreate(path)
			if err != nil {
				return err
			}
			if created {
				fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s already exists\n", path)
			}
			return nil
		},
	}
}

func newStopCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the running daemon",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			daemon := sentinel.NewDaemonManager(cfg.Daemon.StateDir)
			if err := daemon.SignalStop(); err != nil {
				return err
			}
			if err := daemon.WaitForStop(timeout); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "keyseqd stopped")
			return nil
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "how long to wait for the daemon to exit")
	return cmd
}

func newReloadCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reload",
		Short: "Ask the running daemon to re-read its configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if err := sentinel.NewDaemonManager(cfg.Daemon.StateDir).SignalReload(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "reload signal sent")
			return nil
		},
	}
}
