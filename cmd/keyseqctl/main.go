// keyseqctl is the control CLI for keyseqd.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"keyseq/internal/config"
)

var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "keyseqctl",
		Short: "Control utility for keyseqd",
		Long: `Inspect and control the keyseqd keyboard sequence daemon.

Examples:
  keyseqctl status
  keyseqctl history --limit 20 --since 24h
  keyseqctl replay scans.yaml --exact-length 13
  keyseqctl check-config ~/.config/keyseq/config.toml`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringP("config", "c", "", "path to config file (default: "+config.ConfigPath()+")")

	rootCmd.AddCommand(
		newStatusCmd(),
		newHistoryCmd(),
		newRunsCmd(),
		newReplayCmd(),
		newCheckConfigCmd(),
		newInitConfigCmd(),
		newStopCmd(),
		newReloadCmd(),
	)
	return rootCmd
}

// loadConfig reads the file named by --config, or the default location.
func loadConfig(cmd *cobra.Command) (*config.Config, string, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, "", fmt.Errorf("failed to get config flag: %w", err)
	}
	if path == "" {
		path = config.ConfigPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, path, err
	}
	return cfg, path, nil
}
