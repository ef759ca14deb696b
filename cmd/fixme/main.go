// Command fixme runs the FixMe sidecar and a few offline helpers around it.
package main

import (
	"fmt"
	"os"

	"fixme/internal/config"
	"fixme/internal/logging"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	envFile    string
	verbose    bool

	// Loaded in PersistentPreRunE
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "fixme",
	Short: "FixMe - voice-guided IT troubleshooting sidecar",
	Long: `FixMe diagnoses desktop problems from a screenshot, then walks the user
through each fix step by voice, asking permission before every command.

Run "fixme serve" to start the JSON-RPC sidecar on stdio, or with --listen
to accept WebSocket connections from a local UI.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := config.LoadDotEnv(envFile); err != nil {
			return err
		}
		loaded, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if verbose {
			loaded.Logging.Level = "debug"
			loaded.Logging.DebugMode = true
		}
		cfg = loaded

		// stdout carries the protocol; logs go to stderr or the configured file
		if err := logging.Initialize(cfg.Logging.Settings(), nil); err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "Path to the YAML config file")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "KEY=VALUE file loaded before the config")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(serveCmd, classifyCmd, fixesCmd, historyCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
