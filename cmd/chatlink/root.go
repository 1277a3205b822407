package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/hupe1980/chatlink/config"
	"github.com/hupe1980/chatlink/logging"
)

var (
	cfgPath string
	verbose bool

	version = "dev"
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "chatlink",
	Short: "Conversational client for streaming inference backends",
	Long: `chatlink connects a chat session to an inference backend, either a
remote relay speaking the streaming JSON-RPC protocol or a provider API
directly, executes requested tool calls against configured MCP servers and
persists replayable sessions.

Quick start:
  chatlink chat                     # interactive REPL with defaults
  chatlink chat --config cl.yaml    # REPL against a configured backend
  chatlink serve --config cl.yaml   # host the HTTP API`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the CLI, exiting non-zero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "Path to the YAML config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// loadConfig reads the configured file, or returns defaults when no file was
// given.
func loadConfig() (*config.Config, error) {
	if cfgPath == "" {
		return config.Default(), nil
	}
	return config.Load(cfgPath)
}

// buildLogger maps the logging config (plus the verbose flag) onto the slog
// backed logger.
func buildLogger(cfg *config.Config) logging.Logger {
	level := logging.LogLevelInfo

	switch cfg.Logging.Level {
	case "debug":
		level = logging.LogLevelDebug
	case "warn":
		level = logging.LogLevelWarn
	case "error":
		level = logging.LogLevelError
	}

	if verbose {
		level = logging.LogLevelDebug
	}

	return logging.New(&logging.Config{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
}
