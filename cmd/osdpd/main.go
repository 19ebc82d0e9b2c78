// Command osdpd runs an OSDP Peripheral Device protocol engine: serve a
// real serial line, drive the engine against a scripted CP over an
// in-memory loopback, or install a new Secure Channel Base Key.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "0.1.0"

	logVerbose bool
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:     "osdpd",
	Short:   "OSDP Peripheral Device protocol engine",
	Long:    `osdpd runs a PD-side OSDP protocol engine against a real or simulated serial line.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&logVerbose, "verbose", "v", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text", "log format: text or json")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(keysetCmd)
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func setupLogger() *slog.Logger {
	level := slog.LevelInfo
	if logVerbose {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if logFormat == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func main() {
	Execute()
}
