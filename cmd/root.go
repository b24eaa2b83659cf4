// Package cmd implements the CLI commands for breenix-go.
package cmd

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"breenix-go/logging"
)

// Version information set at build time.
var (
	Version   = "0.1.0"
	BuildTime = "unknown"
)

// Global flags.
var (
	globalLog       string
	globalLogFormat string
	globalDebug     bool

	flagArch      string
	flagMemoryMiB int
	flagTickHz    uint32
)

// rootCmd is the base command for breenix-go.
var rootCmd = &cobra.Command{
	Use:   "breenix-go",
	Short: "hosted kernel core",
	Long: `breenix-go boots a hosted kernel core: preemptive multitasking,
per-process address spaces with demand paging and copy-on-write, a
POSIX-shaped syscall surface, and signal delivery, running against an
emulated machine with x86_64 and aarch64 page-table backends.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogging()
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetContext returns a context that cancels on SIGINT/SIGTERM.
func GetContext() context.Context {
	ctx, _ := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	return ctx
}

func init() {
	rootCmd.PersistentFlags().StringVar(&globalLog, "log", "", "set the log file path")
	rootCmd.PersistentFlags().StringVar(&globalLogFormat, "log-format", "text", "set the format for log output (text or json)")
	rootCmd.PersistentFlags().BoolVar(&globalDebug, "debug", false, "enable debug logging")

	rootCmd.PersistentFlags().StringVar(&flagArch, "arch", "x86_64", "machine architecture (x86_64 or aarch64)")
	rootCmd.PersistentFlags().IntVar(&flagMemoryMiB, "memory-mib", 32, "usable RAM in MiB")
	rootCmd.PersistentFlags().Uint32Var(&flagTickHz, "tick-hz", 1000, "periodic tick frequency")
}

func setupLogging() {
	logOutput := os.Stderr
	if globalLog != "" {
		if f, err := os.OpenFile(globalLog, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644); err == nil {
			logOutput = f
		}
	}

	level := slog.LevelInfo
	if globalDebug {
		level = slog.LevelDebug
	}

	logging.SetDefault(logging.NewLogger(logging.Config{
		Level:  level,
		Format: globalLogFormat,
		Output: logOutput,
	}))
}
