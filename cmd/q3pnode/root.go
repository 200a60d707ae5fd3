package main

import (
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "q3pnode",
	Short: "q3pnode runs one end of a Q3P key-store link",
	Long: `q3pnode mounts a Common Store and three buffer Key-DBs, then
either listens for or connects to a peer, negotiates role and crypto
scheme, keeps the buffers synchronized with LOAD/LOAD-REQUEST, and
answers a peer's STORE rounds from an optional pickup area.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	rootCmd.AddCommand(listenCmd, connectCmd, injectCmd, statusCmd)
}

// Execute runs the q3pnode command tree.
func Execute() error {
	return rootCmd.Execute()
}

func newLogger() zerolog.Logger {
	level, err := zerolog.ParseLevel(logLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		Level(level).
		With().
		Timestamp().
		Logger()
}
