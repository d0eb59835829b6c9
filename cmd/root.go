package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/andresmejia3/facewatch/internal/config"
	"github.com/andresmejia3/facewatch/internal/logger"
	"github.com/andresmejia3/facewatch/internal/store"
	"github.com/andresmejia3/facewatch/internal/utils"
)

var (
	// Cfg is the resolved configuration shared by subcommands
	Cfg config.Config
	// DB is the optional embedding cache. It stays nil until a subcommand opens it.
	DB *store.Store

	cfgPath  string
	dbURL    string
	logLevel string
	logFile  string
)

// Version is the application version.
const Version = "0.1.0"

var rootCmd = &cobra.Command{
	Use:           "facewatch",
	Short:         "Watch a camera stream and alert on faces matched against a reference gallery",
	Version:       Version, // This enables the --version flag
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return err
		}

		flags := cmd.Flags()
		if flags.Changed("db") {
			cfg.Database.URL = dbURL
		}
		if flags.Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if flags.Changed("log-file") {
			cfg.Log.File = logFile
		}

		if err := logger.Init(logger.Options{Level: cfg.Log.Level, File: cfg.Log.File}); err != nil {
			return err
		}
		Cfg = cfg
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if DB != nil {
			// Use Background here because the main context might be cancelled already (due to Ctrl+C)
			// and we still need to send the "Close" command to the DB.
			DB.Close(context.Background())
			DB = nil
		}
	},
}

// openCache connects to the embedding cache when a database is configured.
// Without one it returns (nil, nil) and callers run uncached.
func openCache(ctx context.Context) (*store.Store, error) {
	if DB != nil {
		return DB, nil
	}
	if Cfg.Database.URL == "" {
		return nil, nil
	}
	s, err := store.New(ctx, Cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	DB = s
	return DB, nil
}

// shownError marks an error whose box was already printed.
type shownError struct{ error }

func (e shownError) Unwrap() error { return e.error }

// fail prints the error box and returns err so cobra unwinds normally.
func fail(context string, err error, s *utils.SafeCommand) error {
	utils.ShowError(context, err, s)
	return shownError{err}
}

func Execute() {
	// Create a context that listens for Ctrl+C (SIGINT) or Kill (SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// This tells Cobra not to print the version in the help text, which is cleaner.
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		var shown shownError
		if !errors.As(err, &shown) {
			utils.ShowError("Command failed", err, nil)
		}
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "YAML configuration file")
	rootCmd.PersistentFlags().StringVar(&dbURL, "db", "", "PostgreSQL connection string for the embedding cache (default: built from POSTGRES_*, disabled if unset)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "Also write logs to this file (rotated)")
}
