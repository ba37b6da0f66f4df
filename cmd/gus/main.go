package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/vindennt/gus-marketplace/internal/config"
	"github.com/vindennt/gus-marketplace/internal/logging"
)

var (
	// Global flags
	logLevel string
	apiURL   string

	cfg    *config.Config
	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "gus",
	Short: "Gus marketplace server and command line client",
	Long: `gus runs the campus marketplace API server and talks to a running one.

Run "gus serve" to start the server. The other commands are clients of the
server at GUS_API_URL (or --api-url) and sign in with --email/--password or
GUS_EMAIL/GUS_PASSWORD when the action needs an account.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.LoadConfig()
		if err != nil {
			return fmt.Errorf("could not load config: %w", err)
		}
		if logLevel != "" {
			cfg.Logs.Level = logLevel
		}
		if apiURL != "" {
			cfg.APIURL = apiURL
		}

		logger, err = logging.New(cfg.Logs.Level, cfg.Logs.Style)
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "debug, info, warn or error (overrides LOG_LEVEL)")
	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "", "server base URL for client commands (overrides GUS_API_URL)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(listingsCmd, createCmd, deleteCmd, contactCmd, watchCmd, uploadCmd)
	rootCmd.AddCommand(signupCmd, resetPasswordCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
