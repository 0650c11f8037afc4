// Estatedesk is the admin console and HTTP API for the listings platform.
//
// Usage:
//
//	# Terminal console against the default sqlite file
//	estatedesk console
//
//	# HTTP admin API
//	ESTATEDESK_AUTH_JWT_SECRET=... estatedesk serve
//
//	# Create tables, print a staff password hash, revoke a user's sessions
//	estatedesk migrate
//	estatedesk hash-password
//	estatedesk revoke u1
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"estatedesk/internal/config"
)

// Version information (set via ldflags during build).
var version = "dev"

// configFile is set by the --config flag.
var configFile string

var rootCmd = &cobra.Command{
	Use:           "estatedesk",
	Short:         "Listings admin console and API",
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ~/.config/estatedesk/config.yaml)")

	rootCmd.AddCommand(consoleCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(hashPasswordCmd)
	rootCmd.AddCommand(revokeCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "estatedesk:", err)
		os.Exit(1)
	}
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}
