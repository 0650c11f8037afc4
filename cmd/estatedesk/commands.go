package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"estatedesk/internal/api"
	"estatedesk/internal/auth"
	"estatedesk/internal/console"
	"estatedesk/internal/guard"
	"estatedesk/internal/persistence"
	"estatedesk/internal/session"
	"estatedesk/pkg/listing"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Open the terminal admin console",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		// The terminal belongs to the UI, so logs go to a file.
		if cfg.Log.File == "" {
			cfg.Log.File = filepath.Join(filepath.Dir(cfg.Auth.TokenFile), "console.log")
		}
		mode, err := guard.ParseMode(cfg.Auth.GuardMode)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx, cfg, auth.NewFileTokenStore(cfg.Auth.TokenFile))
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		provider := session.NewProvider(a.client, a.log.Named("session"))
		defer provider.Close()

		return console.Run(ctx, console.Deps{
			Session:   provider,
			Auth:      a.client,
			Records:   a.records,
			GuardMode: mode,
			Logger:    a.log.Named("console"),
		})
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP admin API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		mode, err := guard.ParseMode(cfg.Auth.GuardMode)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx, cfg, &auth.MemoryTokenStore{})
		if err != nil {
			return err
		}
		defer func() { _ = a.Close() }()

		srv, err := api.NewServer(api.Options{
			Records:   a.records,
			Auth:      a.client,
			Blobs:     a.blobs,
			GuardMode: mode,
			Metrics:   a.metrics,
			Gatherer:  a.registry,
			Logger:    a.log.Named("http"),
			Config:    cfg.Server,
		})
		if err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		g.Go(srv.Start)
		g.Go(func() error {
			<-gctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Server.ShutdownTimeout)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
		return g.Wait()
	},
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the listing tables",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		store, err := persistence.Open(ctx, cfg.Database)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()
		if err := store.Migrate(ctx); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
		out := cmd.OutOrStdout()
		for _, s := range listing.Schemas() {
			fmt.Fprintf(out, "%s\t%s\n", cfg.Database.Driver, s.Table)
		}
		return nil
	},
}

var hashPasswordCmd = &cobra.Command{
	Use:   "hash-password [password]",
	Short: "Print a bcrypt hash for a staff password (reads stdin when no argument is given)",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var pw string
		if len(args) == 1 {
			pw = args[0]
		} else {
			line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			pw = strings.TrimRight(line, "\r\n")
		}
		if pw == "" {
			return errors.New("password must not be empty")
		}
		hash, err := auth.HashPassword(pw)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

var revokeCmd = &cobra.Command{
	Use:   "revoke <user-id>",
	Short: "Sign a staff member out of every console and API session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		userID := args[0]
		if _, ok := auth.NewDirectory(cfg.Auth.Staff).Lookup(userID); !ok {
			return fmt.Errorf("unknown staff id %q", userID)
		}
		bus, err := auth.OpenBus(cfg.Events)
		if err != nil {
			return err
		}
		defer func() { _ = bus.Close() }()
		if cfg.Events.Driver != "redis" {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning: events.driver is local; other processes will not see this revocation")
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Second)
		defer cancel()
		if err := bus.Publish(ctx, userID); err != nil {
			return fmt.Errorf("publish revocation: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "revoked sessions of %s\n", userID)
		return nil
	},
}
