package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haukened/mxbl/internal/mxbl/common/log"
	"github.com/haukened/mxbl/internal/mxbl/domain"
	"github.com/haukened/mxbl/internal/mxbl/services/admin"
	"github.com/haukened/mxbl/internal/mxbl/services/checker"
)

// newRootCmd builds the command tree. Configuration always comes from
// MXBL_ environment variables.
func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   appName,
		Short: "MX-aware email domain blocklist",
		Long: `mxbld checks email domains against a blocklist of domain, glob,
regex, CIDR and IP rules, following each domain's MX hosts and their
addresses.

Configuration is read from MXBL_ environment variables.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newServeCmd(),
		newCheckCmd(),
		newTestPatternCmd(),
		newImportCmd(),
		newMigrateCmd(),
	)
	return root
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			log.Info(map[string]any{
				"version":    version,
				"env":        cfg.Env,
				"log_level":  cfg.LogLevel,
				"listen":     cfg.Listen,
				"store":      cfg.Store,
				"cache_size": cfg.CacheSize,
				"servers":    cfg.Servers,
			}, "Starting mxbl server")

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			app, err := buildApplication(ctx, cfg)
			if err != nil {
				return err
			}

			sigChan := make(chan os.Signal, 1)
			signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
			defer signal.Stop(sigChan)

			go func() {
				select {
				case sig := <-sigChan:
					log.Info(map[string]any{"signal": sig.String()}, "Shutdown signal received")
					cancel()
				case <-ctx.Done():
				}
			}()

			if err := app.Run(ctx); err != nil {
				return err
			}
			log.Info(nil, "mxbl server stopped gracefully")
			return nil
		},
	}
}

func newCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check <email|domain>",
		Short: "Run a live check, recording rule hits",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *Application) error {
				v, err := app.admin.Check(ctx, args[0])
				if err != nil && !errors.Is(err, checker.ErrHitRecord) {
					return err
				}
				printVerdict(cmd.OutOrStdout(), args[0], v)
				return err
			})
		},
	}
}

func newTestPatternCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "testpat <pattern> <email|domain>",
		Short: "Check an address or domain against a single pattern",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApplication(cmd, func(ctx context.Context, app *Application) error {
				v, err := app.admin.TestPattern(ctx, args[0], args[1])
				if err != nil {
					return err
				}
				printVerdict(cmd.OutOrStdout(), args[1], v)
				return nil
			})
		},
	}
}

func newImportCmd() *cobra.Command {
	var format, reason, by string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Add every new entry of a plain or hosts-format list",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()

			return withApplication(cmd, func(ctx context.Context, app *Application) error {
				res, err := app.admin.Import(ctx, f, format, args[0], reason, by)
				for _, r := range res.Added {
					fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", r.Describe(r.AddedAt))
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d added, %d already present\n", len(res.Added), res.Skipped)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", admin.FormatPlain, "list format: plain or hosts")
	cmd.Flags().StringVar(&reason, "reason", "imported", "reason for entries that carry none")
	cmd.Flags().StringVar(&by, "by", "", "added_by for the new rules (default MXBL_OPERATOR)")
	return cmd
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create the rule store schema",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			store, err := openStore(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Migrate(cmd.Context()); err != nil {
				return fmt.Errorf("migrate %s store: %w", cfg.Store, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s store ready\n", cfg.Store)
			return nil
		},
	}
}

// withApplication builds the application for a one-shot command and closes
// it afterwards.
func withApplication(cmd *cobra.Command, fn func(context.Context, *Application) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	app, err := buildApplication(ctx, cfg)
	if err != nil {
		return err
	}
	defer app.Close()
	return fn(ctx, app)
}

// printVerdict writes the one-line result of a check.
func printVerdict(w io.Writer, target string, v domain.Verdict) {
	if !v.Matched {
		fmt.Fprintf(w, "OK %s\n", target)
		return
	}
	status := "BAD"
	if !v.Rule.Active {
		status = "WARN"
	}
	via := "direct"
	if v.Via != domain.RecordNone {
		via = v.Via.String() + " " + v.Candidate
	}
	what := v.Rule.FullReason()
	if v.Rule.ID == 0 {
		what = "matches " + v.Rule.Pattern.Render()
	}
	fmt.Fprintf(w, "%s %s: %s (%s)\n", status, target, what, via)
}
