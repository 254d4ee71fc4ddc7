package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/joho/godotenv/autoload"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/109isaque10/scraped/config"
	"github.com/109isaque10/scraped/orchestrator"
	"github.com/109isaque10/scraped/types"
)

// set during build via ldflags
var version = "dev"

func init() {
	// pure Go DNS resolver, no CGO
	net.DefaultResolver.PreferGo = true
}

func main() {
	config.InitDefaultLogger(version)

	var configPath string

	rootCmd := &cobra.Command{
		Use:           "scraped",
		Short:         "Scrape, match and cache torrent results for movies, shows and anime",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.Version = version
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml (default ./config.yaml if present)")

	rootCmd.AddCommand(RunServeCommand(&configPath))
	rootCmd.AddCommand(RunScrapeCommand(&configPath))
	rootCmd.AddCommand(RunCleanCommand(&configPath))
	rootCmd.AddCommand(RunRequestCommand(&configPath))
	rootCmd.AddCommand(RunReclaimCommand(&configPath))
	rootCmd.AddCommand(RunEvictCommand(&configPath))
	rootCmd.AddCommand(RunVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// withApp builds the application for a one shot command and cancels it on SIGINT
func withApp(configPath string, fn func(ctx context.Context, app *Application) error) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := NewApplication(ctx, configPath)
	if err != nil {
		return err
	}
	defer app.Close()

	return fn(ctx, app)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func RunServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API and the background workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			app, err := NewApplication(cmd.Context(), *configPath)
			if err != nil {
				return err
			}
			defer app.Close()
			return app.runServer()
		},
	}
}

func RunScrapeCommand(configPath *string) *cobra.Command {
	var override bool

	command := &cobra.Command{
		Use:   "scrape <id>",
		Short: "Scrape one media id and store the results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(ctx context.Context, app *Application) error {
				status := app.orch.TriggerScrape(ctx, args[0], orchestrator.ScrapeOptions{Override: override})
				if err := printJSON(status); err != nil {
					return err
				}
				if status.Status == orchestrator.StatusError {
					return errors.New(status.ErrorMessage)
				}
				return nil
			})
		},
	}
	command.Flags().BoolVar(&override, "override", false, "scrape again even when results are cached")

	return command
}

func RunCleanCommand(configPath *string) *cobra.Command {
	var bump bool

	command := &cobra.Command{
		Use:   "clean <id>",
		Short: "Re-validate cached results of a media id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(ctx context.Context, app *Application) error {
				reports, err := app.orch.Clean(ctx, args[0], orchestrator.CleanOptions{BumpTimestamp: bump})
				if err != nil {
					return err
				}
				return printJSON(reports)
			})
		},
	}
	command.Flags().BoolVar(&bump, "bump", false, "mark the record as updated now")

	return command
}

func RunRequestCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "request <id>",
		Short: "Queue a media id for the background worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(ctx context.Context, app *Application) error {
				return app.orch.Request(ctx, args[0])
			})
		},
	}
}

func RunReclaimCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "reclaim",
		Short: "Re-run scrapes whose processing marker went stale",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(*configPath, func(ctx context.Context, app *Application) error {
				ids, err := app.orch.ReclaimStuck(ctx)
				if err != nil {
					return err
				}

				statuses := make(map[string]orchestrator.ScrapeStatus, len(ids))
				for _, id := range ids {
					statuses[id] = app.orch.TriggerScrape(ctx, id, orchestrator.ScrapeOptions{Reclaimed: true})
				}
				return printJSON(statuses)
			})
		},
	}
}

func RunEvictCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "evict <key>",
		Short: "Delete one cache key, e.g. tv:tt0903747:2 or processing:tt0133093",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := types.ParseMediaKey(args[0])
			if err != nil {
				return err
			}
			return withApp(*configPath, func(ctx context.Context, app *Application) error {
				if err := app.store.Delete(ctx, key); err != nil {
					return errors.Wrapf(err, "evict %s", key)
				}
				log.Info().Str("key", key.String()).Msg("🗑️ Evicted")
				return nil
			})
		},
	}
}

func RunVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version number of scraped",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(version)
		},
	}
}
