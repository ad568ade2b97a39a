package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ObiAU/mentionfeed/internal/search"
	"github.com/spf13/cobra"
)

const (
	Version = "0.3.0"
	appName = "mentionfeed"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	var (
		configPath string
		logLevel   string
	)

	cmd := &cobra.Command{
		Use:   appName,
		Short: "Collect mentions from Reddit, GitHub and Bluesky into one feed",
		Long: `mentionfeed searches several sources for mentions of a project, drops
anything it has already seen and keeps the newest 100 items in a feed
document that a static site can serve. New items can be posted to Slack,
Telegram or a NATS subject.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file path (YAML)")
	cmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (debug, info, warn, error)")

	cmd.AddCommand(
		runCmd(&configPath, &logLevel),
		serveCmd(&configPath, &logLevel),
		searchCmd(&configPath, &logLevel),
		&cobra.Command{
			Use:   "version",
			Short: "Print version information",
			Run: func(cmd *cobra.Command, args []string) {
				fmt.Printf("%s version %s\n", appName, Version)
			},
		},
	)

	return cmd
}

func runCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run one collection pass and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, *configPath, *logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			_, runErr := a.aggregator.RunOnce(ctx)

			if path := a.cfg.MetricsTextfile; path != "" {
				if err := a.metrics.WriteTextfile(path); err != nil {
					a.logger.Warn("failed to write metrics textfile", "path", path, "error", err)
				}
			}
			return runErr
		},
	}
}

func serveCmd(configPath, logLevel *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run collection passes on an interval and serve the feed over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer cancel()

			a, err := newApp(ctx, *configPath, *logLevel)
			if err != nil {
				return err
			}
			defer a.Close()

			a.logger.Info("starting mentionfeed",
				"version", Version,
				"interval", a.cfg.ProcessingInterval,
				"port", a.cfg.ServerPort)
			if err := a.aggregator.Run(ctx); err != nil {
				return err
			}
			a.logger.Info("mentionfeed stopped gracefully")
			return nil
		},
	}
}

func searchCmd(configPath, logLevel *string) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search the committed feed",
		Long: `Search the committed feed with a query string. Fields can be scoped,
for example "source:reddit retries". With no query the newest items are
listed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx, *configPath, *logLevel, true)
			if err != nil {
				return err
			}
			defer a.Close()

			idx, err := search.Build(a.store.Load(ctx).Feed)
			if err != nil {
				return err
			}
			defer idx.Close()

			results, err := idx.Search(strings.Join(args, " "), limit)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no matches")
				return nil
			}
			for _, r := range results {
				label := r.Author
				if r.Title != "" {
					label = r.Title
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-8s %.3f  %s\n         %s\n", r.Source, r.Score, label, r.URL)
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 10, "Maximum number of results")
	return cmd
}
