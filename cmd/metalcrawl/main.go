package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/amosWeiskopf/metalcrawl/internal/config"
	"github.com/amosWeiskopf/metalcrawl/internal/logging"
	"github.com/amosWeiskopf/metalcrawl/pkg/catalog"
	"github.com/amosWeiskopf/metalcrawl/pkg/reporter"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

type rootOptions struct {
	v          *viper.Viper
	configPath string
	verbose    bool
}

// load reads the configuration and builds the logger. The closer releases
// the log output.
func (o *rootOptions) load() (*app, io.Closer, error) {
	cfg, err := config.Load(o.v, o.configPath)
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: %w", err)
	}
	logger, closer, err := logging.New(cfg.Logging, o.verbose)
	if err != nil {
		return nil, nil, err
	}
	return newApp(cfg, logger), closer, nil
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{v: config.New()}

	rootCmd := &cobra.Command{
		Use:   "metalcrawl",
		Short: "metalcrawl - resumable crawler for the Encyclopaedia Metallum catalog",
		Long: `metalcrawl collects bands, labels, label rosters and discographies from
metal-archives.com into local CSV or SQLite files. Crawls checkpoint after
every page and resume where they stopped.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "Config file path")
	rootCmd.PersistentFlags().BoolVar(&opts.verbose, "verbose", false, "Enable verbose output")
	rootCmd.PersistentFlags().String("storage", "", "Storage backend (csv, sqlite)")
	opts.v.BindPFlag("storage.type", rootCmd.PersistentFlags().Lookup("storage"))

	rootCmd.AddCommand(newCrawlCmd(opts), newStatusCmd(opts), newResetCmd(opts))
	return rootCmd
}

func datasetArgs(cmd *cobra.Command, args []string) error {
	for _, a := range args {
		if a == "all" {
			continue
		}
		if _, err := catalog.Lookup(a); err != nil {
			return err
		}
	}
	return nil
}

func expand(args []string) []string {
	if len(args) == 0 {
		return catalog.Names()
	}
	var names []string
	for _, a := range args {
		if a == "all" {
			names = append(names, catalog.Names()...)
			continue
		}
		names = append(names, a)
	}
	return names
}

func newCrawlCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "crawl <dataset|all>",
		Short: "Crawl a dataset (" + strings.Join(catalog.Names(), ", ") + ") or all of them",
		Args:  cobra.MatchAll(cobra.ExactArgs(1), datasetArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closer, err := opts.load()
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx := cmd.Context()
			if d := a.cfg.Crawler.RunTimeout; d > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			results, err := a.crawlAll(ctx, expand(args))
			if err != nil {
				return fmt.Errorf("crawl failed: %w", err)
			}
			for _, res := range results {
				state := "complete"
				if res.Interrupted {
					state = "interrupted, resume with the same command"
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "%s: %d records added, %d duplicates, %d failures (%s)\n",
					res.Dataset, res.Accepted, res.Duplicates, res.Failures, state)
			}
			return nil
		},
	}
	cmd.Flags().Int("workers", 0, "Concurrent detail fetches (overrides crawler.max_workers)")
	cmd.Flags().Int("batch-size", 0, "Records buffered per write (overrides storage.batch_size)")
	opts.v.BindPFlag("crawler.max_workers", cmd.Flags().Lookup("workers"))
	opts.v.BindPFlag("storage.batch_size", cmd.Flags().Lookup("batch-size"))
	return cmd
}

func newStatusCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status [dataset...]",
		Short: "Show record counts and checkpoint positions",
		Args:  datasetArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			format, _ := cmd.Flags().GetString("format")

			a, closer, err := opts.load()
			if err != nil {
				return err
			}
			defer closer.Close()

			report, err := a.status(cmd.Context(), expand(args))
			if err != nil {
				return err
			}
			out, err := reporter.New().Generate(report, format)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), out)
			return nil
		},
	}
	cmd.Flags().String("format", reporter.FormatTable, "Report format (table, json, markdown)")
	return cmd
}

func newResetCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "reset <dataset>",
		Short: "Clear a dataset's checkpoint so the next crawl starts over",
		Args:  cobra.MatchAll(cobra.ExactArgs(1), datasetArgs),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, closer, err := opts.load()
			if err != nil {
				return err
			}
			defer closer.Close()
			for _, name := range expand(args) {
				if err := a.reset(name); err != nil {
					return err
				}
			}
			return nil
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := newRootCmd().ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}
