package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/alvmarrod/retrospect/internal/config"
	"github.com/alvmarrod/retrospect/internal/pipeline"
	"github.com/alvmarrod/retrospect/internal/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

type rootOptions struct {
	configPath   string
	targetURL    string
	userAgent    string
	yearsAgo     int
	daysInterval int
	search       bool
	extensions   []string
	matchType    string
	mode         string
	outputDir    string
	raw          bool
	registry     string
	verbose      bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "retrospect",
		Short: "Harvest archived snapshots of a site into a text corpus",
		Long: `Queries the Wayback Machine for the captures of a site over a time window,
stores each distinct capture once and extracts the text of every HTML capture
into a single corpus file per domain.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd.Flags(), opts)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg)
		},
	}

	bindFlags(cmd.Flags(), opts)
	cmd.AddCommand(newVersionCmd())
	return cmd
}

func bindFlags(f *pflag.FlagSet, opts *rootOptions) {
	f.StringVarP(&opts.configPath, "config", "c", "", "path to a JSON config file")
	f.StringVarP(&opts.targetURL, "url", "u", "", "target URL to harvest")
	f.StringVar(&opts.userAgent, "user-agent", "", "User-Agent sent with every request")
	f.IntVar(&opts.yearsAgo, "years-ago", 0, "start the window this many years back")
	f.IntVar(&opts.daysInterval, "days-interval", 0, "length of the window in days")
	f.BoolVar(&opts.search, "search", false, "also search the window for document files")
	f.StringSliceVar(&opts.extensions, "extensions", nil, "file extensions for the search pass (implies --search)")
	f.StringVar(&opts.matchType, "match-type", "", "search scope: domain or exact")
	f.StringVar(&opts.mode, "mode", "", "extraction mode: detailed or basic")
	f.StringVarP(&opts.outputDir, "output-dir", "o", "", "root directory for per-domain storage")
	f.BoolVar(&opts.raw, "raw", false, "download original capture bytes without archive rewriting")
	f.StringVar(&opts.registry, "registry", "", "artifact registry backend: sqlite or memory")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "enable debug logging")
}

// loadConfig reads the config file and applies the flags that were set explicitly
func loadConfig(flags *pflag.FlagSet, opts *rootOptions) (*config.Config, error) {
	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return nil, err
	}

	if flags.Changed("url") {
		cfg.TargetURL = opts.targetURL
	}
	if flags.Changed("user-agent") {
		cfg.UserAgent = opts.userAgent
	}
	if flags.Changed("years-ago") {
		cfg.YearsAgo = opts.yearsAgo
	}
	if flags.Changed("days-interval") {
		cfg.DaysInterval = opts.daysInterval
	}
	if flags.Changed("search") {
		cfg.SearchEnabled = opts.search
	}
	if flags.Changed("extensions") {
		cfg.Extensions = opts.extensions
		cfg.SearchEnabled = true
	}
	if flags.Changed("match-type") {
		cfg.MatchType = opts.matchType
	}
	if flags.Changed("mode") {
		cfg.ExtractMode = opts.mode
	}
	if flags.Changed("output-dir") {
		cfg.OutputDir = opts.outputDir
	}
	if flags.Changed("raw") {
		cfg.RawContent = opts.raw
	}
	if flags.Changed("registry") {
		cfg.Registry = opts.registry
	}
	if opts.verbose {
		cfg.LogLevel = logrus.DebugLevel.String()
	}

	return cfg, nil
}

func run(ctx context.Context, cfg *config.Config) error {
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logrus.SetLevel(level)
	}

	logrus.Infof("Retrospect v%s starting...", version.Version)

	driver, err := pipeline.New(cfg, logrus.StandardLogger())
	if err != nil {
		return err
	}

	logrus.Infof("Configuration loaded: target=%s, years_ago=%d, days_interval=%d, search=%t",
		cfg.TargetURL, cfg.YearsAgo, cfg.DaysInterval, cfg.SearchEnabled)

	// Cancel the run on SIGINT/SIGTERM
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := driver.Run(ctx)
	if errors.Is(err, context.Canceled) {
		logrus.Warn("Run interrupted, artifacts stored so far are kept")
		return err
	}
	if err != nil {
		return err
	}

	if report.Harvest.SearchErr != nil {
		logrus.Warnf("Extension search did not complete: %v", report.Harvest.SearchErr)
	}
	if report.NothingProcessed {
		logrus.Warn("No snapshots were processed, corpus not written")
		return nil
	}

	logrus.Infof("Corpus ready: %s (%d documents, %d captures fetched, avg fetch %dms)",
		report.CorpusPath, report.Documents, report.Metrics.ArtifactsFetched, report.Metrics.AvgFetchTimeMs)
	return nil
}
