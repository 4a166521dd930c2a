package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/thiago-r-goveia/exclude-builder/internal/classify"
	"github.com/thiago-r-goveia/exclude-builder/internal/config"
	"github.com/thiago-r-goveia/exclude-builder/internal/ingestion"
	"github.com/thiago-r-goveia/exclude-builder/internal/logging"
	"github.com/thiago-r-goveia/exclude-builder/internal/writer"
)

// options holds the parsed command-line flags.
type options struct {
	envErr error

	outfile   string
	analyst   string
	rulesPath string
	matchPath bool
	reasons   map[string]string
	strict    bool
	workers   int
	verbose   bool

	cfg    *config.Config
	logger *zap.Logger
}

func newRootCmd(envErr error) *cobra.Command {
	opts := &options{envErr: envErr}

	rootCmd := &cobra.Command{
		Use:   "make_exclude [flags] FILE|DIR|GLOB...",
		Short: "Convert exclude files to a single expnum,ccdnum table",
		Long: `Reads exclude lists (bad CCDs, streaks, ghosts, ...) and writes one table
with columns EXPNUM, CCDNUM, REASON and ANALYST.

Files whose name matches a problem pattern list whole exposures as
Nite, Exposure, Problem and are expanded to every detector. Other files need a
header naming at least expnum and ccdnum; their reason comes from the file name.
Patterns are matched against each file's base name only, so a file such as
excludes/streaks/2019.txt gets the default reason unless --match-path is set
(or match_path: true in the rules file), which matches the whole path.

The output format follows the extension of --outfile: .csv, .fits/.fz, .xlsx
or .db/.sqlite.

Example:
  make_exclude y*/*.txt -o delve_exclude_20240101.fits`,
		Args:              cobra.MinimumNArgs(1),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: opts.setup,
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if opts.logger != nil {
				_ = opts.logger.Sync()
			}
		},
		RunE: opts.runBuild,
	}

	rootCmd.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.Flags().StringVarP(&opts.outfile, "outfile", "o", config.DefaultOutfile, "Output table (or set EXCLUDE_OUTFILE)")
	rootCmd.Flags().StringVarP(&opts.analyst, "analyst", "a", config.DefaultAnalyst, "Analyst recorded on every row (or set EXCLUDE_ANALYST)")
	rootCmd.Flags().StringVar(&opts.rulesPath, "rules", "", "YAML or TOML classification rules (or set EXCLUDE_RULES)")
	rootCmd.Flags().BoolVar(&opts.matchPath, "match-path", false, "Match classification patterns against the whole input path")
	rootCmd.Flags().StringToStringVar(&opts.reasons, "reason", nil, "Explicit reason for a file, as path=Reason (repeatable)")
	rootCmd.Flags().BoolVar(&opts.strict, "strict", false, "Fail on rows with unparseable numbers (or set EXCLUDE_STRICT)")
	rootCmd.Flags().IntVarP(&opts.workers, "workers", "j", config.DefaultWorkers, "Files parsed concurrently (or set EXCLUDE_WORKERS)")

	summaryCmd := &cobra.Command{
		Use:   "summary TABLE",
		Short: "Print per-reason counts of an existing exclude table",
		Args:  cobra.ExactArgs(1),
		RunE:  opts.runSummary,
	}
	rootCmd.AddCommand(summaryCmd)

	return rootCmd
}

// setup loads configuration, applies explicitly set flags over it and builds the logger.
func (o *options) setup(cmd *cobra.Command, args []string) error {
	cfg, err := config.New()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("outfile") {
		cfg.Outfile = o.outfile
	}
	if flags.Changed("analyst") {
		cfg.Analyst = o.analyst
	}
	if flags.Changed("rules") {
		cfg.RulesPath = o.rulesPath
	}
	if flags.Changed("strict") {
		cfg.Strict = o.strict
	}
	if flags.Changed("workers") {
		cfg.Workers = o.workers
	}
	if o.verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}

	o.cfg = cfg
	o.logger = logger.With(zap.String("run_id", uuid.NewString()))
	if o.envErr != nil {
		o.logger.Debug("No .env file loaded, using environment", zap.Error(o.envErr))
	}
	return nil
}

func (o *options) buildService(out io.Writer) (*ingestion.ExclusionService, error) {
	rules := classify.DefaultRules()
	if o.cfg.RulesPath != "" {
		loaded, err := classify.LoadRules(o.cfg.RulesPath)
		if err != nil {
			return nil, err
		}
		rules = loaded
	}
	if o.matchPath {
		rules.MatchPath = true
	}

	classifier, err := classify.New(rules, o.reasons)
	if err != nil {
		return nil, err
	}

	fileProcessor := ingestion.NewFileProcessor(classifier, o.logger)
	return ingestion.NewExclusionService(fileProcessor, ingestion.ServiceConfig{
		Outfile: o.cfg.Outfile,
		Analyst: o.cfg.Analyst,
		CCDNums: o.cfg.CCDNums(),
		Strict:  o.cfg.Strict,
		Workers: o.cfg.Workers,
		Writer: writer.Options{
			ReasonWidth:  o.cfg.ReasonWidth,
			AnalystWidth: o.cfg.AnalystWidth,
			Logger:       o.logger,
		},
	}, o.logger, out), nil
}

func (o *options) runBuild(cmd *cobra.Command, args []string) error {
	startTime := time.Now()

	service, err := o.buildService(cmd.OutOrStdout())
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	o.logger.Debug("Starting exclusion table build",
		zap.Strings("inputs", args),
		zap.String("outfile", o.cfg.Outfile),
		zap.String("analyst", o.cfg.Analyst))

	result, err := service.Execute(ctx, args)
	if err != nil {
		return err
	}

	o.logger.Info("Exclusion table written",
		zap.String("outfile", result.Outfile),
		zap.Int("files", result.Files),
		zap.Int("records", result.Records),
		zap.Int("skipped_rows", result.RowErrors),
		zap.Duration("elapsed", time.Since(startTime)))
	return nil
}

func (o *options) runSummary(cmd *cobra.Command, args []string) error {
	records, err := writer.ReadFile(args[0])
	if err != nil {
		return err
	}

	counts := ingestion.Summarize(records)
	return ingestion.PrintSummary(cmd.OutOrStdout(), len(records), counts, o.cfg.ReasonWidth)
}

func main() {
	rootCmd := newRootCmd(godotenv.Load())
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
