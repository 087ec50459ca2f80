package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tender-watch/internal/app"
	"github.com/JakeFAU/tender-watch/internal/logging"
)

type runOptions struct {
	purpose   string
	sources   []string
	skipEmail bool
	dryRun    bool
	verbose   bool
}

// newRunCmd creates the 'run' subcommand: one full scrape, store and
// notify cycle for a purpose.
func newRunCmd(root *rootOptions) *cobra.Command {
	opts := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Scrape all enabled portals once and mail the digest",
		Long: `Runs every enabled portal under the supervisor, stores matching
listings in the purpose's database and mails everything not yet delivered.
Portal failures are reported in the digest and do not fail the run.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRun(cmd, root, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.purpose, "purpose", "p", "", "purpose name, required (selects Suchbegriffe_<P>.txt, EMail_<P>.yaml, tenders_<P>.db)")
	cmd.Flags().StringSliceVar(&opts.sources, "sources", nil, "comma separated sources, replaces sources.enabled")
	cmd.Flags().BoolVar(&opts.skipEmail, "skip-email", false, "scrape and store but do not send the digest")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "in-memory store, log delivery, no pacing")
	cmd.Flags().BoolVarP(&opts.verbose, "verbose", "v", false, "debug logging on the console")
	return cmd
}

func runRun(cmd *cobra.Command, root *rootOptions, opts *runOptions) error {
	cfg, err := root.loadConfig()
	if err != nil {
		return err
	}
	purpose := strings.TrimSpace(opts.purpose)
	if purpose == "" {
		return &app.ConfigError{Err: errors.New("--purpose is required")}
	}

	level := cfg.Logging.Level
	if opts.verbose {
		level = "debug"
	}
	logger, closeLog, err := logging.NewForPurpose(logging.Options{
		Development: cfg.Logging.Development,
		Level:       level,
		File:        cfg.Purpose(purpose).LogFile,
		MaxSizeMB:   cfg.Logging.MaxSizeMB,
		MaxBackups:  cfg.Logging.MaxBackups,
	}, purpose)
	if err != nil {
		return &app.ConfigError{Err: fmt.Errorf("logger: %w", err)}
	}
	defer func() {
		if cerr := closeLog(); cerr != nil {
			fmt.Fprintln(cmd.ErrOrStderr(), "close log:", cerr)
		}
	}()

	ctx := cmd.Context()
	a, err := app.New(ctx, cfg, app.Options{
		Purpose:   purpose,
		Sources:   opts.sources,
		SkipEmail: opts.skipEmail,
		DryRun:    opts.dryRun,
		Version:   version,
	}, logger)
	if err != nil {
		logger.Error("startup failed", zap.Error(err))
		return err
	}
	defer a.Close()

	sum, err := a.Run(ctx)
	if err != nil {
		logger.Error("run failed", zap.String("run_id", sum.RunID), zap.Error(err))
		return err
	}

	report := sum.Report
	fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d/%d sources ok, %d found, %d new, %d pending\n",
		sum.RunID, report.Succeeded(), len(report.Runs), report.Found(), len(report.Inserted), sum.Pending)
	if d := sum.Digest; d != nil {
		switch {
		case d.Skipped:
			fmt.Fprintln(cmd.OutOrStdout(), "digest: nothing new, not sent")
		case d.Delivered():
			fmt.Fprintf(cmd.OutOrStdout(), "digest: sent %q with %d tenders\n", d.Subject, len(d.Selection.Records))
		default:
			fmt.Fprintf(cmd.OutOrStdout(), "digest: delivery failed: %v\n", d.DeliveryErr)
		}
	}
	return nil
}
