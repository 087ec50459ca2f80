// Package cmd defines and implements the CLI commands for the tenderwatch executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tender-watch/internal/app"
	"github.com/JakeFAU/tender-watch/internal/config"
	"github.com/JakeFAU/tender-watch/internal/store"
	"github.com/JakeFAU/tender-watch/internal/tender"
)

// Process exit codes.
const (
	ExitOK      = 0
	ExitFailure = 1
	ExitConfig  = 2
	ExitStore   = 3
)

// version is overridden at build time via -ldflags "-X".
var version = "dev"

type rootOptions struct {
	cfgFile string
}

// newRootCmd creates the root command and attaches every subcommand.
func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "tenderwatch",
		Short: "Watches public procurement portals for tenders matching keyword lists.",
		Long: `tenderwatch scrapes a fixed set of procurement portals, keeps the
listings matching a purpose's keyword list, stores them deduplicated and
mails a digest of everything not yet delivered.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Version:       version,
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (yaml); env TENDERWATCH_* overrides")

	cmd.AddCommand(
		newRunCmd(opts),
		newPurposesCmd(opts),
		newStatsCmd(opts),
		newServeCmd(opts),
	)
	return cmd
}

// loadConfig reads and validates the config file named by --config.
func (o *rootOptions) loadConfig() (config.Config, error) {
	cfg, err := config.Load(o.cfgFile)
	if err != nil {
		return config.Config{}, &app.ConfigError{Err: err}
	}
	return cfg, nil
}

// Execute runs the CLI and returns the process exit code.
func Execute() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx, os.Args[1:], os.Stdout, os.Stderr)
}

func execute(ctx context.Context, args []string, out, errOut io.Writer) int {
	root := newRootCmd(out)
	root.SetErr(errOut)
	root.SetArgs(args)
	err := root.ExecuteContext(ctx)
	if err != nil {
		fmt.Fprintln(errOut, "tenderwatch:", err)
	}
	return exitCode(err)
}

// exitCode maps an error onto the documented exit codes.
func exitCode(err error) int {
	var cfgErr *app.ConfigError
	switch {
	case err == nil:
		return ExitOK
	case errors.As(err, &cfgErr):
		return ExitConfig
	case errors.Is(err, store.ErrRunInProgress), tender.IsStoreError(err):
		return ExitStore
	default:
		return ExitFailure
	}
}
