package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/tender-watch/internal/app"
	"github.com/JakeFAU/tender-watch/internal/config"
)

// newPurposesCmd lists the purposes found in general.config_dir and whether
// each has the files a run needs.
func newPurposesCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "purposes",
		Short: "List configured purposes and validate their files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			names, err := config.DiscoverPurposes(cfg.General.ConfigDir)
			if err != nil {
				return &app.ConfigError{Err: err}
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintf(out, "no purposes in %s (expected Suchbegriffe_<P>.txt)\n", cfg.General.ConfigDir)
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "PURPOSE\tSTATUS\tDATABASE")
			for _, name := range names {
				p := cfg.Purpose(name)
				status := "ok"
				if verr := p.Validate(true); verr != nil {
					status = "invalid: " + oneLine(verr.Error())
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", name, status, p.DatabasePath)
			}
			return tw.Flush()
		},
	}
}
