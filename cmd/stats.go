package cmd

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/tender-watch/internal/app"
	"github.com/JakeFAU/tender-watch/internal/clock/system"
	"github.com/JakeFAU/tender-watch/internal/tender"
)

const timeLayout = "02.01.2006 15:04"

// newStatsCmd prints per-source totals and the last run of each source.
func newStatsCmd(root *rootOptions) *cobra.Command {
	var purpose string
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show stored tenders, pending notifications and last runs per portal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := root.loadConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(purpose) == "" {
				return &app.ConfigError{Err: errors.New("--purpose is required")}
			}
			ctx := cmd.Context()
			st, err := app.OpenStore(ctx, cfg, cfg.Purpose(purpose), zap.NewNop())
			if err != nil {
				return err
			}
			defer st.Close() //nolint:errcheck

			stats, err := st.Stats(ctx)
			if err != nil {
				return err
			}
			runs, err := st.LatestRuns(ctx)
			if err != nil {
				return err
			}
			notes, err := st.RecentNotifications(ctx, 1)
			if err != nil {
				return err
			}
			clock, err := system.NewIn(cfg.General.Timezone)
			if err != nil {
				return &app.ConfigError{Err: err}
			}
			return writeStats(cmd, purpose, clock.Location(), stats, runs, notes)
		},
	}
	cmd.Flags().StringVarP(&purpose, "purpose", "p", "", "purpose name, required")
	return cmd
}

func writeStats(
	cmd *cobra.Command,
	purpose string,
	loc *time.Location,
	stats []tender.SourceStats,
	runs []tender.RunRecord,
	notes []tender.NotificationRecord,
) error {
	bySource := make(map[string]tender.SourceStats, len(stats))
	names := make([]string, 0, len(stats)+len(runs))
	for _, s := range stats {
		bySource[s.Source] = s
		names = append(names, s.Source)
	}
	lastRun := make(map[string]tender.RunRecord, len(runs))
	for _, r := range runs {
		lastRun[r.Source] = r
		if _, ok := bySource[r.Source]; !ok {
			names = append(names, r.Source)
		}
	}
	sort.Strings(names)

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Purpose %s\n", purpose)
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SOURCE\tTOTAL\tPENDING\tNOTIFIED\tLAST SEEN\tLAST RUN\tOUTCOME")
	var total, pending, notified int
	for _, name := range names {
		s := bySource[name]
		total += s.Total
		pending += s.Pending
		notified += s.Notified
		seen := "-"
		if s.LastSeen != nil {
			seen = s.LastSeen.In(loc).Format(timeLayout)
		}
		runAt, outcome := "-", "-"
		if r, ok := lastRun[name]; ok {
			runAt = r.StartTime.In(loc).Format(timeLayout)
			outcome = string(r.Outcome)
			if r.ErrorDetail != "" {
				outcome += ": " + oneLine(r.ErrorDetail)
			}
		}
		fmt.Fprintf(tw, "%s\t%d\t%d\t%d\t%s\t%s\t%s\n", name, s.Total, s.Pending, s.Notified, seen, runAt, outcome)
	}
	fmt.Fprintf(tw, "total\t%d\t%d\t%d\t\t\t\n", total, pending, notified)
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("write stats: %w", err)
	}
	if len(notes) > 0 {
		n := notes[0]
		fmt.Fprintf(out, "Last digest: %s %s, %d tenders to %s\n",
			n.SentAt.In(loc).Format(timeLayout), n.Outcome, n.IncludedCount, n.RecipientSet)
	}
	return nil
}

// oneLine keeps the first line of msg, capped for table output.
func oneLine(msg string) string {
	const maxLen = 80
	msg, _, _ = strings.Cut(msg, "\n")
	if len(msg) > maxLen {
		msg = msg[:maxLen] + "..."
	}
	return msg
}
