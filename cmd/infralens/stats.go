package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/infralens/infralens/pkg/tracker"
)

func newStatsCmd() *cobra.Command {
	var (
		configPath string
		since      time.Duration
		runs       int
	)

	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show upstream dispatch and run statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, _, err := loadConfig(cmd, configPath)
			if err != nil {
				return err
			}

			tr, err := tracker.New(cfg.DBPath)
			if err != nil {
				return err
			}
			defer tr.Close()

			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			// Recent runs view
			if runs > 0 {
				recs, err := tr.RecentRuns(ctx, runs)
				if err != nil {
					return err
				}
				if len(recs) == 0 {
					fmt.Fprintln(out, "No runs found.")
					return nil
				}
				w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
				fmt.Fprintln(w, "RUN ID\tSTARTED\tSTATE\tCACHE HIT\tFALLBACK\tERROR\tDURATION")
				for _, r := range recs {
					fmt.Fprintf(w, "%s\t%s\t%s\t%t\t%t\t%s\t%s\n",
						r.RunID, r.CreatedAt.Format("2006-01-02T15:04:05"), r.State, r.CacheHit, r.Fallback,
						dashIfEmpty(r.ErrorKind), (time.Duration(r.DurationMs) * time.Millisecond).String())
				}
				return w.Flush()
			}

			// Default: dispatch summary
			summaries, err := tr.Summary(ctx, time.Now().Add(-since))
			if err != nil {
				return err
			}
			if len(summaries) == 0 {
				fmt.Fprintln(out, "No dispatch data found.")
				return nil
			}

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "OPERATION\tOUTCOME\tCOUNT\tAVG LATENCY")
			for _, s := range summaries {
				fmt.Fprintf(w, "%s\t%s\t%d\t%.0fms\n", s.Operation, s.Outcome, s.Count, s.AvgLatencyMs)
			}
			return w.Flush()
		},
	}

	addConfigFlag(cmd, &configPath)
	cmd.Flags().DurationVar(&since, "since", 24*time.Hour, "summarize dispatches newer than this")
	cmd.Flags().IntVar(&runs, "runs", 0, "list the N most recent runs instead of the summary")
	return cmd
}

func dashIfEmpty(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
