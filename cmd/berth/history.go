package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/artpar/berth/internal/core/deploy"
	"github.com/artpar/berth/internal/shell/store"
)

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history [service]",
		Short: "List recorded deployment runs",
		Long: `List past deployment runs, most recent first. With a service name,
only that service's runs are shown.

Examples:
  berth history
  berth history myapp
  berth history --limit 50`,
		Args:         cobra.MaximumNArgs(1),
		RunE:         runHistory,
		SilenceUsage: true,
	}

	cmd.Flags().Int("limit", 25, "Number of runs to display")
	cmd.Flags().String("base-dir", "", "Managed services directory holding the run database")

	return cmd
}

func runHistory(cmd *cobra.Command, args []string) error {
	a := appFrom(cmd)

	limit, _ := cmd.Flags().GetInt("limit")
	if limit <= 0 {
		return deploy.NewValidationError("limit", "must be greater than 0", nil)
	}

	baseDir := a.cfg.Deploy.BaseDir
	if v, _ := cmd.Flags().GetString("base-dir"); v != "" {
		baseDir = v
	}

	// A missing database just means nothing has been recorded; don't create
	// one for a read.
	path := a.cfg.HistoryPath(baseDir)
	if _, err := os.Stat(path); err != nil {
		fmt.Fprintln(cmd.OutOrStdout(), "No deployment runs recorded.")
		return nil
	}

	st, err := store.NewSQLiteStore(path)
	if err != nil {
		return err
	}
	defer st.Close()

	opts := store.ListOptions{Limit: limit}
	var runs []store.Run
	if len(args) == 1 {
		runs, err = st.ListRunsByService(cmd.Context(), args[0], opts)
	} else {
		runs, err = st.ListRuns(cmd.Context(), opts)
	}
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No deployment runs recorded.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STARTED\tSERVICE\tKIND\tACCESS\tSTATUS\tATTEMPTS\tDURATION\tERROR")
	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\t%s\t%s\n",
			run.StartedAt.Local().Format("2006-01-02 15:04:05"),
			run.Service,
			run.Kind,
			run.Access,
			run.Status,
			run.Attempts,
			formatRunDuration(run),
			formatRunError(run),
		)
	}
	return w.Flush()
}

// formatRunDuration reports how long a finished run took. Unfinished runs
// show "-".
func formatRunDuration(run store.Run) string {
	if run.FinishedAt == nil {
		return "-"
	}
	d := run.FinishedAt.Sub(run.StartedAt)
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	default:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	}
}

// formatRunError keeps the error column readable; full messages live in the
// database.
func formatRunError(run store.Run) string {
	if run.Error == "" {
		return "-"
	}
	const max = 60
	if len(run.Error) > max {
		return run.Error[:max-3] + "..."
	}
	return run.Error
}
