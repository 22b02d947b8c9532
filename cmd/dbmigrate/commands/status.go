package commands

import (
	"encoding/json"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/dbmigrate"
)

var StatusCmd = &cobra.Command{
	Use:   "status",
	Short: "List ledger entries and pending tasks",
	RunE: func(cmd *cobra.Command, args []string) error {
		v := viper.GetViper()
		ctx := commandContext(cmd)
		doc, err := LoadConfig()
		if err != nil {
			return err
		}
		t, err := openTarget(ctx, doc, false)
		if err != nil {
			return err
		}
		defer func() { _ = t.Close() }()

		if err := t.migrator.CreateLedgerIfRequired(ctx); err != nil {
			return err
		}
		report, err := dbmigrate.Status(ctx, t.migrator, t.tasks)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if v.GetBool("json") {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(report); err != nil {
				return err
			}
		} else {
			printReport(cmd, report)
		}
		if v.GetBool("check") && !report.UpToDate() {
			return fmt.Errorf("%d task(s) pending", len(report.Pending))
		}
		return nil
	},
}

func printReport(cmd *cobra.Command, r *dbmigrate.StatusReport) {
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Ledger: %s\n\n", r.Table)
	_, _ = fmt.Fprintln(w, "TASK\tSTATUS\tINSTALLED\tDURATION\tDESCRIPTION")
	for _, e := range r.Applied {
		_, _ = fmt.Fprintf(w, "%s\tapplied\t%s\t%s\t%s\n", e.Identity, e.InstalledOn.Format(time.RFC3339), e.Duration, e.Description)
	}
	for _, e := range r.Failures {
		_, _ = fmt.Fprintf(w, "%s\tfailed\t%s\t%s\t%s\n", e.Identity, e.InstalledOn.Format(time.RFC3339), e.Duration, e.Error)
	}
	for _, id := range r.Pending {
		_, _ = fmt.Fprintf(w, "%s\tpending\t-\t-\t\n", id)
	}
	_ = w.Flush()
}
