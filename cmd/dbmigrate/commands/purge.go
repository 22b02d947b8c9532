package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/dbmigrate/internal/util"
)

var PurgeCmd = &cobra.Command{
	Use:   "purge",
	Short: "Delete failed attempts older than the retention period",
	Long: `Delete ledger rows of failed attempts recorded before now minus the
retention period (migrate.failure_retention, default 720h). Success rows are
never deleted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		doc, err := LoadConfig()
		if err != nil {
			return err
		}
		retention := util.ParseDurationDefault(viper.GetString("older_than"), doc.FailureRetention())
		t, err := openTarget(ctx, doc, false)
		if err != nil {
			return err
		}
		defer func() { _ = t.Close() }()

		if err := t.migrator.CreateLedgerIfRequired(ctx); err != nil {
			return err
		}
		cutoff := time.Now().Add(-retention)
		n, err := t.migrator.Ledger().PurgeFailures(ctx, cutoff)
		if err != nil {
			return err
		}
		_, _ = fmt.Fprintf(cmd.OutOrStdout(), "purged %d failed attempt(s) recorded before %s\n", n, cutoff.UTC().Format(time.RFC3339))
		return nil
	},
}
