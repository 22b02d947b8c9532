package commands

import (
	"github.com/spf13/cobra"

	"github.com/loykin/dbmigrate/internal/constants"
	"github.com/loykin/dbmigrate/internal/status"
	"github.com/loykin/dbmigrate/internal/util"
)

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve ledger status and metrics over HTTP",
	Long: `Serve a read-only view of the ledger for external monitoring:
  GET /healthz   liveness
  GET /status    applied, failed and pending tasks (?strict=true answers 503 while tasks are pending)
  GET /metrics   Prometheus metrics`,
	RunE: func(cmd *cobra.Command, args []string) error {
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
		addr := util.TrimWithDefault(doc.Status.Addr, constants.DefaultStatusAddr)
		return status.NewServer(t.migrator.Ledger(), t.tasks, t.metrics).ListenAndServe(ctx, addr)
	},
}
