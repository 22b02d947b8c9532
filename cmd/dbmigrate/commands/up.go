package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/loykin/dbmigrate/internal/httpc"
	"github.com/loykin/dbmigrate/internal/wait"
)

var UpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply every task the ledger does not record as succeeded",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := commandContext(cmd)
		doc, err := LoadConfig()
		if err != nil {
			return err
		}
		if err := wait.ForHTTP(ctx, httpc.New(doc.Client), doc.Wait); err != nil {
			return err
		}

		t, err := openTarget(ctx, doc, true)
		if err != nil {
			return err
		}
		defer func() { _ = t.Close() }()

		res, err := t.migrator.Migrate(ctx)
		if res != nil {
			_, _ = fmt.Fprintln(cmd.OutOrStdout(), res.Summary())
			for _, tk := range res.Succeeded {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  applied %s\n", tk)
			}
			for _, tk := range res.Failed {
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "  FAILED  %s\n", tk)
			}
		}
		return err
	},
}
