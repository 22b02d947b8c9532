package commands

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/loykin/dbmigrate"
	"github.com/loykin/dbmigrate/internal/task"
)

var ValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate task files without touching the database",
	Long: `Validate task files in the tasks directory. This command checks:
- YAML syntax and unknown fields
- release and order are present
- every task has statements for the configured dialect
- no two files share an identity`,
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := LoadConfig()
		if err != nil {
			return err
		}
		sc, err := doc.Store.ToStoreConfig()
		if err != nil {
			return err
		}
		dir := doc.TasksPath()
		out := cmd.OutOrStdout()
		_, _ = fmt.Fprintf(out, "Validating task files in: %s (dialect %s)\n", dir, sc.Driver)

		paths, err := task.ListFiles(dir)
		if err != nil {
			return fmt.Errorf("validation failed: %w", err)
		}
		seen := map[dbmigrate.Identity]string{}
		failures := 0
		for _, p := range paths {
			name := filepath.Base(p)
			if err := validateFile(cmd, p, sc.Driver, seen); err != nil {
				failures++
				_, _ = fmt.Fprintf(out, "  ✗ %s: %v\n", name, err)
				continue
			}
			_, _ = fmt.Fprintf(out, "  ✓ %s\n", name)
		}
		if failures > 0 {
			return fmt.Errorf("validation completed with %d error(s)", failures)
		}
		_, _ = fmt.Fprintf(out, "All %d task file(s) are valid\n", len(paths))
		return nil
	},
}

func validateFile(cmd *cobra.Command, path, dialect string, seen map[dbmigrate.Identity]string) error {
	t, err := task.LoadFile(path)
	if err != nil {
		return err
	}
	if err := t.Validate(commandContext(cmd), dialect); err != nil {
		return err
	}
	if prev, dup := seen[t.ID]; dup {
		return fmt.Errorf("identity %s already used by %s", t.ID, prev)
	}
	seen[t.ID] = filepath.Base(path)
	return nil
}
