// Package status reports ledger contents against a task list, as a value for
// the CLI and over HTTP for external monitoring.
package status

import (
	"context"

	"github.com/loykin/dbmigrate/internal/ledger"
	"github.com/loykin/dbmigrate/internal/task"
)

// Report is a read-only view of a ledger. It is taken without the ledger lock,
// so a migrator running concurrently may have moved on by the time it is read.
type Report struct {
	Table    string          `json:"table"`
	Applied  []ledger.Entry  `json:"applied"`
	Failures []ledger.Entry  `json:"failures"`
	Pending  []task.Identity `json:"pending"`
}

// Build reads l and lists which of tasks have not succeeded yet, in execution
// order. tasks may be nil.
func Build(ctx context.Context, l *ledger.Ledger, tasks []*task.Task) (*Report, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return nil, err
	}
	r := &Report{
		Table:    l.Table(),
		Applied:  []ledger.Entry{},
		Failures: []ledger.Entry{},
		Pending:  []task.Identity{},
	}
	done := map[task.Identity]bool{}
	for _, e := range entries {
		if e.Success {
			r.Applied = append(r.Applied, e)
			done[e.Identity] = true
		} else {
			r.Failures = append(r.Failures, e)
		}
	}

	sorted := append([]*task.Task(nil), tasks...)
	task.Sort(sorted)
	for _, t := range sorted {
		if !done[t.ID] {
			r.Pending = append(r.Pending, t.ID)
		}
	}
	return r, nil
}

// UpToDate reports whether every known task has succeeded.
func (r *Report) UpToDate() bool {
	return len(r.Pending) == 0
}
