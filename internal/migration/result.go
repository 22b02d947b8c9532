package migration

import (
	"fmt"
	"time"

	"github.com/loykin/dbmigrate/internal/task"
)

// Result describes one Migrate invocation. Succeeded lists tasks whose success
// this invocation committed, in execution order; tasks found already applied
// are in Skipped.
type Result struct {
	RunID     string
	Succeeded []*task.Task
	Failed    []*task.Task
	Skipped   []*task.Task
	StartedAt time.Time
	Duration  time.Duration
}

// OK reports whether no task failed.
func (r *Result) OK() bool {
	return len(r.Failed) == 0
}

func (r *Result) SucceededIDs() []task.Identity { return ids(r.Succeeded) }
func (r *Result) FailedIDs() []task.Identity    { return ids(r.Failed) }
func (r *Result) SkippedIDs() []task.Identity   { return ids(r.Skipped) }

// Summary renders a one-line report.
func (r *Result) Summary() string {
	return fmt.Sprintf("run %s: %d succeeded, %d skipped, %d failed in %s",
		r.RunID, len(r.Succeeded), len(r.Skipped), len(r.Failed), r.Duration.Round(time.Millisecond))
}

func ids(tasks []*task.Task) []task.Identity {
	out := make([]task.Identity, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.ID)
	}
	return out
}
