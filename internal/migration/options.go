package migration

import (
	"fmt"
	"strings"
	"time"

	"github.com/loykin/dbmigrate/internal/common"
	"github.com/loykin/dbmigrate/internal/metrics"
)

// LockScope decides how long the ledger lock is held.
type LockScope int

const (
	// LockPerTask takes the lock around each check, execute and record step.
	// Every success is durable as soon as its task finishes.
	LockPerTask LockScope = iota
	// LockPerRun holds one lock for the whole run. Successes become durable
	// together at the end of the run (or when a task fails).
	LockPerRun
)

func (s LockScope) String() string {
	switch s {
	case LockPerTask:
		return "task"
	case LockPerRun:
		return "run"
	default:
		return fmt.Sprintf("LockScope(%d)", int(s))
	}
}

// ParseLockScope accepts "task" or "run"; empty means LockPerTask.
func ParseLockScope(s string) (LockScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "task", "per-task", "per_task":
		return LockPerTask, nil
	case "run", "per-run", "per_run":
		return LockPerRun, nil
	default:
		return LockPerTask, fmt.Errorf("unknown lock scope %q", s)
	}
}

// Option configures a Migrator.
type Option func(*Migrator)

func WithLockScope(scope LockScope) Option {
	return func(m *Migrator) { m.scope = scope }
}

// WithLockTimeout makes a lock wait longer than d fail the task being attempted.
// Zero waits until the context is done. The bound covers the ledger lock only;
// task statements wait on other locks as the database is configured to.
func WithLockTimeout(d time.Duration) Option {
	return func(m *Migrator) {
		if d > 0 {
			m.lockTimeout = d
		}
	}
}

func WithLogger(logger *common.Logger) Option {
	return func(m *Migrator) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithMetrics records run and task outcomes on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(m *Migrator) { m.metrics = c }
}
