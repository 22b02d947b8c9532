// Package migration applies an ordered set of tasks to a database exactly once
// per ledger, serializing concurrent migrators through the ledger lock.
package migration

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/dbmigrate/internal/common"
	"github.com/loykin/dbmigrate/internal/ledger"
	"github.com/loykin/dbmigrate/internal/metrics"
	"github.com/loykin/dbmigrate/internal/store"
	"github.com/loykin/dbmigrate/internal/task"
)

// Migrator owns an in-memory task list and applies it against one ledger.
// A Migrator is not safe for concurrent use; run one per goroutine or process
// and let the ledger lock serialize them.
type Migrator struct {
	ledger      *ledger.Ledger
	dialect     store.Dialect
	tasks       []*task.Task
	known       map[task.Identity]struct{}
	scope       LockScope
	lockTimeout time.Duration
	logger      *common.Logger
	metrics     *metrics.Collector
}

// New binds a migrator to the ledger table in db. An empty table selects the
// default ledger name.
func New(db *sql.DB, table string, dialect store.Dialect, opts ...Option) (*Migrator, error) {
	l, err := ledger.New(db, dialect, table)
	if err != nil {
		return nil, err
	}
	m := &Migrator{
		ledger:  l,
		dialect: dialect,
		known:   map[task.Identity]struct{}{},
		scope:   LockPerTask,
		logger:  common.GetLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.WithComponent("migrator").WithStore(dialect.Name()).WithTable(l.Table())
	l.WithLogger(m.logger)
	return m, nil
}

// Ledger exposes the migrator's ledger for read-only reporting.
func (m *Migrator) Ledger() *ledger.Ledger {
	return m.ledger
}

// CreateLedgerIfRequired creates or upgrades the ledger table. Migrate calls
// it too, so calling it explicitly is only needed to surface setup errors early.
func (m *Migrator) CreateLedgerIfRequired(ctx context.Context) error {
	return m.ledger.EnsureTable(ctx)
}

// AddTask registers t. Tasks may be added in any order.
func (m *Migrator) AddTask(t *task.Task) error {
	if t == nil {
		return fmt.Errorf("%w: nil task", ErrInvalidTask)
	}
	if err := t.ID.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTask, err)
	}
	if _, dup := m.known[t.ID]; dup {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
	}
	m.known[t.ID] = struct{}{}
	m.tasks = append(m.tasks, t)
	return nil
}

// AddTasks registers every task, stopping at the first rejected one.
func (m *Migrator) AddTasks(tasks ...*task.Task) error {
	for _, t := range tasks {
		if err := m.AddTask(t); err != nil {
			return err
		}
	}
	return nil
}

// Tasks returns the registered tasks in execution order.
func (m *Migrator) Tasks() []*task.Task {
	out := make([]*task.Task, len(m.tasks))
	copy(out, m.tasks)
	task.Sort(out)
	return out
}

type outcome int

const (
	outcomeApplied outcome = iota
	outcomeSkipped
	outcomeFailed
	outcomeInvalid
	// the ledger could not be read or written; the run is abandoned
	outcomeAbort
)

// run carries the state of one Migrate invocation.
type run struct {
	m       *Migrator
	res     *Result
	logger  *common.Logger
	sess    *ledger.Session
	pending []*task.Task
}

// Migrate applies every registered task that the ledger does not record as
// succeeded, in ascending identity order. It stops at the first task that
// fails validation or execution.
//
// A failed execution returns a *TaskError and lists the task in
// Result.Failed. A failed validation returns a *ValidationError. Errors
// reading or writing the ledger are returned as is. The returned Result is
// never nil.
func (m *Migrator) Migrate(ctx context.Context) (*Result, error) {
	r := &run{
		m:   m,
		res: &Result{RunID: uuid.NewString(), StartedAt: time.Now()},
	}
	r.logger = m.logger.WithRun(r.res.RunID)

	err := r.execute(ctx)
	r.res.Duration = time.Since(r.res.StartedAt)

	var (
		taskErr  *TaskError
		validErr *ValidationError
	)
	switch {
	case err == nil:
		m.metrics.RecordRun(metrics.StatusOK)
		r.logger.Info("migration finished", "succeeded", len(r.res.Succeeded), "skipped", len(r.res.Skipped), "duration", r.res.Duration)
	case errors.As(err, &taskErr):
		m.metrics.RecordRun(metrics.StatusFailed)
		r.logger.Error("migration stopped by failed task", "task", taskErr.Task.ID.String(), "error", taskErr.Err)
	case errors.As(err, &validErr):
		m.metrics.RecordRun(metrics.StatusInvalid)
		r.logger.Error("migration stopped by invalid task", "task", validErr.Task.ID.String(), "error", validErr.Err)
	default:
		m.metrics.RecordRun(metrics.StatusError)
		r.logger.Error("migration aborted", "error", err)
	}
	return r.res, err
}

func (r *run) execute(ctx context.Context) error {
	m := r.m
	if err := m.CreateLedgerIfRequired(ctx); err != nil {
		return err
	}
	tasks := m.Tasks()
	if len(tasks) == 0 {
		r.logger.Info("no tasks registered")
		return nil
	}
	r.logger.Info("migration started", "tasks", len(tasks), "lock_scope", m.scope.String())
	defer r.abandon()

	for _, t := range tasks {
		if err := ctx.Err(); err != nil {
			if cerr := r.commit(); cerr != nil {
				return cerr
			}
			return fmt.Errorf("migration interrupted before task %s: %w", t.ID, err)
		}
		if r.sess == nil {
			if err := r.lock(ctx, t); err != nil {
				return err
			}
		}

		oc, err := r.apply(ctx, t)
		switch oc {
		case outcomeAbort:
			return err
		case outcomeApplied:
			r.pending = append(r.pending, t)
		case outcomeSkipped:
			r.res.Skipped = append(r.res.Skipped, t)
		case outcomeFailed, outcomeInvalid:
			// the failure row and earlier successes are kept
			if cerr := r.commit(); cerr != nil {
				return cerr
			}
			if oc == outcomeFailed {
				r.res.Failed = append(r.res.Failed, t)
			}
			return err
		}

		if m.scope == LockPerTask {
			if err := r.commit(); err != nil {
				return err
			}
		}
	}
	return r.commit()
}

// lock acquires the ledger lock on behalf of t. A lock wait the database gave
// up on fails t; any other lock error aborts the run.
func (r *run) lock(ctx context.Context, t *task.Task) error {
	sess, err := r.m.ledger.Lock(ctx, r.m.lockTimeout)
	if err != nil {
		if errors.Is(err, ledger.ErrLockTimeout) {
			r.m.metrics.RecordTask(metrics.OutcomeFailed, 0)
			r.res.Failed = append(r.res.Failed, t)
			return &TaskError{Task: t, Err: err}
		}
		return fmt.Errorf("failed to acquire ledger lock: %w", err)
	}
	r.m.metrics.RecordLockWait(sess.Waited())
	r.sess = sess
	return nil
}

// apply runs the check, execute and record steps for t under the held lock.
func (r *run) apply(ctx context.Context, t *task.Task) (outcome, error) {
	m := r.m
	logger := r.logger.WithTask(t.ID.String())
	// Once the lock is held the task runs to completion; only the lock wait
	// and the gaps between tasks observe cancellation.
	bctx := context.WithoutCancel(ctx)
	sess := r.sess

	done, err := sess.HasSucceeded(bctx, t.ID)
	if err != nil {
		return outcomeAbort, err
	}
	if done {
		logger.Debug("task already applied")
		m.metrics.RecordTask(metrics.OutcomeSkipped, 0)
		return outcomeSkipped, nil
	}

	if err := t.Validate(bctx, m.dialect.Name()); err != nil {
		logger.Error("task validation failed", "error", err)
		return outcomeInvalid, &ValidationError{Task: t, Err: err}
	}

	sp, err := sess.Savepoint(bctx)
	if err != nil {
		return outcomeAbort, err
	}
	logger.Info("applying task", "description", t.Description)
	start := time.Now()
	execErr := t.Execute(bctx, sess, m.dialect.Name())
	took := time.Since(start)

	if execErr != nil {
		if err := sess.RollbackTo(bctx, sp); err != nil {
			return outcomeAbort, err
		}
		if err := sess.RecordFailure(bctx, t.ID, t.Description, took, execErr); err != nil {
			return outcomeAbort, err
		}
		logger.Error("task failed", "error", execErr, "duration", took)
		m.metrics.RecordTask(metrics.OutcomeFailed, took)
		return outcomeFailed, &TaskError{Task: t, Duration: took, Err: execErr}
	}

	recorded, err := sess.RecordSuccess(bctx, t.ID, t.Description, took)
	if err != nil {
		return outcomeAbort, err
	}
	if !recorded {
		// Another writer recorded this identity outside the lock; keep its
		// result and drop ours.
		logger.Warn("success already recorded by another migrator, discarding this execution")
		if err := sess.RollbackTo(bctx, sp); err != nil {
			return outcomeAbort, err
		}
		m.metrics.RecordTask(metrics.OutcomeSkipped, 0)
		return outcomeSkipped, nil
	}
	if err := sess.Release(bctx, sp); err != nil {
		return outcomeAbort, err
	}
	logger.Info("task applied", "duration", took)
	m.metrics.RecordTask(metrics.OutcomeSucceeded, took)
	return outcomeApplied, nil
}

// commit publishes the held session and moves pending successes into the
// result. It is a no-op when no lock is held.
func (r *run) commit() error {
	if r.sess == nil {
		return nil
	}
	sess := r.sess
	r.sess = nil
	if err := sess.Commit(); err != nil {
		r.pending = nil
		return err
	}
	r.res.Succeeded = append(r.res.Succeeded, r.pending...)
	r.pending = nil
	return nil
}

// abandon rolls back a session left open by an aborted run.
func (r *run) abandon() {
	if r.sess == nil {
		return
	}
	if err := r.sess.Rollback(); err != nil {
		r.logger.Warn("failed to roll back ledger session", "error", err)
	}
	r.sess = nil
	r.pending = nil
}
