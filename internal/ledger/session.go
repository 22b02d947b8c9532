package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/dbmigrate/internal/retry"
	"github.com/loykin/dbmigrate/internal/task"
)

// lockPollSlice bounds a single lock wait on databases whose lock wait ignores
// cancellation.
const lockPollSlice = 500 * time.Millisecond

var (
	// ErrLockTimeout wraps a lock wait the database gave up on.
	ErrLockTimeout = errors.New("timed out waiting for ledger lock")
	// ErrLockRowMissing means the lock row was deleted; EnsureTable restores it.
	ErrLockRowMissing = errors.New("ledger lock row missing")
	// ErrSessionClosed is returned by a Session after Commit or Rollback.
	ErrSessionClosed = errors.New("ledger session closed")
)

// Session is a transaction holding the ledger lock. Every ledger read and
// write that guards a task execution goes through it, and task bodies run on
// it too, so commit atomically releases the lock and publishes both.
type Session struct {
	ledger *Ledger
	tx     *sql.Tx
	waited time.Duration
	seq    int
	closed bool
}

var _ task.Execer = (*Session)(nil)

// Lock begins a transaction and blocks until the ledger lock is held. ctx
// bounds the wait; timeout, when positive, asks the database to give up
// sooner. A database side timeout is reported as ErrLockTimeout.
func (l *Ledger) Lock(ctx context.Context, timeout time.Duration) (*Session, error) {
	start := time.Now()
	rc := retry.LockAcquireConfig()
	rc.Retryable = l.dialect.IsDeadlock
	rc.Logger = l.logger

	acquire := func() (*Session, error) { return l.lockOnce(ctx, timeout) }
	if !l.dialect.LockWaitCancelable() {
		acquire = func() (*Session, error) { return l.pollLock(ctx, timeout) }
	}
	sess, err := retry.Do(ctx, rc, acquire)
	if err != nil {
		return nil, err
	}
	sess.waited = time.Since(start)
	l.logger.Debug("ledger lock acquired", "waited", sess.waited)
	return sess, nil
}

// pollLock waits in slices of at most lockPollSlice so ctx is observed between
// attempts. timeout <= 0 polls until ctx is done.
func (l *Ledger) pollLock(ctx context.Context, timeout time.Duration) (*Session, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	for attempt := 1; ; attempt++ {
		slice := lockPollSlice
		if !deadline.IsZero() {
			if remaining := time.Until(deadline); remaining < slice {
				slice = max(remaining, time.Millisecond)
			}
		}
		sess, err := l.lockOnce(ctx, slice)
		if err == nil {
			return sess, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("waiting for ledger lock: %w", ctxErr)
		}
		if !errors.Is(err, ErrLockTimeout) {
			return nil, err
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return nil, err
		}
		if attempt%10 == 0 {
			l.logger.Info("still waiting for ledger lock", "attempts", attempt)
		}
	}
}

func (l *Ledger) lockOnce(ctx context.Context, timeout time.Duration) (*Session, error) {
	// The transaction outlives ctx: once the lock is held, cancelling the caller
	// must not roll back a task body that is already running.
	bctx := context.WithoutCancel(ctx)
	tx, err := l.db.BeginTx(bctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin ledger transaction: %w", err)
	}
	var restore string
	fail := func(err error) (*Session, error) {
		if restore != "" {
			_, _ = tx.ExecContext(bctx, restore)
		}
		_ = tx.Rollback()
		if l.dialect.IsLockTimeout(err) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w: %w", ErrLockTimeout, err)
		}
		return nil, err
	}

	// The lock wait bound applies to the lock row only; task statements run
	// with the setting that was in effect before.
	if stmt := l.dialect.LockTimeoutStatement(timeout); stmt != "" {
		var previous string
		if err := tx.QueryRowContext(ctx, l.dialect.LockTimeoutQuery()).Scan(&previous); err != nil {
			return fail(fmt.Errorf("failed to read lock timeout: %w", err))
		}
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return fail(fmt.Errorf("failed to set lock timeout: %w", err))
		}
		restore = l.dialect.RestoreLockTimeoutStatement(previous)
	}
	res, err := tx.ExecContext(ctx, l.dialect.LockRowStatement(l.table))
	if err != nil {
		return fail(fmt.Errorf("failed to lock ledger %s: %w", l.table, err))
	}
	if n, err := res.RowsAffected(); err == nil && n != 1 {
		return fail(fmt.Errorf("%w in %s", ErrLockRowMissing, l.table))
	}
	if restore != "" {
		if _, err := tx.ExecContext(bctx, restore); err != nil {
			restore = ""
			return fail(fmt.Errorf("failed to restore lock timeout: %w", err))
		}
	}
	return &Session{ledger: l, tx: tx}, nil
}

// Waited is how long Lock blocked before the lock was granted.
func (s *Session) Waited() time.Duration {
	return s.waited
}

func (s *Session) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.tx.ExecContext(ctx, query, args...)
}

func (s *Session) QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.tx.QueryContext(ctx, query, args...)
}

func (s *Session) QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row {
	return s.tx.QueryRowContext(ctx, query, args...)
}

// HasSucceeded reports whether a success row exists for id.
func (s *Session) HasSucceeded(ctx context.Context, id task.Identity) (bool, error) {
	if s.closed {
		return false, ErrSessionClosed
	}
	d := s.ledger.dialect
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE release_id = %s AND order_id = %s AND success = %s",
		s.ledger.table, d.Placeholder(1), d.Placeholder(2), d.Placeholder(3))
	var n int64
	if err := s.tx.QueryRowContext(ctx, q, id.Release, id.Order, d.BoolToStorage(true)).Scan(&n); err != nil {
		return false, fmt.Errorf("failed to read ledger for %s: %w", id, err)
	}
	return n > 0, nil
}

// RecordSuccess appends a success row. recorded is false when a success row
// for id already exists; that is not an error.
func (s *Session) RecordSuccess(ctx context.Context, id task.Identity, description string, took time.Duration) (recorded bool, err error) {
	if s.closed {
		return false, ErrSessionClosed
	}
	l := s.ledger
	d := l.dialect
	cols := []string{"release_id", "order_id", "description", "installed_on", "execution_ms", "success"}
	res, err := s.tx.ExecContext(ctx, d.InsertIgnore(l.table, cols),
		id.Release, id.Order, description, d.TimeToStorage(l.now()), took.Milliseconds(), d.BoolToStorage(true))
	if err != nil {
		if d.IsDuplicateKey(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to record success of %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// RecordFailure appends a failed attempt. Failure rows never block a retry.
func (s *Session) RecordFailure(ctx context.Context, id task.Identity, description string, took time.Duration, cause error) error {
	if s.closed {
		return ErrSessionClosed
	}
	l := s.ledger
	d := l.dialect
	q := fmt.Sprintf("INSERT INTO %s (release_id, order_id, description, installed_on, execution_ms, success, error_text) VALUES (%s, %s, %s, %s, %s, %s, %s)",
		l.table, d.Placeholder(1), d.Placeholder(2), d.Placeholder(3), d.Placeholder(4), d.Placeholder(5), d.Placeholder(6), d.Placeholder(7))
	if _, err := s.tx.ExecContext(ctx, q,
		id.Release, id.Order, description, d.TimeToStorage(l.now()), took.Milliseconds(), d.BoolToStorage(false), truncateError(cause),
	); err != nil {
		return fmt.Errorf("failed to record failure of %s: %w", id, err)
	}
	return nil
}

// Savepoint marks a point the session can roll back to without losing the lock.
func (s *Session) Savepoint(ctx context.Context) (string, error) {
	if s.closed {
		return "", ErrSessionClosed
	}
	s.seq++
	name := fmt.Sprintf("dbmigrate_task_%d", s.seq)
	if _, err := s.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return "", fmt.Errorf("failed to create savepoint: %w", err)
	}
	return name, nil
}

// RollbackTo undoes everything after the savepoint and releases it.
func (s *Session) RollbackTo(ctx context.Context, name string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if _, err := s.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to roll back to savepoint: %w", err)
	}
	return s.Release(ctx, name)
}

// Release keeps the work done since the savepoint.
func (s *Session) Release(ctx context.Context, name string) error {
	if s.closed {
		return ErrSessionClosed
	}
	if _, err := s.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return fmt.Errorf("failed to release savepoint: %w", err)
	}
	return nil
}

// Commit publishes the session's work and releases the lock.
func (s *Session) Commit() error {
	if s.closed {
		return ErrSessionClosed
	}
	s.closed = true
	if err := s.tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit ledger transaction: %w", err)
	}
	return nil
}

// Rollback discards the session's work and releases the lock. It is a no-op
// after Commit.
func (s *Session) Rollback() error {
	if s.closed {
		return nil
	}
	s.closed = true
	if err := s.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}
