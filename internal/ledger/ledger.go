// Package ledger persists which tasks have succeeded in a table inside the
// migrated database. The table doubles as the migrators' mutual exclusion
// device: a reserved lock row (id 0) is locked before any ledger read that
// guards a task execution.
package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/loykin/dbmigrate/internal/common"
	"github.com/loykin/dbmigrate/internal/constants"
	"github.com/loykin/dbmigrate/internal/retry"
	"github.com/loykin/dbmigrate/internal/store"
	"github.com/loykin/dbmigrate/internal/store/connector"
	"github.com/loykin/dbmigrate/internal/task"
)

// maxErrorText bounds error_text; driver errors can embed whole statements.
const maxErrorText = 4000

// ErrNotLedger is returned when the configured table exists but lacks the
// identity columns.
var ErrNotLedger = errors.New("table is not a migration ledger")

// Entry is one ledger row.
type Entry struct {
	ID          int64         `json:"id"`
	Identity    task.Identity `json:"identity"`
	Description string        `json:"description"`
	InstalledOn time.Time     `json:"installed_on"`
	Duration    time.Duration `json:"duration"`
	Success     bool          `json:"success"`
	Error       string        `json:"error,omitempty"`
}

type Ledger struct {
	db      *sql.DB
	dialect store.Dialect
	table   string
	logger  *common.Logger
	now     func() time.Time
}

// New binds a ledger to table. The table name must be a plain or schema
// qualified identifier.
func New(db *sql.DB, dialect store.Dialect, table string) (*Ledger, error) {
	if db == nil {
		return nil, errors.New("ledger: nil database handle")
	}
	if dialect == nil {
		return nil, errors.New("ledger: nil dialect")
	}
	table = strings.TrimSpace(table)
	if table == "" {
		table = constants.DefaultLedgerTable
	}
	if err := connector.ValidateTable(table); err != nil {
		return nil, err
	}
	return &Ledger{
		db:      db,
		dialect: dialect,
		table:   table,
		logger:  common.GetLogger().WithComponent("ledger").WithStore(dialect.Name()).WithTable(table),
		now:     time.Now,
	}, nil
}

// WithLogger replaces the ledger's logger.
func (l *Ledger) WithLogger(logger *common.Logger) *Ledger {
	if logger != nil {
		l.logger = logger.WithComponent("ledger").WithTable(l.table)
	}
	return l
}

func (l *Ledger) Table() string {
	return l.table
}

func (l *Ledger) Dialect() store.Dialect {
	return l.dialect
}

func (l *Ledger) ddlRetry() *retry.Config {
	rc := retry.DefaultRetryConfig()
	rc.Retryable = func(err error) bool {
		return l.dialect.IsLockTimeout(err) || l.dialect.IsDeadlock(err)
	}
	rc.Logger = l.logger
	return rc
}

// EnsureTable creates the ledger when absent, adds columns missing from
// ledgers written by older releases and inserts the lock row. It is safe to
// call concurrently from several processes.
func (l *Ledger) EnsureTable(ctx context.Context) error {
	l.logger.Debug("ensuring ledger table")
	err := retry.WithRetry(ctx, l.ddlRetry(), func() error {
		return l.ensureOnce(ctx)
	})
	if err != nil {
		l.logger.Error("failed to ensure ledger table", "error", err)
		return fmt.Errorf("failed to ensure ledger table %s: %w", l.table, err)
	}
	return nil
}

func (l *Ledger) ensureOnce(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, l.dialect.CreateTableStatement(l.table)); err != nil && !l.dialect.IsAlreadyExists(err) {
		return fmt.Errorf("create table: %w", err)
	}
	if err := l.upgradeColumns(ctx); err != nil {
		return err
	}
	if _, err := l.db.ExecContext(ctx, l.dialect.IndexStatement(l.table)); err != nil && !l.dialect.IsAlreadyExists(err) {
		return fmt.Errorf("create success index: %w", err)
	}

	// Only write when the lock row is missing: a write here would queue behind a
	// migrator that currently holds the lock.
	var present int
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE id = %d", l.table, constants.LockRowID)
	if err := l.db.QueryRowContext(ctx, q).Scan(&present); err != nil {
		return fmt.Errorf("check lock row: %w", err)
	}
	if present > 0 {
		return nil
	}
	d := l.dialect
	cols := []string{"id", "release_id", "order_id", "description", "installed_on", "execution_ms", "success"}
	if _, err := l.db.ExecContext(ctx, d.InsertIgnore(l.table, cols),
		constants.LockRowID, "", "", constants.LockRowDescription,
		d.TimeToStorage(l.now()), 0, d.BoolToStorage(false),
	); err != nil && !d.IsDuplicateKey(err) {
		return fmt.Errorf("insert lock row: %w", err)
	}
	return nil
}

func (l *Ledger) columns(ctx context.Context) (map[string]bool, error) {
	query, args := l.dialect.ColumnsQuery(l.table)
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list columns: %w", err)
	}
	defer func() { _ = rows.Close() }()
	have := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		have[strings.ToLower(name)] = true
	}
	return have, rows.Err()
}

func (l *Ledger) upgradeColumns(ctx context.Context) error {
	have, err := l.columns(ctx)
	if err != nil {
		return err
	}
	for _, required := range []string{"id", "release_id", "order_id"} {
		if !have[required] {
			return fmt.Errorf("%w: %s has no %s column", ErrNotLedger, l.table, required)
		}
	}
	for _, c := range l.dialect.UpgradeColumns() {
		if have[c.Name] {
			continue
		}
		l.logger.Info("adding ledger column", "column", c.Name)
		if _, err := l.db.ExecContext(ctx, l.dialect.AddColumnStatement(l.table, c)); err != nil && !l.dialect.IsDuplicateColumn(err) {
			return fmt.Errorf("add column %s: %w", c.Name, err)
		}
	}
	return nil
}

const entryColumns = "id, release_id, order_id, description, installed_on, execution_ms, success, error_text"

// Entries returns every task row ordered by id. It does not take the lock:
// rows are append-only for migrators, so an unlocked read is always a
// consistent prefix.
func (l *Ledger) Entries(ctx context.Context) ([]Entry, error) {
	q := fmt.Sprintf("SELECT %s FROM %s WHERE id <> %d ORDER BY id", entryColumns, l.table, constants.LockRowID)
	rows, err := l.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries: %w", err)
	}
	defer func() { _ = rows.Close() }()
	var out []Entry
	for rows.Next() {
		e, err := l.scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// Succeeded returns the success row of every completed identity.
func (l *Ledger) Succeeded(ctx context.Context) (map[task.Identity]Entry, error) {
	entries, err := l.Entries(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[task.Identity]Entry, len(entries))
	for _, e := range entries {
		if e.Success {
			out[e.Identity] = e
		}
	}
	return out, nil
}

func (l *Ledger) scanEntry(rows *sql.Rows) (Entry, error) {
	var (
		e           Entry
		desc        sql.NullString
		installedOn any
		execMS      sql.NullInt64
		success     any
		errText     sql.NullString
	)
	if err := rows.Scan(&e.ID, &e.Identity.Release, &e.Identity.Order, &desc, &installedOn, &execMS, &success, &errText); err != nil {
		return Entry{}, fmt.Errorf("failed to scan ledger entry: %w", err)
	}
	ts, err := l.dialect.TimeFromStorage(installedOn)
	if err != nil {
		return Entry{}, err
	}
	e.Description = desc.String
	e.InstalledOn = ts
	e.Duration = time.Duration(execMS.Int64) * time.Millisecond
	e.Success = l.dialect.BoolFromStorage(success)
	e.Error = errText.String
	return e, nil
}

// PurgeFailures deletes failed attempts recorded before cutoff. Success rows
// and the lock row are never removed. The delete runs under the ledger lock
// so it never races a migrator's bookkeeping.
func (l *Ledger) PurgeFailures(ctx context.Context, cutoff time.Time) (int64, error) {
	sess, err := l.Lock(ctx, 0)
	if err != nil {
		return 0, err
	}
	defer func() { _ = sess.Rollback() }()

	d := l.dialect
	q := fmt.Sprintf("DELETE FROM %s WHERE id <> %d AND success = %s AND installed_on < %s",
		l.table, constants.LockRowID, d.Placeholder(1), d.Placeholder(2))
	res, err := sess.tx.ExecContext(ctx, q, d.BoolToStorage(false), d.TimeToStorage(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to purge ledger failures: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if err := sess.Commit(); err != nil {
		return 0, err
	}
	l.logger.Info("purged failed ledger entries", "deleted", n, "cutoff", cutoff.UTC().Format(time.RFC3339))
	return n, nil
}

func truncateError(err error) any {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if len(msg) > maxErrorText {
		msg = msg[:maxErrorText]
	}
	return msg
}
