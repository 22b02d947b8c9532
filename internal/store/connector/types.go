package connector

import (
	"context"
	"database/sql"
	"time"
)

// Column is a ledger column that can be added to a ledger created by an older
// release. Definition is the type and constraint clause used by ADD COLUMN.
type Column struct {
	Name       string
	Definition string
}

// Dialect hides the SQL differences between supported databases. Table names
// passed in are already validated identifiers.
type Dialect interface {
	// Name returns the canonical driver name ("sqlite", "postgresql").
	Name() string
	Placeholder(index int) string

	CreateTableStatement(table string) string
	// IndexStatement enforces at most one success row per identity.
	IndexStatement(table string) string
	// UpgradeColumns lists the columns a ledger may be missing.
	UpgradeColumns() []Column
	AddColumnStatement(table string, c Column) string
	// ColumnsQuery returns a query yielding one column name per row.
	ColumnsQuery(table string) (string, []any)

	// LockTimeoutStatement bounds the lock wait of the current transaction.
	// An empty string means nothing needs to be executed.
	LockTimeoutStatement(timeout time.Duration) string
	// LockTimeoutQuery reads the lock wait setting in effect, as text, so it can
	// be put back once the ledger lock is held.
	LockTimeoutQuery() string
	// RestoreLockTimeoutStatement puts back a value read by LockTimeoutQuery.
	// An empty string means the value could not be restored.
	RestoreLockTimeoutStatement(previous string) string
	// LockRowStatement acquires the exclusive ledger lock. It must be the first
	// data statement of the transaction and affects exactly one row.
	LockRowStatement(table string) string
	// LockWaitCancelable reports whether cancelling the statement context
	// interrupts a blocked LockRowStatement. When false the ledger waits in
	// bounded slices instead.
	LockWaitCancelable() bool
	InsertIgnore(table string, columns []string) string

	BoolToStorage(b bool) any
	BoolFromStorage(v any) bool
	TimeToStorage(t time.Time) any
	TimeFromStorage(v any) (time.Time, error)

	IsAlreadyExists(err error) bool
	IsDuplicateKey(err error) bool
	IsDuplicateColumn(err error) bool
	// IsLockTimeout reports a lock wait that gave up (busy, lock_timeout).
	IsLockTimeout(err error) bool
	IsDeadlock(err error) bool

	// Connect opens the pool and waits until the database answers.
	Connect(ctx context.Context, config map[string]any) (*sql.DB, error)
	// OpenDB opens the pool without contacting the database.
	OpenDB(config map[string]any) (*sql.DB, error)
}
