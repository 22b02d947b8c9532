// Package dbmigrate applies forward-only schema changes to a relational
// database. Each change (a task) runs at most once per ledger, and any number
// of migrators may run concurrently against the same database: the ledger
// table inside that database serializes them.
package dbmigrate

import (
	"context"
	"database/sql"

	"github.com/loykin/dbmigrate/internal/common"
	"github.com/loykin/dbmigrate/internal/ledger"
	"github.com/loykin/dbmigrate/internal/metrics"
	imig "github.com/loykin/dbmigrate/internal/migration"
	"github.com/loykin/dbmigrate/internal/status"
	"github.com/loykin/dbmigrate/internal/store"
	"github.com/loykin/dbmigrate/internal/store/postgresql"
	"github.com/loykin/dbmigrate/internal/store/sqlite"
	"github.com/loykin/dbmigrate/internal/task"
)

// Re-export commonly used types for public API

type (
	Task         = task.Task
	Identity     = task.Identity
	Execer       = task.Execer
	ExecFunc     = task.ExecFunc
	ValidateFunc = task.ValidateFunc

	Migrator        = imig.Migrator
	Option          = imig.Option
	LockScope       = imig.LockScope
	Result          = imig.Result
	TaskError       = imig.TaskError
	ValidationError = imig.ValidationError

	Ledger       = ledger.Ledger
	LedgerEntry  = ledger.Entry
	StatusReport = status.Report
	Metrics      = metrics.Collector

	Dialect        = store.Dialect
	StoreConfig    = store.Config
	SqliteConfig   = sqlite.Config
	PostgresConfig = postgresql.Config

	Logger   = common.Logger
	LogLevel = common.LogLevel
)

const (
	DriverSqlite     = store.DriverSqlite
	DriverPostgresql = store.DriverPostgresql

	LockPerTask = imig.LockPerTask
	LockPerRun  = imig.LockPerRun

	LogLevelError = common.LogLevelError
	LogLevelWarn  = common.LogLevelWarn
	LogLevelInfo  = common.LogLevelInfo
	LogLevelDebug = common.LogLevelDebug
)

var (
	ErrInvalidTask   = imig.ErrInvalidTask
	ErrDuplicateTask = imig.ErrDuplicateTask
	ErrLockTimeout   = ledger.ErrLockTimeout

	WithLockScope   = imig.WithLockScope
	WithLockTimeout = imig.WithLockTimeout
	WithLogger      = imig.WithLogger
	WithMetrics     = imig.WithMetrics
)

// New binds a migrator to the ledger table in db. An empty table selects
// "schema_ledger".
func New(db *sql.DB, table string, dialect Dialect, opts ...Option) (*Migrator, error) {
	return imig.New(db, table, dialect, opts...)
}

// Open connects to the database described by cfg.
func Open(ctx context.Context, cfg StoreConfig) (*sql.DB, Dialect, error) {
	return store.Open(ctx, cfg)
}

// OpenLazy opens a pool for cfg without contacting the database.
func OpenLazy(cfg StoreConfig) (*sql.DB, Dialect, error) {
	return store.OpenLazy(cfg)
}

// DialectFor returns the dialect registered under name ("sqlite" or "postgresql").
func DialectFor(name string) (Dialect, error) {
	return store.DialectFor(name)
}

// NewSQLTask builds a task running statements on every dialect. Use
// Task.ForDialect to override them per dialect.
func NewSQLTask(release, order, description string, statements ...string) *Task {
	return task.NewSQL(release, order, description, statements...)
}

// NewFuncTask builds a task around Go code.
func NewFuncTask(release, order, description string, fn ExecFunc) *Task {
	return task.NewFunc(release, order, description, fn)
}

// LoadTasks reads every NNN_*.yaml task file in dir.
func LoadTasks(dir string) ([]*Task, error) {
	return task.LoadDir(dir)
}

// Status lists the ledger's rows and which of tasks are still pending.
func Status(ctx context.Context, m *Migrator, tasks []*Task) (*StatusReport, error) {
	return status.Build(ctx, m.Ledger(), tasks)
}

// NewMetrics creates a Prometheus collector for WithMetrics.
func NewMetrics() *Metrics {
	return metrics.New()
}

func NewLogger(level LogLevel) *Logger     { return common.NewLogger(level) }
func NewJSONLogger(level LogLevel) *Logger { return common.NewJSONLogger(level) }
func SetDefaultLogger(l *Logger)           { common.SetDefaultLogger(l) }
func GetLogger() *Logger                   { return common.GetLogger() }
