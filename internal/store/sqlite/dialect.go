package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/loykin/dbmigrate/internal/common"
	"github.com/loykin/dbmigrate/internal/constants"
	"github.com/loykin/dbmigrate/internal/store/connector"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DriverName is the canonical dialect name.
const DriverName = "sqlite"

// timeLayout is fixed width so stored timestamps compare correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// Dialect implements SQL dialect for SQLite
type Dialect struct{}

// NewDialect creates a new SQLite dialect
func NewDialect() *Dialect {
	return &Dialect{}
}

var _ connector.Dialect = (*Dialect)(nil)

func (s *Dialect) Name() string {
	return DriverName
}

// Placeholder returns SQLite-style placeholders (?)
func (s *Dialect) Placeholder(int) string {
	return "?"
}

func (s *Dialect) CreateTableStatement(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	release_id TEXT NOT NULL,
	order_id TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	installed_on TEXT NOT NULL DEFAULT '',
	execution_ms INTEGER NOT NULL DEFAULT 0,
	success INTEGER NOT NULL DEFAULT 0,
	error_text TEXT NULL
)`, table)
}

func (s *Dialect) IndexStatement(table string) string {
	schema, name := connector.SplitTable(table)
	index := connector.IndexName(table)
	if schema != "" {
		index = schema + "." + index
	}
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (release_id, order_id) WHERE success = 1", index, name)
}

func (s *Dialect) UpgradeColumns() []connector.Column {
	return []connector.Column{
		{Name: "description", Definition: "TEXT NOT NULL DEFAULT ''"},
		{Name: "installed_on", Definition: "TEXT NOT NULL DEFAULT ''"},
		{Name: "execution_ms", Definition: "INTEGER NOT NULL DEFAULT 0"},
		{Name: "success", Definition: "INTEGER NOT NULL DEFAULT 0"},
		{Name: "error_text", Definition: "TEXT NULL"},
	}
}

func (s *Dialect) AddColumnStatement(table string, c connector.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, c.Name, c.Definition)
}

func (s *Dialect) ColumnsQuery(table string) (string, []any) {
	schema, name := connector.SplitTable(table)
	if schema == "" {
		schema = "main"
	}
	return "SELECT name FROM pragma_table_info(?, ?)", []any{name, schema}
}

// LockTimeoutStatement sets the busy handler of the connection owning the
// transaction. Zero waits as long as SQLite allows.
func (s *Dialect) LockTimeoutStatement(timeout time.Duration) string {
	ms := int64(math.MaxInt32)
	if timeout > 0 {
		ms = timeout.Milliseconds()
		if ms < 1 {
			ms = 1
		}
	}
	return fmt.Sprintf("PRAGMA busy_timeout = %d", ms)
}

func (s *Dialect) LockTimeoutQuery() string {
	return "PRAGMA busy_timeout"
}

// RestoreLockTimeoutStatement resets the connection's busy handler. The pragma
// outlives the transaction, so a pooled connection would otherwise keep the
// lock wait bound.
func (s *Dialect) RestoreLockTimeoutStatement(previous string) string {
	ms, err := strconv.ParseInt(strings.TrimSpace(previous), 10, 64)
	if err != nil || ms < 0 {
		return ""
	}
	return fmt.Sprintf("PRAGMA busy_timeout = %d", ms)
}

// LockRowStatement takes SQLite's single writer lock. A no-op write is enough;
// other writers block in the busy handler until this transaction ends.
func (s *Dialect) LockRowStatement(table string) string {
	return fmt.Sprintf("UPDATE %s SET installed_on = installed_on WHERE id = %d", table, constants.LockRowID)
}

// LockWaitCancelable is false: the busy handler does not observe interrupts.
func (s *Dialect) LockWaitCancelable() bool {
	return false
}

func (s *Dialect) InsertIgnore(table string, columns []string) string {
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ")
	return fmt.Sprintf("INSERT OR IGNORE INTO %s (%s) VALUES (%s)", table, strings.Join(columns, ", "), marks)
}

// BoolToStorage converts bool to SQLite storage format (integer 0/1)
func (s *Dialect) BoolToStorage(b bool) any {
	if b {
		return 1
	}
	return 0
}

// BoolFromStorage converts SQLite integer storage to bool
func (s *Dialect) BoolFromStorage(val any) bool {
	switch v := val.(type) {
	case int64:
		return v != 0
	case int:
		return v != 0
	case bool:
		return v
	}
	return false
}

// TimeToStorage stores UTC text in a sortable layout
func (s *Dialect) TimeToStorage(t time.Time) any {
	return t.UTC().Format(timeLayout)
}

func (s *Dialect) TimeFromStorage(val any) (time.Time, error) {
	switch v := val.(type) {
	case time.Time:
		return v.UTC(), nil
	case string:
		if v == "" {
			return time.Time{}, nil
		}
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid ledger timestamp %q: %w", v, err)
		}
		return t.UTC(), nil
	case []byte:
		return s.TimeFromStorage(string(v))
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("unexpected ledger timestamp type %T", val)
}

func sqliteCode(err error) (int, bool) {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code(), true
	}
	return 0, false
}

func (s *Dialect) IsAlreadyExists(err error) bool {
	return err != nil && strings.Contains(err.Error(), "already exists")
}

func (s *Dialect) IsDuplicateKey(err error) bool {
	if code, ok := sqliteCode(err); ok {
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func (s *Dialect) IsDuplicateColumn(err error) bool {
	return err != nil && strings.Contains(err.Error(), "duplicate column name")
}

func (s *Dialect) IsLockTimeout(err error) bool {
	if code, ok := sqliteCode(err); ok {
		primary := code & 0xff
		return primary == sqlite3.SQLITE_BUSY || primary == sqlite3.SQLITE_LOCKED
	}
	return err != nil && strings.Contains(err.Error(), "database is locked")
}

// IsDeadlock is always false; SQLite reports lock conflicts as busy.
func (s *Dialect) IsDeadlock(error) bool {
	return false
}

// Connect opens the database described by config (see Config).
func (s *Dialect) Connect(ctx context.Context, config map[string]any) (*sql.DB, error) {
	db, err := s.OpenDB(config)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping SQLite database: %w", err)
	}
	var dsn string
	if cfg, err := FromMap(config); err == nil {
		dsn = cfg.ConnString()
	}
	common.GetLogger().WithStore(DriverName).Info("SQLite database connection established", "dsn", common.MaskDSN(dsn))
	return db, nil
}

// OpenDB opens the connection pool. The database file is created on first use.
func (s *Dialect) OpenDB(config map[string]any) (*sql.DB, error) {
	cfg, err := FromMap(config)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", cfg.ConnString())
	if err != nil {
		return nil, fmt.Errorf("failed to open SQLite connection: %w", err)
	}
	db.SetMaxOpenConns(constants.DefaultSQLiteMaxConnections)
	db.SetMaxIdleConns(constants.DefaultSQLiteMaxIdleConns)
	db.SetConnMaxLifetime(constants.DefaultSQLiteLifetime)
	db.SetConnMaxIdleTime(constants.DefaultSQLiteIdleTime)
	return db, nil
}
