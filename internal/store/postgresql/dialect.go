package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/loykin/dbmigrate/internal/common"
	"github.com/loykin/dbmigrate/internal/constants"
	"github.com/loykin/dbmigrate/internal/retry"
	"github.com/loykin/dbmigrate/internal/store/connector"
)

// DriverName is the canonical dialect name.
const DriverName = "postgresql"

// SQLSTATE codes the ledger cares about.
const (
	codeDuplicateTable   = "42P07"
	codeUniqueViolation  = "23505"
	codeDuplicateColumn  = "42701"
	codeLockNotAvailable = "55P03"
	codeDeadlock         = "40P01"
	codeQueryCanceled    = "57014"
)

// Dialect implements SQL dialect for PostgreSQL
type Dialect struct{}

// NewDialect creates a new PostgreSQL dialect
func NewDialect() *Dialect {
	return &Dialect{}
}

var _ connector.Dialect = (*Dialect)(nil)

func (p *Dialect) Name() string {
	return DriverName
}

// Placeholder returns PostgreSQL-style placeholders ($1, $2, etc.)
func (p *Dialect) Placeholder(index int) string {
	return fmt.Sprintf("$%d", index)
}

func (p *Dialect) CreateTableStatement(table string) string {
	return fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id BIGSERIAL PRIMARY KEY,
	release_id TEXT NOT NULL,
	order_id TEXT NOT NULL,
	description TEXT NOT NULL DEFAULT '',
	installed_on TIMESTAMPTZ NOT NULL DEFAULT now(),
	execution_ms BIGINT NOT NULL DEFAULT 0,
	success BOOLEAN NOT NULL DEFAULT FALSE,
	error_text TEXT NULL
)`, table)
}

func (p *Dialect) IndexStatement(table string) string {
	return fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (release_id, order_id) WHERE success", connector.IndexName(table), table)
}

func (p *Dialect) UpgradeColumns() []connector.Column {
	return []connector.Column{
		{Name: "description", Definition: "TEXT NOT NULL DEFAULT ''"},
		{Name: "installed_on", Definition: "TIMESTAMPTZ NOT NULL DEFAULT now()"},
		{Name: "execution_ms", Definition: "BIGINT NOT NULL DEFAULT 0"},
		{Name: "success", Definition: "BOOLEAN NOT NULL DEFAULT FALSE"},
		{Name: "error_text", Definition: "TEXT NULL"},
	}
}

func (p *Dialect) AddColumnStatement(table string, c connector.Column) string {
	return fmt.Sprintf("ALTER TABLE %s ADD COLUMN IF NOT EXISTS %s %s", table, c.Name, c.Definition)
}

// ColumnsQuery reads information_schema. Unquoted identifiers fold to lower case.
func (p *Dialect) ColumnsQuery(table string) (string, []any) {
	schema, name := connector.SplitTable(table)
	if schema == "" {
		return "SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1",
			[]any{strings.ToLower(name)}
	}
	return "SELECT column_name FROM information_schema.columns WHERE table_schema = $1 AND table_name = $2",
		[]any{strings.ToLower(schema), strings.ToLower(name)}
}

// LockTimeoutStatement scopes lock_timeout to the transaction. Zero keeps the
// server setting.
func (p *Dialect) LockTimeoutStatement(timeout time.Duration) string {
	if timeout <= 0 {
		return ""
	}
	ms := timeout.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return fmt.Sprintf("SET LOCAL lock_timeout = %d", ms)
}

func (p *Dialect) LockTimeoutQuery() string {
	return "SHOW lock_timeout"
}

// RestoreLockTimeoutStatement sets lock_timeout back for the rest of the
// transaction, so task statements wait as the server is configured to.
func (p *Dialect) RestoreLockTimeoutStatement(previous string) string {
	previous = strings.TrimSpace(previous)
	if previous == "" {
		return ""
	}
	return fmt.Sprintf("SET LOCAL lock_timeout = '%s'", strings.ReplaceAll(previous, "'", "''"))
}

// LockRowStatement row-locks the ledger's lock row until commit or rollback.
func (p *Dialect) LockRowStatement(table string) string {
	return fmt.Sprintf("SELECT id FROM %s WHERE id = %d FOR UPDATE", table, constants.LockRowID)
}

// LockWaitCancelable is true: pgx sends a cancel request when ctx is done.
func (p *Dialect) LockWaitCancelable() bool {
	return true
}

func (p *Dialect) InsertIgnore(table string, columns []string) string {
	marks := make([]string, len(columns))
	for i := range columns {
		marks[i] = p.Placeholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) ON CONFLICT DO NOTHING",
		table, strings.Join(columns, ", "), strings.Join(marks, ", "))
}

// BoolToStorage converts bool to PostgreSQL storage format (native bool)
func (p *Dialect) BoolToStorage(b bool) any {
	return b
}

// BoolFromStorage converts PostgreSQL bool storage to bool
func (p *Dialect) BoolFromStorage(val any) bool {
	if b, ok := val.(bool); ok {
		return b
	}
	return false
}

// TimeToStorage converts time to PostgreSQL storage format (native time.Time)
func (p *Dialect) TimeToStorage(t time.Time) any {
	return t.UTC()
}

func (p *Dialect) TimeFromStorage(val any) (time.Time, error) {
	switch v := val.(type) {
	case time.Time:
		return v.UTC(), nil
	case *time.Time:
		if v == nil {
			return time.Time{}, nil
		}
		return v.UTC(), nil
	case nil:
		return time.Time{}, nil
	}
	return time.Time{}, fmt.Errorf("unexpected ledger timestamp type %T", val)
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

// IsAlreadyExists also accepts unique violations: concurrent CREATE TABLE IF NOT
// EXISTS can collide on the pg_type row.
func (p *Dialect) IsAlreadyExists(err error) bool {
	switch pgCode(err) {
	case codeDuplicateTable, codeUniqueViolation:
		return true
	}
	return false
}

func (p *Dialect) IsDuplicateKey(err error) bool {
	return pgCode(err) == codeUniqueViolation
}

func (p *Dialect) IsDuplicateColumn(err error) bool {
	return pgCode(err) == codeDuplicateColumn
}

// IsLockTimeout covers lock_timeout and statement_timeout cancellation.
func (p *Dialect) IsLockTimeout(err error) bool {
	switch pgCode(err) {
	case codeLockNotAvailable, codeQueryCanceled:
		return true
	}
	return false
}

func (p *Dialect) IsDeadlock(err error) bool {
	return pgCode(err) == codeDeadlock
}

// Connect establishes a connection to PostgreSQL with connection pooling
func (p *Dialect) Connect(ctx context.Context, config map[string]any) (*sql.DB, error) {
	db, err := p.OpenDB(config)
	if err != nil {
		return nil, err
	}
	var dsn string
	if cfg, err := FromMap(config); err == nil {
		dsn = cfg.ConnString()
	}

	logger := common.GetLogger().WithStore(DriverName)
	rc := retry.DefaultRetryConfig()
	rc.Logger = logger
	if err := retry.WithRetry(ctx, rc, func() error { return db.PingContext(ctx) }); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping PostgreSQL database: %w", err)
	}
	logger.Info("PostgreSQL database connection established", "dsn", common.MaskDSN(dsn))
	return db, nil
}

// OpenDB opens the connection pool without contacting the server.
func (p *Dialect) OpenDB(config map[string]any) (*sql.DB, error) {
	cfg, err := FromMap(config)
	if err != nil {
		return nil, err
	}
	dsn := cfg.ConnString()
	if dsn == "" {
		return nil, errors.New("postgresql: dsn or host is required")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open PostgreSQL connection: %w", err)
	}
	db.SetMaxOpenConns(constants.DefaultPostgresMaxConnections)
	db.SetMaxIdleConns(constants.DefaultPostgresMaxIdleConns)
	db.SetConnMaxLifetime(constants.DefaultMaxConnLifetime)
	db.SetConnMaxIdleTime(constants.DefaultMaxIdleTime)
	return db, nil
}
