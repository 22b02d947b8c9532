package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/loykin/dbmigrate/internal/common"
	"github.com/loykin/dbmigrate/internal/constants"
	"github.com/loykin/dbmigrate/internal/store/connector"
	"github.com/loykin/dbmigrate/internal/store/postgresql"
	"github.com/loykin/dbmigrate/internal/store/sqlite"
	"github.com/loykin/dbmigrate/internal/util"
)

const (
	DriverSqlite     = sqlite.DriverName
	DriverPostgresql = postgresql.DriverName
)

// Dialect is the per-database SQL surface used by the ledger.
type Dialect = connector.Dialect

type Config struct {
	Driver string `mapstructure:"driver"`
	// Table is the ledger table; empty means constants.DefaultLedgerTable.
	Table        string `mapstructure:"table"`
	DriverConfig DriverConfig
}

type DriverConfig interface {
	ToMap() map[string]interface{}
}

// TableName returns the configured ledger table or the default.
func (c Config) TableName() string {
	return util.TrimWithDefault(c.Table, constants.DefaultLedgerTable)
}

// DialectFor resolves a driver name or common alias.
func DialectFor(name string) (Dialect, error) {
	switch util.TrimAndLower(name) {
	case "", DriverSqlite, "sqlite3":
		return sqlite.NewDialect(), nil
	case DriverPostgresql, "postgres", "pg", "pgx":
		return postgresql.NewDialect(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver %q", name)
	}
}

// Open connects to the configured database. The caller owns the returned *sql.DB.
func Open(ctx context.Context, cfg Config) (*sql.DB, Dialect, error) {
	dialect, m, err := resolve(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger := common.GetLogger().WithComponent("store").WithStore(dialect.Name())
	dsn, _ := m["dsn"].(string)
	logger.Debug("connecting", "dsn", common.MaskDSN(dsn))
	db, err := dialect.Connect(ctx, m)
	if err != nil {
		logger.Error("failed to connect", "dsn", common.MaskDSN(dsn), "error", err)
		return nil, nil, err
	}
	return db, dialect, nil
}

// OpenLazy is Open without the connection check: the first statement connects.
// Callers that wait for the database to come up use it before polling.
func OpenLazy(cfg Config) (*sql.DB, Dialect, error) {
	dialect, m, err := resolve(cfg)
	if err != nil {
		return nil, nil, err
	}
	db, err := dialect.OpenDB(m)
	if err != nil {
		return nil, nil, err
	}
	return db, dialect, nil
}

func resolve(cfg Config) (Dialect, map[string]any, error) {
	dialect, err := DialectFor(cfg.Driver)
	if err != nil {
		return nil, nil, err
	}
	if err := connector.ValidateTable(cfg.TableName()); err != nil {
		return nil, nil, err
	}
	var m map[string]any
	if cfg.DriverConfig != nil {
		m = cfg.DriverConfig.ToMap()
	}
	return dialect, m, nil
}
