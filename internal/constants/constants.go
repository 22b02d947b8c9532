package constants

import (
	"net/http"
	"time"
)

// Database Constants
const (
	// PostgreSQL defaults
	DefaultPostgresPort    = 5432
	DefaultPostgresSSLMode = "disable"

	// Connection pool settings
	DefaultPostgresMaxConnections = 25
	DefaultPostgresMaxIdleConns   = 5
	DefaultSQLiteMaxConnections   = 4
	DefaultSQLiteMaxIdleConns     = 2

	// SQLite pragmas
	DefaultSQLiteBusyTimeoutMS = 5000
	DefaultSQLiteFileName      = "dbmigrate.db"

	// Default ledger table name, shared by every migrator of a deployment
	DefaultLedgerTable = "schema_ledger"
)

// Ledger lock row; the empty identity is never a valid task identity
const (
	LockRowID          = 0
	LockRowDescription = "ledger lock"
)

// Time and Duration Constants
const (
	DefaultMaxConnLifetime = 5 * time.Minute
	DefaultMaxIdleTime     = 1 * time.Minute
	DefaultSQLiteLifetime  = 10 * time.Minute
	DefaultSQLiteIdleTime  = 5 * time.Minute

	// DefaultFailureRetention is how long failed attempts stay in the ledger before purge
	DefaultFailureRetention = 30 * 24 * time.Hour
)

// Wait Configuration Constants
const (
	DefaultWaitTimeout  = 60 * time.Second
	DefaultWaitInterval = 2 * time.Second
	DefaultWaitStatus   = http.StatusOK
	DefaultWaitMethod   = "GET"
)

// Status server
const (
	DefaultStatusAddr  = ":9464"
	DefaultMetricsPath = "/metrics"
)
