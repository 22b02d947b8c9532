package commands

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/loykin/dbmigrate"
	"github.com/loykin/dbmigrate/cmd/dbmigrate/config"
	"github.com/loykin/dbmigrate/internal/common"
	"github.com/loykin/dbmigrate/internal/metrics"
	"github.com/loykin/dbmigrate/internal/util"
	"github.com/loykin/dbmigrate/internal/wait"
)

// LoadConfig reads the config file named by the "config" setting, applies
// flag and environment overrides and configures logging.
func LoadConfig() (*config.ConfigDoc, error) {
	v := viper.GetViper()
	doc := &config.ConfigDoc{}
	if path, ok := util.TrimEmptyCheck(v.GetString("config")); ok {
		if err := doc.Load(path); err != nil {
			return nil, err
		}
	}
	if s, ok := util.TrimEmptyCheck(v.GetString("driver")); ok {
		doc.Store.Driver = s
	}
	if s, ok := util.TrimEmptyCheck(v.GetString("dsn")); ok {
		if dialect, err := dbmigrate.DialectFor(doc.Store.Driver); err == nil && dialect.Name() == dbmigrate.DriverPostgresql {
			doc.Store.Postgres.DSN = s
		} else {
			doc.Store.SQLite.DSN = s
		}
	}
	if s, ok := util.TrimEmptyCheck(v.GetString("table")); ok {
		doc.Store.Table = s
	}
	if s, ok := util.TrimEmptyCheck(v.GetString("tasks_dir")); ok {
		if abs, err := filepath.Abs(s); err == nil {
			s = abs
		}
		doc.TasksDir = s
	}
	if s, ok := util.TrimEmptyCheck(v.GetString("log_level")); ok {
		doc.Logging.Level = s
	}
	if err := doc.SetupLogging(); err != nil {
		return nil, err
	}
	return doc, nil
}

// commandContext falls back to Background for commands run outside Execute.
func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// target is an open database with a migrator bound to its ledger.
type target struct {
	db       *sql.DB
	migrator *dbmigrate.Migrator
	tasks    []*dbmigrate.Task
	metrics  *metrics.Collector
}

func (t *target) Close() error {
	return t.db.Close()
}

// openTarget connects to the configured database and registers the task files.
// With waitReady and wait.database set, the database is polled within the
// configured wait timeout instead of failing on the first connection check.
func openTarget(ctx context.Context, doc *config.ConfigDoc, waitReady bool) (*target, error) {
	sc, err := doc.Store.ToStoreConfig()
	if err != nil {
		return nil, err
	}
	tasks, err := dbmigrate.LoadTasks(doc.TasksPath())
	if err != nil {
		return nil, fmt.Errorf("failed to load tasks from %s: %w", doc.TasksPath(), err)
	}
	opts, err := doc.MigratorOptions()
	if err != nil {
		return nil, err
	}

	db, dialect, err := connect(ctx, sc, doc, waitReady)
	if err != nil {
		return nil, err
	}
	collector := metrics.NewWithConfig(doc.MetricsConfig())
	opts = append(opts, dbmigrate.WithLogger(common.GetLogger()), dbmigrate.WithMetrics(collector))
	m, err := dbmigrate.New(db, sc.TableName(), dialect, opts...)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := m.AddTasks(tasks...); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &target{db: db, migrator: m, tasks: tasks, metrics: collector}, nil
}

func connect(ctx context.Context, sc dbmigrate.StoreConfig, doc *config.ConfigDoc, waitReady bool) (*sql.DB, dbmigrate.Dialect, error) {
	if !waitReady || !doc.Wait.Database {
		return dbmigrate.Open(ctx, sc)
	}
	db, dialect, err := dbmigrate.OpenLazy(sc)
	if err != nil {
		return nil, nil, err
	}
	if err := wait.ForDatabase(ctx, db, doc.Wait); err != nil {
		_ = db.Close()
		return nil, nil, err
	}
	return db, dialect, nil
}
