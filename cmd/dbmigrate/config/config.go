package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/loykin/dbmigrate"
	"github.com/loykin/dbmigrate/internal/common"
	"github.com/loykin/dbmigrate/internal/constants"
	"github.com/loykin/dbmigrate/internal/httpc"
	"github.com/loykin/dbmigrate/internal/metrics"
	"github.com/loykin/dbmigrate/internal/migration"
	"github.com/loykin/dbmigrate/internal/util"
	"github.com/loykin/dbmigrate/internal/wait"
)

type StoreConfig struct {
	Driver string `mapstructure:"driver" yaml:"driver"`
	// Table is the ledger table, optionally schema qualified.
	Table    string                   `mapstructure:"table" yaml:"table"`
	SQLite   dbmigrate.SqliteConfig   `mapstructure:"sqlite" yaml:"sqlite"`
	Postgres dbmigrate.PostgresConfig `mapstructure:"postgres" yaml:"postgres"`
}

// ToStoreConfig selects the driver config matching Driver.
func (s StoreConfig) ToStoreConfig() (dbmigrate.StoreConfig, error) {
	cfg := dbmigrate.StoreConfig{Driver: s.Driver, Table: s.Table}
	dialect, err := dbmigrate.DialectFor(s.Driver)
	if err != nil {
		return cfg, err
	}
	cfg.Driver = dialect.Name()
	switch cfg.Driver {
	case dbmigrate.DriverPostgresql:
		pg := s.Postgres
		cfg.DriverConfig = &pg
	default:
		lite := s.SQLite
		cfg.DriverConfig = &lite
	}
	return cfg, nil
}

type MigrateConfig struct {
	// LockScope is "task" (default) or "run".
	LockScope string `mapstructure:"lock_scope" yaml:"lock_scope"`
	// LockTimeout fails the task being attempted when the ledger lock is not
	// granted in time, e.g. "30s". Empty waits indefinitely.
	LockTimeout string `mapstructure:"lock_timeout" yaml:"lock_timeout"`
	// FailureRetention is how long failed attempts are kept by purge.
	FailureRetention string `mapstructure:"failure_retention" yaml:"failure_retention"`
}

type LoggingConfig struct {
	Level         string `mapstructure:"level" yaml:"level"`                   // error, warn, info, debug
	Format        string `mapstructure:"format" yaml:"format"`                 // text, json
	MaskSensitive *bool  `mapstructure:"mask_sensitive" yaml:"mask_sensitive"` // enable/disable DSN masking
}

type StatusConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

type ConfigDoc struct {
	TasksDir string             `mapstructure:"tasks_dir" yaml:"tasks_dir"`
	Store    StoreConfig        `mapstructure:"store" yaml:"store"`
	Migrate  MigrateConfig      `mapstructure:"migrate" yaml:"migrate"`
	Wait     wait.Config        `mapstructure:"wait" yaml:"wait"`
	Client   httpc.ClientConfig `mapstructure:"client" yaml:"client"`
	Logging  LoggingConfig      `mapstructure:"logging" yaml:"logging"`
	Metrics  metrics.Config     `mapstructure:"metrics" yaml:"metrics"`
	Status   StatusConfig       `mapstructure:"status" yaml:"status"`

	// path of the loaded file, used to resolve relative paths
	path string
}

func (c *ConfigDoc) Load(path string) error {
	clean := filepath.Clean(path)
	// Ensure path points to a regular file to avoid opening directories/special files
	if info, statErr := os.Stat(clean); statErr != nil || !info.Mode().IsRegular() {
		if statErr != nil {
			return statErr
		}
		return fmt.Errorf("not a regular file: %s", clean)
	}
	// #nosec G304 -- config path is provided intentionally by the user/CI; cleaned and validated above
	f, err := os.Open(clean)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil {
		return fmt.Errorf("failed to parse config %s: %w", clean, err)
	}
	c.path = clean
	return nil
}

// TasksPath resolves tasks_dir against the config file's directory. It
// defaults to a "tasks" directory next to the config file.
func (c *ConfigDoc) TasksPath() string {
	base := "."
	if c.path != "" {
		base = filepath.Dir(c.path)
	}
	dir := util.TrimWithDefault(c.TasksDir, "tasks")
	if !filepath.IsAbs(dir) {
		dir = filepath.Join(base, dir)
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

// FailureRetention returns the purge cutoff age.
func (c *ConfigDoc) FailureRetention() time.Duration {
	return util.ParseDurationDefault(c.Migrate.FailureRetention, constants.DefaultFailureRetention)
}

// MigratorOptions translates the migrate section into migrator options.
func (c *ConfigDoc) MigratorOptions() ([]dbmigrate.Option, error) {
	scope, err := migration.ParseLockScope(c.Migrate.LockScope)
	if err != nil {
		return nil, err
	}
	opts := []dbmigrate.Option{dbmigrate.WithLockScope(scope)}
	if s, ok := util.TrimEmptyCheck(c.Migrate.LockTimeout); ok {
		d, err := time.ParseDuration(s)
		if err != nil {
			return nil, fmt.Errorf("invalid migrate.lock_timeout %q: %w", s, err)
		}
		opts = append(opts, dbmigrate.WithLockTimeout(d))
	}
	return opts, nil
}

// MetricsConfig fills in the default namespace.
func (c *ConfigDoc) MetricsConfig() metrics.Config {
	mc := c.Metrics
	if _, ok := util.TrimEmptyCheck(mc.Namespace); !ok {
		mc.Namespace = metrics.DefaultConfig().Namespace
	}
	return mc
}

// SetupLogging configures the global logger based on config settings
func (c *ConfigDoc) SetupLogging() error {
	level, ok := common.ParseLogLevel(c.Logging.Level)
	if !ok {
		return fmt.Errorf("invalid logging level: %s (valid: error, warn, info, debug)", c.Logging.Level)
	}

	var logger *common.Logger
	format := util.TrimAndLower(c.Logging.Format)
	switch format {
	case "json":
		logger = common.NewJSONLogger(level)
	case "text", "":
		logger = common.NewLogger(level)
	default:
		return fmt.Errorf("invalid logging format: %s (valid: text, json)", c.Logging.Format)
	}

	maskingEnabled := true
	if c.Logging.MaskSensitive != nil {
		maskingEnabled = *c.Logging.MaskSensitive
	}
	common.EnableMasking(maskingEnabled)
	common.SetDefaultLogger(logger)

	logger.Debug("logging configured",
		"level", level.String(),
		"format", util.TrimWithDefault(format, "text"),
		"mask_sensitive", maskingEnabled)
	return nil
}
