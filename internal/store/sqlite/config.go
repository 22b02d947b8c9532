package sqlite

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/go-viper/mapstructure/v2"
	"github.com/loykin/dbmigrate/internal/constants"
	"github.com/loykin/dbmigrate/internal/util"
)

type Config struct {
	Path string `mapstructure:"path" yaml:"path"`
	// DSN overrides Path when set; it is passed to the driver untouched.
	DSN           string `mapstructure:"dsn" yaml:"dsn"`
	BusyTimeoutMS int    `mapstructure:"busy_timeout_ms" yaml:"busy_timeout_ms"`
}

func (c *Config) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"path":            c.Path,
		"dsn":             c.DSN,
		"busy_timeout_ms": c.BusyTimeoutMS,
	}
}

// FromMap decodes a driver config map produced by ToMap or a YAML document.
func FromMap(m map[string]any) (*Config, error) {
	var c Config
	if err := mapstructure.WeakDecode(m, &c); err != nil {
		return nil, fmt.Errorf("invalid sqlite config: %w", err)
	}
	return &c, nil
}

// ConnString builds a modernc.org/sqlite DSN. WAL lets status readers proceed
// while a migrator holds the write lock.
func (c *Config) ConnString() string {
	if dsn, ok := util.TrimEmptyCheck(c.DSN); ok {
		return dsn
	}
	path := util.TrimWithDefault(c.Path, constants.DefaultSQLiteFileName)
	busy := c.BusyTimeoutMS
	if busy <= 0 {
		busy = constants.DefaultSQLiteBusyTimeoutMS
	}
	q := url.Values{}
	q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", busy))
	q.Add("_pragma", "journal_mode(WAL)")
	q.Add("_pragma", "foreign_keys(1)")
	if strings.HasPrefix(path, "file:") {
		return path
	}
	return "file:" + path + "?" + q.Encode()
}
