package postgresql

import (
	"fmt"
	"net/url"

	"github.com/go-viper/mapstructure/v2"
	"github.com/loykin/dbmigrate/internal/constants"
	"github.com/loykin/dbmigrate/internal/util"
)

type Config struct {
	DSN      string `mapstructure:"dsn" yaml:"dsn"`
	Host     string `mapstructure:"host" yaml:"host"`
	Port     int    `mapstructure:"port" yaml:"port"`
	User     string `mapstructure:"user" yaml:"user"`
	Password string `mapstructure:"password" yaml:"password"`
	DBName   string `mapstructure:"dbname" yaml:"dbname"`
	SSLMode  string `mapstructure:"sslmode" yaml:"sslmode"`
}

func (p *Config) ToMap() map[string]interface{} {
	return map[string]interface{}{
		"dsn": p.ConnString(),
	}
}

// FromMap decodes a driver config map produced by ToMap or a YAML document.
func FromMap(m map[string]any) (*Config, error) {
	var c Config
	if err := mapstructure.WeakDecode(m, &c); err != nil {
		return nil, fmt.Errorf("invalid postgresql config: %w", err)
	}
	return &c, nil
}

// ConnString prefers an explicit DSN; otherwise it is built from components
// when host is provided.
func (p *Config) ConnString() string {
	dsn, hasDSN := util.TrimEmptyCheck(p.DSN)
	host, hasHost := util.TrimEmptyCheck(p.Host)
	if hasDSN || !hasHost {
		return dsn
	}
	port := p.Port
	if port == 0 {
		port = constants.DefaultPostgresPort
	}
	ssl := util.TrimWithDefault(p.SSLMode, constants.DefaultPostgresSSLMode)

	// Build DSN in the common form accepted by pgx stdlib.
	fields := util.TrimSpaceFields(p.User, p.Password, p.DBName)
	u := url.URL{
		Scheme:   "postgres",
		Host:     fmt.Sprintf("%s:%d", host, port),
		Path:     "/" + fields[2],
		RawQuery: "sslmode=" + url.QueryEscape(ssl),
	}
	if fields[0] != "" {
		if fields[1] != "" {
			u.User = url.UserPassword(fields[0], fields[1])
		} else {
			u.User = url.User(fields[0])
		}
	}
	return u.String()
}
