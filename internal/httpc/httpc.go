// Package httpc builds the resty clients used by readiness probes.
package httpc

import (
	"crypto/tls"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/loykin/dbmigrate/internal/util"
)

// ClientConfig holds TLS and timeout settings for outgoing HTTP probes.
type ClientConfig struct {
	Insecure      bool   `mapstructure:"insecure" yaml:"insecure"`
	MinTLSVersion string `mapstructure:"min_tls_version" yaml:"min_tls_version"`
	MaxTLSVersion string `mapstructure:"max_tls_version" yaml:"max_tls_version"`
	// Timeout bounds a single request, e.g. "5s".
	Timeout string `mapstructure:"timeout" yaml:"timeout"`
}

// parseTLSVersion converts "1.2", "12", "tls1.2" or "tls12" style strings to
// the crypto/tls constant. Unknown strings yield 0.
func parseTLSVersion(version string) uint16 {
	switch util.TrimAndLower(version) {
	case "1.0", "10", "tls1.0", "tls10":
		return tls.VersionTLS10
	case "1.1", "11", "tls1.1", "tls11":
		return tls.VersionTLS11
	case "1.2", "12", "tls1.2", "tls12":
		return tls.VersionTLS12
	case "1.3", "13", "tls1.3", "tls13":
		return tls.VersionTLS13
	default:
		return 0
	}
}

// TLSConfig returns nil when the config leaves TLS at resty's defaults.
func (c ClientConfig) TLSConfig() *tls.Config {
	minV, maxV := parseTLSVersion(c.MinTLSVersion), parseTLSVersion(c.MaxTLSVersion)
	if !c.Insecure && minV == 0 && maxV == 0 {
		return nil
	}
	// #nosec G402 -- older TLS versions only when explicitly configured
	cfg := &tls.Config{MinVersion: minV, MaxVersion: maxV}
	if c.Insecure {
		// #nosec G402 -- self-signed endpoints are allowed when explicitly configured
		cfg.InsecureSkipVerify = true
	}
	return cfg
}

// New returns a resty client configured from c.
func New(c ClientConfig) *resty.Client {
	client := resty.New()
	if d := util.ParseDurationDefault(c.Timeout, 0); d > 0 {
		client.SetTimeout(d)
	} else {
		client.SetTimeout(10 * time.Second)
	}
	if cfg := c.TLSConfig(); cfg != nil {
		client.SetTLSClientConfig(cfg)
	}
	return client
}
