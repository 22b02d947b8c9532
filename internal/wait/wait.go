// Package wait blocks until the migration target, or a service it depends on,
// is ready.
package wait

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/loykin/dbmigrate/internal/common"
	"github.com/loykin/dbmigrate/internal/constants"
	"github.com/loykin/dbmigrate/internal/util"
)

// Config describes what to wait for. An empty URL skips the HTTP probe.
type Config struct {
	// Database pings the target database until it answers.
	Database bool   `mapstructure:"database" yaml:"database"`
	URL      string `mapstructure:"url" yaml:"url"`
	Method   string `mapstructure:"method" yaml:"method"`
	Status   int    `mapstructure:"status" yaml:"status"`
	// BodyPath is a gjson path into the JSON response body that must exist,
	// and equal BodyEquals when that is set.
	BodyPath   string `mapstructure:"body_path" yaml:"body_path"`
	BodyEquals string `mapstructure:"body_equals" yaml:"body_equals"`
	Timeout    string `mapstructure:"timeout" yaml:"timeout"`
	Interval   string `mapstructure:"interval" yaml:"interval"`
}

// Enabled reports whether any probe is configured.
func (c Config) Enabled() bool {
	_, hasURL := util.TrimEmptyCheck(c.URL)
	return c.Database || hasURL
}

type params struct {
	url      string
	method   string
	expected int
	timeout  time.Duration
	interval time.Duration
}

func (c Config) params() params {
	url, _ := util.TrimEmptyCheck(c.URL)
	expected := c.Status
	if expected == 0 {
		expected = constants.DefaultWaitStatus
	}
	return params{
		url:      url,
		method:   strings.ToUpper(util.TrimWithDefault(c.Method, constants.DefaultWaitMethod)),
		expected: expected,
		timeout:  util.ParseDurationDefault(c.Timeout, constants.DefaultWaitTimeout),
		interval: util.ParseDurationDefault(c.Interval, constants.DefaultWaitInterval),
	}
}

// Pinger is satisfied by *sql.DB.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// check reports readiness; detail describes the last unready observation.
type check func(ctx context.Context) (ready bool, detail string)

func poll(ctx context.Context, what string, p params, fn check) error {
	logger := common.GetLogger().WithComponent("wait")
	deadline := time.Now().Add(p.timeout)
	for attempt := 1; ; attempt++ {
		ready, detail := fn(ctx)
		if ready {
			logger.Info("ready", "target", what, "attempts", attempt)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("wait: timeout waiting for %s (last: %s)", what, detail)
		}
		logger.Debug("not ready", "target", what, "detail", detail)

		timer := time.NewTimer(p.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// ForDatabase pings db until it answers or the configured timeout elapses.
func ForDatabase(ctx context.Context, db Pinger, c Config) error {
	return poll(ctx, "database", c.params(), func(ctx context.Context) (bool, string) {
		if err := db.PingContext(ctx); err != nil {
			return false, common.MaskSensitiveData(err.Error())
		}
		return true, ""
	})
}

// ForHTTP polls the configured URL until it answers with the expected status
// and, when BodyPath is set, a matching JSON body. GET and HEAD are supported;
// other methods fall back to GET.
func ForHTTP(ctx context.Context, client *resty.Client, c Config) error {
	p := c.params()
	if p.url == "" {
		return nil
	}
	path, hasPath := util.TrimEmptyCheck(c.BodyPath)
	return poll(ctx, p.url, p, func(ctx context.Context) (bool, string) {
		req := client.R().SetContext(ctx)
		var (
			resp *resty.Response
			err  error
		)
		if p.method == http.MethodHead {
			resp, err = req.Head(p.url)
		} else {
			resp, err = req.Get(p.url)
		}
		if err != nil {
			return false, err.Error()
		}
		if resp.StatusCode() != p.expected {
			return false, fmt.Sprintf("status %d, want %d", resp.StatusCode(), p.expected)
		}
		if !hasPath {
			return true, ""
		}
		got := gjson.GetBytes(resp.Body(), path)
		if !got.Exists() {
			return false, fmt.Sprintf("body has no %q", path)
		}
		if c.BodyEquals != "" && got.String() != c.BodyEquals {
			return false, fmt.Sprintf("%s = %q, want %q", path, got.String(), c.BodyEquals)
		}
		return true, ""
	})
}
