package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/dbmigrate"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(p, []byte(body), 0o600))
	return p
}

// setup writes a config with a sqlite store and two task files, and points
// viper at it.
func setup(t *testing.T, extra string) (dir string) {
	t.Helper()
	dir = t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "tasks"), 0o755))
	writeFile(t, filepath.Join(dir, "tasks"), "001_users.yaml", `
release: "1_0_0"
description: users
sql:
  - CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)
`)
	writeFile(t, filepath.Join(dir, "tasks"), "002_seed.yaml", `
release: "1_0_0"
description: seed
sql:
  - INSERT INTO users (name) VALUES ('admin')
`)
	cfg := fmt.Sprintf(`
tasks_dir: tasks
store:
  driver: sqlite
  sqlite:
    path: %s
logging:
  level: error
%s`, filepath.Join(dir, "app.db"), extra)
	path := writeFile(t, dir, "dbmigrate.yaml", cfg)

	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.Set("config", path)
	return dir
}

func run(t *testing.T, cmd *cobra.Command) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd.SetOut(&out)
	defer cmd.SetOut(nil)
	err := cmd.RunE(cmd, nil)
	return out.String(), err
}

func TestUp_AppliesThenSkips(t *testing.T) {
	setup(t, "")

	out, err := run(t, UpCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "2 succeeded, 0 skipped, 0 failed")
	assert.Contains(t, out, "applied 1_0_0.1 (users)")

	out, err = run(t, UpCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "0 succeeded, 2 skipped")
}

func TestUp_WaitsForEndpoint(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte(`{"ready":true}`))
	}))
	defer srv.Close()

	setup(t, fmt.Sprintf(`wait:
  url: %s/health
  body_path: ready
  database: true
  timeout: 5s
  interval: 20ms
`, srv.URL))

	_, err := run(t, UpCmd)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, calls.Load(), int32(3))
}

func TestUp_WaitsForDatabaseUntilTimeout(t *testing.T) {
	setup(t, `wait:
  database: true
  timeout: 2500ms
  interval: 100ms
`)
	viper.Set("driver", "postgresql")
	viper.Set("dsn", "postgres://u:p@127.0.0.1:1/none?sslmode=disable&connect_timeout=1")

	start := time.Now()
	_, err := run(t, UpCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "timeout waiting for database")
	assert.NotContains(t, err.Error(), "failed to ping")
	assert.GreaterOrEqual(t, time.Since(start), 2500*time.Millisecond)
}

func TestUp_FailedTaskReturnsError(t *testing.T) {
	dir := setup(t, "")
	writeFile(t, filepath.Join(dir, "tasks"), "003_broken.yaml", `
release: "1_0_0"
sql:
  - INSERT INTO nowhere VALUES (1)
`)
	out, err := run(t, UpCmd)
	require.Error(t, err)
	var taskErr *dbmigrate.TaskError
	assert.ErrorAs(t, err, &taskErr)
	assert.Contains(t, out, "FAILED  1_0_0.3")
}

func TestStatus_JSONAndCheck(t *testing.T) {
	setup(t, "")
	viper.Set("json", true)
	viper.Set("check", true)

	out, err := run(t, StatusCmd)
	require.Error(t, err, "tasks are pending before up")
	var report dbmigrate.StatusReport
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Len(t, report.Pending, 2)

	_, err = run(t, UpCmd)
	require.NoError(t, err)
	out, err = run(t, StatusCmd)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &report))
	assert.Len(t, report.Applied, 2)
	assert.Empty(t, report.Pending)
}

func TestStatus_Table(t *testing.T) {
	setup(t, "")
	_, err := run(t, UpCmd)
	require.NoError(t, err)
	out, err := run(t, StatusCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "Ledger: schema_ledger")
	assert.Contains(t, out, "1_0_0.2")
	assert.Contains(t, out, "applied")
}

func TestPurge(t *testing.T) {
	dir := setup(t, "")
	writeFile(t, filepath.Join(dir, "tasks"), "003_broken.yaml", `
release: "1_0_0"
sql:
  - INSERT INTO nowhere VALUES (1)
`)
	_, err := run(t, UpCmd)
	require.Error(t, err)

	out, err := run(t, PurgeCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "purged 0 failed")

	viper.Set("older_than", "-1h")
	out, err = run(t, PurgeCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "purged 1 failed")
}

func TestValidate(t *testing.T) {
	dir := setup(t, "")
	out, err := run(t, ValidateCmd)
	require.NoError(t, err)
	assert.Contains(t, out, "All 2 task file(s) are valid")

	writeFile(t, filepath.Join(dir, "tasks"), "003_dup.yaml", `
release: "1_0_0"
order: "1"
sql:
  - SELECT 1
`)
	writeFile(t, filepath.Join(dir, "tasks"), "004_pg_only.yaml", `
release: "1_0_0"
dialects:
  postgresql:
    - CREATE EXTENSION citext
`)
	writeFile(t, filepath.Join(dir, "tasks"), "005_typo.yaml", `
release: "1_0_0"
sqll: []
`)
	out, err = run(t, ValidateCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "3 error(s)")
	assert.True(t, strings.Contains(out, "003_dup.yaml: identity 1_0_0.1 already used by 001_users.yaml"), out)
	assert.Contains(t, out, "004_pg_only.yaml")

	viper.Set("driver", "postgresql")
	out, err = run(t, ValidateCmd)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 error(s)")
	assert.Contains(t, out, "✓ 004_pg_only.yaml")
}

func TestLoadConfig_Overrides(t *testing.T) {
	setup(t, `migrate:
  lock_scope: sideways
`)
	doc, err := LoadConfig()
	require.NoError(t, err)
	_, err = doc.MigratorOptions()
	assert.Error(t, err)

	viper.Set("driver", "postgres")
	viper.Set("dsn", "postgres://u:p@db/app")
	viper.Set("table", "ops.ledger")
	doc, err = LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "postgres://u:p@db/app", doc.Store.Postgres.DSN)
	sc, err := doc.Store.ToStoreConfig()
	require.NoError(t, err)
	assert.Equal(t, dbmigrate.DriverPostgresql, sc.Driver)
	assert.Equal(t, "ops.ledger", sc.TableName())
}
