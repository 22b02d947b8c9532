package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/loykin/dbmigrate/internal/store/connector"
)

func TestDialect_Placeholder(t *testing.T) {
	dialect := NewDialect()
	if got := dialect.Placeholder(3); got != "?" {
		t.Errorf("Placeholder() = %v, want ?", got)
	}
}

func TestDialect_InsertIgnore(t *testing.T) {
	got := NewDialect().InsertIgnore("ledger", []string{"a", "b", "c"})
	want := "INSERT OR IGNORE INTO ledger (a, b, c) VALUES (?, ?, ?)"
	if got != want {
		t.Errorf("InsertIgnore() = %q, want %q", got, want)
	}
}

func TestDialect_BoolStorage(t *testing.T) {
	dialect := NewDialect()

	tests := []struct {
		name  string
		input bool
		want  interface{}
	}{
		{name: "true value", input: true, want: 1},
		{name: "false value", input: false, want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dialect.BoolToStorage(tt.input)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("BoolToStorage() = %v, want %v", got, tt.want)
			}
			if back := dialect.BoolFromStorage(int64(got.(int))); back != tt.input {
				t.Errorf("BoolFromStorage() = %v, want %v", back, tt.input)
			}
		})
	}
	if dialect.BoolFromStorage("yes") {
		t.Error("unexpected true for string value")
	}
}

func TestDialect_TimeStorageSortsAsText(t *testing.T) {
	dialect := NewDialect()
	base := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	whole := dialect.TimeToStorage(base).(string)
	frac := dialect.TimeToStorage(base.Add(500 * time.Millisecond)).(string)
	if !(whole < frac) {
		t.Fatalf("expected %q < %q", whole, frac)
	}

	back, err := dialect.TimeFromStorage(frac)
	if err != nil {
		t.Fatalf("TimeFromStorage: %v", err)
	}
	if !back.Equal(base.Add(500 * time.Millisecond)) {
		t.Fatalf("round trip = %v", back)
	}
	if zero, err := dialect.TimeFromStorage(""); err != nil || !zero.IsZero() {
		t.Fatalf("empty timestamp = %v, %v", zero, err)
	}
	if _, err := dialect.TimeFromStorage("yesterday"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDialect_LockStatements(t *testing.T) {
	dialect := NewDialect()
	if got := dialect.LockTimeoutStatement(0); got != "PRAGMA busy_timeout = 2147483647" {
		t.Errorf("unbounded timeout = %q", got)
	}
	if got := dialect.LockTimeoutStatement(1500 * time.Millisecond); got != "PRAGMA busy_timeout = 1500" {
		t.Errorf("timeout = %q", got)
	}
	if got := dialect.LockRowStatement("ledger"); !strings.Contains(got, "WHERE id = 0") {
		t.Errorf("lock row = %q", got)
	}
	if got := dialect.RestoreLockTimeoutStatement(" 5000 "); got != "PRAGMA busy_timeout = 5000" {
		t.Errorf("restore = %q", got)
	}
	if got := dialect.RestoreLockTimeoutStatement("5000; DROP TABLE x"); got != "" {
		t.Errorf("restore of non-numeric value = %q", got)
	}
}

func TestDialect_IndexStatement_Schema(t *testing.T) {
	got := NewDialect().IndexStatement("main.ledger")
	want := "CREATE UNIQUE INDEX IF NOT EXISTS main.ledger_success_uq ON ledger (release_id, order_id) WHERE success = 1"
	if got != want {
		t.Errorf("IndexStatement() = %q, want %q", got, want)
	}
}

func TestConfig_ConnString(t *testing.T) {
	c := &Config{Path: "/tmp/x.db"}
	got := c.ConnString()
	for _, frag := range []string{"file:/tmp/x.db?", "busy_timeout%285000%29", "journal_mode%28WAL%29"} {
		if !strings.Contains(got, frag) {
			t.Errorf("ConnString() = %q, missing %q", got, frag)
		}
	}
	if got := (&Config{DSN: "file::memory:?cache=shared"}).ConnString(); got != "file::memory:?cache=shared" {
		t.Errorf("explicit DSN not kept: %q", got)
	}

	decoded, err := FromMap(map[string]any{"path": "a.db", "busy_timeout_ms": "250"})
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	if decoded.Path != "a.db" || decoded.BusyTimeoutMS != 250 {
		t.Errorf("FromMap = %+v", decoded)
	}
}

// Error classification is checked against real driver errors.
func TestDialect_ErrorClassification(t *testing.T) {
	dialect := NewDialect()
	path := filepath.Join(t.TempDir(), "classify.db")
	db, err := dialect.Connect(context.Background(), map[string]any{"path": path, "busy_timeout_ms": 50})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer func() { _ = db.Close() }()

	table := "ledger"
	mustExec(t, db, dialect.CreateTableStatement(table))
	mustExec(t, db, dialect.IndexStatement(table))

	_, err = db.Exec("CREATE TABLE ledger (id INTEGER)")
	if !dialect.IsAlreadyExists(err) {
		t.Errorf("IsAlreadyExists(%v) = false", err)
	}

	mustExec(t, db, "INSERT INTO ledger (release_id, order_id, success) VALUES ('1', '1', 1)")
	_, err = db.Exec("INSERT INTO ledger (release_id, order_id, success) VALUES ('1', '1', 1)")
	if !dialect.IsDuplicateKey(err) {
		t.Errorf("IsDuplicateKey(%v) = false", err)
	}
	// failure rows are outside the partial index
	mustExec(t, db, "INSERT INTO ledger (release_id, order_id, success) VALUES ('1', '1', 0)")
	mustExec(t, db, "INSERT INTO ledger (release_id, order_id, success) VALUES ('1', '1', 0)")

	_, err = db.Exec(dialect.AddColumnStatement(table, connector.Column{Name: "error_text", Definition: "TEXT"}))
	if !dialect.IsDuplicateColumn(err) {
		t.Errorf("IsDuplicateColumn(%v) = false", err)
	}

	query, args := dialect.ColumnsQuery(table)
	rows, err := db.Query(query, args...)
	if err != nil {
		t.Fatalf("columns: %v", err)
	}
	var cols []string
	for rows.Next() {
		var c string
		if err := rows.Scan(&c); err != nil {
			t.Fatal(err)
		}
		cols = append(cols, c)
	}
	_ = rows.Close()
	if len(cols) != 8 {
		t.Errorf("columns = %v", cols)
	}

	if dialect.IsLockTimeout(errors.New("syntax error")) {
		t.Error("syntax error classified as lock timeout")
	}
	if !dialect.IsLockTimeout(errors.New("database is locked (5) (SQLITE_BUSY)")) {
		t.Error("busy message not classified as lock timeout")
	}
}

// A second connection cannot take the lock row while the first holds it.
func TestDialect_LockRowBlocksSecondWriter(t *testing.T) {
	dialect := NewDialect()
	path := filepath.Join(t.TempDir(), "lock.db")
	ctx := context.Background()
	db1, err := dialect.Connect(ctx, map[string]any{"path": path})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db1.Close() }()
	db2, err := dialect.Connect(ctx, map[string]any{"path": path})
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = db2.Close() }()

	mustExec(t, db1, dialect.CreateTableStatement("ledger"))
	mustExec(t, db1, "INSERT INTO ledger (id, release_id, order_id) VALUES (0, '', '')")

	tx1, err := db1.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tx1.Rollback() }()
	if _, err := tx1.Exec(dialect.LockRowStatement("ledger")); err != nil {
		t.Fatalf("first lock: %v", err)
	}

	tx2, err := db2.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer func() { _ = tx2.Rollback() }()
	if _, err := tx2.Exec(dialect.LockTimeoutStatement(100 * time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	_, err = tx2.Exec(dialect.LockRowStatement("ledger"))
	if !dialect.IsLockTimeout(err) {
		t.Fatalf("expected lock timeout, got %v", err)
	}
}

func mustExec(t *testing.T, db *sql.DB, q string) {
	t.Helper()
	if _, err := db.Exec(q); err != nil {
		t.Fatalf("exec %q: %v", q, err)
	}
}
