package postgresql

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestDialect_Placeholder(t *testing.T) {
	dialect := NewDialect()

	tests := []struct {
		index int
		want  string
	}{
		{1, "$1"},
		{2, "$2"},
		{10, "$10"},
	}
	for _, tt := range tests {
		if got := dialect.Placeholder(tt.index); got != tt.want {
			t.Errorf("Placeholder(%d) = %v, want %v", tt.index, got, tt.want)
		}
	}
}

func TestDialect_InsertIgnore(t *testing.T) {
	got := NewDialect().InsertIgnore("ledger", []string{"a", "b"})
	want := "INSERT INTO ledger (a, b) VALUES ($1, $2) ON CONFLICT DO NOTHING"
	if got != want {
		t.Errorf("InsertIgnore() = %q, want %q", got, want)
	}
}

func TestDialect_Storage(t *testing.T) {
	dialect := NewDialect()
	if got := dialect.BoolToStorage(true); !reflect.DeepEqual(got, true) {
		t.Errorf("BoolToStorage(true) = %v", got)
	}
	if !dialect.BoolFromStorage(true) || dialect.BoolFromStorage(int64(1)) {
		t.Error("BoolFromStorage mismatch")
	}

	local := time.Date(2024, 5, 1, 12, 0, 0, 0, time.FixedZone("KST", 9*3600))
	stored := dialect.TimeToStorage(local).(time.Time)
	if stored.Location() != time.UTC || !stored.Equal(local) {
		t.Errorf("TimeToStorage = %v", stored)
	}
	back, err := dialect.TimeFromStorage(&local)
	if err != nil || !back.Equal(local) {
		t.Errorf("TimeFromStorage = %v, %v", back, err)
	}
	if _, err := dialect.TimeFromStorage("2024-05-01"); err == nil {
		t.Error("expected error for string timestamp")
	}
}

func TestDialect_LockStatements(t *testing.T) {
	dialect := NewDialect()
	if got := dialect.LockTimeoutStatement(0); got != "" {
		t.Errorf("zero timeout should keep server setting, got %q", got)
	}
	if got := dialect.LockTimeoutStatement(2 * time.Second); got != "SET LOCAL lock_timeout = 2000" {
		t.Errorf("LockTimeoutStatement = %q", got)
	}
	if got := dialect.LockRowStatement("app.ledger"); got != "SELECT id FROM app.ledger WHERE id = 0 FOR UPDATE" {
		t.Errorf("LockRowStatement = %q", got)
	}
	if got := dialect.RestoreLockTimeoutStatement("0"); got != "SET LOCAL lock_timeout = '0'" {
		t.Errorf("RestoreLockTimeoutStatement = %q", got)
	}
	if got := dialect.RestoreLockTimeoutStatement("1s'"); got != "SET LOCAL lock_timeout = '1s'''" {
		t.Errorf("quoted value = %q", got)
	}
}

func TestDialect_IndexAndColumns(t *testing.T) {
	dialect := NewDialect()
	if got := dialect.IndexStatement("app.Ledger"); !strings.HasPrefix(got, "CREATE UNIQUE INDEX IF NOT EXISTS Ledger_success_uq ON app.Ledger") {
		t.Errorf("IndexStatement = %q", got)
	}
	q, args := dialect.ColumnsQuery("app.Ledger")
	if !strings.Contains(q, "table_schema = $1") || !reflect.DeepEqual(args, []any{"app", "ledger"}) {
		t.Errorf("ColumnsQuery = %q %v", q, args)
	}
	q, args = dialect.ColumnsQuery("ledger")
	if !strings.Contains(q, "current_schema()") || len(args) != 1 {
		t.Errorf("ColumnsQuery = %q %v", q, args)
	}
}

func TestDialect_ErrorClassification(t *testing.T) {
	dialect := NewDialect()
	wrap := func(code string) error {
		return fmt.Errorf("exec: %w", &pgconn.PgError{Code: code, Message: "x"})
	}

	tests := []struct {
		name string
		err  error
		fn   func(error) bool
		want bool
	}{
		{"duplicate table", wrap("42P07"), dialect.IsAlreadyExists, true},
		{"create race", wrap("23505"), dialect.IsAlreadyExists, true},
		{"unique violation", wrap("23505"), dialect.IsDuplicateKey, true},
		{"duplicate column", wrap("42701"), dialect.IsDuplicateColumn, true},
		{"lock not available", wrap("55P03"), dialect.IsLockTimeout, true},
		{"deadlock", wrap("40P01"), dialect.IsDeadlock, true},
		{"deadlock is not timeout", wrap("40P01"), dialect.IsLockTimeout, false},
		{"plain error", errors.New("55P03"), dialect.IsLockTimeout, false},
		{"nil", nil, dialect.IsDuplicateKey, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.fn(tt.err); got != tt.want {
				t.Errorf("classification of %v = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestConfig_ConnString(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want string
	}{
		{"explicit dsn", Config{DSN: " postgres://a@h/db ", Host: "ignored"}, "postgres://a@h/db"},
		{"components", Config{Host: "db", User: "app", Password: "p@ss", DBName: "main"}, "postgres://app:p%40ss@db:5432/main?sslmode=disable"},
		{"custom port and ssl", Config{Host: "db", Port: 6543, User: "app", DBName: "main", SSLMode: "require"}, "postgres://app@db:6543/main?sslmode=require"},
		{"nothing", Config{}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.cfg.ConnString(); got != tt.want {
				t.Errorf("ConnString() = %q, want %q", got, tt.want)
			}
		})
	}

	cfg, err := FromMap(map[string]any{"host": "db", "port": "5433", "user": "u", "dbname": "d"})
	if err != nil {
		t.Fatalf("FromMap: %v", err)
	}
	if cfg.Port != 5433 || cfg.ToMap()["dsn"] != "postgres://u@db:5433/d?sslmode=disable" {
		t.Errorf("FromMap = %+v", cfg)
	}
}
