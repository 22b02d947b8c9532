package task

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestIdentity_Compare(t *testing.T) {
	tests := []struct {
		name string
		a, b Identity
		want int
	}{
		{"equal", NewIdentity("1", "1"), NewIdentity("1", "1"), 0},
		{"release semver", NewIdentity("5_4_0", "1"), NewIdentity("5_10_0", "1"), -1},
		{"release before order", NewIdentity("6_0_0", "1"), NewIdentity("5_10_0", "99"), 1},
		{"order dotted date", NewIdentity("1", "20210722.3"), NewIdentity("1", "20210722.10"), -1},
		{"order numeric not lexical", NewIdentity("1", "9"), NewIdentity("1", "10"), -1},
		{"words lexical", NewIdentity("r", "first"), NewIdentity("r", "second"), -1},
		{"mixed runs", NewIdentity("r", "step2"), NewIdentity("r", "step10"), -1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("%s.Compare(%s) = %d, want %d", tt.a, tt.b, got, tt.want)
			}
			if got := tt.b.Compare(tt.a); got != -tt.want {
				t.Errorf("%s.Compare(%s) = %d, want %d", tt.b, tt.a, got, -tt.want)
			}
		})
	}
}

func permutations(ids []Identity) [][]Identity {
	if len(ids) <= 1 {
		return [][]Identity{append([]Identity(nil), ids...)}
	}
	var out [][]Identity
	for k := range ids {
		rest := make([]Identity, 0, len(ids)-1)
		rest = append(rest, ids[:k]...)
		rest = append(rest, ids[k+1:]...)
		for _, p := range permutations(rest) {
			out = append(out, append([]Identity{ids[k]}, p...))
		}
	}
	return out
}

func TestSort_IndependentOfRegistrationOrder(t *testing.T) {
	ids := []Identity{
		NewIdentity("1", "10"),
		NewIdentity("1", "a"),
		NewIdentity("1", "v2"),
		NewIdentity("1", "2_1"),
		NewIdentity("1", "step3"),
	}
	var want string
	for _, perm := range permutations(ids) {
		tasks := make([]*Task, len(perm))
		for k, id := range perm {
			tasks[k] = NewSQL(id.Release, id.Order, "", "SELECT 1")
		}
		Sort(tasks)
		names := make([]string, len(tasks))
		for k, tk := range tasks {
			names[k] = tk.ID.Order
		}
		got := strings.Join(names, " ")
		if want == "" {
			want = got
		}
		if got != want {
			t.Fatalf("order depends on registration order: %q vs %q", got, want)
		}
	}
	if want != "v2 2_1 10 a step3" {
		t.Fatalf("order = %q", want)
	}

	for _, x := range ids {
		for _, y := range ids {
			for _, z := range ids {
				if x.Less(y) && y.Less(z) && !x.Less(z) {
					t.Errorf("%s < %s < %s but not %s < %s", x, y, z, x, z)
				}
			}
		}
	}
}

func TestIdentity_Validate(t *testing.T) {
	if err := NewIdentity(" ", "1").Validate(); err == nil {
		t.Fatal("expected error for empty release")
	}
	if err := NewIdentity("1", "").Validate(); err == nil {
		t.Fatal("expected error for empty order")
	}
	if !(Identity{}).IsZero() {
		t.Fatal("zero identity should report IsZero")
	}
	if got := NewIdentity("1_0_0", "2").String(); got != "1_0_0.2" {
		t.Fatalf("String() = %q", got)
	}
}

func TestSort_StableAscending(t *testing.T) {
	tasks := []*Task{
		NewSQL("2", "1", "c", "SELECT 1"),
		NewSQL("1", "10", "b", "SELECT 1"),
		NewSQL("1", "2", "a", "SELECT 1"),
	}
	Sort(tasks)
	var got []string
	for _, tk := range tasks {
		got = append(got, tk.Description)
	}
	if strings.Join(got, ",") != "a,b,c" {
		t.Fatalf("sorted order = %v", got)
	}
}

func TestTask_Validate(t *testing.T) {
	ctx := context.Background()

	if err := NewSQL("1", "1", "empty").Validate(ctx, "sqlite"); !errors.Is(err, ErrNoStatements) {
		t.Fatalf("expected ErrNoStatements, got %v", err)
	}

	pgOnly := NewSQL("1", "2", "pg only").ForDialect("postgresql", "CREATE EXTENSION pg_trgm")
	if err := pgOnly.Validate(ctx, "postgresql"); err != nil {
		t.Fatalf("postgres validate: %v", err)
	}
	if err := pgOnly.Validate(ctx, "sqlite"); err == nil {
		t.Fatal("expected sqlite validate to fail for postgres-only task")
	}

	precondition := errors.New("column type mismatch")
	guarded := NewSQL("1", "3", "guarded", "SELECT 1").WithValidation(func(context.Context, string) error {
		return precondition
	})
	if err := guarded.Validate(ctx, "sqlite"); !errors.Is(err, precondition) {
		t.Fatalf("expected precondition error, got %v", err)
	}

	if err := NewFunc("1", "4", "nil body", nil).Validate(ctx, "sqlite"); err == nil {
		t.Fatal("expected error for func task without body")
	}
}

func TestTask_ExecuteSQL_DialectOverride(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	tk := NewSQL("1", "1", "users", "CREATE TABLE users (id INTEGER)").
		ForDialect("PostgreSQL", "CREATE TABLE users (id BIGINT)", "CREATE INDEX users_id ON users(id)")

	mock.ExpectExec("CREATE TABLE users (id BIGINT)").WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("CREATE INDEX users_id ON users(id)").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := tk.Execute(context.Background(), db, "postgresql"); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestTask_ExecuteSQL_StopsAtFirstError(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	if err != nil {
		t.Fatalf("sqlmock: %v", err)
	}
	defer func() { _ = db.Close() }()

	tk := NewSQL("1", "1", "two", "ALTER TABLE a ADD COLUMN b TEXT", "ALTER TABLE a ADD COLUMN c TEXT")
	boom := errors.New("no such table: a")
	mock.ExpectExec("ALTER TABLE a ADD COLUMN b TEXT").WillReturnError(boom)

	err = tk.Execute(context.Background(), db, "sqlite")
	if !errors.Is(err, boom) || !strings.Contains(err.Error(), "statement 1") {
		t.Fatalf("unexpected error %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatal(err)
	}
}

func TestTask_ExecuteFunc(t *testing.T) {
	called := ""
	tk := NewFunc("1", "1", "fn", func(_ context.Context, _ Execer, dialect string) error {
		called = dialect
		return nil
	})
	if err := tk.Execute(context.Background(), nil, "sqlite"); err != nil {
		t.Fatal(err)
	}
	if called != "sqlite" {
		t.Fatalf("func body saw dialect %q", called)
	}
	if tk.Kind.String() != "func" || KindSQL.String() != "sql" {
		t.Fatal("unexpected kind names")
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	write("002_index.yaml", `
release: "1_0_0"
description: index
sql:
  - CREATE INDEX idx_users_name ON users(name)
`)
	write("001_users.yml", `
release: "1_0_0"
order: "1"
description: users
sql:
  - CREATE TABLE users (id INTEGER PRIMARY KEY, name TEXT)
dialects:
  postgresql:
    - CREATE TABLE users (id BIGSERIAL PRIMARY KEY, name TEXT)
`)
	write("README.md", "ignored")

	tasks, err := LoadDir(dir)
	if err != nil {
		t.Fatalf("LoadDir: %v", err)
	}
	if len(tasks) != 2 {
		t.Fatalf("expected 2 tasks, got %d", len(tasks))
	}
	if tasks[0].Description != "users" || tasks[1].ID.Order != "2" {
		t.Fatalf("unexpected tasks %v, %v", tasks[0], tasks[1])
	}
	if got := tasks[0].Statements("postgresql"); len(got) != 1 || !strings.Contains(got[0], "BIGSERIAL") {
		t.Fatalf("postgres statements = %v", got)
	}
	if got := tasks[0].Statements("sqlite"); len(got) != 1 || !strings.Contains(got[0], "INTEGER PRIMARY KEY") {
		t.Fatalf("sqlite statements = %v", got)
	}

	paths, err := ListFiles(dir)
	if err != nil {
		t.Fatalf("ListFiles: %v", err)
	}
	if len(paths) != 2 || filepath.Base(paths[0]) != "001_users.yml" {
		t.Fatalf("ListFiles = %v", paths)
	}
}

func TestDecodeFile_UnknownField(t *testing.T) {
	_, err := DecodeFile(strings.NewReader("release: \"1\"\norder: \"1\"\nup: []\n"))
	if err == nil {
		t.Fatal("expected unknown field error")
	}
}
