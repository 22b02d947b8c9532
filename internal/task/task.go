package task

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Kind tags the closed set of task variants.
type Kind int

const (
	// KindSQL runs an ordered list of statements, optionally chosen per dialect.
	KindSQL Kind = iota
	// KindFunc runs caller-supplied Go code.
	KindFunc
)

func (k Kind) String() string {
	switch k {
	case KindSQL:
		return "sql"
	case KindFunc:
		return "func"
	default:
		return "unknown"
	}
}

// Execer is the subset of *sql.Tx a task body may use. Task bodies run inside the
// migrator's locked ledger transaction.
type Execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// ExecFunc is the body of a KindFunc task.
type ExecFunc func(ctx context.Context, ex Execer, dialect string) error

// ValidateFunc asserts a task's preconditions. It must not touch the schema.
type ValidateFunc func(ctx context.Context, dialect string) error

// ErrNoStatements is returned by Validate when a SQL task has nothing to run for a dialect.
var ErrNoStatements = errors.New("no statements for dialect")

// Task is one forward-only schema change.
type Task struct {
	ID          Identity
	Description string
	Kind        Kind

	// statements by dialect name; "" holds the dialect-agnostic fallback
	statements map[string][]string
	execute    ExecFunc
	validate   ValidateFunc
}

// NewSQL builds a SQL task whose statements apply to every dialect.
func NewSQL(release, order, description string, statements ...string) *Task {
	t := &Task{
		ID:          NewIdentity(release, order),
		Description: strings.TrimSpace(description),
		Kind:        KindSQL,
		statements:  map[string][]string{},
	}
	if len(statements) > 0 {
		t.statements[""] = cleanStatements(statements)
	}
	return t
}

// NewFunc builds a task around fn.
func NewFunc(release, order, description string, fn ExecFunc) *Task {
	return &Task{
		ID:          NewIdentity(release, order),
		Description: strings.TrimSpace(description),
		Kind:        KindFunc,
		execute:     fn,
	}
}

// ForDialect sets the statements used when migrating a database of the given dialect.
func (t *Task) ForDialect(dialect string, statements ...string) *Task {
	if t.statements == nil {
		t.statements = map[string][]string{}
	}
	t.statements[strings.ToLower(strings.TrimSpace(dialect))] = cleanStatements(statements)
	return t
}

// WithValidation attaches a precondition check.
func (t *Task) WithValidation(fn ValidateFunc) *Task {
	t.validate = fn
	return t
}

// Statements returns the statements a SQL task runs for dialect.
func (t *Task) Statements(dialect string) []string {
	if t.Kind != KindSQL {
		return nil
	}
	if s, ok := t.statements[strings.ToLower(dialect)]; ok {
		return s
	}
	return t.statements[""]
}

func (t *Task) String() string {
	if t.Description == "" {
		return t.ID.String()
	}
	return fmt.Sprintf("%s (%s)", t.ID, t.Description)
}

// Validate fails fast when the task cannot be applied against dialect.
func (t *Task) Validate(ctx context.Context, dialect string) error {
	if err := t.ID.Validate(); err != nil {
		return err
	}
	switch t.Kind {
	case KindSQL:
		if len(t.Statements(dialect)) == 0 {
			return fmt.Errorf("task %s: %w %q", t.ID, ErrNoStatements, dialect)
		}
	case KindFunc:
		if t.execute == nil {
			return fmt.Errorf("task %s: no body", t.ID)
		}
	default:
		return fmt.Errorf("task %s: unknown kind %d", t.ID, t.Kind)
	}
	if t.validate != nil {
		if err := t.validate(ctx, dialect); err != nil {
			return fmt.Errorf("task %s: %w", t.ID, err)
		}
	}
	return nil
}

// Execute applies the change through ex. Statements run in order; the first error stops.
func (t *Task) Execute(ctx context.Context, ex Execer, dialect string) error {
	switch t.Kind {
	case KindSQL:
		for i, stmt := range t.Statements(dialect) {
			if _, err := ex.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("statement %d: %w", i+1, err)
			}
		}
		return nil
	case KindFunc:
		return t.execute(ctx, ex, dialect)
	default:
		return fmt.Errorf("unknown task kind %d", t.Kind)
	}
}

// Sort orders tasks by ascending identity, keeping the relative order of equal identities.
func Sort(tasks []*Task) {
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].ID.Less(tasks[j].ID) })
}

func cleanStatements(in []string) []string {
	out := make([]string, 0, len(in))
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
