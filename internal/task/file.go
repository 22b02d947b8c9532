package task

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// taskFileRegex matches files like 001_create_users.yaml, 10_backfill.yml, etc.
var taskFileRegex = regexp.MustCompile(`^(\d+)_.*\.(ya?ml)$`)

// File is the on-disk form of a SQL task.
//
//	release: "1_2_0"
//	order: "20240105.1"
//	description: add users.email index
//	sql:
//	  - CREATE INDEX idx_users_email ON users(email)
//	dialects:
//	  postgresql:
//	    - CREATE INDEX idx_users_email ON users USING btree (email)
type File struct {
	Release     string              `yaml:"release"`
	Order       string              `yaml:"order"`
	Description string              `yaml:"description"`
	SQL         []string            `yaml:"sql"`
	Dialects    map[string][]string `yaml:"dialects"`
}

// Task converts the file into a SQL task. When order is empty the numeric file
// prefix is used.
func (f File) Task(prefix int) *Task {
	order := strings.TrimSpace(f.Order)
	if order == "" && prefix > 0 {
		order = strconv.Itoa(prefix)
	}
	t := NewSQL(f.Release, order, f.Description, f.SQL...)
	for d, stmts := range f.Dialects {
		t.ForDialect(d, stmts...)
	}
	return t
}

type taskFile struct {
	index int
	name  string
	path  string
}

func listTaskFiles(dir string) ([]taskFile, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []taskFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		m := taskFileRegex.FindStringSubmatch(name)
		if len(m) == 0 {
			continue
		}
		idx, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}
		files = append(files, taskFile{index: idx, name: name, path: filepath.Join(dir, name)})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].index < files[j].index })
	return files, nil
}

// ListFiles returns the paths of the task files in dir ordered by numeric prefix.
func ListFiles(dir string) ([]string, error) {
	files, err := listTaskFiles(dir)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(files))
	for _, f := range files {
		out = append(out, f.path)
	}
	return out, nil
}

// LoadDir loads every task file in dir. Tasks are returned in identity order.
func LoadDir(dir string) ([]*Task, error) {
	files, err := listTaskFiles(dir)
	if err != nil {
		return nil, err
	}
	tasks := make([]*Task, 0, len(files))
	for _, f := range files {
		t, err := loadFile(f)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	Sort(tasks)
	return tasks, nil
}

// LoadFile loads a single task file.
func LoadFile(path string) (*Task, error) {
	name := filepath.Base(path)
	idx := 0
	if m := taskFileRegex.FindStringSubmatch(name); len(m) > 0 {
		idx, _ = strconv.Atoi(m[1])
	}
	return loadFile(taskFile{index: idx, name: name, path: path})
}

func loadFile(f taskFile) (*Task, error) {
	clean := filepath.Clean(f.path)
	// #nosec G304 -- path comes from a directory listing of task files
	fh, err := os.Open(clean)
	if err != nil {
		return nil, err
	}
	defer func() { _ = fh.Close() }()
	doc, err := DecodeFile(fh)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", f.name, err)
	}
	return doc.Task(f.index), nil
}

// DecodeFile decodes one YAML task document.
func DecodeFile(r io.Reader) (File, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		return File{}, err
	}
	return f, nil
}
