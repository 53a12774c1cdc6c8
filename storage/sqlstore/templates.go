package sqlstore

import (
	"embed"
	"fmt"
	"strings"
	"sync"
	"text/template"

	cerrors "github.com/drblury/chassis/internal/core/errors"
)

//go:embed templates
var templateFS embed.FS

var (
	templateMu    sync.Mutex
	templateCache = map[string]*template.Template{}
)

type columnDef struct {
	Name string
	Type string
	IsID bool
}

type tableData struct {
	Table   string
	Columns []columnDef
}

type addColumnData struct {
	Table  string
	Column columnDef
}

type dropColumnData struct {
	Table  string
	Column string
}

type indexData struct {
	Table      string
	Name       string
	Unique     bool
	ColumnList string
}

type insertData struct {
	Table           string
	ColumnList      string
	PlaceholderList string
}

type updateData struct {
	Table         string
	Assignments   string
	IDColumn      string
	IDPlaceholder string
}

type selectData struct {
	Table      string
	ColumnList string
	Where      string
	OrderBy    string
	Limit      string
	Offset     string
}

// generate renders and normalizes one SQL statement for the store's dialect.
func (s *Store) generate(name string, data any) (string, error) {
	tmpl, err := lookupTemplate(s.dialect.Name(), name)
	if err != nil {
		return "", err
	}
	var buf strings.Builder
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render SQL template %q: %w", name, err)
	}
	return normalizeSQL(buf.String()), nil
}

// lookupTemplate resolves a statement template, preferring the dialect
// override over the default.
func lookupTemplate(dialect, name string) (*template.Template, error) {
	key := dialect + "/" + name
	templateMu.Lock()
	defer templateMu.Unlock()
	if tmpl, ok := templateCache[key]; ok {
		return tmpl, nil
	}
	candidates := []string{
		"templates/" + dialect + "/" + name + ".sql.tmpl",
		"templates/default/" + name + ".sql.tmpl",
	}
	for _, path := range candidates {
		data, err := templateFS.ReadFile(path)
		if err != nil {
			continue
		}
		tmpl, err := template.New(name).Parse(string(data))
		if err != nil {
			return nil, fmt.Errorf("parse SQL template %s: %w", path, err)
		}
		templateCache[key] = tmpl
		return tmpl, nil
	}
	return nil, fmt.Errorf("%w: no SQL template %q for dialect %q", cerrors.ErrFramework, name, dialect)
}

// normalizeSQL collapses template whitespace so logs and tests see one line.
func normalizeSQL(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
