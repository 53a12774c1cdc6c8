package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"testing"
	"text/template"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/chassis/criteria"
	"github.com/drblury/chassis/entity"
	cerrors "github.com/drblury/chassis/internal/core/errors"
	"github.com/drblury/chassis/storage"
)

type invoice struct {
	entity.Root
	Reference string  `json:"reference" chassis:"unique"`
	Status    string  `json:"status" chassis:"index"`
	Total     float64 `json:"total"`
	Notes     string  `json:"notes" db:"note_text"`
}

type fakeDialect struct{}

func (fakeDialect) Name() string { return "fake" }

func (fakeDialect) Open(context.Context, storage.Config) (*sql.DB, error) {
	return nil, errors.New("fake dialect cannot open connections")
}

func (fakeDialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (fakeDialect) ColumnType(col entity.Column) string {
	switch col.Type {
	case entity.ColumnString:
		if col.Length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", col.Length)
		}
		return "TEXT"
	case entity.ColumnInteger:
		return "BIGINT"
	case entity.ColumnFloat:
		return "DOUBLE"
	case entity.ColumnBool:
		return "BOOLEAN"
	case entity.ColumnDatetime:
		return "TIMESTAMP"
	default:
		return "JSON"
	}
}

func (fakeDialect) JSONField(column, attr string, _ entity.ColumnType) string {
	return fmt.Sprintf("json(%s,'%s')", column, attr)
}

func (fakeDialect) TableColumns(context.Context, *sql.DB, string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

func (fakeDialect) TableIndexes(context.Context, *sql.DB, string) (map[string]bool, error) {
	return map[string]bool{}, nil
}

type testConf struct{ mapAll bool }

func (testConf) GetStorageDriver() string { return "fake" }
func (testConf) GetSQLiteFile() string    { return "" }
func (testConf) GetPostgresURL() string   { return "" }
func (c testConf) GetStorageMapAll() bool { return c.mapAll }

func newTestStore(t *testing.T, mapAll bool) (*Store, *entity.Definition) {
	t.Helper()
	def, err := entity.Describe[invoice]()
	require.NoError(t, err)
	return New(fakeDialect{}, testConf{mapAll: mapAll}, watermill.NopLogger{}), def
}

func TestGenerateCreateTable(t *testing.T) {
	t.Parallel()

	s, def := newTestStore(t, false)
	query, err := s.generate("create_table", tableData{
		Table:   def.Table,
		Columns: s.renderColumns(def.Columns(false)),
	})
	require.NoError(t, err)
	assert.Equal(t,
		"CREATE TABLE IF NOT EXISTS invoice ( id VARCHAR(36) PRIMARY KEY, document JSON, reference TEXT, status TEXT, deleted_on TIMESTAMP )",
		query)
}

func TestGenerateSelectWindowing(t *testing.T) {
	t.Parallel()

	s, _ := newTestStore(t, false)
	query, err := s.generate("select", selectData{
		Table:      "invoice",
		ColumnList: "id, document",
		Where:      "status = $1",
		OrderBy:    "status DESC",
		Limit:      "10",
		Offset:     "5",
	})
	require.NoError(t, err)
	assert.Equal(t, "SELECT id, document FROM invoice WHERE status = $1 ORDER BY status DESC LIMIT 10 OFFSET 5", query)
}

func TestTemplateDialectOverride(t *testing.T) {
	t.Parallel()

	fallback, err := lookupTemplate("fake", "truncate")
	require.NoError(t, err)
	pg, err := lookupTemplate("postgres", "truncate")
	require.NoError(t, err)

	assert.Equal(t, "DELETE FROM invoice", normalizeSQL(renderTo(t, fallback, tableData{Table: "invoice"})))
	assert.Equal(t, "TRUNCATE TABLE invoice", normalizeSQL(renderTo(t, pg, tableData{Table: "invoice"})))
}

func TestGenerateDropStatements(t *testing.T) {
	t.Parallel()

	s, def := newTestStore(t, false)

	query, err := s.generate("drop_column", dropColumnData{Table: def.Table, Column: "status"})
	require.NoError(t, err)
	assert.Equal(t, "ALTER TABLE invoice DROP COLUMN status", query)

	query, err = s.generate("drop_index", indexData{Table: def.Table, Name: "idx_invoice_status"})
	require.NoError(t, err)
	assert.Equal(t, "DROP INDEX IF EXISTS idx_invoice_status", query)
}

func TestDropColumnRejectsEmptyName(t *testing.T) {
	t.Parallel()

	s, def := newTestStore(t, false)
	assert.ErrorIs(t, s.DropColumn(context.Background(), def, ""), cerrors.ErrInvalidArgument)
	assert.ErrorIs(t, s.DropIndex(context.Background(), def, ""), cerrors.ErrInvalidArgument)
}

func TestTemplateUnknownName(t *testing.T) {
	t.Parallel()

	_, err := lookupTemplate("fake", "upsert")
	assert.ErrorIs(t, err, cerrors.ErrFramework)
}

func TestWhereClauseRealAndDocumentColumns(t *testing.T) {
	t.Parallel()

	s, def := newTestStore(t, false)
	q := storage.Query{
		Criteria: criteria.And(
			criteria.Attr("status").Eq("open"),
			criteria.Attr("total").Gte(100),
		),
	}
	where, args, err := s.whereClause(def, q)
	require.NoError(t, err)
	assert.Equal(t, "(status = $1 AND json(document,'total') >= $2) AND deleted_on IS NULL", where)
	assert.Equal(t, []any{"open", 100}, args)
}

func TestWhereClauseIncludeDeleted(t *testing.T) {
	t.Parallel()

	s, def := newTestStore(t, false)
	where, args, err := s.whereClause(def, storage.Query{
		Criteria:       criteria.Attr("status").Eq("open"),
		IncludeDeleted: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "status = $1", where)
	assert.Len(t, args, 1)
}

func TestWhereClauseOperators(t *testing.T) {
	t.Parallel()

	s, def := newTestStore(t, false)

	where, args, err := s.whereClause(def, storage.Query{
		Criteria:       criteria.Attr("status").In("open", "paid"),
		IncludeDeleted: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "status IN ($1, $2)", where)
	assert.Equal(t, []any{"open", "paid"}, args)

	where, _, err = s.whereClause(def, storage.Query{
		Criteria:       criteria.Attr("notes").IsNone(),
		IncludeDeleted: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "json(document,'notes') IS NULL", where)

	where, args, err = s.whereClause(def, storage.Query{
		Criteria:       criteria.Attr("reference").StartsWith("INV-"),
		IncludeDeleted: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "reference LIKE $1", where)
	assert.Equal(t, []any{"INV-%"}, args)

	where, args, err = s.whereClause(def, storage.Query{
		Criteria:       criteria.Attr("notes").Contains("urgent"),
		IncludeDeleted: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "json(document,'notes') LIKE $1", where)
	assert.Equal(t, []any{"%urgent%"}, args)

	where, _, err = s.whereClause(def, storage.Query{
		Criteria:       criteria.Attr("status").In(),
		IncludeDeleted: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "1 = 0", where)
}

func TestWhereClauseDBNameResolvesToJSONPath(t *testing.T) {
	t.Parallel()

	// A document field addressed by its db name must compile to the json
	// name, the document stores json names only.
	s, def := newTestStore(t, false)
	where, _, err := s.whereClause(def, storage.Query{
		Criteria:       criteria.Attr("note_text").Eq("urgent"),
		IncludeDeleted: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "json(document,'notes') = $1", where)
}

func TestWhereClauseMapAllRejectsUnknownAttr(t *testing.T) {
	t.Parallel()

	s, def := newTestStore(t, true)
	_, _, err := s.whereClause(def, storage.Query{
		Criteria: criteria.Attr("nonexistent").Eq(1),
	})
	assert.ErrorIs(t, err, cerrors.ErrInvalidArgument)
}

func TestWhereClauseMapAllUsesRealColumns(t *testing.T) {
	t.Parallel()

	s, def := newTestStore(t, true)
	where, _, err := s.whereClause(def, storage.Query{
		Criteria:       criteria.Attr("total").Gt(10),
		IncludeDeleted: true,
	})
	require.NoError(t, err)
	assert.Equal(t, "total > $1", where)
}

func TestOrderClause(t *testing.T) {
	t.Parallel()

	s, def := newTestStore(t, false)
	order, err := s.orderClause(def, []storage.SortKey{
		{Field: "status"},
		{Field: "total", Desc: true},
	})
	require.NoError(t, err)
	assert.Equal(t, "status, json(document,'total') DESC", order)
}

func TestSoftDeleteFilterAlone(t *testing.T) {
	t.Parallel()

	s, def := newTestStore(t, false)
	where, args, err := s.whereClause(def, storage.Query{})
	require.NoError(t, err)
	assert.Equal(t, "deleted_on IS NULL", where)
	assert.Empty(t, args)
}

func renderTo(t *testing.T, tmpl *template.Template, data any) string {
	t.Helper()
	var buf strings.Builder
	require.NoError(t, tmpl.Execute(&buf, data))
	return buf.String()
}
