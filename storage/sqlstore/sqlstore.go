// Package sqlstore implements the storage backend contract on database/sql.
//
// All SQL text lives in embedded templates. A statement resolves to
// templates/<dialect>/<name>.sql.tmpl when the dialect overrides it and falls
// back to templates/default/<name>.sql.tmpl otherwise, so engine specific
// syntax stays in small override files instead of branching code. Dialects
// supply connection handling, placeholder style, DDL types and JSON access.
package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/chassis/criteria"
	"github.com/drblury/chassis/entity"
	cerrors "github.com/drblury/chassis/internal/core/errors"
	"github.com/drblury/chassis/storage"
)

// Dialect adapts the shared store to one database engine.
type Dialect interface {
	Name() string
	Open(ctx context.Context, conf storage.Config) (*sql.DB, error)

	// Placeholder renders the 1-based n-th statement parameter.
	Placeholder(n int) string
	// ColumnType renders the DDL type for a derived column.
	ColumnType(col entity.Column) string
	// JSONField renders an expression reading attr out of a JSON column.
	// typ hints the comparison type, empty means unknown.
	JSONField(column, attr string, typ entity.ColumnType) string

	TableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error)
	TableIndexes(ctx context.Context, db *sql.DB, table string) (map[string]bool, error)
}

// Store is a storage.Backend over database/sql, shared by every SQL dialect.
type Store struct {
	dialect Dialect
	conf    storage.Config
	logger  watermill.LoggerAdapter

	connectMu sync.Mutex
	db        *sql.DB

	tablesMu      sync.Mutex
	tablesChecked map[string]bool
}

// New builds a store for the given dialect. The connection opens lazily on
// first use.
func New(dialect Dialect, conf storage.Config, logger watermill.LoggerAdapter) *Store {
	if logger == nil {
		logger = watermill.NopLogger{}
	}
	return &Store{
		dialect:       dialect,
		conf:          conf,
		logger:        logger.With(watermill.LogFields{"dialect": dialect.Name()}),
		tablesChecked: map[string]bool{},
	}
}

// Connect opens and verifies the database connection.
func (s *Store) Connect(ctx context.Context) error {
	_, err := s.handle(ctx)
	return err
}

// Close releases the database connection.
func (s *Store) Close() error {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()
	if s.db == nil {
		return nil
	}
	err := s.db.Close()
	s.db = nil
	return err
}

func (s *Store) handle(ctx context.Context) (*sql.DB, error) {
	s.connectMu.Lock()
	defer s.connectMu.Unlock()
	if s.db != nil {
		return s.db, nil
	}
	db, err := s.dialect.Open(ctx, s.conf)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", s.dialect.Name(), err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s: %w", s.dialect.Name(), err)
	}
	s.db = db
	s.logger.Info("storage connected", nil)
	return db, nil
}

// Ensure creates the table, missing columns and missing indexes for def. The
// check runs once per table and process, repeated calls are free.
func (s *Store) Ensure(ctx context.Context, def *entity.Definition) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	s.tablesMu.Lock()
	defer s.tablesMu.Unlock()
	if s.tablesChecked[def.Table] {
		return nil
	}

	cols := def.Columns(s.conf.GetStorageMapAll())
	query, err := s.generate("create_table", tableData{
		Table:   def.Table,
		Columns: s.renderColumns(cols),
	})
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", def.Table, err)
	}

	existing, err := s.dialect.TableColumns(ctx, db, def.Table)
	if err != nil {
		return fmt.Errorf("inspect columns of %s: %w", def.Table, err)
	}
	for _, col := range cols {
		if existing[col.Name] {
			continue
		}
		query, err := s.generate("add_column", addColumnData{
			Table:  def.Table,
			Column: s.renderColumn(col),
		})
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("add column %s.%s: %w", def.Table, col.Name, err)
		}
		s.logger.Debug("column added", watermill.LogFields{"table": def.Table, "column": col.Name})
	}

	existingIdx, err := s.dialect.TableIndexes(ctx, db, def.Table)
	if err != nil {
		return fmt.Errorf("inspect indexes of %s: %w", def.Table, err)
	}
	for _, idx := range def.Indexes() {
		if existingIdx[idx.Name] {
			continue
		}
		query, err := s.generate("create_index", indexData{
			Table:      idx.Table,
			Name:       idx.Name,
			Unique:     idx.Unique,
			ColumnList: strings.Join(idx.Columns, ", "),
		})
		if err != nil {
			return err
		}
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("create index %s: %w", idx.Name, err)
		}
		s.logger.Debug("index created", watermill.LogFields{"table": def.Table, "index": idx.Name})
	}

	s.tablesChecked[def.Table] = true
	return nil
}

// Truncate removes every row of the table.
func (s *Store) Truncate(ctx context.Context, def *entity.Definition) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	query, err := s.generate("truncate", tableData{Table: def.Table})
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("truncate %s: %w", def.Table, err)
	}
	return nil
}

// Drop removes the table entirely.
func (s *Store) Drop(ctx context.Context, def *entity.Definition) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	query, err := s.generate("drop_table", tableData{Table: def.Table})
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("drop %s: %w", def.Table, err)
	}
	s.tablesMu.Lock()
	delete(s.tablesChecked, def.Table)
	s.tablesMu.Unlock()
	return nil
}

// DropColumn removes one column from the table. The table is re-checked on
// the next Ensure so a renamed field grows its replacement column.
func (s *Store) DropColumn(ctx context.Context, def *entity.Definition, column string) error {
	if column == "" {
		return fmt.Errorf("%w: empty column name", cerrors.ErrInvalidArgument)
	}
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	query, err := s.generate("drop_column", dropColumnData{Table: def.Table, Column: column})
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("drop column %s.%s: %w", def.Table, column, err)
	}
	s.tablesMu.Lock()
	delete(s.tablesChecked, def.Table)
	s.tablesMu.Unlock()
	return nil
}

// DropIndex removes one index by name.
func (s *Store) DropIndex(ctx context.Context, def *entity.Definition, name string) error {
	if name == "" {
		return fmt.Errorf("%w: empty index name", cerrors.ErrInvalidArgument)
	}
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	query, err := s.generate("drop_index", indexData{Table: def.Table, Name: name})
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("drop index %s: %w", name, err)
	}
	s.tablesMu.Lock()
	delete(s.tablesChecked, def.Table)
	s.tablesMu.Unlock()
	return nil
}

// Insert writes rows in one transaction through a prepared statement.
func (s *Store) Insert(ctx context.Context, def *entity.Definition, rows []storage.Row) error {
	if len(rows) == 0 {
		return nil
	}
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	names := s.columnNames(def)
	placeholders := make([]string, len(names))
	for i := range names {
		placeholders[i] = s.dialect.Placeholder(i + 1)
	}
	query, err := s.generate("insert", insertData{
		Table:           def.Table,
		ColumnList:      strings.Join(names, ", "),
		PlaceholderList: strings.Join(placeholders, ", "),
	})
	if err != nil {
		return err
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("prepare insert for %s: %w", def.Table, err)
	}
	defer stmt.Close()

	for _, row := range rows {
		args := make([]any, len(names))
		for i, name := range names {
			args[i] = row[name]
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return fmt.Errorf("insert into %s: %w", def.Table, err)
		}
	}
	return tx.Commit()
}

// Select returns the rows matching q.
func (s *Store) Select(ctx context.Context, def *entity.Definition, q storage.Query) ([]storage.Row, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return nil, err
	}

	names := s.columnNames(def)
	where, args, err := s.whereClause(def, q)
	if err != nil {
		return nil, err
	}
	orderBy, err := s.orderClause(def, q.Sort)
	if err != nil {
		return nil, err
	}

	data := selectData{
		Table:      def.Table,
		ColumnList: strings.Join(names, ", "),
		Where:      where,
		OrderBy:    orderBy,
	}
	if q.Limit != nil {
		data.Limit = strconv.Itoa(*q.Limit)
		if q.Offset != nil {
			data.Offset = strconv.Itoa(*q.Offset)
		}
	}
	query, err := s.generate("select", data)
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select from %s: %w", def.Table, err)
	}
	defer rows.Close()
	return scanRows(rows, names)
}

// Count returns the number of rows matching q, ignoring sort and windowing.
func (s *Store) Count(ctx context.Context, def *entity.Definition, q storage.Query) (int, error) {
	db, err := s.handle(ctx)
	if err != nil {
		return 0, err
	}
	where, args, err := s.whereClause(def, q)
	if err != nil {
		return 0, err
	}
	query, err := s.generate("count", selectData{Table: def.Table, Where: where})
	if err != nil {
		return 0, err
	}
	var n int
	if err := db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", def.Table, err)
	}
	return n, nil
}

// Update overwrites the row identified by id.
func (s *Store) Update(ctx context.Context, def *entity.Definition, id string, row storage.Row) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}

	idColumn := s.idColumn(def)
	var (
		assignments []string
		args        []any
	)
	for _, name := range s.columnNames(def) {
		if name == idColumn {
			continue
		}
		value, ok := row[name]
		if !ok {
			continue
		}
		args = append(args, value)
		assignments = append(assignments, name+" = "+s.dialect.Placeholder(len(args)))
	}
	if len(assignments) == 0 {
		return nil
	}
	args = append(args, id)

	query, err := s.generate("update", updateData{
		Table:         def.Table,
		Assignments:   strings.Join(assignments, ", "),
		IDColumn:      idColumn,
		IDPlaceholder: s.dialect.Placeholder(len(args)),
	})
	if err != nil {
		return err
	}
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update %s: %w", def.Table, err)
	}
	affected, err := res.RowsAffected()
	if err == nil && affected == 0 {
		return fmt.Errorf("%w: %s %q", cerrors.ErrNoResultFound, def.Name, id)
	}
	return nil
}

// Delete removes the row identified by id. Deleting a missing row is a no-op.
func (s *Store) Delete(ctx context.Context, def *entity.Definition, id string) error {
	db, err := s.handle(ctx)
	if err != nil {
		return err
	}
	query, err := s.generate("delete", updateData{
		Table:         def.Table,
		IDColumn:      s.idColumn(def),
		IDPlaceholder: s.dialect.Placeholder(1),
	})
	if err != nil {
		return err
	}
	if _, err := db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("delete from %s: %w", def.Table, err)
	}
	return nil
}

func (s *Store) columnNames(def *entity.Definition) []string {
	cols := def.Columns(s.conf.GetStorageMapAll())
	names := make([]string, len(cols))
	for i, c := range cols {
		names[i] = c.Name
	}
	return names
}

func (s *Store) idColumn(def *entity.Definition) string {
	for _, c := range def.Columns(s.conf.GetStorageMapAll()) {
		if c.IsID {
			return c.Name
		}
	}
	return "id"
}

func (s *Store) renderColumns(cols []entity.Column) []columnDef {
	out := make([]columnDef, len(cols))
	for i, c := range cols {
		out[i] = s.renderColumn(c)
	}
	return out
}

func (s *Store) renderColumn(c entity.Column) columnDef {
	return columnDef{Name: c.Name, Type: s.dialect.ColumnType(c), IsID: c.IsID}
}

// whereClause compiles the criteria tree and the soft delete filter.
func (s *Store) whereClause(def *entity.Definition, q storage.Query) (string, []any, error) {
	var (
		parts []string
		args  []any
	)
	if q.Criteria != nil {
		if err := q.Criteria.Validate(); err != nil {
			return "", nil, err
		}
		expr, err := s.compileNode(def, q.Criteria, &args)
		if err != nil {
			return "", nil, err
		}
		parts = append(parts, expr)
	}
	if def.HasSoftDelete() && !q.IncludeDeleted {
		parts = append(parts, entity.SoftDeleteColumn+" IS NULL")
	}
	return strings.Join(parts, " AND "), args, nil
}

func (s *Store) compileNode(def *entity.Definition, n *criteria.Node, args *[]any) (string, error) {
	if n.Op.Logical() {
		left, err := s.compileNode(def, n.Left(), args)
		if err != nil {
			return "", err
		}
		right, err := s.compileNode(def, n.Right(), args)
		if err != nil {
			return "", err
		}
		op := "AND"
		if n.Op == criteria.OpOr {
			op = "OR"
		}
		return "(" + left + " " + op + " " + right + ")", nil
	}

	column, err := s.columnExpr(def, n.AttrName())
	if err != nil {
		return "", err
	}
	switch n.Op {
	case criteria.OpEq:
		return column + " = " + s.bind(args, n.R), nil
	case criteria.OpNe:
		return column + " <> " + s.bind(args, n.R), nil
	case criteria.OpGt:
		return column + " > " + s.bind(args, n.R), nil
	case criteria.OpGte:
		return column + " >= " + s.bind(args, n.R), nil
	case criteria.OpLt:
		return column + " < " + s.bind(args, n.R), nil
	case criteria.OpLte:
		return column + " <= " + s.bind(args, n.R), nil
	case criteria.OpIs:
		return column + " IS NULL", nil
	case criteria.OpIn:
		values := toAnySlice(n.R)
		if len(values) == 0 {
			return "1 = 0", nil
		}
		placeholders := make([]string, len(values))
		for i, v := range values {
			placeholders[i] = s.bind(args, v)
		}
		return column + " IN (" + strings.Join(placeholders, ", ") + ")", nil
	case criteria.OpContains:
		return column + " LIKE " + s.bind(args, "%"+fmt.Sprint(n.R)+"%"), nil
	case criteria.OpStartsWith:
		return column + " LIKE " + s.bind(args, fmt.Sprint(n.R)+"%"), nil
	default:
		return "", fmt.Errorf("%w: criteria operator %q has no SQL form", cerrors.ErrInvalidArgument, string(n.Op))
	}
}

func (s *Store) bind(args *[]any, v any) string {
	*args = append(*args, v)
	return s.dialect.Placeholder(len(*args))
}

// columnExpr resolves an attribute to a real column or a JSON path into the
// document.
func (s *Store) columnExpr(def *entity.Definition, attr string) (string, error) {
	if attr == "" {
		return "", fmt.Errorf("%w: empty criteria attribute", cerrors.ErrInvalidArgument)
	}
	mapAll := s.conf.GetStorageMapAll()
	jsonName := attr
	var typ entity.ColumnType
	for _, f := range def.Fields() {
		if f.JSONName != attr && f.DBName != attr {
			continue
		}
		if mapAll || f.Indexed || f.IsID || f.DBName == entity.SoftDeleteColumn {
			return f.DBName, nil
		}
		// Document fields are addressed by their JSON name even when the
		// criteria used the db name.
		jsonName = f.JSONName
		typ = f.Column
		break
	}
	if mapAll {
		return "", fmt.Errorf("%w: unknown attribute %q on %s", cerrors.ErrInvalidArgument, attr, def.Name)
	}
	return s.dialect.JSONField(entity.DocumentColumn, jsonName, typ), nil
}

func (s *Store) orderClause(def *entity.Definition, sort []storage.SortKey) (string, error) {
	if len(sort) == 0 {
		return "", nil
	}
	parts := make([]string, 0, len(sort))
	for _, key := range sort {
		expr, err := s.columnExpr(def, key.Field)
		if err != nil {
			return "", err
		}
		if key.Desc {
			expr += " DESC"
		}
		parts = append(parts, expr)
	}
	return strings.Join(parts, ", "), nil
}

func toAnySlice(v any) []any {
	switch t := v.(type) {
	case nil:
		return nil
	case []any:
		return t
	case []string:
		out := make([]any, len(t))
		for i, s := range t {
			out[i] = s
		}
		return out
	case []int:
		out := make([]any, len(t))
		for i, n := range t {
			out[i] = n
		}
		return out
	default:
		return []any{v}
	}
}

func scanRows(rows *sql.Rows, names []string) ([]storage.Row, error) {
	var out []storage.Row
	for rows.Next() {
		values := make([]any, len(names))
		ptrs := make([]any, len(names))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}
		row := make(storage.Row, len(names))
		for i, name := range names {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[name] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
