// Package sqlite registers the "sqlite" storage driver.
//
// The driver runs the shared sqlstore on a local SQLite file, WAL journaling
// enabled and a single writer connection. Good for single process
// deployments and integration tests.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ThreeDotsLabs/watermill"
	_ "github.com/mattn/go-sqlite3"

	"github.com/drblury/chassis/entity"
	"github.com/drblury/chassis/storage"
	"github.com/drblury/chassis/storage/sqlstore"
)

// DefaultFile is used when no sqlite file is configured.
const DefaultFile = "chassis.db"

// Factory builds the sqlite backend. Tests may override it.
var Factory storage.Builder = func(_ context.Context, conf storage.Config, logger watermill.LoggerAdapter) (storage.Backend, error) {
	return sqlstore.New(Dialect{}, conf, logger), nil
}

func init() {
	storage.Register("sqlite", func(ctx context.Context, conf storage.Config, logger watermill.LoggerAdapter) (storage.Backend, error) {
		return Factory(ctx, conf, logger)
	})
}

// Dialect adapts sqlstore to SQLite.
type Dialect struct{}

func (Dialect) Name() string { return "sqlite" }

func (Dialect) Open(_ context.Context, conf storage.Config) (*sql.DB, error) {
	file := conf.GetSQLiteFile()
	if file == "" {
		file = DefaultFile
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on", file)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// SQLite allows one writer, a larger pool only produces SQLITE_BUSY.
	db.SetMaxOpenConns(1)
	return db, nil
}

func (Dialect) Placeholder(int) string { return "?" }

func (Dialect) ColumnType(col entity.Column) string {
	switch col.Type {
	case entity.ColumnInteger:
		return "INTEGER"
	case entity.ColumnFloat:
		return "REAL"
	case entity.ColumnBool:
		return "BOOLEAN"
	case entity.ColumnDatetime:
		return "TIMESTAMP"
	default:
		return "TEXT"
	}
}

func (Dialect) JSONField(column, attr string, _ entity.ColumnType) string {
	return fmt.Sprintf("json_extract(%s, '$.%s')", column, attr)
}

func (Dialect) TableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var (
			cid     int
			name    string
			typ     string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

func (Dialect) TableIndexes(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx, fmt.Sprintf("PRAGMA index_list(%s)", table))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var (
			seq     int
			name    string
			unique  int
			origin  string
			partial int
		)
		if err := rows.Scan(&seq, &name, &unique, &origin, &partial); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}
