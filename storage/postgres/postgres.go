// Package postgres registers the "postgres" storage driver.
//
// Documents live in a JSONB column, indexed attributes are promoted to real
// columns and criteria against unindexed attributes compile to JSONB path
// expressions with a cast matching the attribute type.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	_ "github.com/lib/pq"

	"github.com/drblury/chassis/entity"
	cerrors "github.com/drblury/chassis/internal/core/errors"
	"github.com/drblury/chassis/storage"
	"github.com/drblury/chassis/storage/sqlstore"
)

// Factory builds the postgres backend. Tests may override it.
var Factory storage.Builder = func(_ context.Context, conf storage.Config, logger watermill.LoggerAdapter) (storage.Backend, error) {
	return sqlstore.New(Dialect{}, conf, logger), nil
}

func init() {
	storage.Register("postgres", func(ctx context.Context, conf storage.Config, logger watermill.LoggerAdapter) (storage.Backend, error) {
		return Factory(ctx, conf, logger)
	})
}

// Dialect adapts sqlstore to PostgreSQL.
type Dialect struct{}

func (Dialect) Name() string { return "postgres" }

func (Dialect) Open(_ context.Context, conf storage.Config) (*sql.DB, error) {
	url := conf.GetPostgresURL()
	if url == "" {
		return nil, fmt.Errorf("%w: postgres storage needs a connection url", cerrors.ErrInvalidArgument)
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(4)
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

func (Dialect) Placeholder(n int) string { return fmt.Sprintf("$%d", n) }

func (Dialect) ColumnType(col entity.Column) string {
	switch col.Type {
	case entity.ColumnInteger:
		return "BIGINT"
	case entity.ColumnFloat:
		return "DOUBLE PRECISION"
	case entity.ColumnBool:
		return "BOOLEAN"
	case entity.ColumnDatetime:
		return "TIMESTAMPTZ"
	case entity.ColumnJSON:
		return "JSONB"
	default:
		if col.Length > 0 {
			return fmt.Sprintf("VARCHAR(%d)", col.Length)
		}
		return "TEXT"
	}
}

func (Dialect) JSONField(column, attr string, typ entity.ColumnType) string {
	expr := fmt.Sprintf("%s->>'%s'", column, attr)
	if strings.Contains(attr, ".") {
		expr = fmt.Sprintf("%s #>> '{%s}'", column, strings.ReplaceAll(attr, ".", ","))
	}
	switch typ {
	case entity.ColumnInteger:
		return fmt.Sprintf("(%s)::bigint", expr)
	case entity.ColumnFloat:
		return fmt.Sprintf("(%s)::double precision", expr)
	case entity.ColumnBool:
		return fmt.Sprintf("(%s)::boolean", expr)
	case entity.ColumnDatetime:
		return fmt.Sprintf("(%s)::timestamptz", expr)
	default:
		return expr
	}
}

func (Dialect) TableColumns(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT column_name FROM information_schema.columns WHERE table_schema = current_schema() AND table_name = $1", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}

func (Dialect) TableIndexes(ctx context.Context, db *sql.DB, table string) (map[string]bool, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT indexname FROM pg_indexes WHERE schemaname = current_schema() AND tablename = $1", table)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[string]bool{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out[name] = true
	}
	return out, rows.Err()
}
