// Package storage defines the backend contract repositories run on.
//
// A Backend persists rows for entity tables described by entity.Definition.
// Backends register themselves in the package registry under a driver name,
// applications select one through configuration. SQL backends live in
// storage/sqlite and storage/postgres, storage/memory keeps everything in
// process for tests and prototyping.
package storage

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/chassis/criteria"
	"github.com/drblury/chassis/entity"
)

// Row is one stored record keyed by column name.
type Row map[string]any

// SortKey orders query results by one attribute.
type SortKey struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc"`
}

// Asc sorts ascending on field.
func Asc(field string) SortKey { return SortKey{Field: field} }

// Desc sorts descending on field.
func Desc(field string) SortKey { return SortKey{Field: field, Desc: true} }

// Query bundles filtering, ordering and windowing for Select and Count.
// Soft deleted rows are excluded unless IncludeDeleted is set. Offset only
// applies when Limit is set.
type Query struct {
	Criteria       *criteria.Node
	Sort           []SortKey
	Offset         *int
	Limit          *int
	IncludeDeleted bool
}

// Backend is one storage driver. A single backend instance serves every
// entity table of the app, operations receive the table's definition.
type Backend interface {
	Connect(ctx context.Context) error
	Close() error

	// Ensure creates or migrates the table for def: missing table, missing
	// columns and missing indexes are created, nothing is dropped.
	Ensure(ctx context.Context, def *entity.Definition) error
	Truncate(ctx context.Context, def *entity.Definition) error
	Drop(ctx context.Context, def *entity.Definition) error

	Insert(ctx context.Context, def *entity.Definition, rows []Row) error
	Select(ctx context.Context, def *entity.Definition, q Query) ([]Row, error)
	Count(ctx context.Context, def *entity.Definition, q Query) (int, error)
	Update(ctx context.Context, def *entity.Definition, id string, row Row) error
	Delete(ctx context.Context, def *entity.Definition, id string) error
}

// Config is the configuration surface backends read from.
type Config interface {
	GetStorageDriver() string
	GetSQLiteFile() string
	GetPostgresURL() string
	GetStorageMapAll() bool
}

// Builder constructs a backend from configuration.
type Builder func(ctx context.Context, conf Config, logger watermill.LoggerAdapter) (Backend, error)
