// Package entity defines the building blocks for persistent domain types.
//
// A persistent type embeds Root (or at least Base) and annotates fields with
// the chassis struct tag. The package derives a storage Definition from the
// struct via reflection: table name, columns, indexes and relationships to
// other aggregate roots. Repositories and storage backends consume the
// Definition, application code never touches it directly.
package entity

import (
	"time"

	"github.com/google/uuid"
)

// Base carries identity and lifecycle timestamps. Embed it in value entities
// that are stored inline inside an aggregate.
type Base struct {
	ID        string     `json:"id" db:"id" chassis:"id"`
	CreatedOn time.Time  `json:"created_on" db:"created_on"`
	UpdatedOn time.Time  `json:"updated_on" db:"updated_on"`
	DeletedOn *time.Time `json:"deleted_on,omitempty" db:"deleted_on"`
}

// EntityID returns the entity id.
func (b *Base) EntityID() string { return b.ID }

// SetEntityID overwrites the entity id.
func (b *Base) SetEntityID(id string) { b.ID = id }

// IsDeleted reports whether the entity was soft deleted.
func (b *Base) IsDeleted() bool { return b.DeletedOn != nil }

// Root marks a struct as an aggregate root. Roots get their own table and
// repository. Fields typed as another root (or slices and maps of roots) are
// stored as id references, not inline.
type Root struct {
	Base
}

func (Root) aggregateRoot() {}

// AggregateRoot is satisfied by any struct embedding Root.
type AggregateRoot interface {
	aggregateRoot()
}

// TableNamer overrides the derived table name.
type TableNamer interface {
	TableName() string
}

// NewID returns a fresh entity id.
func NewID() string {
	return uuid.NewString()
}
