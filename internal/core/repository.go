package core

import (
	"context"
	"fmt"
	"time"

	"github.com/drblury/chassis/criteria"
	"github.com/drblury/chassis/entity"
	"github.com/drblury/chassis/internal/core/codec"
	cerrors "github.com/drblury/chassis/internal/core/errors"
	"github.com/drblury/chassis/internal/core/logging"
	"github.com/drblury/chassis/storage"
)

// Repository provides typed persistence for one entity type on any storage
// backend. Reads exclude soft deleted entities unless the collection is
// switched to raw mode.
type Repository[T any] struct {
	backend storage.Backend
	mapper  *storage.Mapper
	def     *entity.Definition
	log     logging.ServiceLogger
}

// NewRepository derives the entity definition for T and binds it to backend.
// A nil serializer falls back to the default JSON codec.
func NewRepository[T any](backend storage.Backend, ser codec.Serializer, mapAll bool, log logging.ServiceLogger) (*Repository[T], error) {
	if backend == nil {
		return nil, fmt.Errorf("%w: repository needs a storage backend", cerrors.ErrInvalidArgument)
	}
	def, err := entity.Describe[T]()
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.Nop()
	}
	return &Repository[T]{
		backend: backend,
		mapper:  storage.NewMapper(def, ser, mapAll),
		def:     def,
		log:     log.With(logging.LogFields{"entity": def.Name}),
	}, nil
}

// Definition returns the derived entity definition.
func (r *Repository[T]) Definition() *entity.Definition { return r.def }

// Mapper returns the row mapper used by this repository.
func (r *Repository[T]) Mapper() *storage.Mapper { return r.mapper }

// Ensure creates the entity's table, columns and indexes when missing.
func (r *Repository[T]) Ensure(ctx context.Context) error {
	return r.backend.Ensure(ctx, r.def)
}

// Truncate removes every stored entity.
func (r *Repository[T]) Truncate(ctx context.Context) error {
	return r.backend.Truncate(ctx, r.def)
}

// Drop removes the entity's table.
func (r *Repository[T]) Drop(ctx context.Context) error {
	return r.backend.Drop(ctx, r.def)
}

// Add stores new entities. Entities without an id get one assigned, and
// creation timestamps are stamped on the way in.
func (r *Repository[T]) Add(ctx context.Context, entities ...*T) error {
	if len(entities) == 0 {
		return nil
	}
	now := time.Now().UTC()
	rows := make([]storage.Row, 0, len(entities))
	for _, e := range entities {
		if r.def.IDOf(e) == "" {
			if err := r.def.SetID(e, entity.NewID()); err != nil {
				return err
			}
		}
		if err := r.def.MarkCreated(e, now); err != nil {
			return err
		}
		if err := r.def.MarkUpdated(e, now); err != nil {
			return err
		}
		row, err := r.mapper.MarshalEntity(e)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	if err := r.backend.Insert(ctx, r.def, rows); err != nil {
		return err
	}
	r.log.Debug("entities added", logging.LogFields{"count": len(rows)})
	return nil
}

// Find loads the entity with the given id.
func (r *Repository[T]) Find(ctx context.Context, id string) (*T, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: find needs an id", cerrors.ErrInvalidArgument)
	}
	return r.Filter(criteria.Attr("id").Eq(id)).One(ctx)
}

// Filter starts a collection matching the given criteria. A nil node
// matches everything.
func (r *Repository[T]) Filter(crit *criteria.Node) *Collection[T] {
	return &Collection[T]{repo: r, crit: crit}
}

// All loads every stored entity.
func (r *Repository[T]) All(ctx context.Context) ([]*T, error) {
	return r.Filter(nil).All(ctx)
}

// Count reports the number of stored entities.
func (r *Repository[T]) Count(ctx context.Context) (int, error) {
	return r.Filter(nil).Count(ctx)
}

// Update stores changes to an existing entity and bumps its update
// timestamp.
func (r *Repository[T]) Update(ctx context.Context, e *T) error {
	id := r.def.IDOf(e)
	if id == "" {
		return fmt.Errorf("%w: cannot update a %s without an id", cerrors.ErrInvalidArgument, r.def.Name)
	}
	if err := r.def.MarkUpdated(e, time.Now().UTC()); err != nil {
		return err
	}
	row, err := r.mapper.MarshalEntity(e)
	if err != nil {
		return err
	}
	if err := r.backend.Update(ctx, r.def, id, row); err != nil {
		return err
	}
	r.log.Debug("entity updated", logging.LogFields{"id": id})
	return nil
}

// Remove deletes an entity. Soft deleting entities are marked deleted and
// kept in storage unless force is set.
func (r *Repository[T]) Remove(ctx context.Context, e *T, force bool) error {
	id := r.def.IDOf(e)
	if id == "" {
		return fmt.Errorf("%w: cannot remove a %s without an id", cerrors.ErrInvalidArgument, r.def.Name)
	}
	if r.def.HasSoftDelete() && !force {
		if err := r.def.MarkDeleted(e, time.Now().UTC()); err != nil {
			return err
		}
		row, err := r.mapper.MarshalEntity(e)
		if err != nil {
			return err
		}
		if err := r.backend.Update(ctx, r.def, id, row); err != nil {
			return err
		}
		r.log.Debug("entity soft deleted", logging.LogFields{"id": id})
		return nil
	}
	if err := r.backend.Delete(ctx, r.def, id); err != nil {
		return err
	}
	r.log.Debug("entity deleted", logging.LogFields{"id": id})
	return nil
}

func (r *Repository[T]) decodeRows(rows []storage.Row) ([]*T, error) {
	out := make([]*T, 0, len(rows))
	for _, row := range rows {
		e := new(T)
		if err := r.mapper.UnmarshalRow(row, e); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}
