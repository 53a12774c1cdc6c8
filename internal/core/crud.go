package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/drblury/chassis/entity"
	"github.com/drblury/chassis/internal/core/codec"
	cerrors "github.com/drblury/chassis/internal/core/errors"
	"github.com/drblury/chassis/internal/core/logging"
)

// CreateEntity is the generic create command served for every registered
// entity. Name carries the routing key (<context>.Create<Entity>), Data the
// initial field values by JSON name.
type CreateEntity struct {
	Command
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
}

func (c *CreateEntity) RoutingKey() string { return c.Name }

// UpdateEntity applies Data field-wise to the entity with ID. Fields absent
// from Data keep their stored value.
type UpdateEntity struct {
	Command
	Name string         `json:"name"`
	ID   string         `json:"id"`
	Data map[string]any `json:"data,omitempty"`
}

func (c *UpdateEntity) RoutingKey() string { return c.Name }

// DeleteEntity removes the entity with ID. Soft-deleting entities are
// tombstoned unless Force is set.
type DeleteEntity struct {
	Command
	Name  string `json:"name"`
	ID    string `json:"id"`
	Force bool   `json:"force,omitempty"`
}

func (c *DeleteEntity) RoutingKey() string { return c.Name }

// EntityEvent is dispatched after every successful CRUD write. Name carries
// the routing key (<context>.<Entity>Created, Updated or Removed), Entity the
// state after the write.
type EntityEvent struct {
	Event
	Name   string `json:"name"`
	Entity any    `json:"entity"`
}

func (e *EntityEvent) RoutingKey() string { return e.Name }

// entityNames holds the routing keys derived for one registered entity.
type entityNames struct {
	Entity  string
	Create  string
	Update  string
	Delete  string
	Query   string
	Created string
	Updated string
	Removed string
}

func namesFor(contextName, entityName, queryName string) entityNames {
	prefix := ""
	if contextName != "" {
		prefix = contextName + "."
	}
	if queryName == "" {
		queryName = pluralize(entityName)
	}
	return entityNames{
		Entity:  entityName,
		Create:  prefix + "Create" + entityName,
		Update:  prefix + "Update" + entityName,
		Delete:  prefix + "Delete" + entityName,
		Query:   prefix + queryName,
		Created: prefix + entityName + "Created",
		Updated: prefix + entityName + "Updated",
		Removed: prefix + entityName + "Removed",
	}
}

// pluralize forms the default query name. It covers regular English nouns,
// WithQueryName overrides the irregular ones.
func pluralize(name string) string {
	switch {
	case name == "":
		return name
	case strings.HasSuffix(name, "y") && len(name) > 1 && !isVowel(name[len(name)-2]):
		return name[:len(name)-1] + "ies"
	case strings.HasSuffix(name, "s"), strings.HasSuffix(name, "x"), strings.HasSuffix(name, "z"),
		strings.HasSuffix(name, "ch"), strings.HasSuffix(name, "sh"):
		return name + "es"
	default:
		return name + "s"
	}
}

func isVowel(c byte) bool {
	return strings.IndexByte("aeiouAEIOU", c) >= 0
}

// crudService serves the three generic write commands for one entity and
// dispatches the lifecycle event after each successful write.
type crudService[T any] struct {
	repo   *Repository[T]
	def    *entity.Definition
	bus    *Bus
	hooks  EntityHooks[T]
	names  entityNames
	events bool
	log    logging.ServiceLogger
}

func (s *crudService[T]) create(ctx context.Context, cmd *CreateEntity) (any, error) {
	e := new(T)
	if err := s.decodeInto(cmd.Data, e); err != nil {
		return nil, err
	}
	if err := s.hooks.runBefore(ctx, opCreate, e); err != nil {
		return nil, err
	}
	if err := s.repo.Add(ctx, e); err != nil {
		return nil, err
	}
	if err := s.hooks.runAfter(ctx, opCreate, e); err != nil {
		return nil, err
	}
	s.emit(ctx, s.names.Created, e)
	return e, nil
}

func (s *crudService[T]) update(ctx context.Context, cmd *UpdateEntity) (any, error) {
	if cmd.ID == "" {
		return nil, fmt.Errorf("%w: %s update needs an id", cerrors.ErrInvalidArgument, s.names.Entity)
	}
	e, err := s.repo.Find(ctx, cmd.ID)
	if err != nil {
		return nil, err
	}
	if err := s.decodeInto(cmd.Data, e); err != nil {
		return nil, err
	}
	// Data must not reassign the identifier.
	if err := s.def.SetID(e, cmd.ID); err != nil {
		return nil, err
	}
	if err := s.hooks.runBefore(ctx, opUpdate, e); err != nil {
		return nil, err
	}
	if err := s.repo.Update(ctx, e); err != nil {
		return nil, err
	}
	if err := s.hooks.runAfter(ctx, opUpdate, e); err != nil {
		return nil, err
	}
	s.emit(ctx, s.names.Updated, e)
	return e, nil
}

func (s *crudService[T]) remove(ctx context.Context, cmd *DeleteEntity) (any, error) {
	if cmd.ID == "" {
		return nil, fmt.Errorf("%w: %s delete needs an id", cerrors.ErrInvalidArgument, s.names.Entity)
	}
	e, err := s.repo.Find(ctx, cmd.ID)
	if err != nil {
		return nil, err
	}
	if err := s.hooks.runBefore(ctx, opRemove, e); err != nil {
		return nil, err
	}
	if err := s.repo.Remove(ctx, e, cmd.Force); err != nil {
		return nil, err
	}
	if err := s.hooks.runAfter(ctx, opRemove, e); err != nil {
		return nil, err
	}
	s.emit(ctx, s.names.Removed, e)
	return e, nil
}

func (s *crudService[T]) decodeInto(data map[string]any, e *T) error {
	if len(data) == 0 {
		return nil
	}
	raw, err := codec.Marshal(data)
	if err != nil {
		return fmt.Errorf("%w: encoding %s data: %v", cerrors.ErrInvalidArgument, s.names.Entity, err)
	}
	if err := codec.Unmarshal(raw, e); err != nil {
		return fmt.Errorf("%w: decoding %s data: %v", cerrors.ErrInvalidArgument, s.names.Entity, err)
	}
	return nil
}

// emit dispatches the lifecycle event. The write already succeeded, listener
// failures are logged and do not fail the command.
func (s *crudService[T]) emit(ctx context.Context, key string, e *T) {
	if !s.events {
		return
	}
	evt := &EntityEvent{Name: key, Entity: e}
	if err := s.bus.Dispatch(ctx, evt); err != nil {
		s.log.Error("lifecycle event failed", err, logging.LogFields{"routing_key": key})
	}
}
