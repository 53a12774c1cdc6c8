package core

import (
	"context"
	"fmt"

	cerrors "github.com/drblury/chassis/internal/core/errors"
)

// EntityOption tunes one RegisterEntity call.
type EntityOption[T any] func(*entityOptions[T])

type entityOptions[T any] struct {
	hooks     EntityHooks[T]
	queryName string
	noCRUD    bool
	noEvents  bool
}

// WithHooks attaches lifecycle hooks. Repeated options merge, the last hook
// set for a slot wins.
func WithHooks[T any](hooks EntityHooks[T]) EntityOption[T] {
	return func(o *entityOptions[T]) { o.hooks = o.hooks.Merge(hooks) }
}

// WithQueryName overrides the derived plural query name.
func WithQueryName[T any](name string) EntityOption[T] {
	return func(o *entityOptions[T]) { o.queryName = name }
}

// WithoutCRUD registers only the query service and the schema, for entities
// written through hand-built services.
func WithoutCRUD[T any]() EntityOption[T] {
	return func(o *entityOptions[T]) { o.noCRUD = true }
}

// WithoutEvents suppresses the lifecycle events of the CRUD services.
func WithoutEvents[T any]() EntityOption[T] {
	return func(o *entityOptions[T]) { o.noEvents = true }
}

// RepositoryFor builds a repository on the app's backend without registering
// any services. The schema is not ensured at start, call Ensure yourself.
func RepositoryFor[T any](app *App) (*Repository[T], error) {
	if app == nil {
		return nil, cerrors.ErrAppRequired
	}
	return NewRepository[T](app.backend, app.serializer, app.conf.StorageMapAll, app.Logger())
}

// RegisterEntity wires the full entity stack: repository, query service,
// generic CRUD commands with lifecycle events, and schema creation at start.
// The returned repository is the one the services use.
func RegisterEntity[T any](app *App, opts ...EntityOption[T]) (*Repository[T], error) {
	if app == nil {
		return nil, cerrors.ErrAppRequired
	}
	var o entityOptions[T]
	for _, opt := range opts {
		if opt != nil {
			opt(&o)
		}
	}

	repo, err := NewRepository[T](app.backend, app.serializer, app.conf.StorageMapAll, app.Logger())
	if err != nil {
		return nil, err
	}
	def := repo.Definition()
	names := namesFor(app.conf.Context(), def.Name, o.queryName)

	qs := &queryService[T]{repo: repo}
	queryHandler := func(ctx context.Context, msg Message) (any, error) {
		q, ok := msg.(*EntityQuery)
		if !ok {
			return nil, fmt.Errorf("%w: expected *EntityQuery, got %T", cerrors.ErrInvalidArgument, msg)
		}
		return qs.handle(ctx, q)
	}
	queryFactory := func() Message { return &EntityQuery{Name: names.Query} }
	if err := app.register(KindQuery, names.Query, "query."+def.Name, queryHandler, queryFactory); err != nil {
		return nil, err
	}

	if !o.noCRUD {
		if err := registerCRUD(app, repo, names, o); err != nil {
			return nil, err
		}
	}

	app.addSchema(def.Name, repo.Ensure)
	return repo, nil
}

func registerCRUD[T any](app *App, repo *Repository[T], names entityNames, o entityOptions[T]) error {
	svc := &crudService[T]{
		repo:   repo,
		def:    repo.Definition(),
		bus:    app.bus,
		hooks:  o.hooks,
		names:  names,
		events: !o.noEvents,
		log:    app.Logger(),
	}

	createHandler := func(ctx context.Context, msg Message) (any, error) {
		cmd, ok := msg.(*CreateEntity)
		if !ok {
			return nil, fmt.Errorf("%w: expected *CreateEntity, got %T", cerrors.ErrInvalidArgument, msg)
		}
		return svc.create(ctx, cmd)
	}
	createFactory := func() Message { return &CreateEntity{Name: names.Create} }
	if err := app.register(KindCommand, names.Create, "crud."+names.Entity+".create", createHandler, createFactory); err != nil {
		return err
	}

	updateHandler := func(ctx context.Context, msg Message) (any, error) {
		cmd, ok := msg.(*UpdateEntity)
		if !ok {
			return nil, fmt.Errorf("%w: expected *UpdateEntity, got %T", cerrors.ErrInvalidArgument, msg)
		}
		return svc.update(ctx, cmd)
	}
	updateFactory := func() Message { return &UpdateEntity{Name: names.Update} }
	if err := app.register(KindCommand, names.Update, "crud."+names.Entity+".update", updateHandler, updateFactory); err != nil {
		return err
	}

	deleteHandler := func(ctx context.Context, msg Message) (any, error) {
		cmd, ok := msg.(*DeleteEntity)
		if !ok {
			return nil, fmt.Errorf("%w: expected *DeleteEntity, got %T", cerrors.ErrInvalidArgument, msg)
		}
		return svc.remove(ctx, cmd)
	}
	deleteFactory := func() Message { return &DeleteEntity{Name: names.Delete} }
	return app.register(KindCommand, names.Delete, "crud."+names.Entity+".delete", deleteHandler, deleteFactory)
}
