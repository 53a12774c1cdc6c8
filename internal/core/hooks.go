package core

import (
	"context"

	"github.com/drblury/chassis/internal/core/logging"
)

// EntityHooks attach application behavior to the generic CRUD services. A
// Before hook returning an error aborts the operation before the write, an
// After hook runs once the write succeeded.
type EntityHooks[T any] struct {
	BeforeCreate func(ctx context.Context, e *T) error
	AfterCreate  func(ctx context.Context, e *T) error
	BeforeUpdate func(ctx context.Context, e *T) error
	AfterUpdate  func(ctx context.Context, e *T) error
	BeforeRemove func(ctx context.Context, e *T) error
	AfterRemove  func(ctx context.Context, e *T) error
}

// Merge overlays other on top of h. Slots set in other win, unset slots keep
// the receiver's hook.
func (h EntityHooks[T]) Merge(other EntityHooks[T]) EntityHooks[T] {
	if other.BeforeCreate != nil {
		h.BeforeCreate = other.BeforeCreate
	}
	if other.AfterCreate != nil {
		h.AfterCreate = other.AfterCreate
	}
	if other.BeforeUpdate != nil {
		h.BeforeUpdate = other.BeforeUpdate
	}
	if other.AfterUpdate != nil {
		h.AfterUpdate = other.AfterUpdate
	}
	if other.BeforeRemove != nil {
		h.BeforeRemove = other.BeforeRemove
	}
	if other.AfterRemove != nil {
		h.AfterRemove = other.AfterRemove
	}
	return h
}

func (h EntityHooks[T]) runBefore(ctx context.Context, op string, e *T) error {
	switch op {
	case opCreate:
		if h.BeforeCreate != nil {
			return h.BeforeCreate(ctx, e)
		}
	case opUpdate:
		if h.BeforeUpdate != nil {
			return h.BeforeUpdate(ctx, e)
		}
	case opRemove:
		if h.BeforeRemove != nil {
			return h.BeforeRemove(ctx, e)
		}
	}
	return nil
}

func (h EntityHooks[T]) runAfter(ctx context.Context, op string, e *T) error {
	switch op {
	case opCreate:
		if h.AfterCreate != nil {
			return h.AfterCreate(ctx, e)
		}
	case opUpdate:
		if h.AfterUpdate != nil {
			return h.AfterUpdate(ctx, e)
		}
	case opRemove:
		if h.AfterRemove != nil {
			return h.AfterRemove(ctx, e)
		}
	}
	return nil
}

const (
	opCreate = "create"
	opUpdate = "update"
	opRemove = "remove"
)

// LoggingHooks debug-logs every completed CRUD operation with the entity id.
func LoggingHooks[T any](log logging.ServiceLogger, idOf func(e *T) string) EntityHooks[T] {
	if log == nil {
		log = logging.Nop()
	}
	after := func(op string) func(ctx context.Context, e *T) error {
		return func(_ context.Context, e *T) error {
			log.Debug("entity "+op+"d", logging.LogFields{"id": idOf(e)})
			return nil
		}
	}
	return EntityHooks[T]{
		AfterCreate: after("create"),
		AfterUpdate: after("update"),
		AfterRemove: after("remove"),
	}
}
