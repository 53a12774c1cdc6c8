package core

import (
	"context"
	"fmt"

	"github.com/drblury/chassis/criteria"
	cerrors "github.com/drblury/chassis/internal/core/errors"
	"github.com/drblury/chassis/storage"
)

// Envelope is one page of query results together with the paging window
// that produced it.
type Envelope[T any] struct {
	Items  []T `json:"items"`
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
	Total  int `json:"total"`
}

// Collection is a filtered view over a repository. Builder methods return
// copies, terminal methods run a fresh query every call.
type Collection[T any] struct {
	repo           *Repository[T]
	crit           *criteria.Node
	sort           []storage.SortKey
	offset         *int
	limit          *int
	includeDeleted bool
}

func (c *Collection[T]) clone() *Collection[T] {
	dup := *c
	dup.sort = append([]storage.SortKey(nil), c.sort...)
	return &dup
}

// Sort appends sort keys, applied in order.
func (c *Collection[T]) Sort(keys ...storage.SortKey) *Collection[T] {
	dup := c.clone()
	dup.sort = append(dup.sort, keys...)
	return dup
}

// Slice restricts results to a window of limit entities starting at offset.
func (c *Collection[T]) Slice(offset, limit int) *Collection[T] {
	dup := c.clone()
	dup.offset = &offset
	dup.limit = &limit
	return dup
}

// Raw includes soft deleted entities in the results.
func (c *Collection[T]) Raw() *Collection[T] {
	dup := c.clone()
	dup.includeDeleted = true
	return dup
}

// All loads every matching entity.
func (c *Collection[T]) All(ctx context.Context) ([]*T, error) {
	rows, err := c.repo.backend.Select(ctx, c.repo.def, c.query(false))
	if err != nil {
		return nil, err
	}
	return c.repo.decodeRows(rows)
}

// Count reports how many entities match, ignoring any slice window.
func (c *Collection[T]) Count(ctx context.Context) (int, error) {
	return c.repo.backend.Count(ctx, c.repo.def, c.query(true))
}

// First loads the first matching entity.
func (c *Collection[T]) First(ctx context.Context) (*T, error) {
	one := 1
	dup := c.clone()
	dup.limit = &one
	items, err := dup.All(ctx)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("%w: no %s matched", cerrors.ErrNoResultFound, c.repo.def.Name)
	}
	return items[0], nil
}

// One loads the single matching entity and fails when the match is not
// unique.
func (c *Collection[T]) One(ctx context.Context) (*T, error) {
	two := 2
	dup := c.clone()
	dup.limit = &two
	items, err := dup.All(ctx)
	if err != nil {
		return nil, err
	}
	switch len(items) {
	case 0:
		return nil, fmt.Errorf("%w: no %s matched", cerrors.ErrNoResultFound, c.repo.def.Name)
	case 1:
		return items[0], nil
	default:
		return nil, fmt.Errorf("%w: more than one %s matched", cerrors.ErrMultipleResults, c.repo.def.Name)
	}
}

// Paginate loads the current slice window together with the total count.
// The collection must be sliced first.
func (c *Collection[T]) Paginate(ctx context.Context) (*Envelope[*T], error) {
	if c.limit == nil {
		return nil, fmt.Errorf("%w: pagination needs a slice window", cerrors.ErrInvalidArgument)
	}
	total, err := c.Count(ctx)
	if err != nil {
		return nil, err
	}
	items, err := c.All(ctx)
	if err != nil {
		return nil, err
	}
	offset := 0
	if c.offset != nil {
		offset = *c.offset
	}
	return &Envelope[*T]{Items: items, Offset: offset, Limit: *c.limit, Total: total}, nil
}

// query assembles the storage query. Counting drops sorting and windowing,
// the total always covers the whole match.
func (c *Collection[T]) query(counting bool) storage.Query {
	q := storage.Query{Criteria: c.crit, IncludeDeleted: c.includeDeleted}
	if !counting {
		q.Sort = c.sort
		q.Offset = c.offset
		q.Limit = c.limit
	}
	return q
}
