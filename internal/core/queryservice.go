package core

import (
	"context"

	"github.com/drblury/chassis/criteria"
	"github.com/drblury/chassis/storage"
)

// EntityQuery is the generic read message served for every registered
// entity. Name carries the routing key, so one message type answers the
// query endpoint of any entity.
//
// An ID loads exactly one entity. Otherwise Criteria filters, Sort orders
// and the paging fields window the result: with Limit and Offset set the
// reply is an Envelope, with only Limit set a plain list.
type EntityQuery struct {
	Query
	Name     string            `json:"name"`
	ID       string            `json:"id,omitempty"`
	Criteria *criteria.Node    `json:"criteria,omitempty"`
	Sort     []storage.SortKey `json:"sort,omitempty"`
	Limit    *int              `json:"limit,omitempty"`
	Offset   *int              `json:"offset,omitempty"`
}

func (q *EntityQuery) RoutingKey() string { return q.Name }

// queryService answers EntityQuery messages from one repository.
type queryService[T any] struct {
	repo *Repository[T]
}

func (s *queryService[T]) handle(ctx context.Context, q *EntityQuery) (any, error) {
	if q.ID != "" {
		return s.repo.Find(ctx, q.ID)
	}
	col := s.repo.Filter(q.Criteria)
	if len(q.Sort) > 0 {
		col = col.Sort(q.Sort...)
	}
	switch {
	case q.Limit != nil && q.Offset != nil:
		return col.Slice(*q.Offset, *q.Limit).Paginate(ctx)
	case q.Limit != nil:
		return col.Slice(0, *q.Limit).All(ctx)
	default:
		return col.All(ctx)
	}
}
