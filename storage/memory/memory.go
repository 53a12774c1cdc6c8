// Package memory registers the "memory" storage driver.
//
// Rows live in process memory, ordered by insertion. Criteria evaluate
// against the decoded document, so the backend behaves like the SQL drivers
// without a database. It is the default driver and the one integration
// tests reach for.
package memory

import (
	"context"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/drblury/chassis/criteria"
	"github.com/drblury/chassis/entity"
	"github.com/drblury/chassis/internal/core/codec"
	cerrors "github.com/drblury/chassis/internal/core/errors"
	"github.com/drblury/chassis/storage"
)

// Factory builds the memory backend. Tests may override it.
var Factory storage.Builder = func(context.Context, storage.Config, watermill.LoggerAdapter) (storage.Backend, error) {
	return New(), nil
}

func init() {
	storage.Register("memory", func(ctx context.Context, conf storage.Config, logger watermill.LoggerAdapter) (storage.Backend, error) {
		return Factory(ctx, conf, logger)
	})
}

// Backend keeps every table in memory. Safe for concurrent use.
type Backend struct {
	mu     sync.RWMutex
	tables map[string]*table
}

type table struct {
	rows  map[string]storage.Row
	order []string
}

// record pairs a stored row with its decoded document, when one exists.
type record struct {
	row storage.Row
	doc map[string]any
}

func New() *Backend {
	return &Backend{tables: map[string]*table{}}
}

func (b *Backend) Connect(context.Context) error { return nil }

func (b *Backend) Close() error { return nil }

func (b *Backend) Ensure(_ context.Context, def *entity.Definition) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.table(def.Table)
	return nil
}

func (b *Backend) Truncate(_ context.Context, def *entity.Definition) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if tbl, ok := b.tables[def.Table]; ok {
		tbl.rows = map[string]storage.Row{}
		tbl.order = nil
	}
	return nil
}

func (b *Backend) Drop(_ context.Context, def *entity.Definition) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.tables, def.Table)
	return nil
}

func (b *Backend) Insert(_ context.Context, def *entity.Definition, rows []storage.Row) error {
	if len(rows) == 0 {
		return nil
	}
	idCol := idColumn(def)
	b.mu.Lock()
	defer b.mu.Unlock()
	tbl := b.table(def.Table)
	for _, row := range rows {
		id, _ := row[idCol].(string)
		if id == "" {
			return fmt.Errorf("%w: row for %s has no id", cerrors.ErrRepository, def.Name)
		}
		if _, exists := tbl.rows[id]; exists {
			return fmt.Errorf("%w: duplicate id %q in %s", cerrors.ErrRepository, id, def.Table)
		}
		tbl.rows[id] = maps.Clone(row)
		tbl.order = append(tbl.order, id)
	}
	return nil
}

func (b *Backend) Select(_ context.Context, def *entity.Definition, q storage.Query) ([]storage.Row, error) {
	matched, err := b.matching(def, q)
	if err != nil {
		return nil, err
	}
	if len(q.Sort) > 0 {
		sortRecords(def, matched, q.Sort)
	}
	matched = window(matched, q)
	out := make([]storage.Row, len(matched))
	for i, rec := range matched {
		out[i] = maps.Clone(rec.row)
	}
	return out, nil
}

func (b *Backend) Count(_ context.Context, def *entity.Definition, q storage.Query) (int, error) {
	matched, err := b.matching(def, q)
	if err != nil {
		return 0, err
	}
	return len(matched), nil
}

func (b *Backend) Update(_ context.Context, def *entity.Definition, id string, row storage.Row) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	tbl, ok := b.tables[def.Table]
	if !ok {
		return fmt.Errorf("%w: %s %q", cerrors.ErrNoResultFound, def.Name, id)
	}
	current, ok := tbl.rows[id]
	if !ok {
		return fmt.Errorf("%w: %s %q", cerrors.ErrNoResultFound, def.Name, id)
	}
	idCol := idColumn(def)
	for k, v := range row {
		if k == idCol {
			continue
		}
		current[k] = v
	}
	return nil
}

func (b *Backend) Delete(_ context.Context, def *entity.Definition, id string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	tbl, ok := b.tables[def.Table]
	if !ok {
		return nil
	}
	if _, exists := tbl.rows[id]; !exists {
		return nil
	}
	delete(tbl.rows, id)
	for i, other := range tbl.order {
		if other == id {
			tbl.order = append(tbl.order[:i], tbl.order[i+1:]...)
			break
		}
	}
	return nil
}

// table returns the named table, creating it when missing. Callers hold mu.
func (b *Backend) table(name string) *table {
	tbl, ok := b.tables[name]
	if !ok {
		tbl = &table{rows: map[string]storage.Row{}}
		b.tables[name] = tbl
	}
	return tbl
}

func (b *Backend) matching(def *entity.Definition, q storage.Query) ([]record, error) {
	if q.Criteria != nil {
		if err := q.Criteria.Validate(); err != nil {
			return nil, err
		}
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	tbl, ok := b.tables[def.Table]
	if !ok {
		return nil, nil
	}
	var out []record
	for _, id := range tbl.order {
		row := tbl.rows[id]
		if !q.IncludeDeleted && def.HasSoftDelete() && !isNil(row[entity.SoftDeleteColumn]) {
			continue
		}
		rec := record{row: row}
		if raw, ok := row[entity.DocumentColumn]; ok {
			data, ok := toBytes(raw)
			if !ok {
				return nil, fmt.Errorf("%w: %s row holds no readable document", cerrors.ErrRepository, def.Name)
			}
			doc := map[string]any{}
			if err := codec.Unmarshal(data, &doc); err != nil {
				return nil, fmt.Errorf("%w: decoding %s document: %v", cerrors.ErrRepository, def.Name, err)
			}
			rec.doc = doc
		}
		if q.Criteria.Matches(func(attr string) (any, bool) {
			return lookup(def, rec, attr)
		}) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// lookup resolves a criteria attribute for one record, preferring the
// document form over the raw column value.
func lookup(def *entity.Definition, rec record, attr string) (any, bool) {
	for _, f := range def.Fields() {
		if f.JSONName != attr && f.DBName != attr {
			continue
		}
		if rec.doc != nil {
			if v, ok := rec.doc[f.JSONName]; ok {
				return v, true
			}
		}
		if v, ok := rec.row[f.DBName]; ok {
			return normalize(v), true
		}
		return nil, false
	}
	if rec.doc != nil {
		if v, ok := docPath(rec.doc, attr); ok {
			return v, true
		}
	}
	v, ok := rec.row[attr]
	if !ok {
		return nil, false
	}
	return normalize(v), true
}

// docPath walks a dotted attribute such as "customer.id" through nested
// document maps.
func docPath(doc map[string]any, attr string) (any, bool) {
	cur := any(doc)
	for _, part := range strings.Split(attr, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func sortRecords(def *entity.Definition, recs []record, keys []storage.SortKey) {
	sort.SliceStable(recs, func(i, j int) bool {
		for _, key := range keys {
			av, _ := lookup(def, recs[i], key.Field)
			bv, _ := lookup(def, recs[j], key.Field)
			c, ok := criteria.Compare(av, bv)
			if !ok || c == 0 {
				continue
			}
			if key.Desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}

// window applies limit and offset. Offset without limit is ignored, the
// SQL drivers behave the same way.
func window(recs []record, q storage.Query) []record {
	if q.Limit == nil {
		return recs
	}
	if *q.Limit <= 0 {
		return nil
	}
	start := 0
	if q.Offset != nil && *q.Offset > 0 {
		start = *q.Offset
	}
	if start >= len(recs) {
		return nil
	}
	end := start + *q.Limit
	if end > len(recs) {
		end = len(recs)
	}
	return recs[start:end]
}

func idColumn(def *entity.Definition) string {
	for _, f := range def.Fields() {
		if f.IsID {
			return f.DBName
		}
	}
	return "id"
}

func normalize(v any) any {
	if isNil(v) {
		return nil
	}
	if t, ok := v.(*time.Time); ok {
		return *t
	}
	return v
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	default:
		return false
	}
}

func toBytes(v any) ([]byte, bool) {
	switch data := v.(type) {
	case []byte:
		return data, true
	case string:
		return []byte(data), true
	default:
		return nil, false
	}
}
