package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/chassis/criteria"
	"github.com/drblury/chassis/entity"
	cerrors "github.com/drblury/chassis/internal/core/errors"
	"github.com/drblury/chassis/storage"
)

type owner struct {
	Name string `json:"name"`
}

type ticket struct {
	entity.Base
	Subject  string `json:"subject" chassis:"index"`
	Priority int    `json:"priority"`
	Open     bool   `json:"open"`
	Owner    owner  `json:"owner"`
}

func newFixture(t *testing.T) (*Backend, *storage.Mapper, *entity.Definition) {
	t.Helper()
	def, err := entity.Describe[ticket]()
	require.NoError(t, err)
	backend := New()
	require.NoError(t, backend.Ensure(context.Background(), def))
	return backend, storage.NewMapper(def, nil, false), def
}

func insertTicket(t *testing.T, b *Backend, m *storage.Mapper, tk *ticket) {
	t.Helper()
	row, err := m.MarshalEntity(tk)
	require.NoError(t, err)
	require.NoError(t, b.Insert(context.Background(), m.Definition(), []storage.Row{row}))
}

func seedTickets(t *testing.T, b *Backend, m *storage.Mapper) {
	t.Helper()
	insertTicket(t, b, m, &ticket{Base: entity.Base{ID: "t1"}, Subject: "printer jam", Priority: 2, Open: true, Owner: owner{Name: "sam"}})
	insertTicket(t, b, m, &ticket{Base: entity.Base{ID: "t2"}, Subject: "vpn down", Priority: 5, Open: true, Owner: owner{Name: "alex"}})
	insertTicket(t, b, m, &ticket{Base: entity.Base{ID: "t3"}, Subject: "slow laptop", Priority: 1, Open: false, Owner: owner{Name: "sam"}})
}

func subjects(t *testing.T, m *storage.Mapper, rows []storage.Row) []string {
	t.Helper()
	out := make([]string, 0, len(rows))
	for _, row := range rows {
		var tk ticket
		require.NoError(t, m.UnmarshalRow(row, &tk))
		out = append(out, tk.Subject)
	}
	return out
}

func TestSelectKeepsInsertionOrder(t *testing.T) {
	t.Parallel()
	backend, mapper, def := newFixture(t)
	seedTickets(t, backend, mapper)

	rows, err := backend.Select(context.Background(), def, storage.Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"printer jam", "vpn down", "slow laptop"}, subjects(t, mapper, rows))
}

func TestSelectWithCriteria(t *testing.T) {
	t.Parallel()
	backend, mapper, def := newFixture(t)
	seedTickets(t, backend, mapper)

	rows, err := backend.Select(context.Background(), def, storage.Query{
		Criteria: criteria.Attr("priority").Gte(2).And(criteria.Attr("open").Eq(true)),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"printer jam", "vpn down"}, subjects(t, mapper, rows))
}

func TestSelectNestedAttribute(t *testing.T) {
	t.Parallel()
	backend, mapper, def := newFixture(t)
	seedTickets(t, backend, mapper)

	rows, err := backend.Select(context.Background(), def, storage.Query{
		Criteria: criteria.Attr("owner.name").Eq("sam"),
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"printer jam", "slow laptop"}, subjects(t, mapper, rows))
}

func TestSelectSortsAndWindows(t *testing.T) {
	t.Parallel()
	backend, mapper, def := newFixture(t)
	seedTickets(t, backend, mapper)

	limit, offset := 2, 1
	rows, err := backend.Select(context.Background(), def, storage.Query{
		Sort:   []storage.SortKey{{Field: "priority", Desc: true}},
		Limit:  &limit,
		Offset: &offset,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"printer jam", "slow laptop"}, subjects(t, mapper, rows))
}

func TestSelectOffsetWithoutLimitIsIgnored(t *testing.T) {
	t.Parallel()
	backend, mapper, def := newFixture(t)
	seedTickets(t, backend, mapper)

	offset := 2
	rows, err := backend.Select(context.Background(), def, storage.Query{Offset: &offset})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestSoftDeletedRowsAreHidden(t *testing.T) {
	t.Parallel()
	backend, mapper, def := newFixture(t)
	seedTickets(t, backend, mapper)

	var gone ticket
	when := time.Now()
	gone.ID = "t2"
	gone.DeletedOn = &when
	row, err := mapper.MarshalEntity(&gone)
	require.NoError(t, err)
	require.NoError(t, backend.Update(context.Background(), def, "t2", row))

	rows, err := backend.Select(context.Background(), def, storage.Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"printer jam", "slow laptop"}, subjects(t, mapper, rows))

	rows, err = backend.Select(context.Background(), def, storage.Query{IncludeDeleted: true})
	require.NoError(t, err)
	assert.Len(t, rows, 3)
}

func TestCount(t *testing.T) {
	t.Parallel()
	backend, mapper, def := newFixture(t)
	seedTickets(t, backend, mapper)

	n, err := backend.Count(context.Background(), def, storage.Query{
		Criteria: criteria.Attr("open").Eq(true),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestInsertRejectsDuplicateID(t *testing.T) {
	t.Parallel()
	backend, mapper, _ := newFixture(t)
	seedTickets(t, backend, mapper)

	row, err := mapper.MarshalEntity(&ticket{Base: entity.Base{ID: "t1"}, Subject: "again"})
	require.NoError(t, err)
	err = backend.Insert(context.Background(), mapper.Definition(), []storage.Row{row})
	require.ErrorIs(t, err, cerrors.ErrRepository)
}

func TestUpdateMissingRow(t *testing.T) {
	t.Parallel()
	backend, _, def := newFixture(t)

	err := backend.Update(context.Background(), def, "nope", storage.Row{"subject": "x"})
	require.ErrorIs(t, err, cerrors.ErrNoResultFound)
}

func TestDelete(t *testing.T) {
	t.Parallel()
	backend, mapper, def := newFixture(t)
	seedTickets(t, backend, mapper)

	require.NoError(t, backend.Delete(context.Background(), def, "t2"))
	require.NoError(t, backend.Delete(context.Background(), def, "t2"))

	rows, err := backend.Select(context.Background(), def, storage.Query{})
	require.NoError(t, err)
	assert.Equal(t, []string{"printer jam", "slow laptop"}, subjects(t, mapper, rows))
}

func TestTruncateAndDrop(t *testing.T) {
	t.Parallel()
	backend, mapper, def := newFixture(t)
	seedTickets(t, backend, mapper)

	require.NoError(t, backend.Truncate(context.Background(), def))
	rows, err := backend.Select(context.Background(), def, storage.Query{})
	require.NoError(t, err)
	assert.Empty(t, rows)

	require.NoError(t, backend.Drop(context.Background(), def))
	rows, err = backend.Select(context.Background(), def, storage.Query{})
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestDriverRegistered(t *testing.T) {
	t.Parallel()

	assert.True(t, storage.Has("memory"))
}
