package headers

import (
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewPairs(t *testing.T) {
	t.Parallel()

	h := New(KeyRoutingKey, "orders.CreateOrder", KeyOrigin, OriginRemote)
	assert.Equal(t, "orders.CreateOrder", h.Get(KeyRoutingKey))
	assert.Equal(t, OriginRemote, h.Get(KeyOrigin))

	odd := New("only-key")
	assert.Empty(t, odd)
}

func TestCloneIsIndependent(t *testing.T) {
	t.Parallel()

	h := New(KeyMessageID, "m1")
	c := h.Clone()
	c[KeyMessageID] = "m2"

	assert.Equal(t, "m1", h.Get(KeyMessageID))
	assert.Equal(t, "m2", c.Get(KeyMessageID))
}

func TestWithDoesNotMutateReceiver(t *testing.T) {
	t.Parallel()

	h := New(KeyKind, "command")
	h2 := h.With(KeyCorrelationID, "c1")

	assert.Empty(t, h.Get(KeyCorrelationID))
	assert.Equal(t, "c1", h2.Get(KeyCorrelationID))
	assert.Equal(t, "command", h2.Get(KeyKind))
}

func TestWithAllExtraWins(t *testing.T) {
	t.Parallel()

	h := New(KeyOrigin, "local", KeyEntity, "invoice")
	merged := h.WithAll(New(KeyOrigin, OriginRemote))

	assert.Equal(t, OriginRemote, merged.Get(KeyOrigin))
	assert.Equal(t, "invoice", merged.Get(KeyEntity))
	assert.Equal(t, "local", h.Get(KeyOrigin))
}

func TestGetNilSafe(t *testing.T) {
	t.Parallel()

	var h Headers
	assert.Empty(t, h.Get(KeyMessageID))
}

func TestWatermillRoundTrip(t *testing.T) {
	t.Parallel()

	h := New(KeyMessageID, "m1", KeyDeadline, "2026-01-02T15:04:05Z")
	md := ToWatermill(h)
	require.IsType(t, message.Metadata{}, md)
	assert.Equal(t, "m1", md[KeyMessageID])

	back := FromWatermill(md)
	assert.Equal(t, h, back)

	back[KeyMessageID] = "changed"
	assert.Equal(t, "m1", md[KeyMessageID])
}
