package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/drblury/chassis/internal/core/headers"
)

type renameAccount struct {
	Command
	key string
}

func (m *renameAccount) RoutingKey() string { return m.key }

func TestKindString(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "command", KindCommand.String())
	assert.Equal(t, "query", KindQuery.String())
	assert.Equal(t, "event", KindEvent.String())
	assert.Equal(t, "unknown", Kind(0).String())
}

func TestMessageRoutingKeyDerived(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "core.chargeCard", MessageRoutingKey(&chargeCard{}))
	assert.Equal(t, "core.cardCharged", MessageRoutingKey(&cardCharged{}))

	// Second resolution hits the type cache.
	assert.Equal(t, "core.chargeCard", MessageRoutingKey(&chargeCard{}))
}

func TestMessageRoutingKeyOverride(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "crm.AccountRenamed", MessageRoutingKey(&renameAccount{key: "crm.AccountRenamed"}))

	// An empty override falls back to the derived key.
	assert.Equal(t, "core.renameAccount", MessageRoutingKey(&renameAccount{}))
}

func TestRoutingCandidates(t *testing.T) {
	t.Parallel()

	keys := routingCandidates(&legacyCharge{})
	assert.Equal(t, []string{"core.legacyCharge", "billing.ChargeCardV1"}, keys)

	keys = routingCandidates(&chargeCard{})
	assert.Equal(t, []string{"core.chargeCard"}, keys)
}

func TestHeadersAllocateOnFirstUse(t *testing.T) {
	t.Parallel()

	cmd := &chargeCard{}
	h := cmd.Headers()
	assert.NotNil(t, h)

	cmd.SetHeader(headers.KeyCorrelationID, "corr-1")
	assert.Equal(t, "corr-1", cmd.Headers().Get(headers.KeyCorrelationID))
	assert.Empty(t, cmd.Headers().Get(headers.KeyDeadline))
}

func TestEventSourceContextFirstWins(t *testing.T) {
	t.Parallel()

	evt := &cardCharged{}
	evt.SetSourceContext("")
	assert.Empty(t, evt.SourceContext())

	evt.SetSourceContext("billing")
	evt.SetSourceContext("crm")
	assert.Equal(t, "billing", evt.SourceContext())
}
