package broker

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cerrors "github.com/drblury/chassis/internal/core/errors"
)

type stubConfig struct{ name string }

func (c *stubConfig) GetBroker() string             { return c.name }
func (c *stubConfig) GetKafkaBrokers() []string     { return nil }
func (c *stubConfig) GetKafkaConsumerGroup() string { return "" }
func (c *stubConfig) GetRabbitMQURL() string        { return "" }
func (c *stubConfig) GetNATSURL() string            { return "" }
func (c *stubConfig) GetFileBrokerPath() string     { return "" }
func (c *stubConfig) GetAWSRegion() string          { return "" }
func (c *stubConfig) GetAWSAccountID() string       { return "" }
func (c *stubConfig) GetAWSAccessKeyID() string     { return "" }
func (c *stubConfig) GetAWSSecretAccessKey() string { return "" }
func (c *stubConfig) GetAWSEndpoint() string        { return "" }

type stubPublisher struct{}

func (stubPublisher) Publish(string, ...*message.Message) error { return nil }
func (stubPublisher) Close() error                              { return nil }

type stubSubscriber struct{}

func (stubSubscriber) Subscribe(context.Context, string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (stubSubscriber) Close() error { return nil }

func stubBuilder(context.Context, Config, watermill.LoggerAdapter) (Broker, error) {
	return Broker{Publisher: stubPublisher{}, Subscriber: stubSubscriber{}}, nil
}

func TestRegistryBuild(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register("stub", stubBuilder)

	b, err := reg.Build(context.Background(), "stub", &stubConfig{name: "stub"}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, b.Publisher)
	assert.NotNil(t, b.Subscriber)
}

func TestRegistryBuildUnknown(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register("stub", stubBuilder)

	_, err := reg.Build(context.Background(), "missing", &stubConfig{}, watermill.NopLogger{})
	require.ErrorIs(t, err, cerrors.ErrProviderNotFound)
	assert.Contains(t, err.Error(), `"missing"`)
	assert.Contains(t, err.Error(), "stub")
}

func TestRegistryCapabilities(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.RegisterWithCapabilities("stub", stubBuilder, Capabilities{Name: "stub", SupportsAck: true})

	caps := reg.GetCapabilities("stub")
	assert.Equal(t, "stub", caps.Name)
	assert.True(t, caps.SupportsAck)

	unknown := reg.GetCapabilities("missing")
	assert.Equal(t, Capabilities{Name: "missing"}, unknown)
}

func TestRegistryIgnoresEmptyRegistrations(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register("", stubBuilder)
	reg.Register("nil", nil)
	reg.RegisterWithCapabilities("", stubBuilder, Capabilities{})

	assert.Empty(t, reg.Names())
}

func TestRegistryNamesSorted(t *testing.T) {
	t.Parallel()
	reg := NewRegistry()
	reg.Register("zeta", stubBuilder)
	reg.Register("alpha", stubBuilder)

	assert.Equal(t, []string{"alpha", "zeta"}, reg.Names())
	assert.True(t, reg.Has("alpha"))
	assert.False(t, reg.Has("beta"))
}
