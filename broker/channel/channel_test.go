package channel

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/chassis/broker"
)

type mockConfig struct{}

func (mockConfig) GetBroker() string             { return BrokerName }
func (mockConfig) GetKafkaBrokers() []string     { return nil }
func (mockConfig) GetKafkaConsumerGroup() string { return "" }
func (mockConfig) GetRabbitMQURL() string        { return "" }
func (mockConfig) GetNATSURL() string            { return "" }
func (mockConfig) GetFileBrokerPath() string     { return "" }
func (mockConfig) GetAWSRegion() string          { return "" }
func (mockConfig) GetAWSAccountID() string       { return "" }
func (mockConfig) GetAWSAccessKeyID() string     { return "" }
func (mockConfig) GetAWSSecretAccessKey() string { return "" }
func (mockConfig) GetAWSEndpoint() string        { return "" }

func TestBuildRegistered(t *testing.T) {
	assert.True(t, broker.Has(BrokerName))
	assert.Equal(t, broker.ChannelCapabilities, broker.GetCapabilities(BrokerName))
	assert.Equal(t, broker.ChannelCapabilities, Capabilities())
}

func TestBuildRoundTrip(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b, err := Build(ctx, mockConfig{}, watermill.NopLogger{})
	require.NoError(t, err)

	messages, err := b.Subscriber.Subscribe(ctx, "orders.OrderPlaced")
	require.NoError(t, err)

	msg := message.NewMessage(watermill.NewUUID(), []byte(`{"id":"o-1"}`))
	msg.Metadata.Set("ch_message_type", "event")
	require.NoError(t, b.Publisher.Publish("orders.OrderPlaced", msg))

	select {
	case got := <-messages:
		got.Ack()
		assert.Equal(t, msg.UUID, got.UUID)
		assert.Equal(t, []byte(`{"id":"o-1"}`), []byte(got.Payload))
		assert.Equal(t, "event", got.Metadata.Get("ch_message_type"))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestBuildUsesFactory(t *testing.T) {
	originalFactory := Factory
	defer func() { Factory = originalFactory }()

	var gotConfig gochannel.Config
	Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
		gotConfig = cfg
		pubSub := gochannel.NewGoChannel(cfg, logger)
		return pubSub, pubSub
	}

	b, err := Build(context.Background(), mockConfig{}, watermill.NopLogger{})
	require.NoError(t, err)
	assert.NotNil(t, b.Publisher)
	assert.NotNil(t, b.Subscriber)
	assert.Zero(t, gotConfig.OutputChannelBuffer)
}
