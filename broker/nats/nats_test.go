package nats

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/chassis/broker"
)

type mockConfig struct {
	url string
}

func (m mockConfig) GetBroker() string             { return BrokerName }
func (m mockConfig) GetKafkaBrokers() []string     { return nil }
func (m mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m mockConfig) GetRabbitMQURL() string        { return "" }
func (m mockConfig) GetNATSURL() string            { return m.url }
func (m mockConfig) GetFileBrokerPath() string     { return "" }
func (m mockConfig) GetAWSRegion() string          { return "" }
func (m mockConfig) GetAWSAccountID() string       { return "" }
func (m mockConfig) GetAWSAccessKeyID() string     { return "" }
func (m mockConfig) GetAWSSecretAccessKey() string { return "" }
func (m mockConfig) GetAWSEndpoint() string        { return "" }

type mockPublisher struct{}

func (mockPublisher) Publish(topic string, messages ...*message.Message) error { return nil }
func (mockPublisher) Close() error                                            { return nil }

type mockSubscriber struct{}

func (mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (mockSubscriber) Close() error { return nil }

func TestRegistered(t *testing.T) {
	assert.True(t, broker.Has(BrokerName))

	caps := broker.GetCapabilities(BrokerName)
	assert.Equal(t, broker.NATSCapabilities, caps)
	assert.Equal(t, "nats", caps.Name)
	assert.False(t, caps.SupportsAck)
	assert.True(t, caps.RequiresDLQEmulation())
	assert.Equal(t, broker.NATSCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	t.Run("builds with mocked factories", func(t *testing.T) {
		originalPub := PublisherFactory
		originalSub := SubscriberFactory
		defer func() {
			PublisherFactory = originalPub
			SubscriberFactory = originalSub
		}()

		mockPub := mockPublisher{}
		mockSub := mockSubscriber{}

		PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Equal(t, "nats://localhost:4222", cfg.URL)
			assert.NotEmpty(t, cfg.NatsOptions)
			return mockPub, nil
		}
		SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Equal(t, "nats://localhost:4222", cfg.URL)
			assert.NotEmpty(t, cfg.NatsOptions)
			return mockSub, nil
		}

		b, err := Build(context.Background(), mockConfig{url: "nats://localhost:4222"}, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Equal(t, mockPub, b.Publisher)
		assert.Equal(t, mockSub, b.Subscriber)
	})

	t.Run("returns publisher factory error", func(t *testing.T) {
		originalPub := PublisherFactory
		defer func() { PublisherFactory = originalPub }()

		PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("connection refused")
		}

		_, err := Build(context.Background(), mockConfig{url: "nats://localhost:4222"}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
	})

	t.Run("returns subscriber factory error", func(t *testing.T) {
		originalPub := PublisherFactory
		originalSub := SubscriberFactory
		defer func() {
			PublisherFactory = originalPub
			SubscriberFactory = originalSub
		}()

		PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return mockPublisher{}, nil
		}
		SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			return nil, errors.New("subscribe failed")
		}

		_, err := Build(context.Background(), mockConfig{url: "nats://localhost:4222"}, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "subscribe failed")
	})
}
