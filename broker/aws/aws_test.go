package aws

import (
	"context"
	"errors"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-aws/sns"
	"github.com/ThreeDotsLabs/watermill-aws/sqs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/chassis/broker"
)

type mockConfig struct {
	region    string
	accountID string
	accessKey string
	secretKey string
	endpoint  string
}

func (m mockConfig) GetBroker() string             { return BrokerName }
func (m mockConfig) GetKafkaBrokers() []string     { return nil }
func (m mockConfig) GetKafkaConsumerGroup() string { return "" }
func (m mockConfig) GetRabbitMQURL() string        { return "" }
func (m mockConfig) GetNATSURL() string            { return "" }
func (m mockConfig) GetFileBrokerPath() string     { return "" }
func (m mockConfig) GetAWSRegion() string          { return m.region }
func (m mockConfig) GetAWSAccountID() string       { return m.accountID }
func (m mockConfig) GetAWSAccessKeyID() string     { return m.accessKey }
func (m mockConfig) GetAWSSecretAccessKey() string { return m.secretKey }
func (m mockConfig) GetAWSEndpoint() string        { return m.endpoint }

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
	assert.Equal(t, broker.AWSCapabilities, caps)
	assert.Equal(t, "aws", caps.Name)
	assert.True(t, caps.SupportsNativeDLQ)
	assert.False(t, caps.RequiresDLQEmulation())
	assert.Equal(t, broker.AWSCapabilities, Capabilities())
}

func TestBuild(t *testing.T) {
	localstack := mockConfig{
		region:    "eu-west-1",
		accountID: "000000000000",
		endpoint:  "http://localhost:4566",
	}

	t.Run("builds with mocked loader and factories", func(t *testing.T) {
		originalLoader := DefaultConfigLoader
		originalPub := PublisherFactory
		originalSub := SubscriberFactory
		defer func() {
			DefaultConfigLoader = originalLoader
			PublisherFactory = originalPub
			SubscriberFactory = originalSub
		}()

		DefaultConfigLoader = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, nil
		}

		mockPub := mockPublisher{}
		mockSub := mockSubscriber{}

		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Equal(t, "eu-west-1", cfg.AWSConfig.Region)
			require.NotNil(t, cfg.AWSConfig.BaseEndpoint)
			assert.Equal(t, "http://localhost:4566", *cfg.AWSConfig.BaseEndpoint)
			assert.NotEmpty(t, cfg.OptFns)
			return mockPub, nil
		}
		SubscriberFactory = func(cfg sns.SubscriberConfig, sqsCfg sqs.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			assert.Equal(t, "eu-west-1", cfg.AWSConfig.Region)
			assert.NotEmpty(t, cfg.OptFns)
			assert.NotEmpty(t, sqsCfg.OptFns)
			return mockSub, nil
		}

		b, err := Build(context.Background(), localstack, watermill.NopLogger{})

		require.NoError(t, err)
		assert.Equal(t, mockPub, b.Publisher)
		assert.Equal(t, mockSub, b.Subscriber)
	})

	t.Run("returns loader error", func(t *testing.T) {
		originalLoader := DefaultConfigLoader
		defer func() { DefaultConfigLoader = originalLoader }()

		DefaultConfigLoader = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, errors.New("no credentials")
		}

		_, err := Build(context.Background(), localstack, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no credentials")
	})

	t.Run("returns publisher factory error", func(t *testing.T) {
		originalLoader := DefaultConfigLoader
		originalPub := PublisherFactory
		defer func() {
			DefaultConfigLoader = originalLoader
			PublisherFactory = originalPub
		}()

		DefaultConfigLoader = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
			return aws.Config{}, nil
		}
		PublisherFactory = func(cfg sns.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), localstack, watermill.NopLogger{})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "publisher error")
	})
}

func TestResolveAccountAndRegion(t *testing.T) {
	logger := watermill.NopLogger{}

	t.Run("keeps explicit values", func(t *testing.T) {
		accountID, region := resolveAccountAndRegion(mockConfig{
			region:    "us-east-1",
			accountID: "123456789012",
		}, logger, "eu-central-1")
		assert.Equal(t, "123456789012", accountID)
		assert.Equal(t, "us-east-1", region)
	})

	t.Run("falls back to loader region", func(t *testing.T) {
		_, region := resolveAccountAndRegion(mockConfig{accountID: "123456789012"}, logger, "eu-central-1")
		assert.Equal(t, "eu-central-1", region)
	})

	t.Run("defaults empty account on localstack", func(t *testing.T) {
		accountID, _ := resolveAccountAndRegion(mockConfig{
			region:   "eu-west-1",
			endpoint: "http://localhost:4566",
		}, logger, "")
		assert.Equal(t, localstackAccountID, accountID)
	})

	t.Run("replaces malformed account on localstack", func(t *testing.T) {
		accountID, _ := resolveAccountAndRegion(mockConfig{
			region:    "eu-west-1",
			accountID: "42",
			endpoint:  "http://localhost:4566",
		}, logger, "")
		assert.Equal(t, localstackAccountID, accountID)
	})

	t.Run("strips quoting around the account id", func(t *testing.T) {
		accountID, _ := resolveAccountAndRegion(mockConfig{
			accountID: `"123456789012"`,
		}, logger, "eu-west-1")
		assert.Equal(t, "123456789012", accountID)
	})
}

func TestSQSQueueNameFromTopic(t *testing.T) {
	name, err := sqsQueueNameFromTopic(context.Background(), sns.TopicArn("arn:aws:sns:eu-west-1:000000000000:orders.OrderPlaced"))
	require.NoError(t, err)
	assert.Equal(t, "orders.OrderPlaced", name)

	_, err = sqsQueueNameFromTopic(context.Background(), sns.TopicArn("not-an-arn"))
	assert.Error(t, err)
}
