// Package broker defines the messaging contract events travel over.
//
// A Broker pairs a watermill publisher and subscriber. Broker packages
// register themselves in the package registry under a name, applications
// select one through configuration. Built in brokers live in the
// subpackages channel, kafka, rabbitmq, nats, aws and file.
package broker

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Broker is one messaging infrastructure binding.
type Broker struct {
	Publisher  message.Publisher
	Subscriber message.Subscriber
}

// Builder constructs a broker from configuration.
type Builder func(ctx context.Context, conf Config, logger watermill.LoggerAdapter) (Broker, error)

// Config is the configuration surface brokers read from. Each broker only
// uses the keys relevant to it.
type Config interface {
	GetBroker() string

	// Kafka
	GetKafkaBrokers() []string
	GetKafkaConsumerGroup() string

	// RabbitMQ
	GetRabbitMQURL() string

	// NATS
	GetNATSURL() string

	// File
	GetFileBrokerPath() string

	// AWS
	GetAWSRegion() string
	GetAWSAccountID() string
	GetAWSAccessKeyID() string
	GetAWSSecretAccessKey() string
	GetAWSEndpoint() string
}

// CapabilitiesProvider is implemented by brokers that report their
// capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}
