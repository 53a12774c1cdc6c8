// Package nats provides the NATS Core broker.
package nats

import (
	"context"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/chassis/broker"
)

// BrokerName is the name used to register this broker.
const BrokerName = "nats"

const (
	connectTimeout = 30 * time.Second
	reconnectWait  = time.Second
)

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	broker.RegisterWithCapabilities(BrokerName, Build, broker.NATSCapabilities)
}

// Build creates a new NATS Core broker. The connection reconnects on its
// own, publishes before the first connect succeed once it is up.
func Build(_ context.Context, conf broker.Config, logger watermill.LoggerAdapter) (broker.Broker, error) {
	url := conf.GetNATSURL()
	marshaler := &nats.NATSMarshaler{}
	options := []nc.Option{
		nc.RetryOnFailedConnect(true),
		nc.Timeout(connectTimeout),
		nc.ReconnectWait(reconnectWait),
	}

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: options,
			Marshaler:   marshaler,
		},
		logger,
	)
	if err != nil {
		return broker.Broker{}, err
	}

	subscriber, err := SubscriberFactory(
		nats.SubscriberConfig{
			URL:         url,
			NatsOptions: options,
			Unmarshaler: marshaler,
		},
		logger,
	)
	if err != nil {
		return broker.Broker{}, err
	}

	return broker.Broker{
		Publisher:  publisher,
		Subscriber: subscriber,
	}, nil
}

// Capabilities returns the capabilities of this broker.
func Capabilities() broker.Capabilities {
	return broker.NATSCapabilities
}
