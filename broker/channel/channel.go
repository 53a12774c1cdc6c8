// Package channel provides the in-memory Go channel broker.
//
// Useful for tests and single process deployments where events should
// still flow through the relay without external infrastructure.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/chassis/broker"
)

// BrokerName is the name used to register this broker.
const BrokerName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	broker.RegisterWithCapabilities(BrokerName, Build, broker.ChannelCapabilities)
}

// Build creates a new Go channel broker.
func Build(_ context.Context, _ broker.Config, logger watermill.LoggerAdapter) (broker.Broker, error) {
	pub, sub := Factory(gochannel.Config{}, logger)
	return broker.Broker{
		Publisher:  pub,
		Subscriber: sub,
	}, nil
}

// Capabilities returns the capabilities of this broker.
func Capabilities() broker.Capabilities {
	return broker.ChannelCapabilities
}
