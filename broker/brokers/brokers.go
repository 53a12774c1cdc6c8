// Package brokers registers every built in broker.
//
// Import it for its side effects when an application should pick its broker
// from configuration alone:
//
//	import _ "github.com/drblury/chassis/broker/brokers"
package brokers

import (
	_ "github.com/drblury/chassis/broker/aws"
	_ "github.com/drblury/chassis/broker/channel"
	_ "github.com/drblury/chassis/broker/file"
	_ "github.com/drblury/chassis/broker/kafka"
	_ "github.com/drblury/chassis/broker/nats"
	_ "github.com/drblury/chassis/broker/rabbitmq"
)
