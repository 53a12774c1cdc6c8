package broker

// Capabilities describes what a broker supports. The relay inspects these
// to decide how much delivery machinery it has to emulate.
type Capabilities struct {
	// Name is the broker's registered name.
	Name string

	// SupportsOrdering indicates messages within a partition or queue are
	// delivered in publish order.
	SupportsOrdering bool

	// SupportsDelay indicates the broker can natively delay delivery.
	SupportsDelay bool

	// SupportsNativeDLQ indicates the broker has built in dead letter
	// queues. When false the poison queue is handled at the application
	// level.
	SupportsNativeDLQ bool

	// SupportsBatching indicates the broker can batch published messages.
	SupportsBatching bool

	// SupportsAck indicates explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates negative acknowledgment with redelivery.
	SupportsNack bool

	// MaxMessageSize is the maximum message size in bytes, 0 when
	// unlimited or unknown.
	MaxMessageSize int64
}

// RequiresDLQEmulation reports whether poison queue routing has to happen
// at the application level.
func (c Capabilities) RequiresDLQEmulation() bool {
	return !c.SupportsNativeDLQ
}

// SupportsReliableDelivery reports whether the broker offers at least once
// delivery semantics.
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// Predefined capability sets for the built in brokers.
var (
	// ChannelCapabilities for the in-memory Go channel broker.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// KafkaCapabilities for the Apache Kafka broker.
	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		SupportsBatching: true,
		SupportsAck:      true,
		MaxMessageSize:   1048576, // Default 1MB
	}

	// RabbitMQCapabilities for the RabbitMQ/AMQP broker.
	RabbitMQCapabilities = Capabilities{
		Name:              "rabbitmq",
		SupportsOrdering:  true,
		SupportsDelay:     true,
		SupportsNativeDLQ: true,
		SupportsAck:       true,
		SupportsNack:      true,
	}

	// NATSCapabilities for the NATS Core broker.
	NATSCapabilities = Capabilities{
		Name:           "nats",
		MaxMessageSize: 1048576, // Default 1MB
	}

	// AWSCapabilities for the AWS SNS/SQS broker.
	AWSCapabilities = Capabilities{
		Name:              "aws",
		SupportsOrdering:  true,
		SupportsDelay:     true,
		SupportsNativeDLQ: true,
		SupportsBatching:  true,
		SupportsAck:       true,
		SupportsNack:      true,
		MaxMessageSize:    262144, // 256KB
	}

	// FileCapabilities for the append-only file broker.
	FileCapabilities = Capabilities{
		Name:             "file",
		SupportsOrdering: true,
	}
)

// GetCapabilities returns the capabilities registered for a broker name.
func GetCapabilities(name string) Capabilities {
	return DefaultRegistry.GetCapabilities(name)
}
