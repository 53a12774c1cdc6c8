package broker

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilitiesRequiresDLQEmulation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		caps          Capabilities
		wantEmulation bool
	}{
		{
			name:          "native dlq broker",
			caps:          RabbitMQCapabilities,
			wantEmulation: false,
		},
		{
			name:          "kafka needs emulation",
			caps:          KafkaCapabilities,
			wantEmulation: true,
		},
		{
			name:          "channel needs emulation",
			caps:          ChannelCapabilities,
			wantEmulation: true,
		},
		{
			name:          "aws has native dlq",
			caps:          AWSCapabilities,
			wantEmulation: false,
		},
		{
			name:          "file needs emulation",
			caps:          FileCapabilities,
			wantEmulation: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.wantEmulation, tt.caps.RequiresDLQEmulation())
		})
	}
}

func TestCapabilitiesSupportsReliableDelivery(t *testing.T) {
	t.Parallel()

	assert.True(t, ChannelCapabilities.SupportsReliableDelivery())
	assert.False(t, KafkaCapabilities.SupportsReliableDelivery())
	assert.True(t, RabbitMQCapabilities.SupportsReliableDelivery())
	assert.True(t, AWSCapabilities.SupportsReliableDelivery())
	assert.False(t, NATSCapabilities.SupportsReliableDelivery())
	assert.False(t, FileCapabilities.SupportsReliableDelivery())
}

func TestPredefinedCapabilityNames(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "channel", ChannelCapabilities.Name)
	assert.Equal(t, "kafka", KafkaCapabilities.Name)
	assert.Equal(t, "rabbitmq", RabbitMQCapabilities.Name)
	assert.Equal(t, "nats", NATSCapabilities.Name)
	assert.Equal(t, "aws", AWSCapabilities.Name)
	assert.Equal(t, "file", FileCapabilities.Name)
}

func TestKafkaMessageSizeLimit(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(1024*1024), KafkaCapabilities.MaxMessageSize)
	assert.Equal(t, int64(256*1024), AWSCapabilities.MaxMessageSize)
	assert.Zero(t, ChannelCapabilities.MaxMessageSize)
}
