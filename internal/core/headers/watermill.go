package headers

import "github.com/ThreeDotsLabs/watermill/message"

// ToWatermill copies h into Watermill message metadata.
func ToWatermill(h Headers) message.Metadata {
	md := make(message.Metadata, len(h))
	for k, v := range h {
		md[k] = v
	}
	return md
}

// FromWatermill copies Watermill metadata into Headers.
func FromWatermill(md message.Metadata) Headers {
	h := make(Headers, len(md))
	for k, v := range md {
		h[k] = v
	}
	return h
}
