// Package headers carries message metadata across process boundaries.
//
// Every chassis message owns a Headers map. The relay copies it into the
// Watermill metadata of outgoing envelopes and restores it on the inbound
// side, so correlation ids and deadlines survive broker hops.
package headers

// Well known header keys. The ch_ prefix keeps them clear of application
// metadata.
const (
	KeyMessageID     = "ch_message_id"
	KeyCorrelationID = "ch_correlation_id"
	KeyRoutingKey    = "ch_routing_key"
	KeyKind          = "ch_kind"
	KeyDeadline      = "ch_deadline"
	KeySourceContext = "ch_source_context"
	KeyOrigin        = "ch_origin"
	KeyEntity        = "ch_entity"
	KeyOperation     = "ch_operation"
	KeyProtoSchema   = "ch_proto_schema"
)

// OriginRemote marks messages that arrived through the relay. The event
// observer skips them so a remote event is never published twice.
const OriginRemote = "remote"

// Headers is a mutable string map attached to every message.
type Headers map[string]string

// New builds Headers from alternating key/value pairs. Odd trailing keys are
// dropped.
func New(pairs ...string) Headers {
	h := make(Headers, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		h[pairs[i]] = pairs[i+1]
	}
	return h
}

// Clone returns an independent copy.
func (h Headers) Clone() Headers {
	return h.cloneWithExtra(0)
}

// With returns a copy with one additional entry.
func (h Headers) With(key, value string) Headers {
	out := h.cloneWithExtra(1)
	out[key] = value
	return out
}

// WithAll returns a copy merged with extra. Keys in extra win.
func (h Headers) WithAll(extra Headers) Headers {
	out := h.cloneWithExtra(len(extra))
	for k, v := range extra {
		out[k] = v
	}
	return out
}

// Get returns the value for key, or empty when absent. Safe on nil Headers.
func (h Headers) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[key]
}

func (h Headers) cloneWithExtra(extra int) Headers {
	out := make(Headers, len(h)+extra)
	for k, v := range h {
		out[k] = v
	}
	return out
}
