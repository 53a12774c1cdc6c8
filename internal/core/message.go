package core

import (
	"reflect"
	"strings"
	"sync"

	"github.com/drblury/chassis/internal/core/headers"
)

// Kind classifies a message.
type Kind int

const (
	KindCommand Kind = iota + 1
	KindQuery
	KindEvent
)

func (k Kind) String() string {
	switch k {
	case KindCommand:
		return "command"
	case KindQuery:
		return "query"
	case KindEvent:
		return "event"
	default:
		return "unknown"
	}
}

// Message is implemented by pointers to structs embedding Command, Query or
// Event.
type Message interface {
	MessageKind() Kind
	Headers() headers.Headers
}

// RoutingKeyer overrides the derived routing key of a message type.
type RoutingKeyer interface {
	RoutingKey() string
}

// ContractKeyer supplies an alternative contract name tried when no handler
// matches the primary routing key.
type ContractKeyer interface {
	MessageContract() string
}

// Base carries the message headers. All message structs embed it through
// Command, Query or Event.
type Base struct {
	hdr headers.Headers
}

// Headers returns the mutable header map, allocating it on first use.
func (b *Base) Headers() headers.Headers {
	if b.hdr == nil {
		b.hdr = headers.Headers{}
	}
	return b.hdr
}

// SetHeader sets one header value.
func (b *Base) SetHeader(key, value string) {
	b.Headers()[key] = value
}

// Command is embedded by messages that change state. Exactly one handler
// serves a command.
type Command struct {
	Base
}

func (Command) MessageKind() Kind { return KindCommand }

// Query is embedded by messages that read state. Exactly one handler serves a
// query.
type Query struct {
	Base
}

func (Query) MessageKind() Kind { return KindQuery }

// Event is embedded by messages describing something that happened. Any
// number of listeners may observe an event.
type Event struct {
	Base

	source string
}

func (Event) MessageKind() Kind { return KindEvent }

// SourceContext returns the bounded context the event originated from.
func (e *Event) SourceContext() string { return e.source }

// SetSourceContext records the origin context. The first non-empty value
// sticks, later calls are ignored.
func (e *Event) SetSourceContext(source string) {
	if e.source != "" || source == "" {
		return
	}
	e.source = source
}

var routingKeys sync.Map

// MessageRoutingKey resolves the routing key of a message. An explicit
// RoutingKey wins, otherwise the key derives from the type as
// "<package>.<TypeName>".
func MessageRoutingKey(msg Message) string {
	if rk, ok := msg.(RoutingKeyer); ok {
		if key := rk.RoutingKey(); key != "" {
			return key
		}
	}
	t := reflect.TypeOf(msg)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return ""
	}
	if cached, ok := routingKeys.Load(t); ok {
		return cached.(string)
	}
	key := qualifiedTypeName(t)
	routingKeys.Store(t, key)
	return key
}

func qualifiedTypeName(t reflect.Type) string {
	pkg := t.PkgPath()
	if i := strings.LastIndexByte(pkg, '/'); i >= 0 {
		pkg = pkg[i+1:]
	}
	if pkg == "" {
		return t.Name()
	}
	return pkg + "." + t.Name()
}

// routingCandidates lists the keys tried when locating a handler, primary key
// first, message contract second.
func routingCandidates(msg Message) []string {
	keys := make([]string, 0, 2)
	if key := MessageRoutingKey(msg); key != "" {
		keys = append(keys, key)
	}
	if ck, ok := msg.(ContractKeyer); ok {
		if contract := ck.MessageContract(); contract != "" && (len(keys) == 0 || keys[0] != contract) {
			keys = append(keys, contract)
		}
	}
	return keys
}
