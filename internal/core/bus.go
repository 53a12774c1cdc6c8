package core

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	cerrors "github.com/drblury/chassis/internal/core/errors"
	"github.com/drblury/chassis/internal/core/headers"
	"github.com/drblury/chassis/internal/core/ids"
	"github.com/drblury/chassis/internal/core/logging"
)

type pipeline struct {
	key     string
	kind    Kind
	name    string
	handler Handler
	stats   *PipelineStats
}

func (p *pipeline) info() PipelineInfo {
	return PipelineInfo{Key: p.key, Kind: p.kind.String(), Name: p.name, Stats: p.stats.Snapshot()}
}

// Bus routes commands and queries to their single handler and events to all
// subscribed listeners. The middleware chain is fixed at construction and
// composed into every pipeline at registration time.
type Bus struct {
	logger        logging.ServiceLogger
	sourceContext string
	middlewares   []Middleware

	mu         sync.RWMutex
	commands   map[string]*pipeline
	queries    map[string]*pipeline
	listeners  map[string][]*pipeline
	prototypes map[string]func() Message
	observer   func(ctx context.Context, msg Message) error
}

// NewBus builds an empty bus. sourceContext names the owning bounded context
// and is stamped onto dispatched events.
func NewBus(logger logging.ServiceLogger, sourceContext string, middlewares []Middleware) *Bus {
	if logger == nil {
		logger = logging.Nop()
	}
	return &Bus{
		logger:        logger,
		sourceContext: sourceContext,
		middlewares:   middlewares,
		commands:      map[string]*pipeline{},
		queries:       map[string]*pipeline{},
		listeners:     map[string][]*pipeline{},
		prototypes:    map[string]func() Message{},
	}
}

// RegisterCommand binds the single handler for a command key.
func (b *Bus) RegisterCommand(key, name string, handler Handler) error {
	return b.register(KindCommand, key, name, handler)
}

// RegisterQuery binds the single handler for a query key.
func (b *Bus) RegisterQuery(key, name string, handler Handler) error {
	return b.register(KindQuery, key, name, handler)
}

func (b *Bus) register(kind Kind, key, name string, handler Handler) error {
	if key == "" {
		return fmt.Errorf("%w: empty routing key", cerrors.ErrMessageBus)
	}
	if handler == nil {
		return cerrors.ErrHandlerRequired
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	table := b.commands
	if kind == KindQuery {
		table = b.queries
	}
	if _, exists := table[key]; exists {
		return fmt.Errorf("%w: duplicate %s handler for %q", cerrors.ErrMessageBus, kind, key)
	}
	table[key] = b.newPipeline(kind, key, name, handler)
	b.logger.Debug("handler registered", logging.LogFields{"routing_key": key, "kind": kind.String(), "handler": name})
	return nil
}

// Subscribe appends an event listener for key. Listeners run in registration
// order.
func (b *Bus) Subscribe(key, name string, handler Handler) error {
	if key == "" {
		return fmt.Errorf("%w: empty routing key", cerrors.ErrMessageBus)
	}
	if handler == nil {
		return cerrors.ErrHandlerRequired
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if name == "" {
		name = fmt.Sprintf("%s#%d", key, len(b.listeners[key]))
	}
	b.listeners[key] = append(b.listeners[key], b.newPipeline(KindEvent, key, name, handler))
	b.logger.Debug("listener subscribed", logging.LogFields{"routing_key": key, "listener": name})
	return nil
}

func (b *Bus) newPipeline(kind Kind, key, name string, handler Handler) *pipeline {
	return &pipeline{
		key:     key,
		kind:    kind,
		name:    name,
		handler: Chain(b.middlewares, handler),
		stats:   &PipelineStats{},
	}
}

// RegisterPrototype records a factory producing empty messages for key, used
// by the relay to decode inbound payloads.
func (b *Bus) RegisterPrototype(key string, factory func() Message) {
	if key == "" || factory == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.prototypes[key] = factory
}

// Prototype returns a fresh empty message for key, nil when none registered.
func (b *Bus) Prototype(key string) Message {
	b.mu.RLock()
	factory := b.prototypes[key]
	b.mu.RUnlock()
	if factory == nil {
		return nil
	}
	return factory()
}

// SetObserver installs the event observer invoked after local listeners ran.
// The relay uses it to publish locally raised events.
func (b *Bus) SetObserver(fn func(ctx context.Context, msg Message) error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.observer = fn
}

// Invoke routes a command to its handler and returns the handler result.
func (b *Bus) Invoke(ctx context.Context, cmd Message) (any, error) {
	return b.execute(ctx, cmd, KindCommand)
}

// Request routes a query to its handler and returns the handler result.
func (b *Bus) Request(ctx context.Context, qry Message) (any, error) {
	return b.execute(ctx, qry, KindQuery)
}

func (b *Bus) execute(ctx context.Context, msg Message, kind Kind) (any, error) {
	if msg == nil {
		return nil, fmt.Errorf("%w: nil message", cerrors.ErrInvalidArgument)
	}
	if msg.MessageKind() != kind {
		return nil, fmt.Errorf("%w: %s message sent on the %s path", cerrors.ErrInvalidArgument, msg.MessageKind(), kind)
	}
	keys := routingCandidates(msg)
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: message %T has no routing key", cerrors.ErrMessageBus, msg)
	}

	b.mu.RLock()
	table := b.commands
	if kind == KindQuery {
		table = b.queries
	}
	var p *pipeline
	for _, key := range keys {
		if found, ok := table[key]; ok {
			p = found
			break
		}
	}
	b.mu.RUnlock()

	if p == nil {
		return nil, &cerrors.MissingHandlerError{Kind: kind.String(), Key: keys[0]}
	}
	stampMessage(msg, p.key)
	return b.run(ctx, p, msg)
}

// Dispatch delivers an event to every listener in registration order. One
// failing listener does not stop the others, all failures surface joined
// after the full pass. Zero listeners is not an error.
func (b *Bus) Dispatch(ctx context.Context, evt Message) error {
	if evt == nil {
		return fmt.Errorf("%w: nil message", cerrors.ErrInvalidArgument)
	}
	if evt.MessageKind() != KindEvent {
		return fmt.Errorf("%w: %s message sent on the event path", cerrors.ErrInvalidArgument, evt.MessageKind())
	}
	if se, ok := evt.(interface{ SetSourceContext(string) }); ok {
		se.SetSourceContext(b.sourceContext)
	}
	keys := routingCandidates(evt)
	// Remote events route by the key they arrived under, the local type may
	// derive a different one.
	if hk := evt.Headers().Get(headers.KeyRoutingKey); hk != "" && (len(keys) == 0 || keys[0] != hk) {
		keys = append([]string{hk}, keys...)
	}
	if len(keys) == 0 {
		return fmt.Errorf("%w: event %T has no routing key", cerrors.ErrMessageBus, evt)
	}
	stampMessage(evt, keys[0])
	if sc := sourceContextOf(evt); sc != "" {
		evt.Headers()[headers.KeySourceContext] = sc
	}

	b.mu.RLock()
	var listeners []*pipeline
	for _, key := range keys {
		if ls := b.listeners[key]; len(ls) > 0 {
			listeners = append([]*pipeline(nil), ls...)
			break
		}
	}
	observer := b.observer
	b.mu.RUnlock()

	var errs []error
	for _, p := range listeners {
		if _, err := b.run(ctx, p, evt); err != nil {
			b.logger.Error("event listener failed", err, logging.LogFields{
				"routing_key": p.key,
				"listener":    p.name,
			})
			errs = append(errs, fmt.Errorf("listener %s: %w", p.name, err))
		}
	}
	if observer != nil && evt.Headers().Get(headers.KeyOrigin) != headers.OriginRemote {
		if err := observer(ctx, evt); err != nil {
			errs = append(errs, fmt.Errorf("event relay: %w", err))
		}
	}
	return errors.Join(errs...)
}

func (b *Bus) run(ctx context.Context, p *pipeline, msg Message) (any, error) {
	start := time.Now()
	result, err := p.handler(ctx, msg)
	p.stats.Record(time.Since(start), err != nil)
	return result, err
}

func stampMessage(msg Message, key string) {
	h := msg.Headers()
	if h[headers.KeyMessageID] == "" {
		h[headers.KeyMessageID] = ids.CreateULID()
	}
	h[headers.KeyRoutingKey] = key
	h[headers.KeyKind] = msg.MessageKind().String()
}

func sourceContextOf(msg Message) string {
	if e, ok := msg.(interface{ SourceContext() string }); ok {
		return e.SourceContext()
	}
	return ""
}

// EventKeys lists the keys with at least one local listener, sorted.
func (b *Bus) EventKeys() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	keys := make([]string, 0, len(b.listeners))
	for key := range b.listeners {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// Stats reports all pipelines sorted by key then name.
func (b *Bus) Stats() []PipelineInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]PipelineInfo, 0, len(b.commands)+len(b.queries))
	for _, p := range b.commands {
		out = append(out, p.info())
	}
	for _, p := range b.queries {
		out = append(out, p.info())
	}
	for _, ps := range b.listeners {
		for _, p := range ps {
			out = append(out, p.info())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Key != out[j].Key {
			return out[i].Key < out[j].Key
		}
		return out[i].Name < out[j].Name
	})
	return out
}
