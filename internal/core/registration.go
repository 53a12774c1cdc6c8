package core

import (
	"context"
	"fmt"
	"reflect"

	cerrors "github.com/drblury/chassis/internal/core/errors"
)

// Service pairs a message prototype with its handler. Message returns an
// empty instance of the handled type, Execute runs for each matching message.
type Service interface {
	Message() Message
	Execute(ctx context.Context, msg Message) (any, error)
}

// RegisterService wires a service into the bus. The pipeline kind follows the
// prototype kind: commands and queries get exactly one handler, events append
// a listener.
func (a *App) RegisterService(svc Service) error {
	if a == nil {
		return cerrors.ErrAppRequired
	}
	if svc == nil {
		return cerrors.ErrServiceRequired
	}
	proto := svc.Message()
	if proto == nil {
		return cerrors.ErrPrototypeRequired
	}
	factory, err := messageFactory(proto)
	if err != nil {
		return err
	}
	key := MessageRoutingKey(proto)
	handler := func(ctx context.Context, msg Message) (any, error) {
		return svc.Execute(ctx, msg)
	}
	return a.register(proto.MessageKind(), key, serviceName(svc), handler, factory)
}

func (a *App) register(kind Kind, key, name string, handler Handler, factory func() Message) error {
	if a.isStarted() {
		return fmt.Errorf("%w: cannot register handlers after the app started", cerrors.ErrFramework)
	}
	var err error
	switch kind {
	case KindCommand:
		err = a.bus.RegisterCommand(key, name, handler)
	case KindQuery:
		err = a.bus.RegisterQuery(key, name, handler)
	case KindEvent:
		err = a.bus.Subscribe(key, name, handler)
	default:
		err = fmt.Errorf("%w: unknown message kind %d", cerrors.ErrInvalidArgument, kind)
	}
	if err != nil {
		return err
	}
	if factory != nil {
		a.bus.RegisterPrototype(key, factory)
	}
	return nil
}

// messageFactory builds empty copies of the prototype for decoding inbound
// payloads. The prototype must be a pointer to a struct.
func messageFactory(proto Message) (func() Message, error) {
	t := reflect.TypeOf(proto)
	if t == nil || t.Kind() != reflect.Pointer || t.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("%w: message prototype must be a pointer to a struct, got %T", cerrors.ErrInvalidArgument, proto)
	}
	elem := t.Elem()
	return func() Message {
		return reflect.New(elem).Interface().(Message)
	}, nil
}

func serviceName(svc Service) string {
	t := reflect.TypeOf(svc)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "service"
	}
	return qualifiedTypeName(t)
}

// RegisterCommandHandler binds a typed handler for the command type M.
func RegisterCommandHandler[M any](app *App, handler func(ctx context.Context, cmd *M) (any, error)) error {
	if app == nil {
		return cerrors.ErrAppRequired
	}
	if handler == nil {
		return cerrors.ErrHandlerRequired
	}
	proto, err := messagePrototype[M](KindCommand)
	if err != nil {
		return err
	}
	h := func(ctx context.Context, msg Message) (any, error) {
		m, ok := any(msg).(*M)
		if !ok {
			return nil, fmt.Errorf("%w: expected %T, got %T", cerrors.ErrInvalidArgument, proto, msg)
		}
		return handler(ctx, m)
	}
	return app.register(KindCommand, MessageRoutingKey(proto), qualifiedTypeName(typeOf[M]()), h, typedFactory[M]())
}

// RegisterQueryHandler binds a typed handler for the query type M.
func RegisterQueryHandler[M any](app *App, handler func(ctx context.Context, qry *M) (any, error)) error {
	if app == nil {
		return cerrors.ErrAppRequired
	}
	if handler == nil {
		return cerrors.ErrHandlerRequired
	}
	proto, err := messagePrototype[M](KindQuery)
	if err != nil {
		return err
	}
	h := func(ctx context.Context, msg Message) (any, error) {
		m, ok := any(msg).(*M)
		if !ok {
			return nil, fmt.Errorf("%w: expected %T, got %T", cerrors.ErrInvalidArgument, proto, msg)
		}
		return handler(ctx, m)
	}
	return app.register(KindQuery, MessageRoutingKey(proto), qualifiedTypeName(typeOf[M]()), h, typedFactory[M]())
}

// SubscribeEvent appends a typed listener for the event type E. Listener
// return values are discarded, only errors surface.
func SubscribeEvent[E any](app *App, listener func(ctx context.Context, evt *E) error) error {
	if app == nil {
		return cerrors.ErrAppRequired
	}
	proto, err := messagePrototype[E](KindEvent)
	if err != nil {
		return err
	}
	return subscribeTyped(app, MessageRoutingKey(proto), listener)
}

// SubscribeEventNamed appends a typed listener under an explicit key, for
// event types whose routing key is carried in a field and empty on the
// prototype.
func SubscribeEventNamed[E any](app *App, key string, listener func(ctx context.Context, evt *E) error) error {
	if app == nil {
		return cerrors.ErrAppRequired
	}
	if key == "" {
		return cerrors.ErrRoutingKeyRequired
	}
	if _, err := messagePrototype[E](KindEvent); err != nil {
		return err
	}
	return subscribeTyped(app, key, listener)
}

func subscribeTyped[E any](app *App, key string, listener func(ctx context.Context, evt *E) error) error {
	if listener == nil {
		return cerrors.ErrHandlerRequired
	}
	h := func(ctx context.Context, msg Message) (any, error) {
		e, ok := any(msg).(*E)
		if !ok {
			return nil, fmt.Errorf("%w: expected %T, got %T", cerrors.ErrInvalidArgument, typeOf[E](), msg)
		}
		return nil, listener(ctx, e)
	}
	return app.register(KindEvent, key, qualifiedTypeName(typeOf[E]()), h, typedFactory[E]())
}

func messagePrototype[M any](want Kind) (Message, error) {
	proto, ok := any(new(M)).(Message)
	if !ok {
		return nil, fmt.Errorf("%w: %s does not embed a chassis message type", cerrors.ErrInvalidArgument, typeOf[M]())
	}
	if proto.MessageKind() != want {
		return nil, fmt.Errorf("%w: %s is a %s, not a %s", cerrors.ErrInvalidArgument, typeOf[M](), proto.MessageKind(), want)
	}
	return proto, nil
}

func typedFactory[M any]() func() Message {
	return func() Message {
		msg, _ := any(new(M)).(Message)
		return msg
	}
}

func typeOf[M any]() reflect.Type {
	return reflect.TypeOf((*M)(nil)).Elem()
}
