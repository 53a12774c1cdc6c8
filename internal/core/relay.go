package core

import (
	"context"
	"fmt"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/protobuf/proto"

	"github.com/drblury/chassis/broker"
	"github.com/drblury/chassis/internal/core/cloudevents"
	"github.com/drblury/chassis/internal/core/codec"
	"github.com/drblury/chassis/internal/core/config"
	cerrors "github.com/drblury/chassis/internal/core/errors"
	"github.com/drblury/chassis/internal/core/headers"
	"github.com/drblury/chassis/internal/core/ids"
	"github.com/drblury/chassis/internal/core/logging"
)

var routerRun = func(router *message.Router, ctx context.Context) error {
	return router.Run(ctx)
}

// headerExtensions maps chassis headers onto CloudEvents extension attribute
// names. Message id, routing key and source context travel as the envelope's
// id, type and source, origin never leaves the process.
var headerExtensions = map[string]string{
	headers.KeyCorrelationID: "correlationid",
	headers.KeyKind:          "kind",
	headers.KeyDeadline:      "deadline",
	headers.KeyEntity:        "entity",
	headers.KeyOperation:     "operation",
}

// Relay connects the bus to a broker. Locally dispatched events leave as
// CloudEvents envelopes, envelopes arriving on subscribed topics are decoded
// through the registered prototypes and dispatched with remote origin.
type Relay struct {
	bus    *Bus
	broker broker.Broker
	caps   broker.Capabilities
	conf   *config.Config
	log    logging.ServiceLogger
	router *message.Router

	published *prometheus.CounterVec
	consumed  *prometheus.CounterVec
	poisoned  prometheus.Counter
}

func newRelay(app *App) (*Relay, error) {
	r := &Relay{
		bus:    app.bus,
		broker: app.brokerConn,
		caps:   app.brokerCaps,
		conf:   app.conf,
		log:    app.Logger().With(logging.LogFields{"component": "relay"}),
	}

	router, err := message.NewRouter(message.RouterConfig{}, app.wmLogger)
	if err != nil {
		return nil, err
	}
	r.router = router

	if app.conf.MetricsEnabled {
		if err := r.registerMetrics(app.Metrics()); err != nil {
			return nil, err
		}
	}

	retryCfg := RetryConfig{
		MaxRetries:      app.conf.RetryMaxRetries,
		InitialInterval: app.conf.RetryInitialInterval,
		MaxInterval:     app.conf.RetryMaxInterval,
	}.withDefaults()

	router.AddMiddleware(r.logMiddleware())
	router.AddMiddleware(middleware.Retry{
		MaxRetries:      retryCfg.MaxRetries,
		InitialInterval: retryCfg.InitialInterval,
		MaxInterval:     retryCfg.MaxInterval,
		ShouldRetry: func(params middleware.RetryParams) bool {
			return cloudevents.IsRetryable(params.Err)
		},
	}.Middleware)
	if r.caps.RequiresDLQEmulation() && app.conf.PoisonTopic != "" {
		poison, err := middleware.PoisonQueueWithFilter(r.broker.Publisher, app.conf.PoisonTopic, r.poisonFilter)
		if err != nil {
			return nil, err
		}
		router.AddMiddleware(poison)
	}
	router.AddMiddleware(middleware.Recoverer)

	return r, nil
}

func (r *Relay) registerMetrics(reg *prometheus.Registry) error {
	r.published = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chassis",
		Subsystem: "relay",
		Name:      "published_total",
		Help:      "Events published to the broker.",
	}, []string{"key"})
	r.consumed = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chassis",
		Subsystem: "relay",
		Name:      "consumed_total",
		Help:      "Remote events consumed from the broker.",
	}, []string{"key", "outcome"})
	r.poisoned = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "chassis",
		Subsystem: "relay",
		Name:      "poisoned_total",
		Help:      "Messages routed to the poison topic.",
	})
	for _, c := range []prometheus.Collector{r.published, r.consumed, r.poisoned} {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func (r *Relay) poisonFilter(err error) bool {
	if !cloudevents.ShouldDeadLetter(err) {
		return false
	}
	if r.poisoned != nil {
		r.poisoned.Inc()
	}
	r.log.Error("message routed to poison topic", err, logging.LogFields{"topic": r.conf.PoisonTopic})
	return true
}

func (r *Relay) logMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			r.log.Debug("remote message received", logging.LogFields{
				"message_uuid": msg.UUID,
				"type":         msg.Metadata.Get("ce_type"),
			})
			return h(msg)
		}
	}
}

func (r *Relay) topic(key string) string {
	return r.conf.EventTopicPrefix + key
}

// subscribe adds the inbound pipeline for one routing key.
func (r *Relay) subscribe(key string) {
	r.router.AddNoPublisherHandler("relay."+key, r.topic(key), r.broker.Subscriber, r.inbound(key))
}

// start runs the router and waits until it accepts messages.
func (r *Relay) start(ctx context.Context) error {
	go func() {
		if err := routerRun(r.router, ctx); err != nil {
			r.log.Error("relay router stopped", err, nil)
		}
	}()
	select {
	case <-r.router.Running():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Relay) close() error {
	return r.router.Close()
}

// publishEvent is the bus observer. It wraps the event in a CloudEvents
// envelope and publishes it to the key's topic.
func (r *Relay) publishEvent(ctx context.Context, msg Message) error {
	key := msg.Headers().Get(headers.KeyRoutingKey)
	if key == "" {
		key = MessageRoutingKey(msg)
	}
	if key == "" {
		return fmt.Errorf("%w: event %T has no routing key", cerrors.ErrMessageBus, msg)
	}

	source := sourceContextOf(msg)
	if source == "" {
		source = r.conf.Context()
	}
	id := msg.Headers().Get(headers.KeyMessageID)
	if id == "" {
		id = ids.CreateULID()
	}

	evt := cloudevents.NewWithID(id, key, source, msg)
	for hdr, ext := range headerExtensions {
		if v := msg.Headers().Get(hdr); v != "" {
			evt = evt.WithExtension(ext, v)
		}
	}

	payload, err := evt.Encode()
	if err != nil {
		return err
	}

	wm := message.NewMessage(evt.ID, payload)
	wm.Metadata.Set("ce_specversion", evt.SpecVersion)
	wm.Metadata.Set("ce_type", evt.Type)
	wm.Metadata.Set("ce_source", evt.Source)
	wm.Metadata.Set("ce_id", evt.ID)
	if ctx != nil {
		wm.SetContext(ctx)
	}

	if err := r.broker.Publisher.Publish(r.topic(key), wm); err != nil {
		return fmt.Errorf("publishing %s: %w", key, err)
	}
	if r.published != nil {
		r.published.WithLabelValues(key).Inc()
	}
	return nil
}

// inbound decodes one envelope and dispatches the rebuilt message locally.
func (r *Relay) inbound(key string) message.NoPublishHandlerFunc {
	return func(wm *message.Message) error {
		ctx := wm.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		outcome := "ok"
		err := r.consume(ctx, key, wm)
		if err != nil {
			outcome = "error"
		}
		if r.consumed != nil {
			r.consumed.WithLabelValues(key, outcome).Inc()
		}
		return err
	}
}

func (r *Relay) consume(ctx context.Context, key string, wm *message.Message) error {
	evt, err := cloudevents.Parse(wm.Payload)
	if err != nil {
		return cloudevents.ErrDeadLetterWithReason("undecodable event envelope", err)
	}

	routingKey := evt.Type
	if routingKey == "" {
		routingKey = key
	}
	msg := r.bus.Prototype(routingKey)
	if msg == nil {
		return cloudevents.ErrDeadLetterWithReason(fmt.Sprintf("no prototype registered for %q", routingKey), cerrors.ErrMissingHandler)
	}
	if err := evt.DecodeData(msg); err != nil {
		return cloudevents.ErrDeadLetterWithReason("undecodable event data", err)
	}

	h := msg.Headers()
	h[headers.KeyMessageID] = evt.ID
	h[headers.KeyRoutingKey] = routingKey
	h[headers.KeyOrigin] = headers.OriginRemote
	if evt.Source != "" {
		h[headers.KeySourceContext] = evt.Source
	}
	for hdr, ext := range headerExtensions {
		if v := evt.GetExtensionString(ext); v != "" {
			h[hdr] = v
		}
	}
	if se, ok := msg.(interface{ SetSourceContext(string) }); ok {
		se.SetSourceContext(evt.Source)
	}

	dispatchErr := r.bus.Dispatch(ctx, msg)
	result, _ := cloudevents.ClassifyError(dispatchErr)
	switch result {
	case cloudevents.ResultAck:
		return nil
	case cloudevents.ResultSkip:
		r.log.Debug("remote event skipped", logging.LogFields{"routing_key": routingKey, "event_id": evt.ID})
		return nil
	default:
		return dispatchErr
	}
}

// remoteKey reports whether key names an event owned by another bounded
// context, judged by the context prefix.
func remoteKey(key, ownContext string) bool {
	i := strings.IndexByte(key, '.')
	if i <= 0 {
		return false
	}
	return key[:i] != ownContext
}

// PublishProto publishes a protobuf message to topic, serialized with
// protojson. Metadata entries are copied onto the outgoing message.
func (a *App) PublishProto(ctx context.Context, topic string, event proto.Message, md headers.Headers) error {
	if a == nil {
		return cerrors.ErrAppRequired
	}
	if a.relay == nil {
		return fmt.Errorf("%w: no broker configured", cerrors.ErrInvalidArgument)
	}
	if topic == "" {
		return cerrors.ErrTopicRequired
	}
	if event == nil {
		return cerrors.ErrPayloadRequired
	}

	payload, err := codec.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshaling proto payload: %w", err)
	}
	wm := message.NewMessage(ids.CreateULID(), payload)
	for k, v := range md {
		wm.Metadata.Set(k, v)
	}
	wm.Metadata.Set(headers.KeyProtoSchema, fmt.Sprintf("%T", event))
	if ctx != nil {
		wm.SetContext(ctx)
	}
	return a.relay.broker.Publisher.Publish(topic, wm)
}

// SubscribeRemoteProto consumes protobuf messages from topic, decoding each
// payload into a fresh T before invoking handler. Handler errors follow the
// delivery control taxonomy.
func SubscribeRemoteProto[T proto.Message](app *App, topic string, handler func(ctx context.Context, event T, md headers.Headers) error) error {
	if app == nil {
		return cerrors.ErrAppRequired
	}
	if app.relay == nil {
		return fmt.Errorf("%w: no broker configured", cerrors.ErrInvalidArgument)
	}
	if topic == "" {
		return cerrors.ErrTopicRequired
	}
	if handler == nil {
		return cerrors.ErrHandlerRequired
	}
	if app.isStarted() {
		return fmt.Errorf("%w: cannot subscribe after the app started", cerrors.ErrFramework)
	}

	r := app.relay
	r.router.AddNoPublisherHandler("proto."+topic, topic, r.broker.Subscriber, func(wm *message.Message) error {
		ctx := wm.Context()
		if ctx == nil {
			ctx = context.Background()
		}
		event, err := NewProtoMessage[T]()
		if err != nil {
			return cloudevents.ErrDeadLetterWithReason("proto prototype failed", err)
		}
		if err := codec.Unmarshal(wm.Payload, event); err != nil {
			return cloudevents.ErrDeadLetterWithReason("undecodable proto payload", err)
		}
		md := make(headers.Headers, len(wm.Metadata))
		for k, v := range wm.Metadata {
			md[k] = v
		}
		return handler(ctx, event, md)
	})
	return nil
}
