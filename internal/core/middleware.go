package core

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	cerrors "github.com/drblury/chassis/internal/core/errors"
	"github.com/drblury/chassis/internal/core/headers"
	"github.com/drblury/chassis/internal/core/ids"
	"github.com/drblury/chassis/internal/core/logging"
)

// Handler executes one message.
type Handler func(ctx context.Context, msg Message) (any, error)

// Middleware wraps a Handler with cross cutting behavior.
type Middleware func(next Handler) Handler

// MiddlewareBuilder builds a Middleware against a configured app. Builders
// may return a nil Middleware to opt out.
type MiddlewareBuilder func(app *App) (Middleware, error)

// MiddlewareRegistration names a middleware. Either Middleware or Builder is
// set, Builder wins when both are.
type MiddlewareRegistration struct {
	Name       string
	Middleware Middleware
	Builder    MiddlewareBuilder
}

// DefaultMiddlewares returns the standard dispatch pipeline. The first entry
// is the outermost wrapper.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		{Name: "correlation_id", Middleware: CorrelationIDMiddleware()},
		{Name: "deadline", Middleware: DeadlineMiddleware()},
		{
			Name: "log_messages",
			Builder: func(app *App) (Middleware, error) {
				return LogMessagesMiddleware(app.Logger()), nil
			},
		},
		{Name: "metrics", Builder: MetricsMiddleware},
		{Name: "tracer", Middleware: TracerMiddleware()},
		{Name: "recoverer", Middleware: RecovererMiddleware()},
	}
}

// Chain composes middlewares around a terminal handler. The first middleware
// in the slice ends up outermost.
func Chain(middlewares []Middleware, terminal Handler) Handler {
	h := terminal
	for i := len(middlewares) - 1; i >= 0; i-- {
		if middlewares[i] == nil {
			continue
		}
		h = middlewares[i](h)
	}
	return h
}

// CorrelationIDMiddleware assigns a correlation id when the message carries
// none.
func CorrelationIDMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (any, error) {
			h := msg.Headers()
			if h[headers.KeyCorrelationID] == "" {
				h[headers.KeyCorrelationID] = ids.CreateULID()
			}
			return next(ctx, msg)
		}
	}
}

// DeadlineMiddleware applies the deadline header to the handler context.
func DeadlineMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (any, error) {
			raw := msg.Headers().Get(headers.KeyDeadline)
			if raw == "" {
				return next(ctx, msg)
			}
			deadline, err := time.Parse(time.RFC3339Nano, raw)
			if err != nil {
				return nil, fmt.Errorf("%w: malformed deadline header %q: %v", cerrors.ErrInvalidArgument, raw, err)
			}
			ctx, cancel := context.WithDeadline(ctx, deadline)
			defer cancel()
			return next(ctx, msg)
		}
	}
}

// LogMessagesMiddleware logs message entry, completion and failures.
func LogMessagesMiddleware(log logging.ServiceLogger) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (any, error) {
			if log == nil {
				return next(ctx, msg)
			}
			fields := logging.LogFields{
				"routing_key":    msg.Headers().Get(headers.KeyRoutingKey),
				"kind":           msg.MessageKind().String(),
				"correlation_id": msg.Headers().Get(headers.KeyCorrelationID),
			}
			log.Debug("message received", fields)
			start := time.Now()
			result, err := next(ctx, msg)
			fields["duration"] = time.Since(start).String()
			if err != nil {
				log.Error("message failed", err, fields)
				return result, err
			}
			log.Debug("message handled", fields)
			return result, nil
		}
	}
}

// MetricsMiddleware counts messages and observes handling latency on the app
// metrics registry. Returns nil when metrics are disabled.
func MetricsMiddleware(app *App) (Middleware, error) {
	if app == nil || app.conf == nil || !app.conf.MetricsEnabled {
		return nil, nil
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chassis",
		Subsystem: "bus",
		Name:      "messages_total",
		Help:      "Messages dispatched through the bus.",
	}, []string{"kind", "key", "outcome"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chassis",
		Subsystem: "bus",
		Name:      "message_duration_seconds",
		Help:      "Message handling latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"kind", "key"})
	if err := app.Metrics().Register(processed); err != nil {
		return nil, err
	}
	if err := app.Metrics().Register(latency); err != nil {
		return nil, err
	}
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (any, error) {
			key := msg.Headers().Get(headers.KeyRoutingKey)
			kind := msg.MessageKind().String()
			start := time.Now()
			result, err := next(ctx, msg)
			outcome := "ok"
			if err != nil {
				outcome = "error"
			}
			processed.WithLabelValues(kind, key, outcome).Inc()
			latency.WithLabelValues(kind, key).Observe(time.Since(start).Seconds())
			return result, err
		}
	}, nil
}

// TracerMiddleware opens a span per message using the global tracer provider.
func TracerMiddleware() Middleware {
	tracer := otel.Tracer("chassis")
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (any, error) {
			key := msg.Headers().Get(headers.KeyRoutingKey)
			ctx, span := tracer.Start(ctx, key, trace.WithAttributes(
				attribute.String("chassis.kind", msg.MessageKind().String()),
				attribute.String("chassis.routing_key", key),
				attribute.String("chassis.correlation_id", msg.Headers().Get(headers.KeyCorrelationID)),
			))
			defer span.End()
			result, err := next(ctx, msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return result, err
		}
	}
}

// RecovererMiddleware converts handler panics into framework errors.
func RecovererMiddleware() Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (result any, err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("%w: panic in handler: %v", cerrors.ErrFramework, r)
				}
			}()
			return next(ctx, msg)
		}
	}
}

// RetryConfig tunes RetryMiddleware.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RetryIf         func(error) bool
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 5
	}
	if c.InitialInterval <= 0 {
		c.InitialInterval = time.Second
	}
	if c.MaxInterval <= 0 {
		c.MaxInterval = 16 * time.Second
	}
	return c
}

// RetryMiddleware retries failed handlers with doubling backoff. It is not
// part of the default pipeline, register it explicitly for handlers with
// transient failure modes.
func RetryMiddleware(cfg RetryConfig) Middleware {
	cfg = cfg.withDefaults()
	return func(next Handler) Handler {
		return func(ctx context.Context, msg Message) (any, error) {
			var lastErr error
			interval := cfg.InitialInterval
			for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
				if attempt > 0 {
					select {
					case <-ctx.Done():
						return nil, ctx.Err()
					case <-time.After(interval):
					}
					interval *= 2
					if interval > cfg.MaxInterval {
						interval = cfg.MaxInterval
					}
				}
				result, err := next(ctx, msg)
				if err == nil {
					return result, nil
				}
				if cfg.RetryIf != nil && !cfg.RetryIf(err) {
					return result, err
				}
				lastErr = err
			}
			return nil, lastErr
		}
	}
}
