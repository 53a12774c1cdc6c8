package core

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/chassis/internal/core/config"
	cerrors "github.com/drblury/chassis/internal/core/errors"
	"github.com/drblury/chassis/internal/core/headers"
)

func passthrough(ctx context.Context, msg Message) (any, error) { return "done", nil }

func TestChainOrder(t *testing.T) {
	t.Parallel()

	var trace []string
	tag := func(name string) Middleware {
		return func(next Handler) Handler {
			return func(ctx context.Context, msg Message) (any, error) {
				trace = append(trace, name)
				return next(ctx, msg)
			}
		}
	}

	h := Chain([]Middleware{tag("a"), nil, tag("b")}, func(ctx context.Context, msg Message) (any, error) {
		trace = append(trace, "terminal")
		return nil, nil
	})
	_, err := h(context.Background(), &chargeCard{})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "terminal"}, trace)
}

func TestCorrelationIDMiddleware(t *testing.T) {
	t.Parallel()
	h := CorrelationIDMiddleware()(passthrough)

	cmd := &chargeCard{}
	_, err := h(context.Background(), cmd)
	require.NoError(t, err)
	assert.NotEmpty(t, cmd.Headers().Get(headers.KeyCorrelationID))

	// An existing correlation id is kept.
	cmd2 := &chargeCard{}
	cmd2.SetHeader(headers.KeyCorrelationID, "corr-42")
	_, err = h(context.Background(), cmd2)
	require.NoError(t, err)
	assert.Equal(t, "corr-42", cmd2.Headers().Get(headers.KeyCorrelationID))
}

func TestDeadlineMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("expired deadline cancels the context", func(t *testing.T) {
		t.Parallel()
		h := DeadlineMiddleware()(func(ctx context.Context, msg Message) (any, error) {
			return nil, ctx.Err()
		})
		cmd := &chargeCard{}
		cmd.SetHeader(headers.KeyDeadline, time.Now().Add(-time.Second).Format(time.RFC3339Nano))
		_, err := h(context.Background(), cmd)
		require.ErrorIs(t, err, context.DeadlineExceeded)
	})

	t.Run("malformed deadline is rejected", func(t *testing.T) {
		t.Parallel()
		h := DeadlineMiddleware()(passthrough)
		cmd := &chargeCard{}
		cmd.SetHeader(headers.KeyDeadline, "yesterday")
		_, err := h(context.Background(), cmd)
		require.ErrorIs(t, err, cerrors.ErrInvalidArgument)
	})

	t.Run("no deadline passes through", func(t *testing.T) {
		t.Parallel()
		h := DeadlineMiddleware()(passthrough)
		result, err := h(context.Background(), &chargeCard{})
		require.NoError(t, err)
		assert.Equal(t, "done", result)
	})
}

func TestRecovererMiddleware(t *testing.T) {
	t.Parallel()
	h := RecovererMiddleware()(func(ctx context.Context, msg Message) (any, error) {
		panic("handler exploded")
	})

	_, err := h(context.Background(), &chargeCard{})
	require.ErrorIs(t, err, cerrors.ErrFramework)
	assert.ErrorContains(t, err, "handler exploded")
}

func TestRetryMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("retries until success", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		h := RetryMiddleware(RetryConfig{MaxRetries: 3, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond})(
			func(ctx context.Context, msg Message) (any, error) {
				attempts++
				if attempts < 3 {
					return nil, errors.New("transient")
				}
				return "ok", nil
			})

		result, err := h(context.Background(), &chargeCard{})
		require.NoError(t, err)
		assert.Equal(t, "ok", result)
		assert.Equal(t, 3, attempts)
	})

	t.Run("exhausts retries", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		h := RetryMiddleware(RetryConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: time.Millisecond})(
			func(ctx context.Context, msg Message) (any, error) {
				attempts++
				return nil, errors.New("still broken")
			})

		_, err := h(context.Background(), &chargeCard{})
		require.EqualError(t, err, "still broken")
		assert.Equal(t, 3, attempts)
	})

	t.Run("RetryIf false stops after the first attempt", func(t *testing.T) {
		t.Parallel()
		attempts := 0
		h := RetryMiddleware(RetryConfig{
			MaxRetries:      5,
			InitialInterval: time.Millisecond,
			RetryIf:         func(error) bool { return false },
		})(func(ctx context.Context, msg Message) (any, error) {
			attempts++
			return nil, errors.New("fatal")
		})

		_, err := h(context.Background(), &chargeCard{})
		require.Error(t, err)
		assert.Equal(t, 1, attempts)
	})
}

func TestRetryConfigDefaults(t *testing.T) {
	t.Parallel()
	cfg := RetryConfig{}.withDefaults()
	assert.Equal(t, 5, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialInterval)
	assert.Equal(t, 16*time.Second, cfg.MaxInterval)

	tuned := RetryConfig{MaxRetries: 1, InitialInterval: time.Minute, MaxInterval: time.Hour}.withDefaults()
	assert.Equal(t, 1, tuned.MaxRetries)
	assert.Equal(t, time.Minute, tuned.InitialInterval)
	assert.Equal(t, time.Hour, tuned.MaxInterval)
}

func TestMetricsMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("disabled metrics opt out", func(t *testing.T) {
		t.Parallel()
		app := &App{conf: &config.Config{AppName: "billing"}, metrics: prometheus.NewRegistry()}
		mw, err := MetricsMiddleware(app)
		require.NoError(t, err)
		assert.Nil(t, mw)
	})

	t.Run("enabled metrics wrap the handler", func(t *testing.T) {
		t.Parallel()
		app := &App{conf: &config.Config{AppName: "billing", MetricsEnabled: true}, metrics: prometheus.NewRegistry()}
		mw, err := MetricsMiddleware(app)
		require.NoError(t, err)
		require.NotNil(t, mw)

		result, err := mw(passthrough)(context.Background(), &chargeCard{})
		require.NoError(t, err)
		assert.Equal(t, "done", result)
	})
}

func TestLogMessagesMiddleware(t *testing.T) {
	t.Parallel()

	failing := errors.New("declined")
	h := LogMessagesMiddleware(nil)(func(ctx context.Context, msg Message) (any, error) {
		return nil, failing
	})
	_, err := h(context.Background(), &chargeCard{})
	require.ErrorIs(t, err, failing)
}

func TestDefaultMiddlewares(t *testing.T) {
	t.Parallel()
	regs := DefaultMiddlewares()
	names := make([]string, 0, len(regs))
	for _, reg := range regs {
		names = append(names, reg.Name)
	}
	assert.Equal(t, []string{"correlation_id", "deadline", "log_messages", "metrics", "tracer", "recoverer"}, names)
}
