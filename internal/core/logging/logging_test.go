package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBufferLogger(t *testing.T) (ServiceLogger, *bytes.Buffer) {
	t.Helper()
	buf := &bytes.Buffer{}
	handler := slog.NewTextHandler(buf, &slog.HandlerOptions{Level: slog.LevelDebug})
	return NewSlogServiceLogger(slog.New(handler)), buf
}

func TestSlogServiceLoggerWritesFields(t *testing.T) {
	t.Parallel()

	log, buf := newBufferLogger(t)

	log.Info("processing message", LogFields{"routing_key": "billing.CreateInvoice"})

	out := buf.String()
	assert.Contains(t, out, "processing message")
	assert.Contains(t, out, "routing_key")
	assert.Contains(t, out, "billing.CreateInvoice")
}

func TestSlogServiceLoggerWith(t *testing.T) {
	t.Parallel()

	log, buf := newBufferLogger(t)

	scoped := log.With(LogFields{"component": "bus"})
	scoped.Debug("registered handler", nil)

	out := buf.String()
	assert.Contains(t, out, "component")
	assert.Contains(t, out, "bus")

	buf.Reset()
	log.Debug("no scope", nil)
	assert.NotContains(t, buf.String(), "component")
}

func TestSlogServiceLoggerError(t *testing.T) {
	t.Parallel()

	log, buf := newBufferLogger(t)

	log.Error("handler failed", errors.New("boom"), LogFields{"attempt": 2})

	out := buf.String()
	assert.Contains(t, out, "handler failed")
	assert.Contains(t, out, "boom")
	assert.Contains(t, out, "attempt")
}

func TestNewSlogServiceLoggerNilPanics(t *testing.T) {
	t.Parallel()

	assert.PanicsWithValue(t, "chassis: slog logger cannot be nil", func() {
		NewSlogServiceLogger(nil)
	})
	assert.PanicsWithValue(t, "chassis: watermill logger cannot be nil", func() {
		NewWatermillServiceLogger(nil)
	})
	assert.PanicsWithValue(t, "chassis: ServiceLogger cannot be nil", func() {
		NewWatermillAdapter(nil)
	})
}

type capturingAdapter struct {
	lines  *[]string
	fields watermill.LogFields
}

func (c *capturingAdapter) record(level, msg string, fields watermill.LogFields) {
	parts := []string{level, msg}
	for k, v := range c.fields {
		parts = append(parts, k, toString(v))
	}
	for k, v := range fields {
		parts = append(parts, k, toString(v))
	}
	*c.lines = append(*c.lines, strings.Join(parts, " "))
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return ""
}

func (c *capturingAdapter) Error(msg string, _ error, fields watermill.LogFields) {
	c.record("ERROR", msg, fields)
}

func (c *capturingAdapter) Info(msg string, fields watermill.LogFields)  { c.record("INFO", msg, fields) }
func (c *capturingAdapter) Debug(msg string, fields watermill.LogFields) { c.record("DEBUG", msg, fields) }
func (c *capturingAdapter) Trace(msg string, fields watermill.LogFields) { c.record("TRACE", msg, fields) }

func (c *capturingAdapter) With(fields watermill.LogFields) watermill.LoggerAdapter {
	merged := watermill.LogFields{}
	for k, v := range c.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &capturingAdapter{lines: c.lines, fields: merged}
}

func TestWatermillAdapterRoundTrip(t *testing.T) {
	t.Parallel()

	var lines []string
	base := NewWatermillServiceLogger(&capturingAdapter{lines: &lines})
	adapter := NewWatermillAdapter(base)

	adapter.Info("router started", watermill.LogFields{"topic": "events.orders"})
	adapter = adapter.With(watermill.LogFields{"scope": "relay"})
	adapter.Debug("subscribed", nil)

	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "router started")
	assert.Contains(t, lines[0], "events.orders")
	assert.Contains(t, lines[1], "subscribed")
	assert.Contains(t, lines[1], "relay")
}

func TestNopLoggerDoesNothing(t *testing.T) {
	t.Parallel()

	log := Nop()
	log.Info("ignored", nil)
	log.Error("ignored", errors.New("x"), nil)
	log.Trace("ignored", LogFields{"a": 1})
	assert.NotNil(t, log.With(LogFields{"b": 2}))
}
