// Package cloudevents implements the CloudEvents v1.0 envelope chassis
// wraps around events crossing process boundaries.
//
// See https://github.com/cloudevents/spec/blob/v1.0/spec.md for the
// attribute semantics. Extension attributes are flattened into the JSON
// object as the specification requires.
package cloudevents

import (
	"fmt"
	"time"

	"github.com/drblury/chassis/internal/core/codec"
	cerrors "github.com/drblury/chassis/internal/core/errors"
	"github.com/drblury/chassis/internal/core/ids"
)

// SpecVersion is the CloudEvents specification version implemented.
const SpecVersion = "1.0"

// ContentTypeJSON is the data content type stamped on JSON payloads.
const ContentTypeJSON = "application/json"

// Event is one CloudEvents v1.0 envelope.
type Event struct {
	// SpecVersion MUST be "1.0".
	SpecVersion string `json:"specversion"`

	// Type is the routing key of the wrapped event, for example
	// "crm.CustomerCreated".
	Type string `json:"type"`

	// Source identifies the producing context.
	Source string `json:"source"`

	// ID uniquely identifies the event.
	ID string `json:"id"`

	// Time is when the occurrence happened.
	Time time.Time `json:"time,omitempty"`

	// DataContentType describes the content type of Data.
	DataContentType *string `json:"datacontenttype,omitempty"`

	// Subject describes the subject of the event within Source.
	Subject *string `json:"subject,omitempty"`

	// Data is the event payload.
	Data any `json:"data,omitempty"`

	// Extensions holds CloudEvents extension attributes.
	Extensions map[string]any `json:"extensions,omitempty"`
}

// New creates an envelope with a generated ULID and the current time.
func New(eventType, source string, data any) Event {
	return Event{
		SpecVersion: SpecVersion,
		Type:        eventType,
		Source:      source,
		ID:          ids.CreateULID(),
		Time:        time.Now().UTC(),
		Data:        data,
		Extensions:  map[string]any{},
	}
}

// NewWithID creates an envelope carrying a caller supplied id.
func NewWithID(id, eventType, source string, data any) Event {
	evt := New(eventType, source, data)
	evt.ID = id
	return evt
}

// WithSubject sets the subject attribute and returns the event.
func (e Event) WithSubject(subject string) Event {
	e.Subject = &subject
	return e
}

// WithDataContentType sets the data content type and returns the event.
func (e Event) WithDataContentType(contentType string) Event {
	e.DataContentType = &contentType
	return e
}

// WithExtension sets one extension attribute and returns the event.
func (e Event) WithExtension(key string, value any) Event {
	if e.Extensions == nil {
		e.Extensions = map[string]any{}
	}
	e.Extensions[key] = value
	return e
}

// GetExtension retrieves an extension value, nil when absent.
func (e Event) GetExtension(key string) any {
	if e.Extensions == nil {
		return nil
	}
	return e.Extensions[key]
}

// GetExtensionString retrieves an extension value as a string, empty when
// absent.
func (e Event) GetExtensionString(key string) string {
	v := e.GetExtension(key)
	if v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// Validate checks the required CloudEvents attributes.
func (e Event) Validate() error {
	if e.SpecVersion == "" {
		return fmt.Errorf("%w: specversion is required", cerrors.ErrInvalidArgument)
	}
	if e.SpecVersion != SpecVersion {
		return fmt.Errorf("%w: specversion must be %q, got %q", cerrors.ErrInvalidArgument, SpecVersion, e.SpecVersion)
	}
	if e.Type == "" {
		return fmt.Errorf("%w: type is required", cerrors.ErrInvalidArgument)
	}
	if e.Source == "" {
		return fmt.Errorf("%w: source is required", cerrors.ErrInvalidArgument)
	}
	if e.ID == "" {
		return fmt.Errorf("%w: id is required", cerrors.ErrInvalidArgument)
	}
	return nil
}

// DecodeData decodes the payload into v. Payloads parsed off the wire are
// generic maps, re-encoding gives them their typed shape back.
func (e Event) DecodeData(v any) error {
	if e.Data == nil {
		return fmt.Errorf("%w: event %s carries no data", cerrors.ErrPayloadRequired, e.ID)
	}
	data, err := codec.Marshal(e.Data)
	if err != nil {
		return fmt.Errorf("encode event %s data: %w", e.ID, err)
	}
	if err := codec.Unmarshal(data, v); err != nil {
		return fmt.Errorf("decode event %s data: %w", e.ID, err)
	}
	return nil
}

// Encode serializes the envelope into its wire form.
func (e Event) Encode() ([]byte, error) {
	if err := e.Validate(); err != nil {
		return nil, err
	}
	return codec.Marshal(e)
}

// Parse reads an envelope off the wire and validates it.
func Parse(data []byte) (Event, error) {
	var e Event
	if err := codec.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("%w: parsing cloud event: %v", cerrors.ErrInvalidArgument, err)
	}
	if err := e.Validate(); err != nil {
		return Event{}, err
	}
	return e, nil
}

// wireEvent is the flattened JSON form. Extension attributes sit at the top
// level next to the specified ones.
type wireEvent struct {
	SpecVersion     string  `json:"specversion"`
	Type            string  `json:"type"`
	Source          string  `json:"source"`
	ID              string  `json:"id"`
	Time            string  `json:"time,omitempty"`
	DataContentType *string `json:"datacontenttype,omitempty"`
	Subject         *string `json:"subject,omitempty"`
	Data            any     `json:"data,omitempty"`
}

var wireAttrs = map[string]bool{
	"specversion":     true,
	"type":            true,
	"source":          true,
	"id":              true,
	"time":            true,
	"datacontenttype": true,
	"subject":         true,
	"data":            true,
}

// MarshalJSON renders the flattened CloudEvents JSON format.
func (e Event) MarshalJSON() ([]byte, error) {
	m := map[string]any{
		"specversion": e.SpecVersion,
		"type":        e.Type,
		"source":      e.Source,
		"id":          e.ID,
	}
	if !e.Time.IsZero() {
		m["time"] = e.Time.Format(time.RFC3339Nano)
	}
	if e.DataContentType != nil {
		m["datacontenttype"] = *e.DataContentType
	}
	if e.Subject != nil {
		m["subject"] = *e.Subject
	}
	if e.Data != nil {
		m["data"] = e.Data
	}
	for k, v := range e.Extensions {
		if wireAttrs[k] {
			continue
		}
		m[k] = v
	}
	return codec.Marshal(m)
}

// UnmarshalJSON reads the flattened CloudEvents JSON format.
func (e *Event) UnmarshalJSON(data []byte) error {
	var m map[string]any
	if err := codec.Unmarshal(data, &m); err != nil {
		return err
	}

	var w wireEvent
	if err := codec.Unmarshal(data, &w); err != nil {
		return err
	}
	e.SpecVersion = w.SpecVersion
	e.Type = w.Type
	e.Source = w.Source
	e.ID = w.ID
	e.DataContentType = w.DataContentType
	e.Subject = w.Subject
	e.Data = w.Data

	e.Time = time.Time{}
	if w.Time != "" {
		t, err := time.Parse(time.RFC3339Nano, w.Time)
		if err != nil {
			t, err = time.Parse(time.RFC3339, w.Time)
			if err != nil {
				return fmt.Errorf("invalid time format: %w", err)
			}
		}
		e.Time = t
	}

	e.Extensions = map[string]any{}
	for k, v := range m {
		if wireAttrs[k] {
			continue
		}
		e.Extensions[k] = v
	}
	return nil
}
