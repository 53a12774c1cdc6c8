// Package errors defines the chassis error taxonomy. Errors belong to one of
// two families, repository or framework, so callers can match a whole family
// with errors.Is or a concrete condition with the narrower sentinels.
package errors

import (
	sterrors "errors"
	"fmt"
)

// Family roots. Every taxonomy sentinel below wraps one of these.
var (
	ErrFramework  = sterrors.New("chassis: framework error")
	ErrRepository = sterrors.New("chassis: repository error")
)

// Framework family.
var (
	ErrMissingHandler        = fmt.Errorf("%w: no handler registered", ErrFramework)
	ErrMessageBus            = fmt.Errorf("%w: message bus", ErrFramework)
	ErrInvalidArgument       = fmt.Errorf("%w: invalid argument", ErrFramework)
	ErrProviderNotFound      = fmt.Errorf("%w: provider not found", ErrFramework)
	ErrProjectConfigNotFound = fmt.Errorf("%w: project config not found", ErrFramework)
)

// Repository family.
var (
	ErrNoResultFound   = fmt.Errorf("%w: no result found", ErrRepository)
	ErrMultipleResults = fmt.Errorf("%w: multiple results found", ErrRepository)
)

// Registration argument errors. These are plain sentinels rather than
// taxonomy members: they signal programming mistakes at wiring time.
var (
	ErrAppRequired        = sterrors.New("chassis: app is required")
	ErrServiceRequired    = sterrors.New("chassis: application service is required")
	ErrHandlerRequired    = sterrors.New("chassis: handler function is required")
	ErrPrototypeRequired  = sterrors.New("chassis: message prototype is required")
	ErrRoutingKeyRequired = sterrors.New("chassis: routing key is required")
	ErrPublisherRequired  = sterrors.New("chassis: publisher is required")
	ErrTopicRequired      = sterrors.New("chassis: topic is required")
	ErrPayloadRequired    = sterrors.New("chassis: payload is required")
)

// MissingHandlerError reports the routing key and channel that had no
// registration. It matches ErrMissingHandler (and ErrFramework) via errors.Is.
type MissingHandlerError struct {
	Kind string
	Key  string
}

func (e *MissingHandlerError) Error() string {
	return fmt.Sprintf("chassis: no %s handler registered for %q", e.Kind, e.Key)
}

func (e *MissingHandlerError) Unwrap() error { return ErrMissingHandler }
