package chassis

import (
	"context"
	"fmt"

	brokerpkg "github.com/drblury/chassis/broker"
	criteriapkg "github.com/drblury/chassis/criteria"
	"github.com/drblury/chassis/internal/core"
	ce "github.com/drblury/chassis/internal/core/cloudevents"
	codecpkg "github.com/drblury/chassis/internal/core/codec"
	configpkg "github.com/drblury/chassis/internal/core/config"
	errspkg "github.com/drblury/chassis/internal/core/errors"
	headerspkg "github.com/drblury/chassis/internal/core/headers"
	idspkg "github.com/drblury/chassis/internal/core/ids"
	loggingpkg "github.com/drblury/chassis/internal/core/logging"
	storagepkg "github.com/drblury/chassis/storage"
	"google.golang.org/protobuf/proto"
)

type (
	Config       = configpkg.Config
	App          = core.App
	Dependencies = core.Dependencies
	Service      = core.Service
	Bus          = core.Bus

	Message       = core.Message
	Kind          = core.Kind
	Command       = core.Command
	Query         = core.Query
	Event         = core.Event
	RoutingKeyer  = core.RoutingKeyer
	ContractKeyer = core.ContractKeyer

	Handler                = core.Handler
	Middleware             = core.Middleware
	MiddlewareBuilder      = core.MiddlewareBuilder
	MiddlewareRegistration = core.MiddlewareRegistration
	RetryConfig            = core.RetryConfig

	// Entity lifecycle messages
	CreateEntity = core.CreateEntity
	UpdateEntity = core.UpdateEntity
	DeleteEntity = core.DeleteEntity
	EntityEvent  = core.EntityEvent
	EntityQuery  = core.EntityQuery

	// Persistence surface
	Repository[T any]   = core.Repository[T]
	Collection[T any]   = core.Collection[T]
	Envelope[T any]     = core.Envelope[T]
	EntityHooks[T any]  = core.EntityHooks[T]
	EntityOption[T any] = core.EntityOption[T]

	Headers        = headerspkg.Headers
	LogFields      = loggingpkg.LogFields
	ServiceLogger  = loggingpkg.ServiceLogger
	Serializer     = codecpkg.Serializer
	JSONSerializer = codecpkg.JSON

	MissingHandlerError = errspkg.MissingHandlerError

	// Pipeline introspection
	PipelineInfo  = core.PipelineInfo
	StatsSnapshot = core.StatsSnapshot
	ResourceUsage = core.ResourceUsage

	// CloudEvents envelope and delivery control
	CloudEvent      = ce.Event
	HandlerResult   = ce.HandlerResult
	RetryAfterError = ce.RetryAfterError
	DeadLetterError = ce.DeadLetterError

	// Broker wiring
	Broker             = brokerpkg.Broker
	BrokerBuilder      = brokerpkg.Builder
	BrokerConfig       = brokerpkg.Config
	BrokerRegistry     = brokerpkg.Registry
	BrokerCapabilities = brokerpkg.Capabilities

	// Storage wiring
	StorageBackend = storagepkg.Backend
	StorageBuilder = storagepkg.Builder
	SortKey        = storagepkg.SortKey

	// Criteria trees for repository filters
	Criteria = criteriapkg.Node
	Attr     = criteriapkg.Attr
)

var (
	NewApp         = core.NewApp
	NewBus         = core.NewBus
	ValidateConfig = configpkg.ValidateConfig

	MessageRoutingKey = core.MessageRoutingKey

	DefaultMiddlewares      = core.DefaultMiddlewares
	Chain                   = core.Chain
	CorrelationIDMiddleware = core.CorrelationIDMiddleware
	DeadlineMiddleware      = core.DeadlineMiddleware
	LogMessagesMiddleware   = core.LogMessagesMiddleware
	MetricsMiddleware       = core.MetricsMiddleware
	TracerMiddleware        = core.TracerMiddleware
	RetryMiddleware         = core.RetryMiddleware
	RecovererMiddleware     = core.RecovererMiddleware

	// CloudEvents constructors and helpers
	NewCloudEvent       = ce.New
	NewCloudEventWithID = ce.NewWithID
	ParseCloudEvent     = ce.Parse

	// Delivery control errors for event listeners
	ErrRetry                = ce.ErrRetry
	ErrDeadLetter           = ce.ErrDeadLetter
	ErrSkip                 = ce.ErrSkip
	ErrUnprocessable        = ce.ErrUnprocessable
	ErrRetryAfter           = ce.ErrRetryAfter
	ErrDeadLetterWithReason = ce.ErrDeadLetterWithReason
	ClassifyError           = ce.ClassifyError
	IsRetryable             = ce.IsRetryable
	ShouldDeadLetter        = ce.ShouldDeadLetter

	// Framework error taxonomy
	ErrFramework             = errspkg.ErrFramework
	ErrRepository            = errspkg.ErrRepository
	ErrMissingHandler        = errspkg.ErrMissingHandler
	ErrMessageBus            = errspkg.ErrMessageBus
	ErrInvalidArgument       = errspkg.ErrInvalidArgument
	ErrProviderNotFound      = errspkg.ErrProviderNotFound
	ErrProjectConfigNotFound = errspkg.ErrProjectConfigNotFound
	ErrNoResultFound         = errspkg.ErrNoResultFound
	ErrMultipleResults       = errspkg.ErrMultipleResults

	ErrAppRequired        = errspkg.ErrAppRequired
	ErrServiceRequired    = errspkg.ErrServiceRequired
	ErrHandlerRequired    = errspkg.ErrHandlerRequired
	ErrPrototypeRequired  = errspkg.ErrPrototypeRequired
	ErrRoutingKeyRequired = errspkg.ErrRoutingKeyRequired
	ErrPublisherRequired  = errspkg.ErrPublisherRequired
	ErrTopicRequired      = errspkg.ErrTopicRequired
	ErrPayloadRequired    = errspkg.ErrPayloadRequired

	Marshal           = codecpkg.Marshal
	Unmarshal         = codecpkg.Unmarshal
	Encode            = codecpkg.Encode
	Decode            = codecpkg.Decode
	DefaultSerializer = codecpkg.Default

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NopLogger                 = loggingpkg.Nop

	NewHeaders = headerspkg.New

	CreateULID = idspkg.CreateULID

	// Broker registry. Import individual brokers via:
	// _ "github.com/drblury/chassis/broker/kafka"
	DefaultBrokerRegistry          = brokerpkg.DefaultRegistry
	RegisterBroker                 = brokerpkg.Register
	RegisterBrokerWithCapabilities = brokerpkg.RegisterWithCapabilities
	BuildBroker                    = brokerpkg.Build
	GetCapabilities                = brokerpkg.GetCapabilities

	// Criteria combinators and sort keys
	And             = criteriapkg.And
	Or              = criteriapkg.Or
	CriteriaFromMap = criteriapkg.FromMap
	Asc             = storagepkg.Asc
	Desc            = storagepkg.Desc
)

// Message header keys. Handlers read them through Message.Headers().
const (
	KeyMessageID     = headerspkg.KeyMessageID
	KeyCorrelationID = headerspkg.KeyCorrelationID
	KeyRoutingKey    = headerspkg.KeyRoutingKey
	KeyKind          = headerspkg.KeyKind
	KeyDeadline      = headerspkg.KeyDeadline
	KeySourceContext = headerspkg.KeySourceContext
	KeyOrigin        = headerspkg.KeyOrigin
	KeyEntity        = headerspkg.KeyEntity
	KeyOperation     = headerspkg.KeyOperation
	KeyProtoSchema   = headerspkg.KeyProtoSchema

	// OriginRemote marks messages decoded from a broker delivery.
	OriginRemote = headerspkg.OriginRemote
)

// Message kinds.
const (
	KindCommand = core.KindCommand
	KindQuery   = core.KindQuery
	KindEvent   = core.KindEvent
)

// Handler results produced by ClassifyError for broker deliveries.
const (
	ResultAck        = ce.ResultAck
	ResultRetry      = ce.ResultRetry
	ResultRetryAfter = ce.ResultRetryAfter
	ResultDeadLetter = ce.ResultDeadLetter
	ResultSkip       = ce.ResultSkip
)

// RegisterEntity derives storage schema, CRUD handlers, a query handler, and
// lifecycle events for T, then returns the repository backing them.
func RegisterEntity[T any](app *App, opts ...EntityOption[T]) (*Repository[T], error) {
	return core.RegisterEntity(app, opts...)
}

// RepositoryFor returns a repository for T without registering any handlers.
func RepositoryFor[T any](app *App) (*Repository[T], error) {
	return core.RepositoryFor[T](app)
}

// NewRepository builds a repository on an explicit backend, outside any App.
func NewRepository[T any](backend StorageBackend, ser Serializer, mapAll bool, log ServiceLogger) (*Repository[T], error) {
	return core.NewRepository[T](backend, ser, mapAll, log)
}

func WithHooks[T any](hooks EntityHooks[T]) EntityOption[T] {
	return core.WithHooks(hooks)
}

func WithQueryName[T any](name string) EntityOption[T] {
	return core.WithQueryName[T](name)
}

func WithoutCRUD[T any]() EntityOption[T] {
	return core.WithoutCRUD[T]()
}

func WithoutEvents[T any]() EntityOption[T] {
	return core.WithoutEvents[T]()
}

// LoggingHooks returns hooks that log every write for T. idOf extracts the
// logged entity id and may be nil.
func LoggingHooks[T any](log ServiceLogger, idOf func(e *T) string) EntityHooks[T] {
	return core.LoggingHooks(log, idOf)
}

// RegisterCommandHandler binds a typed handler for the command type M.
func RegisterCommandHandler[M any](app *App, handler func(ctx context.Context, cmd *M) (any, error)) error {
	return core.RegisterCommandHandler(app, handler)
}

// RegisterQueryHandler binds a typed handler for the query type M.
func RegisterQueryHandler[M any](app *App, handler func(ctx context.Context, qry *M) (any, error)) error {
	return core.RegisterQueryHandler(app, handler)
}

// SubscribeEvent appends a typed listener for the event type E.
func SubscribeEvent[E any](app *App, listener func(ctx context.Context, evt *E) error) error {
	return core.SubscribeEvent(app, listener)
}

// SubscribeEventNamed appends a typed listener under an explicit routing key,
// for events whose wire key differs from the one E derives.
func SubscribeEventNamed[E any](app *App, key string, listener func(ctx context.Context, evt *E) error) error {
	return core.SubscribeEventNamed(app, key, listener)
}

// SubscribeRemoteProto subscribes to a raw broker topic and decodes each
// delivery into the proto message type T.
func SubscribeRemoteProto[T proto.Message](app *App, topic string, handler func(ctx context.Context, event T, md Headers) error) error {
	return core.SubscribeRemoteProto(app, topic, handler)
}

func NewProtoMessage[T proto.Message]() (T, error) {
	return core.NewProtoMessage[T]()
}

func MustProtoMessage[T proto.Message]() T {
	return core.MustProtoMessage[T]()
}

// Invoke dispatches a command and asserts the handler result to R. A nil
// handler result yields the zero R.
func Invoke[R any](ctx context.Context, app *App, cmd Message) (R, error) {
	var zero R
	if app == nil {
		return zero, ErrAppRequired
	}
	out, err := app.Invoke(ctx, cmd)
	if err != nil || out == nil {
		return zero, err
	}
	typed, ok := out.(R)
	if !ok {
		return zero, fmt.Errorf("%w: handler returned %T, want %T", ErrInvalidArgument, out, zero)
	}
	return typed, nil
}

// Request dispatches a query and asserts the handler result to R. A nil
// handler result yields the zero R.
func Request[R any](ctx context.Context, app *App, qry Message) (R, error) {
	var zero R
	if app == nil {
		return zero, ErrAppRequired
	}
	out, err := app.Request(ctx, qry)
	if err != nil || out == nil {
		return zero, err
	}
	typed, ok := out.(R)
	if !ok {
		return zero, fmt.Errorf("%w: handler returned %T, want %T", ErrInvalidArgument, out, zero)
	}
	return typed, nil
}
