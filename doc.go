// Package chassis is an application framework that wires a message bus, an
// entity repository layer, and a Watermill broker relay behind a single App.
// Commands, queries, and events route by dotted keys derived from their Go
// types, entities persist through pluggable storage drivers (in-memory,
// SQLite, PostgreSQL), and domain events travel between services as
// CloudEvents envelopes over the configured broker.
//
// App hosts the bus and exposes typed helpers: RegisterCommandHandler,
// RegisterQueryHandler, and SubscribeEvent bind plain Go functions to message
// types, while RegisterEntity derives storage schema, CRUD handlers, a query
// handler, and lifecycle events from one annotated struct. A minimal setup
// fills Config, creates an App, registers handlers or entities, and calls
// Run; see README.md for a copy/paste quick start snippet.
//
// # Messages
//
// Message types embed Command, Query, or Event and carry plain exported
// fields. The routing key defaults to "<package>.<Type>" and can be
// overridden with a RoutingKey method. Commands and queries take exactly one
// handler each, events fan out to any number of listeners.
//
// # Entities
//
// Entity structs embed entity.Root and declare columns through json and
// chassis struct tags. RegisterEntity gives each one a repository with
// criteria filtering, sorting, pagination, and soft delete, plus generated
// Create/Update/Delete commands, a pluralized query, and lifecycle events.
//
// # Brokers
//
// Six broker transports ship out of the box:
//   - channel: in-memory Go channels for tests and single-process apps
//   - kafka: high-throughput streaming with consumer groups
//   - rabbitmq: AMQP durable queues
//   - nats: JetStream-backed messaging
//   - aws: SNS/SQS fan-out with LocalStack support
//   - file: newline-delimited JSON files for local debugging
//
// Events published on the bus relay to the broker automatically, and topics
// whose context prefix differs from this app's are consumed back onto the
// bus. Import brokers via: _ "github.com/drblury/chassis/broker/brokers"
//
// # Middleware
//
// The default pipeline injects correlation IDs, enforces message deadlines,
// logs structured message records, collects Prometheus metrics, opens
// OpenTelemetry spans, and recovers panics. Broker consumption additionally
// retries with exponential backoff and forwards poisoned deliveries to a
// configurable dead letter topic. Custom middleware slots in through
// Dependencies.Middlewares.
package chassis
