package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/drblury/chassis/broker"
	"github.com/drblury/chassis/internal/core/codec"
	"github.com/drblury/chassis/internal/core/config"
	cerrors "github.com/drblury/chassis/internal/core/errors"
	"github.com/drblury/chassis/internal/core/logging"
	"github.com/drblury/chassis/storage"
)

const (
	defaultMetricsPort    = 8081
	resourceSampleEvery   = 15 * time.Second
	defaultStopTimeout    = 15 * time.Second
	defaultStorageBackend = "memory"
)

// Dependencies holds the optional collaborators NewApp accepts. Zero fields
// fall back to the configured defaults.
type Dependencies struct {
	// Serializer replaces the default JSON codec for documents and envelopes.
	Serializer codec.Serializer

	// Backend replaces the backend the storage driver registry would build.
	Backend storage.Backend

	// Broker replaces the broker the registry would build. Capabilities
	// should be set alongside so the relay knows what to emulate.
	Broker       *broker.Broker
	Capabilities broker.Capabilities

	// Middlewares are appended after the default dispatch pipeline.
	Middlewares []MiddlewareRegistration

	// DisableDefaultMiddlewares skips the default dispatch pipeline.
	DisableDefaultMiddlewares bool
}

type schemaEntry struct {
	name   string
	ensure func(ctx context.Context) error
}

// App owns the bus, the storage backend and the optional broker relay.
// Register everything between NewApp and Start, registration afterwards is
// rejected.
type App struct {
	conf       *config.Config
	logger     logging.ServiceLogger
	wmLogger   watermill.LoggerAdapter
	bus        *Bus
	serializer codec.Serializer
	backend    storage.Backend
	brokerConn broker.Broker
	brokerCaps broker.Capabilities
	relay      *Relay
	metrics    *prometheus.Registry
	sampler    *resourceSampler

	mu      sync.Mutex
	started bool
	stopped bool
	schemas []schemaEntry
	remote  map[string]struct{}
	httpSrv *http.Server
}

// NewApp validates conf and assembles the application: storage backend and
// broker resolved by name from their registries, bus built with the default
// middleware pipeline. A nil log falls back to slog's default logger.
func NewApp(ctx context.Context, conf *config.Config, log logging.ServiceLogger, deps Dependencies) (*App, error) {
	if err := config.ValidateConfig(conf); err != nil {
		return nil, err
	}
	if log == nil {
		log = logging.NewSlogServiceLogger(slog.Default())
	}

	a := &App{
		conf:       conf,
		logger:     log,
		wmLogger:   logging.NewWatermillAdapter(log),
		serializer: deps.Serializer,
		metrics:    prometheus.NewRegistry(),
		remote:     map[string]struct{}{},
	}
	if a.serializer == nil {
		a.serializer = codec.Default()
	}

	driver := conf.GetStorageDriver()
	if driver == "" {
		driver = defaultStorageBackend
	}
	a.backend = deps.Backend
	if a.backend == nil {
		backend, err := storage.Build(ctx, driver, conf, a.wmLogger)
		if err != nil {
			return nil, err
		}
		a.backend = backend
	}

	middlewares, err := a.buildMiddlewares(deps)
	if err != nil {
		return nil, err
	}
	a.bus = NewBus(log, conf.Context(), middlewares)

	switch {
	case deps.Broker != nil:
		a.brokerConn = *deps.Broker
		a.brokerCaps = deps.Capabilities
	case conf.GetBroker() != "":
		conn, err := broker.Build(ctx, conf.GetBroker(), conf, a.wmLogger)
		if err != nil {
			return nil, err
		}
		a.brokerConn = conn
		a.brokerCaps = broker.GetCapabilities(conf.GetBroker())
	}
	if a.brokerConn.Publisher != nil {
		relay, err := newRelay(a)
		if err != nil {
			return nil, err
		}
		a.relay = relay
		a.bus.SetObserver(relay.publishEvent)
	}

	log.Info("app assembled", logging.LogFields{
		"context": conf.Context(),
		"storage": driver,
		"broker":  conf.GetBroker(),
	})
	return a, nil
}

func (a *App) buildMiddlewares(deps Dependencies) ([]Middleware, error) {
	var regs []MiddlewareRegistration
	if !deps.DisableDefaultMiddlewares {
		regs = DefaultMiddlewares()
	}
	regs = append(regs, deps.Middlewares...)

	out := make([]Middleware, 0, len(regs))
	for _, reg := range regs {
		mw := reg.Middleware
		if reg.Builder != nil {
			built, err := reg.Builder(a)
			if err != nil {
				return nil, fmt.Errorf("building middleware %s: %w", reg.Name, err)
			}
			mw = built
		}
		if mw == nil {
			continue
		}
		out = append(out, mw)
	}
	return out, nil
}

// Logger returns the app logger.
func (a *App) Logger() logging.ServiceLogger { return a.logger }

// Metrics returns the app's prometheus registry.
func (a *App) Metrics() *prometheus.Registry { return a.metrics }

// Bus returns the message bus.
func (a *App) Bus() *Bus { return a.bus }

// Config returns the app configuration.
func (a *App) Config() *config.Config { return a.conf }

// Backend returns the resolved storage backend.
func (a *App) Backend() storage.Backend { return a.backend }

// Serializer returns the document and envelope codec.
func (a *App) Serializer() codec.Serializer { return a.serializer }

func (a *App) isStarted() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

func (a *App) addSchema(name string, ensure func(ctx context.Context) error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.schemas = append(a.schemas, schemaEntry{name: name, ensure: ensure})
}

// SubscribeRemote marks a routing key as remote-sourced so the relay
// subscribes its topic even when the key belongs to this app's own context.
// Keys of foreign contexts are subscribed automatically.
func (a *App) SubscribeRemote(key string) error {
	if a.relay == nil {
		return fmt.Errorf("%w: no broker configured", cerrors.ErrInvalidArgument)
	}
	if key == "" {
		return cerrors.ErrRoutingKeyRequired
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return fmt.Errorf("%w: cannot subscribe after the app started", cerrors.ErrFramework)
	}
	a.remote[key] = struct{}{}
	return nil
}

// Invoke routes a command to its handler.
func (a *App) Invoke(ctx context.Context, cmd Message) (any, error) {
	return a.bus.Invoke(ctx, cmd)
}

// Request routes a query to its handler.
func (a *App) Request(ctx context.Context, qry Message) (any, error) {
	return a.bus.Request(ctx, qry)
}

// Dispatch delivers an event to its local listeners and, with a broker
// configured, publishes it.
func (a *App) Dispatch(ctx context.Context, evt Message) error {
	return a.bus.Dispatch(ctx, evt)
}

// Stats reports every registered pipeline with its counters.
func (a *App) Stats() []PipelineInfo {
	return a.bus.Stats()
}

// Start connects storage, ensures the registered schemas, starts the relay
// router, the metrics endpoint and the resource sampler. It returns once
// everything accepts work.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	if a.started {
		a.mu.Unlock()
		return fmt.Errorf("%w: app already started", cerrors.ErrFramework)
	}
	a.started = true
	schemas := append([]schemaEntry(nil), a.schemas...)
	remote := make([]string, 0, len(a.remote))
	for key := range a.remote {
		remote = append(remote, key)
	}
	a.mu.Unlock()

	if err := a.backend.Connect(ctx); err != nil {
		return fmt.Errorf("connecting storage: %w", err)
	}
	for _, s := range schemas {
		if err := s.ensure(ctx); err != nil {
			return fmt.Errorf("ensuring schema for %s: %w", s.name, err)
		}
	}

	if a.relay != nil {
		for _, key := range a.remoteTopicKeys(remote) {
			a.relay.subscribe(key)
		}
		if err := a.relay.start(ctx); err != nil {
			return fmt.Errorf("starting relay: %w", err)
		}
	}

	if a.conf.MetricsEnabled {
		a.sampler = newResourceSampler()
		if err := a.sampler.register(a.metrics); err != nil {
			return err
		}
		a.sampler.start(resourceSampleEvery)
		a.startMetricsServer()
	}

	a.logger.Info("app started", logging.LogFields{"context": a.conf.Context()})
	return nil
}

// remoteTopicKeys merges the automatically detected foreign-context keys with
// the explicit SubscribeRemote registrations, deduplicated and sorted.
func (a *App) remoteTopicKeys(explicit []string) []string {
	seen := map[string]struct{}{}
	for _, key := range a.bus.EventKeys() {
		if remoteKey(key, a.conf.Context()) {
			seen[key] = struct{}{}
		}
	}
	for _, key := range explicit {
		seen[key] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for key := range seen {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (a *App) startMetricsServer() {
	port := a.conf.MetricsPort
	if port == 0 {
		port = defaultMetricsPort
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.metrics, promhttp.HandlerOpts{}))
	mux.HandleFunc("/stats", a.handleStats)

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}
	a.httpSrv = srv
	a.logger.Info("metrics server starting", logging.LogFields{"address": srv.Addr})
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server failed", err, logging.LogFields{"address": srv.Addr})
		}
	}()
}

type statsPayload struct {
	Context   string         `json:"context"`
	Pipelines []PipelineInfo `json:"pipelines"`
	Resources ResourceUsage  `json:"resources"`
}

func (a *App) handleStats(w http.ResponseWriter, _ *http.Request) {
	payload := statsPayload{
		Context:   a.conf.Context(),
		Pipelines: a.bus.Stats(),
	}
	if a.sampler != nil {
		payload.Resources = a.sampler.latest()
	}
	w.Header().Set("Content-Type", "application/json")
	if err := codec.Encode(w, payload); err != nil {
		a.logger.Error("encoding stats failed", err, nil)
		http.Error(w, "internal server error", http.StatusInternalServerError)
	}
}

// Stop shuts everything down in reverse start order. Safe to call once after
// Start, a second call is a no-op.
func (a *App) Stop(ctx context.Context) error {
	a.mu.Lock()
	if !a.started || a.stopped {
		a.mu.Unlock()
		return nil
	}
	a.stopped = true
	a.mu.Unlock()

	var errs []error
	if a.sampler != nil {
		a.sampler.stop()
	}
	if a.httpSrv != nil {
		if err := a.httpSrv.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server: %w", err))
		}
		a.httpSrv = nil
	}
	if a.relay != nil {
		if err := a.relay.close(); err != nil {
			errs = append(errs, fmt.Errorf("relay: %w", err))
		}
		if err := a.brokerConn.Publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("broker publisher: %w", err))
		}
		if err := a.brokerConn.Subscriber.Close(); err != nil {
			errs = append(errs, fmt.Errorf("broker subscriber: %w", err))
		}
	}
	if a.backend != nil {
		if err := a.backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("storage: %w", err))
		}
	}
	a.logger.Info("app stopped", nil)
	return errors.Join(errs...)
}

// Run starts the app, blocks until ctx is cancelled and stops it with a
// bounded shutdown window.
func (a *App) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	stopCtx, cancel := context.WithTimeout(context.Background(), defaultStopTimeout)
	defer cancel()
	return a.Stop(stopCtx)
}
