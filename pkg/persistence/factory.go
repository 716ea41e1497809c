package persistence

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/metric"
)

// Factory is the process-wide source of sessions. It owns the storage
// backend and the registered lifecycle listeners. A Factory is safe for
// concurrent use; the sessions it creates are not.
type Factory struct {
	backend   Backend
	metrics   *instruments
	logger    zerolog.Logger
	listeners []listenerEntry
	mu        sync.RWMutex
	closed    bool
}

// Option configures a Factory.
type Option func(*factoryOptions)

type factoryOptions struct {
	meterProvider metric.MeterProvider
	logger        *zerolog.Logger
	listeners     []listenerEntry
}

// WithLogger sets the logger used by the factory and its sessions.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *factoryOptions) { o.logger = &logger }
}

// WithMeterProvider sets the OpenTelemetry meter provider. The global
// provider is used by default.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(o *factoryOptions) { o.meterProvider = mp }
}

// WithListener registers a listener for the given kinds, or for every kind
// when none are given.
func WithListener(fn Listener, kinds ...EventKind) Option {
	return func(o *factoryOptions) {
		o.listeners = append(o.listeners, newListenerEntry(fn, kinds))
	}
}

// NewFactory creates a Factory over backend.
func NewFactory(backend Backend, opts ...Option) (*Factory, error) {
	if backend == nil {
		return nil, fmt.Errorf("new factory: nil backend")
	}

	var o factoryOptions
	for _, opt := range opts {
		opt(&o)
	}

	logger := log.Logger
	if o.logger != nil {
		logger = *o.logger
	}

	m, err := newInstruments(o.meterProvider)
	if err != nil {
		return nil, fmt.Errorf("new factory: create instruments: %w", err)
	}

	return &Factory{
		backend:   backend,
		metrics:   m,
		logger:    logger,
		listeners: o.listeners,
	}, nil
}

// AddListener registers a listener for the given kinds, or for every kind
// when none are given. Sessions created afterwards observe it.
func (f *Factory) AddListener(fn Listener, kinds ...EventKind) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners = append(f.listeners, newListenerEntry(fn, kinds))
}

// NewSession creates a session. Fails once the factory is closed.
func (f *Factory) NewSession() (*Session, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	if f.closed {
		return nil, IllegalState("new session", "factory is closed")
	}

	id := uuid.NewString()
	return &Session{
		id:        id,
		backend:   f.backend,
		metrics:   f.metrics,
		listeners: append([]listenerEntry(nil), f.listeners...),
		logger:    f.logger.With().Str("session", id).Logger(),
		managed:   make(map[identityKey]*managedEntry),
		queued:    make(map[Entity]bool),
	}, nil
}

// Close closes the backend. Sessions still open keep their in-memory state
// but any further storage access fails.
func (f *Factory) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return nil
	}
	f.closed = true
	return f.backend.Close()
}
