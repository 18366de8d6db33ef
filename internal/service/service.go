// Package service assembles the session pool and its surfaces from the
// settings and runs them until shutdown.
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"golang.org/x/sync/errgroup"

	"github.com/tphakala/agm/internal/api"
	"github.com/tphakala/agm/internal/buildinfo"
	"github.com/tphakala/agm/internal/conf"
	"github.com/tphakala/agm/internal/device"
	"github.com/tphakala/agm/internal/errors"
	"github.com/tphakala/agm/internal/events"
	"github.com/tphakala/agm/internal/graph"
	"github.com/tphakala/agm/internal/logger"
	"github.com/tphakala/agm/internal/mqtt"
	"github.com/tphakala/agm/internal/observability"
	"github.com/tphakala/agm/internal/session"
)

const shutdownTimeout = 10 * time.Second

// Service owns every long-running component of the agm process
type Service struct {
	settings *conf.Settings
	build    *buildinfo.Context
	log      logger.Logger

	metrics   *observability.Metrics
	bus       *events.EventBus
	pool      *session.Pool
	server    *api.Server
	endpoint  *observability.Endpoint
	mqtt      mqtt.Client
	publisher *mqtt.Publisher
	sentry    bool
}

// Collaborators builds the device registry and the graph engine selected by
// the pool settings
func Collaborators(settings *conf.Settings) (*device.Registry, graph.Engine, error) {
	specs, err := settings.DeviceSpecs()
	if err != nil {
		return nil, nil, err
	}

	var backend device.Backend
	switch settings.Pool.Backend {
	case "", conf.BackendSim:
		backend = device.NewSimBackend()
	default:
		return nil, nil, unsupported("backend", settings.Pool.Backend)
	}

	var engine graph.Engine
	switch settings.Pool.Engine {
	case "", conf.EngineSim:
		engine = graph.NewSimEngine(settings.Pool.SimBufferSize)
	default:
		return nil, nil, unsupported("engine", settings.Pool.Engine)
	}

	registry, err := device.NewRegistry(backend, specs...)
	if err != nil {
		return nil, nil, err
	}
	return registry, engine, nil
}

func unsupported(kind, name string) error {
	return errors.Newf("unsupported pool %s %q", kind, name).
		Component("service").
		Category(errors.CategoryConfiguration).
		Build()
}

// NewPool creates a session pool over the configured collaborators. metrics
// and bus may be nil.
func NewPool(settings *conf.Settings, metrics *observability.Metrics, bus *events.EventBus) (*session.Pool, error) {
	registry, engine, err := Collaborators(settings)
	if err != nil {
		return nil, err
	}
	cfg := session.Config{
		Registry:       registry,
		Engine:         engine,
		EventQueueSize: settings.Pool.EventQueueSize,
	}
	if metrics != nil {
		cfg.Metrics = metrics.Session
	}
	if bus != nil {
		cfg.Events = bus
	}
	return session.NewPool(cfg)
}

// New wires the service. Nothing listens until Run.
func New(settings *conf.Settings, build *buildinfo.Context) (*Service, error) {
	s := &Service{
		settings: settings,
		build:    build,
		log:      logger.Global().Module("service"),
	}

	metrics, err := observability.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("metrics: %w", err)
	}
	s.metrics = metrics

	if err := s.initEventBus(); err != nil {
		return nil, err
	}
	if err := s.initSentry(); err != nil {
		return nil, err
	}

	if s.pool, err = NewPool(settings, metrics, s.bus); err != nil {
		return nil, fmt.Errorf("session pool: %w", err)
	}

	if err := s.initMQTT(); err != nil {
		return nil, err
	}

	if settings.API.Enabled {
		s.server, err = api.New(api.ConfigFromSettings(settings), s.pool, api.WithMetrics(metrics))
		if err != nil {
			return nil, err
		}
	}
	if settings.Metrics.Enabled && settings.Metrics.Listen != "" {
		if s.endpoint, err = observability.NewEndpoint(settings, metrics); err != nil {
			return nil, err
		}
	}

	s.log.Info("service initialized",
		logger.String("version", build.Version()),
		logger.Int("devices", len(s.pool.Registry().List())),
		logger.Bool("api", s.server != nil),
		logger.Bool("mqtt", s.publisher != nil),
		logger.Bool("sentry", s.sentry))
	return s, nil
}

func (s *Service) initEventBus() error {
	cfg := s.settings.EventBus
	if !cfg.Enabled {
		return nil
	}
	s.bus = events.New(&events.Config{BufferSize: cfg.BufferSize, Workers: cfg.Workers, Enabled: true})
	return nil
}

func (s *Service) initSentry() error {
	cfg := s.settings.Sentry
	if !cfg.Enabled {
		return nil
	}
	reporter, err := errors.InitSentry(cfg.DSN, cfg.Environment, s.build.Version(), cfg.SampleRate)
	if err != nil {
		return err
	}
	errors.SetTelemetryReporter(reporter)
	s.sentry = reporter.IsEnabled()
	if s.bus != nil {
		events.InitializeErrorsIntegration(s.bus)
		if err := s.bus.RegisterConsumer(events.NewTelemetryConsumer(reporter)); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) initMQTT() error {
	if !s.settings.MQTT.Enabled {
		return nil
	}
	if s.bus == nil {
		return errors.Newf("mqtt publishing needs the event bus").
			Component("service").
			Category(errors.CategoryConfiguration).
			Build()
	}
	cfg := mqtt.ConfigFromSettings(&s.settings.MQTT)
	client, err := mqtt.NewClient(cfg, s.metrics.MQTT)
	if err != nil {
		return err
	}
	s.mqtt = client
	s.publisher = mqtt.NewPublisher(client, cfg.Topic, cfg.PublishTimeout)
	return s.bus.RegisterConsumer(s.publisher)
}

// Pool returns the session pool
func (s *Service) Pool() *session.Pool { return s.pool }

// Metrics returns the metrics registry
func (s *Service) Metrics() *observability.Metrics { return s.metrics }

// Run serves until ctx is cancelled or a listener fails, then closes every
// session and stops the background workers.
func (s *Service) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if s.server != nil {
		g.Go(func() error { return s.server.Run(gctx) })
	}
	if s.endpoint != nil {
		g.Go(func() error { return s.endpoint.Run(gctx) })
	}
	if s.mqtt != nil {
		g.Go(func() error {
			// a broker outage is not fatal; paho keeps reconnecting after the first success
			if err := s.mqtt.Connect(gctx); err != nil {
				s.log.Warn("mqtt connect failed", logger.Error(err))
				return nil
			}
			if err := s.publisher.Announce(gctx, s.pool.Registry().List()); err != nil {
				s.log.Warn("device announcement incomplete", logger.Error(err))
			}
			return nil
		})
	}

	<-gctx.Done()
	err := g.Wait()
	return errors.Join(err, s.shutdown())
}

func (s *Service) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := s.pool.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("closing sessions: %w", err))
	}
	if s.bus != nil {
		if err := s.bus.Shutdown(shutdownTimeout); err != nil {
			errs = append(errs, err)
		}
	}
	if s.mqtt != nil {
		s.mqtt.Disconnect()
	}
	if s.sentry {
		sentry.Flush(2 * time.Second)
	}
	s.log.Info("service stopped")
	return errors.Join(errs...)
}
