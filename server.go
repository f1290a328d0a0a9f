// Package orderpush composes the order event stream server from its parts.
package orderpush

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"pkt.systems/orderpush/httpapi"
	"pkt.systems/orderpush/internal/appconfig"
	"pkt.systems/orderpush/internal/broadcast"
	"pkt.systems/orderpush/internal/metrics"
	"pkt.systems/orderpush/internal/registry"
	"pkt.systems/orderpush/schema"
	"pkt.systems/pslog"
)

// Server runs the stream endpoint and its optional metrics listener.
type Server interface {
	Start(ctx context.Context) error
	Wait() error
	Stop(ctx context.Context) error
	// Publisher is the entry point for order status changes.
	Publisher() broadcast.Publisher
	// Registry exposes the live connection registry.
	Registry() *registry.Registry
}

// ServerConfig configures the compositor.
type ServerConfig struct {
	HTTP           httpapi.Config
	MetricsEnabled bool
	MetricsPath    string
	// MetricsAddr serves metrics on a dedicated listener when set.
	MetricsAddr string
}

// ServerDeps captures optional collaborators.
type ServerDeps struct {
	Logger pslog.Logger
	// Registerer and Gatherer default to a private registry.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	// Publishers also receive every status change published through the
	// server, after the stream registry.
	Publishers []broadcast.Publisher
}

// ConfigFromApp maps the file configuration onto ServerConfig.
func ConfigFromApp(cfg appconfig.Config) ServerConfig {
	metricsPath := ""
	if cfg.Metrics.Enabled && cfg.Metrics.Addr == "" {
		metricsPath = cfg.Metrics.Path
	}
	return ServerConfig{
		HTTP: httpapi.Config{
			Addr:              cfg.HTTP.Addr,
			BasePath:          cfg.HTTP.BasePath,
			AllowedOrigin:     cfg.HTTP.AllowedOrigin,
			GlobalChannel:     schema.ChannelID(cfg.Stream.GlobalChannel),
			HeartbeatInterval: cfg.Stream.HeartbeatInterval(),
			QueueDepth:        cfg.Stream.QueueDepth,
			EnablePublish:     cfg.HTTP.EnablePublish,
			MetricsPath:       metricsPath,
			ShutdownTimeout:   cfg.HTTP.ShutdownTimeout(),
		},
		MetricsEnabled: cfg.Metrics.Enabled,
		MetricsPath:    cfg.Metrics.Path,
		MetricsAddr:    cfg.Metrics.Addr,
	}
}

// New constructs the composite server.
func New(cfg ServerConfig, deps ServerDeps) (Server, error) {
	logger := deps.Logger
	if logger == nil {
		logger = pslog.Ctx(context.Background())
	}
	if cfg.HTTP.Addr == "" {
		return nil, errors.New("http addr is required")
	}

	var observer metrics.Observer = metrics.Nop{}
	var metricsHandler http.Handler
	if cfg.MetricsEnabled {
		reg := deps.Registerer
		gatherer := deps.Gatherer
		if reg == nil {
			private := prometheus.NewRegistry()
			reg, gatherer = private, private
		} else if gatherer == nil {
			gatherer = prometheus.DefaultGatherer
		}
		prom, err := metrics.NewPrometheusObserver("", reg)
		if err != nil {
			return nil, err
		}
		observer = prom
		metricsHandler = promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{ErrorLog: pslog.LogLoggerWithLevel(logger, pslog.ErrorLevel)})
	}

	connections := registry.New(logger, registry.WithObserver(observer))
	broadcaster := broadcast.New(connections, cfg.HTTP.GlobalChannel, logger)
	publisher := newPublisher(broadcaster, deps.Publishers)

	opts := []httpapi.ServerOption{httpapi.WithObserver(observer)}
	if metricsHandler != nil && cfg.MetricsAddr == "" {
		opts = append(opts, httpapi.WithMetricsHandler(metricsHandler))
	}
	httpSrv := httpapi.NewServer(cfg.HTTP, connections, publisher, opts...)

	s := &compositeServer{
		cfg:       cfg,
		httpSrv:   httpSrv,
		registry:  connections,
		publisher: publisher,
		logger:    logger,
	}
	if metricsHandler != nil && cfg.MetricsAddr != "" {
		path := cfg.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		mux := http.NewServeMux()
		mux.Handle(path, metricsHandler)
		s.metricsHandler = mux
	}
	return s, nil
}

type compositeServer struct {
	cfg            ServerConfig
	httpSrv        *httpapi.Server
	metricsHandler http.Handler
	registry       *registry.Registry
	publisher      broadcast.Publisher
	logger         pslog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	group   *errgroup.Group
	done    chan struct{}
	err     error
	started bool
}

func (s *compositeServer) Publisher() broadcast.Publisher {
	return s.publisher
}

func (s *compositeServer) Registry() *registry.Registry {
	return s.registry
}

func (s *compositeServer) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		pslog.Ctx(ctx).Warn("server start rejected", "reason", "already started")
		return errors.New("server already started")
	}
	s.ctx, s.cancel = context.WithCancel(pslog.ContextWithLogger(ctx, s.logger))
	group, gctx := errgroup.WithContext(s.ctx)
	s.group = group
	s.done = make(chan struct{})
	s.started = true
	s.mu.Unlock()

	log := s.logger
	log.Info(
		"server start",
		"http_addr", s.cfg.HTTP.Addr,
		"http_base_path", s.cfg.HTTP.BasePath,
		"stream_path", s.httpSrv.StreamPath(),
		"publish", s.cfg.HTTP.EnablePublish,
		"metrics", s.cfg.MetricsEnabled,
		"metrics_addr", s.cfg.MetricsAddr,
	)
	group.Go(func() error {
		if err := httpapi.ListenAndServe(gctx, s.cfg.HTTP.Addr, s.httpSrv.Handler(), s.cfg.HTTP.ShutdownTimeout); err != nil {
			log.Error("http server failed", "err", err)
			return err
		}
		return nil
	})
	if s.metricsHandler != nil {
		group.Go(func() error {
			if err := httpapi.ListenAndServe(gctx, s.cfg.MetricsAddr, s.metricsHandler, s.cfg.HTTP.ShutdownTimeout); err != nil {
				log.Error("metrics server failed", "err", err)
				return err
			}
			return nil
		})
	}
	go func() {
		err := group.Wait()
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.done)
	}()
	return nil
}

func (s *compositeServer) Wait() error {
	s.mu.Lock()
	done := s.done
	started := s.started
	s.mu.Unlock()
	if !started {
		return errors.New("server not started")
	}
	<-done
	s.mu.Lock()
	err := s.err
	s.mu.Unlock()
	if err != nil {
		s.logger.Error("server stopped", "err", err)
	}
	return err
}

func (s *compositeServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel := s.cancel
	done := s.done
	started := s.started
	s.mu.Unlock()
	if !started {
		return nil
	}
	log := s.logger
	log.Info("server stop requested", "connections", s.registry.Total())
	if cancel != nil {
		cancel()
	}
	if ctx == nil {
		log.Info("server stop completed")
		return nil
	}
	select {
	case <-ctx.Done():
		log.Warn("server stop timed out", "err", ctx.Err())
		return ctx.Err()
	case <-done:
		log.Info("server stopped")
		return nil
	}
}
