package metrics

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/CoreumFoundation/coreum-tools/pkg/parallel"

	"github.com/interledgermesh/connector/logger"
)

// ServerConfig is the metrics server config.
type ServerConfig struct {
	// ListenAddress is the address the /metrics endpoint is scraped on.
	ListenAddress string
}

// DefaultServerConfig returns the default ServerConfig.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddress: "localhost:9090",
	}
}

// Server exposes the connector's metric registry to Prometheus scrapers.
type Server struct {
	cfg      ServerConfig
	log      logger.Logger
	registry *Registry
}

// NewServer returns a new metrics Server.
func NewServer(cfg ServerConfig, log logger.Logger, registry *Registry) *Server {
	return &Server{
		cfg:      cfg,
		log:      log,
		registry: registry,
	}
}

// Handler returns the HTTP handler serving the /metrics endpoint.
func (s *Server) Handler() (http.Handler, error) {
	promRegistry := prometheus.NewRegistry()
	if err := s.registry.Register(promRegistry); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.InstrumentMetricHandler(
		promRegistry, promhttp.HandlerFor(promRegistry, promhttp.HandlerOpts{}),
	))
	return mux, nil
}

// Start serves scrapes until the context is closed.
func (s *Server) Start(ctx context.Context) error {
	handler, err := s.Handler()
	if err != nil {
		return err
	}

	listener, err := net.Listen("tcp", s.cfg.ListenAddress)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.cfg.ListenAddress)
	}
	defer listener.Close()

	server := &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.log.Info(ctx, "Metrics server listening", zap.String("address", listener.Addr().String()))

	err = parallel.Run(ctx, func(ctx context.Context, spawn parallel.SpawnFn) error {
		spawn("serve", parallel.Exit, func(ctx context.Context) error {
			if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return errors.Wrap(err, "metrics server exited")
			}
			return errors.WithStack(ctx.Err())
		})
		spawn("close", parallel.Exit, func(ctx context.Context) error {
			<-ctx.Done()
			server.Close()
			return errors.WithStack(ctx.Err())
		})
		return nil
	})

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
