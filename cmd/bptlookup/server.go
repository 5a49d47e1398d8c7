package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/KevoDB/bpt/pkg/bpt"
	"github.com/KevoDB/bpt/pkg/common/log"
	"github.com/KevoDB/bpt/pkg/config"
	"github.com/KevoDB/bpt/pkg/grpc/service"
	"github.com/KevoDB/bpt/pkg/grpc/transport"
	"github.com/KevoDB/bpt/pkg/telemetry"
)

const shutdownTimeout = 5 * time.Second

// Server serves one index over gRPC, plus a Prometheus endpoint when the
// prometheus exporter is enabled
type Server struct {
	grpcServer    *transport.GRPCServer
	metricsServer *http.Server
	metricsLis    net.Listener
	logger        log.Logger
}

// NewServer creates a server for idx. Nothing listens until Start.
func NewServer(cfg *config.Config, idx *bpt.Index, tel telemetry.Telemetry, logger log.Logger) (*Server, error) {
	if logger == nil {
		logger = log.GetDefaultLogger()
	}

	opts := transport.DefaultServerOptions()
	opts.TLSEnabled = cfg.TLSEnabled
	opts.CertFile = cfg.TLSCertFile
	opts.KeyFile = cfg.TLSKeyFile
	opts.CAFile = cfg.TLSCAFile
	opts.Logger = logger

	grpcServer, err := transport.NewGRPCServer(cfg.ListenAddr, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create gRPC server: %w", err)
	}
	service.RegisterIndexServiceServer(grpcServer.Registrar(), service.NewIndexServer(idx, logger))

	s := &Server{
		grpcServer: grpcServer,
		logger:     logger,
	}

	if handler := telemetry.MetricsHandler(tel); handler != nil {
		mux := http.NewServeMux()
		mux.Handle("/metrics", handler)
		s.metricsServer = &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Telemetry.PrometheusPort),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}

	return s, nil
}

// Start starts the gRPC and metrics listeners in the background
func (s *Server) Start() error {
	if s.metricsServer != nil {
		lis, err := net.Listen("tcp", s.metricsServer.Addr)
		if err != nil {
			return fmt.Errorf("failed to listen on %s: %w", s.metricsServer.Addr, err)
		}
		s.metricsLis = lis

		go func() {
			if err := s.metricsServer.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error("Metrics server error: %v", err)
			}
		}()
		s.logger.Info("Serving metrics on %s/metrics", lis.Addr())
	}

	if err := s.grpcServer.Start(); err != nil {
		if s.metricsServer != nil {
			s.metricsServer.Close()
		}
		return err
	}
	return nil
}

// Addr returns the gRPC listening address
func (s *Server) Addr() net.Addr {
	return s.grpcServer.Addr()
}

// MetricsAddr returns the metrics listening address, or nil without one
func (s *Server) MetricsAddr() net.Addr {
	if s.metricsLis == nil {
		return nil
	}
	return s.metricsLis.Addr()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	var errs []error
	if err := s.grpcServer.Stop(ctx); err != nil {
		errs = append(errs, err)
	}
	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}
	return errors.Join(errs...)
}

// runServer serves idx until ctx is cancelled
func runServer(ctx context.Context, cfg *config.Config, idx *bpt.Index, tel telemetry.Telemetry, logger log.Logger, stdout io.Writer) error {
	server, err := NewServer(cfg, idx, tel, logger)
	if err != nil {
		return err
	}
	if err := server.Start(); err != nil {
		return err
	}
	fmt.Fprintf(stdout, "bpt server for %s started on %s\n", idx.Name(), server.Addr())

	<-ctx.Done()
	fmt.Fprintln(stdout, "Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}

	fmt.Fprintln(stdout, "Shutdown complete")
	return nil
}
