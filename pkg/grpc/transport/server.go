package transport

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/keepalive"

	"github.com/KevoDB/bpt/pkg/common/log"
)

// ErrServerStarted is returned when Start or Serve is called twice
var ErrServerStarted = errors.New("server already started")

// ServerOptions configures a GRPCServer
type ServerOptions struct {
	TLSEnabled bool
	CertFile   string
	KeyFile    string
	CAFile     string

	MaxConnectionIdle time.Duration
	MaxConnectionAge  time.Duration
	KeepAliveTime     time.Duration
	KeepAliveTimeout  time.Duration

	Logger log.Logger
}

// DefaultServerOptions returns the keepalive settings used by the lookup server
func DefaultServerOptions() ServerOptions {
	return ServerOptions{
		MaxConnectionIdle: 60 * time.Second,
		MaxConnectionAge:  5 * time.Minute,
		KeepAliveTime:     15 * time.Second,
		KeepAliveTimeout:  5 * time.Second,
	}
}

// GRPCServer owns a grpc.Server and its listener
type GRPCServer struct {
	address  string
	options  ServerOptions
	server   *grpc.Server
	listener net.Listener
	logger   log.Logger
	mu       sync.Mutex
	started  bool
}

// NewGRPCServer creates a server for address. Services must be registered
// on Registrar before Start or Serve.
func NewGRPCServer(address string, options ServerOptions) (*GRPCServer, error) {
	serverOpts, err := buildServerOptions(options)
	if err != nil {
		return nil, err
	}

	logger := options.Logger
	if logger == nil {
		logger = log.GetDefaultLogger()
	}

	return &GRPCServer{
		address: address,
		options: options,
		server:  grpc.NewServer(serverOpts...),
		logger:  logger.WithField("component", "grpc"),
	}, nil
}

func buildServerOptions(options ServerOptions) ([]grpc.ServerOption, error) {
	var serverOpts []grpc.ServerOption

	if options.TLSEnabled {
		tlsConfig, err := LoadServerTLSConfig(options.CertFile, options.KeyFile, options.CAFile)
		if err != nil {
			return nil, err
		}
		serverOpts = append(serverOpts, grpc.Creds(credentials.NewTLS(tlsConfig)))
	}

	keepaliveParams := keepalive.ServerParameters{
		MaxConnectionIdle:     options.MaxConnectionIdle,
		MaxConnectionAge:      options.MaxConnectionAge,
		MaxConnectionAgeGrace: 5 * time.Second,
		Time:                  options.KeepAliveTime,
		Timeout:               options.KeepAliveTimeout,
	}

	keepalivePolicy := keepalive.EnforcementPolicy{
		MinTime:             5 * time.Second,
		PermitWithoutStream: true,
	}

	return append(serverOpts,
		grpc.KeepaliveParams(keepaliveParams),
		grpc.KeepaliveEnforcementPolicy(keepalivePolicy),
	), nil
}

// Registrar returns the registrar services are attached to
func (s *GRPCServer) Registrar() grpc.ServiceRegistrar {
	return s.server
}

func (s *GRPCServer) listen() (net.Listener, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return nil, ErrServerStarted
	}

	listener, err := net.Listen("tcp", s.address)
	if err != nil {
		return nil, fmt.Errorf("failed to listen on %s: %w", s.address, err)
	}
	s.listener = listener
	s.started = true

	s.logger.Info("Listening on %s", listener.Addr())
	return listener, nil
}

// Start starts serving in the background and returns once listening
func (s *GRPCServer) Start() error {
	listener, err := s.listen()
	if err != nil {
		return err
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error("gRPC server error: %v", err)
		}
	}()
	return nil
}

// Serve starts the server and blocks until it's stopped
func (s *GRPCServer) Serve() error {
	listener, err := s.listen()
	if err != nil {
		return err
	}
	return s.server.Serve(listener)
}

// Addr returns the listening address, or nil before Start
func (s *GRPCServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Stop stops the server gracefully, forcing it down when ctx expires
func (s *GRPCServer) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		return nil
	}

	stopped := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		s.logger.Info("gRPC server stopped gracefully")
	case <-ctx.Done():
		s.logger.Warn("Context deadline exceeded, forcing server stop")
		s.server.Stop()
	}

	s.started = false
	return nil
}
