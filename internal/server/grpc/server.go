// Package grpc serves the homesync sync service. Every call but Ping is
// authenticated; tenants are derived from the caller's session only.
package grpc

import (
	"context"
	"net"

	"github.com/dmitrijs2005/homesync/internal/logging"
	"github.com/dmitrijs2005/homesync/internal/mutation"
	"github.com/dmitrijs2005/homesync/internal/reconcile"
	"github.com/dmitrijs2005/homesync/internal/store"
	"github.com/dmitrijs2005/homesync/internal/wire"
	"google.golang.org/grpc"
)

const (
	defaultPullLimit = 200
	maxPullLimit     = 1000
	defaultPageSize  = 50
	maxPageSize      = 500
	maxPushBatch     = 500
)

type GRPCServer struct {
	address    string
	logger     logging.Logger
	reader     store.Reader
	manager    *mutation.Manager
	reconciler *reconcile.Reconciler
	jwtSecret  []byte
	serverOpts []grpc.ServerOption
}

var _ wire.SyncServiceServer = (*GRPCServer)(nil)

type Option func(*GRPCServer)

// WithServerOptions adds options to the underlying grpc.Server, e.g. a
// stats handler.
func WithServerOptions(opts ...grpc.ServerOption) Option {
	return func(s *GRPCServer) { s.serverOpts = append(s.serverOpts, opts...) }
}

func NewGRPCServer(a string, l logging.Logger, r store.Reader, m *mutation.Manager, rc *reconcile.Reconciler, secretKey string, opts ...Option) *GRPCServer {
	s := &GRPCServer{
		address:    a,
		logger:     l.With("module", "grpc_server"),
		reader:     r,
		manager:    m,
		reconciler: rc,
		jwtSecret:  []byte(secretKey),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewServer builds a grpc.Server with the service registered.
func (s *GRPCServer) NewServer() *grpc.Server {
	opts := append([]grpc.ServerOption{
		grpc.ChainUnaryInterceptor(s.loggingInterceptor, s.accessTokenInterceptor),
	}, s.serverOpts...)
	srv := grpc.NewServer(opts...)
	wire.RegisterSyncServiceServer(srv, s)
	return srv
}

// Run serves until ctx is done, then stops gracefully.
func (s *GRPCServer) Run(ctx context.Context) error {
	listen, err := net.Listen("tcp", s.address)
	if err != nil {
		return err
	}

	srv := s.NewServer()

	go func() {
		<-ctx.Done()
		s.logger.Info(ctx, "Stopping gRPC server...")
		srv.GracefulStop()
	}()

	s.logger.Info(ctx, "Starting gRPC server", "address", s.address)

	if err := srv.Serve(listen); err != nil {
		return err
	}
	return nil
}
