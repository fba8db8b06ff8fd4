package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/matheus3301/chatline/internal/api"
	"github.com/matheus3301/chatline/internal/config"
	"github.com/matheus3301/chatline/internal/metrics"
	"github.com/matheus3301/chatline/internal/session"
	"github.com/matheus3301/chatline/internal/store"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Server manages the gRPC server lifecycle for a session daemon.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates a gRPC server bound to the session's Unix domain socket.
func NewServer(p Params, logger *zap.Logger, svc *api.Service) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	// Set socket permissions to 0600.
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(metrics.GRPCServerMetricsUnaryInterceptor()),
		grpc.ChainStreamInterceptor(metrics.GRPCServerMetricsStreamInterceptor()),
	)
	api.RegisterChatServiceServer(srv, svc)

	return &Server{
		grpcServer: srv,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop performs a graceful shutdown and removes the socket file. Open watch
// streams are cut when ctx expires.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("gRPC server stopping")
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
	}
	_ = os.Remove(s.socketPath)
}

// MetricsServer serves /metrics and /healthz over HTTP. It is inert when no
// metrics address is configured.
type MetricsServer struct {
	http   *http.Server
	addr   string
	logger *zap.Logger
}

// NewMetricsServer creates the metrics endpoint for cfg.MetricsAddr.
func NewMetricsServer(cfg *config.Config, db *store.DB, logger *zap.Logger) *MetricsServer {
	ms := &MetricsServer{logger: logger}
	if cfg.MetricsAddr == "" {
		return ms
	}
	ms.http = &http.Server{
		Addr: cfg.MetricsAddr,
		Handler: metrics.Router(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return db.PingContext(ctx)
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return ms
}

// Start binds the listen address and serves in the background.
func (m *MetricsServer) Start() error {
	if m.http == nil {
		return nil
	}
	ln, err := net.Listen("tcp", m.http.Addr)
	if err != nil {
		return fmt.Errorf("listen metrics: %w", err)
	}
	m.addr = ln.Addr().String()
	m.logger.Info("metrics server starting", zap.String("addr", m.addr))
	go func() {
		if err := m.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			m.logger.Error("metrics server error", zap.Error(err))
		}
	}()
	return nil
}

// Addr returns the bound address, or "" before Start.
func (m *MetricsServer) Addr() string {
	return m.addr
}

// Stop shuts the HTTP server down.
func (m *MetricsServer) Stop(ctx context.Context) {
	if m.http == nil {
		return
	}
	if err := m.http.Shutdown(ctx); err != nil {
		m.logger.Warn("metrics server shutdown", zap.Error(err))
	}
}
