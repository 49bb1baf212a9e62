package console

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/matheus3301/wacrm/internal/bus"
	"github.com/matheus3301/wacrm/internal/lock"
	"github.com/matheus3301/wacrm/internal/status"
)

// PushService is the health service name that tracks push connectivity.
const PushService = "wacrm.push"

// Server exposes the console's health on the profile's Unix domain socket.
// The push service is SERVING only while the push channel is connected.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger

	events <-chan bus.Event
	unsub  func()
	done   chan struct{}
}

// NewServer creates a gRPC health server bound to the profile's socket. It
// takes the profile lock so a second console never replaces a live socket.
func NewServer(p Params, _ *lock.Lock, m *status.Machine, b *bus.Bus, logger *zap.Logger) (*Server, error) {
	socketPath := filepath.Join(p.dir(), "console.sock")

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	hs := health.NewServer()
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)

	s := &Server{
		grpcServer: srv,
		health:     hs,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
		done:       make(chan struct{}),
	}
	// Subscribe before reading the current state so no change is missed.
	s.events, s.unsub = b.Subscribe("push.", 16)
	s.setPush(m.Current())
	go s.follow()
	return s, nil
}

// Start serves requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("status server starting", zap.String("socket", s.socketPath))
	return s.grpcServer.Serve(s.listener)
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(_ context.Context) {
	s.logger.Info("status server stopping")
	s.unsub()
	close(s.done)
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
	_ = s.listener.Close()
	_ = os.Remove(s.socketPath)
}

func (s *Server) follow() {
	for {
		select {
		case evt := <-s.events:
			if c, ok := evt.Payload.(status.StatusChange); ok {
				s.setPush(c.To)
			}
		case <-s.done:
			return
		}
	}
}

func (s *Server) setPush(st status.State) {
	serving := healthpb.HealthCheckResponse_NOT_SERVING
	if st == status.Connected {
		serving = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(PushService, serving)
}
