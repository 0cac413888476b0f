// Package grpcapi exposes the standard gRPC health service for the registry.
// Load balancers and orchestrators probe it on a listener separate from the
// HTTP API.
package grpcapi

import (
	"context"
	"log"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-checked service name for the registry.
const ServiceName = "readimad.v1.Registry"

const DefaultCheckInterval = 10 * time.Second

// Pinger is satisfied by service.RegistryService.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Dependencies struct {
	Logger   *log.Logger
	Addr     string
	Registry Pinger

	// CheckInterval is how often Monitor pings the ledger.
	// 0 means DefaultCheckInterval.
	CheckInterval time.Duration
}

type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	addr       string
	registry   Pinger
	logger     *log.Logger
	interval   time.Duration

	serving bool
}

func NewServer(d Dependencies) *Server {
	if d.CheckInterval <= 0 {
		d.CheckInterval = DefaultCheckInterval
	}

	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	reflection.Register(gs)

	// Not serving until the first successful ledger ping.
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)

	return &Server{
		grpcServer: gs,
		health:     hs,
		addr:       d.Addr,
		registry:   d.Registry,
		logger:     d.Logger,
		interval:   d.CheckInterval,
	}
}

// Check pings the ledger once and publishes the result. Monitor is the only
// concurrent caller, so serving needs no lock.
func (s *Server) Check(ctx context.Context) {
	cctx, cancel := context.WithTimeout(ctx, s.interval)
	defer cancel()

	err := s.registry.Ping(cctx)
	ok := err == nil

	st := healthpb.HealthCheckResponse_SERVING
	if !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)

	if ok != s.serving {
		if ok {
			s.logger.Printf("grpc health: %s SERVING", ServiceName)
		} else {
			s.logger.Printf("grpc health: %s NOT_SERVING: %v", ServiceName, err)
		}
		s.serving = ok
	}
}

// Monitor checks immediately, then on every interval until ctx is done.
func (s *Server) Monitor(ctx context.Context) {
	s.Check(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Check(ctx)
		}
	}
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

func (s *Server) Serve(ln net.Listener) error {
	s.logger.Printf("grpc listening on %s", ln.Addr())
	return s.grpcServer.Serve(ln)
}

// Shutdown reports NOT_SERVING to every watcher, then drains in-flight RPCs.
func (s *Server) Shutdown() {
	s.health.Shutdown()
	s.grpcServer.GracefulStop()
}
