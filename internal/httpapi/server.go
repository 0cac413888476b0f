package httpapi

import (
	"context"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/EmbeddedMhawar/Readimad/internal/readimad/service"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/types"
)

type Dependencies struct {
	Logger   *log.Logger
	Addr     string
	Registry *service.RegistryService

	// Gatherer backs GET /metrics. Nil leaves the route unregistered.
	Gatherer prometheus.Gatherer
}

type Server struct {
	httpServer *http.Server
	logger     *log.Logger
	mux        *http.ServeMux
	registry   *service.RegistryService
}

func NewServer(d Dependencies) *Server {
	mux := http.NewServeMux()

	s := &Server{
		logger:   d.Logger,
		mux:      mux,
		registry: d.Registry,
	}

	mux.HandleFunc("POST /v1/batches", s.handleRegisterBatch)
	mux.HandleFunc("POST /v1/verify", s.handleVerify)
	mux.HandleFunc("POST /v1/redeem", s.handleRedeem)
	mux.HandleFunc("POST /v1/history", s.handleHistory)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	if d.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	handler := loggingMiddleware(d.Logger, mux)

	s.httpServer = &http.Server{
		Addr:              d.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s
}

func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

func (s *Server) Start() error {
	return s.httpServer.ListenAndServe()
}

// Serve accepts connections on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleRegisterBatch(w http.ResponseWriter, r *http.Request) {
	var req types.RegisterBatchRequest
	if !s.decode(w, r, &req) {
		return
	}

	report, err := s.registry.RegisterNewBatch(r.Context(), req.SerialNumbers)
	if err != nil {
		s.fail(w, r, "register_batch", err)
		return
	}

	respond(w, r, http.StatusOK, report)
}

func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	var req types.SerialRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.registry.VerifyMedicine(r.Context(), req.SerialNumber)
	if err != nil {
		s.fail(w, r, "verify", err)
		return
	}

	respond(w, r, http.StatusOK, res)
}

func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	var req types.SerialRequest
	if !s.decode(w, r, &req) {
		return
	}

	res, err := s.registry.Redeem(r.Context(), req.SerialNumber)
	if err != nil {
		s.fail(w, r, "redeem", err)
		return
	}

	respond(w, r, http.StatusOK, res)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	var req types.SerialRequest
	if !s.decode(w, r, &req) {
		return
	}

	events, err := s.registry.History(r.Context(), req.SerialNumber)
	if err != nil {
		s.fail(w, r, "history", err)
		return
	}

	respond(w, r, http.StatusOK, types.HistoryResponse{
		SerialNumber: req.SerialNumber,
		Key:          keyFor(req.SerialNumber),
		Events:       events,
	})
}

type healthResponse struct {
	Status     string `json:"status"`
	ServerTime string `json:"server_time"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.registry.Ping(r.Context()); err != nil {
		s.logger.Printf("healthz: ledger ping failed: %v", err)
		writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: "unavailable", ServerTime: now})
		return
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", ServerTime: now})
}
