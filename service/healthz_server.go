package service

import (
	"context"
	"errors"
	"net"
	"net/http"

	"github.com/ethereum/go-ethereum/log"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
)

// HealthzServer answers liveness probes and exposes the progress of the
// current run while it executes
type HealthzServer struct {
	log      log.Logger
	status   *StatusTracker
	server   *http.Server
	listener net.Listener
}

func NewHealthzServer(logger log.Logger, status *StatusTracker) *HealthzServer {
	return &HealthzServer{
		log:    logger.New("component", "healthz"),
		status: status,
	}
}

// Start binds addr and serves in the background. An addr with port 0 picks a
// free port; see Addr.
func (h *HealthzServer) Start(addr string) error {
	hdlr := mux.NewRouter()
	hdlr.HandleFunc("/healthz", h.Handle).Methods(http.MethodGet)
	hdlr.HandleFunc("/status", h.status.handleStatus).Methods(http.MethodGet)
	hdlr.HandleFunc("/status/{id}", h.status.handleCase).Methods(http.MethodGet)
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	h.listener = listener
	h.server = &http.Server{
		Handler: c.Handler(hdlr),
	}

	go func() {
		if err := h.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			h.log.Error("healthz server failed", "err", err)
		}
	}()
	return nil
}

// Addr returns the bound address, or nil before Start
func (h *HealthzServer) Addr() net.Addr {
	if h.listener == nil {
		return nil
	}
	return h.listener.Addr()
}

func (h *HealthzServer) Shutdown(ctx context.Context) error {
	if h.server == nil {
		return nil
	}
	return h.server.Shutdown(ctx)
}

func (h *HealthzServer) Handle(w http.ResponseWriter, r *http.Request) {
	h.log.Debug("Received health check request", "path", r.URL.Path)
	w.Write([]byte("OK")) //nolint:errcheck
}
