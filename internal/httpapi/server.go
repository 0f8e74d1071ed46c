package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	syncTypes "github.com/stashware/inventory-sync/internal/sync"
)

// StateSource is the slice of the engine the status API reads.
type StateSource interface {
	State() syncTypes.SyncState
	Peers() []syncTypes.PeerInfo
}

// StatusResponse is served at /status and consumed by the status
// subcommand and the host UI.
type StatusResponse struct {
	DeviceID string               `json:"deviceId"`
	Version  string               `json:"version"`
	State    syncTypes.SyncState  `json:"state"`
	Peers    []syncTypes.PeerInfo `json:"peers"`
}

// Server is the daemon's loopback status API.
type Server struct {
	source   StateSource
	deviceID string
	version  string
	log      *slog.Logger
	mux      *http.ServeMux

	mu   sync.Mutex
	http *http.Server
	addr string
}

// NewServer wires the status routes. gatherer may be nil, which disables the
// /metrics route.
func NewServer(source StateSource, deviceID, version string, gatherer prometheus.Gatherer, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		source:   source,
		deviceID: deviceID,
		version:  version,
		log:      log,
		mux:      http.NewServeMux(),
	}

	s.mux.HandleFunc("/status", s.handleStatus)
	s.mux.HandleFunc("/healthz", s.handleHealthz)
	if gatherer != nil {
		s.mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
	return s
}

func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	peers := s.source.Peers()
	if peers == nil {
		peers = []syncTypes.PeerInfo{}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(StatusResponse{ //nolint:errcheck
		DeviceID: s.deviceID,
		Version:  s.version,
		State:    s.source.State(),
		Peers:    peers,
	})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK")) //nolint:errcheck
}

// StartAsync binds addr and serves in the background. Bind failures are
// returned synchronously; later serve errors are logged.
func (s *Server) StartAsync(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	srv := &http.Server{Handler: s.mux}
	s.mu.Lock()
	s.http = srv
	s.addr = ln.Addr().String()
	s.mu.Unlock()

	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("status api failed", "error", err)
		}
	}()

	s.log.Info("status api listening", "addr", ln.Addr().String())
	return nil
}

// Addr returns the bound address, empty before StartAsync.
func (s *Server) Addr() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Stop shuts the listener down gracefully. Safe without a prior StartAsync.
func (s *Server) Stop(ctx context.Context) {
	s.mu.Lock()
	srv := s.http
	s.http = nil
	s.mu.Unlock()

	if srv == nil {
		return
	}
	if err := srv.Shutdown(ctx); err != nil {
		s.log.Warn("status api shutdown", "error", err)
	}
}
