package syncserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"
)

type pullRequest struct {
	Since    *time.Time `json:"since"`
	DeviceID string     `json:"device_id"`
}

type pullResponse struct {
	DeviceID      string    `json:"device_id"`
	Records       []Record  `json:"records"`
	SyncTimestamp time.Time `json:"sync_timestamp"`
	HasMore       bool      `json:"has_more"`
}

type pushRequest struct {
	DeviceID string   `json:"device_id"`
	Records  []Record `json:"records"`
}

type pushResponse struct {
	Accepted      int       `json:"accepted"`
	Rejected      int       `json:"rejected"`
	Conflicts     int       `json:"conflicts"`
	SyncTimestamp time.Time `json:"sync_timestamp"`
}

type statusResponse struct {
	DeviceID     string         `json:"device_id"`
	DeviceName   string         `json:"device_name"`
	LastModified *time.Time     `json:"last_modified"`
	RecordCounts map[string]int `json:"record_counts"`
}

// Server exposes the pull/push/status sync contract over a MemStore. It
// stands in for the full inventory backend in embedded deployments and under
// test.
type Server struct {
	store      *MemStore
	deviceID   string
	deviceName string
	log        *slog.Logger
	mux        *http.ServeMux

	mu   sync.Mutex
	http *http.Server
	addr string
}

func NewServer(store *MemStore, deviceID, deviceName string, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	s := &Server{
		store:      store,
		deviceID:   deviceID,
		deviceName: deviceName,
		log:        log,
		mux:        http.NewServeMux(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.mux.HandleFunc("/api/sync/pull", s.handlePull)
	s.mux.HandleFunc("/api/sync/push", s.handlePush)
	s.mux.HandleFunc("/api/sync/status", s.handleStatus)
	s.mux.HandleFunc("/health", s.handleHealth)
}

// Handler returns the route table so callers can serve it on their own
// listener.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) handlePull(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req pullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	records := s.store.Changed(req.Since)
	if records == nil {
		records = []Record{}
	}

	s.log.Debug("served pull", "device", req.DeviceID, "records", len(records))
	writeJSON(w, pullResponse{
		DeviceID:      s.deviceID,
		Records:       records,
		SyncTimestamp: time.Now().UTC(),
	})
}

func (s *Server) handlePush(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	outcome := s.store.Merge(req.Records)

	s.log.Info("merged push",
		"device", req.DeviceID,
		"accepted", outcome.Accepted,
		"rejected", outcome.Rejected,
		"conflicts", outcome.Conflicts)
	writeJSON(w, pushResponse{
		Accepted:      outcome.Accepted,
		Rejected:      outcome.Rejected,
		Conflicts:     outcome.Conflicts,
		SyncTimestamp: time.Now().UTC(),
	})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	writeJSON(w, statusResponse{
		DeviceID:     s.deviceID,
		DeviceName:   s.deviceName,
		LastModified: s.store.LastModified(),
		RecordCounts: s.store.Counts(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK")) //nolint:errcheck
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v) //nolint:errcheck
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
			s.log.Error("sync server failed", "error", err)
		}
	}()

	s.log.Info("sync server listening", "addr", ln.Addr().String(), "device", s.deviceID)
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
		s.log.Warn("sync server shutdown", "error", err)
	}
	s.log.Info("sync server stopped")
}
