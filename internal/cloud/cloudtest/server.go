// Package cloudtest provides an in-process sync authority.
//
// The server implements the same wire contract as a production authority:
// versioned record upsert with stale-version rejection and since-watermark
// change listing. It backs the engine's tests and the `edgesync serve`
// development command. State is in-memory only.
package cloudtest

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/driftlab/edgesync/internal/record"
)

// storedRecord pairs a record with the server-side time it was accepted.
// ReceivedAt is the change-listing watermark; client UpdatedAt clocks are
// never trusted for ordering.
type storedRecord struct {
	rec        record.Record
	receivedAt time.Time
}

// Server is an HTTP sync authority holding records in memory.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server
	logger   *log.Logger

	mu      sync.Mutex
	records map[string]storedRecord

	wg sync.WaitGroup
}

// Config holds server configuration.
type Config struct {
	// Addr to listen on (default: "127.0.0.1:0", an ephemeral port).
	Addr string

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// NewServer creates a new authority server. Call Start to begin serving.
func NewServer(config *Config) *Server {
	if config == nil {
		config = &Config{}
	}
	addr := config.Addr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(log.Writer(), "[authority] ", log.LstdFlags)
	}
	return &Server{
		addr:    addr,
		logger:  logger,
		records: make(map[string]storedRecord),
	}
}

// Start begins serving. It returns once the listener is bound; URL reports
// the bound address.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/records", s.handleUpload)
	mux.HandleFunc("/v1/changes", s.handleChanges)
	mux.HandleFunc("/health", s.handleHealth)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Authority listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	if s.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown error: %w", err)
	}
	s.wg.Wait()
	return nil
}

// URL returns the server's base URL. Only valid after Start.
func (s *Server) URL() string {
	return "http://" + s.listener.Addr().String()
}

// Put seeds a record directly, bypassing HTTP. Used by tests to stage
// remote state.
func (s *Server) Put(rec record.Record) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[rec.ID] = storedRecord{rec: rec.Clone(), receivedAt: time.Now()}
}

// Get returns the stored record for id, if any.
func (s *Server) Get(id string) (record.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sr, ok := s.records[id]
	if !ok {
		return record.Record{}, false
	}
	return sr.rec.Clone(), true
}

// Len returns the number of stored records.
func (s *Server) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type uploadRequest struct {
	Records []record.Record `json:"records"`
}

type uploadReply struct {
	Accepted []string `json:"accepted"`
}

type changesReply struct {
	Records []record.Record `json:"records"`
}

// handleUpload accepts a batch of records. Each record is accepted only if
// its version is greater than the stored one (stale writes are skipped, not
// errors), so the accepted id list can be a strict subset of the batch.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req uploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	now := time.Now()
	accepted := make([]string, 0, len(req.Records))

	s.mu.Lock()
	for _, rec := range req.Records {
		if err := rec.Validate(); err != nil {
			s.logger.Printf("Rejecting invalid record %q: %v", rec.ID, err)
			continue
		}
		existing, ok := s.records[rec.ID]
		if ok && existing.rec.Version >= rec.Version {
			s.logger.Printf("Skipping stale write for %s: have v%d, got v%d",
				rec.ID, existing.rec.Version, rec.Version)
			continue
		}
		s.records[rec.ID] = storedRecord{rec: rec.Clone(), receivedAt: now}
		accepted = append(accepted, rec.ID)
	}
	s.mu.Unlock()

	s.logger.Printf("Upload: %d records, %d accepted", len(req.Records), len(accepted))
	writeJSON(w, uploadReply{Accepted: accepted})
}

// handleChanges lists records received after the since watermark.
// No since parameter means a full snapshot.
func (s *Server) handleChanges(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var since time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		parsed, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			http.Error(w, fmt.Sprintf("invalid since parameter: %v", err), http.StatusBadRequest)
			return
		}
		since = parsed
	}

	s.mu.Lock()
	changed := make([]record.Record, 0, len(s.records))
	for _, sr := range s.records {
		if since.IsZero() || sr.receivedAt.After(since) {
			changed = append(changed, sr.rec.Clone())
		}
	}
	s.mu.Unlock()

	writeJSON(w, changesReply{Records: changed})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "encoding error", http.StatusInternalServerError)
	}
}
