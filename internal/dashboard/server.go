// Package dashboard provides the daemon's observation surface.
//
// The server broadcasts sync cycle results and schedule changes to connected
// WebSocket clients, and serves point-in-time engine state over plain HTTP:
//
//	/ws      WebSocket stream of dashboard messages
//	/status  JSON snapshot of engine state
//	/health  liveness check
//	/metrics Prometheus metrics
package dashboard

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/driftlab/edgesync/internal/power"
	"github.com/driftlab/edgesync/internal/record"
)

// MessageType defines the type of dashboard message.
type MessageType string

const (
	// MessageTypeCycle indicates a sync cycle completed.
	MessageTypeCycle MessageType = "cycle"

	// MessageTypeTuning indicates the schedule changed.
	MessageTypeTuning MessageType = "tuning"

	// MessageTypeReachability indicates a connectivity transition.
	MessageTypeReachability MessageType = "reachability"
)

// Message represents a dashboard broadcast message.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// CycleData carries one cycle's summary.
type CycleData struct {
	Uploaded   int `json:"uploaded"`
	Downloaded int `json:"downloaded"`
	Conflicts  int `json:"conflicts"`
}

// TuningData carries a schedule change.
type TuningData struct {
	BatchSize    int    `json:"batch_size"`
	BaseInterval string `json:"base_interval"`
}

// ReachabilityData carries a connectivity flip.
type ReachabilityData struct {
	Satisfied bool `json:"satisfied"`
}

// Status is the /status reply shape.
type Status struct {
	Syncing    bool               `json:"syncing"`
	LastSync   *time.Time         `json:"last_sync,omitempty"`
	LastResult *record.SyncResult `json:"last_result,omitempty"`
	BatchSize  int                `json:"batch_size"`
	Interval   string             `json:"interval"`
	Pending    int                `json:"pending"`
}

// EngineState is the read-only view of the engine the dashboard serves.
// Satisfied by *engine.Engine.
type EngineState interface {
	IsSyncing() bool
	LastSync() (time.Time, bool)
	LastResult() (record.SyncResult, bool)
	Tuning() power.Tuning
}

// PendingCounter reports how many records await upload. Satisfied by any
// store.Store.
type PendingCounter interface {
	Pending() ([]string, error)
}

// Server manages WebSocket connections and serves engine state.
type Server struct {
	addr     string
	listener net.Listener
	server   *http.Server

	engine  EngineState
	pending PendingCounter

	clients   map[*websocket.Conn]bool
	clientsMu sync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	logger *log.Logger
}

// Config holds server configuration.
type Config struct {
	// Port to listen on. 0 binds an ephemeral port.
	Port int

	// Engine supplies /status and is required.
	Engine EngineState

	// Pending supplies the pending depth for /status. Optional.
	Pending PendingCounter

	// Gatherer backs /metrics (default: prometheus.DefaultGatherer).
	Gatherer prometheus.Gatherer

	// Logger for server activity (default: stderr logger).
	Logger *log.Logger
}

// NewServer creates a dashboard server.
func NewServer(config *Config) (*Server, error) {
	if config == nil || config.Engine == nil {
		return nil, fmt.Errorf("engine cannot be nil")
	}
	logger := config.Logger
	if logger == nil {
		logger = log.New(os.Stderr, "[dashboard] ", log.LstdFlags)
	}
	gatherer := config.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Port 0 binds an ephemeral port; tests rely on this.
	s := &Server{
		addr:      fmt.Sprintf(":%d", config.Port),
		engine:    config.Engine,
		pending:   config.Pending,
		clients:   make(map[*websocket.Conn]bool),
		broadcast: make(chan Message, 100),
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
	s.server = &http.Server{
		Handler:      s.routes(gatherer),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	return s, nil
}

func (s *Server) routes(gatherer prometheus.Gatherer) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	return mux
}

// Start begins the HTTP server and broadcast loop.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Dashboard listening on %s", ln.Addr())
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.logger.Printf("Server error: %v", err)
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

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

// BroadcastCycle publishes a completed cycle to connected clients.
// Wire this to engine.Subscribe.
func (s *Server) BroadcastCycle(res record.SyncResult) {
	s.broadcastData(MessageTypeCycle, CycleData{
		Uploaded:   res.Uploaded,
		Downloaded: res.Downloaded,
		Conflicts:  res.Conflicts,
	})
}

// BroadcastTuning publishes a schedule change.
func (s *Server) BroadcastTuning(t power.Tuning) {
	s.broadcastData(MessageTypeTuning, TuningData{
		BatchSize:    t.BatchSize,
		BaseInterval: t.BaseInterval.String(),
	})
}

// BroadcastReachability publishes a connectivity flip.
func (s *Server) BroadcastReachability(satisfied bool) {
	s.broadcastData(MessageTypeReachability, ReachabilityData{Satisfied: satisfied})
}

func (s *Server) broadcastData(typ MessageType, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		s.logger.Printf("Failed to marshal %s data: %v", typ, err)
		return
	}
	msg := Message{Type: typ, Timestamp: time.Now(), Data: raw}

	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("Warning: broadcast channel full, dropping message")
	}
}

// broadcastLoop fans queued messages out to all connected clients.
func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			payload, err := json.Marshal(msg)
			if err != nil {
				s.logger.Printf("Failed to marshal message: %v", err)
				continue
			}

			s.clientsMu.RLock()
			conns := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				conns = append(conns, conn)
			}
			s.clientsMu.RUnlock()

			for _, conn := range conns {
				writeCtx, cancel := context.WithTimeout(s.ctx, 5*time.Second)
				err := conn.Write(writeCtx, websocket.MessageText, payload)
				cancel()
				if err != nil {
					s.logger.Printf("Dropping slow client: %v", err)
					s.removeClient(conn)
				}
			}
		}
	}
}

// handleWebSocket upgrades the connection and parks it in the client set
// until the peer goes away.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.logger.Printf("WebSocket accept failed: %v", err)
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	count := len(s.clients)
	s.clientsMu.Unlock()
	s.logger.Printf("Client connected (%d total)", count)

	// Reads are discarded; the stream is broadcast-only. Read failure is
	// how we learn the peer left.
	for {
		if _, _, err := conn.Read(r.Context()); err != nil {
			break
		}
	}
	s.removeClient(conn)
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, ok := s.clients[conn]; ok {
		delete(s.clients, conn)
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	s.clientsMu.Unlock()
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	tuning := s.engine.Tuning()
	status := Status{
		Syncing:   s.engine.IsSyncing(),
		BatchSize: tuning.BatchSize,
		Interval:  tuning.BaseInterval.String(),
	}
	if ts, ok := s.engine.LastSync(); ok {
		status.LastSync = &ts
	}
	if res, ok := s.engine.LastResult(); ok {
		status.LastResult = &res
	}
	if s.pending != nil {
		if ids, err := s.pending.Pending(); err == nil {
			status.Pending = len(ids)
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(status); err != nil {
		s.logger.Printf("Failed to encode status: %v", err)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	fmt.Fprintln(w, `{"status":"ok"}`)
}
