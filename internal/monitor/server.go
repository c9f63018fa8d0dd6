// Package monitor provides the operational HTTP surface of the sync daemon:
// a WebSocket feed of completed pass reports plus JSON endpoints for health,
// sync status, and manual pass triggering.
package monitor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	stdsync "sync"
	"time"

	"github.com/coder/websocket"
	"github.com/sirupsen/logrus"

	"github.com/fjordpay/cachesync/internal/scheduler"
	"github.com/fjordpay/cachesync/internal/sync"
)

// MessageType defines the type of monitor broadcast message.
type MessageType string

const (
	// MessageTypeSyncReport carries the report of one completed pass.
	MessageTypeSyncReport MessageType = "sync_report"
	// MessageTypeStatus carries the scheduler status snapshot sent to a
	// client right after it connects.
	MessageTypeStatus MessageType = "status"
)

// Message is one monitor broadcast frame.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// SyncController is the slice of the scheduler the monitor drives.
type SyncController interface {
	Trigger(ctx context.Context) (*sync.Report, error)
	Status() scheduler.Status
}

// Config holds server configuration.
type Config struct {
	// Port to listen on (default 8480).
	Port int
	// Logger for server activity; nil falls back to the logrus standard
	// logger.
	Logger logrus.FieldLogger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{Port: 8480}
}

// Server manages WebSocket clients and the JSON operational endpoints.
type Server struct {
	addr       string
	controller SyncController
	listener   net.Listener
	server     *http.Server

	clients   map[*websocket.Conn]bool
	clientsMu stdsync.RWMutex

	broadcast chan Message

	ctx    context.Context
	cancel context.CancelFunc
	wg     stdsync.WaitGroup

	log logrus.FieldLogger
}

// NewServer creates a monitor server for the given controller.
func NewServer(controller SyncController, config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	log := config.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &Server{
		addr:       fmt.Sprintf(":%d", config.Port),
		controller: controller,
		clients:    make(map[*websocket.Conn]bool),
		broadcast:  make(chan Message, 100),
		ctx:        ctx,
		cancel:     cancel,
		log:        log.WithField("component", "monitor"),
	}
}

// Start begins serving. Non-blocking; use Stop to shut down.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/sync", s.handleSync)

	s.server = &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	s.wg.Add(1)
	go s.broadcastLoop()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.log.WithField("addr", s.addr).Info("monitor server listening")
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			s.log.WithError(err).Error("monitor server error")
		}
	}()

	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() error {
	s.log.Info("stopping monitor server")

	s.cancel()

	s.clientsMu.Lock()
	for conn := range s.clients {
		_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
		delete(s.clients, conn)
	}
	s.clientsMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("monitor server shutdown error: %w", err)
	}

	s.wg.Wait()
	return nil
}

// PublishReport broadcasts a completed pass report to all clients.
// Wire it as the scheduler's OnReport callback.
func (s *Server) PublishReport(report *sync.Report) {
	data, err := json.Marshal(report)
	if err != nil {
		s.log.WithError(err).Error("failed to marshal sync report")
		return
	}
	s.Broadcast(Message{Type: MessageTypeSyncReport, Data: data})
}

// Broadcast queues a message for all connected clients. Messages are dropped
// rather than blocking a pass when the queue is full.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.broadcast <- msg:
	case <-s.ctx.Done():
	default:
		s.log.Warn("broadcast channel full, dropping message")
	}
}

func (s *Server) broadcastLoop() {
	defer s.wg.Done()

	for {
		select {
		case <-s.ctx.Done():
			return

		case msg := <-s.broadcast:
			if msg.Timestamp.IsZero() {
				msg.Timestamp = time.Now()
			}

			data, err := json.Marshal(msg)
			if err != nil {
				s.log.WithError(err).Error("failed to marshal message")
				continue
			}

			s.clientsMu.RLock()
			clients := make([]*websocket.Conn, 0, len(s.clients))
			for conn := range s.clients {
				clients = append(clients, conn)
			}
			s.clientsMu.RUnlock()

			// Write outside the read lock so a slow client cannot block
			// new connections.
			for _, conn := range clients {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				err := conn.Write(ctx, websocket.MessageText, data)
				cancel()

				if err != nil {
					s.removeClient(conn)
				}
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.WithError(err).Warn("websocket upgrade failed")
		return
	}

	s.clientsMu.Lock()
	s.clients[conn] = true
	clientCount := len(s.clients)
	s.clientsMu.Unlock()

	s.log.WithField("clients", clientCount).Info("monitor client connected")

	// Send the current status so a new client has a baseline.
	if data, err := json.Marshal(s.controller.Status()); err == nil {
		welcome, _ := json.Marshal(Message{
			Type:      MessageTypeStatus,
			Timestamp: time.Now(),
			Data:      data,
		})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = conn.Write(ctx, websocket.MessageText, welcome)
		cancel()
	}

	go s.readLoop(conn)
}

// readLoop keeps the connection alive and detects client disconnects;
// client messages are not processed.
func (s *Server) readLoop(conn *websocket.Conn) {
	defer s.removeClient(conn)

	for {
		if _, _, err := conn.Read(s.ctx); err != nil {
			return
		}
	}
}

func (s *Server) removeClient(conn *websocket.Conn) {
	s.clientsMu.Lock()
	if _, exists := s.clients[conn]; exists {
		delete(s.clients, conn)
		clientCount := len(s.clients)
		s.clientsMu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
		s.log.WithField("clients", clientCount).Info("monitor client disconnected")
	} else {
		s.clientsMu.Unlock()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.clientsMu.RLock()
	clientCount := len(s.clients)
	s.clientsMu.RUnlock()

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"status":  "ok",
		"clients": clientCount,
	})
}

// handleStatus serves the scheduler's last-pass view.
func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(s.controller.Status())
}

// handleSync runs a manual pass. A pass already in flight maps to 409.
func (s *Server) handleSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	report, err := s.controller.Trigger(r.Context())
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, scheduler.ErrPassInFlight) {
			status = http.StatusConflict
		}
		http.Error(w, err.Error(), status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(report)
}

// GetAddr returns the server's listening address.
func (s *Server) GetAddr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

// ClientCount returns the current number of connected WebSocket clients.
func (s *Server) ClientCount() int {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()
	return len(s.clients)
}
