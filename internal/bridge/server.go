// Package bridge implements the HTTP and websocket surface of ArduinoLink. It
// is the external caller of the link: it issues connect, disconnect and send,
// and fans readings and link events out to websocket clients.
package bridge

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ArduinoLink/internal/device"
	"ArduinoLink/internal/model"
	"ArduinoLink/internal/parser"
	"ArduinoLink/internal/permission"
	"ArduinoLink/internal/util"
)

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

// Controller is the link surface the bridge drives.
type Controller interface {
	Connect(c device.Criteria) (permission.Token, error)
	Disconnect() error
	SendString(cmd string, timeout time.Duration) (int, error)
	Status() model.LinkStatus
}

// ReadingSource serves previously received readings.
type ReadingSource interface {
	Latest() (model.Reading, bool, error)
	Recent(n int) ([]model.Reading, error)
}

// Server serves the API and broadcasts to websocket clients.
type Server struct {
	Addr     string
	ctl      Controller
	source   ReadingSource
	parser   parser.Parser
	criteria device.Criteria

	mu      sync.Mutex
	clients map[*websocket.Conn]bool
	server  *http.Server
	mux     *http.ServeMux
}

// NewServer constructs a Server. source may be nil when no journal is kept;
// criteria is used by connect requests that do not name a device.
func NewServer(addr string, ctl Controller, source ReadingSource, p parser.Parser, criteria device.Criteria) *Server {
	s := &Server{
		Addr:     addr,
		ctl:      ctl,
		source:   source,
		parser:   p,
		criteria: criteria,
		clients:  map[*websocket.Conn]bool{},
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	if addr != "" {
		s.server = &http.Server{Addr: listenAddr(addr), Handler: s.mux}
	}
	return s
}

// listenAddr strips a URL scheme and turns a bare port into ":port".
func listenAddr(addr string) string {
	addr = strings.TrimPrefix(strings.TrimPrefix(addr, "http://"), "https://")
	if !strings.Contains(addr, ":") {
		addr = ":" + addr
	}
	return addr
}

// Handler returns the HTTP handler, for embedding and tests.
func (s *Server) Handler() http.Handler { return s.mux }

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/api/connect", s.handleConnect)
	s.mux.HandleFunc("/api/disconnect", s.handleDisconnect)
	s.mux.HandleFunc("/api/send", s.handleSend)
	s.mux.HandleFunc("/api/status", s.handleStatus)
	s.mux.HandleFunc("/api/latest", s.handleLatest)
	s.mux.HandleFunc("/api/readings", s.handleReadings)
	s.mux.HandleFunc("/ws", s.handleWS)
}

// Start launches the HTTP server and blocks until it stops or fails. After
// Stop it returns at once.
func (s *Server) Start() error {
	if s.server == nil {
		util.Info("[bridge] server not started (empty address)")
		return nil
	}
	util.Info("[bridge] listening at http://%s", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Stop gracefully stops the HTTP server and drops websocket clients.
func (s *Server) Stop() {
	srv := s.server
	s.mu.Lock()
	for c := range s.clients {
		_ = c.Close()
		delete(s.clients, c)
	}
	s.mu.Unlock()

	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		util.Warn("[bridge] HTTP server shutdown error: %v", err)
	} else {
		util.Info("[bridge] server stopped cleanly")
	}
}

// PublishReading broadcasts a reading to websocket clients.
func (s *Server) PublishReading(r model.Reading) {
	msg, err := s.parser.EncodeReading(r)
	if err != nil {
		util.Error("[bridge] encode reading: %v", err)
		return
	}
	s.broadcast(msg)
}

// PublishEvent broadcasts a link event to websocket clients.
func (s *Server) PublishEvent(e model.LinkEvent) {
	msg, err := s.parser.EncodeEvent(e)
	if err != nil {
		util.Error("[bridge] encode event: %v", err)
		return
	}
	s.broadcast(msg)
}

// Clients returns the number of connected websocket clients.
func (s *Server) Clients() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *Server) broadcast(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for c := range s.clients {
		if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			util.Warn("[bridge] drop client %s: %v", c.RemoteAddr(), err)
			_ = c.Close()
			delete(s.clients, c)
		}
	}
}

// handleWS upgrades HTTP to websocket and registers the client for broadcasts.
// Text frames from the client are commands for the device.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.clients[conn] = true
	s.mu.Unlock()

	go func() {
		defer func() {
			s.mu.Lock()
			delete(s.clients, conn)
			s.mu.Unlock()
			_ = conn.Close()
		}()
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			s.handleCommandFrame(conn, string(data))
		}
	}()
}

func (s *Server) handleCommandFrame(conn *websocket.Conn, frame string) {
	cmd, err := s.parser.DecodeCommand(frame)
	if err == nil {
		_, err = s.ctl.SendString(cmd.Command, time.Duration(cmd.TimeoutMs)*time.Millisecond)
	}
	if err == nil {
		return
	}
	msg, encErr := s.parser.EncodeEvent(model.LinkEvent{
		Kind:      "command_failed",
		Error:     err.Error(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	})
	if encErr != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clients[conn] {
		_ = conn.WriteMessage(websocket.TextMessage, []byte(msg))
	}
}
