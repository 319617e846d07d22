// Package feed provides a real-time WebSocket feed of customer cache changes.
//
// The feed broadcasts customer creates, updates and deletes, completed
// resyncs, and cache statistics to connected WebSocket clients, so a UI can
// refresh without polling the store.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// MessageType names what a Message carries.
type MessageType string

const (
	MessageTypeCustomerUpdate MessageType = "customer_update"
	MessageTypeSyncComplete   MessageType = "sync_complete"
	MessageTypeStats          MessageType = "stats"
)

// Message is one frame sent to every feed client.
type Message struct {
	Type      MessageType     `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
	Data      json.RawMessage `json:"data,omitempty"`
}

// encode stamps msg if needed and renders it as a text frame.
func (m Message) encode() ([]byte, error) {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now()
	}
	return json.Marshal(m)
}

const (
	queueSize    = 100
	writeTimeout = 5 * time.Second
)

// Server fans feed messages out to WebSocket clients.
type Server struct {
	addr     string
	listener net.Listener
	http     *http.Server

	mu      sync.RWMutex
	conns   map[*websocket.Conn]struct{}
	welcome func(ctx context.Context) (Message, bool)

	queue chan Message

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	stopOnce sync.Once

	logger *log.Logger
}

// Config configures a Server. Port 0 binds a free port.
type Config struct {
	Host   string
	Port   int
	Logger *log.Logger
}

func DefaultConfig() *Config {
	return &Config{
		Port:   8080,
		Logger: log.Default(),
	}
}

// NewServer returns a stopped server; call Start to listen.
func NewServer(config *Config) *Server {
	if config == nil {
		config = DefaultConfig()
	}
	logger := config.Logger
	if logger == nil {
		logger = log.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		addr:   net.JoinHostPort(config.Host, fmt.Sprint(config.Port)),
		conns:  make(map[*websocket.Conn]struct{}),
		queue:  make(chan Message, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}
}

// Start binds the listener and serves in the background.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.addr, err)
	}
	s.listener = ln
	s.http = &http.Server{
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	s.wg.Add(2)
	go s.fanOut()
	go func() {
		defer s.wg.Done()
		s.logger.Printf("Feed server listening on %s", ln.Addr())
		if err := s.http.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Printf("Feed server error: %v", err)
		}
	}()
	return nil
}

// Handler serves /ws and /health. Tests mount it on httptest servers.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", s.serveWS)
	mux.HandleFunc("/health", s.serveHealth)
	return mux
}

// Stop closes every client and shuts the listener down. Later calls are no-ops.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.logger.Println("Stopping feed server")
		s.cancel()

		for _, conn := range s.snapshot() {
			_ = conn.Close(websocket.StatusGoingAway, "Server shutting down")
			s.forget(conn)
		}

		if s.http != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if serr := s.http.Shutdown(ctx); serr != nil {
				err = fmt.Errorf("failed to shut down feed server: %w", serr)
			}
		}

		s.wg.Wait()
		s.logger.Println("Feed server stopped")
	})
	return err
}

// SetWelcome installs the builder for the first message each new client
// gets. Returning false sends nothing.
func (s *Server) SetWelcome(fn func(ctx context.Context) (Message, bool)) {
	s.mu.Lock()
	s.welcome = fn
	s.mu.Unlock()
}

// Broadcast enqueues msg without blocking. A full queue drops it.
func (s *Server) Broadcast(msg Message) {
	select {
	case s.queue <- msg:
	case <-s.ctx.Done():
	default:
		s.logger.Println("WARNING: feed queue full, dropping message")
	}
}

func (s *Server) fanOut() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case msg := <-s.queue:
			data, err := msg.encode()
			if err != nil {
				s.logger.Printf("Failed to encode %s message: %v", msg.Type, err)
				continue
			}
			for _, conn := range s.snapshot() {
				if err := s.write(s.ctx, conn, data); err != nil {
					s.logger.Printf("Failed to send to client: %v", err)
					s.drop(conn)
				}
			}
		}
	}
}

func (s *Server) write(ctx context.Context, conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.logger.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	// The welcome is written before conn joins the set, so it is always first.
	s.greet(r.Context(), conn)

	s.mu.Lock()
	s.conns[conn] = struct{}{}
	n := len(s.conns)
	s.mu.Unlock()
	s.logger.Printf("Client connected (total: %d)", n)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.drop(conn)
		// Inbound frames are discarded; a read error means the client left.
		for {
			if _, _, err := conn.Read(s.ctx); err != nil {
				return
			}
		}
	}()
}

func (s *Server) greet(ctx context.Context, conn *websocket.Conn) {
	s.mu.RLock()
	welcome := s.welcome
	s.mu.RUnlock()
	if welcome == nil {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	msg, ok := welcome(ctx)
	if !ok {
		return
	}
	data, err := msg.encode()
	if err != nil {
		s.logger.Printf("Failed to encode welcome: %v", err)
		return
	}
	_ = s.write(ctx, conn, data)
}

func (s *Server) snapshot() []*websocket.Conn {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*websocket.Conn, 0, len(s.conns))
	for conn := range s.conns {
		out = append(out, conn)
	}
	return out
}

// forget removes conn from the set and reports how many remain, or -1 if it
// was already gone.
func (s *Server) forget(conn *websocket.Conn) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[conn]; !ok {
		return -1
	}
	delete(s.conns, conn)
	return len(s.conns)
}

// drop closes conn once, however many goroutines notice it failed.
func (s *Server) drop(conn *websocket.Conn) {
	n := s.forget(conn)
	if n < 0 {
		return
	}
	_ = conn.Close(websocket.StatusNormalClosure, "")
	s.logger.Printf("Client disconnected (total: %d)", n)
}

type health struct {
	Status  string `json:"status"`
	Clients int    `json:"clients"`
}

func (s *Server) serveHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(health{Status: "ok", Clients: s.ClientCount()})
}

// Addr is the bound address once started, else the configured one.
func (s *Server) Addr() string {
	if s.listener != nil {
		return s.listener.Addr().String()
	}
	return s.addr
}

func (s *Server) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}
