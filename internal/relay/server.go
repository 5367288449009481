package relay

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/rickgao/eventsub-receiver/internal/connection"
	"github.com/rickgao/eventsub-receiver/internal/handler"
	"github.com/rickgao/eventsub-receiver/internal/metrics"
)

// Config holds relay settings.
type Config struct {
	MaxMessageSize int64         // Read limit for consumer frames
	SendBuffer     int           // Per-consumer queued frames
	WriteTimeout   time.Duration // Per-frame write deadline
	PingInterval   time.Duration // Server ping cadence; consumers have 2x to answer
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxMessageSize: 1 << 20,
		SendBuffer:     256,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
	}
}

// Message is the frame sent to consumers.
type Message struct {
	BroadcasterID string               `json:"broadcaster_id,omitempty"`
	Metadata      connection.Metadata `json:"metadata"`
	Payload       connection.Payload  `json:"payload"`
}

// Server accepts consumers and broadcasts notifications to them.
type Server struct {
	cfg      Config
	logger   *slog.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	clients map[*consumer]struct{}
	closed  bool

	wg sync.WaitGroup
}

type consumer struct {
	id   uuid.UUID
	conn *websocket.Conn
	send chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

// New creates a relay server.
func New(cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = def.SendBuffer
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = def.PingInterval
	}
	return &Server{
		cfg:    cfg,
		logger: logger.With("component", "relay"),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			// Consumers are local processes, not browsers.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*consumer]struct{}),
	}
}

// ServeHTTP upgrades the request and registers the consumer.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		http.Error(w, "relay closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	c := &consumer{
		id:   uuid.New(),
		conn: conn,
		send: make(chan []byte, s.cfg.SendBuffer),
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "relay closed"),
			time.Now().Add(time.Second))
		conn.Close()
		return
	}
	s.clients[c] = struct{}{}
	n := len(s.clients)
	// Added under mu so Close cannot reach wg.Wait between registration and Add.
	s.wg.Add(2)
	metrics.RelayClients.Inc()
	s.mu.Unlock()

	s.logger.Info("consumer connected", "consumer_id", c.id, "remote", r.RemoteAddr, "consumers", n)

	go s.writePump(c)
	go s.readPump(c)
}

// Deliver broadcasts a handler event. It never blocks.
func (s *Server) Deliver(e handler.Event) {
	data, err := json.Marshal(Message{
		BroadcasterID: e.BroadcasterID,
		Metadata:      e.Notification.Metadata,
		Payload:       e.Notification.Payload,
	})
	if err != nil {
		s.logger.Error("encode relay message failed", "message_id", e.Notification.Metadata.MessageID, "error", err)
		return
	}
	s.Broadcast(data)
}

// Broadcast queues data for every consumer. Consumers whose buffer is full
// are disconnected.
func (s *Server) Broadcast(data []byte) {
	s.mu.Lock()
	var slow []*consumer
	for c := range s.clients {
		select {
		case c.send <- data:
		default:
			slow = append(slow, c)
		}
	}
	s.mu.Unlock()

	for _, c := range slow {
		metrics.RelayDropped.Inc()
		s.logger.Warn("consumer too slow, disconnecting", "consumer_id", c.id)
		s.remove(c, websocket.ClosePolicyViolation, "send buffer full")
	}
}

// ClientCount returns the number of connected consumers.
func (s *Server) ClientCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

// Close disconnects every consumer and rejects new ones.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	clients := make([]*consumer, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		s.remove(c, websocket.CloseGoingAway, "relay shutting down")
	}
	s.wg.Wait()
	s.logger.Info("relay closed")
}

// remove unregisters c and closes its connection once.
func (s *Server) remove(c *consumer, code int, reason string) {
	c.closeOnce.Do(func() {
		s.mu.Lock()
		delete(s.clients, c)
		s.mu.Unlock()
		metrics.RelayClients.Dec()

		close(c.done)
		c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeFrameCode(code), reason),
			time.Now().Add(s.cfg.WriteTimeout))
		c.conn.Close()

		s.logger.Info("consumer disconnected", "consumer_id", c.id, "code", code, "reason", reason)
	})
}

// writePump drains the consumer's queue and sends pings.
func (s *Server) writePump(c *consumer) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.remove(c, websocket.CloseInternalServerErr, "write failed")
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.cfg.WriteTimeout)); err != nil {
				s.remove(c, websocket.CloseGoingAway, "ping failed")
				return
			}
		}
	}
}

// readPump discards consumer frames and detects disconnects. The default
// ping handler answers consumer pings.
func (s *Server) readPump(c *consumer) {
	defer s.wg.Done()

	c.conn.SetReadLimit(s.cfg.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * s.cfg.PingInterval))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			code := websocket.CloseNormalClosure
			var ce *websocket.CloseError
			if errors.As(err, &ce) {
				code = ce.Code
			} else if errors.Is(err, websocket.ErrReadLimit) {
				code = websocket.CloseMessageTooBig
			}
			s.remove(c, code, "consumer closed")
			return
		}
	}
}

// closeFrameCode maps codes that must never appear in a close frame
// (RFC 6455 section 7.4.1) to a normal closure.
func closeFrameCode(code int) int {
	switch code {
	case websocket.CloseNoStatusReceived, websocket.CloseAbnormalClosure, websocket.CloseTLSHandshake:
		return websocket.CloseNormalClosure
	default:
		return code
	}
}
