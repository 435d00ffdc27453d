// Package events fans committed market lifecycle events out to websocket clients.
package events

import (
	"net/http"
	"sync"
	"time"

	json "github.com/goccy/go-json"
	"github.com/gorilla/websocket"
	"github.com/mselser95/parimutuel/pkg/types"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Config holds hub configuration.
type Config struct {
	// MessageBufferSize is the per-client queue length. A client whose queue is
	// full when an event arrives is disconnected.
	MessageBufferSize int
	Logger            *zap.Logger
}

// Hub broadcasts events to every connected websocket client.
type Hub struct {
	upgrader   websocket.Upgrader
	logger     *zap.Logger
	bufferSize int

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

type client struct {
	conn     *websocket.Conn
	addr     string
	send     chan []byte
	marketID string // empty means every market
	once     sync.Once
}

func (c *client) wants(ev *types.Event) bool {
	return c.marketID == "" || c.marketID == ev.MarketID
}

// New creates a hub.
func New(cfg Config) *Hub {
	if cfg.MessageBufferSize <= 0 {
		cfg.MessageBufferSize = 64
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		logger:     cfg.Logger,
		bufferSize: cfg.MessageBufferSize,
		clients:    make(map[*client]struct{}),
	}
}

// Publish sends ev to every client subscribed to its market. It never blocks.
func (h *Hub) Publish(ev types.Event) {
	msg, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("event-marshal-failed", zap.Error(err))
		return
	}

	var slow []*client

	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(&ev) {
			continue
		}
		select {
		case c.send <- msg:
			MessagesSentTotal.WithLabelValues(string(ev.Type)).Inc()
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.Warn("event-client-too-slow",
			zap.String("remote-addr", c.addr),
			zap.String("market-id", c.marketID))
		ClientsDroppedTotal.Inc()
		h.remove(c)
	}
}

// ServeHTTP upgrades the request and streams events until the client goes away.
// The optional market query parameter restricts the stream to one market.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug("websocket-upgrade-failed", zap.Error(err))
		return
	}

	c := &client{
		conn:     conn,
		addr:     conn.RemoteAddr().String(),
		send:     make(chan []byte, h.bufferSize),
		marketID: r.URL.Query().Get("market"),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	count := len(h.clients)
	h.mu.Unlock()

	ConnectionsActive.Set(float64(count))
	h.logger.Debug("event-client-connected",
		zap.String("remote-addr", c.addr),
		zap.String("market-id", c.marketID))

	go h.writePump(c)
	h.readPump(c)
}

// readPump discards inbound frames; it exists to process control frames and
// notice when the peer disconnects.
func (h *Hub) readPump(c *client) {
	defer h.remove(c)

	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.logger.Debug("event-write-failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	count := len(h.clients)
	h.mu.Unlock()

	if ok {
		ConnectionsActive.Set(float64(count))
	}
	c.once.Do(func() { close(c.send) })
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.remove(c)
	}
	h.logger.Info("event-hub-closed", zap.Int("clients", len(clients)))
}
