package events

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/wonny/stratstats/internal/contracts"
	"github.com/wonny/stratstats/internal/metrics"
	"github.com/wonny/stratstats/pkg/logger"
)

const (
	// Ping/Pong settings
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second

	// sendBuffer is the number of queued events per client before it is dropped
	sendBuffer = 32
)

// client is one dashboard connection subscribed to a single strategy
type client struct {
	strategyID int64
	conn       *websocket.Conn
	send       chan []byte
	closeOnce  sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// Hub fans statistics events out to websocket subscribers
// ⭐ SSOT: 통계 변경 알림 브로드캐스트는 여기서만
type Hub struct {
	logger   *logger.Logger
	metrics  *metrics.Metrics
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
}

// NewHub creates a websocket hub
func NewHub(log *logger.Logger, m *metrics.Metrics) *Hub {
	return &Hub{
		logger:  log.Component("events"),
		metrics: m,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// 대시보드는 게이트웨이 뒤에서 서빙됨
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		clients: make(map[*client]struct{}),
	}
}

// Publish sends the event to every subscriber of its strategy.
// Subscribers whose buffer is full are disconnected.
func (h *Hub) Publish(event contracts.StatisticsEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.WithError(err).Error("Failed to marshal statistics event")
		return
	}

	var slow []*client
	h.mu.RLock()
	for c := range h.clients {
		if c.strategyID != event.StrategyID {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range slow {
		h.logger.WithField("strategy_id", c.strategyID).Warn("Dropping slow websocket subscriber")
		h.unregister(c)
	}
}

// ServeWS upgrades the request and subscribes it to ?strategyId=
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	strategyID, err := strconv.ParseInt(r.URL.Query().Get("strategyId"), 10, 64)
	if err != nil || strategyID <= 0 {
		http.Error(w, "strategyId query parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote the error response
		h.logger.WithError(err).Debug("Websocket upgrade failed")
		return
	}

	c := &client{
		strategyID: strategyID,
		conn:       conn,
		send:       make(chan []byte, sendBuffer),
	}
	if !h.register(c) {
		conn.Close()
		return
	}

	go h.writeLoop(c)
	go h.readLoop(c)
}

// Clients returns the number of connected subscribers
func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every subscriber; later connections are refused
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.metrics.WebsocketClients(0)
	h.logger.WithField("clients", len(clients)).Info("Websocket hub closed")
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return false
	}
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()

	h.metrics.WebsocketClients(n)
	h.logger.WithFields(map[string]interface{}{
		"strategy_id": c.strategyID,
		"clients":     n,
	}).Debug("Websocket subscriber connected")
	return true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if !ok {
		return
	}
	c.close()
	h.metrics.WebsocketClients(n)
}

// readLoop only services control frames; subscribers never send data
func (h *Hub) readLoop(c *client) {
	defer func() {
		h.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.WithError(err).Debug("Websocket read failed")
			}
			return
		}
	}
}

func (h *Hub) writeLoop(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.unregister(c)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}
