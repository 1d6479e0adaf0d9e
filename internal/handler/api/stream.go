package api

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"VaultPulse/internal/domain/models"
	domrepo "VaultPulse/internal/domain/repository"
	"VaultPulse/internal/service/metrics"
	applogger "VaultPulse/pkg/logger"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

const (
	streamSendBuffer = 16
	streamWriteWait  = 5 * time.Second
)

type streamClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *streamClient) close() {
	c.once.Do(func() { close(c.send) })
}

// StreamHub pushes every published snapshot to connected websocket clients.
// It is registered with the dispatcher as a snapshot sink. A client that
// cannot keep up is disconnected rather than slowing the others.
type StreamHub struct {
	upgrader     websocket.Upgrader
	pingInterval time.Duration
	l            *applogger.Logger

	mu      sync.RWMutex
	clients map[*streamClient]struct{}
	last    []byte
	closed  bool
}

func NewStreamHub(pingInterval time.Duration, l *applogger.Logger) *StreamHub {
	if l == nil {
		l = applogger.Nop()
	}
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	metrics.Register()
	return &StreamHub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pingInterval: pingInterval,
		l:            l,
		clients:      make(map[*streamClient]struct{}),
	}
}

func (h *StreamHub) Name() string { return "stream" }

// WriteSnapshot fans the encoded snapshot out to every client.
func (h *StreamHub) WriteSnapshot(_ context.Context, s *models.MetricsSnapshot) error {
	if s == nil {
		return nil
	}
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.last = b
	for c := range h.clients {
		select {
		case c.send <- b:
		default:
			h.l.Warn("stream client too slow, disconnecting")
			delete(h.clients, c)
			c.close()
		}
	}
	return nil
}

// Close disconnects every client.
func (h *StreamHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		delete(h.clients, c)
		c.close()
	}
	metrics.StreamClients.Set(0)
	return nil
}

// Clients is the number of connected subscribers.
func (h *StreamHub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Serve upgrades the request and streams snapshots until the client leaves.
// The latest snapshot, if any, is sent first.
func (h *StreamHub) Serve(c echo.Context) error {
	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.l.Debug("stream upgrade failed", applogger.Error(err))
		return nil
	}
	client := &streamClient{conn: conn, send: make(chan []byte, streamSendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(streamWriteWait))
		return conn.Close()
	}
	if h.last != nil {
		client.send <- h.last
	}
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.StreamClients.Set(float64(n))
	h.l.Info("stream client connected", applogger.String("remote", c.RealIP()), applogger.Int("clients", n))

	go h.readPump(client)
	h.writePump(client)
	return nil
}

func (h *StreamHub) remove(c *streamClient) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		c.close()
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.StreamClients.Set(float64(n))
}

// readPump discards client frames and notices disconnects.
func (h *StreamHub) readPump(c *streamClient) {
	defer h.remove(c)
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * h.pingInterval))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *StreamHub) writePump(c *streamClient) {
	ping := time.NewTicker(h.pingInterval)
	defer func() {
		ping.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case b, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				h.remove(c)
				return
			}
		case <-ping.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.remove(c)
				return
			}
		}
	}
}

var _ domrepo.SnapshotSink = (*StreamHub)(nil)
