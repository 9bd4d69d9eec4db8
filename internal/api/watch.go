package api

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/erazemk/grocery/internal/inventory"
)

// WebSocket configuration constants.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	closeGrace     = time.Second
)

// WatchHandler streams inventory snapshots over WebSocket. Every snapshot
// is sent whole, as {"items": [...]}, starting with the current one.
type WatchHandler struct {
	inventory *inventory.Store
	upgrader  websocket.Upgrader

	mu      sync.Mutex
	clients map[*websocket.Conn]context.CancelFunc
	pumps   sync.WaitGroup
}

// NewWatchHandler returns a handler publishing inv's snapshots.
func NewWatchHandler(inv *inventory.Store) *WatchHandler {
	return &WatchHandler{
		inventory: inv,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients: make(map[*websocket.Conn]context.CancelFunc),
	}
}

// Watch handles GET /api/items/watch.
func (h *WatchHandler) Watch(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("failed to upgrade connection", "error", err)
		return
	}

	// The connection outlives the upgrade request.
	ctx, cancel := context.WithCancel(context.Background())

	h.mu.Lock()
	h.clients[conn] = cancel
	h.mu.Unlock()

	user := ""
	if claims := GetClaims(r.Context()); claims != nil {
		user = claims.Username
	}
	slog.Info("watch client connected", "remote", conn.RemoteAddr().String(), "user", user)

	sub := h.inventory.Subscribe()
	h.pumps.Add(1)
	go h.writePump(ctx, conn, sub)
	go h.readPump(ctx, conn, cancel)
}

// readPump drains client frames so pongs and close frames are processed.
func (h *WatchHandler) readPump(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	defer func() {
		cancel()
		h.removeClient(conn)
	}()

	conn.SetReadLimit(maxMessageSize)
	if err := conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		return
	}
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for ctx.Err() == nil {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.Warn("watch read error", "error", err)
			}
			return
		}
	}
}

// writePump is the only writer on conn.
func (h *WatchHandler) writePump(ctx context.Context, conn *websocket.Conn, sub *inventory.Subscription) {
	ping := time.NewTicker(pingPeriod)
	defer func() {
		ping.Stop()
		sub.Cancel()
		h.pumps.Done()
	}()

	for {
		select {
		case <-ctx.Done():
			sendClose(conn, websocket.CloseGoingAway, "server shutting down")
			return
		case items, ok := <-sub.C():
			if !ok {
				sendClose(conn, websocket.CloseGoingAway, "inventory closed")
				return
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteJSON(itemsResponse{Items: items}); err != nil {
				slog.Debug("failed to send snapshot", "error", err)
				conn.Close()
				return
			}
		case <-ping.C:
			if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				conn.Close()
				return
			}
		}
	}
}

func sendClose(conn *websocket.Conn, code int, reason string) {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason)); err != nil {
		slog.Debug("failed to send close message", "error", err)
	}
}

func (h *WatchHandler) removeClient(conn *websocket.Conn) {
	h.mu.Lock()
	cancel, ok := h.clients[conn]
	delete(h.clients, conn)
	h.mu.Unlock()

	if ok {
		cancel()
		conn.Close()
		slog.Info("watch client disconnected", "remote", conn.RemoteAddr().String())
	}
}

// Clients returns the number of connected watchers.
func (h *WatchHandler) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// CloseAll sends every client a close frame and drops the connections.
func (h *WatchHandler) CloseAll() {
	h.mu.Lock()
	for _, cancel := range h.clients {
		cancel()
	}
	h.mu.Unlock()

	// Give write pumps a moment to send their close frames.
	done := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(closeGrace):
	}

	h.mu.Lock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
	h.mu.Unlock()

	slog.Info("all watch connections closed")
}
