package server

import (
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/tuyalink/internal/bridge"
	"github.com/muurk/tuyalink/internal/logging"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512

	// Events buffered per client before it is dropped as too slow
	sendBuffer = 64

	// DefaultMaxClients bounds concurrent feed clients
	DefaultMaxClients = 32
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // The feed is read-only
	},
}

// client is one feed subscriber.
type client struct {
	id     uuid.UUID
	conn   *websocket.Conn
	send   chan []byte
	device string // Only events for this device, or all when empty
}

var (
	errHubFull   = errors.New("too many clients")
	errHubClosed = errors.New("server shutting down")
)

// hub fans events out to feed clients. A client whose buffer is full is
// dropped rather than stalling the engine.
type hub struct {
	mu         sync.Mutex
	clients    map[uuid.UUID]*client
	maxClients int
	closed     bool

	// wg counts client pumps. Add only happens under mu while the hub is
	// open, so Wait after closeAll cannot race with it.
	wg sync.WaitGroup
}

func newHub() *hub {
	return &hub{
		clients:    make(map[uuid.UUID]*client),
		maxClients: DefaultMaxClients,
	}
}

// add registers c and reserves its two pump goroutines.
func (h *hub) add(c *client) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return errHubClosed
	}
	if len(h.clients) >= h.maxClients {
		return errHubFull
	}
	h.clients[c.id] = c
	h.wg.Add(2)
	return nil
}

func (h *hub) remove(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.removeLocked(c)
}

func (h *hub) removeLocked(c *client) {
	if _, ok := h.clients[c.id]; ok {
		delete(h.clients, c.id)
		close(c.send)
	}
}

func (h *hub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// broadcast is the bridge sink.
func (h *hub) broadcast(ev bridge.Event) {
	data, err := ev.Marshal()
	if err != nil {
		logging.Error("Failed to encode event", zap.String("type", ev.Type), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		if c.device != "" && c.device != ev.DeviceID {
			continue
		}
		select {
		case c.send <- data:
		default:
			logging.Warn("Dropping slow feed client", zap.Stringer("client_id", c.id))
			h.removeLocked(c)
		}
	}
}

// closeAll drops every client and refuses new ones.
func (h *hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for _, c := range h.clients {
		h.removeLocked(c)
	}
}

// wait blocks until every pump has returned. Call it after closeAll.
func (h *hub) wait() {
	h.wg.Wait()
}

// handleWebSocket upgrades the request and streams events. The optional
// "device" query parameter limits the feed to one device.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Warn("Failed to upgrade connection",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		return
	}

	c := &client{
		id:     uuid.New(),
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		device: r.URL.Query().Get("device"),
	}
	if err := s.hub.add(c); err != nil {
		code := websocket.CloseTryAgainLater
		if errors.Is(err, errHubClosed) {
			code = websocket.CloseGoingAway
		}
		logging.Warn("Rejecting feed client",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err))
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, err.Error()),
			time.Now().Add(writeWait))
		_ = conn.Close()
		return
	}

	logging.Info("Feed client connected",
		zap.Stringer("client_id", c.id),
		zap.String("remote_addr", r.RemoteAddr),
		zap.String("device", c.device))

	go func() {
		defer s.hub.wg.Done()
		s.writePump(c)
	}()
	go func() {
		defer s.hub.wg.Done()
		s.readPump(c)
	}()
}

// readPump only services control frames; clients have nothing to say.
func (s *Server) readPump(c *client) {
	defer func() {
		s.hub.remove(c)
		logging.Info("Feed client disconnected", zap.Stringer("client_id", c.id))
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logging.Debug("Feed client read error",
					zap.Stringer("client_id", c.id),
					zap.Error(err))
			}
			return
		}
	}
}

func (s *Server) writePump(c *client) {
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
