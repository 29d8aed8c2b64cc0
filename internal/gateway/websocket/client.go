package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"sleuth/pkg/logger"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period.
	pingPeriod = 30 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

// Client is one WebSocket connection. Turns it starts are cancelled when
// the connection closes.
type Client struct {
	hub         *Hub
	conn        *websocket.Conn
	send        chan []byte
	sessions    map[string]bool
	id          string
	connectedAt time.Time
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewClient creates a new client.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		hub:         hub,
		conn:        conn,
		send:        make(chan []byte, 256),
		sessions:    make(map[string]bool),
		id:          uuid.New().String(),
		connectedAt: time.Now(),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// readPump pumps messages from the WebSocket connection to the hub.
func (c *Client) readPump() {
	log := logger.Component("ws")
	defer func() {
		c.cancel()
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("client_id", c.id).Msg("WebSocket read error")
			}
			break
		}

		c.handleMessage(message)
	}
}

// handleMessage processes one client frame.
func (c *Client) handleMessage(message []byte) {
	log := logger.Component("ws")

	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		log.Debug().Err(err).Str("client_id", c.id).Msg("Failed to parse WebSocket message")
		c.sendError(ErrInvalidMessage, "failed to parse message")
		return
	}

	switch {
	case msg.Type == TypePing:
		c.deliver(encode(PongMessage{Type: TypePong}), false)

	case msg.Init:
		sessionID := strings.TrimSpace(msg.UUID)
		if sessionID == "" {
			sessionID = uuid.NewString()
		}
		c.hub.Subscribe(c, sessionID)
		c.deliver(encode(ConnectedMessage{Status: "connected", SessionID: sessionID}), true)
		log.Debug().Str("client_id", c.id).Str("session_id", sessionID).Msg("session initialized")

	case strings.TrimSpace(msg.Message) != "":
		sessionID := strings.TrimSpace(msg.UUID)
		if sessionID == "" {
			c.sendError(ErrInvalidRequest, "uuid is required")
			return
		}
		c.hub.Subscribe(c, sessionID)
		c.hub.startTurn(c.ctx, sessionID, msg.Message)

	default:
		c.sendError(ErrInvalidRequest, "expected init or message")
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (c *Client) writePump() {
	log := logger.Component("ws")
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().Err(err).Str("client_id", c.id).Msg("WebSocket write error")
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// deliver queues data for this client only. The hub lock guards against a
// concurrent unregister closing send. A full buffer drops data unless wait
// is set; then it waits up to the hub's finalWait.
func (c *Client) deliver(data []byte, wait bool) {
	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- data:
		return
	default:
	}
	if !wait {
		return
	}
	timer := time.NewTimer(c.hub.finalWait)
	defer timer.Stop()
	select {
	case c.send <- data:
	case <-timer.C:
	}
}

func (c *Client) sendError(code, message string) {
	c.deliver(encode(ErrorMessage{Error: code, Message: message}), true)
}

// Upgrader builds the handler for GET /ws. An empty origins list, or one
// containing "*", accepts any origin.
func Upgrader(hub *Hub, origins []string) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     originChecker(origins),
	}
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log := logger.Component("ws")
			log.Error().Err(err).Msg("Failed to upgrade WebSocket connection")
			return
		}

		client := NewClient(hub, conn)
		hub.Register(client)

		go client.writePump()
		go client.readPump()
	}
}

func originChecker(origins []string) func(*http.Request) bool {
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			return func(*http.Request) bool { return true }
		}
		allowed[o] = true
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return len(allowed) == 0 || origin == "" || allowed[origin]
	}
}
