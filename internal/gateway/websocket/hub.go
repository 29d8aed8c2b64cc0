package websocket

import (
	"context"
	"errors"
	"sync"
	"time"

	"sleuth/internal/session"
	"sleuth/internal/workflow"
	"sleuth/pkg/logger"
)

// Runner executes conversation turns.
type Runner interface {
	Run(ctx context.Context, req session.Request, sink workflow.Sink) (session.State, error)
}

// Hub maintains the set of active clients and fans turn events out to the
// clients subscribed to a session.
type Hub struct {
	// Registered clients.
	clients map[*Client]bool

	// Session to clients mapping for targeted broadcasts.
	sessions map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *BroadcastMessage
	done       chan struct{}
	stopOnce   sync.Once

	mu sync.RWMutex

	runner Runner
	turns  sync.WaitGroup

	// finalWait bounds how long a final frame waits for a full client
	// buffer before the client is disconnected.
	finalWait time.Duration
}

// NewHub creates a new Hub running turns on runner.
func NewHub(runner Runner) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		sessions:   make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *BroadcastMessage, 256),
		done:       make(chan struct{}),
		runner:     runner,
		finalWait:  writeWait,
	}
}

// Run starts the hub's main loop. It returns after Stop.
func (h *Hub) Run() {
	log := logger.Component("ws")
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.sessions = make(map[string]map[*Client]bool)
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			log.Info().Str("client_id", client.id).Msg("WebSocket client connected")

		case client := <-h.unregister:
			h.remove(client)
			log.Info().Str("client_id", client.id).Msg("WebSocket client disconnected")

		case msg := <-h.broadcast:
			for _, client := range h.fanOut(msg) {
				log.Warn().Str("client_id", client.id).Msg("client too slow for final frame, disconnecting")
				h.remove(client)
			}
		}
	}
}

// fanOut delivers msg to the session's subscribers. Frames are dropped for
// a full buffer unless final; it returns the clients that could not take a
// final frame within finalWait.
func (h *Hub) fanOut(msg *BroadcastMessage) []*Client {
	log := logger.Component("ws")
	h.mu.RLock()
	defer h.mu.RUnlock()

	var stuck []*Client
	for client := range h.sessions[msg.Session] {
		select {
		case client.send <- msg.Data:
			continue
		default:
		}
		if !msg.Final {
			log.Warn().Str("client_id", client.id).Msg("client buffer full, dropping message")
			continue
		}
		timer := time.NewTimer(h.finalWait)
		select {
		case client.send <- msg.Data:
		case <-timer.C:
			stuck = append(stuck, client)
		}
		timer.Stop()
	}
	return stuck
}

// remove drops a client and its subscriptions and closes its send channel.
func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)

	for session := range client.sessions {
		if clients, ok := h.sessions[session]; ok {
			delete(clients, client)
			if len(clients) == 0 {
				delete(h.sessions, session)
			}
		}
	}
}

// Stop ends Run, closes every client and waits for running turns to return.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
	h.turns.Wait()
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// Subscribe adds a client to a session's subscriber list.
func (h *Hub) Subscribe(client *Client, session string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	client.sessions[session] = true
	if h.sessions[session] == nil {
		h.sessions[session] = make(map[*Client]bool)
	}
	h.sessions[session][client] = true
}

// Unsubscribe removes a client from a session's subscriber list.
func (h *Hub) Unsubscribe(client *Client, session string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(client.sessions, session)
	if clients, ok := h.sessions[session]; ok {
		delete(clients, client)
		if len(clients) == 0 {
			delete(h.sessions, session)
		}
	}
}

// Broadcast sends data to all clients subscribed to session.
func (h *Hub) Broadcast(session string, data []byte) {
	select {
	case h.broadcast <- &BroadcastMessage{Session: session, Data: data}:
	case <-h.done:
	}
}

// broadcastFinal sends the frame that ends a turn.
func (h *Hub) broadcastFinal(session string, data []byte) {
	select {
	case h.broadcast <- &BroadcastMessage{Session: session, Data: data, Final: true}:
	case <-h.done:
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// startTurn runs one turn in the background, streaming its events to the
// session's subscribers.
func (h *Hub) startTurn(ctx context.Context, sessionID, query string) {
	h.turns.Add(1)
	go func() {
		defer h.turns.Done()
		h.runTurn(ctx, sessionID, query)
	}()
}

func (h *Hub) runTurn(ctx context.Context, sessionID, query string) {
	log := logger.Component("ws")

	var failed bool
	sink := workflow.FuncSink{
		OnTools: func(b workflow.ToolBatch) {
			h.Broadcast(sessionID, encode(ToolCallMessage{OnToolCall: b}))
		},
		OnToken: func(tok string) {
			h.Broadcast(sessionID, encode(StreamMessage{OnChatModelStream: tok}))
		},
		OnCompleted: func(c workflow.Completion) {
			if c.Status == session.StatusFailed {
				failed = true
				return
			}
			h.broadcastFinal(sessionID, encode(endMessage(c)))
		},
	}

	state, err := h.runner.Run(ctx, session.Request{Query: query, SessionID: sessionID}, sink)
	switch {
	case errors.Is(err, workflow.ErrBusy):
		h.broadcastFinal(sessionID, encode(ErrorMessage{Error: ErrSessionBusy, Message: err.Error()}))
	case err != nil:
		log.Error().Err(err).Str("session_id", sessionID).Msg("turn did not run")
		h.broadcastFinal(sessionID, encode(ErrorMessage{Error: ErrChat, Message: err.Error()}))
	case failed:
		h.broadcastFinal(sessionID, encode(ErrorMessage{Error: ErrValidationFailed, Message: state.Answer()}))
	}
}
