// Package server coordinates client registration, inbound event dispatch and
// connection cleanup for the AnonyChat websocket system via the Hub type.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tyrowin/anonychat/internal/chat"
)

// Hub is the single event loop of the chat. Registration, unregistration,
// inbound client events and the idle-room sweep are handled one at a time on
// the Run goroutine, so every SessionManager and Store mutation happens there.
// The hub is also the chat.Delivery of its SessionManager.
type Hub struct {
	clients    map[string]*Client
	register   chan *Client
	unregister chan *Client
	inbound    chan inboundFrame
	drain      chan chan struct{}
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
	running    atomic.Bool

	sessions *chat.SessionManager
	store    *chat.Store
	logger   *slog.Logger

	sweepInterval time.Duration
	idleTTL       time.Duration

	// draining is set once Drain is acknowledged; inbound frames are then
	// discarded. Only the Run goroutine touches it.
	draining bool

	// dropped collects clients whose send buffer overflowed during the
	// current event. Only the Run goroutine touches it.
	dropped []*Client
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithIdleSweep removes memberless rooms idle for longer than ttl, checking
// every interval. A zero ttl disables the sweep.
func WithIdleSweep(interval, ttl time.Duration) HubOption {
	return func(h *Hub) {
		h.sweepInterval = interval
		h.idleTTL = ttl
	}
}

// NewHub creates a hub and the SessionManager it drives on top of store.
func NewHub(store *chat.Store, sessionCfg chat.SessionConfig, logger *slog.Logger, opts ...HubOption) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		clients:       make(map[string]*Client),
		register:      make(chan *Client),
		unregister:    make(chan *Client),
		inbound:       make(chan inboundFrame, 256),
		drain:         make(chan chan struct{}),
		ctx:           ctx,
		cancel:        cancel,
		done:          make(chan struct{}),
		store:         store,
		logger:        logger,
		sweepInterval: time.Minute,
	}
	for _, opt := range opts {
		opt(h)
	}
	h.sessions = chat.NewSessionManager(store, h, sessionCfg, logger)
	return h
}

// Sessions returns the session manager driven by this hub.
func (h *Hub) Sessions() *chat.SessionManager {
	return h.sessions
}

// Store returns the room store.
func (h *Hub) Store() *chat.Store {
	return h.store
}

// ClientCount returns the number of registered clients.
func (h *Hub) ClientCount() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Register hands a new client to the hub. It reports false when the hub is
// shutting down.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.ctx.Done():
		return false
	}
}

func (h *Hub) unregisterClient(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

func (h *Hub) safeSend(client *Client, message []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			h.logger.Error("recovered from panic in safeSend", "panic", r)
		}
	}()

	// Hold the lock during the entire send operation to prevent race conditions
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	// Check if client is still registered and not closed
	if current, exists := h.clients[client.id]; !exists || current != client || client.closed {
		return false
	}

	select {
	case client.send <- message:
		return true
	default:
		return false
	}
}

// Deliver implements chat.Delivery. The event is encoded once and queued on
// each connection's send buffer. Connections whose buffer is full are
// disconnected once the current event has been handled. Deliver must only be
// called from the Run goroutine.
func (h *Hub) Deliver(ev chat.Event, connectionIDs ...string) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.Error("failed to encode event", "event", ev.Type, "error", err)
		return
	}

	for _, id := range connectionIDs {
		h.mutex.RLock()
		client, ok := h.clients[id]
		h.mutex.RUnlock()
		if !ok {
			continue
		}
		if !h.safeSend(client, payload) {
			h.dropped = append(h.dropped, client)
		}
	}
}

// Run starts the hub's main event loop. This method should be called in a
// separate goroutine; it returns after Shutdown.
func (h *Hub) Run() {
	h.running.Store(true)
	defer close(h.done)

	var sweep <-chan time.Time
	if h.idleTTL > 0 && h.sweepInterval > 0 {
		ticker := time.NewTicker(h.sweepInterval)
		defer ticker.Stop()
		sweep = ticker.C
	}

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				h.logger.Warn("received nil client registration; skipping")
				continue
			}
			h.addClient(client)

		case client := <-h.unregister:
			h.removeClient(client, "disconnected")
			h.removeDroppedClients()

		case ack := <-h.drain:
			h.draining = true
			close(ack)
			h.logger.Info("hub draining; client events are no longer handled")

		case frame := <-h.inbound:
			if h.draining {
				continue
			}
			h.handleFrame(frame)
			h.removeDroppedClients()

		case now := <-sweep:
			if removed := h.store.Sweep(now, h.idleTTL); len(removed) > 0 {
				h.logger.Info("swept idle rooms", "count", len(removed))
			}
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mutex.Lock()
	client.closed = false
	h.clients[client.id] = client
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.sessions.Connect(client.id)
	h.logger.Info("client registered", "conn", client.id, "addr", client.addr, "clients", clientCount)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
}

// removeClient detaches the client and runs the session's implicit leave.
func (h *Hub) removeClient(client *Client, reason string) {
	h.mutex.Lock()
	current, ok := h.clients[client.id]
	if !ok || current != client {
		h.mutex.Unlock()
		return
	}
	delete(h.clients, client.id)
	client.closed = true
	clientCount := len(h.clients)
	h.mutex.Unlock()

	// Close the channel after releasing the lock
	close(client.send)
	h.sessions.Disconnect(client.id)
	h.logger.Info("client unregistered", "conn", client.id, "addr", client.addr, "reason", reason, "clients", clientCount)
}

// removeDroppedClients disconnects every client whose buffer overflowed.
// Disconnecting may deliver further events and overflow further clients.
func (h *Hub) removeDroppedClients() {
	for len(h.dropped) > 0 {
		batch := h.dropped
		h.dropped = nil
		for _, client := range batch {
			h.removeClient(client, "send buffer full")
		}
	}
}

func (h *Hub) handleFrame(frame inboundFrame) {
	client := frame.client

	h.mutex.RLock()
	current, ok := h.clients[client.id]
	h.mutex.RUnlock()
	if !ok || current != client {
		return
	}

	var env Envelope
	if err := json.Unmarshal(frame.payload, &env); err != nil {
		h.reject(client, EventSendError, "malformed frame")
		return
	}

	switch env.Event {
	case EventJoin:
		var req chat.JoinRequest
		if err := decodeData(env.Data, &req); err != nil {
			h.reject(client, EventJoinError, "invalid join payload")
			return
		}
		if _, err := h.sessions.Join(client.id, req); err != nil {
			if errors.Is(err, chat.ErrRoomFull) {
				h.reject(client, EventRoomFull, err.Error())
				return
			}
			h.reject(client, EventJoinError, err.Error())
		}

	case EventSendText:
		var body string
		if err := decodeData(env.Data, &body); err != nil {
			h.reject(client, EventSendError, "invalid text payload")
			return
		}
		_, err := h.sessions.SendText(client.id, body)
		h.reportSendError(client, err)

	case EventSendFile:
		var ref chat.FileRef
		if err := decodeData(env.Data, &ref); err != nil {
			h.reject(client, EventSendError, "invalid file payload")
			return
		}
		_, err := h.sessions.SendFile(client.id, ref)
		h.reportSendError(client, err)

	case EventTyping:
		if err := h.sessions.Typing(client.id); err != nil {
			h.logger.Debug("typing ignored", "conn", client.id, "error", err)
		}

	case EventLeave:
		if err := h.sessions.Leave(client.id); err != nil {
			h.reject(client, EventSendError, err.Error())
		}

	default:
		h.reject(client, EventSendError, "unknown event")
	}
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errors.New("missing data")
	}
	return json.Unmarshal(raw, v)
}

func (h *Hub) reportSendError(client *Client, err error) {
	if err == nil {
		return
	}
	if errors.Is(err, chat.ErrRateLimited) {
		h.logger.Debug("rate limit exceeded; discarding message", "conn", client.id)
		h.reject(client, EventRateLimited, err.Error())
		return
	}
	h.reject(client, EventSendError, err.Error())
}

// reject sends an error event to the originating connection only.
func (h *Hub) reject(client *Client, event, message string) {
	h.Deliver(chat.Event{Type: chat.EventType(event), Data: ErrorPayload{Error: message}}, client.id)
}

// shutdownClients gracefully closes all active client connections
func (h *Hub) shutdownClients() {
	h.logger.Info("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
		client.closed = true
	}
	h.clients = make(map[string]*Client)
	h.mutex.Unlock()

	for _, client := range clients {
		close(client.send)
		h.sessions.Disconnect(client.id)
		if client.conn != nil {
			if err := client.conn.Close(); err != nil && !isExpectedCloseError(err) {
				h.logger.Warn("error closing client connection", "addr", client.addr, "error", err)
			}
		}
	}
	h.dropped = nil

	h.logger.Info("closed client connections", "count", len(clients))
}

// Drain stops the hub from handling client events while keeping connections
// open, so a final snapshot flush sees every message that was accepted. It
// returns once the event loop has stopped handling events.
func (h *Hub) Drain(ctx context.Context) error {
	ack := make(chan struct{})
	select {
	case h.drain <- ack:
	case <-h.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ack:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines to complete.
// It returns after all client connections are closed and goroutines have finished,
// or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.logger.Info("initiating hub shutdown")

	// Signal shutdown
	h.cancel()

	// Wait for Run() to complete
	if h.running.Load() {
		<-h.done
	}

	// Wait for all client goroutines to finish with timeout
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		h.logger.Info("hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		h.logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
