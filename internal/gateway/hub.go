// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package gateway

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/chatrelay-io/chatrelay/internal/logging"
	"github.com/chatrelay-io/chatrelay/internal/metrics"
)

// ShutdownReason identifies why the hub is shutting down.
type ShutdownReason string

const (
	// ShutdownReasonContextCanceled is the normal graceful shutdown path
	// (e.g. SIGTERM).
	ShutdownReasonContextCanceled ShutdownReason = "context_canceled"

	// ShutdownReasonContextDeadline indicates the context deadline was
	// exceeded, which may mean a hung operation during shutdown.
	ShutdownReasonContextDeadline ShutdownReason = "context_deadline"
)

// Server-to-client event names.
const (
	EventNewMessage        = "new_message"
	EventChatListUpdate    = "chat_list_update"
	EventUserStatusChanged = "user_status_changed"
	EventTypingIndicator   = "typing_indicator"
	EventUserJoinedRoom    = "user_joined_room"
	EventUserLeftRoom      = "user_left_room"
	EventNotification      = "notification"
	EventBadgeUpdated      = "badge_updated"
	EventPing              = "ping"
	EventPong              = "pong"
)

// Client-to-server action names.
const (
	ActionJoinRoom  = "join_room"
	ActionLeaveRoom = "leave_room"
	ActionTyping    = "typing"
)

// Message is a server-to-client WebSocket frame.
type Message struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// emit scopes
const (
	scopeBroadcast = "broadcast"
	scopeRoom      = "room"
	scopeUser      = "user"
)

// outbound is an emit queued for the hub loop.
type outbound struct {
	scope  string
	target string
	msg    Message
}

// InboundHandler receives client actions (typing, join_room, leave_room)
// after the hub has applied local room state. The caller typically
// publishes these onto the event bus as user events.
type InboundHandler func(userID string, action string, roomID string)

// Hub maintains the set of active clients and routes emits to them.
type Hub struct {
	clients map[*Client]bool
	users   map[string]map[*Client]bool
	rooms   map[string]map[*Client]bool

	outbound   chan outbound
	Register   chan *Client
	Unregister chan *Client

	mu      sync.RWMutex
	ready   atomic.Bool
	inbound atomic.Pointer[InboundHandler]
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		users:      make(map[string]map[*Client]bool),
		rooms:      make(map[string]map[*Client]bool),
		outbound:   make(chan outbound, 256),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
	}
}

// SetInboundHandler installs the handler for client actions. Safe to call
// before or after the hub starts.
func (h *Hub) SetInboundHandler(fn InboundHandler) {
	h.inbound.Store(&fn)
}

// Ready reports whether the hub loop is accepting registrations. Consumers
// that emit to the hub poll this at startup.
func (h *Hub) Ready() bool {
	return h.ready.Load()
}

// RunWithContext starts the hub loop with context support for graceful
// shutdown. Designed for suture supervision: on context cancellation all
// clients are closed and ctx.Err() is returned.
//
// Selection is priority based. When multiple channels are ready Go's
// select picks randomly, so shutdown and lifecycle events are checked
// non-blocking first to keep client state consistent before emits.
func (h *Hub) RunWithContext(ctx context.Context) error {
	h.ready.Store(true)
	defer h.ready.Store(false)

	for {
		// Priority 1: shutdown.
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		default:
		}

		// Priority 2: client lifecycle.
		select {
		case client := <-h.Register:
			h.addClient(client)
			continue
		case client := <-h.Unregister:
			h.removeClient(client)
			continue
		default:
		}

		// Priority 3: emits, or block until any event.
		select {
		case <-ctx.Done():
			h.logGracefulShutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.addClient(client)
		case client := <-h.Unregister:
			h.removeClient(client)
		case o := <-h.outbound:
			h.deliver(o)
		}
	}
}

func (h *Hub) addClient(client *Client) {
	h.mu.Lock()
	h.clients[client] = true
	if _, ok := h.users[client.userID]; !ok {
		h.users[client.userID] = make(map[*Client]bool)
	}
	h.users[client.userID][client] = true
	total := len(h.clients)
	h.mu.Unlock()

	metrics.GatewayClients.Set(float64(total))
	logging.Info().
		Str("user_id", client.userID).
		Int("total_clients", total).
		Msg("gateway client connected")
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	if _, ok := h.clients[client]; !ok {
		h.mu.Unlock()
		return
	}
	h.dropLocked(client)
	total := len(h.clients)
	h.mu.Unlock()

	metrics.GatewayClients.Set(float64(total))
	logging.Info().
		Str("user_id", client.userID).
		Int("total_clients", total).
		Msg("gateway client disconnected")
}

// dropLocked removes a client from all indexes and closes its send
// channel; the write lock must be held.
func (h *Hub) dropLocked(client *Client) {
	delete(h.clients, client)
	if set, ok := h.users[client.userID]; ok {
		delete(set, client)
		if len(set) == 0 {
			delete(h.users, client.userID)
		}
	}
	for roomID, members := range h.rooms {
		if members[client] {
			delete(members, client)
			if len(members) == 0 {
				delete(h.rooms, roomID)
			}
		}
	}
	close(client.send)
}

// JoinRoom adds the client to a room's member set.
func (h *Hub) JoinRoom(client *Client, roomID string) {
	h.mu.Lock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[*Client]bool)
	}
	h.rooms[roomID][client] = true
	h.mu.Unlock()
}

// LeaveRoom removes the client from a room's member set.
func (h *Hub) LeaveRoom(client *Client, roomID string) {
	h.mu.Lock()
	if members, ok := h.rooms[roomID]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
}

// handleAction processes a client-to-server action from a readPump.
func (h *Hub) handleAction(client *Client, action, roomID string) {
	switch action {
	case ActionJoinRoom:
		h.JoinRoom(client, roomID)
	case ActionLeaveRoom:
		h.LeaveRoom(client, roomID)
	case ActionTyping:
		// Forwarded only; the typing fan-out arrives back through the bus.
	default:
		logging.Debug().
			Str("action", action).
			Str("user_id", client.userID).
			Msg("ignoring unknown client action")
		return
	}

	if fn := h.inbound.Load(); fn != nil {
		(*fn)(client.userID, action, roomID)
	}
}

// Broadcast queues an emit to every connected client.
func (h *Hub) Broadcast(event string, data interface{}) {
	h.queue(outbound{scope: scopeBroadcast, msg: Message{Event: event, Data: data}})
}

// EmitToRoom queues an emit to every member of roomID.
func (h *Hub) EmitToRoom(roomID, event string, data interface{}) {
	h.queue(outbound{scope: scopeRoom, target: roomID, msg: Message{Event: event, Data: data}})
}

// EmitToUser queues an emit to every socket userID holds.
func (h *Hub) EmitToUser(userID, event string, data interface{}) {
	h.queue(outbound{scope: scopeUser, target: userID, msg: Message{Event: event, Data: data}})
}

func (h *Hub) queue(o outbound) {
	select {
	case h.outbound <- o:
		metrics.GatewayEmits.WithLabelValues(o.msg.Event).Inc()
	default:
		logging.Warn().
			Str("event", o.msg.Event).
			Str("scope", o.scope).
			Msg("gateway emit queue full, dropping message")
	}
}

// deliver sends a queued emit to its recipients in a deterministic order.
// Clients are sorted by ID so delivery order is reproducible; a client
// whose buffer is full is dropped.
func (h *Hub) deliver(o outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var recipients map[*Client]bool
	switch o.scope {
	case scopeRoom:
		recipients = h.rooms[o.target]
	case scopeUser:
		recipients = h.users[o.target]
	default:
		recipients = h.clients
	}
	if len(recipients) == 0 {
		return
	}

	clients := make([]*Client, 0, len(recipients))
	for client := range recipients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- o.msg:
		default:
			toRemove = append(toRemove, client)
		}
	}
	for _, client := range toRemove {
		h.dropLocked(client)
	}
}

// IsUserOnline reports whether the user holds at least one open socket.
func (h *Hub) IsUserOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID]) > 0
}

// GetClientCount returns the number of connected clients.
func (h *Hub) GetClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// UserSocketCount returns how many sockets userID currently holds.
func (h *Hub) UserSocketCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

// RoomMemberCount returns the number of clients joined to roomID.
func (h *Hub) RoomMemberCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) logGracefulShutdown(ctx context.Context) {
	clientCount := h.GetClientCount()
	h.closeAllClients()

	logging.Info().
		Str("component", "gateway-hub").
		Str("reason", string(getShutdownReason(ctx))).
		Int("clients_closed", clientCount).
		Msg("gateway hub stopped")
}

func getShutdownReason(ctx context.Context) ShutdownReason {
	switch ctx.Err() {
	case context.DeadlineExceeded:
		return ShutdownReasonContextDeadline
	default:
		return ShutdownReasonContextCanceled
	}
}

// closeAllClients closes every connected client in ID order.
func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	sort.Slice(clients, func(i, j int) bool {
		return clients[i].id < clients[j].id
	})

	for _, client := range clients {
		h.dropLocked(client)
	}
	metrics.GatewayClients.Set(0)
}
