// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package gateway

import (
	"sync/atomic"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"github.com/chatrelay-io/chatrelay/internal/logging"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024 // 64 KB; client frames are small action payloads
)

// clientIDCounter generates unique, monotonically increasing client IDs
// so fan-out can iterate clients in a stable order.
var clientIDCounter atomic.Uint64

// Client is a middleman between one WebSocket connection and the hub.
type Client struct {
	id     uint64
	userID string
	hub    *Hub
	conn   *websocket.Conn
	send   chan Message

	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
}

// NewClient creates a client for an upgraded connection bound to userID.
func NewClient(hub *Hub, conn *websocket.Conn, userID string) *Client {
	return &Client{
		id:         clientIDCounter.Add(1),
		userID:     userID,
		hub:        hub,
		conn:       conn,
		send:       make(chan Message, 256),
		writeWait:  writeWait,
		pongWait:   pongWait,
		pingPeriod: pingPeriod,
	}
}

// configureTiming overrides the default intervals from configuration.
// The pong deadline tolerates one missed ping before the read fails.
func (c *Client) configureTiming(pingInterval, writeTimeout time.Duration) {
	if writeTimeout > 0 {
		c.writeWait = writeTimeout
	}
	if pingInterval > 0 {
		c.pingPeriod = pingInterval
		c.pongWait = 2 * pingInterval
	}
}

// ID returns the client's unique identifier.
func (c *Client) ID() uint64 {
	return c.id
}

// UserID returns the user this socket belongs to.
func (c *Client) UserID() string {
	return c.userID
}

// inboundMessage is a client-to-server frame. Data carries the action
// payload and is decoded per action.
type inboundMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type actionPayload struct {
	RoomID string `json:"room_id"`
}

// readPump pumps frames from the connection to the hub.
func (c *Client) readPump() {
	defer func() {
		c.hub.Unregister <- c
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(c.pongWait)); err != nil {
		logging.Error().Err(err).Msg("failed to set read deadline")
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		var msg inboundMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logging.Error().Err(err).Str("user_id", c.userID).Msg("unexpected websocket close")
			}
			break
		}

		switch msg.Event {
		case EventPing:
			select {
			case c.send <- Message{Event: EventPong}:
			default:
			}
		case ActionJoinRoom, ActionLeaveRoom, ActionTyping:
			var p actionPayload
			if err := json.Unmarshal(msg.Data, &p); err != nil || p.RoomID == "" {
				logging.Debug().
					Str("action", msg.Event).
					Str("user_id", c.userID).
					Msg("client action missing room_id, ignoring")
				continue
			}
			c.hub.handleAction(c, msg.Event, p.RoomID)
		default:
			logging.Debug().Str("event", msg.Event).Msg("ignoring unknown client frame")
		}
	}
}

// writePump pumps hub messages to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline")
				return
			}
			if !ok {
				// Hub closed the channel.
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					logging.Error().Err(err).Msg("failed to write close message")
				}
				return
			}
			if err := c.conn.WriteJSON(message); err != nil {
				logging.Error().Err(err).Msg("failed to write frame")
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
				logging.Error().Err(err).Msg("failed to set write deadline for ping")
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start begins reading and writing for the client.
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
