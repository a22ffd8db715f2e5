// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/chatrelay-io/chatrelay/internal/config"
	"github.com/chatrelay-io/chatrelay/internal/logging"
)

// upgrader configuration; HandshakeTimeout protects against slow clients
// holding the upgrade open.
func newUpgrader(cfg config.GatewayConfig) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   cfg.ReadBufferSize,
		WriteBufferSize:  cfg.WriteBufferSize,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      originChecker(cfg.AllowedOrigins),
	}
}

func originChecker(allowed []string) func(*http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		// Non-browser clients (mobile apps, health probes) omit Origin.
		if origin == "" {
			return true
		}
		for _, a := range allowed {
			if a == "*" || a == origin {
				return true
			}
		}
		logging.Warn().Str("origin", origin).Msg("websocket connection rejected from unauthorized origin")
		return false
	}
}

// Handler upgrades HTTP requests to WebSocket clients on the hub.
type Handler struct {
	hub      *Hub
	upgrader websocket.Upgrader
	cfg      config.GatewayConfig
}

// NewHandler creates the /ws handler for the given hub.
func NewHandler(hub *Hub, cfg config.GatewayConfig) *Handler {
	return &Handler{
		hub:      hub,
		upgrader: newUpgrader(cfg),
		cfg:      cfg,
	}
}

// ServeHTTP upgrades the connection and registers the client. The user is
// identified by the user_id query parameter; requests without one are
// rejected before the upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.hub.Ready() {
		logging.Warn().Msg("websocket connection rejected: hub not running")
		http.Error(w, "gateway unavailable", http.StatusServiceUnavailable)
		return
	}

	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		http.Error(w, "user_id required", http.StatusBadRequest)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Error().Err(err).Msg("websocket upgrade error")
		return
	}

	client := NewClient(h.hub, conn, userID)
	client.configureTiming(h.cfg.PingInterval, h.cfg.WriteTimeout)
	h.hub.Register <- client
	client.Start()
}
