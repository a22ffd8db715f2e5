// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package worker

import (
	"context"
	"strings"
	"time"

	"github.com/chatrelay-io/chatrelay/internal/bus"
	"github.com/chatrelay-io/chatrelay/internal/cache"
	"github.com/chatrelay-io/chatrelay/internal/config"
	"github.com/chatrelay-io/chatrelay/internal/events"
	"github.com/chatrelay-io/chatrelay/internal/gateway"
	"github.com/chatrelay-io/chatrelay/internal/logging"
)

// Gateway is the hub surface the workers emit on.
type Gateway interface {
	EmitToRoom(roomID, event string, data interface{})
	EmitToUser(userID, event string, data interface{})
	Broadcast(event string, data interface{})
	IsUserOnline(userID string) bool
	Ready() bool
}

// AnalyticsPublisher is the producer surface for best-effort telemetry.
type AnalyticsPublisher interface {
	PublishAnalytics(e *events.AnalyticsEvent) error
}

// RealtimeWorker delivers chat and presence events to connected sockets.
type RealtimeWorker struct {
	gw       Gateway
	cache    *cache.Client
	producer AnalyticsPublisher
	cfg      config.WorkersConfig
}

// NewRealtimeWorker wires the realtime delivery worker.
func NewRealtimeWorker(gw Gateway, c *cache.Client, producer AnalyticsPublisher, cfg config.WorkersConfig) *RealtimeWorker {
	return &RealtimeWorker{gw: gw, cache: c, producer: producer, cfg: cfg}
}

// chatListEntry is the per-participant conversation summary pushed after
// each message.
type chatListEntry struct {
	RoomID      string    `json:"room_id"`
	LastMessage string    `json:"last_message"`
	LastSender  string    `json:"last_sender"`
	Timestamp   time.Time `json:"timestamp"`
}

// Handle processes one bus message. Delivery is fire-and-forget; only a
// malformed payload changes the verdict.
func (w *RealtimeWorker) Handle(ctx context.Context, msg *bus.Message) bus.Verdict {
	if !w.waitReady(ctx) {
		// The gateway never came up within the poll budget. Socket
		// delivery is transient by nature; dropping beats crashing the
		// consume loop during startup.
		logging.Warn().
			Str("topic", msg.Topic).
			Int64("offset", msg.Offset).
			Msg("gateway not ready, dropping realtime event")
		return bus.Ack
	}

	switch msg.Topic {
	case bus.TopicChatMessages:
		m, err := events.DecodeChatMessage(msg.Value)
		if err != nil {
			logging.Warn().Err(err).Msg("malformed chat message")
			return bus.DeadLetter
		}
		w.deliverChatMessage(m)
	case bus.TopicUserEvents:
		e, err := events.DecodeUserEvent(msg.Value)
		if err != nil {
			logging.Warn().Err(err).Msg("malformed user event")
			return bus.DeadLetter
		}
		w.deliverUserEvent(ctx, e)
	default:
		logging.Warn().Str("topic", msg.Topic).Msg("unexpected topic for realtime worker")
	}
	return bus.Ack
}

// waitReady polls the gateway through the startup race: consumers can
// rejoin their group before the hub loop is accepting registrations.
func (w *RealtimeWorker) waitReady(ctx context.Context) bool {
	if w.gw.Ready() {
		return true
	}
	for i := 0; i < w.cfg.GatewayReadyRetries; i++ {
		select {
		case <-ctx.Done():
			return false
		case <-time.After(w.cfg.GatewayReadyDelay):
		}
		if w.gw.Ready() {
			return true
		}
	}
	return false
}

func (w *RealtimeWorker) deliverChatMessage(m *events.ChatMessage) {
	w.gw.EmitToRoom(m.RoomID, gateway.EventNewMessage, m)

	entry := chatListEntry{
		RoomID:      m.RoomID,
		LastMessage: m.Content,
		LastSender:  m.UserID,
		Timestamp:   m.Timestamp,
	}
	for _, participant := range roomParticipants(m.RoomID, m.UserID) {
		w.gw.EmitToUser(participant, gateway.EventChatListUpdate, entry)
	}
}

func (w *RealtimeWorker) deliverUserEvent(ctx context.Context, e *events.UserEvent) {
	switch e.EventType {
	case events.UserEventOnline, events.UserEventOffline:
		w.applyPresence(ctx, e)
	case events.UserEventTyping:
		if err := w.cache.MarkTyping(ctx, e.RoomID, e.UserID); err != nil {
			logging.Warn().Err(err).Msg("failed to set typing marker")
		}
		w.emitToCounterpart(e, gateway.EventTypingIndicator)
	case events.UserEventJoinRoom:
		w.emitToCounterpart(e, gateway.EventUserJoinedRoom)
	case events.UserEventLeaveRoom:
		w.emitToCounterpart(e, gateway.EventUserLeftRoom)
	}
}

// emitToCounterpart delivers a room-scoped user event to the other member
// of a direct room, never back to the actor's own sockets. Events for
// rooms without a counterpart are dropped.
func (w *RealtimeWorker) emitToCounterpart(e *events.UserEvent, event string) {
	other := counterpart(e.RoomID, e.UserID)
	if other == "" {
		return
	}
	w.gw.EmitToUser(other, event, e)
}

// applyPresence mirrors the transition into the cache, broadcasts it,
// and records best-effort analytics.
func (w *RealtimeWorker) applyPresence(ctx context.Context, e *events.UserEvent) {
	var err error
	if e.EventType == events.UserEventOnline {
		err = w.cache.SetUserOnline(ctx, e.UserID)
	} else {
		err = w.cache.SetUserOffline(ctx, e.UserID)
	}
	if err != nil {
		logging.Warn().Err(err).Str("user_id", e.UserID).Msg("failed to update presence set")
	}

	w.gw.Broadcast(gateway.EventUserStatusChanged, e)

	if w.producer != nil {
		a := events.NewAnalyticsEvent(e.UserID, "presence_"+e.EventType, nil)
		if err := w.producer.PublishAnalytics(a); err != nil {
			logging.Debug().Err(err).Msg("presence analytics publish failed")
		}
	}
}

// roomParticipants derives the members of a direct room from its ID.
// Direct rooms are named "<userA>:<userB>" with the IDs sorted. IDs that
// do not follow the convention fall back to the sender alone.
func roomParticipants(roomID, senderID string) []string {
	parts := strings.Split(roomID, ":")
	if len(parts) == 2 && parts[0] != "" && parts[1] != "" {
		return parts
	}
	return []string{senderID}
}
