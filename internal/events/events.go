// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

// Package events defines the canonical wire schema for every topic on the
// event bus. Payloads travel inside a versioned, type-tagged Envelope and
// are validated on decode; a payload that fails to decode or validate is
// dead-lettered by the consumer rather than trusted at each call site.
package events

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// SchemaVersion is the current envelope schema version.
// Increment when making breaking changes to any payload type.
const SchemaVersion = 1

// Type tags the payload carried by an Envelope.
type Type string

// Payload type tags.
const (
	TypeChatMessage  Type = "chat_message"
	TypeUserEvent    Type = "user_event"
	TypeNotification Type = "notification"
	TypeAnalytics    Type = "analytics"
	TypeDeadLetter   Type = "dead_letter"
)

// User event types.
const (
	UserEventOnline    = "online"
	UserEventOffline   = "offline"
	UserEventTyping    = "typing"
	UserEventJoinRoom  = "join_room"
	UserEventLeaveRoom = "leave_room"
)

// Envelope is the on-wire frame for all bus messages. The payload is kept
// raw so consumers decode only the types they handle.
type Envelope struct {
	SchemaVersion int             `json:"schema_version"`
	Type          Type            `json:"type"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// ChatMessage is a message posted to a room. Partition key is RoomID so
// messages within one conversation keep their relative order.
type ChatMessage struct {
	ID          string            `json:"id" validate:"required,uuid"`
	RoomID      string            `json:"room_id" validate:"required"`
	UserID      string            `json:"user_id" validate:"required"`
	Content     string            `json:"content" validate:"required"`
	MessageType string            `json:"message_type" validate:"required"`
	Timestamp   time.Time         `json:"timestamp" validate:"required"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// PartitionKey returns the bus partition key for the message.
func (m *ChatMessage) PartitionKey() string { return m.RoomID }

// NewChatMessage creates a chat message with a fresh ID and UTC timestamp.
func NewChatMessage(roomID, userID, content string) *ChatMessage {
	return &ChatMessage{
		ID:          uuid.New().String(),
		RoomID:      roomID,
		UserID:      userID,
		Content:     content,
		MessageType: "text",
		Timestamp:   time.Now().UTC(),
	}
}

// UserEvent is a presence or room-lifecycle transition for a user.
// Partition key is UserID so a user's transitions stay ordered.
type UserEvent struct {
	UserID    string            `json:"user_id" validate:"required"`
	EventType string            `json:"event_type" validate:"required,oneof=online offline typing join_room leave_room"`
	RoomID    string            `json:"room_id,omitempty"`
	Timestamp time.Time         `json:"timestamp" validate:"required"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// PartitionKey returns the bus partition key for the event.
func (e *UserEvent) PartitionKey() string { return e.UserID }

// NewUserEvent creates a user event with a UTC timestamp.
func NewUserEvent(userID, eventType string) *UserEvent {
	return &UserEvent{
		UserID:    userID,
		EventType: eventType,
		Timestamp: time.Now().UTC(),
	}
}

// NotificationEvent asks the notification worker to deliver something to a
// user across whatever channels apply. Partition key is UserID.
type NotificationEvent struct {
	UserID    string            `json:"user_id" validate:"required"`
	Type      string            `json:"type" validate:"required"`
	Title     string            `json:"title" validate:"required"`
	Body      string            `json:"body"`
	Data      map[string]string `json:"data,omitempty"`
	Timestamp time.Time         `json:"timestamp" validate:"required"`
}

// PartitionKey returns the bus partition key for the event.
func (e *NotificationEvent) PartitionKey() string { return e.UserID }

// NewNotificationEvent creates a notification event with a UTC timestamp.
func NewNotificationEvent(userID, notifType, title, body string) *NotificationEvent {
	return &NotificationEvent{
		UserID:    userID,
		Type:      notifType,
		Title:     title,
		Body:      body,
		Timestamp: time.Now().UTC(),
	}
}

// AnalyticsEvent is best-effort telemetry. It has no required fields beyond
// the event type: analytics must never block or fail the hot path.
type AnalyticsEvent struct {
	UserID    string         `json:"user_id,omitempty"`
	EventType string         `json:"event_type" validate:"required"`
	EventData map[string]any `json:"event_data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	SessionID string         `json:"session_id,omitempty"`
}

// PartitionKey returns the bus partition key for the event.
func (e *AnalyticsEvent) PartitionKey() string { return e.UserID }

// NewAnalyticsEvent creates an analytics event with a UTC timestamp.
func NewAnalyticsEvent(userID, eventType string, data map[string]any) *AnalyticsEvent {
	return &AnalyticsEvent{
		UserID:    userID,
		EventType: eventType,
		EventData: data,
		Timestamp: time.Now().UTC(),
	}
}

// DeadLetterEnvelope is the terminal record for a message that exhausted
// send or processing retries. OriginalMessage is the raw bytes that failed,
// preserved verbatim for operator replay.
type DeadLetterEnvelope struct {
	OriginalTopic   string          `json:"original_topic" validate:"required"`
	OriginalMessage json.RawMessage `json:"original_message"`
	Error           string          `json:"error" validate:"required"`
	Timestamp       time.Time       `json:"timestamp" validate:"required"`
}
