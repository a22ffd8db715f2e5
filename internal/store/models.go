// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package store

import "time"

// Message is one durable chat message row.
type Message struct {
	ID          string    `gorm:"column:id;type:varchar(36);primaryKey"`
	RoomID      string    `gorm:"column:room_id;type:varchar(64);not null;index"`
	SenderID    string    `gorm:"column:sender_id;type:varchar(64);not null;index"`
	ReceiverID  string    `gorm:"column:receiver_id;type:varchar(64);not null"`
	Content     string    `gorm:"column:content;type:text;not null"`
	ContentType string    `gorm:"column:content_type;type:varchar(32);not null;default:text"`
	SentAt      time.Time `gorm:"column:sent_at;not null;index"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (Message) TableName() string { return "messages" }

// UserEventRecord is one presence or room lifecycle event.
type UserEventRecord struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	UserID     string    `gorm:"column:user_id;type:varchar(64);not null;index"`
	EventType  string    `gorm:"column:event_type;type:varchar(32);not null"`
	RoomID     string    `gorm:"column:room_id;type:varchar(64)"`
	OccurredAt time.Time `gorm:"column:occurred_at;not null;index"`
}

func (UserEventRecord) TableName() string { return "user_events" }

// UserActivity tracks the latest observed activity timestamp per user.
// Upserted from user event batches; the stored timestamp only moves
// forward.
type UserActivity struct {
	UserID       string    `gorm:"column:user_id;type:varchar(64);primaryKey"`
	LastActiveAt time.Time `gorm:"column:last_active_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

func (UserActivity) TableName() string { return "user_activities" }

// DeviceToken is one registered push target. A user holds at most the
// configured device cap of active tokens; excess registrations deactivate
// the least recently seen one.
type DeviceToken struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	UserID     string    `gorm:"column:user_id;type:varchar(64);not null;index"`
	Token      string    `gorm:"column:token;type:varchar(512);not null;uniqueIndex"`
	Platform   string    `gorm:"column:platform;type:varchar(16);not null"`
	Active     bool      `gorm:"column:active;not null;default:true"`
	LastSeenAt time.Time `gorm:"column:last_seen_at;not null"`
	CreatedAt  time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (DeviceToken) TableName() string { return "device_tokens" }

// Notification is one durable in-app notification.
type Notification struct {
	ID        string    `gorm:"column:id;type:varchar(36);primaryKey"`
	UserID    string    `gorm:"column:user_id;type:varchar(64);not null;index"`
	Type      string    `gorm:"column:type;type:varchar(32);not null"`
	Title     string    `gorm:"column:title;type:varchar(256);not null"`
	Body      string    `gorm:"column:body;type:text"`
	Data      string    `gorm:"column:data;type:text"`
	Read      bool      `gorm:"column:read;not null;default:false"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime;index"`
}

func (Notification) TableName() string { return "notifications" }

// PushReceipt records one dispatch attempt with its payload and outcome
// counts.
type PushReceipt struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	UserID       string    `gorm:"column:user_id;type:varchar(64);not null;index"`
	Type         string    `gorm:"column:type;type:varchar(32);not null"`
	Title        string    `gorm:"column:title;type:varchar(255)"`
	Body         string    `gorm:"column:body;type:text"`
	DeviceCount  int       `gorm:"column:device_count;not null"`
	SuccessCount int       `gorm:"column:success_count;not null"`
	FailureCount int       `gorm:"column:failure_count;not null"`
	Outcome      string    `gorm:"column:outcome;type:varchar(32);not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
}

func (PushReceipt) TableName() string { return "push_receipts" }

// AnalyticsRecord is one loosely-validated analytics event.
type AnalyticsRecord struct {
	ID         uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	EventType  string    `gorm:"column:event_type;type:varchar(64);not null;index"`
	UserID     string    `gorm:"column:user_id;type:varchar(64)"`
	Payload    string    `gorm:"column:payload;type:text"`
	OccurredAt time.Time `gorm:"column:occurred_at;not null;index"`
}

func (AnalyticsRecord) TableName() string { return "analytics_events" }

// allModels drives migration.
func allModels() []interface{} {
	return []interface{}{
		&Message{},
		&UserEventRecord{},
		&UserActivity{},
		&DeviceToken{},
		&Notification{},
		&PushReceipt{},
		&AnalyticsRecord{},
	}
}
