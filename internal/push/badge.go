// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package push

import (
	"context"

	"github.com/chatrelay-io/chatrelay/internal/cache"
	"github.com/chatrelay-io/chatrelay/internal/logging"
)

// BadgeEmitter is the gateway surface the badge service emits on.
type BadgeEmitter interface {
	EmitToUser(userID, event string, data interface{})
}

// BadgeStore rebuilds cold badge counts from durable rows.
type BadgeStore interface {
	UnreadNotificationCount(ctx context.Context, userID string) (int64, error)
	MarkNotificationsRead(ctx context.Context, userID string) error
}

// BadgeService maintains the per-user unread counter and pushes
// badge_updated events to connected sockets.
type BadgeService struct {
	cache   *cache.Client
	store   BadgeStore
	emitter BadgeEmitter
}

// NewBadgeService wires the badge service.
func NewBadgeService(c *cache.Client, st BadgeStore, emitter BadgeEmitter) *BadgeService {
	return &BadgeService{cache: c, store: st, emitter: emitter}
}

type badgePayload struct {
	Unread int64 `json:"unread"`
}

// Increment bumps the unread counter and emits the new value. Returns
// the count for APNS badge fields.
func (b *BadgeService) Increment(ctx context.Context, userID string) int64 {
	n, err := b.cache.IncrUnread(ctx, userID)
	if err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("failed to bump badge counter")
		return 0
	}
	b.emitter.EmitToUser(userID, "badge_updated", badgePayload{Unread: n})
	return n
}

// Clear marks the user's notifications read, resets the counter, and
// emits zero.
func (b *BadgeService) Clear(ctx context.Context, userID string) error {
	if err := b.store.MarkNotificationsRead(ctx, userID); err != nil {
		return err
	}
	if err := b.cache.ClearUnread(ctx, userID); err != nil {
		logging.Warn().Err(err).Str("user_id", userID).Msg("failed to clear cached badge")
	}
	b.emitter.EmitToUser(userID, "badge_updated", badgePayload{Unread: 0})
	return nil
}

// Current returns the unread count, rebuilding the cache from the store
// when the counter is cold.
func (b *BadgeService) Current(ctx context.Context, userID string) (int64, error) {
	if n, err := b.cache.UnreadCount(ctx, userID); err == nil {
		return n, nil
	}
	n, err := b.store.UnreadNotificationCount(ctx, userID)
	if err != nil {
		return 0, err
	}
	return n, nil
}
