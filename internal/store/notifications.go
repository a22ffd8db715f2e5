// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package store

import (
	"context"
	"time"
)

// InsertNotification persists one durable notification record.
func (s *Store) InsertNotification(ctx context.Context, n *Notification) error {
	return s.db.WithContext(ctx).Create(n).Error
}

// UnreadNotificationCount returns the user's unread notification count,
// used to rebuild the cached badge when the cache is cold.
func (s *Store) UnreadNotificationCount(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Count(&n).Error
	return n, err
}

// MarkNotificationsRead flags all of a user's notifications as read.
func (s *Store) MarkNotificationsRead(ctx context.Context, userID string) error {
	return s.db.WithContext(ctx).
		Model(&Notification{}).
		Where("user_id = ? AND read = ?", userID, false).
		Update("read", true).Error
}

// InsertPushReceipt records one dispatch attempt.
func (s *Store) InsertPushReceipt(ctx context.Context, r *PushReceipt) error {
	return s.db.WithContext(ctx).Create(r).Error
}

// PruneNotifications deletes notifications created before the cutoff.
func (s *Store) PruneNotifications(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("created_at < ?", before).
		Delete(&Notification{})
	return res.RowsAffected, res.Error
}
