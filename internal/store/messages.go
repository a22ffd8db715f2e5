// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package store

import (
	"context"
	"time"

	"gorm.io/gorm/clause"
)

// InsertMessages persists one batch of chat messages in a single
// multi-row insert. Conflicting IDs are skipped so redelivered events
// stay idempotent.
func (s *Store) InsertMessages(ctx context.Context, batch []*Message) error {
	if len(batch) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(batch).Error
}

// RecentMessages returns the newest messages in a room, newest first.
func (s *Store) RecentMessages(ctx context.Context, roomID string, limit int) ([]*Message, error) {
	var out []*Message
	err := s.db.WithContext(ctx).
		Where("room_id = ?", roomID).
		Order("sent_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// PruneMessages deletes messages sent before the cutoff and returns the
// number of rows removed.
func (s *Store) PruneMessages(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("sent_at < ?", before).
		Delete(&Message{})
	return res.RowsAffected, res.Error
}
