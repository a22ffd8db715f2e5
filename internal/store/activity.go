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

// InsertUserEvents persists one batch of user events in a single
// multi-row insert.
func (s *Store) InsertUserEvents(ctx context.Context, batch []*UserEventRecord) error {
	if len(batch) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(batch).Error
}

// UpsertLatestActivity writes the per-user max activity timestamps
// derived from a user event batch. The stored timestamp never moves
// backwards, so out-of-order batches cannot regress activity.
func (s *Store) UpsertLatestActivity(ctx context.Context, latest map[string]time.Time) error {
	if len(latest) == 0 {
		return nil
	}
	rows := make([]*UserActivity, 0, len(latest))
	for userID, at := range latest {
		rows = append(rows, &UserActivity{UserID: userID, LastActiveAt: at})
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "user_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"last_active_at", "updated_at"}),
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "excluded.last_active_at > user_activities.last_active_at"},
			}},
		}).
		Create(rows).Error
}

// LatestActivity reads one user's activity row; a zero time means no
// activity has been recorded.
func (s *Store) LatestActivity(ctx context.Context, userID string) (time.Time, error) {
	var row UserActivity
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		First(&row).Error
	if err != nil {
		if isNotFound(err) {
			return time.Time{}, nil
		}
		return time.Time{}, err
	}
	return row.LastActiveAt, nil
}

// PruneUserEvents deletes user events older than the cutoff.
func (s *Store) PruneUserEvents(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("occurred_at < ?", before).
		Delete(&UserEventRecord{})
	return res.RowsAffected, res.Error
}
