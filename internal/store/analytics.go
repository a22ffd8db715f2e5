// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package store

import (
	"context"
	"time"
)

// InsertAnalytics persists one batch of analytics events in a single
// multi-row insert.
func (s *Store) InsertAnalytics(ctx context.Context, batch []*AnalyticsRecord) error {
	if len(batch) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Create(batch).Error
}

// PruneAnalytics deletes analytics events older than the cutoff.
func (s *Store) PruneAnalytics(ctx context.Context, before time.Time) (int64, error) {
	res := s.db.WithContext(ctx).
		Where("occurred_at < ?", before).
		Delete(&AnalyticsRecord{})
	return res.RowsAffected, res.Error
}

// PruneExpired applies the retention cutoff across all pruned tables.
// Returns total rows removed.
func (s *Store) PruneExpired(ctx context.Context, before time.Time) (int64, error) {
	var total int64
	for _, prune := range []func(context.Context, time.Time) (int64, error){
		s.PruneMessages,
		s.PruneUserEvents,
		s.PruneNotifications,
		s.PruneAnalytics,
	} {
		n, err := prune(ctx, before)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}
