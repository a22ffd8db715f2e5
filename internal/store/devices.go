// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package store

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// ActiveDevices returns the user's active tokens seen since the cutoff,
// newest first, bounded by limit. The rolling window keeps long-dead
// devices out of multicast fan-out.
func (s *Store) ActiveDevices(ctx context.Context, userID string, since time.Time, limit int) ([]*DeviceToken, error) {
	var out []*DeviceToken
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND active = ? AND last_seen_at >= ?", userID, true, since).
		Order("last_seen_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// UpsertDevice registers or refreshes a token. An existing row for the
// same token is reactivated and rebound to the registering user.
func (s *Store) UpsertDevice(ctx context.Context, d *DeviceToken) error {
	if d.LastSeenAt.IsZero() {
		d.LastSeenAt = time.Now().UTC()
	}
	d.Active = true
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "token"}},
			DoUpdates: clause.AssignmentColumns([]string{"user_id", "platform", "active", "last_seen_at"}),
		}).
		Create(d).Error
}

// CountActiveDevices returns how many active tokens the user holds.
func (s *Store) CountActiveDevices(ctx context.Context, userID string) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).
		Model(&DeviceToken{}).
		Where("user_id = ? AND active = ?", userID, true).
		Count(&n).Error
	return n, err
}

// DeactivateOldestDevice retires the user's least recently seen active
// token and returns it, or an empty string when none exists.
func (s *Store) DeactivateOldestDevice(ctx context.Context, userID string) (string, error) {
	var oldest DeviceToken
	err := s.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Order("last_seen_at ASC").
		First(&oldest).Error
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	err = s.db.WithContext(ctx).
		Model(&DeviceToken{}).
		Where("id = ?", oldest.ID).
		Update("active", false).Error
	return oldest.Token, err
}

// DeactivateTokens retires tokens the push provider reported as
// permanently invalid.
func (s *Store) DeactivateTokens(ctx context.Context, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).
		Model(&DeviceToken{}).
		Where("token IN ?", tokens).
		Update("active", false).Error
}
