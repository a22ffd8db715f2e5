// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package cache

import (
	"context"
	"errors"
	"strconv"
	"time"
)

// Keys and limits for the built-in helpers.
const (
	onlineUsersKey  = "online_users"
	connectionsKey  = "user_connections"
	roomLogPrefix   = "room:"
	roomLogSuffix   = ":messages"
	typingPrefix    = "typing:"
	counterPrefix   = "counter:"
	unreadPrefix    = "unread:"
	roomLogCap      = 100
	roomLogTTL      = 24 * time.Hour
	typingMarkerTTL = 10 * time.Second
)

// AppendRoomMessage pushes a serialized message onto the room's hot log,
// caps the log length, and refreshes its TTL. Newest first.
func (c *Client) AppendRoomMessage(ctx context.Context, roomID, payload string) error {
	key := roomLogPrefix + roomID + roomLogSuffix
	if err := c.LPush(ctx, key, payload); err != nil {
		return err
	}
	if err := c.LTrim(ctx, key, 0, roomLogCap-1); err != nil {
		return err
	}
	return c.Expire(ctx, key, roomLogTTL)
}

// RoomMessages reads up to limit recent messages for a room, newest first.
func (c *Client) RoomMessages(ctx context.Context, roomID string, limit int64) ([]string, error) {
	if limit <= 0 || limit > roomLogCap {
		limit = roomLogCap
	}
	return c.LRange(ctx, roomLogPrefix+roomID+roomLogSuffix, 0, limit-1)
}

// SetUserOnline adds the user to the online set.
func (c *Client) SetUserOnline(ctx context.Context, userID string) error {
	return c.SAdd(ctx, onlineUsersKey, userID)
}

// SetUserOffline removes the user from the online set.
func (c *Client) SetUserOffline(ctx context.Context, userID string) error {
	return c.SRem(ctx, onlineUsersKey, userID)
}

// IsUserOnline checks the online set.
func (c *Client) IsUserOnline(ctx context.Context, userID string) (bool, error) {
	return c.SIsMember(ctx, onlineUsersKey, userID)
}

// OnlineUsers lists all online user IDs.
func (c *Client) OnlineUsers(ctx context.Context) ([]string, error) {
	return c.SMembers(ctx, onlineUsersKey)
}

// BindConnection records the socket connection ID serving a user.
func (c *Client) BindConnection(ctx context.Context, userID, connID string) error {
	return c.HSet(ctx, connectionsKey, userID, connID)
}

// ConnectionFor returns the connection ID for a user, or ErrNotFound.
func (c *Client) ConnectionFor(ctx context.Context, userID string) (string, error) {
	return c.HGet(ctx, connectionsKey, userID)
}

// UnbindConnection removes a user's connection mapping.
func (c *Client) UnbindConnection(ctx context.Context, userID string) error {
	return c.HDel(ctx, connectionsKey, userID)
}

// MarkTyping sets a short-TTL typing marker for a user in a room.
func (c *Client) MarkTyping(ctx context.Context, roomID, userID string) error {
	return c.Set(ctx, typingPrefix+roomID+":"+userID, "1", typingMarkerTTL)
}

// IsTyping reports whether a user's typing marker is still live.
func (c *Client) IsTyping(ctx context.Context, roomID, userID string) (bool, error) {
	_, err := c.Get(ctx, typingPrefix+roomID+":"+userID)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IncrCounter bumps a scoped counter and refreshes its TTL on every
// mutation. Used for rolling per-type per-day push statistics.
func (c *Client) IncrCounter(ctx context.Context, scope, key string, ttl time.Duration) (int64, error) {
	return c.IncrWithTTL(ctx, counterPrefix+scope+":"+key, ttl)
}

// IncrUnread bumps a user's unread badge counter and returns the new value.
func (c *Client) IncrUnread(ctx context.Context, userID string) (int64, error) {
	return c.IncrWithTTL(ctx, unreadPrefix+userID, 7*24*time.Hour)
}

// ClearUnread resets a user's unread badge counter.
func (c *Client) ClearUnread(ctx context.Context, userID string) error {
	return c.Del(ctx, unreadPrefix+userID)
}

// UnreadCount reads a user's unread badge counter. ErrNotFound means the
// counter is cold and must be rebuilt from the store.
func (c *Client) UnreadCount(ctx context.Context, userID string) (int64, error) {
	raw, err := c.Get(ctx, unreadPrefix+userID)
	if err != nil {
		return 0, err
	}
	return strconv.ParseInt(raw, 10, 64)
}
