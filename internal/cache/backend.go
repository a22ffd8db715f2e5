// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound reports a missing key, list, set member, or hash field.
// It is a data answer, not a backend failure: it never trips the circuit
// breaker and never triggers fallback.
var ErrNotFound = errors.New("cache: not found")

// Backend is one cache implementation. Two exist: the remote Redis backend
// and the in-process local fallback with equivalent TTL semantics. The
// Client selects between them through a circuit breaker; call sites never
// see which one served them.
type Backend interface {
	// KV
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Lists
	LPush(ctx context.Context, key string, values ...string) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LTrim(ctx context.Context, key string, start, stop int64) error

	// Sets
	SAdd(ctx context.Context, key string, members ...string) error
	SRem(ctx context.Context, key string, members ...string) error
	SMembers(ctx context.Context, key string) ([]string, error)
	SIsMember(ctx context.Context, key, member string) (bool, error)

	// Hashes
	HSet(ctx context.Context, key, field, value string) error
	HGet(ctx context.Context, key, field string) (string, error)
	HDel(ctx context.Context, key string, fields ...string) error

	// Counters: increment and refresh the TTL in one operation.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Pub/sub. The local backend delivers only within this process.
	Publish(ctx context.Context, channel, payload string) error
	Subscribe(ctx context.Context, channel string) (<-chan string, func(), error)

	// Ping reports backend health.
	Ping(ctx context.Context) error
}
