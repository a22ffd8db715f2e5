// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

// Package cache provides the shared cache client for ChatRelay.
//
// The client fronts two backends: a remote Redis instance (primary) and an
// in-process map with equivalent TTL semantics (fallback). Selection is an
// explicit circuit-breaker state rather than per-call try/catch: while the
// breaker is closed every operation goes remote; a run of consecutive
// failures opens it and routes traffic locally; half-open probes restore
// remote service when Redis recovers. A failed remote call is still served
// from the fallback, so callers never observe the degradation.
//
// Exactly one Client exists per process. Construct it in main and pass the
// handle to every dependent component.
package cache

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/chatrelay-io/chatrelay/internal/config"
	"github.com/chatrelay-io/chatrelay/internal/logging"
	"github.com/chatrelay-io/chatrelay/internal/metrics"
)

// Client is the process-wide cache handle.
type Client struct {
	remote  Backend
	local   *localBackend
	breaker *gobreaker.CircuitBreaker[any]
	closer  io.Closer
}

// New creates the cache client from configuration. The Redis connection is
// established lazily by go-redis; a dead Redis at startup simply means the
// breaker opens and the local fallback serves until it recovers.
func New(cfg config.RedisConfig) *Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
	})
	c := newClient(newRedisBackend(rdb), cfg)
	c.closer = rdb
	return c
}

// Close releases the remote connection. The local fallback needs no
// teardown.
func (c *Client) Close() error {
	if c.closer != nil {
		return c.closer.Close()
	}
	return nil
}

// newClient wires an arbitrary remote backend; split out for tests.
func newClient(remote Backend, cfg config.RedisConfig) *Client {
	settings := gobreaker.Settings{
		Name:        "cache-remote",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailureThreshold
		},
		IsSuccessful: func(err error) bool {
			// Missing data is an answer, not a backend failure.
			return err == nil || errors.Is(err, ErrNotFound)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if to == gobreaker.StateOpen {
				metrics.CacheFallbackActive.Set(1)
			} else {
				metrics.CacheFallbackActive.Set(0)
			}
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("cache breaker state change")
		},
	}

	return &Client{
		remote:  remote,
		local:   newLocalBackend(),
		breaker: gobreaker.NewCircuitBreaker[any](settings),
	}
}

// BreakerState returns the current breaker state string for health checks.
func (c *Client) BreakerState() string {
	return c.breaker.State().String()
}

// execute runs op remotely through the breaker, serving from the local
// fallback on any remote failure or while the breaker is open.
func execute[T any](c *Client, op string, remote func() (T, error), local func() (T, error)) (T, error) {
	res, err := c.breaker.Execute(func() (any, error) {
		return remote()
	})
	if err == nil || errors.Is(err, ErrNotFound) {
		metrics.CacheOperations.WithLabelValues("remote", "ok").Inc()
		v, _ := res.(T)
		return v, err
	}

	metrics.CacheOperations.WithLabelValues("remote", "error").Inc()
	if !errors.Is(err, gobreaker.ErrOpenState) && !errors.Is(err, gobreaker.ErrTooManyRequests) {
		logging.Debug().Err(err).Str("op", op).Msg("remote cache failed, serving from local fallback")
	}

	v, lerr := local()
	if lerr != nil && !errors.Is(lerr, ErrNotFound) {
		metrics.CacheOperations.WithLabelValues("local", "error").Inc()
		return v, lerr
	}
	metrics.CacheOperations.WithLabelValues("local", "ok").Inc()
	return v, lerr
}

// Get retrieves a string value.
func (c *Client) Get(ctx context.Context, key string) (string, error) {
	return execute(c, "get",
		func() (string, error) { return c.remote.Get(ctx, key) },
		func() (string, error) { return c.local.Get(ctx, key) })
}

// Set stores a string value with a TTL (0 = no expiry). The value is also
// written through to the local fallback so a subsequent breaker-open read
// still finds recent data.
func (c *Client) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	_ = c.local.Set(ctx, key, value, ttl)
	_, err := execute(c, "set",
		func() (struct{}, error) { return struct{}{}, c.remote.Set(ctx, key, value, ttl) },
		func() (struct{}, error) { return struct{}{}, nil })
	return err
}

// Del removes keys from both backends.
func (c *Client) Del(ctx context.Context, keys ...string) error {
	_ = c.local.Del(ctx, keys...)
	_, err := execute(c, "del",
		func() (struct{}, error) { return struct{}{}, c.remote.Del(ctx, keys...) },
		func() (struct{}, error) { return struct{}{}, nil })
	return err
}

// Expire refreshes a key's TTL.
func (c *Client) Expire(ctx context.Context, key string, ttl time.Duration) error {
	_ = c.local.Expire(ctx, key, ttl)
	_, err := execute(c, "expire",
		func() (struct{}, error) { return struct{}{}, c.remote.Expire(ctx, key, ttl) },
		func() (struct{}, error) { return struct{}{}, nil })
	return err
}

// LPush prepends values to a list.
func (c *Client) LPush(ctx context.Context, key string, values ...string) error {
	_, err := execute(c, "lpush",
		func() (struct{}, error) { return struct{}{}, c.remote.LPush(ctx, key, values...) },
		func() (struct{}, error) { return struct{}{}, c.local.LPush(ctx, key, values...) })
	return err
}

// LRange reads a list slice (inclusive stop, negative indexes allowed).
func (c *Client) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return execute(c, "lrange",
		func() ([]string, error) { return c.remote.LRange(ctx, key, start, stop) },
		func() ([]string, error) { return c.local.LRange(ctx, key, start, stop) })
}

// LTrim trims a list to the given range.
func (c *Client) LTrim(ctx context.Context, key string, start, stop int64) error {
	_, err := execute(c, "ltrim",
		func() (struct{}, error) { return struct{}{}, c.remote.LTrim(ctx, key, start, stop) },
		func() (struct{}, error) { return struct{}{}, c.local.LTrim(ctx, key, start, stop) })
	return err
}

// SAdd adds members to a set.
func (c *Client) SAdd(ctx context.Context, key string, members ...string) error {
	_, err := execute(c, "sadd",
		func() (struct{}, error) { return struct{}{}, c.remote.SAdd(ctx, key, members...) },
		func() (struct{}, error) { return struct{}{}, c.local.SAdd(ctx, key, members...) })
	return err
}

// SRem removes members from a set.
func (c *Client) SRem(ctx context.Context, key string, members ...string) error {
	_, err := execute(c, "srem",
		func() (struct{}, error) { return struct{}{}, c.remote.SRem(ctx, key, members...) },
		func() (struct{}, error) { return struct{}{}, c.local.SRem(ctx, key, members...) })
	return err
}

// SMembers lists set members.
func (c *Client) SMembers(ctx context.Context, key string) ([]string, error) {
	return execute(c, "smembers",
		func() ([]string, error) { return c.remote.SMembers(ctx, key) },
		func() ([]string, error) { return c.local.SMembers(ctx, key) })
}

// SIsMember checks set membership.
func (c *Client) SIsMember(ctx context.Context, key, member string) (bool, error) {
	return execute(c, "sismember",
		func() (bool, error) { return c.remote.SIsMember(ctx, key, member) },
		func() (bool, error) { return c.local.SIsMember(ctx, key, member) })
}

// HSet sets a hash field.
func (c *Client) HSet(ctx context.Context, key, field, value string) error {
	_, err := execute(c, "hset",
		func() (struct{}, error) { return struct{}{}, c.remote.HSet(ctx, key, field, value) },
		func() (struct{}, error) { return struct{}{}, c.local.HSet(ctx, key, field, value) })
	return err
}

// HGet reads a hash field.
func (c *Client) HGet(ctx context.Context, key, field string) (string, error) {
	return execute(c, "hget",
		func() (string, error) { return c.remote.HGet(ctx, key, field) },
		func() (string, error) { return c.local.HGet(ctx, key, field) })
}

// HDel removes hash fields.
func (c *Client) HDel(ctx context.Context, key string, fields ...string) error {
	_, err := execute(c, "hdel",
		func() (struct{}, error) { return struct{}{}, c.remote.HDel(ctx, key, fields...) },
		func() (struct{}, error) { return struct{}{}, c.local.HDel(ctx, key, fields...) })
	return err
}

// IncrWithTTL increments a counter and refreshes its TTL on every mutation.
func (c *Client) IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	return execute(c, "incr",
		func() (int64, error) { return c.remote.IncrWithTTL(ctx, key, ttl) },
		func() (int64, error) { return c.local.IncrWithTTL(ctx, key, ttl) })
}

// Publish sends a payload on a pub/sub channel.
func (c *Client) Publish(ctx context.Context, channel, payload string) error {
	_, err := execute(c, "publish",
		func() (struct{}, error) { return struct{}{}, c.remote.Publish(ctx, channel, payload) },
		func() (struct{}, error) { return struct{}{}, c.local.Publish(ctx, channel, payload) })
	return err
}

// Subscribe opens a pub/sub subscription, preferring the remote backend and
// degrading to the process-local bus if it is unavailable.
func (c *Client) Subscribe(ctx context.Context, channel string) (<-chan string, func(), error) {
	if c.breaker.State() != gobreaker.StateOpen {
		ch, cancel, err := c.remote.Subscribe(ctx, channel)
		if err == nil {
			return ch, cancel, nil
		}
		logging.Warn().Err(err).Str("channel", channel).Msg("remote subscribe failed, using local pub/sub")
	}
	return c.local.Subscribe(ctx, channel)
}

// Ping reports remote cache health without tripping the breaker.
func (c *Client) Ping(ctx context.Context) error {
	return c.remote.Ping(ctx)
}
