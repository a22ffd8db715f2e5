// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package push

import (
	"context"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/chatrelay-io/chatrelay/internal/cache"
	"github.com/chatrelay-io/chatrelay/internal/config"
	"github.com/chatrelay-io/chatrelay/internal/logging"
	"github.com/chatrelay-io/chatrelay/internal/metrics"
	"github.com/chatrelay-io/chatrelay/internal/store"
)

const (
	deviceCacheKeyPrefix = "push_devices:"
	dailyCounterTTL      = 48 * time.Hour
	retryQueueCap        = 256
)

// DeviceStore is the slice of the store the dispatcher needs.
type DeviceStore interface {
	ActiveDevices(ctx context.Context, userID string, since time.Time, limit int) ([]*store.DeviceToken, error)
	UpsertDevice(ctx context.Context, d *store.DeviceToken) error
	CountActiveDevices(ctx context.Context, userID string) (int64, error)
	DeactivateOldestDevice(ctx context.Context, userID string) (string, error)
	DeactivateTokens(ctx context.Context, tokens []string) error
	InsertPushReceipt(ctx context.Context, r *store.PushReceipt) error
}

// Outcome summarizes one dispatch attempt.
type Outcome struct {
	DeviceCount  int
	SuccessCount int
	FailureCount int

	// Reported is set when the attempt could not reach the provider at
	// all (no sender configured, or a dispatch-level error).
	Reported bool
}

// Delivered reports whether at least one device accepted the push.
func (o *Outcome) Delivered() bool {
	return o.SuccessCount > 0
}

// retryItem is one queued redispatch after a dispatch-level error.
type retryItem struct {
	userID    string
	notifType string
	payload   *Payload
}

// Dispatcher resolves devices and sends multicasts. A nil sender is a
// valid configuration: every dispatch then reports failure without
// erroring, and the rest of the notification flow proceeds.
type Dispatcher struct {
	sender MulticastSender
	store  DeviceStore
	cache  *cache.Client
	cfg    config.PushConfig

	mu    sync.Mutex
	retry []retryItem
}

// NewDispatcher wires the dispatcher. sender may be nil when credentials
// are absent.
func NewDispatcher(sender MulticastSender, st DeviceStore, c *cache.Client, cfg config.PushConfig) *Dispatcher {
	if sender == nil {
		logging.Warn().Msg("push dispatcher running without a provider, dispatches will report failure")
	}
	return &Dispatcher{sender: sender, store: st, cache: c, cfg: cfg}
}

// RegisterDevice upserts a token for the user, evicting the least
// recently seen active device when the cap is exceeded.
func (d *Dispatcher) RegisterDevice(ctx context.Context, userID, token, platform string) error {
	err := d.store.UpsertDevice(ctx, &store.DeviceToken{
		UserID:     userID,
		Token:      token,
		Platform:   platform,
		LastSeenAt: time.Now().UTC(),
	})
	if err != nil {
		return err
	}

	n, err := d.store.CountActiveDevices(ctx, userID)
	if err != nil {
		return err
	}
	for n > int64(d.cfg.DeviceCap) {
		evicted, err := d.store.DeactivateOldestDevice(ctx, userID)
		if err != nil {
			return err
		}
		if evicted == "" {
			break
		}
		logging.Info().
			Str("user_id", userID).
			Str("token", evicted).
			Msg("evicted device past cap")
		n--
	}

	d.invalidateDeviceCache(ctx, userID)
	return nil
}

// ResolveDevices returns the user's active tokens, serving from cache
// when the list is fresh.
func (d *Dispatcher) ResolveDevices(ctx context.Context, userID string) ([]string, error) {
	key := deviceCacheKeyPrefix + userID
	if raw, err := d.cache.Get(ctx, key); err == nil {
		var tokens []string
		if err := json.Unmarshal([]byte(raw), &tokens); err == nil {
			return tokens, nil
		}
	}

	since := time.Now().UTC().Add(-d.cfg.DeviceWindow)
	devices, err := d.store.ActiveDevices(ctx, userID, since, d.cfg.MaxDevicesPerQuery)
	if err != nil {
		return nil, err
	}
	tokens := make([]string, len(devices))
	for i, dev := range devices {
		tokens[i] = dev.Token
	}

	if raw, err := json.Marshal(tokens); err == nil {
		_ = d.cache.Set(ctx, key, string(raw), d.cfg.DeviceListTTL)
	}
	return tokens, nil
}

func (d *Dispatcher) invalidateDeviceCache(ctx context.Context, userID string) {
	_ = d.cache.Del(ctx, deviceCacheKeyPrefix+userID)
}

// Dispatch sends one payload to all of the user's devices. It never
// returns an error: provider problems are classified, recorded, and
// reflected in the outcome so the caller's verdict logic stays simple.
func (d *Dispatcher) Dispatch(ctx context.Context, userID, notifType string, p *Payload) *Outcome {
	d.drainRetries(ctx)
	return d.dispatch(ctx, userID, notifType, p)
}

func (d *Dispatcher) dispatch(ctx context.Context, userID, notifType string, p *Payload) *Outcome {
	tokens, err := d.ResolveDevices(ctx, userID)
	if err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("device resolution failed")
		return &Outcome{Reported: true}
	}
	out := &Outcome{DeviceCount: len(tokens)}
	if len(tokens) == 0 {
		return out
	}

	if d.sender == nil {
		out.FailureCount = len(tokens)
		out.Reported = true
		metrics.PushSends.WithLabelValues("transient_failure").Add(float64(len(tokens)))
		d.recordAttempt(ctx, userID, notifType, p, out, "no_provider")
		return out
	}

	results, err := d.sender.SendMulticast(ctx, tokens, p)
	if err != nil {
		// Dispatch-level failure: nothing reached the provider. Queue
		// for one redispatch on the next dispatch call.
		out.FailureCount = len(tokens)
		out.Reported = true
		logging.Error().Err(err).Str("user_id", userID).Msg("push dispatch failed")
		d.queueRetry(retryItem{userID: userID, notifType: notifType, payload: p})
		d.recordAttempt(ctx, userID, notifType, p, out, "dispatch_error")
		return out
	}

	var dead []string
	for _, r := range results {
		switch {
		case r.Err == nil:
			out.SuccessCount++
			metrics.PushSends.WithLabelValues("success").Inc()
		case r.Permanent:
			out.FailureCount++
			dead = append(dead, r.Token)
			metrics.PushSends.WithLabelValues("permanent_failure").Inc()
		default:
			out.FailureCount++
			metrics.PushSends.WithLabelValues("transient_failure").Inc()
			logging.Warn().
				Err(r.Err).
				Str("user_id", userID).
				Msg("transient push failure, keeping token")
		}
	}

	if len(dead) > 0 {
		if err := d.store.DeactivateTokens(ctx, dead); err != nil {
			logging.Error().Err(err).Int("tokens", len(dead)).Msg("failed to deactivate dead tokens")
		} else {
			metrics.PushTokensDeactivated.Add(float64(len(dead)))
			d.invalidateDeviceCache(ctx, userID)
		}
	}

	outcome := "partial"
	switch {
	case out.FailureCount == 0:
		outcome = "delivered"
	case out.SuccessCount == 0:
		outcome = "failed"
	}
	d.recordAttempt(ctx, userID, notifType, p, out, outcome)
	return out
}

// recordAttempt persists the receipt and bumps the rolling per-type
// per-day counters. Both are best-effort bookkeeping.
func (d *Dispatcher) recordAttempt(ctx context.Context, userID, notifType string, p *Payload, out *Outcome, outcome string) {
	err := d.store.InsertPushReceipt(ctx, &store.PushReceipt{
		UserID:       userID,
		Type:         notifType,
		Title:        p.Title,
		Body:         p.Body,
		DeviceCount:  out.DeviceCount,
		SuccessCount: out.SuccessCount,
		FailureCount: out.FailureCount,
		Outcome:      outcome,
	})
	if err != nil {
		logging.Error().Err(err).Str("user_id", userID).Msg("failed to persist push receipt")
	}

	day := time.Now().UTC().Format("2006-01-02")
	if out.SuccessCount > 0 {
		_, _ = d.cache.IncrCounter(ctx, "push_success", notifType+":"+day, dailyCounterTTL)
	}
	if out.FailureCount > 0 {
		_, _ = d.cache.IncrCounter(ctx, "push_failure", notifType+":"+day, dailyCounterTTL)
	}
}

func (d *Dispatcher) queueRetry(item retryItem) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.retry) >= retryQueueCap {
		logging.Warn().Str("user_id", item.userID).Msg("push retry queue full, dropping redispatch")
		return
	}
	d.retry = append(d.retry, item)
}

// drainRetries redispatches queued items once each. Items that fail at
// dispatch level again re-enter the queue through the normal path.
func (d *Dispatcher) drainRetries(ctx context.Context) {
	d.mu.Lock()
	pending := d.retry
	d.retry = nil
	d.mu.Unlock()

	for _, item := range pending {
		d.dispatch(ctx, item.userID, item.notifType, item.payload)
	}
}
