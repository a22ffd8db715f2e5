// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package worker

import (
	"context"
	"slices"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/chatrelay-io/chatrelay/internal/bus"
	"github.com/chatrelay-io/chatrelay/internal/cache"
	"github.com/chatrelay-io/chatrelay/internal/config"
	"github.com/chatrelay-io/chatrelay/internal/events"
	"github.com/chatrelay-io/chatrelay/internal/gateway"
	"github.com/chatrelay-io/chatrelay/internal/logging"
	"github.com/chatrelay-io/chatrelay/internal/metrics"
	"github.com/chatrelay-io/chatrelay/internal/push"
	"github.com/chatrelay-io/chatrelay/internal/store"
)

const (
	prefsKeyPrefix = "notification_prefs:"
	prefOff        = "off"

	rateWindow  = time.Hour
	rateBuckets = 60
	rateMaxKeys = 100000
)

// NotifyStore is the slice of the store the notification worker writes.
type NotifyStore interface {
	InsertNotification(ctx context.Context, n *store.Notification) error
}

// PushDispatcher abstracts the push fan-out for tests.
type PushDispatcher interface {
	Dispatch(ctx context.Context, userID, notifType string, p *push.Payload) *push.Outcome
}

// Badger bumps and reads the unread badge.
type Badger interface {
	Increment(ctx context.Context, userID string) int64
	Current(ctx context.Context, userID string) (int64, error)
}

// EmailSender is the optional email channel. Nil disables it.
type EmailSender interface {
	Send(ctx context.Context, userID, subject, body string) error
}

// NotificationWorker runs the notification decision pipeline: preference
// gate, per-user rate cap, durable record, then delivery over whichever
// channels apply.
type NotificationWorker struct {
	gw         Gateway
	cache      *cache.Client
	store      NotifyStore
	dispatcher PushDispatcher
	badge      Badger
	email      EmailSender
	producer   AnalyticsPublisher
	cfg        config.NotifyConfig

	rates        *cache.SlidingWindowStore
	emailLimiter *rate.Limiter
}

// NewNotificationWorker wires the notification worker. email and producer
// may be nil.
func NewNotificationWorker(gw Gateway, c *cache.Client, st NotifyStore, d PushDispatcher, badge Badger, email EmailSender, producer AnalyticsPublisher, cfg config.NotifyConfig) *NotificationWorker {
	return &NotificationWorker{
		gw:           gw,
		cache:        c,
		store:        st,
		dispatcher:   d,
		badge:        badge,
		email:        email,
		producer:     producer,
		cfg:          cfg,
		rates:        cache.NewSlidingWindowStore(rateWindow, rateBuckets, rateMaxKeys),
		emailLimiter: rate.NewLimiter(rate.Limit(float64(cfg.EmailPerMinute)/60.0), cfg.EmailPerMinute),
	}
}

// Handle processes one notification event end to end.
func (w *NotificationWorker) Handle(ctx context.Context, msg *bus.Message) bus.Verdict {
	n, err := events.DecodeNotificationEvent(msg.Value)
	if err != nil {
		logging.Warn().Err(err).Msg("malformed notification event")
		return bus.DeadLetter
	}

	if w.optedOut(ctx, n) {
		metrics.NotificationsProcessed.WithLabelValues("opted_out").Inc()
		w.recordAnalytics(n, "opted_out", false, nil)
		return bus.Ack
	}

	if !w.rates.Allow(n.UserID+":"+n.Type, int64(w.cfg.RateCapFor(n.Type))) {
		logging.Debug().
			Str("user_id", n.UserID).
			Str("type", n.Type).
			Msg("notification dropped by rate cap")
		metrics.NotificationsProcessed.WithLabelValues("rate_limited").Inc()
		w.recordAnalytics(n, "rate_limited", false, nil)
		return bus.Ack
	}

	// The durable record is the one step worth a redelivery: everything
	// after it is best-effort.
	notifID, err := w.record(ctx, n)
	if err != nil {
		logging.Error().Err(err).Str("user_id", n.UserID).Msg("notification record insert failed")
		return bus.Retry
	}

	badge := w.badge.Increment(ctx, n.UserID)
	realtime := w.deliverRealtime(ctx, n, badge)

	out := w.dispatcher.Dispatch(ctx, n.UserID, n.Type, &push.Payload{
		Title: n.Title,
		Body:  n.Body,
		Data:  pushData(n, notifID),
		Badge: int(badge),
	})

	w.deliverEmail(ctx, n)

	outcome := "failed"
	if out.Delivered() || out.DeviceCount == 0 {
		outcome = "delivered"
	}
	metrics.NotificationsProcessed.WithLabelValues(outcome).Inc()
	w.recordAnalytics(n, outcome, realtime, out)
	return bus.Ack
}

// recordAnalytics publishes the per-event delivery-channel record on the
// relaxed analytics path. A publish failure is logged and never affects
// the verdict.
func (w *NotificationWorker) recordAnalytics(n *events.NotificationEvent, outcome string, realtime bool, out *push.Outcome) {
	if w.producer == nil {
		return
	}
	data := map[string]any{
		"type":     n.Type,
		"outcome":  outcome,
		"realtime": realtime,
	}
	if out != nil {
		data["push_devices"] = out.DeviceCount
		data["push_delivered"] = out.Delivered()
	}
	a := events.NewAnalyticsEvent(n.UserID, "notification_"+outcome, data)
	if err := w.producer.PublishAnalytics(a); err != nil {
		logging.Debug().Err(err).Msg("notification analytics publish failed")
	}
}

// optedOut checks the per-type preference hash. Any cache trouble fails
// open: a delivered notification beats a silently swallowed one.
func (w *NotificationWorker) optedOut(ctx context.Context, n *events.NotificationEvent) bool {
	v, err := w.cache.HGet(ctx, prefsKeyPrefix+n.UserID, n.Type)
	if err != nil {
		return false
	}
	return v == prefOff
}

func (w *NotificationWorker) record(ctx context.Context, n *events.NotificationEvent) (string, error) {
	data := ""
	if len(n.Data) > 0 {
		if raw, err := json.Marshal(n.Data); err == nil {
			data = string(raw)
		}
	}
	id := uuid.NewString()
	err := w.store.InsertNotification(ctx, &store.Notification{
		ID:     id,
		UserID: n.UserID,
		Type:   n.Type,
		Title:  n.Title,
		Body:   n.Body,
		Data:   data,
	})
	return id, err
}

// pushData merges the event's custom data with the standard keys every
// push carries so clients can route taps without parsing the body.
func pushData(n *events.NotificationEvent, notifID string) map[string]string {
	data := make(map[string]string, len(n.Data)+4)
	for k, v := range n.Data {
		data[k] = v
	}
	data["type"] = n.Type
	data["userId"] = n.UserID
	data["timestamp"] = n.Timestamp.UTC().Format(time.RFC3339)
	data["notificationId"] = notifID
	return data
}

type notificationPayload struct {
	Type  string            `json:"type"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
	Badge int64             `json:"badge"`
}

// deliverRealtime emits to the recipient's sockets when they are online
// and reports whether the emit happened.
func (w *NotificationWorker) deliverRealtime(ctx context.Context, n *events.NotificationEvent, badge int64) bool {
	online, err := w.cache.IsUserOnline(ctx, n.UserID)
	if err != nil {
		online = w.gw.IsUserOnline(n.UserID)
	}
	if !online && !w.gw.IsUserOnline(n.UserID) {
		return false
	}
	w.gw.EmitToUser(n.UserID, gateway.EventNotification, notificationPayload{
		Type:  n.Type,
		Title: n.Title,
		Body:  n.Body,
		Data:  n.Data,
		Badge: badge,
	})
	return true
}

func (w *NotificationWorker) deliverEmail(ctx context.Context, n *events.NotificationEvent) {
	if w.email == nil || !w.cfg.EmailEnabled {
		return
	}
	if !slices.Contains(w.cfg.EmailTypes, n.Type) {
		return
	}
	if !w.emailLimiter.Allow() {
		logging.Warn().Str("type", n.Type).Msg("email channel rate limited")
		return
	}
	if err := w.email.Send(ctx, n.UserID, n.Title, n.Body); err != nil {
		logging.Error().Err(err).Str("user_id", n.UserID).Msg("email delivery failed")
	}
}
