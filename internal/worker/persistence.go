// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package worker

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/chatrelay-io/chatrelay/internal/bus"
	"github.com/chatrelay-io/chatrelay/internal/cache"
	"github.com/chatrelay-io/chatrelay/internal/config"
	"github.com/chatrelay-io/chatrelay/internal/events"
	"github.com/chatrelay-io/chatrelay/internal/logging"
	"github.com/chatrelay-io/chatrelay/internal/metrics"
	"github.com/chatrelay-io/chatrelay/internal/store"
)

// PersistStore is the slice of the store the persistence worker writes.
type PersistStore interface {
	InsertMessages(ctx context.Context, batch []*store.Message) error
	InsertUserEvents(ctx context.Context, batch []*store.UserEventRecord) error
	UpsertLatestActivity(ctx context.Context, latest map[string]time.Time) error
	InsertAnalytics(ctx context.Context, batch []*store.AnalyticsRecord) error
}

// PersistenceWorker micro-batches bus events into the store. Three
// independent batches flush at the size threshold or on the wall-clock
// interval, whichever comes first.
type PersistenceWorker struct {
	store PersistStore
	cache *cache.Client
	cfg   config.WorkersConfig

	messages   *batch[*events.ChatMessage]
	userEvents *batch[*events.UserEvent]
	analytics  *batch[*events.AnalyticsEvent]
}

// NewPersistenceWorker wires the persistence worker.
func NewPersistenceWorker(st PersistStore, c *cache.Client, cfg config.WorkersConfig) *PersistenceWorker {
	return &PersistenceWorker{
		store:      st,
		cache:      c,
		cfg:        cfg,
		messages:   newBatch[*events.ChatMessage](cfg.BatchSize),
		userEvents: newBatch[*events.UserEvent](cfg.BatchSize),
		analytics:  newBatch[*events.AnalyticsEvent](cfg.BatchSize),
	}
}

// Handle buffers one event. Offsets are acked on buffering: durability
// from that point is the flush/re-queue loop's job, and the store's
// idempotent message insert absorbs redelivered duplicates.
func (w *PersistenceWorker) Handle(ctx context.Context, msg *bus.Message) bus.Verdict {
	switch msg.Topic {
	case bus.TopicChatMessages:
		m, err := events.DecodeChatMessage(msg.Value)
		if err != nil {
			logging.Warn().Err(err).Msg("malformed chat message")
			return bus.DeadLetter
		}
		if w.messages.add(m) {
			w.flushMessages(ctx)
		}
	case bus.TopicUserEvents:
		e, err := events.DecodeUserEvent(msg.Value)
		if err != nil {
			logging.Warn().Err(err).Msg("malformed user event")
			return bus.DeadLetter
		}
		if w.userEvents.add(e) {
			w.flushUserEvents(ctx)
		}
	case bus.TopicAnalytics:
		e, err := events.DecodeAnalyticsEvent(msg.Value)
		if err != nil {
			logging.Warn().Err(err).Msg("malformed analytics event")
			return bus.DeadLetter
		}
		if w.analytics.add(e) {
			w.flushAnalytics(ctx)
		}
	default:
		logging.Warn().Str("topic", msg.Topic).Msg("unexpected topic for persistence worker")
	}
	return bus.Ack
}

// Serve runs the interval flush loop until the context is canceled, then
// drains all pending batches before returning so a graceful stop loses
// nothing.
func (w *PersistenceWorker) Serve(ctx context.Context) error {
	ticker := time.NewTicker(w.cfg.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.FlushAll(ctx)
		case <-ctx.Done():
			drain, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			w.FlushAll(drain)
			cancel()
			logging.Info().Msg("persistence worker drained")
			return ctx.Err()
		}
	}
}

// FlushAll flushes every batch regardless of fill level.
func (w *PersistenceWorker) FlushAll(ctx context.Context) {
	w.flushMessages(ctx)
	w.flushUserEvents(ctx)
	w.flushAnalytics(ctx)
}

func (w *PersistenceWorker) flushMessages(ctx context.Context) {
	pending := w.messages.drain()
	if len(pending) == 0 {
		return
	}
	start := time.Now()

	rows := make([]*store.Message, len(pending))
	for i, m := range pending {
		rows[i] = &store.Message{
			ID:          m.ID,
			RoomID:      m.RoomID,
			SenderID:    m.UserID,
			ReceiverID:  counterpart(m.RoomID, m.UserID),
			Content:     m.Content,
			ContentType: m.MessageType,
			SentAt:      m.Timestamp,
		}
	}

	if err := w.store.InsertMessages(ctx, rows); err != nil {
		metrics.BatchFlushErrors.WithLabelValues("messages").Inc()
		logging.Error().Err(err).Int("items", len(pending)).Msg("message flush failed, re-queued")
		w.messages.requeue(pending)
		return
	}

	// Mirror into the hot room log for history backfill.
	for _, m := range pending {
		raw, err := json.Marshal(m)
		if err != nil {
			continue
		}
		if err := w.cache.AppendRoomMessage(ctx, m.RoomID, string(raw)); err != nil {
			logging.Debug().Err(err).Str("room_id", m.RoomID).Msg("room log mirror failed")
		}
	}

	w.observeFlush("messages", len(pending), start)
}

func (w *PersistenceWorker) flushUserEvents(ctx context.Context) {
	pending := w.userEvents.drain()
	if len(pending) == 0 {
		return
	}
	start := time.Now()

	rows := make([]*store.UserEventRecord, len(pending))
	latest := make(map[string]time.Time)
	for i, e := range pending {
		rows[i] = &store.UserEventRecord{
			UserID:     e.UserID,
			EventType:  e.EventType,
			RoomID:     e.RoomID,
			OccurredAt: e.Timestamp,
		}
		if e.Timestamp.After(latest[e.UserID]) {
			latest[e.UserID] = e.Timestamp
		}
	}

	if err := w.store.InsertUserEvents(ctx, rows); err != nil {
		metrics.BatchFlushErrors.WithLabelValues("user_events").Inc()
		logging.Error().Err(err).Int("items", len(pending)).Msg("user event flush failed, re-queued")
		w.userEvents.requeue(pending)
		return
	}

	if err := w.store.UpsertLatestActivity(ctx, latest); err != nil {
		logging.Error().Err(err).Msg("latest activity upsert failed")
	}

	w.observeFlush("user_events", len(pending), start)
}

func (w *PersistenceWorker) flushAnalytics(ctx context.Context) {
	pending := w.analytics.drain()
	if len(pending) == 0 {
		return
	}
	start := time.Now()

	rows := make([]*store.AnalyticsRecord, len(pending))
	for i, e := range pending {
		payload := ""
		if len(e.EventData) > 0 {
			if raw, err := json.Marshal(e.EventData); err == nil {
				payload = string(raw)
			}
		}
		occurred := e.Timestamp
		if occurred.IsZero() {
			occurred = time.Now().UTC()
		}
		rows[i] = &store.AnalyticsRecord{
			EventType:  e.EventType,
			UserID:     e.UserID,
			Payload:    payload,
			OccurredAt: occurred,
		}
	}

	if err := w.store.InsertAnalytics(ctx, rows); err != nil {
		metrics.BatchFlushErrors.WithLabelValues("analytics").Inc()
		logging.Error().Err(err).Int("items", len(pending)).Msg("analytics flush failed, re-queued")
		w.analytics.requeue(pending)
		return
	}

	w.observeFlush("analytics", len(pending), start)
}

func (w *PersistenceWorker) observeFlush(name string, size int, start time.Time) {
	metrics.BatchFlushDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	metrics.BatchFlushSize.WithLabelValues(name).Observe(float64(size))
	logging.Debug().Str("batch", name).Int("items", size).Msg("batch flushed")
}

// counterpart returns the other member of a direct room, or empty when
// the room ID does not follow the two-party convention.
func counterpart(roomID, senderID string) string {
	for _, p := range roomParticipants(roomID, senderID) {
		if p != senderID {
			return p
		}
	}
	return ""
}
