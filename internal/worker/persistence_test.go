// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/chatrelay-io/chatrelay/internal/bus"
	"github.com/chatrelay-io/chatrelay/internal/events"
	"github.com/chatrelay-io/chatrelay/internal/store"
)

// fakePersistStore records batched inserts and can fail a number of
// calls per table.
type fakePersistStore struct {
	mu           sync.Mutex
	messages     []*store.Message
	userEvents   []*store.UserEventRecord
	analytics    []*store.AnalyticsRecord
	latest       map[string]time.Time
	failMessages int
}

func newFakePersistStore() *fakePersistStore {
	return &fakePersistStore{latest: make(map[string]time.Time)}
}

func (f *fakePersistStore) InsertMessages(_ context.Context, batch []*store.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failMessages > 0 {
		f.failMessages--
		return errors.New("store down")
	}
	f.messages = append(f.messages, batch...)
	return nil
}

func (f *fakePersistStore) InsertUserEvents(_ context.Context, batch []*store.UserEventRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.userEvents = append(f.userEvents, batch...)
	return nil
}

func (f *fakePersistStore) UpsertLatestActivity(_ context.Context, latest map[string]time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for user, ts := range latest {
		if ts.After(f.latest[user]) {
			f.latest[user] = ts
		}
	}
	return nil
}

func (f *fakePersistStore) InsertAnalytics(_ context.Context, batch []*store.AnalyticsRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.analytics = append(f.analytics, batch...)
	return nil
}

func (f *fakePersistStore) storedMessages() []*store.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]*store.Message, len(f.messages))
	copy(out, f.messages)
	return out
}

func newPersistence(st *fakePersistStore, batchSize int) *PersistenceWorker {
	cfg := testWorkersConfig()
	cfg.BatchSize = batchSize
	return NewPersistenceWorker(st, testCache(), cfg)
}

func TestMessagesFlushAtThreshold(t *testing.T) {
	st := newFakePersistStore()
	w := newPersistence(st, 2)
	ctx := context.Background()

	a := events.NewChatMessage("alice:bob", "alice", "first")
	if v := w.Handle(ctx, busMessage(t, bus.TopicChatMessages, a)); v != bus.Ack {
		t.Fatalf("verdict = %v, want Ack", v)
	}
	if len(st.storedMessages()) != 0 {
		t.Fatal("flushed before reaching the batch threshold")
	}

	b := events.NewChatMessage("alice:bob", "bob", "second")
	w.Handle(ctx, busMessage(t, bus.TopicChatMessages, b))

	got := st.storedMessages()
	if len(got) != 2 {
		t.Fatalf("stored %d messages, want 2", len(got))
	}
	if got[0].Content != "first" || got[1].Content != "second" {
		t.Errorf("arrival order not preserved: %q then %q", got[0].Content, got[1].Content)
	}
	if got[0].SenderID != "alice" || got[0].ReceiverID != "bob" {
		t.Errorf("row = sender %q receiver %q, want alice/bob", got[0].SenderID, got[0].ReceiverID)
	}
}

func TestIntervalFlushDrainsPartialBatch(t *testing.T) {
	st := newFakePersistStore()
	w := newPersistence(st, 100)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Serve(ctx)
	}()

	m := events.NewChatMessage("alice:bob", "alice", "loner")
	w.Handle(ctx, busMessage(t, bus.TopicChatMessages, m))

	deadline := time.After(time.Second)
	for len(st.storedMessages()) == 0 {
		select {
		case <-deadline:
			t.Fatal("interval flush never happened")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}

func TestServeDrainsOnShutdown(t *testing.T) {
	st := newFakePersistStore()
	w := newPersistence(st, 100)
	cfgCtx, cancel := context.WithCancel(context.Background())

	m := events.NewChatMessage("alice:bob", "alice", "pending")
	w.Handle(context.Background(), busMessage(t, bus.TopicChatMessages, m))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Serve(cfgCtx)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}

	if len(st.storedMessages()) != 1 {
		t.Errorf("stored %d messages after drain, want 1", len(st.storedMessages()))
	}
}

func TestFailedFlushRequeuesInOrder(t *testing.T) {
	st := newFakePersistStore()
	st.failMessages = 1
	w := newPersistence(st, 2)
	ctx := context.Background()

	w.Handle(ctx, busMessage(t, bus.TopicChatMessages, events.NewChatMessage("alice:bob", "alice", "a")))
	w.Handle(ctx, busMessage(t, bus.TopicChatMessages, events.NewChatMessage("alice:bob", "bob", "b")))
	if len(st.storedMessages()) != 0 {
		t.Fatal("failed flush stored rows")
	}

	// A later arrival must flush behind the re-queued pair.
	w.Handle(ctx, busMessage(t, bus.TopicChatMessages, events.NewChatMessage("alice:bob", "alice", "c")))

	got := st.storedMessages()
	if len(got) != 3 {
		t.Fatalf("stored %d messages, want 3", len(got))
	}
	for i, want := range []string{"a", "b", "c"} {
		if got[i].Content != want {
			t.Errorf("message %d = %q, want %q", i, got[i].Content, want)
		}
	}
}

func TestFlushMirrorsRoomLog(t *testing.T) {
	st := newFakePersistStore()
	w := newPersistence(st, 1)
	ctx := context.Background()

	m := events.NewChatMessage("alice:bob", "alice", "cached")
	w.Handle(ctx, busMessage(t, bus.TopicChatMessages, m))

	log, err := w.cache.RoomMessages(ctx, "alice:bob", 10)
	if err != nil {
		t.Fatalf("RoomMessages: %v", err)
	}
	if len(log) != 1 {
		t.Fatalf("room log has %d entries, want 1", len(log))
	}
}

func TestUserEventFlushTracksLatestActivity(t *testing.T) {
	st := newFakePersistStore()
	w := newPersistence(st, 2)
	ctx := context.Background()

	newer := events.NewUserEvent("alice", events.UserEventOnline)
	older := events.NewUserEvent("alice", events.UserEventOffline)
	older.Timestamp = newer.Timestamp.Add(-time.Hour)

	// Deliver newest first so the max has to win over arrival order.
	w.Handle(ctx, busMessage(t, bus.TopicUserEvents, newer))
	w.Handle(ctx, busMessage(t, bus.TopicUserEvents, older))

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.userEvents) != 2 {
		t.Fatalf("stored %d user events, want 2", len(st.userEvents))
	}
	if !st.latest["alice"].Equal(newer.Timestamp) {
		t.Errorf("latest activity = %v, want %v", st.latest["alice"], newer.Timestamp)
	}
}

func TestAnalyticsFlush(t *testing.T) {
	st := newFakePersistStore()
	w := newPersistence(st, 1)
	ctx := context.Background()

	e := events.NewAnalyticsEvent("alice", "screen_view", map[string]any{"screen": "inbox"})
	if v := w.Handle(ctx, busMessage(t, bus.TopicAnalytics, e)); v != bus.Ack {
		t.Fatalf("verdict = %v, want Ack", v)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.analytics) != 1 {
		t.Fatalf("stored %d analytics rows, want 1", len(st.analytics))
	}
	if st.analytics[0].EventType != "screen_view" || st.analytics[0].Payload == "" {
		t.Errorf("row = %+v, want screen_view with payload", st.analytics[0])
	}
}

func TestMalformedPersistPayloadDeadLetters(t *testing.T) {
	st := newFakePersistStore()
	w := newPersistence(st, 1)

	verdict := w.Handle(context.Background(), &bus.Message{
		Topic: bus.TopicUserEvents,
		Value: []byte(`not json`),
	})
	if verdict != bus.DeadLetter {
		t.Errorf("verdict = %v, want DeadLetter", verdict)
	}
}
