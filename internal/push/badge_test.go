// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package push

import (
	"context"
	"sync"
	"testing"
)

type fakeEmitter struct {
	mu     sync.Mutex
	events []struct {
		userID, event string
		data          interface{}
	}
}

func (f *fakeEmitter) EmitToUser(userID, event string, data interface{}) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, struct {
		userID, event string
		data          interface{}
	}{userID, event, data})
}

type fakeBadgeStore struct {
	unread map[string]int64
	marked []string
}

func (f *fakeBadgeStore) UnreadNotificationCount(_ context.Context, userID string) (int64, error) {
	return f.unread[userID], nil
}

func (f *fakeBadgeStore) MarkNotificationsRead(_ context.Context, userID string) error {
	f.marked = append(f.marked, userID)
	f.unread[userID] = 0
	return nil
}

func TestBadgeIncrementEmits(t *testing.T) {
	emitter := &fakeEmitter{}
	b := NewBadgeService(testCache(), &fakeBadgeStore{unread: map[string]int64{}}, emitter)
	ctx := context.Background()

	if n := b.Increment(ctx, "u1"); n != 1 {
		t.Errorf("first increment = %d, want 1", n)
	}
	if n := b.Increment(ctx, "u1"); n != 2 {
		t.Errorf("second increment = %d, want 2", n)
	}

	emitter.mu.Lock()
	defer emitter.mu.Unlock()
	if len(emitter.events) != 2 {
		t.Fatalf("emits = %d, want 2", len(emitter.events))
	}
	if emitter.events[0].event != "badge_updated" || emitter.events[0].userID != "u1" {
		t.Errorf("emit = %+v", emitter.events[0])
	}
}

func TestBadgeClear(t *testing.T) {
	emitter := &fakeEmitter{}
	st := &fakeBadgeStore{unread: map[string]int64{"u1": 5}}
	b := NewBadgeService(testCache(), st, emitter)
	ctx := context.Background()

	b.Increment(ctx, "u1")
	if err := b.Clear(ctx, "u1"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if len(st.marked) != 1 || st.marked[0] != "u1" {
		t.Errorf("marked = %v, want [u1]", st.marked)
	}

	n, err := b.Current(ctx, "u1")
	if err != nil {
		t.Fatalf("Current: %v", err)
	}
	if n != 0 {
		t.Errorf("unread after clear = %d, want 0", n)
	}
}
