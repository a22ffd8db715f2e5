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

	"github.com/chatrelay-io/chatrelay/internal/config"
)

type fakeMaintenanceStore struct {
	mu       sync.Mutex
	horizons []time.Time
	err      error
}

func (f *fakeMaintenanceStore) PruneExpired(_ context.Context, before time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.horizons = append(f.horizons, before)
	if f.err != nil {
		return 0, f.err
	}
	return 3, nil
}

func (f *fakeMaintenanceStore) pruneCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.horizons)
}

func TestPruneUsesRetentionHorizon(t *testing.T) {
	st := &fakeMaintenanceStore{}
	w := NewMaintenanceWorker(st, testWorkersConfig(), config.DatabaseConfig{RetentionDays: 30})

	w.prune(context.Background())

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.horizons) != 1 {
		t.Fatalf("prune calls = %d, want 1", len(st.horizons))
	}
	want := time.Now().UTC().Add(-30 * 24 * time.Hour)
	if diff := st.horizons[0].Sub(want); diff < -time.Minute || diff > time.Minute {
		t.Errorf("horizon = %v, want about %v", st.horizons[0], want)
	}
}

func TestServePrunesOnInterval(t *testing.T) {
	st := &fakeMaintenanceStore{}
	w := NewMaintenanceWorker(st, testWorkersConfig(), config.DatabaseConfig{RetentionDays: 30})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Serve(ctx)
	}()

	deadline := time.After(time.Second)
	for st.pruneCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("maintenance did not prune on the interval")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}

func TestPruneFailureDoesNotStopServe(t *testing.T) {
	st := &fakeMaintenanceStore{err: errors.New("db down")}
	w := NewMaintenanceWorker(st, testWorkersConfig(), config.DatabaseConfig{RetentionDays: 30})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Serve(ctx)
	}()

	deadline := time.After(time.Second)
	for st.pruneCount() < 2 {
		select {
		case <-deadline:
			t.Fatal("serve loop stopped after a failed prune")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	<-done
}
