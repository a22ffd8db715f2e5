// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package worker

import (
	"io"
	"sync"
	"testing"
	"time"

	"github.com/chatrelay-io/chatrelay/internal/bus"
	"github.com/chatrelay-io/chatrelay/internal/cache"
	"github.com/chatrelay-io/chatrelay/internal/config"
	"github.com/chatrelay-io/chatrelay/internal/events"
	"github.com/chatrelay-io/chatrelay/internal/logging"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

// testCache builds a client whose remote is unreachable, so every
// operation lands on the local fallback after the breaker trips.
func testCache() *cache.Client {
	return cache.New(config.RedisConfig{
		Addr:                    "127.0.0.1:1",
		DialTimeout:             50 * time.Millisecond,
		BreakerFailureThreshold: 1,
		BreakerOpenTimeout:      time.Minute,
	})
}

func testWorkersConfig() config.WorkersConfig {
	return config.WorkersConfig{
		BatchSize:           2,
		FlushInterval:       20 * time.Millisecond,
		MaintenanceInterval: 10 * time.Millisecond,
		GatewayReadyRetries: 2,
		GatewayReadyDelay:   time.Millisecond,
	}
}

// emit records one gateway fan-out.
type emit struct {
	scope  string // "room", "user", or "broadcast"
	target string
	event  string
	data   interface{}
}

// fakeGateway records emits instead of pushing to sockets.
type fakeGateway struct {
	mu     sync.Mutex
	ready  bool
	online map[string]bool
	emits  []emit
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{ready: true, online: make(map[string]bool)}
}

func (g *fakeGateway) EmitToRoom(roomID, event string, data interface{}) {
	g.record(emit{scope: "room", target: roomID, event: event, data: data})
}

func (g *fakeGateway) EmitToUser(userID, event string, data interface{}) {
	g.record(emit{scope: "user", target: userID, event: event, data: data})
}

func (g *fakeGateway) Broadcast(event string, data interface{}) {
	g.record(emit{scope: "broadcast", event: event, data: data})
}

func (g *fakeGateway) IsUserOnline(userID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.online[userID]
}

func (g *fakeGateway) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.ready
}

func (g *fakeGateway) record(e emit) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.emits = append(g.emits, e)
}

func (g *fakeGateway) recorded() []emit {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]emit, len(g.emits))
	copy(out, g.emits)
	return out
}

// matching returns the recorded emits for one scope and event.
func (g *fakeGateway) matching(scope, event string) []emit {
	var out []emit
	for _, e := range g.recorded() {
		if e.scope == scope && e.event == event {
			out = append(out, e)
		}
	}
	return out
}

// busMessage wraps a payload the way the producer would put it on the
// wire.
func busMessage(t *testing.T, topic string, payload any) *bus.Message {
	t.Helper()
	data, err := events.Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	return &bus.Message{Topic: topic, Value: data}
}

func TestBatchThresholdAndDrain(t *testing.T) {
	b := newBatch[string](3)
	if b.add("a") || b.add("b") {
		t.Error("batch reported full before threshold")
	}
	if !b.add("c") {
		t.Error("batch did not report full at threshold")
	}
	got := b.drain()
	if len(got) != 3 || got[0] != "a" || got[2] != "c" {
		t.Errorf("drain = %v, want [a b c]", got)
	}
	if b.len() != 0 {
		t.Errorf("len after drain = %d, want 0", b.len())
	}
}

func TestBatchRequeuePreservesOrder(t *testing.T) {
	b := newBatch[string](10)
	b.add("a")
	b.add("b")
	failed := b.drain()
	b.add("c") // arrives while the flush is failing
	b.requeue(failed)

	got := b.drain()
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("drain returned %d items, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("item %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestRoomParticipants(t *testing.T) {
	tests := []struct {
		name   string
		roomID string
		sender string
		want   []string
	}{
		{"direct room", "alice:bob", "alice", []string{"alice", "bob"}},
		{"group room", "lobby", "alice", []string{"alice"}},
		{"empty half", "alice:", "alice", []string{"alice"}},
		{"too many parts", "a:b:c", "a", []string{"a"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := roomParticipants(tt.roomID, tt.sender)
			if len(got) != len(tt.want) {
				t.Fatalf("participants = %v, want %v", got, tt.want)
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("participant %d = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestCounterpart(t *testing.T) {
	if got := counterpart("alice:bob", "alice"); got != "bob" {
		t.Errorf("counterpart = %q, want bob", got)
	}
	if got := counterpart("lobby", "alice"); got != "" {
		t.Errorf("counterpart for group room = %q, want empty", got)
	}
}
