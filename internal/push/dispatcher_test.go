// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package push

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/chatrelay-io/chatrelay/internal/cache"
	"github.com/chatrelay-io/chatrelay/internal/config"
	"github.com/chatrelay-io/chatrelay/internal/logging"
	"github.com/chatrelay-io/chatrelay/internal/store"
)

//nolint:gochecknoinits // init ensures consistent logging for tests
func init() {
	logging.Init(logging.Config{
		Level:  "info",
		Format: "console",
		Output: io.Discard,
	})
}

// fakeSender scripts multicast outcomes.
type fakeSender struct {
	mu      sync.Mutex
	results map[string]SendResult // keyed by token
	err     error
	calls   [][]string
}

func (f *fakeSender) SendMulticast(_ context.Context, tokens []string, _ *Payload) ([]SendResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, tokens)
	if f.err != nil {
		return nil, f.err
	}
	out := make([]SendResult, len(tokens))
	for i, tok := range tokens {
		if r, ok := f.results[tok]; ok {
			out[i] = r
		} else {
			out[i] = SendResult{Token: tok}
		}
	}
	return out, nil
}

func (f *fakeSender) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// fakeDeviceStore is an in-memory DeviceStore.
type fakeDeviceStore struct {
	mu       sync.Mutex
	devices  map[string]*store.DeviceToken // keyed by token
	receipts []*store.PushReceipt
}

func newFakeDeviceStore() *fakeDeviceStore {
	return &fakeDeviceStore{devices: make(map[string]*store.DeviceToken)}
}

func (f *fakeDeviceStore) ActiveDevices(_ context.Context, userID string, since time.Time, limit int) ([]*store.DeviceToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*store.DeviceToken
	for _, d := range f.devices {
		if d.UserID == userID && d.Active && !d.LastSeenAt.Before(since) {
			out = append(out, d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LastSeenAt.After(out[j].LastSeenAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f *fakeDeviceStore) UpsertDevice(_ context.Context, d *store.DeviceToken) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	d.Active = true
	f.devices[d.Token] = d
	return nil
}

func (f *fakeDeviceStore) CountActiveDevices(_ context.Context, userID string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for _, d := range f.devices {
		if d.UserID == userID && d.Active {
			n++
		}
	}
	return n, nil
}

func (f *fakeDeviceStore) DeactivateOldestDevice(_ context.Context, userID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var oldest *store.DeviceToken
	for _, d := range f.devices {
		if d.UserID != userID || !d.Active {
			continue
		}
		if oldest == nil || d.LastSeenAt.Before(oldest.LastSeenAt) {
			oldest = d
		}
	}
	if oldest == nil {
		return "", nil
	}
	oldest.Active = false
	return oldest.Token, nil
}

func (f *fakeDeviceStore) DeactivateTokens(_ context.Context, tokens []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, tok := range tokens {
		if d, ok := f.devices[tok]; ok {
			d.Active = false
		}
	}
	return nil
}

func (f *fakeDeviceStore) InsertPushReceipt(_ context.Context, r *store.PushReceipt) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts = append(f.receipts, r)
	return nil
}

func (f *fakeDeviceStore) active(userID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for tok, d := range f.devices {
		if d.UserID == userID && d.Active {
			out = append(out, tok)
		}
	}
	sort.Strings(out)
	return out
}

// testCache builds a client whose remote is unreachable, so everything
// runs on the local fallback.
func testCache() *cache.Client {
	return cache.New(config.RedisConfig{
		Addr:                    "127.0.0.1:1",
		DialTimeout:             50 * time.Millisecond,
		BreakerFailureThreshold: 1,
		BreakerOpenTimeout:      time.Minute,
	})
}

func testPushConfig() config.PushConfig {
	return config.PushConfig{
		DeviceCap:          3,
		DeviceWindow:       30 * 24 * time.Hour,
		MaxDevicesPerQuery: 500,
		DeviceListTTL:      5 * time.Minute,
	}
}

func setupDispatcher(sender MulticastSender) (*Dispatcher, *fakeDeviceStore) {
	st := newFakeDeviceStore()
	d := NewDispatcher(sender, st, testCache(), testPushConfig())
	return d, st
}

func register(t *testing.T, d *Dispatcher, userID string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		token := fmt.Sprintf("tok-%d", i)
		if err := d.RegisterDevice(context.Background(), userID, token, "ios"); err != nil {
			t.Fatalf("RegisterDevice(%s): %v", token, err)
		}
		time.Sleep(time.Millisecond) // distinct LastSeenAt ordering
	}
}

func TestRegisterDeviceCapEvictsOldest(t *testing.T) {
	d, st := setupDispatcher(&fakeSender{})

	// Cap is 3; the two oldest of five must be evicted.
	register(t, d, "u1", 5)

	got := st.active("u1")
	want := []string{"tok-2", "tok-3", "tok-4"}
	if len(got) != len(want) {
		t.Fatalf("active devices = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("active[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestDispatchSingleMulticastPerUser(t *testing.T) {
	sender := &fakeSender{}
	d, _ := setupDispatcher(sender)
	register(t, d, "u1", 3)

	out := d.Dispatch(context.Background(), "u1", "message", &Payload{Title: "hi"})
	if out.DeviceCount != 3 || out.SuccessCount != 3 {
		t.Errorf("outcome = %+v, want 3 devices all delivered", out)
	}
	if sender.callCount() != 1 {
		t.Errorf("multicast calls = %d, want 1", sender.callCount())
	}
	if len(sender.calls[0]) != 3 {
		t.Errorf("tokens in call = %d, want 3", len(sender.calls[0]))
	}
}

func TestDispatchClassifiesPerToken(t *testing.T) {
	sender := &fakeSender{results: map[string]SendResult{
		"tok-0": {Token: "tok-0"},
		"tok-1": {Token: "tok-1", Err: errors.New("unregistered"), Permanent: true},
		"tok-2": {Token: "tok-2", Err: errors.New("unavailable")},
	}}
	d, st := setupDispatcher(sender)
	register(t, d, "u1", 3)

	out := d.Dispatch(context.Background(), "u1", "message", &Payload{Title: "hi", Body: "there"})
	if out.SuccessCount != 1 || out.FailureCount != 2 {
		t.Errorf("outcome = %+v, want 1 success 2 failures", out)
	}

	// Permanent failure deactivates; transient failure keeps the token.
	active := st.active("u1")
	if len(active) != 2 {
		t.Fatalf("active = %v, want tok-0 and tok-2", active)
	}
	for _, tok := range active {
		if tok == "tok-1" {
			t.Error("permanently failed token still active")
		}
	}

	if len(st.receipts) != 1 {
		t.Fatalf("receipts = %d, want 1", len(st.receipts))
	}
	r := st.receipts[0]
	if r.DeviceCount != 3 || r.SuccessCount != 1 || r.FailureCount != 2 || r.Outcome != "partial" {
		t.Errorf("receipt = %+v", r)
	}
	if r.Type != "message" || r.Title != "hi" || r.Body != "there" {
		t.Errorf("receipt payload = type %s title %s body %s, want message/hi/there", r.Type, r.Title, r.Body)
	}
}

func TestDispatchWithoutProviderReportsFailure(t *testing.T) {
	d, st := setupDispatcher(nil)
	register(t, d, "u1", 2)

	out := d.Dispatch(context.Background(), "u1", "message", &Payload{Title: "hi"})
	if !out.Reported {
		t.Error("outcome should be reported when no provider is configured")
	}
	if out.Delivered() {
		t.Error("nothing can be delivered without a provider")
	}
	if len(st.receipts) != 1 || st.receipts[0].Outcome != "no_provider" {
		t.Errorf("receipts = %+v, want one no_provider receipt", st.receipts)
	}
}

func TestDispatchNoDevices(t *testing.T) {
	sender := &fakeSender{}
	d, st := setupDispatcher(sender)

	out := d.Dispatch(context.Background(), "u1", "message", &Payload{Title: "hi"})
	if out.DeviceCount != 0 || out.Reported {
		t.Errorf("outcome = %+v, want empty non-reported outcome", out)
	}
	if sender.callCount() != 0 {
		t.Error("no multicast should be attempted without devices")
	}
	if len(st.receipts) != 0 {
		t.Error("no receipt expected without devices")
	}
}

func TestDispatchErrorQueuesRetry(t *testing.T) {
	sender := &fakeSender{err: errors.New("provider outage")}
	d, _ := setupDispatcher(sender)
	register(t, d, "u1", 1)

	out := d.Dispatch(context.Background(), "u1", "message", &Payload{Title: "hi"})
	if !out.Reported {
		t.Fatal("dispatch-level failure should be reported")
	}

	// Provider recovers; the next dispatch drains the queued retry
	// before its own send.
	sender.mu.Lock()
	sender.err = nil
	sender.mu.Unlock()

	d.Dispatch(context.Background(), "u1", "message", &Payload{Title: "again"})
	if got := sender.callCount(); got != 3 {
		t.Errorf("multicast calls = %d, want 3 (failed, retried, current)", got)
	}
}

func TestResolveDevicesUsesCache(t *testing.T) {
	d, st := setupDispatcher(&fakeSender{})
	register(t, d, "u1", 2)

	first, err := d.ResolveDevices(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ResolveDevices: %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("devices = %d, want 2", len(first))
	}

	// Mutate the store behind the cache; the cached list must win until
	// invalidation.
	if err := st.DeactivateTokens(context.Background(), first[:1]); err != nil {
		t.Fatal(err)
	}
	second, err := d.ResolveDevices(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ResolveDevices: %v", err)
	}
	if len(second) != 2 {
		t.Errorf("cached devices = %d, want 2", len(second))
	}

	// Registration invalidates; resolution now sees the store again.
	if err := d.RegisterDevice(context.Background(), "u1", "tok-new", "ios"); err != nil {
		t.Fatal(err)
	}
	third, err := d.ResolveDevices(context.Background(), "u1")
	if err != nil {
		t.Fatalf("ResolveDevices: %v", err)
	}
	if len(third) != 2 {
		t.Errorf("devices after invalidation = %d, want 2 (one deactivated, one added)", len(third))
	}
}
