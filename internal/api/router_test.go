// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"

	"github.com/chatrelay-io/chatrelay/internal/bus"
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

type fakeChecker struct{ status bus.HealthStatus }

func (f *fakeChecker) Check() *bus.HealthStatus {
	s := f.status
	return &s
}

type fakeCache struct{ state string }

func (f *fakeCache) BreakerState() string { return f.state }

type fakePinger struct{ err error }

func (f *fakePinger) Ping(context.Context) error { return f.err }

func testRouter(healthy bool, dbErr error) *Router {
	ws := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusSwitchingProtocols)
	})
	return New(ws,
		&fakeChecker{status: bus.HealthStatus{Healthy: healthy, Brokers: 3}},
		&fakeCache{state: "closed"},
		&fakePinger{err: dbErr},
	)
}

func TestHealthzHealthy(t *testing.T) {
	h := testRouter(true, nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Status != "ok" || resp.Cache != "closed" || resp.Database != "ok" {
		t.Errorf("response = %+v, want all ok", resp)
	}
	if resp.Bus == nil || resp.Bus.Brokers != 3 {
		t.Errorf("bus status = %+v, want 3 brokers", resp.Bus)
	}
}

func TestHealthzDegradedWhenBusDown(t *testing.T) {
	h := testRouter(false, nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}

func TestHealthzReportsDatabaseError(t *testing.T) {
	h := testRouter(true, errors.New("dial tcp: connection refused")).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	// Database trouble is reported but does not flip the status code.
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	var resp healthResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if resp.Database == "ok" {
		t.Error("database error was not surfaced")
	}
}

func TestMetricsEndpointServes(t *testing.T) {
	h := testRouter(true, nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if rec.Body.Len() == 0 {
		t.Error("metrics body is empty")
	}
}

func TestWebsocketRouteMounted(t *testing.T) {
	h := testRouter(true, nil).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ws", nil))

	if rec.Code != http.StatusSwitchingProtocols {
		t.Errorf("status = %d, want 101 from the mounted handler", rec.Code)
	}
}
