// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

// Package api exposes the operational HTTP surface: the websocket
// upgrade, liveness, and metrics. Business traffic rides the bus and the
// sockets, not REST routes.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatrelay-io/chatrelay/internal/bus"
	"github.com/chatrelay-io/chatrelay/internal/logging"
)

// BusChecker reports bus connectivity and consumer liveness.
type BusChecker interface {
	Check() *bus.HealthStatus
}

// Pinger is the database liveness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// CacheStatus reports the cache's circuit breaker position.
type CacheStatus interface {
	BreakerState() string
}

// Router wires the operational endpoints.
type Router struct {
	ws     http.Handler
	health BusChecker
	cache  CacheStatus
	db     Pinger
}

// New builds the ops router over the process's components.
func New(ws http.Handler, health BusChecker, cache CacheStatus, db Pinger) *Router {
	return &Router{ws: ws, health: health, cache: cache, db: db}
}

// Handler assembles the chi router.
func (rt *Router) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Handle("/ws", rt.ws)
	r.Get("/healthz", rt.healthz)
	r.Handle("/metrics", promhttp.Handler())

	return r
}

// healthResponse is the /healthz body.
type healthResponse struct {
	Status   string            `json:"status"`
	Bus      *bus.HealthStatus `json:"bus"`
	Cache    string            `json:"cache_breaker"`
	Database string            `json:"database"`
}

// healthz reports bus, cache, and database health in one document. The
// status code degrades to 503 only when the bus is down: the cache has a
// local fallback and a database outage stalls persistence without
// breaking realtime delivery.
func (rt *Router) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:   "ok",
		Bus:      rt.health.Check(),
		Cache:    rt.cache.BreakerState(),
		Database: "ok",
	}
	if err := rt.db.Ping(ctx); err != nil {
		resp.Database = err.Error()
	}

	code := http.StatusOK
	if !resp.Bus.Healthy {
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Error().Err(err).Msg("failed to encode health response")
	}
}
