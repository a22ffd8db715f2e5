// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

// Package metrics exposes Prometheus instrumentation for the event bus,
// cache client, workers, socket gateway, and push dispatcher.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event bus

	MessagesProduced = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_produced_total",
			Help: "Total messages successfully produced, by topic",
		},
		[]string{"topic"},
	)

	ProduceErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_produce_errors_total",
			Help: "Total produce failures after retries, by topic",
		},
		[]string{"topic"},
	)

	MessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_messages_consumed_total",
			Help: "Total messages consumed, by group and verdict (ack, retry, dead_letter)",
		},
		[]string{"group", "verdict"},
	)

	DeadLettered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_dead_lettered_total",
			Help: "Total messages forwarded to the dead-letter queue, by original topic",
		},
		[]string{"topic"},
	)

	ConsumerRestarts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "bus_consumer_restarts_total",
			Help: "Consumer session recreations after a crash, by group",
		},
		[]string{"group"},
	)

	// Cache client

	CacheFallbackActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "cache_fallback_active",
			Help: "1 when the circuit breaker routes cache traffic to the local fallback",
		},
	)

	CacheOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_operations_total",
			Help: "Cache operations, by backend (remote, local) and outcome (ok, error)",
		},
		[]string{"backend", "outcome"},
	)

	// Persistence worker

	BatchFlushDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batch_flush_duration_seconds",
			Help:    "Duration of persistence batch flushes, by batch type",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"batch"},
	)

	BatchFlushSize = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "batch_flush_size",
			Help:    "Items per flush, by batch type",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500},
		},
		[]string{"batch"},
	)

	BatchFlushErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "batch_flush_errors_total",
			Help: "Failed flushes whose items were re-queued, by batch type",
		},
		[]string{"batch"},
	)

	// Socket gateway

	GatewayClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gateway_connected_clients",
			Help: "Currently connected websocket clients",
		},
	)

	GatewayEmits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_emits_total",
			Help: "Events emitted to clients, by event name",
		},
		[]string{"event"},
	)

	// Notifications and push

	NotificationsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notifications_processed_total",
			Help: "Notification events processed, by outcome (delivered, opted_out, rate_limited, failed)",
		},
		[]string{"outcome"},
	)

	PushSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "push_sends_total",
			Help: "Per-token push outcomes, by result (success, permanent_failure, transient_failure)",
		},
		[]string{"result"},
	)

	PushTokensDeactivated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "push_tokens_deactivated_total",
			Help: "Device tokens deactivated after permanent delivery errors",
		},
	)
)
