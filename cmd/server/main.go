// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

// Package main is the entry point for the ChatRelay server.
//
// ChatRelay is the event backbone behind a real-time chat product. Chat
// traffic enters the Kafka bus and fans out to three consumer groups:
// realtime delivery over WebSocket, batched persistence into Postgres,
// and the notification pipeline (badge counters, FCM push, optional
// email). Redis fronts the hot state (presence, room logs, unread
// counters) with a circuit-broken local fallback.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered Koanf v2 sources (defaults, YAML, env)
//  2. Cache: Redis client with breaker-guarded local fallback
//  3. Store: Postgres via GORM with schema migration
//  4. Bus: topic provisioning, idempotent producer, consumer groups
//  5. Gateway: WebSocket hub and upgrade handler
//  6. Push: FCM multicast sender (if credentials are configured)
//  7. Workers: realtime, persistence, notification, maintenance
//  8. HTTP: operational endpoints (/ws, /healthz, /metrics)
//
// All long-running components run under a suture supervisor tree with
// three layers (data, messaging, api) for failure isolation: a crashed
// consumer session rejoins its group without dropping open sockets.
//
// # Configuration
//
// Environment variables use the CHATRELAY_ prefix with double
// underscores for nesting:
//
//	export CHATRELAY_KAFKA__BROKERS=broker-1:9092,broker-2:9092
//	export CHATRELAY_DATABASE__DSN="host=db user=chatrelay dbname=chatrelay"
//	export CHATRELAY_REDIS__ADDR=redis:6379
//	export CHATRELAY_PUSH__CREDENTIALS_FILE=/etc/chatrelay/fcm.json
//	./chatrelay
//
// # Signal Handling
//
// SIGINT and SIGTERM trigger graceful shutdown: the HTTP server stops
// accepting connections, consumer sessions leave their groups, pending
// persistence batches drain, and open sockets receive close frames.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/chatrelay-io/chatrelay/internal/api"
	"github.com/chatrelay-io/chatrelay/internal/bus"
	"github.com/chatrelay-io/chatrelay/internal/cache"
	"github.com/chatrelay-io/chatrelay/internal/config"
	"github.com/chatrelay-io/chatrelay/internal/events"
	"github.com/chatrelay-io/chatrelay/internal/gateway"
	"github.com/chatrelay-io/chatrelay/internal/logging"
	"github.com/chatrelay-io/chatrelay/internal/push"
	"github.com/chatrelay-io/chatrelay/internal/store"
	"github.com/chatrelay-io/chatrelay/internal/supervisor"
	"github.com/chatrelay-io/chatrelay/internal/worker"
)

func main() {
	// Load configuration first to get logging settings
	cfg, err := config.Load()
	if err != nil {
		// Use default logger for config errors (config not yet available)
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})

	logging.Info().
		Strs("brokers", cfg.Kafka.Brokers).
		Str("redis", cfg.Redis.Addr).
		Msg("Starting ChatRelay")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cacheClient := cache.New(cfg.Redis)
	defer func() {
		if err := cacheClient.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing cache client")
		}
	}()

	st, err := store.Open(cfg.Database)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to open store")
	}
	defer func() {
		if err := st.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing store")
		}
	}()
	logging.Info().Msg("Store initialized")

	if err := bus.EnsureTopics(cfg.Kafka); err != nil {
		logging.Fatal().Err(err).Msg("Failed to provision topics")
	}

	producer, err := bus.NewProducer(cfg.Kafka)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create producer")
	}
	defer func() {
		if err := producer.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing producer")
		}
	}()

	// Gateway hub. Client actions (join, leave, typing) are forwarded to
	// the bus so every instance's realtime consumer sees them.
	hub := gateway.NewHub()
	hub.SetInboundHandler(func(userID, action, roomID string) {
		e := events.NewUserEvent(userID, actionEventType(action))
		e.RoomID = roomID
		if err := producer.PublishUserEvent(e); err != nil {
			logging.Warn().Err(err).Str("action", action).Msg("failed to publish client action")
		}
	})
	wsHandler := gateway.NewHandler(hub, cfg.Gateway)

	var sender push.MulticastSender
	if cfg.Push.CredentialsFile != "" {
		fcm, err := push.NewFCMSender(ctx, cfg.Push.CredentialsFile)
		if err != nil {
			logging.Error().Err(err).Msg("Failed to initialize FCM, push delivery disabled")
		} else {
			sender = fcm
			logging.Info().Msg("FCM sender initialized")
		}
	}
	dispatcher := push.NewDispatcher(sender, st, cacheClient, cfg.Push)
	badge := push.NewBadgeService(cacheClient, st, hub)

	realtime := worker.NewRealtimeWorker(hub, cacheClient, producer, cfg.Workers)
	persistence := worker.NewPersistenceWorker(st, cacheClient, cfg.Workers)
	notification := worker.NewNotificationWorker(hub, cacheClient, st, dispatcher, badge, nil, producer, cfg.Notify)
	maintenance := worker.NewMaintenanceWorker(st, cfg.Workers, cfg.Database)

	realtimeConsumer, err := bus.NewConsumer(cfg.Kafka, bus.GroupRealtime,
		[]string{bus.TopicChatMessages, bus.TopicUserEvents}, realtime.Handle, producer)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create realtime consumer")
	}
	persistConsumer, err := bus.NewConsumer(cfg.Kafka, bus.GroupPersistence,
		[]string{bus.TopicChatMessages, bus.TopicUserEvents, bus.TopicAnalytics}, persistence.Handle, producer)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create persistence consumer")
	}
	notifyConsumer, err := bus.NewConsumer(cfg.Kafka, bus.GroupNotification,
		[]string{bus.TopicNotifications}, notification.Handle, producer)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create notification consumer")
	}

	health := bus.NewHealthChecker(cfg.Kafka, realtimeConsumer, persistConsumer, notifyConsumer)
	router := api.New(wsHandler, health, cacheClient, st)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router.Handler(),
		ReadTimeout:  cfg.Server.Timeout,
		WriteTimeout: cfg.Server.Timeout,
		IdleTimeout:  60 * time.Second,
	}

	tree, err := supervisor.NewSupervisorTree(logging.NewSlogLogger(), supervisor.DefaultTreeConfig())
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to create supervisor tree")
	}

	tree.AddMessagingService(supervisor.WrapFunc("socket-hub", hub.RunWithContext))
	tree.AddMessagingService(supervisor.Wrap("realtime-consumer", realtimeConsumer))
	tree.AddMessagingService(supervisor.Wrap("persistence-consumer", persistConsumer))
	tree.AddMessagingService(supervisor.Wrap("notification-consumer", notifyConsumer))

	tree.AddDataService(supervisor.Wrap("persistence-flush", persistence))
	tree.AddDataService(supervisor.Wrap("maintenance", maintenance))

	tree.AddAPIService(supervisor.NewHTTPServerService(server, 10*time.Second))
	logging.Info().Str("addr", server.Addr).Msg("HTTP server service added")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logging.Info().Str("signal", sig.String()).Msg("Received shutdown signal")
		cancel()
	}()

	logging.Info().Msg("Starting supervisor tree")
	errCh := tree.ServeBackground(ctx)

	select {
	case <-ctx.Done():
		logging.Info().Msg("Context canceled, waiting for supervisor to finish")
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor tree error")
		}
	}

	// Wait for the error channel to close (supervisor finished)
	for err := range errCh {
		if err != nil && !errors.Is(err, context.Canceled) {
			logging.Error().Err(err).Msg("Supervisor shutdown error")
		}
	}

	// Report any services that failed to stop within timeout
	unstopped, _ := tree.UnstoppedServiceReport()
	if len(unstopped) > 0 {
		logging.Warn().Int("count", len(unstopped)).Msg("Services failed to stop within timeout")
		for _, svc := range unstopped {
			logging.Warn().Str("service", svc.Name).Msg("Service failed to stop")
		}
	}

	logging.Info().Msg("ChatRelay stopped gracefully")
}

// actionEventType maps a client socket action to its bus event type.
func actionEventType(action string) string {
	switch action {
	case gateway.ActionJoinRoom:
		return events.UserEventJoinRoom
	case gateway.ActionLeaveRoom:
		return events.UserEventLeaveRoom
	default:
		return events.UserEventTyping
	}
}
