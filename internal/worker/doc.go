// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

// Package worker holds the three bus consumers and the maintenance task.
//
// The realtime worker fans events out to connected sockets. The
// persistence worker micro-batches events into the store. The
// notification worker runs the delivery pipeline: preference gate, rate
// cap, durable record, badge, socket emit, push, optional email, and a
// delivery-channel analytics record per processed event.
//
// Each worker exposes a bus.Handler; the consumer group runner owns the
// offsets. Handlers are written for at-least-once delivery: a chat
// message inserted twice hits the store's idempotent insert, a
// notification delivered twice is bounded by the rate gate.
package worker
