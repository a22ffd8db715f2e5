// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

// Package bus is the Kafka transport layer.
//
// It owns the topic inventory, an idempotent producer, and the consumer
// group runner the workers are built on. Delivery is at-least-once:
// offsets are committed only after a handler acks, so a crash between
// processing and commit redelivers. Handlers must tolerate duplicates.
//
// A handler returns one of three verdicts per message. Ack commits the
// offset. Retry withholds the commit and tears the session down so the
// message is redelivered after a cooldown. DeadLetter forwards the raw
// bytes to the dead-letter topic and commits, removing a poison message
// from the flow without losing it.
//
// Ordering holds per partition key only. Chat messages key on room,
// user and notification events key on user, so every consumer observes
// a single room's or user's events in publish order.
package bus
