// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

// Package gateway implements the WebSocket fan-out layer.
//
// A single Hub owns all connected sockets. Clients register with a user
// identifier; a user may hold several sockets at once (phone plus laptop),
// and every emit to that user reaches all of them. Clients join and leave
// rooms over the socket, and room-scoped emits reach only members.
//
// The Hub runs as a supervised service via RunWithContext. Delivery is
// best-effort: a client whose send buffer is full is dropped rather than
// allowed to stall the fan-out loop. Durable delivery is the persistence
// worker's job, not the gateway's.
//
// Inbound client actions (join_room, leave_room, typing) update local room
// state and are forwarded to an optional inbound handler, which the caller
// typically wires to the event bus.
package gateway
