// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

// Package push dispatches mobile push notifications across a user's
// registered devices.
//
// Device resolution is cached: the store query is bounded by a rolling
// recency window and a hard device limit, and the resolved token list is
// cached with a short TTL. Registration past the per-user device cap
// evicts the least recently seen active device.
//
// One multicast request covers all of a user's devices. Failures are
// classified per token: permanent failures (unregistered, invalid)
// deactivate the token, transient failures (unavailable, quota) are
// logged and left alone. A dispatcher without a configured provider
// reports failure instead of erroring so the notification flow never
// stalls on missing credentials.
package push
