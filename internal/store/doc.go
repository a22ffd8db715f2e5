// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

// Package store is the relational persistence layer.
//
// A single Store wraps a gorm handle over Postgres. All writes arrive in
// batches from the persistence worker or as single rows from the
// notification path; reads serve the push dispatcher's device resolution
// and room history backfill. Retention pruning runs from the maintenance
// task.
//
// Message identifiers are uuid strings end-to-end, so inserts never
// depend on database-generated keys for correlation.
package store
