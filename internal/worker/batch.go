// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package worker

import "sync"

// batch accumulates items for one multi-row insert. Arrival order is
// preserved; re-queued items go back to the front so a failed flush
// cannot reorder a partition's events.
type batch[T any] struct {
	mu        sync.Mutex
	items     []T
	threshold int
}

func newBatch[T any](threshold int) *batch[T] {
	return &batch[T]{threshold: threshold}
}

// add appends an item and reports whether the batch reached its flush
// threshold.
func (b *batch[T]) add(item T) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(b.items, item)
	return len(b.items) >= b.threshold
}

// drain takes the pending items, leaving the batch empty.
func (b *batch[T]) drain() []T {
	b.mu.Lock()
	defer b.mu.Unlock()
	items := b.items
	b.items = nil
	return items
}

// requeue puts failed items back at the front, ahead of anything that
// arrived during the flush.
func (b *batch[T]) requeue(items []T) {
	if len(items) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.items = append(items, b.items...)
}

func (b *batch[T]) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
