// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package cache

import (
	"sync"
	"time"
)

// SlidingWindowCounter is a memory-efficient sliding window counter. Time
// is divided into buckets whose sum gives the count within the window.
//
// The notification worker uses one counter per user+type pair to enforce
// hourly delivery caps. Because a user's events always land on the same
// partition, and one consumer owns a partition, a process-local counter
// observes every event for that user.
//
// Complexity:
//   - Increment: O(1)
//   - Count: O(k) where k = number of buckets
//   - Memory: O(k) per counter
type SlidingWindowCounter struct {
	mu         sync.Mutex
	buckets    []int64
	bucketSize time.Duration
	windowSize time.Duration
	numBuckets int
	current    int
	lastUpdate time.Time
}

// NewSlidingWindowCounter creates a counter over windowSize divided into
// numBuckets buckets.
func NewSlidingWindowCounter(windowSize time.Duration, numBuckets int) *SlidingWindowCounter {
	if numBuckets <= 0 {
		numBuckets = 12
	}
	if windowSize <= 0 {
		windowSize = time.Hour
	}
	return &SlidingWindowCounter{
		buckets:    make([]int64, numBuckets),
		bucketSize: windowSize / time.Duration(numBuckets),
		windowSize: windowSize,
		numBuckets: numBuckets,
		lastUpdate: time.Now(),
	}
}

// Increment adds delta to the current bucket.
func (sw *SlidingWindowCounter) Increment(delta int64) {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.advance()
	sw.buckets[sw.current] += delta
}

// Count returns the total across all buckets in the window.
func (sw *SlidingWindowCounter) Count() int64 {
	sw.mu.Lock()
	defer sw.mu.Unlock()
	sw.advance()
	var total int64
	for _, n := range sw.buckets {
		total += n
	}
	return total
}

// advance rotates the window forward; must be called with the lock held.
func (sw *SlidingWindowCounter) advance() {
	now := time.Now()
	elapsed := int(now.Sub(sw.lastUpdate) / sw.bucketSize)
	if elapsed <= 0 {
		return
	}
	if elapsed >= sw.numBuckets {
		for i := range sw.buckets {
			sw.buckets[i] = 0
		}
		sw.current = 0
	} else {
		for i := 0; i < elapsed; i++ {
			sw.current = (sw.current + 1) % sw.numBuckets
			sw.buckets[sw.current] = 0
		}
	}
	sw.lastUpdate = now
}

// SlidingWindowStore manages sliding window counters keyed by string,
// evicting the least-recently-touched counter past maxKeys.
type SlidingWindowStore struct {
	mu         sync.Mutex
	counters   map[string]*storedCounter
	windowSize time.Duration
	numBuckets int
	maxKeys    int
}

type storedCounter struct {
	counter *SlidingWindowCounter
	touched time.Time
}

// NewSlidingWindowStore creates a store of per-key counters. maxKeys of 0
// means unlimited.
func NewSlidingWindowStore(windowSize time.Duration, numBuckets, maxKeys int) *SlidingWindowStore {
	return &SlidingWindowStore{
		counters:   make(map[string]*storedCounter),
		windowSize: windowSize,
		numBuckets: numBuckets,
		maxKeys:    maxKeys,
	}
}

// Increment adds 1 to the counter for key, creating it if needed.
func (s *SlidingWindowStore) Increment(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sc, ok := s.counters[key]
	if !ok {
		if s.maxKeys > 0 && len(s.counters) >= s.maxKeys {
			s.evictOldest()
		}
		sc = &storedCounter{counter: NewSlidingWindowCounter(s.windowSize, s.numBuckets)}
		s.counters[key] = sc
	}
	sc.touched = time.Now()
	sc.counter.Increment(1)
}

// Allow increments the counter for key if the windowed count is below
// limit, returning whether the event was admitted.
func (s *SlidingWindowStore) Allow(key string, limit int64) bool {
	if s.Count(key) >= limit {
		return false
	}
	s.Increment(key)
	return true
}

// Count returns the windowed count for key.
func (s *SlidingWindowStore) Count(key string) int64 {
	s.mu.Lock()
	sc, ok := s.counters[key]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return sc.counter.Count()
}

// Len returns the number of live counters.
func (s *SlidingWindowStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.counters)
}

// evictOldest drops the least-recently-touched counter; lock must be held.
func (s *SlidingWindowStore) evictOldest() {
	var oldestKey string
	var oldest time.Time
	for key, sc := range s.counters {
		if oldestKey == "" || sc.touched.Before(oldest) {
			oldestKey = key
			oldest = sc.touched
		}
	}
	if oldestKey != "" {
		delete(s.counters, oldestKey)
	}
}
