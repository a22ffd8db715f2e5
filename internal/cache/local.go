// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

// localBackend is the in-process fallback store. It mirrors the remote
// backend's TTL semantics with lazy expiry: expired entries are removed
// when touched, not by a background sweeper. State is process-local; entries
// written during an outage are not replayed to the remote store.
type localBackend struct {
	mu      sync.Mutex
	strings map[string]*localEntry
	lists   map[string]*localList
	sets    map[string]*localSet
	hashes  map[string]*localHash
	subs    map[string][]chan string
}

type localEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

type localList struct {
	items     []string
	expiresAt time.Time
}

type localSet struct {
	members   map[string]struct{}
	expiresAt time.Time
}

type localHash struct {
	fields    map[string]string
	expiresAt time.Time
}

// newLocalBackend creates an empty in-process backend.
func newLocalBackend() *localBackend {
	return &localBackend{
		strings: make(map[string]*localEntry),
		lists:   make(map[string]*localList),
		sets:    make(map[string]*localSet),
		hashes:  make(map[string]*localHash),
		subs:    make(map[string][]chan string),
	}
}

func expired(at time.Time) bool {
	return !at.IsZero() && time.Now().After(at)
}

func ttlDeadline(ttl time.Duration) time.Time {
	if ttl <= 0 {
		return time.Time{}
	}
	return time.Now().Add(ttl)
}

// sweep removes the key from every namespace if its entry has expired.
// Must be called with mu held.
func (l *localBackend) sweep(key string) {
	if e, ok := l.strings[key]; ok && expired(e.expiresAt) {
		delete(l.strings, key)
	}
	if e, ok := l.lists[key]; ok && expired(e.expiresAt) {
		delete(l.lists, key)
	}
	if e, ok := l.sets[key]; ok && expired(e.expiresAt) {
		delete(l.sets, key)
	}
	if e, ok := l.hashes[key]; ok && expired(e.expiresAt) {
		delete(l.hashes, key)
	}
}

func (l *localBackend) Get(_ context.Context, key string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(key)
	e, ok := l.strings[key]
	if !ok {
		return "", ErrNotFound
	}
	return e.value, nil
}

func (l *localBackend) Set(_ context.Context, key, value string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.strings[key] = &localEntry{value: value, expiresAt: ttlDeadline(ttl)}
	return nil
}

func (l *localBackend) Del(_ context.Context, keys ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, key := range keys {
		delete(l.strings, key)
		delete(l.lists, key)
		delete(l.sets, key)
		delete(l.hashes, key)
	}
	return nil
}

func (l *localBackend) Expire(_ context.Context, key string, ttl time.Duration) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(key)
	deadline := ttlDeadline(ttl)
	if e, ok := l.strings[key]; ok {
		e.expiresAt = deadline
	}
	if e, ok := l.lists[key]; ok {
		e.expiresAt = deadline
	}
	if e, ok := l.sets[key]; ok {
		e.expiresAt = deadline
	}
	if e, ok := l.hashes[key]; ok {
		e.expiresAt = deadline
	}
	return nil
}

func (l *localBackend) LPush(_ context.Context, key string, values ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(key)
	list, ok := l.lists[key]
	if !ok {
		list = &localList{}
		l.lists[key] = list
	}
	// LPUSH prepends values one at a time, so the last value ends up first.
	for _, v := range values {
		list.items = append([]string{v}, list.items...)
	}
	return nil
}

func (l *localBackend) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(key)
	list, ok := l.lists[key]
	if !ok {
		return []string{}, nil
	}
	n := int64(len(list.items))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return []string{}, nil
	}
	out := make([]string, stop-start+1)
	copy(out, list.items[start:stop+1])
	return out, nil
}

func (l *localBackend) LTrim(_ context.Context, key string, start, stop int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(key)
	list, ok := l.lists[key]
	if !ok {
		return nil
	}
	n := int64(len(list.items))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		list.items = nil
		return nil
	}
	list.items = list.items[start : stop+1]
	return nil
}

func (l *localBackend) SAdd(_ context.Context, key string, members ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(key)
	set, ok := l.sets[key]
	if !ok {
		set = &localSet{members: make(map[string]struct{})}
		l.sets[key] = set
	}
	for _, m := range members {
		set.members[m] = struct{}{}
	}
	return nil
}

func (l *localBackend) SRem(_ context.Context, key string, members ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(key)
	set, ok := l.sets[key]
	if !ok {
		return nil
	}
	for _, m := range members {
		delete(set.members, m)
	}
	return nil
}

func (l *localBackend) SMembers(_ context.Context, key string) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(key)
	set, ok := l.sets[key]
	if !ok {
		return []string{}, nil
	}
	out := make([]string, 0, len(set.members))
	for m := range set.members {
		out = append(out, m)
	}
	return out, nil
}

func (l *localBackend) SIsMember(_ context.Context, key, member string) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(key)
	set, ok := l.sets[key]
	if !ok {
		return false, nil
	}
	_, found := set.members[member]
	return found, nil
}

func (l *localBackend) HSet(_ context.Context, key, field, value string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(key)
	h, ok := l.hashes[key]
	if !ok {
		h = &localHash{fields: make(map[string]string)}
		l.hashes[key] = h
	}
	h.fields[field] = value
	return nil
}

func (l *localBackend) HGet(_ context.Context, key, field string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(key)
	h, ok := l.hashes[key]
	if !ok {
		return "", ErrNotFound
	}
	v, found := h.fields[field]
	if !found {
		return "", ErrNotFound
	}
	return v, nil
}

func (l *localBackend) HDel(_ context.Context, key string, fields ...string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(key)
	h, ok := l.hashes[key]
	if !ok {
		return nil
	}
	for _, f := range fields {
		delete(h.fields, f)
	}
	return nil
}

func (l *localBackend) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.sweep(key)
	e, ok := l.strings[key]
	if !ok {
		e = &localEntry{value: "0"}
		l.strings[key] = e
	}
	n, err := strconv.ParseInt(e.value, 10, 64)
	if err != nil {
		n = 0
	}
	n++
	e.value = strconv.FormatInt(n, 10)
	e.expiresAt = ttlDeadline(ttl)
	return n, nil
}

func (l *localBackend) Publish(_ context.Context, channel, payload string) error {
	l.mu.Lock()
	subs := make([]chan string, len(l.subs[channel]))
	copy(subs, l.subs[channel])
	l.mu.Unlock()

	for _, ch := range subs {
		select {
		case ch <- payload:
		default:
			// Slow subscriber, drop rather than block the publisher.
		}
	}
	return nil
}

func (l *localBackend) Subscribe(_ context.Context, channel string) (<-chan string, func(), error) {
	ch := make(chan string, 64)
	l.mu.Lock()
	l.subs[channel] = append(l.subs[channel], ch)
	l.mu.Unlock()

	cancel := func() {
		l.mu.Lock()
		defer l.mu.Unlock()
		subs := l.subs[channel]
		for i, s := range subs {
			if s == ch {
				l.subs[channel] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}
	return ch, cancel, nil
}

func (l *localBackend) Ping(_ context.Context) error {
	return nil
}
