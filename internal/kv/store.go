/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

/*
Package kv implements the replicated state machine: a versioned keyspace
with TTL, compare-and-swap, best-effort watches, and snapshot/restore. It
applies committed raft log entries deterministically and serves local
reads under a reader-writer lock; reads take shared access, applies take
exclusive access.

last_applied and version_counter are the store's idempotency state:
last_applied makes replaying an already-applied index a no-op, and
version_counter makes each Set/CAS version strictly greater than the one
before it. A snapshot carries neither value: Restore sets version_counter
to the highest version among the restored entries and leaves last_applied
unchanged.
*/
package kv

import (
	"sync"
	"time"

	"github.com/firefly-oss/kvraftd/internal/logging"
)

// ValueEntry is a single versioned value in the store.
type ValueEntry struct {
	Data         []byte
	Version      uint64
	CreatedAtMs  int64
	ModifiedAtMs int64
	HasTTL       bool
	TTLMs        uint64
	ExpiresAtMs  int64
}

func (v *ValueEntry) expired(nowMs int64) bool {
	return v.HasTTL && nowMs >= v.ExpiresAtMs
}

// WatchFunc is invoked synchronously, under the store's exclusive lock,
// after a Set/CAS/Delete commits against the watched key. It must not
// call back into the store.
type WatchFunc func(key string, entry *ValueEntry, deleted bool)

// Store is the versioned KV state machine.
type Store struct {
	mu            sync.RWMutex
	data          map[string]*ValueEntry
	versionCounter uint64
	lastApplied   uint64 // highest raft log index applied

	watches map[string][]WatchFunc

	collator Collator
	now      func() int64

	log *logging.Logger
}

// NewStore constructs an empty store using the default (binary) key
// ordering for ListKeys.
func NewStore() *Store {
	return &Store{
		data:     make(map[string]*ValueEntry),
		watches:  make(map[string][]WatchFunc),
		collator: &BinaryCollator{},
		now:      nowMs,
		log:      logging.NewLogger("kv"),
	}
}

// SetCollator overrides the ordering ListKeys uses to sort its results.
func (s *Store) SetCollator(c Collator) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collator = c
}

func nowMs() int64 { return time.Now().UnixMilli() }

// LastApplied returns the highest log index applied so far.
func (s *Store) LastApplied() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastApplied
}

// ApplyNoop advances last_applied for a no-op log entry without touching
// the keyspace.
func (s *Store) ApplyNoop(index uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanceApplied(index)
}

func (s *Store) advanceApplied(index uint64) bool {
	if index <= s.lastApplied {
		return false // idempotent replay: already applied
	}
	s.lastApplied = index
	return true
}

// ApplySet applies a Set command at the given log index and returns the
// version assigned (0 if the entry had already been applied).
func (s *Store) ApplySet(index uint64, cmd SetCommand) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.advanceApplied(index) {
		return 0
	}

	now := s.now()
	key := string(cmd.Key)
	existing, ok := s.data[key]

	s.versionCounter++
	entry := &ValueEntry{
		Data:         cmd.Value,
		Version:      s.versionCounter,
		ModifiedAtMs: now,
	}
	if ok {
		entry.CreatedAtMs = existing.CreatedAtMs
	} else {
		entry.CreatedAtMs = now
	}
	if cmd.HasTTL {
		entry.HasTTL = true
		entry.TTLMs = cmd.TTLMs
		entry.ExpiresAtMs = now + int64(cmd.TTLMs)
	}
	s.data[key] = entry
	s.notify(key, entry, false)
	return entry.Version
}

// ApplyDelete applies a Delete command, returning whether a key was
// actually removed (false also if the entry had already been applied).
func (s *Store) ApplyDelete(index uint64, cmd DeleteCommand) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.advanceApplied(index) {
		return false
	}
	key := string(cmd.Key)
	if _, ok := s.data[key]; !ok {
		return false
	}
	delete(s.data, key)
	s.notify(key, nil, true)
	return true
}

// CasOutcome describes the result of applying a CAS command.
type CasOutcome struct {
	Applied    bool // false if the entry had already been applied (idempotent replay)
	Success    bool
	NewVersion uint64
}

// ApplyCas applies a compare-and-swap command.
func (s *Store) ApplyCas(index uint64, cmd CasCommand) CasOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.advanceApplied(index) {
		return CasOutcome{Applied: false}
	}

	now := s.now()
	key := string(cmd.Key)
	existing, ok := s.data[key]
	if !ok || existing.expired(now) || existing.Version != cmd.ExpectedVersion {
		return CasOutcome{Applied: true, Success: false}
	}

	s.versionCounter++
	entry := &ValueEntry{
		Data:         cmd.NewValue,
		Version:      s.versionCounter,
		CreatedAtMs:  existing.CreatedAtMs,
		ModifiedAtMs: now,
	}
	if cmd.HasTTL {
		entry.HasTTL = true
		entry.TTLMs = cmd.TTLMs
		entry.ExpiresAtMs = now + int64(cmd.TTLMs)
	}
	s.data[key] = entry
	s.notify(key, entry, false)
	return CasOutcome{Applied: true, Success: true, NewVersion: entry.Version}
}

// notify invokes registered watches for key. Callers must hold s.mu
// (exclusive) already.
func (s *Store) notify(key string, entry *ValueEntry, deleted bool) {
	for _, cb := range s.watches[key] {
		cb(key, entry, deleted)
	}
}

// Watch registers cb to be invoked after every Set/CAS/Delete on key.
func (s *Store) Watch(key string, cb WatchFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watches[key] = append(s.watches[key], cb)
}

// Get returns the value for key if present and not expired.
func (s *Store) Get(key string) ([]byte, bool) {
	v, ok := s.GetWithVersion(key)
	if !ok {
		return nil, false
	}
	return v.Data, true
}

// GetWithVersion returns the full ValueEntry for key if present and not
// expired. The returned entry is a private copy safe for the caller to
// retain.
func (s *Store) GetWithVersion(key string) (*ValueEntry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok || v.expired(s.now()) {
		return nil, false
	}
	cp := *v
	return &cp, true
}

// Contains reports whether key is present and not expired.
func (s *Store) Contains(key string) bool {
	_, ok := s.Get(key)
	return ok
}

// ListKeys returns up to limit keys beginning with prefix, excluding
// expired keys, ordered according to the store's configured Collator.
func (s *Store) ListKeys(prefix string, limit int) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	now := s.now()

	matches := make([]string, 0, limit)
	for k, v := range s.data {
		if v.expired(now) {
			continue
		}
		if !hasPrefix(k, prefix) {
			continue
		}
		matches = append(matches, k)
	}

	sortKeys(matches, s.collator)
	if limit >= 0 && len(matches) > limit {
		matches = matches[:limit]
	}
	return matches
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func sortKeys(keys []string, c Collator) {
	// insertion sort over every key matching the prefix: ListKeys applies
	// limit only after sorting, so the cost grows with the matched set.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && c.Compare(keys[j-1], keys[j]) > 0; j-- {
			keys[j-1], keys[j] = keys[j], keys[j-1]
		}
	}
}

// Len returns the number of (including possibly expired) keys in the
// store; used for diagnostics only.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
