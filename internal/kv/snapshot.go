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
Snapshot Format
===============

	u32 count
	count * { u32 key_len, key, u32 val_len, value, u64 version, u64 ttl_ms (0 = none) }

Expired entries are skipped when producing a snapshot. Restoring a
snapshot clears the store and recomputes expires_at from the current wall
clock and the stored ttl_ms, so a snapshot taken on one node and restored
on another (or much later on the same node) still expires relative to
"now", not to whenever the snapshot was produced.
*/
package kv

import (
	"encoding/binary"
	"fmt"
)

// Snapshot serializes all non-expired keys into the wire format above.
func (s *Store) Snapshot() []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()

	now := s.now()
	type kept struct {
		key   string
		entry *ValueEntry
	}
	var entries []kept
	for k, v := range s.data {
		if v.expired(now) {
			continue
		}
		entries = append(entries, kept{k, v})
	}

	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(len(entries)))

	for _, e := range entries {
		buf = appendU32(buf, uint32(len(e.key)))
		buf = append(buf, e.key...)
		buf = appendU32(buf, uint32(len(e.entry.Data)))
		buf = append(buf, e.entry.Data...)
		buf = appendU64(buf, e.entry.Version)
		ttl := uint64(0)
		if e.entry.HasTTL {
			ttl = e.entry.TTLMs
		}
		buf = appendU64(buf, ttl)
	}
	return buf
}

// Restore clears the store and installs every entry from a snapshot
// produced by Snapshot, advancing version_counter to the maximum
// restored version.
func (s *Store) Restore(snapshot []byte) error {
	r := newReader(snapshot)
	count, err := r.u32()
	if err != nil {
		return fmt.Errorf("kv: truncated snapshot header: %w", err)
	}

	now := nowMs()
	data := make(map[string]*ValueEntry, count)
	var maxVersion uint64

	for i := uint32(0); i < count; i++ {
		keyLen, err := r.u32()
		if err != nil {
			return fmt.Errorf("kv: truncated snapshot entry %d: %w", i, err)
		}
		key, err := r.bytes(int(keyLen))
		if err != nil {
			return fmt.Errorf("kv: truncated snapshot entry %d: %w", i, err)
		}
		valLen, err := r.u32()
		if err != nil {
			return fmt.Errorf("kv: truncated snapshot entry %d: %w", i, err)
		}
		val, err := r.bytes(int(valLen))
		if err != nil {
			return fmt.Errorf("kv: truncated snapshot entry %d: %w", i, err)
		}
		version, err := r.u64()
		if err != nil {
			return fmt.Errorf("kv: truncated snapshot entry %d: %w", i, err)
		}
		ttl, err := r.u64()
		if err != nil {
			return fmt.Errorf("kv: truncated snapshot entry %d: %w", i, err)
		}

		entry := &ValueEntry{
			Data:         val,
			Version:      version,
			CreatedAtMs:  now,
			ModifiedAtMs: now,
		}
		if ttl != 0 {
			entry.HasTTL = true
			entry.TTLMs = ttl
			entry.ExpiresAtMs = now + int64(ttl)
		}
		data[string(key)] = entry
		if version > maxVersion {
			maxVersion = version
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data = data
	s.versionCounter = maxVersion
	return nil
}
