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

package kv

import (
	"sort"
	"testing"
)

func TestSetThenGet(t *testing.T) {
	s := NewStore()
	v := s.ApplySet(1, SetCommand{Key: []byte("k"), Value: []byte("v")})
	if v != 1 {
		t.Fatalf("expected version 1, got %d", v)
	}
	val, ok := s.Get("k")
	if !ok || string(val) != "v" {
		t.Fatalf("expected (v, true), got (%q, %v)", val, ok)
	}
}

func TestVersionMonotonicity(t *testing.T) {
	s := NewStore()
	v1 := s.ApplySet(1, SetCommand{Key: []byte("a"), Value: []byte("1")})
	v2 := s.ApplySet(2, SetCommand{Key: []byte("b"), Value: []byte("2")})
	v3 := s.ApplySet(3, SetCommand{Key: []byte("a"), Value: []byte("3")})
	if !(v1 < v2 && v2 < v3) {
		t.Fatalf("expected strictly increasing versions, got %d %d %d", v1, v2, v3)
	}
}

func TestIdempotentReplay(t *testing.T) {
	s := NewStore()
	v1 := s.ApplySet(1, SetCommand{Key: []byte("k"), Value: []byte("v1")})
	// Replaying the same index must be a no-op: same state, no new version.
	v2 := s.ApplySet(1, SetCommand{Key: []byte("k"), Value: []byte("v2")})
	if v2 != 0 {
		t.Errorf("expected replay to return 0 (no-op), got %d", v2)
	}
	val, ok := s.Get("k")
	if !ok || string(val) != "v1" || v1 != 1 {
		t.Errorf("expected original value to survive replay, got %q", val)
	}
}

func TestDelete(t *testing.T) {
	s := NewStore()
	s.ApplySet(1, SetCommand{Key: []byte("k"), Value: []byte("v")})
	deleted := s.ApplyDelete(2, DeleteCommand{Key: []byte("k")})
	if !deleted {
		t.Fatal("expected delete to report true")
	}
	if _, ok := s.Get("k"); ok {
		t.Fatal("expected key to be gone after delete")
	}
	// Deleting a non-existent key reports false.
	if s.ApplyDelete(3, DeleteCommand{Key: []byte("missing")}) {
		t.Error("expected delete of missing key to report false")
	}
}

func TestCasSuccessAndFailure(t *testing.T) {
	s := NewStore()
	s.ApplySet(1, SetCommand{Key: []byte("k"), Value: []byte("v1")}) // version 1

	ok := s.ApplyCas(2, CasCommand{Key: []byte("k"), ExpectedVersion: 1, NewValue: []byte("v2")})
	if !ok.Success || ok.NewVersion != 2 {
		t.Fatalf("expected successful CAS to version 2, got %+v", ok)
	}

	fail := s.ApplyCas(3, CasCommand{Key: []byte("k"), ExpectedVersion: 1, NewValue: []byte("v3")})
	if fail.Success {
		t.Fatal("expected CAS against a stale version to fail")
	}

	val, _ := s.Get("k")
	if string(val) != "v2" {
		t.Errorf("expected value to remain v2 after failed cas, got %q", val)
	}
}

func TestCasAgainstMissingKeyFails(t *testing.T) {
	s := NewStore()
	outcome := s.ApplyCas(1, CasCommand{Key: []byte("nope"), ExpectedVersion: 1, NewValue: []byte("x")})
	if outcome.Success {
		t.Error("expected CAS against missing key to fail")
	}
}

func TestTTLExpiry(t *testing.T) {
	s := NewStore()
	clock := int64(1000)
	s.now = func() int64 { return clock }

	s.ApplySet(1, SetCommand{Key: []byte("t"), Value: []byte("x"), HasTTL: true, TTLMs: 50})
	if _, ok := s.Get("t"); !ok {
		t.Fatal("expected key to be present before expiry")
	}

	clock += 100
	if _, ok := s.Get("t"); ok {
		t.Fatal("expected key to be expired")
	}
	keys := s.ListKeys("", 100)
	for _, k := range keys {
		if k == "t" {
			t.Error("expected expired key to be excluded from ListKeys")
		}
	}
}

func TestListKeysPrefixAndLimit(t *testing.T) {
	s := NewStore()
	s.ApplySet(1, SetCommand{Key: []byte("alpha"), Value: []byte("1")})
	s.ApplySet(2, SetCommand{Key: []byte("alphabet"), Value: []byte("2")})
	s.ApplySet(3, SetCommand{Key: []byte("beta"), Value: []byte("3")})

	keys := s.ListKeys("alpha", 100)
	if len(keys) != 2 {
		t.Fatalf("expected 2 keys with prefix 'alpha', got %v", keys)
	}
	sort.Strings(keys)
	if keys[0] != "alpha" || keys[1] != "alphabet" {
		t.Errorf("unexpected keys: %v", keys)
	}

	limited := s.ListKeys("", 1)
	if len(limited) != 1 {
		t.Errorf("expected limit to cap results at 1, got %d", len(limited))
	}
}

func TestWatchInvokedOnSetAndDelete(t *testing.T) {
	s := NewStore()
	var events []string
	s.Watch("k", func(key string, entry *ValueEntry, deleted bool) {
		if deleted {
			events = append(events, "deleted")
		} else {
			events = append(events, string(entry.Data))
		}
	})

	s.ApplySet(1, SetCommand{Key: []byte("k"), Value: []byte("v1")})
	s.ApplySet(2, SetCommand{Key: []byte("k"), Value: []byte("v2")})
	s.ApplyDelete(3, DeleteCommand{Key: []byte("k")})

	want := []string{"v1", "v2", "deleted"}
	if len(events) != len(want) {
		t.Fatalf("expected %v, got %v", want, events)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Errorf("event %d: expected %q, got %q", i, want[i], events[i])
		}
	}
}

func TestSnapshotRestoreRoundTrip(t *testing.T) {
	s := NewStore()
	s.ApplySet(1, SetCommand{Key: []byte("a"), Value: []byte("1")})
	s.ApplySet(2, SetCommand{Key: []byte("b"), Value: []byte("2"), HasTTL: true, TTLMs: 100000})
	s.ApplyCas(3, CasCommand{Key: []byte("a"), ExpectedVersion: 1, NewValue: []byte("1-updated")})

	snap := s.Snapshot()

	restored := NewStore()
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	va, ok := restored.GetWithVersion("a")
	if !ok || string(va.Data) != "1-updated" || va.Version != 3 {
		t.Errorf("unexpected restored value for a: %+v ok=%v", va, ok)
	}
	vb, ok := restored.GetWithVersion("b")
	if !ok || string(vb.Data) != "2" || !vb.HasTTL {
		t.Errorf("unexpected restored value for b: %+v ok=%v", vb, ok)
	}

	// version_counter must have advanced to the max restored version so
	// the next Set/CAS on the restored store still assigns a fresh version.
	next := restored.ApplySet(1, SetCommand{Key: []byte("c"), Value: []byte("3")})
	if next <= 3 {
		t.Errorf("expected restored store's next version > 3, got %d", next)
	}
}

func TestSnapshotSkipsExpiredEntries(t *testing.T) {
	s := NewStore()
	clock := int64(1000)
	s.now = func() int64 { return clock }
	s.ApplySet(1, SetCommand{Key: []byte("live"), Value: []byte("x")})
	s.ApplySet(2, SetCommand{Key: []byte("dead"), Value: []byte("y"), HasTTL: true, TTLMs: 10})

	clock += 1000 // expire "dead"
	snap := s.Snapshot()

	restored := NewStore()
	if err := restored.Restore(snap); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Contains("dead") {
		t.Error("expected expired key to be excluded from snapshot")
	}
	if !restored.Contains("live") {
		t.Error("expected live key to survive snapshot")
	}
}
