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

package raft

import (
	"sync"
	"testing"
	"time"
)

// memPersister is an in-memory stand-in for *wal.WAL used by tests that
// don't need real durability, only the call contract.
type memPersister struct {
	mu      sync.Mutex
	entries [][]byte
	votes   []uint64
	terms   []uint64
}

func (p *memPersister) AppendLogEntry(encoded []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.entries = append(p.entries, encoded)
	return nil
}

func (p *memPersister) AppendVote(term, votedFor uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.votes = append(p.votes, term, votedFor)
	return nil
}

func (p *memPersister) AppendTerm(term uint64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.terms = append(p.terms, term)
	return nil
}

func (p *memPersister) Sync() error { return nil }

// netTransport delivers RPCs between in-process Nodes sharing one test's
// address space. Sends are dispatched on their own goroutine so the
// Transport contract (never block the caller's locked section) holds
// even though delivery here is "instant".
type netTransport struct {
	self    uint64
	mu      *sync.Mutex
	nodes   map[uint64]*Node
	dropped map[uint64]bool // peers this transport silently drops sends to (partition simulation)
}

func (t *netTransport) isDropped(peer uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped[peer] || t.dropped[t.self]
}

func (t *netTransport) SendRequestVote(peer uint64, args RequestVoteArgs) {
	if t.isDropped(peer) {
		return
	}
	go func() {
		target, ok := t.nodes[peer]
		if !ok {
			return
		}
		reply := target.HandleRequestVote(args)
		reply.VoterID = peer
		reply.RequestTerm = args.Term
		origin, ok := t.nodes[t.self]
		if !ok {
			return
		}
		origin.HandleRequestVoteResponse(reply)
	}()
}

func (t *netTransport) SendAppendEntries(peer uint64, args AppendEntriesArgs) {
	if t.isDropped(peer) {
		return
	}
	go func() {
		target, ok := t.nodes[peer]
		if !ok {
			return
		}
		reply := target.HandleAppendEntries(args)
		reply.FollowerID = peer
		origin, ok := t.nodes[t.self]
		if !ok {
			return
		}
		origin.HandleAppendEntriesResponse(peer, reply)
	}()
}

type testCluster struct {
	nodes    map[uint64]*Node
	appliers map[uint64]*recordingApplier
	dropped  map[uint64]bool
	mu       sync.Mutex
}

type recordingApplier struct {
	mu      sync.Mutex
	applied []LogEntry
}

func (a *recordingApplier) Apply(e LogEntry) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.applied = append(a.applied, e)
}

func (a *recordingApplier) count() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.applied)
}

func newTestCluster(n int) *testCluster {
	ids := make([]uint64, n)
	for i := range ids {
		ids[i] = uint64(i + 1)
	}
	cluster := ClusterConfig{Nodes: ids}

	tc := &testCluster{
		nodes:    map[uint64]*Node{},
		appliers: map[uint64]*recordingApplier{},
		dropped:  map[uint64]bool{},
	}

	for _, id := range ids {
		applier := &recordingApplier{}
		transport := &netTransport{self: id, mu: &tc.mu, nodes: tc.nodes, dropped: tc.dropped}
		node := NewNode(Config{NodeID: id, Cluster: cluster}, transport, applier, &memPersister{})
		tc.nodes[id] = node
		tc.appliers[id] = applier
	}
	return tc
}

func (tc *testCluster) tickAll(rounds int, elapsedMs int) {
	for i := 0; i < rounds; i++ {
		for _, node := range tc.nodes {
			node.Tick(elapsedMs)
		}
		time.Sleep(time.Millisecond)
	}
}

func (tc *testCluster) leader() *Node {
	for _, node := range tc.nodes {
		if node.IsLeader() {
			return node
		}
	}
	return nil
}

func (tc *testCluster) partition(id uint64, cut bool) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.dropped[id] = cut
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func TestSingleNodeElectsSelfAndCommits(t *testing.T) {
	tc := newTestCluster(1)
	tc.tickAll(40, 10)

	n := tc.nodes[1]
	if n.GetState() != Leader {
		t.Fatalf("expected single node to become leader, got %s", n.GetState())
	}

	idx, err := n.Submit(CommandSet, []byte("payload"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	tc.tickAll(10, 10)

	if !waitFor(t, time.Second, func() bool { return n.CommitIndex() >= idx }) {
		t.Fatalf("expected commit index to reach %d, got %d", idx, n.CommitIndex())
	}
}

func TestThreeNodeClusterElectsOneLeader(t *testing.T) {
	tc := newTestCluster(3)

	var leader *Node
	ok := waitFor(t, 3*time.Second, func() bool {
		for _, node := range tc.nodes {
			node.Tick(10)
		}
		leader = tc.leader()
		return leader != nil
	})
	if !ok || leader == nil {
		t.Fatal("expected a leader to be elected")
	}

	leaders := 0
	for _, node := range tc.nodes {
		if node.IsLeader() {
			leaders++
		}
	}
	if leaders != 1 {
		t.Fatalf("expected exactly one leader, got %d", leaders)
	}
}

func TestThreeNodeClusterReplicatesAndCommits(t *testing.T) {
	tc := newTestCluster(3)
	waitFor(t, 3*time.Second, func() bool {
		for _, node := range tc.nodes {
			node.Tick(10)
		}
		return tc.leader() != nil
	})

	leader := tc.leader()
	if leader == nil {
		t.Fatal("no leader elected")
	}

	idx, err := leader.Submit(CommandSet, []byte("v"))
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	ok := waitFor(t, 3*time.Second, func() bool {
		for _, node := range tc.nodes {
			node.Tick(10)
		}
		for _, node := range tc.nodes {
			if node.CommitIndex() < idx {
				return false
			}
		}
		return true
	})
	if !ok {
		t.Fatal("expected all nodes to commit the submitted entry")
	}

	for id, applier := range tc.appliers {
		if applier.count() == 0 {
			t.Errorf("node %d never applied the committed entry", id)
		}
	}
}

func TestFollowerRedirectsNonLeaderSubmit(t *testing.T) {
	tc := newTestCluster(3)
	waitFor(t, 3*time.Second, func() bool {
		for _, node := range tc.nodes {
			node.Tick(10)
		}
		return tc.leader() != nil
	})

	for _, node := range tc.nodes {
		if node.IsLeader() {
			continue
		}
		if _, err := node.Submit(CommandSet, []byte("x")); err != ErrNotLeader {
			t.Errorf("expected ErrNotLeader from a follower, got %v", err)
		}
	}
}

func TestPartitionedMinorityCannotElectNewLeader(t *testing.T) {
	tc := newTestCluster(3)
	waitFor(t, 3*time.Second, func() bool {
		for _, node := range tc.nodes {
			node.Tick(10)
		}
		return tc.leader() != nil
	})

	var minorityID uint64
	for id, node := range tc.nodes {
		if !node.IsLeader() {
			minorityID = id
			break
		}
	}
	tc.partition(minorityID, true)

	isolated := tc.nodes[minorityID]
	waitFor(t, 2*time.Second, func() bool {
		isolated.Tick(10)
		return isolated.GetState() == Candidate
	})

	// An isolated node keeps incrementing its term forever without ever
	// reaching Leader, since it can never collect a quorum of votes.
	if isolated.GetState() == Leader {
		t.Fatal("expected an isolated minority node to never become leader")
	}
}

func TestQuorumHelper(t *testing.T) {
	cases := map[int]int{1: 1, 2: 2, 3: 2, 4: 3, 5: 3, 7: 4, 16: 9, 17: 9, 101: 51}
	for n, want := range cases {
		if got := Quorum(n); got != want {
			t.Errorf("Quorum(%d) = %d, want %d", n, got, want)
		}
	}
}

// sameEntry compares two LogEntry values field by field; LogEntry holds a
// []byte and so cannot be compared with ==.
func sameEntry(a, b LogEntry) bool {
	return a.Term == b.Term && a.Index == b.Index && a.Type == b.Type && string(a.Data) == string(b.Data)
}

func TestLogEntryEncodeDecodeRoundTrip(t *testing.T) {
	e := LogEntry{Term: 7, Index: 42, Type: CommandSet, Data: []byte("hello world")}
	encoded := EncodeLogEntry(e)
	decoded, n, err := DecodeLogEntry(encoded)
	if err != nil {
		t.Fatalf("DecodeLogEntry: %v", err)
	}
	if n != len(encoded) {
		t.Errorf("expected to consume %d bytes, consumed %d", len(encoded), n)
	}
	if !sameEntry(decoded, e) {
		t.Errorf("round trip mismatch: got %+v, want %+v", decoded, e)
	}
}

func TestBackToBackLogEntryDecode(t *testing.T) {
	e1 := LogEntry{Term: 1, Index: 1, Type: CommandSet, Data: []byte("a")}
	e2 := LogEntry{Term: 1, Index: 2, Type: CommandDelete, Data: []byte("bb")}
	buf := append(EncodeLogEntry(e1), EncodeLogEntry(e2)...)

	first, n1, err := DecodeLogEntry(buf)
	if err != nil {
		t.Fatalf("decode first: %v", err)
	}
	second, _, err := DecodeLogEntry(buf[n1:])
	if err != nil {
		t.Fatalf("decode second: %v", err)
	}
	if !sameEntry(first, e1) || !sameEntry(second, e2) {
		t.Errorf("back-to-back decode mismatch: %+v %+v", first, second)
	}
}
