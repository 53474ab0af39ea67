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
	"math/rand"
	"sync"
	"time"

	"github.com/firefly-oss/kvraftd/internal/logging"
)

// Persister is the durability boundary raft depends on: WAL.append_vote,
// WAL.append_term, WAL.append_log_entry and WAL.sync. *wal.WAL satisfies
// this interface structurally; tests substitute an in-memory fake.
type Persister interface {
	AppendLogEntry(encoded []byte) error
	AppendVote(term, votedFor uint64) error
	AppendTerm(term uint64) error
	Sync() error
}

// Config bundles a Node's identity and tunables.
type Config struct {
	NodeID               uint64
	Cluster              ClusterConfig
	ElectionTimeoutMinMs int // 0 uses the spec default (150)
	ElectionTimeoutMaxMs int // 0 uses the spec default (300)
	HeartbeatMs          int // 0 uses the spec default (50)
}

func (c Config) electionMin() int {
	if c.ElectionTimeoutMinMs > 0 {
		return c.ElectionTimeoutMinMs
	}
	return electionTimeoutMinMs
}

func (c Config) electionMax() int {
	if c.ElectionTimeoutMaxMs > 0 {
		return c.ElectionTimeoutMaxMs
	}
	return electionTimeoutMaxMs
}

func (c Config) heartbeatMs() int {
	if c.HeartbeatMs > 0 {
		return c.HeartbeatMs
	}
	return heartbeatIntervalMs
}

// inflightAppend records exactly what a single in-flight AppendEntries
// RPC to a peer contained, so that on a successful reply match_index can
// be advanced by precisely how much was sent rather than approximated.
type inflightAppend struct {
	prevLogIndex uint64
	entriesSent  uint64
}

// Node is a single raft consensus participant.
type Node struct {
	mu sync.Mutex

	id      uint64
	cluster ClusterConfig

	transport Transport
	applier   Applier
	persister Persister
	log       *logging.Logger

	cfg Config
	rng *rand.Rand

	// Persistent state (durable via persister before any externally
	// visible effect).
	currentTerm uint64
	votedFor    uint64
	hasVotedFor bool
	entries     []LogEntry // 1-indexed logically; entries[0] is index 1

	// Volatile state.
	role             Role
	commitIndex      uint64
	lastApplied      uint64
	electionTimeoutMs int
	electionElapsedMs int
	heartbeatElapsedMs int

	// Leader-only volatile state.
	peers map[uint64]*PeerState
	// inflight tracks, per peer, the (prevLogIndex, entriesSent) of the
	// most recent AppendEntries dispatched, consumed by the response
	// handler to compute the exact match_index advance.
	inflight map[uint64]inflightAppend

	votesReceived map[uint64]bool

	stopped bool
}

// NewNode constructs a Node in the Follower role with an empty log. If
// persister is non-nil its state is not consulted here; callers recover
// from the WAL separately (see Restore) before serving traffic.
func NewNode(cfg Config, transport Transport, applier Applier, persister Persister) *Node {
	peers := make(map[uint64]*PeerState)
	for _, id := range cfg.Cluster.Nodes {
		if id != cfg.NodeID {
			peers[id] = &PeerState{}
		}
	}

	n := &Node{
		id:        cfg.NodeID,
		cluster:   cfg.Cluster,
		transport: transport,
		applier:   applier,
		persister: persister,
		log:       logging.NewLogger("raft").With("node_id", cfg.NodeID),
		cfg:       cfg,
		rng:       rand.New(rand.NewSource(time.Now().UnixNano() + int64(cfg.NodeID))),
		role:      Follower,
		peers:     peers,
	}
	n.resetElectionTimer()
	return n
}

// Restore seeds the node's persistent state from a WAL recovery result.
// Must be called before the node starts ticking.
func (n *Node) Restore(currentTerm uint64, votedFor uint64, hasVote bool, entries []LogEntry) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.currentTerm = currentTerm
	n.votedFor = votedFor
	n.hasVotedFor = hasVote
	n.entries = entries
}

func (n *Node) resetElectionTimer() {
	lo, hi := n.cfg.electionMin(), n.cfg.electionMax()
	n.electionTimeoutMs = lo + n.rng.Intn(hi-lo+1)
	n.electionElapsedMs = 0
}

// GetState returns the node's current role.
func (n *Node) GetState() Role {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role
}

// GetTerm returns the node's current term.
func (n *Node) GetTerm() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.currentTerm
}

// IsLeader reports whether the node currently believes itself to be leader.
func (n *Node) IsLeader() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.role == Leader
}

// CommitIndex returns the node's current commit index.
func (n *Node) CommitIndex() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.commitIndex
}

// LastApplied returns the node's last applied index.
func (n *Node) LastApplied() uint64 {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.lastApplied
}

// Stop marks the node stopped; a stopped node ignores further Tick calls.
// Outstanding RPCs are not cancelled.
func (n *Node) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.stopped = true
}

func (n *Node) lastLogIndex() uint64 {
	return uint64(len(n.entries))
}

func (n *Node) lastLogTerm() uint64 {
	if len(n.entries) == 0 {
		return 0
	}
	return n.entries[len(n.entries)-1].Term
}

// termAt returns the term of the entry at the given 1-indexed log
// position, or 0 if index is 0 or beyond the log.
func (n *Node) termAt(index uint64) uint64 {
	if index == 0 || index > uint64(len(n.entries)) {
		return 0
	}
	return n.entries[index-1].Term
}

// entryAt returns the entry at the given 1-indexed position.
func (n *Node) entryAt(index uint64) LogEntry {
	return n.entries[index-1]
}

// stepDown transitions the node to Follower at newTerm, clearing its
// vote. The caller must persist the term update before this returns
// control to anything that depends on durability; stepDown itself does
// not call Sync so that batched writers can coalesce it with a following
// vote persist.
func (n *Node) stepDown(newTerm uint64) {
	if newTerm > n.currentTerm {
		n.currentTerm = newTerm
		n.hasVotedFor = false
		n.votedFor = 0
	}
	if n.role == Leader {
		n.log.Info("stepping down from leader", "new_term", newTerm)
	}
	n.role = Follower
	n.resetElectionTimer()
}
