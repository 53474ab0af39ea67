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

import "sort"

// ErrNotLeader is returned by Submit when the node is not currently the
// leader and cannot accept new commands.
type notLeaderError struct{}

func (notLeaderError) Error() string { return "raft: node is not the leader" }

// ErrNotLeader is the sentinel Submit returns when called on a non-leader.
var ErrNotLeader error = notLeaderError{}

// Submit appends a new command to the leader's log and immediately fans
// it out to followers. Returns the assigned log index, or ErrNotLeader
// if this node does not currently believe itself to be leader. The
// entry is not yet committed when Submit returns; callers observe commit
// via CommitIndex()/LastApplied() or their own applied-index watcher.
func (n *Node) Submit(cmdType CommandType, data []byte) (uint64, error) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.role != Leader {
		return 0, ErrNotLeader
	}

	entry := n.appendEntryLocked(cmdType, data)
	n.broadcastAppendEntriesLocked()
	return entry.Index, nil
}

// appendEntryLocked appends a new entry at the current term to the
// leader's own log and durably persists it. Caller must hold n.mu.
func (n *Node) appendEntryLocked(cmdType CommandType, data []byte) LogEntry {
	entry := LogEntry{
		Term:  n.currentTerm,
		Index: n.lastLogIndex() + 1,
		Type:  cmdType,
		Data:  data,
	}
	n.entries = append(n.entries, entry)
	if err := n.persistEntryLocked(entry); err != nil {
		n.log.Error("failed to persist log entry", "index", entry.Index, "error", err)
	}
	if len(n.cluster.Nodes) == 1 {
		n.advanceCommitIndexLocked()
	}
	return entry
}

// broadcastAppendEntriesLocked sends an AppendEntries RPC (replication
// batch or heartbeat) to every peer, recording exactly what was sent in
// n.inflight so the response handler can compute an exact match_index
// advance rather than approximating it from the leader's current log
// length. Caller must hold n.mu and must be Leader.
func (n *Node) broadcastAppendEntriesLocked() {
	for peer, ps := range n.peers {
		prevIndex := ps.NextIndex - 1
		prevTerm := n.termAt(prevIndex)

		var entries []LogEntry
		if ps.NextIndex <= n.lastLogIndex() {
			end := ps.NextIndex + maxEntriesPerAppend
			if end > n.lastLogIndex()+1 {
				end = n.lastLogIndex() + 1
			}
			for idx := ps.NextIndex; idx < end; idx++ {
				entries = append(entries, n.entryAt(idx))
			}
		}

		n.inflight[peer] = inflightAppend{prevLogIndex: prevIndex, entriesSent: uint64(len(entries))}

		args := AppendEntriesArgs{
			Term:         n.currentTerm,
			LeaderID:     n.id,
			PrevLogIndex: prevIndex,
			PrevLogTerm:  prevTerm,
			Entries:      entries,
			LeaderCommit: n.commitIndex,
		}
		n.transport.SendAppendEntries(peer, args)
	}
}

// HandleAppendEntries implements the follower side of log replication:
// term checks, the log matching check at PrevLogIndex/PrevLogTerm,
// truncate-on-conflict, append of new entries, and commit_index
// advancement bounded by the follower's own last log index.
func (n *Node) HandleAppendEntries(args AppendEntriesArgs) AppendEntriesReply {
	n.mu.Lock()
	defer n.mu.Unlock()

	if args.Term < n.currentTerm {
		return AppendEntriesReply{Term: n.currentTerm, Success: false}
	}

	if args.Term > n.currentTerm {
		n.stepDown(args.Term)
		_ = n.persistTerm()
	} else if n.role == Candidate {
		n.role = Follower
	}
	n.resetElectionTimer()

	if args.PrevLogIndex > 0 {
		if args.PrevLogIndex > n.lastLogIndex() {
			return AppendEntriesReply{
				Term:          n.currentTerm,
				Success:       false,
				ConflictIndex: n.lastLogIndex() + 1,
				ConflictTerm:  0,
			}
		}
		if got := n.termAt(args.PrevLogIndex); got != args.PrevLogTerm {
			conflictTerm := got
			conflictIndex := args.PrevLogIndex
			for conflictIndex > 1 && n.termAt(conflictIndex-1) == conflictTerm {
				conflictIndex--
			}
			return AppendEntriesReply{
				Term:          n.currentTerm,
				Success:       false,
				ConflictIndex: conflictIndex,
				ConflictTerm:  conflictTerm,
			}
		}
	}

	// Log matching holds at PrevLogIndex. Merge in args.Entries,
	// truncating any conflicting suffix of our own log first.
	insertAt := args.PrevLogIndex + 1
	for i, e := range args.Entries {
		idx := insertAt + uint64(i)
		if idx <= n.lastLogIndex() {
			if n.termAt(idx) == e.Term {
				continue
			}
			n.entries = n.entries[:idx-1]
		}
		n.entries = append(n.entries, e)
		if err := n.persistEntryLocked(e); err != nil {
			n.log.Error("failed to persist replicated entry", "index", e.Index, "error", err)
		}
	}

	if args.LeaderCommit > n.commitIndex {
		n.commitIndex = minUint64(args.LeaderCommit, n.lastLogIndex())
		n.applyCommittedLocked()
	}

	return AppendEntriesReply{Term: n.currentTerm, Success: true}
}

// HandleAppendEntriesResponse folds a follower's reply into the leader's
// view of that peer's replication progress. sentPrevLogIndex and
// sentEntries identify which outstanding request this reply answers,
// matched against n.inflight[peer] so a stale reply to a superseded
// request cannot move match_index backwards or past what was truly sent.
func (n *Node) HandleAppendEntriesResponse(peer uint64, reply AppendEntriesReply) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if reply.Term > n.currentTerm {
		n.stepDown(reply.Term)
		_ = n.persistTerm()
		return
	}

	if n.role != Leader || reply.Term != n.currentTerm {
		return
	}

	ps, ok := n.peers[peer]
	if !ok {
		return
	}
	inflight, ok := n.inflight[peer]
	if !ok {
		return
	}

	if reply.Success {
		// match_index is set to exactly prev_log_index + entries_sent,
		// never approximated from the leader's current (possibly since
		// advanced) log length.
		newMatch := inflight.prevLogIndex + inflight.entriesSent
		if newMatch > ps.MatchIndex {
			ps.MatchIndex = newMatch
		}
		ps.NextIndex = newMatch + 1
		n.peers[peer] = ps
		n.advanceCommitIndexLocked()
		return
	}

	// Fast backup: jump NextIndex using the follower's reported conflict
	// term/index instead of decrementing by one per round trip.
	if reply.ConflictTerm == 0 {
		ps.NextIndex = reply.ConflictIndex
	} else {
		lastIdxOfTerm := uint64(0)
		for idx := n.lastLogIndex(); idx >= 1; idx-- {
			if n.termAt(idx) == reply.ConflictTerm {
				lastIdxOfTerm = idx
				break
			}
		}
		if lastIdxOfTerm > 0 {
			ps.NextIndex = lastIdxOfTerm + 1
		} else {
			ps.NextIndex = reply.ConflictIndex
		}
	}
	if ps.NextIndex < 1 {
		ps.NextIndex = 1
	}
	n.peers[peer] = ps
}

// advanceCommitIndexLocked recomputes commit_index as the highest index
// replicated to a quorum of the cluster, restricted to entries from the
// leader's current term (the leader completeness safety rule: entries
// from a prior term are never committed by counting replicas alone —
// only once a current-term entry at or above them also reaches quorum).
// This works for clusters of any size: it builds the full match_index
// set (including the leader's own always-up-to-date index) and selects
// the quorum-th highest value, rather than relying on any fixed-size
// scratch buffer.
// Caller must hold n.mu and must be Leader.
func (n *Node) advanceCommitIndexLocked() {
	matchIndexes := make([]uint64, 0, len(n.peers)+1)
	matchIndexes = append(matchIndexes, n.lastLogIndex()) // leader's own log
	for _, ps := range n.peers {
		matchIndexes = append(matchIndexes, ps.MatchIndex)
	}
	sort.Slice(matchIndexes, func(i, j int) bool { return matchIndexes[i] > matchIndexes[j] })

	quorum := n.cluster.quorum()
	if quorum > len(matchIndexes) {
		return
	}
	candidate := matchIndexes[quorum-1]

	if candidate <= n.commitIndex {
		return
	}
	if n.termAt(candidate) != n.currentTerm {
		return
	}

	n.commitIndex = candidate
	n.applyCommittedLocked()
}

// applyCommittedLocked applies every entry between lastApplied and
// commitIndex to the state machine, in order. The Applier is responsible
// for idempotent replay (the same index may be re-applied after a crash
// and restart); this loop only guarantees strictly increasing order and
// never re-applies within a single node's own lifetime.
// Caller must hold n.mu.
func (n *Node) applyCommittedLocked() {
	for n.lastApplied < n.commitIndex {
		n.lastApplied++
		if n.applier != nil {
			n.applier.Apply(n.entryAt(n.lastApplied))
		}
	}
}

func minUint64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
