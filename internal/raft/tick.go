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

import "golang.org/x/sync/errgroup"

// Tick advances the node's internal clock by elapsedMs and fires
// whichever timer has expired: a follower/candidate whose election timer
// elapses starts a new election; a leader whose heartbeat timer elapses
// re-broadcasts AppendEntries to every peer. Callers drive this on a
// fixed schedule (the teacher's convention is roughly every 10ms); Tick
// itself does no sleeping or blocking.
func (n *Node) Tick(elapsedMs int) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.stopped {
		return
	}

	switch n.role {
	case Leader:
		n.heartbeatElapsedMs += elapsedMs
		if n.heartbeatElapsedMs >= n.cfg.heartbeatMs() {
			n.heartbeatElapsedMs = 0
			n.fanOutAppendEntriesLocked()
		}
	default:
		n.electionElapsedMs += elapsedMs
		if n.electionElapsedMs >= n.electionTimeoutMs {
			n.startElection()
		}
	}
}

// fanOutAppendEntriesLocked is broadcastAppendEntriesLocked's periodic
// heartbeat entry point: it prepares every peer's batch under the node's
// own lock (cheap, in-memory) and then hands the actual dispatch to an
// errgroup so that a slow Transport implementation for one peer can never
// delay the round for the rest of the cluster. Transport.SendAppendEntries
// is documented to be non-blocking, so in practice this group drains
// almost immediately; it exists so a future transport that must, say,
// serialize a large batch can do so off the critical path without a code
// change here.
// Caller must hold n.mu and must be Leader.
func (n *Node) fanOutAppendEntriesLocked() {
	type dispatch struct {
		peer uint64
		args AppendEntriesArgs
	}
	var batch []dispatch
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
		batch = append(batch, dispatch{
			peer: peer,
			args: AppendEntriesArgs{
				Term:         n.currentTerm,
				LeaderID:     n.id,
				PrevLogIndex: prevIndex,
				PrevLogTerm:  prevTerm,
				Entries:      entries,
				LeaderCommit: n.commitIndex,
			},
		})
	}

	var g errgroup.Group
	for _, d := range batch {
		d := d
		g.Go(func() error {
			n.transport.SendAppendEntries(d.peer, d.args)
			return nil
		})
	}
	_ = g.Wait()
}
