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

// startElection converts the node to Candidate, bumps its term, votes for
// itself, persists that vote, and fans RequestVote out to every peer.
// Caller must hold n.mu.
func (n *Node) startElection() {
	n.currentTerm++
	n.role = Candidate
	n.votedFor = n.id
	n.hasVotedFor = true
	n.votesReceived = map[uint64]bool{n.id: true}
	n.resetElectionTimer()

	if n.persister != nil {
		if err := n.persister.AppendVote(n.currentTerm, n.id); err != nil {
			n.log.Error("failed to persist self vote", "error", err)
			return
		}
		if err := n.persister.Sync(); err != nil {
			n.log.Error("failed to fsync self vote", "error", err)
			return
		}
	}

	n.log.Info("starting election", "term", n.currentTerm)

	args := RequestVoteArgs{
		Term:         n.currentTerm,
		CandidateID:  n.id,
		LastLogIndex: n.lastLogIndex(),
		LastLogTerm:  n.lastLogTerm(),
	}
	for peer := range n.peers {
		n.transport.SendRequestVote(peer, args)
	}

	// Single-node cluster: the candidate's own vote is already a quorum.
	if len(n.cluster.Nodes) == 1 {
		n.becomeLeader()
	}
}

// HandleRequestVote processes an incoming vote request and returns the
// reply to send back to the candidate.
func (n *Node) HandleRequestVote(args RequestVoteArgs) RequestVoteReply {
	n.mu.Lock()
	defer n.mu.Unlock()

	if args.Term > n.currentTerm {
		n.stepDown(args.Term)
		if err := n.persistTerm(); err != nil {
			n.log.Error("failed to persist term on vote request", "error", err)
		}
	}

	if args.Term < n.currentTerm {
		return RequestVoteReply{Term: n.currentTerm, VoteGranted: false}
	}

	alreadyVotedForOther := n.hasVotedFor && n.votedFor != args.CandidateID
	candidateLogUpToDate := args.LastLogTerm > n.lastLogTerm() ||
		(args.LastLogTerm == n.lastLogTerm() && args.LastLogIndex >= n.lastLogIndex())

	if alreadyVotedForOther || !candidateLogUpToDate {
		return RequestVoteReply{Term: n.currentTerm, VoteGranted: false}
	}

	n.votedFor = args.CandidateID
	n.hasVotedFor = true
	n.resetElectionTimer()

	if n.persister != nil {
		if err := n.persister.AppendVote(n.currentTerm, args.CandidateID); err != nil {
			n.log.Error("failed to persist granted vote", "error", err)
			return RequestVoteReply{Term: n.currentTerm, VoteGranted: false}
		}
		if err := n.persister.Sync(); err != nil {
			n.log.Error("failed to fsync granted vote", "error", err)
			return RequestVoteReply{Term: n.currentTerm, VoteGranted: false}
		}
	}

	n.log.Info("granted vote", "term", n.currentTerm, "candidate_id", args.CandidateID)
	return RequestVoteReply{Term: n.currentTerm, VoteGranted: true}
}

// HandleRequestVoteResponse folds a voter's reply into the candidate's
// tally and transitions to Leader once a quorum of votes is in.
func (n *Node) HandleRequestVoteResponse(reply RequestVoteReply) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if reply.Term > n.currentTerm {
		n.stepDown(reply.Term)
		_ = n.persistTerm()
		return
	}

	if n.role != Candidate || reply.RequestTerm != n.currentTerm || !reply.VoteGranted {
		return
	}

	if n.votesReceived == nil {
		n.votesReceived = map[uint64]bool{}
	}
	n.votesReceived[reply.VoterID] = true

	if len(n.votesReceived) >= n.cluster.quorum() {
		n.becomeLeader()
	}
}

// becomeLeader transitions a winning candidate to Leader, resets leader
// volatile state, and appends a Noop entry so that commit advancement can
// count entries from the new term (leader completeness safety rule: a
// leader must never advance commit_index purely on the strength of
// entries replicated in a prior term).
// Caller must hold n.mu.
func (n *Node) becomeLeader() {
	n.role = Leader
	n.log.Info("became leader", "term", n.currentTerm)

	lastIdx := n.lastLogIndex()
	n.inflight = map[uint64]inflightAppend{}
	for peer, ps := range n.peers {
		ps.NextIndex = lastIdx + 1
		ps.MatchIndex = 0
		ps.VoteGranted = false
		n.peers[peer] = ps
	}

	n.appendEntryLocked(CommandNoop, nil)
	n.heartbeatElapsedMs = 0
	n.broadcastAppendEntriesLocked()
}
