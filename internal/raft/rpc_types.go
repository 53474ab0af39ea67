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

// RequestVoteArgs is the candidate's vote request.
type RequestVoteArgs struct {
	Term         uint64
	CandidateID  uint64
	LastLogIndex uint64
	LastLogTerm  uint64
}

// RequestVoteReply is a voter's response.
type RequestVoteReply struct {
	Term        uint64
	VoteGranted bool

	// VoterID and RequestTerm are not part of the wire payload; they are
	// filled in by the transport layer so HandleRequestVoteResponse can
	// attribute the reply to the right peer and the right election.
	VoterID     uint64
	RequestTerm uint64
}

// AppendEntriesArgs is both the leader's heartbeat and its replication
// batch: Entries is empty for a pure heartbeat.
type AppendEntriesArgs struct {
	Term         uint64
	LeaderID     uint64
	PrevLogIndex uint64
	PrevLogTerm  uint64
	Entries      []LogEntry
	LeaderCommit uint64
}

// AppendEntriesReply is a follower's response. ConflictIndex/ConflictTerm
// implement the fast-backup optimization: on a log-matching failure the
// follower reports the first index of the conflicting term (or one past
// its last log index, if the follower's log is simply too short) so the leader
// can jump NextIndex back by more than one entry per round trip.
type AppendEntriesReply struct {
	Term          uint64
	Success       bool
	ConflictIndex uint64
	ConflictTerm  uint64

	// FollowerID is not on the wire; the transport layer fills it in. The
	// reply does not say which entries it acknowledges: the leader looks
	// that up in its own record of what it sent the peer (see
	// HandleAppendEntriesResponse).
	FollowerID uint64
}
