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
Package raft implements the consensus engine: leader election, log
replication, commit advancement and the accompanying safety invariants.
It is deliberately decoupled from the wire: callers supply a Transport
(two fire-and-forget send methods) and an Applier (the KV state
machine), and drive the clock themselves by calling Tick roughly every
10ms. Every public entry point takes the node's single coarse mutex;
Transport sends happen while that mutex is held and therefore must
never block.
*/
package raft

import (
	"encoding/binary"
	"fmt"
)

// Role is a raft node's current position in the term state machine.
type Role int32

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "Follower"
	case Candidate:
		return "Candidate"
	case Leader:
		return "Leader"
	default:
		return "Unknown"
	}
}

// CommandType identifies what kind of command a LogEntry carries.
type CommandType uint8

const (
	CommandNoop CommandType = iota
	CommandSet
	CommandDelete
	CommandCas
	CommandConfigChange
)

// LogEntry is a single entry in the replicated log.
type LogEntry struct {
	Term  uint64
	Index uint64
	Type  CommandType
	Data  []byte
}

// EncodeLogEntry serializes an entry the way AppendEntries carries it on
// the wire: {term:u64, index:u64, cmd_type:u8, data_len:u32, data}.
func EncodeLogEntry(e LogEntry) []byte {
	buf := make([]byte, 8+8+1+4+len(e.Data))
	binary.LittleEndian.PutUint64(buf[0:8], e.Term)
	binary.LittleEndian.PutUint64(buf[8:16], e.Index)
	buf[16] = byte(e.Type)
	binary.LittleEndian.PutUint32(buf[17:21], uint32(len(e.Data)))
	copy(buf[21:], e.Data)
	return buf
}

// DecodeLogEntry parses a single entry and returns the number of bytes
// consumed, so callers can decode entries_count of them back to back.
func DecodeLogEntry(buf []byte) (LogEntry, int, error) {
	if len(buf) < 21 {
		return LogEntry{}, 0, fmt.Errorf("raft: truncated log entry header")
	}
	term := binary.LittleEndian.Uint64(buf[0:8])
	index := binary.LittleEndian.Uint64(buf[8:16])
	cmdType := CommandType(buf[16])
	dataLen := binary.LittleEndian.Uint32(buf[17:21])
	if len(buf) < 21+int(dataLen) {
		return LogEntry{}, 0, fmt.Errorf("raft: truncated log entry data")
	}
	data := make([]byte, dataLen)
	copy(data, buf[21:21+int(dataLen)])
	return LogEntry{Term: term, Index: index, Type: cmdType, Data: data}, 21 + int(dataLen), nil
}

// ClusterConfig is the fixed set of cluster members known at startup.
// OldNodes is reserved for a future joint-consensus transition and is
// never populated or consulted by this implementation.
type ClusterConfig struct {
	Nodes    []uint64
	OldNodes []uint64
}

// Quorum returns the strict-majority size for n voters.
func Quorum(n int) int {
	return n/2 + 1
}

// quorum returns the cluster's quorum size, accounting for a (reserved,
// currently always empty) OldNodes half per the data model's joint
// consensus reservation: quorum is the larger of the two halves' quorums
// when OldNodes is present.
func (c ClusterConfig) quorum() int {
	q := Quorum(len(c.Nodes))
	if len(c.OldNodes) > 0 {
		if oldQ := Quorum(len(c.OldNodes)); oldQ > q {
			q = oldQ
		}
	}
	return q
}

// PeerState is the leader's per-peer replication bookkeeping.
type PeerState struct {
	NextIndex     uint64
	MatchIndex    uint64
	VoteGranted   bool
	LastContactMs int64
}

const (
	// electionTimeoutMinMs / electionTimeoutMaxMs bound the randomized
	// election timer (ms), per the timing model.
	electionTimeoutMinMs = 150
	electionTimeoutMaxMs = 300

	// heartbeatIntervalMs is the leader's replication/heartbeat cadence.
	heartbeatIntervalMs = 50

	// maxEntriesPerAppend bounds how many log entries a single
	// AppendEntries batch carries.
	maxEntriesPerAppend = 100
)
