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
Package rpc implements the cluster's wire protocol: a length-prefixed
binary frame carrying raft RPCs and client KV requests over TCP. Each
reply carries its request's correlation ID, which the sender checks; a
connection has at most one request outstanding at a time.
*/
package rpc

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/firefly-oss/kvraftd/internal/raft"
)

// MessageType identifies the payload carried by a Frame.
type MessageType uint8

const (
	MsgRequestVoteRequest   MessageType = 0x01
	MsgRequestVoteReply     MessageType = 0x02
	MsgAppendEntriesRequest MessageType = 0x03
	MsgAppendEntriesReply   MessageType = 0x04
	MsgClientRequest        MessageType = 0x05
	MsgClientResponse       MessageType = 0x06

	// MsgHeartbeat, MsgSnapshotRequest and MsgSnapshotResponse are reserved
	// wire codes: no current feature emits or dispatches them, but the
	// values are carved out so a future standalone heartbeat or snapshot
	// transfer RPC never collides with the client request/response pair.
	MsgHeartbeat       MessageType = 0x07
	MsgSnapshotRequest MessageType = 0x08
	MsgSnapshotReply   MessageType = 0x09
)

func (t MessageType) String() string {
	switch t {
	case MsgRequestVoteRequest:
		return "RequestVoteRequest"
	case MsgRequestVoteReply:
		return "RequestVoteReply"
	case MsgAppendEntriesRequest:
		return "AppendEntriesRequest"
	case MsgAppendEntriesReply:
		return "AppendEntriesReply"
	case MsgClientRequest:
		return "ClientRequest"
	case MsgClientResponse:
		return "ClientResponse"
	case MsgHeartbeat:
		return "Heartbeat"
	case MsgSnapshotRequest:
		return "SnapshotRequest"
	case MsgSnapshotReply:
		return "SnapshotReply"
	default:
		return fmt.Sprintf("MessageType(0x%02x)", uint8(t))
	}
}

// maxPayloadBytes bounds a single frame's payload so a corrupt or
// malicious length prefix can never cause an unbounded allocation.
const maxPayloadBytes = 16 * 1024 * 1024

// frameHeaderSize is {type:u8}{correlation_id:u64 LE}{payload_len:u32 LE}.
const frameHeaderSize = 1 + 8 + 4

// Frame is a single wire message: a type tag, a correlation id that the
// server copies into its reply so the sender can check the reply is for
// its request,
// and an opaque payload whose shape depends on Type.
type Frame struct {
	Type          MessageType
	CorrelationID uint64
	Payload       []byte
}

// WriteFrame serializes and writes f to w.
func WriteFrame(w io.Writer, f Frame) error {
	if len(f.Payload) > maxPayloadBytes {
		return fmt.Errorf("rpc: payload of %d bytes exceeds max frame size", len(f.Payload))
	}
	header := make([]byte, frameHeaderSize)
	header[0] = byte(f.Type)
	binary.LittleEndian.PutUint64(header[1:9], f.CorrelationID)
	binary.LittleEndian.PutUint32(header[9:13], uint32(len(f.Payload)))
	if _, err := w.Write(header); err != nil {
		return err
	}
	if len(f.Payload) == 0 {
		return nil
	}
	_, err := w.Write(f.Payload)
	return err
}

// ReadFrame reads and parses a single frame from r.
func ReadFrame(r *bufio.Reader) (Frame, error) {
	header := make([]byte, frameHeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return Frame{}, err
	}
	payloadLen := binary.LittleEndian.Uint32(header[9:13])
	if payloadLen > maxPayloadBytes {
		return Frame{}, fmt.Errorf("rpc: frame claims payload of %d bytes, exceeds max %d", payloadLen, maxPayloadBytes)
	}
	payload := make([]byte, payloadLen)
	if payloadLen > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Frame{}, err
		}
	}
	return Frame{
		Type:          MessageType(header[0]),
		CorrelationID: binary.LittleEndian.Uint64(header[1:9]),
		Payload:       payload,
	}, nil
}

// --- RequestVote payload encodings ---

// EncodeRequestVoteArgs serializes {term,candidate_id,last_log_index,last_log_term} u64 LE each.
func EncodeRequestVoteArgs(a raft.RequestVoteArgs) []byte {
	buf := make([]byte, 32)
	binary.LittleEndian.PutUint64(buf[0:8], a.Term)
	binary.LittleEndian.PutUint64(buf[8:16], a.CandidateID)
	binary.LittleEndian.PutUint64(buf[16:24], a.LastLogIndex)
	binary.LittleEndian.PutUint64(buf[24:32], a.LastLogTerm)
	return buf
}

func DecodeRequestVoteArgs(buf []byte) (raft.RequestVoteArgs, error) {
	if len(buf) < 32 {
		return raft.RequestVoteArgs{}, fmt.Errorf("rpc: truncated RequestVoteArgs")
	}
	return raft.RequestVoteArgs{
		Term:         binary.LittleEndian.Uint64(buf[0:8]),
		CandidateID:  binary.LittleEndian.Uint64(buf[8:16]),
		LastLogIndex: binary.LittleEndian.Uint64(buf[16:24]),
		LastLogTerm:  binary.LittleEndian.Uint64(buf[24:32]),
	}, nil
}

// EncodeRequestVoteReply serializes {term:u64}{vote_granted:u8}.
func EncodeRequestVoteReply(r raft.RequestVoteReply) []byte {
	buf := make([]byte, 9)
	binary.LittleEndian.PutUint64(buf[0:8], r.Term)
	if r.VoteGranted {
		buf[8] = 1
	}
	return buf
}

func DecodeRequestVoteReply(buf []byte) (raft.RequestVoteReply, error) {
	if len(buf) < 9 {
		return raft.RequestVoteReply{}, fmt.Errorf("rpc: truncated RequestVoteReply")
	}
	return raft.RequestVoteReply{
		Term:        binary.LittleEndian.Uint64(buf[0:8]),
		VoteGranted: buf[8] != 0,
	}, nil
}

// EncodeAppendEntriesArgs serializes
// {term,leader_id,prev_log_index,prev_log_term:u64 each}{leader_commit:u64}{entries_count:u32}{entries...}.
func EncodeAppendEntriesArgs(a raft.AppendEntriesArgs) []byte {
	buf := make([]byte, 0, 44)
	var head [44]byte
	binary.LittleEndian.PutUint64(head[0:8], a.Term)
	binary.LittleEndian.PutUint64(head[8:16], a.LeaderID)
	binary.LittleEndian.PutUint64(head[16:24], a.PrevLogIndex)
	binary.LittleEndian.PutUint64(head[24:32], a.PrevLogTerm)
	binary.LittleEndian.PutUint64(head[32:40], a.LeaderCommit)
	binary.LittleEndian.PutUint32(head[40:44], uint32(len(a.Entries)))
	buf = append(buf, head[:]...)
	for _, e := range a.Entries {
		buf = append(buf, raft.EncodeLogEntry(e)...)
	}
	return buf
}

func DecodeAppendEntriesArgs(buf []byte) (raft.AppendEntriesArgs, error) {
	if len(buf) < 44 {
		return raft.AppendEntriesArgs{}, fmt.Errorf("rpc: truncated AppendEntriesArgs header")
	}
	a := raft.AppendEntriesArgs{
		Term:         binary.LittleEndian.Uint64(buf[0:8]),
		LeaderID:     binary.LittleEndian.Uint64(buf[8:16]),
		PrevLogIndex: binary.LittleEndian.Uint64(buf[16:24]),
		PrevLogTerm:  binary.LittleEndian.Uint64(buf[24:32]),
		LeaderCommit: binary.LittleEndian.Uint64(buf[32:40]),
	}
	count := binary.LittleEndian.Uint32(buf[40:44])
	rest := buf[44:]
	entries := make([]raft.LogEntry, 0, count)
	for i := uint32(0); i < count; i++ {
		entry, n, err := raft.DecodeLogEntry(rest)
		if err != nil {
			return raft.AppendEntriesArgs{}, err
		}
		entries = append(entries, entry)
		rest = rest[n:]
	}
	a.Entries = entries
	return a, nil
}

// EncodeAppendEntriesReply serializes
// {term,conflict_index,conflict_term:u64 each}{success:u8}.
func EncodeAppendEntriesReply(r raft.AppendEntriesReply) []byte {
	buf := make([]byte, 25)
	binary.LittleEndian.PutUint64(buf[0:8], r.Term)
	binary.LittleEndian.PutUint64(buf[8:16], r.ConflictIndex)
	binary.LittleEndian.PutUint64(buf[16:24], r.ConflictTerm)
	if r.Success {
		buf[24] = 1
	}
	return buf
}

func DecodeAppendEntriesReply(buf []byte) (raft.AppendEntriesReply, error) {
	if len(buf) < 25 {
		return raft.AppendEntriesReply{}, fmt.Errorf("rpc: truncated AppendEntriesReply")
	}
	return raft.AppendEntriesReply{
		Term:          binary.LittleEndian.Uint64(buf[0:8]),
		ConflictIndex: binary.LittleEndian.Uint64(buf[8:16]),
		ConflictTerm:  binary.LittleEndian.Uint64(buf[16:24]),
		Success:       buf[24] != 0,
	}, nil
}
