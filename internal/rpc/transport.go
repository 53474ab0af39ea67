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

package rpc

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/firefly-oss/kvraftd/internal/logging"
	"github.com/firefly-oss/kvraftd/internal/raft"
)

// NodeHandle is how PeerTransport reaches back into the local raft.Node
// to deliver a response once a peer answers. It is the subset of
// raft.Node's response-handling API the transport needs.
type NodeHandle interface {
	HandleRequestVoteResponse(reply raft.RequestVoteReply)
	HandleAppendEntriesResponse(peer uint64, reply raft.AppendEntriesReply)
}

// PeerTransport implements raft.Transport over real TCP connections,
// pooled per peer. Every Send* method returns immediately: the actual
// write and the wait for a reply happen on a dedicated goroutine, so the
// raft.Node's locked section is never blocked on network I/O.
type PeerTransport struct {
	mu        sync.RWMutex
	addrs     map[uint64]string
	pools     map[uint64]*peerPool
	node      NodeHandle
	log       *logging.Logger
	nextCorID uint64
	cfg       PoolConfig
}

// NewPeerTransport builds a transport for the given peer id -> address
// map. node receives response callbacks as replies arrive.
func NewPeerTransport(addrs map[uint64]string, node NodeHandle, cfg PoolConfig) *PeerTransport {
	t := &PeerTransport{
		addrs: addrs,
		pools: make(map[uint64]*peerPool, len(addrs)),
		node:  node,
		log:   logging.NewLogger("rpc-transport"),
		cfg:   cfg,
	}
	for id, addr := range addrs {
		t.pools[id] = newPeerPool(addr, cfg)
	}
	return t
}

func (t *PeerTransport) correlationID() uint64 {
	return atomic.AddUint64(&t.nextCorID, 1)
}

// SendRequestVote dispatches a RequestVote RPC to peer asynchronously.
func (t *PeerTransport) SendRequestVote(peer uint64, args raft.RequestVoteArgs) {
	go func() {
		reply, err := t.roundTrip(peer, MsgRequestVoteRequest, EncodeRequestVoteArgs(args))
		if err != nil {
			t.log.Debug("request_vote send failed", "peer", peer, "error", err)
			return
		}
		decoded, err := DecodeRequestVoteReply(reply)
		if err != nil {
			t.log.Warn("request_vote reply decode failed", "peer", peer, "error", err)
			return
		}
		decoded.VoterID = peer
		decoded.RequestTerm = args.Term
		t.node.HandleRequestVoteResponse(decoded)
	}()
}

// SendAppendEntries dispatches an AppendEntries RPC to peer asynchronously.
func (t *PeerTransport) SendAppendEntries(peer uint64, args raft.AppendEntriesArgs) {
	go func() {
		reply, err := t.roundTrip(peer, MsgAppendEntriesRequest, EncodeAppendEntriesArgs(args))
		if err != nil {
			t.log.Debug("append_entries send failed", "peer", peer, "error", err)
			return
		}
		decoded, err := DecodeAppendEntriesReply(reply)
		if err != nil {
			t.log.Warn("append_entries reply decode failed", "peer", peer, "error", err)
			return
		}
		decoded.FollowerID = peer
		t.node.HandleAppendEntriesResponse(peer, decoded)
	}()
}

// roundTrip acquires a pooled connection to peer, writes a request frame,
// blocks for its matching reply frame, and releases the connection.
func (t *PeerTransport) roundTrip(peer uint64, msgType MessageType, payload []byte) ([]byte, error) {
	t.mu.RLock()
	pool, ok := t.pools[peer]
	t.mu.RUnlock()
	if !ok {
		return nil, errNoSuchPeer(peer)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pc, err := pool.acquire(ctx)
	if err != nil {
		return nil, err
	}

	corID := t.correlationID()
	req := Frame{Type: msgType, CorrelationID: corID, Payload: payload}

	_ = pc.conn.SetDeadline(time.Now().Add(2 * time.Second))
	if err := WriteFrame(pc.conn, req); err != nil {
		pool.release(pc, false)
		return nil, err
	}

	resp, err := ReadFrame(pc.reader)
	if err != nil {
		pool.release(pc, false)
		return nil, err
	}
	pool.release(pc, true)

	if resp.CorrelationID != corID {
		return nil, errCorrelationMismatch(corID, resp.CorrelationID)
	}
	return resp.Payload, nil
}

// Close releases every peer pool's connections.
func (t *PeerTransport) Close() {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, p := range t.pools {
		p.close()
	}
}
