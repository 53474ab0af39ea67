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
Package node wires together the packages that, individually, implement
one concern each — internal/wal (durability), internal/raft (consensus),
internal/kv (the state machine) and internal/rpc (the wire) — into a
single running cluster member. It is the only package that imports all
four; nothing below it knows about the others.
*/
package node

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/firefly-oss/kvraftd/internal/config"
	"github.com/firefly-oss/kvraftd/internal/errors"
	"github.com/firefly-oss/kvraftd/internal/kv"
	"github.com/firefly-oss/kvraftd/internal/logging"
	"github.com/firefly-oss/kvraftd/internal/raft"
	"github.com/firefly-oss/kvraftd/internal/rpc"
	"github.com/firefly-oss/kvraftd/internal/wal"
)

// waiter is parked by a client-facing request until the log entry it
// submitted either commits (index reaches lastApplied) or the term
// changes out from under it (the entry may have been truncated by a new
// leader, so the caller must be told to retry rather than hang).
type waiter struct {
	index  uint64
	done   chan struct{}
	result any // set by apply() before done is closed; nil for Noop/Set/Delete
}

// Node is a single running cluster member: WAL + raft + KV store + RPC
// server, plus the client-request glue that submits commands to raft and
// blocks until they commit.
type Node struct {
	id     uint64
	cfg    *config.Config
	log    *logging.Logger
	wal    *wal.WAL
	store  *kv.Store
	raft   *raft.Node
	server *rpc.Server
	trans  *rpc.PeerTransport

	mu      sync.Mutex
	waiters map[uint64]*waiter // log index -> waiter blocked on its commit
}

// New constructs a Node from configuration: it opens the WAL, recovers
// persisted state, constructs the KV store and raft engine, and wires
// the RPC transport/server. It does not start serving until Serve or
// ListenAndServe is called.
func New(cfg *config.Config) (*Node, error) {
	w, err := wal.Open(cfg.DataDir, cfg.NodeID)
	if err != nil {
		return nil, fmt.Errorf("node: opening wal: %w", err)
	}

	recovered, err := wal.Recover(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("node: recovering wal: %w", err)
	}

	store := kv.NewStore()

	n := &Node{
		id:      cfg.NodeID,
		cfg:     cfg,
		log:     logging.NewLogger("node").With("node_id", cfg.NodeID),
		wal:     w,
		store:   store,
		waiters: make(map[uint64]*waiter),
	}

	nodeIDs := make([]uint64, 0, len(cfg.Peers)+1)
	nodeIDs = append(nodeIDs, cfg.NodeID)
	addrs := make(map[uint64]string, len(cfg.Peers))
	for peerID, addr := range cfg.Peers {
		nodeIDs = append(nodeIDs, peerID)
		addrs[peerID] = addr
	}

	raftCfg := raft.Config{
		NodeID:               cfg.NodeID,
		Cluster:              raft.ClusterConfig{Nodes: nodeIDs},
		ElectionTimeoutMinMs: cfg.ElectionTimeoutMinMs,
		ElectionTimeoutMaxMs: cfg.ElectionTimeoutMaxMs,
		HeartbeatMs:          cfg.HeartbeatMs,
	}

	applier := raft.ApplierFunc(n.apply)
	trans := rpc.NewPeerTransport(addrs, n, rpc.DefaultPoolConfig())
	rn := raft.NewNode(raftCfg, trans, applier, w)

	entries := make([]raft.LogEntry, 0, len(recovered.Entries))
	for _, encoded := range recovered.Entries {
		entry, _, err := raft.DecodeLogEntry(encoded)
		if err != nil {
			return nil, fmt.Errorf("node: decoding recovered log entry: %w", err)
		}
		entries = append(entries, entry)
	}
	rn.Restore(recovered.CurrentTerm, recovered.VotedFor, recovered.HasVote, entries)

	n.raft = rn
	n.trans = trans
	return n, nil
}

// HandleRequestVoteResponse satisfies rpc.NodeHandle, forwarding to raft.
func (n *Node) HandleRequestVoteResponse(reply raft.RequestVoteReply) {
	n.raft.HandleRequestVoteResponse(reply)
}

// HandleAppendEntriesResponse satisfies rpc.NodeHandle, forwarding to raft.
func (n *Node) HandleAppendEntriesResponse(peer uint64, reply raft.AppendEntriesReply) {
	n.raft.HandleAppendEntriesResponse(peer, reply)
}

// HandleRequestVote satisfies rpc.RaftHandler.
func (n *Node) HandleRequestVote(args raft.RequestVoteArgs) raft.RequestVoteReply {
	return n.raft.HandleRequestVote(args)
}

// HandleAppendEntries satisfies rpc.RaftHandler.
func (n *Node) HandleAppendEntries(args raft.AppendEntriesArgs) raft.AppendEntriesReply {
	return n.raft.HandleAppendEntries(args)
}

// apply is the raft.Applier callback: it dispatches a committed entry to
// the KV store by command type and wakes up any client request blocked
// on that index having committed.
func (n *Node) apply(entry raft.LogEntry) {
	switch entry.Type {
	case raft.CommandNoop:
		n.store.ApplyNoop(entry.Index)
	case raft.CommandSet:
		cmd, err := kv.DecodeSet(entry.Data)
		if err != nil {
			n.log.Error("failed to decode Set entry", "index", entry.Index, "error", err)
		} else {
			version := n.store.ApplySet(entry.Index, cmd)
			n.wakeWaiter(entry.Index, version)
			return
		}
	case raft.CommandDelete:
		cmd, err := kv.DecodeDelete(entry.Data)
		if err != nil {
			n.log.Error("failed to decode Delete entry", "index", entry.Index, "error", err)
		} else {
			deleted := n.store.ApplyDelete(entry.Index, cmd)
			n.wakeWaiter(entry.Index, deleted)
			return
		}
	case raft.CommandCas:
		cmd, err := kv.DecodeCas(entry.Data)
		if err != nil {
			n.log.Error("failed to decode Cas entry", "index", entry.Index, "error", err)
		} else {
			outcome := n.store.ApplyCas(entry.Index, cmd)
			n.wakeWaiter(entry.Index, outcome)
			return
		}
	}
	n.wakeWaiter(entry.Index, nil)
}

func (n *Node) wakeWaiter(index uint64, result any) {
	n.mu.Lock()
	w, ok := n.waiters[index]
	if ok {
		delete(n.waiters, index)
	}
	n.mu.Unlock()
	if ok {
		w.result = result
		close(w.done)
	}
}

// awaitCommit submits (cmdType, data) to raft and blocks until the
// resulting index is applied to the state machine or the wait times out.
// Returns (result, notLeader, err); result is whatever apply() attached
// for that index: a kv.CasOutcome for CommandCas, the assigned uint64
// version for CommandSet, a bool for CommandDelete, nil for CommandNoop.
func (n *Node) awaitCommit(ctx context.Context, cmdType raft.CommandType, data []byte) (any, bool, error) {
	index, err := n.raft.Submit(cmdType, data)
	if err == raft.ErrNotLeader {
		return nil, true, nil
	}
	if err != nil {
		return nil, false, err
	}

	w := &waiter{index: index, done: make(chan struct{})}
	n.mu.Lock()
	n.waiters[index] = w
	n.mu.Unlock()

	select {
	case <-w.done:
		return w.result, false, nil
	case <-ctx.Done():
		n.mu.Lock()
		delete(n.waiters, index)
		n.mu.Unlock()
		return nil, false, ctx.Err()
	}
}

// Get satisfies rpc.ClientHandler. A local read never consults raft: any
// node, leader or not, can serve a linearizable-enough read of its own
// applied state, so Get never reports StatusNotLeader.
func (n *Node) Get(req rpc.ClientGetRequest) rpc.ClientGetReply {
	entry, ok := n.store.GetWithVersion(string(req.Key))
	if !ok {
		return rpc.ClientGetReply{Status: rpc.StatusKeyNotFound}
	}
	return rpc.ClientGetReply{Status: rpc.StatusOk, Value: entry.Data, Version: entry.Version}
}

// Mutate satisfies rpc.ClientHandler: it submits the embedded kv command
// to raft under its matching CommandType and waits for the commit.
func (n *Node) Mutate(req rpc.ClientMutateRequest) rpc.ClientMutateReply {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var cmdType raft.CommandType
	switch req.Op {
	case rpc.OpSet:
		cmdType = raft.CommandSet
	case rpc.OpDelete:
		cmdType = raft.CommandDelete
	case rpc.OpCas:
		cmdType = raft.CommandCas
	default:
		return rpc.ClientMutateReply{Status: rpc.StatusInternalError}
	}

	result, notLeader, err := n.awaitCommit(ctx, cmdType, req.Data)
	if notLeader {
		return rpc.ClientMutateReply{Status: rpc.StatusNotLeader}
	}
	if err == context.DeadlineExceeded || err == context.Canceled {
		return rpc.ClientMutateReply{Status: rpc.StatusTimeout}
	}
	if err != nil {
		n.log.Error("mutate commit failed", "op", req.Op, "error", err)
		return rpc.ClientMutateReply{Status: rpc.StatusInternalError}
	}

	if req.Op == rpc.OpCas {
		outcome, _ := result.(kv.CasOutcome)
		if !outcome.Success {
			return rpc.ClientMutateReply{Status: rpc.StatusCasFailed}
		}
		return rpc.ClientMutateReply{Status: rpc.StatusOk, Version: outcome.NewVersion}
	}
	if req.Op == rpc.OpDelete {
		deleted, _ := result.(bool)
		return rpc.ClientMutateReply{Status: rpc.StatusOk, Deleted: deleted}
	}
	version, _ := result.(uint64)
	return rpc.ClientMutateReply{Status: rpc.StatusOk, Version: version}
}

// List satisfies rpc.ClientHandler.
func (n *Node) List(req rpc.ClientListRequest) rpc.ClientListReply {
	return rpc.ClientListReply{Status: rpc.StatusOk, Keys: n.store.ListKeys(req.Prefix, req.Limit)}
}

// ListenAndServe binds the configured port and serves RPC connections
// until the listener is closed. It also starts the background ticker
// driving the raft node's clock.
func (n *Node) ListenAndServe(ctx context.Context) error {
	addr := fmt.Sprintf(":%d", n.cfg.Port)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.New(errors.CodeTransportSend, "failed to bind").WithDetail(addr).WithCause(err)
	}
	n.server = rpc.NewServer(ln, n, n)

	go n.tickLoop(ctx)

	n.log.Info("listening", "addr", addr)
	return n.server.Serve()
}

// tickLoop drives the raft clock every 10ms until ctx is cancelled.
func (n *Node) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n.raft.Tick(10)
		}
	}
}

// Close shuts the node down: RPC server, outbound transport, WAL.
func (n *Node) Close() error {
	if n.server != nil {
		_ = n.server.Close()
	}
	if n.trans != nil {
		n.trans.Close()
	}
	n.raft.Stop()
	return n.wal.Close()
}

// Store exposes the KV store for the local-process CLI / discovery
// tooling that runs in the same binary.
func (n *Node) Store() *kv.Store { return n.store }

// RaftNode exposes the raft engine for status reporting.
func (n *Node) RaftNode() *raft.Node { return n.raft }
