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

package client

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/firefly-oss/kvraftd/internal/kv"
	"github.com/firefly-oss/kvraftd/internal/raft"
	"github.com/firefly-oss/kvraftd/internal/rpc"
)

// fakeRaftHandler never receives raft traffic in these tests.
type fakeRaftHandler struct{}

func (fakeRaftHandler) HandleRequestVote(args raft.RequestVoteArgs) raft.RequestVoteReply {
	return raft.RequestVoteReply{}
}
func (fakeRaftHandler) HandleAppendEntries(args raft.AppendEntriesArgs) raft.AppendEntriesReply {
	return raft.AppendEntriesReply{}
}

// fakeClientHandler is an in-memory stand-in for a node.Node, optionally
// reporting StatusNotLeader for every request.
type fakeClientHandler struct {
	mu       sync.Mutex
	store    map[string]string
	versions map[string]uint64
	isLeader bool
}

func newFakeHandler(isLeader bool) *fakeClientHandler {
	return &fakeClientHandler{store: map[string]string{}, versions: map[string]uint64{}, isLeader: isLeader}
}

func (h *fakeClientHandler) Get(req rpc.ClientGetRequest) rpc.ClientGetReply {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.isLeader {
		return rpc.ClientGetReply{Status: rpc.StatusNotLeader}
	}
	v, ok := h.store[string(req.Key)]
	if !ok {
		return rpc.ClientGetReply{Status: rpc.StatusKeyNotFound}
	}
	return rpc.ClientGetReply{Status: rpc.StatusOk, Value: []byte(v), Version: h.versions[string(req.Key)]}
}

func (h *fakeClientHandler) Mutate(req rpc.ClientMutateRequest) rpc.ClientMutateReply {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.isLeader {
		return rpc.ClientMutateReply{Status: rpc.StatusNotLeader}
	}
	switch req.Op {
	case rpc.OpSet:
		cmd, _ := kv.DecodeSet(req.Data)
		key := string(cmd.Key)
		h.store[key] = string(cmd.Value)
		h.versions[key]++
		return rpc.ClientMutateReply{Status: rpc.StatusOk, Version: h.versions[key]}
	case rpc.OpDelete:
		cmd, _ := kv.DecodeDelete(req.Data)
		key := string(cmd.Key)
		_, existed := h.store[key]
		delete(h.store, key)
		return rpc.ClientMutateReply{Status: rpc.StatusOk, Deleted: existed}
	case rpc.OpCas:
		cmd, _ := kv.DecodeCas(req.Data)
		key := string(cmd.Key)
		if h.versions[key] != cmd.ExpectedVersion {
			return rpc.ClientMutateReply{Status: rpc.StatusCasFailed}
		}
		h.store[key] = string(cmd.NewValue)
		h.versions[key]++
		return rpc.ClientMutateReply{Status: rpc.StatusOk, Version: h.versions[key]}
	}
	return rpc.ClientMutateReply{Status: rpc.StatusInternalError}
}

func (h *fakeClientHandler) List(req rpc.ClientListRequest) rpc.ClientListReply {
	h.mu.Lock()
	defer h.mu.Unlock()
	var keys []string
	for k := range h.store {
		keys = append(keys, k)
	}
	return rpc.ClientListReply{Status: rpc.StatusOk, Keys: keys}
}

// startFakeServer launches an rpc.Server backed by handler on a random
// local port and returns its address and a cleanup func.
func startFakeServer(t *testing.T, handler *fakeClientHandler) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	server := rpc.NewServer(ln, fakeRaftHandler{}, handler)
	go server.Serve()
	t.Cleanup(func() { server.Close() })
	return ln.Addr().String()
}

func TestClientSetGetRoundTrip(t *testing.T) {
	addr := startFakeServer(t, newFakeHandler(true))
	c, err := New(Config{Nodes: []string{addr}})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx := context.Background()
	if err := c.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	val, _, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if string(val) != "v" {
		t.Errorf("expected v, got %q", val)
	}
}

func TestClientFailsOverAcrossNodes(t *testing.T) {
	deadAddr := "127.0.0.1:1" // nothing listens here
	liveAddr := startFakeServer(t, newFakeHandler(true))

	c, err := New(Config{Nodes: []string{deadAddr, liveAddr}, DialTimeout: 200 * time.Millisecond, MaxAttempts: 2})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := c.Set(context.Background(), "k", "v", 0); err != nil {
		t.Fatalf("expected failover to the live node to succeed, got %v", err)
	}
}

func TestClientCasSuccessAndFailure(t *testing.T) {
	addr := startFakeServer(t, newFakeHandler(true))
	c, _ := New(Config{Nodes: []string{addr}})
	ctx := context.Background()

	if err := c.Set(ctx, "k", "v1", 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	ok, newVer, err := c.Cas(ctx, "k", 1, "v2", 0)
	if err != nil || !ok || newVer != 2 {
		t.Fatalf("expected successful cas to version 2, got ok=%v newVer=%d err=%v", ok, newVer, err)
	}

	ok, _, err = c.Cas(ctx, "k", 1, "v3", 0)
	if err != nil {
		t.Fatalf("Cas: %v", err)
	}
	if ok {
		t.Error("expected cas against a stale version to fail")
	}
}

func TestBackoffGrowsExponentially(t *testing.T) {
	if backoff(0) != 100*time.Millisecond {
		t.Errorf("backoff(0) = %v, want 100ms", backoff(0))
	}
	if backoff(1) != 200*time.Millisecond {
		t.Errorf("backoff(1) = %v, want 200ms", backoff(1))
	}
	if backoff(2) != 400*time.Millisecond {
		t.Errorf("backoff(2) = %v, want 400ms", backoff(2))
	}
}
