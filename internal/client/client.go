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
Package client is the first-class, in-module KV client library: a
leader-aware router over the cluster's binary RPC protocol. It tracks the
last node that answered a request successfully (reads included) and a
simple per-node health flag driven
purely by request outcomes (connect/timeout/success) — not a statistical
failure detector — and retries with exponential backoff across the node
list on failure or a StatusNotLeader response. The wire carries no leader
hint, so a NotLeader reply only tells the client to try a different node,
not which one is actually leading.
*/
package client

import (
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/firefly-oss/kvraftd/internal/errors"
	"github.com/firefly-oss/kvraftd/internal/kv"
	"github.com/firefly-oss/kvraftd/internal/rpc"
)

// Config configures a Client.
type Config struct {
	Nodes          []string // host:port for every known cluster member
	DialTimeout    time.Duration
	RequestTimeout time.Duration
	MaxAttempts    int // per-call retry budget across the node list (default 3)
}

func (c Config) withDefaults() Config {
	if c.DialTimeout <= 0 {
		c.DialTimeout = 5 * time.Second
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	return c
}

// nodeHealth is the simple outcome-driven liveness flag: a node starts
// healthy, flips unhealthy on a connect/timeout failure, and flips back
// the next time a request to it succeeds. No phi-accrual statistics —
// callers only need "try this one last" vs "skip it this round".
type nodeHealth struct {
	mu      sync.Mutex
	healthy map[string]bool
}

func newNodeHealth(nodes []string) *nodeHealth {
	h := &nodeHealth{healthy: make(map[string]bool, len(nodes))}
	for _, n := range nodes {
		h.healthy[n] = true
	}
	return h
}

func (h *nodeHealth) markHealthy(addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthy[addr] = true
}

func (h *nodeHealth) markUnhealthy(addr string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.healthy[addr] = false
}

func (h *nodeHealth) isHealthy(addr string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.healthy[addr]
}

// Client is a leader-aware KV client.
type Client struct {
	cfg    Config
	mu     sync.Mutex
	nodes  []string
	leader string // last known leader address, "" if unknown
	health *nodeHealth
}

// New constructs a Client over the given node addresses.
func New(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()
	if len(cfg.Nodes) == 0 {
		return nil, errors.NewClientError(errors.ErrNotConnected, "no nodes configured", nil)
	}
	return &Client{cfg: cfg, nodes: cfg.Nodes, health: newNodeHealth(cfg.Nodes)}, nil
}

// candidateOrder returns the node addresses to try this call, in order:
// the last known leader first (if any and if healthy), then the
// remaining healthy nodes, then unhealthy ones as a last resort.
func (c *Client) candidateOrder() []string {
	c.mu.Lock()
	leader := c.leader
	nodes := append([]string(nil), c.nodes...)
	c.mu.Unlock()

	var healthy, unhealthy []string
	for _, n := range nodes {
		if n == leader {
			continue
		}
		if c.health.isHealthy(n) {
			healthy = append(healthy, n)
		} else {
			unhealthy = append(unhealthy, n)
		}
	}

	order := make([]string, 0, len(nodes))
	if leader != "" {
		order = append(order, leader)
	}
	order = append(order, healthy...)
	order = append(order, unhealthy...)
	return order
}

func (c *Client) setLeader(addr string) {
	c.mu.Lock()
	c.leader = addr
	c.mu.Unlock()
}

func (c *Client) clearLeaderIfMatches(addr string) {
	c.mu.Lock()
	if c.leader == addr {
		c.leader = ""
	}
	c.mu.Unlock()
}

// backoff returns the exponential backoff delay for the given attempt
// (0-indexed): 100ms * 2^attempt.
func backoff(attempt int) time.Duration {
	d := 100 * time.Millisecond
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// roundTrip performs one request/reply exchange against addr, entirely
// self-contained (dial, write, read, close): the client does not pool
// connections the way the inter-node transport does, since client calls
// are comparatively rare and short-lived.
func (c *Client) roundTrip(ctx context.Context, addr string, msgType rpc.MessageType, payload []byte) (rpc.Frame, error) {
	dialer := net.Dialer{Timeout: c.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return rpc.Frame{}, err
	}
	defer conn.Close()

	deadline := time.Now().Add(c.cfg.RequestTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)

	req := rpc.Frame{Type: msgType, CorrelationID: 1, Payload: payload}
	if err := rpc.WriteFrame(conn, req); err != nil {
		return rpc.Frame{}, err
	}
	return rpc.ReadFrame(bufio.NewReader(conn))
}

// call performs one logical client request: it encodes req, tries every
// candidate node in order (retrying the whole node list up to
// MaxAttempts times with exponential backoff between rounds). On a
// StatusNotLeader response it forgets this node as leader and tries the
// next one, without marking the node unhealthy as a connection failure
// does — the wire carries no leader hint.
func (c *Client) call(ctx context.Context, req rpc.ClientRequest) (rpc.ClientResponse, error) {
	payload := rpc.EncodeClientRequest(req)

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxAttempts; attempt++ {
		for _, addr := range c.candidateOrder() {
			frame, err := c.roundTrip(ctx, addr, rpc.MsgClientRequest, payload)
			if err != nil {
				c.health.markUnhealthy(addr)
				c.clearLeaderIfMatches(addr)
				lastErr = err
				continue
			}
			c.health.markHealthy(addr)

			resp, err := rpc.DecodeClientResponse(frame.Payload)
			if err != nil {
				lastErr = err
				continue
			}
			if resp.Status == rpc.StatusNotLeader {
				c.clearLeaderIfMatches(addr)
				continue
			}
			c.setLeader(addr)
			return resp, nil
		}
		select {
		case <-time.After(backoff(attempt)):
		case <-ctx.Done():
			return rpc.ClientResponse{}, errors.NewClientError(errors.ErrTimeout, "context cancelled", ctx.Err())
		}
	}
	return rpc.ClientResponse{}, errors.NewClientError(errors.ErrAllNodesFailed, "all nodes failed", lastErr)
}

// Get reads a single key, following NotLeader failover and retrying
// across the node list on failure.
func (c *Client) Get(ctx context.Context, key string) ([]byte, uint64, error) {
	resp, err := c.call(ctx, rpc.ClientRequest{Op: rpc.OpGet, Data: rpc.EncodeKeyRequestData([]byte(key))})
	if err != nil {
		return nil, 0, err
	}
	switch resp.Status {
	case rpc.StatusOk:
		value, version, err := rpc.DecodeGetResponseData(resp.Data)
		if err != nil {
			return nil, 0, errors.NewClientError(errors.ErrInternalError, "malformed Get response", err)
		}
		return value, version, nil
	case rpc.StatusKeyNotFound:
		return nil, 0, errors.NewClientError(errors.ErrKeyNotFound, key, nil)
	default:
		return nil, 0, errors.NewClientError(errors.ErrInternalError, resp.Status.String(), nil)
	}
}

func (c *Client) mutate(ctx context.Context, op rpc.ClientOp, data []byte) (rpc.ClientResponse, error) {
	resp, err := c.call(ctx, rpc.ClientRequest{Op: op, Data: data})
	if err != nil {
		return rpc.ClientResponse{}, err
	}
	switch resp.Status {
	case rpc.StatusOk, rpc.StatusCasFailed:
		return resp, nil
	case rpc.StatusTimeout:
		return rpc.ClientResponse{}, errors.NewClientError(errors.ErrTimeout, "node timed out applying the command", nil)
	default:
		return rpc.ClientResponse{}, errors.NewClientError(errors.ErrInternalError, resp.Status.String(), nil)
	}
}

// Set writes key=value, optionally with a TTL in milliseconds (ttlMs==0 means no TTL).
func (c *Client) Set(ctx context.Context, key, value string, ttlMs uint64) error {
	cmd := kv.SetCommand{Key: []byte(key), Value: []byte(value)}
	if ttlMs > 0 {
		cmd.HasTTL = true
		cmd.TTLMs = ttlMs
	}
	_, err := c.mutate(ctx, rpc.OpSet, kv.EncodeSet(cmd))
	return err
}

// Delete removes key.
func (c *Client) Delete(ctx context.Context, key string) error {
	resp, err := c.mutate(ctx, rpc.OpDelete, rpc.EncodeKeyRequestData([]byte(key)))
	if err != nil {
		return err
	}
	if _, err := rpc.DecodeDeleteResponseData(resp.Data); err != nil {
		return errors.NewClientError(errors.ErrInternalError, "malformed Delete response", err)
	}
	return nil
}

// Cas performs a compare-and-swap, returning (success, newVersion).
func (c *Client) Cas(ctx context.Context, key string, expectedVersion uint64, newValue string, ttlMs uint64) (bool, uint64, error) {
	cmd := kv.CasCommand{Key: []byte(key), ExpectedVersion: expectedVersion, NewValue: []byte(newValue)}
	if ttlMs > 0 {
		cmd.HasTTL = true
		cmd.TTLMs = ttlMs
	}
	resp, err := c.mutate(ctx, rpc.OpCas, kv.EncodeCas(cmd))
	if err != nil {
		return false, 0, err
	}
	if resp.Status == rpc.StatusCasFailed {
		return false, 0, nil
	}
	newVersion, err := rpc.DecodeCasResponseData(resp.Data)
	if err != nil {
		return false, 0, errors.NewClientError(errors.ErrInternalError, "malformed Cas response", err)
	}
	return true, newVersion, nil
}

// List returns keys sharing prefix, capped at limit.
func (c *Client) List(ctx context.Context, prefix string, limit int) ([]string, error) {
	resp, err := c.call(ctx, rpc.ClientRequest{Op: rpc.OpList, Data: rpc.EncodeListRequestData(prefix, limit)})
	if err != nil {
		return nil, err
	}
	if resp.Status != rpc.StatusOk {
		return nil, errors.NewClientError(errors.ErrInternalError, resp.Status.String(), nil)
	}
	keys, err := rpc.DecodeListResponseData(resp.Data)
	if err != nil {
		return nil, errors.NewClientError(errors.ErrInternalError, "malformed List response", err)
	}
	return keys, nil
}
