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
	"bufio"
	"context"
	"net"
	"sync"
	"time"

	"github.com/firefly-oss/kvraftd/internal/errors"
)

// PoolConfig configures a peerPool.
type PoolConfig struct {
	MaxConnections int           // default: 5
	AcquireTimeout time.Duration // default: 2s
	DialTimeout    time.Duration // default: 1s
}

func DefaultPoolConfig() PoolConfig {
	return PoolConfig{MaxConnections: 5, AcquireTimeout: 2 * time.Second, DialTimeout: time.Second}
}

// pooledConn wraps a live TCP connection to one peer along with its
// buffered reader, so repeated RPCs to the same peer reuse the
// connection instead of paying a fresh dial+handshake every time.
type pooledConn struct {
	conn   net.Conn
	reader *bufio.Reader
}

// peerPool is a small fixed-capacity pool of outbound connections to a
// single peer address, modeled on a traditional database connection
// pool: an available channel of idle connections plus a creation budget.
type peerPool struct {
	mu        sync.Mutex
	addr      string
	cfg       PoolConfig
	available chan *pooledConn
	total     int
	closed    bool
}

func newPeerPool(addr string, cfg PoolConfig) *peerPool {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = 5
	}
	if cfg.AcquireTimeout <= 0 {
		cfg.AcquireTimeout = 2 * time.Second
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = time.Second
	}
	return &peerPool{
		addr:      addr,
		cfg:       cfg,
		available: make(chan *pooledConn, cfg.MaxConnections),
	}
}

func (p *peerPool) acquire(ctx context.Context) (*pooledConn, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, errors.New(errors.CodeTransportSend, "peer pool is closed").WithDetail(p.addr)
	}
	p.mu.Unlock()

	select {
	case c := <-p.available:
		return c, nil
	default:
	}

	p.mu.Lock()
	if p.total < p.cfg.MaxConnections {
		p.total++
		p.mu.Unlock()
		c, err := p.dial(ctx)
		if err != nil {
			p.mu.Lock()
			p.total--
			p.mu.Unlock()
			return nil, err
		}
		return c, nil
	}
	p.mu.Unlock()

	timeout := p.cfg.AcquireTimeout
	select {
	case c := <-p.available:
		return c, nil
	case <-time.After(timeout):
		return nil, errors.New(errors.CodePoolExhausted, "timed out acquiring connection").WithDetail(p.addr)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *peerPool) dial(ctx context.Context) (*pooledConn, error) {
	dialer := net.Dialer{Timeout: p.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", p.addr)
	if err != nil {
		return nil, errors.New(errors.CodeTransportSend, "dial failed").WithDetail(p.addr).WithCause(err)
	}
	return &pooledConn{conn: conn, reader: bufio.NewReader(conn)}, nil
}

func (p *peerPool) release(c *pooledConn, healthy bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed || !healthy {
		if c != nil {
			_ = c.conn.Close()
		}
		if !healthy {
			p.total--
		}
		return
	}
	select {
	case p.available <- c:
	default:
		_ = c.conn.Close()
		p.total--
	}
}

func (p *peerPool) close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.available)
	for c := range p.available {
		_ = c.conn.Close()
	}
	p.total = 0
}
