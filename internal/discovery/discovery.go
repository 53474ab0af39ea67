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
Package discovery advertises and locates cluster members on the local
network segment via mDNS, for the install-time "find my peers" workflow
(cmd/kvraft-discover). It has no bearing on raft membership itself, which
remains fixed at startup via --peer flags; this is purely a convenience
for assembling that flag list in the first place.
*/
package discovery

import (
	"fmt"
	"strconv"
	"time"

	"github.com/hashicorp/mdns"
)

const (
	serviceName = "_kvraftd._tcp"
	domain      = "local."
)

// Config controls whether this process advertises itself, and under
// which identity.
type Config struct {
	NodeID  string
	RaftAddr string // host:port this node's RPC server listens on
	Version string
	Enabled bool // false for a discovery-only client that never advertises
}

// Service owns the mDNS advertisement for a running node. Call Shutdown
// when the node stops to deregister cleanly.
type Service struct {
	server *mdns.Server
}

// Advertise registers this node's presence on the local network. A no-op
// (returns a Service with a nil server) when cfg.Enabled is false.
func Advertise(cfg Config) (*Service, error) {
	if !cfg.Enabled {
		return &Service{}, nil
	}

	host, portStr, err := splitHostPort(cfg.RaftAddr)
	if err != nil {
		return nil, fmt.Errorf("discovery: invalid raft addr %q: %w", cfg.RaftAddr, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("discovery: invalid port in %q: %w", cfg.RaftAddr, err)
	}

	info := []string{
		"node_id=" + cfg.NodeID,
		"raft_addr=" + cfg.RaftAddr,
		"version=" + cfg.Version,
	}

	svc, err := mdns.NewMDNSService(cfg.NodeID, serviceName, domain, "", port, nil, info)
	if err != nil {
		return nil, fmt.Errorf("discovery: building mdns service: %w", err)
	}
	_ = host // the advertised host is derived by the mdns library from the local interfaces

	server, err := mdns.NewServer(&mdns.Config{Zone: svc})
	if err != nil {
		return nil, fmt.Errorf("discovery: starting mdns server: %w", err)
	}
	return &Service{server: server}, nil
}

// Shutdown deregisters the advertisement, if one was started.
func (s *Service) Shutdown() error {
	if s == nil || s.server == nil {
		return nil
	}
	return s.server.Shutdown()
}

// Node describes one discovered cluster member.
type Node struct {
	NodeID   string
	RaftAddr string
	Version  string
	Host     string
}

// Discover browses the network for advertising kvraftd nodes for up to
// timeout, returning whatever it found.
func Discover(timeout time.Duration) ([]Node, error) {
	entriesCh := make(chan *mdns.ServiceEntry, 32)
	var nodes []Node
	done := make(chan struct{})

	go func() {
		defer close(done)
		for entry := range entriesCh {
			nodes = append(nodes, nodeFromEntry(entry))
		}
	}()

	params := mdns.DefaultParams(serviceName)
	params.Entries = entriesCh
	params.Timeout = timeout
	params.Domain = domain

	if err := mdns.Query(params); err != nil {
		close(entriesCh)
		<-done
		return nil, fmt.Errorf("discovery: mdns query: %w", err)
	}
	close(entriesCh)
	<-done
	return nodes, nil
}

func nodeFromEntry(entry *mdns.ServiceEntry) Node {
	n := Node{Host: entry.Host}
	for _, field := range entry.InfoFields {
		switch {
		case hasPrefix(field, "node_id="):
			n.NodeID = field[len("node_id="):]
		case hasPrefix(field, "raft_addr="):
			n.RaftAddr = field[len("raft_addr="):]
		case hasPrefix(field, "version="):
			n.Version = field[len("version="):]
		}
	}
	if n.RaftAddr == "" && entry.AddrV4 != nil {
		n.RaftAddr = fmt.Sprintf("%s:%d", entry.AddrV4.String(), entry.Port)
	}
	if n.NodeID == "" {
		n.NodeID = entry.Name
	}
	return n
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

func splitHostPort(addr string) (host, port string, err error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("missing ':' separator")
}
