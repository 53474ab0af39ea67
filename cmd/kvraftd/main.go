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
kvraftd runs a single member of a kvraftd cluster: a raft consensus
engine, its write-ahead log, the replicated key-value state machine, and
the binary RPC server peers and clients talk to.

Usage:

	kvraftd --id 1 --port 8001 --data ./data/node1 \
	    --peer 2=127.0.0.1:8002 --peer 3=127.0.0.1:8003
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/firefly-oss/kvraftd/internal/config"
	"github.com/firefly-oss/kvraftd/internal/discovery"
	"github.com/firefly-oss/kvraftd/internal/logging"
	"github.com/firefly-oss/kvraftd/internal/node"
)

const version = "1.0.0"

// peerFlag collects repeated --peer id=host:port flags.
type peerFlag struct {
	values map[uint64]string
}

func (p *peerFlag) String() string {
	if p.values == nil {
		return ""
	}
	var parts []string
	for id, addr := range p.values {
		parts = append(parts, fmt.Sprintf("%d=%s", id, addr))
	}
	return strings.Join(parts, ",")
}

func (p *peerFlag) Set(s string) error {
	idStr, addr, ok := strings.Cut(s, "=")
	if !ok {
		return fmt.Errorf("--peer must be id=host:port, got %q", s)
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return fmt.Errorf("--peer id %q is not a number: %w", idStr, err)
	}
	if p.values == nil {
		p.values = make(map[uint64]string)
	}
	p.values[id] = addr
	return nil
}

func main() {
	var peers peerFlag

	id := flag.Uint64("id", 0, "this node's numeric id (required, must be non-zero)")
	port := flag.Int("port", 8000, "TCP port the RPC server listens on")
	dataDir := flag.String("data", "./data", "directory for WAL segments and snapshots")
	flag.Var(&peers, "peer", "repeatable: id=host:port for another cluster member")
	configFile := flag.String("config", "", "path to a config file (flat key=value, overridden by flags and env)")
	logLevel := flag.String("log-level", "info", "log level: debug, info, warn, error")
	logJSON := flag.Bool("log-json", false, "emit structured JSON logs instead of text")
	electionMinMs := flag.Int("election-timeout-min-ms", 150, "minimum randomized election timeout in ms")
	electionMaxMs := flag.Int("election-timeout-max-ms", 300, "maximum randomized election timeout in ms")
	heartbeatMs := flag.Int("heartbeat-ms", 50, "leader heartbeat interval in ms")
	mdnsEnabled := flag.Bool("mdns", false, "advertise this node on the local network via mDNS")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("kvraftd %s\n", version)
		os.Exit(0)
	}

	mgr := config.NewManager()
	if *configFile != "" {
		if err := mgr.LoadFromFile(*configFile); err != nil {
			fmt.Fprintf(os.Stderr, "kvraftd: loading config file: %v\n", err)
			os.Exit(1)
		}
	}
	mgr.LoadFromEnv()
	cfg := mgr.Get()

	if *id != 0 {
		cfg.NodeID = *id
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dataDir != "" {
		cfg.DataDir = *dataDir
	}
	if len(peers.values) > 0 {
		cfg.Peers = peers.values
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	cfg.LogJSON = *logJSON
	cfg.ElectionTimeoutMinMs = *electionMinMs
	cfg.ElectionTimeoutMaxMs = *electionMaxMs
	cfg.HeartbeatMs = *heartbeatMs

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "kvraftd: invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logging.SetGlobalLevel(logging.ParseLevel(cfg.LogLevel))
	logging.SetJSONMode(cfg.LogJSON)
	log := logging.NewLogger("main").With("node_id", cfg.NodeID)

	n, err := node.New(cfg)
	if err != nil {
		log.Error("failed to initialize node", "error", err)
		os.Exit(1)
	}

	var disco *discovery.Service
	if *mdnsEnabled {
		disco, err = discovery.Advertise(discovery.Config{
			NodeID:   strconv.FormatUint(cfg.NodeID, 10),
			RaftAddr: fmt.Sprintf("127.0.0.1:%d", cfg.Port),
			Version:  version,
			Enabled:  true,
		})
		if err != nil {
			log.Warn("mdns advertise failed", "error", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
		if disco != nil {
			_ = disco.Shutdown()
		}
		_ = n.Close()
		os.Exit(0)
	}()

	log.Info("starting kvraftd", "version", version, "port", cfg.Port, "data_dir", cfg.DataDir, "peers", len(cfg.Peers))
	if err := n.ListenAndServe(ctx); err != nil {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}
