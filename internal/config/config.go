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
Configuration
=============

Config holds every setting the server CLI accepts: this node's identity,
the WAL directory, the peer list, the election/heartbeat timers, and the
logging mode. Three sources can populate it, applied in increasing order
of precedence: built-in defaults, a config file, and the environment.

Config file format is a flat `key = value` file, one setting per line,
`#` starts a comment. Peers are written as repeated `peer.<id> = "host:port"`
lines, one per cluster member other than the local node.
*/
package config

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
)

// Environment variable names consulted by LoadFromEnv.
const (
	EnvNodeID       = "KVRAFTD_NODE_ID"
	EnvPort         = "KVRAFTD_PORT"
	EnvDataDir      = "KVRAFTD_DATA_DIR"
	EnvLogLevel     = "KVRAFTD_LOG_LEVEL"
	EnvLogJSON      = "KVRAFTD_LOG_JSON"
	EnvElectionMin  = "KVRAFTD_ELECTION_TIMEOUT_MIN_MS"
	EnvElectionMax  = "KVRAFTD_ELECTION_TIMEOUT_MAX_MS"
	EnvHeartbeatMs  = "KVRAFTD_HEARTBEAT_MS"
)

// Config is the full set of server-side settings.
type Config struct {
	NodeID     uint64
	Port       int
	DataDir    string
	Peers      map[uint64]string
	ElectionTimeoutMinMs int
	ElectionTimeoutMaxMs int
	HeartbeatMs          int
	LogLevel   string
	LogJSON    bool
	ConfigFile string
}

// DefaultConfig returns the baseline configuration; NodeID and Peers are
// left zero/empty since they have no sane default.
func DefaultConfig() *Config {
	return &Config{
		Port:                 8000,
		DataDir:              "./data",
		Peers:                map[uint64]string{},
		ElectionTimeoutMinMs: 150,
		ElectionTimeoutMaxMs: 300,
		HeartbeatMs:          50,
		LogLevel:             "info",
		LogJSON:              false,
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.NodeID == 0 {
		return fmt.Errorf("config: node id is required and must be non-zero")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: port %d out of range", c.Port)
	}
	if c.DataDir == "" {
		return fmt.Errorf("config: data dir must not be empty")
	}
	if c.ElectionTimeoutMinMs <= 0 || c.ElectionTimeoutMaxMs <= 0 {
		return fmt.Errorf("config: election timeouts must be positive")
	}
	if c.ElectionTimeoutMinMs >= c.ElectionTimeoutMaxMs {
		return fmt.Errorf("config: election_timeout_min_ms must be less than election_timeout_max_ms")
	}
	if c.HeartbeatMs <= 0 {
		return fmt.Errorf("config: heartbeat_ms must be positive")
	}
	if c.HeartbeatMs >= c.ElectionTimeoutMinMs {
		return fmt.Errorf("config: heartbeat_ms must be well below election_timeout_min_ms")
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("config: invalid log_level %q", c.LogLevel)
	}
	for id := range c.Peers {
		if id == c.NodeID {
			return fmt.Errorf("config: peer id %d collides with this node's id", id)
		}
	}
	return nil
}

// String renders a human-readable multi-line summary.
func (c *Config) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "NodeID: %d\n", c.NodeID)
	fmt.Fprintf(&b, "Port: %d\n", c.Port)
	fmt.Fprintf(&b, "DataDir: %s\n", c.DataDir)
	fmt.Fprintf(&b, "Peers: %d configured\n", len(c.Peers))
	fmt.Fprintf(&b, "ElectionTimeoutMs: [%d, %d]\n", c.ElectionTimeoutMinMs, c.ElectionTimeoutMaxMs)
	fmt.Fprintf(&b, "HeartbeatMs: %d\n", c.HeartbeatMs)
	fmt.Fprintf(&b, "LogLevel: %s\n", c.LogLevel)
	fmt.Fprintf(&b, "LogJSON: %v\n", c.LogJSON)
	return b.String()
}

// ToTOML renders the configuration in the flat key=value file format
// understood by LoadFromFile (named for parity with the sibling project's
// config surface, though the format is not full TOML).
func (c *Config) ToTOML() string {
	var b strings.Builder
	fmt.Fprintf(&b, "node_id = %d\n", c.NodeID)
	fmt.Fprintf(&b, "port = %d\n", c.Port)
	fmt.Fprintf(&b, "data_dir = %q\n", c.DataDir)
	fmt.Fprintf(&b, "election_timeout_min_ms = %d\n", c.ElectionTimeoutMinMs)
	fmt.Fprintf(&b, "election_timeout_max_ms = %d\n", c.ElectionTimeoutMaxMs)
	fmt.Fprintf(&b, "heartbeat_ms = %d\n", c.HeartbeatMs)
	fmt.Fprintf(&b, "log_level = %q\n", c.LogLevel)
	fmt.Fprintf(&b, "log_json = %v\n", c.LogJSON)
	for id, addr := range c.Peers {
		fmt.Fprintf(&b, "peer.%d = %q\n", id, addr)
	}
	return b.String()
}

// SaveToFile writes the configuration to path, creating parent directories
// as needed.
func (c *Config) SaveToFile(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: creating directory for %s: %w", path, err)
	}
	return os.WriteFile(path, []byte(c.ToTOML()), 0o644)
}

func parseConfigFile(path string, into *Config) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("config: opening %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), "\"")

		switch {
		case key == "node_id":
			if n, err := strconv.ParseUint(val, 10, 64); err == nil {
				into.NodeID = n
			}
		case key == "port":
			if n, err := strconv.Atoi(val); err == nil {
				into.Port = n
			}
		case key == "data_dir":
			into.DataDir = val
		case key == "election_timeout_min_ms":
			if n, err := strconv.Atoi(val); err == nil {
				into.ElectionTimeoutMinMs = n
			}
		case key == "election_timeout_max_ms":
			if n, err := strconv.Atoi(val); err == nil {
				into.ElectionTimeoutMaxMs = n
			}
		case key == "heartbeat_ms":
			if n, err := strconv.Atoi(val); err == nil {
				into.HeartbeatMs = n
			}
		case key == "log_level":
			into.LogLevel = val
		case key == "log_json":
			into.LogJSON = val == "true"
		case strings.HasPrefix(key, "peer."):
			idStr := strings.TrimPrefix(key, "peer.")
			if id, err := strconv.ParseUint(idStr, 10, 64); err == nil {
				if into.Peers == nil {
					into.Peers = map[uint64]string{}
				}
				into.Peers[id] = val
			}
		}
	}
	return scanner.Err()
}

// Manager owns the live Config, reloadable from its originating file, and
// notifies registered callbacks on Reload.
type Manager struct {
	mu        sync.RWMutex
	cfg       *Config
	callbacks []func(*Config)
}

// NewManager returns a Manager seeded with DefaultConfig.
func NewManager() *Manager {
	return &Manager{cfg: DefaultConfig()}
}

// Get returns the current configuration. The returned pointer must be
// treated as read-only by the caller.
func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

// LoadFromFile parses path into the manager's configuration, remembering
// the path for subsequent Reload calls.
func (m *Manager) LoadFromFile(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cfg := DefaultConfig()
	if err := parseConfigFile(path, cfg); err != nil {
		return err
	}
	cfg.ConfigFile = path
	m.cfg = cfg
	return nil
}

// LoadFromEnv overlays environment variable values onto the current
// configuration, taking precedence over whatever was loaded from a file.
func (m *Manager) LoadFromEnv() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v := os.Getenv(EnvNodeID); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			m.cfg.NodeID = n
		}
	}
	if v := os.Getenv(EnvPort); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			m.cfg.Port = n
		}
	}
	if v := os.Getenv(EnvDataDir); v != "" {
		m.cfg.DataDir = v
	}
	if v := os.Getenv(EnvLogLevel); v != "" {
		m.cfg.LogLevel = v
	}
	if v := os.Getenv(EnvLogJSON); v != "" {
		m.cfg.LogJSON = v == "true"
	}
	if v := os.Getenv(EnvElectionMin); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			m.cfg.ElectionTimeoutMinMs = n
		}
	}
	if v := os.Getenv(EnvElectionMax); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			m.cfg.ElectionTimeoutMaxMs = n
		}
	}
	if v := os.Getenv(EnvHeartbeatMs); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			m.cfg.HeartbeatMs = n
		}
	}
}

// Reload re-reads the file the configuration was last loaded from (if any)
// and invokes every registered callback with the new configuration.
func (m *Manager) Reload() error {
	m.mu.Lock()
	path := m.cfg.ConfigFile
	m.mu.Unlock()

	if path == "" {
		return fmt.Errorf("config: no config file to reload from")
	}
	if err := m.LoadFromFile(path); err != nil {
		return err
	}

	m.mu.RLock()
	cfg := m.cfg
	cbs := append([]func(*Config){}, m.callbacks...)
	m.mu.RUnlock()

	for _, cb := range cbs {
		cb(cfg)
	}
	return nil
}

// OnReload registers a callback invoked after every successful Reload.
func (m *Manager) OnReload(cb func(*Config)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.callbacks = append(m.callbacks, cb)
}

var (
	globalOnce sync.Once
	globalMgr  *Manager
)

// Global returns the process-wide Manager singleton.
func Global() *Manager {
	globalOnce.Do(func() {
		globalMgr = NewManager()
	})
	return globalMgr
}
