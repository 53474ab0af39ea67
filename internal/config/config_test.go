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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Port != 8000 {
		t.Errorf("expected default port 8000, got %d", cfg.Port)
	}
	if cfg.DataDir != "./data" {
		t.Errorf("expected default data dir './data', got %q", cfg.DataDir)
	}
	if cfg.ElectionTimeoutMinMs != 150 || cfg.ElectionTimeoutMaxMs != 300 {
		t.Errorf("expected election timeout [150,300], got [%d,%d]", cfg.ElectionTimeoutMinMs, cfg.ElectionTimeoutMaxMs)
	}
	if cfg.HeartbeatMs != 50 {
		t.Errorf("expected default heartbeat 50ms, got %d", cfg.HeartbeatMs)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected default log level 'info', got %q", cfg.LogLevel)
	}
	if cfg.LogJSON {
		t.Error("expected default log_json false")
	}
}

func TestConfigValidation(t *testing.T) {
	base := func() *Config {
		cfg := DefaultConfig()
		cfg.NodeID = 1
		return cfg
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid default", func(c *Config) {}, false},
		{"zero node id", func(c *Config) { c.NodeID = 0 }, true},
		{"port zero", func(c *Config) { c.Port = 0 }, true},
		{"port too high", func(c *Config) { c.Port = 70000 }, true},
		{"empty data dir", func(c *Config) { c.DataDir = "" }, true},
		{"election min >= max", func(c *Config) { c.ElectionTimeoutMinMs = 300; c.ElectionTimeoutMaxMs = 300 }, true},
		{"heartbeat too large", func(c *Config) { c.HeartbeatMs = 200 }, true},
		{"invalid log level", func(c *Config) { c.LogLevel = "verbose" }, true},
		{"peer collides with self", func(c *Config) { c.Peers = map[uint64]string{1: "x:1"} }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "kvraftd_config_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	content := `# test configuration
node_id = 1
port = 9000
data_dir = "/tmp/kvraftd-data"
election_timeout_min_ms = 200
election_timeout_max_ms = 400
heartbeat_ms = 75
log_level = "debug"
log_json = true
peer.2 = "127.0.0.1:9001"
peer.3 = "127.0.0.1:9002"
`
	configPath := filepath.Join(tmpDir, "kvraftd.conf")
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	mgr := NewManager()
	if err := mgr.LoadFromFile(configPath); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	cfg := mgr.Get()
	if cfg.NodeID != 1 {
		t.Errorf("expected node id 1, got %d", cfg.NodeID)
	}
	if cfg.Port != 9000 {
		t.Errorf("expected port 9000, got %d", cfg.Port)
	}
	if cfg.DataDir != "/tmp/kvraftd-data" {
		t.Errorf("expected data dir '/tmp/kvraftd-data', got %q", cfg.DataDir)
	}
	if cfg.ElectionTimeoutMinMs != 200 || cfg.ElectionTimeoutMaxMs != 400 {
		t.Errorf("expected election timeout [200,400], got [%d,%d]", cfg.ElectionTimeoutMinMs, cfg.ElectionTimeoutMaxMs)
	}
	if cfg.HeartbeatMs != 75 {
		t.Errorf("expected heartbeat 75, got %d", cfg.HeartbeatMs)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level 'debug', got %q", cfg.LogLevel)
	}
	if !cfg.LogJSON {
		t.Error("expected log_json true")
	}
	if len(cfg.Peers) != 2 || cfg.Peers[2] != "127.0.0.1:9001" || cfg.Peers[3] != "127.0.0.1:9002" {
		t.Errorf("unexpected peers: %v", cfg.Peers)
	}
	if cfg.ConfigFile != configPath {
		t.Errorf("expected ConfigFile %q, got %q", configPath, cfg.ConfigFile)
	}
}

func TestLoadFromEnv(t *testing.T) {
	envVars := map[string]string{
		EnvNodeID:   "5",
		EnvPort:     "7777",
		EnvDataDir:  "/tmp/env-data",
		EnvLogLevel: "debug",
		EnvLogJSON:  "true",
	}
	saved := map[string]string{}
	for k := range envVars {
		saved[k] = os.Getenv(k)
	}
	defer func() {
		for k, v := range saved {
			os.Setenv(k, v)
		}
	}()
	for k, v := range envVars {
		os.Setenv(k, v)
	}

	mgr := NewManager()
	mgr.LoadFromEnv()
	cfg := mgr.Get()

	if cfg.NodeID != 5 {
		t.Errorf("expected node id 5 from env, got %d", cfg.NodeID)
	}
	if cfg.Port != 7777 {
		t.Errorf("expected port 7777 from env, got %d", cfg.Port)
	}
	if cfg.DataDir != "/tmp/env-data" {
		t.Errorf("expected data dir from env, got %q", cfg.DataDir)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected log level 'debug' from env, got %q", cfg.LogLevel)
	}
	if !cfg.LogJSON {
		t.Error("expected log_json true from env")
	}
}

func TestConfigPrecedence(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "kvraftd_config_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	content := `node_id = 1
port = 9000
data_dir = "./data"
log_level = "info"
`
	configPath := filepath.Join(tmpDir, "kvraftd.conf")
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	saved := os.Getenv(EnvPort)
	defer os.Setenv(EnvPort, saved)
	os.Setenv(EnvPort, "7777")

	mgr := NewManager()
	if err := mgr.LoadFromFile(configPath); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	mgr.LoadFromEnv()

	if cfg := mgr.Get(); cfg.Port != 7777 {
		t.Errorf("expected env override port 7777, got %d", cfg.Port)
	}
}

func TestToTOMLAndSaveToFile(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeID = 1
	cfg.Port = 8888
	cfg.Peers = map[uint64]string{2: "127.0.0.1:8001"}

	rendered := cfg.ToTOML()
	if !strings.Contains(rendered, "node_id = 1") {
		t.Error("ToTOML output missing node_id")
	}
	if !strings.Contains(rendered, "port = 8888") {
		t.Error("ToTOML output missing port")
	}
	if !strings.Contains(rendered, `peer.2 = "127.0.0.1:8001"`) {
		t.Error("ToTOML output missing peer entry")
	}

	tmpDir, err := os.MkdirTemp("", "kvraftd_config_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	path := filepath.Join(tmpDir, "subdir", "kvraftd.conf")
	if err := cfg.SaveToFile(path); err != nil {
		t.Fatalf("SaveToFile failed: %v", err)
	}

	mgr := NewManager()
	if err := mgr.LoadFromFile(path); err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded := mgr.Get(); loaded.Port != 8888 || loaded.NodeID != 1 {
		t.Errorf("round-tripped config mismatch: %+v", loaded)
	}
}

func TestReload(t *testing.T) {
	tmpDir, err := os.MkdirTemp("", "kvraftd_config_test_*")
	if err != nil {
		t.Fatalf("failed to create temp dir: %v", err)
	}
	defer os.RemoveAll(tmpDir)

	configPath := filepath.Join(tmpDir, "kvraftd.conf")
	initial := "node_id = 1\nport = 9000\nlog_level = \"info\"\n"
	if err := os.WriteFile(configPath, []byte(initial), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	mgr := NewManager()
	if err := mgr.LoadFromFile(configPath); err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if cfg := mgr.Get(); cfg.Port != 9000 {
		t.Errorf("expected initial port 9000, got %d", cfg.Port)
	}

	reloaded := false
	mgr.OnReload(func(c *Config) { reloaded = true })

	updated := "node_id = 1\nport = 8000\nlog_level = \"debug\"\n"
	if err := os.WriteFile(configPath, []byte(updated), 0o644); err != nil {
		t.Fatalf("failed to update config file: %v", err)
	}
	if err := mgr.Reload(); err != nil {
		t.Fatalf("Reload failed: %v", err)
	}

	cfg := mgr.Get()
	if cfg.Port != 8000 {
		t.Errorf("expected reloaded port 8000, got %d", cfg.Port)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected reloaded log level 'debug', got %q", cfg.LogLevel)
	}
	if !reloaded {
		t.Error("reload callback was not invoked")
	}
}

func TestGlobalManager(t *testing.T) {
	mgr := Global()
	if mgr == nil {
		t.Fatal("Global() returned nil")
	}
	if mgr2 := Global(); mgr != mgr2 {
		t.Error("Global() returned different instances")
	}
}

func TestConfigStringContainsKeyFields(t *testing.T) {
	cfg := DefaultConfig()
	cfg.NodeID = 7
	str := cfg.String()
	if !strings.Contains(str, "NodeID: 7") {
		t.Error("String() missing NodeID")
	}
	if !strings.Contains(str, "Port:") {
		t.Error("String() missing Port")
	}
}
