package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

// setupTestHome points HOME at a temp dir for the duration of the test.
func setupTestHome(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	return home
}

func writeConfig(t *testing.T, home, content string, perm os.FileMode) string {
	t.Helper()
	dir := filepath.Join(home, ".config", "assistd")
	if err := os.MkdirAll(dir, 0700); err != nil {
		t.Fatalf("Failed to create config dir: %v", err)
	}
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), perm); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}
	return path
}

func TestLoadWithFile_NoFileUsesDefaults(t *testing.T) {
	setupTestHome(t)

	cfg, err := LoadWithFile("")
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}
	if cfg.Server.Port != 9191 {
		t.Errorf("Server.Port = %d, want 9191", cfg.Server.Port)
	}
	if !cfg.Tools.Watch {
		t.Error("Tools.Watch = false, want true")
	}
	if !cfg.Secrets.Enabled {
		t.Error("Secrets.Enabled = false, want true")
	}
}

func TestLoadWithFile_ValidYAML(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfig(t, home, `server:
  port: 8088
  run_ttl: 5m
gateway:
  provider: ollama
  base_url: http://localhost:11434
  model: llama3
  timeout: 15s
orchestrator:
  strategy: structured
  max_cycles: 2
tools:
  watch: false
`, 0600)

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}

	if cfg.Server.Port != 8088 {
		t.Errorf("Server.Port = %d, want 8088", cfg.Server.Port)
	}
	if cfg.Server.RunTTL.Duration() != 5*time.Minute {
		t.Errorf("Server.RunTTL = %v, want 5m", cfg.Server.RunTTL.Duration())
	}
	if cfg.Gateway.Provider != "ollama" || cfg.Gateway.Model != "llama3" {
		t.Errorf("Gateway = %+v", cfg.Gateway)
	}
	if cfg.Gateway.Timeout.Duration() != 15*time.Second {
		t.Errorf("Gateway.Timeout = %v, want 15s", cfg.Gateway.Timeout.Duration())
	}
	if cfg.Orchestrator.Strategy != "structured" || cfg.Orchestrator.MaxCycles != 2 {
		t.Errorf("Orchestrator = %+v", cfg.Orchestrator)
	}
	// Untouched keys keep their defaults.
	if cfg.Orchestrator.MaxSteps != 10 {
		t.Errorf("Orchestrator.MaxSteps = %d, want 10", cfg.Orchestrator.MaxSteps)
	}
	if cfg.Tools.Watch {
		t.Error("Tools.Watch = true, want false")
	}
}

func TestLoadWithFile_EnvOverridesFile(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfig(t, home, "gateway:\n  model: from-file\n", 0600)

	t.Setenv("ASSISTD_GATEWAY_MODEL", "from-env")
	t.Setenv("ASSISTD_GATEWAY_API_KEY", "sk-env")
	t.Setenv("ASSISTD_ORCHESTRATOR_MAX_CYCLES", "7")

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v, want nil", err)
	}
	if cfg.Gateway.Model != "from-env" {
		t.Errorf("Gateway.Model = %q, want from-env", cfg.Gateway.Model)
	}
	if cfg.Gateway.APIKey.Value() != "sk-env" {
		t.Errorf("Gateway.APIKey not loaded from env")
	}
	if cfg.Orchestrator.MaxCycles != 7 {
		t.Errorf("Orchestrator.MaxCycles = %d, want 7", cfg.Orchestrator.MaxCycles)
	}
}

func TestLoadWithFile_InvalidValuesRejected(t *testing.T) {
	home := setupTestHome(t)
	path := writeConfig(t, home, "orchestrator:\n  strategy: telepathy\n", 0600)

	if _, err := LoadWithFile(path); err == nil {
		t.Fatal("LoadWithFile() error = nil, want validation error")
	}
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	home := setupTestHome(t)
	path := writeConfig(t, home, "server:\n  port: 8088\n", 0644)

	_, err := LoadWithFile(path)
	if err == nil || !strings.Contains(err.Error(), "insecure config file permissions") {
		t.Fatalf("LoadWithFile() error = %v, want permissions error", err)
	}
}

func TestLoadWithFile_PathOutsideAllowedDirs(t *testing.T) {
	setupTestHome(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	if _, err := LoadWithFile(path); err == nil {
		t.Fatal("LoadWithFile() error = nil, want path validation error")
	}
}

func TestLoadWithFile_PrefixTrickRejected(t *testing.T) {
	home := setupTestHome(t)
	path := filepath.Join(home, ".config", "assistd-evil", "config.yaml")

	if _, err := LoadWithFile(path); err == nil {
		t.Fatal("LoadWithFile() error = nil, want path validation error")
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"ASSISTD_GATEWAY_API_KEY":       "gateway.api_key",
		"ASSISTD_SERVER_PORT":           "server.port",
		"ASSISTD_NATS_SUBJECT_PREFIX":   "nats.subject_prefix",
		"ASSISTD_ORCHESTRATOR_STRATEGY": "orchestrator.strategy",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}
