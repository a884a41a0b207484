package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/nvandessel/meccsim/internal/archive"
)

func TestDefault(t *testing.T) {
	config := Default()

	if config.Logging.Level != "info" {
		t.Errorf("expected Logging.Level 'info', got '%s'", config.Logging.Level)
	}
	if config.Storage.DataDir != "" {
		t.Errorf("expected empty DataDir, got '%s'", config.Storage.DataDir)
	}
	if config.Archive.Keep != 10 {
		t.Errorf("expected Archive.Keep 10, got %d", config.Archive.Keep)
	}
	if config.Server.Addr != "127.0.0.1:8090" {
		t.Errorf("expected Server.Addr '127.0.0.1:8090', got '%s'", config.Server.Addr)
	}
	if config.Server.StepInterval != 250*time.Millisecond {
		t.Errorf("expected StepInterval 250ms, got %v", config.Server.StepInterval)
	}
	if config.Server.MaxPopulation != 100000 || config.Server.ReadTimeout != time.Minute {
		t.Errorf("expected 100000 max population / 1m read timeout, got %d / %v", config.Server.MaxPopulation, config.Server.ReadTimeout)
	}
	if config.Batch.Workers != 4 || config.Batch.Iterations != 100 {
		t.Errorf("expected batch 4 workers / 100 iterations, got %d / %d", config.Batch.Workers, config.Batch.Iterations)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("default config should be valid: %v", err)
	}
}

func TestLoadFromFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
logging:
  level: debug
storage:
  data_dir: /srv/meccsim
archive:
  keep: 3
  max_age: 30d
  max_total_size: 100MB
server:
  addr: ":9000"
  step_interval: 1s
  max_steps: 50
  max_population: 500
  read_timeout: 2m
batch:
  workers: 8
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}

	if config.Logging.Level != "debug" {
		t.Errorf("expected Level 'debug', got '%s'", config.Logging.Level)
	}
	if config.Storage.DataDir != "/srv/meccsim" {
		t.Errorf("expected DataDir '/srv/meccsim', got '%s'", config.Storage.DataDir)
	}
	if config.Archive.Keep != 3 || config.Archive.MaxAge != "30d" || config.Archive.MaxTotalSize != "100MB" {
		t.Errorf("unexpected archive config: %+v", config.Archive)
	}
	if config.Server.Addr != ":9000" || config.Server.StepInterval != time.Second || config.Server.MaxSteps != 50 {
		t.Errorf("unexpected server config: %+v", config.Server)
	}
	if config.Server.MaxPopulation != 500 || config.Server.ReadTimeout != 2*time.Minute {
		t.Errorf("unexpected server limits: %+v", config.Server)
	}
	if config.Batch.Workers != 8 {
		t.Errorf("expected Workers 8, got %d", config.Batch.Workers)
	}
	// Unset fields keep their defaults.
	if config.Batch.Iterations != 100 {
		t.Errorf("expected default Iterations 100, got %d", config.Batch.Iterations)
	}
	if config.Server.Burst != 40 {
		t.Errorf("expected default Burst 40, got %d", config.Server.Burst)
	}
}

func TestLoadFromFile_EnvExpansion(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	configContent := `
storage:
  data_dir: ${TEST_MECCSIM_ROOT}/data
archive:
  dir: ${TEST_MECCSIM_ROOT}/archives
`
	if err := os.WriteFile(configPath, []byte(configContent), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	t.Setenv("TEST_MECCSIM_ROOT", "/opt/sim")

	config, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile failed: %v", err)
	}
	if config.Storage.DataDir != "/opt/sim/data" {
		t.Errorf("expected DataDir '/opt/sim/data', got '%s'", config.Storage.DataDir)
	}
	if config.Archive.Dir != "/opt/sim/archives" {
		t.Errorf("expected Archive.Dir '/opt/sim/archives', got '%s'", config.Archive.Dir)
	}
}

func TestLoadFromFile_Errors(t *testing.T) {
	if _, err := LoadFromFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("logging: [unclosed"), 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadFromFile(path); err == nil {
		t.Error("expected error for malformed YAML")
	}
}

func TestLoad_FileAndEnvOverrides(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	if err := os.MkdirAll(filepath.Join(home, ".meccsim"), 0700); err != nil {
		t.Fatal(err)
	}
	content := "logging:\n  level: debug\nbatch:\n  workers: 2\n"
	if err := os.WriteFile(filepath.Join(home, ".meccsim", "config.yaml"), []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	t.Setenv("MECCSIM_LOG_LEVEL", "trace")
	t.Setenv("MECCSIM_DATA_DIR", "/tmp/meccsim-env")
	t.Setenv("MECCSIM_ARCHIVE_KEEP", "7")
	t.Setenv("MECCSIM_SERVER_ADDR", "0.0.0.0:1234")
	t.Setenv("MECCSIM_BATCH_WORKERS", "not-a-number")

	config, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Logging.Level != "trace" {
		t.Errorf("expected env level 'trace', got '%s'", config.Logging.Level)
	}
	if config.Storage.DataDir != "/tmp/meccsim-env" {
		t.Errorf("expected env DataDir, got '%s'", config.Storage.DataDir)
	}
	if config.Archive.Keep != 7 {
		t.Errorf("expected Keep 7, got %d", config.Archive.Keep)
	}
	if config.Server.Addr != "0.0.0.0:1234" {
		t.Errorf("expected env Addr, got '%s'", config.Server.Addr)
	}
	// Unparseable numbers leave the file value in place.
	if config.Batch.Workers != 2 {
		t.Errorf("expected file Workers 2, got %d", config.Batch.Workers)
	}
}

func TestLoad_NoFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	t.Setenv("MECCSIM_LOG_LEVEL", "")

	config, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if config.Logging.Level != "info" {
		t.Errorf("expected default level, got '%s'", config.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*MeccsimConfig)
		wantErr string
	}{
		{"default", func(c *MeccsimConfig) {}, ""},
		{"empty level", func(c *MeccsimConfig) { c.Logging.Level = "" }, ""},
		{"bad level", func(c *MeccsimConfig) { c.Logging.Level = "verbose" }, "invalid log level"},
		{"negative keep", func(c *MeccsimConfig) { c.Archive.Keep = -1 }, "keep"},
		{"bad max age", func(c *MeccsimConfig) { c.Archive.MaxAge = "soon" }, "max_age"},
		{"bad max size", func(c *MeccsimConfig) { c.Archive.MaxTotalSize = "lots" }, "max_total_size"},
		{"empty addr", func(c *MeccsimConfig) { c.Server.Addr = "" }, "addr"},
		{"negative interval", func(c *MeccsimConfig) { c.Server.StepInterval = -time.Second }, "step_interval"},
		{"zero max steps", func(c *MeccsimConfig) { c.Server.MaxSteps = 0 }, "max_steps"},
		{"zero max population", func(c *MeccsimConfig) { c.Server.MaxPopulation = 0 }, "max_population"},
		{"zero read timeout", func(c *MeccsimConfig) { c.Server.ReadTimeout = 0 }, "read_timeout"},
		{"zero rate", func(c *MeccsimConfig) { c.Server.RateLimit = 0 }, "rate_limit"},
		{"zero workers", func(c *MeccsimConfig) { c.Batch.Workers = 0 }, "workers"},
		{"zero iterations", func(c *MeccsimConfig) { c.Batch.Iterations = 0 }, "iterations"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := Default()
			tt.modify(config)
			err := config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestRetentionPolicy(t *testing.T) {
	config := Default()
	config.Archive.Keep = 0
	policy, err := config.RetentionPolicy()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := policy.(archive.KeepAll); !ok {
		t.Errorf("expected KeepAll with no limits, got %T", policy)
	}

	config.Archive.Keep = 2
	policy, err = config.RetentionPolicy()
	if err != nil {
		t.Fatal(err)
	}
	if cp, ok := policy.(*archive.CountPolicy); !ok || cp.MaxCount != 2 {
		t.Errorf("expected CountPolicy{2}, got %#v", policy)
	}

	config.Archive.MaxAge = "2w"
	policy, err = config.RetentionPolicy()
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := policy.(*archive.AllPolicy); !ok {
		t.Errorf("expected AllPolicy for combined limits, got %T", policy)
	}
}

func TestDataDirAndArchiveDir(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	config := Default()
	dataDir, err := config.DataDir()
	if err != nil {
		t.Fatal(err)
	}
	if dataDir != filepath.Join(home, ".meccsim") {
		t.Errorf("DataDir() = %q, want ~/.meccsim", dataDir)
	}
	archiveDir, err := config.ArchiveDir()
	if err != nil {
		t.Fatal(err)
	}
	if archiveDir != filepath.Join(home, ".meccsim", "archives") {
		t.Errorf("ArchiveDir() = %q, want ~/.meccsim/archives", archiveDir)
	}

	config.Storage.DataDir = "~/sims"
	dataDir, _ = config.DataDir()
	if dataDir != filepath.Join(home, "sims") {
		t.Errorf("DataDir() with ~ = %q, want %q", dataDir, filepath.Join(home, "sims"))
	}

	config.Archive.Dir = "/var/archives"
	archiveDir, _ = config.ArchiveDir()
	if archiveDir != "/var/archives" {
		t.Errorf("ArchiveDir() = %q, want /var/archives", archiveDir)
	}
}
