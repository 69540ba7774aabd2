package config

import (
	"os"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	tmpfile, err := os.CreateTemp("", "config-*.yaml")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { os.Remove(tmpfile.Name()) })

	if _, err := tmpfile.Write([]byte(content)); err != nil {
		t.Fatal(err)
	}
	if err := tmpfile.Close(); err != nil {
		t.Fatal(err)
	}

	return tmpfile.Name()
}

func TestLoad(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
  host: "127.0.0.1"

database:
  host: "testdb"
  port: 5432
  user: "testuser"
  password: "testpass"
  dbname: "testdb"

transcoder:
  resolutions: [240, 480, 720]
  tempDir: "/scratch"

lock:
  backend: "redis"
  timeout: "2m"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Expected port 9090, got %d", cfg.Server.Port)
	}

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("Expected host 127.0.0.1, got %s", cfg.Server.Host)
	}

	if cfg.Database.Host != "testdb" {
		t.Errorf("Expected database host testdb, got %s", cfg.Database.Host)
	}

	if len(cfg.Transcoder.Resolutions) != 3 || cfg.Transcoder.Resolutions[2] != 720 {
		t.Errorf("Unexpected resolutions %v", cfg.Transcoder.Resolutions)
	}

	if cfg.Transcoder.TempDir != "/scratch" {
		t.Errorf("Expected temp dir /scratch, got %s", cfg.Transcoder.TempDir)
	}

	if cfg.Lock.Backend != "redis" {
		t.Errorf("Expected redis lock backend, got %s", cfg.Lock.Backend)
	}

	if cfg.Lock.Timeout != 2*time.Minute {
		t.Errorf("Expected lock timeout 2m, got %v", cfg.Lock.Timeout)
	}
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 8081\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Transcoder.WorkerCount != 2 {
		t.Errorf("Expected 2 workers, got %d", cfg.Transcoder.WorkerCount)
	}
	if len(cfg.Transcoder.Resolutions) != 8 {
		t.Errorf("Expected full ladder by default, got %v", cfg.Transcoder.Resolutions)
	}
	if cfg.Lock.Backend != "memory" {
		t.Errorf("Expected memory lock backend, got %s", cfg.Lock.Backend)
	}
	if cfg.Lock.TTL != 30*time.Second {
		t.Errorf("Expected lock ttl 30s, got %v", cfg.Lock.TTL)
	}
	if cfg.Redis.AssetTTL != 5*time.Minute {
		t.Errorf("Expected asset ttl 5m, got %v", cfg.Redis.AssetTTL)
	}
}

func TestLoadInvalidLockBackend(t *testing.T) {
	path := writeConfig(t, "lock:\n  backend: \"etcd\"\n")

	if _, err := Load(path); err == nil {
		t.Error("Expected error for unknown lock backend")
	}
}

func TestValidate(t *testing.T) {
	cfg := &Config{
		Transcoder: TranscoderConfig{WorkerCount: 1, Resolutions: []int{480}},
		Lock:       LockConfig{Backend: "memory"},
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected valid config, got %v", err)
	}

	cfg.Transcoder.WorkerCount = 0
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for zero workers")
	}

	cfg.Transcoder.WorkerCount = 1
	cfg.Transcoder.Resolutions = nil
	if err := cfg.Validate(); err == nil {
		t.Error("Expected error for empty ladder")
	}

	cfg.Transcoder.AlwaysTranscodeOriginalResolution = true
	if err := cfg.Validate(); err != nil {
		t.Errorf("Empty ladder is allowed when originals keep their resolution: %v", err)
	}
}

func TestLoadNonExistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Error("Expected error when loading nonexistent file")
	}
}
