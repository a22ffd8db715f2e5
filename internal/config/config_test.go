// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadRequiresCriticalSettings(t *testing.T) {
	// No brokers, no DSN: startup must abort.
	t.Setenv(ConfigPathEnvVar, "/nonexistent/config.yaml")

	if _, err := Load(); err == nil {
		t.Fatal("expected validation error with no brokers and no DSN")
	}
}

func TestLoadFromFileAndEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yaml := `
kafka:
  brokers:
    - broker-1:9092
    - broker-2:9092
database:
  dsn: "host=localhost user=chatrelay dbname=chatrelay"
workers:
  batch_size: 50
`
	if err := os.WriteFile(path, []byte(yaml), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv(ConfigPathEnvVar, path)
	// Env overrides file.
	t.Setenv("CHATRELAY_WORKERS__BATCH_SIZE", "75")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[0] != "broker-1:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Workers.BatchSize != 75 {
		t.Errorf("batch_size = %d, want env override 75", cfg.Workers.BatchSize)
	}
	// Defaults survive for untouched fields.
	if cfg.Push.DeviceCap != 10 {
		t.Errorf("device_cap = %d, want default 10", cfg.Push.DeviceCap)
	}
	if cfg.Workers.FlushInterval != 5*time.Second {
		t.Errorf("flush_interval = %v, want default 5s", cfg.Workers.FlushInterval)
	}
}

func TestEnvBrokerListIsSplit(t *testing.T) {
	t.Setenv(ConfigPathEnvVar, "/nonexistent/config.yaml")
	t.Setenv("CHATRELAY_KAFKA__BROKERS", "a:9092, b:9092 ,c:9092")
	t.Setenv("CHATRELAY_DATABASE__DSN", "host=localhost dbname=chatrelay")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Kafka.Brokers) != 3 {
		t.Fatalf("brokers = %v, want 3 entries", cfg.Kafka.Brokers)
	}
	if cfg.Kafka.Brokers[1] != "b:9092" {
		t.Errorf("brokers[1] = %q, want trimmed b:9092", cfg.Kafka.Brokers[1])
	}
}

func TestEnvTransform(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"CHATRELAY_KAFKA__BROKERS", "kafka.brokers"},
		{"CHATRELAY_WORKERS__FLUSH_INTERVAL", "workers.flush_interval"},
		{"CHATRELAY_REDIS__ADDR", "redis.addr"},
	}
	for _, tt := range tests {
		if got := envTransform(tt.in); got != tt.want {
			t.Errorf("envTransform(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestRateCapFor(t *testing.T) {
	cfg := defaultConfig()

	if got := cfg.Notify.RateCapFor("message"); got != 100 {
		t.Errorf("cap for message = %d, want 100", got)
	}
	if got := cfg.Notify.RateCapFor("never_configured"); got != cfg.Notify.DefaultRateCap {
		t.Errorf("cap for unknown = %d, want default %d", got, cfg.Notify.DefaultRateCap)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cfg := defaultConfig()
	cfg.Kafka.Brokers = []string{"localhost:9092"}
	cfg.Database.DSN = "host=localhost"

	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	cfg.Workers.FlushInterval = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for zero flush interval")
	}
}
