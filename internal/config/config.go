// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

// Package config loads and validates ChatRelay configuration using Koanf v2
// with layered sources: built-in defaults, an optional YAML file, and
// environment variables (highest priority).
package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config is the root configuration for the ChatRelay process.
type Config struct {
	Kafka    KafkaConfig    `koanf:"kafka"`
	Redis    RedisConfig    `koanf:"redis"`
	Database DatabaseConfig `koanf:"database"`
	Push     PushConfig     `koanf:"push"`
	Gateway  GatewayConfig  `koanf:"gateway"`
	Workers  WorkersConfig  `koanf:"workers"`
	Notify   NotifyConfig   `koanf:"notify"`
	Server   ServerConfig   `koanf:"server"`
	Logging  LoggingConfig  `koanf:"logging"`
}

// KafkaConfig holds broker connectivity and producer/consumer tuning.
type KafkaConfig struct {
	// Brokers is the bootstrap broker list. Required; startup aborts
	// without it.
	Brokers []string `koanf:"brokers" validate:"required,min=1"`

	// ClientID identifies this process to the cluster.
	ClientID string `koanf:"client_id"`

	// ReplicationFactor applies to all provisioned topics.
	ReplicationFactor int16 `koanf:"replication_factor" validate:"min=1"`

	// ProducerRetryMax bounds send retries before dead-lettering.
	ProducerRetryMax int `koanf:"producer_retry_max" validate:"min=0"`

	// ProducerTimeout bounds a single produce round trip.
	ProducerTimeout time.Duration `koanf:"producer_timeout"`

	// ConsumerCooldown is the delay before a crashed consumer session is
	// recreated.
	ConsumerCooldown time.Duration `koanf:"consumer_cooldown"`
}

// RedisConfig holds remote cache connectivity and circuit breaker tuning.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`

	DialTimeout time.Duration `koanf:"dial_timeout"`

	// BreakerFailureThreshold is the consecutive failure count that opens
	// the breaker and routes cache traffic to the local fallback.
	BreakerFailureThreshold uint32 `koanf:"breaker_failure_threshold" validate:"min=1"`

	// BreakerOpenTimeout is how long the breaker stays open before
	// half-open probes of the remote cache resume.
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout"`
}

// DatabaseConfig holds the relational store connection.
type DatabaseConfig struct {
	// DSN is the postgres connection string. Required; startup aborts
	// without it.
	DSN string `koanf:"dsn" validate:"required"`

	MaxOpenConns int `koanf:"max_open_conns" validate:"min=1"`
	MaxIdleConns int `koanf:"max_idle_conns" validate:"min=1"`

	// RetentionDays is the horizon past which the maintenance task prunes
	// messages and analytics rows.
	RetentionDays int `koanf:"retention_days" validate:"min=1"`
}

// PushConfig holds push provider credentials and device bookkeeping limits.
type PushConfig struct {
	// CredentialsFile points at the service account JSON. When empty or
	// unreadable the dispatcher reports failures instead of sending;
	// the rest of the system keeps operating.
	CredentialsFile string `koanf:"credentials_file"`

	// DeviceCap is the maximum active devices per user. Registering past
	// the cap evicts the least-recently-updated active device.
	DeviceCap int `koanf:"device_cap" validate:"min=1"`

	// DeviceWindow is the rolling window for device resolution queries.
	DeviceWindow time.Duration `koanf:"device_window"`

	// MaxDevicesPerQuery caps a single device resolution query.
	MaxDevicesPerQuery int `koanf:"max_devices_per_query" validate:"min=1"`

	// DeviceListTTL is the cache TTL of the resolved device list.
	DeviceListTTL time.Duration `koanf:"device_list_ttl"`
}

// GatewayConfig holds websocket tuning for the socket gateway.
type GatewayConfig struct {
	ReadBufferSize  int           `koanf:"read_buffer_size" validate:"min=256"`
	WriteBufferSize int           `koanf:"write_buffer_size" validate:"min=256"`
	PingInterval    time.Duration `koanf:"ping_interval"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`

	// AllowedOrigins lists browser origins accepted on upgrade. "*"
	// allows any. Requests without an Origin header always pass.
	AllowedOrigins []string `koanf:"allowed_origins"`
}

// WorkersConfig holds batching and consumer-group tuning for the workers.
type WorkersConfig struct {
	// BatchSize is the flush threshold for each persistence batch.
	BatchSize int `koanf:"batch_size" validate:"min=1"`

	// FlushInterval is the wall-clock flush fallback for partial batches.
	FlushInterval time.Duration `koanf:"flush_interval"`

	// MaintenanceInterval schedules the retention pruning task.
	MaintenanceInterval time.Duration `koanf:"maintenance_interval"`

	// GatewayReadyRetries bounds the realtime worker's poll for the
	// socket gateway during the startup race.
	GatewayReadyRetries int           `koanf:"gateway_ready_retries" validate:"min=0"`
	GatewayReadyDelay   time.Duration `koanf:"gateway_ready_delay"`
}

// NotifyConfig holds notification gating policy.
type NotifyConfig struct {
	// RateCaps maps notification type to its hourly per-user cap.
	RateCaps map[string]int `koanf:"rate_caps"`

	// DefaultRateCap applies to types absent from RateCaps.
	DefaultRateCap int `koanf:"default_rate_cap" validate:"min=1"`

	// EmailEnabled turns on the best-effort email channel.
	EmailEnabled bool `koanf:"email_enabled"`

	// EmailTypes restricts email to high-importance notification types.
	EmailTypes []string `koanf:"email_types"`

	// EmailPerMinute rate-limits outbound email.
	EmailPerMinute int `koanf:"email_per_minute" validate:"min=1"`
}

// ServerConfig holds the operational HTTP endpoint settings.
type ServerConfig struct {
	Host    string        `koanf:"host"`
	Port    int           `koanf:"port" validate:"min=1,max=65535"`
	Timeout time.Duration `koanf:"timeout"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
	Caller bool   `koanf:"caller"`
}

// defaultConfig returns a Config with all defaults applied. Defaults are
// loaded first, then overridden by the config file and environment.
func defaultConfig() *Config {
	return &Config{
		Kafka: KafkaConfig{
			Brokers:           nil, // required, no default
			ClientID:          "chatrelay",
			ReplicationFactor: 3,
			ProducerRetryMax:  5,
			ProducerTimeout:   10 * time.Second,
			ConsumerCooldown:  5 * time.Second,
		},
		Redis: RedisConfig{
			Addr:                    "127.0.0.1:6379",
			DB:                      0,
			DialTimeout:             5 * time.Second,
			BreakerFailureThreshold: 3,
			BreakerOpenTimeout:      30 * time.Second,
		},
		Database: DatabaseConfig{
			DSN:           "", // required, no default
			MaxOpenConns:  25,
			MaxIdleConns:  5,
			RetentionDays: 90,
		},
		Push: PushConfig{
			CredentialsFile:    "",
			DeviceCap:          10,
			DeviceWindow:       30 * 24 * time.Hour,
			MaxDevicesPerQuery: 500,
			DeviceListTTL:      5 * time.Minute,
		},
		Gateway: GatewayConfig{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			PingInterval:    30 * time.Second,
			WriteTimeout:    10 * time.Second,
			AllowedOrigins:  []string{"*"},
		},
		Workers: WorkersConfig{
			BatchSize:           100,
			FlushInterval:       5 * time.Second,
			MaintenanceInterval: 6 * time.Hour,
			GatewayReadyRetries: 10,
			GatewayReadyDelay:   200 * time.Millisecond,
		},
		Notify: NotifyConfig{
			RateCaps: map[string]int{
				"message": 100,
				"match":   50,
				"like":    50,
				"system":  20,
			},
			DefaultRateCap: 50,
			EmailEnabled:   false,
			EmailTypes:     []string{"system", "security"},
			EmailPerMinute: 30,
		},
		Server: ServerConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			Timeout: 30 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Validate checks the configuration for fatal problems. Missing criticals
// (broker list, database DSN) abort startup intentionally.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if c.Workers.FlushInterval <= 0 {
		return fmt.Errorf("workers.flush_interval must be positive")
	}
	if c.Push.DeviceListTTL <= 0 {
		return fmt.Errorf("push.device_list_ttl must be positive")
	}
	return nil
}

// RateCapFor returns the hourly cap for a notification type.
func (c *NotifyConfig) RateCapFor(notifType string) int {
	if cap, ok := c.RateCaps[notifType]; ok {
		return cap
	}
	return c.DefaultRateCap
}
