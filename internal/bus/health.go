// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package bus

import (
	"time"

	"github.com/IBM/sarama"

	"github.com/chatrelay-io/chatrelay/internal/config"
)

// HealthStatus is one snapshot of bus health for the ops endpoint.
type HealthStatus struct {
	Healthy   bool                 `json:"healthy"`
	Brokers   int                  `json:"brokers"`
	Topics    map[string]int       `json:"topics"`
	Consumers map[string]time.Time `json:"consumers"`
	Error     string               `json:"error,omitempty"`
}

// HealthChecker probes broker connectivity and reports per-consumer
// liveness timestamps.
type HealthChecker struct {
	cfg       config.KafkaConfig
	consumers []*Consumer
}

// NewHealthChecker builds a checker over the process's consumers.
func NewHealthChecker(cfg config.KafkaConfig, consumers ...*Consumer) *HealthChecker {
	return &HealthChecker{cfg: cfg, consumers: consumers}
}

// Check connects to the cluster and gathers the topic inventory. A
// connection failure yields an unhealthy status rather than an error so
// the ops endpoint always has something to serve.
func (h *HealthChecker) Check() *HealthStatus {
	status := &HealthStatus{
		Topics:    make(map[string]int),
		Consumers: make(map[string]time.Time),
	}
	for _, c := range h.consumers {
		status.Consumers[c.Name()] = c.LastActivity()
	}

	client, err := sarama.NewClient(h.cfg.Brokers, newBaseConfig(h.cfg))
	if err != nil {
		status.Error = err.Error()
		return status
	}
	defer func() { _ = client.Close() }()

	if err := client.RefreshMetadata(); err != nil {
		status.Error = err.Error()
		return status
	}

	status.Brokers = len(client.Brokers())
	for _, spec := range TopicSpecs() {
		partitions, err := client.Partitions(spec.Name)
		if err != nil {
			continue
		}
		status.Topics[spec.Name] = len(partitions)
	}
	status.Healthy = status.Brokers > 0
	return status
}
