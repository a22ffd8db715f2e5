// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package bus

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/IBM/sarama"

	"github.com/chatrelay-io/chatrelay/internal/config"
	"github.com/chatrelay-io/chatrelay/internal/logging"
)

// Topic names.
const (
	TopicChatMessages  = "chat-messages"
	TopicUserEvents    = "user-events"
	TopicNotifications = "notifications"
	TopicAnalytics     = "analytics-events"
	TopicDeadLetter    = "dead-letter-queue"
)

// Consumer group IDs. Each worker consumes under its own group so the
// same event reaches every worker that needs it.
const (
	GroupRealtime     = "realtime-delivery"
	GroupPersistence  = "persistence"
	GroupNotification = "notification"
)

const dayMs = 24 * 60 * 60 * 1000

// TopicSpec describes one topic's provisioning parameters.
type TopicSpec struct {
	Name        string
	Partitions  int32
	RetentionMs int64
	Compression string

	// RelaxedAck topics accept leader-only acknowledgement. Only
	// analytics tolerates the weaker durability.
	RelaxedAck bool
}

// TopicSpecs is the fixed topic inventory.
func TopicSpecs() []TopicSpec {
	return []TopicSpec{
		{Name: TopicChatMessages, Partitions: 24, RetentionMs: 7 * dayMs, Compression: "gzip"},
		{Name: TopicUserEvents, Partitions: 12, RetentionMs: 1 * dayMs, Compression: "gzip"},
		{Name: TopicNotifications, Partitions: 12, RetentionMs: 3 * dayMs, Compression: "gzip"},
		{Name: TopicAnalytics, Partitions: 6, RetentionMs: 30 * dayMs, Compression: "gzip", RelaxedAck: true},
		{Name: TopicDeadLetter, Partitions: 3, RetentionMs: 30 * dayMs, Compression: "gzip"},
	}
}

func relaxedAck(topic string) bool {
	for _, spec := range TopicSpecs() {
		if spec.Name == topic {
			return spec.RelaxedAck
		}
	}
	return false
}

// EnsureTopics provisions any missing topics at startup. Existing topics
// are left untouched, so re-running against a provisioned cluster is a
// no-op and partition counts are never changed out from under consumers.
func EnsureTopics(cfg config.KafkaConfig) error {
	admin, err := sarama.NewClusterAdmin(cfg.Brokers, newBaseConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to connect cluster admin: %w", err)
	}
	defer func() { _ = admin.Close() }()

	existing, err := admin.ListTopics()
	if err != nil {
		return fmt.Errorf("failed to list topics: %w", err)
	}

	minInsync := int(cfg.ReplicationFactor) - 1
	if minInsync < 1 {
		minInsync = 1
	}

	for _, spec := range TopicSpecs() {
		if _, ok := existing[spec.Name]; ok {
			continue
		}

		retention := strconv.FormatInt(spec.RetentionMs, 10)
		insync := strconv.Itoa(minInsync)
		compression := spec.Compression
		detail := &sarama.TopicDetail{
			NumPartitions:     spec.Partitions,
			ReplicationFactor: cfg.ReplicationFactor,
			ConfigEntries: map[string]*string{
				"retention.ms":        &retention,
				"compression.type":    &compression,
				"min.insync.replicas": &insync,
			},
		}

		err := admin.CreateTopic(spec.Name, detail, false)
		if err != nil {
			var topicErr *sarama.TopicError
			if errors.As(err, &topicErr) && topicErr.Err == sarama.ErrTopicAlreadyExists {
				continue
			}
			return fmt.Errorf("failed to create topic %s: %w", spec.Name, err)
		}

		logging.Info().
			Str("topic", spec.Name).
			Int32("partitions", spec.Partitions).
			Int("replication", int(cfg.ReplicationFactor)).
			Msg("created topic")
	}
	return nil
}
