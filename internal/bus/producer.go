// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package bus

import (
	"fmt"
	"time"

	"github.com/IBM/sarama"

	"github.com/chatrelay-io/chatrelay/internal/config"
	"github.com/chatrelay-io/chatrelay/internal/events"
	"github.com/chatrelay-io/chatrelay/internal/logging"
	"github.com/chatrelay-io/chatrelay/internal/metrics"
)

// newBaseConfig builds the sarama config shared by producers, consumers
// and the cluster admin.
func newBaseConfig(cfg config.KafkaConfig) *sarama.Config {
	c := sarama.NewConfig()
	c.Version = sarama.V2_8_0_0
	if cfg.ClientID != "" {
		c.ClientID = cfg.ClientID
	}
	return c
}

// newProducerConfig configures the strict producer: idempotent, full ISR
// acknowledgement, one in-flight request so broker-side retries cannot
// reorder a partition.
func newProducerConfig(cfg config.KafkaConfig) *sarama.Config {
	c := newBaseConfig(cfg)
	c.Producer.Return.Successes = true
	c.Producer.RequiredAcks = sarama.WaitForAll
	c.Producer.Idempotent = true
	c.Net.MaxOpenRequests = 1
	c.Producer.Retry.Max = cfg.ProducerRetryMax
	c.Producer.Timeout = cfg.ProducerTimeout
	c.Producer.Partitioner = sarama.NewHashPartitioner
	c.Producer.Compression = sarama.CompressionGZIP
	return c
}

// newRelaxedProducerConfig configures the analytics producer:
// leader-only acknowledgement, no idempotence. Analytics tolerates loss;
// waiting on the full ISR for it would be wasted latency.
func newRelaxedProducerConfig(cfg config.KafkaConfig) *sarama.Config {
	c := newBaseConfig(cfg)
	c.Producer.Return.Successes = true
	c.Producer.RequiredAcks = sarama.WaitForLocal
	c.Producer.Retry.Max = cfg.ProducerRetryMax
	c.Producer.Timeout = cfg.ProducerTimeout
	c.Producer.Partitioner = sarama.NewHashPartitioner
	c.Producer.Compression = sarama.CompressionGZIP
	return c
}

// Producer publishes envelopes to the bus. One instance per process.
type Producer struct {
	strict  sarama.SyncProducer
	relaxed sarama.SyncProducer
}

// NewProducer connects both producer paths.
func NewProducer(cfg config.KafkaConfig) (*Producer, error) {
	strict, err := sarama.NewSyncProducer(cfg.Brokers, newProducerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to create producer: %w", err)
	}
	relaxed, err := sarama.NewSyncProducer(cfg.Brokers, newRelaxedProducerConfig(cfg))
	if err != nil {
		_ = strict.Close()
		return nil, fmt.Errorf("failed to create relaxed producer: %w", err)
	}
	return &Producer{strict: strict, relaxed: relaxed}, nil
}

// publish marshals the payload into an envelope and sends it. A send
// that exhausts retries is forwarded to the dead-letter topic before the
// error is returned.
func (p *Producer) publish(topic, key string, payload any) error {
	data, err := events.Marshal(payload)
	if err != nil {
		return err
	}
	return p.publishRaw(topic, key, data, string(eventTypeOf(payload)))
}

func (p *Producer) publishRaw(topic, key string, data []byte, eventType string) error {
	msg := &sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.StringEncoder(key),
		Value: sarama.ByteEncoder(data),
		Headers: []sarama.RecordHeader{
			{Key: []byte("event_type"), Value: []byte(eventType)},
			{Key: []byte("timestamp"), Value: []byte(time.Now().UTC().Format(time.RFC3339))},
		},
	}

	producer := p.strict
	if relaxedAck(topic) {
		producer = p.relaxed
	}

	partition, offset, err := producer.SendMessage(msg)
	if err != nil {
		metrics.ProduceErrors.WithLabelValues(topic).Inc()
		if topic != TopicDeadLetter {
			p.DeadLetter(topic, data, err)
		}
		return fmt.Errorf("publish to %s failed: %w", topic, err)
	}

	metrics.MessagesProduced.WithLabelValues(topic).Inc()
	logging.Debug().
		Str("topic", topic).
		Int32("partition", partition).
		Int64("offset", offset).
		Msg("published")
	return nil
}

// PublishChatMessage sends a chat message keyed by room so a room's
// messages stay ordered.
func (p *Producer) PublishChatMessage(m *events.ChatMessage) error {
	return p.publish(TopicChatMessages, m.PartitionKey(), m)
}

// PublishUserEvent sends a presence or room lifecycle event keyed by
// user.
func (p *Producer) PublishUserEvent(e *events.UserEvent) error {
	return p.publish(TopicUserEvents, e.PartitionKey(), e)
}

// PublishNotification sends a notification event keyed by recipient.
func (p *Producer) PublishNotification(e *events.NotificationEvent) error {
	return p.publish(TopicNotifications, e.PartitionKey(), e)
}

// PublishAnalytics sends an analytics event on the relaxed path.
func (p *Producer) PublishAnalytics(e *events.AnalyticsEvent) error {
	return p.publish(TopicAnalytics, e.PartitionKey(), e)
}

// DeadLetter forwards raw message bytes to the dead-letter topic with
// the failure cause. Dead-lettering never recurses: if the dead-letter
// publish itself fails, the full envelope is logged at error level so
// the payload survives in the log stream for operator replay.
func (p *Producer) DeadLetter(originalTopic string, original []byte, cause error) {
	env := &events.DeadLetterEnvelope{
		OriginalTopic:   originalTopic,
		OriginalMessage: original,
		Error:           cause.Error(),
		Timestamp:       time.Now().UTC(),
	}
	data, err := events.Marshal(env)
	if err != nil {
		logging.Error().Err(err).Str("original_topic", originalTopic).Msg("failed to marshal dead letter")
		return
	}

	if err := p.publishRaw(TopicDeadLetter, originalTopic, data, string(events.TypeDeadLetter)); err != nil {
		logging.Error().
			Err(err).
			Str("original_topic", originalTopic).
			RawJSON("envelope", data).
			Msg("dead-letter publish failed, envelope preserved in log")
		return
	}
	metrics.DeadLettered.WithLabelValues(originalTopic).Inc()
}

// Close flushes and closes both producers.
func (p *Producer) Close() error {
	err := p.strict.Close()
	if rerr := p.relaxed.Close(); err == nil {
		err = rerr
	}
	return err
}

func eventTypeOf(payload any) events.Type {
	switch payload.(type) {
	case *events.ChatMessage:
		return events.TypeChatMessage
	case *events.UserEvent:
		return events.TypeUserEvent
	case *events.NotificationEvent:
		return events.TypeNotification
	case *events.AnalyticsEvent:
		return events.TypeAnalytics
	case *events.DeadLetterEnvelope:
		return events.TypeDeadLetter
	default:
		return ""
	}
}
