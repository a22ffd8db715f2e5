// ChatRelay - Real-Time Chat Messaging Backbone
// Copyright 2026 ChatRelay Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/chatrelay-io/chatrelay

package bus

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/IBM/sarama"

	"github.com/chatrelay-io/chatrelay/internal/config"
	"github.com/chatrelay-io/chatrelay/internal/logging"
	"github.com/chatrelay-io/chatrelay/internal/metrics"
)

// Verdict is a handler's decision for one message.
type Verdict int

const (
	// Ack commits the offset; the message is done.
	Ack Verdict = iota

	// Retry withholds the commit and tears the session down; the
	// message is redelivered after the cooldown.
	Retry

	// DeadLetter forwards the raw bytes to the dead-letter topic and
	// commits, removing a poison message without losing it.
	DeadLetter
)

func (v Verdict) String() string {
	switch v {
	case Ack:
		return "ack"
	case Retry:
		return "retry"
	case DeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// Message is one delivered bus record, decoupled from the sarama type so
// handlers and their tests need no broker.
type Message struct {
	Topic     string
	Key       []byte
	Value     []byte
	Partition int32
	Offset    int64
	Timestamp time.Time
}

// Handler processes one message and returns a verdict.
type Handler func(ctx context.Context, msg *Message) Verdict

// errRetryRequested tears down a consumer session without committing the
// current offset.
var errRetryRequested = errors.New("handler requested retry")

// Consumer runs one consumer group over a topic set. It implements the
// suture service contract: Serve blocks, returns on fatal error, and the
// supervisor restarts it with backoff.
type Consumer struct {
	name     string
	group    sarama.ConsumerGroup
	topics   []string
	handler  Handler
	producer *Producer
	cooldown time.Duration

	// lastActivity is a unix-nano timestamp of the most recent poll or
	// delivery, read by the health checker.
	lastActivity atomic.Int64
}

// newConsumerConfig configures manual offset management: auto-commit of
// marked offsets stays on, but nothing is marked until a handler acks.
func newConsumerConfig(cfg config.KafkaConfig) *sarama.Config {
	c := newBaseConfig(cfg)
	c.Consumer.Group.Rebalance.GroupStrategies = []sarama.BalanceStrategy{sarama.NewBalanceStrategyRoundRobin()}
	c.Consumer.Offsets.Initial = sarama.OffsetOldest
	c.Consumer.Return.Errors = true
	return c
}

// NewConsumer joins the group for the given topics. The producer is used
// for dead-letter forwarding.
func NewConsumer(cfg config.KafkaConfig, groupID string, topics []string, handler Handler, producer *Producer) (*Consumer, error) {
	group, err := sarama.NewConsumerGroup(cfg.Brokers, groupID, newConsumerConfig(cfg))
	if err != nil {
		return nil, fmt.Errorf("failed to join consumer group %s: %w", groupID, err)
	}

	cooldown := cfg.ConsumerCooldown
	if cooldown <= 0 {
		cooldown = 2 * time.Second
	}

	c := &Consumer{
		name:     groupID,
		group:    group,
		topics:   topics,
		handler:  handler,
		producer: producer,
		cooldown: cooldown,
	}
	c.touch()
	return c, nil
}

// Name returns the consumer group ID.
func (c *Consumer) Name() string { return c.name }

// LastActivity returns when the consumer last polled or delivered.
func (c *Consumer) LastActivity() time.Time {
	return time.Unix(0, c.lastActivity.Load())
}

func (c *Consumer) touch() {
	c.lastActivity.Store(time.Now().UnixNano())
}

// Serve runs the consume loop until the context is canceled. A session
// error or a Retry verdict recreates the session after the cooldown;
// uncommitted messages are then redelivered.
func (c *Consumer) Serve(ctx context.Context) error {
	defer func() { _ = c.group.Close() }()

	// Surface async group errors in the log stream.
	go func() {
		for err := range c.group.Errors() {
			logging.Error().Err(err).Str("group", c.name).Msg("consumer group error")
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		c.touch()
		err := c.group.Consume(ctx, c.topics, &groupHandler{consumer: c})
		switch {
		case err == nil:
			// Rebalance; rejoin immediately.
		case errors.Is(err, errRetryRequested):
			metrics.ConsumerRestarts.WithLabelValues(c.name).Inc()
			logging.Warn().
				Str("group", c.name).
				Dur("cooldown", c.cooldown).
				Msg("consumer session restarting for redelivery")
			c.sleep(ctx)
		case errors.Is(err, context.Canceled):
			return err
		default:
			metrics.ConsumerRestarts.WithLabelValues(c.name).Inc()
			logging.Error().
				Err(err).
				Str("group", c.name).
				Dur("cooldown", c.cooldown).
				Msg("consumer session crashed, restarting")
			c.sleep(ctx)
		}
	}
}

func (c *Consumer) sleep(ctx context.Context) {
	t := time.NewTimer(c.cooldown)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// groupHandler adapts the Handler verdict protocol onto sarama's
// ConsumerGroupHandler callbacks.
type groupHandler struct {
	consumer *Consumer
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

// ConsumeClaim processes one partition's messages in order. Sarama runs
// one ConsumeClaim goroutine per claimed partition, so partitions are
// processed concurrently while each partition stays sequential.
func (h *groupHandler) ConsumeClaim(session sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	c := h.consumer
	for {
		select {
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			c.touch()

			verdict := c.handler(session.Context(), &Message{
				Topic:     msg.Topic,
				Key:       msg.Key,
				Value:     msg.Value,
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Timestamp: msg.Timestamp,
			})
			metrics.MessagesConsumed.WithLabelValues(c.name, verdict.String()).Inc()

			switch verdict {
			case Ack:
				session.MarkMessage(msg, "")
			case DeadLetter:
				c.producer.DeadLetter(msg.Topic, msg.Value, fmt.Errorf("rejected by %s consumer", c.name))
				session.MarkMessage(msg, "")
			case Retry:
				logging.Warn().
					Str("group", c.name).
					Str("topic", msg.Topic).
					Int32("partition", msg.Partition).
					Int64("offset", msg.Offset).
					Msg("withholding offset for redelivery")
				return errRetryRequested
			}

		case <-session.Context().Done():
			return nil
		}
	}
}
