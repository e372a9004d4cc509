// Package consumer reads check-in write events from a Redis Stream and
// feeds them through the risk pipeline. Delivery is at-least-once: a
// message is acked only after processing lands on a skip or a success,
// so store failures leave it pending for redelivery.
package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/go-core/xerrors"

	"github.com/linnemanlabs/shuntwatch/internal/checkin"
	"github.com/linnemanlabs/shuntwatch/internal/risk"
)

const (
	defaultBatchSize = 16
	readBlock        = 5 * time.Second
	initialBackoff   = time.Second
	maxBackoff       = 30 * time.Second
)

// Processor is the slice of the risk service the consumer needs.
type Processor interface {
	Process(ctx context.Context, ev *checkin.Event) (*risk.ProcessResult, error)
}

// Config identifies the stream and this consumer's place in its group.
type Config struct {
	Stream    string
	Group     string
	Consumer  string
	BatchSize int64
}

// Consumer drains check-in events from a Redis Stream consumer group.
type Consumer struct {
	client *redis.Client
	proc   Processor
	logger log.Logger
	cfg    Config
}

// New creates a stream consumer. logger may be nil.
func New(client *redis.Client, proc Processor, logger log.Logger, cfg Config) *Consumer {
	if logger == nil {
		logger = log.Nop()
	}
	if client == nil {
		panic(xerrors.New("redis client is required"))
	}
	if proc == nil {
		panic(xerrors.New("processor is required"))
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaultBatchSize
	}
	return &Consumer{
		client: client,
		proc:   proc,
		logger: logger,
		cfg:    cfg,
	}
}

// Run creates the consumer group if needed and consumes until ctx is
// cancelled. Read errors back off exponentially instead of spinning.
func (c *Consumer) Run(ctx context.Context) error {
	if err := c.ensureGroup(ctx); err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}

	c.logger.Info(ctx, "stream consumer started",
		"stream", c.cfg.Stream,
		"group", c.cfg.Group,
		"consumer", c.cfg.Consumer,
	)

	backoff := initialBackoff
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if err := c.consumeBatch(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Error(ctx, err, "stream read failed", "backoff", backoff.String())
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			backoff = nextBackoff(backoff)
			continue
		}
		backoff = initialBackoff
	}
}

func (c *Consumer) ensureGroup(ctx context.Context) error {
	err := c.client.XGroupCreateMkStream(ctx, c.cfg.Stream, c.cfg.Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return err
	}
	return nil
}

func (c *Consumer) consumeBatch(ctx context.Context) error {
	streams, err := c.client.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    c.cfg.Group,
		Consumer: c.cfg.Consumer,
		Streams:  []string{c.cfg.Stream, ">"},
		Count:    c.cfg.BatchSize,
		Block:    readBlock,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil
		}
		return err
	}

	for _, stream := range streams {
		for _, msg := range stream.Messages {
			c.handleMessage(ctx, msg)
		}
	}
	return nil
}

func (c *Consumer) handleMessage(ctx context.Context, msg redis.XMessage) {
	ev, err := parseEvent(msg.Values)
	if err != nil {
		// A payload that cannot even be parsed will never succeed on
		// redelivery; ack it so it does not wedge the group.
		c.logger.Warn(ctx, "dropping unparseable stream message",
			"message_id", msg.ID, "error", err)
		c.ack(ctx, msg.ID)
		return
	}

	res, err := c.proc.Process(ctx, ev)
	if err != nil {
		// Leave the message pending; the group redelivers it and
		// processing is idempotent.
		c.logger.Error(ctx, err, "check-in event processing failed, leaving pending",
			"message_id", msg.ID)
		return
	}

	if res.Skipped {
		c.logger.Info(ctx, "check-in event skipped",
			"message_id", msg.ID, "reason", res.Reason)
	}
	c.ack(ctx, msg.ID)
}

func (c *Consumer) ack(ctx context.Context, messageID string) {
	if err := c.client.XAck(ctx, c.cfg.Stream, c.cfg.Group, messageID).Err(); err != nil {
		c.logger.Warn(ctx, "failed to ack stream message",
			"message_id", messageID, "error", err)
	}
}

// parseEvent decodes a stream entry. The publisher puts the event JSON in
// the "data" field; a "deleted" field outside the JSON is honored too so
// tombstone-only publishers stay cheap.
func parseEvent(values map[string]any) (*checkin.Event, error) {
	raw, ok := values["data"].(string)
	if !ok || raw == "" {
		return nil, fmt.Errorf("missing data field")
	}

	var payload struct {
		Record  map[string]any `json:"record"`
		Deleted bool           `json:"deleted"`
	}
	if err := json.Unmarshal([]byte(raw), &payload); err != nil {
		return nil, fmt.Errorf("decode event: %w", err)
	}

	ev := &checkin.Event{Record: payload.Record, Deleted: payload.Deleted}
	if del, ok := values["deleted"].(string); ok && del == "true" {
		ev.Deleted = true
	}
	return ev, nil
}

func nextBackoff(cur time.Duration) time.Duration {
	cur *= 2
	if cur > maxBackoff {
		return maxBackoff
	}
	return cur
}
