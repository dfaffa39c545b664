// Package kafkaconsumer feeds invalidation events from a Kafka topic into
// an invalidation.Invalidator.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/geofetch/internal/core/config"
	obs "github.com/mohammed-shakir/geofetch/internal/core/observability"
	"github.com/mohammed-shakir/geofetch/internal/invalidation"
	mylog "github.com/mohammed-shakir/geofetch/internal/logger"
)

type Config struct {
	Brokers             []string
	Topic               string
	GroupID             string
	SessionTimeout      time.Duration
	Heartbeat           time.Duration
	RebalanceTimeout    time.Duration
	InitialOffsetOldest bool
}

// ConfigFrom takes brokers from the events settings and the rest from the
// invalidation settings.
func ConfigFrom(cfg config.Config) Config {
	return Config{
		Brokers:             cfg.Events.Brokers,
		Topic:               cfg.Invalidation.Topic,
		GroupID:             cfg.Invalidation.GroupID,
		SessionTimeout:      30 * time.Second,
		Heartbeat:           3 * time.Second,
		RebalanceTimeout:    30 * time.Second,
		InitialOffsetOldest: cfg.Invalidation.Oldest,
	}
}

// Applier is satisfied by *invalidation.Invalidator.
type Applier interface {
	Apply(ctx context.Context, ev invalidation.Event) (int, error)
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	apply  Applier
}

func New(cfg Config, logger *slog.Logger, apply Applier) *Consumer {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Consumer{cfg: cfg, logger: logger, apply: apply}
}

// Start joins the consumer group and processes events until ctx is done.
func (c *Consumer) Start(ctx context.Context) error {
	if c.apply == nil {
		return errors.New("kafkaconsumer: missing invalidator")
	}
	ctx = mylog.WithComponent(ctx, "invalidation")

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	handler := &groupHandler{process: c.ProcessOne}
	c.logger.InfoContext(ctx, "invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil && ctx.Err() == nil {
			obs.IncConsumerError("consume")
			c.logger.ErrorContext(ctx, "consumer error", "topic", c.cfg.Topic, "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "invalidation consumer shutting down")
			return nil
		}
	}
}

// ProcessOne applies a single message. Undecodable or invalid events are
// logged and skipped; a failing cache is returned so the message is
// redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	log := c.logger.With("topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		obs.IncConsumerError("decode")
		log.WarnContext(ctx, "skipping undecodable invalidation event", "err", err)
		return nil
	}
	n, err := c.apply.Apply(ctx, ev)
	switch {
	case errors.Is(err, invalidation.ErrInvalidEvent):
		obs.IncConsumerError("invalid")
		log.WarnContext(ctx, "skipping invalid invalidation event", "err", err)
		return nil
	case err != nil:
		obs.IncConsumerError("cache")
		return err
	}
	log.DebugContext(ctx, "invalidation applied", "layer", ev.Layer, "op", ev.Op, "keys", n)
	return nil
}
