package kafka

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/BearBump/BoxSync/internal/broker/messages"
	"github.com/pkg/errors"
	"github.com/segmentio/kafka-go"
)

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r messageReader
}

// NewConsumer joins groupID on topic. An empty groupID reads the topic
// directly without committed offsets.
func NewConsumer(brokers []string, topic, groupID string) *Consumer {
	cfg := kafka.ReaderConfig{
		Brokers:           brokers,
		GroupID:           groupID,
		HeartbeatInterval: 3 * time.Second,
		SessionTimeout:    30 * time.Second,
		MaxWait:           time.Second,
	}
	if groupID != "" {
		cfg.GroupTopics = []string{topic}
	} else {
		cfg.Topic = topic
	}
	return &Consumer{r: kafka.NewReader(cfg)}
}

func newConsumerWithReader(r messageReader) *Consumer {
	return &Consumer{r: r}
}

func (c *Consumer) Close() error {
	return c.r.Close()
}

// Consume hands every message to handler and commits it only after the
// handler succeeded. A handler error stops consumption uncommitted.
func (c *Consumer) Consume(ctx context.Context, handler func(key, value []byte) error) error {
	for {
		msg, err := c.r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return errors.Wrap(err, "fetch message")
		}
		if err := handler(msg.Key, msg.Value); err != nil {
			return err
		}
		if err := c.r.CommitMessages(ctx, msg); err != nil {
			return errors.Wrap(err, "commit message")
		}
	}
}

// ConsumeShipmentUpdates decodes ShipmentUpdated messages. Undecodable
// messages are logged and committed so one bad payload cannot wedge the group.
func (c *Consumer) ConsumeShipmentUpdates(ctx context.Context, handler func(ctx context.Context, msg messages.ShipmentUpdated) error) error {
	return c.Consume(ctx, func(key, value []byte) error {
		var m messages.ShipmentUpdated
		if err := json.Unmarshal(value, &m); err != nil {
			slog.Warn("skip malformed shipment update", "key", string(key), "error", err.Error())
			return nil
		}
		if m.ContainerNo == "" {
			m.ContainerNo = string(key)
		}
		return handler(ctx, m)
	})
}
