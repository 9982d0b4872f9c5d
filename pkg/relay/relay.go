// Package relay carries fan-out deliveries between processes over Kafka.
// The API publishes; every gateway reads the whole topic with its own
// consumer group and delivers to the connections it holds.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/mahaj/chatsync/pkg/fanout"
	"github.com/mahaj/chatsync/pkg/logging"
	"github.com/mahaj/chatsync/pkg/model"
)

// Envelope is the wire record. Event holds the encoded model.Event.
type Envelope struct {
	ConversationID int64           `json:"conversation_id,omitempty"`
	Recipients     []string        `json:"recipients"`
	Type           model.EventType `json:"type"`
	Event          json.RawMessage `json:"event"`
}

func (e Envelope) Delivery() fanout.Delivery {
	return fanout.Delivery{
		ConversationID: e.ConversationID,
		Recipients:     e.Recipients,
		Type:           e.Type,
		Data:           e.Event,
	}
}

// Producer is a fanout.Transport that writes to the relay topic. Records
// are keyed by conversation so one conversation's events stay in order.
type Producer struct {
	writer *kafka.Writer
}

func NewProducer(brokers []string, topic string) *Producer {
	return &Producer{writer: &kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 10 * time.Millisecond,
		RequiredAcks: kafka.RequireOne,
	}}
}

func (p *Producer) Deliver(ctx context.Context, d fanout.Delivery) error {
	value, err := json.Marshal(Envelope{
		ConversationID: d.ConversationID,
		Recipients:     d.Recipients,
		Type:           d.Type,
		Event:          d.Data,
	})
	if err != nil {
		return err
	}
	key := string(d.Type)
	if d.ConversationID != 0 {
		key = strconv.FormatInt(d.ConversationID, 10)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  time.Now(),
	})
}

func (p *Producer) Close() error {
	return p.writer.Close()
}

type Consumer struct {
	reader *kafka.Reader
	log    *logging.Logger
}

// NewConsumer joins groupID on topic. Gateways pass a group unique to the
// instance so each sees every record; workers that share load pass a
// fixed group.
func NewConsumer(brokers []string, topic, groupID string, log *logging.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     brokers,
		Topic:       topic,
		GroupID:     groupID,
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6, // 10MB
		MaxWait:     500 * time.Millisecond,
	})
	return &Consumer{reader: r, log: log.With("component", "relay", "group_id", groupID)}
}

// Run reads records until ctx is done. Read errors are retried after a
// pause; records that fail to decode are skipped.
func (c *Consumer) Run(ctx context.Context, handle func(context.Context, Envelope)) error {
	for {
		m, err := c.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				return nil
			}
			c.log.Error("read relay record, retrying in 1s", "error", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}

		var env Envelope
		if err := json.Unmarshal(m.Value, &env); err != nil {
			c.log.Warn("skip undecodable relay record", "offset", m.Offset, "error", err)
			continue
		}
		handle(ctx, env)
	}
}

func (c *Consumer) Close() error {
	return c.reader.Close()
}
