package bus

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"

	"github.com/mahaj/devchat/pkg/realtime"
)

// KafkaPublisher writes mutations to a single topic. Messages are keyed by
// the top level path segment so writes to one subtree stay ordered.
type KafkaPublisher struct {
	writer *kafka.Writer
}

// publishBatchTimeout caps how long a write waits for others to batch with.
// Gateways publish one mutation per client frame and ack only after it.
const publishBatchTimeout = 5 * time.Millisecond

func NewKafkaPublisher(brokers []string, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			BatchTimeout: publishBatchTimeout,
			RequiredAcks: kafka.RequireOne,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, m realtime.Mutation) error {
	value, err := Encode(m)
	if err != nil {
		return fmt.Errorf("encode mutation: %w", err)
	}
	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(partitionKey(m.Path)),
		Value: value,
		Time:  m.Time,
	})
	if err != nil {
		return fmt.Errorf("write to kafka: %w", err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func partitionKey(p string) string {
	for i := 0; i < len(p); i++ {
		if p[i] == '/' {
			return p[:i]
		}
	}
	return p
}

// KafkaSubscriber reads mutations with a consumer group. Gateways use a
// group per instance so each replica sees every mutation; the messaging
// service shares one group.
type KafkaSubscriber struct {
	reader *kafka.Reader
}

type SubscriberConfig struct {
	Brokers []string
	Topic   string
	GroupID string
	// Latest starts a new group at the end of the topic instead of the
	// beginning.
	Latest bool
}

func NewKafkaSubscriber(cfg SubscriberConfig) *KafkaSubscriber {
	start := kafka.FirstOffset
	if cfg.Latest {
		start = kafka.LastOffset
	}
	return &KafkaSubscriber{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:     cfg.Brokers,
			Topic:       cfg.Topic,
			GroupID:     cfg.GroupID,
			StartOffset: start,
			MinBytes:    1,
			MaxBytes:    10e6,
			MaxWait:     250 * time.Millisecond,
		}),
	}
}

func (s *KafkaSubscriber) Consume(ctx context.Context, fn HandlerFunc) error {
	for {
		msg, err := s.reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, io.EOF) {
				return ErrClosed
			}
			log.Error().Err(err).Msg("[bus] read message")
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Second):
			}
			continue
		}

		m, err := Decode(msg.Value)
		if err != nil {
			log.Warn().Err(err).Int64("offset", msg.Offset).Msg("[bus] skip undecodable mutation")
			continue
		}
		if err := fn(ctx, m); err != nil {
			log.Error().Err(err).Str("op", string(m.Op)).Str("path", m.Path).Msg("[bus] handle mutation")
		}
	}
}

func (s *KafkaSubscriber) Close() error {
	return s.reader.Close()
}
