package outbox

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/go-redis/redis/v8"
	"github.com/segmentio/kafka-go"

	"github.com/clinicdesk/clinic/internal/platform/websocket"
)

// Sink delivers one event to a downstream consumer.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, e *Event) error
}

// HubSink pushes events to websocket subscribers.
type HubSink struct {
	Hub *websocket.Hub
}

func (HubSink) Name() string { return "websocket" }

func (s HubSink) Deliver(ctx context.Context, e *Event) error {
	return s.Hub.Publish(ctx, websocket.Event{
		Type:       "change",
		Collection: e.Collection,
		DocumentID: e.DocumentID,
		Op:         e.Op,
		Timestamp:  e.CreatedAt,
		Data:       e.Payload,
	})
}

// RedisStreamSink appends each event to a Redis stream with XADD.
type RedisStreamSink struct {
	client *redis.Client
	stream string
	maxLen int64
}

// NewRedisStreamSink parses a redis:// URL. maxLen caps the stream
// approximately; zero leaves it unbounded.
func NewRedisStreamSink(url, stream string, maxLen int64) (*RedisStreamSink, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return &RedisStreamSink{client: redis.NewClient(opts), stream: stream, maxLen: maxLen}, nil
}

func NewRedisStreamSinkWithClient(client *redis.Client, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{client: client, stream: stream, maxLen: maxLen}
}

func (s *RedisStreamSink) Name() string { return "redis" }

func (s *RedisStreamSink) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func (s *RedisStreamSink) Deliver(ctx context.Context, e *Event) error {
	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{
			"event_id":    e.ID,
			"collection":  e.Collection,
			"document_id": e.DocumentID,
			"op":          e.Op,
			"payload":     string(e.Payload),
			"created_at":  e.CreatedAt.UnixMilli(),
		},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	if err := s.client.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("xadd %s: %w", s.stream, err)
	}
	return nil
}

func (s *RedisStreamSink) Close() error {
	return s.client.Close()
}

// MessageWriter is the part of *kafka.Writer the sink uses.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaSink publishes events keyed by collection/document so every change to
// one document lands on the same partition in order.
type KafkaSink struct {
	writer MessageWriter
	topic  string
}

func NewKafkaSink(brokers []string, topic string) *KafkaSink {
	return &KafkaSink{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
		},
		topic: topic,
	}
}

func NewKafkaSinkWithWriter(w MessageWriter, topic string) *KafkaSink {
	return &KafkaSink{writer: w, topic: topic}
}

func (s *KafkaSink) Name() string { return "kafka" }

func (s *KafkaSink) Deliver(ctx context.Context, e *Event) error {
	value, err := marshalEnvelope(e)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(e.Key()),
		Value: value,
		Headers: []kafka.Header{
			{Key: "collection", Value: []byte(e.Collection)},
			{Key: "op", Value: []byte(strings.ToLower(e.Op))},
		},
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("publish to %s: %w", s.topic, err)
	}
	return nil
}

func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

// Poster is the part of webhook.Client the sink needs.
type Poster interface {
	Post(ctx context.Context, eventID, eventType string, payload []byte) error
}

// WebhookSink posts the event envelope to an external endpoint.
type WebhookSink struct {
	Client Poster
}

func (WebhookSink) Name() string { return "webhook" }

func (s WebhookSink) Deliver(ctx context.Context, e *Event) error {
	body, err := marshalEnvelope(e)
	if err != nil {
		return err
	}
	eventType := e.Collection + "." + strings.ToLower(e.Op)
	return s.Client.Post(ctx, strconv.FormatInt(e.ID, 10), eventType, body)
}
