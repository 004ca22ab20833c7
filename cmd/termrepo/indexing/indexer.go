// Package indexing pushes admitted and retracted expansion members to the
// external search index.
package indexing

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

const (
	EventIndexConcepts = "concepts.index"
	EventIndexMappings = "mappings.index"
	EventRetract       = "index.retract"
)

// Indexer is the search indexing collaborator.
type Indexer interface {
	IndexConcepts(ctx context.Context, ids []int64) error
	IndexMappings(ctx context.Context, ids []int64) error
	// Retract removes entities of kind ("concepts" or "mappings") whose URI is listed.
	Retract(ctx context.Context, kind string, uris []string) error
}

// Event is the message published for every index operation.
type Event struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Kind      string    `json:"kind,omitempty"`
	IDs       []int64   `json:"ids,omitempty"`
	URIs      []string  `json:"uris,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

func newEvent(eventType, kind string) Event {
	return Event{
		EventID:   uuid.NewString(),
		EventType: eventType,
		Kind:      kind,
		Timestamp: time.Now().UTC(),
	}
}

// MessageWriter is satisfied by *kafka.Writer.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type KafkaIndexer struct {
	writer MessageWriter
	log    zerolog.Logger
}

func NewKafkaIndexer(brokers []string, topic string, log zerolog.Logger) *KafkaIndexer {
	return NewKafkaIndexerWithWriter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 10 * time.Millisecond,
	}, log)
}

func NewKafkaIndexerWithWriter(writer MessageWriter, log zerolog.Logger) *KafkaIndexer {
	return &KafkaIndexer{
		writer: writer,
		log:    log.With().Str("component", "kafka_indexer").Logger(),
	}
}

func (k *KafkaIndexer) IndexConcepts(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	event := newEvent(EventIndexConcepts, "concepts")
	event.IDs = ids
	return k.publish(ctx, event)
}

func (k *KafkaIndexer) IndexMappings(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	event := newEvent(EventIndexMappings, "mappings")
	event.IDs = ids
	return k.publish(ctx, event)
}

func (k *KafkaIndexer) Retract(ctx context.Context, kind string, uris []string) error {
	if len(uris) == 0 {
		return nil
	}
	event := newEvent(EventRetract, kind)
	event.URIs = uris
	return k.publish(ctx, event)
}

func (k *KafkaIndexer) publish(ctx context.Context, event Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal index event: %w", err)
	}

	message := kafka.Message{
		Key:   []byte(event.Kind),
		Value: data,
		Time:  event.Timestamp,
	}
	if err := k.writer.WriteMessages(ctx, message); err != nil {
		return fmt.Errorf("failed to publish %s event: %w", event.EventType, err)
	}

	k.log.Debug().
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Int("ids", len(event.IDs)).
		Int("uris", len(event.URIs)).
		Msg("Published index event")
	return nil
}

func (k *KafkaIndexer) Close() error {
	return k.writer.Close()
}

// LogIndexer only logs. Used when no broker is configured.
type LogIndexer struct {
	log zerolog.Logger
}

func NewLogIndexer(log zerolog.Logger) *LogIndexer {
	return &LogIndexer{log: log.With().Str("component", "log_indexer").Logger()}
}

func (l *LogIndexer) IndexConcepts(_ context.Context, ids []int64) error {
	l.log.Info().Ints64("ids", ids).Msg("Index concepts")
	return nil
}

func (l *LogIndexer) IndexMappings(_ context.Context, ids []int64) error {
	l.log.Info().Ints64("ids", ids).Msg("Index mappings")
	return nil
}

func (l *LogIndexer) Retract(_ context.Context, kind string, uris []string) error {
	l.log.Info().Str("kind", kind).Strs("uris", uris).Msg("Retract from index")
	return nil
}
