package indexing

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingWriter struct {
	messages []kafka.Message
	err      error
	closed   bool
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.messages = append(w.messages, msgs...)
	return nil
}

func (w *recordingWriter) Close() error {
	w.closed = true
	return nil
}

func decode(t *testing.T, message kafka.Message) Event {
	t.Helper()
	var event Event
	require.NoError(t, json.Unmarshal(message.Value, &event))
	return event
}

func TestKafkaIndexerPublishes(t *testing.T) {
	writer := &recordingWriter{}
	indexer := NewKafkaIndexerWithWriter(writer, zerolog.Nop())
	ctx := context.Background()

	require.NoError(t, indexer.IndexConcepts(ctx, []int64{1, 2}))
	require.NoError(t, indexer.IndexMappings(ctx, []int64{3}))
	require.NoError(t, indexer.Retract(ctx, "concepts", []string{"/orgs/CIEL/sources/CIEL/concepts/A/1/"}))
	require.Len(t, writer.messages, 3)

	first := decode(t, writer.messages[0])
	assert.Equal(t, EventIndexConcepts, first.EventType)
	assert.Equal(t, []int64{1, 2}, first.IDs)
	assert.NotEmpty(t, first.EventID)
	assert.Equal(t, "concepts", string(writer.messages[0].Key))

	assert.Equal(t, EventIndexMappings, decode(t, writer.messages[1]).EventType)

	retract := decode(t, writer.messages[2])
	assert.Equal(t, EventRetract, retract.EventType)
	assert.Equal(t, []string{"/orgs/CIEL/sources/CIEL/concepts/A/1/"}, retract.URIs)

	require.NoError(t, indexer.Close())
	assert.True(t, writer.closed)
}

func TestKafkaIndexerSkipsEmpty(t *testing.T) {
	writer := &recordingWriter{}
	indexer := NewKafkaIndexerWithWriter(writer, zerolog.Nop())

	require.NoError(t, indexer.IndexConcepts(context.Background(), nil))
	require.NoError(t, indexer.Retract(context.Background(), "mappings", nil))
	assert.Empty(t, writer.messages)
}

func TestKafkaIndexerWriteError(t *testing.T) {
	indexer := NewKafkaIndexerWithWriter(&recordingWriter{err: errors.New("broker down")}, zerolog.Nop())
	err := indexer.IndexConcepts(context.Background(), []int64{1})
	assert.ErrorContains(t, err, "broker down")
}

func TestLogIndexer(t *testing.T) {
	indexer := NewLogIndexer(zerolog.Nop())
	assert.NoError(t, indexer.IndexConcepts(context.Background(), []int64{1}))
	assert.NoError(t, indexer.Retract(context.Background(), "concepts", []string{"x"}))
}
