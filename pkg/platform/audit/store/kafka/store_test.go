package kafka

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	platformkafka "ipx/internal/platform/kafka"
	audit "ipx/pkg/platform/audit"
)

type recordingProducer struct {
	keys   [][]byte
	values [][]byte
	err    error
}

func (p *recordingProducer) Produce(_ context.Context, key, value []byte) error {
	if p.err != nil {
		return p.err
	}
	p.keys = append(p.keys, key)
	p.values = append(p.values, value)
	return nil
}

func TestStore_AppendThenDecode(t *testing.T) {
	producer := &recordingProducer{}
	store := New(producer)

	ts := time.Date(2025, 6, 1, 9, 30, 0, 0, time.UTC)
	err := store.Append(context.Background(), audit.Event{
		Timestamp:      ts,
		Principal:      "alice",
		RegistrationID: "reg-1",
		Action:         string(audit.EventSubmissionSucceeded),
		Decision:       "ipx-7",
	})
	require.NoError(t, err)
	require.Len(t, producer.values, 1)
	assert.NotEmpty(t, producer.keys[0])

	event, err := Decode(&platformkafka.Message{Key: producer.keys[0], Value: producer.values[0]})
	require.NoError(t, err)
	assert.Equal(t, string(producer.keys[0]), event.ID)
	assert.Equal(t, audit.CategoryCompliance, event.Category)
	assert.Equal(t, "ipx-7", event.Decision)
	assert.True(t, ts.Equal(event.Timestamp))
}

func TestStore_ProducerFailure(t *testing.T) {
	store := New(&recordingProducer{err: errors.New("broker down")})
	assert.Error(t, store.Append(context.Background(), audit.Event{Action: "x"}))
}

func TestDecode_Malformed(t *testing.T) {
	_, err := Decode(&platformkafka.Message{Value: []byte("{")})
	assert.Error(t, err)
}
