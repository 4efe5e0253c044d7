package broker

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/bridgeharness/errors"
)

func TestRecord_MessageSortsHeaders(t *testing.T) {
	r := NewRecord("k1", `{"id":1}`).
		WithHeader("x-trace", "abc").
		WithHeader("content-type", "application/json")

	msg := r.message("orders")

	assert.Equal(t, "orders", msg.Topic)
	assert.Equal(t, []byte("k1"), msg.Key)
	require.Len(t, msg.Headers, 2)
	assert.Equal(t, "content-type", msg.Headers[0].Key)
	assert.Equal(t, "x-trace", msg.Headers[1].Key)
	assert.Equal(t, []byte("abc"), msg.Headers[1].Value)
}

func TestRecord_WithHeaderDoesNotMutate(t *testing.T) {
	base := NewRecord("k", "v").WithHeader("a", "1")
	derived := base.WithHeader("b", "2")

	assert.Len(t, base.Headers, 1)
	assert.Len(t, derived.Headers, 2)
}

func TestJSONRecord(t *testing.T) {
	r, err := JSONRecord("user-1", map[string]any{"name": "ada"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"ada"}`, string(r.Value))

	_, err = JSONRecord("bad", make(chan int))
	assert.Error(t, err)
}

func TestConsumedFrom(t *testing.T) {
	now := time.Now()
	msg := consumedFrom(kafka.Message{
		Topic:     "orders",
		Partition: 2,
		Offset:    41,
		Key:       []byte("k"),
		Value:     []byte(`{"id":7}`),
		Headers:   []kafka.Header{{Key: "x-id", Value: []byte("7")}},
		Time:      now,
	})

	assert.Equal(t, "k", msg.KeyString())
	assert.Equal(t, int64(41), msg.Offset)
	assert.Equal(t, map[string]string{"x-id": "7"}, msg.Headers)

	var body struct{ ID int }
	require.NoError(t, msg.DecodeValue(&body))
	assert.Equal(t, 7, body.ID)
	assert.Nil(t, consumedFrom(kafka.Message{}).Headers)
}

func TestCreateTopicsResult(t *testing.T) {
	tests := []struct {
		name      string
		results   map[string]error
		wantErr   bool
		transient bool
	}{
		{"all created", map[string]error{"a": nil, "b": nil}, false, false},
		{"already exists is success", map[string]error{"a": kafka.TopicAlreadyExists}, false, false},
		{"leader not available retries", map[string]error{"a": kafka.LeaderNotAvailable}, true, true},
		{"invalid replication is fatal", map[string]error{"a": kafka.InvalidReplicationFactor}, true, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := createTopicsResult(tt.results)
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Equal(t, tt.transient, errors.IsTransient(err))
		})
	}
}

func TestTopicsHaveLeaders(t *testing.T) {
	leader := kafka.Broker{Host: "localhost", Port: 9093, ID: 1}
	meta := []kafka.Topic{
		{Name: "ready", Partitions: []kafka.Partition{{ID: 0, Leader: leader}}},
		{Name: "electing", Partitions: []kafka.Partition{{ID: 0}}},
	}

	assert.True(t, topicsHaveLeaders(meta, []string{"ready"}))
	assert.False(t, topicsHaveLeaders(meta, []string{"ready", "electing"}))
	assert.False(t, topicsHaveLeaders(meta, []string{"missing"}))
}

func TestSumCommitted(t *testing.T) {
	assert.Equal(t, NoOffset, sumCommitted(nil))
	assert.Equal(t, NoOffset, sumCommitted(map[int]int64{0: -1, 1: -1}))
	assert.Equal(t, int64(3), sumCommitted(map[int]int64{0: 3}))
	assert.Equal(t, int64(1000), sumCommitted(map[int]int64{0: 400, 1: -1, 2: 600}))
}

func TestClient_CloseIsIdempotent(t *testing.T) {
	c := NewClient([]string{"localhost:1"})

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())

	err := c.Produce(context.Background(), "orders", NewRecord("k", "v"))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrNotStarted)

	_, err = c.Consume(context.Background(), "orders")
	assert.ErrorIs(t, err, errors.ErrNotStarted)
}

func TestClient_ProduceNothingIsNoop(t *testing.T) {
	c := NewClient([]string{"localhost:1"})
	defer c.Close()

	assert.NoError(t, c.Produce(context.Background(), "orders"))
	msgs, err := c.ConsumeN(context.Background(), "orders", 0)
	assert.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestService_InternalAddress(t *testing.T) {
	s := &Service{alias: DefaultAlias}
	assert.Equal(t, fmt.Sprintf("kafka:%d", InternalPort), s.InternalAddress())
}

func TestMissingTopics(t *testing.T) {
	assert.Empty(t, missingTopics([]string{"foo", "dead"}, []string{"dead", "foo", "other"}))
	assert.Equal(t, []string{"retry"}, missingTopics([]string{"foo", "retry"}, []string{"foo"}))
	assert.Empty(t, missingTopics(nil, []string{"foo"}))
}
