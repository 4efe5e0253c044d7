package broker

import (
	"encoding/json"
	"sort"
	"time"

	"github.com/segmentio/kafka-go"
)

// Record is a message to produce.
type Record struct {
	Key     []byte
	Value   []byte
	Headers map[string]string
}

// NewRecord builds a record from string key and value.
func NewRecord(key, value string) Record {
	return Record{Key: []byte(key), Value: []byte(value)}
}

// JSONRecord builds a record whose value is v encoded as JSON.
func JSONRecord(key string, v any) (Record, error) {
	value, err := json.Marshal(v)
	if err != nil {
		return Record{}, err
	}
	return Record{Key: []byte(key), Value: value}, nil
}

// WithHeader returns a copy of r with the header set.
func (r Record) WithHeader(key, value string) Record {
	headers := make(map[string]string, len(r.Headers)+1)
	for k, v := range r.Headers {
		headers[k] = v
	}
	headers[key] = value
	r.Headers = headers
	return r
}

func (r Record) message(topic string) kafka.Message {
	msg := kafka.Message{Topic: topic, Key: r.Key, Value: r.Value}
	if len(r.Headers) == 0 {
		return msg
	}
	keys := make([]string, 0, len(r.Headers))
	for k := range r.Headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	msg.Headers = make([]kafka.Header, 0, len(keys))
	for _, k := range keys {
		msg.Headers = append(msg.Headers, kafka.Header{Key: k, Value: []byte(r.Headers[k])})
	}
	return msg
}

// ConsumedMessage is a message read back from a topic.
type ConsumedMessage struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
	Time      time.Time
}

// KeyString returns the key as a string.
func (m ConsumedMessage) KeyString() string {
	return string(m.Key)
}

// ValueString returns the value as a string.
func (m ConsumedMessage) ValueString() string {
	return string(m.Value)
}

// DecodeValue unmarshals the JSON value into v.
func (m ConsumedMessage) DecodeValue(v any) error {
	return json.Unmarshal(m.Value, v)
}

func consumedFrom(msg kafka.Message) ConsumedMessage {
	out := ConsumedMessage{
		Topic:     msg.Topic,
		Partition: msg.Partition,
		Offset:    msg.Offset,
		Key:       msg.Key,
		Value:     msg.Value,
		Time:      msg.Time,
	}
	if len(msg.Headers) > 0 {
		out.Headers = make(map[string]string, len(msg.Headers))
		for _, h := range msg.Headers {
			out.Headers[h.Key] = string(h.Value)
		}
	}
	return out
}
