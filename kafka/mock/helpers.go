package mockkafka

import (
	"time"

	"github.com/hugolhafner/go-streams-runtime/kafka"
)

type RecordOption func(*kafka.ConsumerRecord)

func At(ts time.Time) RecordOption {
	return func(r *kafka.ConsumerRecord) {
		r.Timestamp = ts
	}
}

func WithHeader(key, value string) RecordOption {
	return func(r *kafka.ConsumerRecord) {
		r.Headers = append(r.Headers, kafka.Header{Key: key, Value: []byte(value)})
	}
}

// Tombstone clears the value, a delete in a changelog
func Tombstone() RecordOption {
	return func(r *kafka.ConsumerRecord) {
		r.Value = nil
	}
}

// SimpleRecord is a record with only a key and a value set
func SimpleRecord(key, value string, opts ...RecordOption) kafka.ConsumerRecord {
	r := kafka.ConsumerRecord{Key: []byte(key), Value: []byte(value)}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// SimpleRecords pairs up key, value arguments. An empty value stays an empty, non-nil value.
func SimpleRecords(keyValuePairs ...string) []kafka.ConsumerRecord {
	if len(keyValuePairs)%2 != 0 {
		panic("SimpleRecords requires an even number of arguments (key-value pairs)")
	}

	records := make([]kafka.ConsumerRecord, 0, len(keyValuePairs)/2)
	for i := 0; i < len(keyValuePairs); i += 2 {
		records = append(records, SimpleRecord(keyValuePairs[i], keyValuePairs[i+1]))
	}
	return records
}

// ConsumerRecord is a fully addressed record for feeding a task directly. The timestamp
// defaults to now.
func ConsumerRecord(
	topic string, partition int32, offset int64, key, value string, opts ...RecordOption,
) kafka.ConsumerRecord {
	r := SimpleRecord(key, value, append([]RecordOption{At(time.Now())}, opts...)...)
	r.Topic = topic
	r.Partition = partition
	r.Offset = offset
	return r
}
