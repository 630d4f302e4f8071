package kafka

import (
	"strconv"
	"time"
)

// AnyPartition lets the producer pick the partition from the record key
const AnyPartition int32 = -1

// Special offsets accepted by Consumer.Assign
const (
	OffsetBeginning int64 = -2
	OffsetEnd       int64 = -1
)

// Header represents a single Kafka record header
// kafka needs to support multiple headers with duplicate keys
type Header struct {
	Key   string
	Value []byte
}

// HeaderValue returns the value of the first header matching the given key
// Returns (nil, false) if no header with that key exists
func HeaderValue(headers []Header, key string) ([]byte, bool) {
	for _, h := range headers {
		if h.Key == key {
			return h.Value, true
		}
	}
	return nil, false
}

func copyHeaders(headers []Header) []Header {
	if headers == nil {
		return nil
	}

	out := make([]Header, len(headers))
	for i, h := range headers {
		out[i] = Header{Key: h.Key, Value: copyBytes(h.Value)}
	}
	return out
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

type ConsumerRecord struct {
	Key         []byte
	Value       []byte
	Headers     []Header
	Topic       string
	Partition   int32
	Offset      int64
	LeaderEpoch int32
	Timestamp   time.Time
}

func (r ConsumerRecord) TopicPartition() TopicPartition {
	return TopicPartition{
		Topic:     r.Topic,
		Partition: r.Partition,
	}
}

// Size is the key plus value length in bytes
func (r ConsumerRecord) Size() int {
	return len(r.Key) + len(r.Value)
}

func (r ConsumerRecord) Copy() ConsumerRecord {
	r.Key = copyBytes(r.Key)
	r.Value = copyBytes(r.Value)
	r.Headers = copyHeaders(r.Headers)
	return r
}

// ProducerRecord is an outbound record. Offset is filled in once the broker acknowledged it.
type ProducerRecord struct {
	Topic     string
	Partition int32
	Key       []byte
	Value     []byte
	Headers   []Header
	Timestamp time.Time

	Offset int64
}

func (r ProducerRecord) TopicPartition() TopicPartition {
	return TopicPartition{Topic: r.Topic, Partition: r.Partition}
}

func (r ProducerRecord) Copy() ProducerRecord {
	r.Key = copyBytes(r.Key)
	r.Value = copyBytes(r.Value)
	r.Headers = copyHeaders(r.Headers)
	return r
}

type TopicPartition struct {
	Topic     string
	Partition int32
}

func (tp TopicPartition) String() string {
	return tp.Topic + "-" + strconv.FormatInt(int64(tp.Partition), 10)
}

// Less orders by topic then partition
func (tp TopicPartition) Less(other TopicPartition) bool {
	if tp.Topic != other.Topic {
		return tp.Topic < other.Topic
	}
	return tp.Partition < other.Partition
}

type Offset struct {
	LeaderEpoch int32
	Offset      int64
}

// TopicPartitionOffset is a partition together with the offset to start reading from
type TopicPartitionOffset struct {
	TopicPartition
	Offset int64
}

// WatermarkOffsets holds the earliest retained and next to be written offsets of a partition
type WatermarkOffsets struct {
	TopicPartition
	Low  int64
	High int64
}

// Lag returns how far position is behind the high watermark, never negative
func (w WatermarkOffsets) Lag(position int64) int64 {
	if position < w.Low {
		position = w.Low
	}
	if lag := w.High - position; lag > 0 {
		return lag
	}
	return 0
}
