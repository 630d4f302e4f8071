package record

import (
	"time"

	"github.com/hugolhafner/go-streams-runtime/kafka"
)

// Metadata describes where a record came from. Records produced by a punctuator carry
// the task's current stream time and an empty topic.
type Metadata struct {
	Timestamp time.Time
	Headers   []kafka.Header

	Topic     string
	Partition int32
	Offset    int64
}

type Record[K, V any] struct {
	Key   K
	Value V
	Metadata
}

func New[K, V any](key K, value V, meta Metadata) *Record[K, V] {
	return &Record[K, V]{Key: key, Value: value, Metadata: meta}
}

// Header returns the first header with the given key
func (m Metadata) Header(key string) ([]byte, bool) {
	return kafka.HeaderValue(m.Headers, key)
}

// UntypedRecord is the type-erased form records take between topology nodes
type UntypedRecord struct {
	Key   any
	Value any
	Metadata
}

func NewUntyped(key, value any, meta Metadata) *UntypedRecord {
	return &UntypedRecord{
		Key:      key,
		Value:    value,
		Metadata: meta,
	}
}

func (r *Record[K, V]) ToUntyped() *UntypedRecord {
	return &UntypedRecord{
		Key:      r.Key,
		Value:    r.Value,
		Metadata: r.Metadata,
	}
}

// FromUntyped restores the typed view of r. It fails when key or value are of a different type.
func FromUntyped[K, V any](r *UntypedRecord) (*Record[K, V], bool) {
	var (
		key   K
		value V
	)

	if r.Key != nil {
		k, ok := r.Key.(K)
		if !ok {
			return nil, false
		}
		key = k
	}

	if r.Value != nil {
		v, ok := r.Value.(V)
		if !ok {
			return nil, false
		}
		value = v
	}

	return &Record[K, V]{Key: key, Value: value, Metadata: r.Metadata}, true
}
