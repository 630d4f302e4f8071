package kafka

import (
	"context"

	"github.com/hugolhafner/go-streams-runtime/logger"
	"github.com/twmb/franz-go/pkg/kgo"
)

var _ Producer = (*KgoProducer)(nil)

type KgoProducer struct {
	client *kgo.Client
	logger logger.Logger
}

func (p *KgoProducer) Produce(ctx context.Context, record ProducerRecord, cb DeliveryCallback) {
	kr := &kgo.Record{
		Topic:     record.Topic,
		Key:       record.Key,
		Value:     record.Value,
		Headers:   convertToKgoHeaders(record.Headers),
		Timestamp: record.Timestamp,
	}

	if record.Partition >= 0 {
		kr.Partition = record.Partition
		kr.Context = context.WithValue(ctx, explicitPartitionKey{}, true)
	}

	p.client.Produce(
		ctx, kr, func(r *kgo.Record, err error) {
			if cb == nil {
				return
			}

			delivered := record
			delivered.Partition = r.Partition
			delivered.Offset = r.Offset
			cb(delivered, classify(err))
		},
	)
}

func (p *KgoProducer) Flush(ctx context.Context) error {
	return p.client.Flush(ctx)
}

func (p *KgoProducer) Close() {
	p.client.Close()
}

type explicitPartitionKey struct{}

func hasExplicitPartition(r *kgo.Record) bool {
	if r.Context == nil {
		return false
	}
	v, _ := r.Context.Value(explicitPartitionKey{}).(bool)
	return v
}

// explicitPartitioner honours record partitions requested by the caller and key-hashes the rest
type explicitPartitioner struct {
	fallback kgo.Partitioner
}

func newExplicitPartitioner() kgo.Partitioner {
	return explicitPartitioner{fallback: kgo.StickyKeyPartitioner(nil)}
}

func (p explicitPartitioner) ForTopic(topic string) kgo.TopicPartitioner {
	return explicitTopicPartitioner{fallback: p.fallback.ForTopic(topic)}
}

type explicitTopicPartitioner struct {
	fallback kgo.TopicPartitioner
}

func (p explicitTopicPartitioner) RequiresConsistency(r *kgo.Record) bool {
	return hasExplicitPartition(r) || p.fallback.RequiresConsistency(r)
}

func (p explicitTopicPartitioner) Partition(r *kgo.Record, n int) int {
	if hasExplicitPartition(r) {
		return int(r.Partition)
	}
	return p.fallback.Partition(r, n)
}
