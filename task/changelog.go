package task

import (
	"context"

	"github.com/hugolhafner/go-streams-runtime/kafka"
	"github.com/hugolhafner/go-streams-runtime/state"
)

var _ state.ChangeLogger = (*changelogWriter)(nil)

// changelogWriter journals store updates to the task's partition of the changelog topic
type changelogWriter struct {
	task      *StreamTask
	partition kafka.TopicPartition
}

func (w *changelogWriter) LogChange(ctx context.Context, key, value []byte) error {
	return w.task.collector.SendRaw(
		ctx, kafka.ProducerRecord{
			Topic:     w.partition.Topic,
			Partition: w.partition.Partition,
			Key:       key,
			Value:     value,
			Timestamp: w.task.recordTimestamp(),
		},
	)
}
