package kafka

import (
	"context"
	"time"
)

// Consumer is the consume side of a broker client. A Consumer is owned by a single goroutine.
type Consumer interface {
	// Subscribe joins the consumer group for topics. Rebalance callbacks are only ever
	// invoked from within Consume, on the calling goroutine.
	Subscribe(topics []string, listener RebalanceListener) error

	// Assign adds partitions outside of group management, starting at the given offsets
	Assign(partitions []TopicPartitionOffset) error
	Unassign(partitions ...TopicPartition)
	Assignment() []TopicPartition

	// Consume returns the next record, waiting at most timeout for one to arrive.
	// A timeout <= 0 only returns already buffered data.
	Consume(ctx context.Context, timeout time.Duration) (ConsumerRecord, bool, error)

	// Commit synchronously commits the next offsets to read for each partition
	Commit(ctx context.Context, offsets map[TopicPartition]Offset) error
	WatermarkOffsets(ctx context.Context, partition TopicPartition) (WatermarkOffsets, error)

	Pause(partitions ...TopicPartition)
	Resume(partitions ...TopicPartition)

	GroupID() string
	Close()
}

// DeliveryCallback is invoked once per produced record, after the broker acknowledged or rejected it
type DeliveryCallback func(record ProducerRecord, err error)

type Producer interface {
	// Produce hands a record to the client asynchronously, cb may be called from any goroutine
	Produce(ctx context.Context, record ProducerRecord, cb DeliveryCallback)

	// Flush blocks until every produced record has been delivered or failed
	Flush(ctx context.Context) error
	Close()
}

// RebalanceListener is implemented by the runtime and driven by the consumer
type RebalanceListener interface {
	OnPartitionsAssigned(ctx context.Context, partitions []TopicPartition)
	OnPartitionsRevoked(ctx context.Context, partitions []TopicPartition)
	OnPartitionsLost(ctx context.Context, partitions []TopicPartition)
}

// ClientConfig identifies a client instance created through a Supplier
type ClientConfig struct {
	ClientID string
	GroupID  string
}

// Admin manages the topics an application owns
type Admin interface {
	// PartitionCounts fails with ErrUnknownTopic if any of the topics does not exist
	PartitionCounts(ctx context.Context, topics ...string) (map[string]int32, error)
	// EnsureTopics creates the missing topics, existing ones are left untouched
	EnsureTopics(ctx context.Context, topics map[string]TopicConfig) error
	Close()
}

type TopicConfig struct {
	Partitions        int32
	ReplicationFactor int16
	Configs           map[string]string
}

// Supplier creates the clients of one stream thread, plus the admin client of the application
type Supplier interface {
	Consumer(cfg ClientConfig) (Consumer, error)
	RestoreConsumer(cfg ClientConfig) (Consumer, error)
	Producer(cfg ClientConfig) (Producer, error)
	Admin(cfg ClientConfig) (Admin, error)
}
