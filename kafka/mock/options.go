package mockkafka

import (
	"github.com/hugolhafner/go-streams-runtime/kafka"
)

// Option is a functional option for configuring a Cluster.
type Option func(*Cluster)

// WithDefaultPartitions sets the partition count used when a topic is created implicitly by a producer.
// Default is 1.
func WithDefaultPartitions(n int32) Option {
	return func(c *Cluster) {
		if n > 0 {
			c.defaultPartitions = n
		}
	}
}

// WithProduceError fails every delivery with err.
func WithProduceError(err error) Option {
	return func(c *Cluster) {
		c.produceErr = func(kafka.ProducerRecord) error { return err }
	}
}

// WithCommitError fails every commit with err.
func WithCommitError(err error) Option {
	return func(c *Cluster) {
		c.commitErr = func(string, map[kafka.TopicPartition]kafka.Offset) error { return err }
	}
}

// WithConsumeError fails every Consume call with err.
func WithConsumeError(err error) Option {
	return func(c *Cluster) {
		c.consumeErr = func() error { return err }
	}
}

// ConsumerOption configures a single Consumer.
type ConsumerOption func(*Consumer)

// WithManualRebalance stops Subscribe from joining the group coordinator.
// Partitions are then only assigned through TriggerAssign.
func WithManualRebalance() ConsumerOption {
	return func(c *Consumer) {
		c.manual = true
	}
}

// ProducerOption configures a single Producer.
type ProducerOption func(*Producer)

// WithImmediateDelivery acknowledges every record inside Produce instead of on Flush.
func WithImmediateDelivery() ProducerOption {
	return func(p *Producer) {
		p.immediate = true
	}
}
