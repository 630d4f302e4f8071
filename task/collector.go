package task

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/hugolhafner/go-streams-runtime/kafka"
	"github.com/hugolhafner/go-streams-runtime/logger"
	streamsotel "github.com/hugolhafner/go-streams-runtime/otel"
	"github.com/hugolhafner/go-streams-runtime/serde"
	"go.opentelemetry.io/otel/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.38.0"
	"go.opentelemetry.io/otel/trace"
)

var ErrCollectorClosed = errors.New("record collector has no producer")

// RecordCollector hands a task's output records to the producer and tracks their delivery.
// The first delivery failure is kept and returned by every later Send and Flush.
type RecordCollector struct {
	taskID    string
	telemetry *streamsotel.Telemetry
	logger    logger.Logger

	mu       sync.Mutex
	producer kafka.Producer
	offsets  map[kafka.TopicPartition]int64
	err      error
	inflight int
	drained  chan struct{}
}

func NewRecordCollector(taskID string, tel *streamsotel.Telemetry, l logger.Logger) *RecordCollector {
	if tel == nil {
		tel = streamsotel.Noop()
	}

	drained := make(chan struct{})
	close(drained)

	return &RecordCollector{
		taskID:    taskID,
		telemetry: tel,
		logger:    l.With("component", "record-collector", "task", taskID),
		offsets:   make(map[kafka.TopicPartition]int64),
		drained:   drained,
	}
}

// Init binds the collector to producer, forgetting acknowledged offsets and any delivery error
func (c *RecordCollector) Init(producer kafka.Producer) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.producer = producer
	c.offsets = make(map[kafka.TopicPartition]int64)
	c.err = nil
}

// Send serialises key and value for topic and produces them asynchronously.
// partition may be kafka.AnyPartition.
func (c *RecordCollector) Send(
	ctx context.Context,
	topic string,
	partition int32,
	key, value any,
	headers []kafka.Header,
	timestamp time.Time,
	keySerialiser, valueSerialiser serde.UntypedSerialiser,
) error {
	k, err := keySerialiser.Serialise(topic, key)
	if err != nil {
		return NewSerdeError(fmt.Errorf("serialise key for %s: %w", topic, err))
	}

	v, err := valueSerialiser.Serialise(topic, value)
	if err != nil {
		return NewSerdeError(fmt.Errorf("serialise value for %s: %w", topic, err))
	}

	return c.SendRaw(
		ctx, kafka.ProducerRecord{
			Topic:     topic,
			Partition: partition,
			Key:       k,
			Value:     v,
			Headers:   headers,
			Timestamp: timestamp,
		},
	)
}

// SendRaw produces an already serialised record
func (c *RecordCollector) SendRaw(ctx context.Context, rec kafka.ProducerRecord) error {
	c.mu.Lock()
	if c.err != nil {
		err := c.err
		c.mu.Unlock()
		return err
	}

	producer := c.producer
	if producer == nil {
		c.mu.Unlock()
		return ErrCollectorClosed
	}

	if c.inflight == 0 {
		c.drained = make(chan struct{})
	}
	c.inflight++
	c.mu.Unlock()

	ctx, span := c.telemetry.Tracer.Start(
		ctx, rec.Topic+" publish",
		trace.WithSpanKind(trace.SpanKindProducer),
		trace.WithAttributes(
			semconv.MessagingSystemKafka,
			semconv.MessagingOperationTypeSend,
			semconv.MessagingDestinationName(rec.Topic),
			streamsotel.AttrTaskID.String(c.taskID),
		),
	)
	defer span.End()

	// headers may be shared with the consumed record
	rec.Headers = slices.Clone(rec.Headers)
	c.telemetry.Inject(ctx, &rec.Headers)

	// the producer may call back before Produce returns
	producer.Produce(ctx, rec, c.onDelivery)

	c.telemetry.MessagesProduced.Add(
		ctx, 1, metric.WithAttributes(
			semconv.MessagingDestinationName(rec.Topic),
			streamsotel.AttrTaskID.String(c.taskID),
		),
	)
	return nil
}

func (c *RecordCollector) onDelivery(rec kafka.ProducerRecord, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.telemetry.DeliveryFailures.Add(
			context.Background(), 1, metric.WithAttributes(
				semconv.MessagingDestinationName(rec.Topic),
				streamsotel.AttrTaskID.String(c.taskID),
			),
		)
		if c.err == nil {
			c.logger.Error(
				"Failed to deliver record", "topic", rec.Topic, "partition", rec.Partition, "error", err,
			)
			c.err = NewDeliveryError(err, rec.TopicPartition())
		}
	} else if cur, ok := c.offsets[rec.TopicPartition()]; !ok || rec.Offset > cur {
		c.offsets[rec.TopicPartition()] = rec.Offset
	}

	c.inflight--
	if c.inflight == 0 {
		close(c.drained)
	}
}

// Flush waits until every record sent so far is acknowledged or failed
func (c *RecordCollector) Flush(ctx context.Context) error {
	c.mu.Lock()
	producer := c.producer
	c.mu.Unlock()

	start := time.Now()
	defer func() {
		c.telemetry.FlushDuration.Record(
			ctx, time.Since(start).Seconds(), metric.WithAttributes(streamsotel.AttrTaskID.String(c.taskID)),
		)
	}()

	if producer != nil {
		if err := producer.Flush(ctx); err != nil {
			return fmt.Errorf("flush producer: %w", err)
		}
	}

	c.mu.Lock()
	drained := c.drained
	c.mu.Unlock()

	select {
	case <-drained:
	case <-ctx.Done():
		return fmt.Errorf("wait for acknowledgements: %w", ctx.Err())
	}

	return c.Err()
}

// Err returns the first delivery failure since Init
func (c *RecordCollector) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Offsets returns the last acknowledged offset per partition
func (c *RecordCollector) Offsets() map[kafka.TopicPartition]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[kafka.TopicPartition]int64, len(c.offsets))
	for tp, o := range c.offsets {
		out[tp] = o
	}
	return out
}

// Close flushes and detaches the producer. The producer itself belongs to the stream thread.
func (c *RecordCollector) Close(ctx context.Context) error {
	err := c.Flush(ctx)

	c.mu.Lock()
	c.producer = nil
	c.mu.Unlock()

	return err
}
