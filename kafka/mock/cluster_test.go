//go:build unit

package mockkafka_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hugolhafner/go-streams-runtime/kafka"
	mockkafka "github.com/hugolhafner/go-streams-runtime/kafka/mock"
	"github.com/stretchr/testify/require"
)

type recordingListener struct {
	mu       sync.Mutex
	assigned []kafka.TopicPartition
	revoked  []kafka.TopicPartition
	lost     []kafka.TopicPartition
}

func (l *recordingListener) OnPartitionsAssigned(_ context.Context, partitions []kafka.TopicPartition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.assigned = append(l.assigned, partitions...)
}

func (l *recordingListener) OnPartitionsRevoked(_ context.Context, partitions []kafka.TopicPartition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.revoked = append(l.revoked, partitions...)
}

func (l *recordingListener) OnPartitionsLost(_ context.Context, partitions []kafka.TopicPartition) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lost = append(l.lost, partitions...)
}

func TestConsumer_SubscribeAssignsInsideConsume(t *testing.T) {
	t.Parallel()
	cluster := mockkafka.NewCluster()
	cluster.CreateTopic("input", 2)
	cluster.AddStringRecords("input", 1, "k", "v")

	consumer := cluster.NewConsumer("group")
	listener := &recordingListener{}
	require.NoError(t, consumer.Subscribe([]string{"input"}, listener))

	require.Empty(t, listener.assigned, "listener must not run before Consume")
	require.Empty(t, consumer.Assignment())

	rec, ok, err := consumer.Consume(context.Background(), 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "k", string(rec.Key))
	require.Len(t, listener.assigned, 2)
	require.Len(t, consumer.Assignment(), 2)
}

func TestConsumer_StartsAtCommittedOffset(t *testing.T) {
	t.Parallel()
	cluster := mockkafka.NewCluster()
	cluster.AddStringRecords("input", 0, "a", "1", "b", "2", "c", "3")
	tp := kafka.TopicPartition{Topic: "input"}

	first := cluster.NewConsumer("group")
	require.NoError(t, first.Subscribe([]string{"input"}, nil))
	_, ok, err := first.Consume(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.NoError(t, first.Commit(context.Background(), map[kafka.TopicPartition]kafka.Offset{tp: {Offset: 2}}))
	first.Close()

	second := cluster.NewConsumer("group")
	require.NoError(t, second.Subscribe([]string{"input"}, nil))
	rec, ok, err := second.Consume(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "c", string(rec.Key))
	cluster.AssertCommittedOffset(t, "group", tp, 2)
}

func TestCluster_GroupSplitsPartitionsAndWaitsForRevoke(t *testing.T) {
	t.Parallel()
	cluster := mockkafka.NewCluster()
	cluster.CreateTopic("input", 2)

	a := cluster.NewConsumer("group")
	la := &recordingListener{}
	require.NoError(t, a.Subscribe([]string{"input"}, la))
	_, _, err := a.Consume(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, la.assigned, 2)

	b := cluster.NewConsumer("group")
	lb := &recordingListener{}
	require.NoError(t, b.Subscribe([]string{"input"}, lb))

	// b cannot take its partition before a gave it up
	_, _, err = b.Consume(context.Background(), 0)
	require.NoError(t, err)
	require.Empty(t, lb.assigned)

	_, _, err = a.Consume(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, la.revoked, 1)

	_, _, err = b.Consume(context.Background(), 0)
	require.NoError(t, err)
	require.Equal(t, la.revoked, lb.assigned)
	require.Len(t, a.Assignment(), 1)
	require.Len(t, b.Assignment(), 1)
}

func TestConsumer_TriggerEvents(t *testing.T) {
	t.Parallel()
	cluster := mockkafka.NewCluster()
	cluster.CreateTopic("input", 1)
	tp := kafka.TopicPartition{Topic: "input"}

	consumer := cluster.NewConsumer("group", mockkafka.WithManualRebalance())
	listener := &recordingListener{}
	require.NoError(t, consumer.Subscribe([]string{"input"}, listener))

	done := consumer.TriggerAssign(tp)
	_, _, err := consumer.Consume(context.Background(), 0)
	require.NoError(t, err)
	<-done
	require.Equal(t, []kafka.TopicPartition{tp}, consumer.Assignment())

	done = consumer.TriggerLost(tp)
	_, _, err = consumer.Consume(context.Background(), 0)
	require.NoError(t, err)
	<-done
	require.Equal(t, []kafka.TopicPartition{tp}, listener.lost)
	require.Empty(t, consumer.Assignment())
}

func TestConsumer_TriggerWakesBlockedConsume(t *testing.T) {
	t.Parallel()
	cluster := mockkafka.NewCluster()
	cluster.CreateTopic("input", 1)

	consumer := cluster.NewConsumer("group", mockkafka.WithManualRebalance())
	listener := &recordingListener{}
	require.NoError(t, consumer.Subscribe([]string{"input"}, listener))

	go func() {
		time.Sleep(20 * time.Millisecond)
		consumer.TriggerAssign(kafka.TopicPartition{Topic: "input"})
		cluster.AddStringRecords("input", 0, "k", "v")
	}()

	_, ok, err := consumer.Consume(context.Background(), 2*time.Second)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestConsumer_PausedPartitionsAreNotFetched(t *testing.T) {
	t.Parallel()
	cluster := mockkafka.NewCluster()
	cluster.AddStringRecords("input", 0, "k", "v")
	tp := kafka.TopicPartition{Topic: "input"}

	consumer := cluster.NewConsumer("")
	require.NoError(t, consumer.Assign([]kafka.TopicPartitionOffset{{TopicPartition: tp}}))
	consumer.Pause(tp)

	_, ok, err := consumer.Consume(context.Background(), 0)
	require.NoError(t, err)
	require.False(t, ok)

	consumer.Resume(tp)
	_, ok, err = consumer.Consume(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestProducer_DeliversOnFlush(t *testing.T) {
	t.Parallel()
	cluster := mockkafka.NewCluster(mockkafka.WithDefaultPartitions(3))
	producer := cluster.NewProducer()

	var delivered []kafka.ProducerRecord
	producer.Produce(
		context.Background(), kafka.ProducerRecord{Topic: "out", Partition: 2, Key: []byte("k")},
		func(r kafka.ProducerRecord, err error) {
			require.NoError(t, err)
			delivered = append(delivered, r)
		},
	)

	require.Equal(t, 1, producer.Pending())
	cluster.AssertRecordCount(t, "out", 0)

	require.NoError(t, producer.Flush(context.Background()))
	require.Len(t, delivered, 1)
	require.Equal(t, int32(2), delivered[0].Partition)
	require.Equal(t, int64(0), delivered[0].Offset)
	cluster.AssertRecordCount(t, "out", 1)
}

func TestProducer_DeliveryFailureReachesCallback(t *testing.T) {
	t.Parallel()
	tooLarge := errors.New("message too large")
	cluster := mockkafka.NewCluster(mockkafka.WithProduceError(tooLarge))
	producer := cluster.NewProducer(mockkafka.WithImmediateDelivery())

	var got error
	producer.Produce(
		context.Background(), kafka.ProducerRecord{Topic: "out", Partition: kafka.AnyPartition},
		func(_ kafka.ProducerRecord, err error) { got = err },
	)

	require.ErrorIs(t, got, tooLarge)
	require.Len(t, producer.Failed(), 1)
	cluster.AssertRecordCount(t, "out", 0)
}

func TestProducer_KeyedRecordsStickToOnePartition(t *testing.T) {
	t.Parallel()
	cluster := mockkafka.NewCluster(mockkafka.WithDefaultPartitions(4))
	producer := cluster.NewProducer(mockkafka.WithImmediateDelivery())

	partitions := make(map[int32]struct{})
	for i := 0; i < 10; i++ {
		producer.Produce(
			context.Background(),
			kafka.ProducerRecord{Topic: "out", Partition: kafka.AnyPartition, Key: []byte("same")},
			func(r kafka.ProducerRecord, err error) {
				require.NoError(t, err)
				partitions[r.Partition] = struct{}{}
			},
		)
	}

	require.Len(t, partitions, 1)
}

func TestCluster_DeleteRecordsBeforeMovesLowWatermark(t *testing.T) {
	t.Parallel()
	cluster := mockkafka.NewCluster()
	cluster.AddStringRecords("t", 0, "a", "1", "b", "2", "c", "3")
	tp := kafka.TopicPartition{Topic: "t"}

	cluster.DeleteRecordsBefore(tp, 2)

	records := cluster.Records("t", 0)
	require.Len(t, records, 1)
	require.Equal(t, int64(2), records[0].Offset)

	consumer := cluster.NewConsumer("")
	require.NoError(t, consumer.Assign([]kafka.TopicPartitionOffset{{TopicPartition: tp, Offset: 0}}))
	rec, ok, err := consumer.Consume(context.Background(), 0)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(2), rec.Offset)
}
