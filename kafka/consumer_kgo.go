package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"slices"
	"sync"
	"time"

	"github.com/hugolhafner/go-streams-runtime/logger"
	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"
	"github.com/twmb/franz-go/pkg/kmsg"
)

var _ Consumer = (*KgoConsumer)(nil)

const pollChunk = 1024

type rebalanceKind int

const (
	rebalanceAssigned rebalanceKind = iota
	rebalanceRevoked
	rebalanceLost
)

type rebalanceEvent struct {
	kind       rebalanceKind
	partitions []TopicPartition
	done       chan struct{}
}

// KgoConsumer adapts a franz-go client to Consumer. Group callbacks fired by franz-go are
// queued and replayed inside Consume so the listener runs on the owner goroutine.
type KgoConsumer struct {
	client  *kgo.Client
	admin   *kadm.Client
	groupID string

	events    chan *rebalanceEvent
	closing   chan struct{}
	closeOnce sync.Once

	mu       sync.Mutex
	listener RebalanceListener
	wake     context.CancelFunc
	assigned map[TopicPartition]struct{}

	// owner goroutine only
	buffered []*kgo.Record

	logger logger.Logger
}

func newKgoConsumer(groupID string, l logger.Logger) *KgoConsumer {
	return &KgoConsumer{
		groupID:  groupID,
		events:   make(chan *rebalanceEvent, 16),
		closing:  make(chan struct{}),
		assigned: make(map[TopicPartition]struct{}),
		logger:   l,
	}
}

func (c *KgoConsumer) attach(client *kgo.Client) {
	c.client = client
	c.admin = kadm.NewClient(client)
}

func (c *KgoConsumer) GroupID() string {
	return c.groupID
}

func (c *KgoConsumer) Subscribe(topics []string, listener RebalanceListener) error {
	if c.groupID == "" {
		return errors.New("subscribe requires a consumer group")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.listener != nil {
		return ErrAlreadySubscribed
	}

	c.listener = listener
	c.client.AddConsumeTopics(topics...)
	c.logger.Info("Subscribed", "topics", topics)

	return nil
}

func (c *KgoConsumer) Assign(partitions []TopicPartitionOffset) error {
	if c.groupID != "" {
		return errors.New("assign is not supported on a group consumer")
	}

	offsets := make(map[string]map[int32]kgo.Offset)
	c.mu.Lock()
	for _, p := range partitions {
		if offsets[p.Topic] == nil {
			offsets[p.Topic] = make(map[int32]kgo.Offset)
		}

		switch p.Offset {
		case OffsetBeginning:
			offsets[p.Topic][p.Partition] = kgo.NewOffset().AtStart()
		case OffsetEnd:
			offsets[p.Topic][p.Partition] = kgo.NewOffset().AtEnd()
		default:
			offsets[p.Topic][p.Partition] = kgo.NewOffset().At(p.Offset)
		}
		c.assigned[p.TopicPartition] = struct{}{}
	}
	c.mu.Unlock()

	c.client.AddConsumePartitions(offsets)
	return nil
}

func (c *KgoConsumer) Unassign(partitions ...TopicPartition) {
	if len(partitions) == 0 {
		return
	}

	c.mu.Lock()
	for _, tp := range partitions {
		delete(c.assigned, tp)
	}
	c.mu.Unlock()

	c.client.RemoveConsumePartitions(topicPartitionsToMap(partitions))
	c.purge(partitions)
}

func (c *KgoConsumer) Assignment() []TopicPartition {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]TopicPartition, 0, len(c.assigned))
	for tp := range c.assigned {
		out = append(out, tp)
	}
	sortTopicPartitions(out)
	return out
}

func (c *KgoConsumer) Consume(ctx context.Context, timeout time.Duration) (ConsumerRecord, bool, error) {
	deadline := time.Now().Add(timeout)

	for {
		select {
		case <-c.closing:
			return ConsumerRecord{}, false, ErrClosed
		default:
		}

		c.handleEvents(ctx)

		if rec, ok := c.next(); ok {
			return rec, true, nil
		}

		// nil ctx returns buffered fetches immediately
		if err := c.poll(nil); err != nil {
			return ConsumerRecord{}, false, err
		}
		if rec, ok := c.next(); ok {
			return rec, true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return ConsumerRecord{}, false, nil
		}

		if err := c.pollWait(ctx, remaining); err != nil {
			return ConsumerRecord{}, false, err
		}
	}
}

func (c *KgoConsumer) next() (ConsumerRecord, bool) {
	if len(c.buffered) == 0 {
		return ConsumerRecord{}, false
	}

	r := c.buffered[0]
	c.buffered[0] = nil
	c.buffered = c.buffered[1:]
	return convertRecord(r), true
}

func (c *KgoConsumer) pollWait(ctx context.Context, wait time.Duration) error {
	pollCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()

	c.mu.Lock()
	c.wake = cancel
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.wake = nil
		c.mu.Unlock()
	}()

	// an event queued before wake was set would otherwise wait for the full timeout
	if len(c.events) > 0 {
		return nil
	}

	return c.poll(pollCtx)
}

func (c *KgoConsumer) poll(ctx context.Context) error {
	fetches := c.client.PollRecords(ctx, pollChunk)
	if fetches.IsClientClosed() {
		return ErrClosed
	}

	var firstErr error
	fetches.EachError(
		func(topic string, partition int32, err error) {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}

			c.logger.Warn("Fetch error", "topic", topic, "partition", partition, "error", err)
			if firstErr == nil {
				firstErr = classify(fmt.Errorf("fetch %s-%d: %w", topic, partition, err))
			}
		},
	)

	fetches.EachRecord(
		func(r *kgo.Record) {
			c.buffered = append(c.buffered, r)
		},
	)

	return firstErr
}

func (c *KgoConsumer) handleEvents(ctx context.Context) {
	for {
		select {
		case ev := <-c.events:
			c.handle(ctx, ev)
		default:
			return
		}
	}
}

func (c *KgoConsumer) handle(ctx context.Context, ev *rebalanceEvent) {
	defer close(ev.done)

	c.mu.Lock()
	listener := c.listener
	c.mu.Unlock()

	switch ev.kind {
	case rebalanceAssigned:
		c.setAssigned(ev.partitions, true)
		if listener != nil {
			listener.OnPartitionsAssigned(ctx, ev.partitions)
		}
	case rebalanceRevoked:
		c.setAssigned(ev.partitions, false)
		c.purge(ev.partitions)
		if listener != nil {
			listener.OnPartitionsRevoked(ctx, ev.partitions)
		}
	case rebalanceLost:
		c.setAssigned(ev.partitions, false)
		c.purge(ev.partitions)
		if listener != nil {
			listener.OnPartitionsLost(ctx, ev.partitions)
		}
	}
}

func (c *KgoConsumer) setAssigned(partitions []TopicPartition, assigned bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tp := range partitions {
		if assigned {
			c.assigned[tp] = struct{}{}
		} else {
			delete(c.assigned, tp)
		}
	}
}

func (c *KgoConsumer) purge(partitions []TopicPartition) {
	if len(c.buffered) == 0 {
		return
	}

	drop := make(map[TopicPartition]struct{}, len(partitions))
	for _, tp := range partitions {
		drop[tp] = struct{}{}
	}

	kept := c.buffered[:0]
	for _, r := range c.buffered {
		if _, ok := drop[TopicPartition{Topic: r.Topic, Partition: r.Partition}]; ok {
			continue
		}
		kept = append(kept, r)
	}
	c.buffered = kept
}

func (c *KgoConsumer) onAssigned(ctx context.Context, _ *kgo.Client, assigned map[string][]int32) {
	c.dispatch(ctx, rebalanceAssigned, mapToTopicPartitions(assigned))
}

func (c *KgoConsumer) onRevoked(ctx context.Context, _ *kgo.Client, revoked map[string][]int32) {
	c.dispatch(ctx, rebalanceRevoked, mapToTopicPartitions(revoked))
}

func (c *KgoConsumer) onLost(ctx context.Context, _ *kgo.Client, lost map[string][]int32) {
	c.dispatch(ctx, rebalanceLost, mapToTopicPartitions(lost))
}

// dispatch runs on a franz-go goroutine and blocks until the owner handled the event
func (c *KgoConsumer) dispatch(ctx context.Context, kind rebalanceKind, partitions []TopicPartition) {
	if len(partitions) == 0 {
		return
	}
	sortTopicPartitions(partitions)

	ev := &rebalanceEvent{kind: kind, partitions: partitions, done: make(chan struct{})}

	select {
	case <-c.closing:
		c.setAssigned(partitions, kind == rebalanceAssigned)
		return
	case <-ctx.Done():
		return
	case c.events <- ev:
	}

	c.mu.Lock()
	if c.wake != nil {
		c.wake()
	}
	c.mu.Unlock()

	select {
	case <-ev.done:
	case <-c.closing:
	case <-ctx.Done():
	}
}

func (c *KgoConsumer) Commit(ctx context.Context, offsets map[TopicPartition]Offset) error {
	if c.groupID == "" {
		return ErrNotSubscribed
	}
	if len(offsets) == 0 {
		return nil
	}

	toCommit := make(map[string]map[int32]kgo.EpochOffset)
	for tp, o := range offsets {
		if toCommit[tp.Topic] == nil {
			toCommit[tp.Topic] = make(map[int32]kgo.EpochOffset)
		}
		toCommit[tp.Topic][tp.Partition] = kgo.EpochOffset{Epoch: o.LeaderEpoch, Offset: o.Offset}
	}

	var commitErr error
	c.client.CommitOffsetsSync(
		ctx, toCommit,
		func(_ *kgo.Client, _ *kmsg.OffsetCommitRequest, resp *kmsg.OffsetCommitResponse, err error) {
			if err != nil {
				commitErr = err
				return
			}

			for _, t := range resp.Topics {
				for _, p := range t.Partitions {
					if perr := kerr.ErrorForCode(p.ErrorCode); perr != nil && commitErr == nil {
						commitErr = fmt.Errorf("commit %s-%d: %w", t.Topic, p.Partition, perr)
					}
				}
			}
		},
	)

	return classify(commitErr)
}

func (c *KgoConsumer) WatermarkOffsets(ctx context.Context, tp TopicPartition) (WatermarkOffsets, error) {
	starts, err := c.admin.ListStartOffsets(ctx, tp.Topic)
	if err != nil {
		return WatermarkOffsets{}, classify(fmt.Errorf("list start offsets: %w", err))
	}

	ends, err := c.admin.ListEndOffsets(ctx, tp.Topic)
	if err != nil {
		return WatermarkOffsets{}, classify(fmt.Errorf("list end offsets: %w", err))
	}

	low, ok := starts.Lookup(tp.Topic, tp.Partition)
	if !ok {
		return WatermarkOffsets{}, fmt.Errorf("%w: no start offset for %s", ErrUnknownTopic, tp)
	}
	if low.Err != nil {
		return WatermarkOffsets{}, classify(low.Err)
	}

	high, ok := ends.Lookup(tp.Topic, tp.Partition)
	if !ok {
		return WatermarkOffsets{}, fmt.Errorf("%w: no end offset for %s", ErrUnknownTopic, tp)
	}
	if high.Err != nil {
		return WatermarkOffsets{}, classify(high.Err)
	}

	return WatermarkOffsets{TopicPartition: tp, Low: low.Offset, High: high.Offset}, nil
}

func (c *KgoConsumer) Pause(partitions ...TopicPartition) {
	c.client.PauseFetchPartitions(topicPartitionsToMap(partitions))
}

func (c *KgoConsumer) Resume(partitions ...TopicPartition) {
	c.client.ResumeFetchPartitions(topicPartitionsToMap(partitions))
}

func (c *KgoConsumer) Close() {
	c.closeOnce.Do(
		func() {
			close(c.closing)
			c.client.Close()
		},
	)
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, kerr.UnknownTopicOrPartition) {
		err = fmt.Errorf("%w: %w", ErrUnknownTopic, err)
	}

	var netErr net.Error
	if kerr.IsRetriable(err) || errors.Is(err, kgo.ErrClientClosed) || rebalancing(err) ||
		errors.As(err, &netErr) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return Transient(err)
	}
	return err
}

// rebalancing reports group errors returned while a generation changes, the next
// generation commits again
func rebalancing(err error) bool {
	return errors.Is(err, kerr.RebalanceInProgress) ||
		errors.Is(err, kerr.IllegalGeneration) ||
		errors.Is(err, kerr.UnknownMemberID)
}

func sortTopicPartitions(tps []TopicPartition) {
	slices.SortFunc(
		tps, func(a, b TopicPartition) int {
			switch {
			case a.Less(b):
				return -1
			case b.Less(a):
				return 1
			default:
				return 0
			}
		},
	)
}
