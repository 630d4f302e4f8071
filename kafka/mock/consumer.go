package mockkafka

import (
	"context"
	"errors"
	"slices"
	"sync"
	"time"

	"github.com/hugolhafner/go-streams-runtime/kafka"
)

var _ kafka.Consumer = (*Consumer)(nil)

type rebalanceKind int

const (
	rebalanceAssigned rebalanceKind = iota
	rebalanceRevoked
	rebalanceLost
)

type rebalanceEvent struct {
	kind       rebalanceKind
	partitions []kafka.TopicPartition
	waitFor    []chan struct{}
	done       chan struct{}
}

func newRebalanceEvent(kind rebalanceKind, partitions []kafka.TopicPartition) *rebalanceEvent {
	return &rebalanceEvent{kind: kind, partitions: partitions, done: make(chan struct{})}
}

func (e *rebalanceEvent) ready() bool {
	for _, ch := range e.waitFor {
		select {
		case <-ch:
		default:
			return false
		}
	}
	return true
}

// Consumer reads from a Cluster. Rebalance events, whether produced by the group
// coordinator or by Trigger calls, are delivered to the listener inside Consume.
type Consumer struct {
	cluster *Cluster
	groupID string
	manual  bool

	mu         sync.Mutex
	listener   kafka.RebalanceListener
	topics     []string
	subscribed bool
	assigned   map[kafka.TopicPartition]struct{}
	positions  map[kafka.TopicPartition]int64
	paused     map[kafka.TopicPartition]struct{}
	events     []*rebalanceEvent
	wake       chan struct{}
	next       int
	closed     bool
	commits    int
}

// NewConsumer creates a consumer for the group. An empty groupID creates a consumer that
// only supports manual Assign, like a restore consumer.
func (c *Cluster) NewConsumer(groupID string, opts ...ConsumerOption) *Consumer {
	consumer := &Consumer{
		cluster:   c,
		groupID:   groupID,
		assigned:  make(map[kafka.TopicPartition]struct{}),
		positions: make(map[kafka.TopicPartition]int64),
		paused:    make(map[kafka.TopicPartition]struct{}),
		wake:      make(chan struct{}, 1),
	}

	for _, opt := range opts {
		opt(consumer)
	}

	return consumer
}

func (c *Consumer) GroupID() string {
	return c.groupID
}

// Subscribe registers the listener and, unless WithManualRebalance was used, joins the group.
func (c *Consumer) Subscribe(topics []string, listener kafka.RebalanceListener) error {
	if c.groupID == "" {
		return errors.New("subscribe requires a consumer group")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return kafka.ErrClosed
	}
	if c.subscribed {
		c.mu.Unlock()
		return kafka.ErrAlreadySubscribed
	}

	c.subscribed = true
	c.listener = listener
	c.topics = slices.Clone(topics)
	c.mu.Unlock()

	if !c.manual {
		c.cluster.joinGroup(c)
	}

	return nil
}

// Assign makes partitions fetchable immediately, without any listener call.
func (c *Consumer) Assign(partitions []kafka.TopicPartitionOffset) error {
	for _, p := range partitions {
		wm, err := c.cluster.watermarks(p.TopicPartition)
		if err != nil {
			return err
		}

		pos := p.Offset
		switch pos {
		case kafka.OffsetBeginning:
			pos = wm.Low
		case kafka.OffsetEnd:
			pos = wm.High
		}

		c.mu.Lock()
		c.assigned[p.TopicPartition] = struct{}{}
		c.positions[p.TopicPartition] = pos
		c.mu.Unlock()
	}

	return nil
}

func (c *Consumer) Unassign(partitions ...kafka.TopicPartition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tp := range partitions {
		delete(c.assigned, tp)
		delete(c.positions, tp)
		delete(c.paused, tp)
	}
}

func (c *Consumer) Assignment() []kafka.TopicPartition {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.assignmentLocked()
}

func (c *Consumer) assignmentLocked() []kafka.TopicPartition {
	out := make([]kafka.TopicPartition, 0, len(c.assigned))
	for tp := range c.assigned {
		out = append(out, tp)
	}
	slices.SortFunc(out, compareTopicPartitions)
	return out
}

// Consume returns the next record in round robin order across fetchable partitions.
func (c *Consumer) Consume(ctx context.Context, timeout time.Duration) (kafka.ConsumerRecord, bool, error) {
	deadline := time.Now().Add(timeout)

	for {
		if c.isClosed() {
			return kafka.ConsumerRecord{}, false, kafka.ErrClosed
		}

		c.handleEvents(ctx)

		if err := c.cluster.consumeError(); err != nil {
			return kafka.ConsumerRecord{}, false, err
		}

		changed := c.cluster.changes()
		if rec, ok := c.fetch(); ok {
			return rec, true, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 || ctx.Err() != nil {
			return kafka.ConsumerRecord{}, false, nil
		}

		timer := time.NewTimer(remaining)
		select {
		case <-ctx.Done():
		case <-changed:
		case <-c.wake:
		case <-timer.C:
		}
		timer.Stop()
	}
}

func (c *Consumer) fetch() (kafka.ConsumerRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	partitions := c.assignmentLocked()
	if len(partitions) == 0 {
		return kafka.ConsumerRecord{}, false
	}

	for i := 0; i < len(partitions); i++ {
		tp := partitions[(c.next+i)%len(partitions)]
		if _, paused := c.paused[tp]; paused {
			continue
		}

		rec, pos, ok := c.cluster.read(tp, c.positions[tp])
		c.positions[tp] = pos
		if !ok {
			continue
		}

		c.positions[tp] = rec.Offset + 1
		c.next = (c.next + i + 1) % len(partitions)
		return rec, true
	}

	return kafka.ConsumerRecord{}, false
}

func (c *Consumer) enqueue(ev *rebalanceEvent) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		close(ev.done)
		return
	}
	c.events = append(c.events, ev)
	c.mu.Unlock()

	select {
	case c.wake <- struct{}{}:
	default:
	}
}

func (c *Consumer) handleEvents(ctx context.Context) {
	for {
		c.mu.Lock()
		idx := slices.IndexFunc(c.events, (*rebalanceEvent).ready)
		if idx < 0 {
			c.mu.Unlock()
			return
		}
		ev := c.events[idx]
		c.events = slices.Delete(c.events, idx, idx+1)
		listener := c.listener
		c.mu.Unlock()

		c.handle(ctx, ev, listener)
	}
}

func (c *Consumer) handle(ctx context.Context, ev *rebalanceEvent, listener kafka.RebalanceListener) {
	defer close(ev.done)

	switch ev.kind {
	case rebalanceAssigned:
		if listener != nil {
			listener.OnPartitionsAssigned(ctx, ev.partitions)
		}

		c.mu.Lock()
		for _, tp := range ev.partitions {
			c.assigned[tp] = struct{}{}
			c.positions[tp] = c.cluster.startOffset(c.groupID, tp)
		}
		c.mu.Unlock()

	case rebalanceRevoked, rebalanceLost:
		c.Unassign(ev.partitions...)

		if listener == nil {
			return
		}
		if ev.kind == rebalanceRevoked {
			listener.OnPartitionsRevoked(ctx, ev.partitions)
		} else {
			listener.OnPartitionsLost(ctx, ev.partitions)
		}
	}
}

// TriggerAssign queues an assignment. The returned channel closes once the listener handled it.
func (c *Consumer) TriggerAssign(partitions ...kafka.TopicPartition) <-chan struct{} {
	ev := newRebalanceEvent(rebalanceAssigned, slices.Clone(partitions))
	c.enqueue(ev)
	return ev.done
}

// TriggerRevoke queues a revocation. The returned channel closes once the listener handled it.
func (c *Consumer) TriggerRevoke(partitions ...kafka.TopicPartition) <-chan struct{} {
	ev := newRebalanceEvent(rebalanceRevoked, slices.Clone(partitions))
	c.enqueue(ev)
	return ev.done
}

// TriggerLost queues a lost-partitions event. The returned channel closes once the listener handled it.
func (c *Consumer) TriggerLost(partitions ...kafka.TopicPartition) <-chan struct{} {
	ev := newRebalanceEvent(rebalanceLost, slices.Clone(partitions))
	c.enqueue(ev)
	return ev.done
}

// Commit stores offsets for the consumer's group.
func (c *Consumer) Commit(ctx context.Context, offsets map[kafka.TopicPartition]kafka.Offset) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.groupID == "" {
		return kafka.ErrNotSubscribed
	}
	if len(offsets) == 0 {
		return nil
	}

	if err := c.cluster.commit(c.groupID, offsets); err != nil {
		return err
	}

	c.mu.Lock()
	c.commits++
	c.mu.Unlock()
	return nil
}

// Commits returns how many successful non-empty commits were made.
func (c *Consumer) Commits() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.commits
}

func (c *Consumer) WatermarkOffsets(ctx context.Context, tp kafka.TopicPartition) (kafka.WatermarkOffsets, error) {
	if err := ctx.Err(); err != nil {
		return kafka.WatermarkOffsets{}, err
	}
	return c.cluster.watermarks(tp)
}

func (c *Consumer) Pause(partitions ...kafka.TopicPartition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tp := range partitions {
		c.paused[tp] = struct{}{}
	}
}

func (c *Consumer) Resume(partitions ...kafka.TopicPartition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, tp := range partitions {
		delete(c.paused, tp)
	}
}

// Paused reports whether a partition is currently paused.
func (c *Consumer) Paused(tp kafka.TopicPartition) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.paused[tp]
	return ok
}

// Position returns the next offset the consumer will read from a partition.
func (c *Consumer) Position(tp kafka.TopicPartition) (int64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pos, ok := c.positions[tp]
	return pos, ok
}

// Close leaves the group. Queued events are dropped.
func (c *Consumer) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	events := c.events
	c.events = nil
	joined := c.subscribed && !c.manual
	c.mu.Unlock()

	for _, ev := range events {
		close(ev.done)
	}

	if joined {
		c.cluster.leaveGroup(c)
	}
}

func (c *Consumer) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed
}
